// Package cmd provides command-line interface commands for Argus.
package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"argus/config"
	"argus/core"
	"argus/storage"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

var (
	outputJSON bool
	noColor    bool
	dbPath     string
)

// NewStatsCmd creates the stats command, which summarizes the local
// threat store: totals, delivery state, and per-behavior counts.
func NewStatsCmd() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show threat store statistics",
		Long: `Show aggregate statistics from the local threat store: record totals,
delivery state, submission activity over the last 24 hours, and the
per-behavior breakdown.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
		RunE: runStats,
	}

	statsCmd.Flags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	statsCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	statsCmd.Flags().StringVar(&dbPath, "db-path", "", "Threat database path (default from config)")

	return statsCmd
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	path := cfg.Storage.Path
	if dbPath != "" {
		path = dbPath
	}

	var sp *spinner.Spinner
	if !outputJSON {
		sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		sp.Suffix = " Reading threat store..."
		sp.Start()
	}

	store, err := storage.NewThreatStore(path, zap.NewNop().Sugar())
	if err != nil {
		if sp != nil {
			sp.Stop()
		}
		return fmt.Errorf("failed to open threat store: %w", err)
	}
	defer store.Close()

	stats, err := store.Stats()
	if sp != nil {
		sp.Stop()
	}
	if err != nil {
		return fmt.Errorf("failed to read statistics: %w", err)
	}

	if outputJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(stats)
	}

	printStats(path, stats)
	return nil
}

func printStats(path string, stats *core.StoreStats) {
	headerColor.Println("Threat Store Statistics")
	fmt.Printf("Database: %s\n\n", path)

	fmt.Printf("Total threats:     %d\n", stats.TotalThreats)
	successColor.Printf("Submitted:         %d\n", stats.SubmittedThreats)
	warningColor.Printf("Pending delivery:  %d\n", stats.PendingThreats)
	errorColor.Printf("Failed:            %d\n", stats.FailedThreats)

	fmt.Println()
	headerColor.Println("Last 24 hours")
	fmt.Printf("Successful submissions: %d\n", stats.RecentSuccess)
	fmt.Printf("Failed submissions:     %d\n", stats.RecentFailure)

	if len(stats.BehaviorCounts) == 0 {
		return
	}

	fmt.Println()
	headerColor.Println("By behavior")
	behaviors := make([]string, 0, len(stats.BehaviorCounts))
	for behavior := range stats.BehaviorCounts {
		behaviors = append(behaviors, behavior)
	}
	sort.Slice(behaviors, func(i, j int) bool {
		if stats.BehaviorCounts[behaviors[i]] != stats.BehaviorCounts[behaviors[j]] {
			return stats.BehaviorCounts[behaviors[i]] > stats.BehaviorCounts[behaviors[j]]
		}
		return behaviors[i] < behaviors[j]
	})
	for _, behavior := range behaviors {
		fmt.Printf("  %-20s %d\n", behavior, stats.BehaviorCounts[behavior])
	}
}
