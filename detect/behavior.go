package detect

import (
	"fmt"
	"os"
	"regexp"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"argus/core"
)

// UnknownBehavior is assigned when no mapping or pattern matches.
const UnknownBehavior = "unknown"

// defaultMappings maps Snort classification labels to behavior labels.
var defaultMappings = map[string]string{
	"Attempted Information Leak":                         "data_exfiltration",
	"Attempted User Privilege Gain":                      "privilege_escalation",
	"Web Application Attack":                             "web_attack",
	"Potential Corporate Privacy Violation":              "data_exfiltration",
	"Executable Code was Detected":                       "malware",
	"A Network Trojan was Detected":                      "malware",
	"Attempted Denial of Service":                        "dos",
	"Attempted Administrator Privilege Gain":             "privilege_escalation",
	"Successful Administrator Privilege Gain":            "privilege_escalation",
	"Successful User Privilege Gain":                     "privilege_escalation",
	"Potentially Bad Traffic":                            "malware_c2",
	"Information Leak":                                   "data_exfiltration",
	"Network Scan":                                       "port_scan",
	"Suspicious Login":                                   "brute_force",
	"Unknown Traffic":                                    "suspicious_traffic",
	"Access to a Potentially Vulnerable Web Application": "web_attack",
	"Generic Protocol Command Decode":                    "protocol_violation",
}

// patternRule is a regex fallback applied to the signature name when the
// classification label has no mapping. Rules are evaluated in order; the
// first match wins, so more specific patterns must come before broader
// ones.
type patternRule struct {
	pattern  *regexp.Regexp
	behavior string
}

var defaultPatterns = []patternRule{
	{regexp.MustCompile(`(?i)SQL[_ ]Injection`), "sql_injection"},
	{regexp.MustCompile(`(?i)XSS|Cross[- ]Site`), "xss"},
	{regexp.MustCompile(`(?i)Directory[_ ]Traversal`), "path_traversal"},
	{regexp.MustCompile(`(?i)Port[_ ]Scan`), "port_scan"},
	{regexp.MustCompile(`(?i)Brute[_ ]Force`), "brute_force"},
	{regexp.MustCompile(`(?i)DoS|Denial[_ ]of[_ ]Service`), "dos"},
	{regexp.MustCompile(`(?i)DNS[_ ]Tunnel`), "dns_tunneling"},
	{regexp.MustCompile(`(?i)Command[_ ]Injection`), "command_injection"},
	{regexp.MustCompile(`(?i)Data[_ ]Exfiltration`), "data_exfiltration"},
	{regexp.MustCompile(`(?i)Malware`), "malware"},
	{regexp.MustCompile(`(?i)C2|Command[_ ]and[_ ]Control`), "malware_c2"},
}

// Classifier resolves an alert to a behavior label: an exact lookup of
// the classification label, then ordered regex fallbacks over the
// signature name.
type Classifier struct {
	mappings map[string]string
	patterns []patternRule
	logger   *zap.SugaredLogger
}

// mappingFile is the YAML shape of an operator-supplied override file.
type mappingFile struct {
	Mappings map[string]string `yaml:"mappings"`
	Patterns []struct {
		Pattern  string `yaml:"pattern"`
		Behavior string `yaml:"behavior"`
	} `yaml:"patterns"`
}

// NewClassifier builds a classifier with the built-in rule set.
func NewClassifier(logger *zap.SugaredLogger) *Classifier {
	mappings := make(map[string]string, len(defaultMappings))
	for label, behavior := range defaultMappings {
		mappings[label] = behavior
	}
	return &Classifier{
		mappings: mappings,
		patterns: defaultPatterns,
		logger:   logger,
	}
}

// NewClassifierFromFile loads an operator mapping file and layers it
// over the built-in rules. File mappings override built-ins with the
// same classification label; file patterns are evaluated before
// built-ins.
func NewClassifierFromFile(path string, logger *zap.SugaredLogger) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}

	var file mappingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse mapping file: %w", err)
	}

	c := NewClassifier(logger)
	for label, behavior := range file.Mappings {
		c.mappings[label] = behavior
	}

	custom := make([]patternRule, 0, len(file.Patterns))
	for _, p := range file.Patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q in mapping file: %w", p.Pattern, err)
		}
		custom = append(custom, patternRule{pattern: re, behavior: p.Behavior})
	}
	c.patterns = append(custom, c.patterns...)

	logger.Infow("Loaded behavior mapping overrides",
		"path", path,
		"mappings", len(file.Mappings),
		"patterns", len(file.Patterns))
	return c, nil
}

// Classify returns the behavior label for an alert.
func (c *Classifier) Classify(alert *core.ParsedAlert) string {
	if alert.Classification != "" {
		if behavior, ok := c.mappings[alert.Classification]; ok {
			return behavior
		}
	}
	for _, rule := range c.patterns {
		if rule.pattern.MatchString(alert.SignatureName) {
			return rule.behavior
		}
	}
	return UnknownBehavior
}
