package ml

import (
	"context"
	"strings"

	"argus/core"
)

// Confidence levels attached to locally produced assessments. Heuristic
// assessments carry a fixed confidence; when the heuristic runs because
// the oracle failed, the confidence is reduced further.
const (
	HeuristicConfidence = 0.5
	DegradedConfidence  = 0.4
)

var (
	highKeywords   = []string{"malware", "ransomware", "exploit", "attack", "vulnerability"}
	mediumKeywords = []string{"scan", "probe", "suspicious", "unusual", "admin"}
	lowKeywords    = []string{"warning", "notice", "attempt", "failed"}
)

// HeuristicAssessor scores threats by keyword matching against the
// signature name and behavior label. It is the always-available floor
// of the assessment chain.
type HeuristicAssessor struct{}

func NewHeuristicAssessor() *HeuristicAssessor {
	return &HeuristicAssessor{}
}

// Assess derives severity from keyword tiers and tags techniques with
// the local rules. It cannot fail.
func (h *HeuristicAssessor) Assess(_ context.Context, alert *core.ParsedAlert, behavior string) (core.Assessment, error) {
	text := assessmentText(alert, behavior)
	return core.Assessment{
		Severity:   severityFromKeywords(text),
		Confidence: HeuristicConfidence,
		Techniques: TagTechniques(alert, behavior),
	}, nil
}

func assessmentText(alert *core.ParsedAlert, behavior string) string {
	return strings.ToLower(alert.SignatureName + " " + alert.Classification + " " + behavior)
}

func severityFromKeywords(text string) core.Severity {
	for _, kw := range highKeywords {
		if strings.Contains(text, kw) {
			return core.SeverityHigh
		}
	}
	for _, kw := range mediumKeywords {
		if strings.Contains(text, kw) {
			return core.SeverityMedium
		}
	}
	for _, kw := range lowKeywords {
		if strings.Contains(text, kw) {
			return core.SeverityLow
		}
	}
	return core.SeverityNormal
}

// TagTechniques applies the local ATT&CK tagging rules to an alert.
// Rules are additive: one alert can carry several techniques.
func TagTechniques(alert *core.ParsedAlert, behavior string) []string {
	text := assessmentText(alert, behavior)

	var techniques []string
	add := func(id string) {
		for _, existing := range techniques {
			if existing == id {
				return
			}
		}
		techniques = append(techniques, id)
	}

	if strings.EqualFold(alert.Protocol, "HTTP") && strings.Contains(text, "admin") {
		add("T1190")
	}
	if strings.Contains(text, "scan") {
		add("T1046")
	}
	if strings.Contains(text, "select") && strings.Contains(text, "from") {
		add("T1190")
	}
	if strings.Contains(text, "brute") || strings.Contains(text, "password") {
		add("T1110")
	}
	if strings.Contains(text, "execute") || strings.Contains(text, "cmd") || strings.Contains(text, "command") {
		add("T1059")
	}
	return techniques
}
