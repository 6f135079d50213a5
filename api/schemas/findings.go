package schemas

import (
	"time"
)

// -- Finding Schemas --

// Severity is the severity level of a threat. The set is closed.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Severities lists the closed severity set from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// Valid reports whether s belongs to the closed severity set.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Rank orders severities: critical=4 down to low=1, unknown=0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

func (s Severity) String() string { return string(s) }

// ThreatStatus is the lifecycle state of a threat. The engine only ever
// produces StatusOpen.
type ThreatStatus string

const (
	StatusOpen      ThreatStatus = "open"
	StatusMitigated ThreatStatus = "mitigated"
	StatusAccepted  ThreatStatus = "accepted"
)

// Threat is one instance of a rule matching one entity.
type Threat struct {
	ID          string       `json:"id" yaml:"id"`
	RuleID      string       `json:"ruleId" yaml:"ruleId"`
	Title       string       `json:"title" yaml:"title"`
	Description string       `json:"description" yaml:"description"`
	Severity    Severity     `json:"severity" yaml:"severity"`
	Status      ThreatStatus `json:"status" yaml:"status"`
	ComponentID string       `json:"componentId,omitempty" yaml:"componentId,omitempty"`
	Mitigation  string       `json:"mitigation,omitempty" yaml:"mitigation,omitempty"`
}

// Summary counts threats per severity bucket.
type Summary struct {
	Total    int `json:"total" yaml:"total"`
	Critical int `json:"critical" yaml:"critical"`
	High     int `json:"high" yaml:"high"`
	Medium   int `json:"medium" yaml:"medium"`
	Low      int `json:"low" yaml:"low"`
}

// Summarize counts threats by severity. Unknown severities only count toward
// the total.
func Summarize(threats []Threat) Summary {
	s := Summary{Total: len(threats)}
	for _, t := range threats {
		switch t.Severity {
		case SeverityCritical:
			s.Critical++
		case SeverityHigh:
			s.High++
		case SeverityMedium:
			s.Medium++
		case SeverityLow:
			s.Low++
		}
	}
	return s
}

// Count returns the bucket for the given severity.
func (s Summary) Count(sev Severity) int {
	switch sev {
	case SeverityCritical:
		return s.Critical
	case SeverityHigh:
		return s.High
	case SeverityMedium:
		return s.Medium
	case SeverityLow:
		return s.Low
	default:
		return 0
	}
}

// AnalysisReport is the output of one analysis run.
type AnalysisReport struct {
	ProjectID   string       `json:"projectId" yaml:"projectId"`
	Timestamp   time.Time    `json:"timestamp" yaml:"timestamp"`
	Threats     []Threat     `json:"threats" yaml:"threats"`
	Summary     Summary      `json:"summary" yaml:"summary"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// HasAtLeast reports whether any threat is at or above the given severity.
func (r *AnalysisReport) HasAtLeast(sev Severity) bool {
	for _, t := range r.Threats {
		if t.Severity.Rank() >= sev.Rank() && t.Severity.Valid() {
			return true
		}
	}
	return false
}
