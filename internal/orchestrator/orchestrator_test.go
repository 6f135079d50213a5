package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/tmscan/api/schemas"
	"github.com/xkilldash9x/tmscan/internal/analysis/core"
	"github.com/xkilldash9x/tmscan/internal/analysis/rules"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

func scenarioProject(encrypted bool) *schemas.Project {
	comp := schemas.Component{
		Entity:     schemas.Entity{ID: "orders-db", Name: "Orders DB", Tags: []string{}},
		Type:       "database",
		Parent:     "public",
		Attributes: schemas.Attributes{},
	}
	if encrypted {
		comp.Attributes["encrypted"] = schemas.StringValue("true")
		comp.Tags = []string{"owner:platform-team"}
	}
	return &schemas.Project{
		OTMVersion: schemas.OTMVersion,
		Project:    schemas.ProjectInfo{ID: "proj-1", Name: "Shop"},
		TrustZones: []schemas.TrustZone{{
			Entity: schemas.Entity{ID: "public", Name: "Public", Tags: []string{}},
			Risk:   schemas.TrustRating{Confidentiality: 10, Integrity: 50, Availability: 50},
		}},
		Components: []schemas.Component{comp},
	}
}

func newTestOrchestrator(t *testing.T, extra ...core.Rule) *Orchestrator {
	catalog := rules.DefaultCatalog(zap.NewNop())
	if len(extra) > 0 {
		catalog = core.NewCatalog(append(catalog.Rules(), extra...)...)
	}
	return New(catalog, WithClock(func() time.Time { return fixedTime }), WithConcurrency(2))
}

func ruleIDs(threats []schemas.Threat) []string {
	ids := make([]string, len(threats))
	for i, t := range threats {
		ids[i] = t.RuleID
	}
	return ids
}

func TestAnalyze_UnprotectedDatabaseScenario(t *testing.T) {
	o := newTestOrchestrator(t)
	report := o.Analyze(context.Background(), scenarioProject(false), nil)

	require.Len(t, report.Threats, 3)
	assert.Equal(t, []string{"RULE-001", "RULE-002", "RULE-003"}, ruleIDs(report.Threats))
	assert.Equal(t, schemas.SeverityHigh, report.Threats[0].Severity)
	assert.Equal(t, "public", report.Threats[1].ComponentID)
	assert.Equal(t, schemas.Summary{Total: 3, Critical: 0, High: 1, Medium: 1, Low: 1}, report.Summary)
	assert.Equal(t, "proj-1", report.ProjectID)
	assert.Equal(t, fixedTime.UTC(), report.Timestamp)
	assert.Equal(t, time.UTC, report.Timestamp.Location())
	assert.Empty(t, report.Diagnostics)
}

func TestAnalyze_ProtectedDatabaseScenario(t *testing.T) {
	o := newTestOrchestrator(t)
	report := o.Analyze(context.Background(), scenarioProject(true), nil)

	assert.Equal(t, []string{"RULE-002"}, ruleIDs(report.Threats))
	assert.Equal(t, schemas.Summary{Total: 1, Medium: 1}, report.Summary)
}

func TestAnalyze_CustomRulesRunAfterCatalog(t *testing.T) {
	custom := []schemas.RuleDefinition{
		{
			ID: "CUSTOM-A", Title: "Any database", Severity: schemas.SeverityCritical,
			Description: "{name} is a database", Mitigation: "Review.",
			Criteria: []schemas.RuleCriterion{{Field: "type", Value: schemas.StringValue("database")}},
		},
		{
			ID: "CUSTOM-B", Title: "Zone", Severity: schemas.SeverityLow, Target: schemas.TargetTrustZone,
			Description: "zone {name}",
		},
	}
	report := newTestOrchestrator(t).Analyze(context.Background(), scenarioProject(false), custom)

	assert.Equal(t, []string{"RULE-001", "RULE-002", "RULE-003", "CUSTOM-A", "CUSTOM-B"}, ruleIDs(report.Threats))
	assert.Equal(t, "Orders DB is a database", report.Threats[3].Description)
	assert.Equal(t, "zone Public", report.Threats[4].Description)
	assert.Equal(t, schemas.Summary{Total: 5, Critical: 1, High: 1, Medium: 1, Low: 2}, report.Summary)
}

func TestAnalyze_InvalidCustomRuleIsSkipped(t *testing.T) {
	custom := []schemas.RuleDefinition{
		{ID: "BROKEN", Title: "Broken", Severity: "catastrophic"},
		{ID: "OK", Title: "Fine", Severity: schemas.SeverityLow, Description: "{name}"},
	}
	report := newTestOrchestrator(t).Analyze(context.Background(), scenarioProject(true), custom)

	assert.Equal(t, []string{"RULE-002", "OK"}, ruleIDs(report.Threats))
	require.Len(t, report.Diagnostics, 1)
	d := report.Diagnostics[0]
	assert.Equal(t, "BROKEN", d.ItemID)
	assert.Equal(t, schemas.DiagnosticError, d.Level)
	var cerr *schemas.RuleConstructionError
	assert.True(t, errors.As(d.Err, &cerr))
}

type failingRule struct {
	*core.BaseRule
	panics bool
}

func (f *failingRule) Check(context.Context, *schemas.Project) ([]schemas.Threat, error) {
	if f.panics {
		panic("boom")
	}
	return []schemas.Threat{f.NewThreat("x", "partial", "")}, errors.New("backend unavailable")
}

func TestAnalyze_RuleIsolation(t *testing.T) {
	core1, obs := observer.New(zapcore.WarnLevel)
	o := New(
		core.NewCatalog(
			&failingRule{BaseRule: core.NewBaseRule("PANIC", "p", schemas.SeverityHigh, core.KindFixed, nil), panics: true},
			rules.NewPublicZoneRule(nil),
			&failingRule{BaseRule: core.NewBaseRule("ERR", "e", schemas.SeverityHigh, core.KindFixed, nil)},
			rules.NewMissingOwnerRule(nil),
		),
		WithLogger(zap.New(core1)),
	)

	report := o.Analyze(context.Background(), scenarioProject(false), nil)

	assert.Equal(t, []string{"RULE-002", "RULE-003"}, ruleIDs(report.Threats))
	assert.Equal(t, 2, report.Summary.Total)
	require.Len(t, report.Diagnostics, 2)
	assert.Equal(t, "PANIC", report.Diagnostics[0].ItemID)
	assert.Equal(t, "ERR", report.Diagnostics[1].ItemID)
	for _, d := range report.Diagnostics {
		var xerr *schemas.RuleExecutionError
		require.True(t, errors.As(d.Err, &xerr))
		assert.Equal(t, d.ItemID, xerr.RuleID)
	}
	assert.Equal(t, 1, obs.FilterMessage("Rule panicked").Len())
	assert.Equal(t, 1, obs.FilterMessage("Rule failed").Len())
}

type slowRule struct {
	*core.BaseRule
	delay   time.Duration
	running *atomic.Int32
	peak    *atomic.Int32
}

func (s *slowRule) Check(_ context.Context, p *schemas.Project) ([]schemas.Threat, error) {
	n := s.running.Add(1)
	for {
		cur := s.peak.Load()
		if n <= cur || s.peak.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(s.delay)
	s.running.Add(-1)
	return []schemas.Threat{s.NewThreat(p.Project.ID, s.ID(), "")}, nil
}

func TestAnalyze_OrderingAndConcurrencyLimit(t *testing.T) {
	var running, peak atomic.Int32
	var rs []core.Rule
	ids := []string{"S1", "S2", "S3", "S4", "S5", "S6"}
	for i, id := range ids {
		rs = append(rs, &slowRule{
			BaseRule: core.NewBaseRule(id, id, schemas.SeverityLow, core.KindFixed, nil),
			// Earlier rules finish last.
			delay:   time.Duration(len(ids)-i) * 5 * time.Millisecond,
			running: &running,
			peak:    &peak,
		})
	}
	o := New(core.NewCatalog(rs...), WithConcurrency(3))
	report := o.Analyze(context.Background(), scenarioProject(false), nil)

	assert.Equal(t, ids, ruleIDs(report.Threats))
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestAnalyze_Defaults(t *testing.T) {
	o := New(core.NewCatalog())
	report := o.Analyze(context.Background(), &schemas.Project{}, nil)
	assert.Equal(t, UnknownProjectID, report.ProjectID)
	assert.NotNil(t, report.Threats)
	assert.Empty(t, report.Threats)
	assert.Equal(t, schemas.Summary{}, report.Summary)

	report = o.Analyze(context.Background(), nil, nil)
	assert.Equal(t, UnknownProjectID, report.ProjectID)
}

func TestAnalyze_DisabledRules(t *testing.T) {
	catalog := rules.DefaultCatalog(nil).Without("RULE-003")
	report := New(catalog).Analyze(context.Background(), scenarioProject(false), nil)
	assert.Equal(t, []string{"RULE-001", "RULE-002"}, ruleIDs(report.Threats))
}

type recordingRecorder struct {
	calls atomic.Int32
	errs  atomic.Int32
}

func (r *recordingRecorder) ObserveRule(_ string, _ core.RuleKind, _ time.Duration, _ int, err error) {
	r.calls.Add(1)
	if err != nil {
		r.errs.Add(1)
	}
}

func TestAnalyze_RecordsMetrics(t *testing.T) {
	rec := &recordingRecorder{}
	o := New(core.NewCatalog(
		rules.NewPublicZoneRule(nil),
		&failingRule{BaseRule: core.NewBaseRule("ERR", "e", schemas.SeverityHigh, core.KindFixed, nil)},
	), WithRecorder(rec))
	o.Analyze(context.Background(), scenarioProject(false), nil)
	assert.Equal(t, int32(2), rec.calls.Load())
	assert.Equal(t, int32(1), rec.errs.Load())
}

func TestAnalyze_SummaryMatchesThreats(t *testing.T) {
	threats := []schemas.Threat{
		{Severity: schemas.SeverityCritical},
		{Severity: schemas.SeverityLow},
		{Severity: schemas.SeverityLow},
		{Severity: "informational"},
	}
	s := schemas.Summarize(threats)
	assert.Equal(t, schemas.Summary{Total: 4, Critical: 1, Low: 2}, s)
	assert.Equal(t, s.Total, len(threats))
}
