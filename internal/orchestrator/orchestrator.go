// File: internal/orchestrator/orchestrator.go
// Description: Runs the fixed rule catalog plus caller-supplied declarative
// rules against a project and assembles the analysis report.

package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/tmscan/api/schemas"
	"github.com/xkilldash9x/tmscan/internal/analysis/core"
	"github.com/xkilldash9x/tmscan/internal/analysis/declarative"
)

// DefaultConcurrency bounds rule fan-out when no option overrides it.
const DefaultConcurrency = 4

// UnknownProjectID is reported when the project carries no id.
const UnknownProjectID = "unknown"

// Recorder receives per-rule execution results. It is satisfied by the
// Prometheus metrics in internal/observability.
type Recorder interface {
	ObserveRule(ruleID string, kind core.RuleKind, elapsed time.Duration, threats int, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRule(string, core.RuleKind, time.Duration, int, error) {}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The orchestrator names its own sub-logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithConcurrency caps the number of rules running at once. Values below one
// fall back to DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// Orchestrator runs rules against projects. It is stateless between calls
// and safe for concurrent use.
type Orchestrator struct {
	catalog     core.Catalog
	logger      *zap.Logger
	concurrency int
	now         func() time.Time
	recorder    Recorder
}

// New creates an Orchestrator around an already-built catalog.
func New(catalog core.Catalog, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog:     catalog,
		logger:      zap.NewNop(),
		concurrency: DefaultConcurrency,
		now:         time.Now,
		recorder:    nopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("orchestrator")
	return o
}

// Catalog returns the fixed rules this orchestrator runs.
func (o *Orchestrator) Catalog() core.Catalog {
	return o.catalog
}

// diagnostics is appended to from several rule goroutines. Each entry keeps
// the execution index of the rule that produced it; construction problems
// use -1 so they sort first.
type diagnostics struct {
	mu    sync.Mutex
	items []indexedDiagnostic
}

type indexedDiagnostic struct {
	index int
	diag  schemas.Diagnostic
}

func (d *diagnostics) add(index int, diag schemas.Diagnostic) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = append(d.items, indexedDiagnostic{index: index, diag: diag})
}

// sorted returns the diagnostics in execution order.
func (d *diagnostics) sorted() []schemas.Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return nil
	}
	sort.SliceStable(d.items, func(i, j int) bool { return d.items[i].index < d.items[j].index })
	out := make([]schemas.Diagnostic, len(d.items))
	for i, item := range d.items {
		out[i] = item.diag
	}
	return out
}

// Analyze evaluates the catalog followed by customRules against project.
// Broken definitions and failing rules are isolated and reported as
// diagnostics; they never abort the run. Threats are ordered by rule, then
// by entity.
func (o *Orchestrator) Analyze(ctx context.Context, project *schemas.Project, customRules []schemas.RuleDefinition) *schemas.AnalysisReport {
	if project == nil {
		project = &schemas.Project{}
	}
	diags := &diagnostics{}
	rules := o.executionList(customRules, diags)

	// Each rule owns one slot, so ordering survives concurrent execution.
	slots := make([][]schemas.Threat, len(rules))

	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)
	for i, rule := range rules {
		g.Go(func() error {
			slots[i] = o.runRule(ctx, i, rule, project, diags)
			// Rule failures are captured above; never cancel siblings.
			return nil
		})
	}
	_ = g.Wait()

	threats := make([]schemas.Threat, 0)
	for _, s := range slots {
		threats = append(threats, s...)
	}

	report := &schemas.AnalysisReport{
		ProjectID:   projectID(project),
		Timestamp:   o.now().UTC(),
		Threats:     threats,
		Summary:     schemas.Summarize(threats),
		Diagnostics: diags.sorted(),
	}

	o.logger.Info("Analysis complete",
		zap.String("project_id", report.ProjectID),
		zap.Int("rules", len(rules)),
		zap.Int("threats", report.Summary.Total),
		zap.Int("diagnostics", len(report.Diagnostics)),
	)
	return report
}

// executionList is the catalog in declared order followed by every custom
// definition that compiles.
func (o *Orchestrator) executionList(customRules []schemas.RuleDefinition, diags *diagnostics) []core.Rule {
	rules := o.catalog.Rules()
	for _, def := range customRules {
		rule, err := declarative.New(def, o.logger)
		if err != nil {
			o.logger.Warn("Skipping custom rule", zap.String("rule_id", def.ID), zap.Error(err))
			diags.add(-1, schemas.RuleDiagnostic(def.ID, err))
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}

// runRule executes one rule, turning errors and panics into diagnostics.
func (o *Orchestrator) runRule(ctx context.Context, index int, rule core.Rule, project *schemas.Project, diags *diagnostics) (threats []schemas.Threat) {
	start := time.Now()
	var runErr error
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Rule panicked",
				zap.String("rule_id", rule.ID()),
				zap.Any("panic_value", r),
				zap.String("stack", string(debug.Stack())),
			)
			runErr = fmt.Errorf("panic: %v", r)
			threats = nil
		}
		if runErr != nil {
			execErr := &schemas.RuleExecutionError{RuleID: rule.ID(), Err: runErr}
			diags.add(index, schemas.Diagnostic{
				Level:   schemas.DiagnosticError,
				Source:  "rule",
				ItemID:  rule.ID(),
				Message: execErr.Error(),
				Err:     execErr,
			})
		}
		o.recorder.ObserveRule(rule.ID(), rule.Kind(), time.Since(start), len(threats), runErr)
	}()

	threats, runErr = rule.Check(ctx, project)
	if runErr != nil {
		o.logger.Warn("Rule failed", zap.String("rule_id", rule.ID()), zap.Error(runErr))
		return nil
	}
	return threats
}

func projectID(p *schemas.Project) string {
	if p == nil || p.Project.ID == "" {
		return UnknownProjectID
	}
	return p.Project.ID
}
