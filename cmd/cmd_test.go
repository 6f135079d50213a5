// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/tmscan/api/schemas"
	"github.com/xkilldash9x/tmscan/internal/config"
	"github.com/xkilldash9x/tmscan/internal/store"
)

const testDiagram = `{
  "projectId": "proj-1",
  "projectName": "Shop",
  "nodes": [
    {"id": "public", "type": "otmTrustZone", "data": {"label": "Public", "risk": {"confidentiality": 10, "integrity": 50, "availability": 50}}},
    {"id": "orders-db", "type": "otmComponent", "parentNode": "public", "data": {"label": "Orders DB", "otmType": "database"}},
    {"id": "note", "type": "stickyNote", "data": {"label": "ignore me"}}
  ],
  "edges": []
}`

const testRules = `
rules:
  - id: CUSTOM-DB
    title: Any database
    severity: critical
    description: "{name} found"
    criteria:
      - field: type
        operator: equals
        value: database
`

// memStore keeps reports in memory.
type memStore struct {
	mu       sync.Mutex
	reports  map[string]*schemas.AnalysisReport
	projects map[string]*schemas.Project
	order    []string
	saveErr  error
}

func newMemStore() *memStore {
	return &memStore{reports: map[string]*schemas.AnalysisReport{}, projects: map[string]*schemas.Project{}}
}

func (m *memStore) SaveAnalysis(_ context.Context, project *schemas.Project, report *schemas.AnalysisReport) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return "", m.saveErr
	}
	id := "r-" + string(rune('1'+len(m.order)))
	m.reports[id] = report
	if project != nil {
		m.projects[project.Project.ID] = project
	}
	m.order = append(m.order, id)
	return id, nil
}

func (m *memStore) GetReport(_ context.Context, id string) (*schemas.AnalysisReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (m *memStore) ListReports(_ context.Context, projectID string, limit int) ([]store.ReportRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ReportRecord
	for _, id := range m.order {
		r := m.reports[id]
		if r.ProjectID != projectID {
			continue
		}
		out = append(out, store.ReportRecord{ID: id, ProjectID: r.ProjectID, CreatedAt: r.Timestamp, Summary: r.Summary})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memProvider hands out a shared memStore.
type memProvider struct {
	st      *memStore
	err     error
	created int
	closed  int
}

func (p *memProvider) Create(context.Context, config.Interface) (reportStore, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	p.created++
	return p.st, func() { p.closed++ }, nil
}

func newMemProvider() *memProvider {
	return &memProvider{st: newMemStore()}
}

type execOptions struct {
	provider storeProvider
	stdin    string
}

// executeCommand runs a fresh command tree and returns what it wrote to stdout.
func executeCommand(t *testing.T, opts execOptions, args ...string) (string, error) {
	t.Helper()
	if opts.provider == nil {
		opts.provider = newMemProvider()
	}
	root := newRootCmd(opts.provider)

	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetIn(strings.NewReader(opts.stdin))
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

// writeFile writes content into the test's temp dir.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

var errProviderDown = errors.New("database unreachable")
