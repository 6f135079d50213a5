package mapper

import (
	encodingjson "encoding/json"
	"fmt"
	"io"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/tmscan/api/schemas"
)

// UnknownProjectID stands in for a project document without an id.
const UnknownProjectID = "unknown"

// rawDiagram keeps nodes, edges and custom rules undecoded so that one
// malformed element does not take the whole request down with it.
type rawDiagram struct {
	ProjectName string                    `json:"projectName"`
	ProjectID   string                    `json:"projectId"`
	Nodes       []encodingjson.RawMessage `json:"nodes"`
	Edges       []encodingjson.RawMessage `json:"edges"`
	CustomRules []encodingjson.RawMessage `json:"customRules"`
}

// DecodeDiagram reads an editor export. The envelope must be well-formed JSON;
// nodes, edges and custom rules that fail to decode are dropped and reported
// as diagnostics.
func DecodeDiagram(r io.Reader) (*schemas.DiagramRequest, []schemas.Diagnostic, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read diagram: %w", err)
	}
	return DecodeDiagramBytes(data)
}

// DecodeDiagramBytes is DecodeDiagram over an in-memory document.
func DecodeDiagramBytes(data []byte) (*schemas.DiagramRequest, []schemas.Diagnostic, error) {
	var raw rawDiagram
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to decode diagram: %w", err)
	}

	req := &schemas.DiagramRequest{
		ProjectName: raw.ProjectName,
		ProjectID:   raw.ProjectID,
		Nodes:       make([]schemas.RawNode, 0, len(raw.Nodes)),
		Edges:       make([]schemas.RawEdge, 0, len(raw.Edges)),
	}
	var diags []schemas.Diagnostic

	for i, msg := range raw.Nodes {
		var n schemas.RawNode
		if err := json.Unmarshal(msg, &n); err != nil {
			diags = append(diags, decodeDiagnostic("node", i, msg, err))
			continue
		}
		req.Nodes = append(req.Nodes, n)
	}
	for i, msg := range raw.Edges {
		var e schemas.RawEdge
		if err := json.Unmarshal(msg, &e); err != nil {
			diags = append(diags, decodeDiagnostic("edge", i, msg, err))
			continue
		}
		req.Edges = append(req.Edges, e)
	}
	if len(raw.CustomRules) > 0 {
		defs, ruleDiags := schemas.DecodeRuleDefinitions(raw.CustomRules)
		req.CustomRules = defs
		diags = append(diags, ruleDiags...)
	}
	return req, diags, nil
}

func decodeDiagnostic(source string, index int, msg []byte, err error) schemas.Diagnostic {
	// Best effort: recover the id so the caller can find the element.
	id := json.Get(msg, "id").ToString()
	return schemas.Diagnostic{
		Level:   schemas.DiagnosticWarning,
		Source:  source,
		ItemID:  id,
		Message: fmt.Sprintf("%s #%d could not be decoded: %v", source, index, err),
		Err:     err,
	}
}

// Map decodes an editor export and builds its project. Nodes and edges that
// fail to decode are treated like any other invalid item: skipped with a
// diagnostic, or in strict mode the first one fails the call. Custom rules
// that fail to decode are always reported as diagnostics, since a bad rule
// never aborts an analysis.
func (m *Mapper) Map(data []byte) (*schemas.DiagramRequest, *schemas.Project, []schemas.Diagnostic, error) {
	req, decodeDiags, err := DecodeDiagramBytes(data)
	if err != nil {
		return nil, nil, nil, err
	}
	if m.strict {
		for _, d := range decodeDiags {
			if d.Source == "node" || d.Source == "edge" {
				return nil, nil, decodeDiags, &schemas.ValidationError{Kind: d.Source, ID: d.ItemID, Reason: d.Message}
			}
		}
	}
	project, mapDiags, err := m.Build(req.ProjectID, req.ProjectName, req.Nodes, req.Edges)
	if err != nil {
		return nil, nil, append(decodeDiags, mapDiags...), err
	}
	return req, project, append(decodeDiags, mapDiags...), nil
}

// DecodeProject reads an already-mapped OTM project. A missing project id is
// replaced with UnknownProjectID.
func DecodeProject(data []byte) (*schemas.Project, error) {
	var p schemas.Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode project: %w", err)
	}
	if p.Project.ID == "" {
		p.Project.ID = UnknownProjectID
	}
	return &p, nil
}

// EncodeProject writes the project as indented JSON.
func EncodeProject(w io.Writer, p *schemas.Project) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
