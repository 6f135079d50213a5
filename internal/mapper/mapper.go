// File: internal/mapper/mapper.go
// Description: Converts an unordered visual diagram (nodes and edges) into an
// Open Threat Model project, filling in editor defaults and a fallback zone.

package mapper

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tmscan/api/schemas"
)

const (
	// DefaultTrustZoneID is the zone every parentless component falls back to.
	DefaultTrustZoneID = "default-trust-zone"
	// DefaultTrustZoneName names the synthesized fallback zone.
	DefaultTrustZoneName = "Default Zone"
	// DefaultLabel is used for nodes the editor left unnamed.
	DefaultLabel = "Unnamed Entity"
	// DefaultComponentType is used when a component carries no otmType.
	DefaultComponentType = "generic-client"
	// DefaultRiskValue fills every risk axis the editor did not supply.
	DefaultRiskValue = 10
)

// Option configures a Mapper.
type Option func(*Mapper)

// WithStrict makes Build fail on the first invalid node or edge instead of
// skipping it.
func WithStrict(strict bool) Option {
	return func(m *Mapper) { m.strict = strict }
}

// Mapper turns raw diagrams into projects. It holds no per-call state and is
// safe for concurrent use.
type Mapper struct {
	logger *zap.Logger
	strict bool
}

// New creates a Mapper. A nil logger disables logging.
func New(logger *zap.Logger, opts ...Option) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Mapper{logger: logger.Named("mapper")}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Build maps a diagram with the default, lenient Mapper.
func Build(projectID, projectName string, nodes []schemas.RawNode, edges []schemas.RawEdge) (*schemas.Project, []schemas.Diagnostic, error) {
	return New(nil).Build(projectID, projectName, nodes, edges)
}

// buildState accumulates the output of one Build call.
type buildState struct {
	project     *schemas.Project
	diagnostics []schemas.Diagnostic
	zoneIDs     map[string]struct{}
	compIDs     map[string]struct{}
	flowIDs     map[string]struct{}
}

func (s *buildState) note(level schemas.DiagnosticLevel, source, id, msg string, err error) {
	s.diagnostics = append(s.diagnostics, schemas.Diagnostic{
		Level:   level,
		Source:  source,
		ItemID:  id,
		Message: msg,
		Err:     err,
	})
}

// Build converts nodes and edges into a Project. Individual items that cannot
// be mapped are skipped and reported as diagnostics. The returned error is a
// *schemas.ValidationError for invalid project metadata or, in strict mode,
// for the first invalid item.
func (m *Mapper) Build(projectID, projectName string, nodes []schemas.RawNode, edges []schemas.RawEdge) (*schemas.Project, []schemas.Diagnostic, error) {
	info := schemas.ProjectInfo{ID: projectID, Name: projectName}
	if err := info.Validate(); err != nil {
		return nil, nil, err
	}

	st := &buildState{
		project: &schemas.Project{
			OTMVersion: schemas.OTMVersion,
			Project:    info,
			TrustZones: make([]schemas.TrustZone, 0, len(nodes)+1),
			Components: make([]schemas.Component, 0, len(nodes)),
			DataFlows:  make([]schemas.DataFlow, 0, len(edges)),
		},
		zoneIDs: make(map[string]struct{}),
		compIDs: make(map[string]struct{}),
		flowIDs: make(map[string]struct{}),
	}

	for i := range nodes {
		if err := m.mapNode(st, &nodes[i]); err != nil {
			return nil, st.diagnostics, err
		}
	}
	for i := range edges {
		if err := m.mapEdge(st, &edges[i]); err != nil {
			return nil, st.diagnostics, err
		}
	}

	if _, ok := st.zoneIDs[DefaultTrustZoneID]; !ok {
		st.project.TrustZones = append(st.project.TrustZones, schemas.TrustZone{
			Entity: schemas.Entity{
				ID:   DefaultTrustZoneID,
				Name: DefaultTrustZoneName,
				Tags: []string{},
			},
			Risk:       schemas.UniformRating(0),
			Attributes: schemas.Attributes{},
		})
	}

	m.logger.Debug("Diagram mapped",
		zap.String("project_id", projectID),
		zap.Int("trust_zones", len(st.project.TrustZones)),
		zap.Int("components", len(st.project.Components)),
		zap.Int("dataflows", len(st.project.DataFlows)),
		zap.Int("diagnostics", len(st.diagnostics)),
	)
	return st.project, st.diagnostics, nil
}

// reject records a skipped item. In strict mode it returns the error instead.
func (m *Mapper) reject(st *buildState, source, id string, err error) error {
	if m.strict {
		return err
	}
	m.logger.Warn("Skipping diagram item", zap.String("source", source), zap.String("id", id), zap.Error(err))
	st.note(schemas.DiagnosticWarning, source, id, err.Error(), err)
	return nil
}

func (m *Mapper) mapNode(st *buildState, n *schemas.RawNode) error {
	switch n.Type {
	case schemas.NodeTypeTrustZone:
		tz := schemas.TrustZone{
			Entity: schemas.Entity{
				ID:          n.ID,
				Name:        labelOrDefault(n.Data.Label),
				Description: n.Data.Description,
				Tags:        []string{},
			},
			Risk:       resolveRisk(n.Data.Risk),
			Attributes: attributesOrEmpty(n.Data.Attributes),
		}
		if err := tz.Validate(); err != nil {
			return m.reject(st, "node", n.ID, err)
		}
		if err := claim(st.zoneIDs, "trustZone", n.ID); err != nil {
			return m.reject(st, "node", n.ID, err)
		}
		st.project.TrustZones = append(st.project.TrustZones, tz)

	case schemas.NodeTypeComponent:
		compType := n.Data.OTMType
		if compType == "" {
			compType = DefaultComponentType
		}
		parent := n.ParentNode
		if parent == "" {
			parent = DefaultTrustZoneID
		}
		tags := n.Data.Tags
		if tags == nil {
			tags = []string{}
		}
		c := schemas.Component{
			Entity: schemas.Entity{
				ID:          n.ID,
				Name:        labelOrDefault(n.Data.Label),
				Description: n.Data.Description,
				Tags:        tags,
			},
			Type:       compType,
			Parent:     parent,
			Attributes: attributesOrEmpty(n.Data.Attributes),
		}
		if err := c.Validate(); err != nil {
			return m.reject(st, "node", n.ID, err)
		}
		if err := claim(st.compIDs, "component", n.ID); err != nil {
			return m.reject(st, "node", n.ID, err)
		}
		st.project.Components = append(st.project.Components, c)

	default:
		// Annotations, groups and other editor-only shapes.
		st.note(schemas.DiagnosticInfo, "node", n.ID, fmt.Sprintf("ignored node of type %q", n.Type), nil)
	}
	return nil
}

func (m *Mapper) mapEdge(st *buildState, e *schemas.RawEdge) error {
	data := e.Data
	if data == nil {
		data = &schemas.EdgeData{}
	}
	df := schemas.DataFlow{
		Entity: schemas.Entity{
			ID:   e.ID,
			Name: edgeLabel(e),
			Tags: []string{},
		},
		Source:        e.Source,
		Destination:   e.Target,
		Bidirectional: data.Bidirectional,
		Attributes:    attributesOrEmpty(data.Attributes),
	}
	if err := df.Validate(); err != nil {
		return m.reject(st, "edge", e.ID, err)
	}
	if err := claim(st.flowIDs, "dataflow", e.ID); err != nil {
		return m.reject(st, "edge", e.ID, err)
	}
	st.project.DataFlows = append(st.project.DataFlows, df)
	return nil
}

func claim(seen map[string]struct{}, kind, id string) error {
	if _, dup := seen[id]; dup {
		return &schemas.ValidationError{Kind: kind, ID: id, Field: "id", Reason: "duplicate identifier"}
	}
	seen[id] = struct{}{}
	return nil
}

// edgeLabel picks the root label, then the data label, then a synthesized one.
func edgeLabel(e *schemas.RawEdge) string {
	if e.Label != "" {
		return e.Label
	}
	if e.Data != nil && e.Data.Label != "" {
		return e.Data.Label
	}
	return fmt.Sprintf("Flow %s -> %s", e.Source, e.Target)
}

func labelOrDefault(label string) string {
	if label == "" {
		return DefaultLabel
	}
	return label
}

func attributesOrEmpty(a schemas.Attributes) schemas.Attributes {
	if a == nil {
		return schemas.Attributes{}
	}
	return a
}

// resolveRisk applies the 10/10/10 default axis by axis.
func resolveRisk(r *schemas.RawRisk) schemas.TrustRating {
	out := schemas.UniformRating(DefaultRiskValue)
	if r == nil {
		return out
	}
	if r.Confidentiality != nil {
		out.Confidentiality = *r.Confidentiality
	}
	if r.Integrity != nil {
		out.Integrity = *r.Integrity
	}
	if r.Availability != nil {
		out.Availability = *r.Availability
	}
	return out
}
