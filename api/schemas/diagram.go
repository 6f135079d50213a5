package schemas

// -- Visual Diagram Schemas --

// Node types understood by the mapper. Anything else is ignored.
const (
	NodeTypeTrustZone = "otmTrustZone"
	NodeTypeComponent = "otmComponent"
)

// RawRisk is the optional, possibly partial, risk block of a trust zone node.
// Nil axes were not supplied by the editor.
type RawRisk struct {
	Confidentiality *int `json:"confidentiality,omitempty" yaml:"confidentiality,omitempty"`
	Integrity       *int `json:"integrity,omitempty" yaml:"integrity,omitempty"`
	Availability    *int `json:"availability,omitempty" yaml:"availability,omitempty"`
}

// NodeData is the free-form payload a visual editor attaches to a node.
type NodeData struct {
	Label       string     `json:"label,omitempty" yaml:"label,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Risk        *RawRisk   `json:"risk,omitempty" yaml:"risk,omitempty"`
	Attributes  Attributes `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	OTMType     string     `json:"otmType,omitempty" yaml:"otmType,omitempty"`
	Tags        []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// RawNode is a node of the visual diagram.
type RawNode struct {
	ID         string   `json:"id" yaml:"id"`
	Type       string   `json:"type" yaml:"type"`
	ParentNode string   `json:"parentNode,omitempty" yaml:"parentNode,omitempty"`
	Data       NodeData `json:"data" yaml:"data"`
}

// EdgeData is the optional payload of a diagram edge.
type EdgeData struct {
	Label         string     `json:"label,omitempty" yaml:"label,omitempty"`
	Bidirectional bool       `json:"bidirectional,omitempty" yaml:"bidirectional,omitempty"`
	Attributes    Attributes `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// RawEdge is a connection of the visual diagram.
type RawEdge struct {
	ID     string    `json:"id" yaml:"id"`
	Source string    `json:"source" yaml:"source"`
	Target string    `json:"target" yaml:"target"`
	Label  string    `json:"label,omitempty" yaml:"label,omitempty"`
	Data   *EdgeData `json:"data,omitempty" yaml:"data,omitempty"`
}

// DiagramRequest is the body the editor posts: a project identity plus the
// raw graph, and optionally custom rules for analysis.
type DiagramRequest struct {
	ProjectName string           `json:"projectName" yaml:"projectName"`
	ProjectID   string           `json:"projectId" yaml:"projectId"`
	Nodes       []RawNode        `json:"nodes" yaml:"nodes"`
	Edges       []RawEdge        `json:"edges" yaml:"edges"`
	CustomRules []RuleDefinition `json:"customRules,omitempty" yaml:"customRules,omitempty"`
}
