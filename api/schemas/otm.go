package schemas

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// -- Security Graph Model (Open Threat Model) --

// OTMVersion is the version tag stamped on every project built by the mapper.
const OTMVersion = "0.1.0"

// TrustZoneType is the fixed technical type reported by every trust zone.
const TrustZoneType = "trust-zone"

// validate is the shared validator instance; it is safe for concurrent use.
var validate *validator.Validate

func init() {
	validate = validator.New()
	// Report interchange field names ("confidentiality", "id") instead of Go names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Entity holds the fields shared by every node in the security graph.
type Entity struct {
	ID          string   `json:"id" yaml:"id" validate:"required"`
	Name        string   `json:"name" yaml:"name" validate:"required"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string `json:"tags" yaml:"tags"`
}

// TrustRating is the security posture of a trust zone. Lower values mean
// less trustworthy, higher exposure.
type TrustRating struct {
	Confidentiality int `json:"confidentiality" yaml:"confidentiality" validate:"min=0,max=100"`
	Integrity       int `json:"integrity" yaml:"integrity" validate:"min=0,max=100"`
	Availability    int `json:"availability" yaml:"availability" validate:"min=0,max=100"`
}

// UniformRating returns a rating with all three axes set to v.
func UniformRating(v int) TrustRating {
	return TrustRating{Confidentiality: v, Integrity: v, Availability: v}
}

// TrustZone is a boundary where the trust level changes, e.g. "Public Internet".
type TrustZone struct {
	Entity     `yaml:",inline"`
	Risk       TrustRating `json:"risk" yaml:"risk"`
	Attributes Attributes  `json:"attributes" yaml:"attributes"`
}

// Component is an application asset, service or data store.
type Component struct {
	Entity `yaml:",inline"`
	// Type is free-form; "database", "microservice" etc. are conventions.
	Type string `json:"type" yaml:"type"`
	// Parent is the id of the trust zone or component containing this one.
	Parent     string     `json:"parent" yaml:"parent"`
	Attributes Attributes `json:"attributes" yaml:"attributes"`
}

// DataFlow is a directed edge between two components. Endpoints are not
// checked for existence.
type DataFlow struct {
	Entity        `yaml:",inline"`
	Source        string     `json:"source" yaml:"source"`
	Destination   string     `json:"destination" yaml:"destination"`
	Bidirectional bool       `json:"bidirectional" yaml:"bidirectional"`
	Attributes    Attributes `json:"attributes" yaml:"attributes"`
}

// ProjectInfo is the free-form project metadata block.
type ProjectInfo struct {
	ID   string `json:"id" yaml:"id" validate:"required"`
	Name string `json:"name" yaml:"name" validate:"required"`
}

// Project is the root aggregate of a threat model. It is treated as
// immutable once built.
type Project struct {
	OTMVersion string      `json:"otmVersion" yaml:"otmVersion"`
	Project    ProjectInfo `json:"project" yaml:"project"`
	TrustZones []TrustZone `json:"trustZones" yaml:"trustZones"`
	Components []Component `json:"components" yaml:"components"`
	DataFlows  []DataFlow  `json:"dataflows" yaml:"dataflows"`
}

// -- Validation --

// Validate checks the trust zone's own structure.
func (tz *TrustZone) Validate() error {
	return validateEntity("trustZone", tz.ID, tz)
}

// Validate checks the component's own structure. Parent references are not
// resolved here.
func (c *Component) Validate() error {
	return validateEntity("component", c.ID, c)
}

// Validate checks the data flow's own structure.
func (df *DataFlow) Validate() error {
	return validateEntity("dataflow", df.ID, df)
}

// Validate checks that the metadata carries an id and a name.
func (p *ProjectInfo) Validate() error {
	return validateEntity("project", p.ID, p)
}

// Validate checks every entity of the project plus identifier uniqueness
// inside each collection. Parent and endpoint references are deliberately
// left unresolved.
func (p *Project) Validate() error {
	seen := make(map[string]struct{}, len(p.TrustZones))
	for i := range p.TrustZones {
		tz := &p.TrustZones[i]
		if err := tz.Validate(); err != nil {
			return err
		}
		if err := checkUnique(seen, "trustZone", tz.ID); err != nil {
			return err
		}
	}
	seen = make(map[string]struct{}, len(p.Components))
	for i := range p.Components {
		c := &p.Components[i]
		if err := c.Validate(); err != nil {
			return err
		}
		if err := checkUnique(seen, "component", c.ID); err != nil {
			return err
		}
	}
	seen = make(map[string]struct{}, len(p.DataFlows))
	for i := range p.DataFlows {
		df := &p.DataFlows[i]
		if err := df.Validate(); err != nil {
			return err
		}
		if err := checkUnique(seen, "dataflow", df.ID); err != nil {
			return err
		}
	}
	return nil
}

func checkUnique(seen map[string]struct{}, kind, id string) error {
	if _, dup := seen[id]; dup {
		return &ValidationError{Kind: kind, ID: id, Field: "id", Reason: "duplicate identifier"}
	}
	seen[id] = struct{}{}
	return nil
}

// validateEntity runs the struct tags and converts the first failure into a
// ValidationError.
func validateEntity(kind, id string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Kind: kind, ID: id, Reason: err.Error()}
	}
	fe := verrs[0]
	return &ValidationError{
		Kind:   kind,
		ID:     id,
		Field:  fe.Field(),
		Reason: describeTag(fe),
	}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "min":
		return fmt.Sprintf("must be >= %s, got %v", fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("must be <= %s, got %v", fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// -- Field access for declarative rules --

// GraphEntity is implemented by every entity a declarative rule can target.
// Field returns the named field as a Value; unknown names report false.
type GraphEntity interface {
	EntityID() string
	EntityName() string
	Field(name string) (Value, bool)
}

func (e *Entity) EntityID() string   { return e.ID }
func (e *Entity) EntityName() string { return e.Name }

func (e *Entity) field(name string) (Value, bool) {
	switch name {
	case "id":
		return StringValue(e.ID), true
	case "name":
		return StringValue(e.Name), true
	case "description":
		if e.Description == "" {
			return Null(), true
		}
		return StringValue(e.Description), true
	case "tags":
		return StringsValue(e.Tags), true
	}
	return Null(), false
}

// Value converts the rating into a map value keyed by axis name.
func (r TrustRating) Value() Value {
	return MapValue(map[string]Value{
		"confidentiality": IntValue(r.Confidentiality),
		"integrity":       IntValue(r.Integrity),
		"availability":    IntValue(r.Availability),
	})
}

// Value converts the attribute map into a map value.
func (a Attributes) Value() Value {
	m := make(map[string]Value, len(a))
	for k, v := range a {
		m[k] = v
	}
	return MapValue(m)
}

// Field implements GraphEntity.
func (tz *TrustZone) Field(name string) (Value, bool) {
	switch name {
	case "type":
		return StringValue(TrustZoneType), true
	case "risk":
		return tz.Risk.Value(), true
	case "attributes":
		return tz.Attributes.Value(), true
	}
	return tz.Entity.field(name)
}

// Field implements GraphEntity.
func (c *Component) Field(name string) (Value, bool) {
	switch name {
	case "type":
		return StringValue(c.Type), true
	case "parent":
		return StringValue(c.Parent), true
	case "attributes":
		return c.Attributes.Value(), true
	}
	return c.Entity.field(name)
}

// Field implements GraphEntity.
func (df *DataFlow) Field(name string) (Value, bool) {
	switch name {
	case "source":
		return StringValue(df.Source), true
	case "destination":
		return StringValue(df.Destination), true
	case "bidirectional":
		return BoolValue(df.Bidirectional), true
	case "attributes":
		return df.Attributes.Value(), true
	}
	return df.Entity.field(name)
}
