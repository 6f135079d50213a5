package declarative

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/tmscan/api/schemas"
)

func sampleComponent() *schemas.Component {
	return &schemas.Component{
		Entity: schemas.Entity{ID: "db", Name: "Orders", Tags: []string{"owner:core", "pci"}},
		Type:   "database",
		Parent: "vpc",
		Attributes: schemas.Attributes{
			"encrypted": schemas.StringValue("True"),
			"backup": schemas.MapValue(map[string]schemas.Value{
				"enabled": schemas.BoolValue(true),
			}),
			"port": schemas.IntValue(5432),
		},
	}
}

func TestFieldResolver(t *testing.T) {
	var r FieldResolver
	comp := sampleComponent()
	zone := &schemas.TrustZone{
		Entity: schemas.Entity{ID: "z", Name: "Zone"},
		Risk:   schemas.TrustRating{Confidentiality: 5, Integrity: 60, Availability: 70},
	}
	flow := &schemas.DataFlow{Entity: schemas.Entity{ID: "f", Name: "Flow"}, Source: "a", Destination: "b", Bidirectional: true}

	tests := []struct {
		name   string
		entity schemas.GraphEntity
		path   string
		want   schemas.Value
	}{
		{"top level field", comp, "type", schemas.StringValue("database")},
		{"name", comp, "name", schemas.StringValue("Orders")},
		{"parent", comp, "parent", schemas.StringValue("vpc")},
		{"attribute", comp, "attributes.encrypted", schemas.StringValue("True")},
		{"nested attribute", comp, "attributes.backup.enabled", schemas.BoolValue(true)},
		{"number attribute", comp, "attributes.port", schemas.IntValue(5432)},
		{"missing attribute", comp, "attributes.nope", schemas.Null()},
		{"path through scalar", comp, "attributes.port.value", schemas.Null()},
		{"unknown field", comp, "colour", schemas.Null()},
		{"empty description", comp, "description", schemas.Null()},
		{"tags", comp, "tags", schemas.StringsValue([]string{"owner:core", "pci"})},
		{"zone type", zone, "type", schemas.StringValue("trust-zone")},
		{"zone risk axis", zone, "risk.confidentiality", schemas.IntValue(5)},
		{"flow endpoint", flow, "destination", schemas.StringValue("b")},
		{"flow flag", flow, "bidirectional", schemas.BoolValue(true)},
		{"empty path", comp, "", schemas.Null()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(tt.entity, tt.path)
			assert.True(t, tt.want.Equal(got), "want %v (%s), got %v (%s)", tt.want, tt.want.Kind, got, got.Kind)
		})
	}
}
