package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/tmscan/api/schemas"
)

func component(id, name, typ string, attrs schemas.Attributes, tags ...string) schemas.Component {
	if tags == nil {
		tags = []string{}
	}
	return schemas.Component{
		Entity:     schemas.Entity{ID: id, Name: name, Tags: tags},
		Type:       typ,
		Parent:     "default-trust-zone",
		Attributes: attrs,
	}
}

func zone(id, name string, c, i, a int) schemas.TrustZone {
	return schemas.TrustZone{
		Entity: schemas.Entity{ID: id, Name: name, Tags: []string{}},
		Risk:   schemas.TrustRating{Confidentiality: c, Integrity: i, Availability: a},
	}
}

func TestDefaultCatalog_Order(t *testing.T) {
	cat := DefaultCatalog(zaptest.NewLogger(t))
	var ids []string
	for _, r := range cat.Rules() {
		ids = append(ids, r.ID())
	}
	assert.Equal(t, []string{"RULE-001", "RULE-002", "RULE-003"}, ids)

	r, ok := cat.Lookup("RULE-002")
	require.True(t, ok)
	assert.Equal(t, "High Risk Public Zone", r.Title())
	assert.Equal(t, schemas.SeverityMedium, r.Severity())
}

func TestConfiguredCatalog(t *testing.T) {
	obsCore, logs := observer.New(zap.WarnLevel)
	cat := ConfiguredCatalog(zap.New(obsCore), "RULE-002", "RULE-999")

	var ids []string
	for _, r := range cat.Rules() {
		ids = append(ids, r.ID())
	}
	assert.Equal(t, []string{"RULE-001", "RULE-003"}, ids)

	warnings := logs.FilterField(zap.String("rule_id", "RULE-999")).All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "Unknown rule in analysis.disabled_rules", warnings[0].Message)
	assert.Equal(t, 1, logs.Len(), "known ids are not reported")

	assert.Equal(t, 3, ConfiguredCatalog(nil).Len())
}

func TestUnencryptedStorageRule(t *testing.T) {
	tests := []struct {
		name    string
		comp    schemas.Component
		flagged bool
	}{
		{"database without attributes", component("db", "DB", "database", nil), true},
		{"bool true", component("db", "DB", "database", schemas.Attributes{"encrypted": schemas.BoolValue(true)}), false},
		{"string TRUE", component("db", "DB", "s3", schemas.Attributes{"encrypted": schemas.StringValue("TRUE")}), false},
		{"upper-case key", component("db", "DB", "storage", schemas.Attributes{"Encrypted": schemas.StringValue("true")}), false},
		{"bool false", component("db", "DB", "database", schemas.Attributes{"encrypted": schemas.BoolValue(false)}), true},
		{"yes is not true", component("db", "DB", "database", schemas.Attributes{"encrypted": schemas.StringValue("yes")}), true},
		{"number one is not true", component("db", "DB", "database", schemas.Attributes{"encrypted": schemas.IntValue(1)}), true},
		{"non storage type", component("web", "Web", "web-service", nil), false},
		{"type match is case sensitive", component("db", "DB", "Database", nil), false},
	}
	rule := NewUnencryptedStorageRule(zaptest.NewLogger(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &schemas.Project{Components: []schemas.Component{tt.comp}}
			threats, err := rule.Check(context.Background(), p)
			require.NoError(t, err)
			if !tt.flagged {
				assert.Empty(t, threats)
				return
			}
			require.Len(t, threats, 1)
			th := threats[0]
			assert.Equal(t, "RULE-001", th.RuleID)
			assert.Equal(t, "Unencrypted Data Storage", th.Title)
			assert.Equal(t, schemas.SeverityHigh, th.Severity)
			assert.Equal(t, schemas.StatusOpen, th.Status)
			assert.Equal(t, tt.comp.ID, th.ComponentID)
			assert.Equal(t, "Component 'DB' ("+tt.comp.Type+") does not appear to have encryption enabled.", th.Description)
			assert.Equal(t, "Enable server-side encryption for this data store.", th.Mitigation)
		})
	}
}

func TestPublicZoneRule(t *testing.T) {
	p := &schemas.Project{TrustZones: []schemas.TrustZone{
		zone("internet", "Internet", 5, 50, 50),
		zone("low-integrity", "Partner", 50, 19, 50),
		zone("edge", "Edge", 20, 20, 0),
		zone("default-trust-zone", "Default Zone", 0, 0, 0),
	}}
	threats, err := NewPublicZoneRule(zaptest.NewLogger(t)).Check(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, threats, 3)
	assert.Equal(t, "internet", threats[0].ComponentID)
	assert.Equal(t, "low-integrity", threats[1].ComponentID)
	assert.Equal(t, "default-trust-zone", threats[2].ComponentID)
	assert.Equal(t, "Trust Zone 'Internet' has very low trust ratings. Ensure strict boundaries.", threats[0].Description)
	assert.Equal(t, schemas.SeverityMedium, threats[0].Severity)
}

func TestMissingOwnerRule(t *testing.T) {
	p := &schemas.Project{Components: []schemas.Component{
		component("a", "Owned", "web", nil, "tier:1", "owner:core"),
		component("b", "Orphan", "web", nil),
		component("c", "Near Miss", "web", nil, "Owner:core", "team-owner:x"),
	}}
	threats, err := NewMissingOwnerRule(zaptest.NewLogger(t)).Check(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, threats, 2)
	assert.Equal(t, "b", threats[0].ComponentID)
	assert.Equal(t, "Component 'Orphan' is missing an 'owner:...' tag.", threats[0].Description)
	assert.Equal(t, "Add an 'owner:team-name' tag to facilitate incident response.", threats[0].Mitigation)
	assert.Equal(t, "c", threats[1].ComponentID)
	assert.Equal(t, schemas.SeverityLow, threats[1].Severity)
}

func TestRules_HonourCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &schemas.Project{
		Components: []schemas.Component{component("db", "DB", "database", nil)},
		TrustZones: []schemas.TrustZone{zone("z", "Z", 0, 0, 0)},
	}
	for _, r := range DefaultCatalog(nil).Rules() {
		_, err := r.Check(ctx, p)
		assert.ErrorIs(t, err, context.Canceled, r.ID())
	}
}
