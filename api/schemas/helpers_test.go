package schemas_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/tmscan/api/schemas"
)

// -- Test Helpers --

// getTestTime provides a fixed, reproducible timestamp for consistent test results.
func getTestTime(t *testing.T) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, "2025-10-26T10:00:00.123456789Z")
	require.NoError(t, err, "Test setup failed: unable to parse fixed timestamp")
	return ts
}

func validZone(id string) schemas.TrustZone {
	return schemas.TrustZone{
		Entity: schemas.Entity{ID: id, Name: "Zone " + id, Tags: []string{}},
		Risk:   schemas.UniformRating(50),
	}
}

func validComponent(id string) schemas.Component {
	return schemas.Component{
		Entity: schemas.Entity{ID: id, Name: "Component " + id, Tags: []string{}},
		Type:   "database",
		Parent: "z",
	}
}
