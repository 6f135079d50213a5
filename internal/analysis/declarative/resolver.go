package declarative

import (
	"strings"

	"github.com/xkilldash9x/tmscan/api/schemas"
)

// FieldResolver walks dotted field paths over graph entities. The first
// segment names an entity field; every following segment is a map key.
// Resolution never fails: anything that cannot be followed yields null.
type FieldResolver struct{}

// Resolve returns the value at path on entity.
func (FieldResolver) Resolve(entity schemas.GraphEntity, path string) schemas.Value {
	if entity == nil || path == "" {
		return schemas.Null()
	}
	head, rest, _ := strings.Cut(path, ".")
	cur, ok := entity.Field(head)
	if !ok {
		return schemas.Null()
	}
	if rest == "" {
		return cur
	}
	for _, part := range strings.Split(rest, ".") {
		// Get yields null for non-map values and missing keys alike.
		cur = cur.Get(part)
		if cur.IsNull() {
			return cur
		}
	}
	return cur
}
