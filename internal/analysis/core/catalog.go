package core

// Catalog is an ordered, immutable set of rules. Order is preserved in every
// report, so it must not be shuffled once built.
type Catalog struct {
	rules []Rule
}

// NewCatalog copies rules into a new catalog.
func NewCatalog(rules ...Rule) Catalog {
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return Catalog{rules: cp}
}

// Rules returns a copy of the rules in declared order.
func (c Catalog) Rules() []Rule {
	cp := make([]Rule, len(c.rules))
	copy(cp, c.rules)
	return cp
}

// Len returns the number of rules.
func (c Catalog) Len() int { return len(c.rules) }

// Lookup finds a rule by id.
func (c Catalog) Lookup(id string) (Rule, bool) {
	for _, r := range c.rules {
		if r.ID() == id {
			return r, true
		}
	}
	return nil, false
}

// Without returns a catalog minus the given rule ids.
func (c Catalog) Without(ids ...string) Catalog {
	if len(ids) == 0 {
		return c
	}
	skip := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		skip[id] = struct{}{}
	}
	kept := make([]Rule, 0, len(c.rules))
	for _, r := range c.rules {
		if _, ok := skip[r.ID()]; !ok {
			kept = append(kept, r)
		}
	}
	return Catalog{rules: kept}
}
