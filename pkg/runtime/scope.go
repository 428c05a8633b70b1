package runtime

// Filter transforms a property value. args are the filter's positional
// arguments, already resolved.
type Filter func(value any, args ...any) (any, error)

// Scope is the data context a template body renders against. Each loop
// iteration gets a child scope whose data is the current element and whose
// vars hold the value and key aliases. Lookups fall back to enclosing scopes.
type Scope struct {
	data   any
	vars   map[string]any
	parent *Scope
}

// NewScope returns a root scope with no bindings besides data.
func NewScope(data any) *Scope {
	return &Scope{data: data}
}

// Child returns a scope nested in s whose data is data and whose bindings
// are vars. vars is owned by the new scope.
func (s *Scope) Child(data any, vars map[string]any) *Scope {
	return &Scope{data: data, vars: vars, parent: s}
}

// Data returns the value "." refers to.
func (s *Scope) Data() any { return s.data }

// Resolve looks up a split identifier path. The first segment is searched in
// each scope's bindings and then its data, innermost first; "." is the
// innermost data itself. Remaining segments are plain lookups.
func (s *Scope) Resolve(path []string) (any, bool) {
	if len(path) == 0 {
		return s.data, true
	}
	head, rest := path[0], path[1:]
	var cur any
	found := false
	if head == "." {
		cur, found = s.data, true
	} else {
		for sc := s; sc != nil; sc = sc.parent {
			if v, ok := sc.vars[head]; ok {
				cur, found = v, true
				break
			}
			if v, ok := Lookup(sc.data, head); ok {
				cur, found = v, true
				break
			}
		}
	}
	if !found {
		return nil, false
	}
	for _, key := range rest {
		v, ok := Lookup(cur, key)
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
