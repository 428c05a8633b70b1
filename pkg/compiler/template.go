package compiler

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/neurodesk/quill/pkg/runtime"
)

// Template is a compiled template. It is safe for concurrent renders;
// registrations take a write lock and fail once the template is sealed.
type Template struct {
	body        op
	helpers     Helpers
	maxDepth    int
	defaultData any

	mu       sync.RWMutex
	sealed   bool
	filters  map[string]runtime.Filter
	partials map[string]*Template
}

// RegisterPartial makes p available to {% partial name %} tags.
func (t *Template) RegisterPartial(name string, p *Template) error {
	if name == "" {
		return fmt.Errorf("register partial: empty name")
	}
	if p == nil {
		return fmt.Errorf("register partial %s: nil template", name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return fmt.Errorf("register partial %s: %w", name, ErrSealed)
	}
	t.partials[name] = p
	return nil
}

// RegisterFilter makes fn available as a property filter.
func (t *Template) RegisterFilter(name string, fn runtime.Filter) error {
	if name == "" {
		return fmt.Errorf("register filter: empty name")
	}
	if fn == nil {
		return fmt.Errorf("register filter %s: nil function", name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return fmt.Errorf("register filter %s: %w", name, ErrSealed)
	}
	t.filters[name] = fn
	return nil
}

// Seal rejects any further registration.
func (t *Template) Seal() {
	t.mu.Lock()
	t.sealed = true
	t.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (t *Template) Sealed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sealed
}

// Helpers reports the runtime helpers the template uses.
func (t *Template) Helpers() Helpers { return t.helpers }

// DefaultData returns the data bound with WithDefaultData.
func (t *Template) DefaultData() any { return t.defaultData }

// Filters returns the registered filter names, sorted.
func (t *Template) Filters() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.filters)
}

// Partials returns the registered partial names, sorted.
func (t *Template) Partials() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.partials)
}

// Render renders the template against data. A nil data uses the default
// data.
func (t *Template) Render(data any) (string, error) {
	if data == nil {
		data = t.defaultData
	}
	var b strings.Builder
	if err := t.render(&b, data, 0); err != nil {
		return "", err
	}
	return b.String(), nil
}

// RenderTo renders into w. Nothing is written when rendering fails.
func (t *Template) RenderTo(w io.Writer, data any) error {
	out, err := t.Render(data)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// render executes the template against data as given; callers decide
// whether the default data applies.
func (t *Template) render(w *strings.Builder, data any, depth int) error {
	if depth > t.maxDepth {
		return fmt.Errorf("%w (%d)", ErrMaxDepth, t.maxDepth)
	}
	st := &renderState{tmpl: t, depth: depth}
	return t.body.exec(st, runtime.NewScope(data), w)
}

func (t *Template) lookupFilter(name string) (runtime.Filter, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if fn, ok := t.filters[name]; ok {
		return fn, nil
	}
	return nil, unknownError(ErrUnknownFilter, name, sortedKeys(t.filters))
}

func (t *Template) lookupPartial(name string) (*Template, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.partials[name]; ok {
		return p, nil
	}
	return nil, unknownError(ErrUnknownPartial, name, sortedKeys(t.partials))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
