// Package manifest describes a set of templates in YAML and compiles them
// into artifacts that can include each other as partials.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/neurodesk/quill"
	"github.com/neurodesk/quill/pkg/compiler"
	"github.com/neurodesk/quill/pkg/filters"
	"github.com/neurodesk/quill/pkg/runtime"
	"github.com/neurodesk/quill/pkg/starlark"
	v "github.com/neurodesk/quill/pkg/validator"

	"gopkg.in/yaml.v3"
)

var ErrUnknownTemplate = errors.New("unknown template")

type Filters struct {
	// Builtin includes the standard filter library.
	Builtin bool `yaml:"builtin,omitempty"`
	// Script is a Starlark file whose functions become filters, relative to
	// the manifest.
	Script string `yaml:"script,omitempty"`
	// Globals are predeclared for the script.
	Globals map[string]any `yaml:"globals,omitempty"`
}

// Template is one entry of a manifest. Exactly one of File, Source and URL
// is set.
type Template struct {
	File   string         `yaml:"file,omitempty"`
	Source string         `yaml:"source,omitempty"`
	URL    string         `yaml:"url,omitempty"`
	Data   map[string]any `yaml:"data,omitempty"`
}

func (t Template) Validate(name string) error {
	desc := fmt.Sprintf("template %q", name)
	return v.All(
		v.NotEmpty(name, "template name"),
		v.HasNoTags(name, "template name"),
		v.ExactlyOne(map[string]bool{
			"file":   t.File != "",
			"source": t.Source != "",
			"url":    t.URL != "",
		}, desc),
		v.HasNoTags(t.File, desc+" file"),
		v.HasNoTags(t.URL, desc+" url"),
	)
}

type Manifest struct {
	Filters   Filters             `yaml:"filters,omitempty"`
	MaxDepth  int                 `yaml:"max_depth,omitempty"`
	Templates map[string]Template `yaml:"templates"`

	// Dir resolves relative file and script paths.
	Dir string `yaml:"-"`
}

func (m *Manifest) Validate() error {
	if len(m.Templates) == 0 {
		return errors.New("manifest must declare at least one template")
	}
	if m.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative, got %d", m.MaxDepth)
	}
	return v.All(
		v.HasNoTags(m.Filters.Script, "filters script"),
		v.MapDict(m.Templates, func(name string, t Template) error {
			return t.Validate(name)
		}, "templates"),
	)
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	m, err := Decode(f, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Decode reads a manifest from r. Unknown fields are rejected.
func Decode(r io.Reader, dir string) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	m.Dir = dir
	return &m, nil
}

// Fetcher retrieves remote template sources.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

func (m *Manifest) path(p string) string {
	if filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// LoadFilters assembles the filters the manifest asks for. data holds the
// script's constants, shared by every template of the set.
func (m *Manifest) LoadFilters() (fs map[string]runtime.Filter, data map[string]any, err error) {
	fs = map[string]runtime.Filter{}
	if m.Filters.Builtin {
		for name, fn := range filters.Default() {
			fs[name] = fn
		}
	}
	if m.Filters.Script != "" {
		script, err := starlark.LoadScript(m.path(m.Filters.Script), nil, m.Filters.Globals)
		if err != nil {
			return nil, nil, err
		}
		for name, fn := range script.Filters {
			fs[name] = fn
		}
		data = script.Data
	}
	return fs, data, nil
}

// defaultData layers a template's own data over the set-wide data.
func defaultData(shared, own map[string]any) map[string]any {
	if len(shared) == 0 {
		return own
	}
	out := make(map[string]any, len(shared)+len(own))
	for k, v := range shared {
		out[k] = v
	}
	for k, v := range own {
		out[k] = v
	}
	return out
}

func (m *Manifest) source(ctx context.Context, name string, t Template, fetcher Fetcher) (string, error) {
	switch {
	case t.Source != "":
		return t.Source, nil
	case t.File != "":
		b, err := os.ReadFile(m.path(t.File))
		if err != nil {
			return "", fmt.Errorf("template %s: %w", name, err)
		}
		return string(b), nil
	default:
		if fetcher == nil {
			return "", fmt.Errorf("template %s: no fetcher for %s", name, t.URL)
		}
		b, err := fetcher.Fetch(ctx, t.URL)
		if err != nil {
			return "", fmt.Errorf("template %s: %w", name, err)
		}
		return string(b), nil
	}
}

// Build compiles every template, registers the filters and every template
// of the set as a partial of every other, then seals the artifacts. fetcher
// may be nil when no template uses a URL.
func (m *Manifest) Build(ctx context.Context, fetcher Fetcher, opts ...compiler.Option) (*Set, error) {
	fs, shared, err := m.LoadFilters()
	if err != nil {
		return nil, err
	}
	set := &Set{templates: make(map[string]*compiler.Template, len(m.Templates))}
	for _, name := range sortedNames(m.Templates) {
		t := m.Templates[name]
		src, err := m.source(ctx, name, t, fetcher)
		if err != nil {
			return nil, err
		}
		topts := []compiler.Option{compiler.WithFilters(fs)}
		if m.MaxDepth > 0 {
			topts = append(topts, compiler.WithMaxDepth(m.MaxDepth))
		}
		if data := defaultData(shared, t.Data); data != nil {
			topts = append(topts, compiler.WithDefaultData(data))
		}
		tmpl, err := quill.New(src, append(topts, opts...)...)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		set.templates[name] = tmpl
	}
	for _, tmpl := range set.templates {
		for name, partial := range set.templates {
			if err := tmpl.RegisterPartial(name, partial); err != nil {
				return nil, err
			}
		}
		tmpl.Seal()
	}
	slog.Debug("built template set", "templates", len(set.templates), "filters", len(fs))
	return set, nil
}

// Set is a compiled, sealed group of templates.
type Set struct {
	templates map[string]*compiler.Template
}

// Get returns the named template.
func (s *Set) Get(name string) (*compiler.Template, bool) {
	t, ok := s.templates[name]
	return t, ok
}

// Names returns the template names, sorted.
func (s *Set) Names() []string {
	return sortedNames(s.templates)
}

// Render renders the named template. A nil data uses the template's data
// from the manifest.
func (s *Set) Render(name string, data any) (string, error) {
	t, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownTemplate, name)
	}
	return t.Render(data)
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
