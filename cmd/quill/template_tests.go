package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/neurodesk/quill"
	"github.com/neurodesk/quill/pkg/compiler"
	"github.com/neurodesk/quill/pkg/filters"
	"github.com/neurodesk/quill/pkg/manifest"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var templateTestsCmd = cobra.Command{
	Use:   "test CASES [selector ...]",
	Short: "Render template test cases and compare against expected output",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		suite, err := loadTemplateTestSuite(args[0])
		if err != nil {
			return err
		}
		selected := filterTemplateCases(suite.Cases, args[1:])
		if len(selected) == 0 {
			return fmt.Errorf("no template tests matched the provided selectors")
		}

		var set *manifest.Set
		if suite.Manifest != "" {
			set, err = buildSet(cmd.Context(), suite.Manifest)
			if err != nil {
				return err
			}
		}

		failed := runTemplateCases(cmd.OutOrStdout(), set, selected)
		if failed > 0 {
			return fmt.Errorf("%d of %d template tests failed", failed, len(selected))
		}
		return nil
	},
}

type templateTestSuite struct {
	// Manifest, relative to the suite file, provides named templates.
	Manifest string             `yaml:"manifest,omitempty"`
	Cases    []templateTestCase `yaml:"cases"`
}

type templateTestCase struct {
	Name string `yaml:"name"`
	// Exactly one of Template (a manifest entry) and Source is set.
	Template string `yaml:"template,omitempty"`
	Source   string `yaml:"source,omitempty"`
	Data     any    `yaml:"data,omitempty"`
	Expect   string `yaml:"expect"`
	// Error, when set, must appear in the render or compile error instead.
	Error string `yaml:"error,omitempty"`
}

func (c templateTestCase) Identifier() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Template != "" {
		return c.Template
	}
	return "inline"
}

func loadTemplateTestSuite(path string) (*templateTestSuite, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	suite, err := decodeTemplateTestSuite(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if suite.Manifest != "" && !filepath.IsAbs(suite.Manifest) {
		suite.Manifest = filepath.Join(filepath.Dir(path), suite.Manifest)
	}
	return suite, nil
}

func decodeTemplateTestSuite(r io.Reader) (*templateTestSuite, error) {
	var suite templateTestSuite
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&suite); err != nil {
		return nil, fmt.Errorf("decoding test definitions: %w", err)
	}
	for i, c := range suite.Cases {
		if (c.Template == "") == (c.Source == "") {
			return nil, fmt.Errorf("case %d (%s): set exactly one of template and source", i, c.Identifier())
		}
		if c.Template != "" && suite.Manifest == "" {
			return nil, fmt.Errorf("case %d (%s): template requires a manifest", i, c.Identifier())
		}
		suite.Cases[i].Data = normalize(c.Data)
	}
	return &suite, nil
}

// filterTemplateCases keeps cases whose name or template matches one of the
// comma separated selectors, case-insensitively.
func filterTemplateCases(cases []templateTestCase, selectors []string) []templateTestCase {
	set := normaliseTestFilters(selectors)
	if len(set) == 0 {
		return cases
	}
	var filtered []templateTestCase
	for _, c := range cases {
		if _, ok := set[strings.ToLower(c.Identifier())]; ok {
			filtered = append(filtered, c)
			continue
		}
		if _, ok := set[strings.ToLower(c.Template)]; ok && c.Template != "" {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func normaliseTestFilters(filters []string) map[string]struct{} {
	if len(filters) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(filters))
	for _, f := range filters {
		for _, part := range strings.Split(f, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out[strings.ToLower(part)] = struct{}{}
		}
	}
	return out
}

// runTemplateCases prints one PASS or FAIL line per case and returns the
// number of failures.
func runTemplateCases(w io.Writer, set *manifest.Set, cases []templateTestCase) int {
	failed := 0
	for _, c := range cases {
		got, err := renderCase(set, c)
		var problem string
		switch {
		case c.Error != "" && err == nil:
			problem = fmt.Sprintf("expected error containing %q, got output %q", c.Error, got)
		case c.Error != "" && !strings.Contains(err.Error(), c.Error):
			problem = fmt.Sprintf("expected error containing %q, got %v", c.Error, err)
		case c.Error == "" && err != nil:
			problem = err.Error()
		case c.Error == "" && got != c.Expect:
			problem = fmt.Sprintf("got %q, want %q", got, c.Expect)
		}
		if problem != "" {
			failed++
			fmt.Fprintf(w, "FAIL %s: %s\n", c.Identifier(), problem)
			continue
		}
		fmt.Fprintf(w, "PASS %s\n", c.Identifier())
	}
	return failed
}

func renderCase(set *manifest.Set, c templateTestCase) (string, error) {
	if c.Template != "" {
		return set.Render(c.Template, c.Data)
	}
	tmpl, err := quill.New(c.Source, compiler.WithFilters(filters.Default()), compiler.WithMaxDepth(cfg.MaxPartialDepth))
	if err != nil {
		return "", err
	}
	return tmpl.Render(c.Data)
}

func init() {
	rootCmd.AddCommand(&templateTestsCmd)
}
