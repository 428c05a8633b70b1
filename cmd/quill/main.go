package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/neurodesk/quill"
	"github.com/neurodesk/quill/pkg/ast"
	"github.com/neurodesk/quill/pkg/compiler"
	"github.com/neurodesk/quill/pkg/config"
	"github.com/neurodesk/quill/pkg/filters"
	"github.com/neurodesk/quill/pkg/lexer"
	"github.com/neurodesk/quill/pkg/manifest"
	"github.com/neurodesk/quill/pkg/netcache"
	"github.com/neurodesk/quill/pkg/runtime"
	"github.com/neurodesk/quill/pkg/starlark"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configPath string
var verbose bool

var cfg = config.Default()

var rootCmd = cobra.Command{
	Use:           "quill",
	Short:         "Compile and render quill templates",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
		level := cfg.SlogLevel()
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

// renderOptions are the flags shared by render and repl.
type renderOptions struct {
	dataFile  string
	partials  []string
	script    string
	noBuiltin bool
}

func (o *renderOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.dataFile, "data", "", "YAML or JSON file with the render data")
	cmd.Flags().StringArrayVar(&o.partials, "partial", nil, "Register a partial as NAME=FILE (repeatable)")
	cmd.Flags().StringVar(&o.script, "filters", "", "Starlark script whose functions become filters")
	cmd.Flags().BoolVar(&o.noBuiltin, "no-builtin", false, "Do not register the standard filters")
}

// compilerOptions builds the options every template of one invocation shares.
func (o *renderOptions) compilerOptions() ([]compiler.Option, error) {
	opts := []compiler.Option{compiler.WithMaxDepth(cfg.MaxPartialDepth)}
	if !o.noBuiltin {
		opts = append(opts, compiler.WithFilters(filters.Default()))
	}
	if o.script != "" {
		fs, err := starlark.LoadFilters(o.script, nil)
		if err != nil {
			return nil, err
		}
		opts = append(opts, compiler.WithFilters(fs))
	}
	return opts, nil
}

// compile compiles src and registers the --partial templates on it.
func (o *renderOptions) compile(src string) (*quill.Template, error) {
	opts, err := o.compilerOptions()
	if err != nil {
		return nil, err
	}
	tmpl, err := quill.New(src, opts...)
	if err != nil {
		return nil, err
	}
	partials, err := parsePartialFlags(o.partials)
	if err != nil {
		return nil, err
	}
	compiled := make(map[string]*quill.Template, len(partials))
	for name, file := range partials {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("partial %s: %w", name, err)
		}
		p, err := quill.New(string(b), opts...)
		if err != nil {
			return nil, fmt.Errorf("partial %s: %w", name, err)
		}
		compiled[name] = p
	}
	// Partials see each other so they can recurse.
	for name, p := range compiled {
		if err := tmpl.RegisterPartial(name, p); err != nil {
			return nil, err
		}
		for other, q := range compiled {
			if err := p.RegisterPartial(other, q); err != nil {
				return nil, err
			}
		}
	}
	return tmpl, nil
}

var renderFlags renderOptions

var renderCmd = cobra.Command{
	Use:   "render TEMPLATE",
	Short: "Render a template file to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := readSource(args[0])
		if err != nil {
			return err
		}
		tmpl, err := renderFlags.compile(src)
		if err != nil {
			return err
		}
		data, err := loadData(renderFlags.dataFile)
		if err != nil {
			return err
		}
		return tmpl.RenderTo(cmd.OutOrStdout(), data)
	},
}

var tokensCmd = cobra.Command{
	Use:   "tokens TEMPLATE",
	Short: "Print the token stream of a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := readSource(args[0])
		if err != nil {
			return err
		}
		for _, tok := range lexer.Lex(src) {
			fmt.Fprintln(cmd.OutOrStdout(), tok)
		}
		return nil
	},
}

var astCmd = cobra.Command{
	Use:   "ast TEMPLATE",
	Short: "Print the syntax tree of a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := readSource(args[0])
		if err != nil {
			return err
		}
		tree, err := quill.Parse(src)
		if err != nil {
			return err
		}
		if astSummary {
			counts, err := countNodes(tree)
			if err != nil {
				return err
			}
			for _, line := range counts {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), ast.Pretty(tree))
		return nil
	},
}

var astSummary bool

// countNodes returns "Kind count" lines for every node type in tree, sorted
// by kind.
func countNodes(tree *ast.Template) ([]string, error) {
	counts := map[string]int{}
	err := ast.Walk(ast.VisitorFunc(func(n ast.Node) error {
		counts[strings.TrimPrefix(fmt.Sprintf("%T", n), "*ast.")]++
		return nil
	}), tree)
	if err != nil {
		return nil, err
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	lines := make([]string, len(kinds))
	for i, k := range kinds {
		lines[i] = fmt.Sprintf("%s %d", k, counts[k])
	}
	return lines, nil
}

var planCmd = cobra.Command{
	Use:   "plan TEMPLATE",
	Short: "Print the compiled plan of a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := readSource(args[0])
		if err != nil {
			return err
		}
		tmpl, err := quill.New(src)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), tmpl.Plan())
		return nil
	},
}

var checkCmd = cobra.Command{
	Use:   "check MANIFEST",
	Short: "Validate a manifest and compile all of its templates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := buildSet(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, name := range set.Names() {
			t, _ := set.Get(name)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tok\t%s\n", name, strings.Join(t.Helpers().Names(), ","))
		}
		return nil
	},
}

var renderSetData string

var renderSetCmd = cobra.Command{
	Use:   "render-set MANIFEST NAME",
	Short: "Render one template of a manifest",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := buildSet(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		data, err := loadData(renderSetData)
		if err != nil {
			return err
		}
		out, err := set.Render(args[1], data)
		if err != nil {
			return err
		}
		_, err = io.WriteString(cmd.OutOrStdout(), out)
		return err
	},
}

// buildSet loads and compiles a manifest, fetching remote sources through
// the configured cache.
func buildSet(ctx context.Context, path string) (*manifest.Set, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}
	var opts []compiler.Option
	if m.MaxDepth == 0 {
		opts = append(opts, compiler.WithMaxDepth(cfg.MaxPartialDepth))
	}
	return m.Build(ctx, netcache.New(cfg.CacheDir), opts...)
}

// readSource reads a template file; "-" reads stdin.
func readSource(path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading template: %w", err)
	}
	return string(b), nil
}

// loadData decodes a YAML (or JSON) data file. An empty path means no data.
func loadData(path string) (any, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading data: %w", err)
	}
	return decodeData(b)
}

func decodeData(b []byte) (any, error) {
	var data any
	if err := yaml.NewDecoder(bytes.NewReader(b)).Decode(&data); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decoding data: %w", err)
	}
	return normalize(data), nil
}

// normalize converts decoded YAML into the shapes the runtime resolves
// fastest: string-keyed maps and float64 numbers.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[runtime.ToString(k)] = normalize(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	}
	return v
}

// parsePartialFlags splits NAME=FILE pairs. Relative files stay relative to
// the working directory.
func parsePartialFlags(flags []string) (map[string]string, error) {
	out := make(map[string]string, len(flags))
	for _, f := range flags {
		name, file, ok := strings.Cut(f, "=")
		if !ok || name == "" || file == "" {
			return nil, fmt.Errorf("invalid --partial %q, expected NAME=FILE", f)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("duplicate --partial %q", name)
		}
		out[name] = filepath.Clean(file)
	}
	return out, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "quill.config.yaml", "Path to quill configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	renderFlags.register(&renderCmd)
	rootCmd.AddCommand(&renderCmd)

	rootCmd.AddCommand(&tokensCmd)
	astCmd.Flags().BoolVar(&astSummary, "summary", false, "Print node counts per kind instead of the tree")
	rootCmd.AddCommand(&astCmd)
	rootCmd.AddCommand(&planCmd)
	rootCmd.AddCommand(&checkCmd)

	renderSetCmd.Flags().StringVar(&renderSetData, "data", "", "YAML or JSON file with the render data")
	rootCmd.AddCommand(&renderSetCmd)

	replFlags.register(&replCmd)
	rootCmd.AddCommand(&replCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
