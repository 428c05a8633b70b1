package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/neurodesk/quill/pkg/compiler"
)

type fakeFetcher map[string]string

func (f fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	body, ok := f[url]
	if !ok {
		return nil, errors.New("not found: " + url)
	}
	return []byte(body), nil
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

const manifestYAML = `
filters:
  builtin: true
  script: filters.star
templates:
  page:
    file: page.tpl
    data:
      title: home
      user: {name: ada}
  header:
    source: "<h1>{{ title | upper }}</h1>"
    data: {title: untitled}
  footer:
    url: https://example.com/footer.tpl
`

func TestLoadAndBuild(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "quill.yaml", manifestYAML)
	writeFile(t, dir, "page.tpl", "{% partial header . %}{{ user.name | exclaim }}{% partial footer %}")
	writeFile(t, dir, "filters.star", "def exclaim(v):\n    return v + \"!\"\n")

	m, err := Load(filepath.Join(dir, "quill.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	set, err := m.Build(context.Background(), fakeFetcher{
		"https://example.com/footer.tpl": "<footer/>",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := strings.Join(set.Names(), ","); got != "footer,header,page" {
		t.Fatalf("Names = %s", got)
	}

	out, err := set.Render("page", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if want := "<h1>HOME</h1>ada!<footer/>"; out != want {
		t.Fatalf("got %q, want %q", out, want)
	}

	out, err = set.Render("header", nil)
	if err != nil {
		t.Fatalf("Render header: %v", err)
	}
	if out != "<h1>UNTITLED</h1>" {
		t.Fatalf("header = %q", out)
	}

	tmpl, ok := set.Get("page")
	if !ok {
		t.Fatalf("Get(page) failed")
	}
	if err := tmpl.RegisterFilter("late", nil); err == nil {
		t.Fatalf("expected registration on a built set to fail")
	}
	if err := tmpl.RegisterPartial("late", tmpl); !errors.Is(err, compiler.ErrSealed) {
		t.Fatalf("got %v, want ErrSealed", err)
	}

	if _, err := set.Render("missing", nil); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("got %v, want ErrUnknownTemplate", err)
	}
}

func TestScriptGlobalsAndConstants(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "quill.yaml", `
filters:
  script: site.star
  globals:
    env: prod
templates:
  banner:
    source: "{{ site }} [{{ env }}] {{ page }}"
    data: {page: home}
  override:
    source: "{{ site }}"
    data: {site: custom}
`)
	writeFile(t, dir, "site.star", "site = \"quill-\" + env\n\ndef noop(v):\n    return v\n")

	m, err := Load(filepath.Join(dir, "quill.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	set, err := m.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if out, err := set.Render("banner", nil); err != nil || out != "quill-prod [prod] home" {
		t.Fatalf("banner = %q, %v", out, err)
	}
	if out, err := set.Render("override", nil); err != nil || out != "custom" {
		t.Fatalf("override = %q, %v", out, err)
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "templates:\n  a: {source: x}\ncolour: red\n", "colour"},
		{"no templates", "filters: {builtin: true}\n", "at least one template"},
		{"two sources", "templates:\n  a: {source: x, file: a.tpl}\n", "only one is allowed"},
		{"no source", "templates:\n  a: {data: {x: 1}}\n", "requires one of"},
		{"tag in name", "templates:\n  \"{{a}}\": {source: x}\n", "template tags"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tc.yaml), "")
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("got %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestBuildErrors(t *testing.T) {
	m, err := Decode(strings.NewReader("templates:\n  remote: {url: https://example.com/x}\n"), "")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, err := m.Build(context.Background(), nil); err == nil {
		t.Fatalf("expected error without a fetcher")
	}

	m, err = Decode(strings.NewReader("templates:\n  bad: {source: \"{{ unterminated\"}\n"), "")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, err := m.Build(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "template bad") {
		t.Fatalf("got %v", err)
	}
}

func TestRecursivePartialsHitDepthLimit(t *testing.T) {
	m, err := Decode(strings.NewReader("max_depth: 3\ntemplates:\n  loop: {source: \"x{% partial loop %}\"}\n"), "")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	set, err := m.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := set.Render("loop", nil); !errors.Is(err, compiler.ErrMaxDepth) {
		t.Fatalf("got %v, want ErrMaxDepth", err)
	}
}
