package manifest

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/goliatone/go-staging"
	"github.com/hashicorp/hcl/v2/hclparse"
)

const sample = `
region = "eu"
limits = { daily = 10 }

dependency "answer" {
  code      = "export default 42"
  validator = "module === expected"
  expected  = 42
}

dependency "codec" {
  uri        = data_uri("export const encode = 1\nexport default 2")
  exports    = ["encode", "codec"]
  default_as = "codec"
  optional   = true
}

dependency "fallback" {
  package = "missing-package"
  source "code" {
    value = "export default 'fallback'"
  }
}
`

func TestParseManifest(t *testing.T) {
	m, err := Parse([]byte(sample), "sample.hcl")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := m.Names(); !slices.Equal(got, []string{"answer", "codec", "fallback"}) {
		t.Fatalf("unexpected names %v", got)
	}
	if m.Values["region"] != "eu" {
		t.Fatalf("expected region value, got %v", m.Values)
	}
	limits, ok := m.Values["limits"].(map[string]any)
	if !ok || limits["daily"] != int64(10) {
		t.Fatalf("expected nested limits, got %#v", m.Values["limits"])
	}

	answer := m.Dependencies[0]
	if src, _ := answer.Validator.Source(); src != "module === expected" {
		t.Fatalf("unexpected validator %q", src)
	}
	if answer.Extra["expected"] != int64(42) {
		t.Fatalf("expected extra attribute, got %v", answer.Extra)
	}

	codec := m.Dependencies[1]
	if !strings.HasPrefix(codec.URI, "data:text/javascript") || !codec.Optional || codec.DefaultAs != "codec" {
		t.Fatalf("unexpected codec descriptor %+v", codec)
	}

	fallback := m.Dependencies[2]
	if len(fallback.Sources) != 1 || fallback.Sources[0].Kind != staging.SourceCode {
		t.Fatalf("unexpected sources %+v", fallback.Sources)
	}
}

func TestApplyAndInstall(t *testing.T) {
	m, err := Parse([]byte(sample), "sample.hcl")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	stage := staging.NewRoot()
	if _, err := m.Apply(stage); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if v, err := stage.Value("region"); err != nil || v != "eu" {
		t.Fatalf("expected stage value, got %v %v", v, err)
	}

	report, err := stage.InstallWith(context.Background(), false)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if len(report.Installed) != 3 {
		t.Fatalf("expected three installs, got %+v", report)
	}
	if v, _ := stage.Execute("fallback"); v != "fallback" {
		t.Fatalf("expected fallback source, got %#v", v)
	}
	codec, _ := stage.Execute("codec")
	if exports, ok := codec.(map[string]any); !ok || exports["codec"] != int64(2) {
		t.Fatalf("unexpected codec module %#v", codec)
	}

	validated := staging.NewRoot()
	m.Apply(validated)
	dep, err := validated.InstallDependency(context.Background(), "answer", true)
	if err != nil || !dep.Valid() {
		t.Fatalf("expected validated install, got %v", err)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{name: "syntax", src: `dependency "x" {`, want: "failed to parse"},
		{name: "duplicate", src: "dependency \"x\" {}\ndependency \"x\" {}", want: "declared twice"},
		{name: "bad source kind", src: "dependency \"x\" {\n source \"func\" { value = \"f\" }\n}", want: "unsupported source kind"},
		{name: "bad attribute type", src: `dependency "x" { exports = "a" }`, want: "failed to decode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.src), "bad.hcl")
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseNestedSourceBlock(t *testing.T) {
	src := "dependency \"x\" {\n  tier = \"gold\"\n  source \"code\" {\n    value = \"export default 1\"\n  }\n}\n"
	m, err := Parse([]byte(src), "nested.hcl")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	dep := m.Dependencies[0]
	if len(dep.Sources) != 1 || dep.Sources[0].Kind != staging.SourceCode {
		t.Fatalf("expected one code source, got %+v", dep.Sources)
	}
	if dep.Extra["tier"] != "gold" {
		t.Fatalf("expected extra attribute next to the block, got %v", dep.Extra)
	}
}

func TestAttributesSkipBlocks(t *testing.T) {
	file, diags := hclparse.NewParser().ParseHCL([]byte("tier = \"gold\"\nsource \"code\" {\n  value = \"a\"\n}\n"), "raw.hcl")
	if diags.HasErrors() {
		t.Fatalf("parse: %v", diags)
	}
	values, err := attributes(file.Body)
	if err != nil {
		t.Fatalf("expected blocks to be skipped, got %v", err)
	}
	if len(values) != 1 || values["tier"] != "gold" {
		t.Fatalf("unexpected values %v", values)
	}

	file, _ = hclparse.NewParser().ParseHCL([]byte("tier = missing_fn()\n"), "bad.hcl")
	if _, err := attributes(file.Body); err == nil {
		t.Fatalf("expected attribute errors to survive")
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("a.hcl", "region = \"eu\"\ndependency \"one\" { code = \"export default 1\" }")
	write("nested/b.hcl", "region = \"us\"\ndependency \"two\" { code = \"export default 2\" }")
	write("notes.txt", "ignored")

	m, err := Load(context.Background(), dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := m.Names(); !slices.Equal(got, []string{"one", "two"}) {
		t.Fatalf("unexpected names %v", got)
	}
	if m.Values["region"] != "us" {
		t.Fatalf("later files override values, got %v", m.Values["region"])
	}

	write("z.hcl", "dependency \"one\" { code = \"export default 3\" }")
	if _, err := Load(context.Background(), dir); err == nil || !strings.Contains(err.Error(), "already declared") {
		t.Fatalf("expected duplicate error across files, got %v", err)
	}
}

func TestLoadEmptyDirectory(t *testing.T) {
	m, err := Load(context.Background(), t.TempDir())
	if err != nil || len(m.Dependencies) != 0 {
		t.Fatalf("expected empty manifest, got %+v %v", m, err)
	}
}
