package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type memoryCache struct {
	mu    sync.Mutex
	items map[string]any
	sets  int
}

func (c *memoryCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.items[key]
	return value, ok
}

func (c *memoryCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = map[string]any{}
	}
	c.items[key] = value
	c.sets++
}

func loadMap(t *testing.T, l *JSLoader, code string) map[string]any {
	t.Helper()
	value, err := l.LoadSource(context.Background(), code)
	if err != nil {
		t.Fatalf("load source: %v", err)
	}
	exports, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected exports map, got %T", value)
	}
	return exports
}

func TestLoadSourceExportForms(t *testing.T) {
	l := New()
	cases := []struct {
		name   string
		code   string
		expect map[string]any
	}{
		{
			name:   "default expression",
			code:   "export default 42;",
			expect: map[string]any{"default": int64(42)},
		},
		{
			name:   "named declarations",
			code:   "export const a = 1\nexport let b = 'two'\nexport var c = true",
			expect: map[string]any{"a": int64(1), "b": "two", "c": true},
		},
		{
			name:   "export list with alias",
			code:   "const x = 5; const y = 6;\nexport { x, y as why }",
			expect: map[string]any{"x": int64(5), "why": int64(6)},
		},
		{
			name:   "default alias in list",
			code:   "const answer = 42\nexport { answer as default }",
			expect: map[string]any{"default": int64(42)},
		},
		{
			name:   "single line statements",
			code:   "const a = 1; export default a + 1",
			expect: map[string]any{"default": int64(2)},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exports := loadMap(t, l, tc.code)
			if len(exports) != len(tc.expect) {
				t.Fatalf("expected %d exports, got %v", len(tc.expect), exports)
			}
			for key, want := range tc.expect {
				if exports[key] != want {
					t.Fatalf("export %s: want %#v, got %#v", key, want, exports[key])
				}
			}
		})
	}
}

func TestLoadSourceExportedFunctions(t *testing.T) {
	exports := loadMap(t, New(), "export function alloc(n) { return n }\nexport default function main() { return alloc(1) }\nexport class Buffer {}")
	for _, key := range []string{"alloc", "default", "Buffer"} {
		if _, ok := exports[key]; !ok {
			t.Fatalf("expected export %s, got %v", key, exports)
		}
	}
}

func TestLoadSourceRejectsImports(t *testing.T) {
	for _, code := range []string{
		"import x from 'x'\nexport default x",
		"import { a } from \"a\"",
		"export * from 'other'",
		"export { a } from 'other'",
		"const m = import('dyn')",
	} {
		if _, err := New().LoadSource(context.Background(), code); !errors.Is(err, ErrImportUnsupported) {
			t.Fatalf("expected ErrImportUnsupported for %q, got %v", code, err)
		}
	}
}

func TestLoadSourceAllowsImportLikeIdentifiers(t *testing.T) {
	exports := loadMap(t, New(), "const important = 1\nexport default important")
	if exports["default"] != int64(1) {
		t.Fatalf("expected default 1, got %v", exports["default"])
	}
}

func TestLoadSourceModuleErrors(t *testing.T) {
	_, err := New().LoadSource(context.Background(), "export default (", WithOrigin("broken.js"))
	var moduleErr *ModuleError
	if !errors.As(err, &moduleErr) || moduleErr.Phase != "compile" || moduleErr.Origin != "broken.js" {
		t.Fatalf("expected compile ModuleError, got %#v", err)
	}

	_, err = New().LoadSource(context.Background(), "throw new Error('nope')")
	if !errors.As(err, &moduleErr) || moduleErr.Phase != "evaluation" {
		t.Fatalf("expected evaluation ModuleError, got %#v", err)
	}
}

func TestLoadSourceHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().LoadSource(ctx, "export default 1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLoadSourceJSONAndCharset(t *testing.T) {
	value, err := New().LoadSource(context.Background(), `{"heat": 9}`, WithMIMEType(MIMEJSON))
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	doc := value.(map[string]any)["default"].(map[string]any)
	if doc["heat"] != float64(9) {
		t.Fatalf("expected heat 9, got %v", doc["heat"])
	}

	if _, err := New().LoadSource(context.Background(), "export default 1", WithCharset("latin1")); !errors.Is(err, ErrUnsupportedCharset) {
		t.Fatalf("expected ErrUnsupportedCharset, got %v", err)
	}
}

func TestLoadURIDataAndFile(t *testing.T) {
	l := New()
	value, err := l.LoadURI(context.Background(), DataURI("export default 42;"))
	if err != nil {
		t.Fatalf("load data uri: %v", err)
	}
	if value.(map[string]any)["default"] != int64(42) {
		t.Fatalf("expected 42, got %v", value)
	}

	value, err = l.LoadURI(context.Background(), "data:text/javascript,export%20default%207")
	if err != nil {
		t.Fatalf("load percent-encoded data uri: %v", err)
	}
	if value.(map[string]any)["default"] != int64(7) {
		t.Fatalf("expected 7, got %v", value)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "mod.js")
	if err := os.WriteFile(path, []byte("export const name = 'file'"), 0o600); err != nil {
		t.Fatalf("write module: %v", err)
	}
	value, err = l.LoadURI(context.Background(), "file://"+filepath.ToSlash(path))
	if err != nil {
		t.Fatalf("load file uri: %v", err)
	}
	if value.(map[string]any)["name"] != "file" {
		t.Fatalf("expected name export, got %v", value)
	}
}

func TestLoadURIRemoteRequiresFetcher(t *testing.T) {
	uri := "https://cdn.example.test/pkg.js"
	if _, err := New().LoadURI(context.Background(), uri); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}

	fetched := ""
	l := New(WithFetcher(FetcherFunc(func(ctx context.Context, target string) ([]byte, error) {
		fetched = target
		return []byte("export default 'remote'"), nil
	})))
	value, err := l.LoadURI(context.Background(), uri)
	if err != nil {
		t.Fatalf("load remote: %v", err)
	}
	if fetched != uri || value.(map[string]any)["default"] != "remote" {
		t.Fatalf("unexpected remote load %q -> %v", fetched, value)
	}

	if _, err := l.LoadURI(context.Background(), "ftp://example.test/x.js"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme for ftp, got %v", err)
	}
}

func TestProgramCacheReused(t *testing.T) {
	cache := &memoryCache{}
	l := New(WithProgramCache(cache))
	for i := 0; i < 3; i++ {
		loadMap(t, l, "export default 1")
	}
	if cache.sets != 1 {
		t.Fatalf("expected a single compile, got %d", cache.sets)
	}
}

func TestParseDataURI(t *testing.T) {
	payload, err := ParseDataURI(DataURI(`{"a":1}`, DataURIMIME(MIMEJSON)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if payload.MIME != MIMEJSON || payload.Charset != CharsetUTF8 || string(payload.Body) != `{"a":1}` {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if _, err := ParseDataURI("data:text/javascript"); !errors.Is(err, ErrInvalidDataURI) {
		t.Fatalf("expected ErrInvalidDataURI, got %v", err)
	}
}
