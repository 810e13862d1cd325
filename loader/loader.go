// Package loader turns module source text and module URIs into Go values.
//
// Sources are evaluated with goja after a light rewrite of their export
// syntax: the resulting value is a map keyed by export name, with the default
// export stored under "default". Import statements are rejected; modules are
// expected to be bundled.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
)

// Loader loads modules from source text or URIs.
type Loader interface {
	LoadSource(ctx context.Context, code string, opts ...SourceOption) (any, error)
	LoadURI(ctx context.Context, uri string) (any, error)
}

// Fetcher retrieves remote module bodies for http(s) URIs.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, uri string) ([]byte, error)

// Fetch implements Fetcher.
func (fn FetcherFunc) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return fn(ctx, uri)
}

// ProgramCache stores compiled programs keyed by source.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// Option configures a JSLoader.
type Option func(*JSLoader)

// WithProgramCache reuses compiled programs across loads.
func WithProgramCache(cache ProgramCache) Option {
	return func(l *JSLoader) {
		l.cache = cache
	}
}

// WithFetcher enables http and https URIs.
func WithFetcher(fetcher Fetcher) Option {
	return func(l *JSLoader) {
		l.fetcher = fetcher
	}
}

// WithGlobals exposes values as globals to every module.
func WithGlobals(globals map[string]any) Option {
	return func(l *JSLoader) {
		for key, value := range globals {
			l.globals[key] = value
		}
	}
}

// WithFileAccess toggles support for file: URIs.
func WithFileAccess(enabled bool) Option {
	return func(l *JSLoader) {
		l.files = enabled
	}
}

// WithLogger routes module console output.
func WithLogger(logger *slog.Logger) Option {
	return func(l *JSLoader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// SourceOption configures a single LoadSource call.
type SourceOption func(*sourceConfig)

type sourceConfig struct {
	origin  string
	mime    string
	charset string
}

// WithOrigin names the source in errors and stack traces.
func WithOrigin(origin string) SourceOption {
	return func(cfg *sourceConfig) {
		cfg.origin = origin
	}
}

// WithMIMEType selects how the source is interpreted.
func WithMIMEType(mime string) SourceOption {
	return func(cfg *sourceConfig) {
		if mime != "" {
			cfg.mime = strings.ToLower(mime)
		}
	}
}

// WithCharset declares the source encoding.
func WithCharset(charset string) SourceOption {
	return func(cfg *sourceConfig) {
		if charset != "" {
			cfg.charset = strings.ToLower(charset)
		}
	}
}

// JSLoader is the goja backed Loader.
type JSLoader struct {
	cache   ProgramCache
	fetcher Fetcher
	globals map[string]any
	files   bool
	logger  *slog.Logger
}

// New constructs a JSLoader.
func New(opts ...Option) *JSLoader {
	l := &JSLoader{
		globals: map[string]any{},
		files:   true,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// LoadSource evaluates code and returns its exports.
func (l *JSLoader) LoadSource(ctx context.Context, code string, opts ...SourceOption) (any, error) {
	cfg := sourceConfig{mime: MIMEJavaScript, charset: CharsetUTF8}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.charset != CharsetUTF8 && cfg.charset != "utf8" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCharset, cfg.charset)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.mime {
	case MIMEJSON:
		var doc any
		if err := json.Unmarshal([]byte(code), &doc); err != nil {
			return nil, &ModuleError{Origin: cfg.origin, Phase: "parse", Err: err}
		}
		return map[string]any{"default": doc}, nil
	case MIMEJavaScript, "application/javascript", "text/ecmascript", "application/ecmascript":
	default:
		return nil, fmt.Errorf("loader: unsupported mime type %q", cfg.mime)
	}

	program, err := l.compile(cfg.origin, code)
	if err != nil {
		return nil, err
	}
	return l.run(ctx, cfg.origin, program)
}

// LoadURI opens uri and evaluates the module it points at.
func (l *JSLoader) LoadURI(ctx context.Context, uri string) (any, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedScheme, err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "data":
		payload, err := ParseDataURI(uri)
		if err != nil {
			return nil, err
		}
		return l.LoadSource(ctx, string(payload.Body),
			WithOrigin("data:"+payload.MIME),
			WithMIMEType(payload.MIME),
			WithCharset(payload.Charset),
		)
	case "file":
		if !l.files {
			return nil, fmt.Errorf("%w: file access disabled", ErrUnsupportedScheme)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Opaque
		}
		body, err := os.ReadFile(filepath.FromSlash(path))
		if err != nil {
			return nil, fmt.Errorf("loader: read %s: %w", path, err)
		}
		return l.LoadSource(ctx, string(body), WithOrigin(uri), WithMIMEType(mimeForPath(path)))
	case "http", "https":
		if l.fetcher == nil {
			return nil, fmt.Errorf("%w: %s (no fetcher configured)", ErrUnsupportedScheme, parsed.Scheme)
		}
		body, err := l.fetcher.Fetch(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("loader: fetch %s: %w", uri, err)
		}
		return l.LoadSource(ctx, string(body), WithOrigin(uri), WithMIMEType(mimeForPath(parsed.Path)))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, parsed.Scheme)
	}
}

func (l *JSLoader) compile(origin, code string) (*goja.Program, error) {
	key := "module:" + code
	if l.cache != nil {
		if cached, ok := l.cache.Get(key); ok {
			if program, ok := cached.(*goja.Program); ok {
				return program, nil
			}
		}
	}
	wrapped, err := transform(code)
	if err != nil {
		return nil, err
	}
	program, err := goja.Compile(origin, wrapped, false)
	if err != nil {
		return nil, &ModuleError{Origin: origin, Phase: "compile", Err: err}
	}
	if l.cache != nil {
		l.cache.Set(key, program)
	}
	return program, nil
}

func (l *JSLoader) run(ctx context.Context, origin string, program *goja.Program) (any, error) {
	vm := goja.New()
	for key, value := range l.globals {
		if err := vm.Set(key, value); err != nil {
			return nil, fmt.Errorf("loader: set global %s: %w", key, err)
		}
	}
	if err := vm.Set("console", l.console(origin)); err != nil {
		return nil, fmt.Errorf("loader: set console: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	value, err := vm.RunProgram(program)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ModuleError{Origin: origin, Phase: "evaluation", Err: err}
	}
	return value.Export(), nil
}

func (l *JSLoader) console(origin string) map[string]any {
	emit := func(level slog.Level) func(args ...any) {
		return func(args ...any) {
			l.logger.Log(context.Background(), level, "module console", "origin", origin, "args", args)
		}
	}
	return map[string]any{
		"log":   emit(slog.LevelInfo),
		"info":  emit(slog.LevelInfo),
		"debug": emit(slog.LevelDebug),
		"warn":  emit(slog.LevelWarn),
		"error": emit(slog.LevelError),
	}
}

func mimeForPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return MIMEJSON
	}
	return MIMEJavaScript
}
