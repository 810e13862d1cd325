package staging

import (
	"log/slog"
	"maps"

	"github.com/goliatone/go-staging/loader"
	"github.com/goliatone/go-staging/packages"
	"github.com/goliatone/go-staging/pkg/activity"
)

// Environment selects how package sources resolve.
type Environment string

const (
	// EnvServer resolves packages through the configured packages.Resolver.
	EnvServer Environment = "server"
	// EnvBrowser resolves packages to URIs through the import map and CDN.
	EnvBrowser Environment = "browser"
)

// Option configures a stage. Options passed to Fork apply on top of the
// parent's configuration.
type Option func(*stageConfig)

type stageConfig struct {
	logger            *slog.Logger
	evaluator         Evaluator
	engine            string
	programCache      ProgramCache
	functions         *FunctionRegistry
	evaluatorLogger   EvaluatorLogger
	loader            loader.Loader
	packages          packages.Resolver
	environment       Environment
	importMap         packages.ImportMap
	cdn               packages.URIResolver
	requireValidation bool
	hooks             activity.Hooks
	activity          activity.Config

	resolvedEvaluator Evaluator
	evaluatorErr      error
	resolvedLoader    loader.Loader
	emitter           *activity.Emitter
}

func newStageConfig(opts []Option) *stageConfig {
	cfg := &stageConfig{
		engine:            EngineJS,
		functions:         StandardFunctions(),
		environment:       EnvServer,
		requireValidation: true,
		activity:          activity.Config{Enabled: true, Channel: activity.DefaultChannel},
	}
	cfg.apply(opts)
	return cfg
}

func (cfg *stageConfig) derive(opts []Option) *stageConfig {
	clone := *cfg
	clone.importMap = maps.Clone(cfg.importMap)
	clone.hooks = cfg.hooks.Compact()
	clone.apply(opts)
	return &clone
}

func (cfg *stageConfig) apply(opts []Option) {
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	cfg.finalize()
}

func (cfg *stageConfig) finalize() {
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.programCache == nil {
		cfg.programCache = NewMemoryProgramCache()
	}
	if cfg.evaluatorLogger == nil {
		cfg.evaluatorLogger = noopEvaluatorLogger{}
	}
	if cfg.packages == nil {
		cfg.packages = packages.NewRegistry()
	}
	if cfg.cdn == nil {
		cfg.cdn = packages.DefaultCDN()
	}

	cfg.resolvedLoader = cfg.loader
	if cfg.resolvedLoader == nil {
		cfg.resolvedLoader = loader.New(
			loader.WithProgramCache(cfg.programCache),
			loader.WithLogger(cfg.logger),
		)
	}

	cfg.resolvedEvaluator, cfg.evaluatorErr = cfg.evaluator, nil
	if cfg.resolvedEvaluator == nil {
		cfg.resolvedEvaluator, cfg.evaluatorErr = newEngineEvaluator(cfg.engine, cfg.programCache, cfg.functions)
	}

	cfg.emitter = activity.NewEmitter(cfg.hooks, cfg.activity)
}

// WithLogger routes structured logs for the stage and its forks.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *stageConfig) {
		cfg.logger = logger
	}
}

// WithEvaluator replaces the validator engine with a custom Evaluator.
func WithEvaluator(e Evaluator) Option {
	return func(cfg *stageConfig) {
		cfg.evaluator = e
	}
}

// WithValidatorEngine selects a built-in engine for source validators:
// EngineJS (default), EngineExpr or EngineCEL.
func WithValidatorEngine(engine string) Option {
	return func(cfg *stageConfig) {
		cfg.engine = engine
		cfg.evaluator = nil
	}
}

// WithProgramCache shares compiled programs between validators and modules.
func WithProgramCache(cache ProgramCache) Option {
	return func(cfg *stageConfig) {
		cfg.programCache = cache
	}
}

// WithLoader replaces the module loader used for code and URI sources.
func WithLoader(l loader.Loader) Option {
	return func(cfg *stageConfig) {
		cfg.loader = l
	}
}

// WithPackageResolver sets the resolver used for package sources on servers.
func WithPackageResolver(resolver packages.Resolver) Option {
	return func(cfg *stageConfig) {
		cfg.packages = resolver
	}
}

// WithEnvironment selects server or browser package resolution.
func WithEnvironment(env Environment) Option {
	return func(cfg *stageConfig) {
		if env == "" {
			env = EnvServer
		}
		cfg.environment = env
	}
}

// WithImportMap maps package specifiers to URIs in the browser environment.
// Entries merge with any map inherited from the parent stage.
func WithImportMap(imports packages.ImportMap) Option {
	return func(cfg *stageConfig) {
		if cfg.importMap == nil {
			cfg.importMap = packages.ImportMap{}
		}
		maps.Copy(cfg.importMap, imports)
	}
}

// WithCDNResolver replaces the browser fallback used for unmapped specifiers.
func WithCDNResolver(resolver packages.URIResolver) Option {
	return func(cfg *stageConfig) {
		cfg.cdn = resolver
	}
}

// WithRequireValidation sets the stage-wide validation default used by Install.
func WithRequireValidation(required bool) Option {
	return func(cfg *stageConfig) {
		cfg.requireValidation = required
	}
}

// WithActivityHooks attaches activity hooks. Nil entries are dropped.
func WithActivityHooks(hooks activity.Hooks) Option {
	normalized := hooks.Compact()
	return func(cfg *stageConfig) {
		cfg.hooks = normalized
	}
}

// WithActivityConfig sets channel, actor and tenant defaults for emitted events.
func WithActivityConfig(config activity.Config) Option {
	return func(cfg *stageConfig) {
		cfg.activity = config
	}
}
