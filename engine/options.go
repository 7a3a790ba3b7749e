package engine

import (
	"github.com/gogpu/pageview/compiler"
)

// Defaults for engine tuning knobs.
const (
	// DefaultRecycleInterval is the number of completed compiles between
	// compiler-handle recycles. The compiler accumulates internal caches the
	// engine cannot see; periodically closing and recreating it through the
	// factory bounds that growth. The threshold is a heuristic, not a proven
	// bound.
	DefaultRecycleInterval = 32

	// DefaultQuantizeSteps is the number of cache-key steps per unit of
	// scale. Nearby zoom levels share rasterizations instead of thrashing
	// the cache.
	DefaultQuantizeSteps = 8
)

// Option configures an Engine.
type Option func(*config)

type config struct {
	comp            compiler.Compiler
	factory         compiler.Factory
	cacheCapacity   int
	poolSizeCap     int
	recycleInterval int
}

func defaultConfig() config {
	return config{
		recycleInterval: DefaultRecycleInterval,
	}
}

// WithCompiler supplies an already-constructed compiler instance. The
// engine takes ownership and closes it on Dispose. Periodic recycling is
// disabled unless WithCompilerFactory is also given, since the engine
// would have no way to recreate the handle.
func WithCompiler(c compiler.Compiler) Option {
	return func(cfg *config) {
		cfg.comp = c
	}
}

// WithCompilerFactory sets the factory used to create (and periodically
// recreate) the compiler handle. Defaults to the registry's best available
// backend, resolved lazily at the first compile.
func WithCompilerFactory(f compiler.Factory) Option {
	return func(cfg *config) {
		cfg.factory = f
	}
}

// WithCacheCapacity bounds the page-bitmap cache to n entries.
// Values <= 0 select the default capacity.
func WithCacheCapacity(n int) Option {
	return func(cfg *config) {
		cfg.cacheCapacity = n
	}
}

// WithPoolSizeCap bounds how many surfaces the pool retains per exact
// size. Values <= 0 select the default cap.
func WithPoolSizeCap(n int) Option {
	return func(cfg *config) {
		cfg.poolSizeCap = n
	}
}

// WithRecycleInterval sets how many completed compiles pass between
// compiler-handle recycles. Zero or negative disables recycling.
func WithRecycleInterval(n int) Option {
	return func(cfg *config) {
		cfg.recycleInterval = n
	}
}
