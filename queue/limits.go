package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-function throttling for the worker pool.
type Config struct {
	// Function is the registered function name the limits apply to.
	Function string

	// MaxConcurrency limits how many invocations of this function may run
	// simultaneously across the local pool. Zero means no function-specific
	// limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained invocations per second. Zero
	// disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

type functionState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Limits controls per-function rate limiting and concurrency. It is safe
// for concurrent use.
type Limits struct {
	mu        sync.Mutex
	functions map[string]*functionState
}

// NewLimits creates a Limits manager with the given function
// configurations. Functions not listed have no limits.
func NewLimits(configs ...Config) *Limits {
	l := &Limits{functions: make(map[string]*functionState, len(configs))}
	for _, cfg := range configs {
		l.functions[cfg.Function] = newFunctionState(cfg)
	}
	return l
}

func newFunctionState(cfg Config) *functionState {
	fs := &functionState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		fs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return fs
}

// Acquire checks rate limits and concurrency for the given function. If
// the invocation may proceed it increments the active counter and returns
// true. The caller MUST call Release when the invocation completes.
func (l *Limits) Acquire(function string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	fs := l.functions[function]
	if fs == nil {
		return true
	}
	if fs.limiter != nil && !fs.limiter.Allow() {
		return false
	}
	if fs.config.MaxConcurrency > 0 && fs.active >= fs.config.MaxConcurrency {
		return false
	}
	fs.active++
	return true
}

// Release decrements the active count for the function.
func (l *Limits) Release(function string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if fs := l.functions[function]; fs != nil && fs.active > 0 {
		fs.active--
	}
}

// Active returns the current active invocation count for the function.
func (l *Limits) Active(function string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if fs := l.functions[function]; fs != nil {
		return fs.active
	}
	return 0
}
