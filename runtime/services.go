package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// Services is the shared capability bundle behind every Context.
// Constructed once per runtime instance and shared by all concurrently
// executing flow invocations, so everything mutable inside it carries
// its own synchronization; the Context layer on top needs none.
type Services struct {
	Logger      *slog.Logger
	Fetch       Fetcher
	Selectors   map[SelectorKind]Selector
	Filters     *FilterRegistry
	Templates   *TemplateEngine
	Cache       CacheStorage
	WebView     WebViewProvider
	Credentials CredentialStore

	mu      sync.RWMutex
	scripts map[string]ScriptEngine

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewServices builds an empty bundle. Capability ports are registered
// by the caller before any flow runs; the bundle is treated as frozen
// afterwards (script engines excepted, they are guarded).
func NewServices(l *slog.Logger) *Services {
	if l == nil {
		l = slog.Default()
	}
	return &Services{
		Logger:    l,
		Selectors: make(map[SelectorKind]Selector),
		Filters:   NewFilterRegistry(),
		Templates: NewTemplateEngine(),
		scripts:   make(map[string]ScriptEngine),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// waitHost enforces a rule's per-host request rate. Limiters are keyed
// by host so concurrent invocations against one site share a budget.
func (s *Services) waitHost(ctx context.Context, host string, rps float64) error {
	if rps <= 0 || host == "" {
		return nil
	}
	s.limiterMu.Lock()
	lim, ok := s.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(rps), 1)
		s.limiters[host] = lim
	}
	s.limiterMu.Unlock()
	return lim.Wait(ctx)
}

// Selector returns the evaluator for a dialect or a CapabilityError
// when none is registered.
func (s *Services) Selector(kind SelectorKind) (Selector, error) {
	sel, ok := s.Selectors[kind]
	if !ok {
		return nil, &CapabilityError{Port: "selector", Err: fmt.Errorf("no %s selector registered", kind)}
	}
	return sel, nil
}

// RegisterScriptEngine stores an engine under its kind.
func (s *Services) RegisterScriptEngine(engine ScriptEngine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[engine.Name()] = engine
}

// ScriptEngine looks up an engine by kind.
func (s *Services) ScriptEngine(kind string) (ScriptEngine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eng, ok := s.scripts[kind]
	if !ok {
		return nil, &CapabilityError{Port: "script", Err: fmt.Errorf("no %s script engine registered", kind)}
	}
	return eng, nil
}

// BuildScriptEngines constructs exactly the engines a rule requires.
// The rule scan yields the set of kinds; each kind is built once via
// its registered constructor and stored keyed by kind. Unknown kinds
// fail construction up front rather than at execution time.
func (s *Services) BuildScriptEngines(kinds []string, constructors map[string]func() (ScriptEngine, error)) error {
	for _, kind := range kinds {
		s.mu.RLock()
		_, exists := s.scripts[kind]
		s.mu.RUnlock()
		if exists {
			continue
		}
		build, ok := constructors[kind]
		if !ok {
			return fmt.Errorf("no constructor for script engine kind %q", kind)
		}
		eng, err := build()
		if err != nil {
			return fmt.Errorf("building %s script engine: %w", kind, err)
		}
		s.RegisterScriptEngine(eng)
	}
	return nil
}

// Filter is one registered transform plus its broadcast behavior.
// Scalar filters are applied elementwise when an array flows in;
// array-aware filters consume the array whole.
type Filter struct {
	Apply      func(v Value, args []any) (Value, error)
	ArrayAware bool
}

// FilterRegistry maps filter names to transforms. Registration happens
// at construction; lookups run concurrently during extraction.
type FilterRegistry struct {
	mu      sync.RWMutex
	filters map[string]Filter
}

func NewFilterRegistry() *FilterRegistry {
	return &FilterRegistry{filters: make(map[string]Filter)}
}

func (r *FilterRegistry) Register(name string, f Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters[name] = f
}

func (r *FilterRegistry) Get(name string) (Filter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.filters[name]
	return f, ok
}

// Apply runs a named filter. Unregistered names fail with
// FilterNotFound.
func (r *FilterRegistry) Apply(name string, v Value, args []any) (Value, error) {
	f, ok := r.Get(name)
	if !ok {
		return Null(), &FilterNotFound{Name: name}
	}
	return f.Apply(v, args)
}
