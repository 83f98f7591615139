package runtime

import (
	"fmt"
	"path/filepath"
	"sort"
)

// ServerConfig is the HTTP surface configuration. Zero fields are
// filled from struct-tag defaults and the result is validated, so a
// bad listen address fails at startup instead of at bind time.
type ServerConfig struct {
	Listen string `default:":8080" validate:"hostname_port"`
}

func NewServerConfig(listen string) (*ServerConfig, error) {
	cfg := &ServerConfig{Listen: listen}
	if err := prepareConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// App loads a directory of rule documents and keeps one Runtime per
// rule, all sharing a single Services bundle.
type App struct {
	Services *Services
	Runtimes map[string]*Runtime
}

func NewApp(rulesDir string, services *Services) (*App, error) {
	files, err := filepath.Glob(filepath.Join(rulesDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("error reading directory: %w", err)
	}

	app := &App{
		Services: services,
		Runtimes: make(map[string]*Runtime),
	}

	for _, file := range files {
		rule, err := LoadRuleFile(file)
		if err != nil {
			return nil, err
		}
		if err := app.RegisterRule(rule); err != nil {
			return nil, err
		}
	}

	return app, nil
}

// RegisterRule binds a loaded rule to the app's shared services. A
// rule re-registered under the same name replaces the previous one.
func (a *App) RegisterRule(rule *Rule) error {
	rt, err := New(rule, a.Services)
	if err != nil {
		return fmt.Errorf("rule %q: %w", rule.Meta.Name, err)
	}
	a.Runtimes[rule.Meta.Name] = rt
	return nil
}

// Runtime returns the runtime for a rule name.
func (a *App) Runtime(name string) (*Runtime, bool) {
	rt, ok := a.Runtimes[name]
	return rt, ok
}

// RuleNames lists the registered rules in a stable order.
func (a *App) RuleNames() []string {
	names := make([]string, 0, len(a.Runtimes))
	for name := range a.Runtimes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aggregator fans flow invocations out over a subset of the app's
// rules under the given policy. An empty selection means every rule.
func (a *App) Aggregator(names []string, policy AggregatePolicy) (*Aggregator, error) {
	selected := make(map[string]*Runtime)
	if len(names) == 0 {
		for name, rt := range a.Runtimes {
			selected[name] = rt
		}
	} else {
		for _, name := range names {
			rt, ok := a.Runtimes[name]
			if !ok {
				return nil, fmt.Errorf("unknown rule %q", name)
			}
			selected[name] = rt
		}
	}
	return NewAggregator(selected, policy, a.Services.Logger), nil
}
