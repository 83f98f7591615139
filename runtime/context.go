package runtime

import (
	"strings"

	"github.com/Jeffail/gabs/v2"
)

// Context is one node of the hierarchical variable scope threaded
// through a flow invocation. A flow owns its root Context; each nested
// sub-extraction (one per item in a result list) gets a child sharing
// the same Services but owning isolated variables.
//
// A Context belongs to exactly one logical flow of control and is
// never mutated concurrently, so it needs no locking; only Services
// carries shared state, with its own synchronization.
type Context struct {
	vars     map[string]any
	parent   *Context
	services *Services
}

// NewContext builds a root scope seeded with the caller's invocation
// parameters (keyword, page, url, ...).
func NewContext(services *Services, seed map[string]any) *Context {
	vars := make(map[string]any, len(seed))
	for k, v := range seed {
		vars[k] = v
	}
	return &Context{vars: vars, services: services}
}

// Child creates a nested scope. Reads fall through to the parent;
// writes land here and shadow, never merge upward.
func (c *Context) Child() *Context {
	return &Context{vars: make(map[string]any), parent: c, services: c.services}
}

// Services returns the shared capability bundle.
func (c *Context) Services() *Services { return c.services }

// Set writes a variable into the current scope.
func (c *Context) Set(name string, value any) {
	c.vars[name] = value
}

// Get resolves a variable, checking the local scope first and then
// walking parents. Dotted paths and bracket indexes descend into
// JSON-like values: "user.name", "items[0].title".
func (c *Context) Get(name string) (any, bool) {
	root, rest := splitPath(name)
	for scope := c; scope != nil; scope = scope.parent {
		v, ok := scope.vars[root]
		if !ok {
			continue
		}
		if rest == "" {
			return v, true
		}
		return descend(v, rest)
	}
	return nil, false
}

// GetRoot resolves a variable against the root scope only, skipping
// every intermediate shadow. Templates reach it via the "$." prefix.
func (c *Context) GetRoot(name string) (any, bool) {
	scope := c
	for scope.parent != nil {
		scope = scope.parent
	}
	root, rest := splitPath(name)
	v, ok := scope.vars[root]
	if !ok {
		return nil, false
	}
	if rest == "" {
		return v, true
	}
	return descend(v, rest)
}

// Depth returns the number of ancestors above this scope.
func (c *Context) Depth() int {
	d := 0
	for scope := c.parent; scope != nil; scope = scope.parent {
		d++
	}
	return d
}

// splitPath separates the scope key from the remaining nested path:
// "items[0].title" -> ("items", "0.title").
func splitPath(name string) (root, rest string) {
	i := strings.IndexAny(name, ".[")
	if i < 0 {
		return name, ""
	}
	root = name[:i]
	rest = normalizePath(name[i:])
	return root, rest
}

// normalizePath rewrites bracket indexes to dotted segments so gabs
// can walk them: "[0].title" -> "0.title".
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "[", ".")
	p = strings.ReplaceAll(p, "]", "")
	return strings.Trim(p, ".")
}

func descend(container any, path string) (any, bool) {
	g := gabs.Wrap(container)
	if g == nil {
		return nil, false
	}
	hit := g.Path(path)
	if hit == nil {
		return nil, false
	}
	return hit.Data(), true
}
