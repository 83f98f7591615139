package runtime

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"
)

// StepKind tags the operation a step performs.
type StepKind string

const (
	StepCSS      StepKind = "css"
	StepXPath    StepKind = "xpath"
	StepJSON     StepKind = "json"
	StepRegex    StepKind = "regex"
	StepFilter   StepKind = "filter"
	StepAttr     StepKind = "attr"
	StepIndex    StepKind = "index"
	StepConst    StepKind = "const"
	StepVar      StepKind = "var"
	StepSetVar   StepKind = "set_var"
	StepScript   StepKind = "script"
	StepMap      StepKind = "map"
	StepCacheGet StepKind = "cache_get"
	StepCacheSet StepKind = "cache_set"
)

// Step is one atomic extraction operation: a pure function of
// (input value, rendered parameters, context) -> output value.
// In rule documents a step is a single-key mapping, the key naming
// the kind: {css: "h1"}, {filter: trim}, {attr: href}.
type Step struct {
	Kind     StepKind
	Selector *SelectorParams
	Regex    *RegexParams
	Filter   []FilterCall
	Attr     string
	Index    *IndexParams
	Const    any
	Var      string
	SetVar   string
	Script   *ScriptConfig
	Map      []Step
	CacheKey Template
	CacheTTL time.Duration
}

type SelectorParams struct {
	Expr string `yaml:"expr"`
	All  bool   `yaml:"all"`
}

type RegexParams struct {
	Pattern string `yaml:"pattern"`
	Group   int    `yaml:"group"`
	Global  bool   `yaml:"global"`
}

// FilterCall is one segment of a filter pipeline: "trim | replace(a, b)".
type FilterCall struct {
	Name string
	Args []any
}

// IndexParams selects a single position or a "start:end" slice.
// Negative positions count from the end.
type IndexParams struct {
	Pos   *int
	Slice string
}

// UnmarshalYAML decodes the single-key step form. Unknown step kinds
// and unknown parameter keys reject the document.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("line %d: a step must be a single-key mapping", node.Line)
	}
	key := node.Content[0].Value
	val := node.Content[1]

	switch StepKind(key) {
	case StepCSS, StepXPath, StepJSON:
		s.Kind = StepKind(key)
		return s.decodeSelector(val)
	case StepRegex:
		s.Kind = StepRegex
		return s.decodeRegex(val)
	case StepFilter:
		s.Kind = StepFilter
		return s.decodeFilter(val)
	case StepAttr:
		s.Kind = StepAttr
		return val.Decode(&s.Attr)
	case StepIndex:
		s.Kind = StepIndex
		return s.decodeIndex(val)
	case StepConst:
		s.Kind = StepConst
		return val.Decode(&s.Const)
	case StepVar:
		s.Kind = StepVar
		return val.Decode(&s.Var)
	case StepSetVar:
		s.Kind = StepSetVar
		return val.Decode(&s.SetVar)
	case StepScript:
		s.Kind = StepScript
		s.Script = &ScriptConfig{}
		if err := decodeStrict(val, s.Script, "engine", "source"); err != nil {
			return err
		}
		if s.Script.Engine == "" || s.Script.Source == "" {
			return fmt.Errorf("line %d: script step needs engine and source", node.Line)
		}
		return nil
	case StepMap:
		s.Kind = StepMap
		return val.Decode(&s.Map)
	case StepCacheGet:
		s.Kind = StepCacheGet
		return val.Decode(&s.CacheKey)
	case StepCacheSet:
		s.Kind = StepCacheSet
		return s.decodeCacheSet(val)
	default:
		return fmt.Errorf("line %d: unknown step kind %q", node.Line, key)
	}
}

func (s *Step) decodeSelector(val *yaml.Node) error {
	s.Selector = &SelectorParams{}
	if val.Kind == yaml.ScalarNode {
		return val.Decode(&s.Selector.Expr)
	}
	if err := decodeStrict(val, s.Selector, "expr", "all"); err != nil {
		return err
	}
	if s.Selector.Expr == "" {
		return fmt.Errorf("line %d: %s step needs an expr", val.Line, s.Kind)
	}
	return nil
}

func (s *Step) decodeRegex(val *yaml.Node) error {
	s.Regex = &RegexParams{Group: 1}
	if val.Kind == yaml.ScalarNode {
		return val.Decode(&s.Regex.Pattern)
	}
	if err := decodeStrict(val, s.Regex, "pattern", "group", "global"); err != nil {
		return err
	}
	if s.Regex.Pattern == "" {
		return fmt.Errorf("line %d: regex step needs a pattern", val.Line)
	}
	return nil
}

func (s *Step) decodeFilter(val *yaml.Node) error {
	switch val.Kind {
	case yaml.ScalarNode:
		var pipeline string
		if err := val.Decode(&pipeline); err != nil {
			return err
		}
		calls, err := parseFilterPipeline(pipeline)
		if err != nil {
			return fmt.Errorf("line %d: %w", val.Line, err)
		}
		s.Filter = calls
		return nil
	case yaml.MappingNode:
		var cfg struct {
			Name string `yaml:"name"`
			Args []any  `yaml:"args"`
		}
		if err := decodeStrict(val, &cfg, "name", "args"); err != nil {
			return err
		}
		if cfg.Name == "" {
			return fmt.Errorf("line %d: filter step needs a name", val.Line)
		}
		s.Filter = []FilterCall{{Name: cfg.Name, Args: cfg.Args}}
		return nil
	default:
		return fmt.Errorf("line %d: filter must be a pipeline string or {name, args}", val.Line)
	}
}

func (s *Step) decodeIndex(val *yaml.Node) error {
	s.Index = &IndexParams{}
	var pos int
	if err := val.Decode(&pos); err == nil {
		s.Index.Pos = &pos
		return nil
	}
	var slice string
	if err := val.Decode(&slice); err != nil {
		return err
	}
	if !strings.Contains(slice, ":") {
		return fmt.Errorf("line %d: index must be an integer or a start:end slice", val.Line)
	}
	s.Index.Slice = slice
	return nil
}

func (s *Step) decodeCacheSet(val *yaml.Node) error {
	if val.Kind == yaml.ScalarNode {
		return val.Decode(&s.CacheKey)
	}
	var cfg struct {
		Key Template      `yaml:"key"`
		TTL time.Duration `yaml:"ttl"`
	}
	if err := decodeStrict(val, &cfg, "key", "ttl"); err != nil {
		return err
	}
	if cfg.Key == "" {
		return fmt.Errorf("line %d: cache_set needs a key", val.Line)
	}
	s.CacheKey = cfg.Key
	s.CacheTTL = cfg.TTL
	return nil
}

// decodeStrict decodes a mapping node and rejects keys outside the
// allowed set. Nested custom unmarshalers do not inherit the
// decoder-level KnownFields setting, so strictness is enforced here.
func decodeStrict(node *yaml.Node, target any, allowed ...string) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i].Value
		ok := false
		for _, a := range allowed {
			if key == a {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("line %d: unknown field %q", node.Content[i].Line, key)
		}
	}
	return node.Decode(target)
}

// parseFilterPipeline splits "trim | replace(a, b) | lower" into
// ordered filter calls.
func parseFilterPipeline(pipeline string) ([]FilterCall, error) {
	var calls []FilterCall
	for _, seg := range strings.Split(pipeline, "|") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return nil, fmt.Errorf("empty filter in pipeline %q", pipeline)
		}
		open := strings.IndexByte(seg, '(')
		if open < 0 {
			calls = append(calls, FilterCall{Name: seg})
			continue
		}
		if !strings.HasSuffix(seg, ")") {
			return nil, fmt.Errorf("unclosed arguments in filter %q", seg)
		}
		name := strings.TrimSpace(seg[:open])
		rawArgs := seg[open+1 : len(seg)-1]
		var args []any
		if strings.TrimSpace(rawArgs) != "" {
			for _, a := range strings.Split(rawArgs, ",") {
				args = append(args, parseFilterArg(strings.TrimSpace(a)))
			}
		}
		calls = append(calls, FilterCall{Name: name, Args: args})
	}
	return calls, nil
}

func parseFilterArg(raw string) any {
	if len(raw) >= 2 {
		if (raw[0] == '"' && raw[len(raw)-1] == '"') || (raw[0] == '\'' && raw[len(raw)-1] == '\'') {
			return raw[1 : len(raw)-1]
		}
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if raw == "true" {
		return true
	}
	if raw == "false" {
		return false
	}
	return raw
}

// stepFunc is the resolved executor strategy for one step.
type stepFunc func(ctx context.Context, c *Context, in Value) (Value, error)

// compiledStep is a step descriptor resolved at rule-load time.
// arrayAware steps consume arrays whole; all others are broadcast
// elementwise by the field extractor. soft steps never abort the
// chain: their failure becomes a warning and the input passes through.
type compiledStep struct {
	kind       StepKind
	arrayAware bool
	soft       bool
	run        stepFunc
}

func (fe *FieldExtractor) compileSteps() error {
	compiled, err := compileChain(fe.Steps)
	if err != nil {
		return err
	}
	fe.compiled = compiled
	fe.compiledFallback = nil
	for _, chain := range fe.Fallback {
		cc, err := compileChain(chain)
		if err != nil {
			return err
		}
		fe.compiledFallback = append(fe.compiledFallback, cc)
	}
	return nil
}

func compileChain(steps []Step) ([]compiledStep, error) {
	out := make([]compiledStep, 0, len(steps))
	for i, s := range steps {
		cs, err := compileStep(s)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, s.Kind, err)
		}
		out = append(out, cs)
	}
	return out, nil
}

func compileStep(s Step) (compiledStep, error) {
	switch s.Kind {
	case StepCSS, StepXPath, StepJSON:
		return compileSelector(s.Kind, s.Selector)
	case StepRegex:
		return compileRegex(s.Regex)
	case StepFilter:
		return compileFilter(s.Filter)
	case StepAttr:
		if s.Attr == "" {
			return compiledStep{}, fmt.Errorf("attr name is empty")
		}
		return compileAttr(s.Attr), nil
	case StepIndex:
		return compileIndex(s.Index)
	case StepConst:
		v := FromJSON(s.Const)
		return compiledStep{kind: StepConst, arrayAware: true, run: func(context.Context, *Context, Value) (Value, error) {
			return v, nil
		}}, nil
	case StepVar:
		return compileVar(s.Var)
	case StepSetVar:
		return compileSetVar(s.SetVar)
	case StepScript:
		return compileScript(s.Script)
	case StepMap:
		return compileMap(s.Map)
	case StepCacheGet:
		return compileCacheGet(s.CacheKey)
	case StepCacheSet:
		return compileCacheSet(s.CacheKey, s.CacheTTL)
	default:
		return compiledStep{}, fmt.Errorf("unknown step kind %q", s.Kind)
	}
}

func compileSelector(kind StepKind, p *SelectorParams) (compiledStep, error) {
	if p == nil || p.Expr == "" {
		return compiledStep{}, fmt.Errorf("selector expression is empty")
	}
	selKind := SelectorKind(kind)
	expr, all := p.Expr, p.All
	return compiledStep{kind: kind, run: func(ctx context.Context, c *Context, in Value) (Value, error) {
		sel, err := c.Services().Selector(selKind)
		if err != nil {
			return Null(), err
		}
		matches, err := sel.Evaluate(expr, in)
		if err != nil {
			return Null(), err
		}
		if all {
			return Array(matches), nil
		}
		if len(matches) == 0 {
			return Null(), nil
		}
		return matches[0], nil
	}}, nil
}

func compileRegex(p *RegexParams) (compiledStep, error) {
	if p == nil || p.Pattern == "" {
		return compiledStep{}, fmt.Errorf("regex pattern is empty")
	}
	// Validate the pattern now; the selector port caches its own
	// compiled form, this only moves bad patterns to load time.
	if _, err := regexp.Compile(p.Pattern); err != nil {
		return compiledStep{}, err
	}
	pattern, group, global := p.Pattern, p.Group, p.Global
	return compiledStep{kind: StepRegex, run: func(ctx context.Context, c *Context, in Value) (Value, error) {
		sel, err := c.Services().Selector(SelectorRegex)
		if err != nil {
			return Null(), err
		}
		// The regex port returns one Array per match holding the full
		// match followed by its capture groups.
		matches, err := sel.Evaluate(pattern, in)
		if err != nil {
			return Null(), err
		}
		picked := make([]Value, 0, len(matches))
		for _, m := range matches {
			groups := m.Items()
			if group < len(groups) {
				picked = append(picked, groups[group])
			}
		}
		if global {
			return Array(picked), nil
		}
		if len(picked) == 0 {
			return Null(), nil
		}
		return picked[0], nil
	}}, nil
}

func compileFilter(calls []FilterCall) (compiledStep, error) {
	if len(calls) == 0 {
		return compiledStep{}, fmt.Errorf("filter pipeline is empty")
	}
	// The filter step manages its own broadcast: scalar filters map
	// elementwise over arrays, array-aware filters consume them whole.
	return compiledStep{kind: StepFilter, arrayAware: true, run: func(ctx context.Context, c *Context, in Value) (Value, error) {
		current := in
		for _, call := range calls {
			f, ok := c.Services().Filters.Get(call.Name)
			if !ok {
				return Null(), &FilterNotFound{Name: call.Name}
			}
			var err error
			if current.IsArray() && !f.ArrayAware {
				items := current.Items()
				out := make([]Value, len(items))
				for i, item := range items {
					out[i], err = f.Apply(item, call.Args)
					if err != nil {
						return Null(), fmt.Errorf("%s[%d]: %w", call.Name, i, err)
					}
				}
				current = Array(out)
				continue
			}
			current, err = f.Apply(current, call.Args)
			if err != nil {
				return Null(), fmt.Errorf("%s: %w", call.Name, err)
			}
		}
		return current, nil
	}}, nil
}

func compileAttr(name string) compiledStep {
	return compiledStep{kind: StepAttr, run: func(ctx context.Context, c *Context, in Value) (Value, error) {
		switch in.Kind() {
		case KindHTML:
			text, _ := in.AsText()
			return htmlAttr(text, name)
		case KindJSON:
			if m, ok := in.AsJSON().(map[string]any); ok {
				if v, ok := m[name]; ok {
					return FromJSON(v), nil
				}
				return Null(), nil
			}
			return Null(), fmt.Errorf("attr %q: json value is not an object", name)
		case KindNull:
			return Null(), nil
		default:
			return Null(), fmt.Errorf("attr %q: cannot read attributes of a %s value", name, in.Kind())
		}
	}}
}

// htmlAttr returns the named attribute of the first element in the
// markup fragment.
func htmlAttr(markup, name string) (Value, error) {
	tk := html.NewTokenizer(strings.NewReader(markup))
	for {
		switch tk.Next() {
		case html.ErrorToken:
			return Null(), nil
		case html.StartTagToken, html.SelfClosingTagToken:
			for {
				key, val, more := tk.TagAttr()
				if string(key) == name {
					return String(string(val)), nil
				}
				if !more {
					return Null(), nil
				}
			}
		}
	}
}

func compileIndex(p *IndexParams) (compiledStep, error) {
	if p == nil {
		return compiledStep{}, fmt.Errorf("index parameters missing")
	}
	var start, end *int
	if p.Slice != "" {
		parts := strings.SplitN(p.Slice, ":", 2)
		var err error
		if start, err = optionalInt(parts[0]); err != nil {
			return compiledStep{}, fmt.Errorf("bad slice %q", p.Slice)
		}
		if end, err = optionalInt(parts[1]); err != nil {
			return compiledStep{}, fmt.Errorf("bad slice %q", p.Slice)
		}
	}
	pos := p.Pos
	return compiledStep{kind: StepIndex, arrayAware: true, run: func(ctx context.Context, c *Context, in Value) (Value, error) {
		items, err := indexable(in)
		if err != nil {
			return Null(), err
		}
		if pos != nil {
			i := *pos
			if i < 0 {
				i += len(items)
			}
			if i < 0 || i >= len(items) {
				return Null(), nil
			}
			return items[i], nil
		}
		lo, hi := 0, len(items)
		if start != nil {
			lo = clampIndex(*start, len(items))
		}
		if end != nil {
			hi = clampIndex(*end, len(items))
		}
		if lo > hi {
			lo = hi
		}
		return Array(items[lo:hi]), nil
	}}, nil
}

func optionalInt(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func clampIndex(i, n int) int {
	if i < 0 {
		i += n
	}
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

func indexable(v Value) ([]Value, error) {
	if v.IsArray() {
		return v.Items(), nil
	}
	if v.Kind() == KindJSON {
		if arr, ok := v.AsJSON().([]any); ok {
			items := make([]Value, len(arr))
			for i, e := range arr {
				items[i] = FromJSON(e)
			}
			return items, nil
		}
	}
	return nil, fmt.Errorf("index: input is %s, not an array", v.Kind())
}

func compileVar(name string) (compiledStep, error) {
	if name == "" {
		return compiledStep{}, fmt.Errorf("var name is empty")
	}
	return compiledStep{kind: StepVar, arrayAware: true, run: func(ctx context.Context, c *Context, in Value) (Value, error) {
		v, ok := c.Get(name)
		if !ok {
			return Null(), fmt.Errorf("variable %q is not defined", name)
		}
		return FromJSON(v), nil
	}}, nil
}

func compileSetVar(name string) (compiledStep, error) {
	if name == "" {
		return compiledStep{}, fmt.Errorf("set_var name is empty")
	}
	return compiledStep{kind: StepSetVar, arrayAware: true, run: func(ctx context.Context, c *Context, in Value) (Value, error) {
		c.Set(name, in.AsJSON())
		return in, nil
	}}, nil
}

func compileScript(cfg *ScriptConfig) (compiledStep, error) {
	if cfg == nil || cfg.Engine == "" {
		return compiledStep{}, fmt.Errorf("script step needs an engine")
	}
	engine, source := cfg.Engine, cfg.Source
	return compiledStep{kind: StepScript, arrayAware: true, run: func(ctx context.Context, c *Context, in Value) (Value, error) {
		eng, err := c.Services().ScriptEngine(engine)
		if err != nil {
			return Null(), err
		}
		out, err := eng.Execute(ctx, source, in.AsJSON())
		if err != nil {
			return Null(), err
		}
		return FromJSON(out), nil
	}}, nil
}

func compileMap(steps []Step) (compiledStep, error) {
	if len(steps) == 0 {
		return compiledStep{}, fmt.Errorf("map step has no inner steps")
	}
	inner, err := compileChain(steps)
	if err != nil {
		return compiledStep{}, err
	}
	return compiledStep{kind: StepMap, arrayAware: true, run: func(ctx context.Context, c *Context, in Value) (Value, error) {
		if !in.IsArray() {
			return Null(), fmt.Errorf("map: input is %s, not an array", in.Kind())
		}
		items := in.Items()
		out := make([]Value, len(items))
		for i, item := range items {
			v, _, err := runChain(ctx, c, inner, item)
			if err != nil {
				return Null(), fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = v
		}
		return Array(out), nil
	}}, nil
}

func compileCacheGet(key Template) (compiledStep, error) {
	if key == "" {
		return compiledStep{}, fmt.Errorf("cache_get needs a key template")
	}
	return compiledStep{kind: StepCacheGet, arrayAware: true, run: func(ctx context.Context, c *Context, in Value) (Value, error) {
		svc := c.Services()
		if svc.Cache == nil {
			return Null(), nil
		}
		k, err := key.Render(c)
		if err != nil {
			return Null(), err
		}
		raw, hit, err := svc.Cache.Get(ctx, k)
		if err != nil {
			// A failing cache read behaves like a miss; the cache is
			// not essential to the pipeline.
			svc.Logger.Warn("cache read failed", "key", k, "error", err)
			return Null(), nil
		}
		if !hit {
			return Null(), nil
		}
		v, err := cacheDecode(raw)
		if err != nil {
			svc.Logger.Warn("cache entry undecodable", "key", k, "error", err)
			return Null(), nil
		}
		return v, nil
	}}, nil
}

func compileCacheSet(key Template, ttl time.Duration) (compiledStep, error) {
	if key == "" {
		return compiledStep{}, fmt.Errorf("cache_set needs a key template")
	}
	return compiledStep{kind: StepCacheSet, arrayAware: true, soft: true, run: func(ctx context.Context, c *Context, in Value) (Value, error) {
		svc := c.Services()
		if svc.Cache == nil {
			return in, nil
		}
		k, err := key.Render(c)
		if err != nil {
			return in, err
		}
		raw, err := cacheEncode(in)
		if err != nil {
			return in, err
		}
		if err := svc.Cache.Set(ctx, k, raw, ttl); err != nil {
			return in, &CapabilityError{Port: "cache", Err: err}
		}
		return in, nil
	}}, nil
}
