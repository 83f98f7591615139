package runtime

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// FlowKind names the five execution recipes a rule may declare.
type FlowKind string

const (
	FlowSearch    FlowKind = "search"
	FlowDiscovery FlowKind = "discovery"
	FlowDetail    FlowKind = "detail"
	FlowContent   FlowKind = "content"
	FlowLogin     FlowKind = "login"
)

// MediaKind classifies what a rule's site serves; it selects the
// detail field group and the content payload shape.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
	MediaBook  MediaKind = "book"
	MediaManga MediaKind = "manga"
)

// Rule is one parsed, immutable rule document. Loaded once and shared
// by reference for the runtime instance's lifetime; never mutated
// after Load returns.
type Rule struct {
	Meta  MetaConfig `yaml:"meta"`
	HTTP  HTTPConfig `yaml:"http"`
	Flows Flows      `yaml:"flows"`
}

type MetaConfig struct {
	Name      string    `yaml:"name" validate:"required"`
	Version   string    `yaml:"version"`
	BaseURL   string    `yaml:"base_url" validate:"required,url_format"`
	Domain    string    `yaml:"domain" validate:"required"`
	MediaType MediaKind `yaml:"media_type" validate:"required,oneof=video audio book manga"`
}

type HTTPConfig struct {
	Headers   map[string]string `yaml:"headers"`
	Timeout   time.Duration     `yaml:"timeout" default:"30s" validate:"gte=0"`
	RateLimit float64           `yaml:"rate_limit" validate:"gte=0"` // requests per second, 0 = unlimited
}

type Flows struct {
	Search    *SearchFlow    `yaml:"search"`
	Discovery *DiscoveryFlow `yaml:"discovery"`
	Detail    *DetailFlow    `yaml:"detail"`
	Content   *ContentFlow   `yaml:"content"`
	Login     *LoginFlow     `yaml:"login"`
}

// Template is a string carrying {{ variable }} interpolation syntax.
type Template string

// Render produces the concrete string against the given scope.
func (t Template) Render(ctx *Context) (string, error) {
	return ctx.Services().Templates.Render(string(t), ctx)
}

// SearchFlow: render url -> fetch -> locate item nodes -> per-item
// field extraction -> ordered list + pagination flag.
type SearchFlow struct {
	URL        Template                   `yaml:"url"`
	Method     string                     `yaml:"method"`
	Headers    map[string]string          `yaml:"headers"`
	List       *FieldExtractor            `yaml:"list"`
	Fields     map[string]*FieldExtractor `yaml:"fields"`
	Pagination *Pagination                `yaml:"pagination"`
}

// Pagination extracts the has-next flag from the fetched document.
type Pagination struct {
	HasNext *FieldExtractor `yaml:"has_next"`
}

// DiscoveryFlow is the Search shape parameterized by category, filter
// and sort values merged into the template scope before rendering.
type DiscoveryFlow struct {
	URL        Template                   `yaml:"url"`
	Method     string                     `yaml:"method"`
	Headers    map[string]string          `yaml:"headers"`
	Params     map[string]any             `yaml:"params"`
	List       *FieldExtractor            `yaml:"list"`
	Fields     map[string]*FieldExtractor `yaml:"fields"`
	Pagination *Pagination                `yaml:"pagination"`
}

// FieldGroup is the per-media-kind set of detail field extractors.
type FieldGroup map[string]*FieldExtractor

// DetailFlow: render url -> fetch -> dispatch to the group matching
// the rule's media kind -> typed detail record.
type DetailFlow struct {
	URL     Template                 `yaml:"url"`
	Method  string                   `yaml:"method"`
	Headers map[string]string        `yaml:"headers"`
	Groups  map[MediaKind]FieldGroup `yaml:"groups"`
}

// ContentFlow: render url -> fetch -> optional script decode ->
// payload extraction -> optional bounded pagination follow via next.
type ContentFlow struct {
	URL     Template          `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
	Script  *ScriptConfig     `yaml:"script"`
	Payload *FieldExtractor   `yaml:"payload"`
	Next    *FieldExtractor   `yaml:"next"`
}

// ScriptConfig names a script engine kind and the source to run.
type ScriptConfig struct {
	Engine string `yaml:"engine"`
	Source string `yaml:"source"`
}

// LoginFlow declares exactly one of three mutually exclusive
// strategies.
type LoginFlow struct {
	Script     *ScriptLogin     `yaml:"script"`
	Webview    *WebviewLogin    `yaml:"webview"`
	Credential *CredentialLogin `yaml:"credential"`
}

// Variant returns the declared strategy name.
func (l *LoginFlow) Variant() string {
	switch {
	case l.Script != nil:
		return "script"
	case l.Webview != nil:
		return "webview"
	default:
		return "credential"
	}
}

// ScriptLogin executes a script whose JSON output is the credential
// payload: {"kind": "cookie", "values": {...}, "expires_in": 3600}.
type ScriptLogin struct {
	Engine string `yaml:"engine"`
	Source string `yaml:"source"`
}

// WebviewLogin delegates to the injected UI capability.
type WebviewLogin struct {
	URL             Template      `yaml:"url"`
	CookieDomain    string        `yaml:"cookie_domain"`
	SuccessSelector string        `yaml:"success_selector"`
	Timeout         time.Duration `yaml:"timeout"`
}

// CredentialLogin submits form fields via fetch and parses the
// response for session material.
type CredentialLogin struct {
	URL     Template            `yaml:"url"`
	Method  string              `yaml:"method"`
	Fields  map[string]Template `yaml:"fields"`
	Success *SuccessCheck       `yaml:"success"`
	Token   *FieldExtractor     `yaml:"token"`
}

// SuccessCheck verifies a credential login response. Status checks the
// HTTP code; JSONPath compares the value at a path with Expect.
type SuccessCheck struct {
	Status   int    `yaml:"status"`
	JSONPath string `yaml:"json_path"`
	Expect   any    `yaml:"expect"`
}

// FieldExtractor is a named field's ordered step chain plus recovery
// configuration. Compiled once at rule load; the compiled strategies
// are reused by every invocation.
type FieldExtractor struct {
	Steps    []Step   `yaml:"steps"`
	Fallback [][]Step `yaml:"fallback"`
	Default  any      `yaml:"default"`
	Nullable bool     `yaml:"nullable"`

	compiled         []compiledStep
	compiledFallback [][]compiledStep
}

// LoadRuleFile reads and loads a rule document from disk.
func LoadRuleFile(path string) (*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &RuleLoadError{Source: path, Err: err}
	}
	return LoadRule(data, path)
}

// LoadRule parses, validates and compiles a rule document. Unknown
// fields anywhere in the document reject it whole.
func LoadRule(data []byte, source string) (*Rule, error) {
	if source == "" {
		source = "<inline>"
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var rule Rule
	if err := dec.Decode(&rule); err != nil {
		return nil, &RuleLoadError{Source: source, Err: err}
	}
	if err := rule.validate(); err != nil {
		return nil, &RuleLoadError{Source: source, Err: err}
	}
	if err := rule.compile(); err != nil {
		return nil, &RuleLoadError{Source: source, Err: err}
	}
	return &rule, nil
}

func (r *Rule) validate() error {
	if err := validateConfig(r.Meta); err != nil {
		return fmt.Errorf("meta: %w", err)
	}
	if err := prepareConfig(&r.HTTP); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	f := r.Flows
	if f.Search == nil && f.Discovery == nil && f.Detail == nil && f.Content == nil && f.Login == nil {
		return fmt.Errorf("rule declares no flows")
	}
	if f.Search != nil {
		if f.Search.URL == "" {
			return fmt.Errorf("search: url is required")
		}
		if f.Search.List == nil {
			return fmt.Errorf("search: list extractor is required")
		}
	}
	if f.Discovery != nil {
		if f.Discovery.URL == "" {
			return fmt.Errorf("discovery: url is required")
		}
		if f.Discovery.List == nil {
			return fmt.Errorf("discovery: list extractor is required")
		}
	}
	if f.Detail != nil {
		if f.Detail.URL == "" {
			return fmt.Errorf("detail: url is required")
		}
		if len(f.Detail.Groups) == 0 {
			return fmt.Errorf("detail: at least one field group is required")
		}
	}
	if f.Content != nil {
		if f.Content.URL == "" {
			return fmt.Errorf("content: url is required")
		}
		if f.Content.Payload == nil {
			return fmt.Errorf("content: payload extractor is required")
		}
	}
	if f.Login != nil {
		declared := 0
		if f.Login.Script != nil {
			declared++
		}
		if f.Login.Webview != nil {
			declared++
		}
		if f.Login.Credential != nil {
			declared++
		}
		if declared != 1 {
			return fmt.Errorf("login: exactly one of script, webview, credential must be declared, got %d", declared)
		}
	}
	return nil
}

// compile resolves every step descriptor to its executor strategy.
// Descriptor problems (bad regexes, unknown step parameters) surface
// here, at load time, not per invocation.
func (r *Rule) compile() error {
	for _, fe := range r.fieldExtractors() {
		if err := fe.compileSteps(); err != nil {
			return err
		}
	}
	return nil
}

// fieldExtractors enumerates every extractor the rule declares, in a
// stable order.
func (r *Rule) fieldExtractors() []*FieldExtractor {
	var out []*FieldExtractor
	add := func(fe *FieldExtractor) {
		if fe != nil {
			out = append(out, fe)
		}
	}
	addFields := func(fields map[string]*FieldExtractor) {
		for _, name := range sortedKeys(fields) {
			add(fields[name])
		}
	}

	f := r.Flows
	if f.Search != nil {
		add(f.Search.List)
		addFields(f.Search.Fields)
		if f.Search.Pagination != nil {
			add(f.Search.Pagination.HasNext)
		}
	}
	if f.Discovery != nil {
		add(f.Discovery.List)
		addFields(f.Discovery.Fields)
		if f.Discovery.Pagination != nil {
			add(f.Discovery.Pagination.HasNext)
		}
	}
	if f.Detail != nil {
		kinds := make([]string, 0, len(f.Detail.Groups))
		for k := range f.Detail.Groups {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			addFields(f.Detail.Groups[MediaKind(k)])
		}
	}
	if f.Content != nil {
		add(f.Content.Payload)
		add(f.Content.Next)
	}
	if f.Login != nil && f.Login.Credential != nil {
		add(f.Login.Credential.Token)
	}
	return out
}

// RequiredScriptEngines scans the rule for the script engine kinds it
// needs, so the runtime can build exactly those at construction.
func (r *Rule) RequiredScriptEngines() []string {
	kinds := make(map[string]bool)
	for _, fe := range r.fieldExtractors() {
		collectScriptKinds(fe.Steps, kinds)
		for _, chain := range fe.Fallback {
			collectScriptKinds(chain, kinds)
		}
	}
	if c := r.Flows.Content; c != nil && c.Script != nil {
		kinds[c.Script.Engine] = true
	}
	if l := r.Flows.Login; l != nil && l.Script != nil {
		kinds[l.Script.Engine] = true
	}
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func collectScriptKinds(steps []Step, kinds map[string]bool) {
	for _, s := range steps {
		if s.Kind == StepScript && s.Script != nil {
			kinds[s.Script.Engine] = true
		}
		if s.Kind == StepMap {
			collectScriptKinds(s.Map, kinds)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
