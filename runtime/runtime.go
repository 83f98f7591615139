package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Runtime binds one loaded Rule to a Services bundle and exposes the
// flow entry points. A Runtime is immutable after New and safe to use
// from concurrent invocations: each invocation builds its own root
// Context over the shared Services.
type Runtime struct {
	rule     *Rule
	services *Services
	l        *slog.Logger
}

func New(rule *Rule, services *Services) (*Runtime, error) {
	if rule == nil {
		return nil, fmt.Errorf("rule is nil")
	}
	if services == nil {
		return nil, fmt.Errorf("services is nil")
	}
	return &Runtime{rule: rule, services: services, l: services.Logger}, nil
}

// Rule returns the bound rule document.
func (r *Runtime) Rule() *Rule { return r.rule }

// rootContext builds a fresh top-level scope for one invocation,
// seeded with the rule's globals and the caller's parameters.
func (r *Runtime) rootContext(params map[string]any) *Context {
	seed := map[string]any{
		"base_url":   r.rule.Meta.BaseURL,
		"domain":     r.rule.Meta.Domain,
		"media_type": string(r.rule.Meta.MediaType),
	}
	for k, v := range params {
		seed[k] = v
	}
	return NewContext(r.services, seed)
}

func (r *Runtime) invocationLogger(kind FlowKind) *slog.Logger {
	return r.l.With("rule", r.rule.Meta.Name, "flow", kind, "invocation", uuid.New().String())
}

// Search runs the search flow.
func (r *Runtime) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if r.rule.Flows.Search == nil {
		return nil, flowErr(FlowSearch, StageDispatch, "", fmt.Errorf("rule %q declares no search flow", r.rule.Meta.Name))
	}
	l := r.invocationLogger(FlowSearch)
	c := r.rootContext(map[string]any{"keyword": req.Keyword, "page": req.Page})
	return newSearchExecutor(r.rule, l).execute(ctx, c)
}

// Discover runs the discovery flow with its category/filter/sort
// parameters merged into the template scope.
func (r *Runtime) Discover(ctx context.Context, req DiscoveryRequest) (*SearchResult, error) {
	if r.rule.Flows.Discovery == nil {
		return nil, flowErr(FlowDiscovery, StageDispatch, "", fmt.Errorf("rule %q declares no discovery flow", r.rule.Meta.Name))
	}
	l := r.invocationLogger(FlowDiscovery)
	params := map[string]any{"category": req.Category, "sort": req.Sort, "page": req.Page}
	for k, v := range r.rule.Flows.Discovery.Params {
		params[k] = v
	}
	for k, v := range req.Filters {
		params[k] = v
	}
	c := r.rootContext(params)
	return newDiscoveryExecutor(r.rule, l).execute(ctx, c)
}

// Detail runs the detail flow for one item URL.
func (r *Runtime) Detail(ctx context.Context, req DetailRequest) (*DetailResult, error) {
	if r.rule.Flows.Detail == nil {
		return nil, flowErr(FlowDetail, StageDispatch, "", fmt.Errorf("rule %q declares no detail flow", r.rule.Meta.Name))
	}
	l := r.invocationLogger(FlowDetail)
	c := r.rootContext(map[string]any{"url": req.URL})
	return newDetailExecutor(r.rule, l).execute(ctx, c)
}

// Content runs the content flow. req.MaxDepth bounds pagination
// follows; the zero value follows none.
func (r *Runtime) Content(ctx context.Context, req ContentRequest) (*ContentResult, error) {
	if r.rule.Flows.Content == nil {
		return nil, flowErr(FlowContent, StageDispatch, "", fmt.Errorf("rule %q declares no content flow", r.rule.Meta.Name))
	}
	l := r.invocationLogger(FlowContent)
	c := r.rootContext(map[string]any{"url": req.URL})
	return newContentExecutor(r.rule, l).execute(ctx, c, req.MaxDepth)
}

// Login runs the login flow.
func (r *Runtime) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if r.rule.Flows.Login == nil {
		return nil, flowErr(FlowLogin, StageDispatch, "", fmt.Errorf("rule %q declares no login flow", r.rule.Meta.Name))
	}
	l := r.invocationLogger(FlowLogin)
	inputs := make(map[string]any, len(req.Inputs))
	for k, v := range req.Inputs {
		inputs[k] = v
	}
	c := r.rootContext(map[string]any{"inputs": inputs})
	return newLoginExecutor(r.rule, l).execute(ctx, c)
}

// Execute selects a flow by name, decodes the generic parameter map
// into the flow's typed request and drives the matching executor. The
// first fatal FlowError propagates unchanged.
func (r *Runtime) Execute(ctx context.Context, kind FlowKind, params map[string]any) (*FlowResult, error) {
	switch kind {
	case FlowSearch:
		var req SearchRequest
		if err := mapToStruct(params, &req); err != nil {
			return nil, fmt.Errorf("search parameters: %w", err)
		}
		res, err := r.Search(ctx, req)
		if err != nil {
			return nil, err
		}
		return &FlowResult{Kind: kind, Search: res}, nil
	case FlowDiscovery:
		var req DiscoveryRequest
		if err := mapToStruct(params, &req); err != nil {
			return nil, fmt.Errorf("discovery parameters: %w", err)
		}
		res, err := r.Discover(ctx, req)
		if err != nil {
			return nil, err
		}
		return &FlowResult{Kind: kind, Discovery: res}, nil
	case FlowDetail:
		var req DetailRequest
		if err := mapToStruct(params, &req); err != nil {
			return nil, fmt.Errorf("detail parameters: %w", err)
		}
		res, err := r.Detail(ctx, req)
		if err != nil {
			return nil, err
		}
		return &FlowResult{Kind: kind, Detail: res}, nil
	case FlowContent:
		var req ContentRequest
		if err := mapToStruct(params, &req); err != nil {
			return nil, fmt.Errorf("content parameters: %w", err)
		}
		res, err := r.Content(ctx, req)
		if err != nil {
			return nil, err
		}
		return &FlowResult{Kind: kind, Content: res}, nil
	case FlowLogin:
		var req LoginRequest
		if err := mapToStruct(params, &req); err != nil {
			return nil, fmt.Errorf("login parameters: %w", err)
		}
		res, err := r.Login(ctx, req)
		if err != nil {
			return nil, err
		}
		return &FlowResult{Kind: kind, Login: res}, nil
	default:
		return nil, fmt.Errorf("unknown flow %q", kind)
	}
}
