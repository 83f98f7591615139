package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// itemParallelism caps concurrent per-item sub-extractions within one
// response.
const itemParallelism = 8

// searchExecutor drives the Search state machine; Discovery reuses it
// with its category/filter/sort parameters merged into the scope
// before the template renders.
//
// Stages: template -> fetch -> list -> extract.
type searchExecutor struct {
	kind       FlowKind
	rule       *Rule
	url        Template
	method     string
	headers    map[string]string
	list       *FieldExtractor
	fields     map[string]*FieldExtractor
	pagination *Pagination
	l          *slog.Logger
}

func newSearchExecutor(rule *Rule, l *slog.Logger) *searchExecutor {
	f := rule.Flows.Search
	return &searchExecutor{
		kind:       FlowSearch,
		rule:       rule,
		url:        f.URL,
		method:     f.Method,
		headers:    f.Headers,
		list:       f.List,
		fields:     f.Fields,
		pagination: f.Pagination,
		l:          l,
	}
}

func newDiscoveryExecutor(rule *Rule, l *slog.Logger) *searchExecutor {
	f := rule.Flows.Discovery
	return &searchExecutor{
		kind:       FlowDiscovery,
		rule:       rule,
		url:        f.URL,
		method:     f.Method,
		headers:    f.Headers,
		list:       f.List,
		fields:     f.Fields,
		pagination: f.Pagination,
		l:          l,
	}
}

func (e *searchExecutor) execute(ctx context.Context, c *Context) (*SearchResult, error) {
	doc, _, err := fetchDocument(ctx, c, e.kind, e.rule, e.url, e.method, e.headers)
	if err != nil {
		return nil, err
	}

	nodes, warnings, err := e.locateItems(ctx, c, doc)
	if err != nil {
		return nil, err
	}
	e.l.Debug("item nodes located", "flow", e.kind, "count", len(nodes))

	items, itemWarnings, err := e.extractItems(ctx, c, nodes)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, itemWarnings...)

	result := &SearchResult{Items: items, Warnings: warnings}
	if e.pagination != nil && e.pagination.HasNext != nil {
		flag, w := e.pagination.HasNext.Extract(ctx, "has_next", c, doc)
		result.Warnings = append(result.Warnings, w...)
		result.HasNext = truthy(flag)
	}
	return result, nil
}

// locateItems runs the list extractor and normalizes its output to the
// ordered item node sequence.
func (e *searchExecutor) locateItems(ctx context.Context, c *Context, doc Value) ([]Value, []Warning, error) {
	v, warnings := e.list.Extract(ctx, "list", c, doc)
	switch v.Kind() {
	case KindNull:
		return nil, warnings, nil
	case KindArray:
		return v.Items(), warnings, nil
	default:
		// A single match is a one-item list.
		return []Value{v}, warnings, nil
	}
}

// extractItems runs the field group once per item node. Sub-extraction
// is parallel, but each item writes its own slot so the assembled list
// keeps document order whatever the completion order; each goroutine
// gets its own child Context.
func (e *searchExecutor) extractItems(parent context.Context, c *Context, nodes []Value) ([]Item, []Warning, error) {
	items := make([]Item, len(nodes))
	warningsPer := make([][]Warning, len(nodes))

	g, ctx := errgroup.WithContext(parent)
	g.SetLimit(itemParallelism)
	for i, node := range nodes {
		g.Go(func() error {
			child := c.Child()
			child.Set("item_index", i)
			fields, w := extractGroup(ctx, child, e.fields, node)
			items[i] = fields
			warningsPer[i] = w
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, flowErr(e.kind, StageExtract, "", fmt.Errorf("item extraction cancelled: %w", err))
	}

	var warnings []Warning
	for _, w := range warningsPer {
		warnings = append(warnings, w...)
	}
	return items, warnings, nil
}
