package runtime

import (
	"context"
	"fmt"
	"log/slog"
)

// detailExecutor drives the Detail state machine.
//
// Stages: template -> fetch -> dispatch -> extract.
type detailExecutor struct {
	rule *Rule
	flow *DetailFlow
	l    *slog.Logger
}

func newDetailExecutor(rule *Rule, l *slog.Logger) *detailExecutor {
	return &detailExecutor{rule: rule, flow: rule.Flows.Detail, l: l}
}

func (e *detailExecutor) execute(ctx context.Context, c *Context) (*DetailResult, error) {
	doc, _, err := fetchDocument(ctx, c, FlowDetail, e.rule, e.flow.URL, e.flow.Method, e.flow.Headers)
	if err != nil {
		return nil, err
	}

	kind := e.rule.Meta.MediaType
	group, ok := e.flow.Groups[kind]
	if !ok {
		return nil, flowErr(FlowDetail, StageDispatch, string(kind),
			fmt.Errorf("detail flow declares no field group for media kind %q", kind))
	}

	fields, warnings := extractGroup(ctx, c, group, doc)
	return &DetailResult{MediaKind: kind, Fields: fields, Warnings: warnings}, nil
}
