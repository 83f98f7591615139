package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// contentExecutor drives the Content state machine.
//
// Stages per page: template -> fetch -> script (optional) -> extract,
// then an optional paginate stage follows the "next" field. The follow
// count is bounded by the caller's MaxDepth; a malformed always-present
// "next" chain can never recurse past it.
type contentExecutor struct {
	rule *Rule
	flow *ContentFlow
	l    *slog.Logger
}

func newContentExecutor(rule *Rule, l *slog.Logger) *contentExecutor {
	return &contentExecutor{rule: rule, flow: rule.Flows.Content, l: l}
}

func (e *contentExecutor) execute(ctx context.Context, c *Context, maxDepth int) (*ContentResult, error) {
	if maxDepth < 0 {
		return nil, flowErr(FlowContent, StagePaginate, "", fmt.Errorf("max_depth must not be negative, got %d", maxDepth))
	}

	result := &ContentResult{MediaKind: e.rule.Meta.MediaType}
	var texts []string

	for follow := 0; ; follow++ {
		doc, _, err := fetchDocument(ctx, c, FlowContent, e.rule, e.flow.URL, e.flow.Method, e.flow.Headers)
		if err != nil {
			return nil, err
		}
		result.Pages++

		if e.flow.Script != nil {
			doc, err = e.decode(ctx, c, doc)
			if err != nil {
				return nil, err
			}
		}

		payload, warnings := e.flow.Payload.Extract(ctx, "payload", c, doc)
		result.Warnings = append(result.Warnings, warnings...)
		e.accumulate(result, &texts, payload)

		if e.flow.Next == nil || follow >= maxDepth {
			break
		}
		next, warnings := e.flow.Next.Extract(ctx, "next", c, doc)
		result.Warnings = append(result.Warnings, warnings...)
		nextURL, ok := next.AsText()
		if !ok || strings.TrimSpace(nextURL) == "" {
			break
		}
		e.l.Debug("following next page", "url", nextURL, "follow", follow+1)
		c.Set("url", nextURL)
	}

	if result.MediaKind == MediaBook {
		result.Text = strings.Join(texts, "\n\n")
	}
	return result, nil
}

// decode runs the declared script over the fetched document and
// replaces it with the script's output.
func (e *contentExecutor) decode(ctx context.Context, c *Context, doc Value) (Value, error) {
	eng, err := c.Services().ScriptEngine(e.flow.Script.Engine)
	if err != nil {
		return Null(), flowErr(FlowContent, StageScript, e.flow.Script.Engine, err)
	}
	out, err := eng.Execute(ctx, e.flow.Script.Source, doc.AsJSON())
	if err != nil {
		return Null(), flowErr(FlowContent, StageScript, e.flow.Script.Engine, err)
	}
	return FromJSON(out), nil
}

// accumulate folds one page's payload into the media-keyed result.
func (e *contentExecutor) accumulate(result *ContentResult, texts *[]string, payload Value) {
	switch e.rule.Meta.MediaType {
	case MediaBook:
		if s, ok := payload.AsText(); ok && s != "" {
			*texts = append(*texts, s)
		}
	case MediaManga:
		result.Images = append(result.Images, flattenStrings(payload)...)
	case MediaVideo, MediaAudio:
		if result.PlayURL == "" {
			if s, ok := payload.AsText(); ok {
				result.PlayURL = s
			}
		}
	}
}

func flattenStrings(v Value) []string {
	switch v.Kind() {
	case KindArray:
		var out []string
		for _, item := range v.Items() {
			out = append(out, flattenStrings(item)...)
		}
		return out
	case KindNull:
		return nil
	default:
		if s, ok := v.AsText(); ok && s != "" {
			return []string{s}
		}
		return nil
	}
}
