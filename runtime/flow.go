package runtime

import (
	"context"
	"encoding/json"
	neturl "net/url"
	"strings"
)

// Flow invocation requests, one per flow kind. These are the caller
// supplied parameters seeded into the root Context.

type SearchRequest struct {
	Keyword string `json:"keyword"`
	Page    int    `json:"page"`
}

type DiscoveryRequest struct {
	Category string            `json:"category"`
	Filters  map[string]string `json:"filters"`
	Sort     string            `json:"sort"`
	Page     int               `json:"page"`
}

type DetailRequest struct {
	URL string `json:"url"`
}

type ContentRequest struct {
	URL string `json:"url"`
	// MaxDepth bounds how many "next" links a paginated content flow
	// may follow. It is explicit configuration: the zero value follows
	// none, there is no unbounded default.
	MaxDepth int `json:"max_depth"`
}

type LoginRequest struct {
	Inputs map[string]string `json:"inputs"`
}

// Item is one extracted entry of a search or discovery result list.
type Item map[string]any

// SearchResult is the outcome of a Search or Discovery invocation.
// Items are in document order of the matched item nodes, regardless of
// any internal parallelism.
type SearchResult struct {
	Items    []Item    `json:"items"`
	HasNext  bool      `json:"has_next"`
	Warnings []Warning `json:"-"`
}

// DetailResult is a typed detail record keyed by media kind.
type DetailResult struct {
	MediaKind MediaKind      `json:"media_kind"`
	Fields    map[string]any `json:"fields"`
	Warnings  []Warning      `json:"-"`
}

// ContentResult carries the media-keyed payload of a content flow.
// Exactly one of Text, PlayURL, Images is populated, per media kind.
type ContentResult struct {
	MediaKind MediaKind `json:"media_kind"`
	Text      string    `json:"text,omitempty"`
	PlayURL   string    `json:"play_url,omitempty"`
	Images    []string  `json:"images,omitempty"`
	Pages     int       `json:"pages"`
	Warnings  []Warning `json:"-"`
}

// CredentialSummary describes stored login material without exposing
// the secret values.
type CredentialSummary struct {
	Domain string   `json:"domain"`
	Kind   string   `json:"kind"`
	Keys   []string `json:"keys"`
}

// LoginResult is binary: Success with a credential summary, or a
// failure reason. Never partial.
type LoginResult struct {
	Success    bool               `json:"success"`
	Reason     string             `json:"reason,omitempty"`
	Credential *CredentialSummary `json:"credential,omitempty"`
}

// FlowResult is the tagged result of a by-name invocation.
type FlowResult struct {
	Kind      FlowKind       `json:"kind"`
	Search    *SearchResult  `json:"search,omitempty"`
	Discovery *SearchResult  `json:"discovery,omitempty"`
	Detail    *DetailResult  `json:"detail,omitempty"`
	Content   *ContentResult `json:"content,omitempty"`
	Login     *LoginResult   `json:"login,omitempty"`
}

// fetchDocument runs the render and fetch stages shared by every flow
// kind and wraps the response body as a document value: JSON bodies
// are parsed, everything else is treated as markup. The returned
// value borrows the response memory; steps promote as needed.
func fetchDocument(ctx context.Context, c *Context, kind FlowKind, rule *Rule, url Template, method string, headers map[string]string) (Value, *FetchResponse, error) {
	target, err := url.Render(c)
	if err != nil {
		return Null(), nil, flowErr(kind, StageTemplate, string(url), err)
	}

	if method == "" {
		method = "GET"
	}
	merged := make(map[string]string, len(rule.HTTP.Headers)+len(headers))
	for k, v := range rule.HTTP.Headers {
		merged[k] = v
	}
	for k, v := range headers {
		merged[k] = v
	}

	svc := c.Services()
	if svc.Fetch == nil {
		return Null(), nil, flowErr(kind, StageFetch, target, &CapabilityError{Port: "fetch", Err: errNoFetcher})
	}
	if rule.HTTP.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rule.HTTP.Timeout)
		defer cancel()
	}
	if u, err := neturl.Parse(target); err == nil {
		if err := svc.waitHost(ctx, u.Hostname(), rule.HTTP.RateLimit); err != nil {
			return Null(), nil, flowErr(kind, StageFetch, target, &CapabilityError{Port: "fetch", Err: err})
		}
	}
	resp, err := svc.Fetch.Do(ctx, &FetchRequest{Method: method, URL: target, Headers: merged})
	if err != nil {
		return Null(), nil, flowErr(kind, StageFetch, target, err)
	}

	return documentValue(resp), resp, nil
}

var errNoFetcher = errString("no fetcher registered")

type errString string

func (e errString) Error() string { return string(e) }

func documentValue(resp *FetchResponse) Value {
	body := string(resp.Body)
	ct := resp.Headers.Get("Content-Type")
	if strings.Contains(ct, "json") || looksLikeJSON(body) {
		var parsed any
		if err := json.Unmarshal(resp.Body, &parsed); err == nil {
			return JSON(parsed)
		}
	}
	return BorrowedHTML(body)
}

func looksLikeJSON(body string) bool {
	t := strings.TrimSpace(body)
	return strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[")
}

// truthy maps an extracted value onto the pagination flag.
func truthy(v Value) bool {
	switch v.Kind() {
	case KindNull:
		return false
	case KindString, KindHTML:
		s, _ := v.AsText()
		s = strings.TrimSpace(strings.ToLower(s))
		return s != "" && s != "false" && s != "0" && s != "null"
	case KindJSON:
		switch j := v.AsJSON().(type) {
		case bool:
			return j
		case float64:
			return j != 0
		case string:
			return j != "" && j != "false" && j != "0"
		case nil:
			return false
		default:
			return true
		}
	case KindArray:
		return len(v.Items()) > 0
	}
	return false
}
