package runtime

import (
	"context"
	"net/http"
	"time"
)

// Capability ports. The engine delegates every non-core responsibility
// (network, selector evaluation, scripting, cache, UI, credentials)
// through these interfaces; implementations live outside the core and
// are injected via Services.

// SelectorKind identifies a selector expression dialect.
type SelectorKind string

const (
	SelectorCSS   SelectorKind = "css"
	SelectorXPath SelectorKind = "xpath"
	SelectorJSON  SelectorKind = "json"
	SelectorRegex SelectorKind = "regex"
)

// Selector evaluates an expression against a document-like value and
// returns matches in document order. No match yields an empty slice,
// never an error.
type Selector interface {
	Evaluate(expr string, doc Value) ([]Value, error)
}

// FetchRequest describes one outbound request.
type FetchRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// FetchResponse is the raw result of a fetch.
type FetchResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	FinalURL   string
}

// Fetcher performs HTTP requests. Timeouts and cancellation are the
// port's responsibility; they surface as Timeout or CapabilityError.
type Fetcher interface {
	Do(ctx context.Context, req *FetchRequest) (*FetchResponse, error)
}

// ScriptEngine executes rule-supplied scripts with a JSON-like input
// and returns a JSON-like output.
type ScriptEngine interface {
	Name() string
	Execute(ctx context.Context, source string, input any) (any, error)
}

// CacheStorage is a byte-oriented cache. A miss is (nil, false, nil).
// Write failures are non-fatal to extraction pipelines; callers log
// them and continue.
type CacheStorage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// WebViewRequest asks the UI layer to open an interactive page.
type WebViewRequest struct {
	URL             string
	Title           string
	SuccessSelector string
	Timeout         time.Duration
}

// WebViewResult carries the session material collected when the page
// resolved. Cancelled is set when the user dismissed the view.
type WebViewResult struct {
	Cookies   map[string]string
	Headers   map[string]string
	FinalURL  string
	Cancelled bool
}

// WebViewProvider opens an interactive page and blocks until it
// resolves, times out, or the user cancels.
type WebViewProvider interface {
	Open(ctx context.Context, req WebViewRequest) (*WebViewResult, error)
}

// Credential is authentication material scoped to one domain.
type Credential struct {
	Domain     string
	Kind       string // cookie, token, header
	Values     map[string]string
	ObtainedAt time.Time
	ExpiresAt  time.Time // zero means no expiry
}

// Expired reports whether the credential is past its expiry.
func (c Credential) Expired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// CredentialStore tracks credentials obtained via login flows so they
// can be reused on subsequent requests to the same domain.
type CredentialStore interface {
	Store(cred Credential) error
	Retrieve(domain string) (Credential, bool)
}
