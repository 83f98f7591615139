// Package fetch implements the Fetcher port over resty with per-host
// rate limiting and automatic credential injection.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"ruleflow/runtime"
)

// Options configures a Client.
type Options struct {
	Timeout   time.Duration     // per-request timeout, 0 means DefaultTimeout
	RateLimit float64           // requests per second per host, 0 disables
	Headers   map[string]string // applied to every request
	UserAgent string
	Retries   int
}

const DefaultTimeout = 30 * time.Second

// Client performs HTTP requests for the engine. Safe for concurrent
// use; limiters are shared per host across invocations.
type Client struct {
	http        *resty.Client
	rateLimit   float64
	credentials runtime.CredentialStore
	l           *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewClient(opts Options, credentials runtime.CredentialStore, l *slog.Logger) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	hc := resty.New().
		SetTimeout(timeout).
		SetRetryCount(opts.Retries).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	for k, v := range opts.Headers {
		hc.SetHeader(k, v)
	}
	if opts.UserAgent != "" {
		hc.SetHeader("User-Agent", opts.UserAgent)
	}
	return &Client{
		http:        hc,
		rateLimit:   opts.RateLimit,
		credentials: credentials,
		l:           l,
		limiters:    make(map[string]*rate.Limiter),
	}
}

func (c *Client) Do(ctx context.Context, req *runtime.FetchRequest) (*runtime.FetchResponse, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, &runtime.CapabilityError{Port: "fetch", Err: fmt.Errorf("bad url %q: %w", req.URL, err)}
	}

	if err := c.waitHost(ctx, target.Hostname()); err != nil {
		return nil, &runtime.CapabilityError{Port: "fetch", Err: err}
	}

	r := c.http.R().SetContext(ctx).SetHeaders(req.Headers)
	if len(req.Body) > 0 {
		r.SetBody(req.Body)
	}
	c.injectCredentials(r, target.Hostname(), req.Headers)

	method := req.Method
	if method == "" {
		method = "GET"
	}
	c.l.Debug("fetch", "method", method, "url", req.URL)
	resp, err := r.Execute(strings.ToUpper(method), req.URL)
	if err != nil {
		if isTimeout(err) {
			return nil, &runtime.Timeout{Port: "fetch", Err: err}
		}
		return nil, &runtime.CapabilityError{Port: "fetch", Err: err}
	}

	final := req.URL
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		final = raw.Request.URL.String()
	}
	return &runtime.FetchResponse{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
		Headers:    resp.Header(),
		FinalURL:   final,
	}, nil
}

// waitHost blocks on the host's rate limiter.
func (c *Client) waitHost(ctx context.Context, host string) error {
	if c.rateLimit <= 0 {
		return nil
	}
	c.mu.Lock()
	lim, ok := c.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.rateLimit), 1)
		c.limiters[host] = lim
	}
	c.mu.Unlock()
	return lim.Wait(ctx)
}

// injectCredentials attaches stored session material for the host
// unless the request already carries its own value for the header.
func (c *Client) injectCredentials(r *resty.Request, host string, explicit map[string]string) {
	if c.credentials == nil {
		return
	}
	cred, ok := c.credentials.Retrieve(host)
	if !ok || cred.Expired() {
		return
	}
	switch cred.Kind {
	case "cookie":
		if _, has := explicit["Cookie"]; has {
			return
		}
		pairs := make([]string, 0, len(cred.Values))
		for _, name := range sortedKeys(cred.Values) {
			pairs = append(pairs, name+"="+cred.Values[name])
		}
		r.SetHeader("Cookie", strings.Join(pairs, "; "))
	case "token":
		if _, has := explicit["Authorization"]; has {
			return
		}
		if tok, ok := cred.Values["token"]; ok {
			r.SetHeader("Authorization", "Bearer "+tok)
		}
	case "header":
		for k, v := range cred.Values {
			if _, has := explicit[k]; !has {
				r.SetHeader(k, v)
			}
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
