package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServices() *Services {
	return NewServices(testLogger())
}

// fakeSelector routes expressions to canned handlers.
type fakeSelector struct {
	handlers map[string]func(doc Value) ([]Value, error)
}

func (f *fakeSelector) Evaluate(expr string, doc Value) ([]Value, error) {
	h, ok := f.handlers[expr]
	if !ok {
		return nil, nil
	}
	return h(doc)
}

// fakeFetcher serves canned responses keyed by URL and records the
// order of requests.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]*FetchResponse
	fallback  *FetchResponse
	err       error
	requests  []*FetchRequest
}

func (f *fakeFetcher) Do(_ context.Context, req *FetchRequest) (*FetchResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if resp, ok := f.responses[req.URL]; ok {
		return resp, nil
	}
	if f.fallback != nil {
		return f.fallback, nil
	}
	return nil, fmt.Errorf("no canned response for %s", req.URL)
}

func (f *fakeFetcher) requestURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	urls := make([]string, len(f.requests))
	for i, r := range f.requests {
		urls[i] = r.URL
	}
	return urls
}

func htmlResponse(body string) *FetchResponse {
	return &FetchResponse{
		StatusCode: 200,
		Body:       []byte(body),
		Headers:    http.Header{"Content-Type": []string{"text/html"}},
	}
}

func jsonResponse(body string) *FetchResponse {
	return &FetchResponse{
		StatusCode: 200,
		Body:       []byte(body),
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
	}
}

// fakeCache is an in-memory CacheStorage with switchable failures.
type fakeCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
	failSet bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if f.failGet {
		return nil, false, fmt.Errorf("cache backend down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if f.failSet {
		return fmt.Errorf("cache backend down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

// fakeEngine runs a Go function in place of a script.
type fakeEngine struct {
	name string
	run  func(input any) (any, error)
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Execute(_ context.Context, _ string, input any) (any, error) {
	return f.run(input)
}

// fakeCredentialStore records stored credentials.
type fakeCredentialStore struct {
	mu     sync.Mutex
	creds  map[string]Credential
	failed bool
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{creds: make(map[string]Credential)}
}

func (f *fakeCredentialStore) Store(cred Credential) error {
	if f.failed {
		return fmt.Errorf("store unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[cred.Domain] = cred
	return nil
}

func (f *fakeCredentialStore) Retrieve(domain string) (Credential, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[domain]
	return c, ok
}
