package fetch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ruleflow/runtime"
)

type staticStore struct {
	cred runtime.Credential
	ok   bool
}

func (s *staticStore) Store(runtime.Credential) error { return nil }
func (s *staticStore) Retrieve(string) (runtime.Credential, bool) {
	return s.cred, s.ok
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDoSendsHeaders(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Custom")
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(Options{}, nil, discardLogger())
	resp, err := c.Do(context.Background(), &runtime.FetchRequest{
		URL:     srv.URL,
		Headers: map[string]string{"X-Custom": "v1"},
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.StatusCode != 200 || string(resp.Body) != "ok" {
		t.Errorf("response = %d %q, want 200 ok", resp.StatusCode, resp.Body)
	}
	if gotHeader != "v1" {
		t.Errorf("header = %q, want v1", gotHeader)
	}
}

func TestDoInjectsCookieCredential(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		w.WriteHeader(200)
	}))
	defer srv.Close()

	store := &staticStore{
		cred: runtime.Credential{
			Domain: "127.0.0.1",
			Kind:   "cookie",
			Values: map[string]string{"b": "2", "a": "1"},
		},
		ok: true,
	}
	c := NewClient(Options{}, store, discardLogger())
	if _, err := c.Do(context.Background(), &runtime.FetchRequest{URL: srv.URL}); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if gotCookie != "a=1; b=2" {
		t.Errorf("cookie = %q, want a=1; b=2", gotCookie)
	}
}

func TestDoSkipsExpiredCredential(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		w.WriteHeader(200)
	}))
	defer srv.Close()

	store := &staticStore{
		cred: runtime.Credential{
			Domain:    "127.0.0.1",
			Kind:      "cookie",
			Values:    map[string]string{"a": "1"},
			ExpiresAt: time.Now().Add(-time.Minute),
		},
		ok: true,
	}
	c := NewClient(Options{}, store, discardLogger())
	if _, err := c.Do(context.Background(), &runtime.FetchRequest{URL: srv.URL}); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if gotCookie != "" {
		t.Errorf("cookie = %q, want none for an expired credential", gotCookie)
	}
}

func TestDoTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Options{Timeout: 20 * time.Millisecond}, nil, discardLogger())
	_, err := c.Do(context.Background(), &runtime.FetchRequest{URL: srv.URL})
	if err == nil {
		t.Fatal("expected a timeout")
	}
	if !runtime.IsTimeout(err) {
		t.Errorf("got %v, want a Timeout error", err)
	}
}

func TestDoBadURL(t *testing.T) {
	c := NewClient(Options{}, nil, discardLogger())
	if _, err := c.Do(context.Background(), &runtime.FetchRequest{URL: "::not-a-url"}); err == nil {
		t.Error("expected an error for a malformed url")
	}
}
