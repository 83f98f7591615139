package runtime

import (
	"errors"
	"testing"
)

func TestTemplateRender(t *testing.T) {
	svc := newTestServices()
	ctx := NewContext(svc, map[string]any{
		"base_url": "https://site.example",
		"keyword":  "hello world",
		"page":     float64(3),
	})

	tests := []struct {
		source string
		want   string
	}{
		{"static", "static"},
		{"{{ keyword }}", "hello world"},
		{"{{ base_url }}/search?q={{ keyword }}&page={{ page }}", "https://site.example/search?q=hello world&page=3"},
		{"{{page}}", "3"},
	}
	for _, tt := range tests {
		got, err := svc.Templates.Render(tt.source, ctx)
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.source, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.source, got, tt.want)
		}
	}
}

func TestTemplateUndefinedVariable(t *testing.T) {
	svc := newTestServices()
	ctx := NewContext(svc, nil)

	_, err := svc.Templates.Render("{{ missing }}", ctx)
	var te *TemplateError
	if !errors.As(err, &te) {
		t.Fatalf("expected TemplateError, got %v", err)
	}
	if te.Variable != "missing" {
		t.Errorf("got variable %q, want missing", te.Variable)
	}
}

func TestTemplateRootPrefix(t *testing.T) {
	svc := newTestServices()
	root := NewContext(svc, map[string]any{"url": "https://root.example"})
	child := root.Child()
	child.Set("url", "https://page2.example")

	got, err := svc.Templates.Render("{{ $.url }}", child)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got != "https://root.example" {
		t.Errorf("got %q, want the root-scope value", got)
	}

	got, err = svc.Templates.Render("{{ url }}", child)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got != "https://page2.example" {
		t.Errorf("got %q, want the shadowing value", got)
	}
}

func TestTemplateValueFormatting(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"s", "s"},
		{float64(2), "2"},
		{float64(2.5), "2.5"},
		{true, "true"},
		{nil, ""},
		{map[string]any{"a": float64(1)}, `{"a":1}`},
	}
	for _, tt := range tests {
		if got := formatTemplateValue(tt.in); got != tt.want {
			t.Errorf("formatTemplateValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
