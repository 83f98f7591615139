package selector

import (
	"strings"
	"testing"

	"ruleflow/runtime"
)

const sampleHTML = `
<html><body>
  <h1> Hello </h1>
  <div class="item"><a href="/a">First</a></div>
  <div class="item"><a href="/b">Second</a></div>
  <div class="item"><a href="/c">Third</a></div>
</body></html>`

func TestCSSSelectsInDocumentOrder(t *testing.T) {
	got, err := NewCSS().Evaluate("div.item a", runtime.HTML(sampleHTML))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d matches, want 3", len(got))
	}
	for i, want := range []string{"First", "Second", "Third"} {
		text, _ := got[i].AsText()
		if !strings.Contains(text, want) {
			t.Errorf("match %d = %q, want it to contain %q", i, text, want)
		}
	}
}

func TestCSSNoMatch(t *testing.T) {
	got, err := NewCSS().Evaluate(".absent", runtime.HTML(sampleHTML))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d matches, want none", len(got))
	}
}

func TestCSSRejectsJSONInput(t *testing.T) {
	if _, err := NewCSS().Evaluate("h1", runtime.JSON(map[string]any{})); err == nil {
		t.Error("expected an error for non-markup input")
	}
}

func TestXPathElements(t *testing.T) {
	got, err := NewXPath().Evaluate("//div[@class='item']/a", runtime.HTML(sampleHTML))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d matches, want 3", len(got))
	}
	if got[0].Kind() != runtime.KindHTML {
		t.Errorf("element match kind = %s, want html", got[0].Kind())
	}
}

func TestXPathAttributes(t *testing.T) {
	got, err := NewXPath().Evaluate("//a/@href", runtime.HTML(sampleHTML))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d matches, want 3", len(got))
	}
	if text, _ := got[1].AsText(); text != "/b" {
		t.Errorf("attribute 1 = %q, want /b", text)
	}
}

func TestJSONPath(t *testing.T) {
	doc := runtime.JSON(map[string]any{
		"data": map[string]any{
			"items": []any{
				map[string]any{"title": "one"},
				map[string]any{"title": "two"},
			},
		},
	})

	got, err := NewJSONPath().Evaluate("$.data.items[1].title", doc)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d matches, want 1", len(got))
	}
	if text, _ := got[0].AsText(); text != "two" {
		t.Errorf("got %q, want two", text)
	}
}

func TestJSONPathExpansion(t *testing.T) {
	doc := runtime.JSON(map[string]any{"tags": []any{"a", "b", "c"}})
	got, err := NewJSONPath().Evaluate("$.tags[*]", doc)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d matches, want 3", len(got))
	}
	if text, _ := got[2].AsText(); text != "c" {
		t.Errorf("got %q, want c", text)
	}
}

func TestJSONPathMissing(t *testing.T) {
	doc := runtime.JSON(map[string]any{"a": float64(1)})
	got, err := NewJSONPath().Evaluate("$.b.c", doc)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d matches for a missing path, want none", len(got))
	}
}

func TestJSONPathBadExpression(t *testing.T) {
	if _, err := NewJSONPath().Evaluate("$.items[x]", runtime.JSON(map[string]any{})); err == nil {
		t.Error("expected an error for a malformed path")
	}
}

func TestRegexGroups(t *testing.T) {
	got, err := NewRegex().Evaluate(`ch-(\d+)`, runtime.String("ch-12, ch-34"))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d matches, want 2", len(got))
	}
	first := got[0].Items()
	if len(first) != 2 {
		t.Fatalf("match 0 has %d groups, want 2", len(first))
	}
	if full, _ := first[0].AsText(); full != "ch-12" {
		t.Errorf("full match = %q, want ch-12", full)
	}
	if g1, _ := first[1].AsText(); g1 != "12" {
		t.Errorf("group 1 = %q, want 12", g1)
	}
}

func TestRegexBadPattern(t *testing.T) {
	if _, err := NewRegex().Evaluate(`([a-z`, runtime.String("x")); err == nil {
		t.Error("expected a compile error")
	}
}
