package runtime

import (
	"errors"
	"testing"
)

func TestCoerceHTMLToString(t *testing.T) {
	v := HTML("<h1>Hello <b>World</b></h1>")
	got, err := v.Coerce(KindString)
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}
	if text, _ := got.AsText(); text != "Hello World" {
		t.Errorf("got %q, want %q", text, "Hello World")
	}
}

func TestCoerceStringToJSON(t *testing.T) {
	v := String(`{"title": "Hello", "count": 2}`)
	got, err := v.Coerce(KindJSON)
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}
	m, ok := got.AsJSON().(map[string]any)
	if !ok {
		t.Fatalf("expected an object, got %T", got.AsJSON())
	}
	if m["title"] != "Hello" {
		t.Errorf("got title %v, want Hello", m["title"])
	}
}

func TestCoerceIncompatible(t *testing.T) {
	v := JSON(map[string]any{"a": float64(1)})
	_, err := v.Coerce(KindHTML)
	var ic *IncompatibleConversion
	if !errors.As(err, &ic) {
		t.Fatalf("expected IncompatibleConversion, got %v", err)
	}
	if ic.From != KindJSON || ic.To != KindHTML {
		t.Errorf("got %s->%s, want json->html", ic.From, ic.To)
	}
}

func TestCoerceArrayElementwise(t *testing.T) {
	v := Array([]Value{HTML("<p>a</p>"), HTML("<p>b</p>")})
	got, err := v.Coerce(KindString)
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}
	if !got.IsArray() {
		t.Fatalf("expected array output, got %s", got.Kind())
	}
	want := Array([]Value{String("a"), String("b")})
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCoerceArrayNeverFlattens(t *testing.T) {
	v := Array([]Value{String("only")})
	got, err := v.Coerce(KindJSON)
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}
	if got.Kind() != KindArray {
		t.Errorf("got %s, want array", got.Kind())
	}
}

func TestPromoteCopiesBorrow(t *testing.T) {
	b := BorrowedString("payload")
	if !b.Borrowed() {
		t.Fatal("expected borrowed value")
	}
	p := b.Promote()
	if p.Borrowed() {
		t.Error("promoted value still reports borrowed")
	}
	if text, _ := p.AsText(); text != "payload" {
		t.Errorf("got %q, want payload", text)
	}
}

func TestFromJSONWrapsArrays(t *testing.T) {
	v := FromJSON([]any{"a", float64(1), nil})
	if !v.IsArray() {
		t.Fatalf("expected array, got %s", v.Kind())
	}
	items := v.Items()
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	if items[0].Kind() != KindString || items[2].Kind() != KindNull {
		t.Errorf("unexpected element kinds: %s, %s", items[0].Kind(), items[2].Kind())
	}
}

func TestIsEmpty(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want bool
	}{
		{"null", Null(), true},
		{"empty string", String(""), true},
		{"string", String("x"), false},
		{"empty array", Array(nil), true},
		{"array", Array([]Value{Null()}), false},
		{"json null", JSON(nil), true},
		{"json zero", JSON(float64(0)), false},
		{"json empty list", JSON([]any{}), true},
	}
	for _, tt := range tests {
		if got := tt.v.IsEmpty(); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestValueEqualIgnoresOwnership(t *testing.T) {
	if !String("a").Equal(BorrowedString("a")) {
		t.Error("owned and borrowed copies of the same text should be equal")
	}
}
