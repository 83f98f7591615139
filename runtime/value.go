package runtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Kind enumerates the variants of an extraction value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindHTML
	KindJSON
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindHTML:
		return "html"
	case KindJSON:
		return "json"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is the typed intermediate value flowing through a step chain.
//
// String and HTML variants carry an ownership tag: a borrowed value is
// a view into source document memory (a substring of the fetched body)
// and must not outlive the document; any step that cannot preserve the
// borrow (concatenation, decoding, tag stripping) promotes to owned
// before returning. Go strings are immutable so a borrowed value is
// always safe to read; the tag keeps the contract explicit and
// observable for callers that hold documents in reusable buffers.
//
// Array order is significant and preserved through every transform.
type Value struct {
	kind  Kind
	str   string
	json  any
	arr   []Value
	owned bool
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// String returns an owned string value.
func String(s string) Value { return Value{kind: KindString, str: s, owned: true} }

// BorrowedString returns a string value viewing source document memory.
func BorrowedString(s string) Value { return Value{kind: KindString, str: s} }

// HTML returns an owned markup value.
func HTML(s string) Value { return Value{kind: KindHTML, str: s, owned: true} }

// BorrowedHTML returns a markup value viewing source document memory.
func BorrowedHTML(s string) Value { return Value{kind: KindHTML, str: s} }

// JSON returns a structured value. v must be JSON-like
// (nil, bool, float64, string, []any, map[string]any).
func JSON(v any) Value { return Value{kind: KindJSON, json: v, owned: true} }

// Array returns an array value preserving the order of items.
func Array(items []Value) Value { return Value{kind: KindArray, arr: items, owned: true} }

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) IsArray() bool  { return v.kind == KindArray }
func (v Value) Borrowed() bool { return !v.owned && (v.kind == KindString || v.kind == KindHTML) }

// Items returns the elements of an array value, nil otherwise.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// IsEmpty reports whether the value carries no usable content.
// Mirrors the nullable/fallback check of the field extractor.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString, KindHTML:
		return v.str == ""
	case KindJSON:
		switch j := v.json.(type) {
		case nil:
			return true
		case string:
			return j == ""
		case []any:
			return len(j) == 0
		}
		return false
	case KindArray:
		return len(v.arr) == 0
	}
	return false
}

// Promote returns the value with owned content. For strings this copies
// the bytes out of the source document so the document can be released.
func (v Value) Promote() Value {
	if v.owned {
		return v
	}
	switch v.kind {
	case KindString, KindHTML:
		v.str = strings.Clone(v.str)
	}
	v.owned = true
	return v
}

// AsText returns the textual view of the value. Borrowed inputs stay
// borrowed when the text is the value itself. Single-element arrays
// unwrap; larger arrays have no scalar text.
func (v Value) AsText() (string, bool) {
	switch v.kind {
	case KindString, KindHTML:
		return v.str, true
	case KindJSON:
		if s, ok := v.json.(string); ok {
			return s, true
		}
		return "", false
	case KindArray:
		if len(v.arr) == 1 {
			return v.arr[0].AsText()
		}
		return "", false
	default:
		return "", false
	}
}

// AsJSON returns the structured (JSON-like) view of the value.
func (v Value) AsJSON() any {
	switch v.kind {
	case KindString, KindHTML:
		return v.str
	case KindJSON:
		return v.json
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.AsJSON()
		}
		return out
	default:
		return nil
	}
}

// FromJSON wraps a decoded JSON value. Strings become string values,
// arrays become Array with elementwise wrapping, everything else stays
// a structured value.
func FromJSON(v any) Value {
	switch j := v.(type) {
	case nil:
		return Null()
	case string:
		return String(j)
	case []any:
		items := make([]Value, len(j))
		for i, e := range j {
			items[i] = FromJSON(e)
		}
		return Array(items)
	default:
		return JSON(v)
	}
}

// Coerce converts the value to the target kind. Conversions with no
// defined rule fail with IncompatibleConversion. Array targets/sources
// apply elementwise and re-wrap; an array is never silently flattened.
func (v Value) Coerce(target Kind) (Value, error) {
	if v.kind == target {
		return v, nil
	}
	if v.kind == KindArray {
		out := make([]Value, len(v.arr))
		for i, item := range v.arr {
			c, err := item.Coerce(target)
			if err != nil {
				return Null(), err
			}
			out[i] = c
		}
		return Array(out), nil
	}
	switch target {
	case KindString:
		switch v.kind {
		case KindNull:
			return String(""), nil
		case KindHTML:
			// Serializing strips tags; the borrow cannot survive.
			return String(stripTags(v.str)), nil
		case KindJSON:
			if s, ok := v.json.(string); ok {
				return String(s), nil
			}
			b, err := json.Marshal(v.json)
			if err != nil {
				return Null(), fmt.Errorf("stringify: %w", err)
			}
			return String(string(b)), nil
		}
	case KindJSON:
		switch v.kind {
		case KindNull:
			return JSON(nil), nil
		case KindString, KindHTML:
			var parsed any
			if err := json.Unmarshal([]byte(v.str), &parsed); err != nil {
				return Null(), fmt.Errorf("parse json: %w", err)
			}
			return JSON(parsed), nil
		}
	case KindHTML:
		if v.kind == KindString {
			out := v
			out.kind = KindHTML
			return out, nil
		}
	case KindNull:
		return Null(), nil
	}
	return Null(), &IncompatibleConversion{From: v.kind, To: target}
}

// Equal reports deep equality, ignoring the ownership tag.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString, KindHTML:
		return v.str == other.str
	case KindJSON:
		return jsonEqual(v.json, other.json)
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// String returns a stable textual representation, intended for logs
// and test assertions.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindHTML:
		return fmt.Sprintf("html(%q)", v.str)
	case KindJSON:
		b, err := json.Marshal(v.json)
		if err != nil {
			return fmt.Sprintf("json(%v)", v.json)
		}
		return fmt.Sprintf("json(%s)", b)
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, item := range v.arr {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return "invalid"
}

func jsonEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !jsonEqual(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !jsonEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// stripTags removes markup and returns the concatenated text content.
func stripTags(markup string) string {
	var b strings.Builder
	tk := html.NewTokenizer(strings.NewReader(markup))
	for {
		switch tk.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(tk.Text())
		}
	}
}
