// Package filter provides the built-in transform library. Filters are
// registered by name into a runtime.FilterRegistry; rule documents
// invoke them in pipelines like "trim | replace('a', 'b') | lower".
package filter

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"ruleflow/runtime"
)

// RegisterBuiltins installs the full built-in filter set.
func RegisterBuiltins(r *runtime.FilterRegistry) {
	registerStringFilters(r)
	registerConversionFilters(r)
	registerURLFilters(r)
	registerArrayFilters(r)

	// default substitutes empty values; array-aware so an empty array
	// as a whole is substituted, not its elements.
	defaultFilter := runtime.Filter{ArrayAware: true, Apply: func(v runtime.Value, args []any) (runtime.Value, error) {
		if len(args) != 1 {
			return runtime.Null(), fmt.Errorf("default expects 1 argument")
		}
		if v.IsEmpty() {
			return runtime.FromJSON(args[0]), nil
		}
		return v, nil
	}}
	r.Register("default", defaultFilter)
	r.Register("if_empty", defaultFilter)
}

// textFilter lifts a string transform into a scalar filter. The
// output is owned unless the transform returned a substring view and
// the input was borrowed.
func textFilter(fn func(s string, args []any) (string, error)) runtime.Filter {
	return runtime.Filter{Apply: func(v runtime.Value, args []any) (runtime.Value, error) {
		if v.IsNull() {
			return runtime.Null(), nil
		}
		s, ok := v.AsText()
		if !ok {
			return runtime.Null(), fmt.Errorf("expected text, got %s", v.Kind())
		}
		out, err := fn(s, args)
		if err != nil {
			return runtime.Null(), err
		}
		if v.Borrowed() && isSubstring(s, out) {
			return runtime.BorrowedString(out), nil
		}
		return runtime.String(out), nil
	}}
}

// isSubstring reports whether sub shares out's backing memory, which
// holds for the stdlib trim/substring family.
func isSubstring(s, sub string) bool {
	return len(sub) <= len(s) && strings.Contains(s, sub)
}

func registerStringFilters(r *runtime.FilterRegistry) {
	r.Register("trim", textFilter(func(s string, _ []any) (string, error) {
		return strings.TrimSpace(s), nil
	}))
	r.Register("trim_start", textFilter(func(s string, _ []any) (string, error) {
		return strings.TrimLeft(s, " \t\r\n"), nil
	}))
	r.Register("trim_end", textFilter(func(s string, _ []any) (string, error) {
		return strings.TrimRight(s, " \t\r\n"), nil
	}))
	r.Register("lower", textFilter(func(s string, _ []any) (string, error) {
		return strings.ToLower(s), nil
	}))
	r.Register("upper", textFilter(func(s string, _ []any) (string, error) {
		return strings.ToUpper(s), nil
	}))
	r.Register("capitalize", textFilter(func(s string, _ []any) (string, error) {
		if s == "" {
			return s, nil
		}
		return strings.ToUpper(s[:1]) + s[1:], nil
	}))
	r.Register("collapse_whitespace", textFilter(func(s string, _ []any) (string, error) {
		return strings.Join(strings.Fields(s), " "), nil
	}))
	r.Register("replace", textFilter(func(s string, args []any) (string, error) {
		if len(args) != 2 {
			return "", fmt.Errorf("replace expects 2 arguments")
		}
		return strings.ReplaceAll(s, argString(args[0]), argString(args[1])), nil
	}))
	r.Register("substring", textFilter(func(s string, args []any) (string, error) {
		if len(args) == 0 || len(args) > 2 {
			return "", fmt.Errorf("substring expects 1 or 2 arguments")
		}
		start, err := argInt(args[0])
		if err != nil {
			return "", err
		}
		end := len(s)
		if len(args) == 2 {
			if end, err = argInt(args[1]); err != nil {
				return "", err
			}
		}
		start, end = clamp(start, len(s)), clamp(end, len(s))
		if start > end {
			start = end
		}
		return s[start:end], nil
	}))
	r.Register("reverse", textFilter(func(s string, _ []any) (string, error) {
		runes := []rune(s)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return string(runes), nil
	}))
	r.Register("split", runtime.Filter{Apply: func(v runtime.Value, args []any) (runtime.Value, error) {
		if len(args) != 1 {
			return runtime.Null(), fmt.Errorf("split expects 1 argument")
		}
		s, ok := v.AsText()
		if !ok {
			return runtime.Null(), fmt.Errorf("expected text, got %s", v.Kind())
		}
		parts := strings.Split(s, argString(args[0]))
		items := make([]runtime.Value, len(parts))
		for i, p := range parts {
			if v.Borrowed() {
				items[i] = runtime.BorrowedString(p)
			} else {
				items[i] = runtime.String(p)
			}
		}
		return runtime.Array(items), nil
	}})
	r.Register("strip_html", runtime.Filter{Apply: func(v runtime.Value, _ []any) (runtime.Value, error) {
		if v.IsNull() {
			return runtime.Null(), nil
		}
		markup := v
		if v.Kind() == runtime.KindString {
			var err error
			if markup, err = v.Coerce(runtime.KindHTML); err != nil {
				return runtime.Null(), err
			}
		}
		return markup.Coerce(runtime.KindString)
	}})
}

func registerConversionFilters(r *runtime.FilterRegistry) {
	r.Register("to_string", runtime.Filter{Apply: func(v runtime.Value, _ []any) (runtime.Value, error) {
		return v.Coerce(runtime.KindString)
	}})
	r.Register("to_json", runtime.Filter{Apply: func(v runtime.Value, _ []any) (runtime.Value, error) {
		return v.Coerce(runtime.KindJSON)
	}})
	r.Register("from_json", runtime.Filter{Apply: func(v runtime.Value, _ []any) (runtime.Value, error) {
		s, ok := v.AsText()
		if !ok {
			return runtime.Null(), fmt.Errorf("expected text, got %s", v.Kind())
		}
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			return runtime.Null(), fmt.Errorf("parse json: %w", err)
		}
		return runtime.FromJSON(parsed), nil
	}})
	r.Register("to_int", runtime.Filter{Apply: func(v runtime.Value, _ []any) (runtime.Value, error) {
		switch j := v.AsJSON().(type) {
		case float64:
			return runtime.JSON(float64(int64(j))), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(j), 10, 64)
			if err != nil {
				return runtime.Null(), fmt.Errorf("to_int: %q is not an integer", j)
			}
			return runtime.JSON(float64(n)), nil
		default:
			return runtime.Null(), fmt.Errorf("to_int: cannot convert %s", v.Kind())
		}
	}})
	r.Register("to_float", runtime.Filter{Apply: func(v runtime.Value, _ []any) (runtime.Value, error) {
		switch j := v.AsJSON().(type) {
		case float64:
			return runtime.JSON(j), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(j), 64)
			if err != nil {
				return runtime.Null(), fmt.Errorf("to_float: %q is not a number", j)
			}
			return runtime.JSON(f), nil
		default:
			return runtime.Null(), fmt.Errorf("to_float: cannot convert %s", v.Kind())
		}
	}})
	r.Register("to_bool", runtime.Filter{Apply: func(v runtime.Value, _ []any) (runtime.Value, error) {
		switch j := v.AsJSON().(type) {
		case bool:
			return runtime.JSON(j), nil
		case float64:
			return runtime.JSON(j != 0), nil
		case string:
			switch strings.ToLower(strings.TrimSpace(j)) {
			case "true", "1", "yes":
				return runtime.JSON(true), nil
			case "false", "0", "no", "":
				return runtime.JSON(false), nil
			}
			return runtime.Null(), fmt.Errorf("to_bool: %q is not a boolean", j)
		default:
			return runtime.Null(), fmt.Errorf("to_bool: cannot convert %s", v.Kind())
		}
	}})
}

func registerURLFilters(r *runtime.FilterRegistry) {
	r.Register("absolute_url", textFilter(func(s string, args []any) (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("absolute_url expects the base URL argument")
		}
		base, err := url.Parse(argString(args[0]))
		if err != nil {
			return "", fmt.Errorf("bad base url: %w", err)
		}
		ref, err := url.Parse(strings.TrimSpace(s))
		if err != nil {
			return "", fmt.Errorf("bad url %q: %w", s, err)
		}
		return base.ResolveReference(ref).String(), nil
	}))
	r.Register("url_encode", textFilter(func(s string, _ []any) (string, error) {
		return url.QueryEscape(s), nil
	}))
	r.Register("url_decode", textFilter(func(s string, _ []any) (string, error) {
		return url.QueryUnescape(s)
	}))
	r.Register("extract_domain", textFilter(func(s string, _ []any) (string, error) {
		u, err := url.Parse(strings.TrimSpace(s))
		if err != nil {
			return "", fmt.Errorf("bad url %q: %w", s, err)
		}
		return u.Hostname(), nil
	}))
	r.Register("query_param", textFilter(func(s string, args []any) (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("query_param expects the parameter name")
		}
		u, err := url.Parse(strings.TrimSpace(s))
		if err != nil {
			return "", fmt.Errorf("bad url %q: %w", s, err)
		}
		return u.Query().Get(argString(args[0])), nil
	}))
}

func registerArrayFilters(r *runtime.FilterRegistry) {
	r.Register("first", runtime.Filter{ArrayAware: true, Apply: func(v runtime.Value, _ []any) (runtime.Value, error) {
		items := v.Items()
		if len(items) == 0 {
			return runtime.Null(), nil
		}
		return items[0], nil
	}})
	r.Register("last", runtime.Filter{ArrayAware: true, Apply: func(v runtime.Value, _ []any) (runtime.Value, error) {
		items := v.Items()
		if len(items) == 0 {
			return runtime.Null(), nil
		}
		return items[len(items)-1], nil
	}})
	r.Register("nth", runtime.Filter{ArrayAware: true, Apply: func(v runtime.Value, args []any) (runtime.Value, error) {
		if len(args) != 1 {
			return runtime.Null(), fmt.Errorf("nth expects 1 argument")
		}
		i, err := argInt(args[0])
		if err != nil {
			return runtime.Null(), err
		}
		items := v.Items()
		if i < 0 {
			i += len(items)
		}
		if i < 0 || i >= len(items) {
			return runtime.Null(), nil
		}
		return items[i], nil
	}})
	r.Register("slice", runtime.Filter{ArrayAware: true, Apply: func(v runtime.Value, args []any) (runtime.Value, error) {
		if len(args) != 2 {
			return runtime.Null(), fmt.Errorf("slice expects 2 arguments")
		}
		lo, err := argInt(args[0])
		if err != nil {
			return runtime.Null(), err
		}
		hi, err := argInt(args[1])
		if err != nil {
			return runtime.Null(), err
		}
		items := v.Items()
		lo, hi = clamp(lo, len(items)), clamp(hi, len(items))
		if lo > hi {
			lo = hi
		}
		return runtime.Array(items[lo:hi]), nil
	}})
	r.Register("unique", runtime.Filter{ArrayAware: true, Apply: func(v runtime.Value, _ []any) (runtime.Value, error) {
		items := v.Items()
		var out []runtime.Value
		for _, item := range items {
			dup := false
			for _, seen := range out {
				if item.Equal(seen) {
					dup = true
					break
				}
			}
			if !dup {
				out = append(out, item)
			}
		}
		return runtime.Array(out), nil
	}})
	r.Register("count", runtime.Filter{ArrayAware: true, Apply: func(v runtime.Value, _ []any) (runtime.Value, error) {
		return runtime.JSON(float64(len(v.Items()))), nil
	}})
	r.Register("join", runtime.Filter{ArrayAware: true, Apply: func(v runtime.Value, args []any) (runtime.Value, error) {
		sep := ""
		if len(args) == 1 {
			sep = argString(args[0])
		}
		items := v.Items()
		parts := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.AsText()
			if !ok {
				c, err := item.Coerce(runtime.KindString)
				if err != nil {
					return runtime.Null(), fmt.Errorf("join: %w", err)
				}
				s, _ = c.AsText()
			}
			parts = append(parts, s)
		}
		// Joining concatenates, so the result always owns its bytes.
		return runtime.String(strings.Join(parts, sep)), nil
	}})
}

func argString(a any) string {
	if s, ok := a.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", a)
}

func argInt(a any) (int, error) {
	switch n := a.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("expected an integer argument, got %T", a)
	}
}

func clamp(i, n int) int {
	if i < 0 {
		i += n
	}
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
