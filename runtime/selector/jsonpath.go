package selector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Jeffail/gabs/v2"

	"ruleflow/runtime"
)

// JSONPath evaluates dotted-path expressions against JSON values:
// "$.data.items[0].title" descends objects and arrays, and a trailing
// "[*]" expands the final array into one match per element.
type JSONPath struct{}

func NewJSONPath() *JSONPath { return &JSONPath{} }

func (s *JSONPath) Evaluate(expr string, doc runtime.Value) ([]runtime.Value, error) {
	if doc.Kind() != runtime.KindJSON {
		converted, err := doc.Coerce(runtime.KindJSON)
		if err != nil {
			return nil, fmt.Errorf("json selector needs json input, got %s", doc.Kind())
		}
		doc = converted
	}

	segments, expand, err := parsePath(expr)
	if err != nil {
		return nil, err
	}

	node := gabs.Wrap(doc.AsJSON())
	for _, seg := range segments {
		if seg.index >= 0 {
			node = node.Index(seg.index)
		} else {
			node = node.Search(seg.key)
		}
		if node == nil {
			return nil, nil
		}
	}

	if expand {
		children := node.Children()
		if children == nil {
			return nil, fmt.Errorf("path %q: [*] applied to a non-array", expr)
		}
		out := make([]runtime.Value, len(children))
		for i, child := range children {
			out[i] = runtime.FromJSON(child.Data())
		}
		return out, nil
	}
	return []runtime.Value{runtime.FromJSON(node.Data())}, nil
}

type pathSegment struct {
	key   string
	index int // -1 for key segments
}

// parsePath splits "$.a.b[0].c[*]" into walk segments plus the
// trailing expansion flag. The leading "$." is optional.
func parsePath(expr string) ([]pathSegment, bool, error) {
	p := strings.TrimSpace(expr)
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")

	expand := false
	if strings.HasSuffix(p, "[*]") {
		expand = true
		p = strings.TrimSuffix(p, "[*]")
	}
	if p == "" {
		return nil, expand, nil
	}

	var segments []pathSegment
	for _, part := range strings.Split(p, ".") {
		if part == "" {
			return nil, false, fmt.Errorf("bad json path %q", expr)
		}
		for {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				segments = append(segments, pathSegment{key: part, index: -1})
				break
			}
			if open > 0 {
				segments = append(segments, pathSegment{key: part[:open], index: -1})
			}
			close := strings.IndexByte(part, ']')
			if close < open {
				return nil, false, fmt.Errorf("bad json path %q", expr)
			}
			idx, err := strconv.Atoi(part[open+1 : close])
			if err != nil || idx < 0 {
				return nil, false, fmt.Errorf("bad index in json path %q", expr)
			}
			segments = append(segments, pathSegment{index: idx})
			part = part[close+1:]
			if part == "" {
				break
			}
		}
	}
	return segments, expand, nil
}
