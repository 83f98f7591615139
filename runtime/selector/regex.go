package selector

import (
	"fmt"
	"regexp"
	"sync"

	"ruleflow/runtime"
)

// Regex evaluates regular expressions against textual values. Each
// match comes back as an array value holding the full match followed
// by its capture groups, so callers can pick either.
type Regex struct {
	compiled sync.Map // pattern -> *regexp.Regexp
}

func NewRegex() *Regex { return &Regex{} }

func (s *Regex) Evaluate(expr string, doc runtime.Value) ([]runtime.Value, error) {
	text, ok := doc.AsText()
	if !ok {
		return nil, fmt.Errorf("regex selector needs text input, got %s", doc.Kind())
	}
	re, err := s.pattern(expr)
	if err != nil {
		return nil, err
	}

	matches := re.FindAllStringSubmatch(text, -1)
	out := make([]runtime.Value, 0, len(matches))
	for _, m := range matches {
		groups := make([]runtime.Value, len(m))
		for i, g := range m {
			groups[i] = runtime.BorrowedString(g)
		}
		out = append(out, runtime.Array(groups))
	}
	return out, nil
}

func (s *Regex) pattern(expr string) (*regexp.Regexp, error) {
	if cached, ok := s.compiled.Load(expr); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("regex %q: %w", expr, err)
	}
	actual, _ := s.compiled.LoadOrStore(expr, re)
	return actual.(*regexp.Regexp), nil
}
