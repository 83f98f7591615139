// Package selector implements the selector ports over goquery (CSS),
// htmlquery (XPath), gabs (JSON path) and the regexp engine.
package selector

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ruleflow/runtime"
)

// CSS evaluates CSS selectors against markup values.
type CSS struct{}

func NewCSS() *CSS { return &CSS{} }

func (s *CSS) Evaluate(expr string, doc runtime.Value) ([]runtime.Value, error) {
	markup, ok := doc.AsText()
	if !ok {
		return nil, fmt.Errorf("css selector needs markup input, got %s", doc.Kind())
	}
	root, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var out []runtime.Value
	var outErr error
	root.Find(expr).EachWithBreak(func(_ int, node *goquery.Selection) bool {
		fragment, err := goquery.OuterHtml(node)
		if err != nil {
			outErr = fmt.Errorf("render selection: %w", err)
			return false
		}
		out = append(out, runtime.HTML(fragment))
		return true
	})
	if outErr != nil {
		return nil, outErr
	}
	return out, nil
}
