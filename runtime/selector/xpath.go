package selector

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"ruleflow/runtime"
)

// XPath evaluates XPath expressions against markup values. Element
// matches come back as markup fragments, attribute and text matches as
// plain strings.
type XPath struct{}

func NewXPath() *XPath { return &XPath{} }

func (s *XPath) Evaluate(expr string, doc runtime.Value) ([]runtime.Value, error) {
	markup, ok := doc.AsText()
	if !ok {
		return nil, fmt.Errorf("xpath selector needs markup input, got %s", doc.Kind())
	}
	root, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	nodes, err := htmlquery.QueryAll(root, expr)
	if err != nil {
		return nil, fmt.Errorf("xpath %q: %w", expr, err)
	}

	out := make([]runtime.Value, 0, len(nodes))
	for _, node := range nodes {
		switch node.Type {
		case html.ElementNode:
			out = append(out, runtime.HTML(htmlquery.OutputHTML(node, true)))
		default:
			out = append(out, runtime.String(htmlquery.InnerText(node)))
		}
	}
	return out, nil
}
