// Package webview holds WebViewProvider implementations. Headless
// deployments register Noop; embedders with a UI supply their own.
package webview

import (
	"context"
	"fmt"

	"ruleflow/runtime"
)

// Noop rejects every interactive request. Login flows that need a
// webview fail with a clear reason instead of hanging.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (Noop) Open(_ context.Context, req runtime.WebViewRequest) (*runtime.WebViewResult, error) {
	return nil, fmt.Errorf("no interactive webview available for %s", req.URL)
}
