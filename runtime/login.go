package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// loginExecutor drives the Login state machine. Exactly one of three
// mutually exclusive strategies runs, selected by the rule's declared
// variant. The outcome is binary: Success with a credential summary or
// Failure with a reason, never partial. Obtained credentials go to the
// credential store for reuse on subsequent requests.
type loginExecutor struct {
	rule *Rule
	flow *LoginFlow
	l    *slog.Logger
}

func newLoginExecutor(rule *Rule, l *slog.Logger) *loginExecutor {
	return &loginExecutor{rule: rule, flow: rule.Flows.Login, l: l}
}

func (e *loginExecutor) execute(ctx context.Context, c *Context) (*LoginResult, error) {
	var cred Credential
	var err error

	switch {
	case e.flow.Script != nil:
		cred, err = e.scriptLogin(ctx, c)
	case e.flow.Webview != nil:
		cred, err = e.webviewLogin(ctx, c)
	case e.flow.Credential != nil:
		cred, err = e.credentialLogin(ctx, c)
	default:
		return nil, flowErr(FlowLogin, StageLogin, "", fmt.Errorf("login flow declares no strategy"))
	}
	if err != nil {
		// Strategy failure is a login outcome, not a flow abort.
		e.l.Warn("login failed", "variant", e.flow.Variant(), "error", err)
		return &LoginResult{Success: false, Reason: err.Error()}, nil
	}

	if cred.Domain == "" {
		cred.Domain = e.rule.Meta.Domain
	}
	cred.ObtainedAt = time.Now()

	if store := c.Services().Credentials; store != nil {
		if err := store.Store(cred); err != nil {
			return nil, flowErr(FlowLogin, StageLogin, cred.Domain, &CapabilityError{Port: "credential", Err: err})
		}
	}

	return &LoginResult{Success: true, Credential: summarize(cred)}, nil
}

// scriptLogin executes the rule's script; its JSON output is the
// credential payload: {"kind": ..., "values": {...}, "expires_in": n}.
func (e *loginExecutor) scriptLogin(ctx context.Context, c *Context) (Credential, error) {
	eng, err := c.Services().ScriptEngine(e.flow.Script.Engine)
	if err != nil {
		return Credential{}, err
	}
	input := map[string]any{}
	if v, ok := c.Get("inputs"); ok {
		input["inputs"] = v
	}
	out, err := eng.Execute(ctx, e.flow.Script.Source, input)
	if err != nil {
		return Credential{}, err
	}
	return parseCredentialPayload(out)
}

func parseCredentialPayload(out any) (Credential, error) {
	m, ok := out.(map[string]any)
	if !ok {
		return Credential{}, fmt.Errorf("script returned %T, expected a credential object", out)
	}
	cred := Credential{Kind: "token", Values: make(map[string]string)}
	if k, ok := m["kind"].(string); ok {
		cred.Kind = k
	}
	if d, ok := m["domain"].(string); ok {
		cred.Domain = d
	}
	values, ok := m["values"].(map[string]any)
	if !ok || len(values) == 0 {
		return Credential{}, fmt.Errorf("credential payload has no values")
	}
	for k, v := range values {
		cred.Values[k] = fmt.Sprintf("%v", v)
	}
	if ttl, ok := m["expires_in"].(float64); ok && ttl > 0 {
		cred.ExpiresAt = time.Now().Add(time.Duration(ttl) * time.Second)
	}
	return cred, nil
}

// webviewLogin delegates to the injected UI capability and blocks
// until it resolves, times out or the user cancels.
func (e *loginExecutor) webviewLogin(ctx context.Context, c *Context) (Credential, error) {
	provider := c.Services().WebView
	if provider == nil {
		return Credential{}, &CapabilityError{Port: "webview", Err: errString("no webview provider registered")}
	}
	target, err := e.flow.Webview.URL.Render(c)
	if err != nil {
		return Credential{}, err
	}
	res, err := provider.Open(ctx, WebViewRequest{
		URL:             target,
		Title:           e.rule.Meta.Name,
		SuccessSelector: e.flow.Webview.SuccessSelector,
		Timeout:         e.flow.Webview.Timeout,
	})
	if err != nil {
		return Credential{}, err
	}
	if res.Cancelled {
		return Credential{}, fmt.Errorf("cancelled by user")
	}
	values := make(map[string]string, len(res.Cookies)+len(res.Headers))
	for k, v := range res.Cookies {
		values[k] = v
	}
	for k, v := range res.Headers {
		values[k] = v
	}
	if len(values) == 0 {
		return Credential{}, fmt.Errorf("webview resolved without session material")
	}
	return Credential{Domain: e.flow.Webview.CookieDomain, Kind: "cookie", Values: values}, nil
}

// credentialLogin submits the rendered form fields via fetch and
// parses the response for session material.
func (e *loginExecutor) credentialLogin(ctx context.Context, c *Context) (Credential, error) {
	lf := e.flow.Credential

	target, err := lf.URL.Render(c)
	if err != nil {
		return Credential{}, err
	}
	form := url.Values{}
	for _, name := range sortedKeys(lf.Fields) {
		v, err := lf.Fields[name].Render(c)
		if err != nil {
			return Credential{}, err
		}
		form.Set(name, v)
	}

	svc := c.Services()
	if svc.Fetch == nil {
		return Credential{}, &CapabilityError{Port: "fetch", Err: errNoFetcher}
	}
	method := lf.Method
	if method == "" {
		method = "POST"
	}
	resp, err := svc.Fetch.Do(ctx, &FetchRequest{
		Method:  method,
		URL:     target,
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:    []byte(form.Encode()),
	})
	if err != nil {
		return Credential{}, err
	}

	if err := checkLoginSuccess(lf.Success, resp); err != nil {
		return Credential{}, err
	}

	values := cookieValues(resp)
	if lf.Token != nil {
		tok, _ := lf.Token.Extract(ctx, "token", c, documentValue(resp))
		if s, ok := tok.AsText(); ok && s != "" {
			values["token"] = s
		}
	}
	if len(values) == 0 {
		return Credential{}, fmt.Errorf("login response carried no session material")
	}
	return Credential{Kind: "cookie", Values: values}, nil
}

func checkLoginSuccess(check *SuccessCheck, resp *FetchResponse) error {
	if check == nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("login request returned status %d", resp.StatusCode)
		}
		return nil
	}
	if check.Status != 0 && resp.StatusCode != check.Status {
		return fmt.Errorf("expected status %d, got %d", check.Status, resp.StatusCode)
	}
	if check.JSONPath != "" {
		doc := documentValue(resp)
		if doc.Kind() != KindJSON {
			return fmt.Errorf("success check %q: response is not json", check.JSONPath)
		}
		got, ok := descend(doc.AsJSON(), normalizePath(strings.TrimPrefix(check.JSONPath, "$.")))
		if !ok {
			return fmt.Errorf("success check %q: path not found", check.JSONPath)
		}
		if !jsonEqual(got, check.Expect) {
			return fmt.Errorf("success check %q: expected %v, got %v", check.JSONPath, check.Expect, got)
		}
	}
	return nil
}

func cookieValues(resp *FetchResponse) map[string]string {
	values := make(map[string]string)
	for _, sc := range resp.Headers.Values("Set-Cookie") {
		if i := strings.IndexByte(sc, ';'); i >= 0 {
			sc = sc[:i]
		}
		name, val, ok := strings.Cut(sc, "=")
		if ok && name != "" {
			values[strings.TrimSpace(name)] = strings.TrimSpace(val)
		}
	}
	return values
}

func summarize(cred Credential) *CredentialSummary {
	keys := sortedKeys(cred.Values)
	return &CredentialSummary{Domain: cred.Domain, Kind: cred.Kind, Keys: keys}
}
