package runtime

import (
	"errors"
	"fmt"
)

// RuleLoadError reports a rule document that failed schema or syntax
// validation. Loading is all-or-nothing: a document with a single
// unknown field is rejected whole.
type RuleLoadError struct {
	Source string // file path or "<inline>"
	Err    error
}

func (e *RuleLoadError) Error() string {
	return fmt.Sprintf("rule load failed (%s): %v", e.Source, e.Err)
}

func (e *RuleLoadError) Unwrap() error { return e.Err }

// TemplateError reports a template that failed to render. Both syntax
// errors and undefined variables are fatal to the rendering stage.
type TemplateError struct {
	Template string
	Variable string // set when the failure is an undefined variable
	Err      error
}

func (e *TemplateError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("template %q: undefined variable %q", e.Template, e.Variable)
	}
	return fmt.Sprintf("template %q: %v", e.Template, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// StepError reports a failure of one atomic extraction step. Field is
// filled in by the field extractor; the step executor only knows the
// index and kind.
type StepError struct {
	Field     string
	StepIndex int
	Kind      StepKind
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("field %q step %d (%s): %v", e.Field, e.StepIndex, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// FilterNotFound reports a filter step referencing an unregistered name.
type FilterNotFound struct {
	Name string
}

func (e *FilterNotFound) Error() string {
	return fmt.Sprintf("filter not found: %s", e.Name)
}

// IncompatibleConversion reports a value coercion with no defined rule.
type IncompatibleConversion struct {
	From Kind
	To   Kind
}

func (e *IncompatibleConversion) Error() string {
	return fmt.Sprintf("cannot convert %s to %s", e.From, e.To)
}

// Flow stages, used to scope FlowError to the point of failure.
type FlowStage string

const (
	StageTemplate FlowStage = "template"
	StageFetch    FlowStage = "fetch"
	StageList     FlowStage = "list"
	StageExtract  FlowStage = "extract"
	StageDispatch FlowStage = "dispatch"
	StageScript   FlowStage = "script"
	StagePaginate FlowStage = "paginate"
	StageLogin    FlowStage = "login"
)

// FlowError is fatal to one flow invocation. It names the flow kind,
// the stage that failed and, when applicable, the template or field
// involved. Stage failures are never swallowed; the executor returns
// the first one and stops.
type FlowError struct {
	Flow    FlowKind
	Stage   FlowStage
	Subject string // template source or field name, may be empty
	Err     error
}

func (e *FlowError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s flow, %s stage (%s): %v", e.Flow, e.Stage, e.Subject, e.Err)
	}
	return fmt.Sprintf("%s flow, %s stage: %v", e.Flow, e.Stage, e.Err)
}

func (e *FlowError) Unwrap() error { return e.Err }

func flowErr(flow FlowKind, stage FlowStage, subject string, err error) *FlowError {
	return &FlowError{Flow: flow, Stage: stage, Subject: subject, Err: err}
}

// CapabilityError wraps a failure surfaced by an injected capability
// port (fetch, script, webview, cache). Port identifies which one.
type CapabilityError struct {
	Port string
	Err  error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s capability: %v", e.Port, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// Timeout marks a deadline expiry inside a capability call. Ports
// translate their own timeout signals into this type so callers can
// test with errors.As regardless of the underlying implementation.
type Timeout struct {
	Port string
	Err  error
}

func (e *Timeout) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Port, e.Err)
}

func (e *Timeout) Unwrap() error { return e.Err }

// IsTimeout reports whether any error in the chain is a Timeout.
func IsTimeout(err error) bool {
	var t *Timeout
	return errors.As(err, &t)
}
