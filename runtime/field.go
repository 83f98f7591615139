package runtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// Warning records a recoverable extraction problem: a failed step that
// was absorbed by a default, an empty field, or a soft step failure
// (cache writes). Warnings never abort a flow.
type Warning struct {
	Field string
	Err   error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %v", w.Field, w.Err)
}

// Extract runs the field's compiled step chain over the input value.
// It always resolves to a value: an unrecoverable step failure first
// tries the fallback chains, then the declared default, then Null.
// Whatever failed along the way comes back as warnings, not errors;
// sibling fields are never affected.
func (fe *FieldExtractor) Extract(ctx context.Context, name string, c *Context, input Value) (Value, []Warning) {
	var warnings []Warning

	value, soft, err := runChain(ctx, c, fe.compiled, input)
	for _, se := range soft {
		warnings = append(warnings, Warning{Field: name, Err: tagField(se, name)})
	}

	if err == nil && (fe.Nullable || !value.IsEmpty()) {
		return value, warnings
	}
	if err == nil {
		// An empty result counts as a step-level failure so defaulted
		// fields still surface a typed warning naming the culprit step.
		se := &StepError{Err: fmt.Errorf("extraction produced an empty value")}
		if n := len(fe.compiled); n > 0 {
			se.StepIndex = n - 1
			se.Kind = fe.compiled[n-1].kind
		}
		err = se
	}

	for _, chain := range fe.compiledFallback {
		fv, fsoft, ferr := runChain(ctx, c, chain, input)
		for _, se := range fsoft {
			warnings = append(warnings, Warning{Field: name, Err: tagField(se, name)})
		}
		if ferr == nil && !fv.IsEmpty() {
			warnings = append(warnings, Warning{Field: name, Err: tagField(err, name)})
			return fv, warnings
		}
	}

	warnings = append(warnings, Warning{Field: name, Err: tagField(err, name)})
	if fe.Default != nil {
		return FromJSON(fe.Default), warnings
	}
	return Null(), warnings
}

// runChain folds the compiled steps over the input in declared order.
// An array meeting a non-array-aware step is broadcast elementwise,
// preserving order; one element's failure fails the step. Soft steps
// (cache_set) report their failure separately and pass the value
// through unchanged.
func runChain(ctx context.Context, c *Context, steps []compiledStep, input Value) (Value, []error, error) {
	current := input
	var soft []error

	for i, cs := range steps {
		var next Value
		var err error

		if current.IsArray() && !cs.arrayAware {
			items := current.Items()
			out := make([]Value, len(items))
			for j, item := range items {
				out[j], err = cs.run(ctx, c, item)
				if err != nil {
					err = fmt.Errorf("element %d: %w", j, err)
					break
				}
			}
			next = Array(out)
		} else {
			next, err = cs.run(ctx, c, current)
		}

		if err != nil {
			stepErr := &StepError{StepIndex: i, Kind: cs.kind, Err: err}
			if cs.soft {
				// Pass-through: the soft step's input survives.
				soft = append(soft, stepErr)
				continue
			}
			return Null(), soft, stepErr
		}
		current = next
	}
	return current, soft, nil
}

// tagField stamps the owning field name onto step errors produced
// below the field extractor, which only knows index and kind.
func tagField(err error, field string) error {
	if se, ok := err.(*StepError); ok && se.Field == "" {
		se.Field = field
		return se
	}
	return err
}

// extractGroup runs a set of sibling field extractors independently
// over one input document. Fields are processed in name order so the
// warning stream is deterministic; output order is irrelevant, the
// result is keyed by field name.
func extractGroup(ctx context.Context, c *Context, fields map[string]*FieldExtractor, input Value) (map[string]any, []Warning) {
	out := make(map[string]any, len(fields))
	var warnings []Warning
	for _, name := range sortedKeys(fields) {
		v, w := fields[name].Extract(ctx, name, c, input)
		out[name] = v.AsJSON()
		warnings = append(warnings, w...)
	}
	return out, warnings
}

// cacheEnvelope is the serialized form of a Value in cache storage.
type cacheEnvelope struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
	JSON any    `json:"json,omitempty"`
}

func cacheEncode(v Value) ([]byte, error) {
	env := cacheEnvelope{Kind: v.Kind().String()}
	switch v.Kind() {
	case KindString, KindHTML:
		env.Text, _ = v.AsText()
	case KindJSON, KindArray:
		env.JSON = v.AsJSON()
	}
	return json.Marshal(env)
}

func cacheDecode(raw []byte) (Value, error) {
	var env cacheEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Null(), err
	}
	switch env.Kind {
	case "null":
		return Null(), nil
	case "string":
		return String(env.Text), nil
	case "html":
		return HTML(env.Text), nil
	case "json", "array":
		return FromJSON(env.JSON), nil
	default:
		return Null(), fmt.Errorf("unknown cache value kind %q", env.Kind)
	}
}
