// Package script implements the ScriptEngine port. Two engines ship
// by default: "expr" for expression-style one-liners and "lua" for
// full scripts. Constructors feeds Services.BuildScriptEngines so a
// runtime only builds the engines its rule requires.
package script

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"ruleflow/runtime"
)

// Constructors maps engine kinds to their builders.
func Constructors() map[string]func() (runtime.ScriptEngine, error) {
	return map[string]func() (runtime.ScriptEngine, error){
		"expr": func() (runtime.ScriptEngine, error) { return NewExpr(), nil },
		"lua":  func() (runtime.ScriptEngine, error) { return NewLua(), nil },
	}
}

// Expr evaluates expr-lang expressions. The script input is bound to
// the "input" variable. Programs are compiled once and cached.
type Expr struct {
	programs sync.Map // source -> *vm.Program
}

func NewExpr() *Expr { return &Expr{} }

func (e *Expr) Name() string { return "expr" }

func (e *Expr) Execute(ctx context.Context, source string, input any) (any, error) {
	program, err := e.program(source)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(program, map[string]any{"input": input})
	if err != nil {
		return nil, fmt.Errorf("expr: %w", err)
	}
	return normalize(out), nil
}

func (e *Expr) program(source string) (*vm.Program, error) {
	if cached, ok := e.programs.Load(source); ok {
		return cached.(*vm.Program), nil
	}
	program, err := expr.Compile(source, expr.Env(map[string]any{"input": nil}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("expr compile: %w", err)
	}
	actual, _ := e.programs.LoadOrStore(source, program)
	return actual.(*vm.Program), nil
}

// normalize coerces engine output into JSON-like shapes.
func normalize(v any) any {
	switch n := v.(type) {
	case nil, bool, string, float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case []any:
		out := make([]any, len(n))
		for i, e := range n {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, e := range n {
			out[k] = normalize(e)
		}
		return out
	default:
		return fmt.Sprintf("%v", n)
	}
}
