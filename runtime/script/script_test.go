package script

import (
	"context"
	"testing"
)

func TestExprArithmetic(t *testing.T) {
	e := NewExpr()
	out, err := e.Execute(context.Background(), "input.a + input.b", map[string]any{
		"a": float64(2), "b": float64(3),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out != float64(5) {
		t.Errorf("got %v, want 5", out)
	}
}

func TestExprBuildsObjects(t *testing.T) {
	e := NewExpr()
	out, err := e.Execute(context.Background(), `{"doubled": input * 2}`, float64(4))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok || m["doubled"] != float64(8) {
		t.Errorf("got %v, want {doubled: 8}", out)
	}
}

func TestExprCompileError(t *testing.T) {
	if _, err := NewExpr().Execute(context.Background(), "input +", nil); err == nil {
		t.Error("expected a compile error")
	}
}

func TestExprProgramCache(t *testing.T) {
	e := NewExpr()
	for i := 0; i < 3; i++ {
		out, err := e.Execute(context.Background(), "input + 1", float64(i))
		if err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
		if out != float64(i+1) {
			t.Errorf("run %d: got %v, want %d", i, out, i+1)
		}
	}
}

func TestLuaReturnValue(t *testing.T) {
	l := NewLua()
	out, err := l.Execute(context.Background(), "return input.x * 2", map[string]any{"x": float64(21)})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out != float64(42) {
		t.Errorf("got %v, want 42", out)
	}
}

func TestLuaTables(t *testing.T) {
	l := NewLua()
	out, err := l.Execute(context.Background(), `return {"a", "b", "c"}`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	arr, ok := out.([]any)
	if !ok || len(arr) != 3 || arr[0] != "a" {
		t.Errorf("got %v, want [a b c]", out)
	}

	out, err = l.Execute(context.Background(), `return {kind = "cookie", ttl = 60}`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok || m["kind"] != "cookie" || m["ttl"] != float64(60) {
		t.Errorf("got %v, want a map", out)
	}
}

func TestLuaError(t *testing.T) {
	if _, err := NewLua().Execute(context.Background(), "error('exploded')", nil); err == nil {
		t.Error("expected a runtime error")
	}
}

func TestConstructorsBuildBothEngines(t *testing.T) {
	cons := Constructors()
	for _, kind := range []string{"expr", "lua"} {
		build, ok := cons[kind]
		if !ok {
			t.Fatalf("no constructor for %s", kind)
		}
		eng, err := build()
		if err != nil {
			t.Fatalf("building %s failed: %v", kind, err)
		}
		if eng.Name() != kind {
			t.Errorf("engine name = %q, want %q", eng.Name(), kind)
		}
	}
}
