package script

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Lua executes Lua scripts via gopher-lua. The input is exposed as the
// global "input"; the script's return value (or the global "output")
// becomes the result. Each execution gets a fresh state so scripts
// cannot leak globals into each other.
type Lua struct{}

func NewLua() *Lua { return &Lua{} }

func (e *Lua) Name() string { return "lua" }

func (e *Lua) Execute(ctx context.Context, source string, input any) (any, error) {
	state := lua.NewState()
	defer state.Close()
	state.SetContext(ctx)

	state.SetGlobal("input", toLua(state, input))
	if err := state.DoString(source); err != nil {
		return nil, fmt.Errorf("lua: %w", err)
	}

	ret := state.Get(-1)
	if ret == lua.LNil {
		ret = state.GetGlobal("output")
	}
	return fromLua(ret), nil
}

func toLua(state *lua.LState, v any) lua.LValue {
	switch n := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(n)
	case string:
		return lua.LString(n)
	case float64:
		return lua.LNumber(n)
	case int:
		return lua.LNumber(n)
	case []any:
		tbl := state.NewTable()
		for i, e := range n {
			tbl.RawSetInt(i+1, toLua(state, e))
		}
		return tbl
	case map[string]any:
		tbl := state.NewTable()
		for k, e := range n {
			tbl.RawSetString(k, toLua(state, e))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", n))
	}
}

func fromLua(v lua.LValue) any {
	switch n := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(n)
	case lua.LString:
		return string(n)
	case lua.LNumber:
		return float64(n)
	case *lua.LTable:
		// A table with consecutive integer keys from 1 is an array.
		length := n.Len()
		if length > 0 {
			arr := make([]any, 0, length)
			for i := 1; i <= length; i++ {
				arr = append(arr, fromLua(n.RawGetInt(i)))
			}
			return arr
		}
		obj := make(map[string]any)
		n.ForEach(func(k, val lua.LValue) {
			if ks, ok := k.(lua.LString); ok {
				obj[string(ks)] = fromLua(val)
			}
		})
		if len(obj) == 0 {
			return []any{}
		}
		return obj
	default:
		return nil
	}
}
