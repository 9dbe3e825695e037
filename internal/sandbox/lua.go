package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const defaultLuaTimeout = time.Second

// Lua executes submissions in a fresh LState per run. The state carries a
// deadline context and is closed on return, finished or not.
type Lua struct {
	timeout time.Duration
}

// NewLua creates a Lua sandbox. A non-positive timeout selects the default.
func NewLua(timeout time.Duration) *Lua {
	if timeout <= 0 {
		timeout = defaultLuaTimeout
	}
	return &Lua{timeout: timeout}
}

// Run evaluates the source, resolves the target function as a global and
// calls it. print output is captured into Logs.
func (l *Lua) Run(ctx context.Context, source, funcName string, args []interface{}) RunResult {
	logs := make([]string, 0, 4)

	state := lua.NewState()
	defer state.Close()

	runCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	state.SetContext(runCtx)

	state.SetGlobal("print", state.NewFunction(func(ls *lua.LState) int {
		top := ls.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, ls.ToStringMeta(ls.Get(i)).String())
		}
		logs = append(logs, strings.Join(parts, "\t"))
		return 0
	}))

	if err := state.DoString(source); err != nil {
		return l.failure(logs, runCtx, err)
	}

	fn := state.GetGlobal(funcName)
	if fn.Type() != lua.LTFunction {
		return RunResult{Output: nil, Logs: append(logs, fmt.Sprintf("Error: function %q not found", funcName))}
	}

	luaArgs := make([]lua.LValue, 0, len(args))
	for _, arg := range args {
		luaArgs = append(luaArgs, goToLua(state, arg))
	}

	if err := state.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, luaArgs...); err != nil {
		return l.failure(logs, runCtx, err)
	}
	ret := state.Get(-1)
	state.Pop(1)

	return RunResult{Output: luaToGo(ret), Logs: logs}
}

func (l *Lua) failure(logs []string, runCtx context.Context, err error) RunResult {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return RunResult{Output: nil, Logs: append(logs, fmt.Sprintf("Error: execution timed out after %s", l.timeout))}
	}
	return RunResult{Output: nil, Logs: append(logs, "Error: "+err.Error())}
}

func goToLua(state *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []interface{}:
		table := state.NewTable()
		for i, item := range val {
			table.RawSetInt(i+1, goToLua(state, item))
		}
		return table
	case map[string]interface{}:
		table := state.NewTable()
		for k, item := range val {
			table.RawSetString(k, goToLua(state, item))
		}
		return table
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

func luaToGo(v lua.LValue) interface{} {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		// A table with sequential integer keys becomes a slice, anything
		// else a map.
		length := val.Len()
		if length > 0 {
			out := make([]interface{}, 0, length)
			for i := 1; i <= length; i++ {
				out = append(out, luaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]interface{})
		val.ForEach(func(k, item lua.LValue) {
			out[k.String()] = luaToGo(item)
		})
		if len(out) == 0 {
			return []interface{}{}
		}
		return out
	default:
		return v.String()
	}
}
