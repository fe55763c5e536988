// Package script bridges host-script threads to gopher-lua (spec.md §9
// "host-script fiber integration"), implementing the thread.Fiber contract:
// each Resume call runs (or resumes) a Lua coroutine until it yields or
// returns, translating the yielded value into a FiberResult control token
// (next_update / restart / until_wake / complete).
package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"entityvm/internal/entity/core"
	"entityvm/internal/entity/diag"
	"entityvm/internal/entity/storage"
	"entityvm/internal/entity/thread"
	"entityvm/internal/entity/value"
)

// Sandbox mirrors the lockdown applied to every script VM: no filesystem,
// OS, debug, or module-loading access.
type Sandbox struct {
	FileSystemRestricted bool
	OSCommandsBlocked    bool
}

// DefaultSandbox locks everything down; scripts get component access only
// through the entity API this package registers.
func DefaultSandbox() Sandbox {
	return Sandbox{FileSystemRestricted: true, OSCommandsBlocked: true}
}

func applySandbox(L *lua.LState, s Sandbox) {
	if s.FileSystemRestricted {
		L.SetGlobal("io", lua.LNil)
		L.SetGlobal("dofile", lua.LNil)
		L.SetGlobal("loadfile", lua.LNil)
		L.SetGlobal("package", lua.LNil)
		L.SetGlobal("require", lua.LNil)
	}
	if s.OSCommandsBlocked {
		L.SetGlobal("os", lua.LNil)
	}
	L.SetGlobal("debug", lua.LNil)
}

// Fiber is a gopher-lua-backed thread.Fiber.
type Fiber struct {
	state   *lua.LState
	co      *lua.LState
	fn      *lua.LFunction
	started bool
	closed  bool

	pending []storage.Action
}

// NewFiber compiles source into a fresh sandboxed Lua state and readies a
// coroutine thread for it. The script is not run until the first Resume.
func NewFiber(source string, sandbox Sandbox) (*Fiber, error) {
	L := lua.NewState()
	applySandbox(L, sandbox)

	fn, err := L.LoadString(source)
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("script: compile failed: %w", err)
	}

	co, _ := L.NewThread()
	return &Fiber{state: L, co: co, fn: fn}, nil
}

// Resume implements thread.Fiber.
func (f *Fiber) Resume(ctx thread.FiberContext) thread.FiberResult {
	if f.closed {
		return thread.FiberResult{Signal: thread.FiberComplete}
	}

	f.pending = nil
	f.registerAPI(ctx)

	var results []lua.LValue
	var err error
	if !f.started {
		f.started = true
		_, results, err = f.state.Resume(f.co, f.fn)
	} else {
		_, results, err = f.state.Resume(f.co, lua.LNil)
	}

	if err != nil {
		diag.UnresolvedName("script", err.Error(), uint64(ctx.Entity))
		f.closed = true
		return thread.FiberResult{Signal: thread.FiberComplete}
	}

	if f.co.Status() == lua.ThreadDead {
		f.closed = true
		return thread.FiberResult{Signal: thread.FiberComplete, Actions: f.pending}
	}

	result := parseYield(results)
	result.Actions = f.pending
	return result
}

// Close implements thread.Fiber.
func (f *Fiber) Close() {
	if !f.closed {
		f.state.Close()
		f.closed = true
	}
}

func parseYield(results []lua.LValue) thread.FiberResult {
	if len(results) == 0 {
		return thread.FiberResult{Signal: thread.FiberNextUpdate}
	}
	signal, ok := results[0].(lua.LString)
	if !ok {
		return thread.FiberResult{Signal: thread.FiberNextUpdate}
	}
	switch string(signal) {
	case "restart":
		return thread.FiberResult{Signal: thread.FiberRestart}
	case "wait":
		var eventType core.TypeID
		if len(results) > 1 {
			if n, ok := results[1].(lua.LNumber); ok {
				eventType = core.TypeID(n)
			}
		}
		return thread.FiberResult{Signal: thread.FiberUntilWake, WakeEvent: eventType}
	case "done":
		return thread.FiberResult{Signal: thread.FiberComplete}
	default:
		return thread.FiberResult{Signal: thread.FiberNextUpdate}
	}
}

// registerAPI installs the "entity" global table a script uses to read
// components and emit actions, rebuilding it fresh every Resume so the
// closures always capture the current ctx rather than a stale one.
func (f *Fiber) registerAPI(ctx thread.FiberContext) {
	api := f.state.NewTable()
	f.state.SetGlobal("entity", api)

	f.state.SetField(api, "get_component", f.state.NewFunction(func(L *lua.LState) int {
		typeID := core.TypeID(L.CheckNumber(1))
		raw, ok := ctx.Registry.GetComponent(ctx.Entity, typeID)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(toLua(L, value.New(typeID, raw)))
		return 1
	}))

	f.state.SetField(api, "emit_state", f.state.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		f.pending = append(f.pending, storage.Action{
			Kind:      storage.ActionStateTransition,
			StateName: core.StateID(core.HashName(name)),
		})
		return 0
	}))

	f.state.SetField(api, "emit_component", f.state.NewFunction(func(L *lua.LState) int {
		typeID := core.TypeID(L.CheckNumber(1))
		lv := L.Get(2)
		f.pending = append(f.pending, storage.Action{
			Kind:           storage.ActionComponentUpdate,
			ComponentType:  typeID,
			ComponentValue: fromLua(lv, typeID),
		})
		return 0
	}))
}

// toLua converts an opaque value into a Lua value for a script to read,
// using the registered type's String op as a last resort for types with no
// native Lua representation.
func toLua(L *lua.LState, v value.Value) lua.LValue {
	if v.IsEmpty() {
		return lua.LNil
	}
	switch raw := v.Raw().(type) {
	case string:
		return lua.LString(raw)
	case bool:
		return lua.LBool(raw)
	case int:
		return lua.LNumber(float64(raw))
	case int32:
		return lua.LNumber(float64(raw))
	case int64:
		return lua.LNumber(float64(raw))
	case float32:
		return lua.LNumber(float64(raw))
	case float64:
		return lua.LNumber(raw)
	default:
		if ops, ok := value.OpsFor(v.TypeID()); ok && ops.String != nil {
			return lua.LString(ops.String(raw))
		}
		return lua.LNil
	}
}

// fromLua converts a Lua value back into an opaque value tagged as t.
func fromLua(lv lua.LValue, t core.TypeID) value.Value {
	switch lv.Type() {
	case lua.LTString:
		return value.New(t, string(lv.(lua.LString)))
	case lua.LTNumber:
		return value.New(t, float64(lv.(lua.LNumber)))
	case lua.LTBool:
		return value.New(t, bool(lv.(lua.LBool)))
	default:
		return value.Empty
	}
}
