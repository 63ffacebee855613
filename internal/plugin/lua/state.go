// Package lua runs plugin entry points in an embedded, sandboxed Lua 5.1
// interpreter.
package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bellabot/bella/internal/logging"
	lua "github.com/yuin/gopher-lua"
)

var ErrStateClosed = errors.New("lua state is closed")

// ScriptError is a runtime error raised by plugin code.
type ScriptError struct {
	Message   string
	Traceback string
}

func (e *ScriptError) Error() string { return e.Message }

// State wraps one interpreter. LState is not goroutine-safe, so every entry
// into Lua goes through Do, which holds the state's mutex.
type State struct {
	L *lua.LState

	mu     sync.Mutex
	closed bool
}

// removedGlobals can reach the filesystem or compile arbitrary code.
var removedGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module"}

// NewState creates a sandboxed interpreter with base, table, string and
// math libraries. print is redirected to log.
func NewState(log *logging.Logger) *State {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		log.Debug().Msg(fmt.Sprint(parts...))
		return 0
	}))

	return &State{L: L}
}

// Do runs fn with exclusive access to the interpreter. ctx is attached for
// the duration of the call, so cancelling it aborts running Lua code.
func (s *State) Do(ctx context.Context, fn func(L *lua.LState) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()

	err = fn(s.L)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Close releases the interpreter. It is safe to call more than once.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.L.Close()
	s.closed = true
}

// call invokes fn in protected mode and returns exactly nret results.
// Must be called from inside Do.
func call(L *lua.LState, fn lua.LValue, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	if err := L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
		return nil, scriptError(err)
	}
	out := make([]lua.LValue, nret)
	for i := 0; i < nret; i++ {
		out[i] = L.Get(-nret + i)
	}
	L.Pop(nret)
	return out, nil
}

func scriptError(err error) error {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		msg := "lua error"
		if apiErr.Object != nil {
			msg = apiErr.Object.String()
		}
		return &ScriptError{Message: msg, Traceback: apiErr.StackTrace}
	}
	return err
}
