package lua

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bellabot/bella/internal/domain"
	"github.com/bellabot/bella/internal/logging"
	"github.com/bellabot/bella/internal/plugin"
	lua "github.com/yuin/gopher-lua"
)

// Runtime loads plugin entry points as Lua chunks. Each Load builds a fresh
// interpreter, so reloading never sees state from the previous module.
type Runtime struct {
	log *logging.Logger
}

// NewRuntime creates a Lua runtime.
func NewRuntime(log *logging.Logger) *Runtime {
	return &Runtime{log: log.Sub("lua")}
}

// Load implements plugin.Runtime.
func (rt *Runtime) Load(ctx context.Context, rec plugin.Record) (*plugin.Module, error) {
	src, err := os.ReadFile(rec.EntryPoint)
	if err != nil {
		return nil, fmt.Errorf("read entry point: %w", err)
	}

	code := string(src)
	if rec.Kind == plugin.KindLegacy {
		code = plugin.Declaration.ReplaceAllString(code, "")
	}

	log := rt.log.With("plugin", rec.Manifest.ID)
	st := NewState(log)

	var ret lua.LValue
	err = st.Do(ctx, func(L *lua.LState) error {
		chunk, err := L.Load(strings.NewReader(code), filepath.Base(rec.EntryPoint))
		if err != nil {
			return scriptError(err)
		}
		out, err := call(L, chunk, 1)
		if err != nil {
			return err
		}
		ret = out[0]
		if rec.Kind == plugin.KindLegacy && ret.Type() != lua.LTFunction {
			ret = L.GetGlobal("handler")
		}
		return nil
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	var mod *plugin.Module
	if rec.Kind == plugin.KindLegacy {
		mod, err = legacyModule(st, rec, ret)
	} else {
		mod, err = modernModule(st, ret)
	}
	if err != nil {
		st.Close()
		return nil, err
	}
	mod.Close = st.Close
	return mod, nil
}

func modernModule(st *State, ret lua.LValue) (*plugin.Module, error) {
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: chunk must return a table, got %s", plugin.ErrNoEntryPoint, ret.Type())
	}

	mod := plugin.NewModule()

	if commands, ok := tbl.RawGetString("commands").(*lua.LTable); ok {
		for _, name := range orderedKeys(commands) {
			fn, ok := commands.RawGetString(name).(*lua.LFunction)
			if !ok {
				continue
			}
			mod.Handle(name, commandFunc(st, fn))
		}
	}

	if tools, ok := tbl.RawGetString("tools").(*lua.LTable); ok {
		for _, name := range orderedKeys(tools) {
			def, ok := tools.RawGetString(name).(*lua.LTable)
			if !ok {
				continue
			}
			handler, ok := def.RawGetString("handler").(*lua.LFunction)
			if !ok {
				continue
			}
			mod.AddTool(name, plugin.Tool{
				Description: lua.LVAsString(def.RawGetString("description")),
				Schema:      toStringMap(def.RawGetString("schema")),
				Handler:     toolFunc(st, handler),
			})
		}
	}

	if setup, ok := tbl.RawGetString("setup").(*lua.LFunction); ok {
		mod.Setup = func(ctx context.Context, env plugin.SetupEnv) error {
			return st.Do(ctx, func(L *lua.LState) error {
				_, err := call(L, setup, 0, envTable(L, ctx, env))
				return err
			})
		}
	}

	return mod, nil
}

func commandFunc(st *State, fn *lua.LFunction) plugin.CommandFunc {
	return func(ctx context.Context, mc *domain.MessageContext) error {
		return st.Do(ctx, func(L *lua.LState) error {
			_, err := call(L, fn, 0, contextTable(L, ctx, mc))
			return err
		})
	}
}

func toolFunc(st *State, fn *lua.LFunction) plugin.ToolFunc {
	return func(ctx context.Context, mc *domain.MessageContext, input map[string]any) (any, error) {
		var result any
		err := st.Do(ctx, func(L *lua.LState) error {
			if input == nil {
				input = map[string]any{}
			}
			out, err := call(L, fn, 1, contextTable(L, ctx, mc), toLua(L, input))
			if err != nil {
				return err
			}
			result = toGo(out[0])
			return nil
		})
		return result, err
	}
}

func legacyModule(st *State, rec plugin.Record, handler lua.LValue) (*plugin.Module, error) {
	fn, ok := handler.(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: legacy plugin %s defines no handler function", plugin.ErrNoEntryPoint, rec.Manifest.ID)
	}

	return plugin.LegacyModule(rec.Manifest.Capabilities.Commands, func(ctx context.Context, m plugin.LegacyMessage, opts plugin.LegacyOptions) error {
		return st.Do(ctx, func(L *lua.LState) error {
			_, err := call(L, fn, 0, legacyMessageTable(L, m), legacyOptionsTable(L, opts))
			return err
		})
	}), nil
}
