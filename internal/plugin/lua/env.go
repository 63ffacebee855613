package lua

import (
	"context"

	"github.com/bellabot/bella/internal/plugin"
	lua "github.com/yuin/gopher-lua"
)

// envTable builds the table passed to a module's setup function.
func envTable(L *lua.LState, ctx context.Context, env plugin.SetupEnv) *lua.LTable {
	t := L.NewTable()

	logger := L.NewTable()
	logFn := func(level string) *lua.LFunction {
		return method(L, logger, func(L *lua.LState, base int) int {
			msg := L.ToStringMeta(L.Get(base)).String()
			if env.Logger == nil {
				return 0
			}
			switch level {
			case "debug":
				env.Logger.Debug().Msg(msg)
			case "warn":
				env.Logger.Warn().Msg(msg)
			case "error":
				env.Logger.Error().Msg(msg)
			default:
				env.Logger.Info().Msg(msg)
			}
			return 0
		})
	}
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger.RawSetString(level, logFn(level))
	}
	t.RawSetString("logger", logger)

	cfg := env.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	t.RawSetString("config", toLua(L, cfg))

	storage := L.NewTable()
	if env.Storage != nil {
		storage.RawSetString("get", method(L, storage, func(L *lua.LState, base int) int {
			v, ok, err := env.Storage.Get(ctx, L.CheckString(base))
			if err != nil {
				L.RaiseError("storage get: %s", err.Error())
				return 0
			}
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(v))
			return 1
		}))
		storage.RawSetString("set", method(L, storage, func(L *lua.LState, base int) int {
			key := L.CheckString(base)
			value := L.ToStringMeta(L.Get(base + 1)).String()
			if err := env.Storage.Set(ctx, key, value); err != nil {
				L.RaiseError("storage set: %s", err.Error())
			}
			return 0
		}))
		storage.RawSetString("delete", method(L, storage, func(L *lua.LState, base int) int {
			if err := env.Storage.Delete(ctx, L.CheckString(base)); err != nil {
				L.RaiseError("storage delete: %s", err.Error())
			}
			return 0
		}))
	}
	t.RawSetString("storage", storage)

	return t
}
