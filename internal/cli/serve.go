package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/bellabot/bella/internal/bot"
	"github.com/bellabot/bella/internal/channel"
	"github.com/bellabot/bella/internal/channel/irc"
	"github.com/bellabot/bella/internal/channel/web"
	"github.com/bellabot/bella/internal/channel/whatsapp"
	"github.com/bellabot/bella/internal/config"
	"github.com/bellabot/bella/internal/gateway"
	"github.com/bellabot/bella/internal/hooks"
	"github.com/bellabot/bella/internal/llm"
	"github.com/bellabot/bella/internal/logging"
	"github.com/bellabot/bella/internal/plugin"
	"github.com/bellabot/bella/internal/plugin/builtin"
	"github.com/bellabot/bella/internal/plugin/lua"
	"github.com/bellabot/bella/internal/routing"
	"github.com/bellabot/bella/internal/store"
	"github.com/spf13/cobra"
)

// core holds the pieces shared by every command that dispatches messages.
type core struct {
	db      *store.DB
	history *store.HistoryStore
	hooks   *hooks.Manager
	plugins *plugin.Registry
	ai      *llm.Registry
	bot     *bot.Bot
}

// newCore opens the store, builds the plugin registry and the AI client, and
// loads every enabled plugin.
func newCore(ctx context.Context, cfg config.Config, log *logging.Logger) (*core, error) {
	db, err := store.Open(ctx, cfg.Store.Path, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	c := &core{
		db:      db,
		history: store.NewHistoryStore(db),
		hooks:   hooks.NewManager(log),
	}
	kv := store.NewKVStore(db)

	rt := newRuntime(log)
	if ids, err := builtin.Install(cfg.Plugins.Dir, builtin.All(log, builtin.Options{})); err != nil {
		log.Warn().Err(err).Msg("failed to install built-in plugins")
	} else if len(ids) > 0 {
		log.Info().Strs("ids", ids).Msg("installed built-in plugins (disabled)")
	}
	c.plugins = plugin.NewRegistry(cfg.Plugins.Dir, rt, log,
		plugin.WithHooks(c.hooks),
		plugin.WithEnvironment(func(id string) plugin.SetupEnv {
			settings := cfg.Plugins.Settings[id]
			if settings == nil {
				settings = map[string]any{}
			}
			return plugin.SetupEnv{
				Logger:  log.Sub("plugin").With("plugin", id),
				Config:  settings,
				Storage: kv.For(id),
			}
		}),
	)

	ai, aiReg, err := llm.NewClientFromConfig(ctx, cfg.AI, log)
	switch {
	case errors.Is(err, llm.ErrNoProvider):
		log.Warn().Msg("no AI provider available, fallback replies disabled")
		aiReg.Close()
		ai = nil
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("ai provider: %w", err)
	default:
		c.ai = aiReg
		log.Info().Strs("providers", aiReg.List()).Msg("ai providers ready")
	}

	c.bot = bot.New(bot.ConfigFrom(cfg), c.plugins, ai, log, bot.WithHooks(c.hooks))
	if err := c.bot.Initialize(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// newRuntime serves built-in plugins natively and everything else through
// the Lua interpreter.
func newRuntime(log *logging.Logger) *plugin.NativeRuntime {
	rt := plugin.NewNativeRuntime(lua.NewRuntime(log))
	builtin.Register(rt, builtin.All(log, builtin.Options{}))
	return rt
}

// Close releases plugins, providers and the database.
func (c *core) Close() {
	c.plugins.Close()
	if c.ai != nil {
		c.ai.Close()
	}
	c.hooks.Wait()
	c.db.Close()
}

func newServeCmd() *cobra.Command {
	var (
		port  int
		bind  string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bot with its gateway and channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if watch {
				cfg.Plugins.Watch = true
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			level := cfg.Logging.Level
			if logLevel != "" {
				level = logLevel
			}
			appLog, closer, err := logging.FromOptions(logging.Options{
				Level: level,
				Style: cfg.Logging.ConsoleStyle,
				File:  cfg.Logging.File,
			})
			if err != nil {
				return err
			}
			defer closer.Close()

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("create data dirs: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, appLog)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "gateway port (overrides config)")
	cmd.Flags().StringVar(&bind, "bind", "", "bind mode: loopback, lan, custom (overrides config)")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload plugins when their files change")

	return cmd
}

// serve runs the bot until ctx is cancelled.
func serve(ctx context.Context, cfg config.Config, log *logging.Logger) error {
	c, err := newCore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	log.Info().
		Str("name", cfg.Bot.Name).
		Str("prefix", cfg.Bot.Prefix).
		Int("plugins", c.plugins.Count()).
		Int("tools", c.bot.Tools().Len()).
		Msg("bot initialized")

	if cfg.Plugins.Watch {
		w, err := plugin.NewWatcher(c.plugins, c.bot.PluginReloaded, log)
		if err != nil {
			log.Warn().Err(err).Msg("plugin watcher unavailable")
		} else {
			go func() {
				if err := w.Run(ctx); err != nil {
					log.Error().Err(err).Msg("plugin watcher stopped")
				}
			}()
		}
	}

	channels := channel.NewRegistry(log)
	var webCh *web.Channel
	if !cfg.Channels.Web.Disabled {
		webCh = web.New(log)
		channels.Register(webCh)
	}
	var waCh *whatsapp.Channel
	if cfg.Channels.WhatsApp != nil {
		waCh = whatsapp.New(*cfg.Channels.WhatsApp, log)
		channels.Register(waCh)
	}
	if cfg.Channels.IRC != nil {
		channels.Register(irc.New(*cfg.Channels.IRC, log))
	}

	router := routing.NewRouter(channels, c.bot, log,
		routing.WithHistory(c.history),
		routing.WithHooks(c.hooks),
		routing.WithSenderName(cfg.Bot.Name),
	)
	router.Wire(ctx)

	opts := []gateway.ServerOption{
		gateway.WithRouter(router),
		gateway.WithChannels(channels),
		gateway.WithHistory(c.history),
		gateway.WithHooks(c.hooks),
	}
	if webCh != nil {
		opts = append(opts, gateway.WithWeb(webCh))
	}
	if waCh != nil {
		opts = append(opts, gateway.WithWhatsApp(waCh))
	}
	srv := gateway.New(cfg, c.bot, log, opts...)

	channels.StartAll(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		channels.StopAll(stopCtx)
		router.Wait()
	}()

	return srv.Start(ctx)
}
