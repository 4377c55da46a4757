// Package app composes the client: config, cache, backend client, stores,
// call manager, sync engine and the TUI, wired together with fx.
package app

import (
	"context"
	"os"

	"github.com/matheus3301/chatty/internal/api"
	"github.com/matheus3301/chatty/internal/auth"
	"github.com/matheus3301/chatty/internal/bus"
	"github.com/matheus3301/chatty/internal/call"
	"github.com/matheus3301/chatty/internal/chat"
	"github.com/matheus3301/chatty/internal/config"
	"github.com/matheus3301/chatty/internal/lock"
	"github.com/matheus3301/chatty/internal/logging"
	"github.com/matheus3301/chatty/internal/realtime"
	"github.com/matheus3301/chatty/internal/session"
	"github.com/matheus3301/chatty/internal/store"
	intsync "github.com/matheus3301/chatty/internal/sync"
	"github.com/matheus3301/chatty/internal/tui"
	"github.com/matheus3301/chatty/internal/tui/model"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the client, composing all providers and
// lifecycle hooks. The fx event log is suppressed because the TUI owns the
// terminal.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideCacheDB,
			provideAPIClient,
			provideAuthStore,
			provideChatStore,
			provideCallManager,
			provideSyncEngine,
			provideViewModel,
			provideApp,
		),
		fx.Invoke(registerLifecycle),
		fx.NopLogger,
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.FileOnly(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		logger.Info("no config file, using defaults")
		return config.Default(), nil
	}
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideCacheDB(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAPIClient(p Params, cfg *config.Config) *api.Client {
	// The token source re-reads the file per request so a token issued by
	// login takes effect without restarting.
	return api.NewClient(cfg.APIBaseURL(), func() string {
		return session.LoadToken(p.SessionName)
	})
}

// fileTokens persists the bearer token under the session directory.
type fileTokens struct {
	session string
}

func (t fileTokens) Save(token string) error { return session.SaveToken(t.session, token) }
func (t fileTokens) Clear() error            { return session.ClearToken(t.session) }

func provideAuthStore(p Params, cfg *config.Config, client *api.Client, b *bus.Bus, logger *zap.Logger) *auth.Store {
	dial := func(userID string) (auth.Socket, error) {
		wsURL, err := cfg.WebsocketURL()
		if err != nil {
			return nil, err
		}
		return realtime.Dial(wsURL, userID, logger)
	}
	return auth.NewStore(client, dial, fileTokens{session: p.SessionName}, b, logger)
}

func provideChatStore(client *api.Client, authStore *auth.Store, b *bus.Bus, logger *zap.Logger) *chat.Store {
	socket := func() chat.Socket {
		s := authStore.Socket()
		if s == nil {
			return nil
		}
		return s
	}
	return chat.NewStore(client, socket, b, logger)
}

func provideCallManager(cfg *config.Config, authStore *auth.Store, chatStore *chat.Store, b *bus.Bus, logger *zap.Logger) *call.Manager {
	selfID := func() string {
		if ident := authStore.Identity(); ident != nil {
			return ident.ID
		}
		return ""
	}
	// Only roster members may ring or negotiate with us.
	contacts := func(userID string) bool {
		for _, u := range chatStore.Users() {
			if u.ID == userID {
				return true
			}
		}
		return false
	}
	return call.NewManager(selfID, contacts, cfg.STUNServers, b, logger)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, logger)
}

func provideViewModel(authStore *auth.Store, chatStore *chat.Store, manager *call.Manager, db *store.DB) *model.ViewModel {
	return model.NewViewModel(authStore, chatStore, manager, db)
}

func provideApp(p Params, vm *model.ViewModel, b *bus.Bus) *tui.App {
	return tui.NewApp(vm, b, p.SessionName)
}

// bindCalls keeps the call manager attached to whatever socket the auth
// store currently holds. Auth events are published before the socket is
// dialed, so binding happens on the first presence push after connect.
func bindCalls(ctx context.Context, authStore *auth.Store, manager *call.Manager, b *bus.Bus, logger *zap.Logger) {
	events, unsub := b.Subscribe("", 64)
	defer unsub()

	var bound auth.Socket
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			switch evt.Kind {
			case "auth.logged_in", "auth.checked", "presence.updated":
				sock := authStore.Socket()
				if sock == nil || sock == bound {
					continue
				}
				manager.Bind(sock)
				bound = sock
				logger.Info("call signaling bound")
			case "auth.logged_out":
				if bound == nil {
					continue
				}
				manager.Unbind()
				bound = nil
				logger.Info("call signaling unbound")
			}
		}
	}
}

func registerLifecycle(lc fx.Lifecycle, shutdowner fx.Shutdowner, app *tui.App, lk *lock.Lock, db *store.DB, engine *intsync.Engine, manager *call.Manager, authStore *auth.Store, b *bus.Bus, logger *zap.Logger) {
	bindCtx, cancelBind := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start the cache sync engine (subscribes to chat.* bus events).
			engine.Start(context.Background())

			go bindCalls(bindCtx, authStore, manager, b, logger)

			// Run the TUI; when it exits, tear the whole app down.
			go func() {
				if err := app.Run(); err != nil {
					logger.Error("tui error", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			app.Stop()
			cancelBind()
			manager.Unbind()
			engine.Stop()
			authStore.DisconnectSocket()
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
