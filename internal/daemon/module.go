package daemon

import (
	"context"
	"errors"

	"github.com/matheus3301/fieldchat/internal/api"
	"github.com/matheus3301/fieldchat/internal/bus"
	"github.com/matheus3301/fieldchat/internal/chat"
	"github.com/matheus3301/fieldchat/internal/config"
	"github.com/matheus3301/fieldchat/internal/lock"
	"github.com/matheus3301/fieldchat/internal/logging"
	"github.com/matheus3301/fieldchat/internal/session"
	"github.com/matheus3301/fieldchat/internal/socketio"
	"github.com/matheus3301/fieldchat/internal/status"
	"github.com/matheus3301/fieldchat/internal/store"
	intsync "github.com/matheus3301/fieldchat/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	Config      *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideTransport,
			provideChatSession,
			provideCacheEngine,
			provideSessionService,
			provideChatService,
			provideMessageService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, p.Config.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock",
		zap.String("session", p.SessionName),
		zap.String("user_id", p.Config.UserID),
	)
	l, err := lock.Acquire(session.Dir(p.SessionName), p.Config.UserID)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore takes the lock so the cache is only opened by its holder.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, result, err := store.OpenCache(dbPath)
	if err != nil {
		return nil, err
	}
	switch {
	case result.Rebuilt:
		logger.Warn("dirty cache discarded and rebuilt", zap.Uint("version", result.Version))
	case result.Changed:
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	default:
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTransport(p Params, m *status.Machine, logger *zap.Logger) *socketio.Client {
	return socketio.New(socketio.Config{
		URL:              p.Config.ServerURL,
		UserID:           p.Config.UserID,
		Token:            p.Config.Token,
		ReconnectInitial: p.Config.ReconnectInitial.Duration,
		ReconnectMax:     p.Config.ReconnectMax.Duration,
	}, m, logger.Named("socketio"))
}

func provideChatSession(p Params, transport *socketio.Client, b *bus.Bus, logger *zap.Logger) *chat.Session {
	return chat.NewSession(p.Config.UserID, transport, b, logger.Named("chat"))
}

func provideCacheEngine(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, p.Config.UserID, logger.Named("cache"))
}

func provideSessionService(p Params, m *status.Machine, sess *chat.Session, b *bus.Bus, db *store.DB) *api.SessionService {
	return api.NewSessionService(p.SessionName, m, sess, b, db)
}

func provideChatService(sess *chat.Session, db *store.DB) *api.ChatService {
	return api.NewChatService(sess, db)
}

func provideMessageService(sess *chat.Session, db *store.DB) *api.MessageService {
	return api.NewMessageService(sess, db)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, transport *socketio.Client, sess *chat.Session, engine *intsync.Engine, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start cache engine (subscribes to chat.* bus events).
			engine.Start(runCtx)

			transport.SetHandler(sess)

			// Reopen the last conversation; its first page waits in the
			// pending slot until the connection comes up.
			if id, err := engine.LastOpenConversation(); err != nil {
				logger.Warn("read open conversation checkpoint", zap.Error(err))
			} else if id != "" {
				logger.Info("restoring conversation", zap.String("chat_id", id))
				_ = sess.OpenConversation(id, "")
			}

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			go func() {
				defer close(done)
				if err := transport.Run(runCtx); err != nil {
					logger.Error("transport stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sess.Close()
			transport.Close()
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
				logger.Warn("transport did not stop in time")
			}
			engine.Stop()
			srv.Stop(ctx)

			var errs []error
			if err := db.Close(); err != nil {
				errs = append(errs, err)
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return errors.Join(errs...)
		},
	})
}
