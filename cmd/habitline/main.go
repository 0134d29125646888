package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/habitline/internal/agent"
	"github.com/hray3182/habitline/internal/api"
	"github.com/hray3182/habitline/internal/bot"
	"github.com/hray3182/habitline/internal/bot/handlers"
	"github.com/hray3182/habitline/internal/config"
	"github.com/hray3182/habitline/internal/database"
	"github.com/hray3182/habitline/internal/localstore"
	"github.com/hray3182/habitline/internal/notify"
	"github.com/hray3182/habitline/internal/repository"
	"github.com/hray3182/habitline/internal/scheduler"
	"github.com/hray3182/habitline/internal/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorw("Exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) (*zap.SugaredLogger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	// Connect to database
	db, err := database.New(ctx, cfg.Database.URI, cfg.Database.MaxConns)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Connected to database")

	if err := db.Migrate(ctx, logger.Named("migrate")); err != nil {
		return err
	}

	reminders := repository.NewReminderRepository(db)
	changes := repository.NewChangeFeed(db, logger.Named("changes"))

	local := localstore.New(cfg.Local.Path)
	defer local.Close()

	sess := session.New()

	// Background agent (optional)
	var bgAgent *agent.Agent
	var subs *agent.RedisSubscriptions
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		bgAgent = agent.New(rdb, cfg.Redis.Origin, nil, logger.Named("agent"))
		subs = bgAgent.Subscriptions()
		bgAgent.SetDisplay(agent.NewWebPush(subs, agent.PushConfig{
			Subscriber:      cfg.Push.Subscriber,
			VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
			TTL:             cfg.Push.TTL,
		}, logger.Named("push")))
		bgAgent.SetPollInterval(cfg.Redis.PollInterval)
		go bgAgent.Run(ctx)
	} else {
		logger.Info("Redis not configured, background delivery disabled")
	}

	// Telegram foreground (optional)
	var tgAPI *tgbotapi.BotAPI
	var tgNotifier *bot.Notifier
	if cfg.Telegram.Token != "" {
		tgAPI, err = bot.NewAPI(cfg.Telegram.Token)
		if err != nil {
			return err
		}
		tgNotifier = bot.NewNotifier(tgAPI, cfg.Telegram.ChatID, logger.Named("telegram"))
	} else {
		logger.Info("Telegram not configured, foreground display disabled")
	}

	// A configured display surface is the user's consent to notifications.
	hasSurface := tgNotifier != nil || cfg.Push.VAPIDPrivateKey != ""
	perms := localstore.NewPermissions(local, func(context.Context) bool { return hasSurface })

	manager := notify.New(notifyAgent(bgAgent), local, perms, foreground(tgNotifier), logger.Named("notify"))
	defer manager.Stop()
	manager.Initialize(ctx)
	if n := manager.RestoreScheduled(ctx); n > 0 {
		logger.Infow("Restored scheduled notifications", "count", n)
	}

	sched := scheduler.New(reminders, manager, toaster(tgNotifier), sess, changes, scheduler.Config{
		SyncInterval:     cfg.Sync.Interval,
		PollInterval:     cfg.Sync.PollInterval,
		Horizon:          cfg.Sync.Horizon,
		HeartbeatTimeout: cfg.Sync.HeartbeatTimeout,
		SnoozeMinutes:    cfg.Sync.SnoozeMinutes,
		DefaultSnooze:    cfg.Sync.DefaultSnooze,
		LinkBaseURL:      cfg.Sync.LinkBaseURL,
	}, logger.Named("scheduler"))

	if cfg.Session.UserID != "" {
		sess.Start(cfg.Session.UserID)
	}

	go sched.Start(ctx)

	var actions api.ActionSink = api.ActionFunc(sched.HandleAction)
	if bgAgent != nil {
		go sched.ConsumeActions(ctx, bgAgent.Actions(ctx))
		actions = bgAgent
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.New(subscriptions(subs), actions, manager, sched, logger.Named("http")).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infow("Starting HTTP server", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("HTTP server failed", "error", err)
		}
	}()

	if tgAPI != nil {
		h := handlers.New(tgAPI, cfg.Telegram.ChatID, cfg.Session.UserID, reminders, sched, sess, logger.Named("telegram"))
		tg := bot.New(tgAPI, h, logger.Named("telegram"))
		go func() {
			if err := tg.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorw("Bot stopped", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// The helpers below keep a nil pointer from becoming a non-nil interface.

func notifyAgent(a *agent.Agent) notify.Agent {
	if a == nil {
		return nil
	}
	return a
}

func subscriptions(s *agent.RedisSubscriptions) api.Subscriptions {
	if s == nil {
		return nil
	}
	return s
}

func foreground(n *bot.Notifier) notify.Foreground {
	if n == nil {
		return nil
	}
	return n
}

func toaster(n *bot.Notifier) scheduler.Toaster {
	if n == nil {
		return nil
	}
	return n
}
