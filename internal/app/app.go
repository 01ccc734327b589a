package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot"

	"retrygate/internal/adapter/external/openai"
	"retrygate/internal/adapter/proxy"
	"retrygate/internal/adapter/scheduler"
	"retrygate/internal/adapter/telegram"
	"retrygate/internal/adapter/telegram/handlers"
	"retrygate/internal/adapter/telegram/middleware"
	"retrygate/internal/config"
	"retrygate/internal/platform/httpclient"
	"retrygate/internal/platform/logger"
	"retrygate/internal/session"
)

const shutdownTimeout = 5 * time.Second

// App wires application components.
type App struct {
	cfg config.Config
	log *slog.Logger
}

// New creates a new App instance and loads configuration.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "retrygate",
	})
	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	return &App{cfg: cfg, log: log}, nil
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	defer logger.Close(a.log)
	a.log.Info("starting", slog.String("upstream", a.cfg.Upstream.URL))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	upstream, err := url.Parse(a.cfg.Upstream.URL)
	if err != nil {
		return err
	}

	store := session.NewStore()
	policy := session.NewPolicy(store,
		session.WithLimits(config.RetryLimits),
		session.WithLogger(a.log.With(slog.String("component", "session"))),
	)

	b, err := a.newBot(store, policy)
	if err != nil {
		return err
	}
	runnerOpts := []session.RunnerOption{session.WithRunnerLogger(a.log.With(slog.String("component", "runner")))}
	if b != nil {
		n := telegram.NewNotifier(b, a.cfg.Telegram.AlertChatID, a.log)
		runnerOpts = append(runnerOpts, session.WithTerminalHook(n.RetryExhausted))
	}
	runner := session.NewRunner(policy, runnerOpts...)

	client := httpclient.New(
		httpclient.WithLogger(a.log),
		httpclient.WithTimeout(a.cfg.Upstream.Timeout),
		httpclient.WithRetry("upstream", httpclient.WithLimits(config.RetryLimits)),
	)
	chat := openai.New(client, runner,
		strings.TrimRight(a.cfg.Upstream.URL, "/")+"/v1",
		a.cfg.Upstream.APIKey,
		openai.WithLogger(a.log),
	)

	srv := proxy.New(upstream, client.Transport(), store, policy,
		proxy.WithLogger(a.log.With(slog.String("component", "proxy"))),
		proxy.WithAPIKey(a.cfg.Upstream.APIKey),
		proxy.WithChat(chat),
	)
	webhook := b != nil && a.cfg.Telegram.WebhookURL != ""
	if webhook {
		srv.Engine().POST("/telegram/webhook", gin.WrapH(b.WebhookHandler()))
	}

	sched := scheduler.New(ctx, scheduler.Config{Logger: a.log.With(slog.String("component", "scheduler"))})
	reaper := scheduler.NewReaper(policy, a.cfg.Reaper.IdleTTL, a.log)
	if _, err := reaper.Register(sched, a.cfg.Reaper.Schedule); err != nil {
		return err
	}
	sched.Start()

	httpSrv := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", slog.String("addr", a.cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	if b != nil {
		if webhook {
			if _, err := b.SetWebhook(ctx, &bot.SetWebhookParams{
				URL:         a.cfg.Telegram.WebhookURL,
				SecretToken: a.cfg.Telegram.WebhookSecret,
			}); err != nil {
				return err
			}
			go b.StartWebhook(ctx)
		} else {
			go b.Start(ctx)
		}
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		a.log.Error("server", slog.Any("err", err))
		stop()
		return err
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = httpSrv.Shutdown(shutdownCtx)
	if serr := sched.Stop(shutdownCtx); serr != nil {
		a.log.Warn("scheduler stop", slog.Any("err", serr))
	}
	return err
}

// newBot returns nil when no token is configured.
func (a *App) newBot(store *session.Store, policy *session.Policy) (*bot.Bot, error) {
	if a.cfg.Telegram.Token == "" {
		return nil, nil
	}
	cmds := handlers.New(store, policy, a.log)
	h := middleware.Chain(cmds.Handle,
		middleware.NewACL(a.cfg.Telegram.AdminIDs).Middleware,
		middleware.NewRateLimiter(time.Second).Middleware,
	)
	return telegram.NewBot(a.cfg.Telegram.Token, h, a.cfg.Telegram.WebhookSecret)
}
