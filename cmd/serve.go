package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"flowcraft/backend/internal/api/handlers"
	"flowcraft/backend/internal/api/routes"
	"flowcraft/backend/internal/capture"
	"flowcraft/backend/internal/clock"
	"flowcraft/backend/internal/config"
	"flowcraft/backend/internal/executor"
	"flowcraft/backend/internal/hub"
	"flowcraft/backend/internal/metrics"
	"flowcraft/backend/internal/recorder"
	"flowcraft/backend/internal/replay"
	"flowcraft/backend/internal/services"
	"flowcraft/backend/pkg/chrome"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the browser and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := flags.setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func startBrowser(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*chrome.Browser, error) {
	return chrome.Launch(ctx, chrome.Options{
		RemoteURL:   cfg.Chrome.RemoteURL,
		ExecPath:    cfg.Chrome.ExecPath,
		Headless:    cfg.Chrome.HeadlessMode,
		UserDataDir: cfg.Chrome.UserDataDir,
		Device:      cfg.Chrome.Device,
		Log:         log,
	})
}

func newPlayer(cfg *config.Config, b *chrome.Browser, log logrus.FieldLogger, m *metrics.Metrics, ui replay.UIBroadcaster) *replay.Controller {
	cdp := executor.NewCDP(b, log)
	exec := executor.New(cdp, cdp, cdp, executor.Options{
		RetryCount:    retryCount(cfg.Replay),
		RetryInterval: cfg.Replay.RetryInterval,
		SettleDelay:   cfg.Replay.SettleDelay,
		Log:           log,
		Metrics:       m,
	})
	return replay.New(exec, replay.Options{
		Log:      log,
		UI:       ui,
		Metrics:  m,
		MinDelay: cfg.Replay.MinDelay,
		MaxDelay: cfg.Replay.MaxDelay,
	})
}

// retryCount maps the configured retry count onto executor.Options, where
// zero would select the executor default.
func retryCount(c config.ReplayConfig) int {
	if c.RetryCount == 0 {
		return executor.NoRetries
	}
	return c.RetryCount
}

// wireCapture installs the page shim into every current and future tab and
// forwards tab lifecycle events to the recorder.
func wireCapture(ctx context.Context, b *chrome.Browser, src *capture.CDPSource, rec *recorder.Controller, log logrus.FieldLogger) {
	install := func(id string) {
		tab, ok := b.Tab(id)
		if !ok {
			return
		}
		go func() {
			if err := src.Install(ctx, tab); err != nil {
				log.WithError(err).WithField("tab", id).Warn("⚠️ Failed to install page recorder")
			}
		}()
	}
	b.OnTab(func(ev chrome.TabEvent) {
		rec.HandleTab(ev)
		switch ev.Kind {
		case chrome.TabCreated:
			install(ev.TabID)
		case chrome.TabRemoved:
			src.Forget(ev.TabID)
		}
	})
	for _, id := range b.Tabs() {
		install(id)
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	m := metrics.New()
	st, closeStore, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	browser, err := startBrowser(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer browser.Close()

	h := hub.New(log, m)
	src := capture.NewCDPSource(log)
	var external recorder.ExternalNotifier
	if cfg.Recorder.NotifyURL != "" {
		external = &recorder.HTTPNotifier{URL: cfg.Recorder.NotifyURL, Client: &http.Client{Timeout: 10 * time.Second}}
	}
	rec := recorder.New(src, recorder.Options{
		Log:       log,
		Pages:     src,
		UI:        h,
		External:  external,
		Metrics:   m,
		Capturers: capture.Capturers(clock.Real, cfg.Recorder.ScrollThrottle),
	})
	go src.Run(ctx)
	go rec.Run(ctx)
	wireCapture(ctx, browser, src, rec, log)

	player := newPlayer(cfg, browser, log, m, h)

	var scheduler *services.SchedulerService
	if cfg.Scheduler.Enabled {
		scheduler = services.NewScheduler(st, player, services.SchedulerOptions{Log: log, Metrics: m})
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
		defer scheduler.Stop()
	}
	statusSync := services.NewStatusSync(player, h, services.DefaultSyncInterval, log)
	statusSync.Start(ctx)
	defer statusSync.Stop()

	hd := &handlers.Handlers{
		Recorder:   rec,
		Player:     player,
		Store:      st,
		Hub:        h,
		Metrics:    m.Handler(),
		Log:        log,
		Background: ctx,
	}
	if scheduler != nil {
		hd.Scheduler = scheduler
	}

	gin.SetMode(cfg.Server.Mode)
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      routes.SetupRoutes(cfg, hd, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("🌐 Server starting")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	h.Close(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Server shutdown incomplete")
	}
	player.StopPlayback()
	log.Info("Server shutdown complete")
	return nil
}
