package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"cocina/internal/apiclient"
	"cocina/internal/config"
	"cocina/internal/handler"
	"cocina/internal/kitchen"
	"cocina/internal/logger"
	"cocina/internal/metrics"
	"cocina/internal/notify"
	"cocina/internal/session"
	"cocina/internal/worker"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	sess, err := loadSession(cfg)
	if err != nil {
		log.Error("failed to load session", "error", err)
		os.Exit(1)
	}
	if !sess.Valid() {
		log.Warn("no backend token configured, requests will be anonymous")
	} else if sess.Expired(time.Now()) {
		log.Warn("backend token looks expired", "subject", sess.Subject())
	}

	client := apiclient.New(cfg.BackendURL, sess,
		apiclient.WithTimeout(cfg.RequestTimeout),
		apiclient.WithMetrics(metrics.NewClientMetrics()),
		apiclient.WithLogger(log.With("component", "apiclient")),
	)

	feed := notify.NewFeed(cfg.FeedSize)
	notifier := notify.Multi(notify.NewLogNotifier(log.With("component", "notify")), feed)
	workflow := kitchen.New(client, notifier, kitchen.WithLogger(log.With("component", "kitchen")))
	refresher := worker.NewRefresher(workflow, cfg.RefreshInterval, log.With("component", "refresher"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/api/cocina", handler.Routes(workflow, feed))

	srv := &http.Server{
		Addr:         cfg.RunAddress,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: handler.MaxLongPoll + cfg.RequestTimeout*2 + 5*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workflow.LoadPending(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", "addr", cfg.RunAddress, "backend", cfg.BackendURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		refresher.Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")

		ctxShut, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShut()
		return srv.Shutdown(ctxShut)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func loadSession(cfg *config.Config) (*session.Session, error) {
	if cfg.Token == "" && cfg.TokenFile != "" {
		return session.LoadFile(cfg.TokenFile)
	}
	return session.New(cfg.Token), nil
}
