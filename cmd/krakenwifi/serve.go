package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ZerkerEOD/krakenwifi/internal/artifacts"
	"github.com/ZerkerEOD/krakenwifi/internal/config"
	"github.com/ZerkerEOD/krakenwifi/internal/db"
	"github.com/ZerkerEOD/krakenwifi/internal/engine"
	"github.com/ZerkerEOD/krakenwifi/internal/events"
	"github.com/ZerkerEOD/krakenwifi/internal/handlers/jobs"
	"github.com/ZerkerEOD/krakenwifi/internal/handlers/websocket"
	"github.com/ZerkerEOD/krakenwifi/internal/repository"
	"github.com/ZerkerEOD/krakenwifi/internal/routes"
	"github.com/ZerkerEOD/krakenwifi/internal/services"
	"github.com/ZerkerEOD/krakenwifi/pkg/debug"
	"github.com/ZerkerEOD/krakenwifi/pkg/jwt"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job engine and the control API",
	RunE:  doServe,
}

func openStore(cfg *config.Config) (repository.Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		debug.Warning("Using in-memory job store, jobs will not survive a restart")
		return repository.NewMemoryStore(), func() {}, nil
	}
	conn, err := db.New(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	debug.Info("Database connection established")
	return repository.NewJobRepository(conn), func() { conn.Close() }, nil
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	resolver := artifacts.NewResolver(cfg.DataDir, cfg.WorkDir)
	if err := resolver.EnsureDirs(); err != nil {
		return err
	}

	tlsConfig, err := cfg.TLS.LoadTLSConfig()
	if err != nil {
		return err
	}

	hub := websocket.NewHandler(cfg.CORSAllowedOrigin)
	defer hub.Close()
	publisher := events.NewMulti(hub)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RedisAddr != "" {
		client, err := events.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		defer client.Close()
		redisPub := events.NewRedisPublisher(client, cfg.RedisChannel)
		publisher.Add(redisPub)
		g.Go(func() error { return redisPub.Run(gctx) })
		debug.Info("Publishing job events to redis channel %s", cfg.RedisChannel)
	}

	eng := engine.New(engine.OptionsFromConfig(cfg), store, resolver, publisher)

	watchdog, err := services.NewWatchdogService(eng, cfg.WatchdogSpec)
	if err != nil {
		return err
	}

	opts := routes.Options{
		Jobs:          jobs.NewJobHandler(eng),
		Events:        hub,
		AllowedOrigin: cfg.CORSAllowedOrigin,
	}
	if cfg.JWTSecret != "" {
		opts.Validator = jwt.NewSigner(cfg.JWTSecret)
	}
	r := mux.NewRouter()
	routes.SetupRoutes(r, opts)

	server := &http.Server{
		Addr:              cfg.GetAddress(),
		Handler:           r,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return watchdog.Run(gctx) })
	g.Go(func() error {
		debug.Info("Control API listening on %s", cfg.GetAPIEndpoint())
		var err error
		if tlsConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		debug.Info("Shutting down control API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	debug.Info("Server exited cleanly")
	return nil
}
