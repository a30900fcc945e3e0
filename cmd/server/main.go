package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	httpadapter "github.com/unmappedos-sys/unmappedOS-sub002/internal/adapter/http"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/bootstrap"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/config"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := bootstrap.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "Application starting", map[string]interface{}{
		"env":   cfg.Server.Environment,
		"store": cfg.Database.Driver,
		"redis": cfg.Redis.Enabled,
	})

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "Failed to initialize engine", err, nil)
		os.Exit(1)
	}
	defer app.Close()

	auth := httpadapter.NewOperatorAuth(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, app.Clock.Now, logger)
	server := httpadapter.NewServer(httpadapter.ServerConfig{
		Addr:           cfg.Address(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, app.KillSwitch, app.Reconciler, app.Summary, auth, logger)

	scheduler := usecase.NewScheduler(app.Reconciler, cfg.Engine.ReconcileInterval, app.Clock, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := scheduler.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "Server stopped with error", err, nil)
		os.Exit(1)
	}
	logger.Info(context.Background(), "Server exited", nil)
}
