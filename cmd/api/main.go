package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/user/bizscraper/internal/bootstrap"
	"github.com/user/bizscraper/internal/delivery/http/handler"
	"github.com/user/bizscraper/internal/delivery/http/router"
	"github.com/user/bizscraper/pkg/config"
	"github.com/user/bizscraper/pkg/logger"
)

func main() {
	flags := pflag.NewFlagSet("api", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to a config file (yaml or .env)")
	flags.String("server-port", "8080", "port to listen on")
	flags.String("log-level", "info", "log level")
	_ = flags.Parse(os.Args[1:])

	// --- Configuration ---
	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// --- Logger ---
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()

	// Runs are cancelled on shutdown; each one still checkpoints and exports.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	app, err := bootstrap.New(runCtx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize application", zap.Error(err))
	}
	defer app.Close()

	runs := app.RunManager(runCtx)

	// --- HTTP Server ---
	checks := make(map[string]handler.HealthCheck, len(app.HealthChecks))
	for name, check := range app.HealthChecks {
		checks[name] = check
	}
	apiHandler := handler.NewHandler(runs, checks, log)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router.New(apiHandler, log),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("could not listen on port", zap.String("port", cfg.ServerPort), zap.Error(err))
		}
	}()
	log.Info("server started", zap.String("port", cfg.ServerPort))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	cancelRuns()
	runs.Wait()
	log.Info("server exiting")
}
