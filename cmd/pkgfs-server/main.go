package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/foundry/pkgfs/internal/adapters/auth"
	"github.com/foundry/pkgfs/internal/adapters/storage"
	"github.com/foundry/pkgfs/internal/api/handlers"
	"github.com/foundry/pkgfs/internal/config"
	"github.com/foundry/pkgfs/internal/util/logging"
	"github.com/foundry/pkgfs/internal/vfs"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath string
		port       int
		connString string
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("pkgfs-server", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	flagSet.IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	flagSet.StringVar(&connString, "connection-string", "", "storage connection string (overrides storage.connectionString)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level (overrides logging.level)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if connString != "" {
		cfg.Storage.ConnectionString = connString
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return err
	}
	logger = logger.With().Str("service", "pkgfs").Logger()

	cs, err := config.ParseConnectionString(cfg.Storage.ConnectionString)
	if err != nil {
		return err
	}
	store, err := storage.Open(cs)
	if err != nil {
		return fmt.Errorf("opening %s storage: %w", cs.Backend, err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	fs := vfs.New(store, vfs.Options{
		Suffix:      cfg.Storage.Suffix,
		TrackAccess: cfg.Storage.TrackAccess,
		Logger:      logger,
	})
	handler := handlers.New(fs, auth.NewTokenAuth(cfg.Auth.Tokens), logger)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", addr).
			Str("backend", cs.Backend).
			Bool("track_access", cfg.Storage.TrackAccess).
			Msg("starting pkgfs server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
