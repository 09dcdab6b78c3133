// Package main запускает терминальный клиент KPABK Connect.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mmeshcher/kpabk-connect/internal/config"
	"github.com/mmeshcher/kpabk-connect/internal/repository"
	"github.com/mmeshcher/kpabk-connect/internal/session"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return 1
	}

	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger initialization error:", err)
		return 1
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := openStorage(ctx, cfg)
	if err != nil {
		sugar.Errorw("session storage initialization error", "store", cfg.SessionStore, "error", err.Error())
		fmt.Fprintln(os.Stderr, "session storage is not available:", err)
		return 1
	}
	defer storage.Close()

	a := newApp(cfg, storage, os.Stdin, os.Stdout, os.Stderr, logger)
	defer a.close()

	if err := a.run(ctx, config.Args()); err != nil {
		if !errors.Is(err, errUsage) {
			sugar.Debugw("command failed", "args", config.Args(), "error", err)
		}
		fmt.Fprintln(os.Stderr, describe(err))
		return 1
	}
	return 0
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

type closableStorage interface {
	session.Storage
	Close() error
}

// openStorage выбирает хранилище токена по конфигурации.
func openStorage(ctx context.Context, cfg *config.Config) (closableStorage, error) {
	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		return repository.NewRedisRepository(ctx, cfg.RedisAddr)
	case config.SessionStorePostgres:
		return repository.NewPostgresRepository(cfg.DatabaseURI)
	default:
		return repository.NewFileRepository(cfg.SessionFile), nil
	}
}
