package main

import (
	"flag"
	"fmt"
	"os"

	"marketplace-be/internal/config"
	"marketplace-be/internal/db"
	"marketplace-be/internal/logger"

	"go.uber.org/zap"
)

type migrator interface {
	Run(mode string) error
	Close() error
}

var newMigratorFunc = func(cfg *config.Config) (migrator, error) {
	return db.NewMigrator(cfg)
}

func main() {
	mode := flag.String("mode", "up", "migration mode: up, down or version")
	flag.Parse()

	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	if err := run(cfg, *mode); err != nil {
		logger.L().Error("migration failed", zap.String("mode", *mode), zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, mode string) error {
	switch mode {
	case "up", "down", "version":
	default:
		return fmt.Errorf("unknown mode: %s (use 'up', 'down' or 'version')", mode)
	}

	mg, err := newMigratorFunc(cfg)
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Run(mode); err != nil {
		return err
	}

	logger.L().Info("migration finished", zap.String("mode", mode))
	return nil
}
