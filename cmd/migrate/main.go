package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/leafsii/combined-position/internal/config"
	applog "github.com/leafsii/combined-position/internal/log"
	"github.com/leafsii/combined-position/internal/repository"
)

var (
	flags   = flag.NewFlagSet("migrate", flag.ExitOnError)
	dsn     = flags.String("dsn", "", "database DSN (defaults to CP_POSTGRES_DSN)")
	timeout = flags.Duration("timeout", time.Minute, "migration timeout")
)

func main() {
	flag.Parse()
	flags.Parse(flag.Args())
	args := flags.Args()

	if len(args) < 1 {
		log.Fatal("Usage: migrate [-dsn DSN] COMMAND\n\nCommands:\n  up\n  down\n  status\n  version")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dsn == "" {
		*dsn = cfg.Storage.PostgresDSN
	}
	if *dsn == "" {
		log.Fatal("No database configured: set CP_POSTGRES_DSN or pass -dsn")
	}

	logger, err := applog.NewSugar(cfg.Env, applog.Options{File: cfg.LogFile})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	repo, err := repository.Open(*dsn, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := repo.RunMigrations(ctx, args[0]); err != nil {
		log.Fatalf("%v", err)
	}
	logger.Infow("Migration finished", "command", args[0])
}
