package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/luxeride/business-wallet/internal/app"
	"github.com/luxeride/business-wallet/internal/config"
	"github.com/luxeride/business-wallet/internal/security"
	log "github.com/sirupsen/logrus"
)

func main() {
	var (
		configPath  string
		migrateOnly bool
		hashSecret  string
	)
	flag.StringVar(&configPath, "config", config.DefaultConfigPath, "path to the YAML config file")
	flag.BoolVar(&migrateOnly, "migrate", false, "run database migrations and exit")
	flag.StringVar(&hashSecret, "hash-secret", "", "print the bcrypt hash of a cron secret and exit")
	flag.Parse()

	if hashSecret != "" {
		hash, err := security.HashSecret(hashSecret)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hash secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.AppConfig{ConfigPath: configPath}
	if migrateOnly {
		if err := app.Migrate(ctx, cfg); err != nil {
			log.WithError(err).Fatal("migration failed")
		}
		return
	}
	if err := app.RunServer(ctx, cfg); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}
