package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/physicstutor/tutorportal/internal/config"
	"github.com/physicstutor/tutorportal/internal/database"
	"github.com/physicstutor/tutorportal/internal/devbackend"
	"github.com/physicstutor/tutorportal/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.Component(logger.GetLogger(), "devbackend")

	db, err := database.Open(cfg.DevBackend.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer database.Close(db)

	srv, err := devbackend.New(db, devbackend.Options{
		JWTSecret:      cfg.DevBackend.JWTSecret,
		AccessTTL:      cfg.DevBackend.AccessTTL,
		AnonKey:        cfg.Backend.AnonKey,
		BcryptCost:     cfg.DevBackend.BcryptCost,
		SignupsPerHour: cfg.DevBackend.SignupsPerHr,
		Autoconfirm:    cfg.DevBackend.Autoconfirm,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create dev backend")
	}

	if cfg.DevBackend.SeedFile != "" {
		seed, err := devbackend.LoadSeedFile(cfg.DevBackend.SeedFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load seed file")
		}
		if err := srv.Seed(seed); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed accounts")
		}
		log.Info().Int("users", len(seed.Users)).Msg("Seeded accounts")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx, cfg.DevBackend.ListenAddr); err != nil {
		log.Error().Err(err).Msg("Dev backend failed")
	}
}
