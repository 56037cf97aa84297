package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/xtrntr/escrow/internal/auth"
	"github.com/xtrntr/escrow/internal/config"
	"github.com/xtrntr/escrow/internal/db"
	"github.com/xtrntr/escrow/internal/db/sqlite"
	"github.com/xtrntr/escrow/internal/fixtures"
)

type seedConfig struct {
	DatabaseURL  string `env:"ESCROW_DATABASE_URL"`
	SQLitePath   string `env:"ESCROW_SQLITE_PATH" envDefault:"escrow.db"`
	FixturesPath string `env:"ESCROW_FIXTURES" envDefault:"fixtures/seed.yaml"`
}

// Seed the user store with the accounts listed in the fixtures file
func main() {
	_ = godotenv.Load()

	var cfg seedConfig
	if err := config.ParseEnv(&cfg); err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if len(os.Args) > 1 {
		cfg.FixturesPath = os.Args[1]
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	fx, err := fixtures.Load(cfg.FixturesPath)
	if err != nil {
		logrus.Fatalf("Failed to load fixtures: %v", err)
	}

	var store db.Store
	if cfg.DatabaseURL != "" {
		pg, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			logrus.Fatalf("Failed to connect to database: %v", err)
		}
		store = pg
	} else {
		lite, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			logrus.Fatalf("Failed to open sqlite database: %v", err)
		}
		store = lite
	}
	defer store.Close(context.Background())

	// Users only register; tokens are never issued here
	registrar := auth.NewAuthService(store, "", 0)
	created, err := fx.RegisterUsers(ctx, registrar, func(err error) bool {
		return errors.Is(err, db.ErrUserExists)
	})
	if err != nil {
		logrus.Fatalf("Failed to seed users: %v", err)
	}

	if created == 0 {
		fmt.Printf("All %d users already exist. No need to seed.\n", len(fx.Users))
		return
	}
	fmt.Printf("Successfully seeded %d of %d users!\n", created, len(fx.Users))
}
