package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/adapter/persistence"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/bootstrap"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/config"
)

func main() {
	mode := flag.String("mode", "up", "migration mode: up or down")
	dir := flag.String("dir", "", "migrations directory (default DB_MIGRATIONS_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}
	if *dir == "" {
		*dir = cfg.Database.MigrationsPath
	}

	ctx := context.Background()
	logger := bootstrap.NewLogger(cfg)

	db, err := bootstrap.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	defer db.Close()

	migrator := persistence.NewMigrator(db, *dir, logger)

	switch strings.ToLower(*mode) {
	case "up":
		n, err := migrator.Up(ctx)
		if err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		log.Printf("Migration up completed: %d applied", n)
	case "down":
		n, err := migrator.Down(ctx)
		if err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Printf("Migration down completed: %d reverted", n)
	default:
		log.Fatalf("Unknown mode: %s", *mode)
	}
}
