package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"custodia.org/internal/auth"
	"custodia.org/internal/config"
	"custodia.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		cfgPath  = flag.String("config", os.Getenv("CUSTODIA_CONFIG"), "path to an optional YAML config file")
		email    = flag.String("email", "", "operator email")
		password = flag.String("password", os.Getenv("CUSTODIA_SEED_PASSWORD"), "operator password (or CUSTODIA_SEED_PASSWORD)")
		role     = flag.String("role", auth.DefaultRole, "operator role")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Database.DSN == "" {
		log.Fatal("database.dsn is required (CUSTODIA_DATABASE_DSN)")
	}
	if *email == "" || *password == "" {
		log.Fatal("usage: seed-admin -email ops@example.com -password ...")
	}

	store, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	admin, err := auth.NewAuthenticator(store.Admins(), nil).Provision(ctx, *email, *password, *role)
	switch {
	case errors.Is(err, auth.ErrAlreadyExists):
		log.Printf("admin %s already exists", *email)
	case err != nil:
		log.Fatalf("provision admin: %v", err)
	default:
		log.Printf("admin %s created with id %s", admin.Email, admin.ID)
	}
}
