package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"sahayata.org/internal/migrate"
)

func main() {
	log.SetFlags(0)

	dsn := flag.String("dsn", os.Getenv("SAHAYATA_PG_DSN"), "Postgres DSN")
	migrationsDir := flag.String("migrations", "ops/migrations/sql", "migrations directory")
	seedsDir := flag.String("seeds", "ops/migrations/seeds", "seeds directory")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing -dsn (or SAHAYATA_PG_DSN)")
	}
	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mgr := migrate.NewManager(db, *migrationsDir, *seedsDir)

	switch cmd {
	case "up":
		if err := mgr.Up(ctx); err != nil {
			log.Fatalf("migrate up: %v", err)
		}
		log.Println("migrations applied")
	case "down":
		if err := mgr.Down(ctx); err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		log.Println("last migration rolled back")
	case "seed":
		if err := mgr.Seed(ctx); err != nil {
			log.Fatalf("seed: %v", err)
		}
		log.Println("seeds applied")
	case "status":
		applied, err := mgr.Status(ctx)
		if err != nil {
			log.Fatalf("status: %v", err)
		}
		if len(applied) == 0 {
			log.Println("no migrations applied")
			return
		}
		for _, name := range applied {
			fmt.Println(name)
		}
	default:
		log.Fatalf("unknown command %q (want up, down, seed or status)", cmd)
	}
}
