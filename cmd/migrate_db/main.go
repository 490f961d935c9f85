// Command migrate_db applies or rolls back the database schema using
// golang-migrate.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/remails-com/remails/internal/config"
)

func main() {
	configPath := flag.String("config", "", "config file path (optional, YAML)")
	migrationsDir := flag.String("migrations", "db/migrations", "path to migration files")
	up := flag.Bool("up", false, "apply all pending migrations")
	down := flag.Bool("down", false, "roll back the last migration")
	steps := flag.Int("steps", 0, "apply N migrations (negative rolls back); overrides -up/-down")
	flag.Parse()

	if !*up && !*down && *steps == 0 {
		fmt.Fprintln(os.Stderr, "specify -up, -down, or -steps")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", *migrationsDir), cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing migrations: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	switch {
	case *steps != 0:
		err = m.Steps(*steps)
	case *up:
		err = m.Up()
	case *down:
		err = m.Steps(-1)
	}

	if err != nil {
		if err == migrate.ErrNoChange {
			fmt.Println("no change")
			return
		}
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("migration applied successfully")
}
