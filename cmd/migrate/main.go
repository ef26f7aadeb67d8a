// Command migrate applies schema migrations outside the server process, for
// deployments that run migrations as a separate step.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"

	"github.com/truenamepath/truename/internal/config"
	"github.com/truenamepath/truename/internal/db"
)

const usage = `Usage: migrate [-type sqlite|postgres] [-dsn path] <command>

Commands:
  up       Apply all pending migrations
  down     Roll back the most recent migration
  version  Show current migration version
  force N  Force migration version to N`

func main() {
	dbType := flag.String("type", "sqlite", "Database type: sqlite or postgres")
	dsn := flag.String("dsn", config.DefaultDBPath, "Database DSN (file path for sqlite, connection string for postgres)")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println(usage)
		os.Exit(1)
	}

	m, err := db.NewMigrator(*dbType, *dsn)
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}
	defer m.Close()

	switch cmd := flag.Arg(0); cmd {
	case "up":
		switch err := m.Up(); {
		case err == nil:
			fmt.Println("Migrations applied successfully")
		case errors.Is(err, migrate.ErrNoChange):
			fmt.Println("Database is up to date")
		default:
			log.Fatalf("Migration up failed: %v", err)
		}

	case "down":
		if err := m.Steps(-1); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		fmt.Println("Rolled back one migration")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			log.Fatalf("Failed to get version: %v", err)
		}
		if dirty {
			fmt.Printf("Version: %d (dirty)\n", version)
		} else {
			fmt.Printf("Version: %d\n", version)
		}

	case "force":
		if flag.NArg() < 2 {
			log.Fatal("force requires a version number: migrate force N")
		}
		version, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			log.Fatalf("Invalid version number: %v", err)
		}
		if err := m.Force(version); err != nil {
			log.Fatalf("Force failed: %v", err)
		}
		fmt.Printf("Forced version to %d\n", version)

	default:
		fmt.Printf("Unknown command: %s\n\n%s\n", cmd, usage)
		os.Exit(1)
	}
}
