package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	var databaseURL string
	flag.StringVar(&databaseURL, "database-url", "", "Postgres URL (default: $DATABASE_URL)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]

	_ = godotenv.Load()
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set")
		os.Exit(1)
	}

	if err := util.InitLogger("development"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer util.SyncLogger()
	log := util.GetLogger()

	db, err := store.NewStore(databaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	m, err := store.NewMigrator(db.GetDB().DB, log)
	if err != nil {
		log.Fatal("Failed to create migrator", zap.Error(err))
	}

	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "step":
		if len(args) < 2 {
			log.Fatal("Step count required. Usage: migrate step <n>")
		}
		n, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			log.Fatal("Invalid step count", zap.String("value", args[1]))
		}
		err = m.Steps(n)
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil {
			log.Fatal("Failed to get version", zap.Error(verr))
		}
		if version == 0 {
			log.Info("No migrations applied")
		} else {
			log.Info("Current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		}
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal("Migration failed", zap.String("command", command), zap.Error(err))
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: migrate [-database-url URL] <command>

Commands:
  up          apply all pending migrations
  down        roll back all migrations
  step <n>    apply n migrations (negative rolls back)
  version     print the applied schema version`)
}
