package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/joho/godotenv"

	"invoice-bot/api/internal/config"
	"invoice-bot/api/internal/seed"
	"invoice-bot/api/internal/store"
)

func main() {
	kind := flag.String("kind", "products", "What to import: products or aliases")
	file := flag.String("file", "", "Required: path to .csv or .xlsx file")
	dsnFlag := flag.String("dsn", "", "Postgres DSN (default: DATABASE_URL or POSTGRES_* env)")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall import timeout")
	flag.Parse()

	if strings.TrimSpace(*file) == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		os.Exit(1)
	}
	if *kind != "products" && *kind != "aliases" {
		fmt.Fprintln(os.Stderr, "--kind must be products or aliases")
		os.Exit(1)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, ".env not loaded: %v\n", err)
	}
	logger := config.NewLogger(os.Getenv("LOG_LEVEL"))

	dsn := strings.TrimSpace(*dsnFlag)
	if dsn == "" {
		dsn = config.ResolveDSN(os.Getenv)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		logger.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatalf("db.Ping: %v", err)
	}
	logger.Infof("db connected: %s", config.SafeDSNSummary(dsn))
	if err := store.Migrate(ctx, db); err != nil {
		logger.Fatalf("migrate: %v", err)
	}

	rows, err := seed.ReadFile(*file)
	if err != nil {
		logger.Fatalf("read %s: %v", *file, err)
	}

	im := &seed.Importer{
		Products: store.NewProductRepo(db),
		Aliases:  store.NewAliasRepo(db),
		Log:      logger.WithField("file", *file),
	}
	var rep seed.Report
	switch *kind {
	case "products":
		rep, err = im.ImportProducts(ctx, rows)
	case "aliases":
		rep, err = im.ImportAliases(ctx, rows)
	}
	if err != nil {
		logger.Fatalf("import %s: %v", *kind, err)
	}
	for _, p := range rep.Problems {
		logger.Warn(p)
	}
	fmt.Printf("%s: %s\n", *kind, rep)
}
