// Command migrate creates the run log tables in PostgreSQL ahead of the
// first consolidation run, or lists them with --list.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/lead-consolidator/internal/config"
	"github.com/ignite/lead-consolidator/internal/runlog"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	listOnly := flag.Bool("list", false, "list the run log tables and exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Runlog.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or runlog.database_url is required")
	}

	db, err := sql.Open("postgres", cfg.Runlog.DatabaseURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Println("Connected to database")

	if !*listOnly {
		if err := runlog.NewPostgresRecorder(db).EnsureSchema(ctx); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		log.Println("Run log schema is up to date")
	}

	if err := listTables(ctx, db, os.Stdout); err != nil {
		log.Fatalf("list tables: %v", err)
	}
}

// listTables prints the consolidation tables in the public schema.
func listTables(ctx context.Context, db *sql.DB, w io.Writer) error {
	rows, err := db.QueryContext(ctx,
		"SELECT tablename FROM pg_tables WHERE schemaname = 'public' AND tablename LIKE 'consolidation_%' ORDER BY tablename")
	if err != nil {
		return err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return err
		}
		fmt.Fprintln(w, " ", t)
		n++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	fmt.Fprintf(w, "Total: %d tables\n", n)
	return nil
}
