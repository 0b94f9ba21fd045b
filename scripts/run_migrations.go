package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/gharti/bike-market/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run scripts/run_migrations.go [up|down]")
	}

	direction := os.Args[1]
	if direction != "up" && direction != "down" {
		log.Fatal("Direction must be 'up' or 'down'")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Ping database: %v", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		log.Fatalf("Create schema_migrations: %v", err)
	}

	migrationDir := "migrations"
	files, err := os.ReadDir(migrationDir)
	if err != nil {
		log.Fatalf("Read migration directory: %v", err)
	}

	suffix := fmt.Sprintf(".%s.sql", direction)
	var migrationFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), suffix) {
			migrationFiles = append(migrationFiles, file.Name())
		}
	}

	sort.Strings(migrationFiles)
	if direction == "down" {
		for i, j := 0, len(migrationFiles)-1; i < j; i, j = i+1, j-1 {
			migrationFiles[i], migrationFiles[j] = migrationFiles[j], migrationFiles[i]
		}
	}

	ran := 0
	for _, filename := range migrationFiles {
		name := strings.TrimSuffix(filename, suffix)

		applied, err := migrationApplied(db, name)
		if err != nil {
			log.Fatalf("Check migration %s: %v", name, err)
		}
		// Up skips what is already applied; down only reverses what is.
		if direction == "up" && applied {
			continue
		}
		if direction == "down" && !applied {
			continue
		}

		content, err := os.ReadFile(filepath.Join(migrationDir, filename))
		if err != nil {
			log.Fatalf("Read migration file %s: %v", filename, err)
		}

		log.Printf("Running migration: %s", filename)
		if err := runMigration(db, direction, name, string(content)); err != nil {
			log.Fatalf("Execute migration %s: %v", filename, err)
		}
		ran++
	}

	log.Printf("Ran %d migration(s) %s, %d already in place", ran, direction, len(migrationFiles)-ran)
}

func migrationApplied(db *sql.DB, name string) (bool, error) {
	var applied bool
	err := db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE name = $1)`, name).Scan(&applied)
	return applied, err
}

// runMigration executes one migration file and its bookkeeping in a single
// transaction, so a failed migration leaves no half-applied record.
func runMigration(db *sql.DB, direction, name, content string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(content); err != nil {
		tx.Rollback()
		return err
	}

	if direction == "up" {
		_, err = tx.Exec(`INSERT INTO schema_migrations (name) VALUES ($1)`, name)
	} else {
		_, err = tx.Exec(`DELETE FROM schema_migrations WHERE name = $1`, name)
	}
	if err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
