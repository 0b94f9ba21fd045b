package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/gharti/bike-market/internal/config"
)

const (
	pingAttempts = 3
	pingTimeout  = 5 * time.Second
)

// NewConnection opens the Postgres pool and verifies it is reachable. The
// database may still be starting when the service comes up, so the initial
// ping is retried a few times before giving up.
func NewConnection(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Row locks are held for the length of a settlement transaction, so the
	// pool must stay large enough that lock holders and lock waiters do not
	// starve each other for connections.
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	var pingErr error
	for attempt := 0; attempt < pingAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		pingErr = db.PingContext(ctx)
		cancel()
		if pingErr == nil {
			return db, nil
		}
		time.Sleep(time.Second)
	}

	db.Close()
	return nil, fmt.Errorf("ping database: %w", pingErr)
}
