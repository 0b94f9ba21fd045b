package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/gharti/bike-market/internal/database"
	"github.com/gharti/bike-market/internal/models"
)

const bicycleColumns = `id, seller_id, title, description, price, status, created_at, updated_at, version`

func scanBicycle(row *sql.Row) (*models.Bicycle, error) {
	b := &models.Bicycle{}
	err := row.Scan(
		&b.ID,
		&b.SellerID,
		&b.Title,
		&b.Description,
		&b.Price,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrBicycleNotFound
		}
		return nil, err
	}
	return b, nil
}

// CreateBicycle records a listing submission. New listings start in
// `pending` until an admin approves them.
func CreateBicycle(ctx context.Context, db *sql.DB, sellerID int64, title, description string, price decimal.Decimal) (*models.Bicycle, error) {
	query := `
		INSERT INTO bicycles (seller_id, title, description, price, status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), 1)
		RETURNING ` + bicycleColumns

	b, err := scanBicycle(db.QueryRowContext(ctx, query, sellerID, title, description, price, models.BicycleStatusPending))
	if err != nil {
		return nil, fmt.Errorf("create bicycle: %w", err)
	}
	return b, nil
}

func GetBicycle(ctx context.Context, db *sql.DB, id int64) (*models.Bicycle, error) {
	query := `SELECT ` + bicycleColumns + ` FROM bicycles WHERE id = $1`

	b, err := scanBicycle(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == models.ErrBicycleNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("get bicycle: %w", err)
	}
	return b, nil
}

// LockBicycle acquires a row-level exclusive lock on the bicycle, held
// until the caller's transaction commits or rolls back. This is the single
// serialization point for everything that touches availability.
func LockBicycle(ctx context.Context, tx *sql.Tx, id int64) (*models.Bicycle, error) {
	query := `SELECT ` + bicycleColumns + ` FROM bicycles WHERE id = $1 FOR UPDATE`

	b, err := scanBicycle(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == models.ErrBicycleNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("lock bicycle %d: %w", id, err)
	}
	return b, nil
}

// LockBicycleNoWait is LockBicycle without queueing: a held lock surfaces
// as database.ErrLockTimeout instead of blocking.
func LockBicycleNoWait(ctx context.Context, tx *sql.Tx, id int64) (*models.Bicycle, error) {
	query := `SELECT ` + bicycleColumns + ` FROM bicycles WHERE id = $1 FOR UPDATE NOWAIT`

	b, err := scanBicycle(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "55P03" {
			return nil, database.ErrLockTimeout
		}
		if err == models.ErrBicycleNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("lock bicycle %d (nowait): %w", id, err)
	}
	return b, nil
}

// TransitionBicycle flips the bicycle's status from `from` to `to` with a
// guarded UPDATE. The from-status predicate holds even under the row lock:
// a zero-row update means the caller's view of the world is stale (or the
// transition table was violated), and the error says so loudly.
func TransitionBicycle(ctx context.Context, tx *sql.Tx, id int64, from, to models.BicycleStatus) error {
	if !from.CanTransition(to) {
		return &models.InvalidStateError{Entity: "bicycle", ID: id, Status: string(from), Op: "transition to " + string(to)}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE bicycles
		 SET status = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2
		   AND status = $3`,
		to, id, from)
	if err != nil {
		return fmt.Errorf("transition bicycle %d %s->%s: %w", id, from, to, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var current models.BicycleStatus
		if err := tx.QueryRowContext(ctx, `SELECT status FROM bicycles WHERE id = $1`, id).Scan(&current); err != nil {
			if err == sql.ErrNoRows {
				return models.ErrBicycleNotFound
			}
			return fmt.Errorf("read bicycle %d status: %w", id, err)
		}
		return &models.InvalidStateError{Entity: "bicycle", ID: id, Status: string(current), Op: "transition to " + string(to)}
	}

	return nil
}

func ListBicycles(ctx context.Context, db *sql.DB, status models.BicycleStatus, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bicycles WHERE status = $1`, status).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count bicycles: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + bicycleColumns + `
		FROM bicycles
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := db.QueryContext(ctx, query, status, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list bicycles: %w", err)
	}
	defer rows.Close()

	var bicycles []models.Bicycle
	for rows.Next() {
		var b models.Bicycle
		err := rows.Scan(
			&b.ID,
			&b.SellerID,
			&b.Title,
			&b.Description,
			&b.Price,
			&b.Status,
			&b.CreatedAt,
			&b.UpdatedAt,
			&b.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan bicycle: %w", err)
		}
		bicycles = append(bicycles, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return NewOffsetPage(bicycles, total, page, pageSize), nil
}
