package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gharti/bike-market/internal/models"
)

const orderColumns = `id, buyer_id, bicycle_id, order_number, status, total_price,
	shipping_method, shipping_cost, tax, shipping_address, shipping_county, shipping_distance,
	payment_deadline, expires_at, created_at, updated_at, version`

func scanOrder(row rowScanner) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(
		&o.ID,
		&o.BuyerID,
		&o.BicycleID,
		&o.OrderNumber,
		&o.Status,
		&o.TotalPrice,
		&o.ShippingMethod,
		&o.ShippingCost,
		&o.Tax,
		&o.ShippingAddress,
		&o.ShippingCounty,
		&o.ShippingDistance,
		&o.PaymentDeadline,
		&o.ExpiresAt,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.Version,
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// GenerateOrderNumber produces a human-readable order number:
// ORD-<date>-<8 hex chars>. Uniqueness is still collision-checked by the
// caller inside its transaction; the random suffix only makes collisions
// unlikely, not impossible.
func GenerateOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix)
}

func OrderNumberExists(ctx context.Context, tx *sql.Tx, number string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM orders WHERE order_number = $1)`, number).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check order number: %w", err)
	}
	return exists, nil
}

// InsertOrder persists a new order in status pending and fills in the
// generated columns.
func InsertOrder(ctx context.Context, tx *sql.Tx, o *models.Order) (*models.Order, error) {
	query := `
		INSERT INTO orders (buyer_id, bicycle_id, order_number, status, total_price,
			shipping_method, shipping_cost, tax, shipping_address, shipping_county, shipping_distance,
			payment_deadline, expires_at, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW(), 1)
		RETURNING ` + orderColumns

	created, err := scanOrder(tx.QueryRowContext(ctx, query,
		o.BuyerID, o.BicycleID, o.OrderNumber, models.OrderStatusPending, o.TotalPrice,
		o.ShippingMethod, o.ShippingCost, o.Tax, o.ShippingAddress, o.ShippingCounty, o.ShippingDistance,
		o.PaymentDeadline, o.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return created, nil
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	payment, err := GetPaymentByOrder(ctx, db, id)
	if err != nil && err != models.ErrPaymentNotFound {
		return nil, err
	}
	o.Payment = payment

	return o, nil
}

// LockOrder locks the order row for the caller's transaction.
func LockOrder(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	o, err := scanOrder(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order %d: %w", id, err)
	}
	return o, nil
}

// UpdateOrderStatus moves the order through its lifecycle with both the
// closed transition table and a from-status guard on the row.
func UpdateOrderStatus(ctx context.Context, tx *sql.Tx, id int64, from, to models.OrderStatus) error {
	if !from.CanTransition(to) {
		return &models.InvalidStateError{Entity: "order", ID: id, Status: string(from), Op: "transition to " + string(to)}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE orders
		 SET status = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return fmt.Errorf("update order %d status %s->%s: %w", id, from, to, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &models.InvalidStateError{Entity: "order", ID: id, Status: string(from), Op: "transition to " + string(to)}
	}

	return nil
}

// SelectExpiredOrderIDs lists candidates for the expiration sweep: unpaid,
// still pending, past their expiry. Snapshot only; each candidate is
// re-checked under lock in its own transaction.
func SelectExpiredOrderIDs(ctx context.Context, db *sql.DB, now time.Time, limit int) ([]int64, error) {
	query := `
		SELECT o.id
		FROM orders o
		JOIN payments p ON p.order_id = o.id
		WHERE o.status = $1
		  AND p.status = $2
		  AND o.expires_at < $3
		ORDER BY o.expires_at
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, models.OrderStatusPending, models.PaymentStatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select expired orders: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

// LockExpiredOrder re-reads one sweep candidate under lock, skipping rows
// another sweeper or a live request currently holds. sql.ErrNoRows (mapped
// to ErrOrderNotFound) means the order no longer qualifies; the sweep
// treats that as already handled.
func LockExpiredOrder(ctx context.Context, tx *sql.Tx, id int64, now time.Time) (*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1
		  AND status = $2
		  AND expires_at < $3
		FOR UPDATE SKIP LOCKED`

	o, err := scanOrder(tx.QueryRowContext(ctx, query, id, models.OrderStatusPending, now))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock expired order %d: %w", id, err)
	}
	return o, nil
}

// ActiveOrderExists reports whether a non-terminal order references the
// bicycle. Used by tests and the availability invariant checks.
func ActiveOrderExists(ctx context.Context, db *sql.DB, bicycleID int64) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM orders
			WHERE bicycle_id = $1 AND status IN ($2, $3)
		)`,
		bicycleID, models.OrderStatusPending, models.OrderStatusProcessing).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active order: %w", err)
	}
	return exists, nil
}

// ListOrdersCursor pages through a buyer's orders newest first using a
// keyset cursor.
func ListOrdersCursor(ctx context.Context, db *sql.DB, buyerID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE buyer_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, buyerID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
