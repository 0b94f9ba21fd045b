package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gharti/bike-market/internal/models"
)

const paymentColumns = `id, order_id, status, method, amount, deadline, expires_at,
	instructions, proof_message, proof_uploaded_at, failure_reason, created_at, updated_at, version`

func scanPayment(row rowScanner) (*models.Payment, error) {
	p := &models.Payment{}
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.Status,
		&p.Method,
		&p.Amount,
		&p.Deadline,
		&p.ExpiresAt,
		&p.Instructions,
		&p.ProofMessage,
		&p.ProofUploadedAt,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.Version,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// InsertPayment creates the one-to-one payment record alongside its order,
// in the same transaction.
func InsertPayment(ctx context.Context, tx *sql.Tx, p *models.Payment) (*models.Payment, error) {
	query := `
		INSERT INTO payments (order_id, status, method, amount, deadline, expires_at, instructions, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), 1)
		RETURNING ` + paymentColumns

	created, err := scanPayment(tx.QueryRowContext(ctx, query,
		p.OrderID, models.PaymentStatusPending, p.Method, p.Amount, p.Deadline, p.ExpiresAt, p.Instructions))
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	return created, nil
}

func GetPaymentByOrder(ctx context.Context, q querier, orderID int64) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1`

	p, err := scanPayment(q.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment for order %d: %w", orderID, err)
	}
	return p, nil
}

// LockPaymentByOrder locks the payment row for the caller's transaction.
func LockPaymentByOrder(ctx context.Context, tx *sql.Tx, orderID int64) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 FOR UPDATE`

	p, err := scanPayment(tx.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("lock payment for order %d: %w", orderID, err)
	}
	return p, nil
}

// TransitionPayment moves the payment's status under the closed transition
// table with a from-status row guard.
func TransitionPayment(ctx context.Context, tx *sql.Tx, id int64, from, to models.PaymentStatus) error {
	if !from.CanTransition(to) {
		return &models.InvalidStateError{Entity: "payment", ID: id, Status: string(from), Op: "transition to " + string(to)}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE payments
		 SET status = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return fmt.Errorf("transition payment %d %s->%s: %w", id, from, to, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &models.InvalidStateError{Entity: "payment", ID: id, Status: string(from), Op: "transition to " + string(to)}
	}

	return nil
}

// RecordPaymentProof stores the buyer's transfer-proof metadata and moves
// the payment to awaiting_confirmation.
func RecordPaymentProof(ctx context.Context, tx *sql.Tx, id int64, from models.PaymentStatus, message string, uploadedAt time.Time) error {
	if !from.CanTransition(models.PaymentStatusAwaitingConfirmation) {
		return &models.InvalidStateError{Entity: "payment", ID: id, Status: string(from), Op: "submit proof"}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE payments
		 SET status = $1, proof_message = $2, proof_uploaded_at = $3, failure_reason = '',
		     updated_at = NOW(), version = version + 1
		 WHERE id = $4 AND status = $5`,
		models.PaymentStatusAwaitingConfirmation, message, uploadedAt, id, from)
	if err != nil {
		return fmt.Errorf("record payment proof %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &models.InvalidStateError{Entity: "payment", ID: id, Status: string(from), Op: "submit proof"}
	}

	return nil
}

// RefundPayment moves a paid payment to refunded, recording the admin's
// rejection reason.
func RefundPayment(ctx context.Context, tx *sql.Tx, id int64, from models.PaymentStatus, reason string) error {
	if !from.CanTransition(models.PaymentStatusRefunded) {
		return &models.InvalidStateError{Entity: "payment", ID: id, Status: string(from), Op: "refund"}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE payments
		 SET status = $1, failure_reason = $2, updated_at = NOW(), version = version + 1
		 WHERE id = $3 AND status = $4`,
		models.PaymentStatusRefunded, reason, id, from)
	if err != nil {
		return fmt.Errorf("refund payment %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &models.InvalidStateError{Entity: "payment", ID: id, Status: string(from), Op: "refund"}
	}

	return nil
}

// FailPayment marks the payment failed with a reason (rejected proof or
// expired deadline).
func FailPayment(ctx context.Context, tx *sql.Tx, id int64, from models.PaymentStatus, reason string) error {
	if !from.CanTransition(models.PaymentStatusFailed) {
		return &models.InvalidStateError{Entity: "payment", ID: id, Status: string(from), Op: "fail"}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE payments
		 SET status = $1, failure_reason = $2, updated_at = NOW(), version = version + 1
		 WHERE id = $3 AND status = $4`,
		models.PaymentStatusFailed, reason, id, from)
	if err != nil {
		return fmt.Errorf("fail payment %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &models.InvalidStateError{Entity: "payment", ID: id, Status: string(from), Op: "fail"}
	}

	return nil
}
