package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gharti/bike-market/internal/models"
)

const messageColumns = `id, sender_id, recipient_id, bicycle_id, content, is_offer, offer_amount, offer_status, order_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	m := &models.Message{}
	err := row.Scan(
		&m.ID,
		&m.SenderID,
		&m.RecipientID,
		&m.BicycleID,
		&m.Content,
		&m.IsOffer,
		&m.OfferAmount,
		&m.OfferStatus,
		&m.OrderID,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// CreateMessage inserts one thread entry. For offers the caller has already
// validated amount and status; plain messages leave the offer fields NULL.
func CreateMessage(ctx context.Context, q querier, m *models.Message) (*models.Message, error) {
	query := `
		INSERT INTO messages (sender_id, recipient_id, bicycle_id, content, is_offer, offer_amount, offer_status, order_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING ` + messageColumns

	created, err := scanMessage(q.QueryRowContext(ctx, query,
		m.SenderID, m.RecipientID, m.BicycleID, m.Content,
		m.IsOffer, m.OfferAmount, m.OfferStatus, m.OrderID))
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return created, nil
}

// GetOffer fetches a message that is an offer; plain messages are not
// addressable through the offer operations.
func GetOffer(ctx context.Context, q querier, id int64) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 AND is_offer`

	m, err := scanMessage(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrOfferNotFound
		}
		return nil, fmt.Errorf("get offer: %w", err)
	}
	return m, nil
}

// LockOffer locks the offer row for the caller's transaction so accept and
// reject on the same offer serialize.
func LockOffer(ctx context.Context, tx *sql.Tx, id int64) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 AND is_offer FOR UPDATE`

	m, err := scanMessage(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrOfferNotFound
		}
		return nil, fmt.Errorf("lock offer %d: %w", id, err)
	}
	return m, nil
}

// FindPendingOffer returns the pending offer for a (sender, recipient,
// bicycle) triple, or nil when none exists. At most one can exist; a
// partial unique index backs this up at the schema level.
func FindPendingOffer(ctx context.Context, tx *sql.Tx, senderID, recipientID, bicycleID int64) (*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE sender_id = $1 AND recipient_id = $2 AND bicycle_id = $3
		  AND is_offer AND offer_status = $4`

	m, err := scanMessage(tx.QueryRowContext(ctx, query, senderID, recipientID, bicycleID, models.OfferStatusPending))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find pending offer: %w", err)
	}
	return m, nil
}

// UpdateOfferStatus sets the offer's terminal state with a from-status
// guard; zero rows means the offer already left `from`.
func UpdateOfferStatus(ctx context.Context, tx *sql.Tx, id int64, from, to models.OfferStatus) error {
	// Offers move exactly once, from pending to a terminal state.
	if from != models.OfferStatusPending || !to.Terminal() {
		return &models.InvalidStateError{Entity: "offer", ID: id, Status: string(from), Op: "transition to " + string(to)}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE messages
		 SET offer_status = $1, updated_at = NOW()
		 WHERE id = $2 AND is_offer AND offer_status = $3`,
		to, id, from)
	if err != nil {
		return fmt.Errorf("update offer %d status %s->%s: %w", id, from, to, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &models.InvalidStateError{Entity: "offer", ID: id, Status: string(from), Op: "transition to " + string(to)}
	}

	return nil
}

// LinkOfferToOrder stamps the created order onto the accepted offer so the
// thread can reference it.
func LinkOfferToOrder(ctx context.Context, tx *sql.Tx, offerID, orderID int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE messages SET order_id = $1, updated_at = NOW() WHERE id = $2`,
		orderID, offerID)
	if err != nil {
		return fmt.Errorf("link offer %d to order %d: %w", offerID, orderID, err)
	}
	return nil
}

// RejectOtherPendingOffers disqualifies every competing pending offer on
// the bicycle in one statement. A loop of single-row saves could be
// interrupted half way and leave mixed state; the bulk update cannot.
func RejectOtherPendingOffers(ctx context.Context, tx *sql.Tx, bicycleID, acceptedOfferID int64) (int64, error) {
	result, err := tx.ExecContext(ctx,
		`UPDATE messages
		 SET offer_status = $1, updated_at = NOW()
		 WHERE bicycle_id = $2
		   AND is_offer
		   AND offer_status = $3
		   AND id <> $4`,
		models.OfferStatusRejected, bicycleID, models.OfferStatusPending, acceptedOfferID)
	if err != nil {
		return 0, fmt.Errorf("reject competing offers on bicycle %d: %w", bicycleID, err)
	}

	rejected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rejected, nil
}

// CountPendingOffers reports how many offers are still actionable on a
// bicycle.
func CountPendingOffers(ctx context.Context, db *sql.DB, bicycleID int64) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE bicycle_id = $1 AND is_offer AND offer_status = $2`,
		bicycleID, models.OfferStatusPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending offers: %w", err)
	}
	return count, nil
}

// ListThread returns the conversation a user participates in for one
// bicycle, oldest first.
func ListThread(ctx context.Context, db *sql.DB, bicycleID, userID int64) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE bicycle_id = $1
		  AND (sender_id = $2 OR recipient_id = $2)
		ORDER BY created_at, id`

	rows, err := db.QueryContext(ctx, query, bicycleID, userID)
	if err != nil {
		return nil, fmt.Errorf("list thread: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return messages, nil
}
