package events

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Subjects for domain events emitted after state transitions commit.
const (
	SubjectOfferCreated     = "market.offer.created"
	SubjectOfferAccepted    = "market.offer.accepted"
	SubjectOfferRejected    = "market.offer.rejected"
	SubjectOrderCreated     = "market.order.created"
	SubjectOrderCompleted   = "market.order.completed"
	SubjectOrderCancelled   = "market.order.cancelled"
	SubjectOrderExpired     = "market.order.expired"
	SubjectPaymentConfirmed = "market.payment.confirmed"
)

type Event struct {
	ID         string      `json:"id"`
	Subject    string      `json:"subject"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// Publisher delivers domain events fire-and-forget: a failed publish is
// logged and dropped, never propagated to the transaction that produced
// the state change.
type Publisher interface {
	Publish(subject string, payload interface{})
	Close()
}

type natsPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to NATS at url. Delivery is best effort.
func NewNATSPublisher(url string) (Publisher, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &natsPublisher{conn: conn}, nil
}

func (p *natsPublisher) Publish(subject string, payload interface{}) {
	event := Event{
		ID:         uuid.NewString(),
		Subject:    subject,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("events: marshal %s: %v", subject, err)
		return
	}

	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("events: publish %s: %v", subject, err)
	}
}

func (p *natsPublisher) Close() {
	p.conn.Close()
}

type nopPublisher struct{}

// NewNopPublisher is used when no NATS URL is configured.
func NewNopPublisher() Publisher { return nopPublisher{} }

func (nopPublisher) Publish(string, interface{}) {}
func (nopPublisher) Close()                      {}
