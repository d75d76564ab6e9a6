package store

import (
	"database/sql"
	"fmt"

	"github.com/flacronsport/daily/internal/model"
)

type BillingEventStore struct {
	db *sql.DB
}

func NewBillingEventStore(db *sql.DB) *BillingEventStore {
	return &BillingEventStore{db: db}
}

// Record stores a processed event. It reports false when the event id was
// already recorded.
func (s *BillingEventStore) Record(stripeEventID, eventType, subject, customerID string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO billing_events (stripe_event_id, type, subject, customer_id)
		 VALUES (?, ?, ?, ?)`,
		stripeEventID, eventType, subject, customerID,
	)
	if err != nil {
		return false, fmt.Errorf("record billing event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record billing event: %w", err)
	}
	return n > 0, nil
}

// ListBySubject returns the most recent events of subject, newest first.
func (s *BillingEventStore) ListBySubject(subject string, limit int) ([]model.BillingEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, stripe_event_id, type, subject, customer_id, created_at
		 FROM billing_events WHERE subject = ? ORDER BY id DESC LIMIT ?`,
		subject, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list billing events: %w", err)
	}
	defer rows.Close()

	var events []model.BillingEvent
	for rows.Next() {
		var e model.BillingEvent
		if err := rows.Scan(&e.ID, &e.StripeEventID, &e.Type, &e.Subject, &e.CustomerID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan billing event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
