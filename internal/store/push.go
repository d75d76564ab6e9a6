package store

import (
	"database/sql"
	"fmt"

	"github.com/flacronsport/daily/internal/model"
)

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

// Upsert stores a subscription. An endpoint already known moves to subject
// with the new keys.
func (s *PushStore) Upsert(subject, endpoint, p256dh, auth, userAgent string) (*model.PushSubscription, error) {
	_, err := s.db.Exec(
		`INSERT INTO push_subscriptions (subject, endpoint, p256dh_key, auth_key, user_agent)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET subject = excluded.subject, p256dh_key = excluded.p256dh_key,
		   auth_key = excluded.auth_key, user_agent = excluded.user_agent`,
		subject, endpoint, p256dh, auth, userAgent,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert push subscription: %w", err)
	}
	return s.GetByEndpoint(endpoint)
}

func (s *PushStore) GetByEndpoint(endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.QueryRow(
		`SELECT id, subject, endpoint, p256dh_key, auth_key, user_agent, created_at
		 FROM push_subscriptions WHERE endpoint = ?`, endpoint,
	).Scan(&sub.ID, &sub.Subject, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.UserAgent, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription by endpoint: %w", err)
	}
	return &sub, nil
}

func (s *PushStore) ListBySubject(subject string) ([]model.PushSubscription, error) {
	rows, err := s.db.Query(
		`SELECT id, subject, endpoint, p256dh_key, auth_key, user_agent, created_at
		 FROM push_subscriptions WHERE subject = ? ORDER BY created_at DESC, id DESC`,
		subject,
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions by subject: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		var sub model.PushSubscription
		if err := rows.Scan(&sub.ID, &sub.Subject, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.UserAgent, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DeleteForSubject removes endpoint only if it belongs to subject.
func (s *PushStore) DeleteForSubject(subject, endpoint string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE subject = ? AND endpoint = ?`, subject, endpoint)
	if err != nil {
		return false, fmt.Errorf("delete push subscription: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *PushStore) DeleteByEndpoint(endpoint string) error {
	_, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}
