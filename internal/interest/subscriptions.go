package interest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Subscription is a user-curated topic to follow. Unlike interests,
// subscriptions are explicit: the system may suggest one (unconfirmed),
// but only the user confirms, renames or removes it.
type Subscription struct {
	ID        uuid.UUID `json:"id"`
	Topic     string    `json:"topic"`
	Confirmed bool      `json:"confirmed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const subscriptionCols = `id, topic, confirmed, created_at, updated_at`

// CreateSubscription adds a subscription for topic. Topics are unique
// case-insensitively; a duplicate returns ErrDuplicate.
func (s *Store) CreateSubscription(ctx context.Context, topic string, confirmed bool) (*Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO subscriptions (id, topic, confirmed)
		 VALUES ($1, $2, $3)
		 RETURNING `+subscriptionCols,
		uuid.New(), topic, confirmed)
	sub, err := scanSubscription(row)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("subscription %q: %w", topic, ErrDuplicate)
	}
	return sub, err
}

// ListSubscriptions returns all subscriptions ordered by topic.
func (s *Store) ListSubscriptions(ctx context.Context) ([]*Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions ORDER BY lower(topic)`)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}
	return out, nil
}

// ConfirmSubscription marks a suggested subscription as user-confirmed.
// Returns ErrNotFound if the subscription doesn't exist.
func (s *Store) ConfirmSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE subscriptions SET confirmed = true, updated_at = now()
		 WHERE id = $1
		 RETURNING `+subscriptionCols, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sub, err
}

// UpdateSubscription renames a subscription. Renaming onto an existing
// topic returns ErrDuplicate.
func (s *Store) UpdateSubscription(ctx context.Context, id uuid.UUID, topic string) (*Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE subscriptions SET topic = $2, updated_at = now()
		 WHERE id = $1
		 RETURNING `+subscriptionCols, id, topic)
	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("subscription %q: %w", topic, ErrDuplicate)
	}
	return sub, err
}

// DeleteSubscription removes a subscription. Subscriptions carry no
// referential history, so this is a hard delete.
func (s *Store) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting subscription %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	sub := &Subscription{}
	err := row.Scan(&sub.ID, &sub.Topic, &sub.Confirmed, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
