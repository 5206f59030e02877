package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Log appends a lifecycle event to the journal.
func (s *EventStore) Log(ctx context.Context, ev domain.Event) error {
	const query = `
		INSERT INTO listing_events (listing_id, event_type, buyer, amount, text_value, deadline, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	var buyer *string
	if ev.Buyer != nil {
		h := ev.Buyer.Hex()
		buyer = &h
	}

	_, err := s.pool.Exec(ctx, query,
		int64(ev.ListingID), string(ev.Type), buyer,
		int64(ev.Amount), ev.Text, ev.Deadline, ev.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: log event %s for listing %d: %w", ev.Type, ev.ListingID, err)
	}
	return nil
}

// ListByListing returns the journal for one listing in occurrence order.
func (s *EventStore) ListByListing(ctx context.Context, listingID uint64, opts domain.ListOpts) ([]domain.Event, error) {
	query := `
		SELECT event_type, listing_id, buyer, amount, text_value, deadline, occurred_at
		FROM listing_events
		WHERE listing_id = $1
		ORDER BY occurred_at, id`
	args := []any{int64(listingID)}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for listing %d: %w", listingID, err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			ev       domain.Event
			evType   string
			id       int64
			buyer    *string
			amount   int64
			deadline *time.Time
		)
		if err := rows.Scan(&evType, &id, &buyer, &amount, &ev.Text, &deadline, &ev.At); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.Type = domain.EventType(evType)
		ev.ListingID = uint64(id)
		ev.Amount = uint64(amount)
		if buyer != nil {
			a := common.HexToAddress(*buyer)
			ev.Buyer = &a
		}
		ev.Deadline = deadline
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}
