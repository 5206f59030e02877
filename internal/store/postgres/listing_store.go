package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a ListingStore backed by the given connection pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

// Upsert inserts or updates a listing snapshot.
func (s *ListingStore) Upsert(ctx context.Context, l domain.Listing) error {
	const query = `
		INSERT INTO listings (
			id, escrow, seller, arbiter, buyer,
			price, product_name, description, image_url,
			state, deadline, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			buyer       = EXCLUDED.buyer,
			description = EXCLUDED.description,
			image_url   = EXCLUDED.image_url,
			state       = EXCLUDED.state,
			deadline    = EXCLUDED.deadline,
			updated_at  = NOW()`

	buyer := ""
	if l.Buyer != (common.Address{}) {
		buyer = l.Buyer.Hex()
	}

	_, err := s.pool.Exec(ctx, query,
		int64(l.ID), l.Escrow.Hex(), l.Seller.Hex(), l.Arbiter.Hex(), buyer,
		int64(l.Price), l.ProductName, l.Description, l.ImageURL,
		string(l.State), l.Deadline, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert listing %d: %w", l.ID, err)
	}
	return nil
}

const listingCols = `id, escrow, seller, arbiter, buyer,
	price, product_name, description, image_url,
	state, deadline, created_at, updated_at`

// scanListing scans a single listing row into a domain.Listing.
func scanListing(row pgx.Row) (domain.Listing, error) {
	var (
		l       domain.Listing
		id      int64
		price   int64
		escrow  string
		seller  string
		arbiter string
		buyer   string
		state   string
	)
	err := row.Scan(
		&id, &escrow, &seller, &arbiter, &buyer,
		&price, &l.ProductName, &l.Description, &l.ImageURL,
		&state, &l.Deadline, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return domain.Listing{}, err
	}
	l.ID = uint64(id)
	l.Price = uint64(price)
	l.Escrow = common.HexToAddress(escrow)
	l.Seller = common.HexToAddress(seller)
	l.Arbiter = common.HexToAddress(arbiter)
	if buyer != "" {
		l.Buyer = common.HexToAddress(buyer)
	}
	l.State = domain.ListingState(state)
	return l, nil
}

// GetByID retrieves a listing snapshot by id.
func (s *ListingStore) GetByID(ctx context.Context, id uint64) (domain.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingCols+` FROM listings WHERE id = $1`, int64(id))
	l, err := scanListing(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %d: %w", id, err)
	}
	return l, nil
}

// List returns listing snapshots in creation order with pagination.
func (s *ListingStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	query := `SELECT ` + listingCols + ` FROM listings ORDER BY id`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list listings rows: %w", err)
	}
	return listings, nil
}

// Count returns the total number of projected listings.
func (s *ListingStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM listings").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count listings: %w", err)
	}
	return count, nil
}
