package domain

import "context"

// ListingStore persists listing snapshots as a read/audit projection. The
// in-memory arena remains authoritative for lifecycle decisions.
type ListingStore interface {
	Upsert(ctx context.Context, l Listing) error
	GetByID(ctx context.Context, id uint64) (Listing, error)
	List(ctx context.Context, opts ListOpts) ([]Listing, error)
	Count(ctx context.Context) (int64, error)
}

// EventStore persists the append-only lifecycle event journal.
type EventStore interface {
	Log(ctx context.Context, ev Event) error
	ListByListing(ctx context.Context, listingID uint64, opts ListOpts) ([]Event, error)
}
