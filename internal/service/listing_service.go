// Package service coordinates the escrow core with the projection stores,
// cache, distributed locks, and the async event pipeline.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/escrow"
)

// ListingService executes lifecycle operations against the in-memory arena
// and maintains the read projections. The arena is authoritative; projection
// failures are logged and never block a committed state change.
type ListingService struct {
	registry *escrow.Registry
	locks    domain.LockManager // nil when running without redis
	lockTTL  time.Duration
	store    domain.ListingStore // nil when running without postgres
	events   domain.EventStore   // nil when running without postgres
	cache    domain.ListingCache // nil when running without redis
	logger   *slog.Logger
}

// ListingServiceOpts carries the optional collaborators for a ListingService.
type ListingServiceOpts struct {
	Locks   domain.LockManager
	LockTTL time.Duration
	Store   domain.ListingStore
	Events  domain.EventStore
	Cache   domain.ListingCache
}

// NewListingService creates a ListingService around the given registry.
func NewListingService(registry *escrow.Registry, opts ListingServiceOpts, logger *slog.Logger) *ListingService {
	ttl := opts.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &ListingService{
		registry: registry,
		locks:    opts.Locks,
		lockTTL:  ttl,
		store:    opts.Store,
		events:   opts.Events,
		cache:    opts.Cache,
		logger:   logger.With(slog.String("component", "listing_service")),
	}
}

func purchaseLockKey(id uint64) string {
	return "listing:purchase:" + strconv.FormatUint(id, 10)
}

// Purchase buys listing id with the attached amount on behalf of caller. When
// a distributed lock manager is configured the purchase also holds a
// per-listing lock for the duration of the call, so concurrent purchases
// across processes contend on one key.
func (s *ListingService) Purchase(ctx context.Context, id uint64, caller common.Address, amount uint64) (domain.Listing, error) {
	l, err := s.registry.Get(id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: purchase %d: %w", id, err)
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, purchaseLockKey(id), s.lockTTL)
		if err != nil {
			return domain.Listing{}, fmt.Errorf("listing_service: purchase %d: %w", id, err)
		}
		defer unlock()
	}

	if err := l.Purchase(ctx, caller, amount); err != nil {
		return domain.Listing{}, err
	}

	snap := l.Snapshot()
	s.project(ctx, snap)
	return snap, nil
}

// ForceClose closes an unsold listing after its deadline. Arbiter only.
func (s *ListingService) ForceClose(ctx context.Context, id uint64, caller common.Address) (domain.Listing, error) {
	l, err := s.registry.Get(id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: force close %d: %w", id, err)
	}
	if err := l.ForceClose(ctx, caller); err != nil {
		return domain.Listing{}, err
	}
	snap := l.Snapshot()
	s.project(ctx, snap)
	return snap, nil
}

// Cancel withdraws an Open listing. Seller only.
func (s *ListingService) Cancel(ctx context.Context, id uint64, caller common.Address) (domain.Listing, error) {
	l, err := s.registry.Get(id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: cancel %d: %w", id, err)
	}
	if err := l.Cancel(ctx, caller); err != nil {
		return domain.Listing{}, err
	}
	snap := l.Snapshot()
	s.project(ctx, snap)
	return snap, nil
}

// ExtendDeadline pushes the deadline of listing id forward by delta.
func (s *ListingService) ExtendDeadline(ctx context.Context, id uint64, caller common.Address, delta time.Duration) (domain.Listing, error) {
	l, err := s.registry.Get(id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: extend deadline %d: %w", id, err)
	}
	if err := l.ExtendDeadline(ctx, caller, delta); err != nil {
		return domain.Listing{}, err
	}
	snap := l.Snapshot()
	s.project(ctx, snap)
	return snap, nil
}

// UpdateDescription replaces the description of listing id. Seller only.
func (s *ListingService) UpdateDescription(ctx context.Context, id uint64, caller common.Address, text string) (domain.Listing, error) {
	l, err := s.registry.Get(id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: update description %d: %w", id, err)
	}
	if err := l.UpdateDescription(ctx, caller, text); err != nil {
		return domain.Listing{}, err
	}
	snap := l.Snapshot()
	s.project(ctx, snap)
	return snap, nil
}

// UpdateImage replaces the image reference of listing id. Seller only.
func (s *ListingService) UpdateImage(ctx context.Context, id uint64, caller common.Address, url string) (domain.Listing, error) {
	l, err := s.registry.Get(id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: update image %d: %w", id, err)
	}
	if err := l.UpdateImage(ctx, caller, url); err != nil {
		return domain.Listing{}, err
	}
	snap := l.Snapshot()
	s.project(ctx, snap)
	return snap, nil
}

// Get returns the snapshot of listing id, consulting the cache first and
// falling back to the authoritative arena on a miss.
func (s *ListingService) Get(ctx context.Context, id uint64) (domain.Listing, error) {
	if s.cache != nil {
		if l, err := s.cache.Get(ctx, id); err == nil {
			return l, nil
		}
	}

	l, err := s.registry.Get(id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: get %d: %w", id, err)
	}
	snap := l.Snapshot()

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, snap); cacheErr != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.Uint64("listing_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return snap, nil
}

// History returns the persisted event journal for listing id. It requires the
// event store projection; in memory mode it reports no journal.
func (s *ListingService) History(ctx context.Context, id uint64, opts domain.ListOpts) ([]domain.Event, error) {
	if s.events == nil {
		return nil, fmt.Errorf("listing_service: history %d: no event journal configured: %w", id, domain.ErrNotFound)
	}
	if _, err := s.registry.Get(id); err != nil {
		return nil, fmt.Errorf("listing_service: history %d: %w", id, err)
	}
	return s.events.ListByListing(ctx, id, opts)
}

// project refreshes the read projections after a committed state change.
// Failures are non-fatal: the arena stays authoritative and the cache entry
// expires on its own.
func (s *ListingService) project(ctx context.Context, l domain.Listing) {
	if s.store != nil {
		if err := s.store.Upsert(ctx, l); err != nil {
			s.logger.WarnContext(ctx, "store upsert failed",
				slog.Uint64("listing_id", l.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, l); err != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.Uint64("listing_id", l.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
