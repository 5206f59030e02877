package service

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/escrow"
)

// RegistryService exposes the registry surface: listing creation, paging, and
// ownership transfer. Newly created listings are projected to the read side
// immediately.
type RegistryService struct {
	registry *escrow.Registry
	store    domain.ListingStore // nil when running without postgres
	cache    domain.ListingCache // nil when running without redis
	logger   *slog.Logger
}

// NewRegistryService creates a RegistryService around the given registry.
func NewRegistryService(registry *escrow.Registry, store domain.ListingStore, cache domain.ListingCache, logger *slog.Logger) *RegistryService {
	return &RegistryService{
		registry: registry,
		store:    store,
		cache:    cache,
		logger:   logger.With(slog.String("component", "registry_service")),
	}
}

// Create makes a new listing on behalf of caller. Operator only; the caller
// becomes the seller.
func (s *RegistryService) Create(ctx context.Context, caller common.Address, p domain.CreateParams) (domain.Listing, error) {
	l, err := s.registry.Create(ctx, caller, p)
	if err != nil {
		return domain.Listing{}, err
	}
	snap := l.Snapshot()

	if s.store != nil {
		if err := s.store.Upsert(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "store upsert failed",
				slog.Uint64("listing_id", snap.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.Uint64("listing_id", snap.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "listing created",
		slog.Uint64("listing_id", snap.ID),
		slog.String("seller", snap.Seller.Hex()),
		slog.Uint64("price", snap.Price),
	)
	return snap, nil
}

// Page returns up to limit listing snapshots starting at index start. It
// fails whenever start is at or beyond the current count.
func (s *RegistryService) Page(start, limit uint64) ([]domain.Listing, error) {
	listings, err := s.registry.Page(start, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Listing, len(listings))
	for i, l := range listings {
		out[i] = l.Snapshot()
	}
	return out, nil
}

// Count returns the number of listings ever created.
func (s *RegistryService) Count() uint64 {
	return s.registry.Count()
}

// Owner returns the current operator identity.
func (s *RegistryService) Owner() common.Address {
	return s.registry.Owner()
}

// TransferOwnership hands the operator role to newOwner. Owner only.
func (s *RegistryService) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	if err := s.registry.TransferOwnership(caller, newOwner); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "registry ownership transferred",
		slog.String("from", caller.Hex()),
		slog.String("to", newOwner.Hex()),
	)
	return nil
}
