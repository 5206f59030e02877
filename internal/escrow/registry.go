package escrow

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// Registry creates listings on behalf of an owning operator and indexes them
// in an append-only arena. Ids are stable creation indices; entries are never
// removed, so terminal listings stay queryable for history.
type Registry struct {
	mu       sync.RWMutex
	owner    common.Address
	deps     Deps
	listings []*Listing
}

// NewRegistry creates a Registry owned by the given operator identity.
func NewRegistry(owner common.Address, deps Deps) (*Registry, error) {
	if owner == (common.Address{}) {
		return nil, fmt.Errorf("escrow: registry owner unset: %w", domain.ErrInvalidParam)
	}
	return &Registry{owner: owner, deps: deps}, nil
}

// Owner returns the current operator identity.
func (r *Registry) Owner() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// TransferOwnership hands the operator role to newOwner. Owner only.
func (r *Registry) TransferOwnership(caller, newOwner common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return fmt.Errorf("escrow: transfer ownership: %w", domain.ErrUnauthorized)
	}
	if newOwner == (common.Address{}) {
		return fmt.Errorf("escrow: transfer ownership to zero address: %w", domain.ErrInvalidParam)
	}
	r.owner = newOwner
	return nil
}

// Create constructs a new listing and appends it to the arena. Operator only.
// The new listing's seller is the caller: the operator lists on its own
// behalf through this path.
func (r *Registry) Create(ctx context.Context, caller common.Address, p domain.CreateParams) (*Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return nil, fmt.Errorf("escrow: create listing: %w", domain.ErrUnauthorized)
	}

	id := uint64(len(r.listings))
	l, err := NewListing(r.deps, id, deriveEscrowAddress(), caller, p)
	if err != nil {
		return nil, err
	}
	r.listings = append(r.listings, l)

	r.deps.Sink.Emit(ctx, domain.Event{
		Type:      domain.EventListingCreated,
		ListingID: id,
		At:        r.deps.Clock.Now(),
	})
	return l, nil
}

// Count returns the number of listings ever created.
func (r *Registry) Count() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint64(len(r.listings))
}

// Get returns the listing at index id. Fails for id >= count.
func (r *Registry) Get(id uint64) (*Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id >= uint64(len(r.listings)) {
		return nil, fmt.Errorf("escrow: get listing %d of %d: %w", id, len(r.listings), domain.ErrNotFound)
	}
	return r.listings[id], nil
}

// Page returns up to limit listings starting at index start, clipped to the
// available count and in creation order. It fails whenever start >= count,
// even for a zero limit or an empty registry.
func (r *Registry) Page(start, limit uint64) ([]*Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := uint64(len(r.listings))
	if start >= count {
		return nil, fmt.Errorf("escrow: page start %d with count %d: %w", start, count, domain.ErrPageOutOfRange)
	}

	n := count - start
	if limit < n {
		n = limit
	}
	out := make([]*Listing, n)
	copy(out, r.listings[start:start+n])
	return out, nil
}

// deriveEscrowAddress mints a fresh custody address for a new listing.
func deriveEscrowAddress() common.Address {
	u := uuid.New()
	return common.BytesToAddress(u[:])
}
