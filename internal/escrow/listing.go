// Package escrow implements the fixed-price listing state machine with
// custodial fund transfer, and the registry that creates and indexes
// listings on behalf of an operator.
package escrow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// Deps bundles the execution-substrate collaborators a listing needs.
type Deps struct {
	Ledger domain.Ledger
	Clock  domain.Clock
	Sink   domain.EventSink
}

// Listing is one live fixed-price sale. All mutating methods take the caller
// identity supplied by the substrate and enforce role, state, and parameter
// guards in that order. A non-blocking mutual-exclusion flag covers every
// mutating call, so a reentrant call made while an outbound transfer holds
// control is rejected with domain.ErrBusy instead of interleaving.
type Listing struct {
	mu   sync.Mutex
	deps Deps
	st   domain.Listing
}

// NewListing constructs an Open listing directly, outside the registry path.
// The escrow custody address must be unique per listing; the registry derives
// one automatically.
func NewListing(deps Deps, id uint64, escrow, seller common.Address, p domain.CreateParams) (*Listing, error) {
	if seller == (common.Address{}) {
		return nil, fmt.Errorf("escrow: seller unset: %w", domain.ErrInvalidParam)
	}
	if p.Arbiter == (common.Address{}) {
		return nil, fmt.Errorf("escrow: arbiter unset: %w", domain.ErrInvalidParam)
	}

	now := deps.Clock.Now()
	return &Listing{
		deps: deps,
		st: domain.Listing{
			ID:          id,
			Escrow:      escrow,
			Seller:      seller,
			Arbiter:     p.Arbiter,
			Price:       p.Price,
			ProductName: p.ProductName,
			Description: p.Description,
			ImageURL:    p.ImageURL,
			State:       domain.ListingOpen,
			Deadline:    now.Add(time.Duration(p.DurationSeconds) * time.Second),
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}, nil
}

// Snapshot returns a copy of the listing's public state. Always readable,
// even while a mutating call is in flight elsewhere.
func (l *Listing) Snapshot() domain.Listing {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st
}

// Purchase buys the item with an attached value of amount. Any identity may
// call it. The state flips to Sold before any funds move; the deposit, the
// price payment to the seller, and the surplus refund to the payer all run
// inside one ledger transaction. If any transfer fails the transaction and
// the staged state flip are both rolled back, leaving the listing Open and
// re-purchasable.
func (l *Listing) Purchase(ctx context.Context, caller common.Address, amount uint64) error {
	if !l.mu.TryLock() {
		return fmt.Errorf("escrow: purchase: %w", domain.ErrBusy)
	}
	defer l.mu.Unlock()

	if l.st.State != domain.ListingOpen {
		return fmt.Errorf("escrow: purchase listing %d in state %s: %w", l.st.ID, l.st.State, domain.ErrInvalidState)
	}
	if amount < l.st.Price {
		return fmt.Errorf("escrow: purchase listing %d with %d < price %d: %w", l.st.ID, amount, l.st.Price, domain.ErrInsufficientValue)
	}
	now := l.deps.Clock.Now()
	if !now.Before(l.st.Deadline) {
		return fmt.Errorf("escrow: purchase listing %d: %w", l.st.ID, domain.ErrDeadlinePassed)
	}

	// Commit the sale before handing control to anyone: a reentrant call
	// during the transfers below observes Sold (and is rejected by TryLock
	// regardless).
	prev := l.st
	l.st.State = domain.ListingSold
	l.st.Buyer = caller
	l.st.UpdatedAt = now

	seller, escrow, price := l.st.Seller, l.st.Escrow, l.st.Price
	err := l.deps.Ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		// Attached value: payer funds move into custody first.
		if err := tx.Transfer(ctx, caller, escrow, amount); err != nil {
			return fmt.Errorf("deposit: %w", err)
		}
		if err := tx.Transfer(ctx, escrow, seller, price); err != nil {
			return fmt.Errorf("pay seller: %w", err)
		}
		if surplus := amount - price; surplus > 0 {
			if err := tx.Transfer(ctx, escrow, caller, surplus); err != nil {
				return fmt.Errorf("refund surplus: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		l.st = prev
		return fmt.Errorf("escrow: purchase listing %d: %w: %w", l.st.ID, domain.ErrTransferFailed, err)
	}

	buyer := caller
	l.deps.Sink.Emit(ctx, domain.Event{
		Type:      domain.EventItemPurchased,
		ListingID: l.st.ID,
		Buyer:     &buyer,
		Amount:    amount,
		At:        now,
	})
	return nil
}

// ForceClose lets the arbiter close an unsold listing once the deadline has
// passed. No funds move.
func (l *Listing) ForceClose(ctx context.Context, caller common.Address) error {
	if !l.mu.TryLock() {
		return fmt.Errorf("escrow: force close: %w", domain.ErrBusy)
	}
	defer l.mu.Unlock()

	if caller != l.st.Arbiter {
		return fmt.Errorf("escrow: force close listing %d: %w", l.st.ID, domain.ErrUnauthorized)
	}
	if l.st.State != domain.ListingOpen {
		return fmt.Errorf("escrow: force close listing %d in state %s: %w", l.st.ID, l.st.State, domain.ErrInvalidState)
	}
	now := l.deps.Clock.Now()
	if now.Before(l.st.Deadline) {
		return fmt.Errorf("escrow: force close listing %d: %w", l.st.ID, domain.ErrDeadlineNotReached)
	}

	l.st.State = domain.ListingForcedClosed
	l.st.UpdatedAt = now

	// Buyer is deliberately unset on a forced close: the item never sold.
	l.deps.Sink.Emit(ctx, domain.Event{
		Type:      domain.EventAuctionEnded,
		ListingID: l.st.ID,
		At:        now,
	})
	return nil
}

// Cancel lets the seller withdraw an Open listing before sale.
func (l *Listing) Cancel(ctx context.Context, caller common.Address) error {
	if !l.mu.TryLock() {
		return fmt.Errorf("escrow: cancel: %w", domain.ErrBusy)
	}
	defer l.mu.Unlock()

	if caller != l.st.Seller {
		return fmt.Errorf("escrow: cancel listing %d: %w", l.st.ID, domain.ErrUnauthorized)
	}
	if l.st.State != domain.ListingOpen {
		return fmt.Errorf("escrow: cancel listing %d in state %s: %w", l.st.ID, l.st.State, domain.ErrInvalidState)
	}

	now := l.deps.Clock.Now()
	l.st.State = domain.ListingCancelled
	l.st.UpdatedAt = now

	l.deps.Sink.Emit(ctx, domain.Event{
		Type:      domain.EventAuctionCancelled,
		ListingID: l.st.ID,
		At:        now,
	})
	return nil
}

// ExtendDeadline pushes the deadline forward by delta. Seller or arbiter
// only; delta must be positive, so the deadline is monotonically
// non-decreasing across the listing's life.
func (l *Listing) ExtendDeadline(ctx context.Context, caller common.Address, delta time.Duration) error {
	if !l.mu.TryLock() {
		return fmt.Errorf("escrow: extend deadline: %w", domain.ErrBusy)
	}
	defer l.mu.Unlock()

	if caller != l.st.Seller && caller != l.st.Arbiter {
		return fmt.Errorf("escrow: extend deadline listing %d: %w", l.st.ID, domain.ErrUnauthorized)
	}
	if l.st.State != domain.ListingOpen {
		return fmt.Errorf("escrow: extend deadline listing %d in state %s: %w", l.st.ID, l.st.State, domain.ErrInvalidState)
	}
	if delta <= 0 {
		return fmt.Errorf("escrow: extend deadline listing %d by %s: %w", l.st.ID, delta, domain.ErrInvalidParam)
	}

	now := l.deps.Clock.Now()
	l.st.Deadline = l.st.Deadline.Add(delta)
	l.st.UpdatedAt = now

	deadline := l.st.Deadline
	l.deps.Sink.Emit(ctx, domain.Event{
		Type:      domain.EventDeadlineExtended,
		ListingID: l.st.ID,
		Deadline:  &deadline,
		At:        now,
	})
	return nil
}

// UpdateDescription replaces the description. Seller only, while Open.
func (l *Listing) UpdateDescription(ctx context.Context, caller common.Address, text string) error {
	if !l.mu.TryLock() {
		return fmt.Errorf("escrow: update description: %w", domain.ErrBusy)
	}
	defer l.mu.Unlock()

	if caller != l.st.Seller {
		return fmt.Errorf("escrow: update description listing %d: %w", l.st.ID, domain.ErrUnauthorized)
	}
	if l.st.State != domain.ListingOpen {
		return fmt.Errorf("escrow: update description listing %d in state %s: %w", l.st.ID, l.st.State, domain.ErrInvalidState)
	}

	now := l.deps.Clock.Now()
	l.st.Description = text
	l.st.UpdatedAt = now

	l.deps.Sink.Emit(ctx, domain.Event{
		Type:      domain.EventDescriptionUpdated,
		ListingID: l.st.ID,
		Text:      text,
		At:        now,
	})
	return nil
}

// UpdateImage replaces the image reference. Seller only, while Open.
func (l *Listing) UpdateImage(ctx context.Context, caller common.Address, url string) error {
	if !l.mu.TryLock() {
		return fmt.Errorf("escrow: update image: %w", domain.ErrBusy)
	}
	defer l.mu.Unlock()

	if caller != l.st.Seller {
		return fmt.Errorf("escrow: update image listing %d: %w", l.st.ID, domain.ErrUnauthorized)
	}
	if l.st.State != domain.ListingOpen {
		return fmt.Errorf("escrow: update image listing %d in state %s: %w", l.st.ID, l.st.State, domain.ErrInvalidState)
	}

	now := l.deps.Clock.Now()
	l.st.ImageURL = url
	l.st.UpdatedAt = now

	l.deps.Sink.Emit(ctx, domain.Event{
		Type:      domain.EventImageUpdated,
		ListingID: l.st.ID,
		Text:      url,
		At:        now,
	})
	return nil
}

// SystemClock implements domain.Clock with wall-clock time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
