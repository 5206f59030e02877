// Package domain defines the core types and interfaces for the escrow
// listing service: the listing state machine data, lifecycle events, the
// execution-substrate boundary, and the projection store contracts.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListingState represents the lifecycle state of a listing. Open is the only
// state with outgoing transitions; the other three are terminal.
type ListingState string

const (
	ListingOpen         ListingState = "open"
	ListingSold         ListingState = "sold"
	ListingForcedClosed ListingState = "forced_closed"
	ListingCancelled    ListingState = "cancelled"
)

// Terminal reports whether no further transitions can leave the state.
func (s ListingState) Terminal() bool {
	return s == ListingSold || s == ListingForcedClosed || s == ListingCancelled
}

// Listing is the public snapshot of one fixed-price sale. Seller, Arbiter,
// Price and Escrow are immutable after creation; Buyer is write-once and set
// exactly when the state becomes Sold.
type Listing struct {
	ID          uint64
	Escrow      common.Address // custody account; balance is zero between calls
	Seller      common.Address
	Arbiter     common.Address
	Buyer       common.Address // zero address until sold
	Price       uint64         // smallest currency unit
	ProductName string
	Description string
	ImageURL    string
	State       ListingState
	Deadline    time.Time // monotonically non-decreasing
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateParams carries the creation input for a new listing.
type CreateParams struct {
	Price           uint64
	ProductName     string
	DurationSeconds uint64
	Arbiter         common.Address
	ImageURL        string
	Description     string
}

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}
