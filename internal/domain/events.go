package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a lifecycle notification emitted by the core.
type EventType string

const (
	EventListingCreated     EventType = "listing_created"
	EventItemPurchased      EventType = "item_purchased"
	EventAuctionEnded       EventType = "auction_ended"
	EventDescriptionUpdated EventType = "description_updated"
	EventImageUpdated       EventType = "image_updated"
	EventAuctionCancelled   EventType = "auction_cancelled"
	EventDeadlineExtended   EventType = "deadline_extended"
)

// Event is a single lifecycle notification. Payload fields are sparse; only
// the ones relevant to the event type are set.
type Event struct {
	Type      EventType       `json:"type"`
	ListingID uint64          `json:"listing_id"`
	Buyer     *common.Address `json:"buyer,omitempty"`  // item_purchased, auction_ended (may be unset)
	Amount    uint64          `json:"amount,omitempty"` // attached value for item_purchased
	Text      string          `json:"text,omitempty"`   // new description / image URL
	Deadline  *time.Time      `json:"deadline,omitempty"`
	At        time.Time       `json:"at"`
}

// EventSink receives events emitted by the core after a state change has
// committed. Implementations must not call back into the emitting listing.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}
