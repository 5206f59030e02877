// Package notify delivers listing lifecycle alerts to external channels.
// Notifications are dispatched to all registered senders (Telegram, Discord)
// and can be filtered by event type so operators receive only the alerts they
// care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. It maintains a
// set of allowed event types; NotifyEvent only forwards events whose type is
// in the allowed set.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded. If events
// is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// NotifyEvent formats a lifecycle event and delivers it to all senders,
// subject to the configured event type filter.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.Event) error {
	if len(n.events) > 0 && !n.events[string(ev.Type)] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", string(ev.Type)),
		)
		return nil
	}

	title, message := FormatEvent(ev)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// FormatEvent renders a lifecycle event as a human-readable title and body.
func FormatEvent(ev domain.Event) (title, message string) {
	switch ev.Type {
	case domain.EventListingCreated:
		title = fmt.Sprintf("Listing #%d created", ev.ListingID)
		message = fmt.Sprintf("A new listing is open for purchase (id %d).", ev.ListingID)
	case domain.EventItemPurchased:
		title = fmt.Sprintf("Listing #%d sold", ev.ListingID)
		buyer := "unknown buyer"
		if ev.Buyer != nil {
			buyer = ev.Buyer.Hex()
		}
		message = fmt.Sprintf("Purchased by %s with %d attached.", buyer, ev.Amount)
	case domain.EventAuctionEnded:
		title = fmt.Sprintf("Listing #%d closed", ev.ListingID)
		message = "The arbiter closed the listing after its deadline passed unsold."
	case domain.EventAuctionCancelled:
		title = fmt.Sprintf("Listing #%d cancelled", ev.ListingID)
		message = "The seller cancelled the listing."
	case domain.EventDeadlineExtended:
		title = fmt.Sprintf("Listing #%d deadline extended", ev.ListingID)
		if ev.Deadline != nil {
			message = fmt.Sprintf("New deadline: %s.", ev.Deadline.UTC().Format("2006-01-02 15:04:05 UTC"))
		}
	case domain.EventDescriptionUpdated:
		title = fmt.Sprintf("Listing #%d description updated", ev.ListingID)
		message = ev.Text
	case domain.EventImageUpdated:
		title = fmt.Sprintf("Listing #%d image updated", ev.ListingID)
		message = ev.Text
	default:
		title = fmt.Sprintf("Listing #%d: %s", ev.ListingID, ev.Type)
	}
	return title, message
}
