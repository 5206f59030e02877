package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/notify"
)

// EventChannel is the pub/sub channel lifecycle events are published on.
const EventChannel = "listings:events"

// EventStream is the durable stream lifecycle events are appended to.
const EventStream = "stream:listings:events"

// Broadcaster pushes a serialized event to connected live subscribers (the
// websocket hub).
type Broadcaster interface {
	Broadcast(payload []byte)
}

// EventPump implements domain.EventSink with a buffered channel so the core
// never blocks on downstream fan-out. Run consumes the channel and forwards
// each event to the journal, the signal bus, the notifier, live subscribers,
// and (for terminal states, when enabled) the archiver.
type EventPump struct {
	ch     chan domain.Event
	logger *slog.Logger

	events    domain.EventStore // nil when running without postgres
	bus       domain.SignalBus  // nil when running without redis
	notifier  *notify.Notifier  // nil when notifications are unconfigured
	broadcast Broadcaster       // nil when the server is disabled
	archiver  domain.Archiver   // nil unless archive_terminal is on
}

// EventPumpOpts carries the optional downstream consumers for an EventPump.
type EventPumpOpts struct {
	Events    domain.EventStore
	Bus       domain.SignalBus
	Notifier  *notify.Notifier
	Broadcast Broadcaster
	Archiver  domain.Archiver
}

// NewEventPump creates an EventPump with the given channel capacity.
func NewEventPump(buffer int, opts EventPumpOpts, logger *slog.Logger) *EventPump {
	if buffer < 1 {
		buffer = 1
	}
	return &EventPump{
		ch:        make(chan domain.Event, buffer),
		logger:    logger.With(slog.String("component", "event_pump")),
		events:    opts.Events,
		bus:       opts.Bus,
		notifier:  opts.Notifier,
		broadcast: opts.Broadcast,
		archiver:  opts.Archiver,
	}
}

// Emit enqueues an event for asynchronous fan-out. It never blocks; when the
// buffer is full the event is dropped from the pipeline (the journal row is
// lost, the authoritative arena state is not).
func (p *EventPump) Emit(ctx context.Context, ev domain.Event) {
	select {
	case p.ch <- ev:
	default:
		p.logger.WarnContext(ctx, "event buffer full, dropping event",
			slog.String("type", string(ev.Type)),
			slog.Uint64("listing_id", ev.ListingID),
		)
	}
}

// Run consumes the event channel until ctx is cancelled. Each downstream
// failure is logged and does not stop the pump or skip other consumers.
func (p *EventPump) Run(ctx context.Context) error {
	p.logger.Info("event pump started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("event pump stopped")
			return ctx.Err()
		case ev := <-p.ch:
			p.handle(ctx, ev)
		}
	}
}

func (p *EventPump) handle(ctx context.Context, ev domain.Event) {
	if p.events != nil {
		if err := p.events.Log(ctx, ev); err != nil {
			p.warn(ctx, ev, "journal append failed", err)
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.warn(ctx, ev, "event marshal failed", err)
		return
	}

	if p.bus != nil {
		if err := p.bus.Publish(ctx, EventChannel, payload); err != nil {
			p.warn(ctx, ev, "bus publish failed", err)
		}
		if err := p.bus.StreamAppend(ctx, EventStream, payload); err != nil {
			p.warn(ctx, ev, "stream append failed", err)
		}
	}

	if p.broadcast != nil {
		p.broadcast.Broadcast(payload)
	}

	if p.notifier != nil {
		if err := p.notifier.NotifyEvent(ctx, ev); err != nil {
			p.warn(ctx, ev, "notification failed", err)
		}
	}

	if p.archiver != nil && terminalEvent(ev.Type) {
		path, err := p.archiver.ArchiveListing(ctx, ev.ListingID)
		if err != nil {
			p.warn(ctx, ev, "terminal archive failed", err)
		} else {
			p.logger.InfoContext(ctx, "listing archived",
				slog.Uint64("listing_id", ev.ListingID),
				slog.String("path", path),
			)
		}
	}
}

// terminalEvent reports whether the event type marks a listing's final state.
func terminalEvent(t domain.EventType) bool {
	switch t {
	case domain.EventItemPurchased, domain.EventAuctionEnded, domain.EventAuctionCancelled:
		return true
	}
	return false
}

func (p *EventPump) warn(ctx context.Context, ev domain.Event, msg string, err error) {
	p.logger.WarnContext(ctx, msg,
		slog.String("type", string(ev.Type)),
		slog.Uint64("listing_id", ev.ListingID),
		slog.String("error", err.Error()),
	)
}
