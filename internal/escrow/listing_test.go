package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/ledger"
)

var (
	operator = common.HexToAddress("0x0000000000000000000000000000000000000001")
	arbiter  = common.HexToAddress("0x0000000000000000000000000000000000000002")
	buyer    = common.HexToAddress("0x0000000000000000000000000000000000000003")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000004")
)

// fakeClock is a settable domain.Clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordSink captures emitted events in order.
type recordSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordSink) Emit(_ context.Context, ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordSink) last(t *testing.T) domain.Event {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		t.Fatal("no events emitted")
	}
	return s.events[len(s.events)-1]
}

type fixture struct {
	ledger   *ledger.Ledger
	clock    *fakeClock
	sink     *recordSink
	registry *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger: ledger.New(),
		clock:  newFakeClock(),
		sink:   &recordSink{},
	}
	reg, err := NewRegistry(operator, Deps{Ledger: f.ledger, Clock: f.clock, Sink: f.sink})
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	f.registry = reg
	return f
}

func (f *fixture) createListing(t *testing.T, price, durationSec uint64) *Listing {
	t.Helper()
	l, err := f.registry.Create(context.Background(), operator, domain.CreateParams{
		Price:           price,
		ProductName:     "vintage camera",
		DurationSeconds: durationSec,
		Arbiter:         arbiter,
		ImageURL:        "https://img.example/camera.jpg",
		Description:     "fully working",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	return l
}

func (f *fixture) balance(t *testing.T, addr common.Address) uint64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), addr)
	if err != nil {
		t.Fatalf("Balance error: %v", err)
	}
	return b
}

func TestPurchase_WithSurplus(t *testing.T) {
	// Scenario: price=100, duration=3600; buyer sends 150 before the
	// deadline. Seller nets exactly 100, payer nets back 50, escrow is empty.
	f := newFixture(t)
	l := f.createListing(t, 100, 3600)
	f.ledger.Mint(buyer, 150)

	if err := l.Purchase(context.Background(), buyer, 150); err != nil {
		t.Fatalf("Purchase error: %v", err)
	}

	snap := l.Snapshot()
	if snap.State != domain.ListingSold {
		t.Errorf("state = %s, want sold", snap.State)
	}
	if snap.Buyer != buyer {
		t.Errorf("buyer = %s, want %s", snap.Buyer.Hex(), buyer.Hex())
	}
	if got := f.balance(t, operator); got != 100 {
		t.Errorf("seller balance = %d, want 100", got)
	}
	if got := f.balance(t, buyer); got != 50 {
		t.Errorf("buyer balance = %d, want 50", got)
	}
	if got := f.balance(t, snap.Escrow); got != 0 {
		t.Errorf("escrow balance = %d, want 0", got)
	}

	ev := f.sink.last(t)
	if ev.Type != domain.EventItemPurchased {
		t.Errorf("event type = %s, want item_purchased", ev.Type)
	}
	if ev.Buyer == nil || *ev.Buyer != buyer {
		t.Errorf("event buyer = %v, want %s", ev.Buyer, buyer.Hex())
	}
	if ev.Amount != 150 {
		t.Errorf("event amount = %d, want 150", ev.Amount)
	}
}

func TestPurchase_ExactAmount(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t, 100, 3600)
	f.ledger.Mint(buyer, 100)

	if err := l.Purchase(context.Background(), buyer, 100); err != nil {
		t.Fatalf("Purchase error: %v", err)
	}
	if got := f.balance(t, operator); got != 100 {
		t.Errorf("seller balance = %d, want 100", got)
	}
	if got := f.balance(t, buyer); got != 0 {
		t.Errorf("buyer balance = %d, want 0", got)
	}
}

func TestPurchase_SecondBuyerRejected(t *testing.T) {
	// Scenario: a second buyer sends a valid amount after the first sale.
	f := newFixture(t)
	l := f.createListing(t, 100, 3600)
	f.ledger.Mint(buyer, 100)
	f.ledger.Mint(stranger, 100)

	if err := l.Purchase(context.Background(), buyer, 100); err != nil {
		t.Fatalf("first Purchase error: %v", err)
	}
	err := l.Purchase(context.Background(), stranger, 100)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second Purchase error = %v, want ErrInvalidState", err)
	}
	if got := f.balance(t, stranger); got != 100 {
		t.Errorf("second buyer balance = %d, want 100 (untouched)", got)
	}
	if snap := l.Snapshot(); snap.Buyer != buyer {
		t.Errorf("buyer = %s, want first buyer %s", snap.Buyer.Hex(), buyer.Hex())
	}
}

func TestPurchase_GuardFailures(t *testing.T) {
	tests := []struct {
		name    string
		amount  uint64
		advance time.Duration
		want    error
	}{
		{"below price", 99, 0, domain.ErrInsufficientValue},
		{"at deadline", 100, 3600 * time.Second, domain.ErrDeadlinePassed},
		{"after deadline", 100, 2 * time.Hour, domain.ErrDeadlinePassed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			l := f.createListing(t, 100, 3600)
			f.ledger.Mint(buyer, 1000)
			f.clock.Advance(tt.advance)

			err := l.Purchase(context.Background(), buyer, tt.amount)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Purchase error = %v, want %v", err, tt.want)
			}
			if snap := l.Snapshot(); snap.State != domain.ListingOpen {
				t.Errorf("state = %s, want open", snap.State)
			}
			if got := f.balance(t, buyer); got != 1000 {
				t.Errorf("buyer balance = %d, want 1000 (untouched)", got)
			}
		})
	}
}

func TestPurchase_InsufficientFundsRollsBack(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t, 100, 3600)
	f.ledger.Mint(buyer, 40) // can't cover the attached value

	err := l.Purchase(context.Background(), buyer, 100)
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("Purchase error = %v, want ErrTransferFailed", err)
	}
	snap := l.Snapshot()
	if snap.State != domain.ListingOpen {
		t.Errorf("state = %s, want open after rollback", snap.State)
	}
	if snap.Buyer != (common.Address{}) {
		t.Errorf("buyer = %s, want unset after rollback", snap.Buyer.Hex())
	}
}

func TestPurchase_SellerRefusalRollsBackAndStaysPurchasable(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t, 100, 3600)
	f.ledger.Mint(buyer, 150)
	f.ledger.Mint(stranger, 100)

	// Seller refuses the payment: the whole call must abort, including the
	// staged state flip, leaving no partial payout anywhere.
	f.ledger.SetReceiveHook(operator, func(common.Address, uint64) error {
		return errors.New("account frozen")
	})

	err := l.Purchase(context.Background(), buyer, 150)
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("Purchase error = %v, want ErrTransferFailed", err)
	}
	snap := l.Snapshot()
	if snap.State != domain.ListingOpen {
		t.Fatalf("state = %s, want open after rollback", snap.State)
	}
	if got := f.balance(t, buyer); got != 150 {
		t.Errorf("buyer balance = %d, want 150 after rollback", got)
	}
	if got := f.balance(t, operator); got != 0 {
		t.Errorf("seller balance = %d, want 0 after rollback", got)
	}
	if got := f.balance(t, snap.Escrow); got != 0 {
		t.Errorf("escrow balance = %d, want 0 after rollback", got)
	}

	// The listing must be re-purchasable once the seller behaves.
	f.ledger.SetReceiveHook(operator, nil)
	if err := l.Purchase(context.Background(), stranger, 100); err != nil {
		t.Fatalf("retry Purchase error: %v", err)
	}
	if snap := l.Snapshot(); snap.Buyer != stranger {
		t.Errorf("buyer = %s, want %s", snap.Buyer.Hex(), stranger.Hex())
	}
}

func TestPurchase_RefundRefusalRollsBackSellerPayment(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t, 100, 3600)
	f.ledger.Mint(buyer, 150)

	refunds := 0
	f.ledger.SetReceiveHook(buyer, func(common.Address, uint64) error {
		refunds++
		return errors.New("refund bounced")
	})

	err := l.Purchase(context.Background(), buyer, 150)
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("Purchase error = %v, want ErrTransferFailed", err)
	}
	if refunds != 1 {
		t.Errorf("refund attempts = %d, want 1", refunds)
	}
	// Seller paid but refund failed must never be an observable outcome.
	if got := f.balance(t, operator); got != 0 {
		t.Errorf("seller balance = %d, want 0 after rollback", got)
	}
	if got := f.balance(t, buyer); got != 150 {
		t.Errorf("buyer balance = %d, want 150 after rollback", got)
	}
	if snap := l.Snapshot(); snap.State != domain.ListingOpen {
		t.Errorf("state = %s, want open after rollback", snap.State)
	}
}

func TestPurchase_ReentrantCallRejected(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t, 100, 3600)
	f.ledger.Mint(buyer, 150)
	f.ledger.Mint(operator, 1000)

	// A hostile seller reenters the listing while the price transfer holds
	// control. Every reentrant mutation must be rejected without deadlocking
	// or interleaving.
	var reentrant []error
	f.ledger.SetReceiveHook(operator, func(common.Address, uint64) error {
		reentrant = append(reentrant,
			l.Purchase(context.Background(), operator, 100),
			l.Cancel(context.Background(), operator),
			l.ExtendDeadline(context.Background(), operator, time.Hour),
		)
		return nil
	})

	if err := l.Purchase(context.Background(), buyer, 150); err != nil {
		t.Fatalf("Purchase error: %v", err)
	}

	if len(reentrant) != 3 {
		t.Fatalf("reentrant attempts = %d, want 3", len(reentrant))
	}
	for i, err := range reentrant {
		if !errors.Is(err, domain.ErrBusy) {
			t.Errorf("reentrant call %d error = %v, want ErrBusy", i, err)
		}
	}

	// The outer purchase settled normally.
	if got := f.balance(t, operator); got != 1100 {
		t.Errorf("seller balance = %d, want 1100", got)
	}
	if got := f.balance(t, buyer); got != 50 {
		t.Errorf("buyer balance = %d, want 50", got)
	}
	if snap := l.Snapshot(); snap.State != domain.ListingSold || snap.Buyer != buyer {
		t.Errorf("snapshot = {state %s buyer %s}, want sold/%s", snap.State, snap.Buyer.Hex(), buyer.Hex())
	}
}

func TestForceClose(t *testing.T) {
	// Scenario: listing untouched past its deadline; arbiter force-closes.
	f := newFixture(t)
	l := f.createListing(t, 100, 3600)
	f.ledger.Mint(buyer, 100)

	// Too early.
	f.clock.Advance(30 * time.Minute)
	if err := l.ForceClose(context.Background(), arbiter); !errors.Is(err, domain.ErrDeadlineNotReached) {
		t.Fatalf("early ForceClose error = %v, want ErrDeadlineNotReached", err)
	}

	// Wrong role.
	f.clock.Advance(time.Hour)
	if err := l.ForceClose(context.Background(), stranger); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("stranger ForceClose error = %v, want ErrUnauthorized", err)
	}

	if err := l.ForceClose(context.Background(), arbiter); err != nil {
		t.Fatalf("ForceClose error: %v", err)
	}
	snap := l.Snapshot()
	if snap.State != domain.ListingForcedClosed {
		t.Errorf("state = %s, want forced_closed", snap.State)
	}
	if got := f.balance(t, buyer); got != 100 {
		t.Errorf("buyer balance = %d, want 100 (no funds move)", got)
	}

	ev := f.sink.last(t)
	if ev.Type != domain.EventAuctionEnded {
		t.Errorf("event type = %s, want auction_ended", ev.Type)
	}
	if ev.Buyer != nil {
		t.Errorf("event buyer = %v, want unset", ev.Buyer)
	}

	// Terminal: no purchase can follow.
	if err := l.Purchase(context.Background(), buyer, 100); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("Purchase after close error = %v, want ErrInvalidState", err)
	}
}

func TestForceClose_NotAfterSale(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t, 100, 3600)
	f.ledger.Mint(buyer, 100)

	if err := l.Purchase(context.Background(), buyer, 100); err != nil {
		t.Fatalf("Purchase error: %v", err)
	}
	f.clock.Advance(2 * time.Hour)
	if err := l.ForceClose(context.Background(), arbiter); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("ForceClose error = %v, want ErrInvalidState", err)
	}
}

func TestCancel(t *testing.T) {
	// Scenario: seller cancels an Open listing; later purchases fail.
	f := newFixture(t)
	l := f.createListing(t, 100, 3600)
	f.ledger.Mint(buyer, 100)

	if err := l.Cancel(context.Background(), stranger); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("stranger Cancel error = %v, want ErrUnauthorized", err)
	}
	if err := l.Cancel(context.Background(), operator); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if snap := l.Snapshot(); snap.State != domain.ListingCancelled {
		t.Errorf("state = %s, want cancelled", snap.State)
	}
	if ev := f.sink.last(t); ev.Type != domain.EventAuctionCancelled {
		t.Errorf("event type = %s, want auction_cancelled", ev.Type)
	}

	if err := l.Purchase(context.Background(), buyer, 100); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("Purchase after cancel error = %v, want ErrInvalidState", err)
	}
	if err := l.Cancel(context.Background(), operator); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second Cancel error = %v, want ErrInvalidState", err)
	}
}

func TestExtendDeadline(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t, 100, 3600)
	before := l.Snapshot().Deadline

	// Seller may extend.
	if err := l.ExtendDeadline(context.Background(), operator, 30*time.Minute); err != nil {
		t.Fatalf("seller ExtendDeadline error: %v", err)
	}
	mid := l.Snapshot().Deadline
	if !mid.Equal(before.Add(30 * time.Minute)) {
		t.Errorf("deadline = %v, want %v", mid, before.Add(30*time.Minute))
	}

	// Arbiter may extend; extensions accumulate and never go backwards.
	if err := l.ExtendDeadline(context.Background(), arbiter, time.Hour); err != nil {
		t.Fatalf("arbiter ExtendDeadline error: %v", err)
	}
	after := l.Snapshot().Deadline
	if !after.After(mid) {
		t.Errorf("deadline %v not after %v", after, mid)
	}

	ev := f.sink.last(t)
	if ev.Type != domain.EventDeadlineExtended {
		t.Errorf("event type = %s, want deadline_extended", ev.Type)
	}
	if ev.Deadline == nil || !ev.Deadline.Equal(after) {
		t.Errorf("event deadline = %v, want %v", ev.Deadline, after)
	}

	// Guard failures.
	if err := l.ExtendDeadline(context.Background(), stranger, time.Hour); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("stranger ExtendDeadline error = %v, want ErrUnauthorized", err)
	}
	if err := l.ExtendDeadline(context.Background(), operator, 0); !errors.Is(err, domain.ErrInvalidParam) {
		t.Fatalf("zero-delta ExtendDeadline error = %v, want ErrInvalidParam", err)
	}
	if got := l.Snapshot().Deadline; !got.Equal(after) {
		t.Errorf("deadline moved to %v on rejected calls, want %v", got, after)
	}
}

func TestExtendDeadline_AllowsLatePurchase(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t, 100, 3600)
	f.ledger.Mint(buyer, 100)

	f.clock.Advance(2 * time.Hour)
	if err := l.Purchase(context.Background(), buyer, 100); !errors.Is(err, domain.ErrDeadlinePassed) {
		t.Fatalf("Purchase error = %v, want ErrDeadlinePassed", err)
	}
	if err := l.ExtendDeadline(context.Background(), arbiter, 3*time.Hour); err != nil {
		t.Fatalf("ExtendDeadline error: %v", err)
	}
	if err := l.Purchase(context.Background(), buyer, 100); err != nil {
		t.Fatalf("Purchase after extension error: %v", err)
	}
}

func TestUpdateMetadata(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t, 100, 3600)

	if err := l.UpdateDescription(context.Background(), operator, "minor scratches"); err != nil {
		t.Fatalf("UpdateDescription error: %v", err)
	}
	if got := l.Snapshot().Description; got != "minor scratches" {
		t.Errorf("description = %q, want %q", got, "minor scratches")
	}
	if ev := f.sink.last(t); ev.Type != domain.EventDescriptionUpdated || ev.Text != "minor scratches" {
		t.Errorf("event = %+v, want description_updated with new text", ev)
	}

	if err := l.UpdateImage(context.Background(), operator, "https://img.example/v2.jpg"); err != nil {
		t.Fatalf("UpdateImage error: %v", err)
	}
	if got := l.Snapshot().ImageURL; got != "https://img.example/v2.jpg" {
		t.Errorf("image url = %q, want updated url", got)
	}

	// Only the seller edits metadata.
	if err := l.UpdateDescription(context.Background(), arbiter, "x"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("arbiter UpdateDescription error = %v, want ErrUnauthorized", err)
	}

	// No edits once the listing leaves Open.
	if err := l.Cancel(context.Background(), operator); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if err := l.UpdateImage(context.Background(), operator, "x"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("UpdateImage after cancel error = %v, want ErrInvalidState", err)
	}
}

func TestNewListing_ParamGuards(t *testing.T) {
	f := newFixture(t)
	deps := Deps{Ledger: f.ledger, Clock: f.clock, Sink: f.sink}

	_, err := NewListing(deps, 0, deriveEscrowAddress(), operator, domain.CreateParams{
		Price: 1, Arbiter: common.Address{}, DurationSeconds: 60,
	})
	if !errors.Is(err, domain.ErrInvalidParam) {
		t.Fatalf("zero arbiter error = %v, want ErrInvalidParam", err)
	}

	_, err = NewListing(deps, 0, deriveEscrowAddress(), common.Address{}, domain.CreateParams{
		Price: 1, Arbiter: arbiter, DurationSeconds: 60,
	})
	if !errors.Is(err, domain.ErrInvalidParam) {
		t.Fatalf("zero seller error = %v, want ErrInvalidParam", err)
	}
}
