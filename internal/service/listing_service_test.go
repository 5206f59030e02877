package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/escrow"
	"github.com/alanyoungcy/escrowd/internal/ledger"
)

var (
	operator = common.HexToAddress("0x0000000000000000000000000000000000000001")
	arbiter  = common.HexToAddress("0x0000000000000000000000000000000000000002")
	buyer    = common.HexToAddress("0x0000000000000000000000000000000000000003")
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

type fakeLocks struct {
	mu       sync.Mutex
	acquired []string
	released int
	refuse   bool
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse {
		return nil, domain.ErrLockHeld
	}
	f.acquired = append(f.acquired, key)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.released++
	}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	upserts  []domain.Listing
	failNext bool
}

func (f *fakeStore) Upsert(_ context.Context, l domain.Listing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("db down")
	}
	f.upserts = append(f.upserts, l)
	return nil
}

func (f *fakeStore) GetByID(context.Context, uint64) (domain.Listing, error) {
	return domain.Listing{}, domain.ErrNotFound
}
func (f *fakeStore) List(context.Context, domain.ListOpts) ([]domain.Listing, error) {
	return nil, nil
}
func (f *fakeStore) Count(context.Context) (int64, error) { return 0, nil }

type fakeCache struct {
	mu      sync.Mutex
	entries map[uint64]domain.Listing
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[uint64]domain.Listing)}
}

func (f *fakeCache) Set(_ context.Context, l domain.Listing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[l.ID] = l
	return nil
}

func (f *fakeCache) Get(_ context.Context, id uint64) (domain.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.entries[id]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

func (f *fakeCache) Invalidate(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
	return nil
}

type svcFixture struct {
	ledger   *ledger.Ledger
	clock    *fixedClock
	registry *escrow.Registry
	locks    *fakeLocks
	store    *fakeStore
	cache    *fakeCache
	svc      *ListingService
}

func newSvcFixture(t *testing.T) *svcFixture {
	t.Helper()
	led := ledger.New()
	led.Mint(buyer, 1000)
	clock := &fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	reg, err := escrow.NewRegistry(operator, escrow.Deps{
		Ledger: led,
		Clock:  clock,
		Sink:   domain.NopSink{},
	})
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}

	locks := &fakeLocks{}
	store := &fakeStore{}
	cache := newFakeCache()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewListingService(reg, ListingServiceOpts{
		Locks:   locks,
		LockTTL: time.Second,
		Store:   store,
		Cache:   cache,
	}, logger)

	return &svcFixture{ledger: led, clock: clock, registry: reg, locks: locks, store: store, cache: cache, svc: svc}
}

func (f *svcFixture) create(t *testing.T, price uint64) domain.Listing {
	t.Helper()
	l, err := f.registry.Create(context.Background(), operator, domain.CreateParams{
		Price: price, ProductName: "widget", DurationSeconds: 3600, Arbiter: arbiter,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	return l.Snapshot()
}

func TestServicePurchase(t *testing.T) {
	f := newSvcFixture(t)
	created := f.create(t, 100)

	snap, err := f.svc.Purchase(context.Background(), created.ID, buyer, 150)
	if err != nil {
		t.Fatalf("Purchase error: %v", err)
	}
	if snap.State != domain.ListingSold || snap.Buyer != buyer {
		t.Errorf("snapshot = %+v, want sold to buyer", snap)
	}

	if len(f.locks.acquired) != 1 || f.locks.acquired[0] != "listing:purchase:0" {
		t.Errorf("lock acquisitions = %v", f.locks.acquired)
	}
	if f.locks.released != 1 {
		t.Errorf("lock released %d times, want 1", f.locks.released)
	}

	if len(f.store.upserts) == 0 {
		t.Fatal("no store projection after purchase")
	}
	last := f.store.upserts[len(f.store.upserts)-1]
	if last.State != domain.ListingSold {
		t.Errorf("projected state = %s, want sold", last.State)
	}
	if cached, err := f.cache.Get(context.Background(), created.ID); err != nil || cached.State != domain.ListingSold {
		t.Errorf("cached = %+v, err = %v", cached, err)
	}
}

func TestServicePurchase_LockHeld(t *testing.T) {
	f := newSvcFixture(t)
	created := f.create(t, 100)
	f.locks.refuse = true

	_, err := f.svc.Purchase(context.Background(), created.ID, buyer, 100)
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("Purchase error = %v, want ErrLockHeld", err)
	}

	got, err := f.svc.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.State != domain.ListingOpen {
		t.Errorf("state = %s, want open after refused lock", got.State)
	}
}

func TestServicePurchase_UnknownListing(t *testing.T) {
	f := newSvcFixture(t)
	if _, err := f.svc.Purchase(context.Background(), 99, buyer, 100); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Purchase error = %v, want ErrNotFound", err)
	}
}

func TestServicePurchase_GuardErrorSurfaces(t *testing.T) {
	f := newSvcFixture(t)
	created := f.create(t, 100)

	if _, err := f.svc.Purchase(context.Background(), created.ID, buyer, 50); !errors.Is(err, domain.ErrInsufficientValue) {
		t.Fatalf("Purchase error = %v, want ErrInsufficientValue", err)
	}
	if len(f.locks.acquired) != 1 {
		t.Errorf("lock not held around the rejected purchase: %v", f.locks.acquired)
	}
}

func TestServiceGet_CacheFirst(t *testing.T) {
	f := newSvcFixture(t)
	created := f.create(t, 100)

	// Create projects to cache; poison the cached copy to prove Get reads it.
	poisoned := created
	poisoned.ProductName = "cached-copy"
	if err := f.cache.Set(context.Background(), poisoned); err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.ProductName != "cached-copy" {
		t.Errorf("Get bypassed the cache: %+v", got)
	}

	// On a miss, Get falls back to the arena and backfills.
	if err := f.cache.Invalidate(context.Background(), created.ID); err != nil {
		t.Fatal(err)
	}
	got, err = f.svc.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.ProductName != "widget" {
		t.Errorf("fallback snapshot = %+v", got)
	}
	if cached, err := f.cache.Get(context.Background(), created.ID); err != nil || cached.ProductName != "widget" {
		t.Errorf("cache not backfilled: %+v, err = %v", cached, err)
	}
}

func TestServiceMutations_ProjectionFailureIsNonFatal(t *testing.T) {
	f := newSvcFixture(t)
	created := f.create(t, 100)
	f.store.failNext = true

	snap, err := f.svc.Cancel(context.Background(), created.ID, operator)
	if err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if snap.State != domain.ListingCancelled {
		t.Errorf("state = %s, want cancelled despite store failure", snap.State)
	}
}

func TestServiceExtendAndUpdates(t *testing.T) {
	f := newSvcFixture(t)
	created := f.create(t, 100)

	snap, err := f.svc.ExtendDeadline(context.Background(), created.ID, operator, time.Hour)
	if err != nil {
		t.Fatalf("ExtendDeadline error: %v", err)
	}
	if !snap.Deadline.Equal(created.Deadline.Add(time.Hour)) {
		t.Errorf("deadline = %v, want %v", snap.Deadline, created.Deadline.Add(time.Hour))
	}

	if _, err := f.svc.UpdateDescription(context.Background(), created.ID, buyer, "x"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("UpdateDescription by stranger error = %v, want ErrUnauthorized", err)
	}

	snap, err = f.svc.UpdateImage(context.Background(), created.ID, operator, "https://img.example/1.png")
	if err != nil {
		t.Fatalf("UpdateImage error: %v", err)
	}
	if snap.ImageURL != "https://img.example/1.png" {
		t.Errorf("image = %q", snap.ImageURL)
	}
}

func TestServiceHistory_NoJournalConfigured(t *testing.T) {
	f := newSvcFixture(t)
	created := f.create(t, 100)

	if _, err := f.svc.History(context.Background(), created.ID, domain.ListOpts{}); err == nil {
		t.Fatal("History without event store succeeded")
	}
}
