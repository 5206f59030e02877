package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// ArchiveImpl implements domain.Archiver by querying the projection stores,
// serializing listing history to JSON, and uploading the result to blob
// storage. Archived rows are NOT deleted from the primary store; that is a
// separate, explicit step to be executed after the archive has been verified.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	listings domain.ListingStore
	events   domain.EventStore
	now      func() time.Time
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, listings domain.ListingStore, events domain.EventStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:   writer,
		listings: listings,
		events:   events,
		now:      time.Now,
	}
}

// listingArchive is the JSON document written per archived listing: the final
// snapshot plus its full event journal.
type listingArchive struct {
	Listing  listingRecord  `json:"listing"`
	Events   []domain.Event `json:"events"`
	Archived time.Time      `json:"archived_at"`
}

// listingRecord is the JSON shape of an archived listing snapshot.
type listingRecord struct {
	ID          uint64    `json:"id"`
	Escrow      string    `json:"escrow"`
	Seller      string    `json:"seller"`
	Arbiter     string    `json:"arbiter"`
	Buyer       string    `json:"buyer,omitempty"`
	Price       uint64    `json:"price"`
	ProductName string    `json:"product_name"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	State       string    `json:"state"`
	Deadline    time.Time `json:"deadline"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toRecord(l domain.Listing) listingRecord {
	rec := listingRecord{
		ID:          l.ID,
		Escrow:      l.Escrow.Hex(),
		Seller:      l.Seller.Hex(),
		Arbiter:     l.Arbiter.Hex(),
		Price:       l.Price,
		ProductName: l.ProductName,
		Description: l.Description,
		ImageURL:    l.ImageURL,
		State:       string(l.State),
		Deadline:    l.Deadline,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
	if l.Buyer != (common.Address{}) {
		rec.Buyer = l.Buyer.Hex()
	}
	return rec
}

// ArchiveListing writes one listing's final snapshot and event journal to
// archive/listings/{id}.json and returns the object path.
func (a *ArchiveImpl) ArchiveListing(ctx context.Context, listingID uint64) (string, error) {
	l, err := a.listings.GetByID(ctx, listingID)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive listing %d query: %w", listingID, err)
	}

	events, err := a.events.ListByListing(ctx, listingID, domain.ListOpts{})
	if err != nil {
		return "", fmt.Errorf("s3blob: archive listing %d events: %w", listingID, err)
	}

	doc := listingArchive{
		Listing:  toRecord(l),
		Events:   events,
		Archived: a.now().UTC(),
	}
	buf, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive listing %d marshal: %w", listingID, err)
	}

	path := fmt.Sprintf("archive/listings/%d.json", listingID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive listing %d upload: %w", listingID, err)
	}
	return path, nil
}

// ExportAll writes the full projected listing set as newline-delimited JSON
// in a single multipart object at archive/exports/{YYYY-MM-DD}.jsonl and
// returns the object path.
func (a *ArchiveImpl) ExportAll(ctx context.Context) (string, error) {
	listings, err := a.listings.List(ctx, domain.ListOpts{})
	if err != nil {
		return "", fmt.Errorf("s3blob: export query: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, l := range listings {
		if err := enc.Encode(toRecord(l)); err != nil {
			return "", fmt.Errorf("s3blob: export encode record %d: %w", i, err)
		}
	}

	path := fmt.Sprintf("archive/exports/%s.jsonl", a.now().UTC().Format("2006-01-02"))
	if err := a.writer.PutMultipart(ctx, path, &buf, minPartSize); err != nil {
		return "", fmt.Errorf("s3blob: export upload: %w", err)
	}
	return path, nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
