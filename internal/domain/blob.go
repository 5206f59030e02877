package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	// Put uploads data as a single object.
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	// PutMultipart uploads data in parts; partSize is clamped to the
	// backend's minimum.
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver writes terminal listings' history to long-term storage.
type Archiver interface {
	// ArchiveListing writes one listing's snapshot and event journal,
	// returning the object path.
	ArchiveListing(ctx context.Context, listingID uint64) (string, error)
	// ExportAll writes the full snapshot set in one multipart object,
	// returning the object path.
	ExportAll(ctx context.Context) (string, error)
}
