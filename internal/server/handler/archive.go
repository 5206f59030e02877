package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// ArchiveHandler serves archive trigger endpoints.
type ArchiveHandler struct {
	archiver domain.Archiver // nil when blob storage is disabled
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. archiver may be nil, in which
// case the endpoints report 501.
func NewArchiveHandler(archiver domain.Archiver, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		archiver: archiver,
		logger:   logger,
	}
}

// ArchiveListing writes one listing's history to blob storage.
// POST /api/listings/{id}/archive
func (h *ArchiveHandler) ArchiveListing(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusNotImplemented, "archiving is disabled")
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	path, err := h.archiver.ArchiveListing(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive listing failed",
			slog.Uint64("listing_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

// ExportAll writes the full projected listing set to blob storage.
// POST /api/archive/export
func (h *ArchiveHandler) ExportAll(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusNotImplemented, "archiving is disabled")
		return
	}

	path, err := h.archiver.ExportAll(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: export failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}
