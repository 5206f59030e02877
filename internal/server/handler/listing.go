package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// ListingService defines the methods the listing handler requires from the
// service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type ListingService interface {
	Get(ctx context.Context, id uint64) (domain.Listing, error)
	Purchase(ctx context.Context, id uint64, caller common.Address, amount uint64) (domain.Listing, error)
	ForceClose(ctx context.Context, id uint64, caller common.Address) (domain.Listing, error)
	Cancel(ctx context.Context, id uint64, caller common.Address) (domain.Listing, error)
	ExtendDeadline(ctx context.Context, id uint64, caller common.Address, delta time.Duration) (domain.Listing, error)
	UpdateDescription(ctx context.Context, id uint64, caller common.Address, text string) (domain.Listing, error)
	UpdateImage(ctx context.Context, id uint64, caller common.Address, url string) (domain.Listing, error)
	History(ctx context.Context, id uint64, opts domain.ListOpts) ([]domain.Event, error)
}

// ListingHandler serves listing lifecycle HTTP endpoints.
type ListingHandler struct {
	listings ListingService
	logger   *slog.Logger
}

// NewListingHandler creates a ListingHandler with the given service and logger.
func NewListingHandler(listings ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		logger:   logger,
	}
}

// GetListing returns a single listing snapshot.
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := h.listings.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingView(l))
}

// purchaseRequest is the body for PurchaseListing.
type purchaseRequest struct {
	Amount uint64 `json:"amount"`
}

// PurchaseListing buys the listing with the attached amount.
// POST /api/listings/{id}/purchase
func (h *ListingHandler) PurchaseListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := caller(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req purchaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	l, err := h.listings.Purchase(r.Context(), id, from, req.Amount)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: purchase rejected",
			slog.Uint64("listing_id", id),
			slog.String("caller", from.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingView(l))
}

// CancelListing withdraws an open listing. Seller only.
// POST /api/listings/{id}/cancel
func (h *ListingHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, id uint64, from common.Address) (domain.Listing, error) {
		return h.listings.Cancel(ctx, id, from)
	})
}

// CloseListing force-closes an unsold listing past its deadline. Arbiter only.
// POST /api/listings/{id}/close
func (h *ListingHandler) CloseListing(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, id uint64, from common.Address) (domain.Listing, error) {
		return h.listings.ForceClose(ctx, id, from)
	})
}

// extendRequest is the body for ExtendDeadline.
type extendRequest struct {
	DeltaSeconds uint64 `json:"delta_seconds"`
}

// ExtendDeadline pushes the listing deadline forward.
// POST /api/listings/{id}/extend
func (h *ListingHandler) ExtendDeadline(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := caller(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req extendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	l, err := h.listings.ExtendDeadline(r.Context(), id, from, time.Duration(req.DeltaSeconds)*time.Second)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingView(l))
}

// descriptionRequest is the body for UpdateDescription.
type descriptionRequest struct {
	Description string `json:"description"`
}

// UpdateDescription replaces the listing description. Seller only.
// PUT /api/listings/{id}/description
func (h *ListingHandler) UpdateDescription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := caller(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req descriptionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	l, err := h.listings.UpdateDescription(r.Context(), id, from, req.Description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingView(l))
}

// imageRequest is the body for UpdateImage.
type imageRequest struct {
	ImageURL string `json:"image_url"`
}

// UpdateImage replaces the listing image reference. Seller only.
// PUT /api/listings/{id}/image
func (h *ListingHandler) UpdateImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := caller(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req imageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	l, err := h.listings.UpdateImage(r.Context(), id, from, req.ImageURL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingView(l))
}

// ListingHistory returns the persisted event journal for a listing.
// GET /api/listings/{id}/events
func (h *ListingHandler) ListingHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.listings.History(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// mutate factors the shared shape of body-less lifecycle endpoints.
func (h *ListingHandler) mutate(w http.ResponseWriter, r *http.Request, op func(context.Context, uint64, common.Address) (domain.Listing, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := caller(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := op(r.Context(), id, from)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingView(l))
}
