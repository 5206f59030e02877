package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// RegistryService defines the methods the registry handler requires from the
// service layer.
type RegistryService interface {
	Create(ctx context.Context, caller common.Address, p domain.CreateParams) (domain.Listing, error)
	Page(start, limit uint64) ([]domain.Listing, error)
	Count() uint64
	Owner() common.Address
	TransferOwnership(ctx context.Context, caller, newOwner common.Address) error
}

// RegistryHandler serves registry-level HTTP endpoints.
type RegistryHandler struct {
	registry RegistryService
	logger   *slog.Logger
}

// NewRegistryHandler creates a RegistryHandler with the given service and
// logger.
func NewRegistryHandler(registry RegistryService, logger *slog.Logger) *RegistryHandler {
	return &RegistryHandler{
		registry: registry,
		logger:   logger,
	}
}

// createRequest is the body for CreateListing.
type createRequest struct {
	Price           uint64 `json:"price"`
	ProductName     string `json:"product_name"`
	DurationSeconds uint64 `json:"duration_seconds"`
	Arbiter         string `json:"arbiter"`
	ImageURL        string `json:"image_url"`
	Description     string `json:"description"`
}

// CreateListing makes a new listing. Operator only; the caller becomes the
// seller.
// POST /api/listings
func (h *RegistryHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Arbiter != "" && !common.IsHexAddress(req.Arbiter) {
		writeError(w, http.StatusBadRequest, "invalid arbiter address")
		return
	}

	l, err := h.registry.Create(r.Context(), from, domain.CreateParams{
		Price:           req.Price,
		ProductName:     req.ProductName,
		DurationSeconds: req.DurationSeconds,
		Arbiter:         common.HexToAddress(req.Arbiter),
		ImageURL:        req.ImageURL,
		Description:     req.Description,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: create listing rejected",
			slog.String("caller", from.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toListingView(l))
}

// listListingsResponse wraps the paged listing output with metadata.
type listListingsResponse struct {
	Listings []listingView `json:"listings"`
	Total    uint64        `json:"total"`
	Start    uint64        `json:"start"`
	Limit    uint64        `json:"limit"`
}

// ListListings returns listings in creation order.
// GET /api/listings?start=0&limit=50
//
// Mirroring the registry's paging contract, a start index at or beyond the
// current count is a range error rather than an empty page.
func (h *RegistryHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var start uint64
	if v := q.Get("start"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start")
			return
		}
		start = n
	}

	limit := uint64(50)
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	if limit > 500 {
		limit = 500
	}

	listings, err := h.registry.Page(start, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]listingView, len(listings))
	for i, l := range listings {
		views[i] = toListingView(l)
	}
	writeJSON(w, http.StatusOK, listListingsResponse{
		Listings: views,
		Total:    h.registry.Count(),
		Start:    start,
		Limit:    limit,
	})
}

// GetOwner reports the current registry operator.
// GET /api/registry/owner
func (h *RegistryHandler) GetOwner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"owner": h.registry.Owner().Hex(),
	})
}

// transferOwnershipRequest is the body for TransferOwnership.
type transferOwnershipRequest struct {
	NewOwner string `json:"new_owner"`
}

// TransferOwnership hands the operator role to a new address. Owner only.
// POST /api/registry/transfer-ownership
func (h *RegistryHandler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req transferOwnershipRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !common.IsHexAddress(req.NewOwner) {
		writeError(w, http.StatusBadRequest, "invalid new_owner address")
		return
	}

	if err := h.registry.TransferOwnership(r.Context(), from, common.HexToAddress(req.NewOwner)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner": common.HexToAddress(req.NewOwner).Hex(),
	})
}
