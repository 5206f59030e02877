// Package handler implements the HTTP API for the escrow listing service.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// callerHeader carries the caller identity for lifecycle operations. The API
// trusts it after gateway authentication; signature verification is out of
// scope here.
const callerHeader = "X-Caller-Address"

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a domain error to an HTTP status and writes it.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, domainStatus(err), err.Error())
}

// domainStatus maps the domain error taxonomy onto HTTP status codes.
func domainStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidParam), errors.Is(err, domain.ErrPageOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientValue), errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrDeadlinePassed),
		errors.Is(err, domain.ErrDeadlineNotReached):
		return http.StatusConflict
	case errors.Is(err, domain.ErrBusy), errors.Is(err, domain.ErrLockHeld):
		return http.StatusLocked
	case errors.Is(err, domain.ErrTransferFailed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathID extracts a named numeric path parameter using Go 1.22+ built-in
// routing (http.Request.PathValue).
func pathID(r *http.Request, name string) (uint64, error) {
	v := r.PathValue(name)
	if v == "" {
		return 0, errors.New("missing " + name)
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}

// caller extracts and validates the caller identity header.
func caller(r *http.Request) (common.Address, error) {
	v := r.Header.Get(callerHeader)
	if v == "" {
		return common.Address{}, errors.New("missing " + callerHeader + " header")
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, errors.New("invalid " + callerHeader + " header")
	}
	addr := common.HexToAddress(v)
	if addr == (common.Address{}) {
		return common.Address{}, errors.New("zero caller address")
	}
	return addr, nil
}

// decodeBody decodes a JSON request body into dst, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// listingView is the JSON shape of a listing snapshot in API responses.
type listingView struct {
	ID          uint64 `json:"id"`
	Escrow      string `json:"escrow"`
	Seller      string `json:"seller"`
	Arbiter     string `json:"arbiter"`
	Buyer       string `json:"buyer,omitempty"`
	Price       uint64 `json:"price"`
	ProductName string `json:"product_name"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	State       string `json:"state"`
	Deadline    string `json:"deadline"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toListingView(l domain.Listing) listingView {
	v := listingView{
		ID:          l.ID,
		Escrow:      l.Escrow.Hex(),
		Seller:      l.Seller.Hex(),
		Arbiter:     l.Arbiter.Hex(),
		Price:       l.Price,
		ProductName: l.ProductName,
		Description: l.Description,
		ImageURL:    l.ImageURL,
		State:       string(l.State),
		Deadline:    l.Deadline.UTC().Format(timeLayout),
		CreatedAt:   l.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:   l.UpdatedAt.UTC().Format(timeLayout),
	}
	if l.Buyer != (common.Address{}) {
		v.Buyer = l.Buyer.Hex()
	}
	return v
}

const timeLayout = "2006-01-02T15:04:05Z07:00"
