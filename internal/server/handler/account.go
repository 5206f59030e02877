package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// Minter credits freshly minted funds to an account. Only the in-memory
// ledger supports it; it backs the development faucet endpoint.
type Minter interface {
	Mint(addr common.Address, amount uint64)
}

// AccountHandler serves ledger account endpoints.
type AccountHandler struct {
	ledger domain.Ledger
	minter Minter // nil when the substrate does not support minting
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler. minter may be nil, in which
// case the deposit faucet reports 501.
func NewAccountHandler(ledger domain.Ledger, minter Minter, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		ledger: ledger,
		minter: minter,
		logger: logger,
	}
}

func pathAddress(r *http.Request) (common.Address, error) {
	v := r.PathValue("address")
	if !common.IsHexAddress(v) {
		return common.Address{}, errors.New("invalid address")
	}
	return common.HexToAddress(v), nil
}

// GetBalance reports the ledger balance of an account.
// GET /api/accounts/{address}/balance
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	balance, err := h.ledger.Balance(r.Context(), addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr.Hex(),
		"balance": balance,
	})
}

// depositRequest is the body for Deposit.
type depositRequest struct {
	Amount uint64 `json:"amount"`
}

// Deposit credits funds to an account. Development faucet; only available on
// substrates that support minting.
// POST /api/accounts/{address}/deposit
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	if h.minter == nil {
		writeError(w, http.StatusNotImplemented, "deposits not supported on this substrate")
		return
	}

	addr, err := pathAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	h.minter.Mint(addr, req.Amount)
	h.logger.InfoContext(r.Context(), "handler: faucet deposit",
		slog.String("address", addr.Hex()),
		slog.Uint64("amount", req.Amount),
	)

	balance, err := h.ledger.Balance(r.Context(), addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr.Hex(),
		"balance": balance,
	})
}
