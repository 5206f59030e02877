// Package ledger provides an in-memory implementation of the execution
// substrate's value-transfer surface. It models atomic attachment of funds,
// all-or-nothing rollback of a transfer scope, and recipient receive hooks —
// the control-transfer window that makes reentrancy a live hazard.
package ledger

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// ReceiveHook runs synchronously when an address receives funds, before the
// transfer returns to the sender. Returning a non-nil error refuses the
// transfer and aborts the enclosing transaction.
type ReceiveHook func(from common.Address, amount uint64) error

// Ledger is an in-memory account ledger. Transfers happen only inside InTx
// scopes; a scope either commits fully or leaves every balance untouched.
type Ledger struct {
	mu       sync.Mutex // guards balances and hooks
	txMu     sync.Mutex // serializes transaction scopes
	balances map[common.Address]uint64
	hooks    map[common.Address]ReceiveHook
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]uint64),
		hooks:    make(map[common.Address]ReceiveHook),
	}
}

// Mint credits newly created funds to an account. Used by deposit on-ramps
// and tests; not part of the substrate boundary.
func (l *Ledger) Mint(addr common.Address, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[addr] += amount
}

// SetReceiveHook installs a hook that fires whenever addr receives funds.
// Passing nil removes the hook.
func (l *Ledger) SetReceiveHook(addr common.Address, hook ReceiveHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if hook == nil {
		delete(l.hooks, addr)
		return
	}
	l.hooks[addr] = hook
}

// Balance returns the current balance of addr.
func (l *Ledger) Balance(_ context.Context, addr common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr], nil
}

// InTx runs fn inside an all-or-nothing transfer scope. Scopes are
// serialized; a scope observing fn fail restores every balance to its value
// at scope entry and returns fn's error unchanged.
func (l *Ledger) InTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	l.txMu.Lock()
	defer l.txMu.Unlock()

	l.mu.Lock()
	snapshot := maps.Clone(l.balances)
	l.mu.Unlock()

	if err := fn(&tx{ledger: l}); err != nil {
		l.mu.Lock()
		l.balances = snapshot
		l.mu.Unlock()
		return err
	}
	return nil
}

// tx is the transfer scope handed to InTx functions.
type tx struct {
	ledger *Ledger
}

// Transfer moves amount from one account to another. The recipient's receive
// hook, if any, runs after the balances move and before Transfer returns;
// a hook error refuses the transfer. Rollback is the enclosing scope's job.
func (t *tx) Transfer(_ context.Context, from, to common.Address, amount uint64) error {
	l := t.ledger

	l.mu.Lock()
	if l.balances[from] < amount {
		l.mu.Unlock()
		return fmt.Errorf("ledger: transfer %d from %s: %w", amount, from.Hex(), domain.ErrInsufficientFunds)
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	hook := l.hooks[to]
	l.mu.Unlock()

	// Control transfer to the recipient happens outside the balance lock so
	// the hook can observe the ledger (and attempt reentry into callers).
	if hook != nil {
		if err := hook(from, amount); err != nil {
			return fmt.Errorf("ledger: transfer to %s: %w: %w", to.Hex(), domain.ErrTransferRefused, err)
		}
	}
	return nil
}

// Compile-time interface check.
var _ domain.Ledger = (*Ledger)(nil)
