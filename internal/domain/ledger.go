package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerTx is the transfer scope handed to a ledger transaction function.
// A Transfer may hand control to the recipient before returning; a non-nil
// error aborts the enclosing transaction.
type LedgerTx interface {
	Transfer(ctx context.Context, from, to common.Address, amount uint64) error
}

// Ledger is the execution substrate's value-transfer surface. InTx runs fn
// inside an all-or-nothing scope: if fn returns an error, every transfer it
// made is rolled back and the error is returned unchanged.
type Ledger interface {
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
	Balance(ctx context.Context, addr common.Address) (uint64, error)
}

// Clock supplies the substrate's notion of current time.
type Clock interface {
	Now() time.Time
}
