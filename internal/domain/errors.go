package domain

import "errors"

var (
	// ErrUnauthorized rejects a caller lacking the required role. Checked
	// before any other guard in every mutating operation.
	ErrUnauthorized = errors.New("caller not authorized")

	// ErrInvalidState rejects an action against a listing that is not in the
	// required state (purchase after sale, update after cancellation, ...).
	ErrInvalidState = errors.New("listing not in required state")

	// ErrInvalidParam rejects invalid input such as a zero-delta extension or
	// an unset arbiter at creation.
	ErrInvalidParam = errors.New("invalid parameter")

	// ErrInsufficientValue rejects a purchase whose attached value is below
	// the listing price.
	ErrInsufficientValue = errors.New("attached value below price")

	// ErrDeadlinePassed rejects a purchase attempted at or after the deadline.
	ErrDeadlinePassed = errors.New("listing deadline passed")

	// ErrDeadlineNotReached rejects a force-close before the deadline.
	ErrDeadlineNotReached = errors.New("listing deadline not reached")

	// ErrTransferFailed marks a value-transfer failure that aborted the
	// enclosing call; the listing is left exactly as it was before.
	ErrTransferFailed = errors.New("value transfer failed")

	// ErrBusy rejects a call that arrived while another mutating call on the
	// same listing was in flight (including reentrant calls made during an
	// outbound transfer).
	ErrBusy = errors.New("listing busy")

	ErrNotFound       = errors.New("not found")
	ErrPageOutOfRange = errors.New("page start beyond listing count")

	// ErrLockHeld is returned by the distributed lock manager when a lock is
	// already held by another party.
	ErrLockHeld = errors.New("lock already held")

	// Ledger-level failures.
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTransferRefused   = errors.New("transfer refused by recipient")
)
