package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func balance(t *testing.T, l *Ledger, addr common.Address) uint64 {
	t.Helper()
	b, err := l.Balance(context.Background(), addr)
	if err != nil {
		t.Fatalf("Balance(%s) error: %v", addr.Hex(), err)
	}
	return b
}

func TestTransfer_MovesFunds(t *testing.T) {
	l := New()
	l.Mint(alice, 100)

	err := l.InTx(context.Background(), func(tx domain.LedgerTx) error {
		return tx.Transfer(context.Background(), alice, bob, 40)
	})
	if err != nil {
		t.Fatalf("InTx error: %v", err)
	}

	if got := balance(t, l, alice); got != 60 {
		t.Errorf("alice balance = %d, want 60", got)
	}
	if got := balance(t, l, bob); got != 40 {
		t.Errorf("bob balance = %d, want 40", got)
	}
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	l := New()
	l.Mint(alice, 10)

	err := l.InTx(context.Background(), func(tx domain.LedgerTx) error {
		return tx.Transfer(context.Background(), alice, bob, 11)
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("InTx error = %v, want ErrInsufficientFunds", err)
	}
	if got := balance(t, l, alice); got != 10 {
		t.Errorf("alice balance = %d, want 10 (unchanged)", got)
	}
}

func TestInTx_RollsBackAllTransfersOnError(t *testing.T) {
	l := New()
	l.Mint(alice, 100)

	boom := errors.New("boom")
	err := l.InTx(context.Background(), func(tx domain.LedgerTx) error {
		if err := tx.Transfer(context.Background(), alice, bob, 30); err != nil {
			return err
		}
		if err := tx.Transfer(context.Background(), alice, carol, 30); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx error = %v, want boom", err)
	}

	if got := balance(t, l, alice); got != 100 {
		t.Errorf("alice balance = %d, want 100 after rollback", got)
	}
	if got := balance(t, l, bob); got != 0 {
		t.Errorf("bob balance = %d, want 0 after rollback", got)
	}
	if got := balance(t, l, carol); got != 0 {
		t.Errorf("carol balance = %d, want 0 after rollback", got)
	}
}

func TestReceiveHook_RefusalAbortsTransfer(t *testing.T) {
	l := New()
	l.Mint(alice, 50)
	l.SetReceiveHook(bob, func(from common.Address, amount uint64) error {
		return errors.New("no thanks")
	})

	err := l.InTx(context.Background(), func(tx domain.LedgerTx) error {
		return tx.Transfer(context.Background(), alice, bob, 50)
	})
	if !errors.Is(err, domain.ErrTransferRefused) {
		t.Fatalf("InTx error = %v, want ErrTransferRefused", err)
	}
	if got := balance(t, l, alice); got != 50 {
		t.Errorf("alice balance = %d, want 50 after rollback", got)
	}
	if got := balance(t, l, bob); got != 0 {
		t.Errorf("bob balance = %d, want 0 after rollback", got)
	}
}

func TestReceiveHook_ObservesTransfer(t *testing.T) {
	l := New()
	l.Mint(alice, 25)

	var gotFrom common.Address
	var gotAmount uint64
	l.SetReceiveHook(bob, func(from common.Address, amount uint64) error {
		gotFrom = from
		gotAmount = amount
		return nil
	})

	err := l.InTx(context.Background(), func(tx domain.LedgerTx) error {
		return tx.Transfer(context.Background(), alice, bob, 25)
	})
	if err != nil {
		t.Fatalf("InTx error: %v", err)
	}
	if gotFrom != alice || gotAmount != 25 {
		t.Errorf("hook saw (%s, %d), want (%s, 25)", gotFrom.Hex(), gotAmount, alice.Hex())
	}
}
