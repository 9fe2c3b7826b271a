package token

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMintBurnSupply(t *testing.T) {
	tok := New("Test", "TST")
	if err := tok.Mint("alice", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := tok.TotalSupply(); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected supply 100, got %s", got)
	}
	if err := tok.Burn("alice", decimal.NewFromInt(40)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := tok.BalanceOf("alice"); !got.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected balance 60, got %s", got)
	}
	if err := tok.Burn("alice", decimal.NewFromInt(100)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestTransfer(t *testing.T) {
	tok := New("Test", "TST")
	if err := tok.Mint("alice", decimal.NewFromInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := tok.Transfer("alice", "bob", decimal.NewFromInt(3)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := tok.BalanceOf("bob"); !got.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected bob 3, got %s", got)
	}
	if err := tok.Transfer("alice", "bob", decimal.NewFromInt(100)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := tok.Transfer("alice", "bob", decimal.NewFromInt(-1)); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
	// supply unchanged by transfers
	if got := tok.TotalSupply(); !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected supply 10, got %s", got)
	}
}

func TestAllowance(t *testing.T) {
	tok := New("Test", "TST")
	if err := tok.Approve("alice", "bob", decimal.NewFromInt(5)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := tok.Allowance("alice", "bob"); !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected allowance 5, got %s", got)
	}
	if err := tok.SpendAllowance("alice", "bob", decimal.NewFromInt(3)); err != nil {
		t.Fatalf("spend: %v", err)
	}
	if got := tok.Allowance("alice", "bob"); !got.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected allowance 2, got %s", got)
	}
	if err := tok.SpendAllowance("alice", "bob", decimal.NewFromInt(3)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
}
