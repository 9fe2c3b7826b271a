package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount        = errors.New("amount must not be negative")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Token is an in-process fungible ledger: total supply, per-account balances
// and spending allowances for one asset. The same type backs the reserve
// asset, principal and yield claims, pool liquidity tokens and vault shares.
type Token struct {
	mu         sync.Mutex
	name       string
	symbol     string
	supply     decimal.Decimal
	balances   map[string]decimal.Decimal
	allowances map[string]map[string]decimal.Decimal
}

// New creates an empty ledger.
func New(name, symbol string) *Token {
	return &Token{
		name:       name,
		symbol:     symbol,
		balances:   make(map[string]decimal.Decimal),
		allowances: make(map[string]map[string]decimal.Decimal),
	}
}

func (t *Token) Name() string   { return t.name }
func (t *Token) Symbol() string { return t.symbol }

// TotalSupply returns the current total supply.
func (t *Token) TotalSupply() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supply
}

// BalanceOf returns the balance of an account. Unknown accounts hold zero.
func (t *Token) BalanceOf(account string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[account]
}

// Mint credits an account and grows the supply.
func (t *Token) Mint(account string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("mint %s: %w", t.symbol, ErrNegativeAmount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[account] = t.balances[account].Add(amount)
	t.supply = t.supply.Add(amount)
	return nil
}

// Burn debits an account and shrinks the supply.
func (t *Token) Burn(account string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("burn %s: %w", t.symbol, ErrNegativeAmount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balances[account]
	if bal.LessThan(amount) {
		return fmt.Errorf("burn %s from %s: %w", t.symbol, account, ErrInsufficientBalance)
	}
	t.balances[account] = bal.Sub(amount)
	t.supply = t.supply.Sub(amount)
	return nil
}

// Transfer moves a balance between accounts.
func (t *Token) Transfer(from, to string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("transfer %s: %w", t.symbol, ErrNegativeAmount)
	}
	if from == to || amount.IsZero() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balances[from]
	if bal.LessThan(amount) {
		return fmt.Errorf("transfer %s from %s: %w", t.symbol, from, ErrInsufficientBalance)
	}
	t.balances[from] = bal.Sub(amount)
	t.balances[to] = t.balances[to].Add(amount)
	return nil
}

// Approve sets the allowance a spender may move on behalf of an owner.
func (t *Token) Approve(owner, spender string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("approve %s: %w", t.symbol, ErrNegativeAmount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.allowances[owner]
	if m == nil {
		m = make(map[string]decimal.Decimal)
		t.allowances[owner] = m
	}
	m[spender] = amount
	return nil
}

// Allowance returns how much a spender may still move for an owner.
func (t *Token) Allowance(owner, spender string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[owner][spender]
}

// SpendAllowance decrements the spender's allowance, failing if it is short.
func (t *Token) SpendAllowance(owner, spender string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("spend allowance %s: %w", t.symbol, ErrNegativeAmount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.allowances[owner][spender]
	if cur.LessThan(amount) {
		return fmt.Errorf("spend allowance %s of %s by %s: %w", t.symbol, owner, spender, ErrInsufficientAllowance)
	}
	t.allowances[owner][spender] = cur.Sub(amount)
	return nil
}
