package amm

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"YieldRoller/internal/solver"
)

// Vault custodies pool tokens and is the only writer of pool reserves.
// Joins and exits are proportional; swaps are single-asset against the
// constant power sum invariant.
type Vault struct {
	mu      sync.Mutex
	account string
	pools   map[string]*Pool
}

// NewVault creates a vault that custodies balances under the given account.
func NewVault(account string) *Vault {
	return &Vault{account: account, pools: make(map[string]*Pool)}
}

// Account is the custody account pool tokens are held under.
func (v *Vault) Account() string { return v.account }

func (v *Vault) register(pl *Pool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pools[pl.id] = pl
}

func (v *Vault) pool(poolID string) (*Pool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	pl, ok := v.pools[poolID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, poolID)
	}
	return pl, nil
}

// PoolTokens returns the slot-indexed reserves and the liquidity token
// supply. Read fresh on every pricing call; never cache across calls.
func (v *Vault) PoolTokens(poolID string) (reserves [2]decimal.Decimal, lpSupply decimal.Decimal, err error) {
	pl, err := v.pool(poolID)
	if err != nil {
		return reserves, decimal.Zero, err
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.reserves, pl.lp.TotalSupply(), nil
}

// Join adds liquidity. The first join into an empty pool is one-sided
// reserve asset and mints liquidity tokens equal to its underlying value;
// later joins are proportional and consume only the limiting amounts, which
// are returned.
func (v *Vault) Join(poolID, from string, ptIn, assetIn, minLP decimal.Decimal) (lpOut, ptUsed, assetUsed decimal.Decimal, err error) {
	pl, err := v.pool(poolID)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()

	supply := pl.lp.TotalSupply()
	if supply.IsZero() {
		if ptIn.Sign() > 0 {
			return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("join %s: initial join must be one-sided reserve asset", poolID)
		}
		if assetIn.Sign() <= 0 {
			return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("join %s: nothing to join", poolID)
		}
		lpOut = assetIn.Mul(pl.initScale)
		ptUsed, assetUsed = decimal.Zero, assetIn
	} else {
		lpOut = decimal.Zero
		if ptR := pl.ptReserve(); ptR.Sign() > 0 && ptIn.Sign() > 0 {
			lpOut = supply.Mul(ptIn).Div(ptR)
		}
		if assetR := pl.assetReserve(); assetR.Sign() > 0 && assetIn.Sign() > 0 {
			if byAsset := supply.Mul(assetIn).Div(assetR); lpOut.IsZero() || byAsset.LessThan(lpOut) {
				lpOut = byAsset
			}
		}
		if lpOut.Sign() <= 0 {
			return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("join %s: nothing to join", poolID)
		}
		ptUsed = pl.ptReserve().Mul(lpOut).Div(supply)
		assetUsed = pl.assetReserve().Mul(lpOut).Div(supply)
		// lpOut already carries one division; recomputing the used amounts
		// can round an epsilon past what the caller offered
		if ptIn.Sign() > 0 && ptUsed.GreaterThan(ptIn) {
			ptUsed = ptIn
		}
		if assetIn.Sign() > 0 && assetUsed.GreaterThan(assetIn) {
			assetUsed = assetIn
		}
	}
	if lpOut.LessThan(minLP) {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("join %s: %w", poolID, ErrSlippage)
	}

	if ptUsed.Sign() > 0 {
		if err := pl.pt.Transfer(from, v.account, ptUsed); err != nil {
			return decimal.Zero, decimal.Zero, decimal.Zero, err
		}
	}
	if assetUsed.Sign() > 0 {
		if err := pl.asset.Transfer(from, v.account, assetUsed); err != nil {
			return decimal.Zero, decimal.Zero, decimal.Zero, err
		}
	}
	pl.reserves[pl.ptIndex] = pl.ptReserve().Add(ptUsed)
	pl.reserves[1-pl.ptIndex] = pl.assetReserve().Add(assetUsed)
	if err := pl.lp.Mint(from, lpOut); err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	pl.observe()
	return lpOut, ptUsed, assetUsed, nil
}

// Exit burns liquidity tokens for the proportional share of both reserves.
func (v *Vault) Exit(poolID, to string, lpIn, minPT, minAsset decimal.Decimal) (ptOut, assetOut decimal.Decimal, err error) {
	pl, err := v.pool(poolID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()

	supply := pl.lp.TotalSupply()
	if supply.Sign() <= 0 || lpIn.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("exit %s: nothing to exit", poolID)
	}
	ptOut = pl.ptReserve().Mul(lpIn).Div(supply)
	assetOut = pl.assetReserve().Mul(lpIn).Div(supply)
	if ptOut.LessThan(minPT) || assetOut.LessThan(minAsset) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("exit %s: %w", poolID, ErrSlippage)
	}
	if err := pl.lp.Burn(to, lpIn); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	pl.reserves[pl.ptIndex] = pl.ptReserve().Sub(ptOut)
	pl.reserves[1-pl.ptIndex] = pl.assetReserve().Sub(assetOut)
	if ptOut.Sign() > 0 {
		if err := pl.pt.Transfer(v.account, to, ptOut); err != nil {
			return decimal.Zero, decimal.Zero, err
		}
	}
	if assetOut.Sign() > 0 {
		if err := pl.asset.Transfer(v.account, to, assetOut); err != nil {
			return decimal.Zero, decimal.Zero, err
		}
	}
	pl.observe()
	return ptOut, assetOut, nil
}

// SwapPTIn sells exactly ptIn principal claims for reserve asset.
func (v *Vault) SwapPTIn(poolID, from string, ptIn, minAssetOut decimal.Decimal) (decimal.Decimal, error) {
	pl, err := v.pool(poolID)
	if err != nil {
		return decimal.Zero, err
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()

	out, err := solver.SellPTPreview(ptIn, pl.ptReserve(), pl.assetReserve(), pl.lp.TotalSupply(), pl.initScale, pl.maturity, pl.now(), pl.params)
	if err != nil {
		return decimal.Zero, fmt.Errorf("swap %s: %w", poolID, err)
	}
	if out.LessThan(minAssetOut) {
		return decimal.Zero, fmt.Errorf("swap %s: %w", poolID, ErrSlippage)
	}
	if err := pl.pt.Transfer(from, v.account, ptIn); err != nil {
		return decimal.Zero, err
	}
	pl.reserves[pl.ptIndex] = pl.ptReserve().Add(ptIn)
	pl.reserves[1-pl.ptIndex] = pl.assetReserve().Sub(out)
	if err := pl.asset.Transfer(v.account, from, out); err != nil {
		return decimal.Zero, err
	}
	pl.observe()
	return out, nil
}

// SwapPTOut buys exactly ptOut principal claims for reserve asset.
func (v *Vault) SwapPTOut(poolID, from string, ptOut, maxAssetIn decimal.Decimal) (decimal.Decimal, error) {
	pl, err := v.pool(poolID)
	if err != nil {
		return decimal.Zero, err
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()

	in, err := solver.BuyPTExactOutPreview(ptOut, pl.ptReserve(), pl.assetReserve(), pl.lp.TotalSupply(), pl.initScale, pl.maturity, pl.now(), pl.params)
	if err != nil {
		return decimal.Zero, fmt.Errorf("swap %s: %w", poolID, err)
	}
	if maxAssetIn.Sign() > 0 && in.GreaterThan(maxAssetIn) {
		return decimal.Zero, fmt.Errorf("swap %s: %w", poolID, ErrSlippage)
	}
	if err := pl.asset.Transfer(from, v.account, in); err != nil {
		return decimal.Zero, err
	}
	pl.reserves[1-pl.ptIndex] = pl.assetReserve().Add(in)
	pl.reserves[pl.ptIndex] = pl.ptReserve().Sub(ptOut)
	if err := pl.pt.Transfer(v.account, from, ptOut); err != nil {
		return decimal.Zero, err
	}
	pl.observe()
	return in, nil
}
