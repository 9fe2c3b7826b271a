package vault

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"YieldRoller/internal/model"
	"YieldRoller/internal/protocol"
	"YieldRoller/internal/recorder"
	"YieldRoller/internal/solver"
)

// totalAssetsLocked is the mark-to-market valuation. In cooldown it is the
// raw reserve-asset balance. Active, it values the combinable overlap of
// principal and yield claims at the series scale and the one-sided excess
// at the pool's spot price, ignoring the slippage an actual liquidation
// would incur, plus the cash ledger's recoverable estimate.
func (r *Roller) totalAssetsLocked() (decimal.Decimal, error) {
	raw := r.asset.BalanceOf(r.account)
	if r.series == nil {
		return raw, nil
	}
	s := r.series

	ptR, assetR, lpSupply, err := r.bridge.reserves(s.Pool)
	if err != nil {
		return decimal.Zero, fmt.Errorf("total assets: %w", err)
	}
	ptTotal := s.PT.BalanceOf(r.account)
	ytTotal := s.YT.BalanceOf(r.account)
	assetTotal := raw
	if lpBal := s.Pool.LPToken().BalanceOf(r.account); lpBal.Sign() > 0 && lpSupply.Sign() > 0 {
		poolShare := lpBal.Div(lpSupply)
		ptTotal = ptTotal.Add(ptR.Mul(poolShare))
		assetTotal = assetTotal.Add(assetR.Mul(poolShare))
	}

	overlap := decimal.Min(ptTotal, ytTotal)
	val := assetTotal.Add(overlap.Div(s.InitScale))
	if !ptTotal.Equal(ytTotal) {
		spot, err := solver.PTSpotPrice(ptR, assetR, lpSupply, s.InitScale, s.Maturity, r.now(), s.Pool.Params())
		if err != nil {
			return decimal.Zero, fmt.Errorf("total assets: %w", err)
		}
		if ptTotal.GreaterThan(ytTotal) {
			val = val.Add(ptTotal.Sub(ytTotal).Mul(spot).Div(s.InitScale))
		} else {
			val = val.Add(ytTotal.Sub(ptTotal).Mul(one.Sub(spot)).Div(s.InitScale))
		}
	}
	return val.Add(r.cash), nil
}

// TotalAssets returns the vault's current value in reserve-asset units.
func (r *Roller) TotalAssets() (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalAssetsLocked()
}

// deployLocked puts an amount of reserve asset already held by the vault
// to work in the series' pool: it issues just enough principal+yield claims
// to keep the pool ratio unchanged, then joins proportionally. Returns the
// liquidity tokens minted.
func (r *Roller) deployLocked(s *model.Series, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.Sign() <= 0 {
		return decimal.Zero, nil
	}
	ptR, assetR, _, err := r.bridge.reserves(s.Pool)
	if err != nil {
		return decimal.Zero, err
	}
	scale := r.adapter.Scale()
	issue, err := solver.IssuanceSplit(amount, ptR, assetR, scale, r.adapter.IssuanceFee())
	if err != nil {
		return decimal.Zero, err
	}
	claims := decimal.Zero
	if issue.Sign() > 0 {
		claims, err = r.splitter.Issue(r.account, s.Maturity, issue)
		if err != nil {
			return decimal.Zero, err
		}
	}
	lpOut, _, _, err := r.bridge.join(s.PoolID, claims, amount.Sub(issue), decimal.Zero)
	if err != nil {
		return decimal.Zero, err
	}
	return lpOut, nil
}

func (r *Roller) previewDepositLocked(assets decimal.Decimal) (decimal.Decimal, error) {
	if assets.Sign() <= 0 {
		return decimal.Zero, nil
	}
	supply := r.shares.TotalSupply()
	if r.series == nil {
		raw := r.asset.BalanceOf(r.account)
		if supply.Sign() <= 0 || raw.Sign() <= 0 {
			return assets, nil
		}
		return assets.Mul(supply).Div(raw), nil
	}

	s := r.series
	ptR, assetR, lpSupply, err := r.bridge.reserves(s.Pool)
	if err != nil {
		return decimal.Zero, fmt.Errorf("preview deposit: %w", err)
	}
	scale := r.adapter.Scale()
	fee := r.adapter.IssuanceFee()
	issue, err := solver.IssuanceSplit(assets, ptR, assetR, scale, fee)
	if err != nil {
		return decimal.Zero, fmt.Errorf("preview deposit: %w", err)
	}
	claims := issue.Mul(scale).Mul(one.Sub(fee))
	rest := assets.Sub(issue)

	var lpOut decimal.Decimal
	if lpSupply.Sign() <= 0 {
		lpOut = rest.Mul(s.InitScale)
	} else {
		if ptR.Sign() > 0 && claims.Sign() > 0 {
			lpOut = lpSupply.Mul(claims).Div(ptR)
		}
		if assetR.Sign() > 0 && rest.Sign() > 0 {
			if byAsset := lpSupply.Mul(rest).Div(assetR); lpOut.IsZero() || byAsset.LessThan(lpOut) {
				lpOut = byAsset
			}
		}
	}
	vaultLP := s.Pool.LPToken().BalanceOf(r.account)
	if supply.Sign() <= 0 || vaultLP.Sign() <= 0 {
		return lpOut, nil
	}
	return supply.Mul(lpOut).Div(vaultLP), nil
}

// PreviewDeposit simulates the shares a deposit would mint, including the
// pool-join slippage totalAssets ignores.
func (r *Roller) PreviewDeposit(assets decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.previewDepositLocked(assets)
}

func (r *Roller) previewMintLocked(shares decimal.Decimal) (decimal.Decimal, error) {
	if shares.Sign() <= 0 {
		return decimal.Zero, nil
	}
	supply := r.shares.TotalSupply()
	if r.series == nil {
		raw := r.asset.BalanceOf(r.account)
		if supply.Sign() <= 0 || raw.Sign() <= 0 {
			return shares, nil
		}
		return shares.Mul(raw).Div(supply), nil
	}
	// the deposit mapping is linear in the contributed amount, so invert
	// the per-unit rate
	unit, err := r.previewDepositLocked(one)
	if err != nil {
		return decimal.Zero, err
	}
	if unit.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("preview mint: pool cannot absorb deposits")
	}
	return shares.Div(unit), nil
}

// PreviewMint returns the reserve asset needed to mint exactly shares.
func (r *Roller) PreviewMint(shares decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.previewMintLocked(shares)
}

func (r *Roller) previewRedeemLocked(shares decimal.Decimal) (decimal.Decimal, error) {
	supply := r.shares.TotalSupply()
	if shares.Sign() <= 0 || supply.Sign() <= 0 {
		return decimal.Zero, nil
	}
	if r.series == nil {
		return r.asset.BalanceOf(r.account).Mul(shares).Div(supply), nil
	}

	s := r.series
	d, err := r.decomposeLocked(shares)
	if err != nil {
		return decimal.Zero, fmt.Errorf("preview redeem: %w", err)
	}
	ptR, assetR, lpSupply, err := r.bridge.reserves(s.Pool)
	if err != nil {
		return decimal.Zero, fmt.Errorf("preview redeem: %w", err)
	}
	scale := r.adapter.Scale()
	overlap := decimal.Min(d.PT, d.YT)
	total := d.Asset.Add(overlap.Div(scale))

	// the one-sided leg trades against the pool left after this
	// redemption's proportional exit
	if lpSupply.Sign() > 0 && d.LP.Sign() > 0 {
		remain := one.Sub(d.LP.Div(lpSupply))
		if remain.Sign() < 0 {
			remain = decimal.Zero
		}
		ptR = ptR.Mul(remain)
		assetR = assetR.Mul(remain)
		lpSupply = lpSupply.Sub(d.LP)
	}

	minSwap := r.periphery.MinSwap()
	now := r.now()
	switch {
	case d.PT.GreaterThan(d.YT):
		excess := d.PT.Sub(d.YT)
		bound, err := solver.MaxPTSell(r.params.MaxRate, s.Maturity, now, ptR, assetR, lpSupply, s.InitScale, s.Pool.Params())
		if err != nil {
			return decimal.Zero, fmt.Errorf("preview redeem: %w", err)
		}
		sell := decimal.Min(excess, bound)
		if sell.GreaterThanOrEqual(minSwap) && sell.Sign() > 0 {
			out, err := solver.SellPTPreview(sell, ptR, assetR, lpSupply, s.InitScale, s.Maturity, now, s.Pool.Params())
			if err != nil && !errors.Is(err, solver.ErrInsufficientReserves) && !errors.Is(err, solver.ErrEmptyPool) {
				return decimal.Zero, fmt.Errorf("preview redeem: %w", err)
			}
			if err == nil {
				total = total.Add(out)
			}
		}
	case d.YT.GreaterThan(d.PT):
		excess := d.YT.Sub(d.PT)
		sell := decimal.Min(excess, ptR)
		if sell.GreaterThanOrEqual(minSwap) && sell.Sign() > 0 {
			cost, err := solver.BuyPTExactOutPreview(sell, ptR, assetR, lpSupply, s.InitScale, s.Maturity, now, s.Pool.Params())
			if err != nil {
				return decimal.Zero, fmt.Errorf("preview redeem: %w", err)
			}
			if proceeds := sell.Div(scale).Sub(cost); proceeds.Sign() > 0 {
				total = total.Add(proceeds)
			}
		}
	}
	return total, nil
}

// PreviewRedeem values a redemption, capping the one-sided excess at the
// liquidity bound; value beyond the cap is silently foregone.
func (r *Roller) PreviewRedeem(shares decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.previewRedeemLocked(shares)
}

func (r *Roller) maxRedeemLocked(owner string) (decimal.Decimal, error) {
	bal := r.shares.BalanceOf(owner)
	if bal.Sign() <= 0 || r.series == nil {
		return bal, nil
	}
	d, err := r.decomposeLocked(bal)
	if err != nil {
		return decimal.Zero, fmt.Errorf("max redeem: %w", err)
	}
	if d.PT.Equal(d.YT) {
		return bal, nil
	}
	s := r.series
	ptR, assetR, lpSupply, err := r.bridge.reserves(s.Pool)
	if err != nil {
		return decimal.Zero, fmt.Errorf("max redeem: %w", err)
	}
	// redeeming x shares exits vaultLP*x/supply of the pool, shrinking the
	// absorbable excess linearly while the excess itself grows linearly in
	// x; the cap is where the two lines cross
	supply := r.shares.TotalSupply()
	vaultLP := s.Pool.LPToken().BalanceOf(r.account)
	slopeOf := func(capacity decimal.Decimal) decimal.Decimal {
		if lpSupply.Sign() <= 0 || supply.Sign() <= 0 {
			return decimal.Zero
		}
		return capacity.Mul(vaultLP).Div(lpSupply.Mul(supply))
	}
	if d.PT.GreaterThan(d.YT) {
		excess := d.PT.Sub(d.YT)
		bound, err := solver.MaxPTSell(r.params.MaxRate, s.Maturity, r.now(), ptR, assetR, lpSupply, s.InitScale, s.Pool.Params())
		if err != nil {
			return decimal.Zero, fmt.Errorf("max redeem: %w", err)
		}
		slope := slopeOf(bound)
		if !excess.GreaterThan(bound.Sub(slope.Mul(bal))) {
			return bal, nil
		}
		denom := excess.Div(bal).Add(slope)
		if denom.Sign() <= 0 {
			return bal, nil
		}
		return bound.Div(denom), nil
	}
	excess := d.YT.Sub(d.PT)
	slope := slopeOf(ptR)
	if !excess.GreaterThan(ptR.Sub(slope.Mul(bal))) {
		return bal, nil
	}
	denom := excess.Div(bal).Add(slope)
	if denom.Sign() <= 0 {
		return bal, nil
	}
	return ptR.Div(denom), nil
}

// MaxRedeem returns how many of the owner's shares can currently be
// redeemed without pushing the pool past the rate ceiling, accounting for
// the liquidity the redemption itself withdraws.
func (r *Roller) MaxRedeem(owner string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxRedeemLocked(owner)
}

// MaxWithdraw is previewRedeem(maxRedeem(owner)): a pessimistic bound, not
// an exact inverse.
func (r *Roller) MaxWithdraw(owner string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	maxShares, err := r.maxRedeemLocked(owner)
	if err != nil {
		return decimal.Zero, err
	}
	return r.previewRedeemLocked(maxShares)
}

func (r *Roller) previewWithdrawLocked(owner string, assets decimal.Decimal) (decimal.Decimal, error) {
	if assets.Sign() <= 0 {
		return decimal.Zero, nil
	}
	maxShares, err := r.maxRedeemLocked(owner)
	if err != nil {
		return decimal.Zero, err
	}
	maxAssets, err := r.previewRedeemLocked(maxShares)
	if err != nil {
		return decimal.Zero, err
	}
	if maxAssets.Sign() <= 0 {
		return decimal.Zero, nil
	}
	// scales against the maximum redeemable value; an approximation of the
	// previewRedeem inverse under constrained liquidity, kept as such
	return maxShares.Mul(assets).Div(maxAssets), nil
}

// PreviewWithdraw estimates the shares a withdrawal of assets would burn.
func (r *Roller) PreviewWithdraw(owner string, assets decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.previewWithdrawLocked(owner, assets)
}

// depositLocked pulls assets from the depositor and mints shares. When
// exactShares is positive the caller (Mint) fixes the share amount.
func (r *Roller) depositLocked(from, receiver string, assets, exactShares decimal.Decimal) (decimal.Decimal, error) {
	if assets.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("deposit: amount %s must be positive", assets)
	}
	supply := r.shares.TotalSupply()
	var minted decimal.Decimal
	if r.series == nil {
		raw := r.asset.BalanceOf(r.account)
		if err := r.asset.Transfer(from, r.account, assets); err != nil {
			return decimal.Zero, err
		}
		if supply.Sign() <= 0 || raw.Sign() <= 0 {
			minted = assets
		} else {
			minted = assets.Mul(supply).Div(raw)
		}
	} else {
		vaultLP := r.series.Pool.LPToken().BalanceOf(r.account)
		if err := r.asset.Transfer(from, r.account, assets); err != nil {
			return decimal.Zero, err
		}
		lpOut, err := r.deployLocked(r.series, assets)
		if err != nil {
			return decimal.Zero, fmt.Errorf("deposit: %w", err)
		}
		if supply.Sign() <= 0 || vaultLP.Sign() <= 0 {
			minted = lpOut
		} else {
			minted = supply.Mul(lpOut).Div(vaultLP)
		}
	}
	if exactShares.Sign() > 0 {
		minted = exactShares
	}
	if err := r.shares.Mint(receiver, minted); err != nil {
		return decimal.Zero, err
	}
	r.recordShareFlow("DEPOSIT", receiver, assets, minted, model.ExcessNone, decimal.Zero)
	return minted, nil
}

// Deposit pulls assets from the depositor, deploys them into the active
// pool (issuing claims for the ratio-preserving fraction) and mints shares
// to the receiver.
func (r *Roller) Deposit(from, receiver string, assets decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.depositLocked(from, receiver, assets, decimal.Zero)
}

// Mint deposits exactly enough reserve asset to mint the requested shares
// and returns the assets pulled.
func (r *Roller) Mint(from, receiver string, shares decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	assets, err := r.previewMintLocked(shares)
	if err != nil {
		return decimal.Zero, err
	}
	if assets.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("mint: share amount %s must be positive", shares)
	}
	if _, err := r.depositLocked(from, receiver, assets, shares); err != nil {
		return decimal.Zero, err
	}
	return assets, nil
}

func (r *Roller) redeemLocked(caller, receiver, owner string, sharesIn decimal.Decimal) (decimal.Decimal, error) {
	if sharesIn.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("redeem: share amount %s must be positive", sharesIn)
	}
	if caller != owner {
		if err := r.shares.SpendAllowance(owner, caller, sharesIn); err != nil {
			return decimal.Zero, err
		}
	}
	supply := r.shares.TotalSupply()
	if supply.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("redeem: no shares outstanding")
	}

	if r.series == nil {
		assetsOut := r.asset.BalanceOf(r.account).Mul(sharesIn).Div(supply)
		if err := r.shares.Burn(owner, sharesIn); err != nil {
			return decimal.Zero, err
		}
		if err := r.asset.Transfer(r.account, receiver, assetsOut); err != nil {
			return decimal.Zero, err
		}
		r.recordShareFlow("REDEEM", owner, assetsOut, sharesIn, model.ExcessNone, decimal.Zero)
		return assetsOut, nil
	}

	s := r.series
	ratio := sharesIn.Div(supply)
	looseAsset := r.asset.BalanceOf(r.account).Mul(ratio)
	loosePT := s.PT.BalanceOf(r.account).Mul(ratio)
	looseYT := s.YT.BalanceOf(r.account).Mul(ratio)
	lp := s.Pool.LPToken().BalanceOf(r.account).Mul(ratio)

	ptR, assetR, lpSupply, err := r.bridge.reserves(s.Pool)
	if err != nil {
		return decimal.Zero, fmt.Errorf("redeem: %w", err)
	}
	ptTotal := loosePT
	if lpSupply.Sign() > 0 && lp.Sign() > 0 {
		ptTotal = ptTotal.Add(ptR.Mul(lp).Div(lpSupply))
	}
	// the excess sells into the pool left after the proportional exit, so
	// the bound is taken on the post-exit reserves
	remain := one
	if lpSupply.Sign() > 0 && lp.Sign() > 0 {
		remain = one.Sub(lp.Div(lpSupply))
		if remain.Sign() < 0 {
			remain = decimal.Zero
		}
	}
	postPT := ptR.Mul(remain)
	minSwap := r.periphery.MinSwap()
	switch {
	case ptTotal.GreaterThan(looseYT):
		excess := ptTotal.Sub(looseYT)
		if excess.GreaterThanOrEqual(minSwap) {
			bound, err := solver.MaxPTSell(r.params.MaxRate, s.Maturity, r.now(), postPT, assetR.Mul(remain), lpSupply.Sub(lp), s.InitScale, s.Pool.Params())
			if err != nil {
				return decimal.Zero, fmt.Errorf("redeem: %w", err)
			}
			if excess.GreaterThan(bound) {
				return decimal.Zero, fmt.Errorf("redeem: principal excess %s over bound %s: %w", excess, bound, ErrInsufficientLiquidity)
			}
		}
	case looseYT.GreaterThan(ptTotal):
		excess := looseYT.Sub(ptTotal)
		if excess.GreaterThanOrEqual(minSwap) && excess.GreaterThan(postPT) {
			return decimal.Zero, fmt.Errorf("redeem: yield excess %s over reserves %s: %w", excess, postPT, ErrInsufficientLiquidity)
		}
	}

	if err := r.shares.Burn(owner, sharesIn); err != nil {
		return decimal.Zero, err
	}
	assetOut, excess, kind, err := r.exitAndCombineLocked(lp, loosePT, looseYT)
	if err != nil {
		return decimal.Zero, fmt.Errorf("redeem: %w", err)
	}
	total := looseAsset.Add(assetOut)
	if excess.GreaterThanOrEqual(minSwap) && excess.Sign() > 0 {
		switch kind {
		case model.ExcessPrincipal:
			out, err := r.bridge.sellPT(s.PoolID, excess, decimal.Zero)
			if err != nil {
				return decimal.Zero, fmt.Errorf("redeem: sell excess: %w", err)
			}
			total = total.Add(out)
		case model.ExcessYield:
			net, err := r.periphery.SellYTs(r.account, s.Pool, s.Maturity, excess)
			if err != nil && !errors.Is(err, protocol.ErrUneconomicSale) {
				return decimal.Zero, fmt.Errorf("redeem: sell excess: %w", err)
			}
			total = total.Add(net)
		}
	}
	if err := r.asset.Transfer(r.account, receiver, total); err != nil {
		return decimal.Zero, err
	}
	r.recordShareFlow("REDEEM", owner, total, sharesIn, kind, excess)
	return total, nil
}

// Redeem burns the owner's shares for reserve asset, selling the one-sided
// excess into the pool up to the liquidity bound. A dust excess below the
// minimum swap size is left unsold instead of failing.
func (r *Roller) Redeem(caller, receiver, owner string, shares decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redeemLocked(caller, receiver, owner, shares)
}

// Withdraw burns the shares previewWithdraw estimates for the requested
// assets and pays out what the redemption actually recovers.
func (r *Roller) Withdraw(caller, receiver, owner string, assets decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	shares, err := r.previewWithdrawLocked(owner, assets)
	if err != nil {
		return decimal.Zero, err
	}
	if shares.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("withdraw: nothing redeemable for %s", assets)
	}
	if _, err := r.redeemLocked(caller, receiver, owner, shares); err != nil {
		return decimal.Zero, err
	}
	return shares, nil
}

func (r *Roller) recordShareFlow(op, account string, assets, shares decimal.Decimal, kind model.ExcessKind, excess decimal.Decimal) {
	err := r.rec.RecordShareFlow(&recorder.ShareFlowRecord{
		Op:         op,
		Account:    account,
		Assets:     assets,
		Shares:     shares,
		ExcessKind: kind.String(),
		Excess:     excess,
	})
	if err != nil {
		r.log.WithError(err).Warn("record share flow failed")
	}
}
