package vault

import (
	"fmt"

	"github.com/shopspring/decimal"

	"YieldRoller/internal/model"
)

// decomposeLocked breaks a share amount into its constituent value: loose
// and pooled reserve asset, principal claims (loose plus the liquidity
// share of pool reserves), yield claims and liquidity tokens. Each leg is
// exactly proportional to shares/totalSupply of the vault's holdings.
func (r *Roller) decomposeLocked(shares decimal.Decimal) (model.Decomposition, error) {
	var d model.Decomposition
	supply := r.shares.TotalSupply()
	if supply.Sign() <= 0 || shares.Sign() <= 0 {
		return d, nil
	}
	ratio := shares.Div(supply)
	d.Asset = r.asset.BalanceOf(r.account).Mul(ratio)
	if r.series == nil {
		return d, nil
	}

	s := r.series
	d.PT = s.PT.BalanceOf(r.account).Mul(ratio)
	d.YT = s.YT.BalanceOf(r.account).Mul(ratio)
	d.LP = s.Pool.LPToken().BalanceOf(r.account).Mul(ratio)
	if d.LP.Sign() <= 0 {
		return d, nil
	}

	ptR, assetR, lpSupply, err := r.bridge.reserves(s.Pool)
	if err != nil {
		return d, fmt.Errorf("decompose: %w", err)
	}
	if lpSupply.Sign() > 0 {
		poolShare := d.LP.Div(lpSupply)
		d.PT = d.PT.Add(ptR.Mul(poolShare))
		d.Asset = d.Asset.Add(assetR.Mul(poolShare))
	}
	return d, nil
}

// exitAndCombineLocked exits lpIn from the active pool, then combines the
// overlap of (exited + loose) principal claims with the loose yield claims
// back into reserve asset. Returns the asset recovered and the one-sided
// leftover with its kind. The leftover tokens stay at the vault account.
func (r *Roller) exitAndCombineLocked(lpIn, loosePT, looseYT decimal.Decimal) (assetOut, excess decimal.Decimal, kind model.ExcessKind, err error) {
	s := r.series
	ptTotal := loosePT
	if lpIn.Sign() > 0 {
		ptOut, aOut, err := r.bridge.exit(s.PoolID, lpIn, decimal.Zero, decimal.Zero)
		if err != nil {
			return decimal.Zero, decimal.Zero, model.ExcessNone, fmt.Errorf("exit pool: %w", err)
		}
		ptTotal = ptTotal.Add(ptOut)
		assetOut = assetOut.Add(aOut)
	}

	overlap := decimal.Min(ptTotal, looseYT)
	if overlap.Sign() > 0 {
		got, err := r.splitter.Combine(r.account, s.Maturity, overlap)
		if err != nil {
			return decimal.Zero, decimal.Zero, model.ExcessNone, fmt.Errorf("combine: %w", err)
		}
		assetOut = assetOut.Add(got)
	}

	switch {
	case ptTotal.GreaterThan(looseYT):
		return assetOut, ptTotal.Sub(looseYT), model.ExcessPrincipal, nil
	case looseYT.GreaterThan(ptTotal):
		return assetOut, looseYT.Sub(ptTotal), model.ExcessYield, nil
	default:
		return assetOut, decimal.Zero, model.ExcessNone, nil
	}
}
