package vault

import (
	"fmt"

	"github.com/shopspring/decimal"

	"YieldRoller/internal/model"
)

// Eject bypasses the redemption price curve: it burns the owner's shares,
// exits and combines their proportional position and hands the receiver the
// recovered reserve asset plus the raw one-sided excess token, unsold.
// Active-only; a non-owner caller spends allowance.
func (r *Roller) Eject(caller, receiver, owner string, sharesIn decimal.Decimal) (assets, excess decimal.Decimal, kind model.ExcessKind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.series == nil {
		return decimal.Zero, decimal.Zero, model.ExcessNone, fmt.Errorf("eject: %w", ErrWrongPhase)
	}
	if sharesIn.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, model.ExcessNone, fmt.Errorf("eject: share amount %s must be positive", sharesIn)
	}
	if caller != owner {
		if err := r.shares.SpendAllowance(owner, caller, sharesIn); err != nil {
			return decimal.Zero, decimal.Zero, model.ExcessNone, err
		}
	}
	supply := r.shares.TotalSupply()
	if supply.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, model.ExcessNone, fmt.Errorf("eject: no shares outstanding")
	}

	s := r.series
	ratio := sharesIn.Div(supply)
	looseAsset := r.asset.BalanceOf(r.account).Mul(ratio)
	loosePT := s.PT.BalanceOf(r.account).Mul(ratio)
	looseYT := s.YT.BalanceOf(r.account).Mul(ratio)
	lp := s.Pool.LPToken().BalanceOf(r.account).Mul(ratio)

	if err := r.shares.Burn(owner, sharesIn); err != nil {
		return decimal.Zero, decimal.Zero, model.ExcessNone, err
	}
	assetOut, excess, kind, err := r.exitAndCombineLocked(lp, loosePT, looseYT)
	if err != nil {
		return decimal.Zero, decimal.Zero, model.ExcessNone, fmt.Errorf("eject: %w", err)
	}
	assets = looseAsset.Add(assetOut)
	if err := r.asset.Transfer(r.account, receiver, assets); err != nil {
		return decimal.Zero, decimal.Zero, model.ExcessNone, err
	}
	if excess.Sign() > 0 {
		tok := s.PT
		if kind == model.ExcessYield {
			tok = s.YT
		}
		if err := tok.Transfer(r.account, receiver, excess); err != nil {
			return decimal.Zero, decimal.Zero, model.ExcessNone, err
		}
	}
	r.recordShareFlow("EJECT", owner, assets, sharesIn, kind, excess)
	return assets, excess, kind, nil
}
