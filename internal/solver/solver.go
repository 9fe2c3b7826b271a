// Package solver holds the pure reserve-equilibrium math for constant
// power sum pools: rate/price conversions, the reserve levels that encode a
// target implied rate, issuance sizing for ratio-preserving joins, swap
// previews and the liquidity bound. Nothing in here mutates state.
//
// Conventions shared with the pool implementation:
//
//	t  = secondsToMaturity / (TimeStretchYears * SecondsPerYear)
//	xv = ptReserves + lpSupply            (virtual principal reserves)
//	yu = assetReserves * initScale        (asset reserves in underlying)
//	invariant: xv^(1-g*t) + yu^(1-g*t) = k
//	stretched rate: rs = xv/yu - 1
//	annualized rate: (1+r) = (1+rs)^(1/TimeStretchYears)
//	principal spot price in underlying: p = (yu/xv)^t
package solver

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SecondsPerYear is the year convention used by all rate math.
const SecondsPerYear = 365 * 24 * 60 * 60

// powPrecision bounds the decimal places kept by fractional exponentiation.
// Divisions feeding an exponent use the same precision so the two never mix
// 16-digit quotients into 24-digit powers.
const powPrecision = 24

// quotePrecision is where swap quotes are cut off, always in the pool's
// favor: sell proceeds round down, buy costs round up. A round trip can then
// never credit value out of rounding noise.
const quotePrecision = 12

var (
	ErrEmptyPool            = errors.New("pool has no reserves")
	ErrInsufficientReserves = errors.New("insufficient pool reserves")

	one = decimal.NewFromInt(1)
	two = decimal.NewFromInt(2)
)

// PoolParams are the time-stretch and fee parameters of one pool.
type PoolParams struct {
	// TimeStretchYears is the stretch horizon in years. Larger values
	// flatten the curve: t shrinks and swaps price closer to linear.
	TimeStretchYears decimal.Decimal
	// FeeIn scales the invariant exponent when principal claims are bought.
	FeeIn decimal.Decimal
	// FeeOut scales the invariant exponent when principal claims are sold.
	FeeOut decimal.Decimal
}

// TimeExponent returns t for the given maturity, zero at and after maturity.
func (p PoolParams) TimeExponent(maturity, now time.Time) decimal.Decimal {
	if !now.Before(maturity) {
		return decimal.Zero
	}
	tau := decimal.NewFromFloat(maturity.Sub(now).Seconds())
	return tau.DivRound(p.TimeStretchYears.Mul(decimal.NewFromInt(SecondsPerYear)), powPrecision)
}

func pow(base, exp decimal.Decimal) (decimal.Decimal, error) {
	if base.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("pow: negative base %s", base)
	}
	if base.IsZero() {
		if exp.Sign() <= 0 {
			return decimal.Zero, fmt.Errorf("pow: zero base with exponent %s", exp)
		}
		return decimal.Zero, nil
	}
	v, err := base.PowWithPrecision(exp, powPrecision)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pow(%s, %s): %w", base, exp, err)
	}
	return v, nil
}

// StretchRate converts an annualized rate into the pool's native stretched
// rate: rs = (1+r)^(1/TimeStretchYears) - 1.
func StretchRate(annual decimal.Decimal, p PoolParams) (decimal.Decimal, error) {
	base := one.Add(annual)
	if base.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("stretch rate: rate %s out of domain", annual)
	}
	v, err := pow(base, one.Div(p.TimeStretchYears))
	if err != nil {
		return decimal.Zero, err
	}
	return v.Sub(one), nil
}

// UnstretchRate is the inverse of StretchRate.
func UnstretchRate(stretched decimal.Decimal, p PoolParams) (decimal.Decimal, error) {
	base := one.Add(stretched)
	if base.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("unstretch rate: rate %s out of domain", stretched)
	}
	v, err := pow(base, p.TimeStretchYears)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Sub(one), nil
}

// ImpliedRate derives the annualized rate encoded by the current reserves.
func ImpliedRate(ptReserves, assetReserves, lpSupply, initScale decimal.Decimal, p PoolParams) (decimal.Decimal, error) {
	yu := assetReserves.Mul(initScale)
	if yu.Sign() <= 0 {
		return decimal.Zero, ErrEmptyPool
	}
	xv := ptReserves.Add(lpSupply)
	return UnstretchRate(xv.Div(yu).Sub(one), p)
}

// PTSpotPrice returns the marginal price of one principal claim in
// underlying terms: (yu/xv)^t. It converges to 1 at maturity.
func PTSpotPrice(ptReserves, assetReserves, lpSupply, initScale decimal.Decimal, maturity, now time.Time, p PoolParams) (decimal.Decimal, error) {
	xv := ptReserves.Add(lpSupply)
	yu := assetReserves.Mul(initScale)
	if xv.Sign() <= 0 || yu.Sign() <= 0 {
		return decimal.Zero, ErrEmptyPool
	}
	return pow(yu.Div(xv), p.TimeExponent(maturity, now))
}

// EquilibriumReserves computes the principal and reserve-asset levels that
// would encode the target annualized rate. The computation models a sale of
// principal claims for reserve asset and therefore uses the sell-side fee.
//
// For a live pool it solves on the fee-adjusted invariant through the
// current reserves. For an empty pool it returns the seeding ratio per one
// reserve asset: the claim amount that lands the pool exactly on the target
// rate after a one-sided asset join followed by a sale of those claims,
// which is how a new series is opened.
func EquilibriumReserves(targetRate decimal.Decimal, maturity, now time.Time, ptReserves, assetReserves, lpSupply, initScale decimal.Decimal, p PoolParams) (eqPT, eqAsset decimal.Decimal, err error) {
	rs, err := StretchRate(targetRate, p)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	t := p.TimeExponent(maturity, now)
	a := one.Sub(p.FeeOut.Mul(t))
	if a.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("equilibrium: degenerate exponent %s", a)
	}
	xv := ptReserves.Add(lpSupply)
	yu := assetReserves.Mul(initScale)

	if xv.IsZero() && yu.IsZero() {
		// Seeding a unit asset u mints lp = u underlying, so pre-sale the
		// invariant is 2*u^a. Selling c claims must leave xv/yu = 1+rs:
		//   (u+c)^a * (1 + (1+rs)^-a) = 2*u^a
		//   c = u * (phi - 1),  phi = (2 / (1 + (1+rs)^-a))^(1/a)
		g, perr := pow(one.Add(rs), a.Neg())
		if perr != nil {
			return decimal.Zero, decimal.Zero, perr
		}
		phi, perr := pow(two.DivRound(one.Add(g), powPrecision), one.DivRound(a, powPrecision))
		if perr != nil {
			return decimal.Zero, decimal.Zero, perr
		}
		return phi.Sub(one).Mul(initScale), one, nil
	}
	if yu.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, ErrEmptyPool
	}

	kx, err := pow(xv, a)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	ky, err := pow(yu, a)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	k := kx.Add(ky)

	// xv' = (1+rs)*yu' on the same invariant:
	//   yu' = (k / (1 + (1+rs)^a))^(1/a)
	g, err := pow(one.Add(rs), a)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	yuEq, err := pow(k.DivRound(one.Add(g), powPrecision), one.DivRound(a, powPrecision))
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	xvEq := one.Add(rs).Mul(yuEq)
	return xvEq.Sub(lpSupply), yuEq.Div(initScale), nil
}

// IssuanceSplit returns how much of assetIn should be converted into
// principal+yield claims before a join so the pool's claim:asset ratio is
// unchanged, net of the split protocol's issuance fee. Every issued asset
// mints scale*(1-fee) claims, so
//
//	i = assetIn * ptR / (ptR + scale*(1-fee)*assetR)
func IssuanceSplit(assetIn, ptReserves, assetReserves, scale, issuanceFee decimal.Decimal) (decimal.Decimal, error) {
	if assetIn.Sign() <= 0 {
		return decimal.Zero, nil
	}
	if ptReserves.Sign() <= 0 {
		if assetReserves.Sign() <= 0 {
			return decimal.Zero, ErrEmptyPool
		}
		return decimal.Zero, nil
	}
	denom := ptReserves.Add(scale.Mul(one.Sub(issuanceFee)).Mul(assetReserves))
	if denom.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("issuance split: degenerate denominator %s", denom)
	}
	return assetIn.Mul(ptReserves).Div(denom), nil
}

// MaxPTSell is the liquidity bound: how many principal claims can be sold
// into the pool before the implied rate exceeds maxRate. Zero when the pool
// already trades at or above the ceiling.
func MaxPTSell(maxRate decimal.Decimal, maturity, now time.Time, ptReserves, assetReserves, lpSupply, initScale decimal.Decimal, p PoolParams) (decimal.Decimal, error) {
	eqPT, _, err := EquilibriumReserves(maxRate, maturity, now, ptReserves, assetReserves, lpSupply, initScale, p)
	if err != nil {
		return decimal.Zero, err
	}
	room := eqPT.Sub(ptReserves)
	if room.Sign() < 0 {
		return decimal.Zero, nil
	}
	return room, nil
}

// SellPTPreview quotes selling exactly ptIn principal claims for reserve
// asset against the given reserves.
func SellPTPreview(ptIn, ptReserves, assetReserves, lpSupply, initScale decimal.Decimal, maturity, now time.Time, p PoolParams) (decimal.Decimal, error) {
	if ptIn.Sign() <= 0 {
		return decimal.Zero, nil
	}
	t := p.TimeExponent(maturity, now)
	a := one.Sub(p.FeeOut.Mul(t))
	xv := ptReserves.Add(lpSupply)
	yu := assetReserves.Mul(initScale)
	if yu.Sign() <= 0 {
		return decimal.Zero, ErrEmptyPool
	}
	kx, err := pow(xv, a)
	if err != nil {
		return decimal.Zero, err
	}
	ky, err := pow(yu, a)
	if err != nil {
		return decimal.Zero, err
	}
	k := kx.Add(ky)

	x2, err := pow(xv.Add(ptIn), a)
	if err != nil {
		return decimal.Zero, err
	}
	rem := k.Sub(x2)
	if rem.Sign() <= 0 {
		return decimal.Zero, ErrInsufficientReserves
	}
	yu2, err := pow(rem, one.DivRound(a, powPrecision))
	if err != nil {
		return decimal.Zero, err
	}
	out := yu.Sub(yu2).Div(initScale).RoundDown(quotePrecision)
	if out.Sign() < 0 {
		return decimal.Zero, ErrInsufficientReserves
	}
	if out.GreaterThan(assetReserves) {
		return decimal.Zero, ErrInsufficientReserves
	}
	return out, nil
}

// BuyPTExactOutPreview quotes the reserve asset needed to buy exactly ptOut
// principal claims from the given reserves.
func BuyPTExactOutPreview(ptOut, ptReserves, assetReserves, lpSupply, initScale decimal.Decimal, maturity, now time.Time, p PoolParams) (decimal.Decimal, error) {
	if ptOut.Sign() <= 0 {
		return decimal.Zero, nil
	}
	if ptOut.GreaterThan(ptReserves) {
		return decimal.Zero, ErrInsufficientReserves
	}
	t := p.TimeExponent(maturity, now)
	a := one.Sub(p.FeeIn.Mul(t))
	xv := ptReserves.Add(lpSupply)
	yu := assetReserves.Mul(initScale)
	if yu.Sign() <= 0 {
		return decimal.Zero, ErrEmptyPool
	}
	kx, err := pow(xv, a)
	if err != nil {
		return decimal.Zero, err
	}
	ky, err := pow(yu, a)
	if err != nil {
		return decimal.Zero, err
	}
	k := kx.Add(ky)

	x2, err := pow(xv.Sub(ptOut), a)
	if err != nil {
		return decimal.Zero, err
	}
	yu2, err := pow(k.Sub(x2), one.DivRound(a, powPrecision))
	if err != nil {
		return decimal.Zero, err
	}
	in := yu2.Sub(yu).Div(initScale)
	if in.Sign() < 0 {
		in = decimal.Zero
	}
	return in.RoundUp(quotePrecision), nil
}
