package protocol

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"YieldRoller/internal/token"
)

var (
	ErrUnknownSeries  = errors.New("unknown series")
	ErrAlreadySettled = errors.New("series already settled")
	ErrNotSettled     = errors.New("series not settled")
	ErrNotMatured     = errors.New("series not matured")
)

type seriesEntry struct {
	pt           *token.Token
	yt           *token.Token
	issueScale   decimal.Decimal
	settledScale decimal.Decimal
	settled      bool
	feePot       decimal.Decimal // accumulated issuance fees, in reserve asset
	stake        decimal.Decimal // adapter side-collateral, returned to the settler
}

// SplitProtocol mints principal and yield claims against custodied reserve
// asset and tracks per-maturity conversion scales. Issuing one asset at
// scale s mints s*(1-fee) of each claim; combining or redeeming converts
// back at the scale in force (settled scale once the series is settled).
type SplitProtocol struct {
	mu      sync.Mutex
	account string
	asset   *token.Token
	adapter *Adapter
	window  time.Duration
	series  map[int64]*seriesEntry
	now     func() time.Time
}

// NewSplitProtocol creates a split protocol custodying under account, with
// the given sponsor-window length.
func NewSplitProtocol(account string, asset *token.Token, adapter *Adapter, window time.Duration, now func() time.Time) *SplitProtocol {
	if now == nil {
		now = time.Now
	}
	return &SplitProtocol{
		account: account,
		asset:   asset,
		adapter: adapter,
		window:  window,
		series:  make(map[int64]*seriesEntry),
		now:     now,
	}
}

// SponsorWindow is the length of the exclusive settlement window.
func (sp *SplitProtocol) SponsorWindow() time.Duration { return sp.window }

func (sp *SplitProtocol) entry(maturity time.Time) (*seriesEntry, error) {
	e, ok := sp.series[maturity.Unix()]
	if !ok {
		return nil, fmt.Errorf("%w: maturity %s", ErrUnknownSeries, maturity.Format(time.RFC3339))
	}
	return e, nil
}

// Sponsor opens a claim pair for a new maturity, pulling the adapter's
// side-collateral into custody.
func (sp *SplitProtocol) Sponsor(maturity time.Time) (pt, yt *token.Token, err error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	key := maturity.Unix()
	if _, ok := sp.series[key]; ok {
		return nil, nil, fmt.Errorf("series at %s already sponsored", maturity.Format(time.RFC3339))
	}
	stake := sp.adapter.Stake()
	if stake.Sign() > 0 {
		if err := sp.asset.Transfer(sp.adapter.Account(), sp.account, stake); err != nil {
			return nil, nil, fmt.Errorf("sponsor: post stake: %w", err)
		}
	}
	tag := maturity.UTC().Format("Jan2006")
	pt = token.New("Principal "+tag, "sP-"+tag)
	yt = token.New("Yield "+tag, "sY-"+tag)
	sp.series[key] = &seriesEntry{
		pt:         pt,
		yt:         yt,
		issueScale: sp.adapter.Scale(),
		stake:      stake,
	}
	return pt, yt, nil
}

// Issue converts reserve asset into an equal amount of principal and yield
// claims at the current scale, net of the issuance fee.
func (sp *SplitProtocol) Issue(account string, maturity time.Time, assetIn decimal.Decimal) (decimal.Decimal, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	e, err := sp.entry(maturity)
	if err != nil {
		return decimal.Zero, err
	}
	if e.settled {
		return decimal.Zero, fmt.Errorf("issue: %w", ErrAlreadySettled)
	}
	if assetIn.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("issue: amount %s must be positive", assetIn)
	}
	if err := sp.asset.Transfer(account, sp.account, assetIn); err != nil {
		return decimal.Zero, err
	}
	fee := sp.adapter.IssuanceFee()
	claims := assetIn.Mul(sp.adapter.Scale()).Mul(one.Sub(fee))
	e.feePot = e.feePot.Add(assetIn.Mul(fee))
	if err := e.pt.Mint(account, claims); err != nil {
		return decimal.Zero, err
	}
	if err := e.yt.Mint(account, claims); err != nil {
		return decimal.Zero, err
	}
	return claims, nil
}

// Combine burns equal amounts of principal and yield claims and returns
// the backing reserve asset at the scale in force.
func (sp *SplitProtocol) Combine(account string, maturity time.Time, claims decimal.Decimal) (decimal.Decimal, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	e, err := sp.entry(maturity)
	if err != nil {
		return decimal.Zero, err
	}
	if claims.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("combine: amount %s must be positive", claims)
	}
	scale := sp.adapter.Scale()
	if e.settled {
		scale = e.settledScale
	}
	if err := e.pt.Burn(account, claims); err != nil {
		return decimal.Zero, err
	}
	if err := e.yt.Burn(account, claims); err != nil {
		return decimal.Zero, err
	}
	out := claims.Div(scale)
	if err := sp.asset.Transfer(sp.account, account, out); err != nil {
		return decimal.Zero, err
	}
	return out, nil
}

// SettleSeries finalizes the maturity's scale and pays the settler the
// accumulated issuance fees plus the adapter's side-collateral. Returns
// the total paid.
func (sp *SplitProtocol) SettleSeries(settler string, maturity time.Time) (decimal.Decimal, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	e, err := sp.entry(maturity)
	if err != nil {
		return decimal.Zero, err
	}
	if e.settled {
		return decimal.Zero, fmt.Errorf("settle: %w", ErrAlreadySettled)
	}
	if sp.now().Before(maturity) {
		return decimal.Zero, fmt.Errorf("settle: %w", ErrNotMatured)
	}
	e.settledScale = sp.adapter.Scale()
	e.settled = true
	reward := e.feePot.Add(e.stake)
	e.feePot = decimal.Zero
	e.stake = decimal.Zero
	if reward.Sign() > 0 {
		if err := sp.asset.Transfer(sp.account, settler, reward); err != nil {
			return decimal.Zero, err
		}
	}
	return reward, nil
}

// Redeem burns matured principal claims for reserve asset at the settled
// scale.
func (sp *SplitProtocol) Redeem(account string, maturity time.Time, ptAmt decimal.Decimal) (decimal.Decimal, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	e, err := sp.entry(maturity)
	if err != nil {
		return decimal.Zero, err
	}
	if !e.settled {
		return decimal.Zero, fmt.Errorf("redeem: %w", ErrNotSettled)
	}
	if ptAmt.Sign() <= 0 {
		return decimal.Zero, nil
	}
	if err := e.pt.Burn(account, ptAmt); err != nil {
		return decimal.Zero, err
	}
	out := ptAmt.Div(e.settledScale)
	if err := sp.asset.Transfer(sp.account, account, out); err != nil {
		return decimal.Zero, err
	}
	return out, nil
}

// Collect burns yield claims of a settled series for the yield they
// accrued between issuance and settlement:
//
//	out = yt * (m - i) / (i * m)   with i = issue scale, m = settled scale
func (sp *SplitProtocol) Collect(account string, maturity time.Time, ytAmt decimal.Decimal) (decimal.Decimal, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	e, err := sp.entry(maturity)
	if err != nil {
		return decimal.Zero, err
	}
	if !e.settled {
		return decimal.Zero, fmt.Errorf("collect: %w", ErrNotSettled)
	}
	if ytAmt.Sign() <= 0 {
		return decimal.Zero, nil
	}
	if err := e.yt.Burn(account, ytAmt); err != nil {
		return decimal.Zero, err
	}
	out := ytAmt.Mul(e.settledScale.Sub(e.issueScale)).Div(e.issueScale.Mul(e.settledScale))
	if out.Sign() > 0 {
		if err := sp.asset.Transfer(sp.account, account, out); err != nil {
			return decimal.Zero, err
		}
	}
	return out, nil
}

// ScaleAt returns the settled scale for a maturity, false if unsettled.
func (sp *SplitProtocol) ScaleAt(maturity time.Time) (decimal.Decimal, bool) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	e, ok := sp.series[maturity.Unix()]
	if !ok || !e.settled {
		return decimal.Zero, false
	}
	return e.settledScale, true
}

// Settled reports whether the maturity's series has been settled.
func (sp *SplitProtocol) Settled(maturity time.Time) bool {
	_, ok := sp.ScaleAt(maturity)
	return ok
}
