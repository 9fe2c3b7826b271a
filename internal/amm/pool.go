// Package amm is the reference constant-power-sum market the roller trades
// against: a pool per series holding a principal claim and the reserve
// asset, a vault that custodies pool tokens and routes joins/exits/swaps,
// and a factory keyed by asset and maturity. The swap math itself lives in
// the solver package so pricing and execution can never diverge.
package amm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"YieldRoller/internal/solver"
	"YieldRoller/internal/token"
)

var (
	ErrUnknownPool   = errors.New("unknown pool")
	ErrSlippage      = errors.New("swap output below minimum")
	ErrNoObservation = errors.New("no oracle observation yet")

	one = decimal.NewFromInt(1)
)

type observation struct {
	at  time.Time
	cum decimal.Decimal
}

// Pool is one constant power sum market between a principal claim and its
// reserve asset. Reserves are indexed by slot; PTIndex tells which slot
// holds the principal claim.
type Pool struct {
	mu        sync.Mutex
	id        string
	pt        *token.Token
	asset     *token.Token
	lp        *token.Token
	maturity  time.Time
	initScale decimal.Decimal
	params    solver.PoolParams
	ptIndex   int
	reserves  [2]decimal.Decimal

	// Time-weighted rate oracle: seconds-weighted cumulative annualized
	// rate, sampled on every pool mutation.
	cumRate  decimal.Decimal
	lastRate decimal.Decimal
	lastObs  time.Time
	samples  []observation

	now func() time.Time
}

func newPool(pt, asset *token.Token, maturity time.Time, initScale decimal.Decimal, params solver.PoolParams, now func() time.Time) *Pool {
	ptIndex := 0
	if pt.Symbol() > asset.Symbol() {
		ptIndex = 1
	}
	return &Pool{
		id:        uuid.NewString(),
		pt:        pt,
		asset:     asset,
		lp:        token.New(pt.Symbol()+" LP", pt.Symbol()+"-LP"),
		maturity:  maturity,
		initScale: initScale,
		params:    params,
		ptIndex:   ptIndex,
		now:       now,
	}
}

func (pl *Pool) ID() string                 { return pl.id }
func (pl *Pool) Maturity() time.Time        { return pl.maturity }
func (pl *Pool) InitScale() decimal.Decimal { return pl.initScale }
func (pl *Pool) Params() solver.PoolParams  { return pl.params }
func (pl *Pool) PTIndex() int               { return pl.ptIndex }
func (pl *Pool) LPToken() *token.Token      { return pl.lp }
func (pl *Pool) PT() *token.Token           { return pl.pt }
func (pl *Pool) Asset() *token.Token        { return pl.asset }

// Reserves returns the current (principal, asset) reserves by role.
func (pl *Pool) Reserves() (pt, asset decimal.Decimal) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.reserves[pl.ptIndex], pl.reserves[1-pl.ptIndex]
}

func (pl *Pool) ptReserve() decimal.Decimal    { return pl.reserves[pl.ptIndex] }
func (pl *Pool) assetReserve() decimal.Decimal { return pl.reserves[1-pl.ptIndex] }

// ImpliedRate returns the annualized rate encoded by the live reserves.
func (pl *Pool) ImpliedRate() (decimal.Decimal, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return solver.ImpliedRate(pl.ptReserve(), pl.assetReserve(), pl.lp.TotalSupply(), pl.initScale, pl.params)
}

// PreviewSellPT quotes a principal-for-asset swap against live reserves.
func (pl *Pool) PreviewSellPT(ptIn decimal.Decimal) (decimal.Decimal, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return solver.SellPTPreview(ptIn, pl.ptReserve(), pl.assetReserve(), pl.lp.TotalSupply(), pl.initScale, pl.maturity, pl.now(), pl.params)
}

// PreviewBuyPT quotes the asset cost of buying exactly ptOut principal
// claims from live reserves.
func (pl *Pool) PreviewBuyPT(ptOut decimal.Decimal) (decimal.Decimal, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return solver.BuyPTExactOutPreview(ptOut, pl.ptReserve(), pl.assetReserve(), pl.lp.TotalSupply(), pl.initScale, pl.maturity, pl.now(), pl.params)
}

// observe folds the elapsed interval into the cumulative rate accumulator.
// Called under the pool lock after every reserve mutation.
func (pl *Pool) observe() {
	nowT := pl.now()
	if !pl.lastObs.IsZero() {
		dt := nowT.Sub(pl.lastObs).Seconds()
		if dt > 0 {
			pl.cumRate = pl.cumRate.Add(pl.lastRate.Mul(decimal.NewFromFloat(dt)))
		}
	}
	if r, err := solver.ImpliedRate(pl.ptReserve(), pl.assetReserve(), pl.lp.TotalSupply(), pl.initScale, pl.params); err == nil {
		pl.lastRate = r
	}
	pl.lastObs = nowT
	pl.samples = append(pl.samples, observation{at: nowT, cum: pl.cumRate})
	if len(pl.samples) > 4096 {
		pl.samples = pl.samples[len(pl.samples)-2048:]
	}
}

// TimeWeightedRate returns the average annualized rate over the trailing
// window, falling back to the latest spot rate when the window has no
// earlier observation to anchor on.
func (pl *Pool) TimeWeightedRate(window time.Duration) (decimal.Decimal, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.lastObs.IsZero() {
		return decimal.Zero, ErrNoObservation
	}
	nowT := pl.now()
	cumNow := pl.cumRate
	if dt := nowT.Sub(pl.lastObs).Seconds(); dt > 0 {
		cumNow = cumNow.Add(pl.lastRate.Mul(decimal.NewFromFloat(dt)))
	}
	start := nowT.Add(-window)
	anchor := -1
	for i := range pl.samples {
		if pl.samples[i].at.After(start) {
			break
		}
		anchor = i
	}
	if anchor < 0 {
		return pl.lastRate, nil
	}
	obs := pl.samples[anchor]
	// no mutation since the anchor means the rate has been flat at
	// lastRate for the whole window; averaging would only add rounding
	if anchor == len(pl.samples)-1 || !nowT.After(obs.at) {
		return pl.lastRate, nil
	}
	span := decimal.NewFromFloat(nowT.Sub(obs.at).Seconds())
	return cumNow.Sub(obs.cum).Div(span), nil
}

// Factory creates and indexes pools by reserve asset and maturity.
type Factory struct {
	mu     sync.Mutex
	vault  *Vault
	params solver.PoolParams
	pools  map[string]*Pool
	now    func() time.Time
}

// NewFactory wires a factory to the vault that will custody its pools.
func NewFactory(v *Vault, params solver.PoolParams, now func() time.Time) *Factory {
	if now == nil {
		now = time.Now
	}
	return &Factory{vault: v, params: params, pools: make(map[string]*Pool), now: now}
}

func poolKey(assetSymbol string, maturity time.Time) string {
	return fmt.Sprintf("%s@%d", assetSymbol, maturity.Unix())
}

// Params returns the parameters every pool from this factory is built with.
func (f *Factory) Params() solver.PoolParams { return f.params }

// CreatePool registers a new empty pool for the claim pair's maturity.
func (f *Factory) CreatePool(pt, asset *token.Token, maturity time.Time, initScale decimal.Decimal) (*Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := poolKey(asset.Symbol(), maturity)
	if _, ok := f.pools[key]; ok {
		return nil, fmt.Errorf("pool for %s already exists", key)
	}
	pl := newPool(pt, asset, maturity, initScale, f.params, f.now)
	f.pools[key] = pl
	f.vault.register(pl)
	return pl, nil
}

// PoolFor looks a pool up by reserve asset symbol and maturity.
func (f *Factory) PoolFor(assetSymbol string, maturity time.Time) (*Pool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pl, ok := f.pools[poolKey(assetSymbol, maturity)]
	return pl, ok
}
