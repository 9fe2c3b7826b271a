// Package vault is the share-accounting and series-rolling engine: it holds
// a yield-bearing reserve asset, rolls it into principal/yield claim series
// at fixed maturities, seeds each series' pool at a target implied rate and
// issues/redeems proportional vault shares against the rolling position's
// live value, with redemption bounded by the rate move the pool can absorb.
package vault

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"YieldRoller/internal/amm"
	"YieldRoller/internal/model"
	"YieldRoller/internal/protocol"
	"YieldRoller/internal/recorder"
	"YieldRoller/internal/token"
)

var one = decimal.NewFromInt(1)

// Params are the tunable lifecycle and pricing parameters. They are mutated
// only through the operator-gated setters.
type Params struct {
	// MaxRate is the highest implied rate a redemption may push the pool to.
	MaxRate decimal.Decimal
	// FallbackRate seeds a new pool when no prior oracle reading exists.
	FallbackRate decimal.Decimal
	// TargetDuration is the series length in months; maturities land on the
	// first of the month that far ahead.
	TargetDuration int
	// RollDistance is the minimum time between consecutive rolls.
	RollDistance time.Duration
	// MinSeed is the reserve-asset balance guaranteed before a roll, topped
	// up from the roll caller when short.
	MinSeed decimal.Decimal
	// OracleWindow is the trailing window for the time-weighted rate read.
	OracleWindow time.Duration
}

// Deps are the collaborators a Roller is wired to at construction.
type Deps struct {
	Log       *logrus.Entry
	Account   string // custody account for asset, claims, pool tokens
	Operator  string // admin role for parameter changes
	Asset     *token.Token
	Splitter  *protocol.SplitProtocol
	Adapter   *protocol.Adapter
	Periphery *protocol.Periphery
	Factory   *amm.Factory
	AMM       *amm.Vault
	Recorder  recorder.Recorder
	Now       func() time.Time
}

// pastSeries keeps the claim handles of an exited, not-yet-cashed series so
// CashAssets can recover their value once the series settles.
type pastSeries struct {
	pt       *token.Token
	yt       *token.Token
	maturity time.Time
}

// Roller is the engine. One active series at most, behind a nil-able
// pointer: nil means cooldown, non-nil means active with every field set.
type Roller struct {
	mu  sync.Mutex
	log *logrus.Entry

	account  string
	operator string
	asset    *token.Token
	shares   *token.Token

	splitter  *protocol.SplitProtocol
	adapter   *protocol.Adapter
	periphery *protocol.Periphery
	factory   *amm.Factory
	bridge    *liquidityBridge
	rec       recorder.Recorder

	params Params

	series   *model.Series
	prevPool *amm.Pool
	lastRoll time.Time
	rolled   bool
	cash     decimal.Decimal
	past     map[int64]*pastSeries
	pending  *model.SponsorRequest

	// set by the sponsor callback, read back by Roll for the roll record
	lastTargetRate decimal.Decimal
	lastIssued     decimal.Decimal

	now func() time.Time
}

// New builds a Roller and its share ledger.
func New(d Deps, p Params) *Roller {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Recorder == nil {
		d.Recorder = recorder.NewNoopRecorder()
	}
	if d.Log == nil {
		d.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Roller{
		log:       d.Log,
		account:   d.Account,
		operator:  d.Operator,
		asset:     d.Asset,
		shares:    token.New("Roller Share", "rSHARE"),
		splitter:  d.Splitter,
		adapter:   d.Adapter,
		periphery: d.Periphery,
		factory:   d.Factory,
		bridge:    newLiquidityBridge(d.AMM, d.Account),
		rec:       d.Recorder,
		params:    p,
		past:      make(map[int64]*pastSeries),
		now:       d.Now,
	}
}

// Account is the custody account the vault's holdings live under.
func (r *Roller) Account() string { return r.account }

// Shares is the vault's share ledger.
func (r *Roller) Shares() *token.Token { return r.shares }

// Asset is the reserve asset ledger.
func (r *Roller) Asset() *token.Token { return r.asset }

// Params returns a copy of the current parameters.
func (r *Roller) Params() Params {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params
}

// ActiveMaturity reports the live series' maturity, false in cooldown.
func (r *Roller) ActiveMaturity() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.series == nil {
		return time.Time{}, false
	}
	return r.series.Maturity, true
}

// CashBalance is the signed recoverable-value estimate for exited series.
func (r *Roller) CashBalance() decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cash
}

// Status is a point-in-time snapshot for logs and status reports.
type Status struct {
	Phase       string
	Maturity    time.Time
	TotalAssets decimal.Decimal
	TotalShares decimal.Decimal
	Cash        decimal.Decimal
	ImpliedRate decimal.Decimal
}

// Status snapshots the vault under one lock acquisition.
func (r *Roller) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{
		Phase:       "COOLDOWN",
		TotalShares: r.shares.TotalSupply(),
		Cash:        r.cash,
	}
	st.TotalAssets, _ = r.totalAssetsLocked()
	if r.series != nil {
		st.Phase = "ACTIVE"
		st.Maturity = r.series.Maturity
		if rate, err := r.series.Pool.ImpliedRate(); err == nil {
			st.ImpliedRate = rate
		}
	}
	return st
}

// addCashLocked folds a signed delta into the cash ledger, enforcing the
// supported magnitude range.
func (r *Roller) addCashLocked(delta decimal.Decimal) error {
	next := r.cash.Add(delta)
	if next.Abs().GreaterThan(maxLedger) {
		return ErrOutOfRange
	}
	r.cash = next
	return nil
}
