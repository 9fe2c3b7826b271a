// Package protocol holds the reference collaborators the roller consumes:
// the token-split protocol that mints and settles principal/yield claim
// pairs, the adapter that reports the reserve asset's conversion scale and
// opens sponsor windows, and the periphery that brokers series sponsorship
// and yield-claim sales.
package protocol

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"YieldRoller/internal/model"
)

var one = decimal.NewFromInt(1)

const secondsPerYear = 365 * 24 * 60 * 60

// SponsorCallback is invoked by the adapter, exactly once, while a sponsor
// window it was asked to open is pending.
type SponsorCallback func(caller string, req model.SponsorRequest) error

// Adapter models the wrapping adapter for one yield-bearing reserve asset:
// a deterministic accruing conversion scale, the issuance fee the split
// protocol charges through it, and the sponsor-window trigger.
type Adapter struct {
	mu      sync.Mutex
	account string
	initial decimal.Decimal
	yearly  decimal.Decimal
	start   time.Time
	stored  decimal.Decimal
	fee     decimal.Decimal
	stake   decimal.Decimal
	now     func() time.Time
}

// NewAdapter creates an adapter whose scale starts at initial and accrues
// continuously at the given yearly rate.
func NewAdapter(account string, initial, yearly, issuanceFee, stake decimal.Decimal, now func() time.Time) *Adapter {
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		account: account,
		initial: initial,
		yearly:  yearly,
		start:   now(),
		stored:  initial,
		fee:     issuanceFee,
		stake:   stake,
		now:     now,
	}
}

// Account is the identity the adapter acts under.
func (a *Adapter) Account() string { return a.account }

// IssuanceFee is the fraction of issued claims kept by the split protocol.
func (a *Adapter) IssuanceFee() decimal.Decimal { return a.fee }

// Stake is the side-collateral the adapter posts when sponsoring a series.
func (a *Adapter) Stake() decimal.Decimal { return a.stake }

// Scale returns the current underlying-per-asset conversion rate and
// caches it as the stored scale.
func (a *Adapter) Scale() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	elapsed := a.now().Sub(a.start).Seconds()
	if elapsed <= 0 || a.yearly.IsZero() {
		return a.initial
	}
	years := decimal.NewFromFloat(elapsed).Div(decimal.NewFromInt(secondsPerYear))
	growth, err := one.Add(a.yearly).PowWithPrecision(years, 24)
	if err != nil {
		return a.stored
	}
	a.stored = a.initial.Mul(growth)
	return a.stored
}

// StoredScale returns the last cached scale without accruing.
func (a *Adapter) StoredScale() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stored
}

// OpenSponsorWindow honors the two-phase sponsor protocol: it invokes the
// callback exactly once, under the adapter's identity, before returning.
func (a *Adapter) OpenSponsorWindow(req model.SponsorRequest, cb SponsorCallback) error {
	if cb == nil {
		return fmt.Errorf("open sponsor window: nil callback")
	}
	return cb(a.account, req)
}
