package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"YieldRoller/internal/amm"
	"YieldRoller/internal/token"
)

// ErrUneconomicSale means a yield-claim sale would cost more in principal
// purchase than the combine recovers.
var ErrUneconomicSale = errors.New("yield sale proceeds below cost")

// Periphery brokers series sponsorship and yield-claim sales. It runs its
// own working-capital account to front the principal purchase inside a
// yield sale.
type Periphery struct {
	account  string
	splitter *SplitProtocol
	factory  *amm.Factory
	ammVault *amm.Vault
	asset    *token.Token
	minSwap  decimal.Decimal
}

// NewPeriphery wires a periphery to the split protocol and pool factory.
func NewPeriphery(account string, splitter *SplitProtocol, factory *amm.Factory, ammVault *amm.Vault, asset *token.Token, minSwap decimal.Decimal) *Periphery {
	return &Periphery{
		account:  account,
		splitter: splitter,
		factory:  factory,
		ammVault: ammVault,
		asset:    asset,
		minSwap:  minSwap,
	}
}

// MinSwap is the smallest claim amount worth selling; excesses below it are
// left unsold by callers.
func (p *Periphery) MinSwap() decimal.Decimal { return p.minSwap }

// SponsorSeries opens the claim pair for a maturity and creates its pool.
func (p *Periphery) SponsorSeries(maturity time.Time) (pt, yt *token.Token, pool *amm.Pool, err error) {
	pt, yt, err = p.splitter.Sponsor(maturity)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sponsor series: %w", err)
	}
	pool, err = p.factory.CreatePool(pt, p.asset, maturity, p.splitter.adapter.Scale())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sponsor series: %w", err)
	}
	return pt, yt, pool, nil
}

// SellYTs liquidates yield claims before settlement: it buys the matching
// amount of principal claims from the pool, combines both back into
// reserve asset and pays the seller the net. The quote is checked before
// any balance moves so a losing sale fails cleanly.
func (p *Periphery) SellYTs(account string, pool *amm.Pool, maturity time.Time, ytIn decimal.Decimal) (decimal.Decimal, error) {
	if ytIn.Sign() <= 0 {
		return decimal.Zero, nil
	}
	cost, err := pool.PreviewBuyPT(ytIn)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sell yield claims: %w", err)
	}
	proceeds := ytIn.Div(p.splitter.adapter.Scale())
	if !proceeds.GreaterThan(cost) {
		return decimal.Zero, fmt.Errorf("sell yield claims: %w", ErrUneconomicSale)
	}

	e, err := func() (*seriesEntry, error) {
		p.splitter.mu.Lock()
		defer p.splitter.mu.Unlock()
		return p.splitter.entry(maturity)
	}()
	if err != nil {
		return decimal.Zero, err
	}
	if err := e.yt.Transfer(account, p.account, ytIn); err != nil {
		return decimal.Zero, err
	}
	if _, err := p.ammVault.SwapPTOut(pool.ID(), p.account, ytIn, decimal.Zero); err != nil {
		return decimal.Zero, fmt.Errorf("sell yield claims: %w", err)
	}
	got, err := p.splitter.Combine(p.account, maturity, ytIn)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sell yield claims: %w", err)
	}
	net := got.Sub(cost)
	if net.Sign() < 0 {
		net = decimal.Zero
	}
	if net.Sign() > 0 {
		if err := p.asset.Transfer(p.account, account, net); err != nil {
			return decimal.Zero, err
		}
	}
	return net, nil
}
