package vault

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"YieldRoller/internal/model"
	"YieldRoller/internal/protocol"
	"YieldRoller/internal/recorder"
	"YieldRoller/internal/solver"
)

// nextMaturity rounds months forward and lands on the first of that month.
func nextMaturity(now time.Time, months int) time.Time {
	t := now.UTC().AddDate(0, months, 0)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Roll closes out any prior series and opens the next one. The first call
// is exempt from the roll window; afterwards the call fails until
// lastRoll + RollDistance, inclusive. A matured active series is settled
// first; an unmatured one is exited early with its leftover value estimated
// into the cash ledger. The caller tops the vault up to the minimum seed if
// it is short, then the adapter is handed a sponsor request it must answer
// through OnSponsorWindowOpened before returning.
func (r *Roller) Roll(caller string) error {
	r.mu.Lock()
	now := r.now()
	if r.rolled {
		if next := r.lastRoll.Add(r.params.RollDistance); now.Before(next) {
			r.mu.Unlock()
			return fmt.Errorf("roll: next window at %s: %w", next.Format(time.RFC3339), ErrWindowClosed)
		}
	}
	if r.series != nil {
		if !now.Before(r.series.Maturity) {
			if err := r.settleLocked(caller); err != nil {
				r.mu.Unlock()
				return fmt.Errorf("roll: %w", err)
			}
		} else if err := r.earlyExitLocked(); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("roll: %w", err)
		}
	}

	seed := r.asset.BalanceOf(r.account)
	topUp := decimal.Zero
	if seed.LessThan(r.params.MinSeed) {
		topUp = r.params.MinSeed.Sub(seed)
		if err := r.asset.Transfer(caller, r.account, topUp); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("roll: seed top-up: %w", err)
		}
		seed = r.params.MinSeed
	}

	req := model.SponsorRequest{ID: uuid.NewString(), Sponsor: caller, At: now}
	r.pending = &req
	adapter := r.adapter
	r.mu.Unlock()

	err := adapter.OpenSponsorWindow(req, r.OnSponsorWindowOpened)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.pending = nil
		r.refundTopUpLocked(caller, topUp)
		return fmt.Errorf("roll: %w", err)
	}
	if r.pending != nil {
		r.pending = nil
		r.refundTopUpLocked(caller, topUp)
		return fmt.Errorf("roll: adapter did not honor the sponsor window")
	}
	r.lastRoll = now
	r.rolled = true

	s := r.series
	rec := &recorder.RollRecord{
		PoolID:      s.PoolID,
		Maturity:    s.Maturity.Unix(),
		TargetRate:  r.lastTargetRate,
		Issued:      r.lastIssued,
		SeedBalance: seed,
		CashAfter:   r.cash,
	}
	if err := r.rec.RecordRoll(rec); err != nil {
		r.log.WithError(err).Warn("record roll failed")
	}
	r.log.WithFields(map[string]interface{}{
		"pool":     s.PoolID,
		"maturity": s.Maturity.Format(time.RFC3339),
		"rate":     r.lastTargetRate.String(),
		"seed":     seed.String(),
	}).Info("rolled into new series")
	return nil
}

// refundTopUpLocked returns the caller's seed top-up after a failed sponsor
// handshake, capped at what the vault still holds loose.
func (r *Roller) refundTopUpLocked(caller string, topUp decimal.Decimal) {
	if topUp.Sign() <= 0 {
		return
	}
	refund := decimal.Min(topUp, r.asset.BalanceOf(r.account))
	if refund.Sign() <= 0 {
		return
	}
	if err := r.asset.Transfer(r.account, caller, refund); err != nil {
		r.log.WithError(err).Warn("seed top-up refund failed")
	}
}

// OnSponsorWindowOpened is the adapter's half of the two-phase sponsor
// handshake. It sponsors the claim pair and pool for the next maturity and
// seeds the pool onto the target rate: equilibrium solved against the
// pre-join empty pool, ratio-preserving issuance, one-sided join, a single
// rebalancing sale of the issued claims, then a second join with the sale
// proceeds. Order-sensitive: the issuance sizing depends on the pre-join
// reserves.
func (r *Roller) OnSponsorWindowOpened(caller string, req model.SponsorRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil || caller != r.adapter.Account() || req.ID != r.pending.ID {
		return fmt.Errorf("sponsor window: caller %s: %w", caller, ErrUnauthorizedCallback)
	}
	r.pending = nil
	now := r.now()

	target := r.params.FallbackRate
	if r.prevPool != nil {
		if twar, err := r.prevPool.TimeWeightedRate(r.params.OracleWindow); err == nil {
			target = twar
		}
	}

	maturity := nextMaturity(now, r.params.TargetDuration)
	pt, yt, pool, err := r.periphery.SponsorSeries(maturity)
	if err != nil {
		return fmt.Errorf("sponsor window: %w", err)
	}

	scale := r.adapter.Scale()
	eqPT, eqAsset, err := solver.EquilibriumReserves(target, maturity, now,
		decimal.Zero, decimal.Zero, decimal.Zero, scale, pool.Params())
	if err != nil {
		return fmt.Errorf("sponsor window: solve equilibrium: %w", err)
	}

	seed := r.asset.BalanceOf(r.account)
	issue, err := solver.IssuanceSplit(seed, eqPT, eqAsset, scale, r.adapter.IssuanceFee())
	if err != nil {
		return fmt.Errorf("sponsor window: size issuance: %w", err)
	}
	claims := decimal.Zero
	if issue.Sign() > 0 {
		claims, err = r.splitter.Issue(r.account, maturity, issue)
		if err != nil {
			return fmt.Errorf("sponsor window: issue: %w", err)
		}
	}
	if _, _, _, err := r.bridge.join(pool.ID(), decimal.Zero, seed.Sub(issue), decimal.Zero); err != nil {
		return fmt.Errorf("sponsor window: seed join: %w", err)
	}
	if claims.Sign() > 0 {
		if _, err := r.bridge.sellPT(pool.ID(), claims, decimal.Zero); err != nil {
			return fmt.Errorf("sponsor window: rate swap: %w", err)
		}
	}

	s := &model.Series{
		PT:        pt,
		YT:        yt,
		Pool:      pool,
		PoolID:    pool.ID(),
		InitScale: scale,
		Maturity:  maturity,
		PTIndex:   pool.PTIndex(),
	}
	if rest := r.asset.BalanceOf(r.account); rest.Sign() > 0 {
		if _, err := r.deployLocked(s, rest); err != nil {
			return fmt.Errorf("sponsor window: second join: %w", err)
		}
	}
	r.series = s
	r.lastTargetRate = target
	r.lastIssued = claims
	return nil
}

// earlyExitLocked unwinds an unmatured active series: full pool exit,
// combine, and a mark-to-market estimate of the one-sided leftover folded
// into the cash ledger. The leftover claims are parked for CashAssets.
func (r *Roller) earlyExitLocked() error {
	s := r.series

	ptR, assetR, lpSupply, err := r.bridge.reserves(s.Pool)
	if err != nil {
		return fmt.Errorf("early exit: %w", err)
	}
	spot, spotErr := solver.PTSpotPrice(ptR, assetR, lpSupply, s.InitScale, s.Maturity, r.now(), s.Pool.Params())

	lpBal := s.Pool.LPToken().BalanceOf(r.account)
	_, excess, kind, err := r.exitAndCombineLocked(lpBal, s.PT.BalanceOf(r.account), s.YT.BalanceOf(r.account))
	if err != nil {
		return fmt.Errorf("early exit: %w", err)
	}

	estimate := decimal.Zero
	if excess.Sign() > 0 && spotErr == nil {
		switch kind {
		case model.ExcessPrincipal:
			estimate = excess.Mul(spot).Div(s.InitScale)
		case model.ExcessYield:
			estimate = excess.Mul(one.Sub(spot)).Div(s.InitScale)
		}
	}
	if err := r.addCashLocked(estimate); err != nil {
		return fmt.Errorf("early exit: %w", err)
	}

	r.past[s.Maturity.Unix()] = &pastSeries{pt: s.PT, yt: s.YT, maturity: s.Maturity}
	r.prevPool = s.Pool
	r.series = nil
	r.log.WithFields(map[string]interface{}{
		"maturity": s.Maturity.Format(time.RFC3339),
		"excess":   excess.String(),
		"kind":     kind.String(),
		"estimate": estimate.String(),
	}).Info("exited series early")
	return nil
}

func (r *Roller) settleLocked(caller string) error {
	s := r.series
	reward, err := r.splitter.SettleSeries(caller, s.Maturity)
	if err != nil {
		if !errors.Is(err, protocol.ErrAlreadySettled) {
			return fmt.Errorf("settle: %w", err)
		}
		reward = decimal.Zero
	}

	lpBal := s.Pool.LPToken().BalanceOf(r.account)
	assetOut, excess, kind, err := r.exitAndCombineLocked(lpBal, s.PT.BalanceOf(r.account), s.YT.BalanceOf(r.account))
	if err != nil {
		return fmt.Errorf("settle: %w", err)
	}

	recovered := assetOut
	if excess.Sign() > 0 {
		var out decimal.Decimal
		switch kind {
		case model.ExcessPrincipal:
			out, err = r.splitter.Redeem(r.account, s.Maturity, excess)
		case model.ExcessYield:
			out, err = r.splitter.Collect(r.account, s.Maturity, excess)
		}
		if err != nil {
			return fmt.Errorf("settle: %w", err)
		}
		recovered = recovered.Add(out)
	}

	r.prevPool = s.Pool
	r.series = nil

	rec := &recorder.SettleRecord{
		Maturity:  s.Maturity.Unix(),
		Reward:    reward,
		Recovered: recovered,
		CashAfter: r.cash,
	}
	if err := r.rec.RecordSettle(rec); err != nil {
		r.log.WithError(err).Warn("record settle failed")
	}
	r.log.WithFields(map[string]interface{}{
		"maturity":  s.Maturity.Format(time.RFC3339),
		"reward":    reward.String(),
		"recovered": recovered.String(),
	}).Info("settled series")
	return nil
}

// Settle finalizes the matured active series: the split protocol's
// accounting is closed, the caller receives the settlement reward plus the
// adapter's side-collateral, the position is exited and combined, leftover
// principal is redeemed and leftover yield collected at the settled scale,
// and the vault enters cooldown.
func (r *Roller) Settle(caller string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.series == nil {
		return fmt.Errorf("settle: %w", ErrWrongPhase)
	}
	if r.now().Before(r.series.Maturity) {
		return fmt.Errorf("settle: maturity %s not reached: %w",
			r.series.Maturity.Format(time.RFC3339), protocol.ErrNotMatured)
	}
	return r.settleLocked(caller)
}

// CashAssets recovers the parked leftover claims of a past maturity once
// its series has settled, decrementing the cash ledger by what comes back.
// With a series active the freed asset is folded in by depositing it and
// burning the minted shares, so existing holders are not diluted.
func (r *Roller) CashAssets(maturity time.Time) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.past[maturity.Unix()]
	if !ok {
		return decimal.Zero, fmt.Errorf("cash assets: %s: %w", maturity.Format(time.RFC3339), ErrUnknownMaturity)
	}

	recovered := decimal.Zero
	if ptBal := ps.pt.BalanceOf(r.account); ptBal.Sign() > 0 {
		out, err := r.splitter.Redeem(r.account, maturity, ptBal)
		if err != nil {
			return decimal.Zero, fmt.Errorf("cash assets: %w", err)
		}
		recovered = recovered.Add(out)
	}
	if ytBal := ps.yt.BalanceOf(r.account); ytBal.Sign() > 0 {
		out, err := r.splitter.Collect(r.account, maturity, ytBal)
		if err != nil {
			return decimal.Zero, fmt.Errorf("cash assets: %w", err)
		}
		recovered = recovered.Add(out)
	}
	if ps.pt.BalanceOf(r.account).IsZero() && ps.yt.BalanceOf(r.account).IsZero() {
		delete(r.past, maturity.Unix())
	}
	if recovered.Sign() <= 0 {
		return decimal.Zero, nil
	}
	if err := r.addCashLocked(recovered.Neg()); err != nil {
		return decimal.Zero, fmt.Errorf("cash assets: %w", err)
	}

	if r.series != nil {
		vaultLP := r.series.Pool.LPToken().BalanceOf(r.account)
		supply := r.shares.TotalSupply()
		lpOut, err := r.deployLocked(r.series, recovered)
		if err != nil {
			return decimal.Zero, fmt.Errorf("cash assets: fold in: %w", err)
		}
		if supply.Sign() > 0 && vaultLP.Sign() > 0 {
			minted := supply.Mul(lpOut).Div(vaultLP)
			if err := r.shares.Mint(r.account, minted); err != nil {
				return decimal.Zero, err
			}
			if err := r.shares.Burn(r.account, minted); err != nil {
				return decimal.Zero, err
			}
		}
	}

	rec := &recorder.CashFlowRecord{
		Maturity:  maturity.Unix(),
		Recovered: recovered,
		CashAfter: r.cash,
	}
	if err := r.rec.RecordCashFlow(rec); err != nil {
		r.log.WithError(err).Warn("record cash flow failed")
	}
	r.log.WithFields(map[string]interface{}{
		"maturity":  maturity.Format(time.RFC3339),
		"recovered": recovered.String(),
		"cash":      r.cash.String(),
	}).Info("cashed past series assets")
	return recovered, nil
}

// PastMaturities lists maturities with parked claims awaiting CashAssets.
func (r *Roller) PastMaturities() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Time, 0, len(r.past))
	for _, ps := range r.past {
		out = append(out, ps.maturity)
	}
	return out
}
