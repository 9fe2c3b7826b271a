package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"YieldRoller/internal/amm"
	"YieldRoller/internal/solver"
)

// sellWorld is a protoWorld with a pool the periphery can trade against.
type sellWorld struct {
	*protoWorld
	factory   *amm.Factory
	ammVault  *amm.Vault
	periphery *Periphery
	pool      *amm.Pool
	maturity  time.Time
}

func newSellWorld(t *testing.T, yearly float64, maturity time.Time) *sellWorld {
	t.Helper()
	w := &sellWorld{protoWorld: newProtoWorld(t, yearly, 0, 0), maturity: maturity}
	w.ammVault = amm.NewVault("amm")
	w.factory = amm.NewFactory(w.ammVault, solver.PoolParams{
		TimeStretchYears: decimal.NewFromInt(10),
		FeeIn:            decimal.NewFromFloat(0.95),
		FeeOut:           decimal.NewFromFloat(0.95),
	}, func() time.Time { return w.clock })
	w.periphery = NewPeriphery("desk", w.splitter, w.factory, w.ammVault, w.asset, decimal.NewFromFloat(1e-6))

	_, _, pool, err := w.periphery.SponsorSeries(maturity)
	if err != nil {
		t.Fatalf("SponsorSeries: %v", err)
	}
	w.pool = pool

	// liquidity, claims in the pool, and desk working capital
	w.fund(t, "lp", 1000)
	if _, _, _, err := w.ammVault.Join(pool.ID(), "lp", decimal.Zero, decimal.NewFromInt(1000), decimal.Zero); err != nil {
		t.Fatalf("seed join: %v", err)
	}
	w.fund(t, "alice", 100)
	if _, err := w.splitter.Issue("alice", maturity, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := w.ammVault.SwapPTIn(pool.ID(), "alice", decimal.NewFromInt(100), decimal.Zero); err != nil {
		t.Fatalf("seed swap: %v", err)
	}
	w.fund(t, "desk", 1000)
	return w
}

func TestSponsorSeriesCreatesPool(t *testing.T) {
	w := newSellWorld(t, 0, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	got, ok := w.factory.PoolFor(w.asset.Symbol(), w.maturity)
	if !ok || got.ID() != w.pool.ID() {
		t.Fatalf("expected the sponsored pool registered with the factory")
	}
	if _, _, _, err := w.periphery.SponsorSeries(w.maturity); err == nil {
		t.Error("expected re-sponsoring the same maturity to fail")
	}
}

func TestSellYTsPaysNetProceeds(t *testing.T) {
	w := newSellWorld(t, 0, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	ytIn := decimal.NewFromInt(50)
	ytBefore, assetBefore := ytTokenOf(t, w), w.asset.BalanceOf("alice")

	net, err := w.periphery.SellYTs("alice", w.pool, w.maturity, ytIn)
	if err != nil {
		t.Fatalf("SellYTs: %v", err)
	}
	if net.Sign() <= 0 {
		t.Fatalf("expected positive net proceeds, got %s", net)
	}
	// a yield claim is worth far less than an underlying unit
	if net.GreaterThan(ytIn) {
		t.Fatalf("net %s exceeds the claims sold", net)
	}
	if got := ytTokenOf(t, w); !got.Equal(ytBefore.Sub(ytIn)) {
		t.Errorf("expected %s yield claims left, got %s", ytBefore.Sub(ytIn), got)
	}
	if got := w.asset.BalanceOf("alice"); !got.Equal(assetBefore.Add(net)) {
		t.Errorf("expected alice's asset up by %s, got %s", net, got.Sub(assetBefore))
	}
}

// With the conversion scale well above its level at issuance, the combine
// recovers less than the principal purchase costs.
func TestSellYTsUneconomic(t *testing.T) {
	w := newSellWorld(t, 0.05, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	w.clock = w.clock.Add(365 * 24 * time.Hour)

	ytBefore := ytTokenOf(t, w)
	if _, err := w.periphery.SellYTs("alice", w.pool, w.maturity, decimal.NewFromInt(50)); !errors.Is(err, ErrUneconomicSale) {
		t.Fatalf("expected ErrUneconomicSale, got %v", err)
	}
	// a failed quote moves no balances
	if got := ytTokenOf(t, w); !got.Equal(ytBefore) {
		t.Errorf("expected yield claims untouched, got %s (had %s)", got, ytBefore)
	}
}

func TestSellYTsZeroInput(t *testing.T) {
	w := newSellWorld(t, 0, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	net, err := w.periphery.SellYTs("alice", w.pool, w.maturity, decimal.Zero)
	if err != nil || !net.IsZero() {
		t.Errorf("expected zero-for-zero, got %s (err %v)", net, err)
	}
}

func ytTokenOf(t *testing.T, w *sellWorld) decimal.Decimal {
	t.Helper()
	e, err := func() (*seriesEntry, error) {
		w.splitter.mu.Lock()
		defer w.splitter.mu.Unlock()
		return w.splitter.entry(w.maturity)
	}()
	if err != nil {
		t.Fatalf("series lookup: %v", err)
	}
	return e.yt.BalanceOf("alice")
}
