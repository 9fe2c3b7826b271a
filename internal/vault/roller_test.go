package vault

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"YieldRoller/internal/amm"
	"YieldRoller/internal/model"
	"YieldRoller/internal/protocol"
	"YieldRoller/internal/solver"
	"YieldRoller/internal/token"
)

const testOperator = "ops:test"

// testWorld wires a roller to in-memory collaborators on a controllable
// clock, mirroring the daemon's wiring.
type testWorld struct {
	clock     time.Time
	asset     *token.Token
	adapter   *protocol.Adapter
	splitter  *protocol.SplitProtocol
	ammVault  *amm.Vault
	factory   *amm.Factory
	periphery *protocol.Periphery
	roller    *Roller
}

func defaultParams() Params {
	return Params{
		MaxRate:        decimal.NewFromInt(2),
		FallbackRate:   decimal.NewFromFloat(0.05),
		TargetDuration: 3,
		RollDistance:   31 * 24 * time.Hour,
		MinSeed:        decimal.NewFromInt(100),
		OracleWindow:   time.Hour,
	}
}

func newTestWorld(t *testing.T, p Params) *testWorld {
	t.Helper()
	w := &testWorld{clock: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)}
	now := func() time.Time { return w.clock }

	w.asset = token.New("Staked Reserve", "stRSV")
	w.adapter = protocol.NewAdapter(
		"adapter:test",
		decimal.NewFromInt(1),
		decimal.NewFromFloat(0.045),
		decimal.NewFromFloat(0.01),
		decimal.NewFromInt(10),
		now,
	)
	w.splitter = protocol.NewSplitProtocol("splitter:test", w.asset, w.adapter, 6*time.Hour, now)
	w.ammVault = amm.NewVault("amm:test")
	w.factory = amm.NewFactory(w.ammVault, solver.PoolParams{
		TimeStretchYears: decimal.NewFromInt(10),
		FeeIn:            decimal.NewFromFloat(0.95),
		FeeOut:           decimal.NewFromFloat(0.95),
	}, now)
	w.periphery = protocol.NewPeriphery("periphery:test", w.splitter, w.factory, w.ammVault, w.asset, decimal.NewFromFloat(1e-6))
	w.roller = New(Deps{
		Account:   "roller:test",
		Operator:  testOperator,
		Asset:     w.asset,
		Splitter:  w.splitter,
		Adapter:   w.adapter,
		Periphery: w.periphery,
		Factory:   w.factory,
		AMM:       w.ammVault,
		Now:       now,
	}, p)

	w.fund(t, testOperator, 10000)
	w.fund(t, "adapter:test", 1000)
	w.fund(t, "periphery:test", 10000)
	return w
}

func (w *testWorld) fund(t *testing.T, account string, amount int64) {
	t.Helper()
	if err := w.asset.Mint(account, decimal.NewFromInt(amount)); err != nil {
		t.Fatalf("fund %s: %v", account, err)
	}
}

func (w *testWorld) roll(t *testing.T) {
	t.Helper()
	if err := w.roller.Roll(testOperator); err != nil {
		t.Fatalf("Roll: %v", err)
	}
}

func TestNextMaturity(t *testing.T) {
	cases := []struct {
		now    time.Time
		months int
		want   time.Time
	}{
		{time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC), 3, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC), 1, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), 1, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)},
		// AddDate normalizes Jan 31 + 1 month into March
		{time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := nextMaturity(tc.now, tc.months); !got.Equal(tc.want) {
			t.Errorf("nextMaturity(%s, %d): expected %s, got %s", tc.now, tc.months, tc.want, got)
		}
	}
}

func TestFirstRollBootstrapsSeries(t *testing.T) {
	w := newTestWorld(t, defaultParams())
	w.roll(t)

	maturity, ok := w.roller.ActiveMaturity()
	if !ok {
		t.Fatal("expected an active series after the first roll")
	}
	want := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	if !maturity.Equal(want) {
		t.Errorf("expected maturity %s, got %s", want, maturity)
	}

	st := w.roller.Status()
	if st.Phase != "ACTIVE" {
		t.Errorf("expected ACTIVE phase, got %s", st.Phase)
	}
	// the pool is seeded onto the fallback rate, no oracle history exists yet
	if st.ImpliedRate.Sub(decimal.NewFromFloat(0.05)).Abs().GreaterThan(decimal.NewFromFloat(1e-4)) {
		t.Errorf("expected implied rate near 0.05, got %s", st.ImpliedRate)
	}

	// the caller topped the empty vault up to the minimum seed
	if got := w.asset.BalanceOf(testOperator); !got.Equal(decimal.NewFromInt(9900)) {
		t.Errorf("expected operator down 100 for the seed, got %s", got)
	}
	// the seed is fully deployed and marked close to par
	if st.TotalAssets.Sub(decimal.NewFromInt(100)).Abs().GreaterThan(decimal.NewFromInt(1)) {
		t.Errorf("expected total assets near 100, got %s", st.TotalAssets)
	}
}

func TestRollWindowGate(t *testing.T) {
	w := newTestWorld(t, defaultParams())
	w.roll(t)

	if err := w.roller.Roll(testOperator); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("expected ErrWindowClosed right after a roll, got %v", err)
	}

	w.clock = w.clock.Add(31*24*time.Hour - time.Second)
	if err := w.roller.Roll(testOperator); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("expected ErrWindowClosed one second early, got %v", err)
	}

	// the window opens at exactly lastRoll + RollDistance
	w.clock = w.clock.Add(time.Second)
	if err := w.roller.Roll(testOperator); err != nil {
		t.Fatalf("expected the roll window open at the boundary: %v", err)
	}
	maturity, ok := w.roller.ActiveMaturity()
	if !ok || !maturity.Equal(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected the series rolled to May, got %s (ok=%v)", maturity, ok)
	}
}

func TestRollEarlyExitParksLeftovers(t *testing.T) {
	w := newTestWorld(t, defaultParams())
	w.roll(t)
	aprMaturity, _ := w.roller.ActiveMaturity()

	// leave a one-sided yield position behind before exiting early
	if err := w.roller.series.YT.Mint(w.roller.Account(), decimal.NewFromInt(5)); err != nil {
		t.Fatalf("mint yield claims: %v", err)
	}

	w.clock = w.clock.Add(31 * 24 * time.Hour)
	w.roll(t)

	past := w.roller.PastMaturities()
	if len(past) != 1 || !past[0].Equal(aprMaturity) {
		t.Fatalf("expected the April maturity parked, got %v", past)
	}
	// excess yield is marked at (1 - spot) per claim, a positive estimate
	if got := w.roller.CashBalance(); got.Sign() <= 0 {
		t.Errorf("expected a positive cash estimate, got %s", got)
	}
}

func TestCashAssetsAfterSettlement(t *testing.T) {
	w := newTestWorld(t, defaultParams())
	w.roll(t)
	aprMaturity, _ := w.roller.ActiveMaturity()
	if err := w.roller.series.YT.Mint(w.roller.Account(), decimal.NewFromInt(5)); err != nil {
		t.Fatalf("mint yield claims: %v", err)
	}
	w.clock = w.clock.Add(31 * 24 * time.Hour)
	w.roll(t)

	if _, err := w.roller.CashAssets(aprMaturity); !errors.Is(err, protocol.ErrNotSettled) {
		t.Fatalf("expected ErrNotSettled before settlement, got %v", err)
	}
	if _, err := w.roller.CashAssets(aprMaturity.AddDate(0, 6, 0)); !errors.Is(err, ErrUnknownMaturity) {
		t.Fatalf("expected ErrUnknownMaturity, got %v", err)
	}

	w.clock = aprMaturity.Add(time.Hour)
	if _, err := w.splitter.SettleSeries("keeper", aprMaturity); err != nil {
		t.Fatalf("SettleSeries: %v", err)
	}

	cashBefore := w.roller.CashBalance()
	recovered, err := w.roller.CashAssets(aprMaturity)
	if err != nil {
		t.Fatalf("CashAssets: %v", err)
	}
	if recovered.Sign() <= 0 {
		t.Fatalf("expected positive recovery, got %s", recovered)
	}
	if got := w.roller.CashBalance(); !got.Equal(cashBefore.Sub(recovered)) {
		t.Errorf("expected cash down by %s, got %s (was %s)", recovered, got, cashBefore)
	}
	if got := w.roller.PastMaturities(); len(got) != 0 {
		t.Errorf("expected the parked maturity drained, got %v", got)
	}
}

func TestSettleLifecycle(t *testing.T) {
	w := newTestWorld(t, defaultParams())

	if err := w.roller.Settle(testOperator); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("expected ErrWrongPhase in cooldown, got %v", err)
	}

	w.roll(t)
	maturity, _ := w.roller.ActiveMaturity()

	if err := w.roller.Settle(testOperator); !errors.Is(err, protocol.ErrNotMatured) {
		t.Fatalf("expected ErrNotMatured before maturity, got %v", err)
	}

	w.clock = maturity.Add(time.Hour)
	operatorBefore := w.asset.BalanceOf(testOperator)
	if err := w.roller.Settle(testOperator); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	if st := w.roller.Status(); st.Phase != "COOLDOWN" {
		t.Errorf("expected COOLDOWN after settle, got %s", st.Phase)
	}
	// settler receives the fee pot plus the adapter's side-collateral
	reward := w.asset.BalanceOf(testOperator).Sub(operatorBefore)
	if reward.LessThan(decimal.NewFromInt(10)) {
		t.Errorf("expected settle reward of at least the stake, got %s", reward)
	}

	// the unwound seed is back as raw balance, minus issuance fees
	total, err := w.roller.TotalAssets()
	if err != nil {
		t.Fatalf("TotalAssets: %v", err)
	}
	if total.LessThan(decimal.NewFromInt(99)) || total.GreaterThan(decimal.NewFromInt(101)) {
		t.Errorf("expected total assets near the 100 seeded, got %s", total)
	}
}

// A roll that dies inside the sponsor handshake must hand the caller's seed
// top-up back instead of stranding it in the vault.
func TestRollFailureRefundsTopUp(t *testing.T) {
	w := newTestWorld(t, defaultParams())

	// occupy the maturity the roll will target so the sponsor step fails
	if _, _, _, err := w.periphery.SponsorSeries(nextMaturity(w.clock, defaultParams().TargetDuration)); err != nil {
		t.Fatalf("SponsorSeries: %v", err)
	}

	if err := w.roller.Roll(testOperator); err == nil {
		t.Fatal("expected the roll to fail on the occupied maturity")
	}
	if got := w.asset.BalanceOf(testOperator); !got.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("expected the seed top-up refunded, got %s", got)
	}
	if got := w.asset.BalanceOf(w.roller.Account()); !got.IsZero() {
		t.Errorf("expected no stranded balance in the vault, got %s", got)
	}
	if _, ok := w.roller.ActiveMaturity(); ok {
		t.Error("expected the vault still in cooldown")
	}
}

func TestSponsorCallbackAuthorization(t *testing.T) {
	w := newTestWorld(t, defaultParams())

	req := model.SponsorRequest{ID: "req-1", Sponsor: testOperator, At: w.clock}
	if err := w.roller.OnSponsorWindowOpened(w.adapter.Account(), req); !errors.Is(err, ErrUnauthorizedCallback) {
		t.Fatalf("expected ErrUnauthorizedCallback with no pending request, got %v", err)
	}

	w.roller.pending = &model.SponsorRequest{ID: "req-1", Sponsor: testOperator, At: w.clock}
	if err := w.roller.OnSponsorWindowOpened("mallory", req); !errors.Is(err, ErrUnauthorizedCallback) {
		t.Fatalf("expected ErrUnauthorizedCallback for a foreign caller, got %v", err)
	}
	if err := w.roller.OnSponsorWindowOpened(w.adapter.Account(), model.SponsorRequest{ID: "req-2"}); !errors.Is(err, ErrUnauthorizedCallback) {
		t.Fatalf("expected ErrUnauthorizedCallback for a mismatched request, got %v", err)
	}
	w.roller.pending = nil
}

func TestAdminSetters(t *testing.T) {
	w := newTestWorld(t, defaultParams())

	if err := w.roller.SetMaxRate("mallory", decimal.NewFromInt(3)); !errors.Is(err, ErrNotOperator) {
		t.Fatalf("expected ErrNotOperator, got %v", err)
	}
	if err := w.roller.SetMaxRate(testOperator, decimal.NewFromInt(3)); err != nil {
		t.Fatalf("SetMaxRate: %v", err)
	}
	if got := w.roller.Params().MaxRate; !got.Equal(decimal.NewFromInt(3)) {
		t.Errorf("expected max rate 3, got %s", got)
	}

	if err := w.roller.SetFallbackRate(testOperator, decimal.NewFromFloat(0.04)); err != nil {
		t.Fatalf("SetFallbackRate: %v", err)
	}
	if err := w.roller.SetTargetDuration(testOperator, 0); err == nil {
		t.Error("expected zero-month duration rejected")
	}
	if err := w.roller.SetTargetDuration(testOperator, 6); err != nil {
		t.Fatalf("SetTargetDuration: %v", err)
	}
	if err := w.roller.SetRollDistance(testOperator, -time.Hour); err == nil {
		t.Error("expected negative roll distance rejected")
	}
	if err := w.roller.SetRollDistance(testOperator, 48*time.Hour); err != nil {
		t.Fatalf("SetRollDistance: %v", err)
	}
	p := w.roller.Params()
	if p.TargetDuration != 6 || p.RollDistance != 48*time.Hour {
		t.Errorf("unexpected params after updates: %+v", p)
	}
}
