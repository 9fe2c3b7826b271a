package amm

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"YieldRoller/internal/solver"
	"YieldRoller/internal/token"
)

type testMarket struct {
	clock    time.Time
	vault    *Vault
	factory  *Factory
	pool     *Pool
	pt       *token.Token
	asset    *token.Token
	maturity time.Time
}

func newTestMarket(t *testing.T) *testMarket {
	t.Helper()
	m := &testMarket{
		clock:    time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		maturity: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	m.vault = NewVault("amm:vault")
	m.factory = NewFactory(m.vault, solver.PoolParams{
		TimeStretchYears: decimal.NewFromInt(10),
		FeeIn:            decimal.NewFromFloat(0.95),
		FeeOut:           decimal.NewFromFloat(0.95),
	}, func() time.Time { return m.clock })
	m.pt = token.New("Principal Apr2025", "sP-Apr2025")
	m.asset = token.New("Staked Reserve", "stRSV")
	pool, err := m.factory.CreatePool(m.pt, m.asset, m.maturity, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	m.pool = pool
	return m
}

func (m *testMarket) fund(t *testing.T, tok *token.Token, account string, amount int64) {
	t.Helper()
	if err := tok.Mint(account, decimal.NewFromInt(amount)); err != nil {
		t.Fatalf("mint %s to %s: %v", tok.Symbol(), account, err)
	}
}

func TestInitialJoinIsOneSided(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, m.asset, "alice", 1000)
	m.fund(t, m.pt, "alice", 10)

	if _, _, _, err := m.vault.Join(m.pool.ID(), "alice", decimal.NewFromInt(10), decimal.NewFromInt(100), decimal.Zero); err == nil {
		t.Fatal("expected two-sided initial join to fail")
	}

	lpOut, ptUsed, assetUsed, err := m.vault.Join(m.pool.ID(), "alice", decimal.Zero, decimal.NewFromInt(1000), decimal.Zero)
	if err != nil {
		t.Fatalf("initial join: %v", err)
	}
	if !lpOut.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected 1000 LP for 1000 asset at unit scale, got %s", lpOut)
	}
	if !ptUsed.IsZero() || !assetUsed.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected one-sided consumption, got pt=%s asset=%s", ptUsed, assetUsed)
	}
	ptR, assetR := m.pool.Reserves()
	if !ptR.IsZero() || !assetR.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("unexpected reserves pt=%s asset=%s", ptR, assetR)
	}
	if got := m.pool.LPToken().BalanceOf("alice"); !got.Equal(lpOut) {
		t.Errorf("expected alice to hold %s LP, got %s", lpOut, got)
	}
}

func TestProportionalJoinAndExit(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, m.asset, "alice", 1000)
	m.fund(t, m.pt, "trader", 50)
	m.fund(t, m.pt, "bob", 100)
	m.fund(t, m.asset, "bob", 2000)

	if _, _, _, err := m.vault.Join(m.pool.ID(), "alice", decimal.Zero, decimal.NewFromInt(1000), decimal.Zero); err != nil {
		t.Fatalf("seed join: %v", err)
	}
	// put principal claims into the pool so later joins are two-sided
	if _, err := m.vault.SwapPTIn(m.pool.ID(), "trader", decimal.NewFromInt(50), decimal.Zero); err != nil {
		t.Fatalf("seed swap: %v", err)
	}

	ptR, assetR := m.pool.Reserves()
	supply := m.pool.LPToken().TotalSupply()

	lpOut, ptUsed, assetUsed, err := m.vault.Join(m.pool.ID(), "bob", decimal.NewFromInt(100), decimal.NewFromInt(1000), decimal.Zero)
	if err != nil {
		t.Fatalf("proportional join: %v", err)
	}
	tol := decimal.NewFromFloat(1e-12)
	if !ptUsed.Div(assetUsed).Sub(ptR.Div(assetR)).Abs().LessThanOrEqual(tol) {
		t.Errorf("join not proportional: used %s/%s against reserves %s/%s", ptUsed, assetUsed, ptR, assetR)
	}
	wantLP := supply.Mul(ptUsed).Div(ptR)
	if !lpOut.Sub(wantLP).Abs().LessThanOrEqual(tol) {
		t.Errorf("expected %s LP, got %s", wantLP, lpOut)
	}

	ptOut, assetOut, err := m.vault.Exit(m.pool.ID(), "bob", lpOut, decimal.Zero, decimal.Zero)
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	roundTol := decimal.NewFromFloat(1e-12)
	if ptOut.Sub(ptUsed).Abs().GreaterThan(roundTol) || assetOut.Sub(assetUsed).Abs().GreaterThan(roundTol) {
		t.Errorf("exit not inverse of join: got %s/%s, put in %s/%s", ptOut, assetOut, ptUsed, assetUsed)
	}
	if got := m.pool.LPToken().BalanceOf("bob"); !got.IsZero() {
		t.Errorf("expected bob's LP burned, got %s", got)
	}
}

// A caller sizing a proportional join with the same divisions the vault
// runs internally holds exactly the amounts it offers; the join must not
// round its consumption past them.
func TestJoinConsumesAtMostOffered(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, m.asset, "alice", 1000)
	m.fund(t, m.pt, "trader", 50)

	if _, _, _, err := m.vault.Join(m.pool.ID(), "alice", decimal.Zero, decimal.NewFromInt(1000), decimal.Zero); err != nil {
		t.Fatalf("seed join: %v", err)
	}
	if _, err := m.vault.SwapPTIn(m.pool.ID(), "trader", decimal.NewFromInt(50), decimal.Zero); err != nil {
		t.Fatalf("seed swap: %v", err)
	}

	// non-terminating thirds of the reserves, truncated by division the way
	// any proportional sizing is
	ptR, assetR := m.pool.Reserves()
	three := decimal.NewFromInt(3)
	ptIn := ptR.Div(three)
	assetIn := assetR.Div(three)
	if err := m.pt.Mint("bob", ptIn); err != nil {
		t.Fatalf("mint claims: %v", err)
	}
	if err := m.asset.Mint("bob", assetIn); err != nil {
		t.Fatalf("mint asset: %v", err)
	}

	lpOut, ptUsed, assetUsed, err := m.vault.Join(m.pool.ID(), "bob", ptIn, assetIn, decimal.Zero)
	if err != nil {
		t.Fatalf("join with exact balances: %v", err)
	}
	if lpOut.Sign() <= 0 {
		t.Fatalf("expected liquidity minted, got %s", lpOut)
	}
	if ptUsed.GreaterThan(ptIn) {
		t.Errorf("join consumed %s claims of the %s offered", ptUsed, ptIn)
	}
	if assetUsed.GreaterThan(assetIn) {
		t.Errorf("join consumed %s asset of the %s offered", assetUsed, assetIn)
	}
}

func TestSwapRaisesImpliedRate(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, m.asset, "alice", 1000)
	m.fund(t, m.pt, "trader", 10)

	if _, _, _, err := m.vault.Join(m.pool.ID(), "alice", decimal.Zero, decimal.NewFromInt(1000), decimal.Zero); err != nil {
		t.Fatalf("seed join: %v", err)
	}
	before, err := m.pool.ImpliedRate()
	if err != nil {
		t.Fatalf("ImpliedRate: %v", err)
	}

	out, err := m.vault.SwapPTIn(m.pool.ID(), "trader", decimal.NewFromInt(10), decimal.Zero)
	if err != nil {
		t.Fatalf("SwapPTIn: %v", err)
	}
	if out.Sign() <= 0 || out.GreaterThanOrEqual(decimal.NewFromInt(10)) {
		t.Fatalf("expected proceeds in (0, 10), got %s", out)
	}
	if got := m.asset.BalanceOf("trader"); !got.Equal(out) {
		t.Errorf("expected trader to receive %s asset, got %s", out, got)
	}

	after, err := m.pool.ImpliedRate()
	if err != nil {
		t.Fatalf("ImpliedRate: %v", err)
	}
	if !after.GreaterThan(before) {
		t.Errorf("selling principal should raise the rate: %s -> %s", before, after)
	}
}

func TestSwapSlippageGuards(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, m.asset, "alice", 1000)
	m.fund(t, m.pt, "trader", 10)

	if _, _, _, err := m.vault.Join(m.pool.ID(), "alice", decimal.Zero, decimal.NewFromInt(1000), decimal.Zero); err != nil {
		t.Fatalf("seed join: %v", err)
	}
	if _, err := m.vault.SwapPTIn(m.pool.ID(), "trader", decimal.NewFromInt(10), decimal.NewFromInt(11)); !errors.Is(err, ErrSlippage) {
		t.Errorf("expected ErrSlippage selling, got %v", err)
	}
	if _, err := m.vault.SwapPTIn(m.pool.ID(), "trader", decimal.NewFromInt(10), decimal.Zero); err != nil {
		t.Fatalf("SwapPTIn: %v", err)
	}
	if _, err := m.vault.SwapPTOut(m.pool.ID(), "trader", decimal.NewFromInt(5), decimal.NewFromFloat(0.0001)); !errors.Is(err, ErrSlippage) {
		t.Errorf("expected ErrSlippage buying, got %v", err)
	}
}

func TestTimeWeightedRate(t *testing.T) {
	m := newTestMarket(t)

	if _, err := m.pool.TimeWeightedRate(time.Hour); !errors.Is(err, ErrNoObservation) {
		t.Fatalf("expected ErrNoObservation on a fresh pool, got %v", err)
	}

	m.fund(t, m.asset, "alice", 1000)
	m.fund(t, m.pt, "trader", 10)
	if _, _, _, err := m.vault.Join(m.pool.ID(), "alice", decimal.Zero, decimal.NewFromInt(1000), decimal.Zero); err != nil {
		t.Fatalf("seed join: %v", err)
	}

	// rate is zero for 30 minutes, then jumps after the swap
	m.clock = m.clock.Add(30 * time.Minute)
	if _, err := m.vault.SwapPTIn(m.pool.ID(), "trader", decimal.NewFromInt(10), decimal.Zero); err != nil {
		t.Fatalf("SwapPTIn: %v", err)
	}
	spot, err := m.pool.ImpliedRate()
	if err != nil {
		t.Fatalf("ImpliedRate: %v", err)
	}

	m.clock = m.clock.Add(30 * time.Minute)
	twar, err := m.pool.TimeWeightedRate(time.Hour)
	if err != nil {
		t.Fatalf("TimeWeightedRate: %v", err)
	}
	want := spot.Div(decimal.NewFromInt(2))
	if twar.Sub(want).Abs().GreaterThan(decimal.NewFromFloat(1e-9)) {
		t.Errorf("expected time-weighted rate %s over the hour, got %s", want, twar)
	}

	// a window covering only the flat stretch since the last trade reports
	// the prevailing rate
	short, err := m.pool.TimeWeightedRate(time.Minute)
	if err != nil {
		t.Fatalf("TimeWeightedRate short window: %v", err)
	}
	if !short.Equal(spot) {
		t.Errorf("expected spot fallback %s, got %s", spot, short)
	}
}

func TestFactoryLookup(t *testing.T) {
	m := newTestMarket(t)

	got, ok := m.factory.PoolFor(m.asset.Symbol(), m.maturity)
	if !ok || got.ID() != m.pool.ID() {
		t.Fatalf("expected to find the created pool, got %v (ok=%v)", got, ok)
	}
	if _, ok := m.factory.PoolFor(m.asset.Symbol(), m.maturity.AddDate(0, 1, 0)); ok {
		t.Error("expected lookup miss for an unknown maturity")
	}
	if _, err := m.factory.CreatePool(m.pt, m.asset, m.maturity, decimal.NewFromInt(1)); err == nil {
		t.Error("expected duplicate pool creation to fail")
	}
}
