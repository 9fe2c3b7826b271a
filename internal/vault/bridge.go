package vault

import (
	"github.com/shopspring/decimal"

	"YieldRoller/internal/amm"
)

// liquidityBridge is the vault's only path to the AMM: joins, exits, swaps
// and reserve reads all go through it, acting under the vault's account, so
// nothing elsewhere caches stale reserves within one operation. Fresh pools
// are joined without minimum-output protection; callers add their own
// bounds where front-running is possible.
type liquidityBridge struct {
	amm     *amm.Vault
	account string
}

func newLiquidityBridge(v *amm.Vault, account string) *liquidityBridge {
	return &liquidityBridge{amm: v, account: account}
}

// reserves returns the pool's (principal, asset) reserves by role plus the
// liquidity token supply, read fresh from the AMM vault.
func (b *liquidityBridge) reserves(pool *amm.Pool) (ptR, assetR, lpSupply decimal.Decimal, err error) {
	res, lp, err := b.amm.PoolTokens(pool.ID())
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	return res[pool.PTIndex()], res[1-pool.PTIndex()], lp, nil
}

func (b *liquidityBridge) join(poolID string, ptIn, assetIn, minLP decimal.Decimal) (lpOut, ptUsed, assetUsed decimal.Decimal, err error) {
	return b.amm.Join(poolID, b.account, ptIn, assetIn, minLP)
}

func (b *liquidityBridge) exit(poolID string, lpIn, minPT, minAsset decimal.Decimal) (ptOut, assetOut decimal.Decimal, err error) {
	return b.amm.Exit(poolID, b.account, lpIn, minPT, minAsset)
}

func (b *liquidityBridge) sellPT(poolID string, ptIn, minAssetOut decimal.Decimal) (decimal.Decimal, error) {
	return b.amm.SwapPTIn(poolID, b.account, ptIn, minAssetOut)
}
