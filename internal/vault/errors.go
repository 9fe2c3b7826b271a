package vault

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrWindowClosed means Roll was called before the minimum inter-roll
	// distance elapsed.
	ErrWindowClosed = errors.New("roll window closed")
	// ErrWrongPhase means an active-only operation was called in cooldown.
	ErrWrongPhase = errors.New("no active series")
	// ErrUnauthorizedCallback means the sponsor callback came from anyone
	// other than the registered adapter, or carried a stale request.
	ErrUnauthorizedCallback = errors.New("sponsor callback not authorized")
	// ErrInsufficientLiquidity means a withdrawal's one-sided excess exceeds
	// the pool's liquidity bound.
	ErrInsufficientLiquidity = errors.New("excess exceeds liquidity bound")
	// ErrOutOfRange means the cash ledger would leave its supported range.
	ErrOutOfRange = errors.New("cash ledger out of range")
	// ErrNotOperator rejects administrative calls from non-operators.
	ErrNotOperator = errors.New("caller is not the operator")
	// ErrUnknownMaturity means CashAssets was asked about a maturity the
	// vault never exited into the past set.
	ErrUnknownMaturity = errors.New("no past series at maturity")
)

// maxLedger bounds the cash ledger's magnitude.
var maxLedger = decimal.New(1, 27)
