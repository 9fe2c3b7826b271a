package recorder

import "github.com/shopspring/decimal"

// RollRecord captures one completed roll into a new series.
type RollRecord struct {
	PoolID      string
	Maturity    int64
	TargetRate  decimal.Decimal
	Issued      decimal.Decimal
	SeedBalance decimal.Decimal
	CashAfter   decimal.Decimal
}

// SettleRecord captures the settlement of a maturing series.
type SettleRecord struct {
	Maturity  int64
	Reward    decimal.Decimal
	Recovered decimal.Decimal
	CashAfter decimal.Decimal
}

// ShareFlowRecord captures a share-mutating user operation.
type ShareFlowRecord struct {
	Op         string // "DEPOSIT", "MINT", "WITHDRAW", "REDEEM", "EJECT"
	Account    string
	Assets     decimal.Decimal
	Shares     decimal.Decimal
	ExcessKind string
	Excess     decimal.Decimal
}

// CashFlowRecord captures a recovery against the cash ledger.
type CashFlowRecord struct {
	Maturity  int64
	Recovered decimal.Decimal
	CashAfter decimal.Decimal
}

// ParamChangeRecord captures an administrative parameter change.
type ParamChangeRecord struct {
	Name string
	Old  string
	New  string
}

// Recorder persists vault history for analysis.
type Recorder interface {
	RecordRoll(rec *RollRecord) error
	RecordSettle(rec *SettleRecord) error
	RecordShareFlow(rec *ShareFlowRecord) error
	RecordCashFlow(rec *CashFlowRecord) error
	RecordParamChange(rec *ParamChangeRecord) error
	Close() error
}
