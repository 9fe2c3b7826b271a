package model

import (
	"time"

	"github.com/shopspring/decimal"

	"YieldRoller/internal/amm"
	"YieldRoller/internal/token"
)

// ExcessKind identifies the one-sided leftover after combining equal
// amounts of principal and yield claims.
type ExcessKind int

const (
	ExcessNone ExcessKind = iota
	ExcessPrincipal
	ExcessYield
)

func (k ExcessKind) String() string {
	switch k {
	case ExcessPrincipal:
		return "PRINCIPAL"
	case ExcessYield:
		return "YIELD"
	default:
		return "NONE"
	}
}

// Series ties one maturity's principal/yield claim pair to its AMM pool.
// The roller holds at most one at a time behind a nil-able pointer, so a
// series is either fully present or absent: no partially-set state.
type Series struct {
	PT        *token.Token
	YT        *token.Token
	Pool      *amm.Pool
	PoolID    string
	InitScale decimal.Decimal
	Maturity  time.Time
	PTIndex   int
}

// Decomposition is the constituent value behind a share amount: loose and
// pooled reserve asset, principal claims, yield claims and liquidity
// tokens. Derived on demand, never stored.
type Decomposition struct {
	Asset decimal.Decimal
	PT    decimal.Decimal
	YT    decimal.Decimal
	LP    decimal.Decimal
}

// SponsorRequest is the roller's half of the two-phase sponsor handshake:
// the adapter must answer it by invoking the sponsor callback exactly once
// before returning control.
type SponsorRequest struct {
	ID      string
	Sponsor string
	At      time.Time
}
