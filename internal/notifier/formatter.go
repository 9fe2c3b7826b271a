package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"YieldRoller/internal/vault"
)

func amt(d decimal.Decimal) string {
	return humanize.CommafWithDigits(d.InexactFloat64(), 6)
}

func pct(d decimal.Decimal) string {
	return humanize.CommafWithDigits(d.Mul(decimal.NewFromInt(100)).InexactFloat64(), 3) + "%"
}

// FormatStatus renders a vault snapshot for Telegram.
func FormatStatus(st vault.Status) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📊 <b>YieldRoller Status</b> | %s\n\n", time.Now().UTC().Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("Phase: %s\n", st.Phase))
	if !st.Maturity.IsZero() {
		b.WriteString(fmt.Sprintf("Maturity: %s\n", st.Maturity.Format("2006-01-02")))
		b.WriteString(fmt.Sprintf("Implied rate: %s\n", pct(st.ImpliedRate)))
	}
	b.WriteString(fmt.Sprintf("Total assets: %s\n", amt(st.TotalAssets)))
	b.WriteString(fmt.Sprintf("Shares outstanding: %s\n", amt(st.TotalShares)))
	if !st.Cash.IsZero() {
		b.WriteString(fmt.Sprintf("Cash ledger: %s\n", amt(st.Cash)))
	}
	return b.String()
}

// FormatRoll announces a completed roll.
func FormatRoll(st vault.Status) string {
	var b strings.Builder
	b.WriteString("🔄 <b>Series rolled</b>\n\n")
	b.WriteString(fmt.Sprintf("New maturity: %s\n", st.Maturity.Format("2006-01-02")))
	b.WriteString(fmt.Sprintf("Seeded rate: %s\n", pct(st.ImpliedRate)))
	b.WriteString(fmt.Sprintf("Total assets: %s\n", amt(st.TotalAssets)))
	return b.String()
}

// FormatSettle announces a settlement into cooldown.
func FormatSettle(st vault.Status) string {
	var b strings.Builder
	b.WriteString("✅ <b>Series settled</b>\n\n")
	b.WriteString(fmt.Sprintf("Total assets: %s\n", amt(st.TotalAssets)))
	if !st.Cash.IsZero() {
		b.WriteString(fmt.Sprintf("Cash ledger: %s\n", amt(st.Cash)))
	}
	b.WriteString("Vault is in cooldown.")
	return b.String()
}

// FormatSweep reports recovered value from past maturities.
func FormatSweep(maturity time.Time, recovered decimal.Decimal) string {
	return fmt.Sprintf("💰 <b>Past series cashed</b>\n\nMaturity: %s\nRecovered: %s",
		maturity.Format("2006-01-02"), amt(recovered))
}
