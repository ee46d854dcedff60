package risk

import (
	"strings"

	"github.com/mbd888/fraudradar/internal/transactions"
)

// Reason strings, in rule order.
const (
	ReasonHighIPRisk     = "high IP risk score"
	ReasonNewDevice      = "device not recognized for this user"
	ReasonLargeAmount    = "amount well above the usual pattern"
	ReasonNewAccount     = "very recent account"
	ReasonRiskyCorridor  = "country and payment method combination with higher historical fraud rate (simulated)"
	ReasonWeakSignals    = "weak accumulated signals"
	ipRiskReasonCutoff   = 0.7
	newAccountCutoffDays = 30.0
)

var (
	riskyCountries = map[string]bool{"BR": true, "MX": true}
	riskyPayments  = map[string]bool{"pix": true, "boleto": true, "transfer": true}
)

type rule struct {
	reason string
	match  func(tx *transactions.Transaction) bool
}

// rules are evaluated in order; each match appends its reason.
var rules = []rule{
	{ReasonHighIPRisk, func(tx *transactions.Transaction) bool { return tx.IPRisk > ipRiskReasonCutoff }},
	{ReasonNewDevice, func(tx *transactions.Transaction) bool { return tx.IsNewDevice }},
	{ReasonLargeAmount, func(tx *transactions.Transaction) bool { return tx.Amount > largeAmount }},
	{ReasonNewAccount, func(tx *transactions.Transaction) bool { return tx.AccountAgeDays < newAccountCutoffDays }},
	{ReasonRiskyCorridor, func(tx *transactions.Transaction) bool {
		return riskyCountries[tx.Country] && riskyPayments[tx.PaymentMethod]
	}},
}

// Reasons explains a transaction. The result is never empty: when no rule
// fires it is the single weak-signals reason.
func Reasons(tx *transactions.Transaction) []string {
	var reasons []string
	for _, r := range rules {
		if r.match(tx) {
			reasons = append(reasons, r.reason)
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, ReasonWeakSignals)
	}
	return reasons
}

// FormatExplanation renders "Level HIGH. Reasons: a; b".
func FormatExplanation(level transactions.Level, reasons []string) string {
	return "Level " + string(level) + ". Reasons: " + strings.Join(reasons, "; ")
}
