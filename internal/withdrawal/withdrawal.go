// Package withdrawal scores the size, frequency and failure rate of
// withdrawals against the wallet they drain.
package withdrawal

import (
	"encoding/json"

	"github.com/Muneeb-Masood/EC-ML/internal/jsonnum"
)

// Context is the withdrawal_data block of a request. Fields are kept raw so
// a bad value is reported against its name instead of failing the request.
type Context struct {
	CurrentWalletBalance      jsonnum.Value `json:"current_wallet_balance"`
	WithdrawalAmount          jsonnum.Value `json:"withdrawal_amount"`
	ConversionRate            jsonnum.Value `json:"conversion_rate"`
	AvgWithdrawalFrequency14d jsonnum.Value `json:"avg_withdrawal_frequency_14d"`
	Withdrawals24h            jsonnum.Value `json:"withdrawals_24h"`
	FailedWithdrawals24h      jsonnum.Value `json:"failed_withdrawals_24h"`
}

// Scores is the withdrawal bundle.
//
// A bundle that is not Applicable (no withdrawal in the request) serializes
// as {} and contributes nothing to the decision. A bundle with Error set
// serializes as {"error": ...}.
type Scores struct {
	LargeWithdrawal            float64 `json:"large_withdrawal_score"`
	WithdrawalsLimitFlag       int     `json:"withdrawals_limit_flag"`
	MoneyLaundering            float64 `json:"money_laundering_score"`
	FailedWithdrawalsLimitFlag int     `json:"failed_withdrawals_limit_flag"`

	Applicable bool   `json:"-"`
	Error      string `json:"-"`
}

// Failed reports whether the bundle carries an error instead of scores.
func (s *Scores) Failed() bool {
	return s != nil && s.Error != ""
}

// Usable reports whether the scores can feed a decision.
func (s *Scores) Usable() bool {
	return s != nil && s.Applicable && s.Error == ""
}

func (s Scores) MarshalJSON() ([]byte, error) {
	switch {
	case s.Error != "":
		return json.Marshal(map[string]string{"error": s.Error})
	case !s.Applicable:
		return []byte("{}"), nil
	}
	type plain Scores
	return json.Marshal(plain(s))
}
