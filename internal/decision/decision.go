// Package decision turns the scorer bundles into a block/allow verdict.
//
// Rules are evaluated in a fixed order and each one that fires contributes a
// human-readable reason. The transaction is blocked when at least one rule
// fires. Only the first MaxReasons reasons are reported.
package decision

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/Muneeb-Masood/EC-ML/internal/geo"
	"github.com/Muneeb-Masood/EC-ML/internal/login"
	"github.com/Muneeb-Masood/EC-ML/internal/withdrawal"
)

// MaxReasons caps the number of reasons in a decision.
const MaxReasons = 5

// SystemErrorReason is reported when evaluation itself fails.
const SystemErrorReason = "Decision system error"

// Default thresholds.
const (
	DefaultMLFraud               = 0.5
	DefaultUnlikelyTravel        = 0.7
	DefaultExcessiveLogins       = 0.6
	DefaultExcessiveUniqueLogins = 0.5
	DefaultLargeWithdrawal       = 0.4
	DefaultMoneyLaundering       = 0.1
)

// Thresholds are the score levels at or above which a rule fires.
type Thresholds struct {
	MLFraud               float64
	UnlikelyTravel        float64
	ExcessiveLogins       float64
	ExcessiveUniqueLogins float64
	LargeWithdrawal       float64
	MoneyLaundering       float64
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MLFraud:               DefaultMLFraud,
		UnlikelyTravel:        DefaultUnlikelyTravel,
		ExcessiveLogins:       DefaultExcessiveLogins,
		ExcessiveUniqueLogins: DefaultExcessiveUniqueLogins,
		LargeWithdrawal:       DefaultLargeWithdrawal,
		MoneyLaundering:       DefaultMoneyLaundering,
	}
}

// MissingSignalPolicy says what an absent or failed bundle means.
type MissingSignalPolicy string

const (
	// PolicySuppress skips the rules of a missing bundle.
	PolicySuppress MissingSignalPolicy = "suppress"
	// PolicyFlag additionally reports the missing bundle as a reason.
	PolicyFlag MissingSignalPolicy = "flag"
)

// Valid reports whether p is a known policy.
func (p MissingSignalPolicy) Valid() bool {
	return p == PolicySuppress || p == PolicyFlag
}

// Inputs are the bundles produced for one request. Any of them may be nil.
// A withdrawal bundle that is not applicable is never treated as missing.
type Inputs struct {
	MLScore    *float64
	Clusters   *geo.Report
	Login      *login.Scores
	Withdrawal *withdrawal.Scores
}

// Reason is one fired rule.
type Reason struct {
	Rule string // stable rule name, used for metrics
	Text string
}

// Reasons serialize as an object keyed "1".."n" in evaluation order.
type Reasons []Reason

// MarshalJSON keeps evaluation order, which a Go map would not.
func (r Reasons) MarshalJSON() ([]byte, error) {
	first := 1
	if len(r) == 1 && r[0].Rule == RuleSystemError {
		first = 0
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, reason := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(strconv.Itoa(first + i)))
		buf.WriteByte(':')
		text, err := json.Marshal(reason.Text)
		if err != nil {
			return nil, err
		}
		buf.Write(text)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Texts returns the reason strings in order.
func (r Reasons) Texts() []string {
	out := make([]string, len(r))
	for i, reason := range r {
		out[i] = reason.Text
	}
	return out
}

// Decision is the aggregated verdict.
type Decision struct {
	Block   bool    `json:"block_transaction"`
	Reasons Reasons `json:"block_reasons"`
}

// Failed reports whether the decision is the fail-open fallback.
func (d Decision) Failed() bool {
	return len(d.Reasons) == 1 && d.Reasons[0].Rule == RuleSystemError
}
