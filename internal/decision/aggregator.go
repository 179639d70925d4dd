package decision

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Rule names.
const (
	RuleMLFraud               = "ml_fraud"
	RuleSuspiciousCluster     = "suspicious_cluster"
	RuleUnlikelyTravel        = "unlikely_travel"
	RuleExcessiveLogins       = "excessive_logins"
	RuleExcessiveUniqueLogins = "excessive_unique_logins"
	RuleLargeWithdrawal       = "large_withdrawal"
	RuleMoneyLaundering       = "money_laundering"
	RuleFailedWithdrawals     = "failed_withdrawals_limit"
	RuleWithdrawalsLimit      = "withdrawals_limit"
	RuleSignalUnavailable     = "signal_unavailable"
	RuleSystemError           = "system_error"
)

// rule inspects the inputs and returns the reasons it contributes.
type rule func(a *Aggregator, in Inputs) []Reason

// Aggregator applies the decision rules. It is safe for concurrent use.
type Aggregator struct {
	thresholds Thresholds
	policy     MissingSignalPolicy
	logger     *slog.Logger
	rules      []rule
}

// NewAggregator creates an aggregator. An unknown policy falls back to
// PolicySuppress; a nil logger uses slog.Default().
func NewAggregator(t Thresholds, policy MissingSignalPolicy, logger *slog.Logger) *Aggregator {
	if !policy.Valid() {
		policy = PolicySuppress
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		thresholds: t,
		policy:     policy,
		logger:     logger,
		rules:      []rule{mlRule, clusterRule, loginRule, withdrawalRule},
	}
}

// Decide evaluates every rule in order. It never panics: a failure during
// evaluation yields an allow decision with a single system-error reason.
func (a *Aggregator) Decide(in Inputs) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("decision evaluation failed", "panic", r, "stack", string(debug.Stack()))
			d = Decision{Reasons: Reasons{{Rule: RuleSystemError, Text: SystemErrorReason}}}
		}
	}()

	var reasons Reasons
	for _, r := range a.rules {
		reasons = append(reasons, r(a, in)...)
	}
	if len(reasons) > MaxReasons {
		reasons = reasons[:MaxReasons]
	}
	return Decision{Block: len(reasons) > 0, Reasons: reasons}
}

func (a *Aggregator) unavailable(component string) []Reason {
	if a.policy != PolicyFlag {
		return nil
	}
	return []Reason{{Rule: RuleSignalUnavailable, Text: component + " signal unavailable"}}
}

func scored(rule, label string, score, threshold float64) []Reason {
	if score < threshold {
		return nil
	}
	return []Reason{{Rule: rule, Text: fmt.Sprintf("%s (score: %.2f)", label, score)}}
}

func mlRule(a *Aggregator, in Inputs) []Reason {
	if in.MLScore == nil {
		return a.unavailable("ML")
	}
	return scored(RuleMLFraud, "High ML fraud risk", *in.MLScore, a.thresholds.MLFraud)
}

func clusterRule(a *Aggregator, in Inputs) []Reason {
	if in.Clusters.Failed() {
		return a.unavailable("Cluster")
	}
	c, ok := in.Clusters.MemberCluster()
	if !ok || !c.Suspicious {
		return nil
	}
	return []Reason{{Rule: RuleSuspiciousCluster, Text: "Suspicious cluster: " + c.SuspiciousReason}}
}

func loginRule(a *Aggregator, in Inputs) []Reason {
	s := in.Login
	if s.Failed() {
		return a.unavailable("Login")
	}
	t := a.thresholds
	var out []Reason
	out = append(out, scored(RuleUnlikelyTravel, "Unlikely travel", s.UnlikelyTravel, t.UnlikelyTravel)...)
	out = append(out, scored(RuleExcessiveLogins, "Excessive device logins", s.ExcessiveDeviceLogins, t.ExcessiveLogins)...)
	out = append(out, scored(RuleExcessiveUniqueLogins, "Multiple account logins", s.ExcessiveUniqueAccounts, t.ExcessiveUniqueLogins)...)
	return out
}

func withdrawalRule(a *Aggregator, in Inputs) []Reason {
	s := in.Withdrawal
	if s.Failed() {
		return a.unavailable("Withdrawal")
	}
	if !s.Usable() {
		return nil
	}
	t := a.thresholds
	var out []Reason
	out = append(out, scored(RuleLargeWithdrawal, "Large withdrawal", s.LargeWithdrawal, t.LargeWithdrawal)...)
	out = append(out, scored(RuleMoneyLaundering, "Money laundering risk", s.MoneyLaundering, t.MoneyLaundering)...)
	if s.FailedWithdrawalsLimitFlag >= 1 {
		out = append(out, Reason{Rule: RuleFailedWithdrawals, Text: "Excessive failed withdrawal attempts"})
	}
	if s.WithdrawalsLimitFlag >= 1 {
		out = append(out, Reason{Rule: RuleWithdrawalsLimit, Text: "Withdrawal frequency limit exceeded"})
	}
	return out
}
