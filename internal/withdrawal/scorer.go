package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/Muneeb-Masood/EC-ML/internal/jsonnum"
	"github.com/Muneeb-Masood/EC-ML/internal/mathutil"
)

// Defaults for the scorer.
const (
	DefaultLargeWithdrawalFraction = 0.5
	DefaultMaxDailyWithdrawals     = 15
	DefaultMaxLaunderingFrequency  = 6.0
	DefaultMaxDailyFailures        = 10
	DefaultScorePrecision          = 2
)

// Config holds the withdrawal limits.
type Config struct {
	// LargeWithdrawalFraction is the share of the balance at which the
	// large-withdrawal score reaches 1.
	LargeWithdrawalFraction float64
	MaxDailyWithdrawals     int
	MaxLaunderingFrequency  float64
	MaxDailyFailures        int
	ScorePrecision          int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		LargeWithdrawalFraction: DefaultLargeWithdrawalFraction,
		MaxDailyWithdrawals:     DefaultMaxDailyWithdrawals,
		MaxLaunderingFrequency:  DefaultMaxLaunderingFrequency,
		MaxDailyFailures:        DefaultMaxDailyFailures,
		ScorePrecision:          DefaultScorePrecision,
	}
}

var errNegative = errors.New("must not be negative")

// Scorer computes withdrawal anomaly scores. It is safe for concurrent use.
type Scorer struct {
	cfg    Config
	logger *slog.Logger
}

// NewScorer creates a scorer. A nil logger uses slog.Default().
func NewScorer(cfg Config, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{cfg: cfg, logger: logger}
}

// input is a validated Context.
type input struct {
	balance     decimal.Decimal
	amount      decimal.Decimal
	rate        decimal.Decimal
	frequency   decimal.Decimal
	withdrawals int64
	failures    int64
}

// Score computes the withdrawal bundle. A nil context means the transaction
// is not a withdrawal and yields an empty, non-applicable bundle.
func (s *Scorer) Score(ctx context.Context, wc *Context) *Scores {
	if wc == nil {
		return &Scores{}
	}

	in, err := parse(wc)
	if err != nil {
		s.logger.WarnContext(ctx, "withdrawal scoring failed", "error", err)
		return &Scores{Applicable: true, Error: err.Error()}
	}

	balance := in.balance.Mul(in.rate)
	limit := decimal.NewFromFloat(s.cfg.LargeWithdrawalFraction).Mul(balance)

	var large float64
	if balance.IsPositive() {
		large = ratio(in.amount, limit)
	}

	p := s.cfg.ScorePrecision
	return &Scores{
		LargeWithdrawal:            mathutil.Round(large, p),
		WithdrawalsLimitFlag:       flag(in.withdrawals >= int64(s.cfg.MaxDailyWithdrawals)),
		MoneyLaundering:            mathutil.Round(ratio(in.frequency, decimal.NewFromFloat(s.cfg.MaxLaunderingFrequency)), p),
		FailedWithdrawalsLimitFlag: flag(in.failures >= int64(s.cfg.MaxDailyFailures)),
		Applicable:                 true,
	}
}

func parse(wc *Context) (input, error) {
	var (
		in  input
		err error
	)
	if in.balance, err = amount("current_wallet_balance", wc.CurrentWalletBalance); err != nil {
		return in, err
	}
	if in.amount, err = amount("withdrawal_amount", wc.WithdrawalAmount); err != nil {
		return in, err
	}
	if in.rate, err = amount("conversion_rate", wc.ConversionRate); err != nil {
		return in, err
	}
	if in.balance.IsPositive() && in.rate.IsZero() {
		return in, errors.New("invalid conversion_rate: must be positive when the wallet holds a balance")
	}
	if in.frequency, err = amount("avg_withdrawal_frequency_14d", wc.AvgWithdrawalFrequency14d); err != nil {
		return in, err
	}
	if in.withdrawals, err = count("withdrawals_24h", wc.Withdrawals24h); err != nil {
		return in, err
	}
	if in.failures, err = count("failed_withdrawals_24h", wc.FailedWithdrawals24h); err != nil {
		return in, err
	}
	return in, nil
}

func amount(field string, v jsonnum.Value) (decimal.Decimal, error) {
	d, err := v.Decimal()
	if err != nil {
		return d, fmt.Errorf("invalid %s: %w", field, err)
	}
	if d.IsNegative() {
		return d, fmt.Errorf("invalid %s: %w", field, errNegative)
	}
	return d, nil
}

func count(field string, v jsonnum.Value) (int64, error) {
	n, err := v.Int()
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s: %w", field, errNegative)
	}
	return n, nil
}

// ratio is min(num/den, 1), or 0 when either side is not positive.
func ratio(num, den decimal.Decimal) float64 {
	if !num.IsPositive() || !den.IsPositive() {
		return 0
	}
	r := num.Div(den)
	if r.GreaterThan(decimal.NewFromInt(1)) {
		return 1
	}
	f, _ := r.Float64()
	return f
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
