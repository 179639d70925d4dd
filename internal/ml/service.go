package ml

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Muneeb-Masood/EC-ML/internal/circuitbreaker"
	"github.com/Muneeb-Masood/EC-ML/internal/jsonnum"
	"github.com/Muneeb-Masood/EC-ML/internal/mathutil"
	"github.com/Muneeb-Masood/EC-ML/internal/retry"
)

// ScorePrecision is the number of decimals kept in a probability.
const ScorePrecision = 4

// Config tunes the calls to the model service.
type Config struct {
	Timeout          time.Duration // per call, retries included
	Retry            retry.Policy
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// DefaultConfig returns sensible client defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          2 * time.Second,
		Retry:            retry.DefaultPolicy,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// Score is the ML bundle. Probability is nil when no score could be obtained.
type Score struct {
	Probability *float64
	Error       string
}

// Service validates features and calls the model with retries behind a
// circuit breaker. It is safe for concurrent use.
type Service struct {
	scorer  Scorer
	cfg     Config
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewService wraps scorer. A nil scorer is treated as Disabled.
func NewService(scorer Scorer, cfg Config, logger *slog.Logger) *Service {
	if scorer == nil {
		scorer = Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		scorer:  scorer,
		cfg:     cfg,
		breaker: circuitbreaker.New("ml_model", cfg.BreakerThreshold, cfg.BreakerCooldown),
		logger:  logger,
	}
}

// Breaker exposes the circuit breaker state for health checks.
func (s *Service) Breaker() *circuitbreaker.Breaker {
	return s.breaker
}

// Score returns the fraud probability for the request's transaction data.
func (s *Service) Score(ctx context.Context, data map[string]jsonnum.Value) *Score {
	if _, ok := s.scorer.(Disabled); ok {
		return &Score{Error: ErrDisabled.Error()}
	}
	if len(data) == 0 {
		return &Score{Error: "transaction data missing"}
	}

	features := make(map[string]float64, len(data))
	for name, v := range data {
		f, err := v.Float64()
		if err != nil {
			return s.fail(ctx, fmt.Errorf("feature %q: %w", name, err))
		}
		features[name] = f
	}
	if err := CheckFeatures(features); err != nil {
		return s.fail(ctx, err)
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	var p float64
	err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) error {
		err := s.breaker.Do(func() error {
			var err error
			p, err = s.scorer.Predict(ctx, features)
			return err
		}, retry.IsPermanent)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return s.fail(ctx, err)
	}

	p = mathutil.Round(mathutil.Clamp01(p), ScorePrecision)
	return &Score{Probability: &p}
}

func (s *Service) fail(ctx context.Context, err error) *Score {
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		s.logger.WarnContext(ctx, "ml score skipped, model circuit open")
	default:
		s.logger.WarnContext(ctx, "ml scoring failed", "error", err)
	}
	return &Score{Error: err.Error()}
}
