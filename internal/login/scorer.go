package login

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Muneeb-Masood/EC-ML/internal/geo"
	"github.com/Muneeb-Masood/EC-ML/internal/mathutil"
)

// Defaults for the scorer.
const (
	DefaultMaxDeviceLogins   = 30.0
	DefaultMaxUniqueAccounts = 10.0
	DefaultMaxTravelSpeedKmh = 1200.0
	DefaultScorePrecision    = 2
)

// Config sets the value at which each score saturates to 1.
type Config struct {
	MaxDeviceLogins   float64
	MaxUniqueAccounts float64
	MaxTravelSpeedKmh float64
	ScorePrecision    int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxDeviceLogins:   DefaultMaxDeviceLogins,
		MaxUniqueAccounts: DefaultMaxUniqueAccounts,
		MaxTravelSpeedKmh: DefaultMaxTravelSpeedKmh,
		ScorePrecision:    DefaultScorePrecision,
	}
}

// Scorer computes login anomaly scores. It is safe for concurrent use.
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

// Score computes the three login scores. Problems with the input are
// reported in Scores.Error; a zero score always means "looked normal".
func (s *Scorer) Score(ctx context.Context, in Context) *Scores {
	sessionAt, err := ParseTimestamp(in.Session.Timestamp)
	if err != nil {
		return s.fail(ctx, "Invalid timestamp format", "field", "session.timestamp", "value", in.Session.Timestamp)
	}
	lastAt, err := ParseTimestamp(in.LastLogin.Timestamp)
	if err != nil {
		return s.fail(ctx, "Invalid timestamp format", "field", "last_user_login.timestamp", "value", in.LastLogin.Timestamp)
	}

	here, err := in.Session.Location().Parse()
	if err != nil {
		return s.fail(ctx, fmt.Sprintf("invalid session coordinates: %v", err))
	}
	there, err := in.LastLogin.Location().Parse()
	if err != nil {
		return s.fail(ctx, fmt.Sprintf("invalid last login coordinates: %v", err))
	}

	logins, accounts := deviceActivity(in.Session.DeviceID, in.DeviceHistory)

	distance := geo.DistanceKm(here, there)
	hours := sessionAt.Sub(lastAt).Hours()
	// A non-positive window means two places at once: saturate unless the
	// location did not change.
	travel := mathutil.Ratio(distance, hours*s.cfg.MaxTravelSpeedKmh)

	p := s.cfg.ScorePrecision
	return &Scores{
		ExcessiveDeviceLogins:   mathutil.Round(mathutil.Ratio(float64(logins), s.cfg.MaxDeviceLogins), p),
		ExcessiveUniqueAccounts: mathutil.Round(mathutil.Ratio(float64(accounts), s.cfg.MaxUniqueAccounts), p),
		UnlikelyTravel:          mathutil.Round(travel, p),
	}
}

func (s *Scorer) fail(ctx context.Context, msg string, attrs ...any) *Scores {
	s.logger.WarnContext(ctx, "login scoring failed", append([]any{"error", msg}, attrs...)...)
	return &Scores{Error: msg}
}

// deviceActivity counts history entries on device and the distinct users
// among them.
func deviceActivity(device string, history []DeviceLogin) (logins, accounts int) {
	users := make(map[string]struct{})
	for _, entry := range history {
		if entry.DeviceID != device {
			continue
		}
		logins++
		users[entry.UserID] = struct{}{}
	}
	return logins, len(users)
}
