package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/Muneeb-Masood/EC-ML/internal/decision"
	"github.com/Muneeb-Masood/EC-ML/internal/geo"
	"github.com/Muneeb-Masood/EC-ML/internal/login"
	"github.com/Muneeb-Masood/EC-ML/internal/withdrawal"
)

// Scoring holds every parameter of the scoring pipeline. It is loaded once
// at startup and shared read-only.
type Scoring struct {
	Thresholds          decision.Thresholds
	MissingSignalPolicy decision.MissingSignalPolicy
	Geo                 geo.Config
	Login               login.Config
	Withdrawal          withdrawal.Config
}

// DefaultScoring returns the documented defaults.
func DefaultScoring() Scoring {
	return Scoring{
		Thresholds:          decision.DefaultThresholds(),
		MissingSignalPolicy: decision.PolicySuppress,
		Geo:                 geo.DefaultConfig(),
		Login:               login.DefaultConfig(),
		Withdrawal:          withdrawal.DefaultConfig(),
	}
}

// scoringFile mirrors the YAML layout. Pointers tell an absent key from a
// zero value so only the keys present override the defaults.
type scoringFile struct {
	Decision struct {
		Thresholds struct {
			MLFraud               *float64 `yaml:"ml_fraud"`
			UnlikelyTravel        *float64 `yaml:"unlikely_travel"`
			ExcessiveLogins       *float64 `yaml:"excessive_logins"`
			ExcessiveUniqueLogins *float64 `yaml:"excessive_unique_logins"`
			LargeWithdrawal       *float64 `yaml:"large_withdrawal"`
			MoneyLaundering       *float64 `yaml:"money_laundering"`
		} `yaml:"score_thresholds"`
		MissingSignalPolicy *string `yaml:"missing_signal_policy"`
	} `yaml:"decision_parameters"`

	Geo struct {
		Algorithm struct {
			EpsKm            *float64 `yaml:"eps_km"`
			MinSamples       *int     `yaml:"min_samples"`
			BufferPercentage *float64 `yaml:"buffer_percentage"`
		} `yaml:"algorithm_parameters"`
		Output struct {
			CoordinatePrecision *int `yaml:"coordinate_precision"`
			RadiusPrecision     *int `yaml:"radius_precision"`
			DensityPrecision    *int `yaml:"density_precision"`
		} `yaml:"output_settings"`
		Validation struct {
			AbsoluteDensityThreshold  *float64 `yaml:"absolute_density_threshold"`
			RelativeDensityMultiplier *float64 `yaml:"relative_density_multiplier"`
		} `yaml:"validation"`
		MaxHistoryPoints *int `yaml:"max_history_points"`
	} `yaml:"geospatial_clustering"`

	Login struct {
		MaxDeviceLogins   *float64 `yaml:"max_device_logins"`
		MaxUniqueAccounts *float64 `yaml:"max_unique_accounts"`
		MaxTravelSpeedKmh *float64 `yaml:"max_travel_speed_kmh"`
		ScorePrecision    *int     `yaml:"score_precision"`
	} `yaml:"login_anomalies"`

	Withdrawal struct {
		LargeWithdrawalFraction *float64 `yaml:"large_withdrawal_fraction"`
		MaxDailyWithdrawals     *int     `yaml:"max_daily_withdrawals"`
		MaxLaunderingFrequency  *float64 `yaml:"max_laundering_frequency"`
		MaxDailyFailures        *int     `yaml:"max_daily_failures"`
		ScorePrecision          *int     `yaml:"score_precision"`
	} `yaml:"withdrawal_anomalies"`
}

// LoadScoring reads the scoring file at path over the defaults. It never
// fails: a missing or unreadable file, or an invalid value, is logged and
// the default is used instead.
func LoadScoring(path string, logger *slog.Logger) Scoring {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := DefaultScoring()

	if path == "" {
		logger.Info("no scoring config file set, using defaults")
		return cfg
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("scoring config file not found, using defaults", "path", path)
		} else {
			logger.Warn("scoring config file unreadable, using defaults", "path", path, "error", err)
		}
		return cfg
	}

	var file scoringFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		// A type mismatch still decodes the other keys; keep those.
		var typeErr *yaml.TypeError
		if !errors.As(err, &typeErr) {
			logger.Warn("scoring config file is not valid YAML, using defaults", "path", path, "error", err)
			return cfg
		}
		logger.Warn("scoring config values of the wrong type ignored", "path", path, "errors", typeErr.Errors)
	}

	o := overlay{logger: logger, path: path}
	o.merge(&cfg, &file)
	logger.Info("scoring config loaded", "path", path, "rejected_values", o.rejected)
	return cfg
}

type overlay struct {
	logger   *slog.Logger
	path     string
	rejected int
}

func (o *overlay) merge(cfg *Scoring, f *scoringFile) {
	t := &f.Decision.Thresholds
	set(o, "decision_parameters.score_thresholds.ml_fraud", t.MLFraud, &cfg.Thresholds.MLFraud, unit)
	set(o, "decision_parameters.score_thresholds.unlikely_travel", t.UnlikelyTravel, &cfg.Thresholds.UnlikelyTravel, unit)
	set(o, "decision_parameters.score_thresholds.excessive_logins", t.ExcessiveLogins, &cfg.Thresholds.ExcessiveLogins, unit)
	set(o, "decision_parameters.score_thresholds.excessive_unique_logins", t.ExcessiveUniqueLogins, &cfg.Thresholds.ExcessiveUniqueLogins, unit)
	set(o, "decision_parameters.score_thresholds.large_withdrawal", t.LargeWithdrawal, &cfg.Thresholds.LargeWithdrawal, unit)
	set(o, "decision_parameters.score_thresholds.money_laundering", t.MoneyLaundering, &cfg.Thresholds.MoneyLaundering, unit)

	if p := f.Decision.MissingSignalPolicy; p != nil {
		policy := decision.MissingSignalPolicy(*p)
		set(o, "decision_parameters.missing_signal_policy", &policy, &cfg.MissingSignalPolicy, decision.MissingSignalPolicy.Valid)
	}

	g := &f.Geo
	set(o, "geospatial_clustering.algorithm_parameters.eps_km", g.Algorithm.EpsKm, &cfg.Geo.EpsKm, positive[float64])
	set(o, "geospatial_clustering.algorithm_parameters.min_samples", g.Algorithm.MinSamples, &cfg.Geo.MinSamples, positive[int])
	set(o, "geospatial_clustering.algorithm_parameters.buffer_percentage", g.Algorithm.BufferPercentage, &cfg.Geo.BufferPercentage, nonNegative[float64])
	set(o, "geospatial_clustering.output_settings.coordinate_precision", g.Output.CoordinatePrecision, &cfg.Geo.CoordinatePrecision, precision)
	set(o, "geospatial_clustering.output_settings.radius_precision", g.Output.RadiusPrecision, &cfg.Geo.RadiusPrecision, precision)
	set(o, "geospatial_clustering.output_settings.density_precision", g.Output.DensityPrecision, &cfg.Geo.DensityPrecision, precision)
	set(o, "geospatial_clustering.validation.absolute_density_threshold", g.Validation.AbsoluteDensityThreshold, &cfg.Geo.AbsoluteDensityThreshold, positive[float64])
	set(o, "geospatial_clustering.validation.relative_density_multiplier", g.Validation.RelativeDensityMultiplier, &cfg.Geo.RelativeDensityMultiplier, positive[float64])
	set(o, "geospatial_clustering.max_history_points", g.MaxHistoryPoints, &cfg.Geo.MaxHistoryPoints, positive[int])

	l := &f.Login
	set(o, "login_anomalies.max_device_logins", l.MaxDeviceLogins, &cfg.Login.MaxDeviceLogins, positive[float64])
	set(o, "login_anomalies.max_unique_accounts", l.MaxUniqueAccounts, &cfg.Login.MaxUniqueAccounts, positive[float64])
	set(o, "login_anomalies.max_travel_speed_kmh", l.MaxTravelSpeedKmh, &cfg.Login.MaxTravelSpeedKmh, positive[float64])
	set(o, "login_anomalies.score_precision", l.ScorePrecision, &cfg.Login.ScorePrecision, precision)

	w := &f.Withdrawal
	set(o, "withdrawal_anomalies.large_withdrawal_fraction", w.LargeWithdrawalFraction, &cfg.Withdrawal.LargeWithdrawalFraction, positive[float64])
	set(o, "withdrawal_anomalies.max_daily_withdrawals", w.MaxDailyWithdrawals, &cfg.Withdrawal.MaxDailyWithdrawals, positive[int])
	set(o, "withdrawal_anomalies.max_laundering_frequency", w.MaxLaunderingFrequency, &cfg.Withdrawal.MaxLaunderingFrequency, positive[float64])
	set(o, "withdrawal_anomalies.max_daily_failures", w.MaxDailyFailures, &cfg.Withdrawal.MaxDailyFailures, positive[int])
	set(o, "withdrawal_anomalies.score_precision", w.ScorePrecision, &cfg.Withdrawal.ScorePrecision, precision)
}

// set copies *v into *dst when v is present and valid.
func set[T any](o *overlay, key string, v *T, dst *T, valid func(T) bool) {
	if v == nil {
		return
	}
	if !valid(*v) {
		o.rejected++
		o.logger.Warn("invalid scoring config value, using default",
			"path", o.path,
			"key", key,
			"value", fmt.Sprint(*v),
			"default", fmt.Sprint(*dst),
		)
		return
	}
	*dst = *v
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

func precision(v int) bool { return v >= 0 && v <= 12 }

func positive[T int | float64](v T) bool { return v > 0 }

func nonNegative[T int | float64](v T) bool { return v >= 0 }
