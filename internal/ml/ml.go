// Package ml obtains the fraud probability from the external model service.
//
// The model itself is trained and served elsewhere. This package validates
// the feature vector, calls the service through a circuit breaker with
// retries and a timeout, and normalizes the answer. A failure never turns
// into a score of 0: the score is reported as absent instead.
package ml

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// FeatureNames lists the model's input features in the order it expects.
var FeatureNames = []string{
	"Avg min between sent tnx",
	"Avg min between received tnx",
	"Time Diff between first and last (Mins)",
	"Unique Received From Addresses",
	"min value received",
	"max value received",
	"avg val received",
	"min val sent",
	"avg val sent",
	"total transactions (including tnx to create contract)",
	"total ether received",
	"total ether balance",
}

var (
	// ErrDisabled is returned by Disabled.
	ErrDisabled = errors.New("ml scoring is disabled")
	// ErrFeatureMismatch is returned when the features differ from FeatureNames.
	ErrFeatureMismatch = errors.New("feature mismatch")
)

// Scorer returns a fraud probability for a feature vector.
type Scorer interface {
	Predict(ctx context.Context, features map[string]float64) (float64, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, features map[string]float64) (float64, error)

// Predict calls f.
func (f ScorerFunc) Predict(ctx context.Context, features map[string]float64) (float64, error) {
	return f(ctx, features)
}

// Disabled is the Scorer used when no model endpoint is configured.
type Disabled struct{}

// Predict always fails with ErrDisabled.
func (Disabled) Predict(context.Context, map[string]float64) (float64, error) {
	return 0, ErrDisabled
}

// CheckFeatures verifies that features holds exactly FeatureNames.
func CheckFeatures(features map[string]float64) error {
	var missing, extra []string
	for _, name := range FeatureNames {
		if _, ok := features[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(features) != len(FeatureNames)-len(missing) {
		known := make(map[string]struct{}, len(FeatureNames))
		for _, name := range FeatureNames {
			known[name] = struct{}{}
		}
		for name := range features {
			if _, ok := known[name]; !ok {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing "+quoteJoin(missing))
	}
	if len(extra) > 0 {
		parts = append(parts, "unexpected "+quoteJoin(extra))
	}
	return fmt.Errorf("%w: %s", ErrFeatureMismatch, strings.Join(parts, "; "))
}

func quoteJoin(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(quoted, ", ")
}
