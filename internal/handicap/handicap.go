// internal/handicap/handicap.go
package handicap

import (
	"errors"
	"math"
	"time"

	"github.com/pulsefit/arena/internal/config"
	"github.com/pulsefit/arena/internal/models"
)

// ErrInsufficientData is returned when both the accepted history and the
// declared attributes are empty. The caller supplies the default neutral
// profile in that case.
var ErrInsufficientData = errors.New("handicap: no history and no declared attributes")

// Prior multipliers derived from a user's declared level. An unknown or
// missing level falls back to the intermediate prior.
const (
	priorBeginner     = 0.7
	priorIntermediate = 1.0
	priorAdvanced     = 1.4
)

// Age adjustment applied to the declared-level prior: performance expectation
// tapers gently past the reference age.
const (
	priorReferenceAge = 30
	priorAgeSlope     = 0.005
	priorAgeFloor     = 0.5
)

// Compute derives a user's handicap from their accepted sample history and
// declared attributes. It is a pure function of its inputs, enabling
// deterministic replay for audits.
//
// The core is a weighted moving average of normalized performance (raw metric
// divided by the exercise baseline), with weights decaying exponentially by
// sample age (half-life cfg.HalfLife, default 14 days). While fewer than
// cfg.PriorSamples accepted samples exist, the result is blended with a prior
// derived from declared attributes; the prior's weight shrinks linearly to
// zero by the cfg.PriorSamples-th sample. The output is clamped to
// [cfg.Min, cfg.Max].
func Compute(history []models.PerformanceSample, attrs models.UserAttributes, cfg config.HandicapConfig, baselines map[string]config.ExerciseBaseline, now time.Time) (float64, error) {
	if len(history) == 0 && attrs.Empty() {
		return 0, ErrInsufficientData
	}

	prior := attributePrior(attrs)
	if len(history) == 0 {
		return clamp(prior, cfg.Min, cfg.Max), nil
	}

	halfLife := cfg.HalfLife().Seconds()
	var weightSum, weighted float64
	for _, s := range history {
		base, ok := baselines[string(s.ExerciseType)]
		if !ok || base.Metric <= 0 {
			continue
		}
		age := now.Sub(s.EndedAt).Seconds()
		if age < 0 {
			age = 0
		}
		w := math.Pow(0.5, age/halfLife)
		weighted += w * (s.RawMetric / base.Metric)
		weightSum += w
	}
	if weightSum == 0 {
		return clamp(prior, cfg.Min, cfg.Max), nil
	}
	avg := weighted / weightSum

	// Cold-start blend: prior weight (n samples) = max(0, (P-n)/P).
	pw := 0.0
	if n := len(history); n < cfg.PriorSamples {
		pw = float64(cfg.PriorSamples-n) / float64(cfg.PriorSamples)
	}
	h := pw*prior + (1-pw)*avg
	return clamp(h, cfg.Min, cfg.Max), nil
}

// attributePrior maps declared attributes onto a starting handicap.
func attributePrior(attrs models.UserAttributes) float64 {
	p := priorIntermediate
	switch attrs.DeclaredLevel {
	case models.LevelBeginner:
		p = priorBeginner
	case models.LevelAdvanced:
		p = priorAdvanced
	}
	if attrs.Age > priorReferenceAge {
		adj := 1 - float64(attrs.Age-priorReferenceAge)*priorAgeSlope
		if adj < priorAgeFloor {
			adj = priorAgeFloor
		}
		p *= adj
	}
	return p
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
