// internal/trust/scorer.go
package trust

import (
	"math"
	"time"

	"github.com/pulsefit/arena/internal/config"
	"github.com/pulsefit/arena/internal/models"
)

// impossibleRateCeiling is the residual score left after a physiologically
// impossible rep rate; the verifier's thresholds turn it into a REJECT.
const impossibleRateCeiling = 0.05

// Score evaluates a single sample for plausibility and returns an advisory
// TrustAssessment. The Decision field is left empty; only the verifier issues
// decisions. Score is a pure function of its inputs: the caller supplies the
// user's recent samples and whether the device fingerprint is already known.
//
// Heuristics, composed into one [0,1] score:
//   - rate plausibility: metric units per second above the exercise ceiling
//     caps the score near zero and sets IMPOSSIBLE_RATE
//   - confidence floor: tracker confidence below cfg.ConfidenceFloor
//     multiplies the score by cfg.LowConfidenceFactor and sets LOW_CONFIDENCE
//   - pattern repetition: a rep timing signature within cfg.RepeatEpsilon of
//     cfg.RepeatMinMatches recent samples subtracts cfg.RepeatPenalty and
//     sets REPEATED_PATTERN
//   - device mismatch: an unknown fingerprint subtracts cfg.DevicePenalty and
//     sets DEVICE_MISMATCH
func Score(sample models.PerformanceSample, recent []models.PerformanceSample, knownDevice bool, cfg config.TrustConfig, baselines map[string]config.ExerciseBaseline, now time.Time) models.TrustAssessment {
	a := models.TrustAssessment{
		SampleID:   sample.SampleID,
		UserID:     sample.UserID,
		AssessedAt: now,
	}

	score := 1.0

	if base, ok := baselines[string(sample.ExerciseType)]; ok && base.MaxPerSecond > 0 {
		secs := sample.Duration().Seconds()
		if secs > 0 && sample.RawMetric/secs > base.MaxPerSecond {
			score = impossibleRateCeiling
			a.AnomalyFlags = append(a.AnomalyFlags, models.FlagImpossibleRate)
		}
	}

	if sample.Confidence < cfg.ConfidenceFloor {
		score *= cfg.LowConfidenceFactor
		a.AnomalyFlags = append(a.AnomalyFlags, models.FlagLowConfidence)
	}

	if repeatedSignature(sample, recent, cfg) {
		score -= cfg.RepeatPenalty
		a.AnomalyFlags = append(a.AnomalyFlags, models.FlagRepeatedPattern)
	}

	if !knownDevice {
		score -= cfg.DevicePenalty
		a.AnomalyFlags = append(a.AnomalyFlags, models.FlagDeviceMismatch)
	}

	a.Score = math.Max(0, math.Min(1, score))
	return a
}

// repeatedSignature reports whether the sample's mean rep duration sits
// within epsilon of at least cfg.RepeatMinMatches recent samples of the same
// exercise, which suggests a replayed or synthesized recording.
func repeatedSignature(sample models.PerformanceSample, recent []models.PerformanceSample, cfg config.TrustConfig) bool {
	sig := sample.RepSignature()
	if sig <= 0 {
		return false
	}
	matches := 0
	start := 0
	if len(recent) > cfg.RecentWindow {
		start = len(recent) - cfg.RecentWindow
	}
	for _, r := range recent[start:] {
		if r.SampleID == sample.SampleID || r.ExerciseType != sample.ExerciseType {
			continue
		}
		if prev := r.RepSignature(); prev > 0 && math.Abs(prev-sig) <= cfg.RepeatEpsilon {
			matches++
			if matches >= cfg.RepeatMinMatches {
				return true
			}
		}
	}
	return false
}
