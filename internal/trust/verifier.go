// internal/trust/verifier.go
package trust

import (
	"math"
	"time"

	"github.com/pulsefit/arena/internal/config"
	"github.com/pulsefit/arena/internal/models"
)

// Verify turns an advisory assessment into a final decision.
//
// Policy:
//   - any hard flag (IMPOSSIBLE_RATE, TAMPER_REPORT) or score below
//     cfg.RejectScore -> REJECT
//   - score at or above cfg.AcceptScore with no flags -> ACCEPT
//   - everything else (mid score, or soft flags on a high score) -> FLAG
//
// Lowering the score, all else equal, never moves the decision from REJECT
// toward ACCEPT.
func Verify(a models.TrustAssessment, cfg config.TrustConfig) models.Decision {
	if a.HardFlags() > 0 {
		return models.DecisionReject
	}
	if a.Score < cfg.RejectScore {
		return models.DecisionReject
	}
	if a.Score >= cfg.AcceptScore && a.SoftFlags() == 0 {
		return models.DecisionAccept
	}
	return models.DecisionFlag
}

// NextTrustRating applies the lazy decay toward neutral and then the delta
// for the decision, clamped to [0,100]. Decay is exponential with half-life
// cfg.DecayHalfLife measured from the last update; a rating untouched for a
// long stretch drifts back to neutral before the new evidence lands.
func NextTrustRating(current float64, lastUpdated, now time.Time, decision models.Decision, cfg config.TrustConfig) float64 {
	r := current
	if !lastUpdated.IsZero() && now.After(lastUpdated) {
		age := now.Sub(lastUpdated).Seconds()
		half := cfg.DecayHalfLife().Seconds()
		r = models.NeutralTrustRating + (r-models.NeutralTrustRating)*math.Pow(0.5, age/half)
	}
	switch decision {
	case models.DecisionAccept:
		r += cfg.AcceptDelta
	case models.DecisionFlag:
		r += cfg.FlagDelta
	case models.DecisionReject:
		r += cfg.RejectDelta
	}
	return math.Max(0, math.Min(100, r))
}
