// internal/models/assessment.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// AnomalyFlag tags a specific plausibility violation found by the trust scorer.
type AnomalyFlag string

const (
	// FlagImpossibleRate means the rep rate exceeds the physiological bound
	// for the exercise. Hard flag: forces a REJECT.
	FlagImpossibleRate AnomalyFlag = "IMPOSSIBLE_RATE"
	// FlagLowConfidence means the upstream tracker's confidence fell below the
	// configured floor.
	FlagLowConfidence AnomalyFlag = "LOW_CONFIDENCE"
	// FlagRepeatedPattern means the rep timing signature matches recent
	// samples closely enough to suggest a replay or automation.
	FlagRepeatedPattern AnomalyFlag = "REPEATED_PATTERN"
	// FlagDeviceMismatch means the sample's device fingerprint is not in the
	// user's known set.
	FlagDeviceMismatch AnomalyFlag = "DEVICE_MISMATCH"
	// FlagTamperReport means an attached integrity report failed verification.
	// Hard flag: forces a REJECT.
	FlagTamperReport AnomalyFlag = "TAMPER_REPORT"
)

// Hard reports whether the flag is REJECT-class on its own.
func (f AnomalyFlag) Hard() bool {
	return f == FlagImpossibleRate || f == FlagTamperReport
}

// Decision is the final verdict on a submission. REJECT and FLAG are business
// outcomes, not errors; callers branch on the value.
type Decision string

const (
	DecisionAccept Decision = "ACCEPT"
	DecisionFlag   Decision = "FLAG"
	DecisionReject Decision = "REJECT"
)

// TrustAssessment is the scorer's verdict on a single sample. It references
// the sample by id and is never mutated after the verifier fills Decision;
// assessments form an append-only audit trail.
type TrustAssessment struct {
	SampleID     uuid.UUID     `json:"sampleId"`
	UserID       uuid.UUID     `json:"userId"`
	Score        float64       `json:"score"`
	AnomalyFlags []AnomalyFlag `json:"anomalyFlags"`
	Decision     Decision      `json:"decision"`
	AssessedAt   time.Time     `json:"assessedAt"`
}

// HasFlag reports whether the assessment carries the given flag.
func (a TrustAssessment) HasFlag(f AnomalyFlag) bool {
	for _, af := range a.AnomalyFlags {
		if af == f {
			return true
		}
	}
	return false
}

// HardFlags counts REJECT-class flags; SoftFlags counts the rest.
func (a TrustAssessment) HardFlags() int {
	n := 0
	for _, f := range a.AnomalyFlags {
		if f.Hard() {
			n++
		}
	}
	return n
}

func (a TrustAssessment) SoftFlags() int {
	n := 0
	for _, f := range a.AnomalyFlags {
		if !f.Hard() {
			n++
		}
	}
	return n
}
