// internal/models/profile.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Declared fitness levels a user can self-report during calibration.
const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
)

// NeutralHandicap is used until a profile has at least one accepted
// calibration sample.
const NeutralHandicap = 1.0

// NeutralTrustRating is the value trust ratings decay toward absent new
// evidence, and the starting rating for a fresh profile.
const NeutralTrustRating = 50.0

// UserAttributes are declared (not measured) properties used to seed the
// cold-start handicap prior.
type UserAttributes struct {
	Age           int    `json:"age"`
	DeclaredLevel string `json:"declaredLevel"`
}

// Empty reports whether no attribute was declared at all.
func (a UserAttributes) Empty() bool {
	return a.Age == 0 && a.DeclaredLevel == ""
}

// UserSkillProfile is the per-user skill and reputation state. Profiles are
// never deleted, only superseded by recomputes. The handicap is recomputed
// exclusively from accepted samples; flagged and rejected submissions touch
// only the trust rating.
type UserSkillProfile struct {
	UserID                 uuid.UUID      `json:"userId"`
	Handicap               float64        `json:"handicap"`
	CalibrationSampleCount int            `json:"calibrationSampleCount"`
	LastCalibratedAt       time.Time      `json:"lastCalibratedAt"`
	TrustRating            float64        `json:"trustRating"`
	Attributes             UserAttributes `json:"attributes"`
}

// NewUserSkillProfile returns the default neutral profile for a user with no
// accepted history yet.
func NewUserSkillProfile(userID uuid.UUID) *UserSkillProfile {
	return &UserSkillProfile{
		UserID:      userID,
		Handicap:    NeutralHandicap,
		TrustRating: NeutralTrustRating,
	}
}
