// internal/trust/verifier_test.go
package trust

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefit/arena/internal/config"
	"github.com/pulsefit/arena/internal/models"
)

func assessment(score float64, flags ...models.AnomalyFlag) models.TrustAssessment {
	return models.TrustAssessment{
		SampleID:     uuid.New(),
		UserID:       uuid.New(),
		Score:        score,
		AnomalyFlags: flags,
	}
}

func TestVerifyPolicy(t *testing.T) {
	cfg := config.New().Trust

	tests := []struct {
		name string
		a    models.TrustAssessment
		want models.Decision
	}{
		{"clean high score", assessment(0.9), models.DecisionAccept},
		{"exact accept threshold", assessment(0.75), models.DecisionAccept},
		{"mid score", assessment(0.6), models.DecisionFlag},
		{"high score one soft flag", assessment(0.9, models.FlagDeviceMismatch), models.DecisionFlag},
		{"low score", assessment(0.35), models.DecisionReject},
		{"exact reject threshold", assessment(0.4), models.DecisionFlag},
		{"impossible rate always rejects", assessment(0.95, models.FlagImpossibleRate), models.DecisionReject},
		{"tamper report always rejects", assessment(0.95, models.FlagTamperReport), models.DecisionReject},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Verify(tc.a, cfg))
		})
	}
}

// Lowering the score, all else equal, must never move a decision from REJECT
// toward ACCEPT.
func TestVerifyMonotoneInScore(t *testing.T) {
	cfg := config.New().Trust
	rank := map[models.Decision]int{
		models.DecisionAccept: 2,
		models.DecisionFlag:   1,
		models.DecisionReject: 0,
	}

	flagSets := [][]models.AnomalyFlag{
		nil,
		{models.FlagLowConfidence},
		{models.FlagImpossibleRate},
		{models.FlagDeviceMismatch, models.FlagRepeatedPattern},
	}
	for _, flags := range flagSets {
		prev := -1
		for score := 0.0; score <= 1.0; score += 0.01 {
			d := Verify(assessment(score, flags...), cfg)
			require.GreaterOrEqual(t, rank[d], prev, "decision regressed at score %.2f flags %v", score, flags)
			prev = rank[d]
		}
	}
}

func TestNextTrustRating(t *testing.T) {
	cfg := config.New().Trust
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	r := NextTrustRating(50, now.Add(-time.Hour), now, models.DecisionAccept, cfg)
	assert.InDelta(t, 52, r, 0.01)

	r = NextTrustRating(50, now.Add(-time.Hour), now, models.DecisionFlag, cfg)
	assert.InDelta(t, 45, r, 0.01)

	r = NextTrustRating(50, now.Add(-time.Hour), now, models.DecisionReject, cfg)
	assert.InDelta(t, 35, r, 0.01)
}

func TestNextTrustRatingRejectOutweighsFlag(t *testing.T) {
	cfg := config.New().Trust
	now := time.Now()
	flagged := NextTrustRating(80, now, now, models.DecisionFlag, cfg)
	rejected := NextTrustRating(80, now, now, models.DecisionReject, cfg)
	assert.Less(t, rejected, flagged)
}

func TestNextTrustRatingDecaysTowardNeutral(t *testing.T) {
	cfg := config.New().Trust
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// One decay half-life with an ACCEPT: 80 decays to 65, then +2.
	r := NextTrustRating(80, now.Add(-30*24*time.Hour), now, models.DecisionAccept, cfg)
	assert.InDelta(t, 67, r, 0.01)

	// Decay pulls low ratings up toward neutral too.
	r = NextTrustRating(20, now.Add(-30*24*time.Hour), now, models.DecisionAccept, cfg)
	assert.InDelta(t, 37, r, 0.01)
}

func TestNextTrustRatingClamped(t *testing.T) {
	cfg := config.New().Trust
	now := time.Now()
	assert.Equal(t, 100.0, NextTrustRating(99.5, now, now, models.DecisionAccept, cfg))
	assert.Equal(t, 0.0, NextTrustRating(5, now, now, models.DecisionReject, cfg))
}

func TestReportVerifier(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	v := NewReportVerifier(pub)

	userID := uuid.New()
	digest := FingerprintDigest("device-fingerprint-raw")

	sign := func(claims jwt.MapClaims) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
		require.NoError(t, err)
		return tok
	}

	good := sign(jwt.MapClaims{"sub": userID.String(), "fp": digest, "nonce": "n1"})
	assert.NoError(t, v.Verify(good, userID, digest))

	wrongUser := sign(jwt.MapClaims{"sub": uuid.New().String(), "fp": digest})
	assert.Error(t, v.Verify(wrongUser, userID, digest))

	wrongFP := sign(jwt.MapClaims{"sub": userID.String(), "fp": "deadbeef"})
	assert.Error(t, v.Verify(wrongFP, userID, digest))

	// Signed by a different key entirely.
	_, otherPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{"sub": userID.String(), "fp": digest}).SignedString(otherPriv)
	require.NoError(t, err)
	assert.Error(t, v.Verify(forged, userID, digest))

	assert.Error(t, v.Verify("not-a-jwt", userID, digest))
}

func TestFingerprintDigestStable(t *testing.T) {
	a := FingerprintDigest("same-device")
	b := FingerprintDigest("same-device")
	c := FingerprintDigest("other-device")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}
