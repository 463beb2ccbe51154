// internal/trust/integrity.go
package trust

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// ReportVerifier checks signed device integrity reports. The mobile client's
// attestation layer signs a JWT binding the submitting user to the device
// fingerprint; a report that fails any check is a tamper signal and forces a
// REJECT upstream.
type ReportVerifier struct {
	publicKey ed25519.PublicKey
}

// NewReportVerifier wraps an already-loaded ed25519 public key.
func NewReportVerifier(pub ed25519.PublicKey) *ReportVerifier {
	return &ReportVerifier{publicKey: pub}
}

// LoadReportVerifier reads the attestation public key from a file.
func LoadReportVerifier(path string) (*ReportVerifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attestation public key: %w", err)
	}
	if len(data) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("attestation public key must be %d bytes, got %d", ed25519.PublicKeySize, len(data))
	}
	return &ReportVerifier{publicKey: ed25519.PublicKey(data)}, nil
}

// Verify parses and validates an integrity report token. The report must be
// EdDSA-signed, carry "sub" matching the submitting user, and "fp" matching
// the sample's fingerprint digest.
func (v *ReportVerifier) Verify(token string, userID uuid.UUID, fingerprintDigest string) error {
	t, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.publicKey, nil
	})
	if err != nil {
		return fmt.Errorf("integrity report parse error: %w", err)
	}
	if !t.Valid {
		return fmt.Errorf("invalid integrity report")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("invalid integrity report claims")
	}
	sub, _ := claims["sub"].(string)
	if sub != userID.String() {
		return fmt.Errorf("integrity report subject mismatch")
	}
	fp, _ := claims["fp"].(string)
	if fp != fingerprintDigest {
		return fmt.Errorf("integrity report fingerprint mismatch")
	}
	return nil
}

// FingerprintDigest returns the canonical short digest used to store and
// compare raw device fingerprints.
func FingerprintDigest(raw string) string {
	sum := blake2b.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}
