// Package security guards the coordinator's destructive operations
// (emergency_stop, reset_virtual) with an operator PIN, independent of
// the JWT bearer auth that gates the HTTP surface as a whole.
package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrPINMismatch is returned by PINService.Verify when the supplied PIN
// does not match the stored hash.
var ErrPINMismatch = errors.New("pin mismatch")

// PINService hashes and verifies operator PINs.
type PINService struct {
	cost int
}

// NewPINService creates a PINService. cost <= 0 uses bcrypt's default.
func NewPINService(cost int) *PINService {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &PINService{cost: cost}
}

// Hash produces a stored hash for pin, suitable for persisting in the
// operator roster.
func (s *PINService) Hash(pin string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(pin), s.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether pin matches storedHash, returning
// ErrPINMismatch (rather than bcrypt's own error) on a mismatch so
// callers can branch without depending on bcrypt directly.
func (s *PINService) Verify(storedHash, pin string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(pin)); err != nil {
		return ErrPINMismatch
	}
	return nil
}
