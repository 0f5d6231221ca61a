package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPINService_HashAndVerifyRoundTrip(t *testing.T) {
	svc := NewPINService(4) // low cost for fast tests
	hash, err := svc.Hash("1234")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, "1234", hash)

	assert.NoError(t, svc.Verify(hash, "1234"))
}

func TestPINService_VerifyRejectsWrongPIN(t *testing.T) {
	svc := NewPINService(4)
	hash, err := svc.Hash("1234")
	require.NoError(t, err)

	err = svc.Verify(hash, "0000")
	assert.ErrorIs(t, err, ErrPINMismatch)
}

func TestNewPINService_DefaultsCostWhenNonPositive(t *testing.T) {
	svc := NewPINService(0)
	hash, err := svc.Hash("5678")
	require.NoError(t, err)
	assert.NoError(t, svc.Verify(hash, "5678"))
}
