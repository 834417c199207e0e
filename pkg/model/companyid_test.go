package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompanyIDAcceptedLengths(t *testing.T) {
	for _, n := range []int{2, 3, 5} {
		raw := make([]byte, n)
		for i := range raw {
			raw[i] = byte(0x10 + i)
		}
		id, err := NewCompanyID(raw)
		require.NoError(t, err, "length %d must be accepted", n)
		assert.Equal(t, raw, id.Bytes())
	}
}

func TestCompanyIDRejectedLengths(t *testing.T) {
	for _, n := range []int{0, 1, 4, 6} {
		_, err := NewCompanyID(make([]byte, n))
		assert.ErrorIs(t, err, ErrInvalidCompanyID, "length %d must be rejected", n)
	}
}

func TestCompanyIDParseRoundTrip(t *testing.T) {
	id, err := NewCompanyID([]byte{0xAA, 0xBB, 0xCC})
	require.NoError(t, err)

	parsed, err := ParseCompanyID(id.String())
	require.NoError(t, err)
	assert.True(t, id.Equal(parsed))
}

func TestCompanyIDEqualityIgnoresLengthMismatchSafely(t *testing.T) {
	a, _ := NewCompanyID([]byte{1, 2})
	b, _ := NewCompanyID([]byte{1, 2, 3})
	assert.False(t, a.Equal(b))
}
