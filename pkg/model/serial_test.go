package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassicSerialNumberRoundTrip(t *testing.T) {
	cases := [][6]byte{
		{0x23, 0x01, 0x23, 0x45, 0x67, 0x89},
		{0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
		{0x99, 0x99, 0x99, 0x99, 0x99, 0x99},
	}
	for _, raw := range cases {
		sn, err := NewClassicSerialNumber(raw)
		require.NoError(t, err)

		for _, withDots := range []bool{true, false} {
			formatted := sn.Format(withDots)
			parsed, err := ParseClassicSerialNumber(formatted)
			require.NoError(t, err)
			assert.True(t, sn.Equal(parsed), "round trip mismatch for % x via %q", raw, formatted)
		}
	}
}

func TestClassicSerialNumberRejectsNonBCD(t *testing.T) {
	_, err := NewClassicSerialNumber([6]byte{0xFA, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidClassicSerial)
}

func TestFormatHasDots(t *testing.T) {
	sn, err := NewClassicSerialNumber([6]byte{0x23, 0x01, 0x23, 0x45, 0x67, 0x89})
	require.NoError(t, err)
	assert.Equal(t, "23.012345.6789", sn.Format(true))
	assert.Equal(t, "230123456789", sn.Format(false))
}

func TestExtendedSerialNumberFSNPrintableOnly(t *testing.T) {
	_, err := NewExtendedSerialNumber(EncodingFSNAscii, []byte{0x01, 'A', 'B'})
	assert.ErrorIs(t, err, ErrInvalidFSNSerial)

	sn, err := NewExtendedSerialNumber(EncodingFSNAscii, []byte("ABC123"))
	require.NoError(t, err)
	assert.Equal(t, "ABC123", sn.Format(true))
}

func TestExtendedSerialNumberLengthBounds(t *testing.T) {
	_, err := NewExtendedSerialNumber(EncodingClassicBCD, nil)
	assert.ErrorIs(t, err, ErrInvalidExtendedSerial)

	tooLong := make([]byte, 30)
	_, err = NewExtendedSerialNumber(EncodingClassicBCD, tooLong)
	assert.ErrorIs(t, err, ErrInvalidExtendedSerial)
}

func TestSerialNumberEqualityRespectsEncoding(t *testing.T) {
	classic, _ := NewClassicSerialNumber([6]byte{1, 2, 3, 4, 5, 6})
	fsn, err := NewExtendedSerialNumber(EncodingFSNAscii, []byte("ABCDEF"))
	require.NoError(t, err)
	assert.False(t, classic.Equal(fsn), "classic BCD and FSN never compare equal regardless of content")

	sameEncoding, _ := NewExtendedSerialNumber(EncodingClassicBCD, []byte{1, 2, 3, 4, 5, 6})
	assert.True(t, classic.Equal(sameEncoding), "classic constructor and extended-tag-1 constructor agree")
}
