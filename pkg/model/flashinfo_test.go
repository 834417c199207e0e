package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoICFlashInformation() FlashInformation {
	return FlashInformation{
		ICs: []IC{
			{
				TotalSize: 0x10000,
				Offset:    0x08000000,
				Regions: []Region{
					{BlockSize: 0x4000, BlockCount: 4},
				},
			},
			{
				TotalSize: 0x20000,
				Offset:    0x08100000,
				Regions: []Region{
					{BlockSize: 0x8000, BlockCount: 2},
					{BlockSize: 0x10000, BlockCount: 1},
				},
			},
		},
	}
}

func TestBuildSectorTableBlockCountInvariant(t *testing.T) {
	fi := twoICFlashInformation()
	table, err := fi.BuildSectorTable(nil)
	require.NoError(t, err)

	want := 0
	for _, ic := range fi.ICs {
		want += ic.NumberOfSectors()
	}
	assert.Equal(t, want, len(table))

	for i, s := range table {
		assert.Equal(t, i, s.Index, "sector indices must be globally linear")
	}
}

func TestBuildSectorTableMarksProtected(t *testing.T) {
	fi := twoICFlashInformation()
	table, err := fi.BuildSectorTable([]int{0, 5})
	require.NoError(t, err)

	assert.True(t, table[0].IsProtected)
	assert.True(t, table[5].IsProtected)
	assert.False(t, table[1].IsProtected)
}

func TestSectorForUnknownAddressOverflows(t *testing.T) {
	fi := twoICFlashInformation()
	table, err := fi.BuildSectorTable(nil)
	require.NoError(t, err)

	_, err = SectorFor(table, 0xFFFFFFFF)
	assert.ErrorIs(t, err, ErrAddressNotInFlash)
}

func TestSectorsForRecordRejectsICBoundaryCrossing(t *testing.T) {
	fi := twoICFlashInformation()
	table, err := fi.BuildSectorTable(nil)
	require.NoError(t, err)

	ic0End := fi.ICs[0].Offset + fi.ICs[0].TotalSize - 1
	ic1Start := fi.ICs[1].Offset

	_, err = SectorsForRecord(table, ic0End, ic1Start)
	assert.ErrorIs(t, err, ErrRecordSpansICBoundary)
}

func TestSectorsForRecordWithinSingleIC(t *testing.T) {
	fi := twoICFlashInformation()
	table, err := fi.BuildSectorTable(nil)
	require.NoError(t, err)

	start := fi.ICs[0].Offset
	end := fi.ICs[0].Offset + fi.ICs[0].Regions[0].BlockSize // spans into the second sector
	spanned, err := SectorsForRecord(table, start, end)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(spanned), 2)
}

func TestAliasedRangeTranslate(t *testing.T) {
	r := AliasedRange{Physical: 0x08000000, Size: 0x1000, Aliased: 0x00000000}

	physical, err := r.Translate(0x100)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x08000100), physical)

	_, err = r.Translate(0x2000)
	assert.Error(t, err, "address outside the aliased window must be rejected")
}

func TestAliasedRangeTranslateOverflow(t *testing.T) {
	r := AliasedRange{Physical: 0xFFFFFFFF, Size: 0x10, Aliased: 0x0}
	_, err := r.Translate(0x8)
	assert.ErrorIs(t, err, ErrAliasTranslationOverflow)
}

func TestTranslateAddressPassesThroughWhenNoRangeMatches(t *testing.T) {
	addr, err := TranslateAddress(nil, 0x08001000)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x08001000), addr)
}
