package model

import (
	"errors"
	"fmt"
)

var (
	ErrSectorTableInconsistent = errors.New("sector table region/IC block counts disagree")
	ErrAddressNotInFlash       = errors.New("address is not covered by any flash IC")
	ErrRecordSpansICBoundary   = errors.New("hex record spans two flash ICs")
	ErrAliasTranslationOverflow = errors.New("aliased address translation does not fit in 32 bits")
)

// Region is one contiguous run of same-sized sectors within an IC.
type Region struct {
	BlockSize  uint32
	BlockCount uint32
}

// IC is one flash integrated circuit as reported by flash-information
// (spec §3 "Flash-sector map").
type IC struct {
	TotalSize      uint32
	Offset         uint32
	Regions        []Region
	MaxEraseTimeMs uint32
	MaxWriteTimeMs uint32
}

// NumberOfSectors returns the sector count this IC's regions expand to.
func (ic IC) NumberOfSectors() int {
	n := 0
	for _, r := range ic.Regions {
		n += int(r.BlockCount)
	}
	return n
}

// Sector is one entry of the flat, globally-linear sector table derived
// from a FlashInformation (spec §3 invariant: "sector indices are
// globally linear across ICs").
type Sector struct {
	Index       int
	ICIndex     int
	Start       uint32
	Size        uint32
	IsProtected bool
}

func (s Sector) End() uint32 { return s.Start + s.Size }

func (s Sector) Contains(addr uint32) bool {
	return addr >= s.Start && addr < s.End()
}

// FlashInformation is the ordered list of ICs reported by a server (spec
// §3). BuildSectorTable checks that each IC's derived sector count equals
// its NumberOfSectors, and lays each IC's flat sectors out from its own
// offset, concatenated in IC order. It does not check that addresses
// increase from one IC to the next.
type FlashInformation struct {
	ICs []IC
}

// BuildSectorTable expands every IC's regions into a flat, globally
// indexed Sector slice, marking any sector whose index appears in
// protectedIndexes as protected.
func (fi FlashInformation) BuildSectorTable(protectedIndexes []int) ([]Sector, error) {
	protected := make(map[int]bool, len(protectedIndexes))
	for _, i := range protectedIndexes {
		protected[i] = true
	}
	var table []Sector
	globalIndex := 0
	for icIdx, ic := range fi.ICs {
		addr := ic.Offset
		expanded := 0
		for _, region := range ic.Regions {
			for n := uint32(0); n < region.BlockCount; n++ {
				table = append(table, Sector{
					Index:       globalIndex,
					ICIndex:     icIdx,
					Start:       addr,
					Size:        region.BlockSize,
					IsProtected: protected[globalIndex],
				})
				addr += region.BlockSize
				globalIndex++
				expanded++
			}
		}
		if expanded != ic.NumberOfSectors() {
			return nil, ErrSectorTableInconsistent
		}
	}
	return table, nil
}

// SectorFor returns the sector containing addr, or ErrAddressNotInFlash
// if no IC covers it (spec §4.1 "Unknown memory ⇒ OVERFLOW").
func SectorFor(table []Sector, addr uint32) (Sector, error) {
	for _, s := range table {
		if s.Contains(addr) {
			return s, nil
		}
	}
	return Sector{}, ErrAddressNotInFlash
}

// SectorsForRecord locates the sectors spanning [start, end] (a single
// hex data record), enforcing that both ends land in the same IC (spec
// §4.1: "Multi-sector records are allowed only if the record does not
// span an IC boundary"). Addresses spanning aliased-vs-physical windows
// are explicitly unsupported (spec §9 Open Questions) and are not
// detected here; callers must translate aliasing before calling this.
func SectorsForRecord(table []Sector, start, end uint32) ([]Sector, error) {
	startSector, err := SectorFor(table, start)
	if err != nil {
		return nil, err
	}
	endSector, err := SectorFor(table, end)
	if err != nil {
		return nil, err
	}
	if startSector.ICIndex != endSector.ICIndex {
		return nil, ErrRecordSpansICBoundary
	}
	var spanned []Sector
	for _, s := range table {
		if s.ICIndex != startSector.ICIndex {
			continue
		}
		if s.End() <= startSector.Start || s.Start >= endSector.End() {
			continue
		}
		spanned = append(spanned, s)
	}
	return spanned, nil
}

// AliasedRange maps a window of aliased address space back to the
// physical addresses hex-file records are written against (spec §3
// "Aliased memory range").
type AliasedRange struct {
	Physical uint64
	Size     uint64
	Aliased  uint64
}

func (r AliasedRange) Contains(addr uint64) bool {
	return addr >= r.Aliased && addr < r.Aliased+r.Size
}

// Translate converts an address known to lie in this range's aliased
// window back to its physical equivalent. The spec requires the result
// fit in 32 bits, since the sector table itself is u32-addressed.
func (r AliasedRange) Translate(addr uint64) (uint32, error) {
	if !r.Contains(addr) {
		return 0, fmt.Errorf("address x%x not within aliased range x%x+x%x", addr, r.Aliased, r.Size)
	}
	physical := int64(addr) + (int64(r.Physical) - int64(r.Aliased))
	if physical < 0 || physical > 0xFFFFFFFF {
		return 0, ErrAliasTranslationOverflow
	}
	return uint32(physical), nil
}

// TranslateAddress walks a set of aliased ranges and translates addr if
// it falls in one of them, otherwise returns addr unchanged.
func TranslateAddress(ranges []AliasedRange, addr uint64) (uint32, error) {
	for _, r := range ranges {
		if r.Contains(addr) {
			return r.Translate(addr)
		}
	}
	if addr > 0xFFFFFFFF {
		return 0, ErrAliasTranslationOverflow
	}
	return uint32(addr), nil
}
