package stw

// HexRecord is one already-parsed Intel-HEX data record. Parsing itself
// is excluded from this design (spec §1 "Excluded as external
// collaborators: Intel-HEX file I/O"); this type and the HexSource
// interface are the narrow boundary the sequencer consumes instead of
// embedding a parser.
type HexRecord struct {
	Address uint32
	Data    []byte
}

func (r HexRecord) End() uint32 { return r.Address + uint32(len(r.Data)) - 1 }

// HexSource is implemented by whatever parses the Intel-HEX file. The
// sequencer only ever reads an ordered record stream and a device-ID hint
// back out of it; it never opens a file itself.
type HexSource interface {
	Records() []HexRecord
	// DeviceIDAt returns the device-ID string embedded in the file at
	// addr, if the file carries one there (spec §4.1 "Device-ID
	// cross-check").
	DeviceIDAt(addr uint32) (string, bool)
}

// Optimize splits each record into chunks of the largest multiple of
// granularity that is at most maxLength bytes (granularity itself when
// that multiple is 0; maxLength <= 0 means 16) (spec §6 "Hex-record
// constraint"). A record's last chunk carries whatever remains, so its
// length need not be a multiple of granularity. Records are only split,
// never merged. Per §9 Open Questions, granularity 0 is treated as 1.
func Optimize(records []HexRecord, maxLength int, granularity int) []HexRecord {
	if granularity <= 0 {
		granularity = 1
	}
	if maxLength <= 0 {
		maxLength = 16
	}
	step := (maxLength / granularity) * granularity
	if step <= 0 {
		step = granularity
	}
	var out []HexRecord
	for _, rec := range records {
		for off := 0; off < len(rec.Data); off += step {
			end := off + step
			if end > len(rec.Data) {
				end = len(rec.Data)
			}
			out = append(out, HexRecord{
				Address: rec.Address + uint32(off),
				Data:    rec.Data[off:end],
			})
		}
	}
	return out
}
