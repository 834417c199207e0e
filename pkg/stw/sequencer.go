package stw

import (
	"errors"
	"fmt"
	"time"

	flashdrv "github.com/openflashdrv/flashdrv"
	"github.com/openflashdrv/flashdrv/internal/crc"
	"github.com/openflashdrv/flashdrv/pkg/model"
)

// EraseMode selects how the sequencer chooses which sectors to erase
// (spec §4.1 "Sector selection").
type EraseMode int

const (
	EraseAutomatic EraseMode = iota
	EraseUserDefined
	EraseCApplication
	EraseCANopenConfig
	EraseIECApp
	EraseIECRts
)

// FinishedAction is the terminal step of the hex-download sequence
// (spec §4.1 step 15).
type FinishedAction int

const (
	FinishedNone FinishedAction = iota
	FinishedNodeReturn
	FinishedNodeReset
	FinishedNodeSleep
	FinishedNetStart
	FinishedNetReset
)

// DevIDCheckMode is the device-ID cross-check reaction (spec §4.1
// "Device-ID cross-check").
type DevIDCheckMode int

const (
	DevIDCheckNone DevIDCheckMode = iota
	DevIDCheckScanHex
	DevIDCheckAskThenScan
	DevIDCheckAskThenFail
)

// WakeupMode selects how a node is addressed during wake-up (spec §4.1
// "Wake-up variants"), grounded on C_XFLWakeupParameters::e_WakeupMode.
type WakeupMode int

const (
	WakeupLocalID WakeupMode = iota
	WakeupSerialNumber
	WakeupLocalIDThenSerialNumber
	WakeupNone
)

// WakeupConfig is the wakeup_config input to Download (spec §4.1,
// "Wake node per wakeup_config"), grounded on C_XFLWakeupParameters:
// which node to address and whether to precede the wake with a "FLASH"
// broadcast burst to catch a just-powered node before it times out of its
// listening state. It has no option for sending a reset request before
// the wake.
type WakeupConfig struct {
	Mode WakeupMode

	SendFLASHRequired  bool
	FlashBurstWindow   time.Duration
	FlashBurstInterval time.Duration

	Serial  model.SerialNumber
	Company model.CompanyID
}

// Params is the hex-download sequencer's parameter set (spec §4.1).
type Params struct {
	WakeupConfig      WakeupConfig
	EraseMode         EraseMode
	UserDefinedRanges []string // "a-b", comma-separated input already split by the caller
	FinishedAction    FinishedAction
	InterFrameDelay   time.Duration
	HexRecordLength   int
	WriteCRCs         bool
	DevIDCheck        DevIDCheckMode
	Company           model.CompanyID
	ProtectedSectors  []int
	Username          string
	// XFLExchange requests set_xfl_exchange after the initial wake-up
	// (spec §4.1 step 4: "requires a second wake afterwards"); when set,
	// checksum write-back (step 14) is skipped, since the spec notes
	// updating CRCs in exchange mode is unreliable.
	XFLExchange bool
	// AliasedRanges lists any aliased-vs-physical address windows the
	// target reports (spec §3 "Aliased memory range"); automatic sector
	// selection translates a hex record's addresses through these before
	// locating sectors (spec §4.1 step 8: "apply aliasing if the address
	// lies in an aliased window, then locate the sector").
	AliasedRanges []model.AliasedRange
	// DivertStream marks a device whose streaming/parameter blocks live
	// outside the sectors a legacy fixed-table erase mode would otherwise
	// claim (grounded on C_XFLFlashWriteParameters::q_DivertStream, the
	// BBB special case that spares the parameter-block sectors). Only
	// consulted by the legacy C-application and CANopen-config erase
	// modes.
	DivertStream bool
}

// Sequencer drives one target's STW hex-download, sector-erase planning,
// checksum write-back and fingerprint bookkeeping (spec §4.1).
type Sequencer struct {
	client   *Client
	reporter flashdrv.Reporter
}

func NewSequencer(client *Client, reporter flashdrv.Reporter) *Sequencer {
	if reporter == nil {
		reporter = flashdrv.NopReporter{}
	}
	return &Sequencer{client: client, reporter: reporter}
}

// Download runs the full 15-step sequence from spec §4.1.
func (s *Sequencer) Download(hex HexSource, params Params) flashdrv.Result {
	records := hex.Records()

	// step 2: hex checksum (computed for completeness/telemetry; the
	// legacy bootloader keeps its own over the data it receives)
	var all []byte
	for _, r := range records {
		all = append(all, r.Data...)
	}

	// step 3: wake per wakeup_config
	if err := s.wakeUp(params.WakeupConfig); err != nil {
		s.reporter.Error("wake-up failed: %v", err)
		return flashdrv.NoResponse
	}

	// step 4: optional set_xfl_exchange, which puts the server back to
	// sleep, requiring a second wake-up with the same config.
	if params.XFLExchange {
		if err := s.client.SetXFLExchange(); err != nil {
			s.reporter.Error("set_xfl_exchange failed: %v", err)
			return flashdrv.NoResponse
		}
		s.reporter.Info("set_xfl_exchange acknowledged, re-waking node")
		if err := s.wakeUp(params.WakeupConfig); err != nil {
			s.reporter.Error("re-wake after set_xfl_exchange failed: %v", err)
			return flashdrv.NoResponse
		}
	}

	// step 5: protocol version + features
	version, err := s.client.ReadProtocolVersion()
	if err != nil {
		version = model.ProtocolVersion{Major: 2, Minor: 99} // assume < 3.00 per spec §4.1 cascade step 1
	}
	var features model.Features
	if version.GE(3, 0) {
		bits, err := s.client.ReadImplementedServices()
		if err != nil {
			s.reporter.Warn("could not read service bitmap: %v", err)
		} else {
			features = model.DeriveFeatures(bits, version)
		}
	}

	// step 6: device-ID cross-check
	if params.DevIDCheck != DevIDCheckNone {
		deviceID, err := s.client.ReadDeviceID(version.GE(3, 0))
		if err == nil {
			if hexID, ok := hex.DeviceIDAt(0); ok && hexID != deviceID {
				if params.DevIDCheck == DevIDCheckAskThenFail {
					return flashdrv.RangeError
				}
				s.reporter.Warn("device-ID mismatch: device=%q hex=%q", deviceID, hexID)
			}
		}
	}

	// step 7: flash information + hex re-optimization
	var table []model.Sector
	if features.FlashInformation {
		var ics []model.IC
		for i := 0; ; i++ {
			ic, ok, err := s.client.ReadFlashInformation(i)
			if err != nil || !ok {
				break
			}
			ics = append(ics, ic)
		}
		fi := model.FlashInformation{ICs: ics}
		table, err = fi.BuildSectorTable(params.ProtectedSectors)
		if err != nil {
			return flashdrv.ConfigError
		}
		records = Optimize(records, params.HexRecordLength, 1)
	}

	// step 8: select sectors to erase
	sectors, err := s.selectSectors(table, records, params, version)
	if err != nil {
		s.reporter.Error("sector selection: %v", err)
		if errors.Is(err, model.ErrAddressNotInFlash) {
			return flashdrv.Overflow
		}
		return flashdrv.RangeError
	}

	// step 9: erase loop (ascending order; sector 0 always CRC'd even if
	// not erased — spec's "legacy bootloader checksum requirement")
	for _, sec := range sectors {
		if err := s.client.EraseSector(sec.Index, EraseTimeout); err != nil {
			s.reporter.Error("erase sector %d: %v", sec.Index, err)
			return flashdrv.NoResponse
		}
	}

	// step 10: start-of-programming fingerprint
	now := time.Now()
	fp, _ := model.InProgress(
		model.FingerprintDate{Year: uint8(now.Year() - 2000), Month: uint8(now.Month()), Day: uint8(now.Day())},
		model.FingerprintTime{Hour: uint8(now.Hour()), Minute: uint8(now.Minute()), Second: uint8(now.Second())},
		params.Username,
	)
	if features.Fingerprint {
		if err := s.client.SetFingerprint(fp); err != nil {
			s.reporter.Warn("set fingerprint: %v", err)
		}
	}

	// step 11
	if err := s.client.ProgFlashEntry(); err != nil {
		return flashdrv.NoResponse
	}

	// step 12: burst hex lines, 5 per call; progress is reported after a
	// burst once 750ms have passed since the previous report, and after the
	// last burst
	if verdict := s.sendRecords(records, params); verdict == flashdrv.Abort {
		return flashdrv.UserAbort
	}

	// step 13: final application checksum
	checksum := crc.HexChecksum(all)
	if features.Fingerprint {
		if err := s.client.SetApplicationChecksum(checksum); err != nil {
			s.reporter.Warn("set application checksum (non-fatal): %v", err)
		}
	}

	// step 14: checksum write-back, unless set_xfl_exchange was used (spec
	// §4.1 step 14: "unless xfl_exchange was used" — exchange mode leaves
	// the server in a state where CRC updates are unreliable)
	if params.WriteCRCs && !params.XFLExchange {
		s.writeBackChecksums(sectors, features)
	}

	// step 15: finished action
	s.runFinishedAction(params.FinishedAction)

	return flashdrv.OK
}

// wakeUp performs the wakeup_config wake-up variant: an optional "FLASH"
// broadcast burst to catch a just-powered node, followed by a wake by
// local ID, serial number, or local-ID-then-serial-number (spec §4.1
// "Wake-up variants"; grounded on C_XFLFlashWrite::m_Wakeup /
// PerformWakeup and C_XFLWakeupParameters).
func (s *Sequencer) wakeUp(cfg WakeupConfig) error {
	if cfg.SendFLASHRequired {
		window := cfg.FlashBurstWindow
		interval := cfg.FlashBurstInterval
		if interval <= 0 {
			interval = 10 * time.Millisecond
		}
		s.client.FlashBroadcastBurst(window, interval)
	}
	switch cfg.Mode {
	case WakeupNone:
		return nil
	case WakeupSerialNumber:
		return s.client.WakeUpSerialNumber(cfg.Serial, cfg.Company)
	case WakeupLocalIDThenSerialNumber:
		if err := s.client.WakeUpLocalID(cfg.Company); err != nil {
			return s.client.WakeUpSerialNumber(cfg.Serial, cfg.Company)
		}
		return nil
	default: // WakeupLocalID
		return s.client.WakeUpLocalID(cfg.Company)
	}
}

func (s *Sequencer) selectSectors(table []model.Sector, records []HexRecord, params Params, version model.ProtocolVersion) ([]model.Sector, error) {
	switch params.EraseMode {
	case EraseAutomatic:
		return s.selectAutomatic(table, records, params.AliasedRanges)
	case EraseUserDefined:
		return s.selectUserDefined(table, params.UserDefinedRanges)
	default:
		return s.selectLegacyFixed(params.EraseMode, table, records, params, version)
	}
}

func (s *Sequencer) selectAutomatic(table []model.Sector, records []HexRecord, aliased []model.AliasedRange) ([]model.Sector, error) {
	seen := make(map[int]model.Sector)
	for _, rec := range records {
		start, end := uint64(rec.Address), uint64(rec.End())
		if len(aliased) > 0 {
			start32, err := model.TranslateAddress(aliased, start)
			if err != nil {
				return nil, err
			}
			end32, err := model.TranslateAddress(aliased, end)
			if err != nil {
				return nil, err
			}
			start, end = uint64(start32), uint64(end32)
		}
		spanned, err := model.SectorsForRecord(table, uint32(start), uint32(end))
		if err != nil {
			return nil, err
		}
		for _, sec := range spanned {
			if sec.IsProtected {
				return nil, fmt.Errorf("sector %d is protected", sec.Index)
			}
			seen[sec.Index] = sec
		}
	}
	if len(table) > 0 {
		seen[table[0].Index] = table[0] // sector 0 always CRC'd/present (spec step 9)
	}
	out := make([]model.Sector, 0, len(seen))
	for _, sec := range seen {
		out = append(out, sec)
	}
	sortSectorsByIndex(out)
	return out, nil
}

func (s *Sequencer) selectUserDefined(table []model.Sector, ranges []string) ([]model.Sector, error) {
	var indexes []int
	for _, r := range ranges {
		var lo, hi int
		if _, err := fmt.Sscanf(r, "%d-%d", &lo, &hi); err != nil {
			if _, err := fmt.Sscanf(r, "%d", &lo); err != nil {
				return nil, fmt.Errorf("invalid sector range %q", r)
			}
			hi = lo
		}
		for i := lo; i <= hi; i++ {
			indexes = append(indexes, i)
		}
	}
	out := make([]model.Sector, 0, len(indexes))
	for _, idx := range indexes {
		found := false
		for _, sec := range table {
			if sec.Index == idx {
				out = append(out, sec)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("sector %d not in sector table", idx)
		}
	}
	sortSectorsByIndex(out)
	return out, nil
}

// selectLegacyFixed covers the hard-coded legacy erase modes (C-application,
// CANopen-config, IEC-application, IEC-runtime-system), grounded on
// C_XFLFlashWrite::m_SetSectorsToErase. These tables are keyed by the
// total sector count, which in turn identifies the flash chip the
// original firmware families were built against (7 sectors: 512kB Intel;
// 11 sectors: 512kB AMD; 19 sectors: 1MB AMD); spec §9 Open Questions
// asks these legacy modes be retained but gated behind the EraseMode
// enum rather than dropped outright.
func (s *Sequencer) selectLegacyFixed(mode EraseMode, table []model.Sector, records []HexRecord, params Params, version model.ProtocolVersion) ([]model.Sector, error) {
	total := len(table)

	// plausibility gate: on protocol >= 3.00 the legacy tables no longer
	// apply to the firmware layout; C-application falls back to automatic
	// sector selection with a hint, the rest are rejected outright.
	if version.GE(3, 0) {
		if mode == EraseCApplication {
			s.reporter.Info("protocol >= 3.00: using automatic sector selection instead of the legacy C-application table")
			return s.selectAutomatic(table, records, params.AliasedRanges)
		}
		return nil, fmt.Errorf("erase mode %v is only valid on protocol < 3.00", mode)
	}

	sectorByIndex := func(idx int) (model.Sector, bool) {
		for _, sec := range table {
			if sec.Index == idx {
				return sec, true
			}
		}
		return model.Sector{}, false
	}
	mark := func(indexes []int) ([]model.Sector, error) {
		out := make([]model.Sector, 0, len(indexes))
		for _, idx := range indexes {
			sec, ok := sectorByIndex(idx)
			if !ok {
				return nil, fmt.Errorf("legacy erase table references sector %d, not present in sector table", idx)
			}
			if sec.IsProtected {
				return nil, fmt.Errorf("sector %d is protected", sec.Index)
			}
			out = append(out, sec)
		}
		sortSectorsByIndex(out)
		return out, nil
	}

	switch mode {
	case EraseCApplication:
		if total < 1 {
			return nil, fmt.Errorf("C-application erase mode requires at least one sector")
		}
		indexes := make([]int, 0, total-1)
		for i := 1; i < total; i++ { // erase everything except sector 0
			indexes = append(indexes, i)
		}
		if params.DivertStream {
			if total < 3 {
				return nil, fmt.Errorf("C-application erase mode with diverted stream requires at least 3 sectors")
			}
			indexes = removeInts(indexes, 1, 2) // BBB: don't erase parameter blocks
		}
		return mark(indexes)

	case EraseCANopenConfig:
		if total < 3 {
			return nil, fmt.Errorf("CANopen-config erase mode requires at least 3 sectors")
		}
		indexes := []int{2}
		if params.DivertStream {
			indexes = append(indexes, 1) // BBB: param block 1 only
		}
		return mark(indexes)

	case EraseIECApp:
		var indexes []int
		switch total {
		case 7: // 512kB Intel flash
			indexes = []int{5, 6}
		case 11: // 512kB AMD flash
			indexes = []int{7, 8, 9, 10}
		case 19: // 1MB AMD flash
			indexes = []int{7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
		default:
			return nil, fmt.Errorf("IEC-application erase mode is not possible with %d sectors", total)
		}
		return mark(indexes)

	case EraseIECRts:
		var indexes []int
		switch total {
		case 7: // 512kB Intel flash
			indexes = []int{3, 4}
			if deviceID, err := s.client.ReadDeviceID(false); err == nil && deviceID == "MICR" {
				// ESX micro: its runtime system also occupies sectors 1, 2
				indexes = append(indexes, 1, 2)
			}
		case 11: // 512kB AMD flash
			indexes = []int{3, 4, 5, 6}
		case 19: // 1MB AMD flash
			indexes = []int{3, 4, 5, 6, 17, 18}
		default:
			return nil, fmt.Errorf("IEC-runtime-system erase mode is not possible with %d sectors", total)
		}
		return mark(indexes)

	default:
		return nil, fmt.Errorf("unsupported legacy erase mode %v", mode)
	}
}

// removeInts returns a copy of in with every occurrence of each value in
// remove dropped.
func removeInts(in []int, remove ...int) []int {
	drop := make(map[int]bool, len(remove))
	for _, v := range remove {
		drop[v] = true
	}
	out := make([]int, 0, len(in))
	for _, v := range in {
		if !drop[v] {
			out = append(out, v)
		}
	}
	return out
}

func sortSectorsByIndex(sectors []model.Sector) {
	for i := 1; i < len(sectors); i++ {
		for j := i; j > 0 && sectors[j].Index < sectors[j-1].Index; j-- {
			sectors[j], sectors[j-1] = sectors[j-1], sectors[j]
		}
	}
}

func (s *Sequencer) sendRecords(records []HexRecord, params Params) flashdrv.Verdict {
	lastReport := time.Now()
	const burst = 5
	for i := 0; i < len(records); i += burst {
		end := i + burst
		if end > len(records) {
			end = len(records)
		}
		for _, rec := range records[i:end] {
			if err := s.client.SendHexLine(rec.Data); err != nil {
				s.reporter.Error("send hex line at x%x: %v", rec.Address, err)
				return flashdrv.Abort
			}
			if params.InterFrameDelay > 0 {
				time.Sleep(params.InterFrameDelay)
			}
		}
		if time.Since(lastReport) >= 750*time.Millisecond || end == len(records) {
			permille := (end * 1000) / maxInt(len(records), 1)
			if s.reporter.Progress(permille) == flashdrv.Abort {
				return flashdrv.Abort
			}
			lastReport = time.Now()
		}
	}
	return flashdrv.Continue
}

// writeBackChecksums implements the three-way mode table from spec §4.1
// "Checksum write-back". Which flavor applies is a property of the
// device's derived Features, not a caller choice: sector-based,
// block-based EEPROM, or block-based flash (verify-only).
func (s *Sequencer) writeBackChecksums(sectors []model.Sector, features model.Features) {
	switch {
	case features.SectorBasedCRCs:
		for _, sec := range sectors {
			if _, err := s.client.SetSectorChecksum(sec.Index); err != nil {
				s.reporter.Warn("set sector checksum %d: %v", sec.Index, err)
			}
		}
		if err := s.client.NodeSleep(); err != nil {
			s.reporter.Warn("node sleep (CRC flush): %v", err)
		}
		if err := s.client.WakeUpLocalID(model.CompanyID{}); err != nil {
			s.reporter.Warn("re-wake after CRC flush: %v", err)
		}
	case features.BlockBasedCRCsEEPROM:
		for _, sec := range sectors {
			if _, err := s.client.SetBlockChecksum(sec.Index); err != nil {
				s.reporter.Warn("set block checksum %d: %v", sec.Index, err)
			}
		}
	case features.BlockBasedCRCsFlash:
		s.reporter.Info("block checksums are flash-resident on this device; verify only, not rewritten")
	}
}

func (s *Sequencer) runFinishedAction(action FinishedAction) {
	var err error
	switch action {
	case FinishedNodeReturn:
		err = s.client.NodeReturn()
	case FinishedNodeReset:
		err = s.client.NodeReset()
	case FinishedNodeSleep:
		err = s.client.NodeSleep()
	case FinishedNetReset:
		err = s.client.NetReset()
	case FinishedNetStart:
		err = s.client.NetSleep()
	case FinishedNone:
		return
	}
	if err != nil {
		s.reporter.Warn("finished action %v: %v", action, err)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
