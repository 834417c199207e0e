// Package flashcfg saves and loads the STW flash-write parameter set
// through an INI file, the persisted-configuration boundary this host
// exposes instead of embedding a full project file format (spec §1 "XML
// project serialization... excluded as external collaborators"; spec §8
// round-trip property: "save-then-load... yields an identical parameter
// structure").
//
// Grounded on gopkg.in/ini.v1, the INI library the rest of the example
// pack wires for config boundaries; sections/keys below mirror the
// teacher's config-file idiom of one INI section per logical component.
package flashcfg

import (
	"time"

	"gopkg.in/ini.v1"

	"github.com/openflashdrv/flashdrv/pkg/model"
	"github.com/openflashdrv/flashdrv/pkg/stw"
)

const (
	sectionWakeup   = "wakeup"
	sectionErase    = "erase"
	sectionTransfer = "transfer"
	sectionFinish   = "finish"
)

// Params is the on-disk mirror of stw.Params plus the wake-up company ID,
// structured for INI round-tripping (stw.Params carries values the INI
// format can represent directly; this type adds the string<->enum
// conversions INI needs).
type Params struct {
	CompanyID            string
	WakeupMode           string
	SendFLASHRequired    bool
	FlashBurstWindowUs   int64
	FlashBurstIntervalUs int64
	EraseMode            string
	UserDefinedRanges    []string
	FinishedAction       string
	InterFrameDelayUs    int64
	HexRecordLength      int
	WriteCRCs            bool
	DevIDCheck           string
	ProtectedSectors     []int
	Username             string
	XFLExchange          bool
}

var wakeupModeNames = map[stw.WakeupMode]string{
	stw.WakeupLocalID:                   "local-id",
	stw.WakeupSerialNumber:              "serial-number",
	stw.WakeupLocalIDThenSerialNumber:   "local-id-then-serial-number",
	stw.WakeupNone:                      "none",
}

var wakeupModeValues = reverseWakeupMap(wakeupModeNames)

func reverseWakeupMap(m map[stw.WakeupMode]string) map[string]stw.WakeupMode {
	out := make(map[string]stw.WakeupMode, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

var eraseModeNames = map[stw.EraseMode]string{
	stw.EraseAutomatic:     "automatic",
	stw.EraseUserDefined:   "user-defined",
	stw.EraseCApplication:  "c-application",
	stw.EraseCANopenConfig: "canopen-config",
	stw.EraseIECApp:        "iec-app",
	stw.EraseIECRts:        "iec-rts",
}

var eraseModeValues = reverseStringMap(eraseModeNames)

var finishedActionNames = map[stw.FinishedAction]string{
	stw.FinishedNone:       "none",
	stw.FinishedNodeReturn: "node-return",
	stw.FinishedNodeReset:  "node-reset",
	stw.FinishedNodeSleep:  "node-sleep",
	stw.FinishedNetStart:   "net-start",
	stw.FinishedNetReset:   "net-reset",
}

var finishedActionValues = reverseFinishedMap(finishedActionNames)

var devIDCheckNames = map[stw.DevIDCheckMode]string{
	stw.DevIDCheckNone:         "none",
	stw.DevIDCheckScanHex:      "scan-hex",
	stw.DevIDCheckAskThenScan:  "ask-then-scan",
	stw.DevIDCheckAskThenFail:  "ask-then-fail",
}

var devIDCheckValues = reverseDevIDMap(devIDCheckNames)

func reverseStringMap(m map[stw.EraseMode]string) map[string]stw.EraseMode {
	out := make(map[string]stw.EraseMode, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

func reverseFinishedMap(m map[stw.FinishedAction]string) map[string]stw.FinishedAction {
	out := make(map[string]stw.FinishedAction, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

func reverseDevIDMap(m map[stw.DevIDCheckMode]string) map[string]stw.DevIDCheckMode {
	out := make(map[string]stw.DevIDCheckMode, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// FromStwParams converts a stw.Params plus its company ID into the
// INI-representable Params.
func FromStwParams(p stw.Params, company model.CompanyID) Params {
	return Params{
		CompanyID:            company.String(),
		WakeupMode:           wakeupModeNames[p.WakeupConfig.Mode],
		SendFLASHRequired:    p.WakeupConfig.SendFLASHRequired,
		FlashBurstWindowUs:   p.WakeupConfig.FlashBurstWindow.Microseconds(),
		FlashBurstIntervalUs: p.WakeupConfig.FlashBurstInterval.Microseconds(),
		EraseMode:            eraseModeNames[p.EraseMode],
		UserDefinedRanges:    p.UserDefinedRanges,
		FinishedAction:       finishedActionNames[p.FinishedAction],
		InterFrameDelayUs:    p.InterFrameDelay.Microseconds(),
		HexRecordLength:      p.HexRecordLength,
		WriteCRCs:            p.WriteCRCs,
		DevIDCheck:           devIDCheckNames[p.DevIDCheck],
		ProtectedSectors:     p.ProtectedSectors,
		Username:             p.Username,
		XFLExchange:          p.XFLExchange,
	}
}

// ToStwParams converts back to stw.Params and the wake-up company ID.
func (p Params) ToStwParams() (stw.Params, model.CompanyID, error) {
	company, err := model.ParseCompanyID(p.CompanyID)
	if err != nil {
		return stw.Params{}, model.CompanyID{}, err
	}
	return stw.Params{
		WakeupConfig: stw.WakeupConfig{
			Mode:               wakeupModeValues[p.WakeupMode],
			SendFLASHRequired:  p.SendFLASHRequired,
			FlashBurstWindow:   time.Duration(p.FlashBurstWindowUs) * time.Microsecond,
			FlashBurstInterval: time.Duration(p.FlashBurstIntervalUs) * time.Microsecond,
			Company:            company,
		},
		EraseMode:         eraseModeValues[p.EraseMode],
		UserDefinedRanges: p.UserDefinedRanges,
		FinishedAction:    finishedActionValues[p.FinishedAction],
		InterFrameDelay:   time.Duration(p.InterFrameDelayUs) * time.Microsecond,
		HexRecordLength:   p.HexRecordLength,
		WriteCRCs:         p.WriteCRCs,
		DevIDCheck:        devIDCheckValues[p.DevIDCheck],
		Company:           company,
		ProtectedSectors:  p.ProtectedSectors,
		Username:          p.Username,
		XFLExchange:       p.XFLExchange,
	}, company, nil
}

// Save writes p to path as an INI file.
func Save(path string, p Params) error {
	f := ini.Empty()

	wakeup, err := f.NewSection(sectionWakeup)
	if err != nil {
		return err
	}
	wakeup.Key("company_id").SetValue(p.CompanyID)
	wakeup.Key("username").SetValue(p.Username)
	wakeup.Key("mode").SetValue(p.WakeupMode)
	wakeup.Key("send_flash_required").SetValue(boolString(p.SendFLASHRequired))
	wakeup.Key("flash_burst_window_us").SetValue(itoa64(p.FlashBurstWindowUs))
	wakeup.Key("flash_burst_interval_us").SetValue(itoa64(p.FlashBurstIntervalUs))

	erase, err := f.NewSection(sectionErase)
	if err != nil {
		return err
	}
	erase.Key("mode").SetValue(p.EraseMode)
	erase.Key("user_defined_ranges").SetValue(joinComma(p.UserDefinedRanges))
	erase.Key("protected_sectors").SetValue(joinCommaInts(p.ProtectedSectors))

	transfer, err := f.NewSection(sectionTransfer)
	if err != nil {
		return err
	}
	transfer.Key("inter_frame_delay_us").SetValue(itoa64(p.InterFrameDelayUs))
	transfer.Key("hex_record_length").SetValue(itoa(p.HexRecordLength))
	transfer.Key("write_crcs").SetValue(boolString(p.WriteCRCs))
	transfer.Key("dev_id_check").SetValue(p.DevIDCheck)
	transfer.Key("xfl_exchange").SetValue(boolString(p.XFLExchange))

	finish, err := f.NewSection(sectionFinish)
	if err != nil {
		return err
	}
	finish.Key("action").SetValue(p.FinishedAction)

	return f.SaveTo(path)
}

// Load reads Params back from path.
func Load(path string) (Params, error) {
	f, err := ini.Load(path)
	if err != nil {
		return Params{}, err
	}
	wakeup := f.Section(sectionWakeup)
	erase := f.Section(sectionErase)
	transfer := f.Section(sectionTransfer)
	finish := f.Section(sectionFinish)

	interFrameDelay, _ := transfer.Key("inter_frame_delay_us").Int64()
	hexRecordLength, _ := transfer.Key("hex_record_length").Int()
	writeCRCs, _ := transfer.Key("write_crcs").Bool()
	xflExchange, _ := transfer.Key("xfl_exchange").Bool()
	sendFLASHRequired, _ := wakeup.Key("send_flash_required").Bool()
	flashBurstWindowUs, _ := wakeup.Key("flash_burst_window_us").Int64()
	flashBurstIntervalUs, _ := wakeup.Key("flash_burst_interval_us").Int64()

	return Params{
		CompanyID:            wakeup.Key("company_id").String(),
		Username:             wakeup.Key("username").String(),
		WakeupMode:           wakeup.Key("mode").String(),
		SendFLASHRequired:    sendFLASHRequired,
		FlashBurstWindowUs:   flashBurstWindowUs,
		FlashBurstIntervalUs: flashBurstIntervalUs,
		EraseMode:            erase.Key("mode").String(),
		UserDefinedRanges:    splitComma(erase.Key("user_defined_ranges").String()),
		ProtectedSectors:     splitCommaInts(erase.Key("protected_sectors").String()),
		InterFrameDelayUs:    interFrameDelay,
		HexRecordLength:      hexRecordLength,
		WriteCRCs:            writeCRCs,
		DevIDCheck:           transfer.Key("dev_id_check").String(),
		FinishedAction:       finish.Key("action").String(),
		XFLExchange:          xflExchange,
	}, nil
}
