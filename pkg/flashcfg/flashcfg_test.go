package flashcfg

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openflashdrv/flashdrv/pkg/model"
	"github.com/openflashdrv/flashdrv/pkg/stw"
)

func TestSaveThenLoadRoundTrips(t *testing.T) {
	company, err := model.NewCompanyID([]byte{0xAA, 0xBB, 0xCC})
	require.NoError(t, err)

	original := stw.Params{
		WakeupConfig: stw.WakeupConfig{
			Mode:               stw.WakeupLocalIDThenSerialNumber,
			SendFLASHRequired:  true,
			FlashBurstWindow:   2 * time.Second,
			FlashBurstInterval: 10 * time.Millisecond,
			Company:            company,
		},
		EraseMode:         stw.EraseUserDefined,
		UserDefinedRanges: []string{"0-3", "8-15"},
		FinishedAction:    stw.FinishedNodeReset,
		InterFrameDelay:   250 * time.Microsecond,
		HexRecordLength:   32,
		WriteCRCs:         true,
		DevIDCheck:        stw.DevIDCheckScanHex,
		Company:           company,
		ProtectedSectors:  []int{0, 5, 9},
		Username:          "bench-operator",
		XFLExchange:       true,
	}

	path := filepath.Join(t.TempDir(), "flash-write.ini")
	require.NoError(t, Save(path, FromStwParams(original, company)))

	loaded, err := Load(path)
	require.NoError(t, err)

	restored, restoredCompany, err := loaded.ToStwParams()
	require.NoError(t, err)

	assert.True(t, company.Equal(restoredCompany))
	assert.Equal(t, original.WakeupConfig.Mode, restored.WakeupConfig.Mode)
	assert.Equal(t, original.WakeupConfig.SendFLASHRequired, restored.WakeupConfig.SendFLASHRequired)
	assert.Equal(t, original.WakeupConfig.FlashBurstWindow, restored.WakeupConfig.FlashBurstWindow)
	assert.Equal(t, original.WakeupConfig.FlashBurstInterval, restored.WakeupConfig.FlashBurstInterval)
	assert.Equal(t, original.XFLExchange, restored.XFLExchange)
	assert.Equal(t, original.EraseMode, restored.EraseMode)
	assert.Equal(t, original.UserDefinedRanges, restored.UserDefinedRanges)
	assert.Equal(t, original.FinishedAction, restored.FinishedAction)
	assert.Equal(t, original.InterFrameDelay, restored.InterFrameDelay)
	assert.Equal(t, original.HexRecordLength, restored.HexRecordLength)
	assert.Equal(t, original.WriteCRCs, restored.WriteCRCs)
	assert.Equal(t, original.DevIDCheck, restored.DevIDCheck)
	assert.Equal(t, original.ProtectedSectors, restored.ProtectedSectors)
	assert.Equal(t, original.Username, restored.Username)
	assert.True(t, original.Company.Equal(restored.Company))
}
