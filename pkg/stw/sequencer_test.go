package stw

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flashdrv "github.com/openflashdrv/flashdrv"
	"github.com/openflashdrv/flashdrv/pkg/model"
	can "github.com/openflashdrv/flashdrv/pkg/transport/can"
)

func sectorTableOfCount(n int) []model.Sector {
	fi := model.FlashInformation{ICs: []model.IC{{
		Regions: []model.Region{{BlockSize: 0x1000, BlockCount: uint32(n)}},
	}}}
	table, err := fi.BuildSectorTable(nil)
	if err != nil {
		panic(err)
	}
	return table
}

func newSequencerWithClient(t *testing.T, channel string, localID byte) *Sequencer {
	bus, err := can.NewVirtualBus(channel)
	require.NoError(t, err)
	disp := flashdrv.NewDispatcher(bus)
	require.NoError(t, disp.Open())
	c := New(Config{LocalID: localID, TxID: 0x101, RxID: 0x102})
	c.Attach(disp)
	return NewSequencer(c, nil)
}

func TestSelectAutomaticTranslatesAliasedAddresses(t *testing.T) {
	table := sectorTableOfCount(4) // sectors at 0x0-0xFFF, 0x1000-0x1FFF, 0x2000-0x2FFF, 0x3000-0x3FFF
	seq := NewSequencer(nil, nil)

	// Record lives in an aliased window [0x10000, 0x11000) that maps back
	// to physical [0x2000, 0x3000) — sector 2.
	aliased := []model.AliasedRange{{Physical: 0x2000, Size: 0x1000, Aliased: 0x10000}}
	records := []HexRecord{{Address: 0x10000, Data: make([]byte, 16)}}

	sectors, err := seq.selectAutomatic(table, records, aliased)
	require.NoError(t, err)

	indexes := make(map[int]bool, len(sectors))
	for _, s := range sectors {
		indexes[s.Index] = true
	}
	assert.True(t, indexes[2], "aliased record should resolve to physical sector 2")
	assert.True(t, indexes[0], "sector 0 is always included")
}

func TestSelectAutomaticRejectsAliasOverflow(t *testing.T) {
	table := sectorTableOfCount(2)
	seq := NewSequencer(nil, nil)
	aliased := []model.AliasedRange{{Physical: 0xFFFFFFFF, Size: 0x1000, Aliased: 0x10000}}
	records := []HexRecord{{Address: 0x10500, Data: make([]byte, 4)}}

	_, err := seq.selectAutomatic(table, records, aliased)
	assert.Error(t, err)
}

func TestSelectLegacyFixedCApplicationErasesAllButSectorZero(t *testing.T) {
	table := sectorTableOfCount(7)
	seq := NewSequencer(nil, nil)

	sectors, err := seq.selectLegacyFixed(EraseCApplication, table, nil, Params{}, model.ProtocolVersion{Major: 2, Minor: 50})
	require.NoError(t, err)

	indexes := make(map[int]bool)
	for _, s := range sectors {
		indexes[s.Index] = true
	}
	assert.False(t, indexes[0])
	for i := 1; i < 7; i++ {
		assert.True(t, indexes[i], "sector %d should be erased", i)
	}
}

func TestSelectLegacyFixedCApplicationDivertStreamSparesParamBlocks(t *testing.T) {
	table := sectorTableOfCount(7)
	seq := NewSequencer(nil, nil)

	sectors, err := seq.selectLegacyFixed(EraseCApplication, table, nil, Params{DivertStream: true}, model.ProtocolVersion{Major: 2, Minor: 50})
	require.NoError(t, err)

	indexes := make(map[int]bool)
	for _, s := range sectors {
		indexes[s.Index] = true
	}
	assert.False(t, indexes[1], "sector 1 spared when stream is diverted")
	assert.False(t, indexes[2], "sector 2 spared when stream is diverted")
	assert.True(t, indexes[3])
}

func TestSelectLegacyFixedCANopenConfig(t *testing.T) {
	table := sectorTableOfCount(5)
	seq := NewSequencer(nil, nil)

	sectors, err := seq.selectLegacyFixed(EraseCANopenConfig, table, nil, Params{}, model.ProtocolVersion{Major: 2, Minor: 50})
	require.NoError(t, err)
	require.Len(t, sectors, 1)
	assert.Equal(t, 2, sectors[0].Index)

	sectors, err = seq.selectLegacyFixed(EraseCANopenConfig, table, nil, Params{DivertStream: true}, model.ProtocolVersion{Major: 2, Minor: 50})
	require.NoError(t, err)
	require.Len(t, sectors, 2)
	assert.Equal(t, 1, sectors[0].Index)
	assert.Equal(t, 2, sectors[1].Index)
}

func TestSelectLegacyFixedIECApplicationBySectorCount(t *testing.T) {
	seq := NewSequencer(nil, nil)
	cases := []struct {
		total   int
		indexes []int
	}{
		{7, []int{5, 6}},
		{11, []int{7, 8, 9, 10}},
		{19, []int{7, 8, 9, 10, 11, 12, 13, 14, 15, 16}},
	}
	for _, c := range cases {
		table := sectorTableOfCount(c.total)
		sectors, err := seq.selectLegacyFixed(EraseIECApp, table, nil, Params{}, model.ProtocolVersion{Major: 2, Minor: 50})
		require.NoError(t, err)
		got := make([]int, 0, len(sectors))
		for _, s := range sectors {
			got = append(got, s.Index)
		}
		assert.Equal(t, c.indexes, got, "sector count %d", c.total)
	}
}

func TestSelectLegacyFixedIECApplicationUnknownSectorCount(t *testing.T) {
	table := sectorTableOfCount(9)
	seq := NewSequencer(nil, nil)
	_, err := seq.selectLegacyFixed(EraseIECApp, table, nil, Params{}, model.ProtocolVersion{Major: 2, Minor: 50})
	assert.Error(t, err)
}

func TestSelectLegacyFixedIECRuntimeSystemWithoutDeviceIDNode(t *testing.T) {
	// No live client, but total sector count 11 doesn't need a device-ID
	// read (that's only consulted in the 7-sector/"MICR" special case).
	table := sectorTableOfCount(11)
	seq := NewSequencer(nil, nil)
	sectors, err := seq.selectLegacyFixed(EraseIECRts, table, nil, Params{}, model.ProtocolVersion{Major: 2, Minor: 50})
	require.NoError(t, err)
	got := make([]int, 0, len(sectors))
	for _, s := range sectors {
		got = append(got, s.Index)
	}
	assert.Equal(t, []int{3, 4, 5, 6}, got)
}

func TestSelectLegacyFixedIECRuntimeSystem19Sectors(t *testing.T) {
	table := sectorTableOfCount(19)
	seq := NewSequencer(nil, nil)
	sectors, err := seq.selectLegacyFixed(EraseIECRts, table, nil, Params{}, model.ProtocolVersion{Major: 2, Minor: 50})
	require.NoError(t, err)
	got := make([]int, 0, len(sectors))
	for _, s := range sectors {
		got = append(got, s.Index)
	}
	assert.Equal(t, []int{3, 4, 5, 6, 17, 18}, got)
}

func TestSelectLegacyFixedRejectsLegacyModesOnNewProtocol(t *testing.T) {
	table := sectorTableOfCount(7)
	seq := NewSequencer(nil, nil)
	_, err := seq.selectLegacyFixed(EraseIECRts, table, nil, Params{}, model.ProtocolVersion{Major: 3, Minor: 0})
	assert.Error(t, err)
}

func TestSelectLegacyFixedCApplicationFallsBackToAutomaticOnNewProtocol(t *testing.T) {
	table := sectorTableOfCount(4)
	seq := NewSequencer(nil, nil)
	records := []HexRecord{{Address: 0x1000, Data: make([]byte, 16)}}
	sectors, err := seq.selectLegacyFixed(EraseCApplication, table, records, Params{}, model.ProtocolVersion{Major: 3, Minor: 0})
	require.NoError(t, err)
	indexes := make(map[int]bool)
	for _, s := range sectors {
		indexes[s.Index] = true
	}
	assert.True(t, indexes[1])
}

func TestWakeUpSendsFLASHBurstBeforeLocalIDWake(t *testing.T) {
	channel := "test-wakeup-config"
	var burstSeen, wakeSeen bool
	// The server side gets its own bus instance on the channel (a virtual
	// bus does not deliver a frame back to the instance that sent it) and
	// listens on the bus directly, answering as each frame is delivered.
	bus, err := can.NewVirtualBus(channel)
	require.NoError(t, err)
	require.NoError(t, bus.Connect())
	require.NoError(t, bus.Subscribe(frameListenerFunc(func(f flashdrv.Frame) {
		if f.ID&0x1FFFFFFF != 0x101 {
			return
		}
		switch {
		case f.Data[0] == 0xFF && f.Data[1] == CmdWakeupLocalID:
			burstSeen = true
		case f.Data[1] == CmdWakeupLocalID:
			wakeSeen = true
			resp := flashdrv.Frame{ID: 0x102, DLC: 8}
			resp.Data[0] = f.Data[0]
			resp.Data[1] = CmdWakeupLocalID
			_ = bus.Send(resp)
		}
	})))

	c := newTestClient(t, channel, 0x05)
	seq := NewSequencer(c, nil)

	company, err := model.NewCompanyID([]byte{0xAA, 0xBB})
	require.NoError(t, err)
	err = seq.wakeUp(WakeupConfig{
		Mode:               WakeupLocalID,
		SendFLASHRequired:  true,
		FlashBurstWindow:   20 * time.Millisecond,
		FlashBurstInterval: 5 * time.Millisecond,
		Company:            company,
	})
	require.NoError(t, err)
	assert.True(t, burstSeen, "expected a FLASH broadcast burst before wake-up")
	assert.True(t, wakeSeen, "expected the local-ID wake-up request")
}

func TestWakeUpNoneSkipsWake(t *testing.T) {
	seq := newSequencerWithClient(t, "test-wakeup-none", 0x05)
	err := seq.wakeUp(WakeupConfig{Mode: WakeupNone})
	assert.NoError(t, err)
}
