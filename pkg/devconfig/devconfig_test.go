package devconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flashdrv "github.com/openflashdrv/flashdrv"
	"github.com/openflashdrv/flashdrv/pkg/opensyde"
	can "github.com/openflashdrv/flashdrv/pkg/transport/can"
)

// fakeBroadcaster replays a fixed set of broadcast responses once, then
// reports NoResponse, so ScanGetInfo's collection window terminates
// deterministically in a test.
type fakeBroadcaster struct {
	responses []fakeResponse
	sent      [][]byte
}

type fakeResponse struct {
	sender  string
	payload []byte
}

func (f *fakeBroadcaster) SendBroadcast(payload []byte) error {
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeBroadcaster) RecvBroadcast(timeout time.Duration) (string, []byte, error) {
	if len(f.responses) == 0 {
		return "", nil, flashdrv.NoResponse
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r.sender, r.payload, nil
}

func serialPayload(nodeID uint8, classicBytes [6]byte) []byte {
	return append([]byte{nodeID}, classicBytes[:]...)
}

// extendedSerialPayload mirrors the wire format of an extended
// read-serial-number broadcast response, which carries security
// activation directly (no point-to-point follow-up).
func extendedSerialPayload(nodeID uint8, classicBytes [6]byte, subNodeID uint8, securityActivated bool) []byte {
	sec := byte(0)
	if securityActivated {
		sec = 1
	}
	payload := serialPayload(nodeID, classicBytes)
	return append(payload, 0x01, subNodeID, sec)
}

func TestScanGetInfoFlagsDuplicateWithSecurity(t *testing.T) {
	bcast := &fakeBroadcaster{
		responses: []fakeResponse{
			{sender: "a", payload: serialPayload(0x42, [6]byte{0, 1, 2, 3, 4, 5})},
			{sender: "b", payload: extendedSerialPayload(0x42, [6]byte{9, 9, 9, 9, 9, 9}, 0, true)},
		},
	}
	canBroadcast := opensyde.NewCANBroadcastClient(bcast)

	bus, err := can.NewVirtualBus("test-devconfig")
	require.NoError(t, err)
	disp := flashdrv.NewDispatcher(bus)
	require.NoError(t, disp.Open())

	dial := func(nodeID uint8) (*opensyde.Client, error) {
		return nil, assertNeverCalled{}
	}

	seq := New(disp, canBroadcast, dial, nil)
	devices, err := seq.ScanGetInfo()

	require.ErrorIs(t, err, flashdrv.ChecksumError)
	require.Len(t, devices, 2)
	assert.True(t, devices[0].Duplicate)
	assert.True(t, devices[1].Duplicate)
	assert.False(t, devices[0].SecurityActive)
	assert.True(t, devices[1].SecurityActive)
}

type assertNeverCalled struct{}

func (assertNeverCalled) Error() string { return "dial should not be called for duplicate node IDs" }

func TestScanGetInfoNoDuplicatesSucceeds(t *testing.T) {
	bcast := &fakeBroadcaster{
		responses: []fakeResponse{
			{sender: "a", payload: serialPayload(0x10, [6]byte{0, 1, 2, 3, 4, 5})},
		},
	}
	canBroadcast := opensyde.NewCANBroadcastClient(bcast)

	bus, err := can.NewVirtualBus("test-devconfig-2")
	require.NoError(t, err)
	disp := flashdrv.NewDispatcher(bus)
	require.NoError(t, disp.Open())

	dial := func(nodeID uint8) (*opensyde.Client, error) {
		return nil, assertNeverCalled{} // dial failure is tolerated: the device name just stays unset
	}

	seq := New(disp, canBroadcast, dial, nil)
	devices, err := seq.ScanGetInfo()

	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.False(t, devices[0].Duplicate)
	assert.Equal(t, uint8(0x10), devices[0].NodeID)
}
