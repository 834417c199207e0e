package opensyde

import (
	"time"

	"github.com/openflashdrv/flashdrv/pkg/model"
)

// ProgrammingResponder is one responder's answer to a broadcast
// request-programming (spec §4.2 "Broadcasts": "collects per-responder
// {sender, request_accepted}").
type ProgrammingResponder struct {
	Sender          string
	RequestAccepted bool
}

// SerialNumberResponder is one responder's answer to a broadcast
// read-serial-number, which can return either the classic or the
// extended encoding (spec §3, §4.2). Extended responders additionally
// report their sub-node ID and whether security is activated, carried
// in the broadcast response itself rather than requiring a follow-up
// point-to-point read (grounded on C_OscDcBasicSequences.cpp's
// BroadcastReadSerialNumber, whose extended result already carries
// q_SecurityActivated per responder).
type SerialNumberResponder struct {
	Sender            string
	Serial            model.SerialNumber
	NodeID            uint8
	Extended          bool
	SubNodeID         uint8
	SecurityActivated bool
}

// CANBroadcastClient implements the CAN-side broadcast services (spec
// §4.2 "Broadcasts: CAN").
type CANBroadcastClient struct {
	bcast Broadcaster
}

func NewCANBroadcastClient(bcast Broadcaster) *CANBroadcastClient {
	return &CANBroadcastClient{bcast: bcast}
}

// RequestProgramming broadcasts request-programming and collects
// responses for collectWindow.
func (b *CANBroadcastClient) RequestProgramming(collectWindow time.Duration) ([]ProgrammingResponder, error) {
	if err := b.bcast.SendBroadcast([]byte{SvcRequestProgramming}); err != nil {
		return nil, err
	}
	var out []ProgrammingResponder
	deadline := time.Now().Add(collectWindow)
	for time.Now().Before(deadline) {
		sender, payload, err := b.bcast.RecvBroadcast(50 * time.Millisecond)
		if err != nil {
			continue
		}
		accepted := len(payload) > 0 && payload[0] != 0
		out = append(out, ProgrammingResponder{Sender: sender, RequestAccepted: accepted})
	}
	return out, nil
}

func (b *CANBroadcastClient) ECUReset() error {
	return b.bcast.SendBroadcast([]byte{SvcECUReset})
}

// EnterPreprogrammingSession broadcasts a session-change request every
// tick for window, giving a human time to power-cycle a device into
// listening range (spec §4.4 step 2).
func (b *CANBroadcastClient) EnterPreprogrammingSession(window, tick time.Duration) {
	deadline := time.Now().Add(window)
	payload := []byte{SvcDiagnosticSessionControl, byte(SessionPreprogram)}
	for time.Now().Before(deadline) {
		_ = b.bcast.SendBroadcast(payload)
		time.Sleep(tick)
	}
}

func (b *CANBroadcastClient) EnterDefaultSession() error {
	return b.bcast.SendBroadcast([]byte{SvcDiagnosticSessionControl, byte(SessionDefault)})
}

// ReadSerialNumber broadcasts read-serial-number and collects classic and
// extended results for collectWindow (spec §4.2, §4.4 step 3). A
// responder's payload is {node_id, serial[6]} for a standard result, or
// {node_id, serial[6], 0x01, sub_node_id, security_activated} for an
// extended one; the security flag travels in this same broadcast
// response, matching the original's BroadcastReadSerialNumber which
// never issues a follow-up point-to-point read to learn it.
func (b *CANBroadcastClient) ReadSerialNumber(collectWindow time.Duration) ([]SerialNumberResponder, error) {
	if err := b.bcast.SendBroadcast([]byte{SvcReadDataByIdentifier, byte(DIDSerialNumber >> 8), byte(DIDSerialNumber & 0xFF)}); err != nil {
		return nil, err
	}
	var out []SerialNumberResponder
	deadline := time.Now().Add(collectWindow)
	for time.Now().Before(deadline) {
		sender, payload, err := b.bcast.RecvBroadcast(50 * time.Millisecond)
		if err != nil || len(payload) < 7 {
			continue
		}
		var raw [6]byte
		copy(raw[:], payload[1:7])
		sn, err := model.NewClassicSerialNumber(raw)
		if err != nil {
			continue
		}
		resp := SerialNumberResponder{Sender: sender, Serial: sn, NodeID: payload[0]}
		if len(payload) >= 10 && payload[7] == 0x01 {
			resp.Extended = true
			resp.SubNodeID = payload[8]
			resp.SecurityActivated = payload[9] != 0
		}
		out = append(out, resp)
	}
	return out, nil
}

// SetNodeIDBySerial sets a node's ID targeted by its serial number,
// reaching whichever classic or extended-tagged device matches (spec
// §4.2).
func (b *CANBroadcastClient) SetNodeIDBySerial(sn model.SerialNumber, newNodeID uint8) error {
	raw := sn.Bytes()
	payload := append([]byte{SvcWriteDataByIdentifier, byte(DIDNodeID >> 8), byte(DIDNodeID & 0xFF), newNodeID}, raw...)
	return b.bcast.SendBroadcast(payload)
}

// IPBroadcastClient implements the IP-side broadcast services (spec §4.2
// "Broadcasts: IP").
type IPBroadcastClient struct {
	bcast Broadcaster
}

func NewIPBroadcastClient(bcast Broadcaster) *IPBroadcastClient {
	return &IPBroadcastClient{bcast: bcast}
}

func (b *IPBroadcastClient) RequestProgramming(collectWindow time.Duration) ([]ProgrammingResponder, error) {
	if err := b.bcast.SendBroadcast([]byte{SvcRequestProgramming}); err != nil {
		return nil, err
	}
	var out []ProgrammingResponder
	deadline := time.Now().Add(collectWindow)
	for time.Now().Before(deadline) {
		sender, payload, err := b.bcast.RecvBroadcast(50 * time.Millisecond)
		if err != nil {
			continue
		}
		accepted := len(payload) > 0 && payload[0] != 0
		out = append(out, ProgrammingResponder{Sender: sender, RequestAccepted: accepted})
	}
	return out, nil
}

func (b *IPBroadcastClient) NetReset() error {
	return b.bcast.SendBroadcast([]byte{SvcECUReset})
}

// DeviceInfoResponder is one responder's answer to get-device-info (spec
// §4.2). GetDeviceInfo decodes only a classic 6-byte serial number;
// extended serial numbers are not parsed, and a reply that does not hold
// a valid classic serial number is skipped.
type DeviceInfoResponder struct {
	SourceIP string
	Serial   model.SerialNumber
	NodeID   uint8
}

func (b *IPBroadcastClient) GetDeviceInfo(collectWindow time.Duration) ([]DeviceInfoResponder, error) {
	if err := b.bcast.SendBroadcast([]byte{SvcReadDataByIdentifier, byte(DIDSerialNumber >> 8), byte(DIDSerialNumber & 0xFF)}); err != nil {
		return nil, err
	}
	var out []DeviceInfoResponder
	deadline := time.Now().Add(collectWindow)
	for time.Now().Before(deadline) {
		sourceIP, payload, err := b.bcast.RecvBroadcast(50 * time.Millisecond)
		if err != nil || len(payload) < 7 {
			continue
		}
		var raw [6]byte
		copy(raw[:], payload[1:7])
		sn, err := model.NewClassicSerialNumber(raw)
		if err != nil {
			continue
		}
		out = append(out, DeviceInfoResponder{SourceIP: sourceIP, Serial: sn, NodeID: payload[0]})
	}
	return out, nil
}

// SetIPAddress sets the IP address of the node matching sn (spec §4.2:
// "serial-number-targeted, returns source IP of responder").
func (b *IPBroadcastClient) SetIPAddress(sn model.SerialNumber, newIP [4]byte) (string, error) {
	raw := sn.Bytes()
	payload := append([]byte{SvcWriteDataByIdentifier, byte(DIDIPConfig >> 8), byte(DIDIPConfig & 0xFF)}, newIP[:]...)
	payload = append(payload, raw...)
	if err := b.bcast.SendBroadcast(payload); err != nil {
		return "", err
	}
	sourceIP, _, err := b.bcast.RecvBroadcast(500 * time.Millisecond)
	return sourceIP, err
}
