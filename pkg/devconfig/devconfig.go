// Package devconfig implements the device-configuration sequence (spec
// §4.4): bring a CAN bus up, broadcast ECUs into flashloader mode, read
// their identities, reassign node IDs/bitrates, and reset the system.
package devconfig

import (
	"fmt"
	"time"

	flashdrv "github.com/openflashdrv/flashdrv"
	"github.com/openflashdrv/flashdrv/pkg/model"
	"github.com/openflashdrv/flashdrv/pkg/opensyde"
)

// fixedClientIdentity is the host's own openSYDE address (spec §4.4 step
// 1: "configures a fixed client identity (bus=0, node=126)").
const (
	fixedClientBus  = 0
	fixedClientNode = 126
)

// DiscoveredDevice is one result of ScanGetInfo (spec §4.4 step 3).
type DiscoveredDevice struct {
	NodeID          uint8
	Serial          model.SerialNumber
	DeviceName      string
	Duplicate       bool
	SecurityActive  bool
}

// Sequence drives the device-configuration flow. It depends only on the
// openSYDE broadcast client and a factory that opens a point-to-point
// client for a given node ID, so it never constructs transports itself
// (spec §1 "the CAN hardware dispatcher, modelled as a capability").
type Sequence struct {
	dispatcher *flashdrv.Dispatcher
	broadcast  *opensyde.CANBroadcastClient
	dial       func(nodeID uint8) (*opensyde.Client, error)
	reporter   flashdrv.Reporter
}

func New(disp *flashdrv.Dispatcher, broadcast *opensyde.CANBroadcastClient, dial func(uint8) (*opensyde.Client, error), reporter flashdrv.Reporter) *Sequence {
	if reporter == nil {
		reporter = flashdrv.NopReporter{}
	}
	return &Sequence{dispatcher: disp, broadcast: broadcast, dial: dial, reporter: reporter}
}

// Init opens the CAN hardware via the already-constructed dispatcher's
// bus, passing bitrateKbps to its Connect step (spec §4.4 step 1). The
// CAN DLL/device-name selection is the caller's Bus construction
// argument. Init does not bind a transport or set a client identity: the
// fixed identity (fixedClientBus, fixedClientNode) only appears in its
// log message, and transports get their IDs from the caller's dial
// function.
func (s *Sequence) Init(bitrateKbps int) error {
	if err := s.dispatcher.Open(bitrateKbps); err != nil {
		return fmt.Errorf("devconfig: init: %w", err)
	}
	s.reporter.Info("CAN opened at %d kbit/s, client identity bus=%d node=%d", bitrateKbps, fixedClientBus, fixedClientNode)
	return nil
}

// ScanEnterFlashloader brings devices into flashloader mode: broadcast
// request-programming, broadcast reset, then hold a preprogramming-
// session broadcast window for max(waitMs, 5000)ms so a human has time to
// power-cycle a device (spec §4.4 step 2).
func (s *Sequence) ScanEnterFlashloader(waitMs int) error {
	if _, err := s.broadcast.RequestProgramming(200 * time.Millisecond); err != nil {
		return flashdrv.NoResponse
	}
	if err := s.broadcast.ECUReset(); err != nil {
		return flashdrv.NoResponse
	}
	window := time.Duration(waitMs) * time.Millisecond
	if window < 5000*time.Millisecond {
		window = 5000 * time.Millisecond
	}
	s.broadcast.EnterPreprogrammingSession(window, 5*time.Millisecond)
	s.dispatcher.DrainDiscard()
	return nil
}

// ScanGetInfo broadcasts read-serial-number, flags duplicate node IDs,
// and reads each unique node's device name point-to-point (spec §4.4
// step 3). Security activation is read directly off each responder's
// broadcast reply (the extended read-serial-number result already
// carries security_activated; grounded on C_OscDcBasicSequences.cpp's
// ScanGetInfo, which ORs q_SecurityActivated across every responder
// while it is still building the duplicate-ID table, never from a
// point-to-point follow-up). If any responder reports
// security_activated=true while a duplicate node ID also exists among
// ANY responders, the scan cannot safely proceed and returns
// flashdrv.ChecksumError (spec: "broadcast cannot be used safely with
// security; node IDs must be unique first").
func (s *Sequence) ScanGetInfo() ([]DiscoveredDevice, error) {
	s.dispatcher.DrainDiscard()
	responders, err := s.broadcast.ReadSerialNumber(300 * time.Millisecond)
	if err != nil {
		return nil, flashdrv.NoResponse
	}

	seen := make(map[uint8]int)
	hasSecurity := false
	for _, r := range responders {
		seen[r.NodeID]++
		hasSecurity = hasSecurity || r.SecurityActivated
	}

	devices := make([]DiscoveredDevice, 0, len(responders))
	visitedUnique := make(map[uint8]bool)
	hasDuplicate := false

	for _, r := range responders {
		duplicate := seen[r.NodeID] > 1
		if duplicate {
			hasDuplicate = true
		}
		dev := DiscoveredDevice{
			NodeID:         r.NodeID,
			Serial:         r.Serial,
			Duplicate:      duplicate,
			SecurityActive: r.SecurityActivated,
		}

		if !duplicate && !visitedUnique[r.NodeID] {
			visitedUnique[r.NodeID] = true
			client, err := s.dial(r.NodeID)
			if err == nil {
				if name, err := client.ReadDataByIdentifier(opensyde.DIDDeviceName, time.Second); err == nil {
					dev.DeviceName = string(name)
				}
			}
		}
		devices = append(devices, dev)
	}

	if hasSecurity && hasDuplicate {
		s.reporter.Error("at least one node has security activated and at least one node ID is not unique")
		return devices, flashdrv.ChecksumError
	}
	return devices, nil
}

// ConfigureDevice moves curID into a programming session with the fixed
// non-secure seed/key pair, then reassigns its node ID and bitrate (spec
// §4.4 step 4).
func (s *Sequence) ConfigureDevice(curID, newID uint8, bitrateKbps int, ifaceIdx int) error {
	client, err := s.dial(curID)
	if err != nil {
		return flashdrv.ConfigError
	}
	if err := client.EnterProgrammingSession(time.Second); err != nil {
		return flashdrv.AsResult(err)
	}
	if err := client.AuthenticateNonSecure(opensyde.SecurityLevel1, time.Second); err != nil {
		return flashdrv.AsResult(err)
	}
	if err := client.WriteDataByIdentifier(opensyde.DIDNodeID, []byte{newID}, time.Second); err != nil {
		return flashdrv.AsResult(err)
	}
	bitrateBps := uint32(bitrateKbps) * 1000
	bitratePayload := []byte{byte(bitrateBps), byte(bitrateBps >> 8), byte(bitrateBps >> 16), byte(bitrateBps >> 24)}
	if err := client.WriteDataByIdentifier(opensyde.DIDBitrate, bitratePayload, time.Second); err != nil {
		return flashdrv.AsResult(err)
	}
	return nil
}

// ResetSystem broadcasts an ECU-reset (key-off/on) to every node (spec
// §4.4 step 5).
func (s *Sequence) ResetSystem() error {
	if err := s.broadcast.ECUReset(); err != nil {
		return flashdrv.NoResponse
	}
	return nil
}
