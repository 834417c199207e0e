// Package model holds the wire-independent data types shared by the STW
// Flashloader and openSYDE protocol clients (spec §3): node addressing,
// serial numbers, company IDs, flash geometry, checksum areas, the
// capability bitmap, fingerprints, device-info blocks and routing.
//
// These are plain value types with validating constructors, grounded on
// the teacher's od package conventions (Entry/Variable: small structs,
// constructors that return an error instead of panicking, a sentinel
// error per failure mode) rather than the teacher's raw-pointer-optional
// style the spec explicitly asks to avoid (§9 DESIGN NOTES "Manual
// pointer graphs").
package model

import (
	"errors"
	"fmt"
)

// BroadcastNodeID is the reserved openSYDE node-id value meaning "every
// node on the bus" (spec §3).
const BroadcastNodeID uint8 = 127

var ErrInvalidNodeAddress = errors.New("node address out of range")

// NodeAddress is an openSYDE (bus, node) pair.
type NodeAddress struct {
	BusID  uint8
	NodeID uint8
}

// NewNodeAddress validates bus_id in 0..15 and node_id in 0..127 (127
// reserved for broadcast).
func NewNodeAddress(busID, nodeID uint8) (NodeAddress, error) {
	if busID > 15 || nodeID > BroadcastNodeID {
		return NodeAddress{}, ErrInvalidNodeAddress
	}
	return NodeAddress{BusID: busID, NodeID: nodeID}, nil
}

func (a NodeAddress) IsBroadcast() bool { return a.NodeID == BroadcastNodeID }

func (a NodeAddress) String() string {
	if a.IsBroadcast() {
		return fmt.Sprintf("bus%d/broadcast", a.BusID)
	}
	return fmt.Sprintf("bus%d/node%d", a.BusID, a.NodeID)
}
