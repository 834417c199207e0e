// Package opensyde implements the modern openSYDE flashloader protocol
// client: a transport-neutral UDS-derived service set layered over
// either a CAN or an IP transport protocol (spec §4.2).
package opensyde

import "time"

// Transport is the protocol-neutral boundary a Client talks through
// (spec §4.2 "Layering"): either a CAN TP or an IP TP implements it. The
// client never constructs frames or TCP messages itself.
type Transport interface {
	SetClientID(busID, nodeID uint8)
	SetServerID(busID, nodeID uint8)
	SendRequest(payload []byte) error
	RecvResponse(timeout time.Duration) ([]byte, error)
}

// Broadcaster is the protocol-neutral broadcast boundary (spec §4.2
// "Broadcasts"): CAN and IP each implement this differently (CAN:
// well-known broadcast ID; IP: UDP).
type Broadcaster interface {
	SendBroadcast(payload []byte) error
	RecvBroadcast(timeout time.Duration) (responder string, payload []byte, err error)
}
