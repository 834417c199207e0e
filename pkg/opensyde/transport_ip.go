package opensyde

import (
	"fmt"
	"time"

	flashdrv "github.com/openflashdrv/flashdrv"
	"github.com/openflashdrv/flashdrv/pkg/transport/ip"
)

// IPTP is the openSYDE IP transport (spec §6): TCP unicast request/
// response, UDP broadcast. Client/server identity is carried at the
// connection level (one Conn per target) rather than encoded per-message,
// since IP addressing already disambiguates targets.
type IPTP struct {
	conn        *ip.Conn
	broadcaster *ip.Broadcaster
	serviceID   byte
}

func NewIPTP(conn *ip.Conn, broadcaster *ip.Broadcaster) *IPTP {
	return &IPTP{conn: conn, broadcaster: broadcaster}
}

// SetClientID/SetServerID are no-ops for the IP transport: addressing is
// carried by the TCP connection's endpoint, not by payload bytes.
func (t *IPTP) SetClientID(busID, nodeID uint8) {}
func (t *IPTP) SetServerID(busID, nodeID uint8) {}

// SetServiceID tags the next SendRequest/RecvResponse pair with a service
// identifier carried in the IP framing's {service_id} field (spec §6).
func (t *IPTP) SetServiceID(id byte) { t.serviceID = id }

func (t *IPTP) SendRequest(payload []byte) error {
	return t.conn.Send(ip.Message{ServiceID: t.serviceID, Payload: payload})
}

func (t *IPTP) RecvResponse(timeout time.Duration) ([]byte, error) {
	msg, err := t.conn.Recv(timeout)
	if err != nil {
		return nil, flashdrv.NoResponse
	}
	return msg.Payload, nil
}

func (t *IPTP) SendBroadcast(payload []byte) error {
	if t.broadcaster == nil {
		return fmt.Errorf("opensyde: no UDP broadcaster configured for this IP transport")
	}
	return t.broadcaster.Send(ip.Message{ServiceID: t.serviceID, Payload: payload})
}

func (t *IPTP) RecvBroadcast(timeout time.Duration) (string, []byte, error) {
	if t.broadcaster == nil {
		return "", nil, fmt.Errorf("opensyde: no UDP broadcaster configured for this IP transport")
	}
	msg, addr, err := t.broadcaster.Recv(timeout)
	if err != nil {
		return "", nil, flashdrv.NoResponse
	}
	return addr.String(), msg.Payload, nil
}
