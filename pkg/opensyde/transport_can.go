package opensyde

import (
	"fmt"
	"time"

	flashdrv "github.com/openflashdrv/flashdrv"
)

// ISO-TP-derived PCI (protocol control information) nibble values (spec
// §6 "CAN wire format (openSYDE TP): ISO-TP-derived single/first/
// consecutive/flow-control frames").
const (
	pciSingleFrame       byte = 0x0
	pciFirstFrame        byte = 0x1
	pciConsecutiveFrame  byte = 0x2
	pciFlowControlFrame  byte = 0x3
	maxSingleFramePayload     = 7
)

// CANTP is the ISO-TP-derived CAN transport (spec §6). Addressing
// encodes client/server bus+node identity into the CAN ID per the
// project's addressing scheme; here that scheme is a simple 11-bit
// split, bits [10:7]=bus and bits [6:0]=node, with no direction bit:
// requests go out on the server's bus with the client's node, responses
// are expected on the client's bus with the server's node.
type CANTP struct {
	disp        *flashdrv.Dispatcher
	handle      flashdrv.Handle
	rx          chan flashdrv.Frame
	clientBus   uint8
	clientNode  uint8
	serverBus   uint8
	serverNode  uint8
	broadcastID uint32
}

const broadcastCANID uint32 = 0x7FF // spec §6: "single well-known value"

func NewCANTP(disp *flashdrv.Dispatcher) *CANTP {
	return &CANTP{disp: disp, rx: make(chan flashdrv.Frame, 32), broadcastID: broadcastCANID}
}

func (t *CANTP) SetClientID(busID, nodeID uint8) { t.clientBus, t.clientNode = busID, nodeID }
func (t *CANTP) SetServerID(busID, nodeID uint8) {
	t.serverBus, t.serverNode = busID, nodeID
	if t.disp != nil {
		t.disp.Unsubscribe(t.handle)
		t.handle = t.disp.Subscribe(t.responseID(), 0x7FF, frameListenerFunc(func(f flashdrv.Frame) {
			select {
			case t.rx <- f:
			default:
			}
		}))
	}
}

func (t *CANTP) requestID() uint32 {
	return uint32(t.serverBus&0x0F)<<7 | uint32(t.clientNode&0x7F)
}

func (t *CANTP) responseID() uint32 {
	return uint32(t.clientBus&0x0F)<<7 | uint32(t.serverNode&0x7F)
}

type frameListenerFunc func(flashdrv.Frame)

func (f frameListenerFunc) Handle(frame flashdrv.Frame) { f(frame) }

// SendRequest sends payload as a single frame if it fits in 7 bytes,
// otherwise as a first-frame + consecutive-frame sequence (spec §6).
// No flow-control frame is awaited: the consecutive frames go out back to
// back right after the first frame, without pacing.
func (t *CANTP) SendRequest(payload []byte) error {
	id := t.requestID()
	if len(payload) <= maxSingleFramePayload {
		frame := flashdrv.Frame{ID: id, DLC: uint8(len(payload) + 1)}
		frame.Data[0] = pciSingleFrame<<4 | byte(len(payload))
		copy(frame.Data[1:], payload)
		return t.disp.Send(frame)
	}
	first := flashdrv.Frame{ID: id, DLC: 8}
	first.Data[0] = pciFirstFrame<<4 | byte(len(payload)>>8)
	first.Data[1] = byte(len(payload))
	copy(first.Data[2:], payload[:6])
	if err := t.disp.Send(first); err != nil {
		return err
	}
	seq := byte(1)
	for offset := 6; offset < len(payload); offset += 7 {
		end := offset + 7
		if end > len(payload) {
			end = len(payload)
		}
		cf := flashdrv.Frame{ID: id, DLC: uint8(end-offset) + 1}
		cf.Data[0] = pciConsecutiveFrame<<4 | (seq & 0x0F)
		copy(cf.Data[1:], payload[offset:end])
		if err := t.disp.Send(cf); err != nil {
			return err
		}
		seq++
	}
	return nil
}

// RecvResponse reassembles a single- or multi-frame response.
func (t *CANTP) RecvResponse(timeout time.Duration) ([]byte, error) {
	deadline := time.After(timeout)
	var total []byte
	var expected int
	for {
		t.disp.Drain()
		select {
		case frame := <-t.rx:
			pci := frame.Data[0] >> 4
			switch pci {
			case pciSingleFrame:
				n := int(frame.Data[0] & 0x0F)
				return append([]byte(nil), frame.Data[1:1+n]...), nil
			case pciFirstFrame:
				expected = int(frame.Data[0]&0x0F)<<8 | int(frame.Data[1])
				total = append(total, frame.Data[2:8]...)
			case pciConsecutiveFrame:
				n := int(frame.DLC) - 1
				total = append(total, frame.Data[1:1+n]...)
				if len(total) >= expected {
					return total[:expected], nil
				}
			}
		case <-deadline:
			return nil, flashdrv.NoResponse
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func (t *CANTP) SendBroadcast(payload []byte) error {
	if len(payload) > maxSingleFramePayload {
		return fmt.Errorf("opensyde: CAN broadcast payload too large for a single frame")
	}
	frame := flashdrv.Frame{ID: t.broadcastID, DLC: uint8(len(payload) + 1)}
	frame.Data[0] = pciSingleFrame<<4 | byte(len(payload))
	copy(frame.Data[1:], payload)
	return t.disp.Send(frame)
}

// RecvBroadcast collects the next broadcast-reply frame. Per spec §4.3
// ("Broadcasts always drain every instance's receive queue on entry and
// exit"), callers own draining the shared dispatcher around a broadcast
// collection window; this method only reads from this TP's own queue.
func (t *CANTP) RecvBroadcast(timeout time.Duration) (string, []byte, error) {
	deadline := time.After(timeout)
	for {
		t.disp.Drain()
		select {
		case frame := <-t.rx:
			n := int(frame.Data[0] & 0x0F)
			return fmt.Sprintf("x%03x", frame.ID), append([]byte(nil), frame.Data[1:1+n]...), nil
		case <-deadline:
			return "", nil, flashdrv.NoResponse
		default:
			time.Sleep(time.Millisecond)
		}
	}
}
