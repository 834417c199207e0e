// Package stw implements the legacy STW Flashloader protocol client: a
// single-ECU CAN request/response engine addressed by local ID, the
// capability-discovery cascade, and the service set the hex-download
// sequencer drives (spec §4.1).
//
// Grounded on the teacher's pkg/sdo/client.go request/response shape
// (Handle sets a "new response" flag and a byte buffer; the caller polls
// a state machine against a timeout) but reworked around the host's
// single-request/single-response service model instead of SDO's
// multi-state segmented/block transfer: every STW service is one frame
// out, one frame back, so the state machine collapses to a single
// Do(timeout) call instead of the teacher's per-state continuation.
package stw

import (
	"time"

	flashdrv "github.com/openflashdrv/flashdrv"
)

// Command bytes for the STW Flashloader service set (spec §4.1, abbreviated).
const (
	CmdWakeupLocalID    byte = 0x01
	CmdWakeupSerialNo   byte = 0x02
	CmdReadDeviceID     byte = 0x10
	CmdReadSectorCount  byte = 0x11
	CmdReadVersion      byte = 0x12
	CmdReadSerialNo     byte = 0x13
	CmdReadControlID    byte = 0x14
	CmdReadFlashInfo    byte = 0x15
	CmdReadImplInfo     byte = 0x16
	CmdReadFingerprint  byte = 0x17
	CmdReadBlockAddr    byte = 0x18
	CmdEraseSector      byte = 0x20
	CmdProgFlashEntry   byte = 0x21
	CmdSendHexLine      byte = 0x22
	CmdSetSectorCRC     byte = 0x23
	CmdSetBlockCRC      byte = 0x24
	CmdSetCompareMode   byte = 0x25
	CmdSetFingerprint   byte = 0x26
	CmdSetNodeID        byte = 0x27
	CmdSetCANBitrate    byte = 0x28
	CmdSetTempBitrate   byte = 0x29
	CmdNodeSleep        byte = 0x30
	CmdNodeReturn       byte = 0x31
	CmdNodeReset        byte = 0x32
	CmdNetSleep         byte = 0x33
	CmdNetReset         byte = 0x34
	CmdSetXFLExchange   byte = 0x35
)

// Default per-service timeouts (spec §5 "Timeouts").
const (
	DefaultTimeout = 1 * time.Second
	EraseTimeout   = 15500 * time.Millisecond
)

// Config configures one target's addressing (spec §4.1 "Frame model").
type Config struct {
	LocalID  byte
	TxID     uint32
	RxID     uint32 // 0xFFFFFFFF = wildcard, accept any ID
	Extended bool
	MaxTries int // retries beyond the first attempt; 0 = no retry
}

// Client is a single-target STW Flashloader request/response engine. It
// owns one Dispatcher filter for as long as it is attached; Attach and
// Detach manage that lifecycle explicitly because a legacy-routing
// dispatcher swap (spec §4.3, §9) retargets the dispatcher this client
// talks to without the client itself being reconstructed.
type Client struct {
	cfg    Config
	disp   *flashdrv.Dispatcher
	handle flashdrv.Handle
	rx     chan flashdrv.Frame
}

func New(cfg Config) *Client {
	return &Client{cfg: cfg, rx: make(chan flashdrv.Frame, 16)}
}

// Attach installs this client's receive filter on disp. Spec §9: the
// dispatcher a client is attached to may be swapped at runtime (routing
// dispatcher insertion/removal), so Attach/Detach are idempotent and
// cheap to call repeatedly.
func (c *Client) Attach(disp *flashdrv.Dispatcher) {
	if c.disp != nil {
		c.disp.Unsubscribe(c.handle)
	}
	c.disp = disp
	mask := uint32(0)
	rxID := c.cfg.RxID
	if rxID != 0xFFFFFFFF {
		mask = 0x1FFFFFFF
	}
	c.handle = disp.Subscribe(rxID, mask, frameListenerFunc(func(f flashdrv.Frame) {
		select {
		case c.rx <- f:
		default:
		}
	}))
}

func (c *Client) Detach() {
	if c.disp != nil {
		c.disp.Unsubscribe(c.handle)
		c.disp = nil
	}
}

type frameListenerFunc func(flashdrv.Frame)

func (f frameListenerFunc) Handle(frame flashdrv.Frame) { f(frame) }

// matches applies spec §4.1 "Response matching": RX ID already filtered
// by the dispatcher subscription, so here we check the local-ID byte and
// the caller-supplied prefix.
func (c *Client) matches(frame flashdrv.Frame, prefix []byte) bool {
	if frame.DLC == 0 {
		return false
	}
	if frame.Data[0] != c.cfg.LocalID && frame.Data[0] != 0xFF {
		return false
	}
	for i, b := range prefix {
		if i+1 >= int(frame.DLC) || frame.Data[i+1] != b {
			return false
		}
	}
	return true
}

// Do sends a request frame and waits for a matching response, retrying up
// to cfg.MaxTries additional times on NO_RESPONSE. The request carries the
// local ID in byte 0, then the prefix bytes (command code and any
// sub-index) from byte 1, then as much of payload as still fits in the
// 8-byte frame. prefix is also matched against the response payload
// starting at byte 1 (spec §4.1).
func (c *Client) Do(payload [7]byte, prefix []byte, timeout time.Duration) (flashdrv.Frame, error) {
	var last error
	for attempt := 0; attempt <= c.cfg.MaxTries; attempt++ {
		frame := flashdrv.Frame{ID: c.cfg.TxID, DLC: 8}
		frame.Data[0] = c.cfg.LocalID
		n := copy(frame.Data[1:], prefix)
		copy(frame.Data[1+n:], payload[:])
		if c.cfg.Extended {
			frame.ID |= flashdrv.CanEffFlag
		}
		c.disp.Drain() // flush stale frames before the request goes out
		if err := c.disp.Send(frame); err != nil {
			last = err
			continue
		}
		resp, err := c.waitFor(prefix, timeout)
		if err == nil {
			return resp, nil
		}
		last = err
	}
	return flashdrv.Frame{}, last
}

func (c *Client) waitFor(prefix []byte, timeout time.Duration) (flashdrv.Frame, error) {
	deadline := time.After(timeout)
	for {
		c.disp.Drain()
		select {
		case frame := <-c.rx:
			if c.matches(frame, prefix) {
				return frame, nil
			}
		case <-deadline:
			return flashdrv.Frame{}, flashdrv.NoResponse
		default:
			time.Sleep(time.Millisecond)
		}
	}
}
