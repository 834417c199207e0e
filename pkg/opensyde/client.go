package opensyde

import (
	"crypto"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	flashdrv "github.com/openflashdrv/flashdrv"
	"github.com/openflashdrv/flashdrv/pkg/security"
)

// UDS-derived service IDs this flashloader defines (spec §4.2 "Service
// set"). Only the subset this host speaks; arbitrary UDS is explicitly a
// non-goal (spec §1).
const (
	SvcDiagnosticSessionControl byte = 0x10
	SvcECUReset                 byte = 0x11
	SvcSecurityAccess           byte = 0x27
	SvcReadDataByIdentifier     byte = 0x22
	SvcWriteDataByIdentifier    byte = 0x2E
	SvcRequestDownload          byte = 0x34
	SvcRequestFileTransfer      byte = 0x38
	SvcTransferData             byte = 0x36
	SvcRequestTransferExit      byte = 0x37
	SvcRoutingActivation        byte = 0x29
	SvcTesterPresent            byte = 0x3E
	SvcRequestProgramming       byte = 0x50
	SvcFactoryModeMasterReset   byte = 0x51
)

// Session kinds (spec §4.2 "State machine per target").
type Session byte

const (
	SessionDefault       Session = 0x01
	SessionPreprogram    Session = 0x02
	SessionProgramming   Session = 0x03
)

// Security levels; L1 gates preprogramming-session operations, L3 gates
// programming (spec §4.2 diagram).
type SecurityLevel byte

const (
	SecurityLevel1 SecurityLevel = 1
	SecurityLevel3 SecurityLevel = 3
)

// NRC values the server returns inside a negative response (spec §4.2,
// §7 "NRCs from the server are surfaced verbatim").
const (
	NRCConditionsNotCorrect byte = 0x22
	NRCRequestOutOfRange    byte = 0x31
	NRCSecurityAccessDenied byte = 0x33
)

const negativeResponsePrefix byte = 0x7F

// Client is a transport-neutral openSYDE flashloader client for one
// target node (spec §4.2 "Layering"). It owns the session/security state
// machine; the Transport below it only moves bytes.
type Client struct {
	mu           sync.Mutex
	tp           Transport
	keys         security.KeyStore
	session      Session
	securityOK   map[SecurityLevel]bool
	seqCounter   byte
	requestedProgram bool
}

func NewClient(tp Transport, keys security.KeyStore) *Client {
	return &Client{
		tp:         tp,
		keys:       keys,
		session:    SessionDefault,
		securityOK: make(map[SecurityLevel]bool),
	}
}

// do sends one service request and returns its positive-response payload
// (stripped of the echoed service ID), translating a UDS negative
// response into a *flashdrv.NegativeResponseError (spec §7 policy).
func (c *Client) do(serviceID byte, payload []byte, timeout time.Duration) ([]byte, error) {
	req := append([]byte{serviceID}, payload...)
	if err := c.tp.SendRequest(req); err != nil {
		return nil, err
	}
	resp, err := c.tp.RecvResponse(timeout)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, flashdrv.NoResponse
	}
	if resp[0] == negativeResponsePrefix {
		if len(resp) < 3 {
			return nil, flashdrv.NegativeResponse
		}
		return nil, &flashdrv.NegativeResponseError{Service: resp[1], NRC: resp[2]}
	}
	if resp[0] != serviceID+0x40 {
		return nil, fmt.Errorf("opensyde: unexpected response service id x%02x", resp[0])
	}
	return resp[1:], nil
}

// DiagnosticSessionControl requests a session change (spec §4.2 state
// machine). Entering programming without having previously requested
// programming from preprogramming is rejected by the server with
// conditionsNotCorrect; the caller is expected to have called
// RequestProgramming first (spec: "retried via the preprogramming→
// request-programming path").
func (c *Client) DiagnosticSessionControl(session Session, timeout time.Duration) error {
	_, err := c.do(SvcDiagnosticSessionControl, []byte{byte(session)}, timeout)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	return nil
}

// SecurityAccessRequestSeed requests the seed for level; a non-secure
// device returns the fixed seed (spec §4.2).
func (c *Client) SecurityAccessRequestSeed(level SecurityLevel, timeout time.Duration) ([]byte, error) {
	requestSub := byte(level)*2 - 1 // odd sub-function = request-seed, per UDS convention
	resp, err := c.do(SvcSecurityAccess, []byte{requestSub}, timeout)
	if err != nil {
		return nil, err
	}
	if len(resp) < 1 {
		return nil, fmt.Errorf("opensyde: short security-access seed response")
	}
	return resp[1:], nil
}

func (c *Client) SecurityAccessSendKey(level SecurityLevel, key []byte, timeout time.Duration) error {
	sendSub := byte(level) * 2 // even sub-function = send-key
	payload := append([]byte{sendSub}, key...)
	_, err := c.do(SvcSecurityAccess, payload, timeout)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.securityOK[level] = true
	c.mu.Unlock()
	return nil
}

// AuthenticateNonSecure performs the fixed seed/key exchange (spec §4.2,
// §4.4 step 4).
func (c *Client) AuthenticateNonSecure(level SecurityLevel, timeout time.Duration) error {
	seed, err := c.SecurityAccessRequestSeed(level, timeout)
	if err != nil {
		return err
	}
	return c.SecurityAccessSendKey(level, security.ComputeNonSecureKey(seed), timeout)
}

// AuthenticateSecure signs the server's seed with the private key
// registered for certificateSerial (spec §4.2 "Security"). A missing key
// surfaces as flashdrv.ChecksumError to the caller.
func (c *Client) AuthenticateSecure(level SecurityLevel, certificateSerial []byte, timeout time.Duration) error {
	seed, err := c.SecurityAccessRequestSeed(level, timeout)
	if err != nil {
		return err
	}
	sig, err := security.Sign(c.keys, certificateSerial, seed, crypto.SHA256)
	if err != nil {
		return flashdrv.ChecksumError
	}
	return c.SecurityAccessSendKey(level, sig, timeout)
}

// ReadDataByIdentifier reads one DID (spec §4.2 long list: device name,
// serial number, hardware number, ... debugger-enabled).
func (c *Client) ReadDataByIdentifier(did uint16, timeout time.Duration) ([]byte, error) {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, did)
	resp, err := c.do(SvcReadDataByIdentifier, payload, timeout)
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("opensyde: short RDBI response")
	}
	return resp[2:], nil
}

func (c *Client) WriteDataByIdentifier(did uint16, data []byte, timeout time.Duration) error {
	payload := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(payload, did)
	copy(payload[2:], data)
	_, err := c.do(SvcWriteDataByIdentifier, payload, timeout)
	return err
}

// RequestProgramming must be called from a preprogramming session before
// DiagnosticSessionControl(SessionProgramming) will succeed (spec §4.2
// state machine).
func (c *Client) RequestProgramming(timeout time.Duration) error {
	_, err := c.do(SvcRequestProgramming, nil, timeout)
	if err == nil {
		c.mu.Lock()
		c.requestedProgram = true
		c.mu.Unlock()
	}
	return err
}

func (c *Client) EnterProgrammingSession(timeout time.Duration) error {
	if err := c.DiagnosticSessionControl(SessionPreprogram, timeout); err != nil {
		return err
	}
	if err := c.RequestProgramming(timeout); err != nil {
		return err
	}
	return c.DiagnosticSessionControl(SessionProgramming, timeout)
}

func (c *Client) ECUReset(timeout time.Duration) error {
	_, err := c.do(SvcECUReset, nil, timeout)
	return err
}

func (c *Client) FactoryModeMasterReset(timeout time.Duration) error {
	_, err := c.do(SvcFactoryModeMasterReset, nil, timeout)
	return err
}

// RequestDownload opens an address-based transfer, returning the
// server's max-block-length (spec §4.2).
func (c *Client) RequestDownload(address uint32, size uint32, timeout time.Duration) (uint32, error) {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[0:4], address)
	binary.BigEndian.PutUint32(payload[4:8], size)
	resp, err := c.do(SvcRequestDownload, payload, timeout)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.seqCounter = 0
	c.mu.Unlock()
	if len(resp) < 4 {
		return 0, fmt.Errorf("opensyde: short request-download response")
	}
	return binary.BigEndian.Uint32(resp[:4]), nil
}

// RequestFileTransfer opens a file-based transfer (spec §4.2).
func (c *Client) RequestFileTransfer(path string, size uint32, timeout time.Duration) (uint32, error) {
	payload := make([]byte, 4+len(path))
	binary.BigEndian.PutUint32(payload[:4], size)
	copy(payload[4:], path)
	resp, err := c.do(SvcRequestFileTransfer, payload, timeout)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.seqCounter = 0
	c.mu.Unlock()
	if len(resp) < 4 {
		return 0, fmt.Errorf("opensyde: short request-file-transfer response")
	}
	return binary.BigEndian.Uint32(resp[:4]), nil
}

// nextSequenceCounter visits 1..255 then wraps to 0 (spec §8 "Transfer-
// data sequence counter visits 1, 2, ..., 255, 0, 1, ... in order").
func (c *Client) nextSequenceCounter() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seqCounter == 255 {
		c.seqCounter = 0
	} else {
		c.seqCounter++
	}
	return c.seqCounter
}

// TransferData sends one chunk with the next sequence counter value.
func (c *Client) TransferData(chunk []byte, timeout time.Duration) error {
	seq := c.nextSequenceCounter()
	payload := append([]byte{seq}, chunk...)
	_, err := c.do(SvcTransferData, payload, timeout)
	return err
}

// RequestTransferExitAddress closes an address-based download, optionally
// pointing the server at a signature block address (spec §4.2).
func (c *Client) RequestTransferExitAddress(signatureAddr *uint32, timeout time.Duration) error {
	var payload []byte
	if signatureAddr != nil {
		payload = make([]byte, 4)
		binary.BigEndian.PutUint32(payload, *signatureAddr)
	}
	_, err := c.do(SvcRequestTransferExit, payload, timeout)
	return err
}

// RequestTransferExitFile closes a file-based download with a CRC32 over
// the transferred data, followed by 4 reserved zero bytes (spec §4.2).
func (c *Client) RequestTransferExitFile(crc32 uint32, timeout time.Duration) error {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[:4], crc32)
	_, err := c.do(SvcRequestTransferExit, payload, timeout)
	return err
}

// ReadFileBasedTransferExitResult reads back the server's verdict on the
// file-based transfer just closed.
func (c *Client) ReadFileBasedTransferExitResult(timeout time.Duration) ([]byte, error) {
	return c.do(SvcRequestTransferExit, []byte{0xFF}, timeout)
}

// ReadAllFlashBlockData loops block index 0..N, treating requestOutOfRange
// as "end of list" rather than an error (spec §4.2).
func (c *Client) ReadAllFlashBlockData(timeout time.Duration) ([][]byte, error) {
	var blocks [][]byte
	for block := 0; block < 256; block++ {
		resp, err := c.do(SvcReadDataByIdentifier, []byte{0xF1, byte(block)}, timeout)
		if err != nil {
			if nre, ok := err.(*flashdrv.NegativeResponseError); ok && nre.NRC == NRCRequestOutOfRange {
				break
			}
			return nil, err
		}
		blocks = append(blocks, resp)
	}
	return blocks, nil
}

// RoutingActivation asks the intermediate node identified by the current
// transport's server identity to relay TP frames for this session (spec
// §4.2, §4.3).
func (c *Client) RoutingActivation(timeout time.Duration) error {
	_, err := c.do(SvcRoutingActivation, nil, timeout)
	return err
}

// TesterPresent is the periodic session-keepalive the orchestrator emits
// during long operations (spec §4.3, §5). Failures are best-effort: spec
// §7 "Session-alive ticks are best-effort (failures logged, not
// propagated)" — callers should not treat an error here as fatal.
func (c *Client) TesterPresent(timeout time.Duration) error {
	_, err := c.do(SvcTesterPresent, nil, timeout)
	return err
}

func (c *Client) CurrentSession() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) SecurityLevelAuthenticated(level SecurityLevel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.securityOK[level]
}

// RequestedProgramming reports whether RequestProgramming has ever
// succeeded on this client; the flag is not cleared afterwards. The
// programming-session transition is only legal once this is true (spec
// §4.2 state machine).
func (c *Client) RequestedProgramming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestedProgram
}
