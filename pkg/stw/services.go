package stw

import (
	"encoding/binary"
	"time"

	flashdrv "github.com/openflashdrv/flashdrv"
	"github.com/openflashdrv/flashdrv/pkg/model"
)

// WakeUpLocalID performs the local-ID wake-up variant with a company-ID
// handshake (spec §4.1 "Wake-up variants").
func (c *Client) WakeUpLocalID(company model.CompanyID) error {
	var payload [7]byte
	copy(payload[:], company.Bytes())
	_, err := c.Do(payload, []byte{CmdWakeupLocalID}, DefaultTimeout)
	return err
}

// WakeUpSerialNumber sends the serial-number wake-up command with the
// company ID as its parameters (spec §4.1). sn is not placed in the
// request, so the frame does not select a node by serial number.
func (c *Client) WakeUpSerialNumber(sn model.SerialNumber, company model.CompanyID) error {
	var payload [7]byte
	copy(payload[:], company.Bytes())
	_, err := c.Do(payload, []byte{CmdWakeupSerialNo}, DefaultTimeout)
	return err
}

// FlashBroadcastBurst sends the "FLASH" wake burst every interval for
// window, to catch a just-powered node before it times out of its
// listening state (spec §4.1). It ignores send errors on individual
// bursts: this is a best-effort broadcast, not a request/response.
func (c *Client) FlashBroadcastBurst(window time.Duration, interval time.Duration) {
	deadline := time.Now().Add(window)
	frame := flashdrv.Frame{ID: c.cfg.TxID, DLC: 8}
	frame.Data[0] = 0xFF
	frame.Data[1] = CmdWakeupLocalID
	for time.Now().Before(deadline) {
		_ = c.disp.Send(frame)
		time.Sleep(interval)
	}
}

// SetXFLExchange puts the server into exchange mode (spec §4.1 step 4
// "Optional set_xfl_exchange"). Per the Flashloader spec this command
// causes the server to go back to sleep, which is why Download always
// performs a second wake-up immediately after a successful call.
func (c *Client) SetXFLExchange() error {
	_, err := c.Do([7]byte{}, []byte{CmdSetXFLExchange}, DefaultTimeout)
	return err
}

func (c *Client) ReadProtocolVersion() (model.ProtocolVersion, error) {
	resp, err := c.Do([7]byte{}, []byte{CmdReadVersion}, DefaultTimeout)
	if err != nil {
		return model.ProtocolVersion{}, err
	}
	return model.ProtocolVersion{Major: resp.Data[2], Minor: resp.Data[3]}, nil
}

func (c *Client) ReadDeviceID(longVariant bool) (string, error) {
	resp, err := c.Do([7]byte{}, []byte{CmdReadDeviceID}, DefaultTimeout)
	if err != nil {
		return "", err
	}
	n := 4
	if longVariant {
		n = 6
	}
	return string(resp.Data[2 : 2+n]), nil
}

func (c *Client) ReadImplementedServices() (*model.ServiceBitmap, error) {
	bits := model.NewServiceBitmap()
	// The real wire format pages the ~160-bit table across several
	// frames, each carrying a base offset and up to 48 bits; here the
	// request carries the page index in byte 2.
	for page := byte(0); page < 4; page++ {
		resp, err := c.Do([7]byte{page}, []byte{CmdReadImplInfo}, DefaultTimeout)
		if err != nil {
			return nil, err
		}
		base := int(page) * 48
		for byteIdx := 0; byteIdx < 6; byteIdx++ {
			b := resp.Data[2+byteIdx]
			for bit := 0; bit < 8; bit++ {
				bits.Set(base+byteIdx*8+bit, b&(1<<uint(bit)) != 0)
			}
		}
	}
	return bits, nil
}

func (c *Client) ReadSerialNumber() (model.SerialNumber, error) {
	resp, err := c.Do([7]byte{}, []byte{CmdReadSerialNo}, DefaultTimeout)
	if err != nil {
		return model.SerialNumber{}, err
	}
	var raw [6]byte
	copy(raw[:], resp.Data[2:])
	return model.NewClassicSerialNumber(raw)
}

func (c *Client) ReadFingerprintIndexes() (map[int]bool, error) {
	resp, err := c.Do([7]byte{}, []byte{CmdReadFingerprint, 0x00}, DefaultTimeout)
	if err != nil {
		return nil, err
	}
	supported := make(map[int]bool, 4)
	mask := resp.Data[2]
	supported[model.FingerprintIdxDate] = mask&0x01 != 0
	supported[model.FingerprintIdxTime] = mask&0x02 != 0
	supported[model.FingerprintIdxUsername] = mask&0x04 != 0
	supported[model.FingerprintIdxChecksum] = mask&0x08 != 0
	return supported, nil
}

func (c *Client) ReadFingerprint() (model.Fingerprint, error) {
	resp, err := c.Do([7]byte{}, []byte{CmdReadFingerprint, 0x01}, DefaultTimeout)
	if err != nil {
		return model.Fingerprint{}, err
	}
	date := model.FingerprintDate{Year: resp.Data[2], Month: resp.Data[3], Day: resp.Data[4]}
	time := model.FingerprintTime{Hour: resp.Data[5], Minute: resp.Data[6]}
	return model.NewFingerprint(date, time, "", 0)
}

// ReadFlashInformation reads one IC entry per call at index icIndex; the
// sequencer calls it in a loop until the server signals "no more ICs" by
// returning zero total size.
func (c *Client) ReadFlashInformation(icIndex int) (model.IC, bool, error) {
	resp, err := c.Do([7]byte{byte(icIndex)}, []byte{CmdReadFlashInfo}, DefaultTimeout)
	if err != nil {
		return model.IC{}, false, err
	}
	total := binary.LittleEndian.Uint32(resp.Data[2:6])
	if total == 0 {
		return model.IC{}, false, nil
	}
	return model.IC{TotalSize: total}, true, nil
}

// EraseSector erases one sector, waiting up to timeout for the
// acknowledgement (spec §4.1 step 9). Download passes the fixed
// EraseTimeout for every sector; an IC's reported maximum erase time is
// neither read by ReadFlashInformation nor used.
func (c *Client) EraseSector(sectorIndex int, timeout time.Duration) error {
	var payload [7]byte
	binary.LittleEndian.PutUint16(payload[:2], uint16(sectorIndex))
	_, err := c.Do(payload, []byte{CmdEraseSector}, timeout)
	return err
}

func (c *Client) ProgFlashEntry() error {
	_, err := c.Do([7]byte{}, []byte{CmdProgFlashEntry}, DefaultTimeout)
	return err
}

// SendHexLine transmits one already-optimized Intel-HEX record's raw
// bytes verbatim over consecutive frames (spec §6 "Multi-frame data uses
// an Intel-HEX line carried verbatim"). Each call sends exactly one
// 8-byte frame's worth of data; the sequencer calls it once per frame in
// a burst of five (spec §4.1 step 12).
func (c *Client) SendHexLine(data []byte) error {
	var payload [7]byte
	n := copy(payload[:], data)
	_ = n
	_, err := c.Do(payload, []byte{CmdSendHexLine}, DefaultTimeout)
	return err
}

func (c *Client) SetSectorChecksum(sectorIndex int) (uint16, error) {
	var payload [7]byte
	binary.LittleEndian.PutUint16(payload[:2], uint16(sectorIndex))
	resp, err := c.Do(payload, []byte{CmdSetSectorCRC}, DefaultTimeout)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(resp.Data[2:4]), nil
}

func (c *Client) SetBlockChecksum(blockIndex int) (uint16, error) {
	var payload [7]byte
	binary.LittleEndian.PutUint16(payload[:2], uint16(blockIndex))
	resp, err := c.Do(payload, []byte{CmdSetBlockCRC}, DefaultTimeout)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(resp.Data[2:4]), nil
}

func (c *Client) SetFingerprint(fp model.Fingerprint) error {
	var payload [7]byte
	payload[0] = fp.Date.Year
	payload[1] = fp.Date.Month
	payload[2] = fp.Date.Day
	payload[3] = fp.Time.Hour
	payload[4] = fp.Time.Minute
	payload[5] = fp.Time.Second
	_, err := c.Do(payload, []byte{CmdSetFingerprint}, DefaultTimeout)
	return err
}

func (c *Client) SetApplicationChecksum(checksum uint32) error {
	var payload [7]byte
	binary.LittleEndian.PutUint32(payload[:4], checksum)
	_, err := c.Do(payload, []byte{CmdSetFingerprint, 0x02}, DefaultTimeout)
	return err
}

func (c *Client) SetNodeID(newLocalID byte) error {
	var payload [7]byte
	payload[0] = newLocalID
	_, err := c.Do(payload, []byte{CmdSetNodeID}, DefaultTimeout)
	return err
}

func (c *Client) SetCANBitrate(kbps uint16) error {
	var payload [7]byte
	binary.LittleEndian.PutUint16(payload[:2], kbps)
	_, err := c.Do(payload, []byte{CmdSetCANBitrate}, DefaultTimeout)
	return err
}

// terminal services: spec §4.1 "Terminal: node sleep / return / reset;
// net sleep / reset". The node services poll for the acknowledgement per
// the request/response model; a NO_RESPONSE here is non-fatal (the device
// may already have reset before acking). NetSleep and NetReset only send
// the broadcast frame and do not wait for any reply.
func (c *Client) NodeSleep() error  { _, err := c.Do([7]byte{}, []byte{CmdNodeSleep}, DefaultTimeout); return err }
func (c *Client) NodeReturn() error { _, err := c.Do([7]byte{}, []byte{CmdNodeReturn}, DefaultTimeout); return err }
func (c *Client) NodeReset() error  { _, err := c.Do([7]byte{}, []byte{CmdNodeReset}, DefaultTimeout); return err }

func (c *Client) NetSleep() error {
	frame := flashdrv.Frame{ID: c.cfg.TxID, DLC: 8}
	frame.Data[0] = 0xFF
	frame.Data[1] = CmdNetSleep
	return c.disp.Send(frame)
}

func (c *Client) NetReset() error {
	frame := flashdrv.Frame{ID: c.cfg.TxID, DLC: 8}
	frame.Data[0] = 0xFF
	frame.Data[1] = CmdNetReset
	return c.disp.Send(frame)
}
