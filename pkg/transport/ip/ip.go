// Package ip implements the openSYDE IP transport protocol (§6): TCP for
// unicast request/response streams, UDP for broadcast/discovery. Frames on
// the TCP stream are length-prefixed exactly like CAN frames on the
// teacher's TCP-backed virtual CAN bus (pkg/can/virtual): a 4-byte
// big-endian length header followed by the payload, here {service_id,
// payload} instead of a raw CAN frame struct.
package ip

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"
)

// Message is one openSYDE service request or response carried over TCP.
type Message struct {
	ServiceID byte
	Payload   []byte
}

func encode(msg Message) []byte {
	body := make([]byte, 1+len(msg.Payload))
	body[0] = msg.ServiceID
	copy(body[1:], msg.Payload)
	framed := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(framed[:4], uint32(len(body)))
	copy(framed[4:], body)
	return framed
}

func decodeHeader(header []byte) (uint32, error) {
	if len(header) != 4 {
		return 0, fmt.Errorf("ip transport: short header")
	}
	return binary.BigEndian.Uint32(header), nil
}

// Conn is one TCP connection to a single openSYDE server node, carrying
// unicast request/response traffic (spec §6: "TCP connect per target").
type Conn struct {
	mu   sync.Mutex
	conn net.Conn
}

func Dial(addr string, timeout time.Duration) (*Conn, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &Conn{conn: c}, nil
}

func (c *Conn) Close() error { return c.conn.Close() }

func (c *Conn) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := c.conn.Write(encode(msg))
	return err
}

// Recv blocks until one full message arrives or timeout elapses.
func (c *Conn) Recv(timeout time.Duration) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	header := make([]byte, 4)
	if _, err := readFull(c.conn, header); err != nil {
		return Message{}, err
	}
	length, err := decodeHeader(header)
	if err != nil {
		return Message{}, err
	}
	body := make([]byte, length)
	if _, err := readFull(c.conn, body); err != nil {
		return Message{}, err
	}
	if length == 0 {
		return Message{}, fmt.Errorf("ip transport: empty message")
	}
	return Message{ServiceID: body[0], Payload: body[1:]}, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Broadcaster sends and receives openSYDE broadcast/discovery traffic
// over UDP (spec §6: "UDP for broadcasts / discovery").
type Broadcaster struct {
	conn       *net.UDPConn
	broadcast  *net.UDPAddr
}

func NewBroadcaster(localPort int, broadcastAddr string) (*Broadcaster, error) {
	laddr := &net.UDPAddr{Port: localPort}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	baddr, err := net.ResolveUDPAddr("udp", broadcastAddr)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Broadcaster{conn: conn, broadcast: baddr}, nil
}

func (b *Broadcaster) Close() error { return b.conn.Close() }

func (b *Broadcaster) Send(msg Message) error {
	_, err := b.conn.WriteToUDP(encode(msg)[4:], b.broadcast)
	return err
}

// Recv reads one UDP datagram (unprefixed: a single datagram is a single
// message), returning the sender's address along with the message.
func (b *Broadcaster) Recv(timeout time.Duration) (Message, *net.UDPAddr, error) {
	_ = b.conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 4096)
	n, addr, err := b.conn.ReadFromUDP(buf)
	if err != nil {
		return Message{}, nil, err
	}
	if n == 0 {
		return Message{}, nil, fmt.Errorf("ip transport: empty datagram")
	}
	return Message{ServiceID: buf[0], Payload: append([]byte(nil), buf[1:n]...)}, addr, nil
}
