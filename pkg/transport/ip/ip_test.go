package ip

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRecvRoundTripOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err := Dial(ln.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer client.Close()

	var serverConn net.Conn
	select {
	case serverConn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
	}
	defer serverConn.Close()
	server := &Conn{conn: serverConn}

	want := Message{ServiceID: 0x22, Payload: []byte{0xAA, 0xBB, 0xCC}}
	require.NoError(t, client.Send(want))

	got, err := server.Recv(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, want.ServiceID, got.ServiceID)
	assert.Equal(t, want.Payload, got.Payload)
}

func TestRecvTimesOutWithoutData(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			defer c.Close()
			time.Sleep(200 * time.Millisecond)
		}
	}()

	client, err := Dial(ln.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Recv(50 * time.Millisecond)
	assert.Error(t, err)
}

func TestBroadcastSendRecvRoundTrip(t *testing.T) {
	rx, err := NewBroadcaster(0, "127.0.0.1:0")
	require.NoError(t, err)
	defer rx.Close()

	tx, err := NewBroadcaster(0, rx.conn.LocalAddr().String())
	require.NoError(t, err)
	defer tx.Close()

	want := Message{ServiceID: 0x7E, Payload: []byte{1, 2, 3, 4}}
	require.NoError(t, tx.Send(want))

	got, _, err := rx.Recv(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, want.ServiceID, got.ServiceID)
	assert.Equal(t, want.Payload, got.Payload)
}
