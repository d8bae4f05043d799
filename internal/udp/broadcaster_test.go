package udp

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	writes    [][]byte
	writeErr  error
	closed    bool
	writeHits int
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.writeHits++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestNewBroadcaster_DialsResolvedAddr(t *testing.T) {
	var gotNetwork string
	var gotRaddr *net.UDPAddr
	fc := &fakeConn{}

	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		gotNetwork = network
		gotRaddr = raddr
		return fc, nil
	}

	b, err := newBroadcaster("192.168.1.255:47800", net.ResolveUDPAddr, dial)
	require.NoError(t, err)
	assert.Equal(t, "udp", gotNetwork)
	require.NotNil(t, gotRaddr)
	assert.Equal(t, 47800, gotRaddr.Port)
	assert.True(t, gotRaddr.IP.Equal(net.IPv4(192, 168, 1, 255)))

	require.NoError(t, b.Close())
	assert.True(t, fc.closed)
}

func TestNewBroadcaster_ResolveFailure(t *testing.T) {
	resolveErr := errors.New("nope")
	resolve := func(network, address string) (*net.UDPAddr, error) { return nil, resolveErr }
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) { return &fakeConn{}, nil }

	_, err := newBroadcaster("bad:addr", resolve, dial)
	assert.ErrorIs(t, err, resolveErr)
}

func TestBroadcaster_Send(t *testing.T) {
	fc := &fakeConn{}
	b := &Broadcaster{dest: "x", conn: fc}

	require.NoError(t, b.Send(nil))
	assert.Equal(t, 0, fc.writeHits)

	require.NoError(t, b.Send([]byte{1, 2, 3}))
	require.Len(t, fc.writes, 1)
	assert.Equal(t, []byte{1, 2, 3}, fc.writes[0])

	wantErr := errors.New("boom")
	b = &Broadcaster{dest: "x", conn: &fakeConn{writeErr: wantErr}}
	assert.ErrorIs(t, b.Send([]byte{1}), wantErr)

	assert.NoError(t, (&Broadcaster{}).Close())
}
