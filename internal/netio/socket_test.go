package netio

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freshd/internal/protocol"
)

func pipeSockets(t *testing.T) (*Socket, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { _ = client.Close(); _ = server.Close() })
	sock, err := New(server)
	require.NoError(t, err)
	return sock, client
}

func TestSocketEnqueueAndSendData(t *testing.T) {
	sock, client := pipeSockets(t)
	sock.Enqueue([]byte(`"Ping"`))

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := client.Read(buf)
		done <- buf[:n]
	}()

	// Writes through net.Pipe are synchronous, so drive SendData from a
	// goroutine while the reader above drains the other end.
	errCh := make(chan error, 1)
	go func() {
		for {
			remaining, err := sock.SendData()
			if err != nil || remaining == 0 {
				errCh <- err
				return
			}
		}
	}()

	select {
	case got := <-done:
		assert.Equal(t, `"Ping"`, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write")
	}
	require.NoError(t, <-errCh)
}

func TestSocketReadDataAndTryGet(t *testing.T) {
	sock, client := pipeSockets(t)

	writeDone := make(chan struct{})
	go func() {
		_, _ = client.Write([]byte(`{"Name":"alice"}`))
		close(writeDone)
	}()

	// The pipe write only completes once ReadData consumes it, so wait
	// for the writer after reading, not before.
	require.Eventually(t, func() bool {
		_, _ = sock.ReadData()
		return sock.RecvBuffSize() > 0
	}, 2*time.Second, 5*time.Millisecond)
	<-writeDone

	msg, ok, err := sock.TryGet()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, protocol.RcvName, msg.Kind)
	assert.Equal(t, "alice", msg.Str)
}

func TestSocketTryGetIncompleteReturnsNotOK(t *testing.T) {
	sock, _ := pipeSockets(t)
	_, ok, err := sock.TryGet()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSocketAddr(t *testing.T) {
	sock, _ := pipeSockets(t)
	// net.Pipe connections have no real remote address.
	_, err := sock.Addr()
	assert.Error(t, err)
}

func TestSocketSetReadBufferSize(t *testing.T) {
	sock, _ := pipeSockets(t)
	sock.SetReadBufferSize(16)
	assert.Equal(t, 16, sock.ReadBufferSize())
}
