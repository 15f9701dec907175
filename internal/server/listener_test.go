package server

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"freshd/internal/netio"
)

func newNegotiationUser(t *testing.T) (*Listener, *User, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { _ = server.Close(); _ = client.Close() })
	sock, err := netio.New(server)
	require.NoError(t, err)
	l := NewListener(zap.NewNop(), make(chan *User, 1))
	return l, NewUser(sock, 100), client
}

func TestNegotiateAcceptsNameMessage(t *testing.T) {
	l, u, client := newNegotiationUser(t)

	go func() {
		time.Sleep(5 * time.Millisecond)
		data, _ := json.Marshal(map[string]string{"Name": "alice"})
		_, _ = client.Write(data)
	}()

	err := l.negotiate(u)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Name())
}

func TestNegotiateRejectsNonNameMessage(t *testing.T) {
	l, u, client := newNegotiationUser(t)

	go func() {
		time.Sleep(5 * time.Millisecond)
		_, _ = client.Write([]byte(`"Ping"`))
	}()

	err := l.negotiate(u)
	assert.Error(t, err)
}
