package server

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freshd/internal/netio"
	"freshd/internal/protocol"
)

func newTestUser(t *testing.T, id uint64) (*User, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { _ = server.Close(); _ = client.Close() })
	sock, err := netio.New(server)
	require.NoError(t, err)
	return NewUser(sock, id), client
}

func TestNewUserAssignsFallbackName(t *testing.T) {
	u, _ := newTestUser(t, 7)
	assert.Equal(t, "user7", u.Name())
	assert.Equal(t, uint64(7), u.ID())
}

func TestSetNameUpdatesIDStr(t *testing.T) {
	u, _ := newTestUser(t, 1)
	u.SetName("Alice")
	assert.Equal(t, "Alice", u.Name())
	assert.Equal(t, "alice", u.IDStr())
}

func TestDrainByteQuotaClampsAtZero(t *testing.T) {
	u, _ := newTestUser(t, 1)
	u.quotaBytes = 5
	u.DrainByteQuota(8)
	assert.Equal(t, 0, u.ByteQuota())
}

func TestBlockUnblockSortedInvariant(t *testing.T) {
	u, _ := newTestUser(t, 1)
	assert.True(t, u.BlockID(5))
	assert.True(t, u.BlockID(2))
	assert.True(t, u.BlockID(8))
	assert.False(t, u.BlockID(5), "re-blocking the same id is a no-op")
	assert.Equal(t, []uint64{2, 5, 8}, u.blocks)

	assert.True(t, u.isBlocking(5))
	assert.False(t, u.isBlocking(99))

	assert.True(t, u.UnblockID(5))
	assert.False(t, u.UnblockID(5), "unblocking an absent id is a no-op")
	assert.Equal(t, []uint64{2, 8}, u.blocks)
}

func TestDeliverFiltersBlockedSender(t *testing.T) {
	u, _ := newTestUser(t, 1)
	u.BlockID(42)

	blocked := protocol.NewEnvelope(protocol.UserEnd(42), protocol.RoomEnd(0), protocol.NewText("eve", []string{"hi"}))
	u.Deliver(blocked)
	assert.Equal(t, 0, u.socket.SendBuffSize(), "message from a blocked sender must not be enqueued")

	allowed := protocol.NewEnvelope(protocol.UserEnd(99), protocol.RoomEnd(0), protocol.NewText("bob", []string{"hi"}))
	u.Deliver(allowed)
	assert.Greater(t, u.socket.SendBuffSize(), 0, "message from a non-blocked sender must be enqueued")
}

func TestHasErrorsAndErrors(t *testing.T) {
	u, _ := newTestUser(t, 1)
	assert.False(t, u.HasErrors())
	assert.NoError(t, u.Errors())

	u.errs = append(u.errs, assertErr{})
	assert.True(t, u.HasErrors())
	assert.Error(t, u.Errors())
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
