package server

import (
	"fmt"
	"sort"
	"time"

	"freshd/internal/identity"
	"freshd/internal/netio"
	"freshd/internal/protocol"
)

// User is a connected session: identity, block list, quota, and the
// framed socket it owns. Once handed to the Dispatcher it is reachable
// only through the user-by-id map; nothing outside this package holds a
// second reference to it.
type User struct {
	socket *netio.Socket

	id    uint64
	name  string
	idstr string

	quotaBytes   int
	lastDataTime time.Time

	errs   []error
	blocks []uint64 // sorted, deduplicated
}

// NewUser wraps sock as a fresh session with the fallback display name
// for id.
func NewUser(sock *netio.Socket, id uint64) *User {
	name := identity.FallbackName(id)
	return &User{
		socket:       sock,
		id:           id,
		name:         name,
		idstr:        identity.Collapse(name),
		lastDataTime: time.Now(),
	}
}

func (u *User) ID() uint64    { return u.id }
func (u *User) Name() string  { return u.name }
func (u *User) IDStr() string { return u.idstr }

// Addr returns the remote peer address, recording a transport error on
// this user's session if it can't be determined.
func (u *User) Addr() (string, bool) {
	a, err := u.socket.Addr()
	if err != nil {
		u.errs = append(u.errs, err)
		return "", false
	}
	return a, true
}

// SetName updates both the display name and its normalized key.
func (u *User) SetName(newName string) {
	u.name = newName
	u.idstr = identity.Collapse(newName)
}

func (u *User) ByteQuota() int { return u.quotaBytes }

// DrainByteQuota subtracts amount from the quota counter, clamped at 0.
func (u *User) DrainByteQuota(amount int) {
	if amount > u.quotaBytes {
		u.quotaBytes = 0
	} else {
		u.quotaBytes -= amount
	}
}

func (u *User) LastDataTime() time.Time { return u.lastDataTime }

func (u *User) HasErrors() bool { return len(u.errs) > 0 }

// Errors summarizes the accumulated transport errors for logging.
func (u *User) Errors() error {
	if len(u.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%d underlying socket error(s): %w", len(u.errs), u.errs[len(u.errs)-1])
}

// Logout enqueues a farewell message, attempts one flush, and shuts the
// socket down. Matches the original's RAII drop path: even if this
// User is being removed from the owning map mid-tick, its I/O is
// cleaned up here rather than left to a finalizer.
func (u *User) Logout(reason string) {
	u.DeliverMsg(protocol.NewLogout(reason))
	_, _ = u.socket.SendData()
	_ = u.socket.Shutdown()
}

// BlockID adds id to the sorted block list. Reports whether it was
// actually added (false if already present).
func (u *User) BlockID(id uint64) bool {
	i := sort.Search(len(u.blocks), func(i int) bool { return u.blocks[i] >= id })
	if i < len(u.blocks) && u.blocks[i] == id {
		return false
	}
	u.blocks = append(u.blocks, 0)
	copy(u.blocks[i+1:], u.blocks[i:])
	u.blocks[i] = id
	return true
}

// UnblockID removes id from the sorted block list. Reports whether it
// was present.
func (u *User) UnblockID(id uint64) bool {
	i := sort.Search(len(u.blocks), func(i int) bool { return u.blocks[i] >= id })
	if i >= len(u.blocks) || u.blocks[i] != id {
		return false
	}
	u.blocks = append(u.blocks[:i], u.blocks[i+1:]...)
	return true
}

func (u *User) isBlocking(id uint64) bool {
	i := sort.Search(len(u.blocks), func(i int) bool { return u.blocks[i] >= id })
	return i < len(u.blocks) && u.blocks[i] == id
}

// Deliver enqueues env's bytes unless its source is a blocked user.
func (u *User) Deliver(env protocol.Envelope) {
	if env.Source.Kind == protocol.EndUser && u.isBlocking(env.Source.ID) {
		return
	}
	u.socket.Enqueue(env.Bytes())
}

// DeliverMsg encodes and enqueues msg with no block filtering; used for
// direct server-to-this-user communication.
func (u *User) DeliverMsg(msg protocol.Sndr) {
	u.socket.Enqueue(msg.Bytes())
}

// Send flushes any queued outbound bytes, recording a transport error
// on failure rather than propagating it.
func (u *User) Send() {
	if u.socket.SendBuffSize() == 0 {
		return
	}
	if _, err := u.socket.SendData(); err != nil {
		u.errs = append(u.errs, err)
	}
}

// BlockingSend enqueues msg and drains the send buffer synchronously,
// for use before the session is handed to the dispatcher's tick loop.
// It gives up with an error once limit elapses without fully draining.
func (u *User) BlockingSend(msg protocol.Sndr, limit time.Duration) error {
	u.socket.Enqueue(msg.Bytes())
	deadline := time.Now().Add(limit)
	const tick = 100 * time.Millisecond
	for {
		remaining, err := u.socket.SendData()
		if err != nil {
			u.errs = append(u.errs, err)
			return err
		}
		if remaining == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("user: timed out on blocking send")
		}
		time.Sleep(tick)
	}
}

// TryGet attempts to read and decode one message from the socket.
// Success updates last-activity and, for a quota-counted kind, charges
// the quota counter with the delta in buffered receive bytes consumed
// by the decode — the size of what the client actually sent, not the
// size of the decoded Go struct.
func (u *User) TryGet() (protocol.Rcvr, bool) {
	if _, err := u.socket.ReadData(); err != nil {
		u.errs = append(u.errs, err)
		return protocol.Rcvr{}, false
	}

	before := u.socket.RecvBuffSize()
	if before == 0 {
		return protocol.Rcvr{}, false
	}

	msg, ok, err := u.socket.TryGet()
	if err != nil {
		u.errs = append(u.errs, err)
		return protocol.Rcvr{}, false
	}
	if !ok {
		return protocol.Rcvr{}, false
	}

	u.lastDataTime = time.Now()
	if msg.Counts() {
		u.quotaBytes += before - u.socket.RecvBuffSize()
	}
	return msg, true
}

// BlockingGet blocks, polling every 100ms, until a complete
// message arrives or timeout elapses. Used only during the Listener's
// handshake, before the socket is handed to the dispatcher.
func (u *User) BlockingGet(timeout time.Duration) (protocol.Rcvr, error) {
	return u.socket.BlockingGet(timeout, 100*time.Millisecond)
}
