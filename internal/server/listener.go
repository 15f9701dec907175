package server

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"freshd/internal/netio"
	"freshd/internal/protocol"
)

const handshakeTimeout = 5 * time.Second

// Listener accepts TCP connections, performs the initial name
// handshake, and hands fully-initialized sessions to the Dispatcher
// over a channel. It never touches a room or a user map directly.
type Listener struct {
	log    *zap.Logger
	accept chan<- *User
	nextID atomic.Uint64
}

// NewListener constructs a Listener that publishes accepted sessions on
// accept. User ids are assigned starting at 100, as required by the
// protocol's handshake contract.
func NewListener(log *zap.Logger, accept chan<- *User) *Listener {
	l := &Listener{log: log, accept: accept}
	l.nextID.Store(99)
	return l
}

// Serve binds address and accepts connections until the listener is
// closed or stop fires.
func (l *Listener) Serve(address string, stop <-chan struct{}) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	go func() {
		<-stop
		_ = ln.Close()
	}()

	l.log.Info("listening", zap.String("address", address))
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
			}
			l.log.Debug("error accepting connection", zap.Error(err))
			continue
		}
		connID := uuid.New()
		l.log.Debug("accepted connection", zap.String("conn_id", connID.String()), zap.Stringer("remote", conn.RemoteAddr()))
		go l.handleConn(conn, connID)
	}
}

func (l *Listener) handleConn(conn net.Conn, connID uuid.UUID) {
	sock, err := netio.New(conn)
	if err != nil {
		l.log.Debug("error setting up socket", zap.String("conn_id", connID.String()), zap.Error(err))
		_ = conn.Close()
		return
	}

	// Each connection claims its id up front, before the (up to 5s)
	// blocking handshake runs in this goroutine — concurrent handshakes
	// must never race for the same id, whether or not they succeed.
	id := l.nextID.Add(1)
	u := NewUser(sock, id)

	if err := l.negotiate(u); err != nil {
		l.log.Debug("handshake failed", zap.String("conn_id", connID.String()), zap.Error(err))
		return
	}

	l.log.Debug("sending new client through channel", zap.String("conn_id", connID.String()), zap.String("name", u.Name()))
	l.accept <- u
}

// negotiate blocks until the client's first message arrives (or the
// handshake deadline elapses). It must be Name(...); anything else logs
// the user out with an explanatory message and fails.
func (l *Listener) negotiate(u *User) error {
	msg, err := u.BlockingGet(handshakeTimeout)
	if err != nil {
		u.Logout("Error reading initial \"Name\" message: " + err.Error())
		return err
	}
	if msg.Kind != protocol.RcvName {
		const reason = "Protocol error: Initial message should be of type \"Name\"."
		u.Logout(reason)
		return errBadHandshake{}
	}
	u.SetName(msg.Str)
	return nil
}

type errBadHandshake struct{}

func (errBadHandshake) Error() string { return "bad initial message" }
