// Package netio provides a non-blocking framed socket wrapper used by
// the dispatcher's per-tick read/write loop.
package netio

import (
	"errors"
	"fmt"
	"net"
	"time"

	"freshd/internal/protocol"
)

const defaultReadBufferSize = 1024

// ErrorKind classifies the operation that failed inside Socket.
type ErrorKind int

const (
	ErrSetNoDelay ErrorKind = iota
	ErrShutdown
	ErrRead
	ErrSyntax
	ErrWrite
	ErrFlush
	ErrRemoteAddr
)

func (k ErrorKind) String() string {
	switch k {
	case ErrSetNoDelay:
		return "unable to set no-delay on underlying socket"
	case ErrShutdown:
		return "error shutting down underlying socket"
	case ErrRead:
		return "error reading from the underlying socket"
	case ErrSyntax:
		return "syntax error in data from underlying socket"
	case ErrWrite:
		return "error writing to the underlying socket"
	case ErrFlush:
		return "error flushing the underlying socket"
	case ErrRemoteAddr:
		return "error retrieving the remote address"
	default:
		return "unknown socket error"
	}
}

// Error wraps an underlying I/O failure with the stage it happened at.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("socket: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func wrap(kind ErrorKind, err error) *Error { return &Error{Kind: kind, Err: err} }

// Socket wraps a net.Conn with a read buffer, a framing decoder, and a
// send buffer, exposing a non-blocking, tick-driven I/O surface. Go has
// no portable equivalent of set_nonblocking on a net.Conn, so reads use
// a near-zero deadline per attempt and treat a timeout as "would block".
type Socket struct {
	conn    net.Conn
	readBuf []byte
	current []byte
	sendBuf []byte
}

// New wraps conn, applying TCP_NODELAY when the connection is a
// *net.TCPConn (matching the original's stream.set_nodelay(true)).
func New(conn net.Conn) (*Socket, error) {
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			return nil, wrap(ErrSetNoDelay, err)
		}
	}
	return &Socket{
		conn:    conn,
		readBuf: make([]byte, defaultReadBufferSize),
		current: make([]byte, 0, defaultReadBufferSize),
		sendBuf: make([]byte, 0),
	}, nil
}

// Shutdown closes the underlying connection.
func (s *Socket) Shutdown() error {
	if err := s.conn.Close(); err != nil {
		return wrap(ErrShutdown, err)
	}
	return nil
}

// SetReadBufferSize resizes the scratch buffer used for a single Read
// syscall.
func (s *Socket) SetReadBufferSize(n int) {
	s.readBuf = make([]byte, n)
}

// ReadBufferSize returns the size of the scratch read buffer.
func (s *Socket) ReadBufferSize() int { return len(s.readBuf) }

// ReadData attempts one non-blocking read from the underlying
// connection into the internal accumulation buffer. It returns the
// number of bytes read (0 when nothing was available).
func (s *Socket) ReadData() (int, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return 0, wrap(ErrRead, err)
	}
	n, err := s.conn.Read(s.readBuf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return 0, nil
		}
		return 0, wrap(ErrRead, err)
	}
	if n > 0 {
		s.current = append(s.current, s.readBuf[:n]...)
	}
	return n, nil
}

// TryGet attempts to decode exactly one complete message out of the
// accumulated receive buffer. ok is false when no complete message is
// buffered yet; err is non-nil only for an unrecoverable framing
// failure (the caller should Shutdown the socket in that case).
func (s *Socket) TryGet() (msg protocol.Rcvr, ok bool, err error) {
	m, status, consumed, decodeErr := protocol.Decode(s.current)
	switch status {
	case protocol.StatusOK:
		s.current = s.current[consumed:]
		return m, true, nil
	case protocol.StatusIncomplete:
		return protocol.Rcvr{}, false, nil
	default:
		return protocol.Rcvr{}, false, wrap(ErrSyntax, decodeErr)
	}
}

// Enqueue appends data to the send buffer.
func (s *Socket) Enqueue(data []byte) {
	s.sendBuf = append(s.sendBuf, data...)
}

// SendData attempts to flush the send buffer to the remote endpoint. It
// returns the number of bytes remaining in the send buffer; 0 means the
// buffer fully drained. A non-nil error means the socket should be
// shut down.
func (s *Socket) SendData() (int, error) {
	if len(s.sendBuf) == 0 {
		return 0, nil
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return len(s.sendBuf), wrap(ErrWrite, err)
	}
	n, err := s.conn.Write(s.sendBuf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			s.sendBuf = s.sendBuf[n:]
			return len(s.sendBuf), nil
		}
		return len(s.sendBuf), wrap(ErrWrite, err)
	}
	s.sendBuf = s.sendBuf[n:]
	return len(s.sendBuf), nil
}

// BlockingSend enqueues data and drains the send buffer synchronously,
// sleeping tick between attempts. Intended only for the handshake
// path, before the connection is handed to the dispatcher's tick loop.
func (s *Socket) BlockingSend(data []byte, tick time.Duration) error {
	s.Enqueue(data)
	for {
		remaining, err := s.SendData()
		if err != nil {
			return err
		}
		if remaining == 0 {
			return nil
		}
		time.Sleep(tick)
	}
}

// BlockingGet blocks, polling at the given tick interval, until a
// complete message arrives or the deadline elapses.
func (s *Socket) BlockingGet(timeout, tick time.Duration) (protocol.Rcvr, error) {
	deadline := time.Now().Add(timeout)
	for {
		if msg, ok, err := s.TryGet(); err != nil {
			return protocol.Rcvr{}, err
		} else if ok {
			return msg, nil
		}
		if time.Now().After(deadline) {
			return protocol.Rcvr{}, fmt.Errorf("socket: timed out waiting for a message")
		}
		if _, err := s.ReadData(); err != nil {
			return protocol.Rcvr{}, err
		}
		time.Sleep(tick)
	}
}

// SendBuffSize returns how many bytes are currently queued to send.
func (s *Socket) SendBuffSize() int { return len(s.sendBuf) }

// RecvBuffSize returns how many undecoded bytes are currently buffered.
func (s *Socket) RecvBuffSize() int { return len(s.current) }

// Addr returns the remote address of the underlying connection.
func (s *Socket) Addr() (string, error) {
	addr := s.conn.RemoteAddr()
	if addr == nil {
		return "", wrap(ErrRemoteAddr, fmt.Errorf("connection has no remote address"))
	}
	return addr.String(), nil
}
