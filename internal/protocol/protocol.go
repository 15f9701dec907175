// Package protocol defines the wire format exchanged between freshd
// clients and the server: a stream of self-delimiting JSON objects, one
// per logical message, with no length prefix or separator between them.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Rcvr is the set of messages a decoder can observe coming off the wire —
// client requests plus the handful of bidirectional kinds (Text, Ping,
// Priv, Logout). Only the fields commented with a given Kind are
// meaningful for it; the rest are zero.
type Rcvr struct {
	Kind RcvKind

	Lines []string // Text
	Who   string   // Text (echoed sender), Priv (recipient/sender)
	Text  string   // Priv
	Str   string   // Logout, Name, Join, Block, Unblock

	QueryWhat string // Query
	QueryArg  string // Query

	Op RcvOp // Op
}

// RcvKind tags the variant of a decoded Rcvr.
type RcvKind int

const (
	RcvText RcvKind = iota
	RcvPing
	RcvPriv
	RcvLogout
	RcvName
	RcvJoin
	RcvQuery
	RcvBlock
	RcvUnblock
	RcvOpMsg
)

// RcvOpKind tags an operator subcommand.
type RcvOpKind int

const (
	OpOpen RcvOpKind = iota
	OpClose
	OpKick
	OpInvite
	OpGive
)

// RcvOp is the decoded payload of an Op(...) request. Name is the
// argument for Kick/Invite/Give and is empty for Open/Close.
type RcvOp struct {
	Kind RcvOpKind
	Name string
}

// Counts reports whether r's decoded byte size is charged against the
// sender's flood-control quota.
func (r Rcvr) Counts() bool {
	switch r.Kind {
	case RcvText, RcvPriv, RcvName, RcvJoin:
		return true
	default:
		return false
	}
}

// ---------------------------------------------------------------------
// Rcvr wire encoding — externally tagged.
// ---------------------------------------------------------------------

type rcvrTextWire struct {
	Who   string   `json:"who"`
	Lines []string `json:"lines"`
}

type rcvrPrivWire struct {
	Who  string `json:"who"`
	Text string `json:"text"`
}

type rcvrQueryWire struct {
	What string `json:"what"`
	Arg  string `json:"arg"`
}

// UnmarshalJSON decodes one of the externally-tagged variants described
// in spec §4.1 / §6: a bare string for a unit variant ("Ping"), or a
// single-key object whose value is either a tuple-style array or a
// field-style object.
func (r *Rcvr) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		switch tag {
		case "Ping":
			*r = Rcvr{Kind: RcvPing}
			return nil
		}
		return fmt.Errorf("protocol: unknown unit variant %q", tag)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if len(obj) != 1 {
		return fmt.Errorf("protocol: expected exactly one tag, got %d", len(obj))
	}
	for tag, raw := range obj {
		switch tag {
		case "Text":
			var w rcvrTextWire
			if err := json.Unmarshal(raw, &w); err != nil {
				return err
			}
			*r = Rcvr{Kind: RcvText, Who: w.Who, Lines: w.Lines}
		case "Ping":
			*r = Rcvr{Kind: RcvPing}
		case "Priv":
			var w rcvrPrivWire
			if err := json.Unmarshal(raw, &w); err != nil {
				return err
			}
			*r = Rcvr{Kind: RcvPriv, Who: w.Who, Text: w.Text}
		case "Logout":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			*r = Rcvr{Kind: RcvLogout, Str: s}
		case "Name":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			*r = Rcvr{Kind: RcvName, Str: s}
		case "Join":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			*r = Rcvr{Kind: RcvJoin, Str: s}
		case "Query":
			var w rcvrQueryWire
			if err := json.Unmarshal(raw, &w); err != nil {
				return err
			}
			*r = Rcvr{Kind: RcvQuery, QueryWhat: w.What, QueryArg: w.Arg}
		case "Block":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			*r = Rcvr{Kind: RcvBlock, Str: s}
		case "Unblock":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			*r = Rcvr{Kind: RcvUnblock, Str: s}
		case "Op":
			op, err := decodeOp(raw)
			if err != nil {
				return err
			}
			*r = Rcvr{Kind: RcvOpMsg, Op: op}
		default:
			return fmt.Errorf("protocol: unknown message tag %q", tag)
		}
		return nil
	}
	return fmt.Errorf("protocol: unreachable")
}

func decodeOp(data []byte) (RcvOp, error) {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		switch tag {
		case "Open":
			return RcvOp{Kind: OpOpen}, nil
		case "Close":
			return RcvOp{Kind: OpClose}, nil
		}
		return RcvOp{}, fmt.Errorf("protocol: unknown Op unit variant %q", tag)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return RcvOp{}, err
	}
	if len(obj) != 1 {
		return RcvOp{}, fmt.Errorf("protocol: expected exactly one Op tag")
	}
	for tag, raw := range obj {
		var name string
		switch tag {
		case "Open":
			return RcvOp{Kind: OpOpen}, nil
		case "Close":
			return RcvOp{Kind: OpClose}, nil
		case "Kick":
			if err := json.Unmarshal(raw, &name); err != nil {
				return RcvOp{}, err
			}
			return RcvOp{Kind: OpKick, Name: name}, nil
		case "Invite":
			if err := json.Unmarshal(raw, &name); err != nil {
				return RcvOp{}, err
			}
			return RcvOp{Kind: OpInvite, Name: name}, nil
		case "Give":
			if err := json.Unmarshal(raw, &name); err != nil {
				return RcvOp{}, err
			}
			return RcvOp{Kind: OpGive, Name: name}, nil
		default:
			return RcvOp{}, fmt.Errorf("protocol: unknown Op tag %q", tag)
		}
	}
	return RcvOp{}, fmt.Errorf("protocol: unreachable")
}

// MarshalJSON re-encodes r in the same externally-tagged shape it was
// decoded from. Chiefly useful for tests and for a reference client that
// needs to send Rcvr-shaped requests.
func (r Rcvr) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case RcvText:
		return json.Marshal(map[string]rcvrTextWire{"Text": {Who: r.Who, Lines: r.Lines}})
	case RcvPing:
		return json.Marshal("Ping")
	case RcvPriv:
		return json.Marshal(map[string]rcvrPrivWire{"Priv": {Who: r.Who, Text: r.Text}})
	case RcvLogout:
		return json.Marshal(map[string]string{"Logout": r.Str})
	case RcvName:
		return json.Marshal(map[string]string{"Name": r.Str})
	case RcvJoin:
		return json.Marshal(map[string]string{"Join": r.Str})
	case RcvQuery:
		return json.Marshal(map[string]rcvrQueryWire{"Query": {What: r.QueryWhat, Arg: r.QueryArg}})
	case RcvBlock:
		return json.Marshal(map[string]string{"Block": r.Str})
	case RcvUnblock:
		return json.Marshal(map[string]string{"Unblock": r.Str})
	case RcvOpMsg:
		opBytes, err := marshalOp(r.Op)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]json.RawMessage{"Op": opBytes})
	default:
		return nil, fmt.Errorf("protocol: unknown Rcvr kind %d", r.Kind)
	}
}

func marshalOp(op RcvOp) ([]byte, error) {
	switch op.Kind {
	case OpOpen:
		return json.Marshal("Open")
	case OpClose:
		return json.Marshal("Close")
	case OpKick:
		return json.Marshal(map[string]string{"Kick": op.Name})
	case OpInvite:
		return json.Marshal(map[string]string{"Invite": op.Name})
	case OpGive:
		return json.Marshal(map[string]string{"Give": op.Name})
	default:
		return nil, fmt.Errorf("protocol: unknown RcvOp kind %d", op.Kind)
	}
}

// ---------------------------------------------------------------------
// Sndr — everything the server (or, bidirectionally, the client) can
// encode onto the wire.
// ---------------------------------------------------------------------

// Sndr is the outbound counterpart of Rcvr. Construct one with the New*
// helpers and call Bytes to get wire-ready JSON.
type Sndr struct {
	kind sndKind
	data any
}

type sndKind int

const (
	sndText sndKind = iota
	sndPing
	sndPriv
	sndLogout
	sndInfo
	sndErr
	sndMisc
)

type textPayload struct {
	Who   string   `json:"who"`
	Lines []string `json:"lines"`
}

type privPayload struct {
	Who  string `json:"who"`
	Text string `json:"text"`
}

type miscPayload struct {
	What string   `json:"what"`
	Data []string `json:"data"`
	Alt  string   `json:"alt"`
}

func NewText(who string, lines []string) Sndr { return Sndr{sndText, textPayload{who, lines}} }
func NewPing() Sndr                           { return Sndr{sndPing, nil} }
func NewPriv(who, text string) Sndr           { return Sndr{sndPriv, privPayload{who, text}} }
func NewLogout(reason string) Sndr            { return Sndr{sndLogout, reason} }
func NewInfo(msg string) Sndr                 { return Sndr{sndInfo, msg} }
func NewErr(msg string) Sndr                  { return Sndr{sndErr, msg} }
func NewMisc(what string, data []string, alt string) Sndr {
	return Sndr{sndMisc, miscPayload{what, data, alt}}
}

// MarshalJSON encodes s in the externally-tagged wire shape.
func (s Sndr) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case sndText:
		return json.Marshal(map[string]any{"Text": s.data})
	case sndPing:
		return json.Marshal("Ping")
	case sndPriv:
		return json.Marshal(map[string]any{"Priv": s.data})
	case sndLogout:
		return json.Marshal(map[string]any{"Logout": s.data})
	case sndInfo:
		return json.Marshal(map[string]any{"Info": s.data})
	case sndErr:
		return json.Marshal(map[string]any{"Err": s.data})
	case sndMisc:
		return json.Marshal(map[string]any{"Misc": s.data})
	default:
		return nil, fmt.Errorf("protocol: unknown Sndr kind %d", s.kind)
	}
}

// Bytes returns the JSON encoding of s. Encoding errors can't happen for
// well-formed Sndr values produced by the New* constructors, so the
// error is discarded at this call site.
func (s Sndr) Bytes() []byte {
	b, _ := json.Marshal(s)
	return b
}

// ---------------------------------------------------------------------
// Endpoint / Envelope — the pre-encoded, addressed outbound message
// described in spec §3 ("Envelope").
// ---------------------------------------------------------------------

// EndKind distinguishes the four Endpoint shapes.
type EndKind int

const (
	EndUser EndKind = iota
	EndRoom
	EndServer
	EndAll
)

// End is a message endpoint: a specific user, a specific room, the
// server itself, or the broadcast-to-everyone sentinel.
type End struct {
	Kind EndKind
	ID   uint64
}

func UserEnd(id uint64) End { return End{Kind: EndUser, ID: id} }
func RoomEnd(id uint64) End { return End{Kind: EndRoom, ID: id} }
func ServerEnd() End        { return End{Kind: EndServer} }
func AllEnd() End           { return End{Kind: EndAll} }

// Envelope is a prepared outbound message: its bytes are already
// encoded so routing never has to re-marshal or inspect payload
// contents.
type Envelope struct {
	Source End
	Dest   End
	data   []byte
}

// NewEnvelope encodes msg once and pairs it with its source/destination.
func NewEnvelope(from, to End, msg Sndr) Envelope {
	return Envelope{Source: from, Dest: to, data: msg.Bytes()}
}

// Bytes returns the pre-encoded payload of e.
func (e Envelope) Bytes() []byte { return e.data }

// ---------------------------------------------------------------------
// Decoder — frames a byte stream into Rcvr values, §4.1's
// incomplete/malformed/fatal taxonomy.
// ---------------------------------------------------------------------

// DecodeStatus classifies the outcome of a single decode attempt.
type DecodeStatus int

const (
	// StatusOK: a complete message was decoded; consumed bytes should be
	// removed from the front of the buffer.
	StatusOK DecodeStatus = iota
	// StatusIncomplete: no complete object is buffered yet; the caller
	// should read more bytes and retry. The buffer is untouched.
	StatusIncomplete
	// StatusFatal: the buffer could not be recovered (e.g. the error
	// offset fell beyond the buffered bytes — a buffer overrun).
	StatusFatal
)

// Decode attempts to consume exactly one complete message from the
// front of buf. It returns the decoded message (when status is
// StatusOK), the status, the number of leading bytes consumed from buf
// (0 unless StatusOK), and an error describing a StatusFatal outcome.
//
// A syntax error partway through buf is recovered per spec §4.1: the
// byte offset reported by the JSON decoder points just past the first
// byte that cannot continue the first complete object (typically the
// start of the next concatenated object), so the boundary lies one byte
// before it. The prefix up to that boundary is re-parsed on its own;
// what's left becomes the new buffer.
func Decode(buf []byte) (msg Rcvr, status DecodeStatus, consumed int, err error) {
	if len(bytes.TrimSpace(buf)) == 0 {
		return Rcvr{}, StatusIncomplete, 0, nil
	}

	decodeErr := json.Unmarshal(buf, &msg)
	if decodeErr == nil {
		return msg, StatusOK, len(buf), nil
	}

	if decodeErr == io.ErrUnexpectedEOF || strings.Contains(decodeErr.Error(), "unexpected end of JSON input") {
		return Rcvr{}, StatusIncomplete, 0, nil
	}

	syn, ok := decodeErr.(*json.SyntaxError)
	if !ok {
		return Rcvr{}, StatusFatal, 0, decodeErr
	}

	// Offset counts the offending byte itself, so the first object ends
	// one byte before it.
	offset := int(syn.Offset) - 1
	if offset <= 0 {
		return Rcvr{}, StatusIncomplete, 0, nil
	}
	if offset > len(buf) {
		return Rcvr{}, StatusFatal, 0, fmt.Errorf("protocol: buffer overrun recovering framing error: %w", decodeErr)
	}

	prefix := buf[:offset]
	if decodeErr2 := json.Unmarshal(prefix, &msg); decodeErr2 != nil {
		// The reported offset didn't land on an object boundary after
		// all (e.g. still mid-object); ask the caller for more bytes.
		return Rcvr{}, StatusIncomplete, 0, nil
	}
	return msg, StatusOK, offset, nil
}
