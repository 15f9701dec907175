package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRcvrRoundTrip(t *testing.T) {
	cases := []Rcvr{
		{Kind: RcvText, Who: "alice", Lines: []string{"hi", "there"}},
		{Kind: RcvPing},
		{Kind: RcvPriv, Who: "bob", Text: "psst"},
		{Kind: RcvLogout, Str: "Goodbye."},
		{Kind: RcvName, Str: "carol"},
		{Kind: RcvJoin, Str: "lounge"},
		{Kind: RcvQuery, QueryWhat: "who", QueryArg: "lounge"},
		{Kind: RcvBlock, Str: "dave"},
		{Kind: RcvUnblock, Str: "dave"},
		{Kind: RcvOpMsg, Op: RcvOp{Kind: OpOpen}},
		{Kind: RcvOpMsg, Op: RcvOp{Kind: OpClose}},
		{Kind: RcvOpMsg, Op: RcvOp{Kind: OpKick, Name: "eve"}},
		{Kind: RcvOpMsg, Op: RcvOp{Kind: OpInvite, Name: "eve"}},
		{Kind: RcvOpMsg, Op: RcvOp{Kind: OpGive, Name: "eve"}},
	}
	for _, in := range cases {
		data, err := in.MarshalJSON()
		require.NoError(t, err)

		var out Rcvr
		require.NoError(t, out.UnmarshalJSON(data))
		assert.Equal(t, in, out)
	}
}

func TestRcvrUnmarshalUnknownTag(t *testing.T) {
	var r Rcvr
	err := r.UnmarshalJSON([]byte(`{"Bogus":"x"}`))
	assert.Error(t, err)
}

func TestRcvrUnmarshalUnknownUnitVariant(t *testing.T) {
	var r Rcvr
	err := r.UnmarshalJSON([]byte(`"Bogus"`))
	assert.Error(t, err)
}

func TestCounts(t *testing.T) {
	counted := []RcvKind{RcvText, RcvPriv, RcvName, RcvJoin}
	notCounted := []RcvKind{RcvPing, RcvLogout, RcvQuery, RcvBlock, RcvUnblock, RcvOpMsg}
	for _, k := range counted {
		assert.True(t, (Rcvr{Kind: k}).Counts(), "kind %v should count", k)
	}
	for _, k := range notCounted {
		assert.False(t, (Rcvr{Kind: k}).Counts(), "kind %v should not count", k)
	}
}

func TestSndrEncodingShapes(t *testing.T) {
	assert.JSONEq(t, `"Ping"`, string(NewPing().Bytes()))
	assert.JSONEq(t, `{"Info":"hello"}`, string(NewInfo("hello").Bytes()))
	assert.JSONEq(t, `{"Err":"no"}`, string(NewErr("no").Bytes()))
	assert.JSONEq(t, `{"Logout":"bye"}`, string(NewLogout("bye").Bytes()))
	assert.JSONEq(t, `{"Text":{"who":"alice","lines":["hi"]}}`, string(NewText("alice", []string{"hi"}).Bytes()))
	assert.JSONEq(t, `{"Priv":{"who":"bob","text":"psst"}}`, string(NewPriv("bob", "psst").Bytes()))
	assert.JSONEq(t,
		`{"Misc":{"what":"join","data":["alice","Lobby"],"alt":"alice joins Lobby."}}`,
		string(NewMisc("join", []string{"alice", "Lobby"}, "alice joins Lobby.").Bytes()))
}

func TestEnvelopeCarriesPreEncodedBytes(t *testing.T) {
	env := NewEnvelope(ServerEnd(), RoomEnd(3), NewInfo("hi"))
	assert.Equal(t, End{Kind: EndServer}, env.Source)
	assert.Equal(t, End{Kind: EndRoom, ID: 3}, env.Dest)
	assert.JSONEq(t, `{"Info":"hi"}`, string(env.Bytes()))
}

func TestDecodeIncompleteWaitsForMoreBytes(t *testing.T) {
	_, status, consumed, err := Decode([]byte(`{"Name":"al`))
	assert.Equal(t, StatusIncomplete, status)
	assert.Equal(t, 0, consumed)
	assert.NoError(t, err)
}

func TestDecodeEmptyBufferIsIncomplete(t *testing.T) {
	_, status, _, err := Decode(nil)
	assert.Equal(t, StatusIncomplete, status)
	assert.NoError(t, err)

	_, status, _, err = Decode([]byte("   \n"))
	assert.Equal(t, StatusIncomplete, status)
	assert.NoError(t, err)
}

func TestDecodeOneCompleteMessage(t *testing.T) {
	msg, status, consumed, err := Decode([]byte(`{"Name":"alice"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)
	assert.Equal(t, RcvName, msg.Kind)
	assert.Equal(t, "alice", msg.Str)
	assert.Equal(t, len(`{"Name":"alice"}`), consumed)
}

func TestDecodeRecoversFromConcatenatedObjects(t *testing.T) {
	buf := []byte(`{"Name":"alice"}{"Name":"bob"}`)
	msg, status, consumed, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	assert.Equal(t, "alice", msg.Str)

	rest := buf[consumed:]
	msg2, status2, _, err2 := Decode(rest)
	require.NoError(t, err2)
	require.Equal(t, StatusOK, status2)
	assert.Equal(t, "bob", msg2.Str)
}

func TestDecodeFatalOnUnrecoverableGarbage(t *testing.T) {
	// A well-formed JSON value of the wrong shape (neither a tag string
	// nor a tagged object) fails with a type error rather than a
	// *json.SyntaxError, so there's no byte offset to recover from.
	_, status, _, err := Decode([]byte(`42`))
	assert.Equal(t, StatusFatal, status)
	assert.Error(t, err)
}
