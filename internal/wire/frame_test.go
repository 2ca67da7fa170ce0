package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_SingleMessage(t *testing.T) {
	frame := EncodeStep1([]byte{0xAA, 0xBB})

	msgs, err := Decode(frame)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, Step1, msgs[0].Subtype)
	require.Equal(t, []byte{0xAA, 0xBB}, msgs[0].Payload)
}

func TestEncodeDecode_ConcatenatedMessages(t *testing.T) {
	frame := Concat(
		EncodeStep2([]byte("delta-a")),
		EncodeStep1([]byte("sv-b")),
	)

	msgs, err := Decode(frame)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, Step2, msgs[0].Subtype)
	require.Equal(t, []byte("delta-a"), msgs[0].Payload)
	require.Equal(t, Step1, msgs[1].Subtype)
	require.Equal(t, []byte("sv-b"), msgs[1].Payload)
}

func TestEncodeDecode_EmptyPayload(t *testing.T) {
	frame := EncodeUpdate(nil)
	msgs, err := Decode(frame)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, Update, msgs[0].Subtype)
	require.Empty(t, msgs[0].Payload)
}

func TestDecode_TruncatedFrame(t *testing.T) {
	frame := EncodeStep1([]byte("hello"))
	_, err := Decode(frame[:len(frame)-2])
	require.Error(t, err)
}

func TestDecode_UnknownSubtype(t *testing.T) {
	frame := EncodeStep1([]byte("x"))
	frame[1] = 0xFF
	_, err := Decode(frame)
	require.Error(t, err)
}

func TestDecode_EmptyFrame(t *testing.T) {
	msgs, err := Decode(nil)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestBodyMultiplex_RoundTrip(t *testing.T) {
	inner := EncodeStep2([]byte("body-delta"))
	wrapped := WrapBody("notes/daily/2026-07-30.md", inner)

	path, rest, err := UnwrapBody(wrapped)
	require.NoError(t, err)
	require.Equal(t, "notes/daily/2026-07-30.md", path)

	msgs, err := Decode(rest)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, Step2, msgs[0].Subtype)
	require.Equal(t, []byte("body-delta"), msgs[0].Payload)
}

func TestBodyMultiplex_TruncatedPath(t *testing.T) {
	wrapped := WrapBody("a/b.md", EncodeUpdate([]byte("x")))
	_, _, err := UnwrapBody(wrapped[:2])
	require.Error(t, err)
}
