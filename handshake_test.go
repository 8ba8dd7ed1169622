package dbusclient

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandshakeSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		frame, err := DecodeFrame(server)
		require.NoError(t, err)
		req, err := decodeFrameAsServer(frame)
		require.NoError(t, err)
		require.Equal(t, "Hello", req.Member)

		reply, err := NewMethodReturn(req.Serial, WithBody([]DType{TString}, []Value{mustString(t, ":1.42")}))
		require.NoError(t, err)
		reply.Sender = busName

		replyFrame, err := MessageToFrame(&reply, LittleEndian)
		require.NoError(t, err)
		raw, err := EncodeFrame(replyFrame)
		require.NoError(t, err)
		_, err = server.Write(raw)
		require.NoError(t, err)
	}()

	var serial uint32
	next := func() uint32 { serial++; return serial }

	name, err := Handshake(client, client, LittleEndian, next)
	require.NoError(t, err)
	require.Equal(t, ":1.42", name)
}

func TestHandshakeSurfacesRemoteError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		frame, err := DecodeFrame(server)
		require.NoError(t, err)
		req, err := decodeFrameAsServer(frame)
		require.NoError(t, err)

		reply, err := NewErrorMessage("org.freedesktop.DBus.Error.AccessDenied", req.Serial)
		require.NoError(t, err)
		reply.Sender = busName

		replyFrame, err := MessageToFrame(&reply, LittleEndian)
		require.NoError(t, err)
		raw, err := EncodeFrame(replyFrame)
		require.NoError(t, err)
		_, err = server.Write(raw)
		require.NoError(t, err)
	}()

	var serial uint32
	next := func() uint32 { serial++; return serial }

	_, err := Handshake(client, client, LittleEndian, next)
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, CodeAuthRejected, derr.Code)
}

// decodeFrameAsServer decodes a client's outbound frame as the
// server would see it: FrameToMessage requires Sender (it assumes an
// inbound message from the bus), so stamp a placeholder before
// validating, mirroring what a real daemon does on receipt.
func decodeFrameAsServer(f *Frame) (*Message, error) {
	if f.HeaderFields == nil {
		f.HeaderFields = map[HeaderFieldCode]Value{}
	}
	if _, ok := f.HeaderFields[FieldSender]; !ok {
		v, err := NewString(":1.999")
		if err != nil {
			return nil, err
		}
		f.HeaderFields[FieldSender] = v
	}
	return FrameToMessage(f)
}
