package rpc

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-msgpack/codec"
)

// ErrMalformed is returned for payloads that are not a valid message
var ErrMalformed = errors.New("malformed message")

var handle = &codec.MsgpackHandle{}

func init() {
	handle.RawToString = true
}

// Encode packs v as msgpack
func Encode(v any) ([]byte, error) {
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, handle).Encode(v); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf, nil
}

// MustEncode packs messages whose shape is fixed at compile time
func MustEncode(v any) []byte {
	b, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return b
}

func decode(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if err := codec.NewDecoderBytes(data, handle).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// DecodePeer unpacks a peer message. Unknown actions decode successfully and
// are left for the receiver to reject.
func DecodePeer(data []byte) (PeerMessage, error) {
	var msg PeerMessage
	if err := decode(data, &msg); err != nil {
		return PeerMessage{}, err
	}
	if msg.Action == "" {
		return PeerMessage{}, fmt.Errorf("%w: missing action", ErrMalformed)
	}
	return msg, nil
}

// DecodeClient unpacks a client message
func DecodeClient(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := decode(data, &msg); err != nil {
		return ClientMessage{}, err
	}
	if msg.Action == "" {
		return ClientMessage{}, fmt.Errorf("%w: missing action", ErrMalformed)
	}
	return msg, nil
}

// DecodeEnvelope unpacks a transport envelope
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := decode(data, &env)
	return env, err
}

// DecodeEnvelopeReply unpacks a transport envelope reply
func DecodeEnvelopeReply(data []byte) (EnvelopeReply, error) {
	var reply EnvelopeReply
	err := decode(data, &reply)
	return reply, err
}
