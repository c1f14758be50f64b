package wire

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes protocol frames. The format is negotiated once per
// session via the auth frame; the auth frame itself is always JSON.
type Codec interface {
	// Encode serializes a frame to bytes.
	Encode(frame *Frame) ([]byte, error)

	// Decode deserializes bytes into a frame.
	Decode(data []byte) (*Frame, error)

	// Name returns the negotiable format name.
	Name() string
}

// Negotiable format names.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// JSON is the default frame codec.
var JSON Codec = jsonCodec{}

// Msgpack is the binary frame codec, negotiated by clients that set
// format "msgpack" in the auth frame.
var Msgpack Codec = msgpackCodec{}

// CodecByName resolves a negotiated format name. Unknown names fall
// back to JSON so an old server never rejects a newer client outright.
func CodecByName(name string) Codec {
	if name == CodecNameMsgpack {
		return Msgpack
	}
	return JSON
}

type jsonCodec struct{}

func (jsonCodec) Encode(frame *Frame) ([]byte, error) { return json.Marshal(frame) }

func (jsonCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (jsonCodec) Name() string { return CodecNameJSON }

type msgpackCodec struct{}

func (msgpackCodec) Encode(frame *Frame) ([]byte, error) { return msgpack.Marshal(frame) }

func (msgpackCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (msgpackCodec) Name() string { return CodecNameMsgpack }
