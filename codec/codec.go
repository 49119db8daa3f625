// Package codec serializes messages into frame payloads.
//
// The encoding is the protobuf wire format of the NanoRpc schema, written by hand with
// protowire so that no generated code is needed:
//
//	Message   1:id varint        2:call bytes       3:result bytes
//	Call      1:service string   2:method string    3:object_id varint
//	          4:parameters bytes (repeated)         5:expects_result varint
//	Result    1:status varint    2:error_message    3:call_result bytes
//	Parameter one of 1:bool 2:int32 3:int64 4:uint32 5:double 6:string
//	          7:proto bytes 8:object_id 9:null
//
// Fields are emitted in field-number order and defaults are omitted (status is always
// written), so re-encoding a decoded payload yields the same bytes.
package codec

import (
	"errors"

	"nanorpc/message"
)

var (
	// ErrMalformed wraps every decode failure: truncated input, bad tags, overflowing varints.
	ErrMalformed = errors.New("codec: malformed message")
	// ErrNilMessage is returned when encoding a nil message.
	ErrNilMessage = errors.New("codec: nil message")
)

// Codec converts messages to and from frame payloads.
type Codec interface {
	Encode(m *message.Message) ([]byte, error)
	Decode(data []byte) (*message.Message, error)
	Name() string
}

// Proto is the protobuf wire codec used on every channel unless overridden.
var Proto Codec = protoCodec{}

// Marshal encodes m with the Proto codec.
func Marshal(m *message.Message) ([]byte, error) { return Proto.Encode(m) }

// Unmarshal decodes data with the Proto codec.
func Unmarshal(data []byte) (*message.Message, error) { return Proto.Decode(data) }
