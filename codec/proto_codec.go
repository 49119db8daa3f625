package codec

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"nanorpc/message"
)

const (
	fieldMessageID     protowire.Number = 1
	fieldMessageCall   protowire.Number = 2
	fieldMessageResult protowire.Number = 3

	fieldCallService       protowire.Number = 1
	fieldCallMethod        protowire.Number = 2
	fieldCallObjectID      protowire.Number = 3
	fieldCallParameters    protowire.Number = 4
	fieldCallExpectsResult protowire.Number = 5

	fieldResultStatus       protowire.Number = 1
	fieldResultErrorMessage protowire.Number = 2
	fieldResultCallResult   protowire.Number = 3

	fieldParamBool     protowire.Number = 1
	fieldParamInt32    protowire.Number = 2
	fieldParamInt64    protowire.Number = 3
	fieldParamUint32   protowire.Number = 4
	fieldParamDouble   protowire.Number = 5
	fieldParamString   protowire.Number = 6
	fieldParamProto    protowire.Number = 7
	fieldParamObjectID protowire.Number = 8
	fieldParamNull     protowire.Number = 9
)

type protoCodec struct{}

func (protoCodec) Name() string { return "proto" }

func (protoCodec) Encode(m *message.Message) ([]byte, error) {
	if m == nil {
		return nil, ErrNilMessage
	}
	return appendMessage(nil, m), nil
}

func (protoCodec) Decode(data []byte) (*message.Message, error) {
	return decodeMessage(data)
}

func appendMessage(b []byte, m *message.Message) []byte {
	if m.HasID {
		b = appendVarint(b, fieldMessageID, uint64(m.ID))
	}
	if m.Call != nil {
		b = appendBytes(b, fieldMessageCall, appendCall(nil, m.Call))
	}
	if m.Result != nil {
		b = appendBytes(b, fieldMessageResult, appendResult(nil, m.Result))
	}
	return b
}

func appendCall(b []byte, c *message.Call) []byte {
	if c.Service != "" {
		b = appendString(b, fieldCallService, c.Service)
	}
	if c.Method != "" {
		b = appendString(b, fieldCallMethod, c.Method)
	}
	if c.ObjectID != 0 {
		b = appendVarint(b, fieldCallObjectID, uint64(c.ObjectID))
	}
	for _, p := range c.Parameters {
		b = appendBytes(b, fieldCallParameters, appendParameter(nil, p))
	}
	if c.ExpectsResult {
		b = appendVarint(b, fieldCallExpectsResult, 1)
	}
	return b
}

func appendResult(b []byte, r *message.Result) []byte {
	// status is written even when zero so an empty result is still recognisable
	b = appendVarint(b, fieldResultStatus, uint64(int64(r.Status)))
	if r.ErrorMessage != "" {
		b = appendString(b, fieldResultErrorMessage, r.ErrorMessage)
	}
	if r.CallResult != nil {
		b = appendBytes(b, fieldResultCallResult, appendParameter(nil, *r.CallResult))
	}
	return b
}

func appendParameter(b []byte, p message.Parameter) []byte {
	switch p.Kind() {
	case message.KindBool:
		v, _ := p.BoolValue()
		b = appendVarint(b, fieldParamBool, protowire.EncodeBool(v))
	case message.KindInt32:
		v, _ := p.Int32Value()
		b = appendVarint(b, fieldParamInt32, uint64(int64(v)))
	case message.KindInt64:
		v, _ := p.Int64Value()
		b = appendVarint(b, fieldParamInt64, uint64(v))
	case message.KindUint32:
		v, _ := p.Uint32Value()
		b = appendVarint(b, fieldParamUint32, uint64(v))
	case message.KindDouble:
		v, _ := p.DoubleValue()
		b = protowire.AppendTag(b, fieldParamDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	case message.KindString:
		v, _ := p.StringValue()
		b = appendString(b, fieldParamString, v)
	case message.KindProto:
		v, _ := p.BytesValue()
		b = appendBytes(b, fieldParamProto, v)
	case message.KindObjectID:
		v, _ := p.ObjectIDValue()
		b = appendVarint(b, fieldParamObjectID, uint64(v))
	case message.KindNull:
		b = appendVarint(b, fieldParamNull, 1)
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// fieldReader walks the fields of one encoded message. The first error sticks.
type fieldReader struct {
	b   []byte
	err error
}

func (r *fieldReader) next() (protowire.Number, protowire.Type, bool) {
	if r.err != nil || len(r.b) == 0 {
		return 0, 0, false
	}
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		r.fail(n)
		return 0, 0, false
	}
	r.b = r.b[n:]
	return num, typ, true
}

func (r *fieldReader) varint() uint64 {
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		r.fail(n)
		return 0
	}
	r.b = r.b[n:]
	return v
}

// uint32 reads a varint that must fit in 32 bits; what names the field in the error.
func (r *fieldReader) uint32(what string) uint32 {
	v := r.varint()
	if v > math.MaxUint32 && r.err == nil {
		r.err = fmt.Errorf("%w: %s %d overflows uint32", ErrMalformed, what, v)
	}
	return uint32(v)
}

func (r *fieldReader) fixed64() uint64 {
	v, n := protowire.ConsumeFixed64(r.b)
	if n < 0 {
		r.fail(n)
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *fieldReader) bytes() []byte {
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		r.fail(n)
		return nil
	}
	r.b = r.b[n:]
	return v
}

func (r *fieldReader) skip(num protowire.Number, typ protowire.Type) {
	n := protowire.ConsumeFieldValue(num, typ, r.b)
	if n < 0 {
		r.fail(n)
		return
	}
	r.b = r.b[n:]
}

func (r *fieldReader) fail(n int) {
	r.err = fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
}

func decodeMessage(data []byte) (*message.Message, error) {
	m := &message.Message{}
	r := fieldReader{b: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch {
		case num == fieldMessageID && typ == protowire.VarintType:
			m.SetID(r.uint32("id"))
		case num == fieldMessageCall && typ == protowire.BytesType:
			c, err := decodeCall(r.bytes())
			if err != nil {
				return nil, err
			}
			m.Call = c
		case num == fieldMessageResult && typ == protowire.BytesType:
			res, err := decodeResult(r.bytes())
			if err != nil {
				return nil, err
			}
			m.Result = res
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

func decodeCall(data []byte) (*message.Call, error) {
	c := &message.Call{}
	r := fieldReader{b: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch {
		case num == fieldCallService && typ == protowire.BytesType:
			c.Service = string(r.bytes())
		case num == fieldCallMethod && typ == protowire.BytesType:
			c.Method = string(r.bytes())
		case num == fieldCallObjectID && typ == protowire.VarintType:
			c.ObjectID = r.uint32("object id")
		case num == fieldCallParameters && typ == protowire.BytesType:
			p, err := decodeParameter(r.bytes())
			if err != nil {
				return nil, err
			}
			c.Parameters = append(c.Parameters, p)
		case num == fieldCallExpectsResult && typ == protowire.VarintType:
			c.ExpectsResult = protowire.DecodeBool(r.varint())
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

func decodeResult(data []byte) (*message.Result, error) {
	res := &message.Result{}
	r := fieldReader{b: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch {
		case num == fieldResultStatus && typ == protowire.VarintType:
			res.Status = message.Status(int32(r.varint()))
		case num == fieldResultErrorMessage && typ == protowire.BytesType:
			res.ErrorMessage = string(r.bytes())
		case num == fieldResultCallResult && typ == protowire.BytesType:
			p, err := decodeParameter(r.bytes())
			if err != nil {
				return nil, err
			}
			res.CallResult = &p
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return res, nil
}

// decodeParameter follows oneof semantics: the last variant on the wire wins.
func decodeParameter(data []byte) (message.Parameter, error) {
	var p message.Parameter
	r := fieldReader{b: data}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch {
		case num == fieldParamBool && typ == protowire.VarintType:
			p = message.Bool(protowire.DecodeBool(r.varint()))
		case num == fieldParamInt32 && typ == protowire.VarintType:
			p = message.Int32(int32(r.varint()))
		case num == fieldParamInt64 && typ == protowire.VarintType:
			p = message.Int64(int64(r.varint()))
		case num == fieldParamUint32 && typ == protowire.VarintType:
			p = message.Uint32(r.uint32("uint32 parameter"))
		case num == fieldParamDouble && typ == protowire.Fixed64Type:
			p = message.Double(math.Float64frombits(r.fixed64()))
		case num == fieldParamString && typ == protowire.BytesType:
			p = message.String(string(r.bytes()))
		case num == fieldParamProto && typ == protowire.BytesType:
			// the read buffer is reused by the channel, so keep a private copy
			p = message.Bytes(append([]byte(nil), r.bytes()...))
		case num == fieldParamObjectID && typ == protowire.VarintType:
			p = message.ObjectID(r.uint32("object id parameter"))
		case num == fieldParamNull && typ == protowire.VarintType:
			r.varint()
			p = message.Null()
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return message.Parameter{}, r.err
	}
	return p, nil
}
