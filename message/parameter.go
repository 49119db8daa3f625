package message

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/proto"
)

// ErrParameterTypeMismatch is returned when a Parameter is read as a variant it does not hold.
// The wire format distinguishes "absent" from "zero", so there is no default value.
var ErrParameterTypeMismatch = errors.New("parameter type mismatch")

// Kind identifies which variant of a Parameter is set.
type Kind uint8

const (
	KindUnset Kind = iota
	KindBool
	KindInt32
	KindInt64
	KindUint32
	KindDouble
	KindString
	KindProto
	KindObjectID
	KindNull
)

func (k Kind) String() string {
	switch k {
	case KindUnset:
		return "unset"
	case KindBool:
		return "bool"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindUint32:
		return "uint32"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindProto:
		return "proto"
	case KindObjectID:
		return "object_id"
	case KindNull:
		return "null"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Parameter is a tagged union: exactly one variant is set. The zero value is unset.
type Parameter struct {
	kind Kind
	num  uint64 // bool, int32, int64, uint32, object id, double bits
	str  string
	raw  []byte
}

func Bool(v bool) Parameter {
	p := Parameter{kind: KindBool}
	if v {
		p.num = 1
	}
	return p
}

func Int32(v int32) Parameter     { return Parameter{kind: KindInt32, num: uint64(int64(v))} }
func Int64(v int64) Parameter     { return Parameter{kind: KindInt64, num: uint64(v)} }
func Uint32(v uint32) Parameter   { return Parameter{kind: KindUint32, num: uint64(v)} }
func Double(v float64) Parameter  { return Parameter{kind: KindDouble, num: math.Float64bits(v)} }
func String(v string) Parameter   { return Parameter{kind: KindString, str: v} }
func ObjectID(v uint32) Parameter { return Parameter{kind: KindObjectID, num: uint64(v)} }
func Null() Parameter             { return Parameter{kind: KindNull} }

// Bytes wraps an already serialized nested message.
func Bytes(b []byte) Parameter {
	if b == nil {
		b = []byte{}
	}
	return Parameter{kind: KindProto, raw: b}
}

// Proto serializes m as a nested-message parameter.
func Proto(m proto.Message) (Parameter, error) {
	b, err := proto.Marshal(m)
	if err != nil {
		return Parameter{}, fmt.Errorf("marshal nested message: %w", err)
	}
	return Bytes(b), nil
}

// Ptr returns a pointer to a copy of p, handy for Result.CallResult.
func (p Parameter) Ptr() *Parameter { return &p }

// Kind returns the variant held by p.
func (p Parameter) Kind() Kind { return p.kind }

// IsSet reports whether any variant is set.
func (p Parameter) IsSet() bool { return p.kind != KindUnset }

func (p Parameter) mismatch(want Kind) error {
	return fmt.Errorf("%w: want %s, have %s", ErrParameterTypeMismatch, want, p.kind)
}

func (p Parameter) BoolValue() (bool, error) {
	if p.kind != KindBool {
		return false, p.mismatch(KindBool)
	}
	return p.num != 0, nil
}

func (p Parameter) Int32Value() (int32, error) {
	if p.kind != KindInt32 {
		return 0, p.mismatch(KindInt32)
	}
	return int32(int64(p.num)), nil
}

func (p Parameter) Int64Value() (int64, error) {
	if p.kind != KindInt64 {
		return 0, p.mismatch(KindInt64)
	}
	return int64(p.num), nil
}

func (p Parameter) Uint32Value() (uint32, error) {
	if p.kind != KindUint32 {
		return 0, p.mismatch(KindUint32)
	}
	return uint32(p.num), nil
}

func (p Parameter) DoubleValue() (float64, error) {
	if p.kind != KindDouble {
		return 0, p.mismatch(KindDouble)
	}
	return math.Float64frombits(p.num), nil
}

func (p Parameter) StringValue() (string, error) {
	if p.kind != KindString {
		return "", p.mismatch(KindString)
	}
	return p.str, nil
}

func (p Parameter) ObjectIDValue() (uint32, error) {
	if p.kind != KindObjectID {
		return 0, p.mismatch(KindObjectID)
	}
	return uint32(p.num), nil
}

// BytesValue returns the serialized nested message.
func (p Parameter) BytesValue() ([]byte, error) {
	if p.kind != KindProto {
		return nil, p.mismatch(KindProto)
	}
	return p.raw, nil
}

// Unmarshal decodes the nested message into m.
func (p Parameter) Unmarshal(m proto.Message) error {
	b, err := p.BytesValue()
	if err != nil {
		return err
	}
	if err := proto.Unmarshal(b, m); err != nil {
		return fmt.Errorf("unmarshal nested message: %w", err)
	}
	return nil
}

// IsNull reports whether the null marker is set.
func (p Parameter) IsNull() bool { return p.kind == KindNull }

// Format renders the parameter for logs.
func (p Parameter) Format(f fmt.State, verb rune) {
	switch p.kind {
	case KindBool:
		fmt.Fprintf(f, "bool(%t)", p.num != 0)
	case KindInt32:
		fmt.Fprintf(f, "int32(%d)", int32(int64(p.num)))
	case KindInt64:
		fmt.Fprintf(f, "int64(%d)", int64(p.num))
	case KindUint32:
		fmt.Fprintf(f, "uint32(%d)", uint32(p.num))
	case KindDouble:
		fmt.Fprintf(f, "double(%g)", math.Float64frombits(p.num))
	case KindString:
		fmt.Fprintf(f, "string(%q)", p.str)
	case KindProto:
		fmt.Fprintf(f, "proto(%d bytes)", len(p.raw))
	case KindObjectID:
		fmt.Fprintf(f, "object(%d)", uint32(p.num))
	case KindNull:
		fmt.Fprint(f, "null")
	default:
		fmt.Fprint(f, "unset")
	}
}
