package message

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestParameterVariants(t *testing.T) {
	v32, err := Int32(-7).Int32Value()
	require.NoError(t, err)
	assert.Equal(t, int32(-7), v32)

	v64, err := Int64(-1 << 40).Int64Value()
	require.NoError(t, err)
	assert.Equal(t, int64(-1<<40), v64)

	u32, err := Uint32(42).Uint32Value()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), u32)

	d, err := Double(2.5).DoubleValue()
	require.NoError(t, err)
	assert.Equal(t, 2.5, d)

	b, err := Bool(true).BoolValue()
	require.NoError(t, err)
	assert.True(t, b)

	s, err := String("hello").StringValue()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	id, err := ObjectID(9).ObjectIDValue()
	require.NoError(t, err)
	assert.Equal(t, uint32(9), id)

	assert.True(t, Null().IsNull())
	assert.False(t, Parameter{}.IsSet())
}

// Reading an unset or different variant is an error, never a zero default.
func TestParameterMismatch(t *testing.T) {
	_, err := Parameter{}.Int32Value()
	require.ErrorIs(t, err, ErrParameterTypeMismatch)

	_, err = Int64(1).Int32Value()
	require.ErrorIs(t, err, ErrParameterTypeMismatch)

	_, err = Uint32(1).ObjectIDValue()
	require.ErrorIs(t, err, ErrParameterTypeMismatch)

	_, err = Bool(false).StringValue()
	require.ErrorIs(t, err, ErrParameterTypeMismatch)
}

func TestParameterProto(t *testing.T) {
	p, err := Proto(wrapperspb.String("nested"))
	require.NoError(t, err)
	assert.Equal(t, KindProto, p.Kind())

	var out wrapperspb.StringValue
	require.NoError(t, p.Unmarshal(&out))
	assert.Equal(t, "nested", out.GetValue())

	require.ErrorIs(t, Int32(1).Unmarshal(&out), ErrParameterTypeMismatch)
}

func TestParameterFormat(t *testing.T) {
	assert.Equal(t, "int32(42)", fmt.Sprint(Int32(42)))
	assert.Equal(t, `string("x")`, fmt.Sprint(String("x")))
	assert.Equal(t, "null", fmt.Sprint(Null()))
	assert.Equal(t, "unset", fmt.Sprint(Parameter{}))
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusSucceeded.OK())
	assert.False(t, StatusChannelFailure.OK())
	assert.False(t, Status(99).OK())
	assert.Equal(t, "Status(99)", Status(99).String())
	assert.Equal(t, "UnknownInterface", StatusUnknownInterface.String())
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Errorf(StatusUnknownMethod, "no method %q", "Bar"))

	assert.True(t, errors.Is(err, StatusError(StatusUnknownMethod)))
	assert.False(t, errors.Is(err, StatusError(StatusChannelFailure)))
	assert.Equal(t, StatusUnknownMethod, StatusOf(err))
	assert.Equal(t, StatusProtocolError, StatusOf(errors.New("plain")))
	assert.Equal(t, StatusSucceeded, StatusOf(nil))
	assert.EqualError(t, StatusError(StatusChannelFailure), "rpc: ChannelFailure")
}

func TestResultErr(t *testing.T) {
	require.NoError(t, Succeeded(Int32(1).Ptr()).Err())

	err := Failed(StatusInvalidCallParameter, "bad").Err()
	require.ErrorIs(t, err, StatusError(StatusInvalidCallParameter))
	assert.EqualError(t, err, "rpc: InvalidCallParameter: bad")

	var nilResult *Result
	require.ErrorIs(t, nilResult.Err(), StatusError(StatusProtocolError))
}

func TestMessageShape(t *testing.T) {
	m := &Message{Call: NewCall("Foo", "Bar", Int32(1))}
	assert.True(t, m.HasCall())
	assert.False(t, m.HasResult())
	assert.False(t, m.HasID)

	m.SetID(0)
	assert.True(t, m.HasID)

	var nilMsg *Message
	assert.False(t, nilMsg.HasCall())
	assert.False(t, nilMsg.HasResult())

	oc := NewObjectCall(5, "Get")
	assert.Equal(t, uint32(5), oc.ObjectID)
	assert.Empty(t, oc.Service)
}
