// Package protocol implements the length-prefixed frame format of a NanoRpc channel.
//
// A byte stream has no message boundaries, so every encoded message is preceded by its
// length. The receiver accumulates bytes until a whole frame is available and never
// consumes a partial one.
//
// Frame format:
//
//	0         4
//	┌─────────┬────────────────────┐
//	│ length  │   message ...      │
//	│ u32 LE  │   length bytes     │
//	└─────────┴────────────────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the size of the length prefix.
const HeaderSize = 4

var (
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	ErrShortHeader     = errors.New("protocol: short length prefix")
)

// Limits constrains how much memory a single frame may claim.
type Limits struct {
	MaxPayloadBytes uint64
}

// DefaultLimits allows frames up to 8 MiB.
func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 8 * 1024 * 1024}
}

// maxPayload treats zero as the default and caps at what the prefix can express.
func (l Limits) maxPayload() uint64 {
	switch {
	case l.MaxPayloadBytes == 0:
		return DefaultLimits().MaxPayloadBytes
	case l.MaxPayloadBytes > math.MaxUint32:
		return math.MaxUint32
	default:
		return l.MaxPayloadBytes
	}
}

// AppendFrame appends the framed payload to dst.
func AppendFrame(dst, payload []byte, limits Limits) ([]byte, error) {
	if uint64(len(payload)) > limits.maxPayload() {
		return dst, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...), nil
}

// WriteFrame writes prefix and payload with a single Write call.
// The caller must serialize writers sharing w, otherwise frames interleave.
func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	buf, err := AppendFrame(make([]byte, 0, HeaderSize+len(payload)), payload, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Cut splits the first complete frame off buf. ok is false when buf does not yet hold a
// whole frame; in that case nothing is consumed and rest == buf.
// payload aliases buf.
func Cut(buf []byte, limits Limits) (payload, rest []byte, ok bool, err error) {
	if len(buf) < HeaderSize {
		return nil, buf, false, nil
	}
	n := uint64(binary.LittleEndian.Uint32(buf))
	if n > limits.maxPayload() {
		return nil, buf, false, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}
	end := HeaderSize + int(n)
	if len(buf) < end {
		return nil, buf, false, nil
	}
	return buf[HeaderSize:end], buf[end:], true, nil
}

// ReadFrame blocks until exactly one frame has been read from r.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}
	n := uint64(binary.LittleEndian.Uint32(hdr[:]))
	if n > limits.maxPayload() {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
