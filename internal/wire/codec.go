package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrMalformed is returned for any frame whose length prefix does not
// match its body, or whose body fails to deserialize. Per §7, the
// caller's response to ErrMalformed is always the same: close the
// connection without attempting to resynchronize.
var ErrMalformed = errors.New("wire: malformed frame")

// lengthPrefixSize is the width of the frame's length field (§6.1).
const lengthPrefixSize = 8

// EncodeFrame msgpack-encodes v and prepends an 8-byte little-endian
// length prefix, per §6.1. Fails only if v cannot be marshaled.
func EncodeFrame(v any) ([]byte, error) {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode payload: %w", err)
	}

	buf := make([]byte, lengthPrefixSize+len(payload))
	binary.LittleEndian.PutUint64(buf[:lengthPrefixSize], uint64(len(payload)))
	copy(buf[lengthPrefixSize:], payload)
	return buf, nil
}

// DecodeFrame reads the length prefix from data, verifies it matches the
// remaining bytes exactly, and unmarshals the payload into v. Any
// inconsistency — truncation, a mismatched length, or a msgpack error —
// returns ErrMalformed wrapping the detail.
func DecodeFrame(data []byte, v any) error {
	if len(data) < lengthPrefixSize {
		return fmt.Errorf("%w: frame shorter than length prefix (%d bytes)", ErrMalformed, len(data))
	}

	length := binary.LittleEndian.Uint64(data[:lengthPrefixSize])
	body := data[lengthPrefixSize:]
	if uint64(len(body)) != length {
		return fmt.Errorf("%w: length prefix %d does not match body %d bytes", ErrMalformed, length, len(body))
	}

	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r and unmarshals it
// into v. Used by transports that hand the codec a raw byte stream
// rather than a single already-delimited message (e.g. a TCP
// io.Reader); WebSocket transports receive whole messages and can call
// DecodeFrame directly.
func ReadFrame(r io.Reader, v any) error {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("%w: reading length prefix: %v", ErrMalformed, err)
	}

	length := binary.LittleEndian.Uint64(lenBuf[:])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("%w: reading body: %v", ErrMalformed, err)
	}

	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// EncodeClientEnvelope frames a ClientEnvelope for transmission.
func EncodeClientEnvelope(env ClientEnvelope) ([]byte, error) {
	return EncodeFrame(env)
}

// DecodeClientEnvelope parses a single framed client message.
func DecodeClientEnvelope(data []byte) (ClientEnvelope, error) {
	var env ClientEnvelope
	if err := DecodeFrame(data, &env); err != nil {
		return ClientEnvelope{}, err
	}
	return env, nil
}

// EncodeServerEnvelope frames a ServerEnvelope for transmission.
func EncodeServerEnvelope(env ServerEnvelope) ([]byte, error) {
	return EncodeFrame(env)
}

// DecodeServerEnvelope parses a single framed server message.
func DecodeServerEnvelope(data []byte) (ServerEnvelope, error) {
	var env ServerEnvelope
	if err := DecodeFrame(data, &env); err != nil {
		return ServerEnvelope{}, err
	}
	return env, nil
}
