package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest payload the broker will read or write.
// A fixed small cap keeps a corrupt or hostile peer from coercing a
// multi-gigabyte allocation out of a 4-byte header.
const MaxFrameSize = 1 << 20 // 1 MiB

var (
	// ErrInvalidLength is returned by ReadFrame when the length header
	// decodes to zero; the protocol never sends empty frames.
	ErrInvalidLength = errors.New("invalid frame length")

	// ErrFrameTooLarge is returned when a length header or outgoing
	// payload exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")
)

// ReadFrame reads one length-prefixed frame from r and returns the payload.
//
// Wire format: 4-byte big-endian unsigned length, then exactly that many
// payload bytes. A header of zero or above MaxFrameSize is a protocol
// violation; the caller is expected to drop the connection, since the
// stream can no longer be trusted to be frame-aligned. A short read in
// either phase surfaces as the underlying I/O error.
func ReadFrame(r io.Reader) ([]byte, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr)
	if n == 0 {
		return nil, ErrInvalidLength
	}
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes payload to w as one length-prefixed frame.
//
// A nil payload is normalised to empty; an oversize payload returns
// ErrFrameTooLarge before any byte is written. Header and payload go out
// in a single Write call so the frame stays contiguous even if the
// caller's write lock is ever misused.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}
