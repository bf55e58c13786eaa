// Package eventlog stores captured input events as a flat sequence of
// frames: two little-endian int64 words holding the delta from
// connection establishment (seconds, nanoseconds), then the raw wire
// message exactly as received. There is no file header, index, or
// checksum; replay consumes frames in order.
package eventlog

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"wlproxy/pkg/wire"
)

var le = binary.LittleEndian

// deltaLen is the on-disk size of the timestamp pair.
const deltaLen = 16

var (
	ErrTruncated = fmt.Errorf("eventlog: truncated frame")
	ErrBadFrame  = fmt.Errorf("eventlog: frame header fails wire framing")
)

// Frame is one recorded event.
type Frame struct {
	Delta time.Duration
	Raw   []byte
}

// Writer appends frames to a capture log.
type Writer struct {
	f *os.File
	n int
}

// Create opens path for capture, truncating any previous log.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return &Writer{f: f}, nil
}

// Append writes one frame. The raw bytes are stored verbatim.
func (w *Writer) Append(delta time.Duration, raw []byte) error {
	var hdr [deltaLen]byte
	le.PutUint64(hdr[0:8], uint64(delta/time.Second))
	le.PutUint64(hdr[8:16], uint64(delta%time.Second))
	if _, err := w.f.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.f.Write(raw); err != nil {
		return err
	}
	w.n++
	return nil
}

// Count returns the number of frames appended so far.
func (w *Writer) Count() int {
	return w.n
}

// Close flushes and closes the log file.
func (w *Writer) Close() error {
	return w.f.Close()
}

// Reader consumes a capture log one frame at a time.
type Reader struct {
	f *os.File
}

// Open opens path for replay.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{f: f}, nil
}

// NextDelta reads the timestamp pair of the next frame. io.EOF here is
// a clean end of log; a partial read is ErrTruncated.
func (r *Reader) NextDelta() (time.Duration, error) {
	var hdr [deltaLen]byte
	if _, err := io.ReadFull(r.f, hdr[:]); err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, ErrTruncated
	}
	sec := int64(le.Uint64(hdr[0:8]))
	nsec := int64(le.Uint64(hdr[8:16]))
	return time.Duration(sec)*time.Second + time.Duration(nsec), nil
}

// NextMessage reads the raw wire message that follows a delta. The
// embedded wire header supplies the length and is validated against the
// framing invariants. A clean EOF before the first header byte is
// io.EOF; EOF anywhere inside the message is ErrTruncated.
func (r *Reader) NextMessage() ([]byte, error) {
	buf := make([]byte, wire.MaxMessageSize)
	if _, err := io.ReadFull(r.f, buf[:wire.HeaderLen]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, ErrTruncated
	}
	hdr, err := wire.ParseHeader(buf[:wire.HeaderLen])
	if err != nil {
		return nil, err
	}
	size := int(hdr.Size)
	if err := wire.ValidateSize(size, wire.MaxMessageSize); err != nil {
		return nil, ErrBadFrame
	}
	if _, err := io.ReadFull(r.f, buf[wire.HeaderLen:size]); err != nil {
		return nil, ErrTruncated
	}
	return buf[:size], nil
}

// Next reads a whole frame. io.EOF only occurs at a frame boundary.
func (r *Reader) Next() (Frame, error) {
	delta, err := r.NextDelta()
	if err != nil {
		return Frame{}, err
	}
	raw, err := r.NextMessage()
	if err == io.EOF {
		// The delta was read, so this EOF falls inside the frame.
		return Frame{}, ErrTruncated
	}
	if err != nil {
		return Frame{}, err
	}
	return Frame{Delta: delta, Raw: raw}, nil
}

// Close closes the log file.
func (r *Reader) Close() error {
	return r.f.Close()
}
