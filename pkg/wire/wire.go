// Package wire implements the Wayland wire format: fixed 8-byte
// little-endian headers followed by a payload padded to 4-byte
// alignment. It only decodes as much of the protocol as the relay needs
// to recognise input devices; everything else passes through opaque.
package wire

import (
	"encoding/binary"
	"fmt"
)

var le = binary.LittleEndian

const (
	// HeaderLen is the fixed size of a message header: object id word
	// plus the packed opcode/size word.
	HeaderLen = 8

	// MaxMessageSize caps a single message. Compositors keep well under
	// this; anything larger means the stream is desynchronized.
	MaxMessageSize = 4096
)

var (
	ErrDesynchronized = fmt.Errorf("wire: buffer length not a multiple of 4")
	ErrShortMessage   = fmt.Errorf("wire: message size below header length")
	ErrUnaligned      = fmt.Errorf("wire: message size not 4-byte aligned")
	ErrOversized      = fmt.Errorf("wire: message size exceeds %d bytes", MaxMessageSize)
	ErrTruncated      = fmt.Errorf("wire: message extends past end of buffer")
)

// Header is the decoded first two words of a message.
type Header struct {
	Object uint32
	Opcode uint16
	Size   uint16
}

// Message is one wire message. Payload and Raw alias the scanned
// buffer; they are valid only as long as the buffer is.
type Message struct {
	Header
	Payload []byte
	Raw     []byte
}

// ParseHeader decodes a header from the front of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortMessage
	}
	sizeOpcode := le.Uint32(b[4:8])
	return Header{
		Object: le.Uint32(b[0:4]),
		Opcode: uint16(sizeOpcode & 0xffff),
		Size:   uint16(sizeOpcode >> 16),
	}, nil
}

// PutHeader encodes h into the first 8 bytes of b.
func PutHeader(b []byte, h Header) {
	le.PutUint32(b[0:4], h.Object)
	le.PutUint32(b[4:8], uint32(h.Opcode)|uint32(h.Size)<<16)
}

// ValidateSize checks the framing invariants on a header's size field
// against the bytes remaining in the buffer it was read from.
func ValidateSize(size int, remaining int) error {
	switch {
	case size < HeaderLen:
		return ErrShortMessage
	case size%4 != 0:
		return ErrUnaligned
	case size > MaxMessageSize:
		return ErrOversized
	case size > remaining:
		return ErrTruncated
	}
	return nil
}

// Scanner walks a received buffer as a sequence of messages. It never
// copies or mutates the bytes.
type Scanner struct {
	buf []byte
	off int
	err error
}

// NewScanner returns a scanner over buf. Wayland peers only ever send
// whole words, so a length that is not a multiple of 4 marks the stream
// as desynchronized; the first Next call reports it via Err.
func NewScanner(buf []byte) *Scanner {
	s := &Scanner{buf: buf}
	if len(buf)%4 != 0 {
		s.err = ErrDesynchronized
	}
	return s
}

// Next yields the next message. It returns false at the end of the
// buffer or on a framing error; the two are told apart with Err.
func (s *Scanner) Next() (Message, bool) {
	if s.err != nil || s.off >= len(s.buf) {
		return Message{}, false
	}

	rest := s.buf[s.off:]
	hdr, err := ParseHeader(rest)
	if err != nil {
		s.err = err
		return Message{}, false
	}
	size := int(hdr.Size)
	if err := ValidateSize(size, len(rest)); err != nil {
		s.err = err
		return Message{}, false
	}

	s.off += size
	return Message{
		Header:  hdr,
		Payload: rest[HeaderLen:size],
		Raw:     rest[:size],
	}, true
}

// Err returns the framing error that stopped the scan, if any.
func (s *Scanner) Err() error {
	return s.err
}

// AppendMessage appends a framed message to dst and returns the
// extended slice. The payload must already be padded to 4 bytes.
func AppendMessage(dst []byte, object uint32, opcode uint16, payload []byte) []byte {
	size := HeaderLen + len(payload)
	var hdr [HeaderLen]byte
	PutHeader(hdr[:], Header{Object: object, Opcode: opcode, Size: uint16(size)})
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// Bind is the decoded payload of a wl_registry.bind request. The new_id
// argument is preceded by the interface name and version because bind
// creates an object of a type not fixed by the protocol.
type Bind struct {
	Name      uint32
	Interface string
	Version   uint32
	NewID     uint32
}

// ParseBind decodes a wl_registry.bind payload.
func ParseBind(payload []byte) (Bind, error) {
	if len(payload) < 8 {
		return Bind{}, fmt.Errorf("wire: bind payload too short")
	}
	name := le.Uint32(payload[:4])
	iface, rest, err := decodeString(payload[4:])
	if err != nil {
		return Bind{}, err
	}
	if len(rest) < 8 {
		return Bind{}, fmt.Errorf("wire: bind payload missing version or new_id")
	}
	return Bind{
		Name:      name,
		Interface: iface,
		Version:   le.Uint32(rest[:4]),
		NewID:     le.Uint32(rest[4:8]),
	}, nil
}

// decodeString reads a wire string: uint32 length including the null
// terminator, bytes, padding to 4-byte alignment.
func decodeString(data []byte) (string, []byte, error) {
	if len(data) < 4 {
		return "", data, fmt.Errorf("wire: short string length field")
	}
	length := int(le.Uint32(data[:4]))
	data = data[4:]
	if length == 0 {
		return "", data, nil
	}
	padded := (length + 3) &^ 3
	if len(data) < padded {
		return "", data, fmt.Errorf("wire: short string data")
	}
	s := string(data[:length-1]) // exclude null terminator
	return s, data[padded:], nil
}

// EncodeString encodes a wire string: uint32 length (incl. null),
// bytes, padding to 4-byte alignment.
func EncodeString(s string) []byte {
	sBytes := append([]byte(s), 0)
	length := len(sBytes)
	padded := (length + 3) &^ 3
	buf := make([]byte, 4+padded)
	le.PutUint32(buf[0:], uint32(length))
	copy(buf[4:], sBytes)
	return buf
}

// EncodeUint32 encodes a single wire word.
func EncodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	le.PutUint32(b, v)
	return b
}
