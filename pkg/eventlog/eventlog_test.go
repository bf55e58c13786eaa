package eventlog

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"wlproxy/pkg/wire"
)

func tempLog(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "events.bin")
}

func TestRoundTrip(t *testing.T) {
	path := tempLog(t)

	motion := wire.AppendMessage(nil, 4, 2, make([]byte, 16))
	key := wire.AppendMessage(nil, 5, 3, make([]byte, 16))

	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(1500*time.Millisecond, motion); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(2*time.Second+250*time.Nanosecond, key); err != nil {
		t.Fatal(err)
	}
	if w.Count() != 2 {
		t.Errorf("Count() = %d, want 2", w.Count())
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	f1, err := r.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if f1.Delta != 1500*time.Millisecond {
		t.Errorf("Delta = %v, want 1.5s", f1.Delta)
	}
	if !bytes.Equal(f1.Raw, motion) {
		t.Errorf("Raw = % x, want % x", f1.Raw, motion)
	}

	f2, err := r.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if f2.Delta != 2*time.Second+250*time.Nanosecond {
		t.Errorf("Delta = %v", f2.Delta)
	}
	if !bytes.Equal(f2.Raw, key) {
		t.Errorf("Raw = % x, want % x", f2.Raw, key)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next() at end = %v, want io.EOF", err)
	}
}

func TestEmptyLog(t *testing.T) {
	path := tempLog(t)
	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w.Close()

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next() on empty log = %v, want io.EOF", err)
	}
}

func TestTruncatedDelta(t *testing.T) {
	path := tempLog(t)
	if err := os.WriteFile(path, make([]byte, 7), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.Next(); err != ErrTruncated {
		t.Errorf("Next() = %v, want ErrTruncated", err)
	}
}

func TestTruncatedMessage(t *testing.T) {
	path := tempLog(t)

	motion := wire.AppendMessage(nil, 4, 2, make([]byte, 16))
	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(time.Second, motion); err != nil {
		t.Fatal(err)
	}
	w.Close()

	// Chop the last payload bytes off.
	full, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, full[:len(full)-6], 0644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.Next(); err != ErrTruncated {
		t.Errorf("Next() = %v, want ErrTruncated", err)
	}
}

func TestBadFrameHeader(t *testing.T) {
	path := tempLog(t)

	// Valid delta, then a message whose size field is unaligned.
	var frame []byte
	frame = append(frame, make([]byte, 16)...)
	hdr := make([]byte, wire.HeaderLen)
	wire.PutHeader(hdr, wire.Header{Object: 4, Opcode: 2, Size: 13})
	frame = append(frame, hdr...)
	if err := os.WriteFile(path, frame, 0644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.Next(); err != ErrBadFrame {
		t.Errorf("Next() = %v, want ErrBadFrame", err)
	}
}

func TestCreateTruncatesExisting(t *testing.T) {
	path := tempLog(t)
	if err := os.WriteFile(path, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("size after Create = %d, want 0", info.Size())
	}
}
