package proxy

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func endpointPair(t *testing.T) (*Endpoint, *Endpoint) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			t.Fatalf("set non-blocking: %v", err)
		}
	}
	a, b := newEndpoint(fds[0]), newEndpoint(fds[1])
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func waitReadable(t *testing.T, e *Endpoint) {
	t.Helper()
	pfds := []unix.PollFd{{Fd: int32(e.fd), Events: unix.POLLIN}}
	ts := unix.NsecToTimespec(int64(2e9))
	n, err := unix.Ppoll(pfds, &ts, nil)
	if err != nil {
		t.Fatalf("ppoll: %v", err)
	}
	if n == 0 {
		t.Fatal("timed out waiting for data")
	}
}

func TestEndpointSendRecv(t *testing.T) {
	a, b := endpointPair(t)

	payload := []byte("wayland bytes")
	if err := a.Send(payload, nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	waitReadable(t, b)
	buf := make([]byte, bufLen)
	oob := make([]byte, cmsgSpace)
	n, oobn, err := b.Recv(buf, oob)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if oobn != 0 {
		t.Errorf("oobn = %d, want 0", oobn)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Errorf("Recv() = %q, want %q", buf[:n], payload)
	}
}

func TestEndpointRecvWouldBlock(t *testing.T) {
	_, b := endpointPair(t)

	buf := make([]byte, bufLen)
	oob := make([]byte, cmsgSpace)
	if _, _, err := b.Recv(buf, oob); err != errWouldBlock {
		t.Errorf("Recv() on empty socket = %v, want errWouldBlock", err)
	}
}

func TestEndpointRecvEOF(t *testing.T) {
	a, b := endpointPair(t)

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, bufLen)
	oob := make([]byte, cmsgSpace)
	if _, _, err := b.Recv(buf, oob); err != io.EOF {
		t.Errorf("Recv() after peer close = %v, want io.EOF", err)
	}
}

func TestEndpointAncillaryTransferAndClose(t *testing.T) {
	a, b := endpointPair(t)

	f, err := os.CreateTemp(t.TempDir(), "scm")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rights := unix.UnixRights(int(f.Fd()))
	if err := a.Send([]byte{0, 0, 0, 0}, rights); err != nil {
		t.Fatalf("Send() with rights error = %v", err)
	}

	waitReadable(t, b)
	buf := make([]byte, bufLen)
	oob := make([]byte, cmsgSpace)
	n, oobn, err := b.Recv(buf, oob)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if n != 4 {
		t.Errorf("n = %d, want 4", n)
	}
	if oobn == 0 {
		t.Fatal("no ancillary data received")
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		t.Fatalf("parse control message: %v", err)
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil {
		t.Fatalf("parse rights: %v", err)
	}
	if len(fds) != 1 {
		t.Fatalf("got %d fds, want 1", len(fds))
	}
	received := fds[0]

	// The duplicated descriptor is live before the hygiene pass.
	if _, err := unix.FcntlInt(uintptr(received), unix.F_GETFD, 0); err != nil {
		t.Fatalf("received fd not usable: %v", err)
	}

	closeAncillary(oob[:oobn])

	if _, err := unix.FcntlInt(uintptr(received), unix.F_GETFD, 0); err != unix.EBADF {
		t.Errorf("fd still open after closeAncillary: err = %v, want EBADF", err)
	}
}

func TestCloseAncillaryEmpty(t *testing.T) {
	// Must be a no-op on empty and garbage buffers.
	closeAncillary(nil)
	closeAncillary([]byte{1, 2, 3})
}

func TestListenDownstream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wayland-9")

	fd, err := listenDownstream(path)
	if err != nil {
		t.Fatalf("listenDownstream() error = %v", err)
	}
	defer unix.Close(fd)
	defer unix.Unlink(path)

	if _, err := os.Stat(path); err != nil {
		t.Errorf("socket path missing: %v", err)
	}

	// Rebinding over a stale path must succeed.
	fd2, err := listenDownstream(path)
	if err != nil {
		t.Fatalf("listenDownstream() over stale path error = %v", err)
	}
	unix.Close(fd2)
}
