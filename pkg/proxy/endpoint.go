package proxy

import (
	"fmt"
	"io"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const (
	// maxFDs bounds the file descriptors one datagram may carry.
	maxFDs = 28

	// bufLen is the receive buffer size; compositors never send a
	// single batch larger than this.
	bufLen = 4096
)

// cmsgSpace is the control buffer size for maxFDs descriptors.
var cmsgSpace = unix.CmsgSpace(maxFDs * 4)

// errWouldBlock marks a spurious wakeup on a non-blocking endpoint.
var errWouldBlock = fmt.Errorf("proxy: operation would block")

// Endpoint owns one non-blocking Unix stream socket carrying optional
// SCM_RIGHTS ancillary payloads.
type Endpoint struct {
	fd int
}

func newEndpoint(fd int) *Endpoint {
	return &Endpoint{fd: fd}
}

// dialUpstream connects a fresh non-blocking socket to the compositor.
func dialUpstream(runtimeDir, display string) (*Endpoint, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket upstream: %w", err)
	}
	path := filepath.Join(runtimeDir, display)
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("connect upstream %s: %w", path, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set upstream non-blocking: %w", err)
	}
	return newEndpoint(fd), nil
}

// FD returns the raw descriptor for polling.
func (e *Endpoint) FD() int {
	return e.fd
}

// Recv reads one datagram into buf and its ancillary payload into oob.
// io.EOF means orderly peer close, errWouldBlock a spurious wakeup.
func (e *Endpoint) Recv(buf, oob []byte) (n, oobn int, err error) {
	for {
		n, oobn, _, _, err = unix.Recvmsg(e.fd, buf, oob, 0)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, 0, errWouldBlock
		}
		if err != nil {
			return 0, 0, fmt.Errorf("recvmsg: %w", err)
		}
		if n == 0 {
			return 0, 0, io.EOF
		}
		return n, oobn, nil
	}
}

// Send writes one whole datagram. A short write on a Unix stream socket
// at these sizes does not happen in practice and is treated as fatal.
func (e *Endpoint) Send(data, oob []byte) error {
	n, err := unix.SendmsgN(e.fd, data, oob, nil, 0)
	if err != nil {
		return fmt.Errorf("sendmsg: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("sendmsg: short write (%d of %d bytes)", n, len(data))
	}
	return nil
}

// Close releases the socket.
func (e *Endpoint) Close() error {
	return unix.Close(e.fd)
}

// closeAncillary closes every file descriptor delivered in a received
// control buffer. The kernel duplicates descriptors for the forwarded
// datagram at sendmsg time, so these copies are closed after the send.
func closeAncillary(oob []byte) {
	if len(oob) == 0 {
		return
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return
	}
	for _, m := range msgs {
		fds, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			unix.Close(fd)
		}
	}
}

// listenDownstream binds and listens on the proxy's own socket,
// unlinking any stale path first.
func listenDownstream(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket downstream: %w", err)
	}
	unix.Unlink(path)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind downstream %s: %w", path, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return -1, fmt.Errorf("listen downstream: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return -1, fmt.Errorf("set downstream non-blocking: %w", err)
	}
	return fd, nil
}
