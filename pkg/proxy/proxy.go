// Package proxy implements the record-and-replay relay: a single-threaded
// three-way multiplex between the listening socket, one client, and the
// compositor. Client traffic always passes through untouched; compositor
// traffic is subject to capture/replay policy on user-input events.
package proxy

import (
	goerrors "errors"
	"io"
	"path/filepath"
	"sync/atomic"
	"time"

	"wlproxy/pkg/errors"
	"wlproxy/pkg/eventlog"
	"wlproxy/pkg/logger"
	"wlproxy/pkg/wire"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Mode selects the session policy. It is fixed at startup except for
// the single REPLAY to IDLE transition when the log runs out.
type Mode int

const (
	ModeIdle Mode = iota
	ModeCapture
	ModeReplay
)

func (m Mode) String() string {
	switch m {
	case ModeCapture:
		return "capture"
	case ModeReplay:
		return "replay"
	default:
		return "idle"
	}
}

// idlePollTimeout bounds every poll so the stop flag is re-checked even
// when no descriptor and no replay deadline is active.
const idlePollTimeout = time.Second

// Options configures a relay session.
type Options struct {
	Mode              Mode
	RuntimeDir        string
	UpstreamDisplay   string
	DownstreamDisplay string
	EventsPath        string
}

// Stats counts policy decisions over a session.
type Stats struct {
	Captured   int
	Suppressed int
	Injected   int
}

// errSessionDone marks an orderly peer close ending the session.
var errSessionDone = goerrors.New("session done")

// Relay owns every descriptor of a session: the listening socket, the
// client and upstream endpoints, and the event log handle.
type Relay struct {
	opts Options
	log  zerolog.Logger

	mode     Mode
	listenFD int
	sockPath string
	client   *Endpoint
	upstream *Endpoint

	tracker wire.Tracker
	writer  *eventlog.Writer
	reader  *eventlog.Reader

	t0      time.Time
	next    time.Duration
	pending bool

	stopped atomic.Bool
	stats   Stats
}

// New binds the downstream socket and opens the event log according to
// the mode. The caller must Close the relay even when Run fails.
func New(opts Options) (*Relay, error) {
	if opts.UpstreamDisplay == "" {
		return nil, errors.New(errors.ExitCodeUsage, errors.ErrMsgMissingDisplay)
	}
	if opts.RuntimeDir == "" {
		return nil, errors.New(errors.ExitCodeUsage, errors.ErrMsgMissingRuntime)
	}

	r := &Relay{
		opts:     opts,
		log:      logger.GetLogger().With().Str("mode", opts.Mode.String()).Logger(),
		mode:     opts.Mode,
		listenFD: -1,
		sockPath: filepath.Join(opts.RuntimeDir, opts.DownstreamDisplay),
	}

	switch opts.Mode {
	case ModeCapture:
		w, err := eventlog.Create(opts.EventsPath)
		if err != nil {
			return nil, errors.NewWithError(errors.ExitCodeLog, errors.ErrMsgEventLogFailed, err)
		}
		r.writer = w
	case ModeReplay:
		rd, err := eventlog.Open(opts.EventsPath)
		if err != nil {
			return nil, errors.NewWithError(errors.ExitCodeLog, errors.ErrMsgEventLogFailed, err)
		}
		r.reader = rd
		delta, err := rd.NextDelta()
		switch {
		case err == io.EOF:
			r.log.Warn().Msg("event log is empty, starting idle")
			r.mode = ModeIdle
		case err != nil:
			rd.Close()
			return nil, errors.NewWithError(errors.ExitCodeLog, errors.ErrMsgBadLogFrame, err)
		default:
			r.next = delta
			r.pending = true
		}
	}

	fd, err := listenDownstream(r.sockPath)
	if err != nil {
		r.closeLog()
		return nil, errors.NewWithError(errors.ExitCodeSetup, errors.ErrMsgListenFailed, err)
	}
	r.listenFD = fd

	return r, nil
}

// SocketPath returns the downstream socket path.
func (r *Relay) SocketPath() string {
	return r.sockPath
}

// Mode returns the current mode; it changes only on replay exhaustion.
func (r *Relay) Mode() Mode {
	return r.mode
}

// Stats returns the session counters.
func (r *Relay) Stats() Stats {
	return r.stats
}

// Stop makes the loop exit after the current iteration.
func (r *Relay) Stop() {
	r.stopped.Store(true)
}

// Close releases every owned resource and unlinks the downstream
// socket path.
func (r *Relay) Close() {
	r.closePeers()
	if r.listenFD >= 0 {
		unix.Close(r.listenFD)
		r.listenFD = -1
		unix.Unlink(r.sockPath)
	}
	r.closeLog()
}

func (r *Relay) closeLog() {
	if r.writer != nil {
		r.writer.Close()
		r.writer = nil
	}
	if r.reader != nil {
		r.reader.Close()
		r.reader = nil
	}
}

func (r *Relay) closePeers() {
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
	if r.upstream != nil {
		r.upstream.Close()
		r.upstream = nil
	}
}

// Run drives the session until a peer closes, the stop flag is set, or
// a fatal error occurs. Peer close and stop both return nil.
func (r *Relay) Run() error {
	inBuf := make([]byte, bufLen)
	oobBuf := make([]byte, cmsgSpace)
	outBuf := make([]byte, 0, bufLen)
	pfds := make([]unix.PollFd, 0, 3)

	for !r.stopped.Load() {
		pfds = pfds[:0]
		pfds = append(pfds, unix.PollFd{Fd: int32(r.listenFD), Events: unix.POLLIN})
		if r.client != nil {
			pfds = append(pfds,
				unix.PollFd{Fd: int32(r.client.fd), Events: unix.POLLIN},
				unix.PollFd{Fd: int32(r.upstream.fd), Events: unix.POLLIN})
		}

		ts := unix.NsecToTimespec(r.pollTimeout().Nanoseconds())
		if _, err := unix.Ppoll(pfds, &ts, nil); err != nil {
			if err == unix.EINTR {
				continue
			}
			return errors.NewWithError(errors.ExitCodeIO, "poll failed", err)
		}

		// One clock reading serves every decision in this iteration.
		now := time.Now()

		if pfds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			return errors.New(errors.ExitCodeIO, "error on listening socket")
		}
		if pfds[0].Revents&unix.POLLIN != 0 {
			if err := r.acceptClient(now); err != nil {
				return err
			}
		}

		if r.client != nil && len(pfds) == 3 {
			if err := r.serviceClient(pfds[1].Revents, inBuf, oobBuf); err != nil {
				if err == errSessionDone {
					return nil
				}
				return err
			}
			if err := r.serviceUpstream(pfds[2].Revents, now, inBuf, oobBuf, &outBuf); err != nil {
				if err == errSessionDone {
					return nil
				}
				return err
			}
		}

		if err := r.inject(now); err != nil {
			return err
		}
	}

	r.log.Info().Msg("interrupted, shutting down")
	return nil
}

// pollTimeout is the replay deadline when one is armed, capped so the
// stop flag stays responsive.
func (r *Relay) pollTimeout() time.Duration {
	timeout := idlePollTimeout
	if r.mode == ModeReplay && r.pending && r.client != nil {
		if d := r.next - time.Since(r.t0); d < timeout {
			timeout = d
		}
		if timeout < 0 {
			timeout = 0
		}
	}
	return timeout
}

func (r *Relay) acceptClient(now time.Time) error {
	if r.client != nil {
		r.log.Warn().Msg("unexpected client connection while already connected")
		return nil
	}

	fd, _, err := unix.Accept(r.listenFD)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return nil
	}
	if err != nil {
		return errors.NewWithError(errors.ExitCodeIO, "accept failed", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return errors.NewWithError(errors.ExitCodeIO, "set client non-blocking", err)
	}
	unix.CloseOnExec(fd)

	upstream, err := dialUpstream(r.opts.RuntimeDir, r.opts.UpstreamDisplay)
	if err != nil {
		unix.Close(fd)
		return errors.NewWithError(errors.ExitCodeSetup, errors.ErrMsgUpstreamFailed, err)
	}

	r.client = newEndpoint(fd)
	r.upstream = upstream
	r.t0 = now

	r.log.Info().Msg("client connected")
	r.log.Debug().Str("display", r.opts.UpstreamDisplay).Msg("connected to upstream compositor")
	return nil
}

// serviceClient forwards one client datagram to the compositor
// unchanged, feeding the tracker along the way.
func (r *Relay) serviceClient(revents int16, inBuf, oobBuf []byte) error {
	if revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) == 0 {
		return nil
	}
	if revents&unix.POLLIN == 0 {
		r.log.Info().Msg("client disconnected")
		r.closePeers()
		return errSessionDone
	}

	n, oobn, err := r.client.Recv(inBuf, oobBuf)
	if err == errWouldBlock {
		return nil
	}
	if err == io.EOF {
		r.log.Info().Msg("client disconnected")
		r.closePeers()
		return errSessionDone
	}
	if err != nil {
		return errors.NewWithError(errors.ExitCodeIO, "receive from client", err)
	}
	defer closeAncillary(oobBuf[:oobn])

	s := wire.NewScanner(inBuf[:n])
	for {
		m, ok := s.Next()
		if !ok {
			break
		}
		r.tracker.ObserveRequest(m)
	}
	if err := s.Err(); err != nil {
		return errors.NewWithError(errors.ExitCodeProtocol, errors.ErrMsgBadFraming, err)
	}

	if err := r.upstream.Send(inBuf[:n], oobBuf[:oobn]); err != nil {
		return errors.NewWithError(errors.ExitCodeIO, "forward to compositor", err)
	}
	r.log.Debug().Int("bytes", n).Msg("forwarded client datagram")
	return nil
}

// serviceUpstream applies policy to one compositor datagram and
// forwards the surviving messages in order.
func (r *Relay) serviceUpstream(revents int16, now time.Time, inBuf, oobBuf []byte, outBuf *[]byte) error {
	if revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) == 0 {
		return nil
	}
	if revents&unix.POLLIN == 0 {
		r.log.Info().Msg("compositor disconnected")
		r.closePeers()
		return errSessionDone
	}

	n, oobn, err := r.upstream.Recv(inBuf, oobBuf)
	if err == errWouldBlock {
		return nil
	}
	if err == io.EOF {
		r.log.Info().Msg("compositor disconnected")
		r.closePeers()
		return errSessionDone
	}
	if err != nil {
		return errors.NewWithError(errors.ExitCodeIO, "receive from compositor", err)
	}
	defer closeAncillary(oobBuf[:oobn])

	out := (*outBuf)[:0]
	s := wire.NewScanner(inBuf[:n])
	for {
		m, ok := s.Next()
		if !ok {
			break
		}
		if !r.tracker.IsInputEvent(m.Object, m.Opcode) {
			out = append(out, m.Raw...)
			continue
		}
		switch r.mode {
		case ModeCapture:
			if err := r.writer.Append(now.Sub(r.t0), m.Raw); err != nil {
				return errors.NewWithError(errors.ExitCodeLog, "append to event log", err)
			}
			r.stats.Captured++
			out = append(out, m.Raw...)
		case ModeReplay:
			r.stats.Suppressed++
			r.log.Debug().
				Str("device", r.tracker.Classify(m.Object).String()).
				Uint16("opcode", m.Opcode).
				Msg("suppressed input event")
		default:
			out = append(out, m.Raw...)
		}
	}
	if err := s.Err(); err != nil {
		return errors.NewWithError(errors.ExitCodeProtocol, errors.ErrMsgBadFraming, err)
	}
	*outBuf = out

	// Suppressed event types never carry descriptors, so the received
	// ancillary payload always belongs to messages that survived.
	if len(out) > 0 {
		if err := r.client.Send(out, oobBuf[:oobn]); err != nil {
			return errors.NewWithError(errors.ExitCodeIO, "forward to client", err)
		}
	}
	return nil
}

// inject drains recorded events whose deadline has passed. Normal
// forwarding for the iteration has already happened, so injected events
// stay ordered against delivered compositor traffic.
func (r *Relay) inject(now time.Time) error {
	for r.mode == ModeReplay && r.pending && r.client != nil && r.next <= now.Sub(r.t0) {
		raw, err := r.reader.NextMessage()
		if err == io.EOF {
			r.logExhausted()
			return nil
		}
		if err != nil {
			return errors.NewWithError(errors.ExitCodeLog, errors.ErrMsgBadLogFrame, err)
		}

		if err := r.client.Send(raw, nil); err != nil {
			return errors.NewWithError(errors.ExitCodeIO, "inject to client", err)
		}
		r.stats.Injected++
		r.log.Debug().Dur("at", r.next).Int("bytes", len(raw)).Msg("injected recorded event")

		delta, err := r.reader.NextDelta()
		if err == io.EOF {
			r.logExhausted()
			return nil
		}
		if err != nil {
			return errors.NewWithError(errors.ExitCodeLog, errors.ErrMsgBadLogFrame, err)
		}
		r.next = delta
	}
	return nil
}

func (r *Relay) logExhausted() {
	r.mode = ModeIdle
	r.pending = false
	r.log.Info().Int("injected", r.stats.Injected).Msg("event log exhausted, relay continues idle")
}
