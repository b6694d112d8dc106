// ABOUTME: Single-attempt realtime websocket transport with handshake state machine.
// ABOUTME: Watchdog-based stale detection, client ping loop, callback delivery.

package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-rocket/internal/protocol"
)

var (
	// ErrAuthFailed distinguishes a rejected login so the supervisor can
	// trigger credential refresh.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrClosedBeforeAuth marks a connection that never completed the
	// handshake, including dial failures.
	ErrClosedBeforeAuth = errors.New("connection closed before authentication")

	// ErrWatchdogTimeout marks a silently dead connection: the socket stayed
	// open but no protocol traffic arrived for the watchdog duration.
	ErrWatchdogTimeout = errors.New("watchdog timeout")
)

// Defaults for the keepalive machinery.
const (
	DefaultWatchdogTimeout = 120 * time.Second
	DefaultPingInterval    = 30 * time.Second

	writeTimeout = 10 * time.Second
)

// Callbacks deliver connection events. All callbacks run on the connection's
// event loop; they must not block.
type Callbacks struct {
	// OnConnected fires once authentication succeeds, before subscribing.
	OnConnected func()
	// OnMessage fires for each message on the subscribed stream.
	OnMessage func(ev *protocol.StreamEvent)
	// OnError fires for watchdog timeouts, auth failures, and pre-auth closes.
	OnError func(err error)
}

// Options configures one connection attempt.
type Options struct {
	Endpoint        string
	WatchdogTimeout time.Duration
	PingInterval    time.Duration
	Logger          *slog.Logger
}

// Outcome is the tagged result of one connection attempt: either the
// connection authenticated and later closed (Opened with close code/reason),
// or it never got that far.
type Outcome struct {
	Opened bool
	Code   int
	Reason string
}

// session owns the goroutines for one physical connection.
type session struct {
	conn    *websocket.Conn
	frames  chan protocol.Frame
	readErr chan error
	writeCh chan []byte
	done    chan struct{}
	logger  *slog.Logger
}

// Connect performs one full connection attempt and blocks until the
// connection terminates. No state survives the call except what the caller
// accumulates through callbacks. Cancelling ctx force-terminates the socket
// and resolves cleanly (nil error): a graceful drain is deliberately avoided,
// since a drained-but-late message would look fresh to the dedup cache.
func Connect(ctx context.Context, opts Options, credential string, cb Callbacks) (Outcome, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "realtime")

	watchdogTimeout := opts.WatchdogTimeout
	if watchdogTimeout <= 0 {
		watchdogTimeout = DefaultWatchdogTimeout
	}
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.Endpoint, nil)
	if err != nil {
		return Outcome{Reason: "dial failed"}, fmt.Errorf("%w: dialing %s: %v", ErrClosedBeforeAuth, opts.Endpoint, err)
	}

	s := &session{
		conn:    conn,
		frames:  make(chan protocol.Frame, 32),
		readErr: make(chan error, 1),
		writeCh: make(chan []byte, 32),
		done:    make(chan struct{}),
		logger:  logger,
	}
	defer close(s.done)
	defer conn.Close()

	go s.readLoop()
	go s.writeLoop()

	handshake, err := protocol.ConnectRequest()
	if err != nil {
		return Outcome{Reason: "handshake encoding failed"}, fmt.Errorf("building connect frame: %w", err)
	}
	s.send(handshake)

	const loginID = "login-1"
	const subID = "sub-1"

	authed := false
	watchdog := time.NewTimer(watchdogTimeout)
	defer watchdog.Stop()

	// The ping loop starts only after authentication; a nil channel never
	// fires in select.
	var pingC <-chan time.Time
	var pingTicker *time.Ticker
	defer func() {
		if pingTicker != nil {
			pingTicker.Stop()
		}
	}()
	pingSeq := 0

	for {
		select {
		case <-ctx.Done():
			logger.Debug("connection attempt canceled")
			return Outcome{Opened: authed, Reason: "canceled"}, nil

		case <-watchdog.C:
			// The socket may still look open (e.g. after host suspend/resume)
			// while the peer is long gone; don't wait for TCP to notice.
			werr := fmt.Errorf("%w: no traffic for %s", ErrWatchdogTimeout, watchdogTimeout)
			if cb.OnError != nil {
				cb.OnError(werr)
			}
			return Outcome{Opened: authed, Reason: "watchdog timeout"}, werr

		case <-pingC:
			pingSeq++
			if frame, err := protocol.PingRequest("client-ping-" + strconv.Itoa(pingSeq)); err == nil {
				s.send(frame)
			}

		case err := <-s.readErr:
			out := outcomeFromClose(err, authed)
			if !authed {
				werr := fmt.Errorf("%w: %v", ErrClosedBeforeAuth, err)
				if cb.OnError != nil {
					cb.OnError(werr)
				}
				return out, werr
			}
			// Frames parsed before the close landed are still buffered;
			// deliver them so a burst followed by a close loses nothing.
			s.drainPending(cb)
			logger.Info("connection closed", "code", out.Code, "reason", out.Reason)
			return out, nil

		case f := <-s.frames:
			resetWatchdog(watchdog, watchdogTimeout)

			switch f.Kind {
			case protocol.FramePing:
				if frame, err := protocol.PongReply(f.ID); err == nil {
					s.send(frame)
				}

			case protocol.FrameConnected:
				if frame, err := protocol.LoginRequest(loginID, credential); err == nil {
					s.send(frame)
				}

			case protocol.FrameResult:
				if f.ID != loginID {
					continue
				}
				if f.Error != nil {
					werr := fmt.Errorf("%w: %s", ErrAuthFailed, f.Error.Reason)
					if cb.OnError != nil {
						cb.OnError(werr)
					}
					return Outcome{Reason: "authentication rejected"}, werr
				}
				authed = true
				logger.Info("authenticated")
				if cb.OnConnected != nil {
					cb.OnConnected()
				}
				if frame, err := protocol.SubscribeRequest(subID, protocol.StreamRoomMessages, protocol.SentinelMyMessages); err == nil {
					s.send(frame)
				}
				pingTicker = time.NewTicker(pingInterval)
				pingC = pingTicker.C

			case protocol.FrameReady:
				logger.Debug("subscription ready")

			case protocol.FrameChanged:
				s.deliverChanged(f, cb)

			case protocol.FramePong, protocol.FrameNoSub, protocol.FrameUnknown:
				// Keepalive and bookkeeping; the watchdog reset is the point.
			}
		}
	}
}

// deliverChanged pushes a stream event from a changed frame to the caller,
// filtering other collections, malformed events, and the sentinel placeholder.
func (s *session) deliverChanged(f protocol.Frame, cb Callbacks) {
	if f.Collection != protocol.StreamRoomMessages {
		return
	}
	ev, err := protocol.DecodeStreamEvent(f.Fields)
	if err != nil {
		s.logger.Debug("dropping malformed stream event", "error", err)
		return
	}
	if ev.Message.RoomID == protocol.SentinelMyMessages {
		// Subscription placeholder, not a real conversation.
		return
	}
	if cb.OnMessage != nil {
		cb.OnMessage(ev)
	}
}

// drainPending delivers changed frames that were parsed before the close.
func (s *session) drainPending(cb Callbacks) {
	for {
		select {
		case f := <-s.frames:
			if f.Kind == protocol.FrameChanged {
				s.deliverChanged(f, cb)
			}
		default:
			return
		}
	}
}

// readLoop feeds parsed frames to the event loop. A single malformed frame
// is dropped, never fatal to the connection.
func (s *session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.readErr <- err:
			case <-s.done:
			}
			return
		}

		frame, err := protocol.ParseFrame(data)
		if err != nil {
			s.logger.Debug("dropping malformed frame", "error", err)
			continue
		}

		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

// writeLoop serializes all socket writes through one goroutine.
func (s *session) writeLoop() {
	for {
		select {
		case data := <-s.writeCh:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("write failed", "error", err)
				return
			}
		case <-s.done:
			return
		}
	}
}

// send queues a frame for the writer without blocking connection teardown.
func (s *session) send(data []byte) {
	select {
	case s.writeCh <- data:
	case <-s.done:
	}
}

// resetWatchdog safely rearms a timer whose channel hasn't been drained this
// iteration.
func resetWatchdog(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// outcomeFromClose extracts the close code/reason when the peer sent one.
func outcomeFromClose(err error, authed bool) Outcome {
	out := Outcome{Opened: authed, Reason: err.Error()}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		out.Code = ce.Code
		out.Reason = ce.Text
	}
	return out
}
