package a314mux

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config holds the tunable, non-protocol knobs of an Engine. Ring
// geometry and the wire format itself are ABI-frozen (§6) and are not
// configurable.
type Config struct {
	// Parity pins which half of the 8-bit stream-id space this engine
	// allocates from (0 or 1). It must differ from whatever the peer
	// uses, so locally- and peer-initiated streams never collide
	// (§4.2, §9). Defaults to 1 (odd), mirroring this corpus's
	// convention of the client side owning odd stream/session ids.
	Parity byte

	// RequestBacklog bounds how many client requests may be queued for
	// the engine before SubmitRequest blocks. Purely a Go-land
	// convenience; the protocol itself has no concept of a request
	// queue depth.
	RequestBacklog int

	// Logger receives structured records for protocol errors and
	// invariant violations (§7, §9). A nil Logger disables logging.
	Logger *logrus.Logger
}

// DefaultConfig returns the engine's usual settings.
func DefaultConfig() *Config {
	return &Config{
		Parity:         1,
		RequestBacklog: 128,
		Logger:         logrus.StandardLogger(),
	}
}

// Engine is the local, client-serving side of the protocol core (§2
// component 6). All socket-table and ring mutation happens on the
// single goroutine running Run; every other method is safe to call
// concurrently because it only ever hands work to that goroutine.
type Engine struct {
	com     *ComArea
	config  *Config
	log     *logrus.Entry
	sockets *socketTable
	sendQ   *sendQueue

	requestCh chan *Request

	closeOnce sync.Once
	closed    chan struct{}
}

// NewEngine constructs an Engine bound to com. Call Run to start the
// cooperative service loop.
func NewEngine(com *ComArea, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel + 1) // effectively silent
	}
	return &Engine{
		com:       com,
		config:    config,
		log:       logger.WithField("component", "a314mux.engine"),
		sockets:   newSocketTable(config.Parity),
		sendQ:     newSendQueue(),
		requestCh: make(chan *Request, config.RequestBacklog),
		closed:    make(chan struct{}),
	}
}

// Run executes the main loop of §4.7 until ctx is cancelled or Close
// is called. It owns every mutation of the socket table and the
// rings; no other goroutine may touch them.
func (e *Engine) Run(ctx context.Context) error {
	// Arm before the first wait: with nothing yet in flight, step
	// 4-5's arming still has to run once so the very first peer or
	// client edge has somewhere to land.
	e.drainToFixedPoint()

	for {
		select {
		case <-ctx.Done():
			e.Close()
			e.shutdown()
			return ctx.Err()
		case <-e.closed:
			e.shutdown()
			return nil
		case req := <-e.requestCh:
			// Step 3: a request arrived. Disable our own peer-wake
			// arming before mutating state, then drain every request
			// already buffered so a burst of client calls is handled
			// in one pass.
			e.com.Local.disableAll()
			e.handleRequest(req)
			e.drainBufferedRequests()
		case <-e.com.Local.wake:
			e.com.Local.disableAll()
		}

		e.drainToFixedPoint()
	}
}

// drainBufferedRequests opportunistically handles any additional
// requests already sitting in requestCh without blocking, matching
// §4.7 step 3's "drain all pending client requests."
func (e *Engine) drainBufferedRequests() {
	for {
		select {
		case req := <-e.requestCh:
			e.handleRequest(req)
		default:
			return
		}
	}
}

// drainToFixedPoint runs inbound demux and outbound drain to
// stability, then arms the appropriate peer-wake edges (§4.7 steps
// 4-5). If, at arming time, the send-queue head turns out to fit after
// all (the peer consumed a2r concurrently with our drain), it loops
// instead of sleeping.
func (e *Engine) drainToFixedPoint() {
	for {
		e.demuxInbound()
		e.drainOutbound()

		if e.sendQ.empty() {
			e.com.Local.arm(EdgeR2ATail)
			return
		}
		front := e.sendQ.front()
		if !e.com.A2R.roomFor(front.sendQueueRequiredLength) {
			e.com.Local.arm(EdgeR2ATail | EdgeA2RHead)
			return
		}
		// Room appeared between drainOutbound's last check and now;
		// not a stable fixed point yet, go round again.
	}
}

// SubmitRequest hands req to the engine and blocks until it is
// replied to. It is the client request ABI's entry point (§6).
func (e *Engine) SubmitRequest(req *Request) Reply {
	req.reply = make(chan Reply, 1)
	select {
	case e.requestCh <- req:
	case <-e.closed:
		return Reply{Code: replyForClose(req.Command)}
	}
	select {
	case r := <-req.reply:
		return r
	case <-e.closed:
		return Reply{Code: replyForClose(req.Command)}
	}
}

func replyForClose(cmd Command) ReplyCode {
	switch cmd {
	case CmdConnect:
		return ConnectReset
	case CmdRead:
		return ReadReset
	case CmdWrite:
		return WriteReset
	case CmdEOS:
		return EOSReset
	case CmdReset:
		return ResetOK
	default:
		return NoCmd
	}
}

// Close tears the engine down: every socket is closed (completing any
// pending request with its *_RESET code) and the run loop exits. No
// unload/reload path exists beyond this (§9, §6 "no persistent
// state").
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
	})
	return nil
}

// NumSockets reports the number of currently tracked streams; mainly
// useful for tests asserting cleanup.
func (e *Engine) NumSockets() int {
	return e.sockets.len()
}

// shutdown completes any pending request on every remaining socket
// with its *_RESET code and drops all state. No outbound RESET frame
// is attempted: the engine is going away, and there is no unload path
// for resuming the wire protocol afterwards (§9).
func (e *Engine) shutdown() {
	for _, s := range e.sockets.byStreamID {
		e.completePending(s)
		s.dropReceived()
		e.sendQ.remove(s)
	}
	e.sockets.byStreamID = make(map[byte]*Socket)
	e.sockets.byKey = make(map[socketKey]*Socket)
}
