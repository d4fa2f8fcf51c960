// Package mctp is a userspace MCTP (DSP0236 v1.3.1) transport carried over
// a reliable TCP stream. An Endpoint runs a staged pipeline of cooperating
// workers that fragment and reassemble messages, correlate requests and
// responses by tag, enforce retry and timeout semantics, and dispatch
// completed messages to per-type handlers. MCTP Control (type 0x00) is
// handled built-in; higher layers such as the CXL FM API register their
// own handlers.
package mctp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"golang.org/x/sys/unix"

	"github.com/JackrabbitLabs/mctp/internal/logging"
	"github.com/JackrabbitLabs/mctp/internal/queue"
	"github.com/JackrabbitLabs/mctp/internal/version"
	"github.com/JackrabbitLabs/mctp/internal/wire"
)

// Stop reasons. Zero means the pipeline is running.
const (
	stopNone     = 0
	stopExternal = 1 // Stop() was called
	stopInternal = 2 // a worker exited abnormally
)

// Config describes how an Endpoint obtains and runs its connection.
type Config struct {
	// Port is the TCP port to bind (server) or connect to (client).
	// Zero asks the server for an ephemeral port, reported by Port().
	Port int

	// BindAddress is the local address to bind in server mode or the
	// remote host in client mode. Empty means all interfaces / localhost.
	BindAddress string

	// Mode selects server or client operation.
	Mode Mode

	// NonBlockingStart makes Run return once the pipeline is ready
	// instead of blocking for the endpoint's lifetime.
	NonBlockingStart bool

	// Verbosity is a bitmask of Verbose* flags.
	Verbosity uint32

	// RetryMax is the default number of transmission attempts per
	// request. Zero selects DefaultRetryMax.
	RetryMax int

	// RetryInterval is how long a request waits for a response before
	// re-transmission. Zero selects DefaultRetryInterval.
	RetryInterval time.Duration

	// SubmitTick is the submitter polling period. Zero selects
	// DefaultSubmitTick.
	SubmitTick time.Duration

	// Logger overrides the default logger.
	Logger *logging.Logger
}

// DefaultConfig returns a server configuration on the default port.
func DefaultConfig() Config {
	return Config{
		Port:          DefaultPort,
		Mode:          ModeServer,
		RetryMax:      DefaultRetryMax,
		RetryInterval: DefaultRetryInterval,
		SubmitTick:    DefaultSubmitTick,
	}
}

// EndpointState is the MCTP-visible identity of the endpoint.
type EndpointState struct {
	EID         uint8
	BusOwnerEID uint8
	UUID        uuid.UUID
}

// Endpoint is one MCTP endpoint instance. All mutable state belongs to the
// instance, so multiple endpoints can coexist in a process.
type Endpoint struct {
	cfg     Config
	log     *logging.Logger
	metrics *Metrics

	// Endpoint identity, guarded by stateMu.
	stateMu sync.Mutex
	state   EndpointState

	// Per-type handlers, 7-bit index. Guarded by handlerMu; reads are
	// frequent, writes happen at setup.
	handlerMu sync.RWMutex
	handlers  [0x80]Handler

	versions version.Registry

	// Outstanding outbound requests by tag.
	tagsMu sync.Mutex
	tags   [NumTags]*Action

	// Lifecycle coordination.
	mu      sync.Mutex
	cond    *sync.Cond
	stop    int
	running bool

	// Connection-generation resources. qmu guards the pointers; each
	// generation's workers capture them at spawn.
	qmu     sync.RWMutex
	pkts    *queue.Pool[*wire.Wrapper]
	msgs    *queue.Pool[*Message]
	actions *queue.Pool[*Action]
	rpq     *queue.Queue[*wire.Wrapper]
	tpq     *queue.Queue[*Action]
	rmq     *queue.Queue[*Message]
	tmq     *queue.Queue[*Action]
	taq     *queue.Queue[*Action]
	acq     *queue.Queue[*Action]

	lis  net.Listener
	port int

	// submitWake nudges the submitter out of its tick sleep.
	submitWake chan struct{}

	// connCtx is cancelled when the current connection tears down;
	// abandoned synchronous waiters use it to stop reaping.
	connCtx    context.Context
	connCancel context.CancelFunc

	ready     chan struct{}
	readyOnce sync.Once
	loopDone  chan struct{}
	loopOnce  sync.Once
}

// New creates an endpoint with a freshly generated UUID, the MCTP Control
// handler installed, and the base and control protocol versions
// registered as F1.F3.F1 (1.3.1).
func New(cfg Config) (*Endpoint, error) {
	if cfg.RetryMax == 0 {
		cfg.RetryMax = DefaultRetryMax
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.SubmitTick == 0 {
		cfg.SubmitTick = DefaultSubmitTick
	}
	if cfg.Mode != ModeServer && cfg.Mode != ModeClient {
		return nil, NewError("new", ErrCodeInvalidParams, fmt.Sprintf("unknown mode %d", cfg.Mode))
	}

	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}

	ep := &Endpoint{
		cfg:        cfg,
		log:        log,
		metrics:    &Metrics{},
		submitWake: make(chan struct{}, 1),
		ready:      make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
	ep.cond = sync.NewCond(&ep.mu)
	ep.state.UUID = uuid.New()
	ep.connCtx, ep.connCancel = context.WithCancel(context.Background())

	ep.SetHandler(MsgTypeControl, (*Endpoint).ctrlHandler)

	ep.AddVersion(MsgTypeBase, 0xF1, 0xF3, 0xF1, 0x00)
	ep.AddVersion(MsgTypeControl, 0xF1, 0xF3, 0xF1, 0x00)

	return ep, nil
}

// SetHandler registers the handler for a 7-bit message type. A nil handler
// unregisters the type; unhandled requests are discarded.
func (ep *Endpoint) SetHandler(typ uint8, h Handler) {
	ep.handlerMu.Lock()
	ep.handlers[typ&0x7F] = h
	ep.handlerMu.Unlock()
}

func (ep *Endpoint) handler(typ uint8) Handler {
	ep.handlerMu.RLock()
	defer ep.handlerMu.RUnlock()
	return ep.handlers[typ&0x7F]
}

// AddVersion registers a supported protocol version for a message type.
// Duplicates are silently dropped. Digits are BCD with 0xF as the
// "don't care" marker, e.g. AddVersion(MsgTypeBase, 0xF1, 0xF3, 0xF1, 0)
// advertises 1.3.1.
func (ep *Endpoint) AddVersion(typ, major, minor, update, alpha uint8) {
	ep.versions.Insert(version.Entry{
		Type:   typ,
		Major:  major,
		Minor:  minor,
		Update: update,
		Alpha:  alpha,
	})
}

// State returns a copy of the endpoint identity.
func (ep *Endpoint) State() EndpointState {
	ep.stateMu.Lock()
	defer ep.stateMu.Unlock()
	return ep.state
}

// EID returns the endpoint's current ID (EIDNull until assigned).
func (ep *Endpoint) EID() uint8 {
	ep.stateMu.Lock()
	defer ep.stateMu.Unlock()
	return ep.state.EID
}

// Metrics exposes the endpoint's counters.
func (ep *Endpoint) Metrics() *Metrics { return ep.metrics }

// Port returns the actual bound port, useful when configured with port 0.
func (ep *Endpoint) Port() int {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.port
}

// Run starts the endpoint. In server mode it binds and serves one
// connection at a time, re-entering accept when a connection drops. In
// client mode it connects once. With NonBlockingStart the call returns as
// soon as the pipeline is ready (bounded by a one second handshake);
// otherwise it blocks until the endpoint stops.
func (ep *Endpoint) Run() error {
	ep.mu.Lock()
	if ep.running {
		ep.mu.Unlock()
		return NewError("run", ErrCodeInvalidParams, "endpoint already running")
	}
	ep.running = true
	ep.stop = stopNone
	ep.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", ep.cfg.BindAddress, ep.cfg.Port)

	var conn net.Conn
	switch ep.cfg.Mode {
	case ModeServer:
		lc := net.ListenConfig{
			Control: func(network, address string, c syscall.RawConn) error {
				var soErr error
				err := c.Control(func(fd uintptr) {
					soErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				})
				if err != nil {
					return err
				}
				return soErr
			},
		}
		lis, err := lc.Listen(context.Background(), "tcp4", addr)
		if err != nil {
			ep.setNotRunning()
			ep.loopOnce.Do(func() { close(ep.loopDone) })
			return WrapError("run", ErrCodeStartup, err)
		}
		ep.mu.Lock()
		ep.lis = lis
		ep.port = lis.Addr().(*net.TCPAddr).Port
		ep.mu.Unlock()
		ep.log.Info("listening", "addr", lis.Addr(), "mode", ep.cfg.Mode)

	case ModeClient:
		c, err := net.DialTimeout("tcp4", addr, startupTimeout)
		if err != nil {
			ep.setNotRunning()
			ep.loopOnce.Do(func() { close(ep.loopDone) })
			return WrapError("run", ErrCodeStartup, err)
		}
		conn = c
		ep.mu.Lock()
		ep.port = ep.cfg.Port
		ep.mu.Unlock()
		ep.log.Info("connected", "addr", c.RemoteAddr(), "mode", ep.cfg.Mode)
	}

	if ep.cfg.NonBlockingStart {
		go ep.connectionLoop(conn)
		select {
		case <-ep.ready:
			return nil
		case <-time.After(startupTimeout):
			ep.Stop()
			return NewError("run", ErrCodeStartup, "pipeline failed to start")
		}
	}

	ep.connectionLoop(conn)
	return nil
}

// Stop shuts the endpoint down: the current connection is torn down, all
// workers join, and in server mode the listener closes. Safe to call from
// any goroutine except the pipeline's own workers.
func (ep *Endpoint) Stop() error {
	ep.mu.Lock()
	if !ep.running {
		ep.mu.Unlock()
		return nil
	}
	ep.stop = stopExternal
	lis := ep.lis
	ep.cond.Broadcast()
	ep.mu.Unlock()

	// Unblock a connection loop stuck in Accept.
	if lis != nil {
		lis.Close()
	}

	<-ep.loopDone
	return nil
}

// requestStop is called by workers that exit abnormally; it asks the
// connection loop to tear down the current connection.
func (ep *Endpoint) requestStop() {
	ep.mu.Lock()
	if ep.stop == stopNone {
		ep.stop = stopInternal
		ep.cond.Broadcast()
	}
	ep.mu.Unlock()
}

func (ep *Endpoint) setNotRunning() {
	ep.mu.Lock()
	ep.running = false
	ep.mu.Unlock()
}

// configure resets per-connection state: fresh queues and pools, zeroed
// tag table, cleared bus owner. The assigned EID survives reconnects.
func (ep *Endpoint) configure() {
	ep.qmu.Lock()
	ep.pkts = queue.NewPool[*wire.Wrapper](PacketPoolSize, func() *wire.Wrapper { return &wire.Wrapper{} })
	ep.msgs = queue.NewPool[*Message](MessagePoolSize, func() *Message { return &Message{} })
	ep.actions = queue.NewPool[*Action](ActionPoolSize, func() *Action { return &Action{} })
	ep.rpq = queue.New[*wire.Wrapper](rpqSize)
	ep.tpq = queue.New[*Action](tpqSize)
	ep.rmq = queue.New[*Message](rmqSize)
	ep.tmq = queue.New[*Action](tmqSize)
	ep.taq = queue.New[*Action](taqSize)
	ep.acq = queue.New[*Action](acqSize)
	ep.qmu.Unlock()

	ep.tagsMu.Lock()
	ep.tags = [NumTags]*Action{}
	ep.tagsMu.Unlock()

	ep.stateMu.Lock()
	ep.state.BusOwnerEID = 0
	ep.stateMu.Unlock()

	ep.mu.Lock()
	if ep.stop == stopInternal {
		ep.stop = stopNone
	}
	ctx, cancel := context.WithCancel(context.Background())
	ep.connCtx, ep.connCancel = ctx, cancel
	ep.mu.Unlock()
}

// connectionLoop serves connections until stopped. Each iteration owns
// exactly one stream: configure, (accept,) spawn workers, wait for a stop
// signal, tear down, and in server mode loop back to accept.
func (ep *Endpoint) connectionLoop(conn net.Conn) {
	defer ep.loopOnce.Do(func() { close(ep.loopDone) })
	defer ep.setNotRunning()

	for {
		ep.configure()
		ep.readyOnce.Do(func() { close(ep.ready) })

		if ep.cfg.Mode == ModeServer {
			c, err := ep.lis.Accept()
			if err != nil {
				// Listener closed by Stop, or a fatal accept error.
				ep.mu.Lock()
				if ep.stop == stopNone {
					ep.stop = stopInternal
				}
				done := ep.stop == stopExternal
				ep.mu.Unlock()
				if !done {
					ep.log.Error("accept failed", "err", err)
				}
				return
			}
			conn = c
		}
		if conn == nil {
			return
		}

		connID := xid.New().String()
		ep.metrics.Connections.Add(1)
		ep.log.Info("connection up", "conn", connID, "remote", conn.RemoteAddr())

		ep.qmu.RLock()
		g := &generation{
			ep:      ep,
			id:      connID,
			conn:    conn,
			pkts:    ep.pkts,
			msgs:    ep.msgs,
			actions: ep.actions,
			rpq:     ep.rpq,
			tpq:     ep.tpq,
			rmq:     ep.rmq,
			tmq:     ep.tmq,
			taq:     ep.taq,
			acq:     ep.acq,
			stopCh:  make(chan struct{}),
		}
		ep.qmu.RUnlock()

		var wg sync.WaitGroup
		for _, w := range []func(){
			g.socketWriter, g.packetWriter, g.messageHandler,
			g.packetReader, g.socketReader, g.submitter, g.completer,
		} {
			wg.Add(1)
			go func(fn func()) {
				defer wg.Done()
				fn()
			}(w)
		}

		// Pend until an external stop or a worker failure.
		ep.mu.Lock()
		for ep.stop == stopNone {
			ep.cond.Wait()
		}
		reason := ep.stop
		ep.mu.Unlock()

		// Tear down: close the socket to unblock I/O, close queues and
		// pools to wake blocked workers, then join.
		conn.Close()
		conn = nil
		close(g.stopCh)
		g.rpq.Close()
		g.tpq.Close()
		g.rmq.Close()
		g.tmq.Close()
		g.taq.Close()
		g.acq.Close()
		g.pkts.Close()
		g.msgs.Close()
		g.actions.Close()
		wg.Wait()
		ep.connCancel()

		ep.log.Info("connection down", "conn", connID, "reason", reason)

		if reason == stopExternal || ep.cfg.Mode == ModeClient {
			if ep.lis != nil {
				ep.lis.Close()
			}
			return
		}
	}
}

// SubmitOptions tunes one submission.
type SubmitOptions struct {
	// Retry is the number of transmission attempts: 0 selects the
	// endpoint default, -1 retries forever.
	Retry int

	// Timeout, when non-zero, makes Submit synchronous: the call blocks
	// until the response arrives or the timeout elapses.
	Timeout time.Duration

	// UserData rides with the action until completion.
	UserData any

	// Lifecycle callbacks, ignored for the events a synchronous submit
	// consumes itself.
	OnSubmitted Callback
	OnCompleted Callback
	OnFailed    Callback
}

// Submit sends payload as a request message of the given type to dst and
// tracks it until a response with the matching tag arrives.
//
// Asynchronous (opts.Timeout == 0): Submit returns the in-flight action;
// the OnCompleted/OnFailed callbacks own it at completion.
//
// Synchronous (opts.Timeout > 0): Submit blocks up to the timeout and
// returns the completed action, whose Rsp holds the response; the caller
// must Retire it. On timeout the in-flight action is reaped internally
// and Submit returns ErrTimeout.
func (ep *Endpoint) Submit(typ uint8, dst uint8, payload []byte, opts *SubmitOptions) (*Action, error) {
	if opts == nil {
		opts = &SubmitOptions{}
	}
	if len(payload) == 0 || len(payload) > MaxMsgPayload-1 {
		return nil, NewError("submit", ErrCodeInvalidParams,
			fmt.Sprintf("payload length %d out of range", len(payload)))
	}

	ep.mu.Lock()
	if !ep.running {
		ep.mu.Unlock()
		return nil, &Error{Op: "submit", Code: ErrCodeStopped}
	}
	connCtx := ep.connCtx
	ep.mu.Unlock()

	ep.qmu.RLock()
	msgs, actions, taq := ep.msgs, ep.actions, ep.taq
	ep.qmu.RUnlock()
	if msgs == nil {
		return nil, &Error{Op: "submit", Code: ErrCodeStopped}
	}

	// Prepare the request message.
	mm, err := msgs.Acquire(true)
	if err != nil {
		return nil, &Error{Op: "submit", Code: ErrCodeStopped, Inner: err}
	}
	mm.SetHeader(dst, ep.EID(), true, 0)
	mm.Type = typ & 0x7F
	mm.Len = copy(mm.Payload[:], payload)
	mm.TS = time.Now()

	// Prepare the action.
	ma, err := actions.Acquire(true)
	if err != nil {
		_ = msgs.Release(mm)
		return nil, &Error{Op: "submit", Code: ErrCodeStopped, Inner: err}
	}
	ma.reset()
	ma.Req = mm
	ma.Created = mm.TS
	ma.UserData = opts.UserData
	ma.OnSubmitted = opts.OnSubmitted
	ma.OnCompleted = opts.OnCompleted
	ma.OnFailed = opts.OnFailed

	switch {
	case opts.Retry == 0:
		ma.Max = ep.cfg.RetryMax
	case opts.Retry < 0:
		ma.Max = -1
	default:
		ma.Max = opts.Retry
	}

	var done chan *Action
	if opts.Timeout > 0 {
		done = make(chan *Action, 1)
		ma.done = done
	}

	if err := taq.Push(ma); err != nil {
		ma.reset()
		_ = msgs.Release(mm)
		_ = actions.Release(ma)
		return nil, &Error{Op: "submit", Code: ErrCodeBusy, Inner: err}
	}

	// Nudge the submitter so admission does not wait out a full tick.
	select {
	case ep.submitWake <- struct{}{}:
	default:
	}

	if done == nil {
		return ma, nil
	}

	// Synchronous path: pend on the single-shot completion signal.
	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()
	select {
	case a := <-done:
		if a.CompletionCode != 0 {
			ep.Retire(a)
			return nil, &Error{Op: "submit", Code: ErrCodeActionFailed}
		}
		return a, nil
	case <-timer.C:
		// The action is still in flight. Reap its terminal signal in
		// the background so it returns to the pools; the connection
		// context bounds the wait.
		go func() {
			select {
			case a := <-done:
				ep.Retire(a)
			case <-connCtx.Done():
			}
		}()
		return nil, &Error{Op: "submit", Code: ErrCodeTimeout}
	}
}

// Respond hands a handler-built response to the transmit path. The action
// must carry Rsp; ownership transfers to the pipeline.
func (ep *Endpoint) Respond(a *Action) error {
	ep.qmu.RLock()
	tmq := ep.tmq
	ep.qmu.RUnlock()
	if tmq == nil {
		return &Error{Op: "respond", Code: ErrCodeStopped}
	}
	if err := tmq.Push(a); err != nil {
		return &Error{Op: "respond", Code: ErrCodeBusy, Inner: err}
	}
	return nil
}

// AcquireMessage checks a message out of the pool for handler use,
// blocking until one is available.
func (ep *Endpoint) AcquireMessage() (*Message, error) {
	ep.qmu.RLock()
	msgs := ep.msgs
	ep.qmu.RUnlock()
	if msgs == nil {
		return nil, &Error{Op: "acquire", Code: ErrCodeStopped}
	}
	mm, err := msgs.Acquire(true)
	if err != nil {
		return nil, &Error{Op: "acquire", Code: ErrCodeStopped, Inner: err}
	}
	return mm, nil
}
