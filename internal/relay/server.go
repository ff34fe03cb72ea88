package relay

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/relaydaemon/relaycore/internal/wire"
)

// Transport is the per-connection collaborator the embedder supplies: the
// server sends bytes and closes the handle through it, and the transport
// delivers inbound bytes (and peer close, as a zero-length chunk) back to
// the server through the callback registered with SetReceiver. The core
// never dials or accepts a socket itself — see §6.
type Transport interface {
	// SetReceiver registers the callback the transport invokes with every
	// chunk of bytes it reads. A zero-length chunk signals peer half-close.
	// Implementations own how (and on what goroutine) they read; the core
	// never touches a socket directly.
	SetReceiver(recv func(chunk []byte))

	// Send writes line's bytes in order. Errors are the embedder's to log;
	// the core treats a failed send as a silent no-op, per the error
	// handling design — a connection that can no longer be written to will
	// surface its own demise through a subsequent read failure.
	Send(line string) error

	// Close closes the underlying handle. Further Send/Close calls on an
	// already-closed Transport must be no-ops.
	Close() error
}

// Listener is the accept-side collaborator: something that hands the
// server newly accepted connections, each paired with the Transport used
// to write back to it. The embedder owns the actual network listener;
// this interface only carries the announcement.
type Listener interface {
	// Accept blocks until a new connection arrives or the listener is
	// closed, in which case it returns a non-nil error.
	Accept() (ConnID, Transport, error)
}

// eventType tags what kind of thing happened, for the single-goroutine
// event loop below.
type eventType int

const (
	eventNewConnection eventType = iota
	eventInboundBytes
	eventPeerClosed
	eventShutdown
)

type serverEvent struct {
	typ   eventType
	id    ConnID
	chunk []byte
	t     Transport
}

// Server wires a Registry, an Engine, and one Driver per connection
// together behind a single-goroutine event loop: every mutation and
// dispatch for every connection runs to completion before the next one
// begins, satisfying the single serialization domain the concurrency
// model requires without any lock beyond the Registry's own.
//
// Any goroutine may call Receive, Accepted, or PeerClosed; only the loop
// goroutine touches drivers, the engine, or the registry directly.
type Server struct {
	registry *Registry
	engine   *Engine
	log      zerolog.Logger

	transports map[ConnID]Transport
	drivers    map[ConnID]*Driver

	events   chan serverEvent
	shutdown chan struct{}
	done     chan struct{}
}

// NewServer returns a Server ready to have its event loop started with
// Run. serverName is used as the wire source for numerics and relayed
// server-originated messages (PONG).
func NewServer(serverName string, log zerolog.Logger) *Server {
	registry := NewRegistry()
	return &Server{
		registry:   registry,
		engine:     NewEngine(registry, serverName),
		log:        log,
		transports: make(map[ConnID]Transport),
		drivers:    make(map[ConnID]*Driver),
		events:     make(chan serverEvent),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// SetSendLusers toggles the supplemented post-registration connection
// count reply.
func (s *Server) SetSendLusers(on bool) {
	s.engine.SetSendLusers(on)
}

// Accepted registers a newly accepted connection and its transport, and
// wires the transport's byte delivery back into the event loop. The
// embedder calls this once per accepted connection, from whatever
// goroutine ran Listener.Accept.
func (s *Server) Accepted(id ConnID, t Transport) {
	t.SetReceiver(func(chunk []byte) { s.Receive(id, chunk) })
	s.events <- serverEvent{typ: eventNewConnection, id: id, t: t}
}

// Receive delivers a chunk of bytes read from a connection. A zero-length
// chunk signals peer half-close and runs the disconnect path.
func (s *Server) Receive(id ConnID, chunk []byte) {
	if len(chunk) == 0 {
		s.events <- serverEvent{typ: eventPeerClosed, id: id}
		return
	}
	s.events <- serverEvent{typ: eventInboundBytes, id: id, chunk: chunk}
}

// PeerClosed runs the disconnect path for id with the default
// "Connection closed" reason. Callers should use this for read errors as
// well as zero-byte reads.
func (s *Server) PeerClosed(id ConnID) {
	s.events <- serverEvent{typ: eventPeerClosed, id: id}
}

// Run starts the event loop and blocks until Shutdown is called and every
// connection still attached has been disconnected and closed. Events not
// yet received by the loop when Shutdown is called are not processed.
// Run must be called exactly once.
func (s *Server) Run() {
	defer close(s.done)

	for {
		select {
		case evt := <-s.events:
			s.handle(evt)
		case <-s.shutdown:
			s.drainShutdown()
			return
		}
	}
}

func (s *Server) handle(evt serverEvent) {
	switch evt.typ {
	case eventNewConnection:
		s.transports[evt.id] = evt.t
		s.drivers[evt.id] = &Driver{}
		s.registry.Attach(evt.id)
		s.log.Debug().Str("conn", string(evt.id)).Msg("connection accepted")

	case eventInboundBytes:
		driver, ok := s.drivers[evt.id]
		if !ok {
			return
		}
		for _, raw := range driver.Feed(evt.chunk) {
			line, ok := wire.Parse(raw)
			if !ok {
				continue
			}
			out := s.engine.Dispatch(evt.id, line)
			s.deliver(out)
			if line.Command == "QUIT" {
				s.teardown(evt.id)
				return
			}
		}

	case eventPeerClosed:
		out := s.engine.Disconnect(evt.id, "Connection closed")
		s.deliver(out)
		s.teardown(evt.id)

	case eventShutdown:
	}
}

func (s *Server) teardown(id ConnID) {
	if t, ok := s.transports[id]; ok {
		_ = t.Close()
	}
	delete(s.transports, id)
	delete(s.drivers, id)
}

func (s *Server) deliver(out []Outbound) {
	for _, o := range out {
		t, ok := s.transports[o.To]
		if !ok {
			continue
		}
		if err := t.Send(o.Line); err != nil {
			s.log.Debug().Str("conn", string(o.To)).Err(err).Msg("send failed")
		}
	}
}

// Shutdown runs every remaining connection through the disconnect path
// with the reason "Server shutting down" (its QUIT goes to those room
// peers that are still attached; nothing is sent to a connection with no
// such peer), closes their transports, and stops the event loop. It blocks
// until Run has returned.
func (s *Server) Shutdown(reason string) {
	s.log.Info().Str("reason", reason).Msg("server shutdown initiated")
	close(s.shutdown)
	<-s.done
}

// AcceptLoop repeatedly calls l.Accept and feeds each new connection into
// the event loop, until Accept returns an error (typically because the
// embedder closed the underlying listener during shutdown).
func (s *Server) AcceptLoop(l Listener) {
	for {
		id, t, err := l.Accept()
		if err != nil {
			s.log.Info().Err(err).Msg("accept loop stopping")
			return
		}
		s.Accepted(id, t)
	}
}

func (s *Server) drainShutdown() {
	for id := range s.transports {
		out := s.engine.Disconnect(id, "Server shutting down")
		s.deliver(out)
		s.teardown(id)
	}
}

// CheckIdle is an optional embedder-level helper, not invoked by the core
// event loop itself: a ticker in the embedder can call it periodically to
// disconnect connections that haven't sent anything in longer than
// deadAfter. The core engine imposes no timeouts of its own.
func (s *Server) CheckIdle(deadAfter time.Duration, lastActivity map[ConnID]time.Time) {
	now := time.Now()
	for id, last := range lastActivity {
		if now.Sub(last) > deadAfter {
			s.PeerClosed(id)
		}
	}
}
