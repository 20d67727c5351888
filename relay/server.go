package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shazow/rateio"

	"github.com/jimchat/jimchat/jim"
)

// Defaults used when a Config field is left zero.
const (
	DefaultPort   = 7777
	DefaultTick   = 500 * time.Millisecond
	DefaultOutbox = 16
)

const eventBuffer = 64

// Bounds of the backoff between failed Accept calls.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

var validate = validator.New()

// Config describes where and how the relay listens.
type Config struct {
	// Address to bind, empty for all interfaces.
	Address string
	Port    int `validate:"min=1024,max=65535"`
	// Tick is the longest the loop sleeps before draining the queue again.
	Tick time.Duration `validate:"gt=0"`
	// Outbox is how many frames may wait for a slow connection before it
	// stops being write-ready.
	Outbox int `validate:"min=1"`
}

// DefaultConfig returns a Config listening on all interfaces on DefaultPort.
func DefaultConfig() Config {
	return Config{Port: DefaultPort, Tick: DefaultTick, Outbox: DefaultOutbox}
}

// Validate checks the configuration before anything is bound.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid relay config: %w", err)
	}
	return nil
}

// Observer is told about registrations, departures and deliveries. It is
// called from the relay loop and must not block.
type Observer interface {
	Registered(name string, addr net.Addr)
	Unregistered(name string)
	Delivered(m *jim.Message)
}

type nopObserver struct{}

func (nopObserver) Registered(string, net.Addr) {}
func (nopObserver) Unregistered(string)         {}
func (nopObserver) Delivered(*jim.Message)      {}

// Server relays message envelopes between registered connections. A single
// goroutine, the one running Serve, owns the registry, the queue and every
// connection's state.
type Server struct {
	listener net.Listener
	tick     time.Duration
	outbox   int

	// RateLimit, if set, builds a read limiter for each new connection.
	RateLimit func() rateio.Limiter
	// Observer receives lifecycle notifications. Set it before Serve.
	Observer Observer

	registry *Registry
	queue    Queue
	conns    map[*conn]struct{}

	accepted  chan net.Conn
	acceptErr chan error
	events    chan event
	done      chan struct{}
	closeOnce sync.Once
}

// Listen validates cfg and binds a TCP listener for a new Server.
func Listen(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewServer(l, cfg), nil
}

// NewServer creates a Server on top of an existing listener. Zero Tick and
// Outbox fall back to the defaults; Address and Port are not used.
func NewServer(l net.Listener, cfg Config) *Server {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Outbox <= 0 {
		cfg.Outbox = DefaultOutbox
	}
	return &Server{
		listener:  l,
		tick:      cfg.Tick,
		outbox:    cfg.Outbox,
		Observer:  nopObserver{},
		registry:  NewRegistry(),
		conns:     map[*conn]struct{}{},
		accepted:  make(chan net.Conn),
		acceptErr: make(chan error, 1),
		events:    make(chan event, eventBuffer),
		done:      make(chan struct{}),
	}
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops the loop, the listener and every connection.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.listener.Close()
	})
	return err
}

// Serve runs the relay loop until Close is called or the listener fails. It
// returns nil after Close.
func (s *Server) Serve() error {
	if s.Observer == nil {
		s.Observer = nopObserver{}
	}
	go s.acceptLoop()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	defer s.shutdown()

	for {
		select {
		case nc := <-s.accepted:
			s.open(nc)
		case ev := <-s.events:
			s.handle(ev)
		case <-ticker.C:
		case err := <-s.acceptErr:
			select {
			case <-s.done:
				return nil
			default:
			}
			logger.Errorf("Failed to accept connection: %s", err)
			s.Close()
			return err
		case <-s.done:
			return nil
		}
		s.deliver()
	}
}

func (s *Server) acceptLoop() {
	var delay time.Duration
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if isTemporary(err) {
				// Out of file descriptors or similar: back off and retry like
				// net/http does, it clears once connections go away.
				if delay == 0 {
					delay = minAcceptDelay
				} else {
					delay *= 2
				}
				if delay > maxAcceptDelay {
					delay = maxAcceptDelay
				}
				logger.Warningf("Failed to accept connection: %s; retrying in %v", err, delay)
				select {
				case <-time.After(delay):
					continue
				case <-s.done:
					return
				}
			}
			s.acceptErr <- err
			return
		}
		delay = 0
		select {
		case s.accepted <- nc:
		case <-s.done:
			nc.Close()
			return
		}
	}
}

// isTemporary reports whether an Accept error may go away on its own.
func isTemporary(err error) bool {
	var ne interface{ Temporary() bool }
	return errors.As(err, &ne) && ne.Temporary()
}

func (s *Server) open(nc net.Conn) {
	var limiter rateio.Limiter
	if s.RateLimit != nil {
		limiter = s.RateLimit()
	}
	c := newConn(nc, limitReader(nc, limiter), s.outbox)
	s.conns[c] = struct{}{}
	logger.Infof("[%s] Connected.", c.RemoteAddr())

	go c.readLoop(s.events, s.done)
	go c.writeLoop(s.events, s.done)
}

func (s *Server) handle(ev event) {
	c := ev.conn
	if c.state == stateClosed {
		// Stragglers from a connection the loop already dropped.
		return
	}

	if ev.err != nil {
		switch {
		case ev.err == io.EOF:
			logger.Infof("[%s] Peer disconnected.", c.RemoteAddr())
		case errors.Is(ev.err, jim.ErrMalformedFrame), errors.Is(ev.err, jim.ErrFrameTooLarge):
			logger.Warningf("[%s] Closing on bad frame: %s", c.RemoteAddr(), ev.err)
		case ev.err == rateio.ErrRateExceeded:
			logger.Warningf("[%s] Closing, input rate exceeded.", c.RemoteAddr())
		default:
			logger.Warningf("[%s] Connection error: %s", c.RemoteAddr(), ev.err)
		}
		s.drop(c, false)
		return
	}

	switch c.state {
	case stateConnected:
		s.handshake(c, ev.env)
	case stateRegistered:
		s.route(c, ev.env)
	}
}

func (s *Server) handshake(c *conn, env jim.Envelope) {
	p, ok := env.(*jim.Presence)
	if !ok {
		logger.Warningf("[%s] %s: %q while %s.", c.RemoteAddr(), ErrProtocolViolation, env.Action(), c.state)
		s.drop(c, false)
		return
	}

	name := p.User.AccountName
	if err := s.registry.Register(name, c); err != nil {
		logger.Infof("[%s] Rejected %q: %s", c.RemoteAddr(), name, err)
		c.send(jim.BadRequest(err.Error()))
		s.drop(c, true)
		return
	}
	c.name = name
	c.state = stateRegistered
	c.send(jim.OK())

	logger.Infof("[%s] Registered: %s", c.RemoteAddr(), name)
	logger.Debugf("Registered names: %v", s.registry.Names())
	s.Observer.Registered(name, c.RemoteAddr())
}

func (s *Server) route(c *conn, env jim.Envelope) {
	switch e := env.(type) {
	case *jim.Message:
		logger.Debugf("[%s] Queued message %s -> %s", c.RemoteAddr(), e.Sender, e.Destination)
		s.queue.Push(e)
	case *jim.Exit:
		logger.Infof("[%s] Exit: %s", c.RemoteAddr(), c.name)
		s.drop(c, true)
	default:
		logger.Warningf("[%s] %s: %q from %s while %s.", c.RemoteAddr(), ErrProtocolViolation, env.Action(), c.name, c.state)
		s.drop(c, false)
	}
}

// drop moves c to the closed state, removing it from the registry and the
// connection set. With flush the frames already queued for c are written
// before the socket closes.
func (s *Server) drop(c *conn, flush bool) {
	if c.state == stateClosed {
		return
	}
	if c.state == stateRegistered {
		if s.registry.holds(c.name, c) {
			s.registry.Unregister(c.name)
			s.Observer.Unregistered(c.name)
			logger.Debugf("Registered names: %v", s.registry.Names())
		}
	}
	c.state = stateClosed
	delete(s.conns, c)

	if flush {
		c.closeAfterFlush()
	} else {
		c.Close()
	}
}

// deliver drains the queue, handing each envelope to its destination if it is
// registered and write-ready. Anything else is dropped, never requeued.
func (s *Server) deliver() {
	for _, m := range s.queue.Drain() {
		h, ok := s.registry.Lookup(m.Destination)
		if !ok {
			logger.Infof("Dropped message %s -> %s: %s", m.Sender, m.Destination, ErrUnknownDestination)
			continue
		}
		c := h.(*conn)
		if !c.send(m) {
			logger.Warningf("Dropped message %s -> %s: %s", m.Sender, m.Destination, ErrNotWriteReady)
			continue
		}
		s.Observer.Delivered(m)
	}
}

func (s *Server) shutdown() {
	for c := range s.conns {
		s.drop(c, false)
	}
}
