package relay

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"

	"github.com/jimchat/jimchat/jim"
)

// writeTimeout bounds a single frame write so a peer that stops reading
// cannot pin its writer forever.
const writeTimeout = 30 * time.Second

type state int

const (
	stateConnected state = iota
	stateRegistered
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case stateRegistered:
		return "registered"
	}
	return "closed"
}

// event is what a connection's goroutines report back to the loop: either a
// decoded envelope or the error that ended the connection.
type event struct {
	conn *conn
	env  jim.Envelope
	err  error
}

// conn is the connection handle. The name and state fields belong to the
// relay loop; the reader and writer goroutines only touch the socket and the
// channels.
type conn struct {
	net.Conn
	reader io.Reader

	name  string
	state state

	outbox    chan []byte
	done      chan struct{}
	flush     chan struct{}
	closeOnce sync.Once
	flushOnce sync.Once
}

func newConn(nc net.Conn, reader io.Reader, outbox int) *conn {
	return &conn{
		Conn:   nc,
		reader: bufio.NewReaderSize(reader, jim.MaxFrameSize),
		outbox: make(chan []byte, outbox),
		done:   make(chan struct{}),
		flush:  make(chan struct{}),
	}
}

// Alive reports whether the connection has not been closed.
func (c *conn) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Close releases the socket immediately. Safe to call more than once.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.Conn.Close()
	})
	return err
}

// closeAfterFlush asks the writer to send whatever is already queued and
// then close the connection.
func (c *conn) closeAfterFlush() {
	c.flushOnce.Do(func() {
		close(c.flush)
	})
}

// offer queues a frame without blocking. It returns false if the connection
// is gone or its outbox is full, which is what write-ready means here.
func (c *conn) offer(b []byte) bool {
	if !c.Alive() {
		return false
	}
	select {
	case c.outbox <- b:
		return true
	default:
		return false
	}
}

// send encodes and offers e.
func (c *conn) send(e jim.Envelope) bool {
	b, err := jim.Encode(e)
	if err != nil {
		logger.Errorf("[%s] Failed to encode %T: %s", c.RemoteAddr(), e, err)
		return false
	}
	return c.offer(b)
}

func report(events chan<- event, stop <-chan struct{}, ev event) {
	select {
	case events <- ev:
	case <-stop:
	}
}

// readLoop decodes frames until the connection fails, forwarding each one to
// the loop. Should be run in a goroutine.
func (c *conn) readLoop(events chan<- event, stop <-chan struct{}) {
	for {
		env, err := jim.ReadEnvelope(c.reader)
		report(events, stop, event{conn: c, env: env, err: err})
		if err != nil {
			return
		}
	}
}

// writeLoop consumes the outbox into the socket. Should be run in a
// goroutine.
func (c *conn) writeLoop(events chan<- event, stop <-chan struct{}) {
	for {
		select {
		case b := <-c.outbox:
			if err := c.write(b); err != nil {
				report(events, stop, event{conn: c, err: err})
				return
			}
		case <-c.flush:
			for {
				select {
				case b := <-c.outbox:
					if err := c.write(b); err != nil {
						c.Close()
						return
					}
				default:
					c.Close()
					return
				}
			}
		case <-c.done:
			return
		}
	}
}

func (c *conn) write(b []byte) error {
	c.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.Conn.Write(b)
	return err
}
