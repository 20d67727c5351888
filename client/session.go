package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/jimchat/jimchat/jim"
)

const (
	dialTimeout      = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// ErrRejected is returned by Dial when the relay refuses the presence.
var ErrRejected = errors.New("rejected by server")

// ErrNoResponse is returned by Dial when the relay answers the presence with
// something other than a response.
var ErrNoResponse = errors.New("server did not answer presence")

// ErrExit ends the outgoing flow when the user leaves.
var ErrExit = errors.New("exit")

// Session is a joined connection to a relay. Frames are read and written
// under one mutex so the two flows never interleave on the connection.
type Session struct {
	name string
	poll time.Duration

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	commands Commands
}

// Dial connects to the relay described by cfg and performs the presence
// handshake.
func Dial(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := net.DialTimeout("tcp", cfg.Addr(), dialTimeout)
	if err != nil {
		return nil, err
	}
	s, err := NewSession(conn, cfg.Name, cfg.Poll)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewSession performs the presence handshake on an established connection.
func NewSession(conn net.Conn, name string, poll time.Duration) (*Session, error) {
	if poll <= 0 {
		poll = DefaultPoll
	}
	s := &Session{
		name:     name,
		poll:     poll,
		conn:     conn,
		reader:   bufio.NewReaderSize(conn, jim.MaxFrameSize),
		commands: defaultCommands,
	}

	if err := jim.WriteEnvelope(conn, jim.NewPresence(name)); err != nil {
		return nil, fmt.Errorf("sending presence: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	e, err := jim.ReadEnvelope(s.reader)
	if err != nil {
		return nil, fmt.Errorf("reading presence response: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	resp, ok := e.(*jim.Response)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNoResponse, e)
	}
	if resp.Code != jim.StatusOK {
		return nil, fmt.Errorf("%w: %d %s", ErrRejected, resp.Code, resp.Error)
	}
	logger.Infof("Joined %s as %s", conn.RemoteAddr(), name)
	return s, nil
}

// Name is the account name this session registered.
func (s *Session) Name() string {
	return s.name
}

// Close closes the connection without saying goodbye.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Send writes one envelope to the relay.
func (s *Session) Send(e jim.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return jim.WriteEnvelope(s.conn, e)
}

// SendMessage sends text to destination.
func (s *Session) SendMessage(destination, text string) error {
	return s.Send(jim.NewMessage(s.name, destination, text))
}

// Receive waits for the next envelope. The connection is only held for one
// poll interval at a time while nothing is arriving, so Send is never starved.
func (s *Session) Receive(ctx context.Context) (jim.Envelope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, ready, err := s.readFrame()
		if ready || err != nil {
			return e, err
		}
	}
}

// readFrame reads one frame if one starts arriving within the poll interval.
func (s *Session) readFrame() (jim.Envelope, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn.SetReadDeadline(time.Now().Add(s.poll))
	if _, err := s.reader.Peek(1); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, false, nil
		}
		return nil, false, err
	}
	// A frame has started; wait for the rest of it.
	s.conn.SetReadDeadline(time.Time{})
	e, err := jim.ReadEnvelope(s.reader)
	return e, true, err
}

// Run drives the session until the user exits, ctx is cancelled or the
// connection fails. The connection is closed when Run returns. A user exit
// returns nil.
func (s *Session) Run(ctx context.Context, fe Frontend) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.conn.Close()

	errs := make(chan error, 2)
	go func() {
		errs <- s.incoming(ctx, fe)
	}()
	go func() {
		errs <- s.outgoing(ctx, fe)
	}()

	var err error
	select {
	case err = <-errs:
	case <-ctx.Done():
		err = ctx.Err()
	}
	// The outgoing flow may be stuck reading input; it is not waited for.
	if errors.Is(err, ErrExit) {
		return nil
	}
	return err
}

func (s *Session) incoming(ctx context.Context, fe Frontend) error {
	for {
		e, err := s.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == io.EOF {
				return errors.New("connection closed by server")
			}
			return fmt.Errorf("receiving: %w", err)
		}

		m, ok := e.(*jim.Message)
		if !ok || m.Destination != s.name {
			logger.Warningf("Invalid message from server: %#v", e)
			continue
		}
		logger.Debugf("Message from %s", m.Sender)
		fe.Show(RenderMessage(m))
	}
}

func (s *Session) outgoing(ctx context.Context, fe Frontend) error {
	for {
		line, err := fe.ReadLine()
		if err == io.EOF {
			// Input is gone, leave the relay the polite way.
			line, err = "exit", nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = s.commands.Run(s, fe, line)
		switch {
		case err == nil:
		case errors.Is(err, ErrExit):
			return err
		case errors.Is(err, ErrInvalidCommand), errors.Is(err, ErrMissingArg):
			fe.Show(fmt.Sprintf("%s, try help", err))
		case errors.Is(err, jim.ErrFrameTooLarge):
			// Nothing was written, the connection is fine.
			fe.Show("Message too long, not sent.")
		default:
			return fmt.Errorf("sending: %w", err)
		}
	}
}
