package relay

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/jimchat/jimchat/jim"
)

const testTimeout = 2 * time.Second

func startServer(t *testing.T) *Server {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(l, Config{Tick: 10 * time.Millisecond})
	go s.Serve()
	t.Cleanup(func() { s.Close() })
	return s
}

func dial(t *testing.T, s *Server) net.Conn {
	c, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func send(t *testing.T, c net.Conn, e jim.Envelope) {
	if err := jim.WriteEnvelope(c, e); err != nil {
		t.Fatalf("failed to send %T: %s", e, err)
	}
}

func receive(t *testing.T, c net.Conn) jim.Envelope {
	c.SetReadDeadline(time.Now().Add(testTimeout))
	e, err := jim.ReadEnvelope(c)
	if err != nil {
		t.Fatalf("failed to receive: %s", err)
	}
	return e
}

func expectClosed(t *testing.T, c net.Conn) {
	c.SetReadDeadline(time.Now().Add(testTimeout))
	e, err := jim.ReadEnvelope(c)
	if err == nil {
		t.Fatalf("expected closed connection, got %#v", e)
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Fatal("connection was not closed by the server")
	}
}

func join(t *testing.T, s *Server, name string) net.Conn {
	c := dial(t, s)
	send(t, c, jim.NewPresence(name))
	resp, ok := receive(t, c).(*jim.Response)
	if !ok || resp.Code != jim.StatusOK {
		t.Fatalf("%s failed to join: %#v", name, resp)
	}
	return c
}

func expectMessage(t *testing.T, c net.Conn, expected *jim.Message) {
	actual, ok := receive(t, c).(*jim.Message)
	if !ok {
		t.Fatalf("expected a message, got %#v", actual)
	}
	if *actual != *expected {
		t.Errorf("Got: %+v; Expected: %+v", *actual, *expected)
	}
}

// syncWith sends a message to the client itself and waits for it, so everything
// that client sent earlier has been handled by the loop.
func syncWith(t *testing.T, c net.Conn, name string) {
	ping := jim.NewMessage(name, name, "ping")
	send(t, c, ping)
	expectMessage(t, c, ping)
}

func TestServerNameCollision(t *testing.T) {
	s := startServer(t)
	join(t, s, "alice")

	b := dial(t, s)
	send(t, b, jim.NewPresence("alice"))
	resp, ok := receive(t, b).(*jim.Response)
	if !ok {
		t.Fatalf("expected a response, got %#v", resp)
	}
	if resp.Code != jim.StatusBadRequest || resp.Error != ErrNameTaken.Error() {
		t.Errorf("Got: %+v; Expected 400 %q", *resp, ErrNameTaken)
	}
	expectClosed(t, b)
}

func TestServerRelay(t *testing.T) {
	s := startServer(t)
	alice := join(t, s, "alice")
	bob := join(t, s, "bob")

	m := &jim.Message{Time: jim.Now(), Sender: "alice", Destination: "bob", Text: "hi"}
	send(t, alice, m)
	expectMessage(t, bob, m)

	reply := jim.NewMessage("bob", "alice", "hello yourself")
	send(t, bob, reply)
	expectMessage(t, alice, reply)
}

func TestServerOrdering(t *testing.T) {
	s := startServer(t)
	alice := join(t, s, "alice")
	bob := join(t, s, "bob")

	sent := []*jim.Message{}
	for i := 0; i < 10; i++ {
		m := jim.NewMessage("alice", "bob", fmt.Sprintf("message %d", i))
		sent = append(sent, m)
		send(t, alice, m)
	}
	for _, m := range sent {
		expectMessage(t, bob, m)
	}
}

func TestServerUnknownDestination(t *testing.T) {
	s := startServer(t)
	alice := join(t, s, "alice")

	send(t, alice, jim.NewMessage("alice", "bob", "anyone there?"))
	syncWith(t, alice, "alice")

	// The earlier message was dropped, not held for bob.
	bob := join(t, s, "bob")
	m := jim.NewMessage("alice", "bob", "there you are")
	send(t, alice, m)
	expectMessage(t, bob, m)
}

func TestServerExit(t *testing.T) {
	s := startServer(t)
	alice := join(t, s, "alice")
	bob := join(t, s, "bob")

	send(t, alice, jim.NewExit("alice"))
	expectClosed(t, alice)

	send(t, bob, jim.NewMessage("bob", "alice", "gone already?"))
	syncWith(t, bob, "bob")

	again := join(t, s, "alice")
	m := jim.NewMessage("bob", "alice", "welcome back")
	send(t, bob, m)
	expectMessage(t, again, m)
}

func TestServerDisconnectFreesName(t *testing.T) {
	s := startServer(t)
	alice := join(t, s, "alice")
	bob := join(t, s, "bob")

	alice.Close()
	// Retry until the loop has noticed the disconnect.
	deadline := time.Now().Add(testTimeout)
	for {
		c := dial(t, s)
		send(t, c, jim.NewPresence("alice"))
		resp := receive(t, c).(*jim.Response)
		if resp.Code == jim.StatusOK {
			m := jim.NewMessage("bob", "alice", "hi again")
			send(t, bob, m)
			expectMessage(t, c, m)
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("alice never released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerProtocolViolation(t *testing.T) {
	s := startServer(t)

	c := dial(t, s)
	send(t, c, jim.NewMessage("alice", "bob", "skipping presence"))
	expectClosed(t, c)

	alice := join(t, s, "alice")
	send(t, alice, jim.NewPresence("alice"))
	expectClosed(t, alice)
}

func TestServerBadFrames(t *testing.T) {
	s := startServer(t)
	bob := join(t, s, "bob")

	garbage := dial(t, s)
	body := []byte("this is not json")
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	garbage.Write(frame)
	expectClosed(t, garbage)

	huge := dial(t, s)
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], jim.MaxFrameSize+1)
	huge.Write(header[:])
	expectClosed(t, huge)

	// The server keeps going.
	syncWith(t, bob, "bob")
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...interface{}) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recorder) Registered(name string, addr net.Addr) { r.add("registered %s", name) }
func (r *recorder) Unregistered(name string)              { r.add("unregistered %s", name) }
func (r *recorder) Delivered(m *jim.Message) {
	r.add("delivered %s->%s", m.Sender, m.Destination)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.events...)
}

func TestServerObserver(t *testing.T) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	obs := &recorder{}
	s := NewServer(l, Config{Tick: 10 * time.Millisecond})
	s.Observer = obs
	go s.Serve()
	defer s.Close()

	alice := join(t, s, "alice")
	bob := join(t, s, "bob")
	m := jim.NewMessage("alice", "bob", "hi")
	send(t, alice, m)
	expectMessage(t, bob, m)
	send(t, alice, jim.NewExit("alice"))
	expectClosed(t, alice)
	syncWith(t, bob, "bob")

	expected := []string{
		"registered alice",
		"registered bob",
		"delivered alice->bob",
		"unregistered alice",
		"delivered bob->bob",
	}
	actual := obs.Events()
	if fmt.Sprint(actual) != fmt.Sprint(expected) {
		t.Errorf("Got: %q; Expected: %q", actual, expected)
	}
}

func TestServerRateLimit(t *testing.T) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(l, Config{Tick: 10 * time.Millisecond})
	s.RateLimit = NewInputLimiter(256, time.Minute)
	go s.Serve()
	defer s.Close()

	c := dial(t, s)
	send(t, c, jim.NewPresence("chatty"))
	receive(t, c)
	for i := 0; i < 5; i++ {
		jim.WriteEnvelope(c, jim.NewMessage("chatty", "nobody", "lots and lots of words"))
	}
	expectClosed(t, c)
}

func TestListenValidatesConfig(t *testing.T) {
	for _, port := range []int{0, 80, 1023, 65536} {
		cfg := DefaultConfig()
		cfg.Address = "localhost"
		cfg.Port = port
		if _, err := Listen(cfg); err == nil {
			t.Errorf("port %d accepted", port)
		}
	}

	cfg := DefaultConfig()
	cfg.Tick = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero tick accepted")
	}
}

func TestServerInvalidName(t *testing.T) {
	s := startServer(t)
	for _, name := range []string{"a b", "a:b", strings.Repeat("x", jim.MaxNameLength+1)} {
		c := dial(t, s)
		send(t, c, jim.NewPresence(name))
		resp, ok := receive(t, c).(*jim.Response)
		if !ok {
			t.Fatalf("%q: expected a response, got %#v", name, resp)
		}
		if resp.Code != jim.StatusBadRequest || !strings.Contains(resp.Error, jim.ErrInvalidName.Error()) {
			t.Errorf("%q: Got: %+v; Expected 400 %q", name, *resp, jim.ErrInvalidName)
		}
		expectClosed(t, c)
	}
}

// flakyListener fails its first Accept calls the way a process out of file
// descriptors does.
type flakyListener struct {
	net.Listener
	mu       sync.Mutex
	failures int
}

func (l *flakyListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if l.failures > 0 {
		l.failures--
		l.mu.Unlock()
		return nil, &net.OpError{Op: "accept", Net: "tcp", Err: os.NewSyscallError("accept4", syscall.EMFILE)}
	}
	l.mu.Unlock()
	return l.Listener.Accept()
}

func TestServerSurvivesAcceptErrors(t *testing.T) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(&flakyListener{Listener: l, failures: 5}, Config{Tick: 10 * time.Millisecond})
	served := make(chan error, 1)
	go func() {
		served <- s.Serve()
	}()
	defer s.Close()

	alice := join(t, s, "alice")
	syncWith(t, alice, "alice")

	select {
	case err := <-served:
		t.Fatalf("Serve returned after temporary accept errors: %v", err)
	default:
	}
}

func TestServerStopsOnListenerFailure(t *testing.T) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(l, Config{Tick: 10 * time.Millisecond})
	defer s.Close()
	served := make(chan error, 1)
	go func() {
		served <- s.Serve()
	}()

	l.Close()
	select {
	case err := <-served:
		if err == nil {
			t.Error("Serve returned nil after the listener failed")
		}
	case <-time.After(testTimeout):
		t.Fatal("Serve kept running without a listener")
	}
}

func TestServerDropsWhenNotWriteReady(t *testing.T) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(l, Config{Tick: 10 * time.Millisecond, Outbox: 1})
	defer s.Close()
	obs := &recorder{}
	s.Observer = obs

	// bob's writer is not running yet, as if bob had stopped reading. The
	// loop is not running either, so the test drives deliver itself.
	local, peer := net.Pipe()
	defer peer.Close()
	bob := newConn(local, local, s.outbox)
	defer bob.Close()
	if err := s.registry.Register("bob", bob); err != nil {
		t.Fatal(err)
	}
	bob.name, bob.state = "bob", stateRegistered

	sent := []*jim.Message{}
	for i := 0; i < 3; i++ {
		m := jim.NewMessage("alice", "bob", fmt.Sprintf("message %d", i))
		sent = append(sent, m)
		s.queue.Push(m)
	}
	s.deliver()

	if len(bob.outbox) != 1 {
		t.Errorf("Got %d frames waiting for bob; Expected 1", len(bob.outbox))
	}
	if s.queue.Len() != 0 {
		t.Errorf("Got %d messages requeued; Expected none", s.queue.Len())
	}

	// bob drains: only the first message is there, the others are gone.
	go bob.writeLoop(s.events, s.done)
	expectMessage(t, peer, sent[0])

	later := jim.NewMessage("alice", "bob", "after draining")
	s.queue.Push(later)
	s.deliver()
	expectMessage(t, peer, later)

	// Nothing arrives twice.
	s.deliver()
	peer.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if e, err := jim.ReadEnvelope(peer); err == nil {
		t.Errorf("unexpected second delivery: %#v", e)
	}

	expected := []string{"delivered alice->bob", "delivered alice->bob"}
	if actual := obs.Events(); fmt.Sprint(actual) != fmt.Sprint(expected) {
		t.Errorf("Got: %q; Expected: %q", actual, expected)
	}
}

func TestStateString(t *testing.T) {
	expected := map[state]string{
		stateConnected:  "connected",
		stateRegistered: "registered",
		stateClosed:     "closed",
	}
	for st, name := range expected {
		if st.String() != name {
			t.Errorf("Got: %s; Expected: %s", st, name)
		}
	}
}
