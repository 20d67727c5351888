package jimchat

import (
	"net"
	"sync"

	"github.com/jimchat/jimchat/jim"
	"github.com/jimchat/jimchat/relay"
	"github.com/jimchat/jimchat/store"
)

var _ relay.Observer = &Journal{}

const journalBuffer = 256

type note struct {
	what string
	fn   func(store.Store) error
}

// Journal records relay activity into a store. It implements relay.Observer:
// notifications are queued without blocking and written by Serve, so a slow
// or failing store never holds up the relay loop.
type Journal struct {
	store store.Store
	notes chan note
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewJournal creates a Journal writing into s.
func NewJournal(s store.Store) *Journal {
	return &Journal{
		store: s,
		notes: make(chan note, journalBuffer),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Serve writes queued notifications until Close, should be run in a
// goroutine.
func (j *Journal) Serve() {
	defer close(j.done)
	for {
		select {
		case n := <-j.notes:
			j.apply(n)
		case <-j.quit:
			for {
				select {
				case n := <-j.notes:
					j.apply(n)
				default:
					return
				}
			}
		}
	}
}

// Close stops accepting notifications, flushes what is queued and waits for
// Serve to return.
func (j *Journal) Close() {
	j.once.Do(func() {
		close(j.quit)
	})
	<-j.done
}

func (j *Journal) apply(n note) {
	if err := n.fn(j.store); err != nil {
		logger.Errorf("Failed to record %s: %s", n.what, err)
	}
}

func (j *Journal) post(what string, fn func(store.Store) error) {
	select {
	case <-j.quit:
		logger.Warningf("Journal closed, dropped %s", what)
		return
	default:
	}
	select {
	case j.notes <- note{what, fn}:
	default:
		logger.Warningf("Journal full, dropped %s", what)
	}
}

// Registered records a login.
func (j *Journal) Registered(name string, addr net.Addr) {
	ip, port := splitAddr(addr)
	j.post("login of "+name, func(s store.Store) error {
		return s.RecordLogin(name, ip, port)
	})
}

// Unregistered records a logout.
func (j *Journal) Unregistered(name string) {
	j.post("logout of "+name, func(s store.Store) error {
		return s.RecordLogout(name)
	})
}

// Delivered records a message exchange.
func (j *Journal) Delivered(m *jim.Message) {
	sender, recipient := m.Sender, m.Destination
	j.post("message "+sender+" -> "+recipient, func(s store.Store) error {
		return s.RecordMessageExchange(sender, recipient)
	})
}

func splitAddr(addr net.Addr) (string, int) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String(), a.Port
	case nil:
		return "", 0
	}
	return addr.String(), 0
}
