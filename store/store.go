package store

import (
	"errors"
	"time"
)

// ErrUnknownUser is returned when an operation names an account that has
// never logged in.
var ErrUnknownUser = errors.New("unknown user")

// ErrMissing is returned when removing something that does not exist.
var ErrMissing = errors.New("does not exist")

// ErrInvalidName is returned for names that cannot be used as keys.
var ErrInvalidName = errors.New("invalid name")

// KnownUser is an account that has logged in at least once.
type KnownUser struct {
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
	Sent     int       `json:"sent"`
	Received int       `json:"received"`
}

// ActiveSession is an account currently connected to the relay.
type ActiveSession struct {
	Name  string    `json:"name"`
	IP    string    `json:"ip"`
	Port  int       `json:"port"`
	Since time.Time `json:"since"`
}

// LoginRecord is one entry of an account's login history.
type LoginRecord struct {
	Name string    `json:"name"`
	Time time.Time `json:"time"`
	IP   string    `json:"ip"`
	Port int       `json:"port"`
}

// Store records who used the relay, from where and with whom.
type Store interface {
	RecordLogin(name, ip string, port int) error
	RecordLogout(name string) error
	KnownUsers() ([]KnownUser, error)
	ActiveSessions() ([]ActiveSession, error)
	// ClearActiveSessions forgets every active session, for a relay that is
	// starting with nobody connected.
	ClearActiveSessions() error
	// LoginHistory lists logins for name, or for everyone if name is empty.
	LoginHistory(name string) ([]LoginRecord, error)
	AddContact(user, contact string) error
	RemoveContact(user, contact string) error
	Contacts(user string) ([]string, error)
	RecordMessageExchange(sender, recipient string) error
	MessageStats(name string) (sent, received int, err error)
	Close() error
}
