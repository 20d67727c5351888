package jim

import (
	"math"
	"time"
)

// Actions recognized on the wire.
const (
	ActionPresence = "presence"
	ActionMessage  = "message"
	ActionExit     = "exit"
)

// Response codes.
const (
	StatusOK         = 200
	StatusBadRequest = 400
)

// Timestamp is a point in time expressed as fractional Unix seconds, the form
// used by the "time" key.
type Timestamp float64

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return At(time.Now())
}

// At converts t to a Timestamp with microsecond precision.
func At(t time.Time) Timestamp {
	return Timestamp(math.Round(float64(t.UnixNano())/1e3) / 1e6)
}

// Time converts the timestamp back to a time.Time in UTC.
func (ts Timestamp) Time() time.Time {
	sec, frac := math.Modf(float64(ts))
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// Envelope is one protocol message unit. The concrete type is one of
// *Presence, *Message, *Exit or *Response.
type Envelope interface {
	// Action returns the value of the "action" key, empty for responses.
	Action() string
}

// User describes the account announcing itself in a presence envelope.
type User struct {
	AccountName string `json:"account_name" validate:"required"`
}

// Presence announces an account name, it must be the first envelope a client
// sends.
type Presence struct {
	Time Timestamp
	User User
}

// NewPresence creates a presence envelope for name stamped with the current
// time.
func NewPresence(name string) *Presence {
	return &Presence{Time: Now(), User: User{AccountName: name}}
}

func (*Presence) Action() string { return ActionPresence }

// Message is a text addressed from one account to another.
type Message struct {
	Time        Timestamp
	Sender      string `validate:"required"`
	Destination string `validate:"required"`
	Text        string `validate:"required"`
}

// NewMessage creates a message envelope stamped with the current time.
func NewMessage(sender, destination, text string) *Message {
	return &Message{
		Time:        Now(),
		Sender:      sender,
		Destination: destination,
		Text:        text,
	}
}

func (*Message) Action() string { return ActionMessage }

// Exit tells the server the account is leaving.
type Exit struct {
	Time        Timestamp
	AccountName string
}

// NewExit creates an exit envelope for name stamped with the current time.
func NewExit(name string) *Exit {
	return &Exit{Time: Now(), AccountName: name}
}

func (*Exit) Action() string { return ActionExit }

// Response is the server's answer to a presence envelope.
type Response struct {
	Code  int `validate:"oneof=200 400"`
	Error string
}

// OK returns a 200 response.
func OK() *Response {
	return &Response{Code: StatusOK}
}

// BadRequest returns a 400 response carrying the reason.
func BadRequest(reason string) *Response {
	return &Response{Code: StatusBadRequest, Error: reason}
}

func (*Response) Action() string { return "" }
