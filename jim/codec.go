package jim

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// MaxFrameSize is the largest frame accepted on the wire, length prefix
// included.
const MaxFrameSize = 4096

// headerSize is the size of the big-endian length prefix.
const headerSize = 4

// ErrMalformedFrame is returned when a frame body is not a valid envelope.
var ErrMalformedFrame = errors.New("malformed frame")

// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

var validate = validator.New()

// frameKeys are the keys of frame, matched with exact case.
var frameKeys = []string{
	"action", "time", "user", "account_name", "sender",
	"destination", "message_text", "response", "error",
}

// frame is the flat key/value form of every envelope.
type frame struct {
	Action      string     `json:"action,omitempty"`
	Time        *Timestamp `json:"time,omitempty"`
	User        *User      `json:"user,omitempty"`
	AccountName string     `json:"account_name,omitempty"`
	Sender      string     `json:"sender,omitempty"`
	Destination string     `json:"destination,omitempty"`
	MessageText string     `json:"message_text,omitempty"`
	Response    *int       `json:"response,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func toFrame(e Envelope) (*frame, error) {
	switch e := e.(type) {
	case *Presence:
		user := e.User
		return &frame{Action: ActionPresence, Time: &e.Time, User: &user}, nil
	case *Message:
		return &frame{
			Action:      ActionMessage,
			Time:        &e.Time,
			Sender:      e.Sender,
			Destination: e.Destination,
			MessageText: e.Text,
		}, nil
	case *Exit:
		return &frame{Action: ActionExit, Time: &e.Time, AccountName: e.AccountName}, nil
	case *Response:
		code := e.Code
		return &frame{Response: &code, Error: e.Error}, nil
	case nil:
		return nil, fmt.Errorf("%w: nil envelope", ErrMalformedFrame)
	}
	return nil, fmt.Errorf("%w: unsupported envelope %T", ErrMalformedFrame, e)
}

func (f *frame) envelope() (Envelope, error) {
	var ts Timestamp
	switch {
	case f.Time != nil:
		ts = *f.Time
	case f.Action != "":
		// Zero is a valid time, only a missing one is rejected.
		return nil, fmt.Errorf("%w: %s without time", ErrMalformedFrame, f.Action)
	}

	var e Envelope
	switch f.Action {
	case ActionPresence:
		if f.User == nil {
			return nil, fmt.Errorf("%w: presence without user", ErrMalformedFrame)
		}
		e = &Presence{Time: ts, User: *f.User}
	case ActionMessage:
		e = &Message{
			Time:        ts,
			Sender:      f.Sender,
			Destination: f.Destination,
			Text:        f.MessageText,
		}
	case ActionExit:
		e = &Exit{Time: ts, AccountName: f.AccountName}
	case "":
		if f.Response == nil {
			return nil, fmt.Errorf("%w: missing action", ErrMalformedFrame)
		}
		e = &Response{Code: *f.Response, Error: f.Error}
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrMalformedFrame, f.Action)
	}

	if err := validate.Struct(e); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
	}
	return e, nil
}

// Encode renders e as a length-prefixed frame.
func Encode(e Envelope) ([]byte, error) {
	f, err := toFrame(e)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
	}
	if headerSize+len(body) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[headerSize:], body)
	return buf, nil
}

// Decode parses one complete frame. It is the inverse of Encode; trailing
// bytes after the frame are rejected.
func Decode(b []byte) (Envelope, error) {
	if len(b) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if len(b) < headerSize {
		return nil, fmt.Errorf("%w: short header", ErrMalformedFrame)
	}
	n, err := bodySize(b[:headerSize])
	if err != nil {
		return nil, err
	}
	if len(b)-headerSize != n {
		return nil, fmt.Errorf("%w: body is %d bytes, header says %d", ErrMalformedFrame, len(b)-headerSize, n)
	}
	return decodeBody(b[headerSize:])
}

// ReadEnvelope reads exactly one frame from r. It never consumes bytes past
// the end of the frame.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n, err := bodySize(header[:])
	if err != nil {
		return nil, err
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return decodeBody(body)
}

// WriteEnvelope encodes e and writes the whole frame to w.
func WriteEnvelope(w io.Writer, e Envelope) error {
	b, err := Encode(e)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func bodySize(header []byte) (int, error) {
	n := int(binary.BigEndian.Uint32(header))
	if n > MaxFrameSize-headerSize {
		return 0, ErrFrameTooLarge
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: empty body", ErrMalformedFrame)
	}
	return n, nil
}

func decodeBody(body []byte) (Envelope, error) {
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("%w: body is not utf-8", ErrMalformedFrame)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedFrame)
	}
	if err := checkKeys(raw); err != nil {
		return nil, err
	}
	var f frame
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
	}
	return f.envelope()
}

// checkKeys rejects keys that differ from a known key only by case, which
// encoding/json would otherwise accept. Unrelated keys are ignored.
func checkKeys(raw map[string]json.RawMessage) error {
	for key := range raw {
		if lo.Contains(frameKeys, key) {
			continue
		}
		if lo.ContainsBy(frameKeys, func(known string) bool { return strings.EqualFold(key, known) }) {
			return fmt.Errorf("%w: unknown key %q", ErrMalformedFrame, key)
		}
	}
	return nil
}
