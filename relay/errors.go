package relay

import (
	"errors"

	"github.com/jimchat/jimchat/jim"
)

// ErrNameTaken is returned when registering a name already bound to a live
// connection.
var ErrNameTaken = errors.New("name taken")

// ErrInvalidName is returned when registering a name that jim.CheckName
// rejects.
var ErrInvalidName = jim.ErrInvalidName

// ErrUnknownDestination marks a message routed to a name with no live
// registration.
var ErrUnknownDestination = errors.New("unknown destination")

// ErrNotWriteReady marks a message whose destination could not take another
// frame this tick.
var ErrNotWriteReady = errors.New("destination not write-ready")

// ErrProtocolViolation marks an envelope that is not allowed in the
// connection's current state.
var ErrProtocolViolation = errors.New("protocol violation")
