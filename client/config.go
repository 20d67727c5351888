package client

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jimchat/jimchat/jim"
)

// Defaults used by DefaultConfig.
const (
	DefaultAddress = "127.0.0.1"
	DefaultPort    = 7777
	DefaultPoll    = 100 * time.Millisecond
)

// MaxNameLength is the longest account name a client will present.
const MaxNameLength = jim.MaxNameLength

// ErrInvalidName is returned for account names the relay would refuse.
var ErrInvalidName = jim.ErrInvalidName

var validate = validator.New()

// Config describes which relay to join and as whom.
type Config struct {
	Address string `validate:"required"`
	Port    int    `validate:"min=1024,max=65535"`
	Name    string `validate:"required,max=25"`
	// Poll is how long the incoming flow holds the connection waiting for a
	// frame before letting the outgoing flow write.
	Poll time.Duration `validate:"gte=0"`
}

// DefaultConfig returns a Config for a relay on this machine.
func DefaultConfig(name string) Config {
	return Config{Address: DefaultAddress, Port: DefaultPort, Name: name, Poll: DefaultPoll}
}

// Validate checks the configuration before anything is dialed.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid client config: %w", err)
	}
	return CheckName(c.Name)
}

// Addr is the host:port to dial.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// CheckName reports whether name is usable as an account name.
func CheckName(name string) error {
	return jim.CheckName(name)
}
