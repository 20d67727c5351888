package jimchat

import (
	"io/ioutil"

	"github.com/alexcesaro/log"
	"github.com/alexcesaro/log/golog"
)

var logger *golog.Logger

// SetLogger changes the logger used for logging inside the package.
func SetLogger(l *golog.Logger) {
	logger = l
}

func init() {
	// Set a default null logger
	logger = golog.New(ioutil.Discard, log.Debug)
}
