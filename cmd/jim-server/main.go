package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexcesaro/log"
	"github.com/alexcesaro/log/golog"
	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/jimchat/jimchat"
	"github.com/jimchat/jimchat/relay"
	"github.com/jimchat/jimchat/store"
)

// Version of the binary, assigned during build.
var Version string = "dev"

// Options contains the flag options
type Options struct {
	Verbose    []bool        `short:"v" long:"verbose" description:"Show verbose logging."`
	Version    bool          `long:"version" description:"Print version and exit."`
	Address    string        `short:"a" long:"address" env:"JIM_ADDRESS" description:"Address to listen on, all interfaces if empty."`
	Port       int           `short:"p" long:"port" env:"JIM_PORT" default:"7777" description:"Port to listen on (1024-65535)."`
	DB         string        `long:"db" env:"JIM_DB" description:"Directory to keep users and sessions in, in memory if empty."`
	Tick       time.Duration `long:"tick" default:"500ms" description:"Longest wait between delivery rounds."`
	Outbox     int           `long:"outbox" default:"16" description:"Frames queued for a slow client before it is skipped."`
	RateLimit  int           `long:"rate-limit" description:"Bytes a client may send per rate period, unlimited if 0."`
	RatePeriod time.Duration `long:"rate-period" default:"1m" description:"Period the rate limit applies to."`
}

var logLevels = []log.Level{
	log.Warning,
	log.Info,
	log.Debug,
}

func fail(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(code)
}

func main() {
	// A .env file is optional.
	_ = godotenv.Load()

	options := Options{}
	parser := flags.NewParser(&options, flags.Default)
	p, err := parser.Parse()
	if err != nil {
		if p == nil {
			fmt.Print(err)
		}
		return
	}

	if options.Version {
		fmt.Println(Version)
		return
	}

	// Figure out the log level
	numVerbose := len(options.Verbose)
	if numVerbose >= len(logLevels) {
		numVerbose = len(logLevels) - 1
	}

	logger := golog.New(os.Stderr, logLevels[numVerbose])
	relay.SetLogger(logger)
	jimchat.SetLogger(logger)

	db, err := store.Open(options.DB)
	if err != nil {
		fail(2, "Failed to open store: %v\n", err)
	}
	defer db.Close()
	// Nobody is connected to a relay that is just starting.
	if err := db.ClearActiveSessions(); err != nil {
		db.Close()
		fail(2, "Failed to clear active sessions: %v\n", err)
	}

	config := relay.Config{
		Address: options.Address,
		Port:    options.Port,
		Tick:    options.Tick,
		Outbox:  options.Outbox,
	}
	s, err := relay.Listen(config)
	if err != nil {
		db.Close()
		fail(4, "Failed to listen on socket: %v\n", err)
	}
	if options.RateLimit > 0 {
		s.RateLimit = relay.NewInputLimiter(options.RateLimit, options.RatePeriod)
	}

	journal := jimchat.NewJournal(db)
	go journal.Serve()
	s.Observer = journal

	fmt.Printf("Listening for connections on %v\n", s.Addr().String())

	served := make(chan error, 1)
	go func() {
		served <- s.Serve()
	}()

	// Construct interrupt handler
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		fmt.Fprintln(os.Stderr, "Interrupt signal detected, shutting down.")
		s.Close()
		<-served
	case err := <-served:
		if err != nil {
			logger.Errorf("Relay stopped: %v", err)
		}
	}
	journal.Close()
}
