package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alexcesaro/log"
	"github.com/alexcesaro/log/golog"
	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/jimchat/jimchat/client"
)

// Version of the binary, assigned during build.
var Version string = "dev"

// Options contains the flag options
type Options struct {
	Verbose []bool `short:"v" long:"verbose" description:"Show verbose logging."`
	Version bool   `long:"version" description:"Print version and exit."`
	Name    string `short:"n" long:"name" env:"JIM_NAME" description:"Account name, asked for if omitted."`
	Args    struct {
		Address string `positional-arg-name:"ADDR" description:"Relay address (default 127.0.0.1)."`
		Port    int    `positional-arg-name:"PORT" description:"Relay port (default 7777)."`
	} `positional-args:"yes"`
}

var logLevels = []log.Level{
	log.Warning,
	log.Info,
	log.Debug,
}

// frontend is a client.Frontend that may need restoring on exit.
type frontend interface {
	client.Frontend
	Close() error
}

type lines struct {
	*client.Lines
}

func (lines) Close() error { return nil }

func main() {
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

	numVerbose := len(options.Verbose)
	if numVerbose >= len(logLevels) {
		numVerbose = len(logLevels) - 1
	}
	client.SetLogger(golog.New(os.Stderr, logLevels[numVerbose]))

	config := client.DefaultConfig(options.Name)
	if options.Args.Address != "" {
		config.Address = options.Args.Address
	}
	if options.Args.Port != 0 {
		config.Port = options.Args.Port
	}

	var fe frontend
	term, err := client.OpenTerminal(os.Stdin, os.Stdout, "> ")
	if err == nil {
		fe = term
	} else {
		fe = lines{client.NewLines(os.Stdin, os.Stdout)}
	}

	code := run(config, fe)
	fe.Close()
	os.Exit(code)
}

func run(config client.Config, fe frontend) int {
	for config.Name == "" {
		name, err := fe.Prompt("Name: ")
		if err != nil {
			return 1
		}
		name = strings.TrimSpace(name)
		if err := client.CheckName(name); err != nil {
			fe.Show(err.Error())
			continue
		}
		config.Name = name
	}

	session, err := client.Dial(config)
	if err != nil {
		fe.Show(fmt.Sprintf("Failed to join %s: %v", config.Addr(), err))
		return 2
	}
	fe.Show(fmt.Sprintf("Joined %s as %s. Type help for commands.", config.Addr(), session.Name()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Run(ctx, fe); err != nil {
		fe.Show(fmt.Sprintf("Session ended: %v", err))
		return 3
	}
	return 0
}
