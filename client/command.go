package client

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jimchat/jimchat/jim"
)

// ErrInvalidCommand is returned when an unknown command is issued.
var ErrInvalidCommand = errors.New("invalid command")

// ErrMissingArg is returned when a command is given without the arguments it
// needs.
var ErrMissingArg = errors.New("missing argument")

// ErrMissingPrefix is returned when a command is added without a prefix.
var ErrMissingPrefix = errors.New("command missing prefix")

// Command is a definition of a handler for a command.
type Command struct {
	// The command's key, such as /msg
	Prefix string
	// Extra help regarding arguments
	PrefixHelp string
	// If omitted, command is hidden from help
	Help string
	// Handler gets the line with the prefix removed.
	Handler func(s *Session, fe Frontend, args string) error
}

// Commands is a registry of available commands.
type Commands map[string]*Command

// Add will register a command. If help string is empty, it will be hidden from
// Help().
func (c Commands) Add(cmd Command) error {
	if cmd.Prefix == "" {
		return ErrMissingPrefix
	}

	c[cmd.Prefix] = &cmd
	return nil
}

// Alias will add another command for the same handler, won't get added to help.
func (c Commands) Alias(command string, alias string) error {
	cmd, ok := c[command]
	if !ok {
		return ErrInvalidCommand
	}
	c[alias] = cmd
	return nil
}

// Run executes one line of input. Blank lines are ignored.
func (c Commands) Run(s *Session, fe Frontend, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	prefix, args, _ := strings.Cut(line, " ")
	cmd, ok := c[prefix]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidCommand, prefix)
	}
	return cmd.Handler(s, fe, strings.TrimSpace(args))
}

// Help will return collated help text as one string.
func (c Commands) Help() string {
	seen := map[string]struct{}{}
	items := [][2]string{}
	width := 0
	for _, cmd := range c {
		if cmd.Help == "" {
			continue
		}
		if _, dup := seen[cmd.Prefix]; dup {
			// Alias
			continue
		}
		seen[cmd.Prefix] = struct{}{}
		prefix := strings.TrimSpace(cmd.Prefix + " " + cmd.PrefixHelp)
		if len(prefix) > width {
			width = len(prefix)
		}
		items = append(items, [2]string{prefix, cmd.Help})
	}

	r := []string{}
	format := fmt.Sprintf("%%-%ds - %%s", width)
	for _, item := range items {
		r = append(r, fmt.Sprintf(format, item[0], item[1]))
	}
	sort.Strings(r)
	return "Available commands:" + Newline + strings.Join(r, Newline)
}

var defaultCommands Commands

func init() {
	c := Commands{}

	c.Add(Command{
		Prefix: "message",
		Help:   "Send a message, asking for the recipient and text.",
		Handler: func(s *Session, fe Frontend, _ string) error {
			to, err := fe.Prompt("To: ")
			if err != nil {
				return err
			}
			to = strings.TrimSpace(to)
			if to == "" {
				return ErrMissingArg
			}
			text, err := fe.Prompt("Text: ")
			if err != nil {
				return err
			}
			if text == "" {
				return ErrMissingArg
			}
			return s.SendMessage(to, text)
		},
	})

	c.Add(Command{
		Prefix:     "/msg",
		PrefixHelp: "USER TEXT",
		Help:       "Send TEXT to USER.",
		Handler: func(s *Session, fe Frontend, args string) error {
			to, text, _ := strings.Cut(args, " ")
			text = strings.TrimSpace(text)
			if to == "" || text == "" {
				return ErrMissingArg
			}
			return s.SendMessage(to, text)
		},
	})

	c.Add(Command{
		Prefix: "help",
		Help:   "Show this help.",
		Handler: func(s *Session, fe Frontend, _ string) error {
			fe.Show(s.commands.Help())
			return nil
		},
	})
	c.Alias("help", "/help")

	c.Add(Command{
		Prefix: "exit",
		Help:   "Leave the relay.",
		Handler: func(s *Session, fe Frontend, _ string) error {
			if err := s.Send(jim.NewExit(s.name)); err != nil {
				return err
			}
			return ErrExit
		},
	})
	c.Alias("exit", "/exit")
	c.Alias("exit", "/quit")

	defaultCommands = c
}
