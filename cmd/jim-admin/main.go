package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/jimchat/jimchat/store"
)

// Options contains the flag options shared by every command.
type Options struct {
	DB string `long:"db" env:"JIM_DB" description:"Directory of the relay's store. The relay must not be running."`
}

var options Options

// out is where tables are rendered.
var out io.Writer = os.Stdout

func withStore(fn func(store.Store) error) error {
	if options.DB == "" {
		return errors.New("--db is required")
	}
	s, err := store.Open(options.DB)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func table(header []string, rows [][]string) {
	t := tablewriter.NewWriter(out)
	t.SetHeader(header)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.AppendBulk(rows)
	t.Render()
}

type usersCommand struct{}

func (usersCommand) Execute([]string) error {
	return withStore(func(s store.Store) error {
		users, err := s.KnownUsers()
		if err != nil {
			return err
		}
		table([]string{"Name", "Last seen", "Sent", "Received"}, lo.Map(users, func(u store.KnownUser, _ int) []string {
			return []string{u.Name, humanize.Time(u.LastSeen), strconv.Itoa(u.Sent), strconv.Itoa(u.Received)}
		}))
		return nil
	})
}

type activeCommand struct{}

func (activeCommand) Execute([]string) error {
	return withStore(func(s store.Store) error {
		sessions, err := s.ActiveSessions()
		if err != nil {
			return err
		}
		table([]string{"Name", "Address", "Since"}, lo.Map(sessions, func(a store.ActiveSession, _ int) []string {
			return []string{a.Name, fmt.Sprintf("%s:%d", a.IP, a.Port), humanize.Time(a.Since)}
		}))
		return nil
	})
}

type historyCommand struct {
	Args struct {
		Name string `positional-arg-name:"NAME" description:"Only show logins of NAME."`
	} `positional-args:"yes"`
}

func (c *historyCommand) Execute([]string) error {
	return withStore(func(s store.Store) error {
		history, err := s.LoginHistory(c.Args.Name)
		if err != nil {
			return err
		}
		table([]string{"Name", "Time", "Address"}, lo.Map(history, func(r store.LoginRecord, _ int) []string {
			return []string{r.Name, r.Time.Local().Format("2006-01-02 15:04:05"), fmt.Sprintf("%s:%d", r.IP, r.Port)}
		}))
		return nil
	})
}

type contactsCommand struct {
	Args struct {
		User string `positional-arg-name:"USER" required:"true"`
	} `positional-args:"yes"`
}

func (c *contactsCommand) Execute([]string) error {
	return withStore(func(s store.Store) error {
		contacts, err := s.Contacts(c.Args.User)
		if err != nil {
			return err
		}
		table([]string{"Contact"}, lo.Map(contacts, func(name string, _ int) []string {
			return []string{name}
		}))
		return nil
	})
}

type contactArgs struct {
	User    string `positional-arg-name:"USER" required:"true"`
	Contact string `positional-arg-name:"CONTACT" required:"true"`
}

type contactAddCommand struct {
	Args contactArgs `positional-args:"yes"`
}

func (c *contactAddCommand) Execute([]string) error {
	return withStore(func(s store.Store) error {
		return s.AddContact(c.Args.User, c.Args.Contact)
	})
}

type contactDelCommand struct {
	Args contactArgs `positional-args:"yes"`
}

func (c *contactDelCommand) Execute([]string) error {
	return withStore(func(s store.Store) error {
		return s.RemoveContact(c.Args.User, c.Args.Contact)
	})
}

type statsCommand struct {
	Args struct {
		Name string `positional-arg-name:"NAME" required:"true"`
	} `positional-args:"yes"`
}

func (c *statsCommand) Execute([]string) error {
	return withStore(func(s store.Store) error {
		sent, received, err := s.MessageStats(c.Args.Name)
		if err != nil {
			return err
		}
		table([]string{"Name", "Sent", "Received"}, [][]string{
			{c.Args.Name, strconv.Itoa(sent), strconv.Itoa(received)},
		})
		return nil
	})
}

func newParser() *flags.Parser {
	parser := flags.NewParser(&options, flags.Default)
	parser.AddCommand("users", "List known users", "List every user that ever joined the relay.", &usersCommand{})
	parser.AddCommand("active", "List active sessions", "List the users connected right now.", &activeCommand{})
	parser.AddCommand("history", "Show login history", "Show logins, oldest first.", &historyCommand{})
	parser.AddCommand("contacts", "List contacts", "List the contacts of USER.", &contactsCommand{})
	parser.AddCommand("contact-add", "Add a contact", "Add CONTACT to the contacts of USER.", &contactAddCommand{})
	parser.AddCommand("contact-del", "Remove a contact", "Remove CONTACT from the contacts of USER.", &contactDelCommand{})
	parser.AddCommand("stats", "Show message counts", "Show how many messages NAME sent and received.", &statsCommand{})
	return parser
}

func main() {
	_ = godotenv.Load()

	if _, err := newParser().Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}
}
