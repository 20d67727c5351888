package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gookit/color"
	"github.com/jimchat/jimchat/jim"
	"golang.org/x/crypto/ssh/terminal"
)

// Newline separates lines of output.
const Newline = "\n"

// ErrNotTerminal is returned by OpenTerminal when the input is not a TTY.
var ErrNotTerminal = errors.New("not a terminal")

var (
	timeStyle   = color.New(color.FgGray)
	senderStyle = color.New(color.FgCyan, color.OpBold)
)

// Frontend is where a session reads commands from and shows messages on.
// Show may be called concurrently with ReadLine and Prompt.
type Frontend interface {
	// ReadLine returns the next command line, io.EOF when input is closed.
	ReadLine() (string, error)
	// Prompt asks a question and returns the answer.
	Prompt(question string) (string, error)
	Show(text string)
}

// RenderMessage formats an incoming message for display.
func RenderMessage(m *jim.Message) string {
	return fmt.Sprintf("%s %s: %s",
		timeStyle.Render(m.Time.Time().Format("15:04:05")),
		senderStyle.Render(SanitizeText(m.Sender)),
		SanitizeText(m.Text),
	)
}

// Terminal is a Frontend over an interactive terminal put in raw mode, so
// incoming messages are drawn above the line being typed.
type Terminal struct {
	*terminal.Terminal
	prompt string
	fd     int
	state  *terminal.State
}

// OpenTerminal puts in into raw mode and wraps it. Close restores it.
func OpenTerminal(in *os.File, out io.Writer, prompt string) (*Terminal, error) {
	fd := int(in.Fd())
	if !terminal.IsTerminal(fd) {
		return nil, ErrNotTerminal
	}
	state, err := terminal.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	rw := struct {
		io.Reader
		io.Writer
	}{in, out}
	return &Terminal{
		Terminal: terminal.NewTerminal(rw, prompt),
		prompt:   prompt,
		fd:       fd,
		state:    state,
	}, nil
}

// Prompt shows question in place of the usual prompt for one line.
func (t *Terminal) Prompt(question string) (string, error) {
	t.SetPrompt(question)
	defer t.SetPrompt(t.prompt)
	return t.ReadLine()
}

// Show prints text above the input line.
func (t *Terminal) Show(text string) {
	t.Write([]byte(text + Newline))
}

// Close restores the terminal to the mode it was in.
func (t *Terminal) Close() error {
	return terminal.Restore(t.fd, t.state)
}

// Lines is a Frontend over plain line-oriented streams, used when input is
// piped.
type Lines struct {
	scanner *bufio.Scanner

	mu  sync.Mutex
	out io.Writer
}

// NewLines reads commands from in and writes output to out.
func NewLines(in io.Reader, out io.Writer) *Lines {
	return &Lines{scanner: bufio.NewScanner(in), out: out}
}

// ReadLine returns the next line of input.
func (l *Lines) ReadLine() (string, error) {
	if !l.scanner.Scan() {
		if err := l.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return l.scanner.Text(), nil
}

// Prompt writes question and reads the answer.
func (l *Lines) Prompt(question string) (string, error) {
	l.mu.Lock()
	fmt.Fprint(l.out, question)
	l.mu.Unlock()
	return l.ReadLine()
}

// Show writes text on its own line.
func (l *Lines) Show(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprint(l.out, text+Newline)
}
