package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fzft/go-pollchan/deps/linenoise"
	"github.com/fzft/go-pollchan/log"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
)

var (
	ConsoleHisFileEnv     = "POLLCHAN_HISTFILE"
	ConsoleHisFileDefault = ".pollchan_history"
)

// ErrQuit is returned by Run when the user asks to leave.
var ErrQuit = errors.New("console: quit")

// Console reads lines from a terminal or a plain stream and hands each one
// to a send function.
type Console struct {
	Prompt string

	in          *os.File
	out         io.Writer
	interactive bool
	line        *linenoise.LineNoise
}

// NewConsole reads from in. A terminal gets a line editor with history and
// is put in raw mode until Close; anything else is scanned line by line.
func NewConsole(in *os.File) *Console {
	c := &Console{
		Prompt:      "pollchan> ",
		in:          in,
		out:         os.Stdout,
		interactive: isatty.IsTerminal(in.Fd()) || isatty.IsCygwinTerminal(in.Fd()),
	}
	if c.interactive {
		c.line = linenoise.New()
	}
	return c
}

func (c *Console) Interactive() bool { return c.interactive }

// Run forwards every input line to send until the input ends, ctx is done or
// the user types quit. It returns ErrQuit for quit, exit or Ctrl-C, nil at
// the end of a non-interactive stream, and the first send error otherwise.
func (c *Console) Run(ctx context.Context, send func(line string) error) error {
	if c.interactive {
		return c.repl(ctx, send)
	}
	return c.scan(ctx, send)
}

// Close restores the terminal.
func (c *Console) Close() error {
	if c.line == nil {
		return nil
	}
	return c.line.Close()
}

func (c *Console) repl(ctx context.Context, send func(string) error) error {
	historyFile := getDotfilePath(ConsoleHisFileEnv, ConsoleHisFileDefault)
	if historyFile != "" {
		if err := c.line.HistoryLoad(historyFile); err != nil {
			log.Logger.Debug("Failed to load history", zap.String("file", historyFile), zap.Error(err))
		}
		defer func() {
			if err := c.line.HistorySave(historyFile); err != nil {
				log.Logger.Debug("Failed to save history", zap.String("file", historyFile), zap.Error(err))
			}
		}()
	}

	for ctx.Err() == nil {
		line, err := c.line.Prompt(c.Prompt)
		if err != nil {
			if errors.Is(err, linenoise.ErrAborted) || errors.Is(err, io.EOF) {
				return ErrQuit
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c.line.AppendHistory(line)

		if line == "clear" {
			_ = c.line.ClearScreen()
			continue
		}
		if err := c.dispatch(line, send); err != nil {
			return err
		}
	}
	return nil
}

func (c *Console) scan(ctx context.Context, send func(string) error) error {
	scanner := bufio.NewScanner(c.in)
	for ctx.Err() == nil && scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := c.dispatch(line, send); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (c *Console) dispatch(line string, send func(string) error) error {
	switch strings.ToLower(line) {
	case "quit", "exit":
		return ErrQuit
	case "help":
		fmt.Fprintln(c.out, "Type a line to send it through the channel. quit or exit leaves.")
		return nil
	}
	return send(line)
}

// getDotfilePath returns the path of a dotfile in $HOME unless envOverride
// names another one. /dev/null disables the file.
func getDotfilePath(envOverride, dotFilename string) string {
	var dotPath string

	path := os.Getenv(envOverride)
	if path != "" {
		if path == "/dev/null" {
			return ""
		}
		dotPath = path
	} else {
		home := os.Getenv("HOME")
		if home != "" {
			dotPath = fmt.Sprintf("%s/%s", home, dotFilename)
		}
	}
	return dotPath
}
