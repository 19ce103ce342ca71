// Package linenoise wraps liner with file-backed history for the console.
package linenoise

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/peterh/liner"
)

// ErrAborted is returned by Prompt when the user presses Ctrl-C.
var ErrAborted = liner.ErrPromptAborted

type LineNoise struct {
	*liner.State
	out io.Writer
}

// New puts the terminal in raw mode. Close restores it.
func New() *LineNoise {
	ln := &LineNoise{State: liner.NewLiner(), out: os.Stdout}
	ln.SetCtrlCAborts(true)
	return ln
}

// HistoryLoad reads history from filepath. A missing file is not an error.
func (ln *LineNoise) HistoryLoad(filepath string) error {
	content, err := os.ReadFile(filepath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	_, err = ln.ReadHistory(bytes.NewReader(content))
	return err
}

func (ln *LineNoise) HistorySave(filepath string) error {
	var buf bytes.Buffer
	_, err := ln.WriteHistory(&buf)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, buf.Bytes(), 0644)
}

func (ln *LineNoise) ClearScreen() error {
	_, err := fmt.Fprint(ln.out, "\x1b[H\x1b[2J")
	return err
}
