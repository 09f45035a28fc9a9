// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/sdb-dev/sdb/command"
)

// Prompt reads commands from the terminal until the user quits. Ctrl-C is
// swallowed with an advisory; Ctrl-D quits. History is kept in historyFile.
func (s *Session) Prompt(historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "(sdb) ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
	})
	if err != nil {
		return fmt.Errorf("session: opening prompt: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		switch err {
		case nil:
		case readline.ErrInterrupt:
			fmt.Fprintln(s.out, `Type "quit" to exit`)
			continue
		case io.EOF:
			s.Quit()
			return nil
		default:
			return fmt.Errorf("session: reading command: %w", err)
		}

		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}
		cmd, ok := command.Parse(tokens)
		if !ok {
			fmt.Fprintln(s.out, "Unrecognized command.")
			continue
		}
		if s.Dispatch(cmd) {
			return nil
		}
	}
}
