// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package command parses prompt lines into the debugger's command set.
package command

import (
	"strconv"
)

// A Command is one variant of the closed set of debugger commands.
type Command interface {
	command()
}

// Run relaunches the target with the given arguments.
type Run struct {
	Args []string
}

// Continue resumes a stopped target.
type Continue struct{}

// Break sets a breakpoint at an address spec: a 0x-prefixed hex literal, a
// decimal source line, or a function name.
type Break struct {
	Spec string
}

// Backtrace prints the current call stack.
type Backtrace struct{}

// Disas prints Count instructions at the current stop location.
type Disas struct {
	Count int
}

// Quit exits the debugger.
type Quit struct{}

func (Run) command()       {}
func (Continue) command()  {}
func (Break) command()     {}
func (Backtrace) command() {}
func (Disas) command()     {}
func (Quit) command()      {}

// Parse maps a tokenized prompt line onto a command variant. It reports
// false for unknown commands and malformed arguments.
func Parse(tokens []string) (Command, bool) {
	if len(tokens) == 0 {
		return nil, false
	}
	switch tokens[0] {
	case "run", "r":
		return Run{Args: tokens[1:]}, true
	case "continue", "cont", "c":
		if len(tokens) != 1 {
			return nil, false
		}
		return Continue{}, true
	case "break", "b":
		if len(tokens) != 2 {
			return nil, false
		}
		return Break{Spec: tokens[1]}, true
	case "backtrace", "back", "bt":
		if len(tokens) != 1 {
			return nil, false
		}
		return Backtrace{}, true
	case "disas":
		n := 5
		switch len(tokens) {
		case 1:
		case 2:
			v, err := strconv.Atoi(tokens[1])
			if err != nil || v <= 0 {
				return nil, false
			}
			n = v
		default:
			return nil, false
		}
		return Disas{Count: n}, true
	case "quit", "q", "exit":
		if len(tokens) != 1 {
			return nil, false
		}
		return Quit{}, true
	}
	return nil, false
}
