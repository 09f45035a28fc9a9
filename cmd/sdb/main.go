// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Sdb is an interactive breakpoint debugger for x86-64 ELF executables
// built with frame pointers and DWARF debug information.
//
// Usage:
//
//	sdb TARGET
//
// At the (sdb) prompt: run [ARG...], break SPEC, continue, backtrace,
// disas [N], quit. A breakpoint SPEC is a 0x-prefixed address, a source
// line number, or a function name.
//
// Targets must be built without position independence (-no-pie) so that
// DWARF addresses match runtime addresses, and with frame pointers for
// backtraces.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/sdb-dev/sdb/session"
	"github.com/sdb-dev/sdb/symtab"
)

var historyFile string

func main() {
	// All ptrace requests must come from the thread that started the
	// tracee. The inferior package funnels them onto its own locked
	// thread; locking main keeps the prompt goroutine stable too.
	runtime.LockOSThread()

	root := &cobra.Command{
		Use:          "sdb TARGET",
		Short:        "sdb is an interactive breakpoint debugger for native executables",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         run,
	}
	root.Flags().StringVar(&historyFile, "history", "", "command history file (default ~/.sdb_history)")
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	target := args[0]
	tab, err := symtab.New(target)
	if err != nil {
		return fmt.Errorf("could not load debugging symbols from %s: %v", target, err)
	}

	hist := historyFile
	if hist == "" {
		if home, err := os.UserHomeDir(); err == nil {
			hist = filepath.Join(home, ".sdb_history")
		}
	}

	// SIGINT while the tracee runs reaches the debugger too; the prompt
	// layer handles Ctrl-C itself, so the signal is dropped here.
	signal.Ignore(os.Interrupt)

	return session.New(target, tab, os.Stdout).Prompt(hist)
}
