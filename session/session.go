// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package session drives the debugger. It owns the accumulated breakpoint
// list, the current inferior (if any), and the symbol table, and executes
// the commands dispatched from the prompt.
package session

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/sdb-dev/sdb/command"
	"github.com/sdb-dev/sdb/inferior"

	sys "golang.org/x/sys/unix"
)

// Oracle is the symbol lookup surface the session needs. *symtab.Table
// satisfies it.
type Oracle interface {
	FunctionAt(pc uint64) string
	LineAt(pc uint64) string
	AddrOfFunction(name string) (uint64, bool)
	AddrOfLine(line int) (uint64, bool)
}

// Session holds the debugger state that outlives any one run of the target.
type Session struct {
	target string
	tab    Oracle
	inf    *inferior.Inferior

	// breakpoints accumulates every address the user has set a breakpoint
	// at, in order; the index is the user-visible ordinal.
	breakpoints []uint64

	out io.Writer
}

// New returns a session for the given target executable.
func New(target string, tab Oracle, out io.Writer) *Session {
	return &Session{target: target, tab: tab, out: out}
}

// Dispatch executes one command. It reports true when the session is done
// and the caller should exit.
func (s *Session) Dispatch(cmd command.Command) (done bool) {
	switch c := cmd.(type) {
	case command.Run:
		s.run(c.Args)
	case command.Continue:
		s.cont()
	case command.Break:
		s.setBreakpoint(c.Spec)
	case command.Backtrace:
		s.backtrace()
	case command.Disas:
		s.disas(c.Count)
	case command.Quit:
		s.Quit()
		return true
	}
	return false
}

func (s *Session) run(args []string) {
	if s.inf != nil {
		status, err := s.inf.Terminate()
		if err != nil {
			fmt.Fprintf(s.out, "failed to terminate previous target, %v\n", err)
		} else {
			s.printStatus(status)
		}
		s.dropInferior()
	}
	inf, err := inferior.Launch(s.target, args, s.breakpoints, s.out)
	if err != nil {
		fmt.Fprintf(s.out, "Error starting subprocess: %v\n", err)
		return
	}
	s.inf = inf
	s.resume()
}

func (s *Session) cont() {
	if s.inf == nil {
		fmt.Fprintln(s.out, "please run target first")
		return
	}
	s.resume()
}

// resume crosses the breakpoint the tracee is stopped on, if any, and then
// continues it, printing the resulting status. The crossing protocol is:
// restore the displaced byte, rewind %rip onto it, execute one instruction,
// re-arm the trap. Failures inside that sequence abort the debugger: a
// half-patched text segment cannot safely keep running.
func (s *Session) resume() {
	regs, err := s.inf.Registers()
	if err != nil {
		log.Fatalf("sdb: reading registers: %v", err)
	}
	if addr := regs.Rip - 1; s.atBreakpoint(addr) {
		orig, _ := s.inf.OriginalByte(addr)
		displaced, err := s.inf.WriteByte(addr, orig)
		if err != nil {
			log.Fatalf("sdb: restoring instruction at %#x: %v", addr, err)
		}
		if displaced != s.inf.TrapInstr() {
			log.Fatalf("sdb: breakpoint at %#x corrupted: displaced byte %#x", addr, displaced)
		}
		regs.Rip = addr
		if err := s.inf.SetRegisters(&regs); err != nil {
			log.Fatalf("sdb: rewinding %%rip to %#x: %v", addr, err)
		}
		stepped, err := s.inf.Step()
		if err != nil {
			log.Fatalf("sdb: stepping over breakpoint at %#x: %v", addr, err)
		}
		switch stepped.(type) {
		case inferior.Exited, inferior.Signaled:
			// The displaced instruction was the tracee's last.
			s.printStatus(stepped)
			s.dropInferior()
			return
		}
		if _, err := s.inf.WriteByte(addr, s.inf.TrapInstr()); err != nil {
			log.Fatalf("sdb: re-arming breakpoint at %#x: %v", addr, err)
		}
	}
	status, err := s.inf.Continue()
	if err != nil {
		var uw *inferior.UnexpectedWaitError
		if errors.As(err, &uw) {
			log.Fatalf("sdb: waiting for target: %v", err)
		}
		fmt.Fprintf(s.out, "failed to run command, %v\n", err)
		return
	}
	s.printStatus(status)
	switch status.(type) {
	case inferior.Exited, inferior.Signaled:
		s.dropInferior()
	}
}

func (s *Session) atBreakpoint(addr uint64) bool {
	_, ok := s.inf.OriginalByte(addr)
	return ok
}

func (s *Session) setBreakpoint(spec string) {
	addr, ok := s.parseAddr(spec)
	if !ok {
		fmt.Fprintln(s.out, "invalid breakpoint format")
		return
	}
	ordinal := len(s.breakpoints)
	s.breakpoints = append(s.breakpoints, addr)
	if s.inf != nil {
		if _, err := s.inf.WriteByte(addr, s.inf.TrapInstr()); err != nil {
			fmt.Fprintf(s.out, "failed to set breakpoint at position %#x, %v\n", addr, err)
		}
	}
	fmt.Fprintf(s.out, "set breakpoint %d at position %#x\n", ordinal, addr)
}

// parseAddr resolves a breakpoint spec: a 0x-prefixed hex literal is a raw
// address, an all-decimal token is a source line, anything else a function
// name.
func (s *Session) parseAddr(spec string) (uint64, bool) {
	if low := strings.ToLower(spec); strings.HasPrefix(low, "0x") {
		addr, err := strconv.ParseUint(low[2:], 16, 64)
		return addr, err == nil
	}
	if line, err := strconv.Atoi(spec); err == nil {
		return s.tab.AddrOfLine(line)
	}
	return s.tab.AddrOfFunction(spec)
}

func (s *Session) backtrace() {
	if s.inf == nil {
		fmt.Fprintln(s.out, "please run target first")
		return
	}
	if err := s.inf.Backtrace(s.tab, s.out); err != nil {
		fmt.Fprintf(s.out, "failed to walk stack, %v\n", err)
	}
}

func (s *Session) disas(n int) {
	if s.inf == nil {
		fmt.Fprintln(s.out, "please run target first")
		return
	}
	regs, err := s.inf.Registers()
	if err != nil {
		fmt.Fprintf(s.out, "failed to read registers, %v\n", err)
		return
	}
	pc := regs.Rip
	if s.atBreakpoint(pc - 1) {
		pc--
	}
	if err := s.inf.Disassemble(pc, n, s.out); err != nil {
		fmt.Fprintf(s.out, "failed to disassemble, %v\n", err)
	}
}

// Quit terminates the inferior, if one is live, and prints its final
// status. An inferior that already exited was dropped when it did, so
// nothing is printed for it here.
func (s *Session) Quit() {
	if s.inf == nil {
		return
	}
	status, err := s.inf.Terminate()
	if err != nil {
		fmt.Fprintf(s.out, "failed to terminate target, %v\n", err)
	} else {
		s.printStatus(status)
	}
	s.dropInferior()
}

func (s *Session) dropInferior() {
	s.inf.Close()
	s.inf = nil
}

// printStatus writes the user-visible line for a tracee state change. A
// SIGTRAP stop whose preceding byte is a known breakpoint is reported at the
// breakpoint's address, not at the %rip one byte past it.
func (s *Session) printStatus(status inferior.Status) {
	switch st := status.(type) {
	case inferior.Exited:
		fmt.Fprintf(s.out, "target exited (status %d)\n", st.Code)
	case inferior.Signaled:
		fmt.Fprintf(s.out, "target signaled(killed) by %s\n", sys.SignalName(st.Sig))
	case inferior.Stopped:
		pc := st.Rip
		if st.Sig == sys.SIGTRAP && s.inf != nil && s.atBreakpoint(pc-1) {
			pc--
		}
		fmt.Fprintf(s.out, "target stopped at %#x by signal %s in %s (%s)\n",
			pc, sys.SignalName(st.Sig), s.tab.FunctionAt(pc), s.tab.LineAt(pc))
	}
}
