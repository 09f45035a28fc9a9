// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package inferior controls a single traced child process: launching it
// under ptrace, planting software breakpoints by patching its text, stepping
// and continuing it, and reading its registers and memory.
package inferior

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sdb-dev/sdb/arch"

	sys "golang.org/x/sys/unix"
)

// ErrLaunchFailed reports that the target could not be spawned or did not
// reach the expected first stop.
var ErrLaunchFailed = errors.New("launch failed")

// A MemoryAccessError reports a failed peek or poke of tracee memory.
type MemoryAccessError struct {
	Op   string
	Addr uint64
	Err  error
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("%s tracee memory at %#x: %v", e.Op, e.Addr, e.Err)
}

func (e *MemoryAccessError) Unwrap() error { return e.Err }

// An UnexpectedWaitError reports a wait status that a stopped-or-dead tracee
// cannot legally produce. It indicates a bug in the caller's sequencing.
type UnexpectedWaitError struct {
	Status sys.WaitStatus
}

func (e *UnexpectedWaitError) Error() string {
	return fmt.Sprintf("unexpected wait status %#x", uint32(e.Status))
}

// Status describes the state of the tracee after a wait.
type Status interface {
	status()
}

// Exited indicates the tracee exited normally, with its exit code.
type Exited struct {
	Code int
}

// Signaled indicates the tracee was terminated by a signal.
type Signaled struct {
	Sig sys.Signal
}

// Stopped indicates the tracee stopped, with the stopping signal and the
// instruction pointer read from its register file.
type Stopped struct {
	Sig sys.Signal
	Rip uint64
}

func (Exited) status()   {}
func (Signaled) status() {}
func (Stopped) status()  {}

// Inferior is a child process under debugger control. It owns the process
// handle and the breakpoint shadow map, and it is the only writer of the
// tracee's address space.
type Inferior struct {
	arch *arch.Architecture
	proc *os.Process
	pid  int

	// breakpoints maps each patched address to the byte the trap
	// instruction displaced there.
	breakpoints map[uint64]byte

	fc     chan func() error
	ec     chan error
	closed bool
}

// Launch starts target as a traced child, waits for its first stop, and
// installs the given breakpoints. The child requests tracing itself before
// exec, so a correctly started target stops with SIGTRAP immediately; any
// other first status is a launch failure. Breakpoints that cannot be
// installed are reported on errw and skipped.
func Launch(target string, args []string, breakpoints []uint64, errw io.Writer) (*Inferior, error) {
	inf := &Inferior{
		arch:        &arch.AMD64,
		breakpoints: make(map[uint64]byte),
		fc:          make(chan func() error),
		ec:          make(chan error),
	}
	go ptraceRun(inf.fc, inf.ec)

	proc, err := inf.startProcess(target, append([]string{target}, args...), &os.ProcAttr{
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
		Sys: &sys.SysProcAttr{
			Ptrace:    true,
			Pdeathsig: sys.SIGKILL,
		},
	})
	if err != nil {
		inf.Close()
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	inf.proc = proc
	inf.pid = proc.Pid

	status, err := inf.Wait()
	if err != nil {
		inf.Close()
		return nil, fmt.Errorf("%w: initial wait: %v", ErrLaunchFailed, err)
	}
	st, ok := status.(Stopped)
	if !ok || st.Sig != sys.SIGTRAP {
		if _, stopped := status.(Stopped); stopped {
			proc.Kill()
			inf.Wait()
		}
		inf.Close()
		return nil, fmt.Errorf("%w: target did not stop with SIGTRAP (got %v)", ErrLaunchFailed, status)
	}

	for _, addr := range breakpoints {
		if _, err := inf.WriteByte(addr, inf.arch.BreakpointInstr); err != nil {
			fmt.Fprintf(errw, "failed to set breakpoint at position %#x, %v\n", addr, err)
		}
	}
	return inf, nil
}

// Pid returns the tracee's process id.
func (inf *Inferior) Pid() int { return inf.pid }

// TrapInstr returns the breakpoint instruction byte for the tracee's
// architecture.
func (inf *Inferior) TrapInstr() byte { return inf.arch.BreakpointInstr }

// Close releases the dedicated ptrace thread. The tracee itself is
// unaffected; call Terminate first to kill it.
func (inf *Inferior) Close() {
	if !inf.closed {
		inf.closed = true
		close(inf.fc)
	}
}

// Wait blocks until the tracee changes state and reports how. Statuses
// other than exit, termination by signal, and stop cannot happen for a
// tracee waited on without WUNTRACED-style options; they surface as
// UnexpectedWaitError.
func (inf *Inferior) Wait() (Status, error) {
	var ws sys.WaitStatus
	if err := inf.wait4(&ws); err != nil {
		return nil, fmt.Errorf("wait4: %w", err)
	}
	switch {
	case ws.Exited():
		return Exited{Code: ws.ExitStatus()}, nil
	case ws.Signaled():
		return Signaled{Sig: ws.Signal()}, nil
	case ws.Stopped():
		var regs sys.PtraceRegs
		if err := inf.ptraceGetRegs(&regs); err != nil {
			return nil, fmt.Errorf("ptraceGetRegs: %w", err)
		}
		return Stopped{Sig: ws.StopSignal(), Rip: regs.Rip}, nil
	}
	return nil, &UnexpectedWaitError{Status: ws}
}

// Continue resumes the stopped tracee, delivering no signal, and waits for
// the next state change.
func (inf *Inferior) Continue() (Status, error) {
	if err := inf.ptraceCont(0); err != nil {
		return nil, fmt.Errorf("ptraceCont: %w", err)
	}
	return inf.Wait()
}

// Step executes exactly one instruction of the stopped tracee and waits for
// the resulting stop.
func (inf *Inferior) Step() (Status, error) {
	if err := inf.ptraceSingleStep(); err != nil {
		return nil, fmt.Errorf("ptraceSingleStep: %w", err)
	}
	return inf.Wait()
}

// Terminate kills the tracee and reaps its final status.
func (inf *Inferior) Terminate() (Status, error) {
	if err := inf.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return nil, fmt.Errorf("kill: %w", err)
	}
	return inf.Wait()
}

// Registers reads the tracee's general-purpose register file.
func (inf *Inferior) Registers() (sys.PtraceRegs, error) {
	var regs sys.PtraceRegs
	if err := inf.ptraceGetRegs(&regs); err != nil {
		return regs, fmt.Errorf("ptraceGetRegs: %w", err)
	}
	return regs, nil
}

// SetRegisters writes the tracee's general-purpose register file.
func (inf *Inferior) SetRegisters(regs *sys.PtraceRegs) error {
	if err := inf.ptraceSetRegs(regs); err != nil {
		return fmt.Errorf("ptraceSetRegs: %w", err)
	}
	return nil
}

// WriteByte replaces the byte at addr in the tracee with v and returns the
// byte it displaced. Ptrace text access is word-granular, so the patch is a
// read-modify-write of the aligned machine word containing addr. When v is
// the trap instruction the displaced byte is recorded in the shadow map;
// restoring an original byte leaves the map entry in place, since membership
// is how stops are attributed to breakpoints.
func (inf *Inferior) WriteByte(addr uint64, v byte) (byte, error) {
	base := inf.arch.Align(addr)
	word := make([]byte, inf.arch.PointerSize)
	if err := inf.ptracePeek(uintptr(base), word); err != nil {
		return 0, &MemoryAccessError{Op: "peek", Addr: base, Err: err}
	}
	k := addr - base
	orig := word[k]
	word[k] = v
	if err := inf.ptracePoke(uintptr(base), word); err != nil {
		return 0, &MemoryAccessError{Op: "poke", Addr: base, Err: err}
	}
	if v == inf.arch.BreakpointInstr {
		inf.breakpoints[addr] = orig
	}
	return orig, nil
}

// OriginalByte reports whether addr holds a breakpoint, and if so the byte
// the trap displaced there.
func (inf *Inferior) OriginalByte(addr uint64) (byte, bool) {
	orig, ok := inf.breakpoints[addr]
	return orig, ok
}

// ReadMemory fills buf from the tracee's memory at addr.
func (inf *Inferior) ReadMemory(addr uint64, buf []byte) error {
	if err := inf.ptracePeek(uintptr(addr), buf); err != nil {
		return &MemoryAccessError{Op: "peek", Addr: addr, Err: err}
	}
	return nil
}

// peekWord reads the machine word at addr, which need not be aligned.
func (inf *Inferior) peekWord(addr uint64) (uint64, error) {
	buf := make([]byte, inf.arch.PointerSize)
	if err := inf.ptracePeek(uintptr(addr), buf); err != nil {
		return 0, &MemoryAccessError{Op: "peek", Addr: addr, Err: err}
	}
	return inf.arch.Word(buf), nil
}
