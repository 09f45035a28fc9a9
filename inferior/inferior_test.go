// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package inferior_test

import (
	"bytes"
	"errors"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/sdb-dev/sdb/inferior"
	"github.com/sdb-dev/sdb/symtab"

	sys "golang.org/x/sys/unix"
)

func assertNoError(err error, t *testing.T, s string) {
	t.Helper()
	if err != nil {
		t.Fatal(s, ":", err)
	}
}

// buildFixture compiles a C source from ../_fixtures with debug info and
// frame pointers, skipping the test when that is not possible here.
func buildFixture(t *testing.T, name string) string {
	t.Helper()
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skipf("skipping: inferior control requires linux/amd64, have %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	cc, err := exec.LookPath("cc")
	if err != nil {
		t.Skip("skipping: no C compiler in PATH")
	}
	src := filepath.Join("..", "_fixtures", name+".c")
	bin := filepath.Join(t.TempDir(), name)
	out, err := exec.Command(cc, "-g", "-O0", "-fno-omit-frame-pointer", "-no-pie", "-o", bin, src).CombinedOutput()
	if err != nil {
		t.Fatalf("compiling %s: %v\n%s", src, err, out)
	}
	return bin
}

func withInferior(t *testing.T, target string, breakpoints []uint64, fn func(inf *inferior.Inferior)) {
	t.Helper()
	var installErrs bytes.Buffer
	inf, err := inferior.Launch(target, nil, breakpoints, &installErrs)
	assertNoError(err, t, "Launch()")
	defer func() {
		inf.Terminate()
		inf.Close()
	}()
	if installErrs.Len() != 0 {
		t.Fatalf("breakpoint install failures: %s", installErrs.String())
	}
	fn(inf)
}

func greetAddr(t *testing.T, target string) uint64 {
	t.Helper()
	tab, err := symtab.New(target)
	assertNoError(err, t, "symtab.New()")
	addr, ok := tab.AddrOfFunction("greet")
	if !ok {
		t.Fatal("no address for greet")
	}
	return addr
}

func TestLaunchRunsToExit(t *testing.T) {
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("skipping: requires linux/amd64")
	}
	withInferior(t, "/bin/true", nil, func(inf *inferior.Inferior) {
		status, err := inf.Continue()
		assertNoError(err, t, "Continue()")
		exited, ok := status.(inferior.Exited)
		if !ok {
			t.Fatalf("expected Exited, got %#v", status)
		}
		if exited.Code != 0 {
			t.Fatalf("expected exit status 0, got %d", exited.Code)
		}
	})
}

func TestLaunchMissingTarget(t *testing.T) {
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("skipping: requires linux/amd64")
	}
	var errw bytes.Buffer
	_, err := inferior.Launch("/no/such/binary", nil, nil, &errw)
	if !errors.Is(err, inferior.ErrLaunchFailed) {
		t.Fatalf("expected ErrLaunchFailed, got %v", err)
	}
}

func TestWriteByteRoundTrip(t *testing.T) {
	target := buildFixture(t, "greeter")
	addr := greetAddr(t, target)

	withInferior(t, target, nil, func(inf *inferior.Inferior) {
		orig, err := inf.WriteByte(addr, inf.TrapInstr())
		assertNoError(err, t, "WriteByte(trap)")
		if orig == inf.TrapInstr() {
			t.Fatalf("original byte at %#x is already the trap instruction", addr)
		}
		if shadowed, ok := inf.OriginalByte(addr); !ok || shadowed != orig {
			t.Fatalf("shadow map has (%#x, %v), want (%#x, true)", shadowed, ok, orig)
		}

		displaced, err := inf.WriteByte(addr, orig)
		assertNoError(err, t, "WriteByte(restore)")
		if displaced != inf.TrapInstr() {
			t.Fatalf("restore displaced %#x, want the trap instruction", displaced)
		}

		buf := make([]byte, 1)
		assertNoError(inf.ReadMemory(addr, buf), t, "ReadMemory()")
		if buf[0] != orig {
			t.Fatalf("byte at %#x is %#x after round trip, want %#x", addr, buf[0], orig)
		}
	})
}

func TestWriteBytePreservesNeighbors(t *testing.T) {
	target := buildFixture(t, "greeter")
	addr := greetAddr(t, target)

	withInferior(t, target, nil, func(inf *inferior.Inferior) {
		// Pick an address that is deliberately not word-aligned.
		unaligned := addr | 3
		base := unaligned &^ 7

		before := make([]byte, 8)
		assertNoError(inf.ReadMemory(base, before), t, "ReadMemory(before)")

		orig, err := inf.WriteByte(unaligned, 0x90)
		assertNoError(err, t, "WriteByte()")
		if orig != before[unaligned-base] {
			t.Fatalf("displaced byte %#x, want %#x", orig, before[unaligned-base])
		}

		after := make([]byte, 8)
		assertNoError(inf.ReadMemory(base, after), t, "ReadMemory(after)")
		for i := range after {
			if uint64(i) == unaligned-base {
				if after[i] != 0x90 {
					t.Fatalf("patched byte is %#x, want 0x90", after[i])
				}
				continue
			}
			if after[i] != before[i] {
				t.Fatalf("neighbor byte %d changed from %#x to %#x", i, before[i], after[i])
			}
		}

		_, err = inf.WriteByte(unaligned, orig)
		assertNoError(err, t, "WriteByte(restore)")
	})
}

func TestBreakpointHitAndCross(t *testing.T) {
	target := buildFixture(t, "greeter")
	addr := greetAddr(t, target)

	withInferior(t, target, []uint64{addr}, func(inf *inferior.Inferior) {
		status, err := inf.Continue()
		assertNoError(err, t, "Continue()")
		stopped, ok := status.(inferior.Stopped)
		if !ok {
			t.Fatalf("expected Stopped, got %#v", status)
		}
		if stopped.Sig != sys.SIGTRAP {
			t.Fatalf("stopped by %v, want SIGTRAP", stopped.Sig)
		}
		if stopped.Rip != addr+1 {
			t.Fatalf("stopped with %%rip %#x, want %#x", stopped.Rip, addr+1)
		}

		// Shadow consistency: the trap byte occupies the patched address.
		buf := make([]byte, 1)
		assertNoError(inf.ReadMemory(addr, buf), t, "ReadMemory()")
		if buf[0] != inf.TrapInstr() {
			t.Fatalf("byte at breakpoint is %#x, want the trap instruction", buf[0])
		}
		orig, ok := inf.OriginalByte(addr)
		if !ok {
			t.Fatal("stop not attributable to a known breakpoint")
		}

		// Cross the breakpoint: restore, rewind, step, re-arm, continue.
		displaced, err := inf.WriteByte(addr, orig)
		assertNoError(err, t, "WriteByte(restore)")
		if displaced != inf.TrapInstr() {
			t.Fatalf("displaced byte %#x, want the trap instruction", displaced)
		}
		regs, err := inf.Registers()
		assertNoError(err, t, "Registers()")
		regs.Rip = addr
		assertNoError(inf.SetRegisters(&regs), t, "SetRegisters()")
		_, err = inf.Step()
		assertNoError(err, t, "Step()")
		_, err = inf.WriteByte(addr, inf.TrapInstr())
		assertNoError(err, t, "WriteByte(re-arm)")

		status, err = inf.Continue()
		assertNoError(err, t, "Continue() after crossing")
		exited, ok := status.(inferior.Exited)
		if !ok {
			t.Fatalf("expected Exited, got %#v", status)
		}
		if exited.Code != 0 {
			t.Fatalf("exit status %d, want 0", exited.Code)
		}
	})
}

func TestBacktrace(t *testing.T) {
	target := buildFixture(t, "greeter")
	addr := greetAddr(t, target)
	tab, err := symtab.New(target)
	assertNoError(err, t, "symtab.New()")

	withInferior(t, target, []uint64{addr}, func(inf *inferior.Inferior) {
		_, err := inf.Continue()
		assertNoError(err, t, "Continue()")

		var buf bytes.Buffer
		assertNoError(inf.Backtrace(tab, &buf), t, "Backtrace()")

		lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
		if len(lines) != 2 {
			t.Fatalf("expected 2 frames, got %d:\n%s", len(lines), buf.String())
		}
		if !strings.Contains(lines[0], "greet") || !strings.Contains(lines[0], "greeter.c:") {
			t.Fatalf("bad innermost frame: %q", lines[0])
		}
		if !strings.Contains(lines[1], "main") || !strings.Contains(lines[1], "greeter.c:") {
			t.Fatalf("bad outermost frame: %q", lines[1])
		}
		for _, line := range lines {
			if !strings.HasPrefix(line, "%rip 0x") {
				t.Fatalf("frame line %q does not start with %%rip", line)
			}
		}
	})
}

func TestTerminate(t *testing.T) {
	target := buildFixture(t, "loop")

	var errw bytes.Buffer
	inf, err := inferior.Launch(target, nil, nil, &errw)
	assertNoError(err, t, "Launch()")
	defer inf.Close()

	status, err := inf.Terminate()
	assertNoError(err, t, "Terminate()")
	signaled, ok := status.(inferior.Signaled)
	if !ok {
		t.Fatalf("expected Signaled, got %#v", status)
	}
	if signaled.Sig != sys.SIGKILL {
		t.Fatalf("killed by %v, want SIGKILL", signaled.Sig)
	}
}
