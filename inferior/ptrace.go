// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package inferior

import (
	"fmt"
	"os"
	"runtime"

	sys "golang.org/x/sys/unix"
)

// ptraceRun runs all the closures from fc on a dedicated OS thread. Errors
// are returned on ec. Both channels must be unbuffered, to ensure that the
// resultant error is sent back to the same goroutine that sent the closure.
//
// The kernel requires every ptrace request for a tracee to come from the
// thread that became its tracer, so the process start and all subsequent
// requests are funneled through here.
func ptraceRun(fc chan func() error, ec chan error) {
	if cap(fc) != 0 || cap(ec) != 0 {
		panic("ptraceRun was given buffered channels")
	}
	runtime.LockOSThread()
	for f := range fc {
		ec <- f()
	}
}

func (inf *Inferior) do(f func() error) error {
	inf.fc <- f
	return <-inf.ec
}

func (inf *Inferior) startProcess(name string, argv []string, attr *os.ProcAttr) (proc *os.Process, err error) {
	err = inf.do(func() error {
		var err1 error
		proc, err1 = os.StartProcess(name, argv, attr)
		return err1
	})
	return proc, err
}

func (inf *Inferior) ptraceCont(signal int) error {
	return inf.do(func() error {
		return sys.PtraceCont(inf.pid, signal)
	})
}

func (inf *Inferior) ptraceSingleStep() error {
	return inf.do(func() error {
		return sys.PtraceSingleStep(inf.pid)
	})
}

func (inf *Inferior) ptraceGetRegs(regsout *sys.PtraceRegs) error {
	return inf.do(func() error {
		return sys.PtraceGetRegs(inf.pid, regsout)
	})
}

func (inf *Inferior) ptraceSetRegs(regs *sys.PtraceRegs) error {
	return inf.do(func() error {
		return sys.PtraceSetRegs(inf.pid, regs)
	})
}

func (inf *Inferior) ptracePeek(addr uintptr, out []byte) error {
	return inf.do(func() error {
		n, err := sys.PtracePeekText(inf.pid, addr, out)
		if err != nil {
			return err
		}
		if n != len(out) {
			return fmt.Errorf("ptracePeek: peeked %d bytes, want %d", n, len(out))
		}
		return nil
	})
}

func (inf *Inferior) ptracePoke(addr uintptr, data []byte) error {
	return inf.do(func() error {
		n, err := sys.PtracePokeText(inf.pid, addr, data)
		if err != nil {
			return err
		}
		if n != len(data) {
			return fmt.Errorf("ptracePoke: poked %d bytes, want %d", n, len(data))
		}
		return nil
	})
}

func (inf *Inferior) wait4(status *sys.WaitStatus) error {
	return inf.do(func() error {
		_, err := sys.Wait4(inf.pid, status, 0, nil)
		return err
	})
}
