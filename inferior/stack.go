// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package inferior

import (
	"fmt"
	"io"
)

// Oracle is the symbol lookup surface the stack walker needs.
type Oracle interface {
	FunctionAt(pc uint64) string
	LineAt(pc uint64) string
}

// Backtrace walks the saved-frame-pointer chain of the stopped tracee and
// writes one line per frame to w. It assumes frame-pointer-preserving code:
// the caller's frame pointer is saved at [rbp] and the return address at
// [rbp+8]. The walk ends at the frame of main.
func (inf *Inferior) Backtrace(tab Oracle, w io.Writer) error {
	regs, err := inf.Registers()
	if err != nil {
		return err
	}
	pc, fp := regs.Rip, regs.Rbp
	for {
		fn := tab.FunctionAt(pc)
		fmt.Fprintf(w, "%%rip %#x %s (%s)\n", pc, fn, tab.LineAt(pc))
		if fn == "main" {
			return nil
		}
		ret, err := inf.peekWord(fp + uint64(inf.arch.PointerSize))
		if err != nil {
			return err
		}
		caller, err := inf.peekWord(fp)
		if err != nil {
			return err
		}
		pc, fp = ret, caller
	}
}
