// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package inferior

import (
	"fmt"
	"io"

	"golang.org/x/arch/x86/x86asm"
)

const maxInstLen = 15 // longest legal x86-64 instruction

// Disassemble decodes n instructions of tracee text starting at pc and
// writes them to w, marking the first with "=>". Planted trap bytes inside
// the window are replaced by their shadowed originals in the local copy, so
// the listing shows the program's real text.
func (inf *Inferior) Disassemble(pc uint64, n int, w io.Writer) error {
	buf := make([]byte, n*maxInstLen)
	if err := inf.ptracePeek(uintptr(pc), buf); err != nil {
		return &MemoryAccessError{Op: "peek", Addr: pc, Err: err}
	}
	for addr, orig := range inf.breakpoints {
		if addr >= pc && addr < pc+uint64(len(buf)) {
			buf[addr-pc] = orig
		}
	}
	for i := 0; i < n && len(buf) >= maxInstLen; i++ {
		inst, err := x86asm.Decode(buf, 64)
		if err != nil {
			return fmt.Errorf("decode at %#x: %w", pc, err)
		}
		marker := "  "
		if i == 0 {
			marker = "=>"
		}
		fmt.Fprintf(w, "%s %#x %s\n", marker, pc, x86asm.GNUSyntax(inst, pc, nil))
		buf = buf[inst.Len:]
		pc += uint64(inst.Len)
	}
	return nil
}
