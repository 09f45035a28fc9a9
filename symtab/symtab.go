// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symtab answers symbol queries about a target executable: which
// function and source line an address belongs to, and where a function or
// source line lives in memory. It is built once, from the DWARF sections of
// the target ELF file, and is immutable afterwards.
package symtab

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"io"
	"path/filepath"
	"sort"
)

type funcEntry struct {
	name      string
	low, high uint64 // [low, high)
}

type lineEntry struct {
	addr        uint64
	file        string
	line        int // 0 marks the end of a line-table sequence
	stmt        bool
	prologueEnd bool
}

// Table holds the function and line indexes of one executable.
type Table struct {
	funcs []funcEntry // sorted by low
	lines []lineEntry // sorted by addr
}

// New parses the executable and builds the lookup tables. An executable
// with no debug sections at all yields an empty table whose lookups miss;
// only malformed DWARF is an error.
func New(executable string) (*Table, error) {
	f, err := elf.Open(executable)
	if err != nil {
		return nil, fmt.Errorf("symtab: open %s: %w", executable, err)
	}
	defer f.Close()
	if f.Section(".debug_info") == nil && f.Section(".zdebug_info") == nil {
		return new(Table), nil
	}
	data, err := f.DWARF()
	if err != nil {
		return nil, fmt.Errorf("symtab: reading DWARF from %s: %w", executable, err)
	}
	t := new(Table)
	if err := t.index(data); err != nil {
		return nil, fmt.Errorf("symtab: indexing %s: %w", executable, err)
	}
	sort.Slice(t.funcs, func(i, j int) bool { return t.funcs[i].low < t.funcs[j].low })
	sort.SliceStable(t.lines, func(i, j int) bool { return t.lines[i].addr < t.lines[j].addr })
	return t, nil
}

func (t *Table) index(data *dwarf.Data) error {
	r := data.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return err
		}
		if entry == nil {
			break
		}
		switch entry.Tag {
		case dwarf.TagCompileUnit:
			if err := t.indexLines(data, entry); err != nil {
				return err
			}
		case dwarf.TagSubprogram:
			name, ok := entry.Val(dwarf.AttrName).(string)
			if !ok {
				continue
			}
			low, ok := entry.Val(dwarf.AttrLowpc).(uint64)
			if !ok {
				continue
			}
			var high uint64
			switch v := entry.Val(dwarf.AttrHighpc).(type) {
			case uint64:
				high = v
			case int64:
				// DWARF 4 constant class: offset from low pc.
				high = low + uint64(v)
			default:
				continue
			}
			t.funcs = append(t.funcs, funcEntry{name: name, low: low, high: high})
		}
	}
	return nil
}

func (t *Table) indexLines(data *dwarf.Data, cu *dwarf.Entry) error {
	lr, err := data.LineReader(cu)
	if err != nil {
		return err
	}
	if lr == nil {
		// Compilation unit without a line table.
		return nil
	}
	var le dwarf.LineEntry
	for {
		if err := lr.Next(&le); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if le.EndSequence {
			// Keep a boundary entry so floor lookups past the end of
			// a sequence miss instead of sticking to its last line.
			t.lines = append(t.lines, lineEntry{addr: le.Address})
			continue
		}
		if le.File == nil {
			continue
		}
		t.lines = append(t.lines, lineEntry{
			addr:        le.Address,
			file:        filepath.Base(le.File.Name),
			line:        le.Line,
			stmt:        le.IsStmt,
			prologueEnd: le.PrologueEnd,
		})
	}
}

// FunctionAt returns the name of the function whose address range contains
// pc, or "unknown".
func (t *Table) FunctionAt(pc uint64) string {
	i := sort.Search(len(t.funcs), func(i int) bool { return t.funcs[i].low > pc })
	if i == 0 {
		return "unknown"
	}
	if fn := t.funcs[i-1]; pc < fn.high {
		return fn.name
	}
	return "unknown"
}

// LineAt returns the "file:line" of the line-table entry covering pc, or
// "unknown".
func (t *Table) LineAt(pc uint64) string {
	i := sort.Search(len(t.lines), func(i int) bool { return t.lines[i].addr > pc })
	if i == 0 {
		return "unknown"
	}
	if le := t.lines[i-1]; le.line != 0 {
		return fmt.Sprintf("%s:%d", le.file, le.line)
	}
	return "unknown"
}

// AddrOfFunction returns the address of the first statement past the
// prologue of the named function. Breakpoints and backtraces want the frame
// already set up, so the raw entry address is only returned when the line
// table gives nothing better.
func (t *Table) AddrOfFunction(name string) (uint64, bool) {
	for _, fn := range t.funcs {
		if fn.name != name {
			continue
		}
		for _, le := range t.lines {
			if le.line != 0 && le.prologueEnd && fn.low <= le.addr && le.addr < fn.high {
				return le.addr, true
			}
		}
		for _, le := range t.lines {
			if le.line != 0 && fn.low < le.addr && le.addr < fn.high {
				return le.addr, true
			}
		}
		return fn.low, true
	}
	return 0, false
}

// AddrOfLine returns the lowest statement address for the given source line.
func (t *Table) AddrOfLine(line int) (uint64, bool) {
	for _, le := range t.lines {
		if le.line == line && le.stmt {
			return le.addr, true
		}
	}
	return 0, false
}
