// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch contains architecture-specific definitions.
package arch

import (
	"encoding/binary"
)

// Architecture defines the architecture-specific details for a given machine.
type Architecture struct {
	// BreakpointInstr is the instruction byte planted for a software
	// breakpoint.
	BreakpointInstr byte
	// PointerSize is the size of a pointer, in bytes. It is also the
	// granularity of ptrace text access.
	PointerSize int
	// ByteOrder is the byte order for words read from target memory.
	ByteOrder binary.ByteOrder
}

// Align rounds addr down to the start of the machine word containing it.
func (a *Architecture) Align(addr uint64) uint64 {
	return addr &^ uint64(a.PointerSize-1)
}

// Word decodes a machine word peeked from target memory.
func (a *Architecture) Word(buf []byte) uint64 {
	if len(buf) != a.PointerSize {
		panic("bad PointerSize")
	}
	switch a.PointerSize {
	case 4:
		return uint64(a.ByteOrder.Uint32(buf[:4]))
	case 8:
		return a.ByteOrder.Uint64(buf[:8])
	}
	panic("no PointerSize")
}

var AMD64 = Architecture{
	BreakpointInstr: 0xCC, // INT 3
	PointerSize:     8,
	ByteOrder:       binary.LittleEndian,
}
