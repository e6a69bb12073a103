package loader

import (
	"debug/dwarf"
	"encoding/binary"
	"math"

	"github.com/jtang613/godwarves/pkg/dwarves"
)

// Attributes not named by debug/dwarf.
const (
	attrLinkageName     dwarf.Attr = 0x6e
	attrMIPSLinkageName dwarf.Attr = 0x2007
	attrGNUVector       dwarf.Attr = 0x2107
)

// DW_ATE base-type encodings.
const (
	encBoolean = 0x02
	encSigned  = 0x05
)

// DWARF expression opcodes the loader evaluates.
const (
	opAddr       = 0x03
	opConstu     = 0x10
	opPlusUconst = 0x23
	opReg0       = 0x50
	opReg31      = 0x6f
	opBreg0      = 0x70
	opBreg31     = 0x8f
	opFbreg      = 0x91
)

// uleb128 decodes an unsigned LEB128 from the head of buf. Sequences
// longer than 10 bytes, or ones that run off the buffer, yield MaxUint64
// the way other implementations saturate on overflow.
func uleb128(buf []byte) uint64 {
	var value uint64
	for i := 0; i < len(buf) && i < 10; i++ {
		b := buf[i]
		value |= uint64(b&0x7f) << (i * 7)
		if b&0x80 == 0 {
			return value
		}
	}
	return math.MaxUint64
}

// attrNumeric reads an attribute as an unsigned integer, dispatching on
// the form class: addresses and constants read through, a bare flag reads
// as 1, anything else is reported and reads as 0.
func attrNumeric(d *die, name dwarf.Attr) uint64 {
	f := d.field(name)
	if f == nil {
		return 0
	}
	switch f.Class {
	case dwarf.ClassAddress:
		if v, ok := f.Val.(uint64); ok {
			return v
		}
	case dwarf.ClassConstant:
		if v, ok := f.Val.(int64); ok {
			return uint64(v)
		}
	case dwarf.ClassFlag:
		if v, ok := f.Val.(bool); ok && v {
			return 1
		}
		return 0
	default:
		log.Warnf("unhandled form class %s for attribute %s at %#x",
			f.Class, name, d.offset())
	}
	return 0
}

// attrString reads a string attribute, empty when absent.
func attrString(d *die, name dwarf.Attr) string {
	s, _ := d.entry.Val(name).(string)
	return s
}

// attrRef reads a reference attribute as the target DIE offset, 0 when
// absent.
func attrRef(d *die, name dwarf.Attr) dwarf.Offset {
	f := d.field(name)
	if f == nil {
		return 0
	}
	if off, ok := f.Val.(dwarf.Offset); ok {
		return off
	}
	return 0
}

// dwarfExpr evaluates the tiny subset of location expressions that encode
// member offsets: a DW_OP_plus_uconst or DW_OP_constu followed by a
// ULEB128. Anything else is reported and yields MaxUint64.
func dwarfExpr(expr []byte) uint64 {
	if len(expr) == 0 {
		return math.MaxUint64
	}
	if expr[0] == opPlusUconst || expr[0] == opConstu {
		return uleb128(expr[1:])
	}
	log.Warnf("unhandled DW_OP_ operation %#x", expr[0])
	return math.MaxUint64
}

// attrOffset reads an offset-valued attribute that may be either a plain
// constant or a block holding a location expression.
func attrOffset(d *die, name dwarf.Attr) uint64 {
	f := d.field(name)
	if f == nil {
		return 0
	}
	switch f.Class {
	case dwarf.ClassConstant:
		if v, ok := f.Val.(int64); ok {
			return uint64(v)
		}
	case dwarf.ClassBlock, dwarf.ClassExprLoc:
		if expr, ok := f.Val.([]byte); ok {
			return dwarfExpr(expr)
		}
	}
	return 0
}

// attrUpperBound reads a subrange upper bound as an entry count, 0 when
// absent.
func attrUpperBound(d *die) uint64 {
	f := d.field(dwarf.AttrUpperBound)
	if f == nil {
		return 0
	}
	if v, ok := f.Val.(int64); ok {
		return uint64(v) + 1
	}
	return 0
}

// location classifies a variable's single-op location expression. A
// missing expression means the variable was optimized away; an empty or
// unrecognized one stays unknown.
func location(d *die, pointerSize uint8) (dwarves.Location, uint64) {
	f := d.field(dwarf.AttrLocation)
	if f == nil {
		return dwarves.LocationOptimized, 0
	}
	expr, ok := f.Val.([]byte)
	if !ok {
		// Location lists cannot be evaluated without a pc; treat like a
		// missing expression.
		return dwarves.LocationOptimized, 0
	}
	if len(expr) == 0 {
		return dwarves.LocationUnknown, 0
	}
	switch op := expr[0]; {
	case op == opAddr:
		return dwarves.LocationGlobal, decodeAddr(expr[1:], pointerSize)
	case op >= opReg0 && op <= opReg31,
		op >= opBreg0 && op <= opBreg31:
		return dwarves.LocationRegister, 0
	case op == opFbreg:
		return dwarves.LocationLocal, 0
	}
	return dwarves.LocationUnknown, 0
}

func decodeAddr(b []byte, pointerSize uint8) uint64 {
	switch {
	case pointerSize == 4 && len(b) >= 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case len(b) >= 8:
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// highPC resolves DW_AT_high_pc, which may be an absolute address or an
// offset from the low pc.
func highPC(d *die, low uint64) uint64 {
	f := d.field(dwarf.AttrHighpc)
	if f == nil {
		return 0
	}
	switch f.Class {
	case dwarf.ClassAddress:
		if v, ok := f.Val.(uint64); ok {
			return v
		}
	case dwarf.ClassConstant:
		if v, ok := f.Val.(int64); ok {
			return low + uint64(v)
		}
	}
	return 0
}
