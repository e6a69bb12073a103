package loader

import "github.com/jtang613/godwarves/pkg/dwarves"

// cacheSizes fills the byte and bit sizes of every member and inheritance
// tag in the unit from its resolved type chain. Must run after recode;
// running it twice yields identical results.
func cacheSizes(cu *dwarves.CU, conf *dwarves.Conf) {
	fixup := conf != nil && conf.FixupSillyBitfields
	cu.ForEachNode(func(n dwarves.Node) {
		if m, ok := n.(*dwarves.ClassMember); ok {
			cacheMemberSize(cu, m, fixup)
		}
	})
}

func cacheMemberSize(cu *dwarves.CU, m *dwarves.ClassMember, fixup bool) {
	if m.Kind != dwarves.KindMember && m.Kind != dwarves.KindInheritance {
		return
	}

	if m.BitfieldSize == 0 {
		m.ByteSize = cu.SizeOf(m)
		m.BitSize = uint16(m.ByteSize * 8)
		return
	}

	t := followToStorageType(cu, m.Type)
	if t == nil {
		return
	}

	var typeBits, integralBits uint16
	if t.Common().Kind == dwarves.KindEnumeration {
		typeBits = uint16(dwarves.TypePayloadOf(t).Size)
		integralBits = 32 // enums are int sized
	} else if bt, ok := t.(*dwarves.BaseType); ok {
		typeBits = bt.BitSize
		integralBits = dwarves.BaseTypeBits(bt.Name)
	} else {
		return
	}

	// integralBits is zero when the base-type name is unknown; the zero
	// byte size stays visible in the output so the gap is easy to spot.
	m.ByteSize = uint64(integralBits) / 8
	if integralBits == 0 {
		return
	}

	if typeBits == integralBits {
		m.BitSize = integralBits
		if fixup {
			m.BitfieldSize = 0
			m.BitfieldOffset = 0
		}
		return
	}
	m.BitSize = typeBits
}

// followToStorageType drops typedefs and qualifiers until it reaches the
// base type or enumeration that actually stores the member.
func followToStorageType(cu *dwarves.CU, id uint64) dwarves.Node {
	t := cu.TypeAt(id)
	for depth := 0; t != nil && depth < 64; depth++ {
		switch t.Common().Kind {
		case dwarves.KindTypedef, dwarves.KindConst, dwarves.KindVolatile:
			t = cu.TypeAt(t.Common().Type)
		default:
			return t
		}
	}
	return t
}
