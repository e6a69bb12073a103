package loader

import (
	"debug/dwarf"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jtang613/godwarves/pkg/dwarves"
)

func loadStruct(t *testing.T, conf *dwarves.Conf, members ...*die) *dwarves.Class {
	t.Helper()
	p := newTestParser(t, false)
	fields := []dwarf.Field{
		fStr(dwarf.AttrName, "S"),
		fConst(dwarf.AttrByteSize, 8),
	}
	root := cuDie(dwarves.LangC,
		baseTypeDie(0x30, "int", 4, encSigned),
		baseTypeDie(0x34, "__u128", 16, 0x07),
		mkDie(0x40, dwarf.TagStructType, fields, members...),
	)
	require.NoError(t, p.process(root))
	cacheSizes(p.cu, conf)
	return p.cu.Types[3].(*dwarves.Class)
}

func TestCacheSizesPlainMember(t *testing.T) {
	s := loadStruct(t, nil,
		memberDie(0x48, "a", 0x30),
	)
	a := s.Members()[0]
	require.Equal(t, uint64(4), a.ByteSize)
	require.Equal(t, uint16(32), a.BitSize)
}

func TestCacheSizesUnknownBaseTypeName(t *testing.T) {
	s := loadStruct(t, nil,
		memberDie(0x48, "x", 0x34, fConst(dwarf.AttrBitSize, 5)),
	)
	x := s.Members()[0]
	// The storage-unit table does not know __u128; the zero stays visible.
	require.Equal(t, uint64(0), x.ByteSize)
	require.Equal(t, uint16(0), x.BitSize)
}

func TestCacheSizesSillyBitfield(t *testing.T) {
	member := func() *die {
		return memberDie(0x48, "whole", 0x30, fConst(dwarf.AttrBitSize, 32))
	}

	s := loadStruct(t, nil, member())
	whole := s.Members()[0]
	require.Equal(t, uint16(32), whole.BitSize)
	require.Equal(t, uint8(32), whole.BitfieldSize)

	fixed := loadStruct(t, &dwarves.Conf{FixupSillyBitfields: true}, member())
	whole = fixed.Members()[0]
	require.Equal(t, uint16(32), whole.BitSize)
	require.Equal(t, uint8(0), whole.BitfieldSize)
	require.Equal(t, uint8(0), whole.BitfieldOffset)
}

func TestCacheSizesTwiceIsIdempotent(t *testing.T) {
	p := newTestParser(t, false)
	root := cuDie(dwarves.LangC,
		baseTypeDie(0x30, "int", 4, encSigned),
		mkDie(0x40, dwarf.TagStructType, []dwarf.Field{
			fStr(dwarf.AttrName, "S"),
			fConst(dwarf.AttrByteSize, 8),
		},
			memberDie(0x48, "a", 0x30),
			memberDie(0x52, "b", 0x30, fConst(dwarf.AttrBitSize, 3)),
		),
	)
	require.NoError(t, p.process(root))

	cacheSizes(p.cu, nil)
	s := p.cu.Types[2].(*dwarves.Class)
	first := make([]dwarves.ClassMember, 0, 2)
	for _, m := range s.Members() {
		first = append(first, *m)
	}

	cacheSizes(p.cu, nil)
	for i, m := range s.Members() {
		require.Equal(t, first[i], *m)
	}
}

func TestCacheSizesEnumBitfield(t *testing.T) {
	p := newTestParser(t, false)
	root := cuDie(dwarves.LangC,
		mkDie(0x30, dwarf.TagEnumerationType, []dwarf.Field{
			fStr(dwarf.AttrName, "E"),
			fConst(dwarf.AttrByteSize, 4),
		},
			mkDie(0x38, dwarf.TagEnumerator, []dwarf.Field{
				fStr(dwarf.AttrName, "A"),
				fConst(dwarf.AttrConstValue, 0),
			}),
		),
		mkDie(0x60, dwarf.TagStructType, []dwarf.Field{
			fStr(dwarf.AttrName, "H"),
			fConst(dwarf.AttrByteSize, 4),
		},
			memberDie(0x68, "e", 0x30, fConst(dwarf.AttrBitSize, 2)),
		),
	)
	require.NoError(t, p.process(root))
	cacheSizes(p.cu, nil)

	e := p.cu.Types[2].(*dwarves.Class).Members()[0]
	require.Equal(t, uint64(4), e.ByteSize) // enums store as int
	require.Equal(t, uint16(2), e.BitSize)
}
