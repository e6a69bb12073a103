package loader

import (
	"debug/dwarf"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jtang613/godwarves/pkg/dwarves"
	"github.com/jtang613/godwarves/pkg/dwarves/strpool"
)

// --- DIE construction helpers ---

func mkDie(off dwarf.Offset, tag dwarf.Tag, fields []dwarf.Field, children ...*die) *die {
	return &die{
		entry: &dwarf.Entry{
			Offset:   off,
			Tag:      tag,
			Children: len(children) > 0,
			Field:    fields,
		},
		children: children,
	}
}

func fConst(a dwarf.Attr, v int64) dwarf.Field {
	return dwarf.Field{Attr: a, Val: v, Class: dwarf.ClassConstant}
}

func fStr(a dwarf.Attr, s string) dwarf.Field {
	return dwarf.Field{Attr: a, Val: s, Class: dwarf.ClassString}
}

func fRef(a dwarf.Attr, off dwarf.Offset) dwarf.Field {
	return dwarf.Field{Attr: a, Val: off, Class: dwarf.ClassReference}
}

func fFlag(a dwarf.Attr) dwarf.Field {
	return dwarf.Field{Attr: a, Val: true, Class: dwarf.ClassFlag}
}

func fAddr(a dwarf.Attr, v uint64) dwarf.Field {
	return dwarf.Field{Attr: a, Val: v, Class: dwarf.ClassAddress}
}

func fExpr(a dwarf.Attr, b []byte) dwarf.Field {
	return dwarf.Field{Attr: a, Val: b, Class: dwarf.ClassExprLoc}
}

func baseTypeDie(off dwarf.Offset, name string, byteSize, encoding int64) *die {
	return mkDie(off, dwarf.TagBaseType, []dwarf.Field{
		fStr(dwarf.AttrName, name),
		fConst(dwarf.AttrByteSize, byteSize),
		fConst(dwarf.AttrEncoding, encoding),
	})
}

func memberDie(off dwarf.Offset, name string, typ dwarf.Offset, extra ...dwarf.Field) *die {
	fields := []dwarf.Field{
		fStr(dwarf.AttrName, name),
		fRef(dwarf.AttrType, typ),
	}
	return mkDie(off, dwarf.TagMember, append(fields, extra...))
}

func cuDie(lang int64, children ...*die) *die {
	return mkDie(0x0b, dwarf.TagCompileUnit, []dwarf.Field{
		fStr(dwarf.AttrName, "test.c"),
		fConst(dwarf.AttrLanguage, lang),
	}, children...)
}

func newTestParser(t *testing.T, addrInfo bool) *parser {
	t.Helper()
	dwarves.Strings = strpool.New()
	cu := dwarves.NewCU("test.c", "test", 8, nil)
	cu.HasAddrInfo = addrInfo
	dcu := newDwarfCU(cu)
	cu.Priv = dcu
	return &parser{cu: cu, dcu: dcu, pool: dwarves.Strings}
}

// --- tests ---

func TestProcessRejectsWrongRoot(t *testing.T) {
	p := newTestParser(t, false)
	root := mkDie(0x0b, dwarf.TagSubprogram, nil)

	err := p.process(root)
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected compile unit")
}

func TestProcessRejectsUnsupportedTopLevelTag(t *testing.T) {
	p := newTestParser(t, false)
	root := cuDie(dwarves.LangC,
		mkDie(0x20, dwarf.TagEntryPoint, nil),
	)

	err := p.process(root)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported top-level tag")
}

func TestDenseIDsFollowVisitationOrder(t *testing.T) {
	p := newTestParser(t, false)
	root := cuDie(dwarves.LangC,
		baseTypeDie(0x30, "int", 4, encSigned),
		baseTypeDie(0x40, "char", 1, encSigned),
		mkDie(0x50, dwarf.TagPointerType, []dwarf.Field{
			fRef(dwarf.AttrType, 0x40),
		}),
	)
	require.NoError(t, p.process(root))

	require.Len(t, p.cu.Types, 4) // void + 3
	for i := 1; i < len(p.cu.Types); i++ {
		dt := p.cu.Types[i].Common().Priv.(*dwarfTag)
		require.Equal(t, uint32(i), dt.smallID)
	}
	// The pointer's target resolved to char's dense id.
	require.Equal(t, uint64(2), p.cu.Types[3].Common().Type)
}

func TestStructBitfields(t *testing.T) {
	p := newTestParser(t, false)
	root := cuDie(dwarves.LangC,
		baseTypeDie(0x30, "int", 4, encSigned),
		mkDie(0x40, dwarf.TagStructType, []dwarf.Field{
			fStr(dwarf.AttrName, "S"),
			fConst(dwarf.AttrByteSize, 4),
		},
			memberDie(0x48, "a", 0x30,
				fConst(dwarf.AttrBitSize, 3),
				fConst(dwarf.AttrBitOffset, 29),
				fConst(dwarf.AttrDataMemberLoc, 0)),
			memberDie(0x52, "b", 0x30,
				fConst(dwarf.AttrBitSize, 5),
				fConst(dwarf.AttrBitOffset, 24),
				fConst(dwarf.AttrDataMemberLoc, 0)),
		),
	)
	require.NoError(t, p.process(root))
	cacheSizes(p.cu, nil)

	s := p.cu.Types[2].(*dwarves.Class)
	require.Equal(t, "S", dwarves.Str(s.Name))
	require.Equal(t, uint64(4), s.Size)

	members := s.Members()
	require.Len(t, members, 2)

	a, b := members[0], members[1]
	require.Equal(t, uint64(4), a.ByteSize)
	require.Equal(t, uint16(3), a.BitSize)
	require.Equal(t, uint64(4), b.ByteSize)
	require.Equal(t, uint16(5), b.BitSize)

	// Each member points at a synthetic int of its own width.
	at := p.cu.TypeAt(a.Type).(*dwarves.BaseType)
	require.Equal(t, "int", dwarves.Str(at.Name))
	require.Equal(t, uint16(3), at.BitSize)
	require.True(t, at.TopLevel)

	bt := p.cu.TypeAt(b.Type).(*dwarves.BaseType)
	require.Equal(t, uint16(5), bt.BitSize)

	// Exactly one synthetic (int, 3) exists.
	count := 0
	for i := 1; i < len(p.cu.Types); i++ {
		if base, ok := p.cu.Types[i].(*dwarves.BaseType); ok &&
			dwarves.Str(base.Name) == "int" && base.BitSize == 3 {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestBitfieldSynthesisDedup(t *testing.T) {
	p := newTestParser(t, false)
	root := cuDie(dwarves.LangC,
		baseTypeDie(0x30, "int", 4, encSigned),
		mkDie(0x40, dwarf.TagStructType, []dwarf.Field{
			fStr(dwarf.AttrName, "S"),
			fConst(dwarf.AttrByteSize, 4),
		},
			memberDie(0x48, "a", 0x30, fConst(dwarf.AttrBitSize, 3)),
			memberDie(0x52, "b", 0x30, fConst(dwarf.AttrBitSize, 3)),
		),
	)
	require.NoError(t, p.process(root))

	members := p.cu.Types[2].(*dwarves.Class).Members()
	require.Equal(t, members[0].Type, members[1].Type)
}

func TestTypedefBitfieldGetsFreshTypedef(t *testing.T) {
	p := newTestParser(t, false)
	root := cuDie(dwarves.LangC,
		baseTypeDie(0x30, "unsigned int", 4, 0x07),
		mkDie(0x50, dwarf.TagTypedef, []dwarf.Field{
			fStr(dwarf.AttrName, "U"),
			fRef(dwarf.AttrType, 0x30),
		}),
		mkDie(0x60, dwarf.TagStructType, []dwarf.Field{
			fStr(dwarf.AttrName, "T"),
			fConst(dwarf.AttrByteSize, 4),
		},
			memberDie(0x68, "x", 0x50, fConst(dwarf.AttrBitSize, 7)),
		),
	)
	require.NoError(t, p.process(root))
	cacheSizes(p.cu, nil)

	// Types: void, unsigned int, U, T, synthetic base, synthetic typedef.
	original := p.cu.Types[2].(*dwarves.Type)
	require.Equal(t, "U", dwarves.Str(original.Name))
	require.Equal(t, uint64(1), original.Type) // still the full-width base

	x := p.cu.Types[3].(*dwarves.Class).Members()[0]
	fresh, ok := p.cu.TypeAt(x.Type).(*dwarves.Type)
	require.True(t, ok)
	require.Equal(t, dwarves.KindTypedef, fresh.Kind)
	require.NotSame(t, original, fresh)
	require.Equal(t, "U", dwarves.Str(fresh.Name))

	inner := p.cu.TypeAt(fresh.Type).(*dwarves.BaseType)
	require.Equal(t, "unsigned int", dwarves.Str(inner.Name))
	require.Equal(t, uint16(7), inner.BitSize)

	require.Equal(t, uint64(4), x.ByteSize)
	require.Equal(t, uint16(7), x.BitSize)
}

func TestEnumBitfieldSharesEnumerators(t *testing.T) {
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
			mkDie(0x3c, dwarf.TagEnumerator, []dwarf.Field{
				fStr(dwarf.AttrName, "B"),
				fConst(dwarf.AttrConstValue, 1),
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

	orig := p.cu.Types[1].(*dwarves.Type)
	require.Equal(t, uint64(32), orig.Size)

	e := p.cu.Types[2].(*dwarves.Class).Members()[0]
	synth, ok := p.cu.TypeAt(e.Type).(*dwarves.Type)
	require.True(t, ok)
	require.Equal(t, dwarves.KindEnumeration, synth.Kind)
	require.Equal(t, uint64(2), synth.Size)
	require.True(t, synth.SharedTags)
	require.Equal(t, orig.NrMembers, synth.NrMembers)
	// Borrowed, not copied.
	require.Equal(t, len(orig.Tags), len(synth.Tags))
	require.Same(t, orig.Tags[0], synth.Tags[0])
}

func TestEnumerationDefaultSize(t *testing.T) {
	p := newTestParser(t, false)
	root := cuDie(dwarves.LangC,
		mkDie(0x30, dwarf.TagEnumerationType, []dwarf.Field{
			fStr(dwarf.AttrName, "E"),
		}),
	)
	require.NoError(t, p.process(root))

	enum := p.cu.Types[1].(*dwarves.Type)
	require.Equal(t, uint64(32), enum.Size)
}

func TestFunctionSpecificationName(t *testing.T) {
	p := newTestParser(t, false)
	root := cuDie(dwarves.LangCPlusPlus,
		mkDie(0x60, dwarf.TagSubprogram, []dwarf.Field{
			fStr(dwarf.AttrName, "frobnicate"),
			fFlag(dwarf.AttrDeclaration),
		}),
		mkDie(0x100, dwarf.TagSubprogram, []dwarf.Field{
			fRef(dwarf.AttrSpecification, 0x60),
		}),
	)
	require.NoError(t, p.process(root))

	require.Len(t, p.cu.Functions, 2)
	def := p.cu.Functions[1].(*dwarves.Function)
	require.Equal(t, "frobnicate", dwarves.Str(def.Name))
}

func TestInlineExpansionNonContiguousRanges(t *testing.T) {
	p := newTestParser(t, true)
	p.ranges = func(e *dwarf.Entry) [][2]uint64 {
		if e.Offset == 0x95 {
			return [][2]uint64{{0x100, 0x120}, {0x200, 0x210}}
		}
		return nil
	}
	root := cuDie(dwarves.LangC,
		mkDie(0x80, dwarf.TagSubprogram, []dwarf.Field{
			fStr(dwarf.AttrName, "inlined_me"),
			fConst(dwarf.AttrInline, 1),
		}),
		mkDie(0x90, dwarf.TagSubprogram, []dwarf.Field{
			fStr(dwarf.AttrName, "caller"),
			fAddr(dwarf.AttrLowpc, 0x100),
			fConst(dwarf.AttrHighpc, 0x200),
		},
			mkDie(0x95, dwarf.TagInlinedSubroutine, []dwarf.Field{
				fRef(dwarf.AttrAbstractOrigin, 0x80),
			}),
		),
	)
	require.NoError(t, p.process(root))

	caller := p.cu.Functions[1].(*dwarves.Function)
	require.Equal(t, uint16(1), caller.Block.NrInlineExpansions)
	require.Equal(t, uint32(0x30), caller.Block.SizeInlineExpansions)

	var exp *dwarves.InlineExpansion
	for _, n := range p.cu.Tags {
		if e, ok := n.(*dwarves.InlineExpansion); ok {
			exp = e
		}
	}
	require.NotNil(t, exp)
	require.Equal(t, uint64(0x30), exp.Size)
	require.Equal(t, uint64(0x100), exp.Addr)
}

func TestInlineExpansionOriginResolvesToFunction(t *testing.T) {
	p := newTestParser(t, false)
	root := cuDie(dwarves.LangC,
		mkDie(0x80, dwarf.TagSubprogram, []dwarf.Field{
			fStr(dwarf.AttrName, "inlined_me"),
			fConst(dwarf.AttrInline, 1),
		}),
		mkDie(0x90, dwarf.TagSubprogram, []dwarf.Field{
			fStr(dwarf.AttrName, "caller"),
		},
			mkDie(0x95, dwarf.TagInlinedSubroutine, []dwarf.Field{
				fRef(dwarf.AttrAbstractOrigin, 0x80),
			}),
		),
	)
	require.NoError(t, p.process(root))

	var exp *dwarves.InlineExpansion
	for _, n := range p.cu.Tags {
		if e, ok := n.(*dwarves.InlineExpansion); ok {
			exp = e
		}
	}
	require.NotNil(t, exp)
	fn, ok := p.cu.FunctionAt(exp.Type).(*dwarves.Function)
	require.True(t, ok)
	require.Equal(t, "inlined_me", dwarves.Str(fn.Name))
}

func TestPtrToMemberForwardReference(t *testing.T) {
	p := newTestParser(t, true)
	root := cuDie(dwarves.LangCPlusPlus,
		baseTypeDie(0x30, "int", 4, encSigned),
		// The pointer-to-member comes before the class it refers to.
		mkDie(0x20, dwarf.TagPtrToMemberType, []dwarf.Field{
			fRef(dwarf.AttrType, 0x30),
			fRef(dwarf.AttrContainingType, 0x70),
		}),
		mkDie(0x70, dwarf.TagClassType, []dwarf.Field{
			fStr(dwarf.AttrName, "C"),
			fConst(dwarf.AttrByteSize, 8),
		}),
	)
	require.NoError(t, p.process(root))

	pt := p.cu.Types[2].(*dwarves.PtrToMemberType)
	class := p.cu.TypeAt(pt.ContainingType)
	require.NotNil(t, class)
	require.Equal(t, "C", dwarves.Str(dwarves.NamespaceOf(class).Name))
	require.Equal(t, uint64(1), pt.Type) // int
}

func TestVariableLocations(t *testing.T) {
	p := newTestParser(t, true)
	root := cuDie(dwarves.LangC,
		baseTypeDie(0x30, "int", 4, encSigned),
		mkDie(0x40, dwarf.TagVariable, []dwarf.Field{
			fStr(dwarf.AttrName, "optimized_away"),
			fRef(dwarf.AttrType, 0x30),
		}),
		mkDie(0x50, dwarf.TagVariable, []dwarf.Field{
			fStr(dwarf.AttrName, "global"),
			fRef(dwarf.AttrType, 0x30),
			fFlag(dwarf.AttrExternal),
			fExpr(dwarf.AttrLocation,
				[]byte{opAddr, 0x40, 0x10, 0x60, 0, 0, 0, 0, 0}),
		}),
	)
	require.NoError(t, p.process(root))

	opt := p.cu.Tags[0].(*dwarves.Variable)
	require.Equal(t, dwarves.LocationOptimized, opt.Location)

	global := p.cu.Tags[1].(*dwarves.Variable)
	require.Equal(t, dwarves.LocationGlobal, global.Location)
	require.Equal(t, uint64(0x601040), global.Addr)
	require.True(t, global.External)
}

func TestArrayDimensions(t *testing.T) {
	p := newTestParser(t, false)

	sub := func(off dwarf.Offset, n int64) *die {
		return mkDie(off, dwarf.TagSubrangeType, []dwarf.Field{
			fConst(dwarf.AttrUpperBound, n),
		})
	}
	root := cuDie(dwarves.LangC,
		baseTypeDie(0x30, "int", 4, encSigned),
		mkDie(0x40, dwarf.TagArrayType, []dwarf.Field{
			fRef(dwarf.AttrType, 0x30),
		}, sub(0x44, 9), sub(0x48, 2)),
		mkDie(0x60, dwarf.TagArrayType, []dwarf.Field{
			fRef(dwarf.AttrType, 0x30),
		}),
	)
	require.NoError(t, p.process(root))

	a := p.cu.Types[2].(*dwarves.ArrayType)
	require.Equal(t, []uint32{10, 3}, a.NrEntries)
	require.Equal(t, 2, a.Dimensions())

	empty := p.cu.Types[3].(*dwarves.ArrayType)
	require.Nil(t, empty.NrEntries)
	require.Equal(t, 0, empty.Dimensions())
}

func TestArrayDimensionsTruncated(t *testing.T) {
	p := newTestParser(t, false)

	children := make([]*die, 70)
	for i := range children {
		children[i] = mkDie(dwarf.Offset(0x100+i), dwarf.TagSubrangeType,
			[]dwarf.Field{fConst(dwarf.AttrUpperBound, 0)})
	}
	root := cuDie(dwarves.LangC,
		baseTypeDie(0x30, "int", 4, encSigned),
		mkDie(0x40, dwarf.TagArrayType, []dwarf.Field{
			fRef(dwarf.AttrType, 0x30),
		}, children...),
	)
	require.NoError(t, p.process(root))

	a := p.cu.Types[2].(*dwarves.ArrayType)
	require.Equal(t, maxDimensions, a.Dimensions())
}

func TestCPlusPlusMembersEnterTagsTable(t *testing.T) {
	p := newTestParser(t, false)
	root := cuDie(dwarves.LangCPlusPlus,
		baseTypeDie(0x30, "int", 4, encSigned),
		mkDie(0x40, dwarf.TagClassType, []dwarf.Field{
			fStr(dwarf.AttrName, "C"),
			fConst(dwarf.AttrByteSize, 4),
		},
			memberDie(0x48, "m", 0x30),
		),
	)
	require.NoError(t, p.process(root))

	require.Len(t, p.cu.Tags, 1)
	m, ok := p.cu.Tags[0].(*dwarves.ClassMember)
	require.True(t, ok)
	require.Equal(t, "m", dwarves.Str(m.Name))

	// The same node, not a copy, sits in the class's member list.
	require.Same(t, m, p.cu.Types[2].(*dwarves.Class).Members()[0])
}

func TestRecodeTwiceIsIdempotent(t *testing.T) {
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

	nTypes := len(p.cu.Types)
	member := p.cu.Types[2].(*dwarves.Class).Members()[1]
	typ := member.Type

	require.NoError(t, p.dcu.recode())
	require.Len(t, p.cu.Types, nTypes)
	require.Equal(t, typ, member.Type)

	// After the scratch is dropped, recode has nothing left to do.
	dropScratch(p.cu)
	require.NoError(t, p.dcu.recode())
	require.Len(t, p.cu.Types, nTypes)
}

func TestDanglingTypeReferenceResolvesToVoid(t *testing.T) {
	p := newTestParser(t, false)
	root := cuDie(dwarves.LangC,
		mkDie(0x40, dwarf.TagPointerType, []dwarf.Field{
			fRef(dwarf.AttrType, 0xdead),
		}),
	)
	require.NoError(t, p.process(root))

	require.Equal(t, uint64(0), p.cu.Types[1].Common().Type)
}

func TestDropScratchClearsEveryNode(t *testing.T) {
	p := newTestParser(t, false)
	root := cuDie(dwarves.LangC,
		baseTypeDie(0x30, "int", 4, encSigned),
		mkDie(0x40, dwarf.TagStructType, []dwarf.Field{
			fStr(dwarf.AttrName, "S"),
			fConst(dwarf.AttrByteSize, 4),
		},
			memberDie(0x48, "a", 0x30),
		),
		mkDie(0x90, dwarf.TagSubprogram, []dwarf.Field{
			fStr(dwarf.AttrName, "f"),
		},
			mkDie(0x95, dwarf.TagFormalParameter, []dwarf.Field{
				fStr(dwarf.AttrName, "arg"),
				fRef(dwarf.AttrType, 0x30),
			}),
		),
	)
	require.NoError(t, p.process(root))

	dropScratch(p.cu)
	require.Nil(t, p.cu.Priv)
	p.cu.ForEachNode(func(n dwarves.Node) {
		require.Nil(t, n.Common().Priv)
	})
}

func TestUnsupportedNestedTagIsSkipped(t *testing.T) {
	p := newTestParser(t, false)
	root := cuDie(dwarves.LangC,
		mkDie(0x40, dwarf.TagStructType, []dwarf.Field{
			fStr(dwarf.AttrName, "S"),
			fConst(dwarf.AttrByteSize, 4),
		},
			mkDie(0x44, dwarf.TagEntryPoint, nil),
			memberDie(0x48, "a", 0),
		),
	)
	require.NoError(t, p.process(root))

	s := p.cu.Types[1].(*dwarves.Class)
	require.Len(t, s.Members(), 1)
}
