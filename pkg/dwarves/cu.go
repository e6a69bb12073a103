package dwarves

import "github.com/jtang613/godwarves/pkg/dwarves/strpool"

// DWARF source-language codes we care about.
const (
	LangC89         = 0x0001
	LangC           = 0x0002
	LangCPlusPlus   = 0x0004
	LangC99         = 0x000c
	LangCPlusPlus03 = 0x0019
	LangCPlusPlus11 = 0x001a
	LangCPlusPlus14 = 0x0021
)

// CU is one compilation unit: three dense tables of model nodes plus the
// unit's identity. Table indices are the node ids used by every
// cross-reference inside the unit; index 0 of the types table is reserved
// for void and holds nil.
type CU struct {
	Name        string
	Filename    string
	BuildID     []byte
	PointerSize uint8
	Language    uint16

	ExtraDbgInfo bool
	HasAddrInfo  bool

	Types     []Node
	Tags      []Node
	Functions []Node

	// Priv points at the loader's per-unit scratch (hash tables over raw
	// DIE offsets); nil once loading finishes, unless extra debug info was
	// requested.
	Priv any
}

// NewCU creates an empty unit with the void slot reserved.
func NewCU(name, filename string, pointerSize uint8, buildID []byte) *CU {
	return &CU{
		Name:        name,
		Filename:    filename,
		PointerSize: pointerSize,
		BuildID:     buildID,
		Types:       []Node{nil},
	}
}

// IsCPlusPlus reports whether the unit was compiled from C++.
func (c *CU) IsCPlusPlus() bool {
	switch c.Language {
	case LangCPlusPlus, LangCPlusPlus03, LangCPlusPlus11, LangCPlusPlus14:
		return true
	}
	return false
}

// Add appends the node to the table its kind belongs to and returns the
// assigned dense id.
func (c *CU) Add(n Node) uint32 {
	t := n.Common()
	switch {
	case t.Kind.IsType():
		c.Types = append(c.Types, n)
		return uint32(len(c.Types) - 1)
	case t.Kind == KindFunction:
		c.Functions = append(c.Functions, n)
		return uint32(len(c.Functions) - 1)
	default:
		c.Tags = append(c.Tags, n)
		return uint32(len(c.Tags) - 1)
	}
}

// TypeAt returns the types-table entry at id, nil for void or an invalid id.
func (c *CU) TypeAt(id uint64) Node {
	if id == 0 || id >= uint64(len(c.Types)) {
		return nil
	}
	return c.Types[id]
}

// TagAt returns the tags-table entry at id, or nil.
func (c *CU) TagAt(id uint64) Node {
	if id >= uint64(len(c.Tags)) {
		return nil
	}
	return c.Tags[id]
}

// FunctionAt returns the functions-table entry at id, or nil.
func (c *CU) FunctionAt(id uint64) Node {
	if id >= uint64(len(c.Functions)) {
		return nil
	}
	return c.Functions[id]
}

// FindBaseTypeByNameAndSize scans the types table for a base type with the
// given interned name and bit width. Used to deduplicate the synthetic
// types created for bitfield members; the scan is linear but bitfields are
// rare.
func (c *CU) FindBaseTypeByNameAndSize(name strpool.ID, bitSize uint16) (uint32, *BaseType) {
	for i := 1; i < len(c.Types); i++ {
		if bt, ok := c.Types[i].(*BaseType); ok &&
			bt.Name == name && bt.BitSize == bitSize {
			return uint32(i), bt
		}
	}
	return 0, nil
}

// FindEnumerationByNameAndSize scans the types table for an enumeration
// with the given interned name and bit size.
func (c *CU) FindEnumerationByNameAndSize(name strpool.ID, bitSize uint16) (uint32, *Type) {
	for i := 1; i < len(c.Types); i++ {
		if t, ok := c.Types[i].(*Type); ok &&
			t.Kind == KindEnumeration && t.Name == name &&
			t.Size == uint64(bitSize) {
			return uint32(i), t
		}
	}
	return 0, nil
}

// FollowTypedef resolves one level of type reference: the node the tag's
// recoded type id points at, nil for void.
func (c *CU) FollowTypedef(t *Tag) Node {
	return c.TypeAt(t.Type)
}

// SizeOf returns the size in bytes of the given node, resolving typedefs,
// qualifiers and array element types through the unit's tables. Only valid
// after the unit has been recoded.
func (c *CU) SizeOf(n Node) uint64 {
	return c.sizeOf(n, 0)
}

func (c *CU) sizeOf(n Node, depth int) uint64 {
	if n == nil || depth > maxTypeDepth {
		return 0
	}
	t := n.Common()
	switch t.Kind {
	case KindBase:
		return uint64(n.(*BaseType).BitSize) / 8
	case KindEnumeration:
		return n.(*Type).Size / 8
	case KindStruct, KindClass, KindUnion:
		return typeOf(n).Size
	case KindPointer, KindReference, KindPtrToMember:
		return uint64(c.PointerSize)
	case KindConst, KindVolatile, KindTypedef, KindMember, KindInheritance,
		KindVariable, KindParameter:
		return c.sizeOf(c.TypeAt(t.Type), depth+1)
	case KindArray:
		a := n.(*ArrayType)
		size := c.sizeOf(c.TypeAt(t.Type), depth+1)
		for _, nr := range a.NrEntries {
			size *= uint64(nr)
		}
		return size
	}
	return 0
}

// maxTypeDepth bounds type-chain recursion against malformed cyclic
// qualifier chains.
const maxTypeDepth = 64

// typeOf extracts the Type payload from a namespace-like node.
func typeOf(n Node) *Type {
	switch v := n.(type) {
	case *Class:
		return &v.Type
	case *Type:
		return v
	}
	return nil
}

// namespaceOf extracts the Namespace payload from any node carrying one,
// or nil.
func namespaceOf(n Node) *Namespace {
	switch v := n.(type) {
	case *Class:
		return &v.Namespace
	case *Type:
		return &v.Namespace
	case *Namespace:
		return v
	}
	return nil
}

// NamespaceOf is the exported form of namespaceOf, for consumers that need
// to reach a node's child list generically.
func NamespaceOf(n Node) *Namespace { return namespaceOf(n) }

// TypePayloadOf returns the Type payload of a namespace-like node, or nil
// for plain namespaces.
func TypePayloadOf(n Node) *Type { return typeOf(n) }

// ForEachNode visits every node owned by the unit: all table entries plus
// the nested members, parameters, enumerators and scope children hanging
// off them. Nodes reachable from more than one place are visited each time.
func (c *CU) ForEachNode(fn func(Node)) {
	for _, n := range c.Types[1:] {
		c.visitNode(n, fn)
	}
	for _, n := range c.Tags {
		c.visitNode(n, fn)
	}
	for _, n := range c.Functions {
		c.visitNode(n, fn)
	}
}

func (c *CU) visitNode(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	if ns := namespaceOf(n); ns != nil {
		for _, child := range ns.Tags {
			// Children that live in a table are visited from there;
			// still visit them here so nothing hanging off a shared or
			// member-only list is missed.
			c.visitChild(child, fn)
		}
		return
	}
	switch v := n.(type) {
	case *FType:
		for _, p := range v.Params {
			fn(p)
		}
	case *Function:
		for _, p := range v.Params {
			fn(p)
		}
		c.visitLexblock(&v.Block, fn)
	case *LexBlock:
		c.visitLexblock(v, fn)
	}
}

func (c *CU) visitChild(n Node, fn func(Node)) {
	fn(n)
	switch v := n.(type) {
	case *LexBlock:
		c.visitLexblock(v, fn)
	case *Function:
		for _, p := range v.Params {
			fn(p)
		}
		c.visitLexblock(&v.Block, fn)
	case *FType:
		for _, p := range v.Params {
			fn(p)
		}
	}
}

func (c *CU) visitLexblock(l *LexBlock, fn func(Node)) {
	for _, child := range l.Tags {
		if sub, ok := child.(*LexBlock); ok {
			fn(sub)
			c.visitLexblock(sub, fn)
			continue
		}
		fn(child)
	}
}
