package dwarves

import "github.com/jtang613/godwarves/pkg/dwarves/strpool"

// BaseType is a language primitive such as int or double. BitSize is the
// natural width; synthetic base types created for bitfield members carry a
// width smaller than their storage unit.
type BaseType struct {
	Tag
	Name      strpool.ID
	BitSize   uint16
	IsBool    bool
	IsSigned  bool
	IsVarargs bool
}

// ArrayType is an array whose element type is Tag.Type. NrEntries holds the
// per-dimension entry counts (upper bound + 1) in declaration order; an
// incomplete array has none.
type ArrayType struct {
	Tag
	IsVector  bool
	NrEntries []uint32
}

// Dimensions returns the number of array dimensions.
func (a *ArrayType) Dimensions() int { return len(a.NrEntries) }

// Enumerator is a single named constant of an enumeration.
type Enumerator struct {
	Tag
	Name  strpool.ID
	Value int64
}

// Namespace is the common shape of every node that owns an ordered list of
// child tags: namespaces proper, classes, structs, unions and enumerations.
// SharedTags marks a node that borrows another node's list and must never
// treat it as its own.
type Namespace struct {
	Tag
	Name       strpool.ID
	Tags       []Node
	SharedTags bool
}

// AddTag appends a child tag.
func (n *Namespace) AddTag(node Node) {
	n.Tags = append(n.Tags, node)
}

// Type extends Namespace with the attributes shared by aggregates,
// enumerations and typedefs. Size is in bytes, except for enumerations
// where it is in bits. A typedef carries no members; its aliased type is
// Tag.Type.
type Type struct {
	Namespace
	Size              uint64
	NrMembers         uint16
	Declaration       bool
	DefinitionEmitted bool
	FwdDeclEmitted    bool
	Resized           bool
}

// AddMember appends a member (or inheritance) tag to the child list.
func (t *Type) AddMember(m *ClassMember) {
	t.NrMembers++
	t.AddTag(m)
}

// AddEnumerator appends an enumerator to an enumeration's child list.
func (t *Type) AddEnumerator(e *Enumerator) {
	t.NrMembers++
	t.AddTag(e)
}

// Members returns the member and inheritance children in declaration order.
func (t *Type) Members() []*ClassMember {
	var members []*ClassMember
	for _, node := range t.Tags {
		if m, ok := node.(*ClassMember); ok {
			members = append(members, m)
		}
	}
	return members
}

// Class is a struct or class type, extending Type with layout bookkeeping
// and the virtual-method table.
type Class struct {
	Type
	Vtable     []*Function
	NrHoles    uint16
	NrBitHoles uint16
	Padding    uint32
	BitPadding uint8
}

// AddVtableEntry records a virtual method of the class.
func (c *Class) AddVtableEntry(fn *Function) {
	c.Vtable = append(c.Vtable, fn)
}

// ClassMember is a data member of a class, struct or union, or an
// inheritance link. ByteSize and BitSize are filled by the size-cache pass
// after the unit is recoded.
type ClassMember struct {
	Tag
	Name           strpool.ID
	ByteOffset     uint64
	ByteSize       uint64
	BitOffset      uint64
	BitSize        uint16
	BitfieldOffset uint8
	BitfieldSize   uint8
	BitHole        uint8
	Hole           uint64
	BitfieldEnd    bool
	Visited        bool
	Accessibility  uint8
	Virtuality     uint8
}

// Parameter is a formal parameter of a function or function type.
type Parameter struct {
	Tag
	Name strpool.ID
}

// Location classifies where a variable lives.
type Location uint8

// Variable locations.
const (
	LocationUnknown Location = iota
	LocationOptimized
	LocationGlobal
	LocationRegister
	LocationLocal
)

var locationNames = map[Location]string{
	LocationUnknown:   "unknown",
	LocationOptimized: "optimized",
	LocationGlobal:    "global",
	LocationRegister:  "register",
	LocationLocal:     "local",
}

// String returns the lowercase display name of the location.
func (l Location) String() string {
	if s, ok := locationNames[l]; ok {
		return s
	}
	return "unknown"
}

// Variable is a variable declaration or definition. Addr is meaningful only
// for LocationGlobal.
type Variable struct {
	Tag
	Name        strpool.ID
	Addr        uint64
	External    bool
	Declaration bool
	Location    Location
}

// Label is a code label inside a function.
type Label struct {
	Tag
	Name strpool.ID
	Addr uint64
}

// FType is the function-type view shared by subprograms and subroutine
// types: the return type (Tag.Type) plus the ordered parameter list.
type FType struct {
	Tag
	Params       []*Parameter
	UnspecParams bool
}

// AddParameter appends a formal parameter.
func (f *FType) AddParameter(p *Parameter) {
	f.Params = append(f.Params, p)
}

// LexBlock is a lexical scope: an address range plus the tags declared
// inside it, with per-kind counters kept as children are added.
type LexBlock struct {
	Tag
	Addr                 uint64
	Size                 uint64
	Tags                 []Node
	NrInlineExpansions   uint16
	NrLabels             uint16
	NrLexblocks          uint16
	NrVariables          uint16
	SizeInlineExpansions uint32
}

// AddTag appends a child tag without touching the counters.
func (l *LexBlock) AddTag(node Node) {
	l.Tags = append(l.Tags, node)
}

// AddVariable appends a variable declared in this scope.
func (l *LexBlock) AddVariable(v *Variable) {
	l.NrVariables++
	l.AddTag(v)
}

// AddLabel appends a label declared in this scope.
func (l *LexBlock) AddLabel(lb *Label) {
	l.NrLabels++
	l.AddTag(lb)
}

// AddLexblock appends a nested scope.
func (l *LexBlock) AddLexblock(child *LexBlock) {
	l.NrLexblocks++
	l.AddTag(child)
}

// AddInlineExpansion appends an inline expansion and accounts its size.
func (l *LexBlock) AddInlineExpansion(exp *InlineExpansion) {
	l.NrInlineExpansions++
	l.SizeInlineExpansions += uint32(exp.Size)
	l.AddTag(exp)
}

// Function is a subprogram: a function type plus the outermost lexical
// block of its body. Block's own tag header is unused; the function's
// header lives in the embedded FType.
type Function struct {
	FType
	Block             LexBlock
	Name              strpool.ID
	LinkageName       strpool.ID
	Inlined           uint8
	External          bool
	HasAbstractOrigin bool
	Accessibility     uint8
	Virtuality        uint8
	VtableEntry       int64
}

// InlineExpansion is an inlined instance of a function. Tag.Type refers to
// the abstract origin subprogram; Size sums the address ranges when the
// expansion is non-contiguous.
type InlineExpansion struct {
	Tag
	Addr   uint64
	HighPC uint64
	Size   uint64
}

// PtrToMemberType is a C++ pointer-to-member type. Tag.Type is the member
// type and ContainingType the class it belongs to.
type PtrToMemberType struct {
	Tag
	ContainingType uint64
}
