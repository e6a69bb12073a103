// Package dwarves models C/C++ program declarations extracted from the
// debug information of an ELF object: types, variables, functions and
// scopes, organized per compilation unit and cross-linked by dense
// per-unit indices.
package dwarves

import "github.com/jtang613/godwarves/pkg/dwarves/strpool"

// Strings is the process-wide string interning pool. It is installed once
// by the loader (or by tests) before any unit is parsed and is not safe
// for concurrent mutation.
var Strings *strpool.Pool

// Str resolves an interned ID against the process pool.
func Str(id strpool.ID) string {
	if Strings == nil {
		return ""
	}
	return Strings.Ptr(id)
}

// Kind discriminates every node the model can hold.
type Kind uint8

// Node kinds.
const (
	KindNone Kind = iota
	KindPointer
	KindReference
	KindConst
	KindVolatile
	KindImportedDeclaration
	KindImportedModule
	KindPtrToMember
	KindBase
	KindArray
	KindEnumerator
	KindEnumeration
	KindClass
	KindStruct
	KindUnion
	KindNamespace
	KindTypedef
	KindMember
	KindInheritance
	KindParameter
	KindVariable
	KindLabel
	KindSubroutineType
	KindFunction
	KindLexBlock
	KindInlineExpansion
)

var kindNames = map[Kind]string{
	KindNone:                "none",
	KindPointer:             "pointer",
	KindReference:           "reference",
	KindConst:               "const",
	KindVolatile:            "volatile",
	KindImportedDeclaration: "imported declaration",
	KindImportedModule:      "imported module",
	KindPtrToMember:         "ptr to member",
	KindBase:                "base type",
	KindArray:               "array",
	KindEnumerator:          "enumerator",
	KindEnumeration:         "enum",
	KindClass:               "class",
	KindStruct:              "struct",
	KindUnion:               "union",
	KindNamespace:           "namespace",
	KindTypedef:             "typedef",
	KindMember:              "member",
	KindInheritance:         "inheritance",
	KindParameter:           "parameter",
	KindVariable:            "variable",
	KindLabel:               "label",
	KindSubroutineType:      "subroutine type",
	KindFunction:            "function",
	KindLexBlock:            "lexical block",
	KindInlineExpansion:     "inline expansion",
}

// String returns the lowercase display name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// IsType reports whether nodes of this kind live in a unit's types table.
func (k Kind) IsType() bool {
	switch k {
	case KindPointer, KindReference, KindConst, KindVolatile,
		KindPtrToMember, KindBase, KindArray, KindEnumeration,
		KindClass, KindStruct, KindUnion, KindNamespace,
		KindTypedef, KindSubroutineType:
		return true
	}
	return false
}

// HasNamespace reports whether nodes of this kind carry a child-tag list
// that the recoder must descend into.
func (k Kind) HasNamespace() bool {
	switch k {
	case KindClass, KindStruct, KindUnion, KindNamespace, KindEnumeration:
		return true
	}
	return false
}

// Tag is the common header embedded in every model node.
//
// Type starts out zero during parse; the raw DWARF reference is carried in
// the loader's side-record instead. After the recode pass Type holds the
// dense intra-unit index of the referenced node: into the types table for
// type references (0 meaning void), into the tags or functions table for
// abstract origins of inline expansions and imported modules.
type Tag struct {
	Kind     Kind
	Type     uint64
	TopLevel bool

	// Priv points at the loader's per-node scratch while a unit is being
	// loaded. It is nil on synthetic nodes and is cleared for the whole
	// unit once loading finishes, unless extra debug info was requested.
	Priv any
}

// Common returns the node's tag header.
func (t *Tag) Common() *Tag { return t }

// Node is implemented by every model node.
type Node interface {
	Common() *Tag
}
