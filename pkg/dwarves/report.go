package dwarves

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// CUInfo is the JSON-facing summary of a compilation unit.
type CUInfo struct {
	Name        string `json:"name"`
	Filename    string `json:"filename"`
	BuildID     string `json:"build_id,omitempty"`
	PointerSize uint8  `json:"pointer_size"`
	Language    uint16 `json:"language"`
	Types       int    `json:"types"`
	Tags        int    `json:"tags"`
	Functions   int    `json:"functions"`
}

// TypeInfo is the JSON-facing summary of a type node.
type TypeInfo struct {
	ID      uint32       `json:"id"`
	Kind    string       `json:"kind"`
	Name    string       `json:"name,omitempty"`
	Size    uint64       `json:"size,omitempty"`
	Members []MemberInfo `json:"members,omitempty"`
}

// MemberInfo is the JSON-facing summary of a class/struct/union member.
type MemberInfo struct {
	Name         string `json:"name"`
	TypeName     string `json:"type_name"`
	ByteOffset   uint64 `json:"byte_offset"`
	ByteSize     uint64 `json:"byte_size"`
	BitSize      uint16 `json:"bit_size,omitempty"`
	BitfieldSize uint8  `json:"bitfield_size,omitempty"`
}

// FunctionInfo is the JSON-facing summary of a subprogram.
type FunctionInfo struct {
	Name        string `json:"name"`
	LinkageName string `json:"linkage_name,omitempty"`
	Signature   string `json:"signature"`
	External    bool   `json:"external"`
	Inlined     bool   `json:"inlined,omitempty"`
	VtableEntry int64  `json:"vtable_entry,omitempty"`
}

// VariableInfo is the JSON-facing summary of a variable.
type VariableInfo struct {
	Name     string `json:"name"`
	TypeName string `json:"type_name"`
	Location string `json:"location"`
	Addr     uint64 `json:"addr,omitempty"`
	External bool   `json:"external"`
}

// Info summarizes the unit.
func (c *CU) Info() CUInfo {
	return CUInfo{
		Name:        c.Name,
		Filename:    c.Filename,
		BuildID:     hex.EncodeToString(c.BuildID),
		PointerSize: c.PointerSize,
		Language:    c.Language,
		Types:       len(c.Types) - 1,
		Tags:        len(c.Tags),
		Functions:   len(c.Functions),
	}
}

// TypeInfos summarizes every type in the unit, in dense-id order.
func (c *CU) TypeInfos() []TypeInfo {
	infos := make([]TypeInfo, 0, len(c.Types)-1)
	for i := 1; i < len(c.Types); i++ {
		n := c.Types[i]
		ti := TypeInfo{
			ID:   uint32(i),
			Kind: n.Common().Kind.String(),
		}
		if ns := namespaceOf(n); ns != nil {
			ti.Name = Str(ns.Name)
		} else if bt, ok := n.(*BaseType); ok {
			ti.Name = Str(bt.Name)
		}
		if t := typeOf(n); t != nil {
			ti.Size = t.Size
			for _, m := range t.Members() {
				ti.Members = append(ti.Members, MemberInfo{
					Name:         Str(m.Name),
					TypeName:     c.Signature(m.Type),
					ByteOffset:   m.ByteOffset,
					ByteSize:     m.ByteSize,
					BitSize:      m.BitSize,
					BitfieldSize: m.BitfieldSize,
				})
			}
		}
		infos = append(infos, ti)
	}
	return infos
}

// FunctionInfos summarizes every subprogram in the unit.
func (c *CU) FunctionInfos() []FunctionInfo {
	infos := make([]FunctionInfo, 0, len(c.Functions))
	for _, n := range c.Functions {
		fn, ok := n.(*Function)
		if !ok {
			continue
		}
		infos = append(infos, FunctionInfo{
			Name:        Str(fn.Name),
			LinkageName: Str(fn.LinkageName),
			Signature:   c.functionSignature(fn),
			External:    fn.External,
			Inlined:     fn.Inlined != 0,
			VtableEntry: fn.VtableEntry,
		})
	}
	return infos
}

// VariableInfos summarizes every variable in the unit's tags table.
func (c *CU) VariableInfos() []VariableInfo {
	var infos []VariableInfo
	for _, n := range c.Tags {
		v, ok := n.(*Variable)
		if !ok {
			continue
		}
		infos = append(infos, VariableInfo{
			Name:     Str(v.Name),
			TypeName: c.Signature(v.Type),
			Location: v.Location.String(),
			Addr:     v.Addr,
			External: v.External,
		})
	}
	return infos
}

// Signature renders the type at the given dense id as a C-like string.
// Only valid after the unit has been recoded.
func (c *CU) Signature(id uint64) string {
	return c.signature(id, 0)
}

func (c *CU) signature(id uint64, depth int) string {
	if id == 0 {
		return "void"
	}
	if depth > maxTypeDepth {
		return "..."
	}
	n := c.TypeAt(id)
	if n == nil {
		return fmt.Sprintf("type_%d", id)
	}
	t := n.Common()
	switch t.Kind {
	case KindBase:
		return Str(n.(*BaseType).Name)
	case KindPointer:
		return c.signature(t.Type, depth+1) + " *"
	case KindReference:
		return c.signature(t.Type, depth+1) + " &"
	case KindConst:
		return "const " + c.signature(t.Type, depth+1)
	case KindVolatile:
		return "volatile " + c.signature(t.Type, depth+1)
	case KindTypedef, KindNamespace:
		return Str(namespaceOf(n).Name)
	case KindStruct, KindClass:
		return "struct " + c.namedOrAnon(n)
	case KindUnion:
		return "union " + c.namedOrAnon(n)
	case KindEnumeration:
		return "enum " + c.namedOrAnon(n)
	case KindArray:
		a := n.(*ArrayType)
		var dims strings.Builder
		for _, nr := range a.NrEntries {
			fmt.Fprintf(&dims, "[%d]", nr)
		}
		return c.signature(t.Type, depth+1) + dims.String()
	case KindSubroutineType:
		ft := n.(*FType)
		return c.ftypeSignature(ft.Params, t.Type, ft.UnspecParams, depth)
	case KindPtrToMember:
		pt := n.(*PtrToMemberType)
		return fmt.Sprintf("%s %s::*",
			c.signature(t.Type, depth+1),
			c.namedOrAnon(c.TypeAt(pt.ContainingType)))
	}
	return t.Kind.String()
}

func (c *CU) namedOrAnon(n Node) string {
	if n == nil {
		return "?"
	}
	if ns := namespaceOf(n); ns != nil && ns.Name != 0 {
		return Str(ns.Name)
	}
	return "(anonymous)"
}

func (c *CU) ftypeSignature(params []*Parameter, ret uint64, unspec bool, depth int) string {
	var b strings.Builder
	b.WriteString(c.signature(ret, depth+1))
	b.WriteString(" (")
	for i, p := range params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.signature(p.Type, depth+1))
	}
	if unspec {
		if len(params) > 0 {
			b.WriteString(", ")
		}
		b.WriteString("...")
	}
	b.WriteString(")")
	return b.String()
}

func (c *CU) functionSignature(fn *Function) string {
	return c.ftypeSignature(fn.Params, fn.Type, fn.UnspecParams, 0)
}
