package loader

import (
	"github.com/pkg/errors"

	"github.com/jtang613/godwarves/pkg/dwarves"
)

// recodeBitfieldMember points a bitfield member at a type whose width
// matches its declared bit size, synthesizing one when the unit has none.
func (dc *dwarfCU) recodeBitfieldMember(m *dwarves.ClassMember) error {
	dt, ok := m.Priv.(*dwarfTag)
	if !ok {
		return nil
	}
	// A member already pointing at a synthetic type (nil Priv) was
	// recoded by an earlier pass.
	if cur := dc.cu.TypeAt(m.Type); cur != nil && cur.Common().Priv == nil {
		return nil
	}
	dtype := dc.findTypeByID(dt.typ)
	if dtype == nil {
		dc.warnTypeNotFound(m, dt)
		return nil
	}
	id, err := dc.recodeBitfield(dtype.tag, uint16(m.BitfieldSize))
	if err != nil {
		return err
	}
	m.Type = uint64(id)
	return nil
}

// recodeBitfield returns the dense id of a type equivalent to n but
// bitSize bits wide. Base types and enumerations are deduplicated by
// (name, bit size) through the unit's types table; typedefs and
// qualifiers are rebuilt over the recoded inner type only when it
// changed. This is the only place the type graph grows after parse; the
// synthetic nodes carry no scratch record.
func (dc *dwarfCU) recodeBitfield(n dwarves.Node, bitSize uint16) (uint32, error) {
	cu := dc.cu
	t := n.Common()

	switch t.Kind {
	case dwarves.KindTypedef:
		self := n.(*dwarves.Type)
		id, changed, err := dc.recodeBitfieldInner(n, t, bitSize)
		if err != nil || !changed {
			return id, err
		}
		tdef := &dwarves.Type{}
		tdef.Kind = dwarves.KindTypedef
		tdef.Type = uint64(id)
		tdef.Name = self.Name
		return cu.Add(tdef), nil

	case dwarves.KindConst, dwarves.KindVolatile:
		id, changed, err := dc.recodeBitfieldInner(n, t, bitSize)
		if err != nil || !changed {
			return id, err
		}
		qual := &dwarves.Tag{Kind: t.Kind, Type: uint64(id)}
		return cu.Add(qual), nil

	case dwarves.KindBase:
		// The search goes through the types table, not the hash: DWARF
		// itself has no base types narrower than a byte, only we do.
		bt := n.(*dwarves.BaseType)
		if id, existing := cu.FindBaseTypeByNameAndSize(bt.Name, bitSize); existing != nil {
			return id, nil
		}
		nb := &dwarves.BaseType{Name: bt.Name, BitSize: bitSize}
		nb.Kind = dwarves.KindBase
		nb.TopLevel = true
		return cu.Add(nb), nil

	case dwarves.KindEnumeration:
		alias := n.(*dwarves.Type)
		if id, existing := cu.FindEnumerationByNameAndSize(alias.Name, bitSize); existing != nil {
			return id, nil
		}
		ne := &dwarves.Type{}
		ne.Kind = dwarves.KindEnumeration
		ne.TopLevel = true
		ne.Name = alias.Name
		ne.Size = uint64(bitSize)
		ne.NrMembers = alias.NrMembers
		// Borrow the enumerator list rather than copying it; SharedTags
		// marks the borrower so the list is never treated as its own.
		ne.Tags = alias.Tags
		ne.SharedTags = true
		return cu.Add(ne), nil
	}

	return 0, errors.Errorf("cannot recode bitfield over %s (bit size %d)",
		t.Kind, bitSize)
}

// recodeBitfieldInner recodes the type a typedef or qualifier wraps and
// reports whether the result differs from what the wrapper already
// references.
func (dc *dwarfCU) recodeBitfieldInner(n dwarves.Node, t *dwarves.Tag, bitSize uint16) (uint32, bool, error) {
	dself, ok := t.Priv.(*dwarfTag)
	if !ok {
		return uint32(t.Type), false, nil
	}
	dtype := dc.findTypeByID(dself.typ)
	if dtype == nil {
		dc.warnTypeNotFound(n, dself)
		return uint32(t.Type), false, nil
	}
	id, err := dc.recodeBitfield(dtype.tag, bitSize)
	if err != nil {
		return 0, false, err
	}
	return id, uint64(id) != t.Type, nil
}
