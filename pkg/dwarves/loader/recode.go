package loader

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/jtang613/godwarves/pkg/dwarves"
)

// Dangling-reference warnings can repeat per broken DIE; keep them from
// flooding the sink on pathological inputs.
var refWarnLimiter = rate.NewLimiter(rate.Every(10*time.Second), 20)

func (dc *dwarfCU) warnTypeNotFound(n dwarves.Node, dt *dwarfTag) {
	if !refWarnLimiter.Allow() {
		return
	}
	log.Warnf("couldn't find type <%#x> for <%#x> (%s)",
		dt.typ, dt.id, n.Common().Kind)
}

func (dc *dwarfCU) warnOriginNotFound(n dwarves.Node, dt *dwarfTag) {
	if !refWarnLimiter.Allow() {
		return
	}
	log.Warnf("couldn't find abstract origin <%#x> for <%#x> (%s)",
		dt.abstractOrigin, dt.id, n.Common().Kind)
}

// recode rewrites every raw DWARF reference recorded during parse into the
// dense id of its target node, in table order: types (skipping void),
// then tags, then functions. Running it again on an already recoded unit
// is a no-op: every lookup resolves to the same ids, and bitfield members
// that already point at a synthetic type are left alone.
func (dc *dwarfCU) recode() error {
	for i := 1; i < len(dc.cu.Types); i++ {
		if n := dc.cu.Types[i]; n != nil {
			if err := dc.recodeTag(n); err != nil {
				return err
			}
		}
	}
	for _, n := range dc.cu.Tags {
		if err := dc.recodeTag(n); err != nil {
			return err
		}
	}
	for _, n := range dc.cu.Functions {
		if err := dc.recodeTag(n); err != nil {
			return err
		}
	}
	return nil
}

func (dc *dwarfCU) recodeTag(n dwarves.Node) error {
	t := n.Common()
	dt, ok := t.Priv.(*dwarfTag)
	if !ok || dt == nil {
		// Synthetic bitfield node, or the unit's scratch was dropped.
		return nil
	}

	switch t.Kind {
	case dwarves.KindClass, dwarves.KindStruct, dwarves.KindUnion,
		dwarves.KindEnumeration, dwarves.KindTypedef:
		dc.recodeSpecification(n, dt)
	}

	if t.Kind.HasNamespace() {
		return dc.recodeNamespace(n)
	}

	switch t.Kind {
	case dwarves.KindMember, dwarves.KindInheritance:
		// C++ members also sit in the tags table; bitfield members were
		// already pointed at their synthetic type with the enclosing type.
		if n.(*dwarves.ClassMember).BitfieldSize != 0 {
			return nil
		}

	case dwarves.KindFunction:
		fn := n.(*dwarves.Function)
		if fn.Name == 0 {
			if dt.abstractOrigin == 0 && dt.spec == 0 {
				// A bare declaration; nothing to resolve.
				return nil
			}
			dtype := dc.findTagByID(dt.abstractOrigin)
			if dtype == nil {
				dtype = dc.findTagByID(dt.spec)
			}
			if origin, ok := dtype.tagAsFunction(); ok {
				fn.Name = origin.Name
			} else {
				log.Warnf("couldn't find name for function <%#x>, "+
					"abstract_origin=<%#x>, specification=<%#x>",
					dt.id, dt.abstractOrigin, dt.spec)
			}
		}
		dc.recodeLexblock(&fn.Block)
		dc.recodeFType(&fn.FType)

	case dwarves.KindSubroutineType:
		dc.recodeFType(n.(*dwarves.FType))

	case dwarves.KindLexBlock:
		dc.recodeLexblock(n.(*dwarves.LexBlock))
		return nil

	case dwarves.KindPtrToMember:
		pt := n.(*dwarves.PtrToMemberType)
		if dtype := dc.findTypeByID(dt.containingType); dtype != nil {
			pt.ContainingType = uint64(dtype.smallID)
		} else if refWarnLimiter.Allow() {
			log.Warnf("couldn't find containing type <%#x> for <%#x>",
				dt.containingType, dt.id)
		}

	// An inlined subroutine's reference is its abstract origin, i.e. a
	// subprogram, so it must be looked up in the tag hash space, not the
	// type one. Imported modules take the same path.
	case dwarves.KindInlineExpansion, dwarves.KindImportedModule:
		dtype := dc.findTagByID(dt.typ)
		if dtype == nil {
			dc.warnTypeNotFound(n, dt)
			return nil
		}
		t.Type = uint64(dtype.smallID)
		return nil

	// Imported declarations may name either a tag or a type.
	case dwarves.KindImportedDeclaration:
		if dtype := dc.findTagByID(dt.typ); dtype != nil {
			t.Type = uint64(dtype.smallID)
			return nil
		}
		dtype := dc.findTypeByID(dt.typ)
		if dtype == nil {
			dc.warnTypeNotFound(n, dt)
			return nil
		}
		t.Type = uint64(dtype.smallID)
		return nil
	}

	if dt.typ == 0 {
		t.Type = 0 // void
		return nil
	}
	dtype := dc.findTypeByID(dt.typ)
	if dtype == nil {
		dc.warnTypeNotFound(n, dt)
		return nil
	}
	t.Type = uint64(dtype.smallID)
	return nil
}

// tagAsFunction is a nil-tolerant accessor for name borrowing.
func (dt *dwarfTag) tagAsFunction() (*dwarves.Function, bool) {
	if dt == nil {
		return nil, false
	}
	fn, ok := dt.tag.(*dwarves.Function)
	return fn, ok
}

// recodeSpecification copies the name of a type's specification onto the
// type when the definition itself was emitted nameless.
func (dc *dwarfCU) recodeSpecification(n dwarves.Node, dt *dwarfTag) {
	t := dwarves.TypePayloadOf(n)
	if t == nil || t.Name != 0 || dt.spec == 0 {
		return
	}
	if dtype := dc.findTypeByID(dt.spec); dtype != nil {
		if sns := dwarves.NamespaceOf(dtype.tag); sns != nil {
			t.Name = sns.Name
		}
	} else {
		log.Warnf("couldn't find name for class <%#x>, specification=<%#x>",
			dt.id, dt.spec)
	}
}

// recodeNamespace descends into a namespace-like node's children.
func (dc *dwarfCU) recodeNamespace(n dwarves.Node) error {
	ns := dwarves.NamespaceOf(n)
	for _, pos := range ns.Tags {
		t := pos.Common()
		dpos, ok := t.Priv.(*dwarfTag)
		if !ok || dpos == nil {
			continue
		}

		if t.Kind.HasNamespace() {
			if err := dc.recodeNamespace(pos); err != nil {
				return err
			}
			continue
		}

		switch t.Kind {
		case dwarves.KindMember, dwarves.KindInheritance:
			m := pos.(*dwarves.ClassMember)
			if m.BitfieldSize != 0 {
				// The member's type may need a suitably sized synthetic
				// base type.
				if err := dc.recodeBitfieldMember(m); err != nil {
					return err
				}
				continue
			}

		case dwarves.KindSubroutineType:
			dc.recodeFType(pos.(*dwarves.FType))

		case dwarves.KindFunction:
			dc.recodeFType(&pos.(*dwarves.Function).FType)

		case dwarves.KindImportedModule:
			dtype := dc.findTagByID(dpos.typ)
			if dtype == nil {
				dc.warnTypeNotFound(pos, dpos)
				continue
			}
			t.Type = uint64(dtype.smallID)
			continue

		case dwarves.KindImportedDeclaration:
			if dtype := dc.findTagByID(dpos.typ); dtype != nil {
				t.Type = uint64(dtype.smallID)
				continue
			}
			dtype := dc.findTypeByID(dpos.typ)
			if dtype == nil {
				dc.warnTypeNotFound(pos, dpos)
				continue
			}
			t.Type = uint64(dtype.smallID)
			continue
		}

		if dpos.typ == 0 { // void
			continue
		}
		dtype := dc.findTypeByID(dpos.typ)
		if dtype == nil {
			dc.warnTypeNotFound(pos, dpos)
			continue
		}
		t.Type = uint64(dtype.smallID)
	}
	return nil
}

// recodeFType resolves the parameter types of a function type. A
// parameter without a type of its own borrows name and type from its
// abstract origin.
func (dc *dwarfCU) recodeFType(ft *dwarves.FType) {
	for _, pos := range ft.Params {
		dpos, ok := pos.Priv.(*dwarfTag)
		if !ok || dpos == nil {
			continue
		}

		if dpos.typ == 0 {
			if dpos.abstractOrigin == 0 {
				// A genuinely untyped parameter.
				pos.Type = 0
				continue
			}
			dtype := dc.findTagByID(dpos.abstractOrigin)
			if dtype == nil {
				dc.warnOriginNotFound(pos, dpos)
				continue
			}
			if origin, ok := dtype.tag.(*dwarves.Parameter); ok {
				pos.Name = origin.Name
			}
			pos.Type = dtype.tag.Common().Type
			continue
		}

		dtype := dc.findTypeByID(dpos.typ)
		if dtype == nil {
			dc.warnTypeNotFound(pos, dpos)
			continue
		}
		pos.Type = uint64(dtype.smallID)
	}
}

// recodeLexblock resolves everything declared inside a scope, chasing
// abstract-origin chains for the parameters, variables and labels that
// inlining left nameless.
func (dc *dwarfCU) recodeLexblock(lb *dwarves.LexBlock) {
	for _, pos := range lb.Tags {
		t := pos.Common()
		dpos, ok := t.Priv.(*dwarfTag)
		if !ok || dpos == nil {
			continue
		}

		switch t.Kind {
		case dwarves.KindLexBlock:
			dc.recodeLexblock(pos.(*dwarves.LexBlock))
			continue

		case dwarves.KindInlineExpansion:
			dtype := dc.findTagByID(dpos.typ)
			if dtype == nil {
				dc.warnTypeNotFound(pos, dpos)
				continue
			}
			if fn, ok := dtype.tag.(*dwarves.Function); ok {
				dc.recodeFType(&fn.FType)
			}
			continue

		case dwarves.KindParameter:
			if dpos.typ == 0 {
				fp := pos.(*dwarves.Parameter)
				dtype := dc.findTagByID(dpos.abstractOrigin)
				if dtype == nil {
					dc.warnOriginNotFound(pos, dpos)
					continue
				}
				if origin, ok := dtype.tag.(*dwarves.Parameter); ok {
					fp.Name = origin.Name
				}
				t.Type = dtype.tag.Common().Type
				continue
			}

		case dwarves.KindVariable:
			if dpos.typ == 0 {
				v := pos.(*dwarves.Variable)
				if dpos.abstractOrigin == 0 {
					// Completely empty variables do occur in the wild.
					continue
				}
				dtype := dc.findTagByID(dpos.abstractOrigin)
				if dtype == nil {
					dc.warnOriginNotFound(pos, dpos)
					continue
				}
				if origin, ok := dtype.tag.(*dwarves.Variable); ok {
					v.Name = origin.Name
				}
				t.Type = dtype.tag.Common().Type
				continue
			}

		case dwarves.KindLabel:
			l := pos.(*dwarves.Label)
			if dpos.abstractOrigin == 0 {
				continue
			}
			if dtype := dc.findTagByID(dpos.abstractOrigin); dtype != nil {
				if origin, ok := dtype.tag.(*dwarves.Label); ok {
					l.Name = origin.Name
				}
			} else {
				dc.warnOriginNotFound(pos, dpos)
			}
			continue
		}

		dtype := dc.findTypeByID(dpos.typ)
		if dtype == nil {
			dc.warnTypeNotFound(pos, dpos)
			continue
		}
		t.Type = uint64(dtype.smallID)
	}
}
