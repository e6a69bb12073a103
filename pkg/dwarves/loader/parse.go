package loader

import (
	"debug/dwarf"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jtang613/godwarves/pkg/dwarves"
	"github.com/jtang613/godwarves/pkg/dwarves/strpool"
)

var log = logrus.New().WithField("layer", "dwarf-loader")

// maxDimensions bounds the number of array subranges a single array type
// may declare.
const maxDimensions = 64

// parser walks one compilation unit's DIE tree, allocating a model node
// per recognized entry and recording every raw DWARF reference in the
// node's scratch for the recode pass.
type parser struct {
	cu   *dwarves.CU
	dcu  *dwarfCU
	pool *strpool.Pool

	// ranges resolves an entry's non-contiguous address ranges; nil when
	// the provider cannot supply them.
	ranges func(*dwarf.Entry) [][2]uint64

	// lineFiles is the unit's line-table file list, captured only when
	// extra debug info was requested.
	lineFiles []*dwarf.LineFile

	lastDeclFile   string
	lastDeclFileID strpool.ID

	notHandled map[dwarf.Tag]bool
}

func (p *parser) str(s string) strpool.ID {
	return p.pool.Add(s)
}

// tagNotHandled reports an unsupported tag, once per distinct tag kind.
func (p *parser) tagNotHandled(d *die) {
	if p.notHandled == nil {
		p.notHandled = make(map[dwarf.Tag]bool)
	}
	if p.notHandled[d.tag()] {
		return
	}
	p.notHandled[d.tag()] = true
	log.Warnf("%s @ <%#x> not handled", d.tag(), d.offset())
}

// tagInit allocates the scratch record for a freshly made node and fills
// the fields every kind shares.
func (p *parser) tagInit(n dwarves.Node, kind dwarves.Kind, d *die) *dwarfTag {
	t := n.Common()
	t.Kind = kind

	dt := &dwarfTag{tag: n, id: d.offset()}
	if kind == dwarves.KindImportedModule || kind == dwarves.KindImportedDeclaration {
		dt.typ = attrRef(d, dwarf.AttrImport)
	} else {
		dt.typ = attrRef(d, dwarf.AttrType)
	}
	dt.abstractOrigin = attrRef(d, dwarf.AttrAbstractOrigin)

	if p.cu.ExtraDbgInfo {
		p.declFileLine(d, dt)
	}

	t.Priv = dt
	return dt
}

func (p *parser) declFileLine(d *die, dt *dwarfTag) {
	if idx, ok := d.entry.Val(dwarf.AttrDeclFile).(int64); ok {
		dt.declFile = p.internLineFile(idx)
	}
	if line, ok := d.entry.Val(dwarf.AttrDeclLine).(int64); ok {
		dt.declLine = uint32(line)
	}
}

// internLineFile interns the line-table file at idx, short-circuiting the
// common run of consecutive entries from the same file.
func (p *parser) internLineFile(idx int64) strpool.ID {
	if idx < 0 || int(idx) >= len(p.lineFiles) || p.lineFiles[idx] == nil {
		return 0
	}
	name := p.lineFiles[idx].Name
	if name != p.lastDeclFile {
		p.lastDeclFileID = p.str(name)
		p.lastDeclFile = name
	}
	return p.lastDeclFileID
}

// addToCU inserts the node into its unit table and hash space and records
// the assigned dense id in its scratch.
func (p *parser) addToCU(n dwarves.Node) {
	id := p.cu.Add(n)
	p.dcu.hash(n)
	if dt, ok := n.Common().Priv.(*dwarfTag); ok {
		dt.smallID = id
	}
}

// --- factories, one per recognized tag kind ---

// newTag builds a payload-free node: pointers, references, qualifiers and
// imports.
func (p *parser) newTag(d *die, kind dwarves.Kind) *dwarves.Tag {
	t := &dwarves.Tag{}
	p.tagInit(t, kind, d)
	if d.hasChildren() {
		log.Warnf("%s @ <%#x> with children", d.tag(), d.offset())
	}
	return t
}

func (p *parser) newPtrToMemberType(d *die) *dwarves.PtrToMemberType {
	pt := &dwarves.PtrToMemberType{}
	dt := p.tagInit(pt, dwarves.KindPtrToMember, d)
	dt.containingType = attrRef(d, dwarf.AttrContainingType)
	return pt
}

func (p *parser) newBaseType(d *die) *dwarves.BaseType {
	bt := &dwarves.BaseType{}
	p.tagInit(bt, dwarves.KindBase, d)
	bt.Name = p.str(attrString(d, dwarf.AttrName))
	bt.BitSize = uint16(attrNumeric(d, dwarf.AttrByteSize) * 8)
	encoding := attrNumeric(d, dwarf.AttrEncoding)
	bt.IsBool = encoding == encBoolean
	bt.IsSigned = encoding == encSigned
	if d.hasChildren() {
		log.Warnf("base type @ <%#x> with children", d.offset())
	}
	return bt
}

func (p *parser) newArrayType(d *die) *dwarves.ArrayType {
	a := &dwarves.ArrayType{}
	p.tagInit(a, dwarves.KindArray, d)
	a.IsVector = d.hasAttr(attrGNUVector)

	for _, child := range d.children {
		if child.tag() != dwarf.TagSubrangeType {
			p.tagNotHandled(child)
			continue
		}
		a.NrEntries = append(a.NrEntries, uint32(attrUpperBound(child)))
		if len(a.NrEntries) == maxDimensions {
			log.Warnf("array @ <%#x>: only %d dimensions are supported",
				d.offset(), maxDimensions)
			break
		}
	}
	return a
}

func (p *parser) namespaceAttrs(ns *dwarves.Namespace, d *die) {
	ns.Name = p.str(attrString(d, dwarf.AttrName))
}

func (p *parser) typeAttrs(t *dwarves.Type, d *die, dt *dwarfTag) {
	p.namespaceAttrs(&t.Namespace, d)
	t.Size = attrNumeric(d, dwarf.AttrByteSize)
	t.Declaration = attrNumeric(d, dwarf.AttrDeclaration) != 0
	dt.spec = attrRef(d, dwarf.AttrSpecification)
}

func (p *parser) newEnumerator(d *die) *dwarves.Enumerator {
	e := &dwarves.Enumerator{}
	p.tagInit(e, dwarves.KindEnumerator, d)
	e.Name = p.str(attrString(d, dwarf.AttrName))
	e.Value = int64(attrNumeric(d, dwarf.AttrConstValue))
	return e
}

func (p *parser) newVariable(d *die) *dwarves.Variable {
	v := &dwarves.Variable{}
	p.tagInit(v, dwarves.KindVariable, d)
	v.Name = p.str(attrString(d, dwarf.AttrName))
	// Visible outside of its enclosing unit.
	v.External = d.hasAttr(dwarf.AttrExternal)
	// Non-defining declaration of an object.
	v.Declaration = d.hasAttr(dwarf.AttrDeclaration)
	v.Location = dwarves.LocationUnknown
	if !v.Declaration && p.cu.HasAddrInfo {
		v.Location, v.Addr = location(d, p.cu.PointerSize)
	}
	return v
}

func (p *parser) newClassMember(d *die, kind dwarves.Kind) *dwarves.ClassMember {
	m := &dwarves.ClassMember{}
	p.tagInit(m, kind, d)
	m.Name = p.str(attrString(d, dwarf.AttrName))
	m.ByteOffset = attrOffset(d, dwarf.AttrDataMemberLoc)
	// ByteSize and BitSize are cached later by the size-cache pass.
	m.BitfieldOffset = uint8(attrNumeric(d, dwarf.AttrBitOffset))
	m.BitfieldSize = uint8(attrNumeric(d, dwarf.AttrBitSize))
	m.BitOffset = m.ByteOffset*8 + uint64(m.BitfieldOffset)
	m.Accessibility = uint8(attrNumeric(d, dwarf.AttrAccessibility))
	m.Virtuality = uint8(attrNumeric(d, dwarf.AttrVirtuality))
	return m
}

func (p *parser) newParameter(d *die) *dwarves.Parameter {
	parm := &dwarves.Parameter{}
	p.tagInit(parm, dwarves.KindParameter, d)
	parm.Name = p.str(attrString(d, dwarf.AttrName))
	return parm
}

func (p *parser) newLabel(d *die) *dwarves.Label {
	l := &dwarves.Label{}
	p.tagInit(l, dwarves.KindLabel, d)
	l.Name = p.str(attrString(d, dwarf.AttrName))
	if p.cu.HasAddrInfo {
		l.Addr = attrNumeric(d, dwarf.AttrLowpc)
	}
	return l
}

func (p *parser) newInlineExpansion(d *die, lexblock *dwarves.LexBlock) (*dwarves.InlineExpansion, error) {
	exp := &dwarves.InlineExpansion{}
	dt := p.tagInit(exp, dwarves.KindInlineExpansion, d)
	// The reference that matters for an inlined instance is its abstract
	// origin; it takes the place of the type reference.
	dt.typ = attrRef(d, dwarf.AttrAbstractOrigin)
	if idx, ok := d.entry.Val(dwarf.AttrCallFile).(int64); ok {
		dt.declFile = p.internLineFile(idx)
	}
	dt.declLine = uint32(attrNumeric(d, dwarf.AttrCallLine))

	if p.cu.HasAddrInfo {
		exp.Addr = attrNumeric(d, dwarf.AttrLowpc)
		exp.HighPC = highPC(d, exp.Addr)
		if exp.HighPC > exp.Addr {
			exp.Size = exp.HighPC - exp.Addr
		}
		if exp.Size == 0 && p.ranges != nil {
			for _, r := range p.ranges(d.entry) {
				exp.Size += r[1] - r[0]
				exp.HighPC = r[1]
				if exp.Addr == 0 {
					exp.Addr = r[0]
				}
			}
		}
	}

	if err := p.processInlineExpansion(d); err != nil {
		return nil, err
	}
	if lexblock != nil {
		lexblock.AddInlineExpansion(exp)
	}
	return exp, nil
}

func (p *parser) lexblockAttrs(lb *dwarves.LexBlock, d *die) {
	if !p.cu.HasAddrInfo {
		return
	}
	lb.Addr = attrNumeric(d, dwarf.AttrLowpc)
	if high := highPC(d, lb.Addr); high > lb.Addr {
		lb.Size = high - lb.Addr
	}
}

func (p *parser) newFunction(d *die) (*dwarves.Function, error) {
	fn := &dwarves.Function{VtableEntry: -1}
	dt := p.tagInit(fn, dwarves.KindFunction, d)
	p.lexblockAttrs(&fn.Block, d)

	fn.Name = p.str(attrString(d, dwarf.AttrName))
	fn.LinkageName = p.str(linkageName(d))
	fn.Inlined = uint8(attrNumeric(d, dwarf.AttrInline))
	fn.External = d.hasAttr(dwarf.AttrExternal)
	fn.HasAbstractOrigin = d.hasAttr(dwarf.AttrAbstractOrigin)
	dt.spec = attrRef(d, dwarf.AttrSpecification)
	fn.Accessibility = uint8(attrNumeric(d, dwarf.AttrAccessibility))
	fn.Virtuality = uint8(attrNumeric(d, dwarf.AttrVirtuality))
	if d.hasAttr(dwarf.AttrVtableElemLoc) {
		fn.VtableEntry = int64(attrOffset(d, dwarf.AttrVtableElemLoc))
	}

	if err := p.processFunction(d, &fn.FType, &fn.Block); err != nil {
		return nil, err
	}
	return fn, nil
}

func linkageName(d *die) string {
	if s := attrString(d, attrLinkageName); s != "" {
		return s
	}
	return attrString(d, attrMIPSLinkageName)
}

func (p *parser) newSubroutineType(d *die) (*dwarves.FType, error) {
	ft := &dwarves.FType{}
	p.tagInit(ft, dwarves.KindSubroutineType, d)

	for _, child := range d.children {
		switch child.tag() {
		case dwarf.TagFormalParameter:
			parm := p.newParameter(child)
			ft.AddParameter(parm)
			p.addToCU(parm)
		case dwarf.TagUnspecifiedParameters:
			ft.UnspecParams = true
		default:
			n, err := p.processTag(child, false)
			if err != nil {
				return nil, err
			}
			if n == nil {
				continue
			}
			p.addToCU(n)
		}
	}
	return ft, nil
}

func (p *parser) newEnumeration(d *die) *dwarves.Type {
	enum := &dwarves.Type{}
	dt := p.tagInit(enum, dwarves.KindEnumeration, d)
	p.typeAttrs(enum, d, dt)
	if enum.Size == 0 {
		// No byte size recorded; an enum is int sized.
		enum.Size = 32
	} else {
		enum.Size *= 8
	}

	for _, child := range d.children {
		if child.tag() != dwarf.TagEnumerator {
			p.tagNotHandled(child)
			continue
		}
		enum.AddEnumerator(p.newEnumerator(child))
	}
	return enum
}

func (p *parser) newTypedef(d *die) *dwarves.Type {
	tdef := &dwarves.Type{}
	dt := p.tagInit(tdef, dwarves.KindTypedef, d)
	p.typeAttrs(tdef, d, dt)
	if d.hasChildren() {
		log.Warnf("typedef @ <%#x> with children", d.offset())
	}
	return tdef
}

func (p *parser) newUnion(d *die) (*dwarves.Type, error) {
	utype := &dwarves.Type{}
	dt := p.tagInit(utype, dwarves.KindUnion, d)
	p.typeAttrs(utype, d, dt)
	if err := p.processClass(d, utype, nil); err != nil {
		return nil, err
	}
	return utype, nil
}

func (p *parser) newClass(d *die, kind dwarves.Kind) (*dwarves.Class, error) {
	class := &dwarves.Class{}
	dt := p.tagInit(class, kind, d)
	p.typeAttrs(&class.Type, d, dt)
	if err := p.processClass(d, &class.Type, class); err != nil {
		return nil, err
	}
	return class, nil
}

func (p *parser) newNamespace(d *die) (*dwarves.Namespace, error) {
	ns := &dwarves.Namespace{}
	p.tagInit(ns, dwarves.KindNamespace, d)
	p.namespaceAttrs(ns, d)
	if err := p.processNamespace(d, ns); err != nil {
		return nil, err
	}
	return ns, nil
}

// --- drivers ---

// processTag dispatches a DIE to the factory for its tag. Unsupported tags
// are reported once per kind and yield nil, which callers treat as a skip
// except at the top of a unit.
func (p *parser) processTag(d *die, topLevel bool) (dwarves.Node, error) {
	var n dwarves.Node
	var err error

	switch d.tag() {
	case dwarf.TagArrayType:
		n = p.newArrayType(d)
	case dwarf.TagBaseType:
		n = p.newBaseType(d)
	case dwarf.TagConstType:
		n = p.newTag(d, dwarves.KindConst)
	case dwarf.TagPointerType:
		n = p.newTag(d, dwarves.KindPointer)
	case dwarf.TagReferenceType:
		n = p.newTag(d, dwarves.KindReference)
	case dwarf.TagVolatileType:
		n = p.newTag(d, dwarves.KindVolatile)
	case dwarf.TagImportedDeclaration:
		n = p.newTag(d, dwarves.KindImportedDeclaration)
	case dwarf.TagImportedModule:
		n = p.newTag(d, dwarves.KindImportedModule)
	case dwarf.TagPtrToMemberType:
		n = p.newPtrToMemberType(d)
	case dwarf.TagEnumerationType:
		n = p.newEnumeration(d)
	case dwarf.TagNamespace:
		n, err = p.newNamespace(d)
	case dwarf.TagClassType, dwarf.TagInterfaceType:
		n, err = p.newClass(d, dwarves.KindClass)
	case dwarf.TagStructType:
		n, err = p.newClass(d, dwarves.KindStruct)
	case dwarf.TagSubprogram:
		n, err = p.newFunction(d)
	case dwarf.TagSubroutineType:
		n, err = p.newSubroutineType(d)
	case dwarf.TagTypedef:
		n = p.newTypedef(d)
	case dwarf.TagUnionType:
		n, err = p.newUnion(d)
	case dwarf.TagVariable:
		n = p.newVariable(d)
	default:
		p.tagNotHandled(d)
		return nil, nil
	}

	if err != nil {
		return nil, err
	}
	if n != nil {
		n.Common().TopLevel = topLevel
	}
	return n, nil
}

// processUnit walks the top-level children of a unit root. An unsupported
// tag at this level is a hard error; everything below recovers locally.
func (p *parser) processUnit(root *die) error {
	for _, child := range root.children {
		n, err := p.processTag(child, true)
		if err != nil {
			return err
		}
		if n == nil {
			return errors.Errorf("unsupported top-level tag %s at <%#x>",
				child.tag(), child.offset())
		}
		p.addToCU(n)
	}
	return nil
}

// processClass walks the children of a class, struct or union. class is
// non-nil only for classes and structs, which can carry a vtable.
func (p *parser) processClass(d *die, t *dwarves.Type, class *dwarves.Class) error {
	for _, child := range d.children {
		switch child.tag() {
		case dwarf.TagTemplateTypeParameter, dwarf.TagTemplateValueParameter:
			p.tagNotHandled(child)
		case dwarf.TagInheritance, dwarf.TagMember:
			kind := dwarves.KindMember
			if child.tag() == dwarf.TagInheritance {
				kind = dwarves.KindInheritance
			}
			m := p.newClassMember(child, kind)
			if p.cu.IsCPlusPlus() {
				// Members can be referenced by DIE offset from elsewhere
				// in the unit, so they need an id of their own.
				id := p.cu.Add(m)
				if dt, ok := m.Priv.(*dwarfTag); ok {
					dt.smallID = id
				}
			}
			t.AddMember(m)
			p.dcu.hash(m)
		default:
			n, err := p.processTag(child, false)
			if err != nil {
				return err
			}
			if n == nil {
				continue
			}
			p.addToCU(n)
			t.AddTag(n)
			if fn, ok := n.(*dwarves.Function); ok &&
				fn.VtableEntry != -1 && class != nil {
				class.AddVtableEntry(fn)
			}
		}
	}
	return nil
}

func (p *parser) processNamespace(d *die, ns *dwarves.Namespace) error {
	for _, child := range d.children {
		n, err := p.processTag(child, false)
		if err != nil {
			return err
		}
		if n == nil {
			continue
		}
		p.addToCU(n)
		ns.AddTag(n)
	}
	return nil
}

// processFunction walks the body of a subprogram or of a lexical block.
// ftype is nil when walking a lexical block; stray formal parameters are
// then kept on that block so abstract origins can still reach them.
func (p *parser) processFunction(d *die, ftype *dwarves.FType, lexblock *dwarves.LexBlock) error {
	for _, child := range d.children {
		switch child.tag() {
		case dwarf.TagTemplateTypeParameter, dwarf.TagTemplateValueParameter:
			p.tagNotHandled(child)
		case dwarf.TagFormalParameter:
			parm := p.newParameter(child)
			if ftype != nil {
				ftype.AddParameter(parm)
			} else {
				lexblock.AddTag(parm)
			}
			p.addToCU(parm)
		case dwarf.TagVariable:
			v := p.newVariable(child)
			lexblock.AddVariable(v)
			p.addToCU(v)
		case dwarf.TagUnspecifiedParameters:
			if ftype != nil {
				ftype.UnspecParams = true
			}
		case dwarf.TagLabel:
			l := p.newLabel(child)
			lexblock.AddLabel(l)
			p.addToCU(l)
		case dwarf.TagInlinedSubroutine:
			exp, err := p.newInlineExpansion(child, lexblock)
			if err != nil {
				return err
			}
			p.addToCU(exp)
		case dwarf.TagLexDwarfBlock:
			if err := p.createLexblock(child, lexblock); err != nil {
				return err
			}
		default:
			n, err := p.processTag(child, false)
			if err != nil {
				return err
			}
			if n == nil {
				continue
			}
			p.addToCU(n)
		}
	}
	return nil
}

func (p *parser) createLexblock(d *die, father *dwarves.LexBlock) error {
	lb := &dwarves.LexBlock{}
	p.tagInit(lb, dwarves.KindLexBlock, d)
	p.lexblockAttrs(lb, d)
	if err := p.processFunction(d, nil, lb); err != nil {
		return err
	}
	if father != nil {
		father.AddLexblock(lb)
	}
	return nil
}

// processInlineExpansion walks the children of an inlined subroutine,
// which float free of any function type.
func (p *parser) processInlineExpansion(d *die) error {
	for _, child := range d.children {
		switch child.tag() {
		case dwarf.TagLexDwarfBlock:
			if err := p.createLexblock(child, nil); err != nil {
				return err
			}
		case dwarf.TagFormalParameter:
			// Only the abstract origin's parameters matter here.
		case dwarf.TagInlinedSubroutine:
			exp, err := p.newInlineExpansion(child, nil)
			if err != nil {
				return err
			}
			p.addToCU(exp)
		default:
			n, err := p.processTag(child, false)
			if err != nil {
				return err
			}
			if n == nil {
				continue
			}
			p.addToCU(n)
		}
	}
	return nil
}

// process loads the whole unit rooted at the given DIE: parse then recode.
func (p *parser) process(root *die) error {
	if root.tag() != dwarf.TagCompileUnit {
		return errors.Errorf("expected compile unit, got %s at <%#x>",
			root.tag(), root.offset())
	}
	p.cu.Language = uint16(attrNumeric(root, dwarf.AttrLanguage))

	if err := p.processUnit(root); err != nil {
		return err
	}
	return p.dcu.recode()
}
