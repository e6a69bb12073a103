package loader

import (
	"debug/dwarf"

	"github.com/jtang613/godwarves/pkg/dwarves"
	"github.com/jtang613/godwarves/pkg/dwarves/strpool"
)

// dwarfTag is the per-node loader scratch: the raw DWARF references a node
// makes, carried from parse to recode, plus the dense id the node was
// assigned. It hangs off the node's Priv field and is dropped wholesale
// when the unit finishes loading.
type dwarfTag struct {
	hashNext *dwarfTag

	id             dwarf.Offset
	typ            dwarf.Offset
	abstractOrigin dwarf.Offset
	containingType dwarf.Offset
	spec           dwarf.Offset

	tag dwarves.Node

	declFile strpool.ID
	declLine uint32

	smallID uint32
}

const (
	hashBits = 8
	hashSize = 1 << hashBits
)

// goldenRatioPrime64 is the multiplier of the classic 64-bit golden-ratio
// hash; DIE offsets are dense and small, so the top bits of the product
// spread well over the buckets.
const goldenRatioPrime64 = 0x9e37fffffffc0001

func hash64(off dwarf.Offset) uint32 {
	return uint32((uint64(off) * goldenRatioPrime64) >> (64 - hashBits))
}

// dwarfCU is the per-unit loader scratch: one hash space for type nodes
// and one for everything else, both keyed by raw DIE offset. It hangs off
// the unit's Priv field.
type dwarfCU struct {
	hashTags  [hashSize]*dwarfTag
	hashTypes [hashSize]*dwarfTag
	cu        *dwarves.CU
}

func newDwarfCU(cu *dwarves.CU) *dwarfCU {
	return &dwarfCU{cu: cu}
}

// hash inserts the node's scratch into the hash space its kind belongs to.
func (dc *dwarfCU) hash(n dwarves.Node) {
	dt, ok := n.Common().Priv.(*dwarfTag)
	if !ok {
		return
	}
	table := &dc.hashTags
	if n.Common().Kind.IsType() {
		table = &dc.hashTypes
	}
	bucket := hash64(dt.id)
	dt.hashNext = table[bucket]
	table[bucket] = dt
}

func hashFind(table *[hashSize]*dwarfTag, id dwarf.Offset) *dwarfTag {
	if id == 0 {
		return nil
	}
	for dt := table[hash64(id)]; dt != nil; dt = dt.hashNext {
		if dt.id == id {
			return dt
		}
	}
	return nil
}

func (dc *dwarfCU) findTagByID(id dwarf.Offset) *dwarfTag {
	return hashFind(&dc.hashTags, id)
}

func (dc *dwarfCU) findTypeByID(id dwarf.Offset) *dwarfTag {
	return hashFind(&dc.hashTypes, id)
}
