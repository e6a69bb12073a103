// Package loader ingests the DWARF debug information of an ELF object and
// produces fully cross-linked dwarves model units.
//
// Loading a unit runs three strictly serial passes: parse walks the DIE
// tree allocating one model node per recognized entry and recording raw
// DWARF offset references in per-node scratch; recode rewrites those
// references into dense per-unit ids, synthesizing narrow base types for
// bitfield members as it goes; the size cache then fills member byte and
// bit sizes from the resolved type chains. A caller-supplied steal hook
// decides between units whether loading continues and who keeps each unit.
package loader

import (
	"debug/dwarf"
	"debug/elf"
	"encoding/binary"

	"github.com/go-delve/delve/pkg/dwarf/godwarf"
	"github.com/pkg/errors"

	"github.com/jtang613/godwarves/pkg/dwarves"
	"github.com/jtang613/godwarves/pkg/dwarves/strpool"
)

// ErrNoDebugInfo is returned when the file carries no DWARF sections.
var ErrNoDebugInfo = errors.New("no DWARF debug information found")

// Load opens an ELF file and loads every compilation unit it can,
// returning the retained collection.
func Load(filename string, conf *dwarves.Conf) (*dwarves.CUs, error) {
	cus := &dwarves.CUs{}
	if err := LoadFile(cus, conf, filename); err != nil {
		return nil, err
	}
	return cus, nil
}

// LoadFile loads every compilation unit of the named ELF object into cus,
// honoring the configuration's steal hook between units.
func LoadFile(cus *dwarves.CUs, conf *dwarves.Conf, filename string) error {
	if dwarves.Strings == nil {
		dwarves.Strings = strpool.New()
	}

	f, err := elf.Open(filename)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", filename)
	}
	defer f.Close()

	dw, err := loadDwarf(f)
	if err != nil {
		return err
	}

	return loadModule(cus, conf, dw, f, filename)
}

// loadDwarf gathers the debug sections (compressed or not) and builds the
// DWARF handle over them.
func loadDwarf(f *elf.File) (*dwarf.Data, error) {
	info, err := godwarf.GetDebugSectionElf(f, "info")
	if err != nil {
		return nil, ErrNoDebugInfo
	}
	abbrev, _ := godwarf.GetDebugSectionElf(f, "abbrev")
	aranges, _ := godwarf.GetDebugSectionElf(f, "aranges")
	frame, _ := godwarf.GetDebugSectionElf(f, "frame")
	line, _ := godwarf.GetDebugSectionElf(f, "line")
	pubnames, _ := godwarf.GetDebugSectionElf(f, "pubnames")
	ranges, _ := godwarf.GetDebugSectionElf(f, "ranges")
	str, _ := godwarf.GetDebugSectionElf(f, "str")

	dw, err := dwarf.New(abbrev, aranges, frame, info, line, pubnames, ranges, str)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse DWARF data")
	}
	return dw, nil
}

// loadModule iterates the compilation units of one DWARF handle.
func loadModule(cus *dwarves.CUs, conf *dwarves.Conf, dw *dwarf.Data, f *elf.File, filename string) error {
	buildID := readBuildID(f)

	r := dw.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return errors.Wrap(err, "failed to read DWARF entry")
		}
		if entry == nil {
			return nil
		}
		if entry.Tag != dwarf.TagCompileUnit {
			// A unit whose root is not a compile unit cannot be modeled.
			return errors.Errorf("expected compile unit, got %s at <%#x>",
				entry.Tag, entry.Offset)
		}

		root, err := loadDIETree(r, entry)
		if err != nil {
			return errors.Wrap(err, "failed to read DIE tree")
		}

		name, _ := entry.Val(dwarf.AttrName).(string)
		cu := dwarves.NewCU(name, filename, uint8(r.AddressSize()), buildID)
		if conf != nil {
			cu.ExtraDbgInfo = conf.ExtraDbgInfo
			cu.HasAddrInfo = conf.GetAddrInfo
		}

		dcu := newDwarfCU(cu)
		cu.Priv = dcu
		p := &parser{
			cu:   cu,
			dcu:  dcu,
			pool: dwarves.Strings,
			ranges: func(e *dwarf.Entry) [][2]uint64 {
				rs, err := dw.Ranges(e)
				if err != nil {
					return nil
				}
				return rs
			},
		}
		if cu.ExtraDbgInfo {
			if lr, err := dw.LineReader(entry); err == nil && lr != nil {
				p.lineFiles = lr.Files()
			}
		}

		if err := p.process(root); err != nil {
			return err
		}
		cacheSizes(cu, conf)

		if stop := stealOrKeep(cus, conf, cu); stop {
			return nil
		}
	}
}

// stealOrKeep applies the steal hook's decision to a freshly loaded unit
// and reports whether loading should stop. The unit's scratch is dropped
// on every outcome but an abort, unless extra debug info was requested.
func stealOrKeep(cus *dwarves.CUs, conf *dwarves.Conf, cu *dwarves.CU) bool {
	action := dwarves.StealKeep
	if conf != nil && conf.Steal != nil {
		action = conf.Steal(cu, conf)
	}
	switch action {
	case dwarves.StealStop:
		return true
	case dwarves.StealStolen:
		// The caller took the unit, possibly deleting it; forget it.
	case dwarves.StealKeep:
		cus.Add(cu)
	}

	if !cu.ExtraDbgInfo {
		dropScratch(cu)
	}
	return false
}

// dropScratch severs every link into the unit's loader scratch so the
// side-records and hash tables become garbage in one step.
func dropScratch(cu *dwarves.CU) {
	cu.ForEachNode(func(n dwarves.Node) {
		n.Common().Priv = nil
	})
	cu.Priv = nil
}

// readBuildID extracts the GNU build id note, nil when absent.
func readBuildID(f *elf.File) []byte {
	const ntGNUBuildID = 3

	sec := f.Section(".note.gnu.build-id")
	if sec == nil {
		return nil
	}
	data, err := sec.Data()
	if err != nil || len(data) < 12 {
		return nil
	}

	nameSize := binary.LittleEndian.Uint32(data[0:4])
	descSize := binary.LittleEndian.Uint32(data[4:8])
	noteType := binary.LittleEndian.Uint32(data[8:12])
	if noteType != ntGNUBuildID {
		return nil
	}

	nameEnd := 12 + int(nameSize+3)&^3
	if nameEnd+int(descSize) > len(data) {
		return nil
	}
	return data[nameEnd : nameEnd+int(descSize)]
}
