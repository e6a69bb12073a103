package dwarves

import "github.com/jtang613/godwarves/pkg/dwarves/strpool"

// baseTypeBits maps the canonical C base-type spellings to their storage
// width in bits. LP64 sizes; an unknown name yields 0, which the
// size-cache pass leaves visible so bogus layouts are easy to spot.
var baseTypeBits = map[string]uint16{
	"char":                   8,
	"signed char":            8,
	"unsigned char":          8,
	"_Bool":                  8,
	"bool":                   8,
	"short":                  16,
	"short int":              16,
	"short unsigned int":     16,
	"unsigned short":         16,
	"int":                    32,
	"unsigned int":           32,
	"unsigned":               32,
	"long":                   64,
	"long int":               64,
	"long unsigned int":      64,
	"unsigned long":          64,
	"long long":              64,
	"long long int":          64,
	"long long unsigned int": 64,
	"unsigned long long":     64,
	"float":                  32,
	"double":                 64,
	"long double":            128,
}

// BaseTypeBits returns the canonical storage-unit width in bits for the
// interned base-type name, or 0 when the name is not recognized.
func BaseTypeBits(name strpool.ID) uint16 {
	return baseTypeBits[Str(name)]
}
