// Package strpool implements a process-wide string interning pool.
//
// Every name that appears in a debug-information model (type names, member
// names, file names) is stored once and referred to by a small stable ID.
// ID 0 is reserved for the empty string, so a zero value always reads back
// as "". The pool is not safe for concurrent use; loading is single-threaded
// by contract.
package strpool

// ID identifies an interned string.
type ID uint32

// Pool is a string interning table.
type Pool struct {
	ids  map[string]ID
	strs []string
}

// New creates an empty pool with ID 0 bound to the empty string.
func New() *Pool {
	p := &Pool{
		ids:  make(map[string]ID),
		strs: []string{""},
	}
	p.ids[""] = 0
	return p
}

// Add interns s and returns its ID. The empty string always maps to ID 0.
func (p *Pool) Add(s string) ID {
	if id, ok := p.ids[s]; ok {
		return id
	}
	id := ID(len(p.strs))
	p.strs = append(p.strs, s)
	p.ids[s] = id
	return id
}

// Ptr returns the string for id, or "" when id is out of range.
func (p *Pool) Ptr(id ID) string {
	if int(id) >= len(p.strs) {
		return ""
	}
	return p.strs[id]
}

// Len returns the number of interned strings, including the empty string.
func (p *Pool) Len() int {
	return len(p.strs)
}
