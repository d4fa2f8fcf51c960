// Package version maintains the ordered set of MCTP message versions an
// endpoint advertises through the Get Version Support control command.
//
// Versions are BCD-encoded per DSP0236 1.3.1 Table 18. The digit 0xF acts
// as a "don't care / no more digits" marker and sorts strictly before every
// ordinary digit, so F1.F3.F1 (meaning 1.3.1) precedes 10.0.0.
package version

import "fmt"

// MaxPerType is the largest number of version entries returnable in a
// single 64-byte BTU response.
const MaxPerType = 14

// Entry is one supported (type, version) tuple.
type Entry struct {
	Type   uint8
	Major  uint8
	Minor  uint8
	Update uint8
	Alpha  uint8
}

// digitCompare orders two BCD digits with 0xF sorting first.
func digitCompare(lhs, rhs uint8) int {
	switch {
	case lhs == rhs:
		return 0
	case lhs == 0x0F:
		return -1
	case rhs == 0x0F:
		return 1
	case lhs < rhs:
		return -1
	default:
		return 1
	}
}

// Compare orders two entries of the same type digit by digit: major, minor,
// update nibbles high-to-low, then alpha.
func Compare(lhs, rhs Entry) int {
	pairs := [][2]uint8{
		{lhs.Major >> 4, rhs.Major >> 4},
		{lhs.Major & 0x0F, rhs.Major & 0x0F},
		{lhs.Minor >> 4, rhs.Minor >> 4},
		{lhs.Minor & 0x0F, rhs.Minor & 0x0F},
		{lhs.Update >> 4, rhs.Update >> 4},
		{lhs.Update & 0x0F, rhs.Update & 0x0F},
	}
	for _, p := range pairs {
		if c := digitCompare(p[0], p[1]); c != 0 {
			return c
		}
	}
	return digitCompare(lhs.Alpha, rhs.Alpha)
}

// String renders the version with wildcard digits elided, e.g. F1.F3.F1
// prints as "1.3.1" and 0xFF update/zero alpha are omitted entirely.
func (e Entry) String() string {
	s := ""
	if e.Major&0xF0 != 0xF0 {
		s += fmt.Sprintf("%d", e.Major>>4)
	}
	s += fmt.Sprintf("%d.", e.Major&0x0F)
	if e.Minor&0xF0 != 0xF0 {
		s += fmt.Sprintf("%d", e.Minor>>4)
	}
	s += fmt.Sprintf("%d", e.Minor&0x0F)
	if e.Update != 0xFF {
		s += "."
		if e.Update&0xF0 != 0xF0 {
			s += fmt.Sprintf("%d", e.Update>>4)
		}
		s += fmt.Sprintf("%d", e.Update&0x0F)
	}
	if e.Alpha != 0 {
		s += string(rune(e.Alpha))
	}
	return s
}

// Registry is a two-dimensional ordered collection of entries: type groups
// ascend by type, entries within a group ascend by version. Duplicate
// entries are silently dropped on insert. Registry is not synchronized;
// the endpoint populates it before the pipeline starts.
type Registry struct {
	groups []group
}

type group struct {
	typ     uint8
	entries []Entry
}

// Insert places e at its ordered position. It reports whether the entry
// was added (false means an identical entry already existed).
func (r *Registry) Insert(e Entry) bool {
	gi := 0
	for gi < len(r.groups) && r.groups[gi].typ < e.Type {
		gi++
	}
	if gi == len(r.groups) || r.groups[gi].typ != e.Type {
		r.groups = append(r.groups, group{})
		copy(r.groups[gi+1:], r.groups[gi:])
		r.groups[gi] = group{typ: e.Type, entries: []Entry{e}}
		return true
	}

	g := &r.groups[gi]
	ei := 0
	for ei < len(g.entries) {
		switch Compare(e, g.entries[ei]) {
		case 0:
			return false
		case -1:
			g.entries = append(g.entries, Entry{})
			copy(g.entries[ei+1:], g.entries[ei:])
			g.entries[ei] = e
			return true
		}
		ei++
	}
	g.entries = append(g.entries, e)
	return true
}

// Lookup returns the entries registered for typ in ascending version
// order, capped at MaxPerType.
func (r *Registry) Lookup(typ uint8) []Entry {
	for i := range r.groups {
		if r.groups[i].typ == typ {
			entries := r.groups[i].entries
			if len(entries) > MaxPerType {
				entries = entries[:MaxPerType]
			}
			out := make([]Entry, len(entries))
			copy(out, entries)
			return out
		}
	}
	return nil
}

// Types returns the registered message types in ascending order.
func (r *Registry) Types() []uint8 {
	out := make([]uint8, len(r.groups))
	for i := range r.groups {
		out[i] = r.groups[i].typ
	}
	return out
}

// Len returns the total number of stored entries.
func (r *Registry) Len() int {
	n := 0
	for i := range r.groups {
		n += len(r.groups[i].entries)
	}
	return n
}
