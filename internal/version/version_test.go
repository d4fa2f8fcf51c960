package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWildcardSortsFirst(t *testing.T) {
	var r Registry

	assert.True(t, r.Insert(Entry{Type: 1, Major: 0x10, Minor: 0x00, Update: 0x00}))
	assert.True(t, r.Insert(Entry{Type: 1, Major: 0xF1, Minor: 0x10, Update: 0x00}))
	// Exact duplicate of the first entry is dropped.
	assert.False(t, r.Insert(Entry{Type: 1, Major: 0x10, Minor: 0x00, Update: 0x00}))

	got := r.Lookup(1)
	assert.Len(t, got, 2)
	assert.Equal(t, uint8(0xF1), got[0].Major, "wildcard major digit must sort before 0")
	assert.Equal(t, uint8(0x10), got[1].Major)
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		lhs, rhs Entry
		want     int
	}{
		{"equal", Entry{Major: 0xF1}, Entry{Major: 0xF1}, 0},
		{"wildcard nibble first", Entry{Major: 0xF1}, Entry{Major: 0x01}, -1},
		{"major decides", Entry{Major: 0x11}, Entry{Major: 0x12}, -1},
		{"minor decides", Entry{Major: 0xF1, Minor: 0xF2}, Entry{Major: 0xF1, Minor: 0xF3}, -1},
		{"update decides", Entry{Major: 0xF1, Minor: 0xF3, Update: 0xF2}, Entry{Major: 0xF1, Minor: 0xF3, Update: 0xF1}, 1},
		{"alpha decides", Entry{Alpha: 'a'}, Entry{Alpha: 'b'}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.lhs, tt.rhs))
		})
	}
}

func TestTypeGroupsStayOrdered(t *testing.T) {
	var r Registry

	r.Insert(Entry{Type: 0xFF, Major: 0xF1, Minor: 0xF3, Update: 0xF1})
	r.Insert(Entry{Type: 0x00, Major: 0xF1, Minor: 0xF3, Update: 0xF1})
	r.Insert(Entry{Type: 0x07, Major: 0xF1, Minor: 0xF0, Update: 0xFF})

	assert.Equal(t, []uint8{0x00, 0x07, 0xFF}, r.Types())
	assert.Equal(t, 3, r.Len())
}

func TestLookupCap(t *testing.T) {
	var r Registry
	for i := 0; i < 20; i++ {
		r.Insert(Entry{Type: 5, Major: uint8(0x10 + i)})
	}
	assert.Len(t, r.Lookup(5), MaxPerType)
	assert.Nil(t, r.Lookup(6))
}

func TestString(t *testing.T) {
	tests := []struct {
		e    Entry
		want string
	}{
		{Entry{Major: 0xF1, Minor: 0xF3, Update: 0xF1, Alpha: 0x00}, "1.3.1"},
		{Entry{Major: 0x12, Minor: 0x34, Update: 0xFF, Alpha: 0x00}, "12.34"},
		{Entry{Major: 0xF1, Minor: 0xF0, Update: 0xFF, Alpha: 'a'}, "1.0a"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.e.String())
	}
}
