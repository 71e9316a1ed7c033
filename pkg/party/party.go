// Package party defines party identifiers and their mapping onto field
// abscissae used by Shamir sharing.
package party

import (
	"bytes"
	"sort"

	"github.com/nilmpc/coren/pkg/field"
)

// ID identifies a party by an opaque byte string (in practice a UUID or
// public-key fingerprint assigned at cluster bootstrap). IDs are totally
// ordered by byte comparison, which fixes a canonical party ordering used
// throughout sharing and reconstruction. The zero value is not a valid id.
// ID is stored as a string rather than a []byte so that it remains
// comparable and usable directly as a map key.
type ID struct {
	raw string
}

// New wraps a raw identifier.
func New(b []byte) ID {
	return ID{raw: string(b)}
}

// Bytes returns the raw identifier.
func (id ID) Bytes() []byte { return []byte(id.raw) }

// Compare returns -1, 0 or 1 according to the byte ordering of the two ids.
func (id ID) Compare(other ID) int {
	return bytes.Compare([]byte(id.raw), []byte(other.raw))
}

// Equal reports whether two ids are identical.
func (id ID) Equal(other ID) bool {
	return id.raw == other.raw
}

// String renders the id as hex, for logging.
func (id ID) String() string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(id.raw)*2)
	for i := 0; i < len(id.raw); i++ {
		b := id.raw[i]
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0xF]
	}
	return string(out)
}

// Sort sorts ids in place in canonical order.
func Sort(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
}

// Mapper assigns each party a distinct, non-zero field abscissa, the x
// coordinate at which its Shamir share is evaluated. The mapping is
// deterministic given a sorted party list: the i-th party (1-indexed, in
// canonical order) maps to field element i.
type Mapper struct {
	field   *field.SafePrime
	ids     []ID
	indices map[string]int
}

// NewMapper builds a Mapper over the given party set, assigning abscissae in
// canonical sorted order.
func NewMapper(f *field.SafePrime, ids []ID) *Mapper {
	sorted := make([]ID, len(ids))
	copy(sorted, ids)
	Sort(sorted)

	indices := make(map[string]int, len(sorted))
	for i, id := range sorted {
		indices[id.raw] = i + 1
	}
	return &Mapper{field: f, ids: sorted, indices: indices}
}

// Parties returns the canonically ordered party list.
func (m *Mapper) Parties() []ID { return m.ids }

// Abscissa returns the field element assigned to a party, or false if the
// party is not part of this mapping.
func (m *Mapper) Abscissa(id ID) (field.Element, bool) {
	idx, ok := m.indices[id.raw]
	if !ok {
		return field.Element{}, false
	}
	return m.field.FromUint64(uint64(idx)), true
}

// Count returns the number of parties in the mapping.
func (m *Mapper) Count() int { return len(m.ids) }
