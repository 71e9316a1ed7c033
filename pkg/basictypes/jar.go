// Package basictypes provides small collection types shared across the
// protocol layer: PartyJar (one contribution per party) and Batches (a
// Vec<Vec<T>>-shaped grouping of parallel protocol instances).
package basictypes

import (
	"fmt"
	"sort"

	"github.com/nilmpc/coren/pkg/party"
)

// DuplicatePartyShareError is returned when a party attempts to contribute a
// second element to a Jar.
type DuplicatePartyShareError struct {
	Party party.ID
}

func (e *DuplicatePartyShareError) Error() string {
	return fmt.Sprintf("basictypes: party %s already provided element", e.Party)
}

type jarEntry[T any] struct {
	party   party.ID
	element T
}

// Jar collects exactly one element from each of a pre-defined set of
// parties, keeping them sorted by party id as they arrive.
type Jar[T any] struct {
	elements    []jarEntry[T]
	partyCount int
}

// NewJar constructs a jar that expects partyCount contributions.
func NewJar[T any](partyCount int) *Jar[T] {
	return &Jar[T]{elements: make([]jarEntry[T], 0, partyCount), partyCount: partyCount}
}

// NewJarWithElements builds a jar from an initial element set, failing if any
// party appears twice.
func NewJarWithElements[T any](elements map[party.ID]T) (*Jar[T], error) {
	jar := NewJar[T](len(elements))
	for p, e := range elements {
		if err := jar.Add(p, e); err != nil {
			return nil, err
		}
	}
	jar.partyCount = len(jar.elements)
	return jar, nil
}

// Add stores an element for a party, failing with DuplicatePartyShareError if
// that party has already contributed.
func (j *Jar[T]) Add(p party.ID, element T) error {
	idx := sort.Search(len(j.elements), func(i int) bool {
		return j.elements[i].party.Compare(p) >= 0
	})
	if idx < len(j.elements) && j.elements[idx].party.Equal(p) {
		return &DuplicatePartyShareError{Party: p}
	}
	j.elements = append(j.elements, jarEntry[T]{})
	copy(j.elements[idx+1:], j.elements[idx:])
	j.elements[idx] = jarEntry[T]{party: p, element: element}
	return nil
}

// IsFull reports whether every expected party has contributed.
func (j *Jar[T]) IsFull() bool { return len(j.elements) == j.partyCount }

// IsEmpty reports whether no party has contributed yet.
func (j *Jar[T]) IsEmpty() bool { return len(j.elements) == 0 }

// StoredPartyCount returns how many parties have contributed so far.
func (j *Jar[T]) StoredPartyCount() int { return len(j.elements) }

// Elements returns the contributed (party, element) pairs, sorted by party id.
func (j *Jar[T]) Elements() []struct {
	Party   party.ID
	Element T
} {
	out := make([]struct {
		Party   party.ID
		Element T
	}, len(j.elements))
	for i, e := range j.elements {
		out[i] = struct {
			Party   party.ID
			Element T
		}{Party: e.party, Element: e.element}
	}
	return out
}

// ToMap converts the jar's contents into a map keyed by party id.
func (j *Jar[T]) ToMap() map[party.ID]T {
	out := make(map[party.ID]T, len(j.elements))
	for _, e := range j.elements {
		out[e.party] = e.element
	}
	return out
}
