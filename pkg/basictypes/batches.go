package basictypes

import "errors"

// ErrNotEnoughElements is returned when fewer elements are available than a
// requested batch shape needs.
var ErrNotEnoughElements = errors.New("basictypes: not enough elements to build batches")

// Batches groups elements into independent runs of a protocol, e.g. one
// Beaver-multiplication batch per array-product call site. It is a thin
// wrapper over [][]T with flattening/unflattening helpers.
type Batches[T any] struct {
	groups [][]T
}

// EmptyBatches builds count empty batches.
func EmptyBatches[T any](count int) *Batches[T] {
	groups := make([][]T, count)
	return &Batches[T]{groups: groups}
}

// SingleBatch wraps a single slice as a one-batch Batches.
func SingleBatch[T any](elements []T) *Batches[T] {
	return &Batches[T]{groups: [][]T{elements}}
}

// FromFlattened splits a flat element stream into batches of the given sizes.
func FromFlattened[T any](elements []T, sizes []int) (*Batches[T], error) {
	groups := make([][]T, 0, len(sizes))
	pos := 0
	for _, size := range sizes {
		if pos+size > len(elements) {
			return nil, ErrNotEnoughElements
		}
		groups = append(groups, elements[pos:pos+size])
		pos += size
	}
	return &Batches[T]{groups: groups}, nil
}

// FromFlattenedFixed splits a flat element stream into as many fixed-size
// batches as evenly fit, failing if a leftover partial batch remains.
func FromFlattenedFixed[T any](elements []T, batchSize int) (*Batches[T], error) {
	groups := make([][]T, 0, len(elements)/max(batchSize, 1))
	pos := 0
	for pos < len(elements) {
		end := pos + batchSize
		if end > len(elements) {
			return nil, ErrNotEnoughElements
		}
		groups = append(groups, elements[pos:end])
		pos = end
	}
	return &Batches[T]{groups: groups}, nil
}

// FromGroups wraps existing groups directly.
func FromGroups[T any](groups [][]T) *Batches[T] {
	return &Batches[T]{groups: groups}
}

// Flatten concatenates every batch into a single slice.
func (b *Batches[T]) Flatten() []T {
	total := 0
	for _, g := range b.groups {
		total += len(g)
	}
	out := make([]T, 0, total)
	for _, g := range b.groups {
		out = append(out, g...)
	}
	return out
}

// Groups returns the underlying batch slices.
func (b *Batches[T]) Groups() [][]T { return b.groups }

// Len returns the number of batches.
func (b *Batches[T]) Len() int { return len(b.groups) }

// BatchSizes returns the size of each batch, in order.
func (b *Batches[T]) BatchSizes() []int {
	sizes := make([]int, len(b.groups))
	for i, g := range b.groups {
		sizes[i] = len(g)
	}
	return sizes
}
