// Package preprocessing implements the randomness-material pool: for each
// element kind, a ring of generated batches addressed by monotonic
// offsets, a background scheduler that keeps generation ahead of demand,
// and the atomic-across-all-kinds reservation the planner needs before a
// plan may begin execution.
package preprocessing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nilmpc/coren/pkg/field"
)

// ElementKind is a category of offline-prepared random material, consumed
// in known, fixed quantities by specific online protocols.
type ElementKind uint8

const (
	Compare ElementKind = iota
	DivisionSecretDivisor
	EqualityPublicOutput
	EqualitySecretOutput
	Modulo
	TruncPr
	Trunc
	RandomInteger
	RandomBoolean
	// Multiplication is a Beaver triple (a, b, a*b). Not named among
	// spec.md's nine PreprocessingElement kinds, but every Online
	// share-times-share multiplication consumes one; omitting it would
	// leave protocols/beaver with no pool to draw from. Added as a
	// supplement (see DESIGN.md).
	Multiplication
)

var allKinds = []ElementKind{
	Compare, DivisionSecretDivisor, EqualityPublicOutput, EqualitySecretOutput,
	Modulo, TruncPr, Trunc, RandomInteger, RandomBoolean, Multiplication,
}

func (k ElementKind) String() string {
	switch k {
	case Compare:
		return "Compare"
	case DivisionSecretDivisor:
		return "DivisionSecretDivisor"
	case EqualityPublicOutput:
		return "EqualityPublicOutput"
	case EqualitySecretOutput:
		return "EqualitySecretOutput"
	case Modulo:
		return "Modulo"
	case TruncPr:
		return "TruncPr"
	case Trunc:
		return "Trunc"
	case RandomInteger:
		return "RandomInteger"
	case RandomBoolean:
		return "RandomBoolean"
	case Multiplication:
		return "Multiplication"
	default:
		return "Unknown"
	}
}

// ErrShortage is returned when a reservation cannot be satisfied from the
// committed region of one or more kinds.
type ErrShortage struct {
	Kind      ElementKind
	Requested int
	Available int
}

func (e *ErrShortage) Error() string {
	return fmt.Sprintf("preprocessing: kind %s short by %d (requested %d, available %d)",
		e.Kind, e.Requested-e.Available, e.Requested, e.Available)
}

// Offsets tracks one kind's ring-buffer bookkeeping. The invariant
// Deleted <= DeleteCandidate <= Reserved <= Committed <= Latest <= Target
// holds at every observation point; Reserved is this package's addition
// to the four offsets named in spec.md, needed to make plan reservation
// atomic and irrevocable (see DESIGN.md).
type Offsets struct {
	Deleted         uint64
	DeleteCandidate uint64
	Reserved        uint64
	Committed       uint64
	Latest          uint64
	Target          uint64
}

// Validate checks the monotonic-offset invariant.
func (o Offsets) Validate() error {
	if o.Deleted > o.DeleteCandidate || o.DeleteCandidate > o.Reserved ||
		o.Reserved > o.Committed || o.Committed > o.Latest || o.Latest > o.Target {
		return errors.New("preprocessing: offset invariant violated")
	}
	return nil
}

type kindState struct {
	mu       sync.Mutex
	offsets  Offsets
	elements []field.Element // elements[i] corresponds to offset i
}

// Generator produces n fresh elements of the given kind for the
// background scheduler to append to the pool.
type Generator func(ctx context.Context, kind ElementKind, n int) ([]field.Element, error)

// Pool holds one ring per element kind.
type Pool struct {
	mu    sync.Mutex
	kinds map[ElementKind]*kindState
}

// NewPool builds an empty pool tracking every known element kind.
func NewPool() *Pool {
	p := &Pool{kinds: make(map[ElementKind]*kindState, len(allKinds))}
	for _, k := range allKinds {
		p.kinds[k] = &kindState{}
	}
	return p
}

func (p *Pool) kindState(kind ElementKind) (*kindState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ks, ok := p.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("preprocessing: unknown element kind %s", kind)
	}
	return ks, nil
}

// SetTarget raises the generation target for kind; the scheduler's
// Run loop generates elements until Latest reaches it.
func (p *Pool) SetTarget(kind ElementKind, target uint64) error {
	ks, err := p.kindState(kind)
	if err != nil {
		return err
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if target > ks.offsets.Target {
		ks.offsets.Target = target
	}
	return nil
}

// Offsets returns a snapshot of one kind's offsets.
func (p *Pool) Offsets(kind ElementKind) (Offsets, error) {
	ks, err := p.kindState(kind)
	if err != nil {
		return Offsets{}, err
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.offsets, nil
}

// generate appends freshly generated elements to kind's ring and advances
// Latest; called by the background scheduler, never by plan execution.
func (p *Pool) generate(kind ElementKind, elements []field.Element) error {
	ks, err := p.kindState(kind)
	if err != nil {
		return err
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.elements = append(ks.elements, elements...)
	ks.offsets.Latest += uint64(len(elements))
	// Everything generated immediately becomes committed: this pool
	// has no separate replication/durability barrier to model.
	ks.offsets.Committed = ks.offsets.Latest
	return ks.offsets.Validate()
}

// Reserve atomically withdraws the requested count of elements from every
// listed kind's committed (and not already reserved) region, or reserves
// nothing at all and returns *ErrShortage for the first kind found short.
func (p *Pool) Reserve(requirements map[ElementKind]int) (map[ElementKind][]field.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for kind, count := range requirements {
		ks, ok := p.kinds[kind]
		if !ok {
			return nil, fmt.Errorf("preprocessing: unknown element kind %s", kind)
		}
		ks.mu.Lock()
		available := int(ks.offsets.Committed - ks.offsets.Reserved)
		ks.mu.Unlock()
		if available < count {
			return nil, &ErrShortage{Kind: kind, Requested: count, Available: available}
		}
	}

	out := make(map[ElementKind][]field.Element, len(requirements))
	for kind, count := range requirements {
		ks := p.kinds[kind]
		ks.mu.Lock()
		start := ks.offsets.Reserved
		batch := make([]field.Element, count)
		copy(batch, ks.elements[start:start+uint64(count)])
		ks.offsets.Reserved += uint64(count)
		ks.mu.Unlock()
		out[kind] = batch
	}
	return out, nil
}

// ReclaimDeleted advances the deleted offset of kind up to its current
// delete-candidate offset, the policy chosen for garbage collection (see
// DESIGN.md's open design decision): reclamation happens lazily, driven
// by the caller, rather than via a dedicated background goroutine.
func (p *Pool) ReclaimDeleted(kind ElementKind) error {
	ks, err := p.kindState(kind)
	if err != nil {
		return err
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.offsets.Deleted = ks.offsets.DeleteCandidate
	return nil
}

// MarkDeleteCandidate advances the delete-candidate offset of kind up to
// its current reserved offset, i.e. every element already handed to a
// plan becomes eligible for reclamation once no in-flight plan still
// references it (tracked by the caller, not this package).
func (p *Pool) MarkDeleteCandidate(kind ElementKind) error {
	ks, err := p.kindState(kind)
	if err != nil {
		return err
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.offsets.DeleteCandidate = ks.offsets.Reserved
	return nil
}

// Run launches one generation round per kind whose Latest is behind
// Target, fanning the rounds out concurrently via errgroup, and returns
// once every kind has caught up (or ctx is cancelled, or a generator
// errors). A production scheduler would loop this call forever with a
// ticker; callers drive that loop.
func (p *Pool) Run(ctx context.Context, batchSize int, gen Generator) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, kind := range allKinds {
		kind := kind
		g.Go(func() error {
			for {
				ks, err := p.kindState(kind)
				if err != nil {
					return err
				}
				ks.mu.Lock()
				remaining := ks.offsets.Target - ks.offsets.Latest
				ks.mu.Unlock()
				if remaining == 0 {
					return nil
				}
				n := batchSize
				if uint64(n) > remaining {
					n = int(remaining)
				}
				elements, err := gen(ctx, kind, n)
				if err != nil {
					return fmt.Errorf("preprocessing: generating %s: %w", kind, err)
				}
				if err := p.generate(kind, elements); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}
