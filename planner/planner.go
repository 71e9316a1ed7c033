// Package planner builds an execution plan from a protocol graph: a
// single-pass topological scheduling that assigns each protocol a step
// index, followed by atomic preprocessing-element reservation for every
// protocol in the plan.
package planner

import (
	"fmt"
	"sort"

	"github.com/nilmpc/coren/compiler/protocol"
	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/nada"
	"github.com/nilmpc/coren/pkg/preprocessing"
)

// Strategy selects how steps are assigned.
type Strategy uint8

const (
	// Parallel groups protocols as tightly as dependencies allow (the
	// scheduling rule of spec.md §4.5).
	Parallel Strategy = iota
	// Sequential puts every protocol in its own step, in address order;
	// useful for debugging and for hosts that want one synchronization
	// round per instruction.
	Sequential
)

// BoundProtocol is one protocol instance with its step assignment and the
// concrete preprocessing-element shares withdrawn from the pool for it.
type BoundProtocol struct {
	Protocol      protocol.Protocol
	Step          int
	Preprocessing map[preprocessing.ElementKind][]field.Element
}

// Plan is a step-indexed vector of protocols, ready for the VM to execute.
type Plan struct {
	Strategy Strategy
	Steps    [][]BoundProtocol
}

// computeSteps implements the scheduling rule: a protocol's step is the
// maximum, over its dependencies, of the dependency's step plus one if
// that dependency is Online; a protocol with only Local dependencies
// inherits the maximum step index outright.
func computeSteps(graph *protocol.Graph) []int {
	steps := make([]int, len(graph.Protocols))
	for i, p := range graph.Protocols {
		max := 0
		for _, dep := range p.Dependencies {
			bump := 0
			if graph.Protocols[dep].Line == protocol.Online {
				bump = 1
			}
			if s := steps[dep] + bump; s > max {
				max = s
			}
		}
		steps[i] = max
	}
	return steps
}

// elementsPerUnit is the number of pool elements one unit of a kind's
// count actually consumes. Most kinds store one self-contained correlated
// value per unit; the kinds vm/online.go drives as masked-reveal or
// multi-phase constructions need more than one correlated element per
// unit, bundled here so compiler/protocol never has to know the online
// construction's internal shape:
//
//   - Multiplication is a Beaver triple (a, b, a*b): 3 elements.
//   - Compare, TruncPr, Modulo are a masking pair (r, rHigh) for the
//     masked-reveal + TruncPR construction: 2 elements.
//   - DivisionSecretDivisor is the single random invertible mask r used
//     to blind the secret divisor before it is revealed: 1 element (the
//     Multiplication count for the two mults this protocol also needs is
//     requested separately by compiler/protocol).
//   - EqualityPublicOutput is a random nonzero mask plus an embedded
//     Beaver triple for the Online r*(x-y) multiplication: 1 + 3 = 4.
//   - EqualitySecretOutput is two Compare-style masking pairs (for x<y
//     and y<x) plus an embedded Beaver triple for the final AND of their
//     negations: 2*2 + 3 = 7.
func elementsPerUnit(kind preprocessing.ElementKind) int {
	switch kind {
	case preprocessing.Multiplication:
		return 3
	case preprocessing.Compare, preprocessing.TruncPr, preprocessing.Modulo:
		return 2
	case preprocessing.DivisionSecretDivisor:
		return 1
	case preprocessing.EqualityPublicOutput:
		return 4
	case preprocessing.EqualitySecretOutput:
		return 7
	default:
		return 1
	}
}

func sequentialSteps(graph *protocol.Graph) []int {
	steps := make([]int, len(graph.Protocols))
	for i := range steps {
		steps[i] = i
	}
	return steps
}

// resolveInnerProductCounts fills in the real per-protocol Multiplication
// count for InnerProduct protocols. compiler/protocol records a 0
// placeholder there because it only sees one operation at a time; the
// planner holds the full graph and can read the fixed array length off
// the first operand's own type.
func resolveInnerProductCounts(graph *protocol.Graph) []protocol.Protocol {
	protocols := make([]protocol.Protocol, len(graph.Protocols))
	copy(protocols, graph.Protocols)
	for i, p := range protocols {
		if p.Kind != protocol.KindInnerProduct {
			continue
		}
		count := 1
		if arrType := graph.Protocols[p.Dependencies[0]].Type; arrType.Compound != nil &&
			arrType.Compound.Kind == nada.ArrayKind {
			count = arrType.Compound.Size
		}
		resolved := make(map[preprocessing.ElementKind]int, len(p.Preprocessing))
		for kind, c := range p.Preprocessing {
			resolved[kind] = c
		}
		resolved[preprocessing.Multiplication] = count
		p.Preprocessing = resolved
		protocols[i] = p
	}
	return protocols
}

// Build schedules graph into a Plan and atomically reserves every
// protocol's preprocessing requirement from pool. If the pool cannot
// satisfy the combined requirement for even one element kind, nothing is
// reserved and Build fails — execution never begins with a shortage.
func Build(graph *protocol.Graph, pool *preprocessing.Pool, strategy Strategy) (*Plan, error) {
	protocols := resolveInnerProductCounts(graph)

	var steps []int
	switch strategy {
	case Sequential:
		steps = sequentialSteps(graph)
	default:
		steps = computeSteps(graph)
	}

	total := map[preprocessing.ElementKind]int{}
	for _, p := range protocols {
		for kind, count := range p.Preprocessing {
			total[kind] += count * elementsPerUnit(kind)
		}
	}
	reserved, err := pool.Reserve(total)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}

	cursor := map[preprocessing.ElementKind]int{}
	bound := make([]BoundProtocol, len(protocols))
	numSteps := 0
	for i, p := range protocols {
		perProto := map[preprocessing.ElementKind][]field.Element{}
		for kind, count := range p.Preprocessing {
			if count == 0 {
				continue
			}
			width := count * elementsPerUnit(kind)
			start := cursor[kind]
			perProto[kind] = reserved[kind][start : start+width]
			cursor[kind] = start + width
		}
		bound[i] = BoundProtocol{Protocol: p, Step: steps[i], Preprocessing: perProto}
		if steps[i]+1 > numSteps {
			numSteps = steps[i] + 1
		}
	}

	stepGroups := make([][]BoundProtocol, numSteps)
	for _, bp := range bound {
		stepGroups[bp.Step] = append(stepGroups[bp.Step], bp)
	}
	for _, group := range stepGroups {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Protocol.Line < group[j].Protocol.Line
		})
	}

	return &Plan{Strategy: strategy, Steps: stepGroups}, nil
}
