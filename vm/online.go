package vm

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/nilmpc/coren/compiler/bytecode"
	"github.com/nilmpc/coren/compiler/protocol"
	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/nada"
	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/pkg/preprocessing"
	"github.com/nilmpc/coren/pkg/shamir"
	"github.com/nilmpc/coren/planner"
	"github.com/nilmpc/coren/protocols/arith"
	"github.com/nilmpc/coren/protocols/beaver"
	"github.com/nilmpc/coren/protocols/compare"
	"github.com/nilmpc/coren/protocols/division"
	"github.com/nilmpc/coren/protocols/mult"
	"github.com/nilmpc/coren/protocols/reveal"
)

// ErrNotImplemented is returned for an Online protocol kind this VM does
// not yet drive: threshold public-key derivation and ECDSA/EdDSA signing
// need protocols/threshold's own DKG/signing state machines wired in
// separately (see DESIGN.md) and are not reached by anything below.
var ErrNotImplemented = errors.New("vm: protocol kind not implemented")

// wireKind tags the payload carried by one PartyMessage.
type wireKind uint8

const (
	wireMult wireKind = iota
	wireReveal
)

type envelope struct {
	Kind   wireKind
	Mult   *mult.Message   `cbor:",omitempty"`
	Reveal *reveal.Message `cbor:",omitempty"`
}

// secondLegAddr offsets the synthetic address EqualitySecretOutput's
// second masked-reveal leg ("is y<x") is routed under, so it never
// collides with a real bytecode address (always a small, dense index).
const secondLegAddr protocol.Address = 1 << 40

// mulKind tags what finalizeRound should do with a mulEntry's finalized
// product share(s) once the round's single batched mult.State completes.
type mulKind uint8

const (
	mulPlain          mulKind = iota // one slot: write the product straight to memory
	mulIfElse                        // two slots (c*a, c*b): combine via arith.IfElseLocal
	mulInnerProduct                  // N slots: sum locally
	mulStagedEqPublic                // EqualityPublicOutput phase 0: r*(x-y)
	mulStagedEqSecret                // EqualitySecretOutput phase 1: AND of two negated comparisons
	mulStagedDivMask                 // secret-divisor Div/Mod phase 0: r*divisor
	mulStagedDivQuot                 // secret-divisor Div/Mod phase 2: dividend*reciprocal
	mulStagedDivRem                  // secret-divisor Mod phase 3: divisor*quotient
)

// mulEntry remembers how one protocol's slot(s) in the round's single
// batched mult.State map back to the protocol that requested them once
// finalized. staged is non-nil for every mulStaged* kind, naming the
// multi-phase protocol this slot feeds instead of writing memory directly.
type mulEntry struct {
	protocol protocol.Protocol
	slots    []int
	kind     mulKind
	staged   *stagedEntry
}

// revealFinalize post-processes a masked-reveal's reconstructed value into
// the protocol's actual result share; the identity function for a plain
// Reveal, TruncPR-based for comparisons and public-divisor division/modulo.
type revealFinalize func(c field.Element) (field.Element, error)

// legRole tags which leg of a multi-phase staged protocol a revealEntry
// belongs to, for staged entries (nil finalize, staged != nil).
type legRole uint8

const (
	legNone      legRole = iota
	legEqLess            // EqualitySecretOutput phase 0 leg: reveals the masked x<y difference
	legEqGreater         // EqualitySecretOutput phase 0 leg: reveals the masked y<x difference
	legEqPublic          // EqualityPublicOutput phase 1: reveals r*(x-y)
	legDivMask           // secret-divisor Div/Mod phase 1: reveals r*divisor
)

type revealEntry struct {
	state    *reveal.State
	typ      nada.Type
	finalize revealFinalize
	staged   *stagedEntry
	role     legRole
	rHigh    field.Element // legEqLess/legEqGreater: this leg's TruncPR high-mask share
}

// stagedShape distinguishes the three online constructions that need more
// than one synchronization round to complete.
type stagedShape uint8

const (
	shapeEqualityPublic stagedShape = iota
	shapeEqualitySecret
	shapeSecretDiv // Div with a secret divisor: mult, reveal, mult
	shapeSecretMod // Mod with a secret divisor: mult, reveal, mult, mult
)

// stagedEntry drives one protocol across more than one Online phase:
// Equals (both output kinds) and Div/Mod with a secret divisor all need a
// masked value revealed before a further Local or Online step can run, so
// they cannot finish within a single batched round the way Mul, IfElse,
// InnerProduct, Reveal, LessThan and public-divisor Div/Mod can. Which
// fields are meaningful at a given moment depends on shape and phase; see
// finalizeRound and prepareStagedPhase for the exact sequencing.
type stagedEntry struct {
	protocol protocol.Protocol
	shape    stagedShape
	phase    int

	r             field.Element // secret-divisor: the RAN-INV style mask
	divisorShare  field.Element // secret-divisor: this party's divisor share
	dividendShare field.Element // secret-divisor: this party's dividend share
	productShare  field.Element // phase-0 mult output awaiting reveal (EqualityPublic, secret-divisor)
	recip         field.Element // secret-divisor: reciprocal share, after phase 1
	quotient      field.Element // secret-divisor Mod: quotient share, after phase 2
	lessXY        field.Element // EqualitySecretOutput: share of x<y
	lessYX        field.Element // EqualitySecretOutput: share of y<x

	triples   []beaver.Triple // the embedded Beaver triples this entry still needs, in phase order
	tripleIdx int

	done   bool
	result field.Element
}

// onlineRound holds every Online protocol's sub-state machine for one
// synchronization round, so that all of a round's messages can be
// prepared and consumed together. A plan step may span more than one
// onlineRound in sequence when it contains a multi-phase staged protocol;
// staged carries every such protocol still in flight.
type onlineRound struct {
	mulState *mult.State
	mulOrder []mulEntry

	reveals     map[protocol.Address]*revealEntry
	revealOrder []protocol.Address

	staged []*stagedEntry
}

func newOnlineRound() *onlineRound {
	return &onlineRound{reveals: make(map[protocol.Address]*revealEntry)}
}

// groupTriples splits a flat Multiplication reservation (3 field elements
// per triple, see planner.elementsPerUnit) into beaver.Triple values.
func groupTriples(raw []field.Element) ([]beaver.Triple, error) {
	if len(raw)%3 != 0 {
		return nil, fmt.Errorf("vm: malformed triple reservation of length %d", len(raw))
	}
	triples := make([]beaver.Triple, len(raw)/3)
	for i := range triples {
		triples[i] = beaver.NewTriple(raw[3*i], raw[3*i+1], raw[3*i+2])
	}
	return triples, nil
}

// startSecretDivisor builds the phase-0 contribution shared by
// secret-divisor Div and Mod: masking the divisor share with a
// preprocessed invertible random r via a Beaver multiplication.
func startSecretDivisor(
	f *field.SafePrime,
	mem *memory,
	p protocol.Protocol,
	bp planner.BoundProtocol,
	appendMulSlot func(left, right field.Element, triple beaver.Triple) int,
) (*stagedEntry, int, error) {
	triples, err := groupTriples(bp.Preprocessing[preprocessing.Multiplication])
	if err != nil {
		return nil, 0, err
	}
	want, shape := 2, shapeSecretDiv
	if p.BinaryOp == bytecode.Mod {
		want, shape = 3, shapeSecretMod
	}
	if len(triples) != want {
		return nil, 0, fmt.Errorf("vm: secret-divisor operation %d needs %d triples, has %d", p.Address, want, len(triples))
	}
	rs := bp.Preprocessing[preprocessing.DivisionSecretDivisor]
	if len(rs) != 1 {
		return nil, 0, fmt.Errorf("vm: secret-divisor operation %d needs 1 mask element, has %d", p.Address, len(rs))
	}

	dividend, err := mem.get(p.Dependencies[0])
	if err != nil {
		return nil, 0, err
	}
	divisor, err := mem.get(p.Dependencies[1])
	if err != nil {
		return nil, 0, err
	}
	dividendE, err := scalarOf(f, dividend)
	if err != nil {
		return nil, 0, err
	}
	divisorE, err := scalarOf(f, divisor)
	if err != nil {
		return nil, 0, err
	}

	staged := &stagedEntry{
		protocol:      p,
		shape:         shape,
		r:             rs[0],
		divisorShare:  divisorE,
		dividendShare: dividendE,
		triples:       triples,
		tripleIdx:     1,
	}
	idx := appendMulSlot(rs[0], divisorE, triples[0])
	return staged, idx, nil
}

// prepareOnlineStep builds every Online protocol's sub-state for a plan
// step, runs each one's Local prelude (mask the operands / select the
// share to broadcast), and returns this party's outgoing messages. Some
// protocols (Equals, secret-divisor Div/Mod) only complete their first
// phase here; further phases are driven by prepareStagedPhase once the
// prior phase's round finishes.
func prepareOnlineStep(
	f *field.SafePrime,
	sharer *shamir.Sharer,
	self party.ID,
	parties []party.ID,
	mem *memory,
	bound []planner.BoundProtocol,
) (*onlineRound, []PartyMessage, error) {
	round := newOnlineRound()

	var allTriples []beaver.Triple
	var leftShares, rightShares []field.Element
	var messages []PartyMessage

	appendMulSlot := func(left, right field.Element, triple beaver.Triple) int {
		allTriples = append(allTriples, triple)
		leftShares = append(leftShares, left)
		rightShares = append(rightShares, right)
		return len(allTriples) - 1
	}

	addReveal := func(addr protocol.Address, entry *revealEntry, ownShare field.Element) error {
		entry.state = reveal.New(sharer, parties)
		round.reveals[addr] = entry
		round.revealOrder = append(round.revealOrder, addr)
		msg := reveal.Message{Share: ownShare}
		if err := entry.state.StoreMessage(self, msg); err != nil {
			return err
		}
		payload, err := encodeEnvelope(envelope{Kind: wireReveal, Reveal: &msg})
		if err != nil {
			return err
		}
		messages = append(messages, PartyMessage{Address: addr, Payload: payload})
		return nil
	}

	for _, bp := range bound {
		p := bp.Protocol
		switch p.Kind {
		case protocol.KindBinary:
			if err := prepareBinaryOnline(f, mem, p, bp, round, appendMulSlot, addReveal); err != nil {
				return nil, nil, err
			}

		case protocol.KindIfElse:
			triples, err := groupTriples(bp.Preprocessing[preprocessing.Multiplication])
			if err != nil {
				return nil, nil, err
			}
			if len(triples) != 2 {
				return nil, nil, fmt.Errorf("vm: if-else %d needs exactly 2 triples, has %d", p.Address, len(triples))
			}
			cond, err := mem.get(p.Dependencies[0])
			if err != nil {
				return nil, nil, err
			}
			left, err := mem.get(p.Dependencies[1])
			if err != nil {
				return nil, nil, err
			}
			right, err := mem.get(p.Dependencies[2])
			if err != nil {
				return nil, nil, err
			}
			condE, err := scalarOf(f, cond)
			if err != nil {
				return nil, nil, err
			}
			leftE, err := scalarOf(f, left)
			if err != nil {
				return nil, nil, err
			}
			rightE, err := scalarOf(f, right)
			if err != nil {
				return nil, nil, err
			}
			idxA := appendMulSlot(condE, leftE, triples[0])
			idxB := appendMulSlot(condE, rightE, triples[1])
			round.mulOrder = append(round.mulOrder, mulEntry{protocol: p, slots: []int{idxA, idxB}, kind: mulIfElse})

		case protocol.KindInnerProduct:
			triples, err := groupTriples(bp.Preprocessing[preprocessing.Multiplication])
			if err != nil {
				return nil, nil, err
			}
			leftVal, err := mem.get(p.Dependencies[0])
			if err != nil {
				return nil, nil, err
			}
			rightVal, err := mem.get(p.Dependencies[1])
			if err != nil {
				return nil, nil, err
			}
			leftElems, err := leftVal.Array()
			if err != nil {
				return nil, nil, err
			}
			rightElems, err := rightVal.Array()
			if err != nil {
				return nil, nil, err
			}
			if len(leftElems) != len(triples) || len(rightElems) != len(triples) {
				return nil, nil, fmt.Errorf("vm: inner product %d needs %d triples, has %d", p.Address, len(leftElems), len(triples))
			}
			slots := make([]int, len(triples))
			for i := range triples {
				le, err := scalarOf(f, leftElems[i])
				if err != nil {
					return nil, nil, err
				}
				re, err := scalarOf(f, rightElems[i])
				if err != nil {
					return nil, nil, err
				}
				slots[i] = appendMulSlot(le, re, triples[i])
			}
			round.mulOrder = append(round.mulOrder, mulEntry{protocol: p, slots: slots, kind: mulInnerProduct})

		case protocol.KindReveal:
			dep, err := protocolDependency(bound, p.Address)
			if err != nil {
				return nil, nil, err
			}
			share, err := mem.get(dep)
			if err != nil {
				return nil, nil, err
			}
			e, err := scalarOf(f, share)
			if err != nil {
				return nil, nil, err
			}
			entry := &revealEntry{typ: p.Type, finalize: func(c field.Element) (field.Element, error) { return c, nil }}
			if err := addReveal(p.Address, entry, e); err != nil {
				return nil, nil, err
			}

		case protocol.KindPublicKeyDerive, protocol.KindEcdsaSign, protocol.KindEddsaSign:
			return nil, nil, fmt.Errorf("%w: threshold protocol kind %d", ErrNotImplemented, p.Kind)

		default:
			return nil, nil, fmt.Errorf("%w: protocol kind %d", ErrNotImplemented, p.Kind)
		}
	}

	if len(allTriples) > 0 {
		round.mulState = mult.New(sharer, allTriples, parties)
		msg, err := round.mulState.PrepareLocal(leftShares, rightShares)
		if err != nil {
			return nil, nil, err
		}
		if err := round.mulState.StoreMessage(self, msg); err != nil {
			return nil, nil, err
		}
		payload, err := encodeEnvelope(envelope{Kind: wireMult, Mult: &msg})
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, PartyMessage{Address: 0, Payload: payload})
	}

	return round, messages, nil
}

// prepareBinaryOnline handles the Online variants of the binary
// operators: share*share Mul, LessThan, Div/Mod against a public divisor
// (single masked-reveal), Div/Mod against a secret divisor and Equals
// (both multi-phase, staged via round.staged).
func prepareBinaryOnline(
	f *field.SafePrime,
	mem *memory,
	p protocol.Protocol,
	bp planner.BoundProtocol,
	round *onlineRound,
	appendMulSlot func(left, right field.Element, triple beaver.Triple) int,
	addReveal func(addr protocol.Address, entry *revealEntry, ownShare field.Element) error,
) error {
	switch p.BinaryOp {
	case bytecode.Mul:
		triples, err := groupTriples(bp.Preprocessing[preprocessing.Multiplication])
		if err != nil {
			return err
		}
		if len(triples) != 1 {
			return fmt.Errorf("vm: multiplication %d needs exactly 1 triple, has %d", p.Address, len(triples))
		}
		left, err := mem.get(p.Dependencies[0])
		if err != nil {
			return err
		}
		right, err := mem.get(p.Dependencies[1])
		if err != nil {
			return err
		}
		leftE, err := scalarOf(f, left)
		if err != nil {
			return err
		}
		rightE, err := scalarOf(f, right)
		if err != nil {
			return err
		}
		idx := appendMulSlot(leftE, rightE, triples[0])
		round.mulOrder = append(round.mulOrder, mulEntry{protocol: p, slots: []int{idx}, kind: mulPlain})
		return nil

	case bytecode.LessThan:
		pair := bp.Preprocessing[preprocessing.Compare]
		if len(pair) != 2 {
			return fmt.Errorf("vm: comparison %d needs 2 preprocessing elements, has %d", p.Address, len(pair))
		}
		rShare, rHighShare := pair[0], pair[1]
		left, err := mem.get(p.Dependencies[0])
		if err != nil {
			return err
		}
		right, err := mem.get(p.Dependencies[1])
		if err != nil {
			return err
		}
		leftE, err := scalarOf(f, left)
		if err != nil {
			return err
		}
		rightE, err := scalarOf(f, right)
		if err != nil {
			return err
		}
		masked := compare.MaskedDifference(f, leftE, rightE, rShare)
		entry := &revealEntry{typ: p.Type, finalize: func(c field.Element) (field.Element, error) {
			q := division.TruncPR(c, compare.ShiftBits, rHighShare, f)
			return f.One().Sub(q), nil
		}}
		return addReveal(p.Address, entry, masked)

	case bytecode.Div:
		right, err := mem.get(p.Dependencies[1])
		if err != nil {
			return err
		}
		if right.Type().Kind == nada.Secret {
			staged, idx, err := startSecretDivisor(f, mem, p, bp, appendMulSlot)
			if err != nil {
				return err
			}
			round.mulOrder = append(round.mulOrder, mulEntry{protocol: p, slots: []int{idx}, kind: mulStagedDivMask, staged: staged})
			round.staged = append(round.staged, staged)
			return nil
		}
		divisor, err := right.PublicInteger()
		if err != nil {
			return err
		}
		pair := bp.Preprocessing[preprocessing.TruncPr]
		if len(pair) != 2 {
			return fmt.Errorf("vm: division %d needs 2 preprocessing elements, has %d", p.Address, len(pair))
		}
		rShare, rHighShare := pair[0], pair[1]
		left, err := mem.get(p.Dependencies[0])
		if err != nil {
			return err
		}
		leftE, err := scalarOf(f, left)
		if err != nil {
			return err
		}
		divisorU64 := divisor.Uint64()
		scaled := division.ScaleByReciprocal(leftE, divisorU64, division.DefaultPrecisionBits, f)
		masked := scaled.Add(rShare)
		entry := &revealEntry{typ: p.Type, finalize: func(c field.Element) (field.Element, error) {
			return division.TruncPR(c, division.DefaultPrecisionBits, rHighShare, f), nil
		}}
		return addReveal(p.Address, entry, masked)

	case bytecode.Mod:
		right, err := mem.get(p.Dependencies[1])
		if err != nil {
			return err
		}
		if right.Type().Kind == nada.Secret {
			staged, idx, err := startSecretDivisor(f, mem, p, bp, appendMulSlot)
			if err != nil {
				return err
			}
			round.mulOrder = append(round.mulOrder, mulEntry{protocol: p, slots: []int{idx}, kind: mulStagedDivMask, staged: staged})
			round.staged = append(round.staged, staged)
			return nil
		}
		divisor, err := right.PublicInteger()
		if err != nil {
			return err
		}
		pair := bp.Preprocessing[preprocessing.Modulo]
		if len(pair) != 2 {
			return fmt.Errorf("vm: modulo %d needs 2 preprocessing elements, has %d", p.Address, len(pair))
		}
		rShare, rHighShare := pair[0], pair[1]
		left, err := mem.get(p.Dependencies[0])
		if err != nil {
			return err
		}
		leftE, err := scalarOf(f, left)
		if err != nil {
			return err
		}
		divisorU64 := divisor.Uint64()
		scaled := division.ScaleByReciprocal(leftE, divisorU64, division.DefaultPrecisionBits, f)
		masked := scaled.Add(rShare)
		entry := &revealEntry{typ: p.Type, finalize: func(c field.Element) (field.Element, error) {
			q := division.TruncPR(c, division.DefaultPrecisionBits, rHighShare, f)
			return division.ModuloPublicDivisor(leftE, q, divisorU64, f), nil
		}}
		return addReveal(p.Address, entry, masked)

	case bytecode.Equals:
		left, err := mem.get(p.Dependencies[0])
		if err != nil {
			return err
		}
		right, err := mem.get(p.Dependencies[1])
		if err != nil {
			return err
		}
		leftE, err := scalarOf(f, left)
		if err != nil {
			return err
		}
		rightE, err := scalarOf(f, right)
		if err != nil {
			return err
		}

		if p.Type.Kind == nada.Public {
			quad := bp.Preprocessing[preprocessing.EqualityPublicOutput]
			if len(quad) != 4 {
				return fmt.Errorf("vm: public equality %d needs 4 preprocessing elements, has %d", p.Address, len(quad))
			}
			maskR := quad[0]
			triple := beaver.NewTriple(quad[1], quad[2], quad[3])
			diff := leftE.Sub(rightE)
			staged := &stagedEntry{protocol: p, shape: shapeEqualityPublic}
			idx := appendMulSlot(maskR, diff, triple)
			round.mulOrder = append(round.mulOrder, mulEntry{protocol: p, slots: []int{idx}, kind: mulStagedEqPublic, staged: staged})
			round.staged = append(round.staged, staged)
			return nil
		}

		sept := bp.Preprocessing[preprocessing.EqualitySecretOutput]
		if len(sept) != 7 {
			return fmt.Errorf("vm: secret equality %d needs 7 preprocessing elements, has %d", p.Address, len(sept))
		}
		r1, rHigh1, r2, rHigh2 := sept[0], sept[1], sept[2], sept[3]
		triple := beaver.NewTriple(sept[4], sept[5], sept[6])
		staged := &stagedEntry{protocol: p, shape: shapeEqualitySecret, triples: []beaver.Triple{triple}}
		round.staged = append(round.staged, staged)

		maskedXY := compare.MaskedDifference(f, leftE, rightE, r1)
		entryXY := &revealEntry{staged: staged, role: legEqLess, rHigh: rHigh1}
		if err := addReveal(p.Address, entryXY, maskedXY); err != nil {
			return err
		}
		maskedYX := compare.MaskedDifference(f, rightE, leftE, r2)
		entryYX := &revealEntry{staged: staged, role: legEqGreater, rHigh: rHigh2}
		return addReveal(p.Address+secondLegAddr, entryYX, maskedYX)

	default:
		return fmt.Errorf("%w: binary operator %d", ErrNotImplemented, p.BinaryOp)
	}
}

// prepareStagedPhase builds the next round's messages for every protocol
// still awaiting a further phase after the previous round finalized.
func prepareStagedPhase(
	f *field.SafePrime,
	sharer *shamir.Sharer,
	self party.ID,
	parties []party.ID,
	pending []*stagedEntry,
) (*onlineRound, []PartyMessage, error) {
	round := newOnlineRound()
	round.staged = pending

	var allTriples []beaver.Triple
	var leftShares, rightShares []field.Element
	var messages []PartyMessage

	appendMulSlot := func(left, right field.Element, triple beaver.Triple) int {
		allTriples = append(allTriples, triple)
		leftShares = append(leftShares, left)
		rightShares = append(rightShares, right)
		return len(allTriples) - 1
	}

	addReveal := func(addr protocol.Address, entry *revealEntry, ownShare field.Element) error {
		entry.state = reveal.New(sharer, parties)
		round.reveals[addr] = entry
		round.revealOrder = append(round.revealOrder, addr)
		msg := reveal.Message{Share: ownShare}
		if err := entry.state.StoreMessage(self, msg); err != nil {
			return err
		}
		payload, err := encodeEnvelope(envelope{Kind: wireReveal, Reveal: &msg})
		if err != nil {
			return err
		}
		messages = append(messages, PartyMessage{Address: addr, Payload: payload})
		return nil
	}

	for _, s := range pending {
		switch s.shape {
		case shapeEqualityPublic:
			entry := &revealEntry{role: legEqPublic, staged: s}
			if err := addReveal(s.protocol.Address, entry, s.productShare); err != nil {
				return nil, nil, err
			}

		case shapeEqualitySecret:
			geXY := f.One().Sub(s.lessXY)
			geYX := f.One().Sub(s.lessYX)
			idx := appendMulSlot(geXY, geYX, s.triples[0])
			round.mulOrder = append(round.mulOrder, mulEntry{protocol: s.protocol, slots: []int{idx}, kind: mulStagedEqSecret, staged: s})

		case shapeSecretDiv, shapeSecretMod:
			switch s.phase {
			case 0:
				entry := &revealEntry{role: legDivMask, staged: s}
				if err := addReveal(s.protocol.Address, entry, s.productShare); err != nil {
					return nil, nil, err
				}
			case 1:
				triple := s.triples[s.tripleIdx]
				s.tripleIdx++
				idx := appendMulSlot(s.dividendShare, s.recip, triple)
				round.mulOrder = append(round.mulOrder, mulEntry{protocol: s.protocol, slots: []int{idx}, kind: mulStagedDivQuot, staged: s})
			case 2:
				triple := s.triples[s.tripleIdx]
				s.tripleIdx++
				idx := appendMulSlot(s.divisorShare, s.quotient, triple)
				round.mulOrder = append(round.mulOrder, mulEntry{protocol: s.protocol, slots: []int{idx}, kind: mulStagedDivRem, staged: s})
			default:
				return nil, nil, fmt.Errorf("vm: secret-divisor operation %d has no phase %d", s.protocol.Address, s.phase)
			}
		}
		s.phase++
	}

	if len(allTriples) > 0 {
		round.mulState = mult.New(sharer, allTriples, parties)
		msg, err := round.mulState.PrepareLocal(leftShares, rightShares)
		if err != nil {
			return nil, nil, err
		}
		if err := round.mulState.StoreMessage(self, msg); err != nil {
			return nil, nil, err
		}
		payload, err := encodeEnvelope(envelope{Kind: wireMult, Mult: &msg})
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, PartyMessage{Address: 0, Payload: payload})
	}

	return round, messages, nil
}

func protocolDependency(bound []planner.BoundProtocol, addr protocol.Address) (protocol.Address, error) {
	for _, bp := range bound {
		if bp.Protocol.Address == addr {
			return bp.Protocol.Dependencies[0], nil
		}
	}
	return 0, fmt.Errorf("vm: no bound protocol at address %d", addr)
}

func encodeEnvelope(e envelope) ([]byte, error) {
	return cbor.Marshal(e)
}

func decodeEnvelope(data []byte) (envelope, error) {
	var e envelope
	err := cbor.Unmarshal(data, &e)
	return e, err
}

// storeIncoming routes one inbound message to the right sub-state.
func storeIncoming(round *onlineRound, from party.ID, msg PartyMessage) error {
	env, err := decodeEnvelope(msg.Payload)
	if err != nil {
		return fmt.Errorf("vm: malformed message: %w", err)
	}
	switch env.Kind {
	case wireMult:
		if round.mulState == nil || env.Mult == nil {
			return errors.New("vm: unexpected multiplication message")
		}
		return round.mulState.StoreMessage(from, *env.Mult)
	case wireReveal:
		entry, ok := round.reveals[msg.Address]
		if !ok || env.Reveal == nil {
			return fmt.Errorf("vm: unexpected reveal message for address %d", msg.Address)
		}
		return entry.state.StoreMessage(from, *env.Reveal)
	default:
		return fmt.Errorf("vm: unknown wire kind %d", env.Kind)
	}
}

func roundReady(round *onlineRound) bool {
	if round.mulState != nil && !round.mulState.IsReady() {
		return false
	}
	for _, entry := range round.reveals {
		if !entry.state.IsReady() {
			return false
		}
	}
	return true
}

// finalizeRound writes every single-phase Online protocol's result back
// into memory, advances every multi-phase staged protocol's local state,
// and returns the staged protocols that still need a further phase (empty
// once every protocol in the round, staged or not, has reached its
// terminal phase).
func finalizeRound(f *field.SafePrime, mem *memory, round *onlineRound) ([]*stagedEntry, error) {
	if round.mulState != nil {
		products, err := round.mulState.Finalize()
		if err != nil {
			return nil, err
		}
		for _, entry := range round.mulOrder {
			switch entry.kind {
			case mulPlain:
				wrapped, err := wrapScalar(entry.protocol.Type, products[entry.slots[0]])
				if err != nil {
					return nil, err
				}
				mem.set(entry.protocol.Address, wrapped)

			case mulIfElse:
				cTimesA := products[entry.slots[0]]
				cTimesB := products[entry.slots[1]]
				right, err := mem.get(entry.protocol.Dependencies[2])
				if err != nil {
					return nil, err
				}
				rightE, err := scalarOf(f, right)
				if err != nil {
					return nil, err
				}
				out := arith.IfElseLocal(cTimesA, rightE, cTimesB)
				wrapped, err := wrapScalar(entry.protocol.Type, out)
				if err != nil {
					return nil, err
				}
				mem.set(entry.protocol.Address, wrapped)

			case mulInnerProduct:
				sum := f.Zero()
				for _, slot := range entry.slots {
					sum = sum.Add(products[slot])
				}
				wrapped, err := wrapScalar(entry.protocol.Type, sum)
				if err != nil {
					return nil, err
				}
				mem.set(entry.protocol.Address, wrapped)

			case mulStagedEqPublic, mulStagedDivMask:
				entry.staged.productShare = products[entry.slots[0]]

			case mulStagedEqSecret:
				entry.staged.result = products[entry.slots[0]]
				entry.staged.done = true

			case mulStagedDivQuot:
				entry.staged.quotient = products[entry.slots[0]]
				if entry.staged.shape == shapeSecretDiv {
					entry.staged.result = entry.staged.quotient
					entry.staged.done = true
				}

			case mulStagedDivRem:
				divisorTimesQuotient := products[entry.slots[0]]
				entry.staged.result = division.ModuloSecretDivisor(entry.staged.dividendShare, divisorTimesQuotient)
				entry.staged.done = true
			}
		}
	}

	for addr, entry := range round.reveals {
		c, err := entry.state.Finalize()
		if err != nil {
			return nil, err
		}

		if entry.staged == nil {
			value, err := entry.finalize(c)
			if err != nil {
				return nil, err
			}
			wrapped, err := wrapScalar(entry.typ, value)
			if err != nil {
				return nil, err
			}
			mem.set(addr, wrapped)
			continue
		}

		switch entry.role {
		case legEqLess:
			q := division.TruncPR(c, compare.ShiftBits, entry.rHigh, f)
			entry.staged.lessXY = f.One().Sub(q)
		case legEqGreater:
			q := division.TruncPR(c, compare.ShiftBits, entry.rHigh, f)
			entry.staged.lessYX = f.One().Sub(q)
		case legEqPublic:
			if c.IsZero() {
				entry.staged.result = f.One()
			} else {
				entry.staged.result = f.Zero()
			}
			entry.staged.done = true
		case legDivMask:
			recip, err := division.ReciprocalShare(entry.staged.r, c)
			if err != nil {
				return nil, err
			}
			entry.staged.recip = recip
		}
	}

	var pending []*stagedEntry
	seen := make(map[*stagedEntry]bool, len(round.staged))
	for _, s := range round.staged {
		if seen[s] {
			continue
		}
		seen[s] = true
		if s.done {
			wrapped, err := wrapScalar(s.protocol.Type, s.result)
			if err != nil {
				return nil, err
			}
			mem.set(s.protocol.Address, wrapped)
			continue
		}
		pending = append(pending, s)
	}
	return pending, nil
}
