// Package mult implements the Online share-times-share multiplication
// protocol by composing a Beaver triple with a single batched reveal of the
// two masked operands, following the "Local vs Online" composition pattern:
// a higher-level protocol embeds a lower state machine (here, two reveals
// batched into one round) and inspects its Final output.
package mult

import (
	"errors"

	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/pkg/shamir"
	"github.com/nilmpc/coren/protocols/beaver"
)

// ErrNotReady is returned by Finalize before every party's masked-operand
// message has arrived.
var ErrNotReady = errors.New("mult: not every party has contributed masked operands")

// Message is the single broadcast payload of a multiplication round: this
// party's shares of the two masked operands, batched into one message so
// that a whole array of pending multiplications only needs one round trip.
type Message struct {
	MaskedLeft  []field.Element
	MaskedRight []field.Element
}

// State drives a batch of share x share multiplications that all complete
// in the same round, each backed by its own Beaver triple.
type State struct {
	sharer  *shamir.Sharer
	triples []beaver.Triple

	maskedLeft  map[party.ID][]field.Element
	maskedRight map[party.ID][]field.Element
	expected    int
}

// New starts a batched multiplication of leftShares[i] * rightShares[i] for
// each i, one triple per pair, for the given party set.
func New(sharer *shamir.Sharer, triples []beaver.Triple, parties []party.ID) *State {
	return &State{
		sharer:      sharer,
		triples:     triples,
		maskedLeft:  make(map[party.ID][]field.Element, len(parties)),
		maskedRight: make(map[party.ID][]field.Element, len(parties)),
		expected:    len(parties),
	}
}

// PrepareLocal computes this party's masked-operand message (the Local step
// before the Online round), given this party's shares of every left/right
// operand in the batch.
func (s *State) PrepareLocal(leftShares, rightShares []field.Element) (Message, error) {
	if len(leftShares) != len(s.triples) || len(rightShares) != len(s.triples) {
		return Message{}, errors.New("mult: operand batch size does not match triple batch size")
	}
	maskedLeft := make([]field.Element, len(s.triples))
	maskedRight := make([]field.Element, len(s.triples))
	for i, triple := range s.triples {
		ml, mr := triple.PrepareMultiplication(leftShares[i], rightShares[i])
		maskedLeft[i] = ml
		maskedRight[i] = mr
	}
	return Message{MaskedLeft: maskedLeft, MaskedRight: maskedRight}, nil
}

// StoreMessage records a peer's masked-operand broadcast.
func (s *State) StoreMessage(from party.ID, msg Message) error {
	if _, ok := s.maskedLeft[from]; ok {
		return errors.New("mult: duplicate message from party")
	}
	if len(msg.MaskedLeft) != len(s.triples) || len(msg.MaskedRight) != len(s.triples) {
		return errors.New("mult: malformed batch size in message")
	}
	s.maskedLeft[from] = msg.MaskedLeft
	s.maskedRight[from] = msg.MaskedRight
	return nil
}

// IsReady reports whether every expected party has contributed.
func (s *State) IsReady() bool {
	return len(s.maskedLeft) == s.expected && len(s.maskedRight) == s.expected
}

// Finalize reveals the masked operands and returns this party's share of
// each product in the batch.
func (s *State) Finalize() ([]field.Element, error) {
	if !s.IsReady() {
		return nil, ErrNotReady
	}
	out := make([]field.Element, len(s.triples))
	for i, triple := range s.triples {
		leftShares := make(map[party.ID]field.Element, len(s.maskedLeft))
		rightShares := make(map[party.ID]field.Element, len(s.maskedRight))
		for p, batch := range s.maskedLeft {
			leftShares[p] = batch[i]
		}
		for p, batch := range s.maskedRight {
			rightShares[p] = batch[i]
		}
		leftScalar, err := s.sharer.Recover(leftShares)
		if err != nil {
			return nil, err
		}
		rightScalar, err := s.sharer.Recover(rightShares)
		if err != nil {
			return nil, err
		}
		out[i] = triple.FinalizeMultiplication(leftScalar, rightScalar)
	}
	return out, nil
}
