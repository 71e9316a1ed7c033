// Package reveal implements the Online reveal protocol: every party
// broadcasts its share of a value and any recipient reconstructs it via
// Lagrange interpolation.
package reveal

import (
	"errors"

	"github.com/nilmpc/coren/pkg/basictypes"
	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/pkg/shamir"
)

// ErrNotReady is returned by Finalize before every expected party has
// contributed its share.
var ErrNotReady = errors.New("reveal: not every party has contributed a share")

// Message is the single broadcast payload of the reveal protocol: a party's
// share of the value being opened.
type Message struct {
	Share field.Element
}

// State drives one reveal of a single shared value. It is Online: it has no
// work to do before at least one message is sent and received.
type State struct {
	sharer *shamir.Sharer
	jar    *basictypes.Jar[field.Element]
}

// New starts a reveal for a value this party holds a share of, expecting
// contributions from every party in parties (self included).
func New(sharer *shamir.Sharer, parties []party.ID) *State {
	return &State{sharer: sharer, jar: basictypes.NewJar[field.Element](len(parties))}
}

// OutgoingMessage returns the message this party must broadcast to every
// other party: its own share.
func (s *State) OutgoingMessage(own party.ID, share field.Element) (party.ID, Message) {
	return own, Message{Share: share}
}

// StoreMessage records a peer's broadcast share, rejecting duplicates.
func (s *State) StoreMessage(from party.ID, msg Message) error {
	return s.jar.Add(from, msg.Share)
}

// IsReady reports whether every expected party has contributed.
func (s *State) IsReady() bool { return s.jar.IsFull() }

// Finalize reconstructs the revealed value once every share has arrived.
func (s *State) Finalize() (field.Element, error) {
	if !s.jar.IsFull() {
		return field.Element{}, ErrNotReady
	}
	return s.sharer.Recover(s.jar.ToMap())
}
