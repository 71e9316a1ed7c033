package threshold

import (
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"github.com/zeebo/blake3"

	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/nada"
	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/pkg/shamir"
	"github.com/nilmpc/coren/protocols/random"
)

// reverseBytes returns a copy of b with its byte order reversed, for
// converting between this engine's big-endian field.Element encoding and
// edwards25519's little-endian scalar encoding.
func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// scalarFromField converts a scalar-field element to a canonical
// edwards25519 scalar.
func scalarFromField(e field.Element) (*edwards25519.Scalar, error) {
	return edwards25519.NewScalar().SetCanonicalBytes(reverseBytes(e.Bytes()))
}

// fieldFromScalar converts an edwards25519 scalar back to a scalar-field
// element.
func fieldFromScalar(f *field.SafePrime, s *edwards25519.Scalar) (field.Element, error) {
	buf := reverseBytes(s.Bytes())
	return f.Decode(buf)
}

// pointFromScalar returns e*G as a compressed edwards25519 point.
func pointFromScalar(e field.Element) (*edwards25519.Point, error) {
	s, err := scalarFromField(e)
	if err != nil {
		return nil, err
	}
	return edwards25519.NewIdentityPoint().ScalarBaseMult(s), nil
}

// addEdPoints returns the curve point p1+p2.
func addEdPoints(p1, p2 *edwards25519.Point) *edwards25519.Point {
	return edwards25519.NewIdentityPoint().Add(p1, p2)
}

// EdDSAKeygen drives the same two-round commit-then-reveal distributed key
// generation as ECDSAKeygen, over the edwards25519 group instead of
// secp256k1: round 1 commits to each party's public contribution, round 2
// opens it, and the group's key is the sum of every independently chosen
// secret.
type EdDSAKeygen struct {
	self      party.ID
	parties   []party.ID
	threshold int
	sharer    *shamir.Sharer
	field     *field.SafePrime
	sessionID []byte

	ownSecret    field.Element
	ownShares    map[party.ID]field.Element
	ownCommit    *edwards25519.Point
	commitHashes map[party.ID][32]byte

	join        *random.JoinState
	commitments map[party.ID]*edwards25519.Point
}

// EdDSAKeygenRound1 is the commitment broadcast to every party.
type EdDSAKeygenRound1 struct {
	Hash [32]byte
}

// EdDSAKeygenRound2 carries this party's opened contribution: a Shamir
// share of its secret addressed to one specific recipient, plus its public
// commitment (identical in every recipient's copy of this message).
type EdDSAKeygenRound2 struct {
	Share      field.Element
	Commitment []byte // compressed edwards25519 point
}

// NewEdDSAKeygen starts a DKG session for threshold-of-len(parties) EdDSA.
func NewEdDSAKeygen(self party.ID, parties []party.ID, threshold int, sharer *shamir.Sharer, f *field.SafePrime, sessionID []byte) (*EdDSAKeygen, error) {
	secret, err := f.RandomElement(rand.Reader)
	if err != nil {
		return nil, err
	}
	shares, err := sharer.GenerateShares(secret, threshold, rand.Reader)
	if err != nil {
		return nil, err
	}
	commit, err := pointFromScalar(secret)
	if err != nil {
		return nil, err
	}
	return &EdDSAKeygen{
		self:         self,
		parties:      parties,
		threshold:    threshold,
		sharer:       sharer,
		field:        f,
		sessionID:    sessionID,
		ownSecret:    secret,
		ownShares:    shares,
		ownCommit:    commit,
		commitHashes: make(map[party.ID][32]byte),
		join:         random.NewJoin(parties),
		commitments:  make(map[party.ID]*edwards25519.Point),
	}, nil
}

func commitmentHashEd(sessionID []byte, pub *edwards25519.Point) [32]byte {
	h := blake3.New()
	h.Write(sessionID)
	h.Write(pub.Bytes())
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// PrepareRound1 returns this party's commitment, identical for every
// recipient. The caller must route it to every other party but never feed
// it back to StoreRound1 itself: Prepare* methods in this type always
// self-store before returning.
func (k *EdDSAKeygen) PrepareRound1() EdDSAKeygenRound1 {
	msg := EdDSAKeygenRound1{Hash: commitmentHashEd(k.sessionID, k.ownCommit)}
	k.StoreRound1(k.self, msg)
	return msg
}

// StoreRound1 records a peer's commitment hash.
func (k *EdDSAKeygen) StoreRound1(from party.ID, msg EdDSAKeygenRound1) {
	k.commitHashes[from] = msg.Hash
}

// Round1Ready reports whether every party's commitment has arrived.
func (k *EdDSAKeygen) Round1Ready() bool { return len(k.commitHashes) == len(k.parties) }

// PrepareRound2 returns, for every recipient, this party's opened
// contribution addressed to them, after self-storing its own.
func (k *EdDSAKeygen) PrepareRound2() map[party.ID]EdDSAKeygenRound2 {
	out := make(map[party.ID]EdDSAKeygenRound2, len(k.parties))
	commitBytes := k.ownCommit.Bytes()
	for _, p := range k.parties {
		out[p] = EdDSAKeygenRound2{Share: k.ownShares[p], Commitment: commitBytes}
	}
	// This party's own opening needs none of StoreRound2's commitment checks.
	if _, done := k.commitments[k.self]; !done {
		if err := k.join.StoreContribution(k.self, k.ownShares[k.self]); err == nil {
			k.commitments[k.self] = k.ownCommit
		}
	}
	return out
}

// StoreRound2 verifies from's opened contribution against its round-1
// commitment and, if it matches, folds its share into this party's running
// sum and records its public contribution.
func (k *EdDSAKeygen) StoreRound2(from party.ID, msg EdDSAKeygenRound2) error {
	pub, err := new(edwards25519.Point).SetBytes(msg.Commitment)
	if err != nil {
		return fmt.Errorf("threshold: eddsa keygen: %w", err)
	}
	want, ok := k.commitHashes[from]
	if !ok {
		return errors.New("threshold: eddsa keygen: round 2 message before round 1 commitment")
	}
	if got := commitmentHashEd(k.sessionID, pub); got != want {
		return errors.New("threshold: eddsa keygen: opened contribution does not match commitment")
	}
	if err := k.join.StoreContribution(from, msg.Share); err != nil {
		return err
	}
	k.commitments[from] = pub
	return nil
}

// Round2Ready reports whether every party's opened contribution has
// arrived and been verified.
func (k *EdDSAKeygen) Round2Ready() bool { return len(k.commitments) == len(k.parties) }

// Finalize computes this party's share of the group private key and the
// group's public key.
func (k *EdDSAKeygen) Finalize() (*KeyShare, error) {
	share, err := k.join.Finalize(k.field)
	if err != nil {
		return nil, err
	}
	var groupPub *edwards25519.Point
	for _, p := range k.parties {
		pub := k.commitments[p]
		if groupPub == nil {
			groupPub = pub
			continue
		}
		groupPub = addEdPoints(groupPub, pub)
	}
	return &KeyShare{
		Scheme:       EdDSA,
		Threshold:    k.threshold,
		Self:         k.self,
		Parties:      append([]party.ID(nil), k.parties...),
		PrivateShare: share,
		PublicKey:    groupPub.Bytes(),
	}, nil
}

// EdDSASign drives a threshold Schnorr/EdDSA signature over an arbitrary
// message, in the FROST style: unlike ECDSA, a Schnorr signature's scalar
// s = r + c*x is a purely additive function of the per-party nonce r and
// the private key x, so the multiplication by the public challenge scalar
// c is a Local operation on each signer's Shamir share and no Beaver
// triple, inversion or masked-product round is needed at all. Each signer
// generates its own local nonce (no joint sharing of a nonce value is
// required), broadcasts its public commitment R_i = r_i*G, and once every
// signer's commitment has summed to R, broadcasts its weighted partial
// signature share z_i = r_i + c*lambda_i*x_i; the final signature's s is
// the plain sum of every z_i.
//
// As with ECDSASign, this targets the semi-honest threat model the rest
// of this engine's MPC protocols assume: it carries no zero-knowledge
// proof of nonce well-formedness.
type EdDSASign struct {
	share   *KeyShare
	signers []party.ID
	message []byte
	sharer  *shamir.Sharer
	field   *field.SafePrime

	nonce     field.Element
	rAccum    *edwards25519.Point
	receivedR map[party.ID]bool

	sJoin *random.JoinState
}

// EdDSASignRound1 carries this party's public nonce commitment, identical
// for every recipient.
type EdDSASignRound1 struct {
	R []byte // compressed edwards25519 point
}

// EdDSASignRound2 carries this party's weighted partial signature share.
type EdDSASignRound2 struct {
	Z field.Element
}

// NewEdDSASign starts a signing session for message among signers (which
// must number threshold+1 or more).
func NewEdDSASign(share *KeyShare, signers []party.ID, message []byte, sharer *shamir.Sharer, f *field.SafePrime) *EdDSASign {
	return &EdDSASign{
		share:     share,
		signers:   signers,
		message:   message,
		sharer:    sharer,
		field:     f,
		receivedR: make(map[party.ID]bool),
		sJoin:     random.NewJoin(signers),
	}
}

// PrepareRound1 generates this party's nonce and returns its public
// commitment, broadcast identically to every signer.
func (s *EdDSASign) PrepareRound1(rnd io.Reader) (EdDSASignRound1, error) {
	nonce, err := s.field.RandomElement(rnd)
	if err != nil {
		return EdDSASignRound1{}, err
	}
	s.nonce = nonce
	R, err := pointFromScalar(nonce)
	if err != nil {
		return EdDSASignRound1{}, err
	}
	msg := EdDSASignRound1{R: R.Bytes()}
	if err := s.StoreRound1(s.share.Self, msg); err != nil {
		return EdDSASignRound1{}, err
	}
	return msg, nil
}

// StoreRound1 folds a peer's nonce commitment into the running sum R. The
// caller must route its own PrepareRound1 message to every other signer
// but never feed it back to StoreRound1 itself: Prepare* methods in this
// type always self-store before returning.
func (s *EdDSASign) StoreRound1(from party.ID, msg EdDSASignRound1) error {
	if s.receivedR[from] {
		return fmt.Errorf("threshold: eddsa sign: duplicate round-1 message from %s", from)
	}
	pt, err := new(edwards25519.Point).SetBytes(msg.R)
	if err != nil {
		return fmt.Errorf("threshold: eddsa sign: %w", err)
	}
	if s.rAccum == nil {
		s.rAccum = pt
	} else {
		s.rAccum = addEdPoints(s.rAccum, pt)
	}
	s.receivedR[from] = true
	return nil
}

// Round1Ready reports whether every signer's nonce commitment has arrived.
func (s *EdDSASign) Round1Ready() bool { return len(s.receivedR) == len(s.signers) }

// challenge computes c = H(R || A || message) mod L, using the same
// SHA-512-then-reduce construction RFC 8032 specifies for Ed25519: this
// is a protocol-mandated hash function, not a library choice, so it is
// the one place this package reaches for the standard library's SHA-512
// instead of blake3.
func (s *EdDSASign) challenge() (*edwards25519.Scalar, error) {
	h := sha512.New()
	h.Write(s.rAccum.Bytes())
	h.Write(s.share.PublicKey)
	h.Write(s.message)
	return edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
}

// PrepareRound2 computes the joint challenge from the finalized R and
// returns this party's weighted partial signature share.
func (s *EdDSASign) PrepareRound2() (EdDSASignRound2, error) {
	c, err := s.challenge()
	if err != nil {
		return EdDSASignRound2{}, err
	}
	cField, err := fieldFromScalar(s.field, c)
	if err != nil {
		return EdDSASignRound2{}, err
	}
	weighted, err := s.sharer.Weigh(s.share.Self, s.signers, s.share.PrivateShare)
	if err != nil {
		return EdDSASignRound2{}, err
	}
	zShare := weighted.Mul(cField).Add(s.nonce)
	msg := EdDSASignRound2{Z: zShare}
	if err := s.StoreRound2(s.share.Self, msg); err != nil {
		return EdDSASignRound2{}, err
	}
	return msg, nil
}

// StoreRound2 records a peer's weighted partial signature share.
func (s *EdDSASign) StoreRound2(from party.ID, msg EdDSASignRound2) error {
	return s.sJoin.StoreContribution(from, msg.Z)
}

// Round2Ready reports whether every signer's partial share has arrived.
func (s *EdDSASign) Round2Ready() bool { return s.sJoin.IsReady() }

// Finalize sums every signer's partial share into the signature scalar s
// and returns the completed 64-byte R||s signature as a Nada value.
func (s *EdDSASign) Finalize() (nada.Value, error) {
	sField, err := s.sJoin.Finalize(s.field)
	if err != nil {
		return nada.Value{}, err
	}
	sScalar, err := scalarFromField(sField)
	if err != nil {
		return nada.Value{}, err
	}
	sig := make([]byte, 0, 64)
	sig = append(sig, s.rAccum.Bytes()...)
	sig = append(sig, sScalar.Bytes()...)
	return nada.NewEddsaSignature(sig), nil
}
