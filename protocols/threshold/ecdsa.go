package threshold

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/zeebo/blake3"

	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/nada"
	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/pkg/shamir"
	"github.com/nilmpc/coren/protocols/beaver"
	"github.com/nilmpc/coren/protocols/mult"
	"github.com/nilmpc/coren/protocols/random"
	"github.com/nilmpc/coren/protocols/reveal"
)

// scalarToECDSA converts a scalar-field element to a secp256k1 private
// scalar, the form decred's library multiplies the base point by.
func scalarToECDSA(e field.Element) *secp256k1.ModNScalar {
	var s secp256k1.ModNScalar
	s.SetByteSlice(e.Bytes())
	return &s
}

// scalarBasePoint returns scalar*G as a compressed SEC1 public key.
func scalarBasePoint(e field.Element) *secp256k1.PublicKey {
	priv := secp256k1.NewPrivateKey(scalarToECDSA(e))
	return priv.PubKey()
}

// addPublicKeys returns the curve point p1+p2.
func addPublicKeys(p1, p2 *secp256k1.PublicKey) *secp256k1.PublicKey {
	var j1, j2, sum secp256k1.JacobianPoint
	p1.AsJacobian(&j1)
	p2.AsJacobian(&j2)
	secp256k1.AddNonConst(&j1, &j2, &sum)
	sum.ToAffine()
	return secp256k1.NewPublicKey(&sum.X, &sum.Y)
}

// ECDSAKeygen drives a two-round, commit-then-reveal distributed key
// generation: round 1 broadcasts a blake3 commitment to each party's
// public contribution (preventing a rushing party from choosing its share
// of the key after seeing everyone else's), round 2 opens it. The final
// private key is the sum of every party's independently chosen secret,
// Shamir-shared so that any threshold+1 parties can later sign.
type ECDSAKeygen struct {
	self      party.ID
	parties   []party.ID
	threshold int
	sharer    *shamir.Sharer
	field     *field.SafePrime
	sessionID []byte

	ownSecret    field.Element
	ownShares    map[party.ID]field.Element
	ownCommit    *secp256k1.PublicKey
	commitHashes map[party.ID][32]byte

	join        *random.JoinState
	commitments map[party.ID]*secp256k1.PublicKey
}

// ECDSAKeygenRound1 is the commitment broadcast to every party.
type ECDSAKeygenRound1 struct {
	Hash [32]byte
}

// ECDSAKeygenRound2 carries this party's opened contribution: a Shamir
// share of its secret addressed to one specific recipient, plus its public
// commitment (identical in every recipient's copy of this message).
type ECDSAKeygenRound2 struct {
	Share      field.Element
	Commitment []byte // compressed SEC1 public key
}

// NewECDSAKeygen starts a DKG session for threshold-of-len(parties) ECDSA.
func NewECDSAKeygen(self party.ID, parties []party.ID, threshold int, sharer *shamir.Sharer, f *field.SafePrime, sessionID []byte) (*ECDSAKeygen, error) {
	secret, err := f.RandomElement(rand.Reader)
	if err != nil {
		return nil, err
	}
	shares, err := sharer.GenerateShares(secret, threshold, rand.Reader)
	if err != nil {
		return nil, err
	}
	return &ECDSAKeygen{
		self:         self,
		parties:      parties,
		threshold:    threshold,
		sharer:       sharer,
		field:        f,
		sessionID:    sessionID,
		ownSecret:    secret,
		ownShares:    shares,
		ownCommit:    scalarBasePoint(secret),
		commitHashes: make(map[party.ID][32]byte),
		join:         random.NewJoin(parties),
		commitments:  make(map[party.ID]*secp256k1.PublicKey),
	}, nil
}

func commitmentHash(sessionID []byte, pub *secp256k1.PublicKey) [32]byte {
	h := blake3.New()
	h.Write(sessionID)
	h.Write(pub.SerializeCompressed())
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// PrepareRound1 returns this party's commitment, identical for every
// recipient. The caller must route it to every other party but never feed
// it back to StoreRound1 itself: Prepare* methods in this type always
// self-store before returning.
func (k *ECDSAKeygen) PrepareRound1() ECDSAKeygenRound1 {
	msg := ECDSAKeygenRound1{Hash: commitmentHash(k.sessionID, k.ownCommit)}
	k.StoreRound1(k.self, msg)
	return msg
}

// StoreRound1 records a peer's commitment hash.
func (k *ECDSAKeygen) StoreRound1(from party.ID, msg ECDSAKeygenRound1) {
	k.commitHashes[from] = msg.Hash
}

// Round1Ready reports whether every party's commitment has arrived.
func (k *ECDSAKeygen) Round1Ready() bool { return len(k.commitHashes) == len(k.parties) }

// PrepareRound2 returns, for every recipient, this party's opened
// contribution addressed to them, after self-storing its own.
func (k *ECDSAKeygen) PrepareRound2() map[party.ID]ECDSAKeygenRound2 {
	out := make(map[party.ID]ECDSAKeygenRound2, len(k.parties))
	commitBytes := k.ownCommit.SerializeCompressed()
	for _, p := range k.parties {
		out[p] = ECDSAKeygenRound2{Share: k.ownShares[p], Commitment: commitBytes}
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
func (k *ECDSAKeygen) StoreRound2(from party.ID, msg ECDSAKeygenRound2) error {
	pub, err := secp256k1.ParsePubKey(msg.Commitment)
	if err != nil {
		return fmt.Errorf("threshold: ecdsa keygen: %w", err)
	}
	want, ok := k.commitHashes[from]
	if !ok {
		return errors.New("threshold: ecdsa keygen: round 2 message before round 1 commitment")
	}
	if got := commitmentHash(k.sessionID, pub); got != want {
		return errors.New("threshold: ecdsa keygen: opened contribution does not match commitment")
	}
	if err := k.join.StoreContribution(from, msg.Share); err != nil {
		return err
	}
	k.commitments[from] = pub
	return nil
}

// Round2Ready reports whether every party's opened contribution has
// arrived and been verified.
func (k *ECDSAKeygen) Round2Ready() bool { return len(k.commitments) == len(k.parties) }

// Finalize computes this party's share of the group private key and the
// group's public key.
func (k *ECDSAKeygen) Finalize() (*KeyShare, error) {
	share, err := k.join.Finalize(k.field)
	if err != nil {
		return nil, err
	}
	var groupPub *secp256k1.PublicKey
	for _, p := range k.parties {
		pub := k.commitments[p]
		if groupPub == nil {
			groupPub = pub
			continue
		}
		groupPub = addPublicKeys(groupPub, pub)
	}
	return &KeyShare{
		Scheme:       ECDSA,
		Threshold:    k.threshold,
		Self:         k.self,
		Parties:      append([]party.ID(nil), k.parties...),
		PrivateShare: share,
		PublicKey:    groupPub.SerializeCompressed(),
	}, nil
}

// ECDSASign drives a threshold ECDSA signature over a 32-byte digest,
// following the classic Shamir-nonce construction: a jointly random,
// Shamir-shared nonce k never gets reconstructed in the clear, only its
// curve commitment R = k*G (computed in the exponent via Lagrange-weighted
// partial points); its inverse is derived through the standard RAN-INV
// trick (protocols/random), and the final scalar s is produced by one more
// Beaver-triple multiplication of k^-1 and (digest + r*privateKey).
//
// This omits the zero-knowledge range/well-formedness proofs a
// malicious-secure construction (e.g. the teacher's CMP protocol) would
// carry; it assumes the same semi-honest threat model as the rest of this
// engine's MPC protocols.
type ECDSASign struct {
	share   *KeyShare
	signers []party.ID
	digest  *big.Int
	sharer  *shamir.Sharer
	field   *field.SafePrime

	kJoin *random.JoinState
	bJoin *random.JoinState

	abMult   *mult.State
	abReveal *reveal.State
	sMult    *mult.State
	sReveal  *reveal.State

	kShare, bShare, kInvShare field.Element
	r                         *big.Int
	rAccum                    *secp256k1.PublicKey
}

// ECDSASignRound1 carries this party's Shamir shares of its two random
// contributions (nonce share and blinding share), one per recipient.
type ECDSASignRound1 struct {
	KShare field.Element
	BShare field.Element
}

// NewECDSASign starts a signing session for digest among signers (which
// must number threshold+1 or more), using two pre-generated Beaver triples
// over the scalar field (see AuxInfo).
func NewECDSASign(share *KeyShare, signers []party.ID, digest []byte, sharer *shamir.Sharer, f *field.SafePrime, abTriple, sTriple beaver.Triple) *ECDSASign {
	return &ECDSASign{
		share:    share,
		signers:  signers,
		digest:   new(big.Int).SetBytes(digest),
		sharer:   sharer,
		field:    f,
		kJoin:    random.NewJoin(signers),
		bJoin:    random.NewJoin(signers),
		abMult:   mult.New(sharer, []beaver.Triple{abTriple}, signers),
		abReveal: reveal.New(sharer, signers),
		sMult:    mult.New(sharer, []beaver.Triple{sTriple}, signers),
	}
}

// PrepareRound1 Shamir-shares this party's nonce and blinding contributions
// among the signers, returning one message per recipient.
func (s *ECDSASign) PrepareRound1(rnd io.Reader) (map[party.ID]ECDSASignRound1, error) {
	k, err := s.field.RandomElement(rnd)
	if err != nil {
		return nil, err
	}
	b, err := s.field.RandomElement(rnd)
	if err != nil {
		return nil, err
	}
	kShares, err := s.sharer.GenerateShares(k, s.share.Threshold, rnd)
	if err != nil {
		return nil, err
	}
	bShares, err := s.sharer.GenerateShares(b, s.share.Threshold, rnd)
	if err != nil {
		return nil, err
	}
	out := make(map[party.ID]ECDSASignRound1, len(s.signers))
	for _, p := range s.signers {
		out[p] = ECDSASignRound1{KShare: kShares[p], BShare: bShares[p]}
	}
	if err := s.StoreRound1(s.share.Self, out[s.share.Self]); err != nil {
		return nil, err
	}
	return out, nil
}

// StoreRound1 folds a peer's round-1 contribution into the running nonce
// and blinding shares. The caller must route its own PrepareRound1 message
// to every other signer but never feed it back to StoreRound1 itself:
// Prepare* methods in this type always self-store before returning.
func (s *ECDSASign) StoreRound1(from party.ID, msg ECDSASignRound1) error {
	if err := s.kJoin.StoreContribution(from, msg.KShare); err != nil {
		return err
	}
	return s.bJoin.StoreContribution(from, msg.BShare)
}

// Round1Ready reports whether every signer's round-1 contribution has
// arrived.
func (s *ECDSASign) Round1Ready() bool { return s.kJoin.IsReady() && s.bJoin.IsReady() }

// PrepareRound2 finalizes the nonce and blinding shares and returns this
// party's masked-operand message for the k*b multiplication.
func (s *ECDSASign) PrepareRound2() (mult.Message, error) {
	kShare, err := s.kJoin.Finalize(s.field)
	if err != nil {
		return mult.Message{}, err
	}
	bShare, err := s.bJoin.Finalize(s.field)
	if err != nil {
		return mult.Message{}, err
	}
	s.kShare, s.bShare = kShare, bShare
	msg, err := s.abMult.PrepareLocal([]field.Element{kShare}, []field.Element{bShare})
	if err != nil {
		return mult.Message{}, err
	}
	if err := s.abMult.StoreMessage(s.share.Self, msg); err != nil {
		return mult.Message{}, err
	}
	return msg, nil
}

// StoreRound2 records a peer's round-2 (k*b masking) message.
func (s *ECDSASign) StoreRound2(from party.ID, msg mult.Message) error {
	return s.abMult.StoreMessage(from, msg)
}

// Round2Ready reports whether the k*b multiplication round is complete.
func (s *ECDSASign) Round2Ready() bool { return s.abMult.IsReady() }

// PrepareRound3 finalizes this party's share of k*b and returns the reveal
// message broadcasting it, plus this party's weighted partial commitment
// to R = k*G.
func (s *ECDSASign) PrepareRound3() (reveal.Message, *secp256k1.PublicKey, error) {
	products, err := s.abMult.Finalize()
	if err != nil {
		return reveal.Message{}, nil, err
	}
	abShare := products[0]
	msg := reveal.Message{Share: abShare}
	weighted, err := s.sharer.Weigh(s.share.Self, s.signers, s.kShare)
	if err != nil {
		return reveal.Message{}, nil, err
	}
	partialR := scalarBasePoint(weighted)
	if err := s.StoreRound3(s.share.Self, msg, partialR); err != nil {
		return reveal.Message{}, nil, err
	}
	return msg, partialR, nil
}

// StoreRound3 records a peer's revealed k*b share and its weighted partial
// R commitment.
func (s *ECDSASign) StoreRound3(from party.ID, msg reveal.Message, partialR *secp256k1.PublicKey) error {
	if err := s.abReveal.StoreMessage(from, msg); err != nil {
		return err
	}
	if s.rAccum == nil {
		s.rAccum = partialR
	} else {
		s.rAccum = addPublicKeys(s.rAccum, partialR)
	}
	return nil
}

// Round3Ready reports whether every signer's round-3 message has arrived.
func (s *ECDSASign) Round3Ready() bool { return s.abReveal.IsReady() }

// PrepareRound4 reconstructs r = R.x mod n from the accumulated R
// commitment, derives this party's share of k^-1 (RAN-INV), and returns
// this party's masked-operand message for the final
// s = k^-1*(digest + r*privateKey) multiplication.
func (s *ECDSASign) PrepareRound4() (mult.Message, error) {
	c, err := s.abReveal.Finalize()
	if err != nil {
		return mult.Message{}, err
	}
	kInvShare, err := random.InvertFromRevealed(s.bShare, c)
	if err != nil {
		return mult.Message{}, err
	}
	s.kInvShare = kInvShare

	rX := s.rAccum.X()
	rBytes := rX.Bytes()
	s.r = new(big.Int).Mod(new(big.Int).SetBytes(rBytes[:]), s.field.Prime())

	digestE := s.field.NewElement(new(big.Int).Mod(s.digest, s.field.Prime()))
	rE := s.field.NewElement(s.r)
	rd := rE.Mul(s.share.PrivateShare)
	operand := digestE.Add(rd)
	msg, err := s.sMult.PrepareLocal([]field.Element{kInvShare}, []field.Element{operand})
	if err != nil {
		return mult.Message{}, err
	}
	if err := s.sMult.StoreMessage(s.share.Self, msg); err != nil {
		return mult.Message{}, err
	}
	return msg, nil
}

// StoreRound4 records a peer's round-4 (s masking) message.
func (s *ECDSASign) StoreRound4(from party.ID, msg mult.Message) error {
	return s.sMult.StoreMessage(from, msg)
}

// Round4Ready reports whether the final multiplication round is complete.
func (s *ECDSASign) Round4Ready() bool { return s.sMult.IsReady() }

// PrepareRound5 finalizes this party's share of s and returns the reveal
// message broadcasting it.
func (s *ECDSASign) PrepareRound5() (reveal.Message, error) {
	products, err := s.sMult.Finalize()
	if err != nil {
		return reveal.Message{}, err
	}
	s.sReveal = reveal.New(s.sharer, s.signers)
	msg := reveal.Message{Share: products[0]}
	if err := s.sReveal.StoreMessage(s.share.Self, msg); err != nil {
		return reveal.Message{}, err
	}
	return msg, nil
}

// StoreRound5 records a peer's revealed s share.
func (s *ECDSASign) StoreRound5(from party.ID, msg reveal.Message) error {
	return s.sReveal.StoreMessage(from, msg)
}

// Round5Ready reports whether every signer's final share has arrived.
func (s *ECDSASign) Round5Ready() bool { return s.sReveal != nil && s.sReveal.IsReady() }

// Finalize reconstructs s, normalizes it to the canonical low-S form, and
// returns the completed signature as a Nada value.
func (s *ECDSASign) Finalize() (nada.Value, error) {
	sE, err := s.sReveal.Finalize()
	if err != nil {
		return nada.Value{}, err
	}
	sBig := sE.Big()
	n := s.field.Prime()
	half := new(big.Int).Rsh(n, 1)
	if sBig.Cmp(half) > 0 {
		sBig.Sub(n, sBig)
	}
	return nada.NewEcdsaSignature(nada.EcdsaSignature{R: new(big.Int).Set(s.r), S: sBig}), nil
}
