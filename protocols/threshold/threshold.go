// Package threshold implements distributed key generation and threshold
// signing for ECDSA (secp256k1) and EdDSA (ed25519). Both schemes reuse the
// same Shamir sharing, Beaver-triple multiplication and joint-randomness
// primitives the rest of this engine uses for its arithmetic protocols,
// instantiated over the signing curve's own scalar field instead of the
// engine's computation field.
package threshold

import (
	"fmt"
	"math/big"

	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/party"
)

// Scheme names the signature algorithm a KeyShare was generated for.
type Scheme uint8

const (
	ECDSA Scheme = iota
	EdDSA
)

func (s Scheme) String() string {
	if s == ECDSA {
		return "ECDSA"
	}
	return "EdDSA"
}

// secp256k1Order is the order of the secp256k1 base point's subgroup.
var secp256k1Order, _ = new(big.Int).SetString(
	"FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141", 16)

// edwards25519Order is the order of the ed25519 base point's subgroup.
var edwards25519Order, _ = new(big.Int).SetString(
	"1000000000000000000000000000000014DEF9DEA2F79CD65812631A5CF5D3ED", 16)

// ScalarField returns the prime field matching scheme's curve order. This
// engine's generic Shamir sharing, Beaver-triple multiplication and
// joint-randomness protocols (pkg/shamir, protocols/beaver, protocols/mult,
// protocols/random) work over any field.SafePrime; signing reuses them
// directly rather than reimplementing arithmetic mod a curve order.
func ScalarField(scheme Scheme) (*field.SafePrime, error) {
	switch scheme {
	case ECDSA:
		return field.NewPrimeField(secp256k1Order)
	case EdDSA:
		return field.NewPrimeField(edwards25519Order)
	default:
		return nil, fmt.Errorf("threshold: unknown scheme %d", scheme)
	}
}

// KeyShare is one party's share of a distributed key, plus the group's
// public material, produced by a keygen round and consumed by a sign round.
type KeyShare struct {
	Scheme       Scheme
	Threshold    int
	Self         party.ID
	Parties      []party.ID
	PrivateShare field.Element
	// PublicKey is the group's public key, encoded the way the scheme
	// natively marshals it: compressed SEC1 for ECDSA, 32 bytes for EdDSA.
	PublicKey []byte
}
