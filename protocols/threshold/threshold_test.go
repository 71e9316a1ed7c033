package threshold_test

import (
	"crypto/rand"
	"crypto/sha512"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/require"

	"filippo.io/edwards25519"

	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/pkg/shamir"
	"github.com/nilmpc/coren/protocols/mult"
	"github.com/nilmpc/coren/protocols/reveal"
	"github.com/nilmpc/coren/protocols/threshold"
)

func testParties(t *testing.T, n int) []party.ID {
	t.Helper()
	ids := make([]party.ID, n)
	for i := range ids {
		ids[i] = party.New([]byte{byte('a' + i)})
	}
	return ids
}

func broadcast[M any](t *testing.T, parties []party.ID, mine map[party.ID]M, store func(self, from party.ID, msg M) error) {
	t.Helper()
	for _, p := range parties {
		for _, from := range parties {
			if from.Equal(p) {
				continue
			}
			require.NoError(t, store(p, from, mine[from]))
		}
	}
}

// runECDSAKeygen drives every party's ECDSAKeygen to completion and
// returns each party's resulting KeyShare.
func runECDSAKeygen(t *testing.T, parties []party.ID, deg int, sharer *shamir.Sharer) map[party.ID]*threshold.KeyShare {
	t.Helper()
	scalarField, err := threshold.ScalarField(threshold.ECDSA)
	require.NoError(t, err)

	sessions := make(map[party.ID]*threshold.ECDSAKeygen, len(parties))
	for _, p := range parties {
		k, err := threshold.NewECDSAKeygen(p, parties, deg, sharer, scalarField, []byte("ecdsa-session-1"))
		require.NoError(t, err)
		sessions[p] = k
	}

	round1 := make(map[party.ID]threshold.ECDSAKeygenRound1, len(parties))
	for _, p := range parties {
		round1[p] = sessions[p].PrepareRound1()
	}
	broadcast(t, parties, round1, func(self, from party.ID, msg threshold.ECDSAKeygenRound1) error {
		sessions[self].StoreRound1(from, msg)
		return nil
	})
	for _, p := range parties {
		require.True(t, sessions[p].Round1Ready())
	}

	round2 := make(map[party.ID]map[party.ID]threshold.ECDSAKeygenRound2, len(parties))
	for _, p := range parties {
		round2[p] = sessions[p].PrepareRound2()
	}
	for _, p := range parties {
		for _, from := range parties {
			if from.Equal(p) {
				continue
			}
			require.NoError(t, sessions[p].StoreRound2(from, round2[from][p]))
		}
		require.True(t, sessions[p].Round2Ready())
	}

	shares := make(map[party.ID]*threshold.KeyShare, len(parties))
	for _, p := range parties {
		share, err := sessions[p].Finalize()
		require.NoError(t, err)
		shares[p] = share
	}
	return shares
}

// TestECDSAKeygenAndSignRecoversAValidSignature drives a 3-party,
// 2-of-3 ECDSA DKG followed by a full signing session, and checks the
// recovered (r, s) verifies against the group's public key using the
// standard decred secp256k1 verifier.
func TestECDSAKeygenAndSignRecoversAValidSignature(t *testing.T) {
	parties := testParties(t, 3)
	const degree = 1 // 2-of-3

	f, err := threshold.ScalarField(threshold.ECDSA)
	require.NoError(t, err)
	mapper := party.NewMapper(f, parties)
	sharer := shamir.NewSharer(f, mapper)

	shares := runECDSAKeygen(t, parties, degree, sharer)

	groupPubBytes := shares[parties[0]].PublicKey
	for _, p := range parties {
		require.Equal(t, groupPubBytes, shares[p].PublicKey)
	}
	groupPub, err := secp256k1.ParsePubKey(groupPubBytes)
	require.NoError(t, err)

	auxInfo, err := threshold.GenerateAuxInfoTrustedDealer(f, parties, degree, sharer, 1, rand.Reader)
	require.NoError(t, err)

	digest := make([]byte, 32)
	for i := range digest {
		digest[i] = byte(i + 1)
	}

	signers := make(map[party.ID]*threshold.ECDSASign, len(parties))
	for _, p := range parties {
		aux := auxInfo[p][0]
		signers[p] = threshold.NewECDSASign(shares[p], parties, digest, sharer, f, aux.ABTriple, aux.STriple)
	}

	r1 := make(map[party.ID]map[party.ID]threshold.ECDSASignRound1, len(parties))
	for _, p := range parties {
		msgs, err := signers[p].PrepareRound1(rand.Reader)
		require.NoError(t, err)
		r1[p] = msgs
	}
	for _, p := range parties {
		for _, from := range parties {
			if from.Equal(p) {
				continue
			}
			require.NoError(t, signers[p].StoreRound1(from, r1[from][p]))
		}
		require.True(t, signers[p].Round1Ready())
	}

	r2 := make(map[party.ID]mult.Message, len(parties))
	for _, p := range parties {
		msg, err := signers[p].PrepareRound2()
		require.NoError(t, err)
		r2[p] = msg
	}
	broadcast(t, parties, r2, func(self, from party.ID, msg mult.Message) error {
		return signers[self].StoreRound2(from, msg)
	})
	for _, p := range parties {
		require.True(t, signers[p].Round2Ready())
	}

	r3msg := make(map[party.ID]reveal.Message, len(parties))
	r3pt := make(map[party.ID]*secp256k1.PublicKey, len(parties))
	for _, p := range parties {
		msg, pt, err := signers[p].PrepareRound3()
		require.NoError(t, err)
		r3msg[p] = msg
		r3pt[p] = pt
	}
	for _, p := range parties {
		for _, from := range parties {
			if from.Equal(p) {
				continue
			}
			require.NoError(t, signers[p].StoreRound3(from, r3msg[from], r3pt[from]))
		}
		require.True(t, signers[p].Round3Ready())
	}

	r4 := make(map[party.ID]mult.Message, len(parties))
	for _, p := range parties {
		msg, err := signers[p].PrepareRound4()
		require.NoError(t, err)
		r4[p] = msg
	}
	broadcast(t, parties, r4, func(self, from party.ID, msg mult.Message) error {
		return signers[self].StoreRound4(from, msg)
	})
	for _, p := range parties {
		require.True(t, signers[p].Round4Ready())
	}

	r5 := make(map[party.ID]reveal.Message, len(parties))
	for _, p := range parties {
		msg, err := signers[p].PrepareRound5()
		require.NoError(t, err)
		r5[p] = msg
	}
	broadcast(t, parties, r5, func(self, from party.ID, msg reveal.Message) error {
		return signers[self].StoreRound5(from, msg)
	})
	for _, p := range parties {
		require.True(t, signers[p].Round5Ready())
	}

	for _, p := range parties {
		v, err := signers[p].Finalize()
		require.NoError(t, err)
		got, err := v.EcdsaSignature()
		require.NoError(t, err)

		rScalar := new(secp256k1.ModNScalar)
		rScalar.SetByteSlice(got.R.Bytes())
		sScalar := new(secp256k1.ModNScalar)
		sScalar.SetByteSlice(got.S.Bytes())
		sig := ecdsa.NewSignature(rScalar, sScalar)

		require.True(t, sig.Verify(digest, groupPub), "signature from %s failed to verify", p)
	}
}

// runEdDSAKeygen drives every party's EdDSAKeygen to completion and
// returns each party's resulting KeyShare.
func runEdDSAKeygen(t *testing.T, parties []party.ID, deg int, sharer *shamir.Sharer) map[party.ID]*threshold.KeyShare {
	t.Helper()
	scalarField, err := threshold.ScalarField(threshold.EdDSA)
	require.NoError(t, err)

	sessions := make(map[party.ID]*threshold.EdDSAKeygen, len(parties))
	for _, p := range parties {
		k, err := threshold.NewEdDSAKeygen(p, parties, deg, sharer, scalarField, []byte("eddsa-session-1"))
		require.NoError(t, err)
		sessions[p] = k
	}

	round1 := make(map[party.ID]threshold.EdDSAKeygenRound1, len(parties))
	for _, p := range parties {
		round1[p] = sessions[p].PrepareRound1()
	}
	for _, p := range parties {
		for _, from := range parties {
			if from.Equal(p) {
				continue
			}
			sessions[p].StoreRound1(from, round1[from])
		}
		require.True(t, sessions[p].Round1Ready())
	}

	round2 := make(map[party.ID]map[party.ID]threshold.EdDSAKeygenRound2, len(parties))
	for _, p := range parties {
		round2[p] = sessions[p].PrepareRound2()
	}
	for _, p := range parties {
		for _, from := range parties {
			if from.Equal(p) {
				continue
			}
			require.NoError(t, sessions[p].StoreRound2(from, round2[from][p]))
		}
		require.True(t, sessions[p].Round2Ready())
	}

	shares := make(map[party.ID]*threshold.KeyShare, len(parties))
	for _, p := range parties {
		share, err := sessions[p].Finalize()
		require.NoError(t, err)
		shares[p] = share
	}
	return shares
}

// TestEdDSAKeygenAndSignRecoversAValidSignature drives a 3-party,
// 2-of-3 EdDSA DKG followed by a full Schnorr signing session, and checks
// the recovered R||s signature verifies against the group's public key
// using filippo.io/edwards25519 directly.
func TestEdDSAKeygenAndSignRecoversAValidSignature(t *testing.T) {
	parties := testParties(t, 3)
	const degree = 1 // 2-of-3

	f, err := threshold.ScalarField(threshold.EdDSA)
	require.NoError(t, err)
	mapper := party.NewMapper(f, parties)
	sharer := shamir.NewSharer(f, mapper)

	shares := runEdDSAKeygen(t, parties, degree, sharer)

	groupPubBytes := shares[parties[0]].PublicKey
	for _, p := range parties {
		require.Equal(t, groupPubBytes, shares[p].PublicKey)
	}

	message := []byte("transfer 10 coren to bob")

	signers := make(map[party.ID]*threshold.EdDSASign, len(parties))
	for _, p := range parties {
		signers[p] = threshold.NewEdDSASign(shares[p], parties, message, sharer, f)
	}

	r1 := make(map[party.ID]threshold.EdDSASignRound1, len(parties))
	for _, p := range parties {
		msg, err := signers[p].PrepareRound1(rand.Reader)
		require.NoError(t, err)
		r1[p] = msg
	}
	broadcast(t, parties, r1, func(self, from party.ID, msg threshold.EdDSASignRound1) error {
		return signers[self].StoreRound1(from, msg)
	})
	for _, p := range parties {
		require.True(t, signers[p].Round1Ready())
	}

	r2 := make(map[party.ID]threshold.EdDSASignRound2, len(parties))
	for _, p := range parties {
		msg, err := signers[p].PrepareRound2()
		require.NoError(t, err)
		r2[p] = msg
	}
	broadcast(t, parties, r2, func(self, from party.ID, msg threshold.EdDSASignRound2) error {
		return signers[self].StoreRound2(from, msg)
	})
	for _, p := range parties {
		require.True(t, signers[p].Round2Ready())
	}

	groupPoint, err := new(edwards25519.Point).SetBytes(groupPubBytes)
	require.NoError(t, err)

	for _, p := range parties {
		v, err := signers[p].Finalize()
		require.NoError(t, err)
		sig, err := v.EddsaSignature()
		require.NoError(t, err)
		require.Len(t, sig, 64)
		require.True(t, verifySchnorr(t, groupPoint, message, sig), "signature from %s failed to verify", p)
	}
}

// verifySchnorr checks R == s*G - c*A the way RFC 8032 verification
// rearranges s*G = R + c*A, using the same SetUniformBytes challenge
// reduction the signer uses.
func verifySchnorr(t *testing.T, groupPoint *edwards25519.Point, message, sig []byte) bool {
	t.Helper()
	require.Len(t, sig, 64)
	rBytes := sig[:32]
	sBytes := sig[32:]

	h := sha512Sum(rBytes, groupPoint.Bytes(), message)
	c, err := edwards25519.NewScalar().SetUniformBytes(h)
	require.NoError(t, err)
	sScalar, err := edwards25519.NewScalar().SetCanonicalBytes(sBytes)
	require.NoError(t, err)

	sG := new(edwards25519.Point).ScalarBaseMult(sScalar)
	cA := new(edwards25519.Point).ScalarMult(c, groupPoint)
	rPoint, err := new(edwards25519.Point).SetBytes(rBytes)
	require.NoError(t, err)
	rPlusCA := new(edwards25519.Point).Add(rPoint, cA)

	return sG.Equal(rPlusCA) == 1
}

func sha512Sum(parts ...[]byte) []byte {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
