package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/sha3"

	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/party"
	"github.com/nilmpc/coren/pkg/shamir"
	"github.com/nilmpc/coren/protocols/mult"
	"github.com/nilmpc/coren/protocols/reveal"
	"github.com/nilmpc/coren/protocols/threshold"
)

var (
	thresholdScheme string
	thresholdKeyDir string
	signMessage     string
	signDigestHex   string
)

var keygenThresholdCmd = &cobra.Command{
	Use:   "keygen-threshold",
	Short: "Run distributed key generation for threshold ECDSA or EdDSA across a local simulated cluster",
	RunE:  runKeygenThreshold,
}

var signThresholdCmd = &cobra.Command{
	Use:   "sign-threshold",
	Short: "Sign a message with a threshold key generated by keygen-threshold",
	RunE:  runSignThreshold,
}

func init() {
	for _, cmd := range []*cobra.Command{keygenThresholdCmd, signThresholdCmd} {
		cmd.Flags().StringVar(&thresholdScheme, "scheme", "ecdsa", "signature scheme: ecdsa or eddsa")
		cmd.Flags().StringVar(&thresholdKeyDir, "keys-dir", "./coren-keys", "directory holding per-party key share files")
	}
	signThresholdCmd.Flags().StringVar(&signMessage, "message", "", "message to sign (EdDSA signs the message directly; ECDSA signs its keccak256 digest)")
	signThresholdCmd.Flags().StringVar(&signDigestHex, "digest", "", "hex-encoded 32-byte digest to sign (ECDSA only; overrides --message)")
}

func parseScheme(name string) (threshold.Scheme, error) {
	switch name {
	case "ecdsa", "":
		return threshold.ECDSA, nil
	case "eddsa":
		return threshold.EdDSA, nil
	default:
		return 0, fmt.Errorf("unknown --scheme %q (want ecdsa or eddsa)", name)
	}
}

// keyShareFile is the on-disk, hex-encoded form of threshold.KeyShare: every
// field of KeyShare is either a fixed-size integer or an opaque byte
// string, so a flat hex-per-field JSON document round-trips it exactly.
type keyShareFile struct {
	Scheme       string   `json:"scheme"`
	Threshold    int      `json:"threshold"`
	Self         string   `json:"self"`
	Parties      []string `json:"parties"`
	PrivateShare string   `json:"private_share"`
	PublicKey    string   `json:"public_key"`
}

func encodeKeyShare(share *threshold.KeyShare) keyShareFile {
	parties := make([]string, len(share.Parties))
	for i, p := range share.Parties {
		parties[i] = hex.EncodeToString(p.Bytes())
	}
	return keyShareFile{
		Scheme:       share.Scheme.String(),
		Threshold:    share.Threshold,
		Self:         hex.EncodeToString(share.Self.Bytes()),
		Parties:      parties,
		PrivateShare: hex.EncodeToString(share.PrivateShare.Bytes()),
		PublicKey:    hex.EncodeToString(share.PublicKey),
	}
}

func decodeKeyShare(file keyShareFile, f *field.SafePrime) (*threshold.KeyShare, error) {
	var scheme threshold.Scheme
	switch file.Scheme {
	case "ECDSA":
		scheme = threshold.ECDSA
	case "EdDSA":
		scheme = threshold.EdDSA
	default:
		return nil, fmt.Errorf("unknown key share scheme %q", file.Scheme)
	}
	selfRaw, err := hex.DecodeString(file.Self)
	if err != nil {
		return nil, fmt.Errorf("decoding self id: %w", err)
	}
	parties := make([]party.ID, len(file.Parties))
	for i, p := range file.Parties {
		raw, err := hex.DecodeString(p)
		if err != nil {
			return nil, fmt.Errorf("decoding party id %d: %w", i, err)
		}
		parties[i] = party.New(raw)
	}
	shareRaw, err := hex.DecodeString(file.PrivateShare)
	if err != nil {
		return nil, fmt.Errorf("decoding private share: %w", err)
	}
	privateShare, err := f.Decode(shareRaw)
	if err != nil {
		return nil, fmt.Errorf("decoding private share: %w", err)
	}
	pub, err := hex.DecodeString(file.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}
	return &threshold.KeyShare{
		Scheme:       scheme,
		Threshold:    file.Threshold,
		Self:         party.New(selfRaw),
		Parties:      parties,
		PrivateShare: privateShare,
		PublicKey:    pub,
	}, nil
}

func runKeygenThreshold(cmd *cobra.Command, args []string) error {
	scheme, err := parseScheme(thresholdScheme)
	if err != nil {
		return err
	}
	f, err := threshold.ScalarField(scheme)
	if err != nil {
		return err
	}
	cluster := newLocalCluster(f, networkSize)
	sharer := shamir.NewSharer(f, cluster.mapper)
	sessionID, err := uuid.New().MarshalBinary()
	if err != nil {
		return fmt.Errorf("generating session id: %w", err)
	}

	shares, err := runKeygen(scheme, cluster.parties, degree, sharer, f, sessionID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(thresholdKeyDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", thresholdKeyDir, err)
	}
	out := cmd.OutOrStdout()
	for _, p := range cluster.parties {
		file := encodeKeyShare(shares[p])
		data, err := json.MarshalIndent(file, "", "  ")
		if err != nil {
			return err
		}
		path := filepath.Join(thresholdKeyDir, p.String()+".json")
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Fprintf(out, "wrote %s\n", path)
	}
	fmt.Fprintf(out, "group public key: %x\n", shares[cluster.parties[0]].PublicKey)
	return nil
}

// runKeygen drives either ECDSAKeygen or EdDSAKeygen for every party to
// completion in-process, returning each party's finalized KeyShare. Each
// party's own round-1 broadcast is self-stored by PrepareRound1 already,
// so only messages from every OTHER party are fed to StoreRound1/2.
func runKeygen(scheme threshold.Scheme, parties []party.ID, deg int, sharer *shamir.Sharer, f *field.SafePrime, sessionID []byte) (map[party.ID]*threshold.KeyShare, error) {
	if scheme == threshold.EdDSA {
		sessions := make(map[party.ID]*threshold.EdDSAKeygen, len(parties))
		for _, p := range parties {
			k, err := threshold.NewEdDSAKeygen(p, parties, deg, sharer, f, sessionID)
			if err != nil {
				return nil, err
			}
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
				if err := sessions[p].StoreRound2(from, round2[from][p]); err != nil {
					return nil, fmt.Errorf("party %s: %w", p, err)
				}
			}
		}
		out := make(map[party.ID]*threshold.KeyShare, len(parties))
		for _, p := range parties {
			share, err := sessions[p].Finalize()
			if err != nil {
				return nil, fmt.Errorf("party %s: %w", p, err)
			}
			out[p] = share
		}
		return out, nil
	}

	sessions := make(map[party.ID]*threshold.ECDSAKeygen, len(parties))
	for _, p := range parties {
		k, err := threshold.NewECDSAKeygen(p, parties, deg, sharer, f, sessionID)
		if err != nil {
			return nil, err
		}
		sessions[p] = k
	}
	round1 := make(map[party.ID]threshold.ECDSAKeygenRound1, len(parties))
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
			if err := sessions[p].StoreRound2(from, round2[from][p]); err != nil {
				return nil, fmt.Errorf("party %s: %w", p, err)
			}
		}
	}
	out := make(map[party.ID]*threshold.KeyShare, len(parties))
	for _, p := range parties {
		share, err := sessions[p].Finalize()
		if err != nil {
			return nil, fmt.Errorf("party %s: %w", p, err)
		}
		out[p] = share
	}
	return out, nil
}

func loadKeyShares(dir string, f *field.SafePrime) (map[party.ID]*threshold.KeyShare, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	out := map[party.ID]*threshold.KeyShare{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var file keyShareFile
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", entry.Name(), err)
		}
		share, err := decodeKeyShare(file, f)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", entry.Name(), err)
		}
		out[share.Self] = share
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no key shares found under %s (run keygen-threshold first)", dir)
	}
	return out, nil
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

func runSignThreshold(cmd *cobra.Command, args []string) error {
	scheme, err := parseScheme(thresholdScheme)
	if err != nil {
		return err
	}
	f, err := threshold.ScalarField(scheme)
	if err != nil {
		return err
	}
	shares, err := loadKeyShares(thresholdKeyDir, f)
	if err != nil {
		return err
	}

	var anyShare *threshold.KeyShare
	for _, s := range shares {
		anyShare = s
		break
	}
	signers := anyShare.Parties
	sharer := shamir.NewSharer(f, party.NewMapper(f, signers))

	out := cmd.OutOrStdout()
	if scheme == threshold.EdDSA {
		if signMessage == "" {
			return fmt.Errorf("--message is required for eddsa")
		}
		sig, err := runEdDSASign(shares, signers, []byte(signMessage), sharer, f)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "signature: %x\n", sig)
		return nil
	}

	var digest []byte
	switch {
	case signDigestHex != "":
		digest, err = hex.DecodeString(signDigestHex)
		if err != nil {
			return fmt.Errorf("decoding --digest: %w", err)
		}
	case signMessage != "":
		digest = keccak256([]byte(signMessage))
	default:
		return fmt.Errorf("one of --message or --digest is required for ecdsa")
	}

	r, s, err := runECDSASign(shares, signers, digest, sharer, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "r: %x\n", r)
	fmt.Fprintf(out, "s: %x\n", s)

	groupPub, err := secp256k1.ParsePubKey(anyShare.PublicKey)
	if err != nil {
		return fmt.Errorf("parsing group public key: %w", err)
	}
	var rScalar, sScalar secp256k1.ModNScalar
	rScalar.SetByteSlice(r)
	sScalar.SetByteSlice(s)
	verified := ecdsa.NewSignature(&rScalar, &sScalar).Verify(digest, groupPub)
	fmt.Fprintf(out, "verified: %t\n", verified)
	return nil
}

// runECDSASign generates one trusted-dealer auxiliary batch and drives all
// signers' ECDSASign sessions through all five rounds in-process,
// returning the (r, s) reconstructed by the first signer (every signer's
// Finalize agrees, since they all reveal the same s).
func runECDSASign(shares map[party.ID]*threshold.KeyShare, signers []party.ID, digest []byte, sharer *shamir.Sharer, f *field.SafePrime) ([]byte, []byte, error) {
	aux, err := threshold.GenerateAuxInfoTrustedDealer(f, signers, shares[signers[0]].Threshold, sharer, 1, rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	sessions := make(map[party.ID]*threshold.ECDSASign, len(signers))
	for _, p := range signers {
		a := aux[p][0]
		sessions[p] = threshold.NewECDSASign(shares[p], signers, digest, sharer, f, a.ABTriple, a.STriple)
	}

	// Round 1: per-recipient Shamir shares of nonce and blinding.
	round1 := make(map[party.ID]map[party.ID]threshold.ECDSASignRound1, len(signers))
	for _, p := range signers {
		msgs, err := sessions[p].PrepareRound1(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		round1[p] = msgs
	}
	for _, p := range signers {
		for _, from := range signers {
			if from.Equal(p) {
				continue
			}
			if err := sessions[p].StoreRound1(from, round1[from][p]); err != nil {
				return nil, nil, err
			}
		}
	}

	// Round 2: k*b masked-operand broadcast.
	round2 := make(map[party.ID]mult.Message, len(signers))
	for _, p := range signers {
		msg, err := sessions[p].PrepareRound2()
		if err != nil {
			return nil, nil, err
		}
		round2[p] = msg
	}
	for _, p := range signers {
		for _, from := range signers {
			if from.Equal(p) {
				continue
			}
			if err := sessions[p].StoreRound2(from, round2[from]); err != nil {
				return nil, nil, err
			}
		}
	}

	// Round 3: reveal of k*b, plus each signer's weighted partial R.
	round3 := make(map[party.ID]reveal.Message, len(signers))
	round3R := make(map[party.ID]*secp256k1.PublicKey, len(signers))
	for _, p := range signers {
		msg, partialR, err := sessions[p].PrepareRound3()
		if err != nil {
			return nil, nil, err
		}
		round3[p] = msg
		round3R[p] = partialR
	}
	for _, p := range signers {
		for _, from := range signers {
			if from.Equal(p) {
				continue
			}
			if err := sessions[p].StoreRound3(from, round3[from], round3R[from]); err != nil {
				return nil, nil, err
			}
		}
	}

	// Round 4: final s-masking multiplication.
	round4 := make(map[party.ID]mult.Message, len(signers))
	for _, p := range signers {
		msg, err := sessions[p].PrepareRound4()
		if err != nil {
			return nil, nil, err
		}
		round4[p] = msg
	}
	for _, p := range signers {
		for _, from := range signers {
			if from.Equal(p) {
				continue
			}
			if err := sessions[p].StoreRound4(from, round4[from]); err != nil {
				return nil, nil, err
			}
		}
	}

	// Round 5: reveal of s.
	round5 := make(map[party.ID]reveal.Message, len(signers))
	for _, p := range signers {
		msg, err := sessions[p].PrepareRound5()
		if err != nil {
			return nil, nil, err
		}
		round5[p] = msg
	}
	for _, p := range signers {
		for _, from := range signers {
			if from.Equal(p) {
				continue
			}
			if err := sessions[p].StoreRound5(from, round5[from]); err != nil {
				return nil, nil, err
			}
		}
	}

	sig, err := sessions[signers[0]].Finalize()
	if err != nil {
		return nil, nil, err
	}
	ecdsaSig, err := sig.EcdsaSignature()
	if err != nil {
		return nil, nil, err
	}
	return ecdsaSig.R.Bytes(), ecdsaSig.S.Bytes(), nil
}

// runEdDSASign drives all signers' EdDSASign sessions through both rounds
// in-process, returning the 64-byte R||s signature.
func runEdDSASign(shares map[party.ID]*threshold.KeyShare, signers []party.ID, message []byte, sharer *shamir.Sharer, f *field.SafePrime) ([]byte, error) {
	sessions := make(map[party.ID]*threshold.EdDSASign, len(signers))
	for _, p := range signers {
		sessions[p] = threshold.NewEdDSASign(shares[p], signers, message, sharer, f)
	}

	round1 := make(map[party.ID]threshold.EdDSASignRound1, len(signers))
	for _, p := range signers {
		msg, err := sessions[p].PrepareRound1(rand.Reader)
		if err != nil {
			return nil, err
		}
		round1[p] = msg
	}
	for _, p := range signers {
		for _, from := range signers {
			if from.Equal(p) {
				continue
			}
			if err := sessions[p].StoreRound1(from, round1[from]); err != nil {
				return nil, err
			}
		}
	}

	round2 := make(map[party.ID]threshold.EdDSASignRound2, len(signers))
	for _, p := range signers {
		msg, err := sessions[p].PrepareRound2()
		if err != nil {
			return nil, err
		}
		round2[p] = msg
	}
	for _, p := range signers {
		for _, from := range signers {
			if from.Equal(p) {
				continue
			}
			if err := sessions[p].StoreRound2(from, round2[from]); err != nil {
				return nil, err
			}
		}
	}

	sig, err := sessions[signers[0]].Finalize()
	if err != nil {
		return nil, err
	}
	return sig.EddsaSignature()
}
