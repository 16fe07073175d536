package codec

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/notarynet/notary/crypto"
	"github.com/notarynet/notary/crypto/secp256k1"
	"github.com/notarynet/notary/types"
)

// XRPL binary-format field headers: (type<<4 | field code), with a second
// byte when the field code exceeds 15. Names follow the XRPL serialization
// format's field names. xrplMultiSignPrefix is the "SMT\0" hash prefix mixed
// into every multi-signing digest.
var (
	xrplMultiSignPrefix = []byte{0x53, 0x4D, 0x54, 0x00}

	xrplFieldTxnType       = []byte{0x12}       // UInt16 TransactionType
	xrplFieldFlags         = []byte{0x22}       // UInt32 Flags
	xrplFieldSignerQuorum  = []byte{0x20, 0x23} // UInt32 SignerQuorum
	xrplFieldSigningPubKey = []byte{0x73}       // Blob SigningPubKey
	xrplFieldTxnSignature  = []byte{0x74}       // Blob TxnSignature
	xrplFieldAccount       = []byte{0x81, 0x14} // AccountID, 20 bytes
	xrplFieldSignerWeight  = []byte{0x13}       // UInt16 SignerWeight
	xrplFieldSignerEntries = []byte{0xF4}       // STArray SignerEntries
	xrplFieldSigners       = []byte{0xF3}       // STArray Signers
	xrplFieldSignerEntry   = []byte{0xEB}       // STObject SignerEntry
	xrplFieldSigner        = []byte{0xE0, 0x10} // STObject Signer
	xrplObjectEnd          = []byte{0xE1}
	xrplArrayEnd           = []byte{0xF1}

	xrplTxnSignerListSet  = []byte{0x00, 0x0C}
	xrplFlagsCanonicalSig = []byte{0x80, 0x00, 0x00, 0x00}
)

// Xrpl encodes proofs for XRPL door accounts. XRPL multi-signing folds each
// signer's account into the signed bytes, so digests are unique per
// validator and verification must use the digest a witness carries.
type Xrpl struct{}

var _ Codec = Xrpl{}

// Digest hashes the request for one signer: the first 32 bytes of
// sha512(SMT-prefix || payload || signer account id).
func (Xrpl) Digest(req *types.ProofRequest, signer secp256k1.PubKey) ([]byte, error) {
	if len(req.Payload) == 0 {
		return nil, &Error{Kind: req.Kind, Op: "digest", Err: errors.New("empty payload")}
	}
	if len(signer) != secp256k1.PubKeySize {
		return nil, &Error{Kind: req.Kind, Op: "digest", Err: errors.New("signer key required for xrpl digest")}
	}
	return crypto.Sha512Half(xrplMultiSignPrefix, req.Payload, signer.XrplAccountID()), nil
}

// RequestDigest anchors the request without a signer: the prefixed payload
// hash every per-signer digest extends.
func (Xrpl) RequestDigest(req *types.ProofRequest) ([]byte, error) {
	if len(req.Payload) == 0 {
		return nil, &Error{Kind: req.Kind, Op: "digest", Err: errors.New("empty payload")}
	}
	return crypto.Sha512Half(xrplMultiSignPrefix, req.Payload), nil
}

// EncodeForSubmission appends the Signers array to the signed payload. Each
// entry carries the signer's compressed key, a DER low-S signature, and the
// signer's account id; entries are sorted by account id ascending as XRPL
// requires.
func (Xrpl) EncodeForSubmission(proof *types.FinalizedProof, view *types.ValidatorSetView) ([]byte, error) {
	if err := proof.ValidateBasic(); err != nil {
		return nil, &Error{Kind: proof.Kind, Op: "encode", Err: err}
	}
	if view == nil || view.SetID != proof.SetID {
		return nil, &Error{Kind: proof.Kind, Op: "encode", Err: errors.New("view does not match proof set id")}
	}
	if len(proof.EncodedPayload) == 0 {
		return nil, &Error{Kind: proof.Kind, Op: "encode", Err: errors.New("empty payload")}
	}

	type signerEntry struct {
		account []byte
		pubKey  secp256k1.PubKey
		der     []byte
	}
	entries := make([]signerEntry, 0, len(proof.Signatures))
	for _, ps := range proof.Signatures {
		m, ok := view.Member(ps.ValidatorIndex)
		if !ok {
			return nil, &Error{
				Kind: proof.Kind,
				Op:   "encode",
				Err:  fmt.Errorf("validator index %d outside set %d", ps.ValidatorIndex, view.SetID),
			}
		}
		der, err := secp256k1.SigToDER(ps.Signature)
		if err != nil {
			return nil, &Error{Kind: proof.Kind, Op: "encode", Err: err}
		}
		entries = append(entries, signerEntry{
			account: m.BridgePubKey.XrplAccountID(),
			pubKey:  m.BridgePubKey,
			der:     der,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].account, entries[j].account) < 0
	})

	out := make([]byte, 0, len(proof.EncodedPayload)+len(entries)*128)
	out = append(out, proof.EncodedPayload...)
	out = append(out, xrplFieldSigners...)
	for _, e := range entries {
		out = append(out, xrplFieldSigner...)
		out = append(out, xrplFieldSigningPubKey...)
		out = appendXrplBlob(out, e.pubKey)
		out = append(out, xrplFieldTxnSignature...)
		out = appendXrplBlob(out, e.der)
		out = append(out, xrplFieldAccount...)
		out = append(out, e.account...)
		out = append(out, xrplObjectEnd...)
	}
	out = append(out, xrplArrayEnd...)
	return out, nil
}

// SetChangePayload serializes a SignerListSet transaction skeleton in
// signing order: transaction type, canonical-signature flag, quorum, empty
// signing key, and the new signer entries sorted by account id. The door
// account, sequence, and fee are filled in by the submitting relayer.
func (Xrpl) SetChangePayload(next *types.ValidatorSetView) ([]byte, error) {
	if err := next.ValidateBasic(); err != nil {
		return nil, &Error{Kind: types.KindXrplValidatorSetChange, Op: "set change", Err: err}
	}
	quorum := next.QuorumWeight()
	if quorum > math.MaxUint32 {
		return nil, &Error{
			Kind: types.KindXrplValidatorSetChange,
			Op:   "set change",
			Err:  fmt.Errorf("quorum weight %d exceeds uint32", quorum),
		}
	}

	type listEntry struct {
		account []byte
		weight  int64
	}
	entries := make([]listEntry, 0, next.Size())
	for i, m := range next.Members {
		if m.Weight > math.MaxUint16 {
			return nil, &Error{
				Kind: types.KindXrplValidatorSetChange,
				Op:   "set change",
				Err:  fmt.Errorf("member %d weight %d exceeds uint16", i, m.Weight),
			}
		}
		entries = append(entries, listEntry{account: m.BridgePubKey.XrplAccountID(), weight: m.Weight})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].account, entries[j].account) < 0
	})

	out := make([]byte, 0, 16+len(entries)*32)
	out = append(out, xrplFieldTxnType...)
	out = append(out, xrplTxnSignerListSet...)
	out = append(out, xrplFieldFlags...)
	out = append(out, xrplFlagsCanonicalSig...)
	out = append(out, xrplFieldSignerQuorum...)
	out = append(out, byte(quorum>>24), byte(quorum>>16), byte(quorum>>8), byte(quorum))
	out = append(out, xrplFieldSigningPubKey...)
	out = append(out, 0x00) // empty: multi-signed
	out = append(out, xrplFieldSignerEntries...)
	for _, e := range entries {
		out = append(out, xrplFieldSignerEntry...)
		out = append(out, xrplFieldSignerWeight...)
		out = append(out, byte(e.weight>>8), byte(e.weight))
		out = append(out, xrplFieldAccount...)
		out = append(out, e.account...)
		out = append(out, xrplObjectEnd...)
	}
	out = append(out, xrplArrayEnd...)
	return out, nil
}

// appendXrplBlob writes a variable-length blob field. Every blob this codec
// emits (compressed keys, DER signatures) fits the single-byte length form.
func appendXrplBlob(dst, blob []byte) []byte {
	if len(blob) > 192 {
		// unreachable for the fixed-size inputs above
		panic(fmt.Sprintf("xrpl blob too long: %d", len(blob)))
	}
	dst = append(dst, byte(len(blob)))
	return append(dst, blob...)
}
