package types

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/notarynet/notary/crypto"
	"github.com/notarynet/notary/crypto/secp256k1"
)

// ChainID identifies the destination chain a proof is consumed by.
type ChainID uint8

const (
	ChainEthereum ChainID = 1
	ChainXrpl     ChainID = 2
)

func (c ChainID) String() string {
	switch c {
	case ChainEthereum:
		return "ethereum"
	case ChainXrpl:
		return "xrpl"
	default:
		return fmt.Sprintf("ChainID(%d)", uint8(c))
	}
}

// ProofKind is the closed set of request kinds. The kind selects the codec
// and with it the digest rule and submission format.
type ProofKind uint8

const (
	KindEthereumEvent ProofKind = iota + 1
	KindEthereumValidatorSetChange
	KindXrplTransaction
	KindXrplValidatorSetChange
)

// IsValid reports whether k is a member of the closed kind set.
func (k ProofKind) IsValid() bool {
	return k >= KindEthereumEvent && k <= KindXrplValidatorSetChange
}

// ChainID maps the kind to its destination chain.
func (k ProofKind) ChainID() ChainID {
	switch k {
	case KindEthereumEvent, KindEthereumValidatorSetChange:
		return ChainEthereum
	case KindXrplTransaction, KindXrplValidatorSetChange:
		return ChainXrpl
	default:
		return 0
	}
}

func (k ProofKind) String() string {
	switch k {
	case KindEthereumEvent:
		return "ethereum-event"
	case KindEthereumValidatorSetChange:
		return "ethereum-validator-set-change"
	case KindXrplTransaction:
		return "xrpl-transaction"
	case KindXrplValidatorSetChange:
		return "xrpl-validator-set-change"
	default:
		return fmt.Sprintf("ProofKind(%d)", uint8(k))
	}
}

// ProofStatus tracks the lifecycle of a request's collection state.
// Transitions are monotonic: a status never moves backward.
type ProofStatus uint8

const (
	ProofStatusPending ProofStatus = iota + 1
	ProofStatusCollecting
	ProofStatusComplete
	ProofStatusExpired
)

func (s ProofStatus) String() string {
	switch s {
	case ProofStatusPending:
		return "pending"
	case ProofStatusCollecting:
		return "collecting"
	case ProofStatusComplete:
		return "complete"
	case ProofStatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("ProofStatus(%d)", uint8(s))
	}
}

// ProofRequest asks the validator set to co-sign one digest. Requests are
// created by the runtime with a chain-monotonic id and are immutable.
type ProofRequest struct {
	ID        uint64    `json:"id"`
	Kind      ProofKind `json:"kind"`
	Payload   []byte    `json:"payload"`
	SetID     uint64    `json:"set_id"`
	NotBefore int64     `json:"not_before"` // earliest signing height
	TTL       int64     `json:"ttl"`        // blocks until expiry, from indexing

	// XRPL signer lists cap entries, so an XRPL proof may restrict signing
	// to a subset of the set's members with an explicit threshold.
	SignerSubset     []uint32 `json:"signer_subset,omitempty"`
	ThresholdPercent uint8    `json:"threshold_percent,omitempty"` // 0 = default supermajority
}

// ValidateBasic performs stateless validity checks.
func (r *ProofRequest) ValidateBasic() error {
	if r == nil {
		return errors.New("nil proof request")
	}
	if !r.Kind.IsValid() {
		return fmt.Errorf("unknown proof kind %d", r.Kind)
	}
	if len(r.Payload) == 0 {
		return errors.New("empty payload")
	}
	if r.TTL <= 0 {
		return errors.New("ttl must be positive")
	}
	if r.ThresholdPercent > 100 {
		return fmt.Errorf("threshold percent %d out of range", r.ThresholdPercent)
	}
	if len(r.SignerSubset) > 0 && r.Kind.ChainID() != ChainXrpl {
		return errors.New("signer subset is only valid for xrpl kinds")
	}
	for i := 1; i < len(r.SignerSubset); i++ {
		if r.SignerSubset[i] <= r.SignerSubset[i-1] {
			return errors.New("signer subset must be strictly ascending")
		}
	}
	return nil
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (r *ProofRequest) MarshalZerologObject(e *zerolog.Event) {
	e.Uint64("proof_id", r.ID)
	e.Str("kind", r.Kind.String())
	e.Uint64("set_id", r.SetID)
	e.Int64("not_before", r.NotBefore)
	e.Int64("ttl", r.TTL)
}

// Witness is one validator's signature over a request's digest. For
// Ethereum kinds the digest is shared by all signers; for XRPL kinds each
// signer's digest folds in its own account, so the digest travels with the
// witness.
type Witness struct {
	ProofID        uint64
	Kind           ProofKind
	SetID          uint64
	ValidatorIndex uint32
	Digest         []byte
	Signature      []byte
}

// ValidateBasic performs stateless validity checks.
func (w *Witness) ValidateBasic() error {
	if w == nil {
		return errors.New("nil witness")
	}
	if !w.Kind.IsValid() {
		return fmt.Errorf("unknown proof kind %d", w.Kind)
	}
	if len(w.Digest) != crypto.HashSize {
		return fmt.Errorf("digest must be %d bytes, got %d", crypto.HashSize, len(w.Digest))
	}
	if len(w.Signature) != secp256k1.SignatureSize {
		return fmt.Errorf("signature must be %d bytes, got %d", secp256k1.SignatureSize, len(w.Signature))
	}
	return nil
}

// Verify checks the signature against the carried digest and the bridge key
// at the witness's index in view. It does not check the digest itself
// matches the request; that needs the indexed request and is the
// aggregator's job.
func (w *Witness) Verify(view *ValidatorSetView) error {
	if err := w.ValidateBasic(); err != nil {
		return err
	}
	m, ok := view.Member(w.ValidatorIndex)
	if !ok {
		return fmt.Errorf("validator index %d outside set %d", w.ValidatorIndex, view.SetID)
	}
	if !m.BridgePubKey.VerifyDigest(w.Digest, w.Signature) {
		return errors.New("signature does not verify against the witness digest")
	}
	return nil
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (w *Witness) MarshalZerologObject(e *zerolog.Event) {
	e.Uint64("proof_id", w.ProofID)
	e.Str("kind", w.Kind.String())
	e.Uint64("set_id", w.SetID)
	e.Uint32("validator_index", w.ValidatorIndex)
}

// ProofSignature pairs a counted signature with the index of the validator
// that produced it within the set the proof was collected under.
type ProofSignature struct {
	ValidatorIndex uint32
	Signature      []byte
}

// FinalizedProof is the frozen, quorum-backed signature bundle for one
// request. It is immutable once produced and byte-identical across honest
// nodes: signatures are ordered by ascending validator index and the
// encoded payload is a pure function of the frozen set.
type FinalizedProof struct {
	ProofID        uint64
	Kind           ProofKind
	SetID          uint64
	Digest         []byte
	Signatures     []ProofSignature
	EncodedPayload []byte
}

// ValidateBasic performs stateless validity checks, including the canonical
// ordering invariant.
func (p *FinalizedProof) ValidateBasic() error {
	if p == nil {
		return errors.New("nil finalized proof")
	}
	if !p.Kind.IsValid() {
		return fmt.Errorf("unknown proof kind %d", p.Kind)
	}
	if len(p.Digest) != crypto.HashSize {
		return fmt.Errorf("digest must be %d bytes, got %d", crypto.HashSize, len(p.Digest))
	}
	if len(p.Signatures) == 0 {
		return errors.New("no signatures")
	}
	for i, sig := range p.Signatures {
		if len(sig.Signature) != secp256k1.SignatureSize {
			return fmt.Errorf("signature %d has %d bytes", i, len(sig.Signature))
		}
		if i > 0 && sig.ValidatorIndex <= p.Signatures[i-1].ValidatorIndex {
			return errors.New("signatures not in ascending validator order")
		}
	}
	return nil
}

// SignatureByIndex returns the counted signature of one validator, if any.
func (p *FinalizedProof) SignatureByIndex(index uint32) ([]byte, bool) {
	i := sort.Search(len(p.Signatures), func(i int) bool {
		return p.Signatures[i].ValidatorIndex >= index
	})
	if i < len(p.Signatures) && p.Signatures[i].ValidatorIndex == index {
		return p.Signatures[i].Signature, true
	}
	return nil, false
}

// ExpandedSignatures lays the counted signatures out over n validator
// slots, zero-filling the slots of validators that did not contribute.
// External verifiers walk signatures positionally, so the expansion keeps
// slot i aligned with validator i of the set.
func (p *FinalizedProof) ExpandedSignatures(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = make([]byte, secp256k1.SignatureSize)
	}
	for _, sig := range p.Signatures {
		if int(sig.ValidatorIndex) < n {
			out[sig.ValidatorIndex] = sig.Signature
		}
	}
	return out
}

// Equal reports deep equality of two finalized proofs.
func (p *FinalizedProof) Equal(other *FinalizedProof) bool {
	if p == nil || other == nil {
		return p == other
	}
	if p.ProofID != other.ProofID || p.Kind != other.Kind || p.SetID != other.SetID {
		return false
	}
	if !bytes.Equal(p.Digest, other.Digest) || !bytes.Equal(p.EncodedPayload, other.EncodedPayload) {
		return false
	}
	if len(p.Signatures) != len(other.Signatures) {
		return false
	}
	for i := range p.Signatures {
		if p.Signatures[i].ValidatorIndex != other.Signatures[i].ValidatorIndex {
			return false
		}
		if !bytes.Equal(p.Signatures[i].Signature, other.Signatures[i].Signature) {
			return false
		}
	}
	return true
}

// ProofState is a point-in-time view of collection progress for one proof,
// served over RPC and carried on expiry events. The aggregator owns the
// authoritative record.
type ProofState struct {
	ProofID       uint64      `json:"proof_id"`
	Kind          ProofKind   `json:"kind"`
	SetID         uint64      `json:"set_id"`
	Status        ProofStatus `json:"status"`
	WitnessCount  int         `json:"witness_count"`
	WitnessWeight int64       `json:"witness_weight"`
	QuorumWeight  int64       `json:"quorum_weight"`
	Result        *FinalizedProof
}
