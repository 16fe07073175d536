package types

import "errors"

// Events published on the node's event bus. The runtime hook and RPC
// subscribers consume these.

// EventProofFinalized fires exactly once per proof id, when quorum is
// first reached and the result is frozen.
type EventProofFinalized struct {
	Proof *FinalizedProof
}

// EventProofExpired fires when a request's ttl elapses below quorum.
type EventProofExpired struct {
	ProofID       uint64
	Kind          ProofKind
	WitnessWeight int64
	QuorumWeight  int64
}

// EventProofFailed fires when a request is dropped for a per-request fault,
// such as a payload its codec cannot digest.
type EventProofFailed struct {
	ProofID uint64
	Kind    ProofKind
	Reason  string
}

// EventEquivocation fires exactly once per (proof id, validator) pair that
// produced two differing signatures.
type EventEquivocation struct {
	Evidence *EquivocationEvidence
}

// EventClaimResolved fires when a claim reaches a terminal outcome.
// Dissenters lists validators whose vote disagreed with an accepted hash.
type EventClaimResolved struct {
	ClaimID     uint64
	Outcome     ClaimOutcome
	Dissenters  []uint32
	VoteWeights map[string]int64 // observed hash (string-keyed) -> weight, for audit
}

// EquivocationEvidence records a validator signing two different
// signatures for one proof id. The first-seen signature is the one counted
// toward quorum; the second is retained for the slashing decision, which is
// external to this subsystem.
type EquivocationEvidence struct {
	ProofID         uint64
	Kind            ProofKind
	SetID           uint64
	ValidatorIndex  uint32
	Digest          []byte
	FirstSignature  []byte
	SecondSignature []byte
}

// ValidateBasic performs stateless validity checks.
func (e *EquivocationEvidence) ValidateBasic() error {
	if e == nil {
		return errors.New("nil evidence")
	}
	if !e.Kind.IsValid() {
		return errors.New("unknown proof kind")
	}
	if len(e.FirstSignature) == 0 || len(e.SecondSignature) == 0 {
		return errors.New("evidence requires both signatures")
	}
	return nil
}
