package types

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/notarynet/notary/crypto"
	"github.com/notarynet/notary/crypto/secp256k1"
)

// ClaimStatus tracks the lifecycle of an inbound claim.
type ClaimStatus uint8

const (
	ClaimStatusPending ClaimStatus = iota + 1
	ClaimStatusAccepted
	ClaimStatusRejected
)

func (s ClaimStatus) String() string {
	switch s {
	case ClaimStatusPending:
		return "pending"
	case ClaimStatusAccepted:
		return "accepted"
	case ClaimStatusRejected:
		return "rejected"
	default:
		return fmt.Sprintf("ClaimStatus(%d)", uint8(s))
	}
}

// ClaimQuery selects what each validator must independently observe on the
// target chain. The set of queries is closed: TxExists or ReturnDataAt.
type ClaimQuery interface {
	ValidateBasic() error
	claimQuery()
}

// TxExists asks whether a transaction exists on the target chain and its
// receipt logs match LogFilter. An empty filter accepts any logs.
type TxExists struct {
	TxHash    []byte `json:"tx_hash"`
	LogFilter []byte `json:"log_filter,omitempty"`
}

func (q *TxExists) claimQuery() {}

// ValidateBasic performs stateless validity checks.
func (q *TxExists) ValidateBasic() error {
	if len(q.TxHash) != crypto.HashSize {
		return fmt.Errorf("tx hash must be %d bytes, got %d", crypto.HashSize, len(q.TxHash))
	}
	return nil
}

// ReturnDataAt asks for the return data of a contract call executed against
// the target chain's state at a specific finalized block.
type ReturnDataAt struct {
	Contract []byte `json:"contract"`
	CallData []byte `json:"call_data"`
	Block    uint64 `json:"block"`
}

func (q *ReturnDataAt) claimQuery() {}

// ValidateBasic performs stateless validity checks.
func (q *ReturnDataAt) ValidateBasic() error {
	if len(q.Contract) == 0 {
		return errors.New("empty contract address")
	}
	if len(q.CallData) == 0 {
		return errors.New("empty call data")
	}
	return nil
}

// InboundClaim asks the validator set to corroborate an externally
// observed fact. Validators vote with the hash of what they observed; the
// claim is accepted when one identical hash reaches quorum weight.
type InboundClaim struct {
	ClaimID     uint64     `json:"claim_id"`
	TargetChain ChainID    `json:"target_chain"`
	Query       ClaimQuery `json:"-"`
	SetID       uint64     `json:"set_id"`
	TTL         int64      `json:"ttl"` // blocks until expiry, from indexing
}

// ValidateBasic performs stateless validity checks.
func (c *InboundClaim) ValidateBasic() error {
	if c == nil {
		return errors.New("nil claim")
	}
	if c.TargetChain != ChainEthereum && c.TargetChain != ChainXrpl {
		return fmt.Errorf("unknown target chain %d", c.TargetChain)
	}
	if c.Query == nil {
		return errors.New("nil query")
	}
	if c.TTL <= 0 {
		return errors.New("ttl must be positive")
	}
	return c.Query.ValidateBasic()
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (c *InboundClaim) MarshalZerologObject(e *zerolog.Event) {
	e.Uint64("claim_id", c.ClaimID)
	e.Str("target_chain", c.TargetChain.String())
	e.Uint64("set_id", c.SetID)
}

// Vote is one validator's observation for a claim: the hash of the value it
// saw, signed with its bridge key so peers can authenticate the vote.
type Vote struct {
	ClaimID        uint64
	SetID          uint64
	ValidatorIndex uint32
	ObservedHash   []byte
	Signature      []byte
}

// ValidateBasic performs stateless validity checks.
func (v *Vote) ValidateBasic() error {
	if v == nil {
		return errors.New("nil vote")
	}
	if len(v.ObservedHash) != crypto.HashSize {
		return fmt.Errorf("observed hash must be %d bytes, got %d",
			crypto.HashSize, len(v.ObservedHash))
	}
	if len(v.Signature) != secp256k1.SignatureSize {
		return fmt.Errorf("signature must be %d bytes, got %d",
			secp256k1.SignatureSize, len(v.Signature))
	}
	return nil
}

// SigningDigest is the digest a validator signs over its vote.
func (v *Vote) SigningDigest() []byte {
	return VoteSigningDigest(v.ClaimID, v.SetID, v.ValidatorIndex, v.ObservedHash)
}

// Verify checks the vote signature against the bridge key at the vote's
// index in view.
func (v *Vote) Verify(view *ValidatorSetView) error {
	if err := v.ValidateBasic(); err != nil {
		return err
	}
	m, ok := view.Member(v.ValidatorIndex)
	if !ok {
		return fmt.Errorf("validator index %d outside set %d", v.ValidatorIndex, view.SetID)
	}
	if !m.BridgePubKey.VerifyDigest(v.SigningDigest(), v.Signature) {
		return errors.New("signature does not verify against the vote digest")
	}
	return nil
}

// VoteSigningDigest builds the canonical vote digest:
// sha256(claim_id || set_id || validator_index || observed_hash), integers
// big-endian.
func VoteSigningDigest(claimID, setID uint64, index uint32, observedHash []byte) []byte {
	buf := make([]byte, 8+8+4+len(observedHash))
	binary.BigEndian.PutUint64(buf[0:8], claimID)
	binary.BigEndian.PutUint64(buf[8:16], setID)
	binary.BigEndian.PutUint32(buf[16:20], index)
	copy(buf[20:], observedHash)
	return crypto.Sha256(buf)
}

// ClaimOutcome is the terminal result of a claim.
type ClaimOutcome struct {
	Status       ClaimStatus `json:"status"`
	AcceptedHash []byte      `json:"accepted_hash,omitempty"`
}

// ClaimState is a point-in-time view of one claim's tally, served over RPC.
type ClaimState struct {
	ClaimID      uint64      `json:"claim_id"`
	TargetChain  ChainID     `json:"target_chain"`
	SetID        uint64      `json:"set_id"`
	Status       ClaimStatus `json:"status"`
	VoteCount    int         `json:"vote_count"`
	LeadWeight   int64       `json:"lead_weight"`
	QuorumWeight int64       `json:"quorum_weight"`
	AcceptedHash []byte      `json:"accepted_hash,omitempty"`
}
