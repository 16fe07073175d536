package types

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/notarynet/notary/crypto/secp256k1"
)

// MaxTotalWeight caps the cumulative weight of a set so quorum arithmetic
// cannot overflow int64.
const MaxTotalWeight = int64(math.MaxInt64) / 8

// Validator is one member of a validator set as this subsystem sees it:
// an opaque host-chain identity, the secp256k1 bridge key witnesses are
// signed with, and the member's weight.
type Validator struct {
	Identity     []byte           `json:"identity"`
	BridgePubKey secp256k1.PubKey `json:"bridge_pub_key"`
	Weight       int64            `json:"weight"`
}

// ValidateBasic performs stateless validity checks.
func (v *Validator) ValidateBasic() error {
	if v == nil {
		return errors.New("nil validator")
	}
	if len(v.BridgePubKey) != secp256k1.PubKeySize {
		return fmt.Errorf("bridge pub key must be %d bytes, got %d",
			secp256k1.PubKeySize, len(v.BridgePubKey))
	}
	if v.Weight <= 0 {
		return fmt.Errorf("validator weight must be positive, got %d", v.Weight)
	}
	return nil
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (v *Validator) MarshalZerologObject(e *zerolog.Event) {
	pub := v.BridgePubKey.String()
	if len(pub) > 26 {
		pub = pub[:26]
	}
	e.Str("bridge_pub_key", pub)
	e.Int64("weight", v.Weight)
}

// ValidatorSetView is an immutable snapshot of one validator set version.
// Exactly one view is active at a time, but superseded views remain
// addressable by set id so in-flight requests issued under them can still
// be validated. Member order is fixed: a validator's index in Members is
// the validator_index that witnesses and proofs refer to.
type ValidatorSetView struct {
	SetID   uint64       `json:"set_id"`
	Members []*Validator `json:"members"`
}

// NewValidatorSetView builds a view over members. The caller must not
// mutate members afterward.
func NewValidatorSetView(setID uint64, members []*Validator) *ValidatorSetView {
	return &ValidatorSetView{SetID: setID, Members: members}
}

// ValidateBasic checks the view is usable: non-empty, valid members,
// unique bridge keys, and a total weight below the overflow cap.
func (vs *ValidatorSetView) ValidateBasic() error {
	if vs == nil {
		return errors.New("nil validator set view")
	}
	if len(vs.Members) == 0 {
		return errors.New("validator set has no members")
	}
	seen := make(map[string]struct{}, len(vs.Members))
	total := int64(0)
	for i, m := range vs.Members {
		if err := m.ValidateBasic(); err != nil {
			return fmt.Errorf("invalid member %d: %w", i, err)
		}
		k := string(m.BridgePubKey)
		if _, ok := seen[k]; ok {
			return fmt.Errorf("duplicate bridge key at index %d", i)
		}
		seen[k] = struct{}{}
		total += m.Weight
		if total > MaxTotalWeight {
			return fmt.Errorf("total weight exceeds %d", MaxTotalWeight)
		}
	}
	return nil
}

// Size returns the number of members.
func (vs *ValidatorSetView) Size() int { return len(vs.Members) }

// TotalWeight sums all member weights.
func (vs *ValidatorSetView) TotalWeight() int64 {
	total := int64(0)
	for _, m := range vs.Members {
		total += m.Weight
	}
	return total
}

// QuorumWeight is the default supermajority threshold: the smallest weight
// strictly greater than two thirds of the total, floor(2*total/3) + 1.
func (vs *ValidatorSetView) QuorumWeight() int64 {
	return vs.TotalWeight()*2/3 + 1
}

// ThresholdWeight computes an explicit percent threshold over the total
// weight, rounding up. Used by XRPL proofs that carry their own threshold.
func (vs *ValidatorSetView) ThresholdWeight(percent uint8) int64 {
	total := vs.TotalWeight()
	return (total*int64(percent) + 99) / 100
}

// SubsetWeight sums the weights of the members at the given indices.
// Unknown indices contribute nothing.
func (vs *ValidatorSetView) SubsetWeight(indices []uint32) int64 {
	total := int64(0)
	for _, idx := range indices {
		if m, ok := vs.Member(idx); ok {
			total += m.Weight
		}
	}
	return total
}

// Member returns the validator at index.
func (vs *ValidatorSetView) Member(index uint32) (*Validator, bool) {
	if int(index) >= len(vs.Members) {
		return nil, false
	}
	return vs.Members[index], true
}

// IndexOf returns the index of the member holding pub.
func (vs *ValidatorSetView) IndexOf(pub secp256k1.PubKey) (uint32, bool) {
	for i, m := range vs.Members {
		if m.BridgePubKey.Equals(pub) {
			return uint32(i), true
		}
	}
	return 0, false
}

// SignerListEqual reports whether two views carry the same ordered bridge
// keys and weights. An XRPL set-change proof is skipped when the signer
// list did not actually change.
func (vs *ValidatorSetView) SignerListEqual(other *ValidatorSetView) bool {
	if other == nil || len(vs.Members) != len(other.Members) {
		return false
	}
	for i := range vs.Members {
		if !vs.Members[i].BridgePubKey.Equals(other.Members[i].BridgePubKey) {
			return false
		}
		if vs.Members[i].Weight != other.Members[i].Weight {
			return false
		}
	}
	return true
}

// Copy returns a deep copy of the view.
func (vs *ValidatorSetView) Copy() *ValidatorSetView {
	members := make([]*Validator, len(vs.Members))
	for i, m := range vs.Members {
		cm := *m
		members[i] = &cm
	}
	return &ValidatorSetView{SetID: vs.SetID, Members: members}
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (vs *ValidatorSetView) MarshalZerologObject(e *zerolog.Event) {
	e.Uint64("set_id", vs.SetID)
	e.Int("members", len(vs.Members))
	e.Int64("total_weight", vs.TotalWeight())
}
