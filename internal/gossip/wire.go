package gossip

import (
	"errors"
	"fmt"

	amino "github.com/tendermint/go-amino"

	"github.com/notarynet/notary/types"
)

const (
	// WitnessChannel carries individual witness signatures.
	WitnessChannel = byte(0x60)
	// VoteChannel carries individual claim votes.
	VoteChannel = byte(0x61)
	// AnnounceChannel carries anti-entropy traffic: periodic progress
	// announcements, retransmission requests, and whole finalized proofs
	// sent to lagging peers.
	AnnounceChannel = byte(0x62)

	maxMsgSize = 1048576 // 1MB

	// maxRefs bounds every id list carried on the announce channel. Longer
	// lists are a protocol violation.
	maxRefs = 256
)

var cdc = amino.NewCodec()

func init() {
	RegisterMessages(cdc)
}

// Message is a message sent or received by the Engine.
type Message interface {
	ValidateBasic() error
}

// RegisterMessages registers the gossip message types with an amino codec.
func RegisterMessages(cdc *amino.Codec) {
	cdc.RegisterInterface((*Message)(nil), nil)
	cdc.RegisterConcrete(&WitnessMessage{}, "notary/gossip/WitnessMessage", nil)
	cdc.RegisterConcrete(&VoteMessage{}, "notary/gossip/VoteMessage", nil)
	cdc.RegisterConcrete(&AnnounceMessage{}, "notary/gossip/AnnounceMessage", nil)
	cdc.RegisterConcrete(&WantMessage{}, "notary/gossip/WantMessage", nil)
	cdc.RegisterConcrete(&ProofMessage{}, "notary/gossip/ProofMessage", nil)
}

func decodeMsg(bz []byte) (msg Message, err error) {
	if len(bz) > maxMsgSize {
		return msg, fmt.Errorf("msg exceeds max size (%d > %d)", len(bz), maxMsgSize)
	}
	err = cdc.UnmarshalBinaryBare(bz, &msg)
	return
}

//-------------------------------------

// WitnessMessage carries one witness signature.
type WitnessMessage struct {
	Witness *types.Witness
}

// ValidateBasic performs basic validation.
func (m *WitnessMessage) ValidateBasic() error {
	if m.Witness == nil {
		return errors.New("empty witness message")
	}
	return m.Witness.ValidateBasic()
}

// String returns a string representation of the WitnessMessage.
func (m *WitnessMessage) String() string {
	return fmt.Sprintf("[WitnessMessage %s proof=%d validator=%d]",
		m.Witness.Kind, m.Witness.ProofID, m.Witness.ValidatorIndex)
}

// VoteMessage carries one claim vote.
type VoteMessage struct {
	Vote *types.Vote
}

// ValidateBasic performs basic validation.
func (m *VoteMessage) ValidateBasic() error {
	if m.Vote == nil {
		return errors.New("empty vote message")
	}
	return m.Vote.ValidateBasic()
}

// String returns a string representation of the VoteMessage.
func (m *VoteMessage) String() string {
	return fmt.Sprintf("[VoteMessage claim=%d validator=%d]",
		m.Vote.ClaimID, m.Vote.ValidatorIndex)
}

// ProofPoint names one proof on the wire.
type ProofPoint struct {
	Kind types.ProofKind
	ID   uint64
}

// ChainCursor summarizes one destination chain's progress: the completed
// watermark and a window of ids still collecting. Watermark zero means
// nothing completed yet.
type ChainCursor struct {
	Chain     types.ChainID
	Watermark uint64
	Pending   []ProofPoint
}

// AnnounceMessage is the periodic anti-entropy summary. Peers compare it
// against their own progress to detect gaps on either side.
type AnnounceMessage struct {
	Height int64
	Chains []ChainCursor
	Claims []uint64 // claim ids still voting
}

// ValidateBasic performs basic validation.
func (m *AnnounceMessage) ValidateBasic() error {
	if len(m.Claims) > maxRefs {
		return fmt.Errorf("announce lists %d claims, max %d", len(m.Claims), maxRefs)
	}
	for _, c := range m.Chains {
		if c.Chain != types.ChainEthereum && c.Chain != types.ChainXrpl {
			return fmt.Errorf("announce for unknown chain %d", c.Chain)
		}
		if len(c.Pending) > maxRefs {
			return fmt.Errorf("announce lists %d pending proofs, max %d", len(c.Pending), maxRefs)
		}
		for _, p := range c.Pending {
			if !p.Kind.IsValid() {
				return fmt.Errorf("announce names invalid proof kind %d", p.Kind)
			}
			if p.Kind.ChainID() != c.Chain {
				return fmt.Errorf("announce pending kind %s under chain %s", p.Kind, c.Chain)
			}
		}
	}
	return nil
}

// String returns a string representation of the AnnounceMessage.
func (m *AnnounceMessage) String() string {
	return fmt.Sprintf("[AnnounceMessage height=%d chains=%d claims=%d]",
		m.Height, len(m.Chains), len(m.Claims))
}

// WantMessage asks a peer to retransmit what it holds for the named proofs
// and claims.
type WantMessage struct {
	Proofs []ProofPoint
	Claims []uint64
}

// ValidateBasic performs basic validation.
func (m *WantMessage) ValidateBasic() error {
	if len(m.Proofs) == 0 && len(m.Claims) == 0 {
		return errors.New("empty want message")
	}
	if len(m.Proofs) > maxRefs || len(m.Claims) > maxRefs {
		return fmt.Errorf("want lists %d proofs and %d claims, max %d each",
			len(m.Proofs), len(m.Claims), maxRefs)
	}
	for _, p := range m.Proofs {
		if !p.Kind.IsValid() {
			return fmt.Errorf("want names invalid proof kind %d", p.Kind)
		}
	}
	return nil
}

// String returns a string representation of the WantMessage.
func (m *WantMessage) String() string {
	return fmt.Sprintf("[WantMessage proofs=%d claims=%d]", len(m.Proofs), len(m.Claims))
}

// ProofMessage carries a whole finalized proof to a peer that announced the
// proof as still pending. The receiver expands it into witnesses and counts
// them through its own aggregator.
type ProofMessage struct {
	Proof *types.FinalizedProof
}

// ValidateBasic performs basic validation.
func (m *ProofMessage) ValidateBasic() error {
	if m.Proof == nil {
		return errors.New("empty proof message")
	}
	return m.Proof.ValidateBasic()
}

// String returns a string representation of the ProofMessage.
func (m *ProofMessage) String() string {
	return fmt.Sprintf("[ProofMessage %s proof=%d sigs=%d]",
		m.Proof.Kind, m.Proof.ProofID, len(m.Proof.Signatures))
}
