package gossip

import (
	"bytes"
	"fmt"

	"github.com/notarynet/notary/internal/codec"
	"github.com/notarynet/notary/types"
)

// expandProof turns a finalized proof from a peer back into the witnesses
// that built it, verifying every signature against view. Any inconsistency
// is the sender's fault: honest nodes only forward proofs they finalized
// themselves.
func expandProof(p *types.FinalizedProof, view *types.ValidatorSetView) ([]*types.Witness, error) {
	c, err := codec.ForKind(p.Kind)
	if err != nil {
		return nil, err
	}
	req := &types.ProofRequest{
		ID:      p.ProofID,
		Kind:    p.Kind,
		Payload: p.EncodedPayload,
		SetID:   p.SetID,
		TTL:     1,
	}
	anchor, err := c.RequestDigest(req)
	if err != nil {
		return nil, fmt.Errorf("proof %d payload does not digest: %w", p.ProofID, err)
	}
	if !bytes.Equal(anchor, p.Digest) {
		return nil, fmt.Errorf("proof %d digest does not match its payload", p.ProofID)
	}

	out := make([]*types.Witness, 0, len(p.Signatures))
	for _, sig := range p.Signatures {
		m, ok := view.Member(sig.ValidatorIndex)
		if !ok {
			return nil, fmt.Errorf("proof %d signed by index %d outside set %d",
				p.ProofID, sig.ValidatorIndex, view.SetID)
		}
		digest, err := c.Digest(req, m.BridgePubKey)
		if err != nil {
			return nil, err
		}
		if !m.BridgePubKey.VerifyDigest(digest, sig.Signature) {
			return nil, fmt.Errorf("proof %d carries an invalid signature from index %d",
				p.ProofID, sig.ValidatorIndex)
		}
		out = append(out, &types.Witness{
			ProofID:        p.ProofID,
			Kind:           p.Kind,
			SetID:          p.SetID,
			ValidatorIndex: sig.ValidatorIndex,
			Digest:         digest,
			Signature:      sig.Signature,
		})
	}
	return out, nil
}
