// Package signer produces this node's witnesses: for each pending request
// whose set includes the local bridge key, it computes the destination
// digest and signs it. Nodes outside the set relay and aggregate but never
// sign.
package signer

import (
	"errors"
	"fmt"

	"github.com/notarynet/notary/internal/codec"
	"github.com/notarynet/notary/internal/keystore"
	"github.com/notarynet/notary/internal/session"
	"github.com/notarynet/notary/libs/log"
	"github.com/notarynet/notary/types"
)

var (
	// ErrNotInSet means the local key is not an eligible signer for the
	// request's validator set (or its signer subset).
	ErrNotInSet = errors.New("local key is not in the signer set")

	// ErrUnknownSet means the request's set id is not addressable locally.
	ErrUnknownSet = errors.New("validator set view not available")

	// ErrThresholdTooLow rejects requests whose threshold a minority could
	// meet. Signing such a request would let fewer than half the eligible
	// weight forge a proof.
	ErrThresholdTooLow = errors.New("proof threshold below half the eligible weight")
)

// Signer signs request digests with the node's bridge key.
type Signer struct {
	logger log.Logger
	key    *keystore.BridgeKey
	sets   *session.Tracker
}

// New returns a Signer using key against the views tracked by sets.
func New(logger log.Logger, key *keystore.BridgeKey, sets *session.Tracker) *Signer {
	return &Signer{
		logger: logger.With("module", "signer"),
		key:    key,
		sets:   sets,
	}
}

// PubKey returns the local bridge public key.
func (s *Signer) PubKey() []byte { return s.key.PubKey() }

// Eligible returns the local validator index within the view at setID.
func (s *Signer) Eligible(setID uint64) (uint32, bool) {
	view, ok := s.sets.View(setID)
	if !ok {
		return 0, false
	}
	return view.IndexOf(s.key.PubKey())
}

// SignVote produces the local vote for a claim, carrying the hash of what
// this node observed. Votes have no signer subset: every member of the
// claim's set is eligible.
func (s *Signer) SignVote(claim *types.InboundClaim, observedHash []byte) (*types.Vote, error) {
	if err := claim.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid claim: %w", err)
	}

	view, ok := s.sets.View(claim.SetID)
	if !ok {
		return nil, fmt.Errorf("%w: set %d", ErrUnknownSet, claim.SetID)
	}
	index, ok := view.IndexOf(s.key.PubKey())
	if !ok {
		return nil, ErrNotInSet
	}

	sig, err := s.key.PrivKey.SignDigest(
		types.VoteSigningDigest(claim.ClaimID, claim.SetID, index, observedHash))
	if err != nil {
		return nil, fmt.Errorf("signing vote digest: %w", err)
	}

	s.logger.Debug("signed vote", "claim_id", claim.ClaimID,
		"set_id", claim.SetID, "validator_index", index)

	return &types.Vote{
		ClaimID:        claim.ClaimID,
		SetID:          claim.SetID,
		ValidatorIndex: index,
		ObservedHash:   observedHash,
		Signature:      sig,
	}, nil
}

// SignRequest produces the local witness for req. Signing is deterministic:
// re-signing the same request after a restart yields identical bytes, so
// witnesses are safe to re-gossip.
func (s *Signer) SignRequest(req *types.ProofRequest) (*types.Witness, error) {
	if err := req.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid proof request: %w", err)
	}

	view, ok := s.sets.View(req.SetID)
	if !ok {
		return nil, fmt.Errorf("%w: set %d", ErrUnknownSet, req.SetID)
	}
	index, ok := view.IndexOf(s.key.PubKey())
	if !ok {
		return nil, ErrNotInSet
	}
	if !req.AllowsSigner(index) {
		return nil, fmt.Errorf("%w: index %d outside signer subset", ErrNotInSet, index)
	}

	required := types.RequiredWitnessWeight(req, view)
	if 2*required < types.EligibleWitnessWeight(req, view) {
		s.logger.Error("refusing to witness under-thresholded request",
			"proof_id", req.ID, "required", required)
		return nil, ErrThresholdTooLow
	}

	digest, err := codec.DigestForRequest(req, s.key.PubKey())
	if err != nil {
		return nil, err
	}
	sig, err := s.key.PrivKey.SignDigest(digest)
	if err != nil {
		return nil, fmt.Errorf("signing witness digest: %w", err)
	}

	s.logger.Debug("signed witness", "proof_id", req.ID, "kind", req.Kind.String(),
		"set_id", req.SetID, "validator_index", index)

	return &types.Witness{
		ProofID:        req.ID,
		Kind:           req.Kind,
		SetID:          req.SetID,
		ValidatorIndex: index,
		Digest:         digest,
		Signature:      sig,
	}, nil
}
