package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/notarynet/notary/crypto/secp256k1"
	"github.com/notarynet/notary/internal/aggregator"
	"github.com/notarynet/notary/internal/proofstore"
	tmbytes "github.com/notarynet/notary/libs/bytes"
	"github.com/notarynet/notary/types"
)

// getEventProof serves notary_getEventProof: the completed proof for one
// Ethereum-destination event, or null while it is pending or expired.
func (s *Server) getEventProof(params json.RawMessage) (interface{}, *RPCError) {
	id, err := parseEventID(params)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	proof, err := s.env.Store.GetProof(types.ChainEthereum, id)
	switch {
	case errors.Is(err, proofstore.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, &RPCError{Code: codeInternalError, Message: "Internal error", Data: err.Error()}
	}
	return s.ethProofResponse(proof), nil
}

// getXrplTxProof serves notary_getXrplTxProof, the XRPL analog of
// getEventProof.
func (s *Server) getXrplTxProof(params json.RawMessage) (interface{}, *RPCError) {
	id, err := parseEventID(params)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	proof, err := s.env.Store.GetProof(types.ChainXrpl, id)
	switch {
	case errors.Is(err, proofstore.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, &RPCError{Code: codeInternalError, Message: "Internal error", Data: err.Error()}
	}
	resp, err := s.xrplProofResponse(proof)
	if err != nil {
		return nil, &RPCError{Code: codeInternalError, Message: "Internal error", Data: err.Error()}
	}
	return resp, nil
}

// getClaim serves notary_getClaim: the live tally state of one inbound
// claim, or null once its record has been pruned.
func (s *Server) getClaim(params json.RawMessage) (interface{}, *RPCError) {
	id, err := parseClaimID(params)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	st, err := s.env.Tally.ClaimState(id)
	switch {
	case errors.Is(err, aggregator.ErrUnknownClaim):
		return nil, nil
	case err != nil:
		return nil, &RPCError{Code: codeInternalError, Message: "Internal error", Data: err.Error()}
	}
	return st, nil
}

// getEquivocations serves notary_getEquivocations: stored double-signing
// evidence, oldest first, capped at max (default 100).
func (s *Server) getEquivocations(params json.RawMessage) (interface{}, *RPCError) {
	max := 100
	if len(params) > 0 {
		var p maxParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()}
		}
		if p.Max > 0 {
			max = p.Max
		}
	}
	evs, err := s.env.Store.ListEvidence(max)
	if err != nil {
		return nil, &RPCError{Code: codeInternalError, Message: "Internal error", Data: err.Error()}
	}
	records := make([]EquivocationRecord, len(evs))
	for i, ev := range evs {
		records[i] = evidenceToRecord(ev)
	}
	return records, nil
}

// status serves notary_status.
func (s *Server) status(json.RawMessage) (interface{}, *RPCError) {
	agg := s.env.Tally.Status()
	info := s.env.Store.Info()

	resp := StatusResponse{
		Moniker:            s.env.Moniker,
		PendingProofs:      agg.PendingProofs,
		PendingClaims:      agg.PendingClaims,
		CompletedProofs:    agg.CompletedProofs,
		ExpiredProofs:      agg.ExpiredProofs,
		AcceptedClaims:     agg.AcceptedClaims,
		RejectedClaims:     agg.RejectedClaims,
		StoredProofs:       info.Proofs,
		StoredEvidence:     info.Evidence,
		PendingRequestsIdx: info.Pending,
	}
	if s.env.Heights != nil {
		resp.FinalizedHeight = s.env.Heights()
	} else {
		resp.FinalizedHeight = agg.Height
	}
	if id, ok := s.env.Sets.ActiveID(); ok {
		resp.ActiveSetID = &id
	}
	if wm, ok := s.env.Tally.Watermark(types.ChainEthereum); ok {
		resp.EthereumWatermark = &wm
	}
	if wm, ok := s.env.Tally.Watermark(types.ChainXrpl); ok {
		resp.XrplWatermark = &wm
	}
	return resp, nil
}

// ethProofResponse expands a finalized Ethereum proof over the signing
// set's validator slots. When the set view has already been dropped the
// expansion covers the contributing slots only and the validator address
// list is omitted.
func (s *Server) ethProofResponse(proof *types.FinalizedProof) *EthEventProofResponse {
	resp := &EthEventProofResponse{
		EventID:        proof.ProofID,
		ValidatorSetID: proof.SetID,
		Digest:         proof.Digest,
		EncodedPayload: proof.EncodedPayload,
	}

	slots := 0
	if view, ok := s.env.Sets.View(proof.SetID); ok {
		slots = view.Size()
		resp.Validators = make([]tmbytes.HexBytes, slots)
		for i, m := range view.Members {
			if addr, err := m.BridgePubKey.EthereumAddress(); err == nil {
				resp.Validators[i] = addr
			}
		}
	} else if n := len(proof.Signatures); n > 0 {
		slots = int(proof.Signatures[n-1].ValidatorIndex) + 1
	}

	expanded := proof.ExpandedSignatures(slots)
	resp.Signatures = make([]tmbytes.HexBytes, len(expanded))
	for i, sig := range expanded {
		resp.Signatures[i] = sig
	}
	return resp
}

// xrplProofResponse renders a finalized XRPL proof's Signers array:
// DER-encoded signatures paired with signer public keys, in the proof's
// canonical order.
func (s *Server) xrplProofResponse(proof *types.FinalizedProof) (*XrplEventProofResponse, error) {
	view, ok := s.env.Sets.View(proof.SetID)
	if !ok {
		return nil, fmt.Errorf("validator set %d no longer addressable", proof.SetID)
	}

	signers := make([]XrplTxSigner, 0, len(proof.Signatures))
	for _, sig := range proof.Signatures {
		m, ok := view.Member(sig.ValidatorIndex)
		if !ok {
			return nil, fmt.Errorf("signature from index %d outside set %d", sig.ValidatorIndex, proof.SetID)
		}
		der, err := secp256k1.SigToDER(sig.Signature)
		if err != nil {
			return nil, fmt.Errorf("encoding signature of validator %d: %w", sig.ValidatorIndex, err)
		}
		signers = append(signers, XrplTxSigner{
			PublicKey: tmbytes.HexBytes(m.BridgePubKey),
			Signature: der,
		})
	}

	return &XrplEventProofResponse{
		EventID:        proof.ProofID,
		ValidatorSetID: proof.SetID,
		Digest:         proof.Digest,
		Signers:        signers,
		EncodedPayload: proof.EncodedPayload,
	}, nil
}
