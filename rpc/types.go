// Package rpc serves the operator-facing JSON-RPC surface: completed proof
// queries, claim progress, equivocation evidence, node status, and a
// websocket stream of proofs as they finalize. Proofs are only served once
// Complete; pending and expired requests yield null, exactly what a
// submission relayer polls for.
package rpc

import (
	"encoding/json"
	"fmt"

	tmbytes "github.com/notarynet/notary/libs/bytes"
	"github.com/notarynet/notary/types"
)

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("RPC error %d - %s: %s", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d - %s", e.Code, e.Message)
}

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

func newRPCSuccessResponse(id json.RawMessage, result interface{}) RPCResponse {
	bz, err := json.Marshal(result)
	if err != nil {
		return newRPCErrorResponse(id, codeInternalError, "Internal error", err.Error())
	}
	return RPCResponse{JSONRPC: "2.0", ID: id, Result: bz}
}

func newRPCErrorResponse(id json.RawMessage, code int, msg, data string) RPCResponse {
	return RPCResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: msg, Data: data}}
}

// EthEventProofResponse is a completed Ethereum-destination proof in the
// shape the submission relayer forwards to the bridge contract. Signatures
// are expanded over the validator slots of the signing set: slot i holds
// validator i's 65-byte r||s||v signature, or zeroes if it did not
// contribute.
type EthEventProofResponse struct {
	EventID        uint64             `json:"event_id"`
	ValidatorSetID uint64             `json:"validator_set_id"`
	Digest         tmbytes.HexBytes   `json:"digest"`
	Signatures     []tmbytes.HexBytes `json:"signatures"`
	Validators     []tmbytes.HexBytes `json:"validators,omitempty"`
	EncodedPayload tmbytes.HexBytes   `json:"encoded_payload"`
}

// XrplTxSigner pairs a DER-encoded signature with its signer's compressed
// public key; XRPL verifiers check signatures against listed keys rather
// than recovering them.
type XrplTxSigner struct {
	PublicKey tmbytes.HexBytes `json:"public_key"`
	Signature tmbytes.HexBytes `json:"signature"`
}

// XrplEventProofResponse is a completed XRPL-destination proof: the signed
// transaction blob plus its Signers array, ordered by ascending signer
// account per that chain's multi-signing rules.
type XrplEventProofResponse struct {
	EventID        uint64           `json:"event_id"`
	ValidatorSetID uint64           `json:"validator_set_id"`
	Digest         tmbytes.HexBytes `json:"digest"`
	Signers        []XrplTxSigner   `json:"signers"`
	EncodedPayload tmbytes.HexBytes `json:"encoded_payload"`
}

// EquivocationRecord is one stored piece of double-signing evidence.
type EquivocationRecord struct {
	ProofID         uint64           `json:"proof_id"`
	Kind            string           `json:"kind"`
	SetID           uint64           `json:"set_id"`
	ValidatorIndex  uint32           `json:"validator_index"`
	Digest          tmbytes.HexBytes `json:"digest"`
	FirstSignature  tmbytes.HexBytes `json:"first_signature"`
	SecondSignature tmbytes.HexBytes `json:"second_signature"`
}

// StatusResponse summarizes the node's notarization progress.
type StatusResponse struct {
	Moniker            string  `json:"moniker"`
	FinalizedHeight    int64   `json:"finalized_height"`
	ActiveSetID        *uint64 `json:"active_set_id,omitempty"`
	PendingProofs      int64   `json:"pending_proofs"`
	PendingClaims      int64   `json:"pending_claims"`
	CompletedProofs    int64   `json:"completed_proofs"`
	ExpiredProofs      int64   `json:"expired_proofs"`
	AcceptedClaims     int64   `json:"accepted_claims"`
	RejectedClaims     int64   `json:"rejected_claims"`
	StoredProofs       int64   `json:"stored_proofs"`
	StoredEvidence     int64   `json:"stored_evidence"`
	EthereumWatermark  *uint64 `json:"ethereum_watermark,omitempty"`
	XrplWatermark      *uint64 `json:"xrpl_watermark,omitempty"`
	PendingRequestsIdx int64   `json:"pending_request_index"`
}

// eventIDParams is the parameter object of the proof query methods. Both
// positional ([id]) and named ({"event_id": id}) forms are accepted.
type eventIDParams struct {
	EventID uint64 `json:"event_id"`
}

type claimIDParams struct {
	ClaimID uint64 `json:"claim_id"`
}

type maxParams struct {
	Max int `json:"max"`
}

func parseEventID(params json.RawMessage) (uint64, error) {
	if len(params) == 0 {
		return 0, fmt.Errorf("missing event_id")
	}
	var pos []uint64
	if err := json.Unmarshal(params, &pos); err == nil {
		if len(pos) != 1 {
			return 0, fmt.Errorf("expected one positional param, got %d", len(pos))
		}
		return pos[0], nil
	}
	var named eventIDParams
	if err := json.Unmarshal(params, &named); err != nil {
		return 0, fmt.Errorf("malformed params: %w", err)
	}
	return named.EventID, nil
}

func parseClaimID(params json.RawMessage) (uint64, error) {
	if len(params) == 0 {
		return 0, fmt.Errorf("missing claim_id")
	}
	var pos []uint64
	if err := json.Unmarshal(params, &pos); err == nil {
		if len(pos) != 1 {
			return 0, fmt.Errorf("expected one positional param, got %d", len(pos))
		}
		return pos[0], nil
	}
	var named claimIDParams
	if err := json.Unmarshal(params, &named); err != nil {
		return 0, fmt.Errorf("malformed params: %w", err)
	}
	return named.ClaimID, nil
}

func evidenceToRecord(ev *types.EquivocationEvidence) EquivocationRecord {
	return EquivocationRecord{
		ProofID:         ev.ProofID,
		Kind:            ev.Kind.String(),
		SetID:           ev.SetID,
		ValidatorIndex:  ev.ValidatorIndex,
		Digest:          ev.Digest,
		FirstSignature:  ev.FirstSignature,
		SecondSignature: ev.SecondSignature,
	}
}
