// Package codec turns proof requests into the bytes validators sign and
// finalized signature bundles into each destination chain's native format.
// Codecs are pure: the same inputs always produce the same bytes, so two
// honest nodes holding the same quorum emit identical encodings.
package codec

import (
	"errors"
	"fmt"

	"github.com/notarynet/notary/crypto/secp256k1"
	"github.com/notarynet/notary/types"
)

// Codec is implemented once per destination chain. Adding a chain means
// adding an implementation here and a ProofKind mapping in types; nothing
// else in the pipeline changes.
type Codec interface {
	// Digest produces the 32-byte digest a validator signs for req. signer
	// is the compressed bridge key of the signing validator; chains that
	// fold the signer into the signed bytes (XRPL) use it, others ignore it.
	Digest(req *types.ProofRequest, signer secp256k1.PubKey) ([]byte, error)

	// RequestDigest produces the signer-independent digest identifying req's
	// signed content. For chains with shared digests it equals Digest; for
	// per-signer chains it is the anchor all signer digests derive from.
	RequestDigest(req *types.ProofRequest) ([]byte, error)

	// EncodeForSubmission renders a finalized proof into the destination
	// chain's submission format. view must be the validator set the proof
	// was signed under.
	EncodeForSubmission(proof *types.FinalizedProof, view *types.ValidatorSetView) ([]byte, error)

	// SetChangePayload builds the request payload announcing next as the
	// new validator set on the destination chain.
	SetChangePayload(next *types.ValidatorSetView) ([]byte, error)
}

// Error is a fatal per-request codec failure. The request that triggered it
// cannot make progress; other requests are unaffected.
type Error struct {
	Kind types.ProofKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("codec %s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsCodecError reports whether err is (or wraps) a codec failure.
func IsCodecError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

var codecs = map[types.ChainID]Codec{
	types.ChainEthereum: Ethereum{},
	types.ChainXrpl:     Xrpl{},
}

// ForKind returns the codec serving kind's destination chain.
func ForKind(kind types.ProofKind) (Codec, error) {
	c, ok := codecs[kind.ChainID()]
	if !ok {
		return nil, &Error{Kind: kind, Op: "lookup", Err: errors.New("no codec for kind")}
	}
	return c, nil
}

// DigestForRequest is a convenience wrapper resolving the codec by kind.
func DigestForRequest(req *types.ProofRequest, signer secp256k1.PubKey) ([]byte, error) {
	c, err := ForKind(req.Kind)
	if err != nil {
		return nil, err
	}
	return c.Digest(req, signer)
}
