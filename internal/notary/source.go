package notary

import "github.com/notarynet/notary/types"

// SetChange announces a validator set rotation observed in a finalized
// runtime block. The runtime allocates proof ids for the handover proofs
// when it schedules the rotation, so every validator originates the
// handover requests under the same ids; an id of zero means the runtime
// scheduled no proof of that kind.
type SetChange struct {
	View *types.ValidatorSetView

	// EthProofID identifies the EthereumValidatorSetChange proof announcing
	// the incoming set to the bridge contract.
	EthProofID uint64

	// XrplProofID identifies the XrplValidatorSetChange proof rotating the
	// door signer list.
	XrplProofID uint64
}

// RuntimeSource yields notifications derived from finalized runtime blocks.
// Implementations close their channels on shutdown; a closed channel is not
// an error, the worker simply stops consuming it.
type RuntimeSource interface {
	// Requests yields proof requests in the order the runtime created them.
	Requests() <-chan *types.ProofRequest

	// Claims yields inbound claims awaiting observation.
	Claims() <-chan *types.InboundClaim

	// SetChanges yields validator set rotations in ascending set-id order.
	SetChanges() <-chan SetChange

	// FinalizedHeights yields monotonically increasing finalized heights.
	FinalizedHeights() <-chan int64
}

// ChannelSource is a RuntimeSource fed over channels. Host runtimes that
// embed the node push notifications through it; it also backs tests and a
// standalone notaryd, which runs idle until a runtime attaches.
type ChannelSource struct {
	requests chan *types.ProofRequest
	claims   chan *types.InboundClaim
	sets     chan SetChange
	heights  chan int64
}

// NewChannelSource returns a source whose channels buffer up to capacity
// notifications each.
func NewChannelSource(capacity int) *ChannelSource {
	if capacity <= 0 {
		capacity = 1
	}
	return &ChannelSource{
		requests: make(chan *types.ProofRequest, capacity),
		claims:   make(chan *types.InboundClaim, capacity),
		sets:     make(chan SetChange, capacity),
		heights:  make(chan int64, capacity),
	}
}

// Requests implements RuntimeSource.
func (s *ChannelSource) Requests() <-chan *types.ProofRequest { return s.requests }

// Claims implements RuntimeSource.
func (s *ChannelSource) Claims() <-chan *types.InboundClaim { return s.claims }

// SetChanges implements RuntimeSource.
func (s *ChannelSource) SetChanges() <-chan SetChange { return s.sets }

// FinalizedHeights implements RuntimeSource.
func (s *ChannelSource) FinalizedHeights() <-chan int64 { return s.heights }

// PushRequest delivers one proof request, blocking when the buffer is full.
func (s *ChannelSource) PushRequest(req *types.ProofRequest) { s.requests <- req }

// PushClaim delivers one inbound claim.
func (s *ChannelSource) PushClaim(claim *types.InboundClaim) { s.claims <- claim }

// PushSetChange delivers one validator set rotation.
func (s *ChannelSource) PushSetChange(sc SetChange) { s.sets <- sc }

// PushHeight delivers one finalized height.
func (s *ChannelSource) PushHeight(h int64) { s.heights <- h }

// Close closes every channel. Push calls after Close panic.
func (s *ChannelSource) Close() {
	close(s.requests)
	close(s.claims)
	close(s.sets)
	close(s.heights)
}
