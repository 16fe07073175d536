// Package proofstore persists what the aggregation pipeline decides:
// finalized proofs served over RPC, the pending-request index a restarted
// node replays, and equivocation evidence held for the slashing authority.
// Values are amino-encoded; keys are orderedcode tuples so prefix iteration
// walks chains, ids, and heights in order.
package proofstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/google/orderedcode"
	amino "github.com/tendermint/go-amino"
	dbm "github.com/tendermint/tm-db"

	"github.com/notarynet/notary/libs/log"
	"github.com/notarynet/notary/types"
)

// key prefixes, unique within the proof store's database
const (
	prefixMeta        = int64(0)
	prefixProof       = int64(1)
	prefixProofHeight = int64(2)
	prefixPending     = int64(3)
	prefixEvidence    = int64(4)
)

// record count meta keys
const (
	metaProofs   = "proofs"
	metaPending  = "pending"
	metaEvidence = "evidence"
)

// ErrNotFound is returned when no stored value exists for a key.
var ErrNotFound = errors.New("not found in proof store")

// storedProof wraps a finalized proof with the height it completed at, the
// axis pruning works along.
type storedProof struct {
	Proof  *types.FinalizedProof
	Height int64
}

// storedRequest wraps a pending request with the height it was indexed at.
type storedRequest struct {
	Req    *types.ProofRequest
	Height int64
}

// Option configures the store at construction.
type Option func(*Store)

// WithMetrics replaces the no-op metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store persists finalized proofs, the pending-request index, and
// equivocation evidence. Safe for concurrent use by multiple goroutines.
type Store struct {
	logger  log.Logger
	db      dbm.DB
	cdc     *amino.Codec
	metrics *Metrics

	mtx      sync.Mutex
	proofs   int64
	pending  int64
	evidence int64
}

// New opens a store over db, loading the persisted record counts.
func New(logger log.Logger, db dbm.DB, opts ...Option) (*Store, error) {
	s := &Store{
		logger:  logger.With("module", "proofstore"),
		db:      db,
		cdc:     amino.NewCodec(),
		metrics: NopMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.proofs, err = s.loadCount(metaProofs); err != nil {
		return nil, err
	}
	if s.pending, err = s.loadCount(metaPending); err != nil {
		return nil, err
	}
	if s.evidence, err = s.loadCount(metaEvidence); err != nil {
		return nil, err
	}
	s.metrics.Proofs.Set(float64(s.proofs))
	s.metrics.PendingRequests.Set(float64(s.pending))
	s.metrics.Evidence.Set(float64(s.evidence))
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveProof persists a finalized proof at its completion height and clears
// the pending index entry for it, in one atomic batch. Saving an already
// stored proof is a no-op.
func (s *Store) SaveProof(proof *types.FinalizedProof, height int64) error {
	if err := proof.ValidateBasic(); err != nil {
		return err
	}
	chain := proof.Kind.ChainID()

	s.mtx.Lock()
	defer s.mtx.Unlock()

	key := keyProof(chain, proof.ProofID)
	stored, err := s.db.Has(key)
	if err != nil {
		return err
	}
	if stored {
		return nil
	}

	bz, err := s.cdc.MarshalBinaryLengthPrefixed(storedProof{Proof: proof, Height: height})
	if err != nil {
		return fmt.Errorf("failed to marshal proof %d: %w", proof.ProofID, err)
	}
	hadPending, err := s.db.Has(keyPending(chain, proof.ProofID))
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, bz); err != nil {
		return err
	}
	if err := b.Set(keyProofHeight(height, chain, proof.ProofID), []byte{}); err != nil {
		return err
	}
	if hadPending {
		if err := b.Delete(keyPending(chain, proof.ProofID)); err != nil {
			return err
		}
	}

	proofs, pending := s.proofs+1, s.pending
	if hadPending {
		pending--
	}
	if err := b.Set(keyMeta(metaProofs), marshalCount(proofs)); err != nil {
		return err
	}
	if hadPending {
		if err := b.Set(keyMeta(metaPending), marshalCount(pending)); err != nil {
			return err
		}
	}
	if err := b.WriteSync(); err != nil {
		return err
	}

	s.proofs, s.pending = proofs, pending
	s.metrics.Proofs.Set(float64(proofs))
	s.metrics.PendingRequests.Set(float64(pending))
	return nil
}

// GetProof loads the finalized proof for (chain, id). Pending, expired, and
// pruned proofs all surface as ErrNotFound.
func (s *Store) GetProof(chain types.ChainID, id uint64) (*types.FinalizedProof, error) {
	bz, err := s.db.Get(keyProof(chain, id))
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, ErrNotFound
	}
	var sp storedProof
	if err := s.cdc.UnmarshalBinaryLengthPrefixed(bz, &sp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal proof %d: %w", id, err)
	}
	return sp.Proof, nil
}

// HasProof reports whether a finalized proof is stored for (chain, id).
func (s *Store) HasProof(chain types.ChainID, id uint64) (bool, error) {
	return s.db.Has(keyProof(chain, id))
}

// SaveRequest records a request in the pending index so a restarted node can
// replay it into the aggregator. Requests already indexed or already
// finalized are no-ops. Replayed requests restart their ttl window from the
// replay height.
func (s *Store) SaveRequest(req *types.ProofRequest, height int64) error {
	if err := req.ValidateBasic(); err != nil {
		return err
	}
	chain := req.Kind.ChainID()

	s.mtx.Lock()
	defer s.mtx.Unlock()

	done, err := s.db.Has(keyProof(chain, req.ID))
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	key := keyPending(chain, req.ID)
	indexed, err := s.db.Has(key)
	if err != nil {
		return err
	}
	if indexed {
		return nil
	}

	bz, err := s.cdc.MarshalBinaryLengthPrefixed(storedRequest{Req: req, Height: height})
	if err != nil {
		return fmt.Errorf("failed to marshal request %d: %w", req.ID, err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, bz); err != nil {
		return err
	}
	if err := b.Set(keyMeta(metaPending), marshalCount(s.pending+1)); err != nil {
		return err
	}
	if err := b.WriteSync(); err != nil {
		return err
	}

	s.pending++
	s.metrics.PendingRequests.Set(float64(s.pending))
	return nil
}

// FinishRequest drops the pending index entry for a request that went
// terminal without a finalized proof (expired or retracted). Unknown ids are
// no-ops; completion clears its own entry through SaveProof.
func (s *Store) FinishRequest(chain types.ChainID, id uint64) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	key := keyPending(chain, id)
	indexed, err := s.db.Has(key)
	if err != nil {
		return err
	}
	if !indexed {
		return nil
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(key); err != nil {
		return err
	}
	if err := b.Set(keyMeta(metaPending), marshalCount(s.pending-1)); err != nil {
		return err
	}
	if err := b.WriteSync(); err != nil {
		return err
	}

	s.pending--
	s.metrics.PendingRequests.Set(float64(s.pending))
	return nil
}

// PendingRequests lists the pending index in (chain, id) order.
func (s *Store) PendingRequests() ([]*types.ProofRequest, error) {
	iter, err := dbm.IteratePrefix(s.db, prefixToBytes(prefixPending))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*types.ProofRequest
	for ; iter.Valid(); iter.Next() {
		var sr storedRequest
		if err := s.cdc.UnmarshalBinaryLengthPrefixed(iter.Value(), &sr); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pending request: %w", err)
		}
		out = append(out, sr.Req)
	}
	return out, iter.Error()
}

// SaveEvidence persists equivocation evidence, once per (proof, validator).
func (s *Store) SaveEvidence(ev *types.EquivocationEvidence) error {
	if err := ev.ValidateBasic(); err != nil {
		return err
	}
	chain := ev.Kind.ChainID()

	s.mtx.Lock()
	defer s.mtx.Unlock()

	key := keyEvidence(chain, ev.ProofID, ev.ValidatorIndex)
	stored, err := s.db.Has(key)
	if err != nil {
		return err
	}
	if stored {
		return nil
	}

	bz, err := s.cdc.MarshalBinaryLengthPrefixed(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence for proof %d: %w", ev.ProofID, err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, bz); err != nil {
		return err
	}
	if err := b.Set(keyMeta(metaEvidence), marshalCount(s.evidence+1)); err != nil {
		return err
	}
	if err := b.WriteSync(); err != nil {
		return err
	}

	s.evidence++
	s.metrics.Evidence.Set(float64(s.evidence))
	return nil
}

// ListEvidence returns up to max evidence records in (chain, proof id,
// validator index) order; max <= 0 returns everything.
func (s *Store) ListEvidence(max int) ([]*types.EquivocationEvidence, error) {
	iter, err := dbm.IteratePrefix(s.db, prefixToBytes(prefixEvidence))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*types.EquivocationEvidence
	for ; iter.Valid(); iter.Next() {
		if max > 0 && len(out) == max {
			break
		}
		var ev types.EquivocationEvidence
		if err := s.cdc.UnmarshalBinaryLengthPrefixed(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
		}
		out = append(out, &ev)
	}
	return out, iter.Error()
}

// Prune removes proofs completed below height, returning how many were
// dropped. The pending index and evidence are untouched: pending entries
// clear when their request goes terminal and evidence stays for audit.
func (s *Store) Prune(belowHeight int64) (int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	iter, err := dbm.IteratePrefix(s.db, prefixToBytes(prefixProofHeight))
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	b := s.db.NewBatch()
	defer b.Close()

	pruned := 0
	for ; iter.Valid(); iter.Next() {
		height, chain, id, err := parseProofHeightKey(iter.Key())
		if err != nil {
			return 0, err
		}
		if height >= belowHeight {
			break
		}
		if err := b.Delete(keyProof(chain, id)); err != nil {
			return 0, err
		}
		if err := b.Delete(iter.Key()); err != nil {
			return 0, err
		}
		pruned++
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if pruned == 0 {
		return 0, nil
	}

	proofs := s.proofs - int64(pruned)
	if err := b.Set(keyMeta(metaProofs), marshalCount(proofs)); err != nil {
		return 0, err
	}
	if err := b.WriteSync(); err != nil {
		return 0, err
	}

	s.proofs = proofs
	s.metrics.Proofs.Set(float64(proofs))
	s.metrics.PrunedProofs.Add(float64(pruned))
	return pruned, nil
}

// Info reports stored record counts.
type Info struct {
	Proofs   int64 `json:"proofs"`
	Pending  int64 `json:"pending_requests"`
	Evidence int64 `json:"evidence"`
}

// Info reports how many records of each kind the store holds.
func (s *Store) Info() Info {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return Info{Proofs: s.proofs, Pending: s.pending, Evidence: s.evidence}
}

func (s *Store) loadCount(name string) (int64, error) {
	bz, err := s.db.Get(keyMeta(name))
	if err != nil {
		return 0, err
	}
	if len(bz) != 8 {
		return 0, nil
	}
	return int64(binary.BigEndian.Uint64(bz)), nil
}

func marshalCount(n int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

func prefixToBytes(prefix int64) []byte {
	key, err := orderedcode.Append(nil, prefix)
	if err != nil {
		panic(err)
	}
	return key
}

func keyMeta(name string) []byte {
	key, err := orderedcode.Append(nil, prefixMeta, name)
	if err != nil {
		panic(err)
	}
	return key
}

func keyProof(chain types.ChainID, id uint64) []byte {
	key, err := orderedcode.Append(nil, prefixProof, int64(chain), int64(id))
	if err != nil {
		panic(err)
	}
	return key
}

func keyProofHeight(height int64, chain types.ChainID, id uint64) []byte {
	key, err := orderedcode.Append(nil, prefixProofHeight, height, int64(chain), int64(id))
	if err != nil {
		panic(err)
	}
	return key
}

func parseProofHeightKey(key []byte) (int64, types.ChainID, uint64, error) {
	var prefix, height, chain, id int64
	remaining, err := orderedcode.Parse(string(key), &prefix, &height, &chain, &id)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to parse proof height key: %w", err)
	}
	if len(remaining) != 0 || prefix != prefixProofHeight {
		return 0, 0, 0, fmt.Errorf("malformed proof height key %X", key)
	}
	return height, types.ChainID(chain), uint64(id), nil
}

func keyPending(chain types.ChainID, id uint64) []byte {
	key, err := orderedcode.Append(nil, prefixPending, int64(chain), int64(id))
	if err != nil {
		panic(err)
	}
	return key
}

func keyEvidence(chain types.ChainID, proofID uint64, index uint32) []byte {
	key, err := orderedcode.Append(nil, prefixEvidence, int64(chain), int64(proofID), int64(index))
	if err != nil {
		panic(err)
	}
	return key
}
