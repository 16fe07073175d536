package aggregator

import (
	"sort"
	"sync"

	"github.com/notarynet/notary/types"
)

// completedSequence tracks the completed proof ids of one chain as a sorted
// list whose contiguous prefix collapses into a single watermark entry. At
// least two entries are kept so out-of-order completion of the first two ids
// cannot wedge the watermark.
type completedSequence struct {
	ids []uint64
}

// markComplete records id, reporting whether it was newly recorded.
func (s *completedSequence) markComplete(id uint64) bool {
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	if i < len(s.ids) && s.ids[i] == id {
		return false
	}
	s.ids = append(s.ids, 0)
	copy(s.ids[i+1:], s.ids[i:])
	s.ids[i] = id
	s.ids = compactSequence(s.ids)
	return true
}

// isComplete reports whether id completed: either it is listed, or it sits
// at or below the watermark entry.
func (s *completedSequence) isComplete(id uint64) bool {
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	if i < len(s.ids) && s.ids[i] == id {
		return true
	}
	return len(s.ids) > 1 && id <= s.ids[0]
}

// watermark returns the highest id below which everything completed.
func (s *completedSequence) watermark() (uint64, bool) {
	if len(s.ids) == 0 {
		return 0, false
	}
	return s.ids[0], true
}

// compactSequence collapses a sorted run of consecutive ids into its last
// member, always keeping at least two entries.
func compactSequence(ids []uint64) []uint64 {
	if len(ids) < 3 {
		return ids
	}
	cut := 0
	for i := 0; i < len(ids)-2; i++ {
		if ids[i]+1 != ids[i+1] {
			break
		}
		cut = i + 1
	}
	return ids[cut:]
}

// watermarkSet is the concurrency-safe per-chain completion index. The
// gossip fast path consults it to drop witnesses for finished proofs before
// any signature work.
type watermarkSet struct {
	mtx     sync.RWMutex
	byChain map[types.ChainID]*completedSequence
}

func newWatermarkSet() *watermarkSet {
	return &watermarkSet{byChain: make(map[types.ChainID]*completedSequence)}
}

func (ws *watermarkSet) markComplete(chain types.ChainID, id uint64) bool {
	ws.mtx.Lock()
	defer ws.mtx.Unlock()

	seq, ok := ws.byChain[chain]
	if !ok {
		seq = &completedSequence{}
		ws.byChain[chain] = seq
	}
	return seq.markComplete(id)
}

func (ws *watermarkSet) isComplete(chain types.ChainID, id uint64) bool {
	ws.mtx.RLock()
	defer ws.mtx.RUnlock()

	seq, ok := ws.byChain[chain]
	return ok && seq.isComplete(id)
}

func (ws *watermarkSet) watermark(chain types.ChainID) (uint64, bool) {
	ws.mtx.RLock()
	defer ws.mtx.RUnlock()

	seq, ok := ws.byChain[chain]
	if !ok {
		return 0, false
	}
	return seq.watermark()
}
