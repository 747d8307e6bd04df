package sharechain

import (
	"math/big"

	"github.com/arejula27/sharechain/pkg/util"
)

// Tracker is the append-only forest of shares: every share ever seen,
// indexed by hash, with enough bookkeeping to walk ancestors/descendants
// and to find the chain tips (heads) and the roots of locally-known runs
// (tails — shares whose parent hasn't arrived yet).
//
// forest.py's original Tracker incrementally maintains heads/tails/height
// via a union-merge scheme; that file wasn't available to port from; here
// Heads/Tails/GetHeight are recomputed by walking the forest on demand,
// which is the right trade for a structure bounded by a few thousand
// live shares (a day or so of a share chain) rather than millions.
type Tracker struct {
	items   map[[32]byte]*Share
	reverse map[[32]byte]map[[32]byte]struct{} // parent hash -> child hashes
}

func NewTracker() *Tracker {
	return &Tracker{
		items:   make(map[[32]byte]*Share),
		reverse: make(map[[32]byte]map[[32]byte]struct{}),
	}
}

func (t *Tracker) Has(hash [32]byte) bool {
	_, ok := t.items[hash]
	return ok
}

func (t *Tracker) Get(hash [32]byte) (*Share, bool) {
	s, ok := t.items[hash]
	return s, ok
}

func (t *Tracker) Len() int { return len(t.items) }

// Add inserts share into the forest. Re-adding an already-known hash is a
// no-op, matching the idempotent append-only semantics spec'd for the
// persistent stores.
func (t *Tracker) Add(share *Share) {
	hash := share.Hash()
	if _, exists := t.items[hash]; exists {
		return
	}
	t.items[hash] = share
	if t.reverse[share.PrevShareHash] == nil {
		t.reverse[share.PrevShareHash] = make(map[[32]byte]struct{})
	}
	t.reverse[share.PrevShareHash][hash] = struct{}{}
}

// Remove evicts a hash with no recorded children (a head); used by think()
// to prune bad heads that failed verification and aren't worth retaining.
func (t *Tracker) Remove(hash [32]byte) {
	share, ok := t.items[hash]
	if !ok {
		return
	}
	if children := t.reverse[share.PrevShareHash]; children != nil {
		delete(children, hash)
		if len(children) == 0 {
			delete(t.reverse, share.PrevShareHash)
		}
	}
	delete(t.reverse, hash)
	delete(t.items, hash)
}

// Heads returns every hash with no recorded child — local chain tips.
func (t *Tracker) Heads() map[[32]byte]struct{} {
	heads := make(map[[32]byte]struct{})
	for hash := range t.items {
		if children := t.reverse[hash]; len(children) == 0 {
			heads[hash] = struct{}{}
		}
	}
	return heads
}

// Tails returns, for every hash whose parent is unknown (a tail — the root
// of a locally-known run), the set of head hashes reachable by walking
// forward from it.
func (t *Tracker) Tails() map[[32]byte]map[[32]byte]struct{} {
	heads := t.Heads()
	tails := make(map[[32]byte]map[[32]byte]struct{})
	for head := range heads {
		cur := head
		for {
			share, ok := t.items[cur]
			if !ok {
				break
			}
			parent := share.PrevShareHash
			if _, ok := t.items[parent]; !ok {
				if tails[cur] == nil {
					tails[cur] = make(map[[32]byte]struct{})
				}
				tails[cur][head] = struct{}{}
				break
			}
			cur = parent
		}
	}
	return tails
}

// GetHeight walks from hash to the forest's root for that run, returning
// the number of steps taken.
func (t *Tracker) GetHeight(hash [32]byte) int {
	height, _ := t.GetHeightAndLast(hash)
	return height
}

// GetHeightAndLast walks backward from hash until it reaches a share whose
// parent is unknown, returning the number of shares walked and that
// share's parent hash (the "last" / tail-parent hash, possibly the zero
// hash for a genesis share).
func (t *Tracker) GetHeightAndLast(hash [32]byte) (height int, last [32]byte) {
	cur := hash
	for {
		share, ok := t.items[cur]
		if !ok {
			return height, cur
		}
		height++
		cur = share.PrevShareHash
	}
}

// GetNthParentHash returns the hash n steps back from hash.
func (t *Tracker) GetNthParentHash(hash [32]byte, n int) [32]byte {
	cur := hash
	for i := 0; i < n; i++ {
		share, ok := t.items[cur]
		if !ok {
			return cur
		}
		cur = share.PrevShareHash
	}
	return cur
}

// GetChain lazily yields up to n shares starting at hash and walking
// backward through PrevShareHash, stopping early if the forest runs out.
func (t *Tracker) GetChain(hash [32]byte, n int) func(yield func(*Share) bool) {
	return func(yield func(*Share) bool) {
		cur := hash
		for i := 0; i < n; i++ {
			share, ok := t.items[cur]
			if !ok {
				return
			}
			if !yield(share) {
				return
			}
			cur = share.PrevShareHash
		}
	}
}

// GetChainSlice materializes GetChain into a slice; convenience for callers
// that don't need lazy iteration.
func (t *Tracker) GetChainSlice(hash [32]byte, n int) []*Share {
	out := make([]*Share, 0, n)
	t.GetChain(hash, n)(func(s *Share) bool {
		out = append(out, s)
		return true
	})
	return out
}

// WorkDelta is the cumulative (work, min_work) between two points on a
// chain, expressed as attempts (difficulty-weighted share counts), mirror
// of forest.py's AttributeDelta with the work/min_work attributes OkayTracker
// installs.
type WorkDelta struct {
	Work    *big.Int
	MinWork *big.Int
}

// GetDelta sums per-share work for shares strictly between farHash
// (exclusive) and nearHash (inclusive) walking backward, i.e. the work
// contributed by (far, near].
func (t *Tracker) GetDelta(nearHash, farHash [32]byte) WorkDelta {
	work := new(big.Int)
	minWork := new(big.Int)
	cur := nearHash
	for cur != farHash {
		share, ok := t.items[cur]
		if !ok {
			break
		}
		work.Add(work, util.TargetToAverageAttempts(share.ShareTarget))
		if share.Contents != nil {
			minWork.Add(minWork, util.TargetToAverageAttempts(share.Contents.MaxTarget()))
		}
		cur = share.PrevShareHash
	}
	return WorkDelta{Work: work, MinWork: minWork}
}

// VerifiedTracker holds the strict subset of a Tracker's hashes that have
// passed ShareVariant.Check — forest.py's SubsetTracker. Its Heads/Tails,
// GetHeight/GetChain and GetDelta all walk only the verified subset, holding
// the same *Share values the parent Tracker does; its GetDelta leaves
// MinWork at zero.
type VerifiedTracker struct {
	parent  *Tracker
	items   map[[32]byte]*Share
	reverse map[[32]byte]map[[32]byte]struct{}
}

func NewVerifiedTracker(parent *Tracker) *VerifiedTracker {
	return &VerifiedTracker{
		parent:  parent,
		items:   make(map[[32]byte]*Share),
		reverse: make(map[[32]byte]map[[32]byte]struct{}),
	}
}

func (v *VerifiedTracker) Has(hash [32]byte) bool {
	_, ok := v.items[hash]
	return ok
}

// Add promotes hash into the verified subset; hash must already be present
// in the parent Tracker.
func (v *VerifiedTracker) Add(hash [32]byte) bool {
	share, ok := v.parent.Get(hash)
	if !ok {
		return false
	}
	if _, exists := v.items[hash]; exists {
		return true
	}
	v.items[hash] = share
	if v.reverse[share.PrevShareHash] == nil {
		v.reverse[share.PrevShareHash] = make(map[[32]byte]struct{})
	}
	v.reverse[share.PrevShareHash][hash] = struct{}{}
	return true
}

func (v *VerifiedTracker) Heads() map[[32]byte]struct{} {
	heads := make(map[[32]byte]struct{})
	for hash := range v.items {
		if children := v.reverse[hash]; len(children) == 0 {
			heads[hash] = struct{}{}
		}
	}
	return heads
}

func (v *VerifiedTracker) Tails() map[[32]byte]map[[32]byte]struct{} {
	heads := v.Heads()
	tails := make(map[[32]byte]map[[32]byte]struct{})
	for head := range heads {
		cur := head
		for {
			share, ok := v.items[cur]
			if !ok {
				break
			}
			parent := share.PrevShareHash
			if _, ok := v.items[parent]; !ok {
				if tails[cur] == nil {
					tails[cur] = make(map[[32]byte]struct{})
				}
				tails[cur][head] = struct{}{}
				break
			}
			cur = parent
		}
	}
	return tails
}

func (v *VerifiedTracker) GetHeight(hash [32]byte) int {
	height, _ := v.GetHeightAndLast(hash)
	return height
}

func (v *VerifiedTracker) GetHeightAndLast(hash [32]byte) (height int, last [32]byte) {
	cur := hash
	for {
		share, ok := v.items[cur]
		if !ok {
			return height, cur
		}
		height++
		cur = share.PrevShareHash
	}
}

func (v *VerifiedTracker) GetNthParentHash(hash [32]byte, n int) [32]byte {
	cur := hash
	for i := 0; i < n; i++ {
		share, ok := v.items[cur]
		if !ok {
			return cur
		}
		cur = share.PrevShareHash
	}
	return cur
}

func (v *VerifiedTracker) GetChain(hash [32]byte, n int) func(yield func(*Share) bool) {
	return func(yield func(*Share) bool) {
		cur := hash
		for i := 0; i < n; i++ {
			share, ok := v.items[cur]
			if !ok {
				return
			}
			if !yield(share) {
				return
			}
			cur = share.PrevShareHash
		}
	}
}

func (v *VerifiedTracker) GetDelta(nearHash, farHash [32]byte) WorkDelta {
	work := new(big.Int)
	cur := nearHash
	for cur != farHash {
		share, ok := v.items[cur]
		if !ok {
			break
		}
		work.Add(work, util.TargetToAverageAttempts(share.ShareTarget))
		cur = share.PrevShareHash
	}
	return WorkDelta{Work: work, MinWork: new(big.Int)}
}

// GetWork returns the cumulative work of the run ending at hash, for
// comparing verified heads in think().
func (v *VerifiedTracker) GetWork(hash [32]byte) *big.Int {
	_, last := v.GetHeightAndLast(hash)
	return v.GetDelta(hash, last).Work
}
