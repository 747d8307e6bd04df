// Package sharechain implements the append-only forest of shares that make
// up a p2pool share chain: wire-format share variants, the weight
// aggregation skiplist, the think() head-selection algorithm, and the
// durable stores shares are persisted through.
package sharechain

import (
	"math/big"
	"time"

	"github.com/arejula27/sharechain/pkg/util"
)

// ShareHeader is the Bitcoin block header every share variant carries: a
// share is always simultaneously a candidate Bitcoin block, so its header
// is serialized and hashed exactly like one.
type ShareHeader struct {
	Version       int32
	PrevBlockHash [32]byte
	MerkleRoot    [32]byte
	Timestamp     uint32
	Bits          uint32
	Nonce         uint32
}

// Serialize produces the canonical 80-byte Bitcoin block header encoding.
func (h *ShareHeader) Serialize() []byte {
	w := make([]byte, 0, 80)
	w = append(w, util.Uint32ToBytes(uint32(h.Version))...)
	w = append(w, h.PrevBlockHash[:]...)
	w = append(w, h.MerkleRoot[:]...)
	w = append(w, util.Uint32ToBytes(h.Timestamp)...)
	w = append(w, util.Uint32ToBytes(h.Bits)...)
	w = append(w, util.Uint32ToBytes(h.Nonce)...)
	return w
}

// Hash computes the double-SHA256 block header hash.
func (h *ShareHeader) Hash() [32]byte {
	return util.DoubleSHA256(h.Serialize())
}

// Share is the common, version-agnostic view of a share used by the
// tracker, the stores, and think(): enough to walk the forest and check
// proof-of-work without decoding version-specific contents. Contents holds
// the full decoded wire record (§4.3) when available, needed for check(),
// should_punish_reason(), and generate_transaction().
type Share struct {
	Header ShareHeader

	ShareVersion  uint32
	PrevShareHash [32]byte
	ShareTarget   *big.Int
	MinerAddress  string
	CoinbaseTx    []byte

	Contents ShareVariant

	hash *[32]byte
}

// Hash returns the share's hash (its Bitcoin block header hash), cached
// after the first computation since a Share's fields never change in
// place once built.
func (s *Share) Hash() [32]byte {
	if s.hash != nil {
		return *s.hash
	}
	h := s.Header.Hash()
	s.hash = &h
	return h
}

func (s *Share) Time() time.Time {
	return time.Unix(int64(s.Header.Timestamp), 0)
}

func (s *Share) MeetsTarget(target *big.Int) bool {
	return util.HashMeetsTarget(s.Hash(), target)
}

func (s *Share) MeetsShareTarget() bool {
	if s.ShareTarget == nil {
		return false
	}
	return s.MeetsTarget(s.ShareTarget)
}

func (s *Share) MeetsBitcoinTarget() bool {
	return s.MeetsTarget(util.CompactToTarget(s.Header.Bits))
}

// IsBlock reports whether this share is also a valid Bitcoin block —
// P2Pool's mechanism for submitting blocks is simply mining a share that
// happens to meet the much harder Bitcoin target.
func (s *Share) IsBlock() bool {
	return s.MeetsBitcoinTarget()
}

func (s *Share) HashHex() string {
	return util.HashToHex(s.Hash())
}

func (s *Share) PrevShareHashHex() string {
	return util.HashToHex(s.PrevShareHash)
}

// A share's height is not stored on Share itself: it is computed by whichever
// Tracker the share is added to (Tracker.GetHeight), since two trackers
// holding different forks can disagree about it for the very same Share value.
