package sharechain

import (
	"encoding/binary"

	"github.com/arejula27/sharechain/pkg/pack"
	"github.com/arejula27/sharechain/pkg/util"
)

// TxIn is a transaction input; PreviousHash/PreviousIndex/Sequence are always the
// coinbase sentinel values for a generation transaction (32 zero bytes +
// 0xffffffff index, 0xffffffff sequence).
type TxIn struct {
	PreviousHash  [32]byte
	PreviousIndex uint32
	Script        []byte
	Sequence      uint32
}

type TxOut struct {
	Value  int64
	Script []byte
}

// GenTx is the coinbase (generation) transaction embedded in a share,
// packed in the legacy pre-segwit Bitcoin wire format that data.py's
// tx_type produces.
type GenTx struct {
	Version  int32
	TxIns    []TxIn
	TxOuts   []TxOut
	LockTime uint32
}

func (tx *GenTx) Pack() []byte {
	w := pack.NewWriter()
	w.Uint32(uint32(tx.Version))
	w.VarInt(uint64(len(tx.TxIns)))
	for _, in := range tx.TxIns {
		w.Hash256(in.PreviousHash)
		w.Uint32(in.PreviousIndex)
		w.VarBytes(in.Script)
		w.Uint32(in.Sequence)
	}
	w.VarInt(uint64(len(tx.TxOuts)))
	for _, out := range tx.TxOuts {
		var v [8]byte
		binary.LittleEndian.PutUint64(v[:], uint64(out.Value))
		w.Raw(v[:])
		w.VarBytes(out.Script)
	}
	w.Uint32(tx.LockTime)
	return w.Bytes()
}

func (tx *GenTx) Hash() [32]byte {
	return util.DoubleSHA256(tx.Pack())
}

// hashPair is the internal node hash of a binary merkle tree, Bitcoin's
// double-SHA256 of the concatenated child hashes.
func hashPair(left, right [32]byte) [32]byte {
	buf := make([]byte, 64)
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return util.DoubleSHA256(buf)
}

// CalculateMerkleLink builds the branch (sibling hash per level) needed to
// recompute the merkle root for hashes[index] without the rest of the
// leaves — the generalized form of Bitcoin's merkle branch construction,
// used both for the gentx-to-block merkle_link (index always 0, since the
// gentx is always the first transaction) and for ref_merkle_link.
func CalculateMerkleLink(hashes [][32]byte, index int) [][32]byte {
	if len(hashes) <= 1 {
		return nil
	}
	level := append([][32]byte(nil), hashes...)
	idx := index
	var branch [][32]byte
	for len(level) > 1 {
		var sibling [32]byte
		if idx%2 == 0 {
			if idx+1 < len(level) {
				sibling = level[idx+1]
			} else {
				sibling = level[idx]
			}
		} else {
			sibling = level[idx-1]
		}
		branch = append(branch, sibling)

		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		level = next
		idx /= 2
	}
	return branch
}

// CheckMerkleLink recomputes a merkle root from a leaf hash and its branch.
// An empty branch is the identity function, which is exactly how
// ref_merkle_link is used: the ref hash's "tree" is a single element.
func CheckMerkleLink(leaf [32]byte, branch [][32]byte, index int) [32]byte {
	h := leaf
	idx := index
	for _, sib := range branch {
		if idx%2 == 0 {
			h = hashPair(h, sib)
		} else {
			h = hashPair(sib, h)
		}
		idx /= 2
	}
	return h
}

// MerkleLink is the (branch, index) pair committing a leaf to a root.
type MerkleLink struct {
	Branch [][32]byte
	Index  int
}
