package sharechain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/arejula27/sharechain/pkg/pack"
	"github.com/arejula27/sharechain/pkg/util"
)

// donationScriptHex is P2Pool's well-known donation output script — the
// destination that collects whatever of a share's subsidy isn't claimed by
// weighted payouts or the block finder's 0.5% cut.
const donationScriptHex = "4104ffd03de44a6e11b9917f3a29f9443283d9871c9d743ef30d5eddcd37094b64d1b3d8090496b53256786bf5c82932ec23c3b74d9f05a6f95a8b5529352656664bac"

var DonationScript = mustHex(donationScriptHex)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// PeerMisbehavingError marks a check failure that should disconnect the
// peer that sent the offending share (spec's peer-facing error kind).
type PeerMisbehavingError struct{ Reason string }

func (e *PeerMisbehavingError) Error() string { return "peer misbehaving: " + e.Reason }

// InvariantError marks an internal consistency failure in a share's own
// contents — the share is rejected, never the connection.
type InvariantError struct{ Reason string }

func (e *InvariantError) Error() string { return "share invariant violated: " + e.Reason }

// StaleInfo records why a share's reward was reduced, if at all.
type StaleInfo uint8

const (
	StaleNone   StaleInfo = 0
	StaleOrphan StaleInfo = 253
	StaleDOA    StaleInfo = 254
)

// ShareData is the common payload every version commits to: who mined the
// share, what they'd like paid, and the coinbase extranonce bytes.
type ShareData struct {
	PreviousShareHash [32]byte
	HasPrevious       bool
	Coinbase          []byte
	Nonce             uint32
	PubkeyHash        [20]byte
	Subsidy           int64
	Donation          uint16 // parts per 65535 of the subsidy diverted to DonationScript
	Stale             StaleInfo
	DesiredVersion    uint64
}

// TxHashRef compresses a reference to another share's new transaction, by
// walking ShareCount parents back and indexing into that share's own
// NewTransactionHashes.
type TxHashRef struct {
	ShareCount uint64
	TxCount    uint64
}

// ShareInfo is the full common-attributes record hashed into ref_type —
// two shares with identical ShareInfo produce byte-identical gentx.
type ShareInfo struct {
	ShareData            ShareData
	NewTransactionHashes  [][32]byte  // empty for V7, which never compresses tx refs
	TransactionHashRefs   []TxHashRef // empty for V7
	FarShareHash          [32]byte
	HasFarShareHash       bool
	MaxBits               uint32 // compact target, upper bound derived from network hash rate
	Bits                  uint32 // compact target, this share's actual declared target
	Timestamp             uint32
}

// versionSpec is the small, data-driven description of what differs
// between V7/V8/V9 — everything else (the weighted payout split, the
// dests cap, the merkle commitments) is shared engine code. This plays
// the role the Python original gives to three separate classes; Go
// prefers one type parameterized by a descriptor over three
// near-duplicate structs.
type versionSpec struct {
	version          int
	successor        int // 0 means none
	hasTxRefs        bool // V7 never compresses transaction references
	hasLastTxoutNonce bool // V9 adds a 4-byte nonce after the ref hash in the gentx script
	refHashScriptTag  byte // 0x20 (32) for V7/V8, 0x24 (36) for V9
}

var (
	specV7 = &versionSpec{version: 7, successor: 9, hasTxRefs: false, hasLastTxoutNonce: false, refHashScriptTag: 0x20}
	specV8 = &versionSpec{version: 8, successor: 9, hasTxRefs: true, hasLastTxoutNonce: false, refHashScriptTag: 0x20}
	specV9 = &versionSpec{version: 9, successor: 0, hasTxRefs: true, hasLastTxoutNonce: true, refHashScriptTag: 0x24}
)

// ShareVariant is the capability set every wire version implements: the
// common set of operations the tracker, think(), and the stores drive a
// share through without caring which version it is.
type ShareVariant interface {
	Version() int
	Successor() int
	ShareInfo() ShareInfo
	MaxTarget() *big.Int
	Target() *big.Int
	HeaderPreviousBlock() [32]byte
	HeaderBits() uint32
	HeaderHash() [32]byte
	PowHash() [32]byte

	AsShare() (typeID uint64, contents []byte)
	Check(tracker *Tracker, net Params) (*GenTx, error)
	ShouldPunishReason(previousBlock [32]byte, bits uint32, tracker *Tracker, knownTxs map[[32]byte][]byte) (int, string)
	AsBlock(tracker *Tracker, knownTxs map[[32]byte][]byte) ([]byte, bool)
}

// VersionedShare is the shared implementation backing ShareV7/V8/V9.
type VersionedShare struct {
	spec *versionSpec

	MinHeader      ShareHeader // PrevBlockHash/Timestamp/Bits/Nonce; MerkleRoot filled in from MerkleLink
	Info           ShareInfo
	RefMerkleLink  MerkleLink
	LastTxoutNonce uint32
	HashLink       HashLink
	MerkleLink     MerkleLink

	headerHash [32]byte
	gentxHash  [32]byte // gentx hash committed to by HashLink, computed at construction time
	timeSeen   int64

	gentx *GenTx // cached by Check, consumed by AsBlock
}

func (s *VersionedShare) Version() int    { return s.spec.version }
func (s *VersionedShare) Successor() int  { return s.spec.successor }
func (s *VersionedShare) ShareInfo() ShareInfo { return s.Info }
func (s *VersionedShare) MaxTarget() *big.Int { return util.CompactToTarget(s.Info.MaxBits) }
func (s *VersionedShare) Target() *big.Int    { return util.CompactToTarget(s.Info.Bits) }
func (s *VersionedShare) HeaderPreviousBlock() [32]byte { return s.MinHeader.PrevBlockHash }
func (s *VersionedShare) HeaderBits() uint32            { return s.MinHeader.Bits }
func (s *VersionedShare) HeaderHash() [32]byte          { return s.headerHash }

// PowHash stands in for the parent chain's consensus proof-of-work
// function (e.g. scrypt, SHA256d, or an ASIC-resistant hash depending on
// which coin the pool mines): that function is chain-specific and lives
// outside this module's scope, so PowHash here is the header's
// double-SHA256, matching Bitcoin itself and letting tests exercise the
// comparison logic without a pluggable hash.
func (s *VersionedShare) PowHash() [32]byte { return s.headerHash }

func (s *VersionedShare) refHash(net Params) [32]byte {
	return getRefHash(net, s.spec, s.Info, s.RefMerkleLink)
}

func getRefHash(net Params, spec *versionSpec, info ShareInfo, link MerkleLink) [32]byte {
	w := pack.NewWriter()
	w.FixedBytes(net.Identifier)
	packShareInfo(w, spec, info)
	leaf := util.DoubleSHA256(w.Bytes())
	return CheckMerkleLink(leaf, link.Branch, link.Index)
}

func packShareInfo(w *pack.Writer, spec *versionSpec, info ShareInfo) {
	w.PossiblyNone(info.ShareData.HasPrevious, info.ShareData.PreviousShareHash)
	w.VarBytes(info.ShareData.Coinbase)
	w.Uint32(info.ShareData.Nonce)
	w.FixedBytes(info.ShareData.PubkeyHash[:])
	w.Uint64(uint64(info.ShareData.Subsidy))
	w.Uint16(info.ShareData.Donation)
	w.Enum8(uint8(info.ShareData.Stale))
	w.VarInt(info.ShareData.DesiredVersion)
	if spec.hasTxRefs {
		pack.WriteList(w, info.NewTransactionHashes, func(w *pack.Writer, h [32]byte) { w.Hash256(h) })
		pack.WriteList(w, info.TransactionHashRefs, func(w *pack.Writer, r TxHashRef) {
			w.VarInt(r.ShareCount)
			w.VarInt(r.TxCount)
		})
	}
	w.PossiblyNone(info.HasFarShareHash, info.FarShareHash)
	w.Uint32(info.MaxBits)
	w.Uint32(info.Bits)
	w.Uint32(info.Timestamp)
}

func sameShareData(a, b ShareData) bool {
	return a.PreviousShareHash == b.PreviousShareHash &&
		a.HasPrevious == b.HasPrevious &&
		bytes.Equal(a.Coinbase, b.Coinbase) &&
		a.Nonce == b.Nonce &&
		a.PubkeyHash == b.PubkeyHash &&
		a.Subsidy == b.Subsidy &&
		a.Donation == b.Donation &&
		a.Stale == b.Stale &&
		a.DesiredVersion == b.DesiredVersion
}

func sameShareInfo(a, b ShareInfo) bool {
	if !sameShareData(a.ShareData, b.ShareData) {
		return false
	}
	if a.FarShareHash != b.FarShareHash || a.HasFarShareHash != b.HasFarShareHash {
		return false
	}
	if a.MaxBits != b.MaxBits || a.Bits != b.Bits || a.Timestamp != b.Timestamp {
		return false
	}
	if len(a.NewTransactionHashes) != len(b.NewTransactionHashes) || len(a.TransactionHashRefs) != len(b.TransactionHashRefs) {
		return false
	}
	for i := range a.NewTransactionHashes {
		if a.NewTransactionHashes[i] != b.NewTransactionHashes[i] {
			return false
		}
	}
	for i := range a.TransactionHashRefs {
		if a.TransactionHashRefs[i] != b.TransactionHashRefs[i] {
			return false
		}
	}
	return true
}

// AsShare re-serializes this share for transport/storage; type IDs 4/5 are
// V7's legacy split (without/with inline transactions) carried verbatim,
// 8/9 are the flat envelope used by V8/V9.
func (s *VersionedShare) AsShare() (uint64, []byte) {
	w := pack.NewWriter()
	w.Uint32(uint32(s.MinHeader.Version))
	w.PossiblyNone(true, s.MinHeader.PrevBlockHash)
	w.Uint32(s.MinHeader.Timestamp)
	w.Uint32(s.MinHeader.Bits)
	w.Uint32(s.MinHeader.Nonce)
	packShareInfo(w, s.spec, s.Info)
	pack.WriteList(w, s.RefMerkleLink.Branch, func(w *pack.Writer, h [32]byte) { w.Hash256(h) })
	w.VarInt(uint64(s.RefMerkleLink.Index))
	if s.spec.hasLastTxoutNonce {
		w.Uint32(s.LastTxoutNonce)
	}
	w.VarBytes(s.HashLink.State)
	w.Uint64(s.HashLink.Length)
	pack.WriteList(w, s.MerkleLink.Branch, func(w *pack.Writer, h [32]byte) { w.Hash256(h) })
	w.VarInt(uint64(s.MerkleLink.Index))
	return uint64(s.wireTypeID()), w.Bytes()
}

// wireTypeID maps a share's version to the type ID it's framed under on the
// wire. V8/V9 use their version number directly; V7's wire type predates
// versioned type IDs and instead distinguishes share1a (type 4, no inline
// transactions) from share1b (type 5, with them) — this implementation
// always carries both halves together, so it always emits type 5.
func (s *VersionedShare) wireTypeID() int {
	if s.spec.version == 7 {
		return 5
	}
	return s.spec.version
}

func fmtErr(format string, args ...any) error { return fmt.Errorf(format, args...) }

// hashLinkTail builds the bytes a gentx's serialized prefix omits: the ref
// hash, V9's extra last_txout_nonce, and the always-zero lock_time. This is
// exactly the tail HashLink.HashAfter needs to complete into a real gentx
// hash, both at construction time (from the share's own fields) and inside
// generate_transaction's sealing closure (from the just-computed ref hash).
func hashLinkTail(spec *versionSpec, refHash [32]byte, lastTxoutNonce uint32) []byte {
	tail := make([]byte, 0, 40)
	tail = append(tail, refHash[:]...)
	if spec.hasLastTxoutNonce {
		tail = append(tail, util.Uint32ToBytes(lastTxoutNonce)...)
	}
	tail = append(tail, util.Uint32ToBytes(0)...) // lock_time
	return tail
}
