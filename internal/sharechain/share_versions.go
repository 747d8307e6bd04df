package sharechain

import (
	"fmt"

	"github.com/arejula27/sharechain/pkg/util"
)

// NewShareV7 builds a V7 share: the legacy variant that never compresses
// transaction references (every transaction a V7 share includes is a "new"
// one from the chain's perspective).
func NewShareV7(net Params, header ShareHeader, info ShareInfo, refLink MerkleLink, hashLink HashLink, merkleLink MerkleLink) (*VersionedShare, error) {
	return newVersionedShare(net, specV7, header, info, refLink, 0, hashLink, merkleLink)
}

// NewShareV8 builds a V8 share: adds transaction-hash-reference compression
// over V7, but no last_txout_nonce.
func NewShareV8(net Params, header ShareHeader, info ShareInfo, refLink MerkleLink, hashLink HashLink, merkleLink MerkleLink) (*VersionedShare, error) {
	return newVersionedShare(net, specV8, header, info, refLink, 0, hashLink, merkleLink)
}

// NewShareV9 builds a V9 share: adds last_txout_nonce, giving the gentx's
// ref-commitment script tail 36 bytes instead of 32.
func NewShareV9(net Params, header ShareHeader, info ShareInfo, refLink MerkleLink, lastTxoutNonce uint32, hashLink HashLink, merkleLink MerkleLink) (*VersionedShare, error) {
	return newVersionedShare(net, specV9, header, info, refLink, lastTxoutNonce, hashLink, merkleLink)
}

// newVersionedShare applies the construction-time checks every version's own
// __init__ makes in data.py before accepting a share's bytes at all: a
// version-aware coinbase length bound, a capped merkle branch depth, the two
// transaction-hash-ref sanity asserts, proof-of-work against the share's own
// declared target, and (V8/V9 only) that declared target against the
// network's MAX_TARGET ceiling.
//
// The 10%-drift (bits vs max_bits) and timestamp-window invariants are
// deliberately NOT checked here: data.py's own Share/NewShare/NewNewShare
// constructors don't check them either — they only surface transitively,
// when check() re-derives share_info via generate_transaction and compares
// it against the share actually received.
func newVersionedShare(net Params, spec *versionSpec, header ShareHeader, info ShareInfo, refLink MerkleLink, lastTxoutNonce uint32, hashLink HashLink, merkleLink MerkleLink) (*VersionedShare, error) {
	coinbaseLen := len(info.ShareData.Coinbase)
	if spec.hasTxRefs {
		if coinbaseLen < 2 || coinbaseLen > 100 {
			return nil, &PeerMisbehavingError{Reason: "coinbase length out of range"}
		}
	} else if coinbaseLen > 100 {
		return nil, &PeerMisbehavingError{Reason: "coinbase length out of range"}
	}

	if len(merkleLink.Branch) > 16 {
		return nil, &PeerMisbehavingError{Reason: "merkle branch too long"}
	}

	if spec.hasTxRefs {
		for _, ref := range info.TransactionHashRefs {
			if ref.ShareCount >= 110 {
				return nil, &InvariantError{Reason: "transaction_hash_ref share_count out of range"}
			}
		}
		for i := range info.NewTransactionHashes {
			found := false
			for _, ref := range info.TransactionHashRefs {
				if ref.ShareCount == 0 && ref.TxCount == uint64(i) {
					found = true
					break
				}
			}
			if !found {
				return nil, &InvariantError{Reason: "new transaction hash missing its self-reference"}
			}
		}
	}

	target := util.CompactToTarget(info.Bits)
	if spec.hasTxRefs {
		maxTarget := net.MaxTarget
		if maxTarget != nil && target.Cmp(maxTarget) > 0 {
			return nil, &PeerMisbehavingError{Reason: "share target exceeds network max target"}
		}
	}

	ref := getRefHash(net, spec, info, refLink)
	tail := hashLinkTail(spec, ref, lastTxoutNonce)
	gentxHash, err := hashLink.HashAfter(tail)
	if err != nil {
		return nil, fmt.Errorf("sharechain: compute gentx hash: %w", err)
	}

	filled := header
	filled.MerkleRoot = CheckMerkleLink(gentxHash, merkleLink.Branch, merkleLink.Index)
	headerHash := filled.Hash()

	if !util.HashMeetsTarget(headerHash, target) {
		return nil, &PeerMisbehavingError{Reason: "share proof-of-work does not meet its declared target"}
	}

	return &VersionedShare{
		spec:           spec,
		MinHeader:      filled,
		Info:           info,
		RefMerkleLink:  refLink,
		LastTxoutNonce: lastTxoutNonce,
		HashLink:       hashLink,
		MerkleLink:     merkleLink,
		headerHash:     headerHash,
		gentxHash:      gentxHash,
	}, nil
}

// specForVersion resolves a wire version number to its versionSpec, the Go
// counterpart of data.py's share_versions registry keyed by VERSION.
func specForVersion(version int) (*versionSpec, error) {
	switch version {
	case 7:
		return specV7, nil
	case 8:
		return specV8, nil
	case 9:
		return specV9, nil
	default:
		return nil, &PeerMisbehavingError{Reason: fmt.Sprintf("unsupported share version %d", version)}
	}
}

// LoadShare decodes a wire-format share envelope (type ID plus payload) into
// a *Share with Contents populated, dispatching on type the way data.py's
// load_share does: types 0-3 are retired pre-P2SH formats this
// implementation never mined and rejects outright; 4/5 are V7's legacy
// share1a/share1b split; 8/9 are the flat V8/V9 envelope.
func LoadShare(net Params, typeID uint64, data []byte) (*Share, error) {
	switch typeID {
	case 0, 1, 2, 3:
		return nil, &PeerMisbehavingError{Reason: "obsolete share type"}
	case 4, 5, 8, 9:
		return decodeVersionedShare(net, typeID, data)
	default:
		return nil, &PeerMisbehavingError{Reason: fmt.Sprintf("unknown share type %d", typeID)}
	}
}
