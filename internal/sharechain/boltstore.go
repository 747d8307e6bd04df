package sharechain

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math/big"

	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	sharesBucket = []byte("shares")
	metaBucket   = []byte("meta")
	tipKey       = []byte("tip")
)

// boltShareRecord is the gob-encoded payload stored per share. Contents is
// kept in its wire form (type ID plus AsShare payload) rather than gob'd
// directly, since ShareVariant is an interface and VersionedShare's own
// codec already knows how to round-trip every version exactly.
type boltShareRecord struct {
	Header        ShareHeader
	ShareVersion  uint32
	PrevShareHash [32]byte
	ShareTarget   []byte // big.Int bytes
	MinerAddress  string
	CoinbaseTx    []byte
	ContentsType  uint64
	ContentsData  []byte
}

// BoltStore is a bbolt-backed keyed index of shares, fronted by a small LRU
// read cache so repeated ancestor walks (think(), payout generation) don't
// pay a disk round trip per hop.
type BoltStore struct {
	db    *bolt.DB
	log   *zap.Logger
	cache *lru.Cache[[32]byte, *Share]
	count int
	net   Params
}

func NewBoltStore(path string, log *zap.Logger, net Params) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("sharechain: open bolt store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(sharesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("sharechain: init bolt buckets: %w", err)
	}

	cache, err := lru.New[[32]byte, *Share](4096)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sharechain: init read cache: %w", err)
	}

	count := 0
	db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(sharesBucket).Stats().KeyN
		return nil
	})

	return &BoltStore{db: db, log: log, cache: cache, count: count, net: net}, nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

// Add inserts share, keyed by its hash. Re-adding an existing hash is an
// error, since the keyed index (unlike Tracker) is meant to catch a caller
// accidentally double-persisting the same share.
func (b *BoltStore) Add(share *Share) error {
	hash := share.Hash()
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(sharesBucket)
		if bucket.Get(hash[:]) != nil {
			return fmt.Errorf("sharechain: share %x already stored", hash)
		}
		data, err := encodeShareRecord(share)
		if err != nil {
			return err
		}
		return bucket.Put(hash[:], data)
	})
	if err != nil {
		return err
	}
	b.count++
	b.cache.Add(hash, share)
	return nil
}

func (b *BoltStore) Get(hash [32]byte) (*Share, bool) {
	if s, ok := b.cache.Get(hash); ok {
		return s, true
	}
	var share *Share
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(sharesBucket).Get(hash[:])
		if data == nil {
			return nil
		}
		s, err := decodeShareRecord(b.net, data)
		if err != nil {
			return err
		}
		share = s
		return nil
	})
	if err != nil {
		b.log.Warn("failed to decode stored share", zap.Error(err))
		return nil, false
	}
	if share == nil {
		return nil, false
	}
	b.cache.Add(hash, share)
	return share, true
}

func (b *BoltStore) Count() int { return b.count }

func (b *BoltStore) SetTip(hash [32]byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(tipKey, hash[:])
	})
}

func (b *BoltStore) Tip() (*Share, bool) {
	var hash [32]byte
	found := false
	b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(metaBucket).Get(tipKey)
		if data == nil {
			return nil
		}
		copy(hash[:], data)
		found = true
		return nil
	})
	if !found {
		return nil, false
	}
	return b.Get(hash)
}

// GetAncestors walks up to n shares backward from hash, inclusive, stopping
// early if the store runs out of history.
func (b *BoltStore) GetAncestors(hash [32]byte, n int) []*Share {
	out := make([]*Share, 0, n)
	cur := hash
	for i := 0; i < n; i++ {
		share, ok := b.Get(cur)
		if !ok {
			break
		}
		out = append(out, share)
		cur = share.PrevShareHash
	}
	return out
}

func encodeShareRecord(share *Share) ([]byte, error) {
	rec := boltShareRecord{
		Header:        share.Header,
		ShareVersion:  share.ShareVersion,
		PrevShareHash: share.PrevShareHash,
		MinerAddress:  share.MinerAddress,
		CoinbaseTx:    share.CoinbaseTx,
	}
	if share.ShareTarget != nil {
		rec.ShareTarget = share.ShareTarget.Bytes()
	}
	if share.Contents != nil {
		rec.ContentsType, rec.ContentsData = share.Contents.AsShare()
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		return nil, fmt.Errorf("sharechain: encode share record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeShareRecord(net Params, data []byte) (*Share, error) {
	var rec boltShareRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("sharechain: decode share record: %w", err)
	}
	share := &Share{
		Header:        rec.Header,
		ShareVersion:  rec.ShareVersion,
		PrevShareHash: rec.PrevShareHash,
		MinerAddress:  rec.MinerAddress,
		CoinbaseTx:    rec.CoinbaseTx,
	}
	if len(rec.ShareTarget) > 0 {
		share.ShareTarget = new(big.Int).SetBytes(rec.ShareTarget)
	}
	if rec.ContentsData != nil {
		loaded, err := LoadShare(net, rec.ContentsType, rec.ContentsData)
		if err != nil {
			return nil, fmt.Errorf("sharechain: decode stored share contents: %w", err)
		}
		share.Contents = loaded.Contents
	}
	return share, nil
}
