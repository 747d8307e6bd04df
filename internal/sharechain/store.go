package sharechain

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/arejula27/sharechain/pkg/pack"
	"github.com/arejula27/sharechain/pkg/util"
)

const (
	recordTypeVerifiedHash = 2
	recordTypeShare        = 5

	rotationSizeBytes = 10 * 1024 * 1024
)

// LoadedShareKind tags what a replayed log line yielded, mirroring the two
// tuple shapes data.py's get_shares() generator produces.
type LoadedShareKind int

const (
	LoadedShareKindShare LoadedShareKind = iota
	LoadedShareKindVerifiedHash
)

// LoadedShare is one record recovered by replaying the log, either a full
// share or a bare verified-hash mark.
type LoadedShare struct {
	Kind         LoadedShareKind
	Share        *Share
	VerifiedHash [32]byte
}

// FlatStore is the append-only, size-rotated flat-file log every share and
// verified-hash mark is durably recorded to — ShareStore in data.py. Unlike
// BoltStore's keyed random-access index, FlatStore is written strictly in
// append order and replayed front-to-back on startup; it is the source of
// truth, while BoltStore/Tracker are caches rebuilt from it.
type FlatStore struct {
	mu  sync.Mutex
	dir string
	log *zap.Logger
	net Params

	known        map[[32]byte]struct{} // hashes of shares this log has recorded
	knownDesired map[[32]byte]struct{} // hashes explicitly marked verified
	loaded       []LoadedShare         // every record recovered from replay, in file order

	files   []string // rotation filenames, oldest first
	current *os.File
	writer  *bufio.Writer
	curSize int64
}

// NewFlatStore opens (creating if necessary) a flat-log share store rooted
// at dir, replaying every existing rotation file to rebuild its indexes.
// net is needed to decode the share envelopes type-5 records carry.
func NewFlatStore(dir string, log *zap.Logger, net Params) (*FlatStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("sharechain: create store dir: %w", err)
	}
	s := &FlatStore{
		dir:          dir,
		log:          log,
		net:          net,
		known:        make(map[[32]byte]struct{}),
		knownDesired: make(map[[32]byte]struct{}),
	}
	if err := s.loadExisting(); err != nil {
		return nil, err
	}
	if err := s.openForAppend(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FlatStore) rotationPath(n int) string {
	return filepath.Join(s.dir, fmt.Sprintf("shares.%04d.log", n))
}

func (s *FlatStore) loadExisting() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("sharechain: list store dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "shares.") && strings.HasSuffix(e.Name(), ".log") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	s.files = make([]string, len(names))
	for i, name := range names {
		path := filepath.Join(s.dir, name)
		s.files[i] = path
		if err := s.replay(path); err != nil {
			s.log.Warn("skipping unreadable rotation file", zap.String("path", path), zap.Error(err))
		}
	}
	return nil
}

// replay re-reads a rotation file, rebuilding the known/known_desired
// indexes and the loaded slice GetShares returns — the Go counterpart of
// data.py's ShareStore.get_shares, run eagerly at startup rather than
// lazily as a generator.
func (s *FlatStore) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			s.log.Debug("skipping malformed store line")
			continue
		}
		typeID, err := strconv.Atoi(parts[0])
		if err != nil {
			s.log.Debug("skipping malformed store line", zap.Error(err))
			continue
		}
		switch typeID {
		case recordTypeShare:
			share, err := s.decodeShareLine(parts[1])
			if err != nil {
				// HARMLESS error while reading saved shares, continuing
				// where left off, same as data.py's get_shares.
				s.log.Debug("skipping unreadable share record", zap.Error(err))
				continue
			}
			hash := share.Hash()
			s.known[hash] = struct{}{}
			s.loaded = append(s.loaded, LoadedShare{Kind: LoadedShareKindShare, Share: share})
		case recordTypeVerifiedHash:
			hash, err := parseHashHex(parts[1])
			if err != nil {
				s.log.Debug("skipping malformed verified-hash record", zap.Error(err))
				continue
			}
			s.knownDesired[hash] = struct{}{}
			s.loaded = append(s.loaded, LoadedShare{Kind: LoadedShareKindVerifiedHash, VerifiedHash: hash})
		default:
			s.log.Debug("skipping unknown store record type", zap.Int("type", typeID))
		}
	}
	return scanner.Err()
}

func parseHashHex(hexStr string) ([32]byte, error) {
	b, err := util.HexToBytes(hexStr)
	if err != nil || len(b) != 32 {
		return [32]byte{}, fmt.Errorf("bad hash hex")
	}
	var h [32]byte
	copy(h[:], b)
	return h, nil
}

// decodeShareLine parses a type-5 record's payload: the VarInt wire type ID
// and VarStr contents that AsShare produces, the Go counterpart of
// data.py's share_type.unpack followed by load_share.
func (s *FlatStore) decodeShareLine(hexPayload string) (*Share, error) {
	raw, err := util.HexToBytes(hexPayload)
	if err != nil {
		return nil, err
	}
	r := pack.NewReader(raw)
	wireTypeID, err := r.VarInt()
	if err != nil {
		return nil, err
	}
	contents, err := r.VarBytes()
	if err != nil {
		return nil, err
	}
	return LoadShare(s.net, wireTypeID, contents)
}

func (s *FlatStore) openForAppend() error {
	n := len(s.files)
	path := s.rotationPath(n)
	if n > 0 {
		// resume appending to the most recent file if it isn't full yet
		last := s.files[n-1]
		if info, err := os.Stat(last); err == nil && info.Size() < rotationSizeBytes {
			path = last
		} else {
			s.files = append(s.files, path)
		}
	} else {
		s.files = append(s.files, path)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("sharechain: open store file: %w", err)
	}
	info, _ := f.Stat()
	s.current = f
	s.writer = bufio.NewWriter(f)
	if info != nil {
		s.curSize = info.Size()
	}
	return nil
}

func (s *FlatStore) writeLine(typeID int, payloadHex string) error {
	line := fmt.Sprintf("%d %s\n", typeID, payloadHex)
	n, err := s.writer.WriteString(line)
	if err != nil {
		return err
	}
	if err := s.writer.Flush(); err != nil {
		return err
	}
	s.curSize += int64(n)
	if s.curSize >= rotationSizeBytes {
		s.current.Close()
		path := s.rotationPath(len(s.files))
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("sharechain: open store file: %w", err)
		}
		s.files = append(s.files, path)
		s.current = f
		s.writer = bufio.NewWriter(f)
		s.curSize = 0
	}
	return nil
}

// AddShare durably records share's full wire envelope (type ID plus the
// AsShare payload), the Go counterpart of ShareStore.add_share packing
// share.as_share() rather than just the bare hash.
func (s *FlatStore) AddShare(share *Share) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := share.Hash()
	if _, ok := s.known[hash]; ok {
		return nil
	}
	if share.Contents == nil {
		return fmt.Errorf("sharechain: cannot persist a share with no contents")
	}
	wireTypeID, contents := share.Contents.AsShare()
	w := pack.NewWriter()
	w.VarInt(wireTypeID)
	w.VarBytes(contents)
	if err := s.writeLine(recordTypeShare, util.BytesToHex(w.Bytes())); err != nil {
		return fmt.Errorf("sharechain: append share record: %w", err)
	}
	s.known[hash] = struct{}{}
	s.loaded = append(s.loaded, LoadedShare{Kind: LoadedShareKindShare, Share: share})
	return nil
}

// AddVerifiedHash marks hash as having passed verification.
func (s *FlatStore) AddVerifiedHash(hash [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.knownDesired[hash]; ok {
		return nil
	}
	if err := s.writeLine(recordTypeVerifiedHash, util.BytesToHex(hash[:])); err != nil {
		return fmt.Errorf("sharechain: append verified-hash record: %w", err)
	}
	s.knownDesired[hash] = struct{}{}
	s.loaded = append(s.loaded, LoadedShare{Kind: LoadedShareKindVerifiedHash, VerifiedHash: hash})
	return nil
}

// GetShares returns every record this store has recovered from its log,
// in file order — the eagerly-collected Go counterpart of data.py's
// get_shares generator.
func (s *FlatStore) GetShares() ([]LoadedShare, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LoadedShare, len(s.loaded))
	copy(out, s.loaded)
	return out, nil
}

// ForgetShare drops hash from the known-share index; it does not rewrite
// existing rotation files (those are append-only) and never deletes them,
// so it only affects this store's in-memory membership index.
func (s *FlatStore) ForgetShare(hash [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.known, hash)
}

func (s *FlatStore) ForgetVerifiedHash(hash [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.knownDesired, hash)
}

func (s *FlatStore) HasShare(hash [32]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.known[hash]
	return ok
}

func (s *FlatStore) HasVerifiedHash(hash [32]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.knownDesired[hash]
	return ok
}

func (s *FlatStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		s.writer.Flush()
	}
	if s.current != nil {
		return s.current.Close()
	}
	return nil
}
