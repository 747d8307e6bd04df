package sharechain

import (
	"math/big"

	"github.com/arejula27/sharechain/pkg/util"
)

// clipBig clamps v into [lo, hi].
func clipBig(v, lo, hi *big.Int) *big.Int {
	if v.Cmp(lo) < 0 {
		return new(big.Int).Set(lo)
	}
	if v.Cmp(hi) > 0 {
		return new(big.Int).Set(hi)
	}
	return new(big.Int).Set(v)
}

func clipU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SealFunc finishes a share once a miner has actually found a header that
// meets its target: it folds the final nonce/merkle-root-bearing header
// back together with the gentx generateTransaction already built, without
// needing the raw gentx bytes or other transactions' payloads to travel
// any further than this call.
type SealFunc func(minedHeader ShareHeader) (*VersionedShare, error)

// generateTransaction is the shared engine behind every version's
// generate_transaction: given the previous share and a candidate payload,
// it derives the next target, splits the subsidy by weight, and returns
// the ShareInfo/GenTx pair a miner would commit to (or that check()
// recomputes to verify a received share), plus a SealFunc that finishes
// the share once a header meeting the target is actually found.
func generateTransaction(
	tracker *Tracker, net Params, spec *versionSpec,
	shareData ShareData, blockTarget *big.Int, desiredTimestamp uint32, desiredTarget *big.Int,
	refMerkleLink MerkleLink, desiredOtherTransactionHashes [][32]byte, lastTxoutNonce uint32,
) (ShareInfo, *GenTx, [][32]byte, SealFunc, error) {
	var previousShare *Share
	if shareData.HasPrevious {
		s, ok := tracker.Get(shareData.PreviousShareHash)
		if !ok {
			return ShareInfo{}, nil, nil, nil, fmtErr("sharechain: unknown previous share")
		}
		previousShare = s
	}

	height, last := tracker.GetHeightAndLast(shareData.PreviousShareHash)
	var zero [32]byte
	if !(height >= net.RealChainLength || last == zero) {
		return ShareInfo{}, nil, nil, nil, fmtErr("sharechain: insufficient history for previous share")
	}

	var preTarget3 *big.Int
	if height < net.TargetLookbehind {
		preTarget3 = net.MaxTarget
	} else {
		attemptsPerSecond := poolAttemptsPerSecond(tracker, shareData.PreviousShareHash, net.TargetLookbehind, true)
		var preTarget *big.Int
		max256 := new(big.Int).Lsh(big.NewInt(1), 256)
		if attemptsPerSecond.Sign() > 0 {
			denom := new(big.Int).Mul(big.NewInt(net.SharePeriod), attemptsPerSecond)
			preTarget = new(big.Int).Sub(new(big.Int).Div(max256, denom), big.NewInt(1))
		} else {
			preTarget = new(big.Int).Sub(max256, big.NewInt(1))
		}
		prevMaxTarget := previousShare.Contents.MaxTarget()
		lo := new(big.Int).Div(new(big.Int).Mul(prevMaxTarget, big.NewInt(9)), big.NewInt(10))
		hi := new(big.Int).Div(new(big.Int).Mul(prevMaxTarget, big.NewInt(11)), big.NewInt(10))
		preTarget2 := clipBig(preTarget, lo, hi)
		preTarget3 = clipBig(preTarget2, net.MinTarget, net.MaxTarget)
	}
	maxBits := util.TargetToCompact(preTarget3)
	targetLo := new(big.Int).Div(preTarget3, big.NewInt(10))
	bits := util.TargetToCompact(clipBig(desiredTarget, targetLo, preTarget3))

	desiredWeight := new(big.Int).Mul(big.NewInt(65535*int64(net.Spread)), util.TargetToAverageAttempts(blockTarget))
	weights, totalWeight, donationWeight, err := cumulativeWeights(tracker, shareData.PreviousShareHash, minInt(height, net.RealChainLength), desiredWeight)
	if err != nil {
		return ShareInfo{}, nil, nil, nil, err
	}
	sumWeights := new(big.Int)
	for _, w := range weights {
		sumWeights.Add(sumWeights, w)
	}
	sumWeights.Add(sumWeights, donationWeight)
	if sumWeights.Cmp(totalWeight) != 0 {
		return ShareInfo{}, nil, nil, nil, fmtErr("sharechain: weight accounting mismatch")
	}

	amounts := make(map[string]int64)
	scripts := make(map[string][]byte)
	for script, weight := range weights {
		amt := new(big.Int).Mul(big.NewInt(shareData.Subsidy), new(big.Int).Mul(big.NewInt(199), weight))
		amt.Div(amt, new(big.Int).Mul(big.NewInt(200), totalWeight))
		amounts[script] += amt.Int64()
	}
	thisScript := string(util.PubkeyHashToScript(shareData.PubkeyHash))
	scripts[thisScript] = util.PubkeyHashToScript(shareData.PubkeyHash)
	amounts[thisScript] += shareData.Subsidy / 200

	sumSoFar := int64(0)
	for _, a := range amounts {
		sumSoFar += a
	}
	donationKey := string(DonationScript)
	scripts[donationKey] = DonationScript
	amounts[donationKey] += shareData.Subsidy - sumSoFar

	for script := range weights {
		scripts[script] = []byte(script)
	}

	total := int64(0)
	for _, a := range amounts {
		if a < 0 {
			return ShareInfo{}, nil, nil, nil, fmtErr("sharechain: negative payout amount")
		}
		total += a
	}
	if total != shareData.Subsidy {
		return ShareInfo{}, nil, nil, nil, fmtErr("sharechain: payout total does not equal subsidy")
	}

	dests := sortDests(scripts, amounts, donationKey)
	if len(dests) > 4000 {
		dests = dests[len(dests)-4000:]
	}

	var newTransactionHashes [][32]byte
	var transactionHashRefs []TxHashRef
	var otherTransactionHashes [][32]byte
	if spec.hasTxRefs {
		newTxSize := 0
		for _, txHash := range desiredOtherTransactionHashes {
			found := false
			for i, sh := range tracker.GetChainSlice(shareData.PreviousShareHash, minInt(height, 100)) {
				if idx := indexOf32(sh.Contents.ShareInfo().NewTransactionHashes, txHash); idx >= 0 {
					transactionHashRefs = append(transactionHashRefs, TxHashRef{ShareCount: uint64(i + 1), TxCount: uint64(idx)})
					found = true
					break
				}
			}
			if !found {
				newTransactionHashes = append(newTransactionHashes, txHash)
				transactionHashRefs = append(transactionHashRefs, TxHashRef{ShareCount: 0, TxCount: uint64(len(newTransactionHashes) - 1)})
				newTxSize += 64 // approximate; full tx size accounting needs known_txs, out of scope without a mempool
				if newTxSize > 50000 {
					newTransactionHashes = newTransactionHashes[:len(newTransactionHashes)-1]
					transactionHashRefs = transactionHashRefs[:len(transactionHashRefs)-1]
					break
				}
			}
			otherTransactionHashes = append(otherTransactionHashes, txHash)
		}
	}

	var farShareHash [32]byte
	hasFar := !(last == zero && height < 99)
	if hasFar {
		farShareHash = tracker.GetNthParentHash(shareData.PreviousShareHash, 99)
	}

	timestamp := desiredTimestamp
	if previousShare != nil {
		lo := previousShare.Header.Timestamp + 1
		hi := previousShare.Header.Timestamp + uint32(2*net.SharePeriod) - 1
		timestamp = clipU32(desiredTimestamp, lo, hi)
	}

	info := ShareInfo{
		ShareData:           shareData,
		NewTransactionHashes: newTransactionHashes,
		TransactionHashRefs:  transactionHashRefs,
		FarShareHash:         farShareHash,
		HasFarShareHash:      hasFar,
		MaxBits:              maxBits,
		Bits:                 bits,
		Timestamp:            timestamp,
	}

	refHash := getRefHash(net, spec, info, refMerkleLink)
	refScript := make([]byte, 0, 1+32+4)
	refScript = append(refScript, spec.refHashScriptTag)
	refScript = append(refScript, refHash[:]...)
	if spec.hasLastTxoutNonce {
		refScript = append(refScript, util.Uint32ToBytes(lastTxoutNonce)...)
	}

	gentx := &GenTx{
		Version: 1,
		TxIns: []TxIn{{
			PreviousHash:  [32]byte{},
			PreviousIndex: 0xffffffff,
			Script:        shareData.Coinbase,
			Sequence:      0xffffffff,
		}},
		LockTime: 0,
	}
	for _, script := range dests {
		amt := amounts[script]
		if amt == 0 && script != donationKey {
			continue
		}
		gentx.TxOuts = append(gentx.TxOuts, TxOut{Value: amt, Script: scripts[script]})
	}
	gentx.TxOuts = append(gentx.TxOuts, TxOut{Value: 0, Script: refScript})

	seal := func(minedHeader ShareHeader) (*VersionedShare, error) {
		gentxBytes := gentx.Pack()
		tailLen := 32 + 4 // ref_hash + lock_time
		if spec.hasLastTxoutNonce {
			tailLen += 4 // last_txout_nonce
		}
		if len(gentxBytes) < tailLen {
			return nil, fmtErr("sharechain: gentx too short to seal")
		}
		hashLink, err := PrefixToHashLink(gentxBytes[:len(gentxBytes)-tailLen])
		if err != nil {
			return nil, err
		}
		merkleLink := MerkleLink{
			Branch: CalculateMerkleLink(append([][32]byte{gentx.Hash()}, otherTransactionHashes...), 0),
			Index:  0,
		}
		return newVersionedShare(net, spec, minedHeader, info, refMerkleLink, lastTxoutNonce, hashLink, merkleLink)
	}

	return info, gentx, otherTransactionHashes, seal, nil
}

func indexOf32(hashes [][32]byte, h [32]byte) int {
	for i, x := range hashes {
		if x == h {
			return i
		}
	}
	return -1
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// sortDests orders destination scripts the way the original does: donation
// last, then ascending payout amount, then lexicographic script — so the
// truncation to the most recent 4000 destinations always drops the
// smallest, least-important payouts first.
func sortDests(scripts map[string][]byte, amounts map[string]int64, donationKey string) []string {
	keys := make([]string, 0, len(scripts))
	for k := range scripts {
		keys = append(keys, k)
	}
	less := func(i, j int) bool {
		a, b := keys[i], keys[j]
		aDonation, bDonation := a == donationKey, b == donationKey
		if aDonation != bDonation {
			return !aDonation
		}
		if amounts[a] != amounts[b] {
			return amounts[a] < amounts[b]
		}
		return a < b
	}
	// insertion sort: dests lists are small (a handful to a few hundred
	// active miners), and this keeps the comparator above self-contained
	// without pulling in sort.Slice's reflection-free but separate API.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// check verifies a received share by regenerating its transaction and
// comparing the result against what was committed to, per data.py's
// Share.check/NewShare.check/NewNewShare.check.
func checkVariant(s *VersionedShare, tracker *Tracker, net Params) (*GenTx, error) {
	if s.Info.ShareData.HasPrevious {
		previousShare, ok := tracker.Get(s.Info.ShareData.PreviousShareHash)
		if !ok {
			return nil, &PeerMisbehavingError{Reason: "previous share unknown"}
		}
		prevVersion := previousShare.Contents.Version()
		switch {
		case prevVersion == s.spec.version:
			// same version, nothing special to check
		case previousShare.Contents.Successor() == s.spec.version:
			if _, err := specForVersion(s.spec.version); err != nil {
				return nil, &InvariantError{Reason: "successor version unknown to this implementation"}
			}
			if tracker.GetHeight(previousShare.Hash()) < net.ChainLength {
				return nil, &PeerMisbehavingError{Reason: "switch without enough history"}
			}
			from := tracker.GetNthParentHash(previousShare.Hash(), net.ChainLength*9/10)
			counts := desiredVersionCounts(tracker, from, net.ChainLength/10)
			total := new(big.Int)
			for _, c := range counts {
				total.Add(total, c)
			}
			got := counts[uint64(s.spec.version)]
			if got == nil {
				got = new(big.Int)
			}
			threshold := new(big.Int).Mul(total, big.NewInt(85))
			gotScaled := new(big.Int).Mul(got, big.NewInt(100))
			if gotScaled.Cmp(threshold) < 0 {
				return nil, &PeerMisbehavingError{Reason: "switch without enough hash power upgraded"}
			}
		default:
			return nil, &PeerMisbehavingError{Reason: "version cannot follow previous share's version"}
		}
	}

	otherTxHashes, ok := resolveOtherTxHashes(s, tracker)
	if !ok {
		return nil, &InvariantError{Reason: "tx hash ref parent missing or out of range"}
	}

	info, gentx, otherTxHashes2, _, err := generateTransaction(tracker, net, s.spec, s.Info.ShareData, util.CompactToTarget(s.MinHeader.Bits), s.Info.Timestamp, util.CompactToTarget(s.Info.Bits), s.RefMerkleLink, otherTxHashes, s.LastTxoutNonce)
	if err != nil {
		return nil, err
	}
	if len(otherTxHashes2) != len(otherTxHashes) {
		return nil, &InvariantError{Reason: "recomputed other tx hashes differ"}
	}
	if !sameShareInfo(info, s.Info) {
		return nil, &InvariantError{Reason: "share_info invalid"}
	}
	// The share never transmits its gentx directly; gentxHash was fixed at
	// construction time from hash_link, so a recomputed gentx either hashes
	// to exactly that value or the share is lying about its own contents.
	if gentx.Hash() != s.gentxHash {
		return nil, &InvariantError{Reason: "gentx doesn't match hash_link"}
	}
	if s.spec.hasTxRefs {
		leaf := [32]byte{}
		gotRoot := CheckMerkleLink(leaf, s.MerkleLink.Branch, s.MerkleLink.Index)
		wantHashes := append([][32]byte{{}}, otherTxHashes...)
		wantRoot := CheckMerkleLink(leaf, CalculateMerkleLink(wantHashes, 0), 0)
		if gotRoot != wantRoot {
			return nil, &InvariantError{Reason: "merkle_link and other tx hashes do not match"}
		}
	}
	return gentx, nil
}

// resolveOtherTxHashes mirrors get_other_tx_hashes: walks each
// transaction_hash_ref back through the tracker to the new-tx hash it
// refers to. ok is false if any referenced parent is missing or the
// reference's tx_count is out of range for that parent.
func resolveOtherTxHashes(s *VersionedShare, tracker *Tracker) (hashes [][32]byte, ok bool) {
	if !s.spec.hasTxRefs {
		return nil, true
	}
	for _, ref := range s.Info.TransactionHashRefs {
		parent := tracker.GetNthParentHash(s.headerHash, int(ref.ShareCount))
		parentShare, found := tracker.Get(parent)
		if !found {
			return nil, false
		}
		parentHashes := parentShare.Contents.ShareInfo().NewTransactionHashes
		if int(ref.TxCount) >= len(parentHashes) {
			return nil, false
		}
		hashes = append(hashes, parentHashes[ref.TxCount])
	}
	return hashes, true
}

// resolveOtherTxs mirrors _get_other_txs: resolves the hash references and
// looks each one up in knownTxs, failing if any referenced parent or raw
// transaction isn't available yet.
func resolveOtherTxs(s *VersionedShare, tracker *Tracker, knownTxs map[[32]byte][]byte) (hashes [][32]byte, txs [][]byte, ok bool) {
	hashes, ok = resolveOtherTxHashes(s, tracker)
	if !ok {
		return nil, nil, false
	}
	txs = make([][]byte, len(hashes))
	for i, h := range hashes {
		tx, found := knownTxs[h]
		if !found {
			return nil, nil, false
		}
		txs[i] = tx
	}
	return hashes, txs, true
}

// shouldPunishReason mirrors Share/NewShare/NewNewShare.should_punish_reason:
// a stale-block check and a block-solution check apply to every version;
// V8/V9 additionally require every referenced transaction to be resolvable
// and bound both the aggregate and new-transaction byte totals.
func shouldPunishReason(s *VersionedShare, previousBlock [32]byte, bits uint32, peerKnown bool, tracker *Tracker, knownTxs map[[32]byte][]byte) (int, string) {
	if (s.MinHeader.PrevBlockHash != previousBlock || s.MinHeader.Bits != bits) && s.headerHash != previousBlock && peerKnown {
		return 1, "block-stale detected"
	}
	if util.HashMeetsTarget(s.PowHash(), util.CompactToTarget(s.MinHeader.Bits)) {
		return -1, "block solution"
	}
	if !s.spec.hasTxRefs {
		return 0, ""
	}

	_, otherTxs, ok := resolveOtherTxs(s, tracker, knownTxs)
	if !ok {
		return 1, "not all txs present"
	}
	allTxsSize := 0
	for _, tx := range otherTxs {
		allTxsSize += len(tx)
	}
	if allTxsSize > 1000000 {
		return 1, "txs over block size limit"
	}

	newTxsSize := 0
	for _, h := range s.Info.NewTransactionHashes {
		tx, found := knownTxs[h]
		if !found {
			return 1, "not all txs present"
		}
		newTxsSize += len(tx)
	}
	if newTxsSize > 50000 {
		return 1, "new txs over limit"
	}
	return 0, ""
}

func asBlock(s *VersionedShare, tracker *Tracker, gentx *GenTx, otherTxs [][]byte) ([]byte, bool) {
	if otherTxs == nil && s.spec.hasTxRefs && len(s.Info.TransactionHashRefs) > 0 {
		return nil, false
	}
	header := s.MinHeader
	header.MerkleRoot = CheckMerkleLink(gentx.Hash(), s.MerkleLink.Branch, s.MerkleLink.Index)
	out := header.Serialize()
	out = append(out, gentx.Pack()...)
	for _, tx := range otherTxs {
		out = append(out, tx...)
	}
	return out, true
}
