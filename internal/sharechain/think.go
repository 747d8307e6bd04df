package sharechain

import (
	"math/big"
	"sort"

	"go.uber.org/zap"

	"github.com/arejula27/sharechain/internal/metrics"
	"github.com/arejula27/sharechain/pkg/util"
)

// poolAttemptsPerSecond estimates the pool's combined hash rate over the
// last lookbehind shares ending at startHash, from the summed work of each
// share's own target (WorkDelta.Work; MinWork is not used). With
// requireHistory set it returns zero unless at least lookbehind shares of
// history exist.
func poolAttemptsPerSecond(tracker *Tracker, startHash [32]byte, lookbehind int, requireHistory bool) *big.Int {
	height, _ := tracker.GetHeightAndLast(startHash)
	if requireHistory && height < lookbehind {
		return new(big.Int)
	}
	n := lookbehind
	if height < n {
		n = height
	}
	if n == 0 {
		return new(big.Int)
	}
	nearHash := startHash
	farHash := tracker.GetNthParentHash(startHash, n)
	delta := tracker.GetDelta(nearHash, farHash)

	nearShare, ok := tracker.Get(nearHash)
	if !ok {
		return new(big.Int)
	}
	farShare, ok := tracker.Get(farHash)
	elapsed := int64(1)
	if ok {
		elapsed = nearShare.Time().Unix() - farShare.Time().Unix()
	}
	if elapsed <= 0 {
		elapsed = 1
	}
	return new(big.Int).Div(delta.Work, big.NewInt(elapsed))
}

// desiredVersionCounts tallies, per declared DesiredVersion, the
// hash-attempt-weighted vote of the last n shares starting at startHash —
// get_desired_version_counts, used by the 85% successor-switch gate.
func desiredVersionCounts(tracker *Tracker, startHash [32]byte, n int) map[uint64]*big.Int {
	counts := make(map[uint64]*big.Int)
	cur := startHash
	for i := 0; i < n; i++ {
		share, ok := tracker.Get(cur)
		if !ok {
			break
		}
		if share.Contents != nil {
			v := share.Contents.ShareInfo().ShareData.DesiredVersion
			attempts := util.TargetToAverageAttempts(share.ShareTarget)
			if counts[v] == nil {
				counts[v] = new(big.Int)
			}
			counts[v].Add(counts[v], attempts)
		}
		cur = share.PrevShareHash
	}
	return counts
}

// WantRequest is a parent hash think() couldn't find locally and would like
// fetched from a peer — the hash half of data.py's desired set (the peer
// half doesn't apply here since this package has no connection registry of
// its own; callers with one can pick any peer known to have offered hash).
type WantRequest struct {
	ParentHash [32]byte
}

// RankedHead is one verified head's score tuple, ordered the way
// decorated_heads sorts them: highest work first, ties broken by lower
// punish level, then by earlier time_seen.
type RankedHead struct {
	Hash        [32]byte
	Work        *big.Int
	PunishLevel int
	TimeSeen    int64
}

// ThinkResult is what think() decided: the best currently-verified head to
// mine on top of, the target/timestamp bounds a miner should use, and the
// bookkeeping a networked caller needs to keep the local forest growing
// (Want) or to inspect the full ranking behind BestShareHash (RankedHeads).
type ThinkResult struct {
	BestShareHash    [32]byte
	HasBestShare     bool
	DesiredTimestamp uint32
	TargetCutoff     *big.Int
	Want             []WantRequest
	RankedHeads      []RankedHead
}

// PunishState tracks, per head hash, the punish level think() last recorded
// from ShouldPunishReason (reset to 0 by a negative level); while it is above
// 0, think() backs the head off to its own previous_hash — the punish_level
// bookkeeping OkayTracker keeps on the side.
type PunishState struct {
	Level map[[32]byte]int
}

func NewPunishState() *PunishState { return &PunishState{Level: make(map[[32]byte]int)} }

// OkayTracker bundles a Tracker, its verified subset, and the punishment
// bookkeeping think() needs, mirroring data.py's OkayTracker wrapper.
type OkayTracker struct {
	Tracker  *Tracker
	Verified *VerifiedTracker
	Punish   *PunishState
	Net      Params
	Log      *zap.Logger

	// BlockRelHeight reports, for a given header hash, how far back (in
	// parent-chain blocks) it sits relative to the current tip — injected
	// instead of a live RPC client, since this package has no chain
	// connection of its own.
	BlockRelHeight func(headerHash [32]byte) (int, bool)

	// ParentTip reports the parent chain's current tip hash and bits —
	// again injected rather than fetched via RPC, and used by Think to
	// decide whether a verified head has gone stale relative to the live
	// chain (should_punish_reason's previous_block/bits arguments).
	ParentTip func() (previousBlock [32]byte, bits uint32, ok bool)
}

func NewOkayTracker(net Params, log *zap.Logger, blockRelHeight func([32]byte) (int, bool), parentTip func() ([32]byte, uint32, bool)) *OkayTracker {
	t := NewTracker()
	return &OkayTracker{
		Tracker:        t,
		Verified:       NewVerifiedTracker(t),
		Punish:         NewPunishState(),
		Net:            net,
		Log:            log,
		BlockRelHeight: blockRelHeight,
		ParentTip:      parentTip,
	}
}

// AttemptVerify runs Check against a share already present in Tracker and,
// on success, promotes it into the verified subset.
func (o *OkayTracker) AttemptVerify(hash [32]byte) error {
	if o.Verified.Has(hash) {
		return nil
	}
	share, ok := o.Tracker.Get(hash)
	if !ok {
		return &InvariantError{Reason: "share unknown to tracker"}
	}
	if share.Contents == nil {
		return &InvariantError{Reason: "share has no version-specific contents"}
	}
	gentx, err := share.Contents.Check(o.Tracker, o.Net)
	if err != nil {
		reason := "invariant"
		if _, ok := err.(*PeerMisbehavingError); ok {
			reason = "peer_misbehaving"
		}
		metrics.SharesRejected.WithLabelValues(reason).Inc()
		return err
	}
	o.Verified.Add(hash)
	metrics.SharesVerified.Inc()
	if share.MeetsBitcoinTarget() {
		metrics.BlocksFound.Inc()
	}
	_ = gentx
	return nil
}

// score approximates this head's recent pool hashrate normalized by how
// much the parent chain actually advanced over the same span — a head
// whose miners found lots of shares but no chain progress (e.g. it's
// mining a stale branch) scores lower than one that kept pace.
func (o *OkayTracker) score(headHash [32]byte, lookbehind int) (float64, bool) {
	height, _ := o.Verified.GetHeightAndLast(headHash)
	n := lookbehind
	if height < n {
		n = height
	}
	if n < 2 {
		return 0, false
	}
	farHash := o.Verified.GetNthParentHash(headHash, n)
	delta := o.Verified.GetDelta(headHash, farHash)

	nearShare, ok := o.Tracker.Get(headHash)
	if !ok {
		return 0, false
	}
	farShare, ok := o.Tracker.Get(farHash)
	if !ok {
		return 0, false
	}

	nearRel, nearOK := o.BlockRelHeight(nearShare.Header.PrevBlockHash)
	farRel, farOK := o.BlockRelHeight(farShare.Header.PrevBlockHash)
	if !nearOK || !farOK {
		return 0, false
	}
	heightSpan := farRel - nearRel
	if heightSpan <= 0 {
		heightSpan = 1
	}
	workF := new(big.Float).SetInt(delta.Work)
	hashesPerBlock := new(big.Float).Quo(workF, big.NewFloat(float64(heightSpan)))
	result, _ := hashesPerBlock.Float64()
	return result, true
}

// Think is the head-selection algorithm: verify any unverified heads it
// can, request parents for verified heads shorter than ChainLength, update
// each verified head's punish level against ParentTip, and settle on the
// verified head with the most total verified work in its run, then the lower
// punish level, then the earlier timestamp. A punished head is replaced by
// its nearest unpunished verified ancestor (or kept as is when the walk
// leaves the verified subset first). Tails are not scored, and Want is not
// filtered by timestamp or target cutoffs. Ported from OkayTracker.think.
func (o *OkayTracker) Think(now int64) ThinkResult {
	seenWant := make(map[[32]byte]struct{})
	var want []WantRequest
	requestParent := func(hash [32]byte) {
		if hash == ([32]byte{}) { // zero hash marks a genesis share, nothing to request
			return
		}
		if _, ok := seenWant[hash]; ok {
			return
		}
		seenWant[hash] = struct{}{}
		want = append(want, WantRequest{ParentHash: hash})
	}

	// Attempt to verify every unverified head and then its unverified
	// ancestors, walking back on success; a head that fails verification is
	// removed, a failing ancestor just ends the walk. Request whatever parent
	// hash the walk runs out of local data on.
	for head := range o.Tracker.Heads() {
		if o.Verified.Has(head) {
			continue
		}
		cur := head
		for !o.Verified.Has(cur) {
			share, ok := o.Tracker.Get(cur)
			if !ok {
				requestParent(cur)
				break
			}
			if share.PrevShareHash != ([32]byte{}) && !o.Tracker.Has(share.PrevShareHash) {
				requestParent(share.PrevShareHash)
				break
			}
			if err := o.AttemptVerify(cur); err != nil {
				o.Log.Debug("share failed verification", zap.Error(err))
				if cur == head {
					o.Tracker.Remove(cur)
				}
				break
			}
			cur = share.PrevShareHash
			if !o.Tracker.Has(cur) {
				requestParent(cur)
				break
			}
		}
	}

	// Try to get at least ChainLength height for each verified head,
	// requesting the next parent back when a short head can't be extended
	// from local data alone.
	for head := range o.Verified.Heads() {
		height, lastHash := o.Verified.GetHeightAndLast(head)
		if height >= o.Net.ChainLength {
			continue
		}
		if _, ok := o.Tracker.Get(lastHash); !ok {
			requestParent(lastHash)
			continue
		}
		_, lastLastHash := o.Tracker.GetHeightAndLast(lastHash)
		requestParent(lastLastHash)
	}

	if o.ParentTip != nil {
		if previousBlock, bits, ok := o.ParentTip(); ok {
			for head := range o.Verified.Heads() {
				share, ok := o.Tracker.Get(head)
				if !ok || share.Contents == nil {
					continue
				}
				level, reason := share.Contents.ShouldPunishReason(previousBlock, bits, o.Tracker, nil)
				switch {
				case level > 0:
					if o.Punish.Level[head] == 0 {
						metrics.Punishments.Inc()
					}
					o.Punish.Level[head] = level
					o.Log.Debug("punishing stale head", zap.String("reason", reason))
				case level < 0:
					o.Punish.Level[head] = 0
				}
			}
		}
	}

	var best [32]byte
	hasBest := false
	var bestWork *big.Int
	bestPunish := int(^uint(0) >> 1)
	var bestTime int64
	var rankedHeads []RankedHead

	for head := range o.Verified.Heads() {
		effective := head
		for o.Punish.Level[effective] > 0 {
			share, ok := o.Tracker.Get(effective)
			if !ok {
				break
			}
			effective = share.PrevShareHash
			if !o.Verified.Has(effective) {
				effective = head
				break
			}
		}
		work := o.Verified.GetWork(effective)
		punishLevel := o.Punish.Level[effective]
		share, ok := o.Tracker.Get(effective)
		if !ok {
			continue
		}
		timeSeen := share.Time().Unix()
		rankedHeads = append(rankedHeads, RankedHead{Hash: effective, Work: work, PunishLevel: punishLevel, TimeSeen: timeSeen})

		better := !hasBest
		if hasBest {
			switch {
			case work.Cmp(bestWork) != 0:
				better = work.Cmp(bestWork) > 0
			case punishLevel != bestPunish:
				better = punishLevel < bestPunish
			default:
				better = timeSeen < bestTime
			}
		}
		if better {
			best = effective
			hasBest = true
			bestWork = work
			bestPunish = punishLevel
			bestTime = timeSeen
		}
	}

	sort.Slice(rankedHeads, func(i, j int) bool {
		a, b := rankedHeads[i], rankedHeads[j]
		if a.Work.Cmp(b.Work) != 0 {
			return a.Work.Cmp(b.Work) > 0
		}
		if a.PunishLevel != b.PunishLevel {
			return a.PunishLevel < b.PunishLevel
		}
		return a.TimeSeen < b.TimeSeen
	})

	result := ThinkResult{BestShareHash: best, HasBestShare: hasBest, TargetCutoff: o.Net.MaxTarget, Want: want, RankedHeads: rankedHeads}
	if hasBest {
		attemptsPerSecond := poolAttemptsPerSecond(o.Tracker, best, o.Net.TargetLookbehind, false)
		if attemptsPerSecond.Sign() > 0 {
			max256 := new(big.Int).Lsh(big.NewInt(1), 256)
			denom := new(big.Int).Mul(big.NewInt(o.Net.SharePeriod), attemptsPerSecond)
			result.TargetCutoff = new(big.Int).Sub(new(big.Int).Div(max256, denom), big.NewInt(1))
			hashrate, _ := new(big.Float).SetInt(attemptsPerSecond).Float64()
			metrics.PoolHashrate.Set(hashrate)
		}
		result.DesiredTimestamp = uint32(now)

		height, _ := o.Verified.GetHeightAndLast(best)
		metrics.SharechainHeight.Set(float64(height))
		if share, ok := o.Tracker.Get(best); ok {
			metrics.ShareDifficulty.Set(compactDifficulty(util.TargetToCompact(share.ShareTarget)))
		}
	}
	verifiedHeadCount := 0
	for range o.Verified.Heads() {
		verifiedHeadCount++
	}
	metrics.VerifiedHeads.Set(float64(verifiedHeadCount))
	return result
}

// compactDifficulty converts a compact-encoded target into its ratio to the
// easiest share target (MaxShareTarget / target), used for display/metrics.
func compactDifficulty(bits uint32) float64 {
	target := util.CompactToTarget(bits)
	if target.Sign() == 0 {
		return 0
	}
	ratio := new(big.Float).Quo(new(big.Float).SetInt(MaxShareTarget), new(big.Float).SetInt(target))
	f, _ := ratio.Float64()
	return f
}
