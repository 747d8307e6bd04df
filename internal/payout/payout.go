// Package payout exposes read-only views of the share chain's embedded
// payout mechanism: since every share carries its own coinbase split,
// there is no separate PPLNS accumulation to run — this package just
// reports what generate_transaction already decided, sorted and formatted
// for operators and diagnostics (get_expected_payouts, get_user_stale_props
// in the original implementation).
package payout

import (
	"math/big"
	"sort"

	"github.com/arejula27/sharechain/internal/sharechain"
	"github.com/arejula27/sharechain/pkg/util"
)

// Entry is a single miner's expected share of the next block's subsidy, as
// of the current chain tip.
type Entry struct {
	Address string
	Amount  int64
}

// ExpectedPayouts estimates each miner's share of a block found right now,
// by walking the weight skiplist the same way a new share's gentx would —
// get_expected_payouts.
func ExpectedPayouts(tracker *sharechain.Tracker, tip [32]byte, net sharechain.Params, blockSubsidy int64) []Entry {
	share, ok := tracker.Get(tip)
	if !ok || share.Contents == nil {
		return nil
	}
	blockTarget := util.CompactToTarget(share.Header.Bits)
	weights, totalWeight, _, err := sharechain.ExportedCumulativeWeights(tracker, tip, net.RealChainLength, blockTarget, net.Spread)
	if err != nil || totalWeight.Sign() == 0 {
		return nil
	}

	entries := make([]Entry, 0, len(weights))
	for script, weight := range weights {
		amt := new(big.Int).Mul(big.NewInt(blockSubsidy), weight)
		amt.Div(amt, totalWeight)
		if amt.Sign() <= 0 {
			continue
		}
		entries = append(entries, Entry{Address: script, Amount: amt.Int64()})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Amount != entries[j].Amount {
			return entries[i].Amount > entries[j].Amount
		}
		return entries[i].Address < entries[j].Address
	})
	return entries
}

// StaleProportion reports, for a single miner, the fraction of their
// recorded shares over the lookback window that were marked stale —
// get_user_stale_props, used to warn an individual miner their connection
// or hardware is producing orphaned work.
func StaleProportion(tracker *sharechain.Tracker, tip [32]byte, lookback int, pubkeyHash [20]byte) float64 {
	total, stale := 0, 0
	cur := tip
	for i := 0; i < lookback; i++ {
		share, ok := tracker.Get(cur)
		if !ok || share.Contents == nil {
			break
		}
		data := share.Contents.ShareInfo().ShareData
		if data.PubkeyHash == pubkeyHash {
			total++
			if data.Stale != sharechain.StaleNone {
				stale++
			}
		}
		cur = share.PrevShareHash
	}
	if total == 0 {
		return 0
	}
	return float64(stale) / float64(total)
}
