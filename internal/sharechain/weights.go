package sharechain

import (
	"math/big"

	"github.com/arejula27/sharechain/pkg/util"
)

// weightDelta is the per-share (or combined) contribution to the weighted
// payout split: count shares contribute sum(attempts*(65535-donation)) to
// their script's weight, sum(attempts*65535) to the total, and
// sum(attempts*donation) to the donation-only weight — the three
// quantities get_cumulative_weights needs to hand back per-script amounts.
type weightDelta struct {
	count          int
	weights        map[string]*big.Int
	totalWeight    *big.Int
	donationWeight *big.Int
}

func shareWeightDelta(share *Share) weightDelta {
	attempts := new(big.Int) // attempts this share represents, target-derived
	if share.Contents != nil {
		// share target, not max target: actual declared difficulty.
		attempts.Set(util.TargetToAverageAttempts(share.ShareTarget))
	}
	donation := int64(0)
	if share.Contents != nil {
		donation = int64(share.Contents.ShareInfo().ShareData.Donation)
	}
	scriptWeight := new(big.Int).Mul(attempts, big.NewInt(65535-donation))
	total := new(big.Int).Mul(attempts, big.NewInt(65535))
	donationWeight := new(big.Int).Mul(attempts, big.NewInt(donation))

	script := scriptKeyOf(share)
	return weightDelta{
		count:          1,
		weights:        map[string]*big.Int{script: scriptWeight},
		totalWeight:    total,
		donationWeight: donationWeight,
	}
}

func scriptKeyOf(share *Share) string {
	if share.Contents == nil {
		return ""
	}
	hash := share.Contents.ShareInfo().ShareData.PubkeyHash
	return string(util.PubkeyHashToScript(hash))
}

func combineWeightDeltas(a, b weightDelta) weightDelta {
	weights := make(map[string]*big.Int, len(a.weights)+len(b.weights))
	for k, v := range a.weights {
		weights[k] = new(big.Int).Set(v)
	}
	for k, v := range b.weights {
		if existing, ok := weights[k]; ok {
			weights[k] = new(big.Int).Add(existing, v)
		} else {
			weights[k] = new(big.Int).Set(v)
		}
	}
	return weightDelta{
		count:          a.count + b.count,
		weights:        weights,
		totalWeight:    new(big.Int).Add(a.totalWeight, b.totalWeight),
		donationWeight: new(big.Int).Add(a.donationWeight, b.donationWeight),
	}
}

// applyWeightDelta folds delta into soFar, unless doing so would exceed
// desiredWeight — in which case, if delta covers exactly one share, it is
// proportionally truncated down to the remaining budget rather than
// rejected outright, so the caller always ends up with as close to
// desiredWeight as a single share boundary allows.
func applyWeightDelta(soFar weightDelta, delta weightDelta, desiredWeight *big.Int) weightDelta {
	totalSoFar := soFar.totalWeight
	wouldBe := new(big.Int).Add(totalSoFar, delta.totalWeight)
	if wouldBe.Cmp(desiredWeight) <= 0 {
		return combineWeightDeltas(soFar, delta)
	}
	if delta.count != 1 {
		return soFar
	}
	remaining := new(big.Int).Sub(desiredWeight, totalSoFar)
	if remaining.Sign() <= 0 {
		return soFar
	}
	truncated := weightDelta{
		count:          1,
		weights:        make(map[string]*big.Int, len(delta.weights)),
		totalWeight:    new(big.Int).Set(remaining),
		donationWeight: scaleByFraction(delta.donationWeight, remaining, delta.totalWeight),
	}
	for k, v := range delta.weights {
		truncated.weights[k] = scaleByFraction(v, remaining, delta.totalWeight)
	}
	return combineWeightDeltas(soFar, truncated)
}

func scaleByFraction(v, numerator, denominator *big.Int) *big.Int {
	if denominator.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(v, numerator)
	return out.Div(out, denominator)
}

// cumulativeWeights walks up to maxShares shares backward from startHash,
// accumulating per-script weight until desiredWeight is reached (truncating
// the boundary share rather than overshooting), and returns the per-script
// weight map, the total weight, and the donation-only weight —
// get_cumulative_weights in data.py.
func cumulativeWeights(tracker *Tracker, startHash [32]byte, maxShares int, desiredWeight *big.Int) (map[string]*big.Int, *big.Int, *big.Int, error) {
	soFar := weightDelta{weights: map[string]*big.Int{}, totalWeight: new(big.Int), donationWeight: new(big.Int)}
	count := 0
	cur := startHash
	for count < maxShares {
		share, ok := tracker.Get(cur)
		if !ok {
			break
		}
		delta := shareWeightDelta(share)
		before := new(big.Int).Set(soFar.totalWeight)
		soFar = applyWeightDelta(soFar, delta, desiredWeight)
		if soFar.totalWeight.Cmp(before) == 0 {
			break
		}
		if soFar.totalWeight.Cmp(desiredWeight) >= 0 {
			break
		}
		cur = share.PrevShareHash
		count++
	}
	scripts := make(map[string]*big.Int, len(soFar.weights))
	for k, v := range soFar.weights {
		if k == "" {
			continue
		}
		scripts[k] = v
	}
	return scripts, soFar.totalWeight, soFar.donationWeight, nil
}

// ExportedCumulativeWeights is cumulativeWeights with the desired weight
// expressed the way a caller outside this package sees it — a block target
// and a spread multiplier — rather than the raw weight units
// generateTransaction works in internally.
func ExportedCumulativeWeights(tracker *Tracker, startHash [32]byte, maxShares int, blockTarget *big.Int, spread int) (map[string]*big.Int, *big.Int, *big.Int, error) {
	desiredWeight := new(big.Int).Mul(big.NewInt(65535*int64(spread)), util.TargetToAverageAttempts(blockTarget))
	return cumulativeWeights(tracker, startHash, maxShares, desiredWeight)
}
