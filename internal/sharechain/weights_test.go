package sharechain

import (
	"math/big"
	"testing"
)

func chainedTestShare(t *testing.T, prev [32]byte, pubkeyHashSeed byte, timestamp uint32, subsidy int64, donation uint16, target *big.Int) *Share {
	t.Helper()
	var pubkeyHash [20]byte
	pubkeyHash[0] = pubkeyHashSeed

	info := ShareInfo{
		ShareData: ShareData{
			PreviousShareHash: prev,
			HasPrevious:       prev != ([32]byte{}),
			Coinbase:          []byte("test"),
			PubkeyHash:        pubkeyHash,
			Subsidy:           subsidy,
			Donation:          donation,
		},
		Bits:      testEasyBits,
		MaxBits:   testEasyBits,
		Timestamp: timestamp,
	}
	header := ShareHeader{
		Version:       1,
		PrevBlockHash: prev,
		Timestamp:     timestamp,
		Bits:          0x1d00ffff,
	}
	variant, err := NewShareV9(testNet(), header, info, MerkleLink{}, 0, testHashLink(t), MerkleLink{})
	if err != nil {
		t.Fatalf("NewShareV9: %v", err)
	}

	return &Share{
		Header:        variant.MinHeader,
		ShareVersion:  9,
		PrevShareHash: prev,
		ShareTarget:   target,
		Contents:      variant,
	}
}

func TestCumulativeWeightsSplitsByScript(t *testing.T) {
	tracker := NewTracker()

	easyTarget := new(big.Int).Lsh(big.NewInt(1), 235)
	var zero [32]byte
	s1 := chainedTestShare(t, zero, 0x01, 1700000000, 5000000000, 0, easyTarget)
	tracker.Add(s1)
	s2 := chainedTestShare(t, s1.Hash(), 0x02, 1700000030, 5000000000, 0, easyTarget)
	tracker.Add(s2)

	desiredWeight := new(big.Int).Mul(big.NewInt(65535*3), new(big.Int).Set(easyTarget))
	scripts, total, donationWeight, err := cumulativeWeights(tracker, s2.Hash(), 10, desiredWeight)
	if err != nil {
		t.Fatalf("cumulativeWeights: %v", err)
	}
	if len(scripts) != 2 {
		t.Fatalf("expected 2 distinct scripts, got %d", len(scripts))
	}
	if total.Sign() <= 0 {
		t.Fatalf("expected positive total weight, got %s", total)
	}
	if donationWeight.Sign() != 0 {
		t.Fatalf("expected zero donation weight with Donation=0, got %s", donationWeight)
	}
}

func TestCumulativeWeightsAllDonation(t *testing.T) {
	tracker := NewTracker()
	easyTarget := new(big.Int).Lsh(big.NewInt(1), 235)
	var zero [32]byte
	s1 := chainedTestShare(t, zero, 0x01, 1700000000, 5000000000, 65535, easyTarget)
	tracker.Add(s1)

	desiredWeight := new(big.Int).Mul(big.NewInt(65535*3), new(big.Int).Set(easyTarget))
	scripts, total, donationWeight, err := cumulativeWeights(tracker, s1.Hash(), 10, desiredWeight)
	if err != nil {
		t.Fatalf("cumulativeWeights: %v", err)
	}
	if donationWeight.Cmp(total) != 0 {
		t.Fatalf("expected donationWeight == total when Donation=65535, got %s vs %s", donationWeight, total)
	}
	for _, v := range scripts {
		if v.Sign() != 0 {
			t.Fatalf("expected zero per-script weight when fully donated, got %s", v)
		}
	}
}

func TestApplyWeightDeltaTruncatesSingleShareOverflow(t *testing.T) {
	soFar := weightDelta{
		weights:        map[string]*big.Int{"a": big.NewInt(90)},
		totalWeight:    big.NewInt(90),
		donationWeight: big.NewInt(0),
	}
	delta := weightDelta{
		count:          1,
		weights:        map[string]*big.Int{"b": big.NewInt(20)},
		totalWeight:    big.NewInt(20),
		donationWeight: big.NewInt(0),
	}
	desired := big.NewInt(100)

	result := applyWeightDelta(soFar, delta, desired)
	if result.totalWeight.Cmp(desired) != 0 {
		t.Fatalf("expected total weight truncated to exactly desired %s, got %s", desired, result.totalWeight)
	}
	if result.weights["b"].Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected truncated share b weight 10 (half of 20), got %s", result.weights["b"])
	}
	if result.weights["a"].Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("expected untouched share a weight unchanged at 90, got %s", result.weights["a"])
	}
}

func TestApplyWeightDeltaRejectsMultiShareOverflow(t *testing.T) {
	soFar := weightDelta{
		weights:        map[string]*big.Int{"a": big.NewInt(90)},
		totalWeight:    big.NewInt(90),
		donationWeight: big.NewInt(0),
	}
	delta := weightDelta{
		count:          2,
		weights:        map[string]*big.Int{"b": big.NewInt(20)},
		totalWeight:    big.NewInt(20),
		donationWeight: big.NewInt(0),
	}
	desired := big.NewInt(100)

	result := applyWeightDelta(soFar, delta, desired)
	if result.totalWeight.Cmp(soFar.totalWeight) != 0 {
		t.Fatalf("multi-share overflow should be rejected outright, got total %s", result.totalWeight)
	}
}

func TestCombineWeightDeltasSumsPerScript(t *testing.T) {
	a := weightDelta{
		weights:        map[string]*big.Int{"x": big.NewInt(5)},
		totalWeight:    big.NewInt(5),
		donationWeight: big.NewInt(1),
		count:          1,
	}
	b := weightDelta{
		weights:        map[string]*big.Int{"x": big.NewInt(7), "y": big.NewInt(3)},
		totalWeight:    big.NewInt(10),
		donationWeight: big.NewInt(2),
		count:          1,
	}
	combined := combineWeightDeltas(a, b)
	if combined.weights["x"].Cmp(big.NewInt(12)) != 0 {
		t.Fatalf("expected x=12, got %s", combined.weights["x"])
	}
	if combined.weights["y"].Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("expected y=3, got %s", combined.weights["y"])
	}
	if combined.totalWeight.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("expected total=15, got %s", combined.totalWeight)
	}
	if combined.count != 2 {
		t.Fatalf("expected count=2, got %d", combined.count)
	}
}
