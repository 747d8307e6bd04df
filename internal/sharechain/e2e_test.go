package sharechain

import (
	"math/big"
	"testing"

	"github.com/arejula27/sharechain/pkg/util"
)

// buildVariantShare builds a fully self-consistent share through
// generateTransaction/seal with every knob the end-to-end scenarios below
// need (version, parent block hash, version vote, tx-ref requests), adds it
// to tracker, and returns both the forest-level Share and its decoded
// variant.
func buildVariantShare(t *testing.T, tracker *Tracker, net Params, spec *versionSpec, prevShareHash, prevBlockHash [32]byte, pubkeyHashSeed byte, timestamp uint32, desiredVersion uint64, desiredOtherTxHashes [][32]byte) (*Share, *VersionedShare) {
	t.Helper()
	var zero [32]byte
	var pubkeyHash [20]byte
	pubkeyHash[0] = pubkeyHashSeed

	shareData := ShareData{
		HasPrevious:       prevShareHash != zero,
		PreviousShareHash: prevShareHash,
		Coinbase:          []byte("e2e-fixture"),
		PubkeyHash:        pubkeyHash,
		Subsidy:           5000000000,
		DesiredVersion:    desiredVersion,
	}
	info, _, _, seal, err := generateTransaction(
		tracker, net, spec, shareData,
		testEasyTarget(), timestamp, testEasyTarget(),
		MerkleLink{}, desiredOtherTxHashes, 0,
	)
	if err != nil {
		t.Fatalf("generateTransaction: %v", err)
	}
	header := ShareHeader{
		Version:       1,
		PrevBlockHash: prevBlockHash,
		Timestamp:     info.Timestamp,
		Bits:          0x1d00ffff,
		Nonce:         uint32(pubkeyHashSeed),
	}
	variant, err := seal(header)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	share := &Share{
		Header:        variant.MinHeader,
		ShareVersion:  uint32(spec.version),
		PrevShareHash: prevShareHash,
		ShareTarget:   variant.Target(),
		CoinbaseTx:    shareData.Coinbase,
		Contents:      variant,
	}
	tracker.Add(share)
	return share, variant
}

// TestGenesisSharePayoutSplit exercises end-to-end scenario 1: a genesis V9
// share splits its subsidy 0.5% to the miner, the remainder (minus the
// donation cut already folded in) to the donation script, and commits a
// zero-value ref output.
func TestGenesisSharePayoutSplit(t *testing.T) {
	tracker := NewTracker()
	net := testNet()

	shareData := buildGenesisShareData([]byte("ge"), 0x00)
	_, gentx, _, seal, err := generateTransaction(
		tracker, net, specV9, shareData,
		testEasyTarget(), 1700000000, testEasyTarget(),
		MerkleLink{}, nil, 0,
	)
	if err != nil {
		t.Fatalf("generateTransaction: %v", err)
	}
	header := ShareHeader{Version: 1, Timestamp: 1700000000, Bits: 0x1d00ffff}
	if _, err := seal(header); err != nil {
		t.Fatalf("seal: %v", err)
	}

	if len(gentx.TxOuts) != 3 {
		t.Fatalf("expected exactly 3 coinbase outputs (miner, donation, ref), got %d: %+v", len(gentx.TxOuts), gentx.TxOuts)
	}

	var minerOut, donationOut, refOut *TxOut
	for i := range gentx.TxOuts {
		out := &gentx.TxOuts[i]
		switch {
		case len(out.Script) > 0 && out.Script[0] == 0x24:
			refOut = out
		case string(out.Script) == string(DonationScript):
			donationOut = out
		default:
			minerOut = out
		}
	}
	if minerOut == nil || donationOut == nil || refOut == nil {
		t.Fatalf("expected to classify all 3 outputs, got %+v", gentx.TxOuts)
	}
	if minerOut.Value != 25000000 {
		t.Fatalf("expected miner payout 25000000, got %d", minerOut.Value)
	}
	if donationOut.Value != 4975000000 {
		t.Fatalf("expected donation payout 4975000000, got %d", donationOut.Value)
	}
	if refOut.Value != 0 {
		t.Fatalf("expected the ref output to carry zero value, got %d", refOut.Value)
	}
	if refOut.Value+minerOut.Value+donationOut.Value != shareData.Subsidy {
		t.Fatalf("coinbase outputs must sum to the subsidy exactly")
	}
}

// TestTargetClampBoundsDesiredTarget exercises end-to-end scenario 2:
// requesting a desired_target far above the network's MaxTarget still clamps
// the resulting share target to previous.max_target scaled by at most 11/10,
// never to the raw desired value.
func TestTargetClampBoundsDesiredTarget(t *testing.T) {
	tracker := NewTracker()
	net := testNet()

	var zero, prevBlock [32]byte
	var prev *Share
	prevHash := zero
	for i := 0; i < net.TargetLookbehind+1; i++ {
		prev, _ = buildVariantShare(t, tracker, net, specV9, prevHash, prevBlock, byte(i+1), uint32(1700000000+i*int(net.SharePeriod)), 9, nil)
		prevHash = prev.Hash()
	}

	hugeDesiredTarget := new(big.Int).Lsh(net.MaxTarget, 8)
	shareData := ShareData{
		HasPrevious:       true,
		PreviousShareHash: prev.Hash(),
		Coinbase:          []byte("clamp-fixture"),
		PubkeyHash:        [20]byte{0xaa},
		Subsidy:           5000000000,
	}
	info, _, _, _, err := generateTransaction(
		tracker, net, specV9, shareData,
		testEasyTarget(), uint32(1700000000+(net.TargetLookbehind+1)*int(net.SharePeriod)), hugeDesiredTarget,
		MerkleLink{}, nil, 0,
	)
	if err != nil {
		t.Fatalf("generateTransaction: %v", err)
	}

	resultTarget := util.CompactToTarget(info.Bits)
	prevMaxTarget := prev.Contents.MaxTarget()
	bound := new(big.Int).Div(new(big.Int).Mul(prevMaxTarget, big.NewInt(11)), big.NewInt(10))
	if resultTarget.Cmp(bound) > 0 {
		t.Fatalf("expected clamped target %s to not exceed previous.max_target*11/10 (%s)", resultTarget, bound)
	}
	if resultTarget.Cmp(hugeDesiredTarget) >= 0 {
		t.Fatalf("expected the clamp to actually bind: resulting target %s should be well below the huge desired target", resultTarget)
	}
}

// TestSuccessorGateRejectsInsufficientUpgradeVote exercises end-to-end
// scenario 3: a V7 chain long enough to satisfy the history requirement,
// where only 80% of the vote window favors V9, must reject a V9 child with
// PeerMisbehaving rather than silently switching versions.
func TestSuccessorGateRejectsInsufficientUpgradeVote(t *testing.T) {
	tracker := NewTracker()
	net := testNet()
	net.ChainLength = 100

	var zero, prevBlock [32]byte
	var tip *Share
	prevHash := zero
	// The fixture bits decode above 2^256, which is worth zero attempts, so
	// each share gets a share target with real work; otherwise every vote
	// would weigh nothing and the 85% gate would pass trivially.
	voteTarget := new(big.Int).Lsh(big.NewInt(1), 235)
	for i := 1; i <= net.ChainLength; i++ {
		desiredVersion := uint64(7)
		if i <= net.ChainLength/10 {
			if i <= 8 {
				desiredVersion = 9
			} else {
				desiredVersion = 7
			}
		}
		tip, _ = buildVariantShare(t, tracker, net, specV7, prevHash, prevBlock, byte(i), uint32(1700000000+i*int(net.SharePeriod)), desiredVersion, nil)
		tip.ShareTarget = voteTarget
		prevHash = tip.Hash()
	}

	childData := ShareData{
		HasPrevious:       true,
		PreviousShareHash: tip.Hash(),
		Coinbase:          []byte("successor-fixture"),
		PubkeyHash:        [20]byte{0xbb},
		Subsidy:           5000000000,
	}
	_, _, _, seal, err := generateTransaction(
		tracker, net, specV9, childData,
		testEasyTarget(), uint32(1700000000+(net.ChainLength+1)*int(net.SharePeriod)), testEasyTarget(),
		MerkleLink{}, nil, 0,
	)
	if err != nil {
		t.Fatalf("generateTransaction: %v", err)
	}
	header := ShareHeader{Version: 1, PrevBlockHash: prevBlock, Timestamp: uint32(1700000000 + (net.ChainLength+1)*int(net.SharePeriod)), Bits: 0x1d00ffff}
	variant, err := seal(header)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if _, err := checkVariant(variant, tracker, net); err == nil {
		t.Fatal("expected checkVariant to reject a version switch with only 80% upgrade vote")
	} else if _, ok := err.(*PeerMisbehavingError); !ok {
		t.Fatalf("expected a PeerMisbehavingError, got %T: %v", err, err)
	}
}

// TestTxRefCompressionReferencesAnnouncingShare exercises end-to-end
// scenario 4: a share built two shares later than the one that first
// announced a transaction hash compresses its reference instead of
// re-announcing the hash.
func TestTxRefCompressionReferencesAnnouncingShare(t *testing.T) {
	tracker := NewTracker()
	net := testNet()
	var zero, prevBlock [32]byte
	var txHash [32]byte
	txHash[0] = 0x99

	shareA, variantA := buildVariantShare(t, tracker, net, specV9, zero, prevBlock, 0x01, 1700000000, 9, [][32]byte{txHash})
	if len(variantA.Info.NewTransactionHashes) != 1 || variantA.Info.NewTransactionHashes[0] != txHash {
		t.Fatalf("expected share A to announce the tx hash as new, got %+v", variantA.Info.NewTransactionHashes)
	}

	shareMid, _ := buildVariantShare(t, tracker, net, specV9, shareA.Hash(), prevBlock, 0x02, 1700000030, 9, nil)

	_, variantB := buildVariantShare(t, tracker, net, specV9, shareMid.Hash(), prevBlock, 0x03, 1700000060, 9, [][32]byte{txHash})
	if len(variantB.Info.NewTransactionHashes) != 0 {
		t.Fatalf("expected share B to re-reference the tx instead of announcing it again, got %+v", variantB.Info.NewTransactionHashes)
	}
	want := TxHashRef{ShareCount: 2, TxCount: 0}
	if len(variantB.Info.TransactionHashRefs) != 1 || variantB.Info.TransactionHashRefs[0] != want {
		t.Fatalf("expected share B's transaction_hash_refs to be [%+v], got %+v", want, variantB.Info.TransactionHashRefs)
	}
}

// TestThinkPicksUnpunishedHeadRegardlessOfTimeSeen exercises end-to-end
// scenario 6: of two equal-work heads, the one whose committed parent block
// hash doesn't match the chain's actual current tip is punished and loses
// to the other even when it was seen first.
func TestThinkPicksUnpunishedHeadRegardlessOfTimeSeen(t *testing.T) {
	net := testNet()
	currentParentBlock := [32]byte{0xab}
	staleParentBlock := [32]byte{0xcd}

	var blockRelHeight = func([32]byte) (int, bool) { return 0, true }
	parentTip := func() ([32]byte, uint32, bool) { return currentParentBlock, 0x1d00ffff, true }
	ot := NewOkayTracker(net, testLogger(), blockRelHeight, parentTip)

	var zero [32]byte
	// headBad is seen first (earlier timestamp) but carries a stale parent
	// block commitment.
	headBad, _ := buildVariantShare(t, ot.Tracker, net, specV9, zero, staleParentBlock, 0x01, 1700000000, 9, nil)
	// headGood is seen later but matches the chain's actual tip.
	headGood, _ := buildVariantShare(t, ot.Tracker, net, specV9, zero, currentParentBlock, 0x02, 1700000100, 9, nil)

	result := ot.Think(1700000200)
	if !result.HasBestShare {
		t.Fatal("expected a best share")
	}
	if result.BestShareHash != headGood.Hash() {
		t.Fatalf("expected the unpunished head %x to win despite being seen later, got %x (stale head was %x)", headGood.Hash(), result.BestShareHash, headBad.Hash())
	}
	if ot.Punish.Level[headBad.Hash()] <= 0 {
		t.Fatal("expected the stale-parent-block head to be punished")
	}
	if ot.Punish.Level[headGood.Hash()] != 0 {
		t.Fatalf("expected the on-tip head not to be punished, got level %d", ot.Punish.Level[headGood.Hash()])
	}
}
