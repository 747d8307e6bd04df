package sharechain

import (
	"math/big"
	"testing"

	"go.uber.org/zap"

	"github.com/arejula27/sharechain/pkg/util"
)

const (
	testMiner1 = "1EofaBkMVSfQbSYNfjYAs2pWhyWjHJ5oN1"
	testMiner2 = "1NonceLetsUsSplitTheAddressSpaceUp"

	// testEasyBits is a compact target whose decoded value exceeds the
	// entire 256-bit hash space, so util.HashMeetsTarget(anyHash, ...)
	// always returns true. Using it instead of a realistic difficulty
	// keeps construction-time proof-of-work checks deterministic in
	// tests that never actually mine anything.
	testEasyBits uint32 = 0x237fffff
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func testEasyTarget() *big.Int {
	return util.CompactToTarget(testEasyBits)
}

// testNet returns a Params whose Min/MaxTarget both equal the always-passing
// easy target, so the V8/V9 construction-time target-vs-MaxTarget check
// never rejects a test fixture.
func testNet() Params {
	return Params{
		Identifier:       []byte("testtest"),
		SharePeriod:      10,
		ChainLength:      100,
		RealChainLength:  100,
		TargetLookbehind: 10,
		Spread:           3,
		MinTarget:        testEasyTarget(),
		MaxTarget:        testEasyTarget(),
		BlockPeriod:      600,
	}
}

// testHashLink returns a validly-marshaled placeholder HashLink: the
// zero value's nil State fails sha256 state unmarshaling, which the
// construction-time gentx-hash check now always exercises.
func testHashLink(t *testing.T) HashLink {
	t.Helper()
	hl, err := PrefixToHashLink([]byte("test-fixture-prefix"))
	if err != nil {
		t.Fatalf("PrefixToHashLink: %v", err)
	}
	return hl
}

// makeTestShare builds a minimal Share suitable for exercising the stores
// and tracker: a real header chained onto prevHash, a share target easy
// enough that tests never need to mine for it.
func makeTestShare(prevHash [32]byte, addr string, timestamp uint32) *Share {
	return &Share{
		Header: ShareHeader{
			Version:       1,
			PrevBlockHash: prevHash,
			MerkleRoot:    prevHash,
			Timestamp:     timestamp,
			Bits:          0x1d00ffff,
			Nonce:         0,
		},
		ShareVersion:  9,
		PrevShareHash: prevHash,
		ShareTarget:   new(big.Int).Lsh(big.NewInt(1), 235),
		MinerAddress:  addr,
		CoinbaseTx:    []byte("test-coinbase"),
	}
}
