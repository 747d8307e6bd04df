package testutil

import (
	"math/big"

	"github.com/arejula27/sharechain/internal/sharechain"
	"github.com/arejula27/sharechain/pkg/util"
)

// SampleShare creates a sample common-layer share for testing, with no
// version-specific Contents attached.
func SampleShare(nonce uint32, prevShareHash [32]byte) *sharechain.Share {
	return &sharechain.Share{
		Header: sharechain.ShareHeader{
			Version:       536870912,
			PrevBlockHash: prevShareHash,
			Timestamp:     1700000000,
			Bits:          0x1d00ffff,
			Nonce:         nonce,
		},
		ShareVersion:  9,
		PrevShareHash: prevShareHash,
		ShareTarget:   util.CompactToTarget(0x1d00ffff),
		MinerAddress:  "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx",
	}
}

// SampleShareChain creates a linear chain of test shares.
func SampleShareChain(count int) []*sharechain.Share {
	shares := make([]*sharechain.Share, count)
	var prevHash [32]byte // Genesis has zero prev

	for i := 0; i < count; i++ {
		s := SampleShare(uint32(i), prevHash)
		shares[i] = s
		prevHash = s.Hash()
	}

	return shares
}

// EasyTarget returns a very easy target for testing (any hash will pass).
func EasyTarget() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}
