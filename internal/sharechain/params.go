package sharechain

import "math/big"

// Params bundles the per-network constants every algorithm in this package
// is parameterized over, mirroring how data.py threads a `net` argument
// through nearly every function rather than reading module-level globals.
// The embedding application constructs one; this package never reads
// configuration itself (no CLI surface here).
type Params struct {
	Identifier []byte // 8-byte network identifier folded into ref_type

	SharePeriod        int64 // target seconds between shares
	ChainLength        int   // shares retained for scoring/think()
	RealChainLength    int   // shares required before get_cumulative_weights may run
	TargetLookbehind   int   // shares looked back for attempts-per-second estimate
	Spread             int   // weight spread multiplier

	MinTarget *big.Int
	MaxTarget *big.Int

	BlockPeriod int64 // parent chain's block time, for score()'s hashrate estimate
}
