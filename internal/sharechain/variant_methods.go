package sharechain

// Check verifies the share against tracker, caching the regenerated
// coinbase transaction for later use by AsBlock on success.
func (s *VersionedShare) Check(tracker *Tracker, net Params) (*GenTx, error) {
	gentx, err := checkVariant(s, tracker, net)
	if err != nil {
		return nil, err
	}
	s.gentx = gentx
	return gentx, nil
}

// ShouldPunishReason reports whether mining on top of this share should be
// penalized: a positive level backs think() off to the share's own
// previous_hash, -1 marks a confirmed block solution worth keeping however
// old it looks. peerKnown is hardcoded true here since this implementation
// doesn't yet distinguish locally-mined shares from peer-received ones; the
// stale check in data.py only ever fires for shares that came from a peer.
func (s *VersionedShare) ShouldPunishReason(previousBlock [32]byte, bits uint32, tracker *Tracker, knownTxs map[[32]byte][]byte) (int, string) {
	return shouldPunishReason(s, previousBlock, bits, true, tracker, knownTxs)
}

// AsBlock assembles a full parent-chain block from this share, provided it
// has already passed Check (so its coinbase transaction is cached) and
// every other transaction it references is present in knownTxs.
func (s *VersionedShare) AsBlock(tracker *Tracker, knownTxs map[[32]byte][]byte) ([]byte, bool) {
	if s.gentx == nil {
		return nil, false
	}
	_, otherTxs, ok := resolveOtherTxs(s, tracker, knownTxs)
	if !ok {
		return nil, false
	}
	return asBlock(s, tracker, s.gentx, otherTxs)
}
