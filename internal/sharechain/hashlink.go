package sharechain

import (
	"crypto/sha256"
	"encoding"
	"fmt"
)

// HashLink lets a share commit to the hash of a much larger buffer (the
// gentx's tail past the share's own commitment point) without transmitting
// that buffer. It stores the SHA-256 compression state after absorbing the
// bytes the share author already knows, so "finishing" the hash only
// requires the caller's new tail.
//
// crypto/sha256's digest type implements encoding.BinaryMarshaler, which
// serializes exactly this: the magic/version prefix, the chaining value,
// the unabsorbed buffer, and the total length so far. That lets HashLink
// reuse the stdlib hash instead of a second, hand-rolled SHA-256.
type HashLink struct {
	State  []byte // marshaled crypto/sha256 digest
	Length uint64 // total bytes absorbed so far; serialized with the link, not checked
}

// PrefixToHashLink captures the midstate after hashing prefix, so that a
// later caller holding only the remaining tail can still compute
// SHA256(prefix || tail) via Finalize.
func PrefixToHashLink(prefix []byte) (HashLink, error) {
	h := sha256.New()
	h.Write(prefix)

	marshaler, ok := h.(encoding.BinaryMarshaler)
	if !ok {
		return HashLink{}, fmt.Errorf("sharechain: sha256 digest does not support state extraction")
	}
	state, err := marshaler.MarshalBinary()
	if err != nil {
		return HashLink{}, fmt.Errorf("sharechain: marshal sha256 state: %w", err)
	}

	return HashLink{State: state, Length: uint64(len(prefix))}, nil
}

// Finalize completes the hash started by PrefixToHashLink, hashing the
// remaining tail bytes against the captured midstate.
func (hl HashLink) Finalize(tail []byte) ([32]byte, error) {
	h := sha256.New()
	unmarshaler, ok := h.(encoding.BinaryUnmarshaler)
	if !ok {
		return [32]byte{}, fmt.Errorf("sharechain: sha256 digest does not support state restore")
	}
	if err := unmarshaler.UnmarshalBinary(hl.State); err != nil {
		return [32]byte{}, fmt.Errorf("sharechain: unmarshal sha256 state: %w", err)
	}
	h.Write(tail)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// HashAfter completes the hash link the way a real gentx hash is computed:
// Finalize against tail, then hash the result a second time (Bitcoin's
// double-SHA256).
func (hl HashLink) HashAfter(tail []byte) ([32]byte, error) {
	first, err := hl.Finalize(tail)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(first[:]), nil
}

// CheckHashLink verifies that HashAfter(tail) equals want.
func CheckHashLink(hl HashLink, tail []byte, want [32]byte) (bool, error) {
	got, err := hl.HashAfter(tail)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
