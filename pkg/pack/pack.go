// Package pack implements the bit-exact binary codec vocabulary shared by
// every share wire format: Bitcoin-style var-ints, fixed-width little-endian
// integers, length-prefixed and fixed-length byte strings, an all-zero
// "possibly none" sentinel, and small enums over a single byte.
package pack

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/arejula27/sharechain/pkg/util"
)

// ErrShortBuffer is returned by Reader methods when the underlying buffer
// runs out before a fixed-size field can be read.
var ErrShortBuffer = errors.New("pack: short buffer")

// Writer accumulates bytes for a single share record. Writes never fail;
// callers build up the full record and take Bytes() at the end, matching
// the teacher's WriteVarInt/WriteScriptLen style of returning plain []byte.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Raw(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// VarInt writes a Bitcoin-style variable length integer (1/3/5/9 bytes).
func (w *Writer) VarInt(v uint64) *Writer {
	return w.Raw(util.WriteVarInt(v))
}

func (w *Writer) Uint8(v uint8) *Writer {
	return w.Raw([]byte{v})
}

func (w *Writer) Uint16(v uint16) *Writer {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return w.Raw(b)
}

func (w *Writer) Uint32(v uint32) *Writer {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return w.Raw(b)
}

func (w *Writer) Uint64(v uint64) *Writer {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return w.Raw(b)
}

// VarBytes writes a var-int length prefix followed by the bytes.
func (w *Writer) VarBytes(b []byte) *Writer {
	w.VarInt(uint64(len(b)))
	return w.Raw(b)
}

// FixedBytes writes exactly len(b) bytes with no length prefix; the reader
// must know the width out of band (used for 32-byte hashes and the like).
func (w *Writer) FixedBytes(b []byte) *Writer {
	return w.Raw(b)
}

// Hash256 writes a 32-byte hash verbatim.
func (w *Writer) Hash256(h [32]byte) *Writer {
	return w.Raw(h[:])
}

// PossiblyNone writes the all-zero sentinel when present is false, else the
// 32-byte value. A real hash is never all-zero, so the sentinel is
// unambiguous.
func (w *Writer) PossiblyNone(present bool, h [32]byte) *Writer {
	if !present {
		var zero [32]byte
		return w.Hash256(zero)
	}
	return w.Hash256(h)
}

// Enum8 writes a small enum as a single byte.
func (w *Writer) Enum8(v uint8) *Writer {
	return w.Uint8(v)
}

// Reader consumes bytes sequentially, matching util.ReadVarInt's style of
// returning (value, consumed, error) but tracking its own cursor.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, ErrShortBuffer
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) VarInt() (uint64, error) {
	v, n, err := util.ReadVarInt(r.buf[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *Reader) Uint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) Uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) Uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) VarBytes() ([]byte, error) {
	n, err := r.VarInt()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (r *Reader) FixedBytes(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (r *Reader) Hash256() ([32]byte, error) {
	var h [32]byte
	b, err := r.take(32)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// PossiblyNone reads a 32-byte field, reporting present=false when it is
// the all-zero sentinel.
func (r *Reader) PossiblyNone() (h [32]byte, present bool, err error) {
	h, err = r.Hash256()
	if err != nil {
		return h, false, err
	}
	var zero [32]byte
	return h, h != zero, nil
}

func (r *Reader) Enum8() (uint8, error) {
	return r.Uint8()
}

// List reads a var-int element count followed by n invocations of read.
func List[T any](r *Reader, read func(*Reader) (T, error)) ([]T, error) {
	n, err := r.VarInt()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := read(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// WriteList writes a var-int element count followed by n invocations of write.
func WriteList[T any](w *Writer, items []T, write func(*Writer, T)) {
	w.VarInt(uint64(len(items)))
	for _, it := range items {
		write(w, it)
	}
}

// BigIntToBytes/BytesToBigInt round-trip a target/weight through the
// unsigned-big-endian representation used by VarBytes fields.
func BigIntToBytes(n *big.Int) []byte {
	if n == nil {
		return nil
	}
	return n.Bytes()
}

func BytesToBigInt(b []byte) *big.Int {
	if len(b) == 0 {
		return new(big.Int)
	}
	return new(big.Int).SetBytes(b)
}
