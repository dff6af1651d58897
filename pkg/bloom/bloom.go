// Package bloom implements the flat Bloom filter consumed by the search
// kernels. The filter is a plain bit array plus a hash count so it can be
// copied to device memory verbatim and probed there with TestBytes.
package bloom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/spaolacci/murmur3"
	"github.com/willf/bitset"
	willf "github.com/willf/bloom"
)

var (
	// ErrInconsistent is returned when Size, Bits, Hashes and Data disagree.
	ErrInconsistent = errors.New("bloom: inconsistent filter parameters")

	// ErrParams is returned when a filter cannot be sized from the request.
	ErrParams = errors.New("bloom: invalid sizing parameters")
)

// Filter is an immutable Bloom filter. Size is the byte length of Data and
// Bits the number of addressable bits, with Size == ceil(Bits/8).
type Filter struct {
	Size   int64
	Bits   uint64
	Hashes uint8
	Data   []byte
}

// Validate checks that the filter parameters agree with each other.
func (f *Filter) Validate() error {
	switch {
	case f.Size < 0:
		return fmt.Errorf("%w: negative size %d", ErrInconsistent, f.Size)
	case f.Bits == 0:
		return fmt.Errorf("%w: zero bits", ErrInconsistent)
	case f.Hashes == 0:
		return fmt.Errorf("%w: zero hash functions", ErrInconsistent)
	case uint64(len(f.Data)) != uint64(f.Size):
		return fmt.Errorf("%w: size %d but %d data bytes", ErrInconsistent, f.Size, len(f.Data))
	case uint64(f.Size) != (f.Bits+7)/8:
		return fmt.Errorf("%w: %d bits need %d bytes, have %d", ErrInconsistent, f.Bits, (f.Bits+7)/8, f.Size)
	}
	return nil
}

// Test reports whether key may be in the set. A false result is definite.
func (f *Filter) Test(key []byte) bool {
	return TestBytes(f.Data, f.Bits, f.Hashes, key)
}

// FillRatio returns the fraction of bits set.
func (f *Filter) FillRatio() float64 {
	if f.Bits == 0 {
		return 0
	}
	var set uint64
	for b := uint64(0); b < f.Bits; b++ {
		if f.Data[b>>3]&(1<<(b&7)) != 0 {
			set++
		}
	}
	return float64(set) / float64(f.Bits)
}

// Locations returns the bit positions probed for key.
func Locations(bits uint64, hashes uint8, key []byte) []uint64 {
	h1, h2 := murmur3.Sum128(key)
	locs := make([]uint64, hashes)
	for i := range locs {
		locs[i] = (h1 + uint64(i)*h2) % bits
	}
	return locs
}

// TestBytes probes a raw filter bit array. It is the single probe shared by
// host code and device kernels, and it does not allocate.
func TestBytes(data []byte, bits uint64, hashes uint8, key []byte) bool {
	if bits == 0 {
		return false
	}
	h1, h2 := murmur3.Sum128(key)
	for i := uint64(0); i < uint64(hashes); i++ {
		b := (h1 + i*h2) % bits
		if data[b>>3]&(1<<(b&7)) == 0 {
			return false
		}
	}
	return true
}

// Builder accumulates keys for a filter sized for an expected element count
// and false-positive rate.
type Builder struct {
	set    *bitset.BitSet
	bits   uint64
	hashes uint8
	count  uint64
}

// New sizes a filter for n elements at false-positive rate fp.
func New(n uint64, fp float64) (*Builder, error) {
	if n == 0 {
		return nil, fmt.Errorf("%w: no elements", ErrParams)
	}
	if !(fp > 0 && fp < 1) {
		return nil, fmt.Errorf("%w: false-positive rate %v", ErrParams, fp)
	}
	m, k := willf.EstimateParameters(uint(n), fp)
	if k > math.MaxUint8 {
		k = math.MaxUint8
	}
	if k == 0 {
		k = 1
	}
	log.Debugf("Bloom filter for %d elements at p=%v: %d bits, %d hashes", n, fp, m, k)
	return &Builder{
		set:    bitset.New(m),
		bits:   uint64(m),
		hashes: uint8(k),
	}, nil
}

// Add inserts key.
func (b *Builder) Add(key []byte) {
	h1, h2 := murmur3.Sum128(key)
	for i := uint64(0); i < uint64(b.hashes); i++ {
		b.set.Set(uint((h1 + i*h2) % b.bits))
	}
	b.count++
}

// Test reports whether key may have been added.
func (b *Builder) Test(key []byte) bool {
	h1, h2 := murmur3.Sum128(key)
	for i := uint64(0); i < uint64(b.hashes); i++ {
		if !b.set.Test(uint((h1 + i*h2) % b.bits)) {
			return false
		}
	}
	return true
}

// Count returns the number of keys added.
func (b *Builder) Count() uint64 {
	return b.count
}

// Filter returns the flat filter. Bit b of the set lands in byte b>>3 under
// mask 1<<(b&7).
func (b *Builder) Filter() *Filter {
	size := (b.bits + 7) / 8
	data := make([]byte, len(b.set.Bytes())*8)
	for i, w := range b.set.Bytes() {
		binary.LittleEndian.PutUint64(data[i*8:], w)
	}
	if uint64(len(data)) < size {
		data = append(data, make([]byte, size-uint64(len(data)))...)
	}
	return &Filter{
		Size:   int64(size),
		Bits:   b.bits,
		Hashes: b.hashes,
		Data:   data[:size],
	}
}
