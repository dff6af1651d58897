// Package targets holds the sorted record tables the search engine confirms
// candidates against, and the loaders that build them from address, public
// key and raw binary files.
package targets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/Amr-9/KeyHunter/pkg/bloom"
)

const (
	// AddressWidth is the record width of hash160 and Ethereum address targets.
	AddressWidth = 20

	// XPointWidth is the record width of x-coordinate targets.
	XPointWidth = 32

	// NotFound is returned by Search when a record is absent.
	NotFound int64 = -1
)

var (
	// ErrWidth is returned for record widths other than 20 and 32 bytes.
	ErrWidth = errors.New("targets: unsupported record width")

	// ErrLength is returned when data is not a whole number of records.
	ErrLength = errors.New("targets: partial record")

	// ErrEmpty is returned when a table would hold no records.
	ErrEmpty = errors.New("targets: no records")
)

// Table is an immutable ascending-sorted array of fixed-width records
// without duplicates.
type Table struct {
	width int
	data  []byte
}

// ValidWidth reports whether width is a supported record width.
func ValidWidth(width int) bool {
	return width == AddressWidth || width == XPointWidth
}

// NewTable builds a table from the concatenated records in data. The input is
// copied and need not be sorted.
func NewTable(width int, data []byte) (*Table, error) {
	if !ValidWidth(width) {
		return nil, fmt.Errorf("%w: %d", ErrWidth, width)
	}
	if len(data)%width != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrLength, len(data), width)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	n := len(data) / width
	recs := make([][]byte, n)
	for i := range recs {
		recs[i] = data[i*width : (i+1)*width]
	}
	return fromSorted(width, sortRecords(recs)), nil
}

// FromRecords builds a table from individual records.
func FromRecords(width int, recs [][]byte) (*Table, error) {
	if !ValidWidth(width) {
		return nil, fmt.Errorf("%w: %d", ErrWidth, width)
	}
	if len(recs) == 0 {
		return nil, ErrEmpty
	}
	for i, r := range recs {
		if len(r) != width {
			return nil, fmt.Errorf("%w: record %d has %d bytes, want %d", ErrLength, i, len(r), width)
		}
	}
	sorted := make([][]byte, len(recs))
	copy(sorted, recs)
	return fromSorted(width, sortRecords(sorted)), nil
}

// sortRecords sorts recs in place and drops duplicates.
func sortRecords(recs [][]byte) [][]byte {
	sort.Slice(recs, func(i, j int) bool {
		return bytes.Compare(recs[i], recs[j]) < 0
	})
	out := recs[:0]
	for i, r := range recs {
		if i > 0 && bytes.Equal(r, out[len(out)-1]) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func fromSorted(width int, recs [][]byte) *Table {
	data := make([]byte, 0, len(recs)*width)
	for _, r := range recs {
		data = append(data, r...)
	}
	return &Table{width: width, data: data}
}

// Len returns the number of records.
func (t *Table) Len() int64 {
	return int64(len(t.data) / t.width)
}

// Width returns the record width in bytes.
func (t *Table) Width() int {
	return t.width
}

// Bytes returns the sorted records back to back. The slice must not be modified.
func (t *Table) Bytes() []byte {
	return t.data
}

// Record returns record i.
func (t *Table) Record(i int64) []byte {
	off := i * int64(t.width)
	return t.data[off : off+int64(t.width)]
}

// Search returns the index of x or NotFound.
func (t *Table) Search(x []byte) int64 {
	return BinarySearch(t.data, t.width, x)
}

// Bloom builds a filter over every record at false-positive rate fp.
func (t *Table) Bloom(fp float64) (*bloom.Filter, error) {
	b, err := bloom.New(uint64(t.Len()), fp)
	if err != nil {
		return nil, err
	}
	for i := int64(0); i < t.Len(); i++ {
		b.Add(t.Record(i))
	}
	f := b.Filter()
	log.Debugf("Bloom filter over %d records: %d bytes, %d hashes", t.Len(), f.Size, f.Hashes)
	return f, nil
}

// WriteTo writes the sorted records in the raw binary form read by ReadBinary.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(t.data)
	return int64(n), err
}

// BinarySearch looks up x in data, a sorted array of width-byte records, and
// returns its index or NotFound. It does not allocate and is safe to call
// from device kernels.
func BinarySearch(data []byte, width int, x []byte) int64 {
	if len(x) != width {
		return NotFound
	}
	lo, hi := int64(0), int64(len(data)/width)-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		off := mid * int64(width)
		switch c := bytes.Compare(data[off:off+int64(width)], x); {
		case c == 0:
			return mid
		case c < 0:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return NotFound
}
