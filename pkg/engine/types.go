package engine

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/Amr-9/KeyHunter/pkg/secp"
)

// SearchMode selects what a kernel computes and how it matches.
type SearchMode int

const (
	MultiAddress  SearchMode = iota + 1 // hash160/ETH address against a table (MA)
	SingleAddress                       // hash160/ETH address against one target (SA)
	MultiXPoint                         // x coordinate against a table (MX)
	SingleXPoint                        // x coordinate against one target (SX)
)

// String returns the short mode name.
func (m SearchMode) String() string {
	switch m {
	case MultiAddress:
		return "MA"
	case SingleAddress:
		return "SA"
	case MultiXPoint:
		return "MX"
	case SingleXPoint:
		return "SX"
	default:
		return "Unknown"
	}
}

// Multi reports whether the mode matches against a table and Bloom filter.
func (m SearchMode) Multi() bool {
	return m == MultiAddress || m == MultiXPoint
}

// XPoint reports whether the mode matches x coordinates.
func (m SearchMode) XPoint() bool {
	return m == MultiXPoint || m == SingleXPoint
}

// Width returns the byte width of the values the mode matches.
func (m SearchMode) Width() int {
	if m.XPoint() {
		return 32
	}
	return 20
}

// CompMode selects which public key encodings are hashed in address modes.
type CompMode int

const (
	Compressed CompMode = iota
	Uncompressed
	Both
)

// String returns the encoding name.
func (c CompMode) String() string {
	switch c {
	case Compressed:
		return "Compressed"
	case Uncompressed:
		return "Uncompressed"
	case Both:
		return "Compressed or Uncompressed"
	default:
		return "Unknown"
	}
}

// CoinType selects the address hash.
type CoinType int

const (
	CoinBTC CoinType = iota + 1 // RIPEMD160(SHA256(pubkey))
	CoinETH                     // Keccak256(x || y)[12:]
)

// String returns the coin ticker.
func (c CoinType) String() string {
	switch c {
	case CoinBTC:
		return "BTC"
	case CoinETH:
		return "ETH"
	default:
		return "Unknown"
	}
}

const (
	// DefaultGroupSize is the number of points sharing one batched inversion.
	DefaultGroupSize = 2048

	// DefaultStepSize is the number of keys each thread checks per launch.
	DefaultStepSize = 2048

	// MaxStepSize keeps every increment representable as an int16.
	MaxStepSize = 32768

	// ItemSizeA is the byte size of an address item: thread id, info word and
	// a 20-byte hash.
	ItemSizeA   = 28
	ItemSizeA32 = ItemSizeA / 4

	// ItemSizeX is the byte size of an xpoint item: thread id, info word and a
	// 32-byte x coordinate.
	ItemSizeX   = 40
	ItemSizeX32 = ItemSizeX / 4

	itemHeader = 8
	modeBit    = 1 << 15
)

// ItemSize returns the output item size for mode.
func ItemSize(mode SearchMode) int {
	if mode.XPoint() {
		return ItemSizeX
	}
	return ItemSizeA
}

// Item is one confirmed match reported by a kernel.
type Item struct {
	ThreadID uint32
	Incr     int16  // offset from the thread's launch key
	Hash     []byte // 20-byte address hash or 32-byte x coordinate
	Mode     bool   // true for compressed keys and for x coordinates
}

// Key returns the private key of the item given the thread's launch key.
func (it Item) Key(base *big.Int) *big.Int {
	k := new(big.Int).Add(base, big.NewInt(int64(it.Incr)))
	return k.Mod(k, secp.N)
}

// EncodeItem returns the wire form of it.
func EncodeItem(it Item) ([]byte, error) {
	if len(it.Hash) != 20 && len(it.Hash) != 32 {
		return nil, fmt.Errorf("%w: item payload of %d bytes", ErrConfig, len(it.Hash))
	}
	b := make([]byte, itemHeader+len(it.Hash))
	putItem(b, it.ThreadID, it.Incr, it.Hash, it.Mode)
	return b, nil
}

// DecodeItem parses one 28- or 40-byte wire item.
func DecodeItem(b []byte) (Item, error) {
	if len(b) != ItemSizeA && len(b) != ItemSizeX {
		return Item{}, fmt.Errorf("%w: item of %d bytes", ErrConfig, len(b))
	}
	info := binary.LittleEndian.Uint32(b[4:])
	it := Item{
		ThreadID: binary.LittleEndian.Uint32(b),
		Incr:     int16(uint16(info >> 16)),
		Mode:     info&modeBit != 0,
		Hash:     make([]byte, len(b)-itemHeader),
	}
	copy(it.Hash, b[itemHeader:])
	return it, nil
}

// putItem writes an item into dst without allocating. Word 0 is the thread
// id, word 1 carries the increment in its high half and the mode bit, the
// payload bytes follow.
func putItem(dst []byte, thread uint32, incr int16, payload []byte, mode bool) {
	binary.LittleEndian.PutUint32(dst, thread)
	info := uint32(uint16(incr)) << 16
	if mode {
		info |= modeBit
	}
	binary.LittleEndian.PutUint32(dst[4:], info)
	copy(dst[itemHeader:], payload)
}
