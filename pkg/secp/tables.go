package secp

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/crypto/secp256k1"
)

// GeneratorTables are the precomputed multiples used to step a batch of
// GroupSize points around a centre with one shared inversion.
type GeneratorTables struct {
	GroupSize int

	// Gx, Gy hold i*G for i = 1..GroupSize/2.
	Gx, Gy [][4]uint64

	// Jx, Jy hold GroupSize*G, the jump from one group centre to the next.
	Jx, Jy [4]uint64
}

type tablesKey struct {
	curve     *secp256k1.BitCurve
	groupSize int
}

var tablesCache sync.Map

// NewGeneratorTables returns the tables for groupSize on curve. The result is
// deterministic and shared between callers; it must not be modified.
func NewGeneratorTables(curve *secp256k1.BitCurve, groupSize int) (*GeneratorTables, error) {
	if groupSize < 4 || groupSize%2 != 0 {
		return nil, fmt.Errorf("secp: group size %d must be even and at least 4", groupSize)
	}
	key := tablesKey{curve: curve, groupSize: groupSize}
	if t, ok := tablesCache.Load(key); ok {
		return t.(*GeneratorTables), nil
	}

	t := buildTables(curve, groupSize)
	actual, _ := tablesCache.LoadOrStore(key, t)
	return actual.(*GeneratorTables), nil
}

func buildTables(curve *secp256k1.BitCurve, groupSize int) *GeneratorTables {
	half := groupSize / 2
	t := &GeneratorTables{
		GroupSize: groupSize,
		Gx:        make([][4]uint64, half),
		Gy:        make([][4]uint64, half),
	}

	// Gn[0] = G, Gn[1] = 2G, Gn[i] = Gn[i-1] + G.
	x, y := new(big.Int).Set(curve.Gx), new(big.Int).Set(curve.Gy)
	for i := 0; i < half; i++ {
		switch i {
		case 0:
		case 1:
			x, y = curve.Double(curve.Gx, curve.Gy)
		default:
			x, y = curve.Add(x, y, curve.Gx, curve.Gy)
		}
		t.Gx[i] = LimbsFromBig(x)
		t.Gy[i] = LimbsFromBig(y)
	}

	// The jump is 2*(half*G).
	jx, jy := curve.Double(x, y)
	t.Jx = LimbsFromBig(jx)
	t.Jy = LimbsFromBig(jy)

	log.Debugf("Generated tables for group size %d", groupSize)
	return t
}

// TablesSize returns the byte length of Bytes for groupSize.
func TablesSize(groupSize int) int {
	return (groupSize + 2) * 32
}

// Bytes serializes the tables as little-endian limbs: every Gx entry, every
// Gy entry, then Jx and Jy.
func (t *GeneratorTables) Bytes() []byte {
	half := t.GroupSize / 2
	b := make([]byte, TablesSize(t.GroupSize))
	for i := 0; i < half; i++ {
		putLimbs(b[32*i:], t.Gx[i])
		putLimbs(b[32*(half+i):], t.Gy[i])
	}
	putLimbs(b[32*2*half:], t.Jx)
	putLimbs(b[32*(2*half+1):], t.Jy)
	return b
}

// TablesFromBytes reverses Bytes.
func TablesFromBytes(groupSize int, b []byte) (*GeneratorTables, error) {
	if groupSize < 4 || groupSize%2 != 0 || len(b) != TablesSize(groupSize) {
		return nil, fmt.Errorf("secp: %d table bytes do not match group size %d", len(b), groupSize)
	}
	half := groupSize / 2
	t := &GeneratorTables{
		GroupSize: groupSize,
		Gx:        make([][4]uint64, half),
		Gy:        make([][4]uint64, half),
	}
	for i := 0; i < half; i++ {
		t.Gx[i] = getLimbs(b[32*i:])
		t.Gy[i] = getLimbs(b[32*(half+i):])
	}
	t.Jx = getLimbs(b[32*2*half:])
	t.Jy = getLimbs(b[32*(2*half+1):])
	return t, nil
}

func putLimbs(b []byte, l [4]uint64) {
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint64(b[8*i:], l[i])
	}
}

func getLimbs(b []byte) [4]uint64 {
	var l [4]uint64
	for i := 0; i < 4; i++ {
		l[i] = binary.LittleEndian.Uint64(b[8*i:])
	}
	return l
}
