// Package secp holds the secp256k1 pieces shared by the host and the search
// kernels: the limb encoding of affine points, the generator tables used for
// batch stepping, and the address hashes computed for every candidate point.
package secp

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/crypto/secp256k1"
)

// ErrZeroKey is returned for private keys congruent to zero.
var ErrZeroKey = errors.New("secp: private key is zero mod N")

// N is the order of the secp256k1 base point.
var N = new(big.Int).Set(secp256k1.S256().N)

// Point is an affine curve point as four little-endian 64-bit limbs per
// coordinate, limb 0 being the least significant. The zero Point stands for
// the point at infinity; (0, 0) is not on the curve.
type Point struct {
	X, Y [4]uint64
}

// IsInfinity reports whether p is the point at infinity.
func (p Point) IsInfinity() bool {
	return p == Point{}
}

// LimbsFromBytes converts a 32-byte big-endian value to limbs.
func LimbsFromBytes(b *[32]byte) [4]uint64 {
	var l [4]uint64
	for i := 0; i < 4; i++ {
		l[i] = binary.BigEndian.Uint64(b[24-8*i:])
	}
	return l
}

// LimbsToBytes converts limbs to a 32-byte big-endian value.
func LimbsToBytes(l [4]uint64) [32]byte {
	var b [32]byte
	for i := 0; i < 4; i++ {
		binary.BigEndian.PutUint64(b[24-8*i:], l[i])
	}
	return b
}

// LimbsFromBig converts v, which must be below 2^256, to limbs.
func LimbsFromBig(v *big.Int) [4]uint64 {
	var b [32]byte
	v.FillBytes(b[:])
	return LimbsFromBytes(&b)
}

// FieldFromLimbs converts limbs to a normalized field value.
func FieldFromLimbs(l [4]uint64) btcec.FieldVal {
	b := LimbsToBytes(l)
	var f btcec.FieldVal
	f.SetBytes(&b)
	return f
}

// LimbsFromField converts a field value to limbs. f is normalized in place.
func LimbsFromField(f *btcec.FieldVal) [4]uint64 {
	f.Normalize()
	return LimbsFromBytes(f.Bytes())
}

// PointFromFieldVals builds a point from affine coordinates.
func PointFromFieldVals(x, y *btcec.FieldVal) Point {
	return Point{X: LimbsFromField(x), Y: LimbsFromField(y)}
}

// PointFromPublicKey builds a point from a public key.
func PointFromPublicKey(pub *btcec.PublicKey) Point {
	return Point{X: LimbsFromBig(pub.X()), Y: LimbsFromBig(pub.Y())}
}

// FieldVals returns the coordinates as field values.
func (p Point) FieldVals() (x, y btcec.FieldVal) {
	return FieldFromLimbs(p.X), FieldFromLimbs(p.Y)
}

// PublicKey returns p as a public key.
func (p Point) PublicKey() *btcec.PublicKey {
	x, y := p.FieldVals()
	return btcec.NewPublicKey(&x, &y)
}

// ScalarBaseMult returns k*G for k reduced mod N.
func ScalarBaseMult(k *big.Int) (Point, error) {
	var b [32]byte
	new(big.Int).Mod(k, N).FillBytes(b[:])

	var s btcec.ModNScalar
	s.SetBytes(&b)
	if s.IsZero() {
		return Point{}, ErrZeroKey
	}
	var j btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&s, &j)
	j.ToAffine()
	return PointFromFieldVals(&j.X, &j.Y), nil
}
