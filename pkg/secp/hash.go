package secp

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160"
)

// Hash160 computes RIPEMD160(SHA256(data)).
func Hash160(data []byte) [20]byte {
	sha := sha256.Sum256(data)
	h := ripemd160.New()
	h.Write(sha[:])
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SerializeCompressed encodes normalized affine coordinates as a 33-byte
// compressed public key.
func SerializeCompressed(x, y *btcec.FieldVal) [33]byte {
	var b [33]byte
	b[0] = 0x02
	if y.IsOdd() {
		b[0] = 0x03
	}
	putField(b[1:], x)
	return b
}

// SerializeUncompressed encodes normalized affine coordinates as a 65-byte
// uncompressed public key.
func SerializeUncompressed(x, y *btcec.FieldVal) [65]byte {
	var b [65]byte
	b[0] = 0x04
	putField(b[1:33], x)
	putField(b[33:], y)
	return b
}

// Hash160Compressed returns the hash160 of the compressed encoding.
func Hash160Compressed(x, y *btcec.FieldVal) [20]byte {
	b := SerializeCompressed(x, y)
	return Hash160(b[:])
}

// Hash160Uncompressed returns the hash160 of the uncompressed encoding.
func Hash160Uncompressed(x, y *btcec.FieldVal) [20]byte {
	b := SerializeUncompressed(x, y)
	return Hash160(b[:])
}

// KeccakAddress returns the Ethereum address, the last 20 bytes of
// Keccak256(x || y).
func KeccakAddress(x, y *btcec.FieldVal) [20]byte {
	b := SerializeUncompressed(x, y)
	var out [20]byte
	copy(out[:], crypto.Keccak256(b[1:])[12:])
	return out
}

// XPoint returns the big-endian x coordinate.
func XPoint(x *btcec.FieldVal) [32]byte {
	var out [32]byte
	x.PutBytes(&out)
	return out
}

func putField(dst []byte, f *btcec.FieldVal) {
	var b [32]byte
	f.PutBytes(&b)
	copy(dst, b[:])
}
