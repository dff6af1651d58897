package search

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"

	"github.com/Amr-9/KeyHunter/pkg/engine"
)

// pad32 left-pads a key to 32 bytes.
func pad32(k *big.Int) []byte {
	b := make([]byte, 32)
	return k.FillBytes(b)
}

// PrivateKeyToWIF converts a private key to Wallet Import Format.
// WIF = Base58Check(netID + key + [0x01 if compressed]).
func PrivateKeyToWIF(key *big.Int, compressed bool, net *chaincfg.Params) string {
	data := make([]byte, 0, 34)
	data = append(data, net.PrivateKeyID)
	data = append(data, pad32(key)...)
	if compressed {
		data = append(data, 0x01)
	}
	return Base58CheckEncode(data)
}

// Base58CheckEncode encodes data with a 4-byte double-SHA256 checksum.
func Base58CheckEncode(data []byte) string {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])

	full := make([]byte, len(data)+4)
	copy(full, data)
	copy(full[len(data):], second[:4])
	return base58.Encode(full)
}

// pubKey returns the public key for a private key in (0, N).
func pubKey(key *big.Int) *btcec.PublicKey {
	_, pub := btcec.PrivKeyFromBytes(pad32(key))
	return pub
}

// derive recomputes, on the CPU, the value a kernel hashed for key: an
// address hash for address modes or the x coordinate for xpoint modes.
func derive(key *big.Int, mode engine.SearchMode, coin engine.CoinType, compressed bool) ([]byte, error) {
	if mode.XPoint() {
		return pubKey(key).SerializeCompressed()[1:], nil
	}
	if coin == engine.CoinETH {
		pk, err := crypto.ToECDSA(pad32(key))
		if err != nil {
			return nil, err
		}
		return crypto.PubkeyToAddress(pk.PublicKey).Bytes(), nil
	}
	pub := pubKey(key)
	if compressed {
		return btcutil.Hash160(pub.SerializeCompressed()), nil
	}
	return btcutil.Hash160(pub.SerializeUncompressed()), nil
}

// Address renders the address of key: a checksummed 0x address for ETH and a
// P2PKH address otherwise.
func Address(key *big.Int, coin engine.CoinType, compressed bool, net *chaincfg.Params) (string, error) {
	if coin == engine.CoinETH {
		pk, err := crypto.ToECDSA(pad32(key))
		if err != nil {
			return "", err
		}
		return crypto.PubkeyToAddress(pk.PublicKey).Hex(), nil
	}
	pub := pubKey(key)
	ser := pub.SerializeUncompressed()
	if compressed {
		ser = pub.SerializeCompressed()
	}
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(ser), net)
	if err != nil {
		return "", fmt.Errorf("p2pkh address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// PublicKeyHex returns the hex encoded public key of key.
func PublicKeyHex(key *big.Int, compressed bool) string {
	pub := pubKey(key)
	if compressed {
		return hex.EncodeToString(pub.SerializeCompressed())
	}
	return hex.EncodeToString(pub.SerializeUncompressed())
}
