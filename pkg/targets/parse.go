package targets

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// Load is the outcome of parsing a target file.
type Load struct {
	Table   *Table
	Lines   int // non-empty lines read
	Skipped int // lines that could not be turned into a record
}

// ParseAddresses reads one target per line and returns 20-byte records.
// A line may be a P2PKH or P2WPKH address for params, a 0x-prefixed Ethereum
// address, or a bare 40-character hash160. Text after '#' is ignored.
func ParseAddresses(r io.Reader, params *chaincfg.Params) (*Load, error) {
	return parseLines(r, AddressWidth, func(line string) ([]byte, error) {
		return decodeAddress(line, params)
	})
}

// ParseXPoints reads one public key per line and returns 32-byte x-coordinate
// records. A line may be a compressed key (66 hex chars), an uncompressed key
// (130 hex chars) or a bare x-coordinate (64 hex chars).
func ParseXPoints(r io.Reader) (*Load, error) {
	return parseLines(r, XPointWidth, decodeXPoint)
}

// ReadBinary reads raw width-byte records back to back.
func ReadBinary(r io.Reader, width int) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	return NewTable(width, data)
}

func parseLines(r io.Reader, width int, decode func(string) ([]byte, error)) (*Load, error) {
	var (
		load Load
		recs [][]byte
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		load.Lines++

		rec, err := decode(line)
		if err != nil {
			load.Skipped++
			log.Debugf("Skipping target %q: %v", line, err)
			continue
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}

	table, err := FromRecords(width, recs)
	if err != nil {
		return nil, err
	}
	load.Table = table
	if load.Skipped > 0 {
		log.Warnf("Skipped %d of %d target lines", load.Skipped, load.Lines)
	}
	return &load, nil
}

func decodeAddress(s string, params *chaincfg.Params) ([]byte, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return decodeHex(s[2:], AddressWidth)
	}
	if len(s) == 2*AddressWidth {
		if b, err := decodeHex(s, AddressWidth); err == nil {
			return b, nil
		}
	}

	addr, err := btcutil.DecodeAddress(s, params)
	if err != nil {
		return nil, err
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("address is not for %s", params.Name)
	}
	switch a := addr.(type) {
	case *btcutil.AddressPubKeyHash:
		h := a.Hash160()
		return h[:], nil
	case *btcutil.AddressWitnessPubKeyHash:
		return a.WitnessProgram(), nil
	default:
		return nil, fmt.Errorf("unsupported address type %T", addr)
	}
}

func decodeXPoint(s string) ([]byte, error) {
	switch len(s) {
	case 66, 130:
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, err
		}
		pub, err := btcec.ParsePubKey(b)
		if err != nil {
			return nil, err
		}
		return pub.SerializeCompressed()[1:], nil
	case 64:
		x, err := decodeHex(s, XPointWidth)
		if err != nil {
			return nil, err
		}
		// The bare x must belong to a curve point.
		if _, err := btcec.ParsePubKey(append([]byte{0x02}, x...)); err != nil {
			return nil, err
		}
		return x, nil
	default:
		return nil, fmt.Errorf("unexpected public key length %d", len(s))
	}
}

func decodeHex(s string, width int) ([]byte, error) {
	if len(s) != 2*width {
		return nil, fmt.Errorf("want %d hex chars, got %d", 2*width, len(s))
	}
	return hex.DecodeString(s)
}
