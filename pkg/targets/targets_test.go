package targets

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

const (
	// Hash160 of the compressed public key for private key 1.
	oneHash160 = "751e76e8199196d454941c45d1b3a323f1433bd6"
	oneX       = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
	oneY       = "483ada7726a3c4655da4fbfc0e1108a8fd17b448a68554199c47d08ffb10d4b8"
	oneETH     = "7e5f4552091a69125d5dfcb7b8c2659029395bdf"
)

func rec(width int, fill ...byte) []byte {
	r := make([]byte, width)
	copy(r[width-len(fill):], fill)
	return r
}

func mustHex(t *testing.T, s string) []byte {
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestNewTableSortsAndDedups(t *testing.T) {
	data := bytes.Join([][]byte{
		rec(AddressWidth, 9),
		rec(AddressWidth, 1),
		rec(AddressWidth, 5),
		rec(AddressWidth, 1),
	}, nil)

	table, err := NewTable(AddressWidth, data)
	require.NoError(t, err)
	require.EqualValues(t, 3, table.Len())
	require.Equal(t, AddressWidth, table.Width())
	require.Equal(t, rec(AddressWidth, 1), table.Record(0))
	require.Equal(t, rec(AddressWidth, 5), table.Record(1))
	require.Equal(t, rec(AddressWidth, 9), table.Record(2))

	// The input is copied.
	data[0] = 0xff
	require.Equal(t, rec(AddressWidth, 1), table.Record(0))
}

func TestNewTableErrors(t *testing.T) {
	_, err := NewTable(21, make([]byte, 21))
	require.ErrorIs(t, err, ErrWidth)

	_, err = NewTable(AddressWidth, make([]byte, 30))
	require.ErrorIs(t, err, ErrLength)

	_, err = NewTable(XPointWidth, nil)
	require.ErrorIs(t, err, ErrEmpty)

	_, err = FromRecords(AddressWidth, [][]byte{make([]byte, 32)})
	require.ErrorIs(t, err, ErrLength)
}

func TestSearchBoundaries(t *testing.T) {
	for _, width := range []int{AddressWidth, XPointWidth} {
		recs := [][]byte{rec(width, 10), rec(width, 20), rec(width, 30), rec(width, 1, 0)}
		table, err := FromRecords(width, recs)
		require.NoError(t, err)

		require.EqualValues(t, 0, table.Search(rec(width, 10)), "first")
		require.EqualValues(t, 1, table.Search(rec(width, 20)))
		require.EqualValues(t, 3, table.Search(rec(width, 1, 0)), "last")

		require.Equal(t, NotFound, table.Search(rec(width, 9)), "below first")
		require.Equal(t, NotFound, table.Search(rec(width, 25)), "between")
		require.Equal(t, NotFound, table.Search(rec(width, 1, 1)), "above last")
		require.Equal(t, NotFound, table.Search(rec(width+1, 10)), "wrong width")
	}
}

func TestSearchSingleRecord(t *testing.T) {
	table, err := FromRecords(XPointWidth, [][]byte{rec(XPointWidth, 7)})
	require.NoError(t, err)
	require.EqualValues(t, 0, table.Search(rec(XPointWidth, 7)))
	require.Equal(t, NotFound, table.Search(rec(XPointWidth, 6)))
	require.Equal(t, NotFound, table.Search(rec(XPointWidth, 8)))
}

func TestTableBloom(t *testing.T) {
	var recs [][]byte
	for i := 0; i < 300; i++ {
		recs = append(recs, rec(AddressWidth, byte(i>>8), byte(i)))
	}
	table, err := FromRecords(AddressWidth, recs)
	require.NoError(t, err)

	f, err := table.Bloom(1e-4)
	require.NoError(t, err)
	require.NoError(t, f.Validate())
	for _, r := range recs {
		require.True(t, f.Test(r))
	}
}

func TestParseAddresses(t *testing.T) {
	input := strings.Join([]string{
		"# puzzle targets",
		"1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH",
		"bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4  # same key, segwit",
		"",
		"0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf",
		"0000000000000000000000000000000000000001",
		"not-an-address",
	}, "\n")

	load, err := ParseAddresses(strings.NewReader(input), &chaincfg.MainNetParams)
	require.NoError(t, err)
	require.Equal(t, 5, load.Lines)
	require.Equal(t, 1, load.Skipped)
	require.EqualValues(t, 3, load.Table.Len())

	require.NotEqual(t, NotFound, load.Table.Search(mustHex(t, oneHash160)))
	require.NotEqual(t, NotFound, load.Table.Search(mustHex(t, oneETH)))
	require.NotEqual(t, NotFound, load.Table.Search(rec(AddressWidth, 1)))
}

func TestParseAddressesWrongNet(t *testing.T) {
	_, err := ParseAddresses(strings.NewReader("1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH\n"), &chaincfg.TestNet3Params)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestParseXPoints(t *testing.T) {
	input := strings.Join([]string{
		"02" + oneX,
		"04" + oneX + oneY + " # uncompressed",
		oneX,
		"zz",
		"05" + oneX,
	}, "\n")

	load, err := ParseXPoints(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 5, load.Lines)
	require.Equal(t, 2, load.Skipped)
	require.EqualValues(t, 1, load.Table.Len())
	require.Equal(t, mustHex(t, oneX), load.Table.Record(0))
}

func TestBinaryRoundTrip(t *testing.T) {
	table, err := FromRecords(XPointWidth, [][]byte{rec(XPointWidth, 3), rec(XPointWidth, 1)})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := table.WriteTo(&buf)
	require.NoError(t, err)
	require.EqualValues(t, 2*XPointWidth, n)

	back, err := ReadBinary(&buf, XPointWidth)
	require.NoError(t, err)
	require.Equal(t, table.Bytes(), back.Bytes())
}
