package ui

import (
	"bytes"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Amr-9/KeyHunter/pkg/engine"
	"github.com/Amr-9/KeyHunter/pkg/search"
)

func TestFormatting(t *testing.T) {
	require.Equal(t, "999", FormatNumber(999))
	require.Equal(t, "1,234,567", FormatNumber(1234567))
	require.Equal(t, "1.2 Mkey/s", FormatKeyRate(1234567))
	require.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	require.Equal(t, "1.5s", FormatDuration(1500*time.Millisecond))
	require.Equal(t, "2m 5s", FormatDuration(125*time.Second))
	require.Equal(t, "3h 4m", FormatDuration(3*time.Hour+4*time.Minute))
}

func TestPrintSearchInfo(t *testing.T) {
	var buf bytes.Buffer
	PrintSearchInfo(&buf, SearchInfo{
		Name:       "BTC MA (test)",
		Mode:       engine.MultiAddress,
		Coin:       engine.CoinBTC,
		Comp:       engine.Compressed,
		Targets:    1500,
		Start:      big.NewInt(1),
		End:        big.NewInt(0xffff),
		Threads:    8192,
		StepSize:   2048,
		BloomBytes: 2048,
	})
	out := buf.String()
	require.Contains(t, out, "MA BTC Compressed")
	require.Contains(t, out, "1,500 (bloom 2.0 KiB)")
	require.Contains(t, out, "1:ffff")
	require.Contains(t, out, "8,192 threads × 2048 keys, sequential")
}

func TestPrintFoundAndProgress(t *testing.T) {
	var buf bytes.Buffer
	PrintFound(&buf, search.Result{
		Key:        big.NewInt(1),
		PrivateKey: "0000000000000000000000000000000000000000000000000000000000000001",
		WIF:        "KwDiBf89QgGbjEhKnhXJuH7LrciVrZi3qYjgd9M7rFU73sVHnoWn",
		Address:    "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH",
	}, "found.txt")
	out := buf.String()
	require.Contains(t, out, "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH")
	require.Contains(t, out, "KwDiBf89QgGbjEhKnhXJuH7LrciVrZi3qYjgd9M7rFU73sVHnoWn")
	require.Contains(t, out, "found.txt")

	buf.Reset()
	PrintProgress(&buf, search.Stats{Attempts: 5000, HashRate: 2500, ElapsedSecs: 2, Progress: 0.5, Found: 1}, 1)
	out = buf.String()
	require.Contains(t, out, "◓")
	require.Contains(t, out, "5,000")
	require.Contains(t, out, "2.5 kkey/s")
	require.Contains(t, out, "1 found")
}
