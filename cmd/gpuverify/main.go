// gpuverify cross-checks the search kernels of a device against keys derived
// on the CPU, once per search mode and key encoding.
package main

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/Amr-9/KeyHunter/pkg/device"
	"github.com/Amr-9/KeyHunter/pkg/engine"
	"github.com/Amr-9/KeyHunter/pkg/secp"
	"github.com/Amr-9/KeyHunter/pkg/targets"
)

type config struct {
	Device    int `long:"gpui" description:"Device id"`
	Groups    int `long:"groups" description:"Thread groups"`
	Threads   int `long:"threads" description:"Threads per group"`
	GroupSize int `long:"groupsize" description:"Points sharing one inversion"`
}

type testCase struct {
	name string
	mode engine.SearchMode
	coin engine.CoinType
	comp engine.CompMode
}

var testCases = []testCase{
	{"MA BTC compressed", engine.MultiAddress, engine.CoinBTC, engine.Compressed},
	{"MA BTC uncompressed", engine.MultiAddress, engine.CoinBTC, engine.Uncompressed},
	{"MA BTC both", engine.MultiAddress, engine.CoinBTC, engine.Both},
	{"MA ETH", engine.MultiAddress, engine.CoinETH, engine.Compressed},
	{"SA BTC compressed", engine.SingleAddress, engine.CoinBTC, engine.Compressed},
	{"SA ETH", engine.SingleAddress, engine.CoinETH, engine.Compressed},
	{"MX", engine.MultiXPoint, engine.CoinBTC, engine.Compressed},
	{"SX", engine.SingleXPoint, engine.CoinBTC, engine.Compressed},
}

type result struct {
	TestName     string
	PrivateKey   string
	CPUHash      string
	GPUHash      string
	Match        bool
	ErrorMessage string
}

func main() {
	cfg := config{Groups: 4, Threads: 32, GroupSize: engine.DefaultGroupSize}
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}

	dev, err := device.Open(cfg.Device)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  ❌ %v\n", err)
		os.Exit(1)
	}
	defer dev.Close()

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("  ║                🔬 Kernel Verification Test                        ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  🔄 Running kernel vs CPU comparison on %s...\n\n", dev.Info().Name)

	passed := true
	for i, tc := range testCases {
		key, err := randomKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "  ❌ %v\n", err)
			os.Exit(1)
		}
		r := runCase(dev, cfg, tc, key)
		printResult(i+1, r)
		passed = passed && r.Match
	}

	fmt.Println("  ─────────────────────────────────────────────────────────────────")
	if passed {
		fmt.Println("  ✅ ALL TESTS PASSED! Kernels agree with the CPU.")
	} else {
		fmt.Println("  ❌ SOME TESTS FAILED! Review the mismatches above.")
	}
	fmt.Println()

	if !passed {
		os.Exit(1)
	}
}

func printResult(n int, r result) {
	fmt.Printf("  Test %d: %s\n", n, r.TestName)
	if r.ErrorMessage != "" {
		fmt.Printf("    ❌ Error: %s\n", r.ErrorMessage)
		fmt.Println()
		return
	}
	fmt.Printf("    🔑 Private Key: %s...%s\n", r.PrivateKey[:8], r.PrivateKey[len(r.PrivateKey)-8:])
	fmt.Printf("    💻 CPU: %s\n", r.CPUHash)
	fmt.Printf("    🎮 Dev: %s\n", r.GPUHash)
	if r.Match {
		fmt.Printf("    ✅ MATCH!\n")
	} else {
		fmt.Printf("    ❌ MISMATCH!\n")
	}
	fmt.Println()
}

// randomKey returns a key in [2^64, 2^255).
func randomKey() (*big.Int, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 255)
	k, err := rand.Int(rand.Reader, max)
	if err != nil {
		return nil, err
	}
	return k.Add(k, new(big.Int).Lsh(big.NewInt(1), 64)), nil
}

// runCase places key at a random thread and increment of one launch and
// checks that the device reports exactly that key with the CPU's hash.
func runCase(dev device.Device, cfg config, tc testCase, key *big.Int) result {
	r := result{TestName: tc.name, PrivateKey: fmt.Sprintf("%064x", key)}

	ecfg := engine.DefaultConfig()
	ecfg.Mode = tc.mode
	ecfg.Coin = tc.coin
	ecfg.Comp = tc.comp
	ecfg.ThreadGroups = cfg.Groups
	ecfg.ThreadsPerGroup = cfg.Threads
	ecfg.GroupSize = cfg.GroupSize
	ecfg.StepSize = cfg.GroupSize
	ecfg.MaxFound = 64

	want, err := cpuHash(key, tc)
	if err != nil {
		r.ErrorMessage = err.Error()
		return r
	}
	r.CPUHash = hex.EncodeToString(want)

	eng, err := newEngine(dev, ecfg, want)
	if err != nil {
		r.ErrorMessage = err.Error()
		return r
	}
	defer eng.Close()

	// Thread 0 starts below key so that key falls on a random offset.
	span := int64(eng.NbThread()) * int64(eng.StepSize())
	off, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		r.ErrorMessage = err.Error()
		return r
	}
	start := new(big.Int).Sub(key, off)
	bases := make([]*big.Int, eng.NbThread())
	points := make([]secp.Point, eng.NbThread())
	for i := range bases {
		bases[i] = new(big.Int).Add(start, big.NewInt(int64(i)*int64(eng.StepSize())))
		if points[i], err = eng.SeedPoint(bases[i]); err != nil {
			r.ErrorMessage = err.Error()
			return r
		}
	}
	if err := eng.SetKeys(points); err != nil {
		r.ErrorMessage = err.Error()
		return r
	}

	items, err := eng.Launch(tc.mode, nil, false)
	if err != nil {
		r.ErrorMessage = err.Error()
		return r
	}
	for _, it := range items {
		if int(it.ThreadID) >= len(bases) || it.Key(bases[it.ThreadID]).Cmp(key) != 0 {
			continue
		}
		r.GPUHash = hex.EncodeToString(it.Hash)
		r.Match = bytes.Equal(it.Hash, want)
		if r.Match {
			break
		}
	}
	if r.GPUHash == "" {
		r.GPUHash = fmt.Sprintf("not found (%d other items)", len(items))
	}
	return r
}

// newEngine builds the engine for ecfg with target as its only match. Multi
// modes get a few random decoys in the table.
func newEngine(dev device.Device, ecfg engine.Config, target []byte) (*engine.Engine, error) {
	if !ecfg.Mode.Multi() {
		return engine.NewSingle(dev, ecfg, target)
	}
	recs := [][]byte{target}
	for i := 0; i < 15; i++ {
		rec := make([]byte, len(target))
		if _, err := rand.Read(rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	table, err := targets.FromRecords(ecfg.Mode.Width(), recs)
	if err != nil {
		return nil, err
	}
	filter, err := table.Bloom(1e-6)
	if err != nil {
		return nil, err
	}
	return engine.New(dev, ecfg, filter, table)
}

// cpuHash derives the value the kernel hashes for key. Both-encoding
// searches are checked against the compressed key.
func cpuHash(key *big.Int, tc testCase) ([]byte, error) {
	p, err := secp.ScalarBaseMult(key)
	if err != nil {
		return nil, err
	}
	x, y := p.FieldVals()
	switch {
	case tc.mode.XPoint():
		h := secp.XPoint(&x)
		return h[:], nil
	case tc.coin == engine.CoinETH:
		h := secp.KeccakAddress(&x, &y)
		return h[:], nil
	case tc.comp == engine.Uncompressed:
		h := secp.Hash160Uncompressed(&x, &y)
		return h[:], nil
	default:
		h := secp.Hash160Compressed(&x, &y)
		return h[:], nil
	}
}
