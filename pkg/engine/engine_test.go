package engine

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Amr-9/KeyHunter/pkg/bloom"
	"github.com/Amr-9/KeyHunter/pkg/device"
	"github.com/Amr-9/KeyHunter/pkg/secp"
	"github.com/Amr-9/KeyHunter/pkg/targets"
)

func testConfig(mode SearchMode) Config {
	cfg := DefaultConfig()
	cfg.Mode = mode
	cfg.ThreadGroups = 4
	cfg.ThreadsPerGroup = 8
	cfg.MaxFound = 16
	cfg.GroupSize = 8
	cfg.StepSize = 16
	return cfg
}

// seed gives thread i the launch key start + i*StepSize and returns the keys.
func seed(t *testing.T, e *Engine, start int64) []*big.Int {
	t.Helper()
	return seedSpaced(t, e, big.NewInt(start), int64(e.StepSize()))
}

func seedSpaced(t *testing.T, e *Engine, start *big.Int, spacing int64) []*big.Int {
	t.Helper()
	bases := make([]*big.Int, e.NbThread())
	points := make([]secp.Point, e.NbThread())
	for i := range bases {
		bases[i] = new(big.Int).Add(start, big.NewInt(int64(i)*spacing))
		p, err := e.SeedPoint(bases[i])
		require.NoError(t, err)
		points[i] = p
	}
	require.NoError(t, e.SetKeys(points))
	return bases
}

func pointOf(t *testing.T, key int64) (x, y [32]byte, comp, uncomp, eth [20]byte) {
	t.Helper()
	p, err := secp.ScalarBaseMult(big.NewInt(key))
	require.NoError(t, err)
	fx, fy := p.FieldVals()
	return secp.XPoint(&fx), secp.XPoint(&fy),
		secp.Hash160Compressed(&fx, &fy), secp.Hash160Uncompressed(&fx, &fy), secp.KeccakAddress(&fx, &fy)
}

func hash160(t *testing.T, key int64) []byte {
	return hash160Big(t, big.NewInt(key))
}

func hash160Big(t *testing.T, key *big.Int) []byte {
	t.Helper()
	p, err := secp.ScalarBaseMult(key)
	require.NoError(t, err)
	x, y := p.FieldVals()
	h := secp.Hash160Compressed(&x, &y)
	return h[:]
}

func multiEngine(t *testing.T, dev device.Device, cfg Config, recs [][]byte) *Engine {
	t.Helper()
	table, err := targets.FromRecords(cfg.Mode.Width(), recs)
	require.NoError(t, err)
	filter, err := table.Bloom(1e-3)
	require.NoError(t, err)
	e, err := New(dev, cfg, filter, table)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestItemRoundTrip(t *testing.T) {
	for _, size := range []int{20, 32} {
		hash := make([]byte, size)
		for i := range hash {
			hash[i] = byte(i + 1)
		}
		for _, it := range []Item{
			{ThreadID: 0, Incr: 0, Hash: hash, Mode: false},
			{ThreadID: 123456, Incr: -32768, Hash: hash, Mode: true},
			{ThreadID: 1<<32 - 1, Incr: 32767, Hash: hash, Mode: true},
		} {
			b, err := EncodeItem(it)
			require.NoError(t, err)
			require.Len(t, b, size+8)

			back, err := DecodeItem(b)
			require.NoError(t, err)
			require.Equal(t, it, back)
		}
	}

	_, err := EncodeItem(Item{Hash: make([]byte, 21)})
	require.ErrorIs(t, err, ErrConfig)
	_, err = DecodeItem(make([]byte, 30))
	require.ErrorIs(t, err, ErrConfig)
}

func TestItemWireLayout(t *testing.T) {
	b, err := EncodeItem(Item{ThreadID: 7, Incr: 5, Hash: make([]byte, 20), Mode: true})
	require.NoError(t, err)
	require.Len(t, b, ItemSizeA)
	require.Equal(t, []byte{7, 0, 0, 0}, b[:4])
	// incr in the high half, mode in bit 15
	require.Equal(t, []byte{0x00, 0x80, 0x05, 0x00}, b[4:8])
}

func TestItemKey(t *testing.T) {
	require.EqualValues(t, 95, Item{Incr: -5}.Key(big.NewInt(100)).Int64())

	last := new(big.Int).Sub(secp.N, big.NewInt(1))
	require.EqualValues(t, 1, Item{Incr: 2}.Key(last).Int64())
}

func TestGeometryValidation(t *testing.T) {
	dev := device.NewHost(device.HostConfig{MaxWorkGroup: 64})
	defer dev.Close()

	tests := []struct {
		name   string
		modify func(*Config)
		err    error
	}{
		{name: "no groups", modify: func(c *Config) { c.ThreadGroups = 0 }, err: ErrGeometry},
		{name: "no threads", modify: func(c *Config) { c.ThreadsPerGroup = -1 }, err: ErrGeometry},
		{name: "group too wide", modify: func(c *Config) { c.ThreadsPerGroup = 65 }, err: ErrGeometry},
		{name: "odd group size", modify: func(c *Config) { c.GroupSize = 7; c.StepSize = 14 }, err: ErrGeometry},
		{name: "tiny group size", modify: func(c *Config) { c.GroupSize = 2; c.StepSize = 2 }, err: ErrGeometry},
		{name: "step not multiple", modify: func(c *Config) { c.StepSize = 12 }, err: ErrGeometry},
		{name: "step too large", modify: func(c *Config) { c.StepSize = MaxStepSize + 8 }, err: ErrGeometry},
		{name: "no output", modify: func(c *Config) { c.MaxFound = 0 }, err: ErrConfig},
		{name: "bad mode", modify: func(c *Config) { c.Mode = 9 }, err: ErrConfig},
		{name: "bad coin", modify: func(c *Config) { c.Coin = 0 }, err: ErrConfig},
		{name: "bad comp", modify: func(c *Config) { c.Comp = 3 }, err: ErrConfig},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := testConfig(SingleAddress)
			test.modify(&cfg)
			_, err := NewSingle(dev, cfg, make([]byte, 20))
			require.ErrorIs(t, err, test.err)
			require.Zero(t, dev.Used())
		})
	}
}

func TestBloomValidation(t *testing.T) {
	dev := device.NewHost(device.HostConfig{MaxAlloc: 4096})
	defer dev.Close()

	cfg := testConfig(MultiAddress)
	table, err := targets.FromRecords(20, [][]byte{hash160(t, 1)})
	require.NoError(t, err)

	bad := &bloom.Filter{Size: 2, Bits: 17, Hashes: 3, Data: make([]byte, 2)}
	_, err = New(dev, cfg, bad, table)
	require.ErrorIs(t, err, bloom.ErrInconsistent)

	huge := &bloom.Filter{Size: 8192, Bits: 8192 * 8, Hashes: 3, Data: make([]byte, 8192)}
	_, err = New(dev, cfg, huge, table)
	require.ErrorIs(t, err, device.ErrSizeRange)
	require.Zero(t, dev.Used())
}

func TestModeExclusivity(t *testing.T) {
	dev := device.NewHost(device.HostConfig{})
	defer dev.Close()

	table, err := targets.FromRecords(20, [][]byte{hash160(t, 1)})
	require.NoError(t, err)
	filter, err := table.Bloom(0.01)
	require.NoError(t, err)

	_, err = New(dev, testConfig(SingleAddress), filter, table)
	require.ErrorIs(t, err, ErrConfig)
	_, err = New(dev, testConfig(MultiXPoint), filter, table)
	require.ErrorIs(t, err, ErrConfig, "20-byte table for xpoints")
	_, err = NewSingle(dev, testConfig(MultiAddress), make([]byte, 20))
	require.ErrorIs(t, err, ErrConfig)
	_, err = NewSingle(dev, testConfig(SingleXPoint), make([]byte, 20))
	require.ErrorIs(t, err, ErrConfig)

	eth := testConfig(SingleXPoint)
	eth.Coin = CoinETH
	_, err = NewSingle(dev, eth, make([]byte, 32))
	require.ErrorIs(t, err, ErrConfig)

	e, err := NewSingle(dev, testConfig(SingleAddress), make([]byte, 20))
	require.NoError(t, err)
	defer e.Close()
	seed(t, e, 1)

	dst := []Item{{ThreadID: 42}}
	for _, launch := range []func([]Item, bool) ([]Item, error){e.LaunchMA, e.LaunchMX, e.LaunchSX} {
		got, err := launch(dst, false)
		require.ErrorIs(t, err, ErrModeMismatch)
		require.Equal(t, dst, got)
	}
	_, err = e.LaunchSA(nil, false)
	require.NoError(t, err)
}

// TestScenarioMultiAddress seeds 1000 threads over consecutive keys so that
// exactly one derived point hashes to the middle of three targets.
func TestScenarioMultiAddress(t *testing.T) {
	dev := device.NewHost(device.HostConfig{})
	defer dev.Close()

	cfg := testConfig(MultiAddress)
	cfg.ThreadGroups = 10
	cfg.ThreadsPerGroup = 100
	cfg.StepSize = 8
	cfg.MaxFound = 10

	const start, hit = 1000, 5005
	h1, h2, h3 := hash160(t, 10), hash160(t, hit), hash160(t, 100000)
	e := multiEngine(t, dev, cfg, [][]byte{h1, h2, h3})
	require.Equal(t, 1000, e.NbThread())

	bases := seed(t, e, start)
	items, err := e.LaunchMA(nil, false)
	require.NoError(t, err)
	require.Len(t, items, 1)

	it := items[0]
	require.Equal(t, h2, it.Hash)
	require.True(t, it.Mode)
	require.EqualValues(t, (hit-start)/cfg.StepSize, it.ThreadID)
	require.EqualValues(t, (hit-start)%cfg.StepSize, it.Incr)
	require.EqualValues(t, hit, it.Key(bases[it.ThreadID]).Int64())
	require.NotEqual(t, targets.NotFound, e.CheckBinary(it.Hash))

	st := e.Stats()
	require.EqualValues(t, 1, st.Launches)
	require.EqualValues(t, 8000, st.KeysChecked)
	require.EqualValues(t, 1, st.Found)
	require.Zero(t, st.Dropped)
}

func TestEveryIncrementIsChecked(t *testing.T) {
	dev := device.NewHost(device.HostConfig{})
	defer dev.Close()

	cfg := testConfig(MultiAddress)
	cfg.ThreadGroups = 1
	cfg.ThreadsPerGroup = 2
	cfg.MaxFound = 64

	// Every key of both threads, all groups of the step.
	const start = 300
	var recs [][]byte
	for k := int64(start); k < start+int64(2*cfg.StepSize); k++ {
		recs = append(recs, hash160(t, k))
	}
	e := multiEngine(t, dev, cfg, recs)
	bases := seed(t, e, start)

	items, err := e.LaunchMA(nil, true)
	require.NoError(t, err)
	require.Len(t, items, len(recs))

	seen := make(map[int64]bool)
	for _, it := range items {
		k := it.Key(bases[it.ThreadID]).Int64()
		require.Equal(t, hash160(t, k), it.Hash)
		require.GreaterOrEqual(t, int(it.Incr), 0)
		require.Less(t, int(it.Incr), cfg.StepSize)
		seen[k] = true
	}
	require.Len(t, seen, len(recs))
}

func TestBoundedOutput(t *testing.T) {
	dev := device.NewHost(device.HostConfig{})
	defer dev.Close()

	cfg := testConfig(MultiAddress)
	cfg.MaxFound = 5

	const start = 77
	var recs [][]byte
	for k := int64(start); k < start+20; k++ {
		recs = append(recs, hash160(t, k))
	}
	e := multiEngine(t, dev, cfg, recs)
	bases := seed(t, e, start)

	items, err := e.LaunchMA(nil, false)
	require.NoError(t, err)
	require.Len(t, items, cfg.MaxFound)
	for _, it := range items {
		require.Equal(t, hash160(t, it.Key(bases[it.ThreadID]).Int64()), it.Hash)
	}
	require.EqualValues(t, 15, e.Stats().Dropped)
	require.EqualValues(t, 5, e.Stats().Found)
}

func TestKeysAdvance(t *testing.T) {
	dev := device.NewHost(device.HostConfig{})
	defer dev.Close()

	cfg := testConfig(SingleAddress)
	const start, spacing = 5000, 1000
	// Thread 3 reaches this key only on the second launch.
	target := int64(start + 3*spacing + 16 + 11)
	e, err := NewSingle(dev, cfg, hash160(t, target))
	require.NoError(t, err)
	defer e.Close()

	bases := seedSpaced(t, e, big.NewInt(start), spacing)

	items, err := e.LaunchSA(nil, false)
	require.NoError(t, err)
	require.Empty(t, items)

	centres, err := e.Keys()
	require.NoError(t, err)
	for i, c := range centres {
		next := new(big.Int).Add(bases[i], big.NewInt(int64(cfg.StepSize)))
		want, err := e.SeedPoint(next)
		require.NoError(t, err)
		require.Equal(t, want, c, "thread %d", i)
	}

	// The next launch continues from the advanced centres without SetKeys.
	items, err = e.LaunchSA(items, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.EqualValues(t, 3, items[0].ThreadID)
	require.EqualValues(t, 11, items[0].Incr)
	require.EqualValues(t, 2, e.Stats().Launches)
}

func TestSingleXPoint(t *testing.T) {
	dev := device.NewHost(device.HostConfig{})
	defer dev.Close()

	const start, hit = 1 << 20, 1<<20 + 200
	x, _, _, _, _ := pointOf(t, hit)

	e, err := NewSingle(dev, testConfig(SingleXPoint), x[:])
	require.NoError(t, err)
	defer e.Close()
	bases := seed(t, e, start)

	items, err := e.LaunchSX(nil, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, x[:], items[0].Hash)
	require.True(t, items[0].Mode)
	require.EqualValues(t, hit, items[0].Key(bases[items[0].ThreadID]).Int64())
	require.EqualValues(t, 0, e.CheckBinary(x[:]))
	require.Equal(t, targets.NotFound, e.CheckBinary(make([]byte, 32)))
}

func TestMultiXPoint(t *testing.T) {
	dev := device.NewHost(device.HostConfig{})
	defer dev.Close()

	const start = 9000
	x1, _, _, _, _ := pointOf(t, start+4)
	x2, _, _, _, _ := pointOf(t, start+100)
	x3, _, _, _, _ := pointOf(t, 3)

	e := multiEngine(t, dev, testConfig(MultiXPoint), [][]byte{x1[:], x2[:], x3[:]})
	seed(t, e, start)

	items, err := e.LaunchMX(nil, false)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, it := range items {
		require.Len(t, it.Hash, 32)
		require.NotEqual(t, targets.NotFound, e.CheckBinary(it.Hash))
	}
}

func TestCompressionModes(t *testing.T) {
	const start, hit = 40000, 40017
	_, _, comp, uncomp, _ := pointOf(t, hit)

	tests := []struct {
		comp  CompMode
		modes []bool
	}{
		{comp: Compressed, modes: []bool{true}},
		{comp: Uncompressed, modes: []bool{false}},
		{comp: Both, modes: []bool{false, true}},
	}
	for _, test := range tests {
		t.Run(test.comp.String(), func(t *testing.T) {
			dev := device.NewHost(device.HostConfig{})
			defer dev.Close()

			cfg := testConfig(MultiAddress)
			cfg.Comp = test.comp
			e := multiEngine(t, dev, cfg, [][]byte{comp[:], uncomp[:]})
			seed(t, e, start)

			items, err := e.LaunchMA(nil, false)
			require.NoError(t, err)
			require.Len(t, items, len(test.modes))

			var modes []bool
			for _, it := range items {
				if it.Mode {
					require.Equal(t, comp[:], it.Hash)
				} else {
					require.Equal(t, uncomp[:], it.Hash)
				}
				modes = append(modes, it.Mode)
			}
			require.ElementsMatch(t, test.modes, modes)
		})
	}
}

func TestEthereumAddress(t *testing.T) {
	dev := device.NewHost(device.HostConfig{})
	defer dev.Close()

	const start, hit = 123456, 123456 + 31
	_, _, _, _, eth := pointOf(t, hit)

	cfg := testConfig(SingleAddress)
	cfg.Coin = CoinETH
	e, err := NewSingle(dev, cfg, eth[:])
	require.NoError(t, err)
	defer e.Close()
	bases := seed(t, e, start)

	items, err := e.LaunchSA(nil, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.False(t, items[0].Mode)
	require.EqualValues(t, hit, items[0].Key(bases[items[0].ThreadID]).Int64())
}

func TestDegenerateCentres(t *testing.T) {
	nMinus := func(d int64) *big.Int {
		return new(big.Int).Sub(secp.N, big.NewInt(d))
	}

	tests := []struct {
		name string
		base *big.Int
		keys []*big.Int
		want int
	}{
		{
			// The first centre is the jump point itself, so the next centre
			// needs a doubling.
			name: "centre on jump",
			base: big.NewInt(4),
			keys: []*big.Int{big.NewInt(1), big.NewInt(4), big.NewInt(11), big.NewInt(12), big.NewInt(19), big.NewInt(20)},
			want: 4,
		},
		{
			// The walk crosses zero: key N is skipped and keys wrap to 1.
			name: "crossing zero",
			base: nMinus(6),
			keys: []*big.Int{nMinus(7), nMinus(4), nMinus(1), big.NewInt(1), big.NewInt(2), big.NewInt(9), big.NewInt(10)},
			want: 5,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dev := device.NewHost(device.HostConfig{})
			defer dev.Close()

			var recs [][]byte
			for _, k := range test.keys {
				recs = append(recs, hash160Big(t, k))
			}
			cfg := testConfig(MultiAddress)
			cfg.ThreadGroups = 1
			cfg.ThreadsPerGroup = 1
			e := multiEngine(t, dev, cfg, recs)
			bases := seedSpaced(t, e, test.base, 0)

			items, err := e.LaunchMA(nil, false)
			require.NoError(t, err)
			require.Len(t, items, test.want)
			for _, it := range items {
				require.Equal(t, hash160Big(t, it.Key(bases[0])), it.Hash)
			}
		})
	}
}

func TestCentreAtInfinity(t *testing.T) {
	nMinus := func(d int64) *big.Int {
		return new(big.Int).Sub(secp.N, big.NewInt(d))
	}

	tests := []struct {
		name   string
		base   *big.Int
		first  []*big.Int
		second []*big.Int
	}{
		{
			// The second group's centre is N.
			name:   "jump onto N",
			base:   nMinus(12),
			first:  []*big.Int{nMinus(12), nMinus(3), big.NewInt(1), big.NewInt(3)},
			second: []*big.Int{big.NewInt(5), big.NewInt(19)},
		},
		{
			// The seeded centre is N.
			name:   "seeded at N",
			base:   nMinus(4),
			first:  []*big.Int{nMinus(4), nMinus(1), big.NewInt(3), big.NewInt(11)},
			second: []*big.Int{big.NewInt(12), big.NewInt(27)},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dev := device.NewHost(device.HostConfig{})
			defer dev.Close()

			var recs [][]byte
			for _, k := range append(append([]*big.Int(nil), test.first...), test.second...) {
				recs = append(recs, hash160Big(t, k))
			}
			cfg := testConfig(MultiAddress)
			cfg.ThreadGroups = 1
			cfg.ThreadsPerGroup = 1
			e := multiEngine(t, dev, cfg, recs)
			bases := seedSpaced(t, e, test.base, 0)

			for _, keys := range [][]*big.Int{test.first, test.second} {
				items, err := e.LaunchMA(nil, false)
				require.NoError(t, err)

				var want, got []string
				for _, k := range keys {
					want = append(want, k.Text(16))
				}
				for _, it := range items {
					k := it.Key(bases[0])
					require.Equal(t, hash160Big(t, k), it.Hash)
					got = append(got, k.Text(16))
				}
				require.ElementsMatch(t, want, got)
				bases[0].Add(bases[0], big.NewInt(int64(e.StepSize())))
			}
		})
	}
}

func TestSeedPointAtInfinity(t *testing.T) {
	dev := device.NewHost(device.HostConfig{})
	defer dev.Close()

	e, err := NewSingle(dev, testConfig(SingleAddress), make([]byte, 20))
	require.NoError(t, err)
	defer e.Close()

	p, err := e.SeedPoint(new(big.Int).Sub(secp.N, big.NewInt(int64(e.GroupSize()/2))))
	require.NoError(t, err)
	require.True(t, p.IsInfinity())

	p, err = e.SeedPoint(big.NewInt(1))
	require.NoError(t, err)
	require.False(t, p.IsInfinity())
}

func TestLaunchBeforeSetKeys(t *testing.T) {
	dev := device.NewHost(device.HostConfig{})
	defer dev.Close()

	e, err := NewSingle(dev, testConfig(SingleAddress), make([]byte, 20))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.LaunchSA(nil, false)
	require.ErrorIs(t, err, ErrNoKeys)

	require.ErrorIs(t, e.SetKeys(make([]secp.Point, 3)), ErrKeyCount)
}

func TestClose(t *testing.T) {
	dev := device.NewHost(device.HostConfig{})
	defer dev.Close()

	e := multiEngine(t, dev, testConfig(MultiAddress), [][]byte{hash160(t, 1)})
	seed(t, e, 10)
	require.NotZero(t, dev.Used())

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	require.Zero(t, dev.Used())

	_, err := e.LaunchMA(nil, false)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, e.SetKeys(nil), ErrClosed)
}

func TestConstructionReleasesOnFailure(t *testing.T) {
	cfg := testConfig(MultiAddress)
	// Room for tables and keys but not for the output buffer.
	budget := uint64(secp.TablesSize(cfg.GroupSize) + 2*64*cfg.ThreadGroups*cfg.ThreadsPerGroup)
	dev := device.NewHost(device.HostConfig{GlobalMem: budget})
	defer dev.Close()

	table, err := targets.FromRecords(20, [][]byte{hash160(t, 1)})
	require.NoError(t, err)
	filter, err := table.Bloom(0.01)
	require.NoError(t, err)

	_, err = New(dev, cfg, filter, table)
	require.ErrorIs(t, err, device.ErrOutOfMemory)
	require.Zero(t, dev.Used())
}

type listedOnly struct {
	device.Device
}

func (listedOnly) Info() device.Info {
	return device.Info{Name: "Listed GPU", Backend: "OpenCL", MaxWorkGroup: 256}
}

func TestIncompatibleDevice(t *testing.T) {
	_, err := NewSingle(listedOnly{}, testConfig(SingleAddress), make([]byte, 20))
	require.ErrorIs(t, err, device.ErrIncompatible)
}

// faultDevice injects transfer and runtime failures around a host device.
type faultDevice struct {
	*device.Host
	writeErr, readErr, launchErr, syncErr error
}

func (d *faultDevice) Write(dst device.Mem, off int, src []byte) error {
	if d.writeErr != nil {
		return d.writeErr
	}
	return d.Host.Write(dst, off, src)
}

func (d *faultDevice) Read(dst []byte, src device.Mem, off int) error {
	if d.readErr != nil {
		return d.readErr
	}
	return d.Host.Read(dst, src, off)
}

func (d *faultDevice) Launch(k device.Kernel, g device.Grid, args ...device.Mem) error {
	if d.launchErr != nil {
		return d.launchErr
	}
	return d.Host.Launch(k, g, args...)
}

func (d *faultDevice) Synchronize() error {
	if err := d.Host.Synchronize(); err != nil {
		return err
	}
	return d.syncErr
}

func TestSetKeysFailureKeepsDeviceKeys(t *testing.T) {
	dev := &faultDevice{Host: device.NewHost(device.HostConfig{})}
	defer dev.Close()

	e, err := NewSingle(dev, testConfig(SingleAddress), make([]byte, 20))
	require.NoError(t, err)
	defer e.Close()

	seed(t, e, 100)
	before, err := e.Keys()
	require.NoError(t, err)

	dev.writeErr = errors.New("dma error")
	points := make([]secp.Point, e.NbThread())
	for i := range points {
		points[i], err = e.SeedPoint(big.NewInt(int64(99999 + i)))
		require.NoError(t, err)
	}
	require.Error(t, e.SetKeys(points))
	dev.writeErr = nil

	after, err := e.Keys()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestLaunchFailureLeavesDst(t *testing.T) {
	const start = 700
	hit := hash160(t, start+3)

	tests := []struct {
		name   string
		inject func(*faultDevice)
		fatal  bool
	}{
		{name: "launch", inject: func(d *faultDevice) { d.launchErr = errors.New("launch queue full") }},
		{name: "read", inject: func(d *faultDevice) { d.readErr = errors.New("copy failed") }},
		{name: "reset", inject: func(d *faultDevice) { d.writeErr = errors.New("copy failed") }},
		{name: "lost", inject: func(d *faultDevice) {
			d.syncErr = fmt.Errorf("%w: driver reset", device.ErrDeviceLost)
		}, fatal: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dev := &faultDevice{Host: device.NewHost(device.HostConfig{})}
			defer dev.Close()

			e, err := NewSingle(dev, testConfig(SingleAddress), hit)
			require.NoError(t, err)
			defer e.Close()
			seed(t, e, start)

			dst := []Item{{ThreadID: 9, Incr: 9, Hash: make([]byte, 20)}}
			want := append([]Item(nil), dst...)

			test.inject(dev)
			got, err := e.LaunchSA(dst, false)
			require.Error(t, err)
			require.Equal(t, want, got)
			*dev = faultDevice{Host: dev.Host}

			if test.fatal {
				require.ErrorIs(t, err, ErrFailed)
				require.ErrorIs(t, err, device.ErrDeviceLost)
				_, err = e.LaunchSA(dst, false)
				require.ErrorIs(t, err, ErrFailed)
				require.ErrorIs(t, e.SetKeys(nil), ErrFailed)
				return
			}

			// Transient errors leave the engine usable.
			seed(t, e, start)
			got, err = e.LaunchSA(dst, false)
			require.NoError(t, err)
			require.Len(t, got, 2)
		})
	}
}

func TestKernelFaultFailsEngine(t *testing.T) {
	dev := device.NewHost(device.HostConfig{})
	defer dev.Close()

	e, err := NewSingle(dev, testConfig(SingleAddress), make([]byte, 20))
	require.NoError(t, err)
	defer e.Close()
	seed(t, e, 1)

	// Tables no longer match the kernel geometry, so the kernel faults on
	// first use.
	e.kernel.groupSize = 6

	_, err = e.LaunchSA(nil, true)
	require.ErrorIs(t, err, ErrFailed)
	require.ErrorIs(t, err, device.ErrDeviceLost)
}

func TestFailedLaunchNeedsReseed(t *testing.T) {
	const start = 700
	hit := hash160(t, start+3)

	tests := []struct {
		name   string
		inject func(*faultDevice)
		reseed bool
	}{
		// The kernel never ran, so the keys are still good.
		{name: "reset", inject: func(d *faultDevice) { d.writeErr = errors.New("copy failed") }},
		{name: "launch", inject: func(d *faultDevice) { d.launchErr = errors.New("launch queue full") }, reseed: true},
		{name: "read", inject: func(d *faultDevice) { d.readErr = errors.New("copy failed") }, reseed: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dev := &faultDevice{Host: device.NewHost(device.HostConfig{})}
			defer dev.Close()

			e, err := NewSingle(dev, testConfig(SingleAddress), hit)
			require.NoError(t, err)
			defer e.Close()
			bases := seed(t, e, start)

			test.inject(dev)
			_, err = e.LaunchSA(nil, false)
			require.Error(t, err)
			*dev = faultDevice{Host: dev.Host}

			items, err := e.LaunchSA(nil, false)
			if test.reseed {
				require.ErrorIs(t, err, ErrNoKeys)
				bases = seed(t, e, start)
				items, err = e.LaunchSA(nil, false)
			}
			require.NoError(t, err)
			require.Len(t, items, 1)
			require.EqualValues(t, start+3, items[0].Key(bases[items[0].ThreadID]).Int64())
		})
	}
}
