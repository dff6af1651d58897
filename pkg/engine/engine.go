// Package engine drives batched secp256k1 key searches on a compute device.
//
// Every device thread owns one group centre. A launch walks each centre
// through StepSize consecutive keys, hashing every point and matching it
// against either a single target or a Bloom filter backed by a sorted target
// table. Confirmed matches land in a bounded output buffer that the engine
// decodes into Items.
package engine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto/secp256k1"

	"github.com/Amr-9/KeyHunter/internal/metrics"
	"github.com/Amr-9/KeyHunter/pkg/bloom"
	"github.com/Amr-9/KeyHunter/pkg/device"
	"github.com/Amr-9/KeyHunter/pkg/secp"
	"github.com/Amr-9/KeyHunter/pkg/targets"
)

var (
	// ErrConfig is returned for invalid modes, targets or item payloads.
	ErrConfig = errors.New("engine: invalid configuration")

	// ErrGeometry is returned for thread or batch geometry the kernels cannot run.
	ErrGeometry = errors.New("engine: invalid geometry")

	// ErrModeMismatch is returned when a launch asks for a mode other than the
	// one the engine was built for.
	ErrModeMismatch = errors.New("engine: search mode mismatch")

	// ErrKeyCount is returned when SetKeys gets the wrong number of points.
	ErrKeyCount = errors.New("engine: wrong number of keys")

	// ErrNoKeys is returned when launching before the first SetKeys, or after
	// a launch failed once its kernel had been started.
	ErrNoKeys = errors.New("engine: keys not set")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("engine: closed")

	// ErrFailed is returned once the device has been lost.
	ErrFailed = errors.New("engine: device failed")
)

const keyBytes = 64

// Config describes an engine.
type Config struct {
	ThreadGroups    int
	ThreadsPerGroup int
	MaxFound        int // output slots per launch
	Mode            SearchMode
	Comp            CompMode
	Coin            CoinType
	RandomKeys      bool // recorded for callers that reseed between launches
	GroupSize       int
	StepSize        int
	Curve           *secp256k1.BitCurve
	Metrics         *metrics.Collector
}

// DefaultConfig returns a multi-address BTC configuration with default batch
// geometry.
func DefaultConfig() Config {
	return Config{
		ThreadGroups:    64,
		ThreadsPerGroup: 128,
		MaxFound:        65536,
		Mode:            MultiAddress,
		Comp:            Compressed,
		Coin:            CoinBTC,
		GroupSize:       DefaultGroupSize,
		StepSize:        DefaultStepSize,
		Curve:           secp256k1.S256(),
	}
}

// Stats are cumulative engine counters.
type Stats struct {
	Launches    uint64
	KeysChecked uint64
	Found       uint64 // items returned
	Dropped     uint64 // matches lost to a full output buffer
}

// Engine runs search kernels on one device. It is not safe for concurrent
// use; SetKeys and launches must be serialized by the caller.
type Engine struct {
	dev      device.Device
	cfg      Config
	nbThread int
	itemSize int

	table  *targets.Table
	target []byte

	tablesMem device.Mem
	targetMem device.Mem
	bloomMem  device.Mem
	keys      *device.Pair
	out       *device.Pair
	args      []device.Mem
	kernel    *searchKernel

	hasKeys bool
	closed  bool
	failed  error
	stats   Stats
}

// New creates an engine for a multi-target mode. The filter and table are
// copied to the device; the caller may discard them afterwards.
func New(dev device.Device, cfg Config, filter *bloom.Filter, table *targets.Table) (*Engine, error) {
	if !cfg.Mode.Multi() {
		return nil, fmt.Errorf("%w: %s needs a single target", ErrConfig, cfg.Mode)
	}
	if filter == nil || table == nil {
		return nil, fmt.Errorf("%w: %s needs a Bloom filter and a target table", ErrConfig, cfg.Mode)
	}
	if table.Width() != cfg.Mode.Width() {
		return nil, fmt.Errorf("%w: %d-byte targets for %s", ErrConfig, table.Width(), cfg.Mode)
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	info := dev.Info()
	bloomSize, err := device.CheckedSize(filter.Size, info.MaxAlloc)
	if err != nil {
		return nil, fmt.Errorf("bloom filter: %w", err)
	}

	e, err := newEngine(dev, cfg)
	if err != nil {
		return nil, err
	}
	e.table = table
	e.kernel.bloomBits = filter.Bits
	e.kernel.bloomHashes = filter.Hashes

	if e.targetMem, err = device.NewBuffer(dev, table.Bytes()); err != nil {
		e.release()
		return nil, fmt.Errorf("target table: %w", err)
	}
	if e.bloomMem, err = device.NewBuffer(dev, filter.Data[:bloomSize]); err != nil {
		e.release()
		return nil, fmt.Errorf("bloom filter: %w", err)
	}
	e.args = append(e.args, e.targetMem, e.bloomMem)

	log.Infof("Engine %s on %s: %d threads, %d targets, bloom %d bytes/%d hashes",
		cfg.Mode, info.Name, e.nbThread, table.Len(), filter.Size, filter.Hashes)
	return e, nil
}

// NewSingle creates an engine for a single-target mode.
func NewSingle(dev device.Device, cfg Config, target []byte) (*Engine, error) {
	if cfg.Mode.Multi() {
		return nil, fmt.Errorf("%w: %s needs a target table", ErrConfig, cfg.Mode)
	}
	if len(target) != cfg.Mode.Width() {
		return nil, fmt.Errorf("%w: %d-byte target for %s", ErrConfig, len(target), cfg.Mode)
	}

	e, err := newEngine(dev, cfg)
	if err != nil {
		return nil, err
	}
	e.target = bytes.Clone(target)

	if e.targetMem, err = device.NewBuffer(dev, e.target); err != nil {
		e.release()
		return nil, fmt.Errorf("target: %w", err)
	}
	e.args = append(e.args, e.targetMem)

	log.Infof("Engine %s on %s: %d threads, target %x", cfg.Mode, dev.Info().Name, e.nbThread, target)
	return e, nil
}

// newEngine validates cfg and allocates the buffers every mode uses.
func newEngine(dev device.Device, cfg Config) (*Engine, error) {
	if cfg.Curve == nil {
		cfg.Curve = secp256k1.S256()
	}
	if err := validate(dev.Info(), &cfg); err != nil {
		return nil, err
	}
	tables, err := secp.NewGeneratorTables(cfg.Curve, cfg.GroupSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeometry, err)
	}

	e := &Engine{
		dev:      dev,
		cfg:      cfg,
		nbThread: cfg.ThreadGroups * cfg.ThreadsPerGroup,
		itemSize: ItemSize(cfg.Mode),
	}
	e.kernel = newSearchKernel(cfg, e.itemSize)

	if e.tablesMem, err = device.NewBuffer(dev, tables.Bytes()); err != nil {
		return nil, fmt.Errorf("generator tables: %w", err)
	}
	if e.keys, err = device.NewPair(dev, int64(e.nbThread)*keyBytes); err != nil {
		e.release()
		return nil, fmt.Errorf("key buffer: %w", err)
	}
	if e.out, err = device.NewPair(dev, 4+int64(cfg.MaxFound)*int64(e.itemSize)); err != nil {
		e.release()
		return nil, fmt.Errorf("output buffer: %w", err)
	}
	e.args = []device.Mem{e.keys.Mem, e.out.Mem, e.tablesMem}
	return e, nil
}

func validate(info device.Info, cfg *Config) error {
	if !info.Runnable {
		return fmt.Errorf("%w: %s (%s)", device.ErrIncompatible, info.Name, info.Backend)
	}
	switch cfg.Mode {
	case MultiAddress, SingleAddress, MultiXPoint, SingleXPoint:
	default:
		return fmt.Errorf("%w: search mode %d", ErrConfig, cfg.Mode)
	}
	switch cfg.Coin {
	case CoinBTC:
	case CoinETH:
		if cfg.Mode.XPoint() {
			return fmt.Errorf("%w: %s has no ETH variant", ErrConfig, cfg.Mode)
		}
	default:
		return fmt.Errorf("%w: coin type %d", ErrConfig, cfg.Coin)
	}
	if cfg.Comp < Compressed || cfg.Comp > Both {
		return fmt.Errorf("%w: compression mode %d", ErrConfig, cfg.Comp)
	}
	if cfg.MaxFound <= 0 {
		return fmt.Errorf("%w: maxFound %d", ErrConfig, cfg.MaxFound)
	}

	switch {
	case cfg.ThreadGroups <= 0 || cfg.ThreadsPerGroup <= 0:
		return fmt.Errorf("%w: %dx%d threads", ErrGeometry, cfg.ThreadGroups, cfg.ThreadsPerGroup)
	case cfg.ThreadsPerGroup > info.MaxWorkGroup:
		return fmt.Errorf("%w: %d threads per group exceeds device limit %d",
			ErrGeometry, cfg.ThreadsPerGroup, info.MaxWorkGroup)
	case cfg.GroupSize < 4 || cfg.GroupSize%2 != 0:
		return fmt.Errorf("%w: group size %d must be even and at least 4", ErrGeometry, cfg.GroupSize)
	case cfg.StepSize <= 0 || cfg.StepSize%cfg.GroupSize != 0:
		return fmt.Errorf("%w: step size %d is not a multiple of group size %d",
			ErrGeometry, cfg.StepSize, cfg.GroupSize)
	case cfg.StepSize > MaxStepSize:
		return fmt.Errorf("%w: step size %d exceeds %d", ErrGeometry, cfg.StepSize, MaxStepSize)
	case int64(cfg.ThreadGroups)*int64(cfg.ThreadsPerGroup) > 1<<31-1:
		return fmt.Errorf("%w: %dx%d threads overflow the thread id", ErrGeometry,
			cfg.ThreadGroups, cfg.ThreadsPerGroup)
	}
	return nil
}

// release frees every buffer allocated so far.
func (e *Engine) release() error {
	var errs []error
	for _, m := range []device.Mem{e.tablesMem, e.targetMem, e.bloomMem} {
		if m != nil {
			errs = append(errs, e.dev.Free(m))
		}
	}
	errs = append(errs, e.keys.Free(), e.out.Free())
	e.tablesMem, e.targetMem, e.bloomMem = nil, nil, nil
	e.args = nil

	err := errors.Join(errs...)
	if err != nil && (errors.Is(err, device.ErrClosed) || errors.Is(err, device.ErrFreed)) {
		return nil
	}
	return err
}

// Close releases all device and pinned buffers. The device itself stays open.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	err := e.release()
	if e.failed != nil {
		log.Debugf("Releasing buffers of failed engine: %v", err)
		return nil
	}
	return err
}

// usable reports why the engine cannot be used, if it cannot.
func (e *Engine) usable() error {
	if e.closed {
		return ErrClosed
	}
	if e.failed != nil {
		return fmt.Errorf("%w: %w", ErrFailed, e.failed)
	}
	return nil
}

// fail marks the engine failed when err is fatal for the device.
func (e *Engine) fail(err error) error {
	if errors.Is(err, device.ErrDeviceLost) {
		e.failed = err
		log.Errorf("Engine on %s failed: %v", e.DeviceName(), err)
		return fmt.Errorf("%w: %w", ErrFailed, err)
	}
	return err
}

// keyWord returns the index of 64-bit word i (x0..x3, y0..y3) of thread's key
// in the strided key buffer.
func keyWord(perGroup, thread, i int) int {
	blockStart := thread - thread%perGroup
	return 8*blockStart + thread%perGroup + i*perGroup
}

// SetKeys uploads one group centre per thread. Centre i is (k_i + GroupSize/2)*G
// where k_i is the key items of thread i are reported against; see SeedPoint.
// The device keys are replaced as a whole or not at all.
func (e *Engine) SetKeys(points []secp.Point) error {
	if err := e.usable(); err != nil {
		return err
	}
	if len(points) != e.nbThread {
		return fmt.Errorf("%w: got %d, want %d", ErrKeyCount, len(points), e.nbThread)
	}

	host := e.keys.Host
	per := e.cfg.ThreadsPerGroup
	for t, p := range points {
		for i := 0; i < 4; i++ {
			binary.LittleEndian.PutUint64(host[8*keyWord(per, t, i):], p.X[i])
			binary.LittleEndian.PutUint64(host[8*keyWord(per, t, 4+i):], p.Y[i])
		}
	}
	if err := e.keys.Upload(); err != nil {
		return e.fail(fmt.Errorf("upload keys: %w", err))
	}
	e.hasKeys = true
	return nil
}

// Keys downloads the current group centres.
func (e *Engine) Keys() ([]secp.Point, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}
	if err := e.keys.Download(); err != nil {
		return nil, e.fail(fmt.Errorf("download keys: %w", err))
	}
	host := e.keys.Host
	per := e.cfg.ThreadsPerGroup
	points := make([]secp.Point, e.nbThread)
	for t := range points {
		for i := 0; i < 4; i++ {
			points[t].X[i] = binary.LittleEndian.Uint64(host[8*keyWord(per, t, i):])
			points[t].Y[i] = binary.LittleEndian.Uint64(host[8*keyWord(per, t, 4+i):])
		}
	}
	return points, nil
}

// SeedPoint returns the group centre to upload for a thread whose items
// should be reported against key. A centre that falls on N is the point at
// infinity, which the kernels step over like any other centre.
func (e *Engine) SeedPoint(key *big.Int) (secp.Point, error) {
	p, err := secp.ScalarBaseMult(new(big.Int).Add(key, big.NewInt(int64(e.cfg.GroupSize/2))))
	if errors.Is(err, secp.ErrZeroKey) {
		return secp.Point{}, nil
	}
	return p, err
}

// CheckBinary returns the index of x among the engine's targets or
// targets.NotFound.
func (e *Engine) CheckBinary(x []byte) int64 {
	if e.table != nil {
		return e.table.Search(x)
	}
	if bytes.Equal(x, e.target) {
		return 0
	}
	return targets.NotFound
}

// NbThread returns the number of device threads, one key each.
func (e *Engine) NbThread() int {
	return e.nbThread
}

// GroupSize returns the number of points sharing one inversion.
func (e *Engine) GroupSize() int {
	return e.cfg.GroupSize
}

// StepSize returns the number of keys each thread checks per launch.
func (e *Engine) StepSize() int {
	return e.cfg.StepSize
}

// Mode returns the search mode.
func (e *Engine) Mode() SearchMode {
	return e.cfg.Mode
}

// DeviceName returns the name of the engine's device.
func (e *Engine) DeviceName() string {
	return e.dev.Info().Name
}

// RandomKeys reports whether the engine was configured for random restarts.
func (e *Engine) RandomKeys() bool {
	return e.cfg.RandomKeys
}

// Stats returns the cumulative counters.
func (e *Engine) Stats() Stats {
	return e.stats
}
