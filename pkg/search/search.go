// Package search drives an engine through a key range and turns its items
// into verified results.
//
// A Searcher owns one engine. Start seeds every device thread, launches
// until the range is exhausted or the context is cancelled, recovers the
// private key of each item and re-derives it on the CPU before reporting it.
package search

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Amr-9/KeyHunter/pkg/bloom"
	"github.com/Amr-9/KeyHunter/pkg/device"
	"github.com/Amr-9/KeyHunter/pkg/engine"
	"github.com/Amr-9/KeyHunter/pkg/secp"
	"github.com/Amr-9/KeyHunter/pkg/targets"
)

var (
	// ErrRange is returned for an empty or out-of-curve key range.
	ErrRange = errors.New("search: invalid key range")

	// ErrStarted is returned when Start is called twice.
	ErrStarted = errors.New("search: already started")
)

// Config holds the configuration of a search.
type Config struct {
	Engine engine.Config

	// Start and End bound the searched keys, inclusive. Nil means 1 and N-1.
	Start, End *big.Int

	// RandomRestart is the number of launches between reseeds when
	// Engine.RandomKeys is set. Zero reseeds before every launch.
	RandomRestart uint64

	// MaxLaunches stops the search after that many launches. Zero means
	// until the range is exhausted (sequential) or forever (random).
	MaxLaunches uint64

	SpinWait bool

	// Targets: Filter and Table for multi modes, Target for single modes.
	Filter *bloom.Filter
	Table  *targets.Table
	Target []byte

	// Net selects the WIF and address encoding. Nil means mainnet.
	Net *chaincfg.Params
}

// Result is one verified key.
type Result struct {
	Key        *big.Int
	PrivateKey string // 64 hex digits
	WIF        string
	Address    string
	PublicKey  string
	Mode       engine.SearchMode
	Compressed bool
	Hash       []byte // matched hash160, ETH address or x coordinate
}

// Stats holds real-time search statistics.
type Stats struct {
	Attempts    uint64  // keys checked
	HashRate    float64 // keys per second
	ElapsedSecs float64
	Launches    uint64
	Found       uint64 // verified results
	Rejected    uint64 // items that failed CPU verification
	Progress    float64 // fraction of the range covered, sequential only
}

// Searcher runs one search on one engine.
type Searcher struct {
	cfg   Config
	eng   *engine.Engine
	rand  io.Reader
	width *big.Int // keys per thread in sequential mode

	bases []*big.Int // launch key of every thread
	seen  map[string]struct{}

	startTime time.Time
	attempts  uint64
	launches  uint64
	found     uint64
	rejected  uint64

	mu      sync.Mutex
	started bool
	err     error
	cancel  context.CancelFunc
	done    chan struct{}
}

// New validates cfg and creates the engine on dev.
func New(dev device.Device, cfg Config) (*Searcher, error) {
	if cfg.Start == nil {
		cfg.Start = big.NewInt(1)
	}
	if cfg.End == nil {
		cfg.End = new(big.Int).Sub(secp.N, big.NewInt(1))
	}
	if cfg.Start.Sign() <= 0 || cfg.End.Cmp(secp.N) >= 0 || cfg.Start.Cmp(cfg.End) > 0 {
		return nil, fmt.Errorf("%w: [%x, %x]", ErrRange, cfg.Start, cfg.End)
	}
	if cfg.Net == nil {
		cfg.Net = &chaincfg.MainNetParams
	}

	var (
		eng *engine.Engine
		err error
	)
	if cfg.Engine.Mode.Multi() {
		eng, err = engine.New(dev, cfg.Engine, cfg.Filter, cfg.Table)
	} else {
		eng, err = engine.NewSingle(dev, cfg.Engine, cfg.Target)
	}
	if err != nil {
		return nil, err
	}

	s := &Searcher{
		cfg:  cfg,
		eng:  eng,
		rand: rand.Reader,
		seen: make(map[string]struct{}),
		done: make(chan struct{}),
	}

	// Ceil so the sub-ranges cover [Start, End].
	n := big.NewInt(int64(eng.NbThread()))
	span := new(big.Int).Sub(cfg.End, cfg.Start)
	span.Add(span, big.NewInt(1))
	s.width = new(big.Int).Add(span, new(big.Int).Sub(n, big.NewInt(1)))
	s.width.Div(s.width, n)
	return s, nil
}

// Name returns the search description.
func (s *Searcher) Name() string {
	return fmt.Sprintf("%s %s (%s)", s.cfg.Engine.Coin, s.eng.Mode(), s.eng.DeviceName())
}

// Engine returns the underlying engine.
func (s *Searcher) Engine() *engine.Engine {
	return s.eng
}

// Stats returns the current statistics. Safe for concurrent use.
func (s *Searcher) Stats() Stats {
	s.mu.Lock()
	started, startTime := s.started, s.startTime
	s.mu.Unlock()

	attempts := atomic.LoadUint64(&s.attempts)
	launches := atomic.LoadUint64(&s.launches)
	var elapsed, hashRate float64
	if started {
		elapsed = time.Since(startTime).Seconds()
	}
	if elapsed > 0 {
		hashRate = float64(attempts) / elapsed
	}
	st := Stats{
		Attempts:    attempts,
		HashRate:    hashRate,
		ElapsedSecs: elapsed,
		Launches:    launches,
		Found:       atomic.LoadUint64(&s.found),
		Rejected:    atomic.LoadUint64(&s.rejected),
	}
	if !s.cfg.Engine.RandomKeys {
		done := new(big.Float).SetUint64(launches * uint64(s.eng.StepSize()))
		f, _ := done.Quo(done, new(big.Float).SetInt(s.width)).Float64()
		if f > 1 {
			f = 1
		}
		st.Progress = f
	}
	return st
}

// Err returns the error that ended the search, if any. It is valid once the
// result channel is closed.
func (s *Searcher) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start seeds the engine and begins the search. Results are delivered on the
// returned channel, which is closed when the search ends.
func (s *Searcher) Start(ctx context.Context) (<-chan Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, ErrStarted
	}

	if err := s.seed(); err != nil {
		return nil, err
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.startTime = time.Now()

	results := make(chan Result, 16)
	go s.run(ctx, results)
	return results, nil
}

// Close stops a running search and releases the engine.
func (s *Searcher) Close() error {
	s.mu.Lock()
	started := s.started
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if started {
		<-s.done
	}
	return s.eng.Close()
}

func (s *Searcher) run(ctx context.Context, results chan<- Result) {
	defer close(s.done)
	defer close(results)

	mode := s.eng.Mode()
	step := big.NewInt(int64(s.eng.StepSize()))
	keysPerLaunch := uint64(s.eng.NbThread()) * uint64(s.eng.StepSize())
	var items []engine.Item

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		launches := atomic.LoadUint64(&s.launches)
		if s.cfg.MaxLaunches > 0 && launches >= s.cfg.MaxLaunches {
			return
		}
		if s.exhausted(launches) {
			log.Infof("Key range exhausted after %d launches", launches)
			return
		}

		// 1. Reseed in random mode.
		if s.cfg.Engine.RandomKeys && launches > 0 && (s.cfg.RandomRestart == 0 || launches%s.cfg.RandomRestart == 0) {
			if err := s.seed(); err != nil {
				s.setErr(err)
				return
			}
		}

		// 2. Launch.
		var err error
		items, err = s.eng.Launch(mode, items[:0], s.cfg.SpinWait)
		if err != nil {
			s.setErr(err)
			return
		}

		// 3. Recover and verify every item against this launch's keys.
		for _, it := range items {
			res, ok := s.verify(it)
			if !ok {
				continue
			}
			select {
			case results <- res:
			case <-ctx.Done():
				return
			}
		}

		// 4. Advance stats and base keys.
		atomic.AddUint64(&s.attempts, keysPerLaunch)
		atomic.AddUint64(&s.launches, 1)
		for _, b := range s.bases {
			b.Add(b, step)
		}
	}
}

// exhausted reports whether every sequential sub-range has been covered.
func (s *Searcher) exhausted(launches uint64) bool {
	if s.cfg.Engine.RandomKeys {
		return false
	}
	done := new(big.Int).Mul(new(big.Int).SetUint64(launches), big.NewInt(int64(s.eng.StepSize())))
	return done.Cmp(s.width) >= 0
}

// seed picks a launch key for every thread and uploads the matching centres.
// Sequential keys split the range evenly; random keys are uniform in it.
func (s *Searcher) seed() error {
	n := s.eng.NbThread()
	bases := make([]*big.Int, n)
	points := make([]secp.Point, n)

	span := new(big.Int).Sub(s.cfg.End, s.cfg.Start)
	span.Add(span, big.NewInt(1))
	for i := range bases {
		var k *big.Int
		if s.cfg.Engine.RandomKeys {
			r, err := rand.Int(s.rand, span)
			if err != nil {
				return fmt.Errorf("random key: %w", err)
			}
			k = r.Add(r, s.cfg.Start)
		} else {
			k = new(big.Int).Mul(s.width, big.NewInt(int64(i)))
			k.Add(k, s.cfg.Start)
		}
		p, err := s.eng.SeedPoint(k)
		if err != nil {
			return fmt.Errorf("seed thread %d: %w", i, err)
		}
		bases[i] = k
		points[i] = p
	}

	if err := s.eng.SetKeys(points); err != nil {
		return err
	}
	s.bases = bases
	log.Debugf("Seeded %d threads from %x", n, bases[0])
	return nil
}

// verify recovers the key of it, re-derives its hash on the CPU and builds a
// result. Rejected items and keys already reported return false.
func (s *Searcher) verify(it engine.Item) (Result, bool) {
	if int(it.ThreadID) >= len(s.bases) {
		log.Warnf("Item from unknown thread %d", it.ThreadID)
		s.reject()
		return Result{}, false
	}
	key := it.Key(s.bases[it.ThreadID])
	mode := s.eng.Mode()
	coin := s.cfg.Engine.Coin

	compressed := it.Mode

	if key.Sign() == 0 {
		log.Warnf("Item from thread %d incr %d maps to the zero key", it.ThreadID, it.Incr)
		s.reject()
		return Result{}, false
	}
	h, err := derive(key, mode, coin, compressed)
	if err != nil || !bytes.Equal(h, it.Hash) {
		log.Warnf("CPU check failed for key %064x (thread %d, incr %d)", key, it.ThreadID, it.Incr)
		s.reject()
		return Result{}, false
	}

	keyHex := fmt.Sprintf("%064x", key)
	if _, dup := s.seen[keyHex]; dup {
		return Result{}, false
	}
	s.seen[keyHex] = struct{}{}

	addr, err := Address(key, coin, compressed, s.cfg.Net)
	if err != nil {
		log.Errorf("Address for key %s: %v", keyHex, err)
	}
	res := Result{
		Key:        key,
		PrivateKey: keyHex,
		WIF:        PrivateKeyToWIF(key, compressed, s.cfg.Net),
		Address:    addr,
		PublicKey:  PublicKeyHex(key, compressed),
		Mode:       mode,
		Compressed: compressed,
		Hash:       it.Hash,
	}
	atomic.AddUint64(&s.found, 1)
	log.Infof("Found key %s (%s)", keyHex, addr)
	return res, true
}

func (s *Searcher) reject() {
	atomic.AddUint64(&s.rejected, 1)
	s.cfg.Engine.Metrics.Reject()
}

func (s *Searcher) setErr(err error) {
	log.Errorf("Search stopped: %v", err)
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
