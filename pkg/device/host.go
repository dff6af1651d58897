package device

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	goerrors "github.com/go-errors/errors"
)

const (
	defaultHostWorkGroup = 1024
	hostBackend          = "Host"
)

// HostConfig configures the host backend. Zero values select defaults.
type HostConfig struct {
	ID           int
	Name         string
	Workers      int    // goroutines executing thread groups, default runtime.NumCPU()
	MaxWorkGroup int    // largest PerGroup accepted by Launch, default 1024
	GlobalMem    uint64 // device memory budget in bytes, 0 for unlimited
	MaxAlloc     uint64 // largest single allocation in bytes, 0 for unlimited
}

// Host is a Device that runs kernels on a goroutine worker pool. Device
// memory is ordinary Go memory owned by the Host; thread groups are handed to
// workers one at a time so a slow group does not stall the others.
type Host struct {
	info    Info
	workers int

	mu        sync.Mutex
	used      uint64
	mems      map[*hostMem]struct{}
	pinned    map[*byte]int
	closed    bool
	lost      error
	done      chan struct{}
	launchErr error
}

type hostMem struct {
	b     []byte
	freed bool
}

func (m *hostMem) Size() int {
	return len(m.b)
}

// NewHost creates a host backend device.
func NewHost(cfg HostConfig) *Host {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	maxGroup := cfg.MaxWorkGroup
	if maxGroup <= 0 {
		maxGroup = defaultHostWorkGroup
	}
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("Host CPU (%d workers)", workers)
	}
	return &Host{
		info: Info{
			ID:           cfg.ID,
			Name:         name,
			Vendor:       runtime.GOOS + "/" + runtime.GOARCH,
			Backend:      hostBackend,
			ComputeUnits: workers,
			MaxWorkGroup: maxGroup,
			GlobalMem:    cfg.GlobalMem,
			MaxAlloc:     cfg.MaxAlloc,
			Runnable:     true,
		},
		workers: workers,
		mems:    make(map[*hostMem]struct{}),
		pinned:  make(map[*byte]int),
	}
}

// Info returns the device description.
func (h *Host) Info() Info {
	return h.info
}

// usable must be called with h.mu held.
func (h *Host) usable() error {
	if h.closed {
		return ErrClosed
	}
	if h.lost != nil {
		return h.lost
	}
	return nil
}

// running must be called with h.mu held.
func (h *Host) running() bool {
	if h.done == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// reserve must be called with h.mu held.
func (h *Host) reserve(size int) error {
	if size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrSizeRange, size)
	}
	if h.info.MaxAlloc != 0 && uint64(size) > h.info.MaxAlloc {
		return fmt.Errorf("%w: %d bytes exceeds max allocation %d", ErrOutOfMemory, size, h.info.MaxAlloc)
	}
	if h.info.GlobalMem != 0 && h.used+uint64(size) > h.info.GlobalMem {
		return fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrOutOfMemory, size, h.used, h.info.GlobalMem)
	}
	h.used += uint64(size)
	return nil
}

// Alloc allocates zeroed device memory.
func (h *Host) Alloc(size int) (Mem, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.usable(); err != nil {
		return nil, err
	}
	if err := h.reserve(size); err != nil {
		return nil, err
	}
	m := &hostMem{b: make([]byte, size)}
	h.mems[m] = struct{}{}
	return m, nil
}

// Free releases device memory.
func (h *Host) Free(m Mem) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	hm, err := h.own(m)
	if err != nil {
		return err
	}
	if h.running() {
		return ErrBusy
	}
	h.used -= uint64(len(hm.b))
	hm.freed = true
	hm.b = nil
	delete(h.mems, hm)
	return nil
}

// own must be called with h.mu held.
func (h *Host) own(m Mem) (*hostMem, error) {
	hm, ok := m.(*hostMem)
	if !ok || hm == nil {
		return nil, fmt.Errorf("device: foreign memory handle %T", m)
	}
	if hm.freed {
		return nil, ErrFreed
	}
	if _, ok := h.mems[hm]; !ok {
		return nil, fmt.Errorf("device: memory not owned by %s", h.info.Name)
	}
	return hm, nil
}

// AllocHost allocates pinned host memory. Pinned buffers count against the
// same budget as device memory.
func (h *Host) AllocHost(size int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.usable(); err != nil {
		return nil, err
	}
	if err := h.reserve(size); err != nil {
		return nil, err
	}
	b := make([]byte, size)
	if size > 0 {
		h.pinned[&b[0]] = size
	}
	return b, nil
}

// FreeHost releases pinned host memory.
func (h *Host) FreeHost(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	size, ok := h.pinned[&b[0]]
	if !ok {
		return fmt.Errorf("device: host buffer not pinned by %s", h.info.Name)
	}
	delete(h.pinned, &b[0])
	h.used -= uint64(size)
	return nil
}

// Write copies src into device memory at off.
func (h *Host) Write(dst Mem, off int, src []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.usable(); err != nil {
		return err
	}
	hm, err := h.own(dst)
	if err != nil {
		return err
	}
	if h.running() {
		return ErrBusy
	}
	if off < 0 || off+len(src) > len(hm.b) {
		return fmt.Errorf("%w: write [%d,%d) into %d bytes", ErrBounds, off, off+len(src), len(hm.b))
	}
	copy(hm.b[off:], src)
	return nil
}

// Read copies device memory at off into dst.
func (h *Host) Read(dst []byte, src Mem, off int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.usable(); err != nil {
		return err
	}
	hm, err := h.own(src)
	if err != nil {
		return err
	}
	if h.running() {
		return ErrBusy
	}
	if off < 0 || off+len(dst) > len(hm.b) {
		return fmt.Errorf("%w: read [%d,%d) from %d bytes", ErrBounds, off, off+len(dst), len(hm.b))
	}
	copy(dst, hm.b[off:off+len(dst)])
	return nil
}

// Launch starts k over g. The call returns once the launch is queued.
func (h *Host) Launch(k Kernel, g Grid, args ...Mem) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.usable(); err != nil {
		return err
	}
	if h.running() {
		return ErrBusy
	}
	if g.Groups <= 0 || g.PerGroup <= 0 || g.PerGroup > h.info.MaxWorkGroup {
		return fmt.Errorf("device: invalid grid %dx%d (max work group %d)", g.Groups, g.PerGroup, h.info.MaxWorkGroup)
	}

	views := make([][]byte, len(args))
	for i, m := range args {
		hm, err := h.own(m)
		if err != nil {
			return fmt.Errorf("device: kernel argument %d: %w", i, err)
		}
		views[i] = hm.b
	}

	done := make(chan struct{})
	h.done = done
	h.launchErr = nil
	go h.run(k, g, &hostArgs{views: views}, done)
	return nil
}

func (h *Host) run(k Kernel, g Grid, a *hostArgs, done chan struct{}) {
	workers := h.workers
	if workers > g.Groups {
		workers = g.Groups
	}

	var (
		next    int64
		faulted atomic.Bool
		fault   *goerrors.Error
		once    sync.Once
		wg      sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					once.Do(func() { fault = goerrors.Wrap(r, 2) })
					faulted.Store(true)
				}
			}()
			for !faulted.Load() {
				group := int(atomic.AddInt64(&next, 1) - 1)
				if group >= g.Groups {
					return
				}
				first := group * g.PerGroup
				for t := first; t < first+g.PerGroup; t++ {
					k.Run(t, a)
				}
			}
		}()
	}
	wg.Wait()

	h.mu.Lock()
	if fault != nil {
		log.Errorf("Kernel fault on %s: %v\n%s", h.info.Name, fault, fault.ErrorStack())
		h.lost = fmt.Errorf("%w: kernel fault: %v", ErrDeviceLost, fault)
		h.launchErr = h.lost
	}
	h.mu.Unlock()
	close(done)
}

// Synchronize blocks until the last launch completes.
func (h *Host) Synchronize() error {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()

	if done != nil {
		<-done
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return h.launchErr
}

// Query reports whether the last launch has completed.
func (h *Host) Query() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return true, ErrClosed
	}
	if h.running() {
		return false, nil
	}
	return true, h.launchErr
}

// Close waits for any running kernel and releases all memory.
func (h *Host) Close() error {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()

	if done != nil {
		<-done
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	for m := range h.mems {
		m.freed = true
		m.b = nil
	}
	h.mems = nil
	h.pinned = nil
	h.used = 0
	h.closed = true
	return nil
}

// Used returns the bytes currently allocated on the device, pinned host
// buffers included.
func (h *Host) Used() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

type hostArgs struct {
	views [][]byte
	mu    sync.Mutex
}

func (a *hostArgs) Len() int {
	return len(a.views)
}

func (a *hostArgs) Bytes(i int) []byte {
	return a.views[i]
}

func (a *hostArgs) AtomicAdd32(i, off int, delta uint32) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	word := a.views[i][off : off+4]
	old := binary.LittleEndian.Uint32(word)
	binary.LittleEndian.PutUint32(word, old+delta)
	return old
}
