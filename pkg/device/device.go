// Package device defines the compute-device contract used by the search engine.
// A Device owns device memory, moves bytes between that memory and pinned host
// mirrors, and runs kernels over a thread grid. The default backend (Host)
// executes kernels on goroutines; other backends are enumerated for diagnostics.
package device

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNoDevice is returned when the requested device id does not exist.
	ErrNoDevice = errors.New("device: no such device")

	// ErrIncompatible is returned when a device exists but cannot run search kernels.
	ErrIncompatible = errors.New("device: incompatible device")

	// ErrOutOfMemory is returned when an allocation exceeds the device budget.
	ErrOutOfMemory = errors.New("device: out of memory")

	// ErrSizeRange is returned when a logical size cannot be narrowed to an
	// allocation size.
	ErrSizeRange = errors.New("device: size out of allocation range")

	// ErrBounds is returned when a transfer does not fit its buffers.
	ErrBounds = errors.New("device: transfer out of bounds")

	// ErrBusy is returned when a launch is issued while another is in flight.
	ErrBusy = errors.New("device: kernel already running")

	// ErrDeviceLost is returned once a device has faulted. It is not recoverable.
	ErrDeviceLost = errors.New("device: device lost")

	// ErrClosed is returned by every operation on a closed device.
	ErrClosed = errors.New("device: closed")

	// ErrFreed is returned when a released buffer is used.
	ErrFreed = errors.New("device: buffer already freed")
)

// Info describes a compute device.
type Info struct {
	ID           int
	Name         string
	Vendor       string
	Backend      string // "Host" or "OpenCL"
	ComputeUnits int
	MaxWorkGroup int
	GlobalMem    uint64
	MaxAlloc     uint64 // largest single allocation in bytes
	Runnable     bool   // false for devices that are listed but cannot run search kernels
}

// Grid is the launch geometry: Groups thread groups of PerGroup threads each.
type Grid struct {
	Groups   int
	PerGroup int
}

// Threads returns the total number of threads in the grid.
func (g Grid) Threads() int {
	return g.Groups * g.PerGroup
}

// Mem is an opaque handle to device memory.
type Mem interface {
	Size() int
}

// Args gives a running kernel access to its arguments.
type Args interface {
	// Len returns the number of arguments.
	Len() int

	// Bytes returns the device view of argument i.
	Bytes(i int) []byte

	// AtomicAdd32 adds delta to the little-endian 32-bit word at byte offset off
	// of argument i and returns the previous value.
	AtomicAdd32(i, off int, delta uint32) uint32
}

// Kernel is a device program. Run is invoked once per thread of the grid,
// concurrently, with thread ids in [0, grid.Threads()).
type Kernel interface {
	Run(thread int, args Args)
}

// KernelFunc adapts a function to the Kernel interface.
type KernelFunc func(thread int, args Args)

// Run calls f(thread, args).
func (f KernelFunc) Run(thread int, args Args) {
	f(thread, args)
}

// Device is a single compute device. It is not safe for concurrent use: the
// caller serializes transfers and launches.
type Device interface {
	// Info returns the static description of the device.
	Info() Info

	// Alloc allocates size bytes of zeroed device memory.
	Alloc(size int) (Mem, error)

	// Free releases device memory.
	Free(m Mem) error

	// AllocHost allocates size bytes of pinned host memory.
	AllocHost(size int) ([]byte, error)

	// FreeHost releases pinned host memory.
	FreeHost(b []byte) error

	// Write copies src into dst at byte offset off. Either every byte lands or
	// none does.
	Write(dst Mem, off int, src []byte) error

	// Read copies len(dst) bytes from src at byte offset off.
	Read(dst []byte, src Mem, off int) error

	// Launch starts k over grid g asynchronously.
	Launch(k Kernel, g Grid, args ...Mem) error

	// Synchronize blocks until the last launch completes and returns its error.
	Synchronize() error

	// Query reports whether the last launch has completed without blocking.
	Query() (bool, error)

	// Close releases the device and all memory still allocated on it.
	Close() error
}

// CheckedSize narrows a signed 64-bit logical size to an allocation size.
// Negative values, values beyond the native int range and values above limit
// are rejected. A zero limit means no device limit.
func CheckedSize(n int64, limit uint64) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: negative size %d", ErrSizeRange, n)
	}
	return CheckedSizeU(uint64(n), limit)
}

// CheckedSizeU is CheckedSize for unsigned logical sizes.
func CheckedSizeU(n uint64, limit uint64) (int, error) {
	if n > uint64(math.MaxInt) {
		return 0, fmt.Errorf("%w: %d exceeds native size", ErrSizeRange, n)
	}
	if limit != 0 && n > limit {
		return 0, fmt.Errorf("%w: %d exceeds device limit %d", ErrSizeRange, n, limit)
	}
	return int(n), nil
}
