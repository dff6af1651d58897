package device

import (
	"errors"
	"fmt"
)

// Pair is a device buffer with a pinned host mirror of the same size. The
// mirror exists to stage exactly one bulk transfer per direction; the pair is
// allocated, transferred and released as one unit.
type Pair struct {
	dev  Device
	Mem  Mem
	Host []byte
}

// NewPair allocates a device buffer and its pinned mirror. size is a logical
// 64-bit size narrowed against the device's allocation limit. Nothing stays
// allocated when an error is returned.
func NewPair(d Device, size int64) (*Pair, error) {
	n, err := CheckedSize(size, d.Info().MaxAlloc)
	if err != nil {
		return nil, err
	}
	m, err := d.Alloc(n)
	if err != nil {
		return nil, fmt.Errorf("device buffer (%d bytes): %w", n, err)
	}
	host, err := d.AllocHost(n)
	if err != nil {
		_ = d.Free(m)
		return nil, fmt.Errorf("pinned buffer (%d bytes): %w", n, err)
	}
	return &Pair{dev: d, Mem: m, Host: host}, nil
}

// Size returns the buffer size in bytes.
func (p *Pair) Size() int {
	return len(p.Host)
}

// Upload copies the whole host mirror to the device.
func (p *Pair) Upload() error {
	return p.UploadRange(0, len(p.Host))
}

// UploadRange copies host mirror bytes [off, off+n) to the same range on the device.
func (p *Pair) UploadRange(off, n int) error {
	if p.Mem == nil {
		return ErrFreed
	}
	if off < 0 || n < 0 || off+n > len(p.Host) {
		return fmt.Errorf("%w: upload [%d,%d) of %d bytes", ErrBounds, off, off+n, len(p.Host))
	}
	return p.dev.Write(p.Mem, off, p.Host[off:off+n])
}

// Download copies the whole device buffer into the host mirror.
func (p *Pair) Download() error {
	return p.DownloadRange(0, len(p.Host))
}

// DownloadRange copies device bytes [off, off+n) into the same range of the mirror.
func (p *Pair) DownloadRange(off, n int) error {
	if p.Mem == nil {
		return ErrFreed
	}
	if off < 0 || n < 0 || off+n > len(p.Host) {
		return fmt.Errorf("%w: download [%d,%d) of %d bytes", ErrBounds, off, off+n, len(p.Host))
	}
	return p.dev.Read(p.Host[off:off+n], p.Mem, off)
}

// Free releases both halves. It is safe to call more than once.
func (p *Pair) Free() error {
	if p == nil || p.Mem == nil {
		return nil
	}
	errDev := p.dev.Free(p.Mem)
	errHost := p.dev.FreeHost(p.Host)
	p.Mem = nil
	p.Host = nil
	return ignoreClosed(errors.Join(errDev, errHost))
}

// NewBuffer allocates device memory and uploads data into it once. It is used
// for read-only inputs such as lookup tables that never travel back.
func NewBuffer(d Device, data []byte) (Mem, error) {
	n, err := CheckedSize(int64(len(data)), d.Info().MaxAlloc)
	if err != nil {
		return nil, err
	}
	m, err := d.Alloc(n)
	if err != nil {
		return nil, fmt.Errorf("device buffer (%d bytes): %w", n, err)
	}
	if err := d.Write(m, 0, data); err != nil {
		_ = d.Free(m)
		return nil, err
	}
	return m, nil
}

// ignoreClosed drops errors caused by releasing memory that the device
// already released when it was closed.
func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, ErrFreed) || errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}
