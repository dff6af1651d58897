package engine

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/Amr-9/KeyHunter/pkg/device"
)

// LaunchMA runs one multi-address launch. See Launch.
func (e *Engine) LaunchMA(dst []Item, spinWait bool) ([]Item, error) {
	return e.Launch(MultiAddress, dst, spinWait)
}

// LaunchSA runs one single-address launch. See Launch.
func (e *Engine) LaunchSA(dst []Item, spinWait bool) ([]Item, error) {
	return e.Launch(SingleAddress, dst, spinWait)
}

// LaunchMX runs one multi-xpoint launch. See Launch.
func (e *Engine) LaunchMX(dst []Item, spinWait bool) ([]Item, error) {
	return e.Launch(MultiXPoint, dst, spinWait)
}

// LaunchSX runs one single-xpoint launch. See Launch.
func (e *Engine) LaunchSX(dst []Item, spinWait bool) ([]Item, error) {
	return e.Launch(SingleXPoint, dst, spinWait)
}

// Launch checks StepSize keys per thread and appends the confirmed matches to
// dst. Every thread's centre advances by StepSize keys, so consecutive
// launches without SetKeys walk the key space. With spinWait the calling
// goroutine polls the device instead of blocking.
//
// At most MaxFound items are returned per launch; further matches are
// counted in Stats().Dropped. On error dst is returned unmodified. A failure
// after the kernel was started leaves the device keys in an unknown state, so
// further launches return ErrNoKeys until SetKeys reseeds every thread.
func (e *Engine) Launch(mode SearchMode, dst []Item, spinWait bool) ([]Item, error) {
	if err := e.usable(); err != nil {
		return dst, err
	}
	if mode != e.cfg.Mode {
		return dst, fmt.Errorf("%w: engine runs %s, launch asked for %s", ErrModeMismatch, e.cfg.Mode, mode)
	}
	if !e.hasKeys {
		return dst, ErrNoKeys
	}
	start := time.Now()

	// 1. Reset the output count.
	binary.LittleEndian.PutUint32(e.out.Host, 0)
	if err := e.out.UploadRange(0, 4); err != nil {
		return dst, e.fail(fmt.Errorf("reset output: %w", err))
	}

	// 2. Launch the kernel. The device keys move from here on.
	e.hasKeys = false
	grid := device.Grid{Groups: e.cfg.ThreadGroups, PerGroup: e.cfg.ThreadsPerGroup}
	if err := e.dev.Launch(e.kernel, grid, e.args...); err != nil {
		return dst, e.fail(fmt.Errorf("launch %s: %w", mode, err))
	}

	// 3. Wait for completion.
	if err := e.wait(spinWait); err != nil {
		return dst, e.fail(fmt.Errorf("kernel %s: %w", mode, err))
	}

	// 4. Read back the count, then the items it covers.
	if err := e.out.DownloadRange(0, 4); err != nil {
		return dst, e.fail(fmt.Errorf("read output count: %w", err))
	}
	count := int64(binary.LittleEndian.Uint32(e.out.Host))
	n := count
	if n > int64(e.cfg.MaxFound) {
		n = int64(e.cfg.MaxFound)
	}
	if n > 0 {
		if err := e.out.DownloadRange(4, int(n)*e.itemSize); err != nil {
			return dst, e.fail(fmt.Errorf("read output items: %w", err))
		}
	}

	// 5. Decode.
	items := make([]Item, 0, n)
	for i := 0; i < int(n); i++ {
		off := 4 + i*e.itemSize
		it, err := DecodeItem(e.out.Host[off : off+e.itemSize])
		if err != nil {
			return dst, err
		}
		items = append(items, it)
	}

	dropped := count - n
	if dropped > 0 {
		log.Warnf("Output buffer full on %s: %d of %d matches dropped", e.DeviceName(), dropped, count)
	}
	e.hasKeys = true
	keys := uint64(e.nbThread) * uint64(e.cfg.StepSize)
	e.stats.Launches++
	e.stats.KeysChecked += keys
	e.stats.Found += uint64(n)
	e.stats.Dropped += uint64(dropped)
	e.cfg.Metrics.ObserveLaunch(time.Since(start), keys, int(n), int(dropped))

	return append(dst, items...), nil
}

func (e *Engine) wait(spin bool) error {
	if !spin {
		return e.dev.Synchronize()
	}
	for {
		done, err := e.dev.Query()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}
