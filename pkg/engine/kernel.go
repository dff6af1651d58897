package engine

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/Amr-9/KeyHunter/pkg/bloom"
	"github.com/Amr-9/KeyHunter/pkg/device"
	"github.com/Amr-9/KeyHunter/pkg/secp"
	"github.com/Amr-9/KeyHunter/pkg/targets"
)

// Kernel argument slots.
const (
	argKeys = iota
	argOut
	argTables
	argTarget
	argBloom
)

// searchKernel checks StepSize keys per thread. Its fields are the launch
// constants; everything else is read from the kernel arguments.
type searchKernel struct {
	mode        SearchMode
	comp        CompMode
	coin        CoinType
	groupSize   int
	stepSize    int
	perGroup    int
	maxFound    uint32
	itemSize    int
	width       int
	bloomBits   uint64
	bloomHashes uint8

	// Generator tables decoded from argTables on first use.
	once   sync.Once
	gx, gy []btcec.FieldVal
	jx, jy btcec.FieldVal

	scratch sync.Pool
}

// scratch holds the per-thread batch inversion state.
type scratch struct {
	dx, prefix, inv []btcec.FieldVal
	skip            []bool
}

func newSearchKernel(cfg Config, itemSize int) *searchKernel {
	half := cfg.GroupSize / 2
	k := &searchKernel{
		mode:      cfg.Mode,
		comp:      cfg.Comp,
		coin:      cfg.Coin,
		groupSize: cfg.GroupSize,
		stepSize:  cfg.StepSize,
		perGroup:  cfg.ThreadsPerGroup,
		maxFound:  uint32(cfg.MaxFound),
		itemSize:  itemSize,
		width:     cfg.Mode.Width(),
	}
	k.scratch.New = func() any {
		return &scratch{
			dx:     make([]btcec.FieldVal, half+1),
			prefix: make([]btcec.FieldVal, half+1),
			inv:    make([]btcec.FieldVal, half+1),
			skip:   make([]bool, half+1),
		}
	}
	return k
}

func (k *searchKernel) loadTables(b []byte) {
	t, err := secp.TablesFromBytes(k.groupSize, b)
	if err != nil {
		panic(err)
	}
	half := k.groupSize / 2
	k.gx = make([]btcec.FieldVal, half)
	k.gy = make([]btcec.FieldVal, half)
	for i := 0; i < half; i++ {
		k.gx[i] = secp.FieldFromLimbs(t.Gx[i])
		k.gy[i] = secp.FieldFromLimbs(t.Gy[i])
	}
	k.jx = secp.FieldFromLimbs(t.Jx)
	k.jy = secp.FieldFromLimbs(t.Jy)
}

// Run walks thread's centre C through StepSize/GroupSize groups. Within a
// group it checks C, C+i*G and C-i*G for 0 < i < GroupSize/2 and C-(GroupSize/2)*G,
// which covers increments [j*GroupSize, (j+1)*GroupSize) relative to the
// thread's launch key. All additions of a group, plus the jump to the next
// centre, share one inversion.
//
// A centre at infinity is stored as (0, 0). Its group is read straight from
// the tables and the next centre is the jump point.
func (k *searchKernel) Run(thread int, args device.Args) {
	k.once.Do(func() { k.loadTables(args.Bytes(argTables)) })

	keys := args.Bytes(argKeys)
	var cx, cy btcec.FieldVal
	inf := k.loadKey(keys, thread, &cx, &cy)

	s := k.scratch.Get().(*scratch)
	defer k.scratch.Put(s)

	half := k.groupSize / 2
	var px, py, nx, ny btcec.FieldVal
	for j := 0; j < k.stepSize/k.groupSize; j++ {
		base := j * k.groupSize
		if inf {
			k.checkTables(args, thread, base)
			cx, cy = k.jx, k.jy
			inf = false
			continue
		}
		k.invert(s, &cx)

		k.check(args, thread, base+half, &cx, &cy)

		for i := 0; i < half-1; i++ {
			if k.add(s, i, &cx, &cy, &k.gx[i], &k.gy[i], false, &px, &py) {
				k.check(args, thread, base+half+i+1, &px, &py)
			}
			if k.add(s, i, &cx, &cy, &k.gx[i], &k.gy[i], true, &px, &py) {
				k.check(args, thread, base+half-i-1, &px, &py)
			}
		}
		if k.add(s, half-1, &cx, &cy, &k.gx[half-1], &k.gy[half-1], true, &px, &py) {
			k.check(args, thread, base, &px, &py)
		}

		// Next centre, or infinity when the walk reaches N.
		if k.add(s, half, &cx, &cy, &k.jx, &k.jy, false, &nx, &ny) {
			cx, cy = nx, ny
		} else {
			inf = true
		}
	}

	k.storeKey(keys, thread, &cx, &cy, inf)
}

// checkTables checks the group around a centre at infinity: i*G and -i*G for
// 0 < i < GroupSize/2 and -(GroupSize/2)*G. The centre itself is no key.
func (k *searchKernel) checkTables(args device.Args, thread, base int) {
	half := k.groupSize / 2
	var px, py btcec.FieldVal
	for i := 0; i < half; i++ {
		px.Set(&k.gx[i])
		if i < half-1 {
			py.Set(&k.gy[i])
			k.check(args, thread, base+half+i+1, &px, &py)
		}
		py.NegateVal(&k.gy[i], 1).Normalize()
		k.check(args, thread, base+half-i-1, &px, &py)
	}
}

// invert fills s.inv[i] with 1/(Gx[i]-cx) for i < GroupSize/2 and
// s.inv[GroupSize/2] with 1/(Jx-cx). Zero differences are flagged in s.skip
// and replaced by one so the batch stays invertible.
func (k *searchKernel) invert(s *scratch, cx *btcec.FieldVal) {
	half := k.groupSize / 2

	var negX btcec.FieldVal
	negX.NegateVal(cx, 1)
	for i := 0; i <= half; i++ {
		gx := &k.jx
		if i < half {
			gx = &k.gx[i]
		}
		s.dx[i].Add2(gx, &negX).Normalize()
		s.skip[i] = s.dx[i].IsZero()
		if s.skip[i] {
			s.dx[i].SetInt(1)
		}
	}

	s.prefix[0].Set(&s.dx[0])
	for i := 1; i <= half; i++ {
		s.prefix[i].Mul2(&s.prefix[i-1], &s.dx[i])
	}
	var inv btcec.FieldVal
	inv.Set(&s.prefix[half]).Inverse()
	for i := half; i > 0; i-- {
		s.inv[i].Mul2(&inv, &s.prefix[i-1])
		inv.Mul(&s.dx[i])
	}
	s.inv[0].Set(&inv)
}

// add sets (x3, y3) to C + Q, or C - Q when neg is set, using the batched
// inverse at slot i. It reports false when the sum is the point at infinity.
func (k *searchKernel) add(s *scratch, i int, cx, cy, qx, qy *btcec.FieldVal, neg bool, x3, y3 *btcec.FieldVal) bool {
	if s.skip[i] {
		return addJacobian(cx, cy, qx, qy, neg, x3, y3)
	}

	var dy, t, lambda btcec.FieldVal
	if neg {
		dy.NegateVal(qy, 1)
		t.NegateVal(cy, 1)
		dy.Add(&t)
	} else {
		dy.NegateVal(cy, 1).Add(qy)
	}
	lambda.Mul2(&dy, &s.inv[i])

	// x3 = lambda^2 - cx - qx
	var ncx, nqx btcec.FieldVal
	ncx.NegateVal(cx, 1)
	nqx.NegateVal(qx, 1)
	x3.SquareVal(&lambda).Add(&ncx).Add(&nqx).Normalize()

	// y3 = lambda*(cx - x3) - cy
	t.NegateVal(x3, 1).Add(cx)
	var ncy btcec.FieldVal
	ncy.NegateVal(cy, 1)
	y3.Mul2(&lambda, &t).Add(&ncy).Normalize()
	return true
}

// addJacobian is the general addition used when C and Q share an x
// coordinate, where it either doubles or cancels.
func addJacobian(cx, cy, qx, qy *btcec.FieldVal, neg bool, x3, y3 *btcec.FieldVal) bool {
	var p, q, r btcec.JacobianPoint
	p.X.Set(cx)
	p.Y.Set(cy)
	p.Z.SetInt(1)
	q.X.Set(qx)
	q.Y.Set(qy)
	q.Z.SetInt(1)
	if neg {
		q.Y.Negate(1).Normalize()
	}
	btcec.AddNonConst(&p, &q, &r)
	r.Z.Normalize()
	if r.Z.IsZero() {
		return false
	}
	r.ToAffine()
	x3.Set(&r.X)
	y3.Set(&r.Y)
	return true
}

// check hashes the point the way the mode requires and matches it.
func (k *searchKernel) check(args device.Args, thread, incr int, x, y *btcec.FieldVal) {
	if k.mode.XPoint() {
		xp := secp.XPoint(x)
		k.match(args, thread, incr, xp[:], true)
		return
	}
	if k.coin == CoinETH {
		h := secp.KeccakAddress(x, y)
		k.match(args, thread, incr, h[:], false)
		return
	}
	if k.comp != Uncompressed {
		h := secp.Hash160Compressed(x, y)
		k.match(args, thread, incr, h[:], true)
	}
	if k.comp != Compressed {
		h := secp.Hash160Uncompressed(x, y)
		k.match(args, thread, incr, h[:], false)
	}
}

// match confirms h and, on success, reserves an output slot. Slots past
// maxFound are counted but not written.
func (k *searchKernel) match(args device.Args, thread, incr int, h []byte, mode bool) {
	target := args.Bytes(argTarget)
	if k.mode.Multi() {
		if !bloom.TestBytes(args.Bytes(argBloom), k.bloomBits, k.bloomHashes, h) {
			return
		}
		if targets.BinarySearch(target, k.width, h) == targets.NotFound {
			return
		}
	} else if !bytes.Equal(h, target) {
		return
	}

	pos := args.AtomicAdd32(argOut, 0, 1)
	if pos >= k.maxFound {
		return
	}
	off := 4 + int(pos)*k.itemSize
	putItem(args.Bytes(argOut)[off:off+k.itemSize], uint32(thread), int16(incr), h, mode)
}

// loadKey reads thread's centre and reports whether it is at infinity.
func (k *searchKernel) loadKey(keys []byte, thread int, x, y *btcec.FieldVal) bool {
	var lx, ly [4]uint64
	for i := 0; i < 4; i++ {
		lx[i] = binary.LittleEndian.Uint64(keys[8*keyWord(k.perGroup, thread, i):])
		ly[i] = binary.LittleEndian.Uint64(keys[8*keyWord(k.perGroup, thread, 4+i):])
	}
	*x = secp.FieldFromLimbs(lx)
	*y = secp.FieldFromLimbs(ly)
	return secp.Point{X: lx, Y: ly}.IsInfinity()
}

func (k *searchKernel) storeKey(keys []byte, thread int, x, y *btcec.FieldVal, inf bool) {
	var lx, ly [4]uint64
	if !inf {
		lx = secp.LimbsFromField(x)
		ly = secp.LimbsFromField(y)
	}
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint64(keys[8*keyWord(k.perGroup, thread, i):], lx[i])
		binary.LittleEndian.PutUint64(keys[8*keyWord(k.perGroup, thread, 4+i):], ly[i])
	}
}
