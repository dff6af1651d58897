package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/dustin/go-humanize"

	"github.com/Amr-9/KeyHunter/pkg/secp"
	"github.com/Amr-9/KeyHunter/pkg/targets"
)

const defaultBlockSize = 100000

type subtractCommand struct {
	PubKey    string `short:"P" long:"pubkey" required:"true" description:"Public key in hex, compressed or uncompressed"`
	Range     string `short:"X" long:"range" required:"true" description:"Range width: decimal, 0x hex or a power such as 2**40"`
	Chunks    uint64 `short:"Y" long:"chunks" required:"true" description:"Number of chunks, even"`
	Output    string `short:"o" long:"out" description:"Text output, one compressed key and offset per line"`
	Bin       string `short:"b" long:"bin" description:"Also write the x coordinates as a sorted .bin target file"`
	Workers   int    `short:"c" long:"cores" description:"Worker goroutines"`
	BlockSize uint64 `short:"B" long:"block-size" description:"Points per work block"`
}

func (c *subtractCommand) Execute(_ []string) error {
	b, err := hex.DecodeString(c.PubKey)
	if err != nil {
		return fmt.Errorf("public key: %w", err)
	}
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return fmt.Errorf("public key: %w", err)
	}
	span, err := parseSpan(c.Range)
	if err != nil {
		return err
	}
	if c.Chunks == 0 || c.Chunks%2 != 0 {
		return fmt.Errorf("chunks must be even and positive, got %d", c.Chunks)
	}
	z := new(big.Int).Div(span, new(big.Int).SetUint64(c.Chunks))
	if z.Sign() == 0 {
		return fmt.Errorf("range %s is smaller than %d chunks", span, c.Chunks)
	}

	out, err := os.Create(c.Output)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)

	var xs [][]byte
	n, err := writeSubtracted(w, pub, z, c.Chunks, c.Workers, c.BlockSize, func(x []byte) {
		if c.Bin != "" {
			xs = append(xs, x)
		}
	})
	if err == nil {
		err = w.Flush()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Printf("Generated %s with %s points.\n", c.Output, humanize.Comma(int64(n)))

	if c.Bin == "" {
		return nil
	}
	table, err := targets.FromRecords(targets.XPointWidth, xs)
	if err != nil {
		return err
	}
	if err := writeTable(c.Bin, table); err != nil {
		return err
	}
	fmt.Printf("Wrote %s entries to %s.\n", humanize.Comma(table.Len()), c.Bin)
	return nil
}

// writeSubtracted writes one line per point P - i*z*G for i = 0..chunks and
// hands every x coordinate to onX. Points at infinity are left out. It
// returns the number of lines written.
func writeSubtracted(w io.Writer, pub *btcec.PublicKey, z *big.Int, chunks uint64, workers int, blockSize uint64, onX func([]byte)) (uint64, error) {
	var (
		n    uint64
		werr error
	)
	subtractPoints(pub, z, chunks, workers, blockSize, func(i uint64, p *btcec.PublicKey) {
		if werr != nil {
			return
		}
		offset := new(big.Int).Mul(new(big.Int).SetUint64(i), z)
		if p == nil {
			fmt.Fprintf(os.Stderr, "skipped point at infinity, offset -%s\n", offset)
			return
		}
		comp := p.SerializeCompressed()
		if i == 0 {
			_, werr = fmt.Fprintf(w, "%x  # 0\n", comp)
		} else {
			_, werr = fmt.Fprintf(w, "%x  # -%s\n", comp, offset)
		}
		onX(comp[1:])
		n++
	})
	return n, werr
}

// subtractPoints calls emit with P - i*z*G for i = 0..chunks in order. Each
// worker computes one block of consecutive i with a single scalar
// multiplication and then steps by -z*G. emit gets nil for the point at
// infinity.
func subtractPoints(pub *btcec.PublicKey, z *big.Int, chunks uint64, workers int, blockSize uint64, emit func(i uint64, p *btcec.PublicKey)) {
	if workers <= 0 {
		workers = 1
	}
	if blockSize == 0 {
		blockSize = defaultBlockSize
	}

	var p btcec.JacobianPoint
	pub.AsJacobian(&p)

	var step btcec.JacobianPoint
	negMult(z, &step)

	total := chunks + 1
	for first := uint64(0); first < total; first += uint64(workers) * blockSize {
		blocks := make([][]*btcec.PublicKey, 0, workers)
		for b := first; b < total && len(blocks) < workers; b += blockSize {
			end := b + blockSize
			if end > total {
				end = total
			}
			blocks = append(blocks, make([]*btcec.PublicKey, end-b))
		}

		var wg sync.WaitGroup
		for j := range blocks {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				subtractBlock(p, step, z, first+uint64(j)*blockSize, blocks[j])
			}(j)
		}
		wg.Wait()

		i := first
		for _, block := range blocks {
			for _, pt := range block {
				emit(i, pt)
				i++
			}
		}
	}
}

// subtractBlock fills out with P - (from+k)*z*G for k = 0..len(out)-1.
func subtractBlock(p, step btcec.JacobianPoint, z *big.Int, from uint64, out []*btcec.PublicKey) {
	var q, cur btcec.JacobianPoint
	negMult(new(big.Int).Mul(new(big.Int).SetUint64(from), z), &q)
	btcec.AddNonConst(&p, &q, &cur)

	for k := range out {
		if k > 0 {
			var next btcec.JacobianPoint
			btcec.AddNonConst(&cur, &step, &next)
			cur = next
		}
		out[k] = toPublicKey(&cur)
	}
}

// negMult sets r to -(k mod N)*G in affine form. k = 0 gives infinity.
func negMult(k *big.Int, r *btcec.JacobianPoint) {
	var b [32]byte
	new(big.Int).Mod(k, secp.N).FillBytes(b[:])
	var s btcec.ModNScalar
	s.SetBytes(&b)
	if s.IsZero() {
		*r = btcec.JacobianPoint{}
		return
	}
	s.Negate()
	btcec.ScalarBaseMultNonConst(&s, r)
	r.ToAffine()
}

// toPublicKey converts j to a public key, or nil at infinity.
func toPublicKey(j *btcec.JacobianPoint) *btcec.PublicKey {
	a := *j
	a.Z.Normalize()
	if a.Z.IsZero() {
		return nil
	}
	a.ToAffine()
	return btcec.NewPublicKey(&a.X, &a.Y)
}

// parseSpan reads a range width as decimal, 0x-prefixed hex or a power
// written base**exp or base^exp.
func parseSpan(s string) (*big.Int, error) {
	s = strings.ReplaceAll(s, " ", "")
	if base, exp, ok := strings.Cut(strings.Replace(s, "**", "^", 1), "^"); ok {
		b, err := parseSpan(base)
		if err != nil {
			return nil, err
		}
		e, err := parseSpan(exp)
		if err != nil {
			return nil, err
		}
		if e.BitLen() > 16 {
			return nil, fmt.Errorf("range exponent %s too large", e)
		}
		return new(big.Int).Exp(b, e, nil), nil
	}

	v, ok := new(big.Int), false
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, ok = v.SetString(s[2:], 16)
	} else {
		v, ok = v.SetString(s, 10)
	}
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("invalid range %q", s)
	}
	return v, nil
}

func writeTable(path string, t *targets.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	_, err = t.WriteTo(w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
