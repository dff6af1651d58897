package secp

import (
	"bufio"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto/secp256k1"
)

// GenerateCode writes the generator tables for groupSize as a C header of
// constant arrays: Gx and Gy (i*G for i = 1..groupSize/2) and _2Gnx, _2Gny
// (groupSize*G).
func GenerateCode(w io.Writer, curve *secp256k1.BitCurve, groupSize int) error {
	t, err := NewGeneratorTables(curve, groupSize)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "// File generated by gen_tables. Do not edit.\n\n")
	fmt.Fprintf(bw, "#define GRP_SIZE %d\n\n", groupSize)

	writeArray(bw, "Gx", t.Gx)
	writeArray(bw, "Gy", t.Gy)
	writeLimbs(bw, "_2Gnx", t.Jx)
	writeLimbs(bw, "_2Gny", t.Jy)

	return bw.Flush()
}

func writeArray(w io.Writer, name string, rows [][4]uint64) {
	fmt.Fprintf(w, "__device__ __constant__ uint64_t %s[][4] = {\n", name)
	for _, l := range rows {
		fmt.Fprintf(w, "  {0x%016XULL,0x%016XULL,0x%016XULL,0x%016XULL},\n", l[0], l[1], l[2], l[3])
	}
	fmt.Fprintf(w, "};\n\n")
}

func writeLimbs(w io.Writer, name string, l [4]uint64) {
	fmt.Fprintf(w, "__device__ __constant__ uint64_t %s[4] = {0x%016XULL,0x%016XULL,0x%016XULL,0x%016XULL};\n",
		name, l[0], l[1], l[2], l[3])
}
