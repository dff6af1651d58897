// gen_tables writes the generator tables used by the search kernels: i*G for
// i = 1..GroupSize/2 and the jump point GroupSize*G, either as a C header or
// as the little-endian binary image the engine uploads.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/crypto/secp256k1"
	flags "github.com/jessevdk/go-flags"

	"github.com/Amr-9/KeyHunter/pkg/engine"
	"github.com/Amr-9/KeyHunter/pkg/secp"
)

type config struct {
	GroupSize int    `short:"g" long:"groupsize" description:"Points sharing one inversion"`
	Output    string `short:"o" long:"out" description:"Output file"`
	Binary    bool   `short:"b" long:"bin" description:"Write the binary table image instead of a header"`
}

func main() {
	cfg := config{GroupSize: engine.DefaultGroupSize, Output: "GPUGroup.h"}
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}

	fmt.Printf("Generating tables for group size %d (%d bytes)...\n", cfg.GroupSize, secp.TablesSize(cfg.GroupSize))
	startTime := time.Now()

	if err := write(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s in %v\n", cfg.Output, time.Since(startTime).Round(time.Millisecond))
}

func write(cfg config) error {
	file, err := os.Create(cfg.Output)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)

	if cfg.Binary {
		var t *secp.GeneratorTables
		if t, err = secp.NewGeneratorTables(secp256k1.S256(), cfg.GroupSize); err == nil {
			_, err = w.Write(t.Bytes())
		}
	} else {
		err = secp.GenerateCode(w, secp256k1.S256(), cfg.GroupSize)
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}
