package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/Amr-9/KeyHunter/pkg/targets"
)

type convertCommand struct {
	Args struct {
		In  string `positional-arg-name:"pubkeys.txt"`
		Out string `positional-arg-name:"xpoints.bin"`
	} `positional-args:"yes" required:"yes"`
}

func (c *convertCommand) Execute(_ []string) error {
	in, err := os.Open(c.Args.In)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(c.Args.Out)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	ld, err := convertXPoints(in, w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	fmt.Printf("processed : %s pubkeys\n", humanize.Comma(int64(ld.Lines-ld.Skipped)))
	fmt.Printf("skipped   : %s pubkeys\n", humanize.Comma(int64(ld.Skipped)))
	fmt.Printf("written   : %s x-points to %s\n", humanize.Comma(ld.Table.Len()), c.Args.Out)
	return nil
}

// convertXPoints parses public keys from r and writes their x coordinates to
// w as a sorted table without duplicates.
func convertXPoints(r io.Reader, w io.Writer) (*targets.Load, error) {
	ld, err := targets.ParseXPoints(r)
	if err != nil {
		return nil, err
	}
	if _, err := ld.Table.WriteTo(w); err != nil {
		return nil, err
	}
	return ld, nil
}
