// xpoints prepares x-point target files for the xpoint search modes. The
// convert command turns a list of public keys into a sorted .bin table; the
// subtract command pregenerates the points P - i*Z*G that split one public
// key's range into chunks.
package main

import (
	"errors"
	"os"
	"runtime"

	flags "github.com/jessevdk/go-flags"
)

type options struct {
	Convert  convertCommand  `command:"convert" description:"Convert public keys, one per line, into a sorted x-point .bin file"`
	Subtract subtractCommand `command:"subtract" description:"Write P - i*Z*G for i = 0..chunks, with Z = range/chunks"`
}

func main() {
	opts := options{
		Subtract: subtractCommand{
			Output:    "points.txt",
			Workers:   runtime.NumCPU(),
			BlockSize: defaultBlockSize,
		},
	}
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}
}
