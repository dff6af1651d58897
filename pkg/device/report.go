package device

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/table"
)

// PrintInfo writes a table describing infos to w.
func PrintInfo(w io.Writer, infos []Info) error {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"ID", "Name", "Backend", "Units", "Work group", "Memory", "Max alloc", "Search"})
	for _, info := range infos {
		search := "no"
		if info.Runnable {
			search = "yes"
		}
		t.AppendRow(table.Row{
			info.ID,
			info.Name,
			info.Backend,
			info.ComputeUnits,
			info.MaxWorkGroup,
			memString(info.GlobalMem),
			memString(info.MaxAlloc),
			search,
		})
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func memString(n uint64) string {
	if n == 0 {
		return "unlimited"
	}
	return humanize.IBytes(n)
}
