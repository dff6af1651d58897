// Package ui renders the console output of a key search.
package ui

import (
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Amr-9/KeyHunter/pkg/engine"
	"github.com/Amr-9/KeyHunter/pkg/search"
)

// ANSI color codes
const (
	ColorReset  = "\033[0m"
	ColorCyan   = "\033[36m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorRed    = "\033[31m"
	ColorPurple = "\033[35m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
)

// SearchInfo describes a search for PrintSearchInfo.
type SearchInfo struct {
	Name       string
	Mode       engine.SearchMode
	Coin       engine.CoinType
	Comp       engine.CompMode
	Targets    int64
	Start, End *big.Int
	Threads    int
	StepSize   int
	Random     bool
	BloomBytes int64
}

// PrintWelcomeBanner shows the welcome screen
func PrintWelcomeBanner(w io.Writer, version string) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%s", ColorCyan, ColorBold)
	fmt.Fprintln(w, "  ╔══════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "  ║  ██╗  ██╗███████╗██╗   ██╗██╗  ██╗██╗   ██╗███╗   ██╗ ║")
	fmt.Fprintln(w, "  ║  ██║ ██╔╝██╔════╝╚██╗ ██╔╝██║  ██║██║   ██║████╗  ██║ ║")
	fmt.Fprintln(w, "  ║  █████╔╝ █████╗   ╚████╔╝ ███████║██║   ██║██╔██╗ ██║ ║")
	fmt.Fprintln(w, "  ║  ██╔═██╗ ██╔══╝    ╚██╔╝  ██╔══██║██║   ██║██║╚██╗██║ ║")
	fmt.Fprintln(w, "  ║  ██║  ██╗███████╗   ██║   ██║  ██║╚██████╔╝██║ ╚████║ ║")
	fmt.Fprintln(w, "  ║  ╚═╝  ╚═╝╚══════╝   ╚═╝   ╚═╝  ╚═╝ ╚═════╝ ╚═╝  ╚═══╝ ║")
	fmt.Fprintln(w, "  ╠══════════════════════════════════════════════════════╣")
	fmt.Fprintf(w, "  ║%s     secp256k1 key search %s• v%-8s%s                ║\n", ColorYellow, ColorDim, version, ColorCyan+ColorBold)
	fmt.Fprintln(w, "  ╚══════════════════════════════════════════════════════╝")
	fmt.Fprint(w, ColorReset)
	fmt.Fprintln(w)
}

// PrintSearchInfo displays search configuration
func PrintSearchInfo(w io.Writer, info SearchInfo) {
	fmt.Fprintf(w, "\n    %s🚀 SEARCHING%s %s%s%s\n", ColorGreen+ColorBold, ColorReset, ColorBold, info.Name, ColorReset)

	row := func(label, value string) {
		fmt.Fprintf(w, "    %s%-10s%s %s\n", ColorDim, label, ColorReset, value)
	}
	switch {
	case info.Mode.XPoint():
		row("Mode", fmt.Sprintf("%s (x coordinates)", info.Mode))
	case info.Coin == engine.CoinETH:
		row("Mode", fmt.Sprintf("%s %s", info.Mode, info.Coin))
	default:
		row("Mode", fmt.Sprintf("%s %s %s", info.Mode, info.Coin, info.Comp))
	}
	if info.Mode.Multi() {
		row("Targets", fmt.Sprintf("%s (bloom %s)", FormatNumber(uint64(info.Targets)), humanize.IBytes(uint64(info.BloomBytes))))
	}
	if info.Start != nil && info.End != nil {
		row("Range", fmt.Sprintf("%x:%x", info.Start, info.End))
	}
	order := "sequential"
	if info.Random {
		order = "random"
	}
	row("Keys", fmt.Sprintf("%s threads × %d keys, %s", FormatNumber(uint64(info.Threads)), info.StepSize, order))
	fmt.Fprintln(w)
}

// PrintProgress shows animated progress bar
func PrintProgress(w io.Writer, stats search.Stats, frame int) {
	spinners := []string{"◐", "◓", "◑", "◒"}
	spinner := spinners[frame%len(spinners)]

	barWidth := 40
	filled := int(stats.Progress * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("▓", filled) + strings.Repeat("░", barWidth-filled)

	fmt.Fprintf(w, "\r    %s%s%s %s%s%s %s%s%s │ %s%s%s │ %s │ %s%d found%s",
		ColorCyan, spinner, ColorReset,
		ColorDim, bar, ColorReset,
		ColorGreen+ColorBold, FormatKeyRate(stats.HashRate), ColorReset,
		ColorYellow, FormatNumber(stats.Attempts), ColorReset,
		FormatDuration(time.Duration(stats.ElapsedSecs*float64(time.Second))),
		ColorPurple, stats.Found, ColorReset)
}

// FormatKeyRate formats a key rate with an SI prefix.
func FormatKeyRate(rate float64) string {
	return humanize.SIWithDigits(rate, 1, "key/s")
}

// PrintFound shows a found key
func PrintFound(w io.Writer, r search.Result, outputFile string) {
	fmt.Fprintf(w, "\n    %s%s╔══════════════════════════════════════════════════════════╗%s\n", ColorGreen, ColorBold, ColorReset)
	fmt.Fprintf(w, "    %s%s║                    ✨ KEY FOUND! ✨                      ║%s\n", ColorGreen, ColorBold, ColorReset)
	fmt.Fprintf(w, "    %s%s╚══════════════════════════════════════════════════════════╝%s\n\n", ColorGreen, ColorBold, ColorReset)

	label := "₿ ADDRESS"
	if strings.HasPrefix(r.Address, "0x") {
		label = "⟠ ADDRESS"
	}
	fmt.Fprintf(w, "    %s%s%s\n", ColorCyan+ColorBold, label, ColorReset)
	fmt.Fprintf(w, "       %s%s%s%s\n", ColorGreen, ColorBold, r.Address, ColorReset)
	fmt.Fprintf(w, "    %s📍 PUBLIC KEY%s\n", ColorCyan+ColorBold, ColorReset)
	fmt.Fprintf(w, "       %s\n\n", r.PublicKey)

	fmt.Fprintf(w, "    %s🔑 PRIVATE KEY%s\n", ColorPurple+ColorBold, ColorReset)
	fmt.Fprintf(w, "       %s%s%s\n", ColorYellow, r.PrivateKey, ColorReset)
	fmt.Fprintf(w, "       %s%s%s\n\n", ColorYellow, r.WIF, ColorReset)

	if outputFile != "" {
		fmt.Fprintf(w, "    %s💾  %s%s%s\n", ColorYellow, ColorReset+ColorBold, outputFile, ColorReset)
	}
	fmt.Fprintf(w, "    %s%s⚠  KEEP YOUR PRIVATE KEY SECRET!%s\n", ColorRed, ColorBold, ColorReset)
}

// PrintSummary shows the final counters of a search.
func PrintSummary(w io.Writer, stats search.Stats, eng engine.Stats) {
	fmt.Fprintf(w, "\n    %s⏱   %s%s   %s│   %s📊  %s%s keys   %s│   %s%s%s\n",
		ColorCyan, ColorReset+ColorBold, FormatDuration(time.Duration(stats.ElapsedSecs*float64(time.Second))),
		ColorDim,
		ColorPurple, ColorReset+ColorBold, FormatNumber(stats.Attempts),
		ColorDim,
		ColorReset, FormatKeyRate(stats.HashRate), ColorReset)
	fmt.Fprintf(w, "    found %d, rejected %d, dropped %d\n", stats.Found, stats.Rejected, eng.Dropped)
}

// ClearLine clears the current line
func ClearLine(w io.Writer) {
	fmt.Fprint(w, "\r"+strings.Repeat(" ", 110)+"\r")
}

// FormatNumber adds commas to large numbers
func FormatNumber(n uint64) string {
	return humanize.Comma(int64(n))
}

// FormatDuration formats duration in a human-readable way
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", h, m)
}
