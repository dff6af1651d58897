package main

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/btcsuite/btclog"
	flags "github.com/jessevdk/go-flags"

	"github.com/Amr-9/KeyHunter/pkg/engine"
	"github.com/Amr-9/KeyHunter/pkg/secp"
)

const (
	defaultOutput    = "Found.txt"
	defaultLogDir    = "logs"
	defaultLogFile   = "keyhunt.log"
	defaultLogLevel  = "info"
	defaultBloomFP   = 1e-6
	defaultMaxFound  = 65536
	defaultGridScale = 8
)

type config struct {
	Mode       string  `short:"m" long:"mode" description:"Search mode: address, addresses, xpoint or xpoints" default:"addresses"`
	Coin       string  `long:"coin" description:"Coin type: BTC or ETH" default:"BTC"`
	Comp       string  `short:"l" long:"comp" description:"Key encoding for BTC address modes: compress, uncompress or both" default:"compress"`
	Input      string  `short:"i" long:"in" description:"Target file for the multi modes (text, one per line, or sorted binary records with a .bin extension)"`
	Target     string  `short:"t" long:"target" description:"Single target: an address, hash160 or x coordinate"`
	Range      string  `long:"range" description:"Key range start:end in hex, either side may be empty"`
	Grid       string  `short:"g" long:"grid" description:"Thread grid groups,threads (default derived from the device)"`
	Device     int     `long:"gpui" description:"Device id, see --list"`
	MaxFound   int     `long:"maxfound" description:"Output slots per launch"`
	RKey       uint64  `short:"r" long:"rkey" description:"Random key restart interval in millions of keys, 0 for sequential"`
	BloomFP    float64 `long:"bloomfp" description:"Bloom filter false positive rate"`
	StepSize   int     `long:"stepsize" description:"Keys checked per thread and launch, a multiple of the group size"`
	SpinWait   bool    `long:"spin" description:"Poll the device instead of blocking while a kernel runs"`
	List       bool    `long:"list" description:"List compute devices and exit"`
	Output     string  `short:"o" long:"out" description:"File that found keys are appended to"`
	TestNet    bool    `long:"testnet" description:"Use testnet address and WIF encodings"`
	LogDir     string  `long:"logdir" description:"Directory to log output"`
	DebugLevel string  `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	Metrics    string  `long:"metrics" description:"Serve Prometheus metrics on this address, e.g. :9101"`
	Quiet      bool    `short:"q" long:"quiet" description:"Do not draw the progress line"`
	Priority   bool    `long:"priority" description:"Raise the process priority"`
	MaxKeys    float64 `long:"maxkeys" description:"Stop after this many millions of keys, 0 for no limit"`

	mode       engine.SearchMode
	coin       engine.CoinType
	comp       engine.CompMode
	start, end *big.Int
	groups     int
	threads    int
}

// loadConfig parses the command line and validates it. The returned error is
// a *flags.Error with type flags.ErrHelp when help was requested.
func loadConfig(args []string) (*config, error) {
	cfg := config{
		Output:     defaultOutput,
		LogDir:     defaultLogDir,
		DebugLevel: defaultLogLevel,
		BloomFP:    defaultBloomFP,
		MaxFound:   defaultMaxFound,
		StepSize:   engine.DefaultStepSize,
	}
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, err
	}
	if cfg.List {
		return &cfg, nil
	}

	var err error
	if cfg.mode, err = parseMode(cfg.Mode); err != nil {
		return nil, err
	}
	switch strings.ToUpper(cfg.Coin) {
	case "BTC":
		cfg.coin = engine.CoinBTC
	case "ETH":
		cfg.coin = engine.CoinETH
		if cfg.mode.XPoint() {
			return nil, errors.New("--coin ETH only works with the address modes")
		}
	default:
		return nil, fmt.Errorf("unknown coin %q", cfg.Coin)
	}
	switch strings.ToLower(cfg.Comp) {
	case "compress", "compressed":
		cfg.comp = engine.Compressed
	case "uncompress", "uncompressed":
		cfg.comp = engine.Uncompressed
	case "both":
		cfg.comp = engine.Both
	default:
		return nil, fmt.Errorf("unknown key encoding %q", cfg.Comp)
	}

	if cfg.mode.Multi() && cfg.Input == "" {
		return nil, fmt.Errorf("mode %s needs a target file (--in)", cfg.mode)
	}
	if !cfg.mode.Multi() && cfg.Target == "" {
		return nil, fmt.Errorf("mode %s needs a target (--target)", cfg.mode)
	}
	if cfg.BloomFP <= 0 || cfg.BloomFP >= 1 {
		return nil, fmt.Errorf("--bloomfp must be in (0, 1), got %g", cfg.BloomFP)
	}

	if cfg.start, cfg.end, err = parseRange(cfg.Range); err != nil {
		return nil, err
	}
	if cfg.Grid != "" {
		if cfg.groups, cfg.threads, err = parseGrid(cfg.Grid); err != nil {
			return nil, err
		}
	}

	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	if cfg.Output != "" {
		cfg.Output = cleanAndExpandPath(cfg.Output)
	}
	return &cfg, nil
}

func parseMode(s string) (engine.SearchMode, error) {
	switch strings.ToLower(s) {
	case "address", "sa":
		return engine.SingleAddress, nil
	case "addresses", "ma":
		return engine.MultiAddress, nil
	case "xpoint", "sx":
		return engine.SingleXPoint, nil
	case "xpoints", "mx":
		return engine.MultiXPoint, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// parseRange reads "start:end" in hex. A missing side keeps the default
// bound, a lone value is the start.
func parseRange(s string) (start, end *big.Int, err error) {
	if s == "" {
		return nil, nil, nil
	}
	lo, hi, _ := strings.Cut(s, ":")
	parse := func(v string) (*big.Int, error) {
		v = strings.TrimPrefix(strings.TrimPrefix(v, "0x"), "0X")
		if v == "" {
			return nil, nil
		}
		k, ok := new(big.Int).SetString(v, 16)
		if !ok {
			return nil, fmt.Errorf("invalid range bound %q", v)
		}
		return k, nil
	}
	if start, err = parse(lo); err != nil {
		return nil, nil, err
	}
	if end, err = parse(hi); err != nil {
		return nil, nil, err
	}
	if end != nil && end.Cmp(secp.N) >= 0 {
		return nil, nil, fmt.Errorf("range end %x is not below the curve order", end)
	}
	return start, end, nil
}

func parseGrid(s string) (groups, threads int, err error) {
	g, t, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("grid %q is not groups,threads", s)
	}
	if groups, err = strconv.Atoi(strings.TrimSpace(g)); err != nil || groups <= 0 {
		return 0, 0, fmt.Errorf("invalid grid groups %q", g)
	}
	if threads, err = strconv.Atoi(strings.TrimSpace(t)); err != nil || threads <= 0 {
		return 0, 0, fmt.Errorf("invalid grid threads %q", t)
	}
	return groups, threads, nil
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly. An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		return setLogLevels(debugLevel)
	}

	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		fields := strings.Split(logLevelPair, "=")
		if len(fields) != 2 {
			return fmt.Errorf("the specified debug level contains an invalid subsystem/level pair [%v]", logLevelPair)
		}
		subsysID, logLevel := fields[0], fields[1]

		logger, ok := subsystemLoggers[subsysID]
		if !ok {
			return fmt.Errorf("the specified subsystem [%v] is invalid -- supported subsystems %v", subsysID, supportedSubsystems())
		}
		level, ok := btclog.LevelFromString(logLevel)
		if !ok {
			return fmt.Errorf("the specified debug level [%v] is invalid", logLevel)
		}
		logger.SetLevel(level)
	}
	return nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		path = strings.Replace(path, "~", homeDir, 1)
	}
	return filepath.Clean(os.ExpandEnv(path))
}
