// Command keyhunt searches secp256k1 key ranges for keys whose address or x
// coordinate is among a set of targets.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Amr-9/KeyHunter/internal/metrics"
	"github.com/Amr-9/KeyHunter/internal/ui"
	"github.com/Amr-9/KeyHunter/pkg/device"
	"github.com/Amr-9/KeyHunter/pkg/engine"
	"github.com/Amr-9/KeyHunter/pkg/search"
	"github.com/Amr-9/KeyHunter/pkg/targets"
)

const (
	version    = "1.0"
	updateRate = 250 * time.Millisecond
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) {
			if ferr.Type == flags.ErrHelp {
				return
			}
		} else {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		log.Errorf("%v", err)
		fmt.Fprintf(os.Stderr, "\n    %s✗ Error: %v%s\n", ui.ColorRed, err, ui.ColorReset)
		os.Exit(1)
	}
}

func run(cfg *config) error {
	if cfg.List {
		infos, err := device.List()
		if err != nil {
			return err
		}
		return device.PrintInfo(os.Stdout, infos)
	}

	if err := initLogRotator(filepath.Join(cfg.LogDir, defaultLogFile)); err != nil {
		return err
	}
	defer logRotator.Close()

	ui.PrintWelcomeBanner(os.Stdout, version)

	if cfg.Priority {
		if err := raisePriority(); err != nil {
			log.Warnf("Could not raise process priority: %v", err)
		}
	}

	dev, err := device.Open(cfg.Device)
	if err != nil {
		return err
	}
	defer dev.Close()
	info := dev.Info()
	log.Infof("Using device %d: %s", info.ID, info.Name)

	net := &chaincfg.MainNetParams
	if cfg.TestNet {
		net = &chaincfg.TestNet3Params
	}

	scfg, err := searchConfig(cfg, info, net)
	if err != nil {
		return err
	}

	if cfg.Metrics != "" {
		reg := prometheus.NewRegistry()
		collector, err := metrics.New(reg, info.Name)
		if err != nil {
			return err
		}
		scfg.Engine.Metrics = collector
		go serveMetrics(cfg.Metrics, reg)
	}

	s, err := search.New(dev, *scfg)
	if err != nil {
		return err
	}
	defer s.Close()

	si := ui.SearchInfo{
		Name:     s.Name(),
		Mode:     cfg.mode,
		Coin:     cfg.coin,
		Comp:     cfg.comp,
		Start:    scfg.Start,
		End:      scfg.End,
		Threads:  s.Engine().NbThread(),
		StepSize: s.Engine().StepSize(),
		Random:   scfg.Engine.RandomKeys,
	}
	if scfg.Table != nil {
		si.Targets = scfg.Table.Len()
		si.BloomBytes = scfg.Filter.Size
	}
	ui.PrintSearchInfo(os.Stdout, si)

	return searchLoop(s, cfg)
}

// searchConfig loads the targets and builds the search configuration.
func searchConfig(cfg *config, info device.Info, net *chaincfg.Params) (*search.Config, error) {
	ecfg := engine.DefaultConfig()
	ecfg.Mode = cfg.mode
	ecfg.Coin = cfg.coin
	ecfg.Comp = cfg.comp
	ecfg.MaxFound = cfg.MaxFound
	ecfg.StepSize = cfg.StepSize
	ecfg.ThreadGroups, ecfg.ThreadsPerGroup = cfg.groups, cfg.threads
	if cfg.Grid == "" {
		ecfg.ThreadGroups = info.ComputeUnits * defaultGridScale
		ecfg.ThreadsPerGroup = 128
		if info.MaxWorkGroup > 0 && info.MaxWorkGroup < ecfg.ThreadsPerGroup {
			ecfg.ThreadsPerGroup = info.MaxWorkGroup
		}
	}

	scfg := &search.Config{
		Engine:   ecfg,
		Start:    cfg.start,
		End:      cfg.end,
		SpinWait: cfg.SpinWait,
		Net:      net,
	}
	perLaunch := uint64(ecfg.ThreadGroups) * uint64(ecfg.ThreadsPerGroup) * uint64(ecfg.StepSize)
	if perLaunch == 0 {
		return nil, fmt.Errorf("%w: empty grid", engine.ErrGeometry)
	}
	if cfg.MaxKeys > 0 {
		scfg.MaxLaunches = uint64(cfg.MaxKeys*1e6/float64(perLaunch)) + 1
		log.Debugf("Stopping after %d launches", scfg.MaxLaunches)
	}
	if cfg.RKey > 0 {
		scfg.Engine.RandomKeys = true
		scfg.RandomRestart = cfg.RKey * 1000000 / perLaunch
		if scfg.RandomRestart == 0 {
			scfg.RandomRestart = 1
		}
	}

	if !cfg.mode.Multi() {
		target, err := singleTarget(cfg.Target, cfg.mode, net)
		if err != nil {
			return nil, err
		}
		scfg.Target = target
		return scfg, nil
	}

	table, err := loadTargets(cfg.Input, cfg.mode, net)
	if err != nil {
		return nil, err
	}
	filter, err := table.Bloom(cfg.BloomFP)
	if err != nil {
		return nil, err
	}
	log.Infof("Loaded %d targets, bloom filter %d bytes, %d hashes", table.Len(), filter.Size, filter.Hashes)
	scfg.Table = table
	scfg.Filter = filter
	return scfg, nil
}

// loadTargets reads a target file: sorted binary records for .bin files,
// one address or public key per line otherwise.
func loadTargets(path string, mode engine.SearchMode, net *chaincfg.Params) (*targets.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".bin") {
		return targets.ReadBinary(f, mode.Width())
	}

	var ld *targets.Load
	if mode.XPoint() {
		ld, err = targets.ParseXPoints(f)
	} else {
		ld, err = targets.ParseAddresses(f, net)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if ld.Skipped > 0 {
		log.Warnf("%s: skipped %d of %d lines", path, ld.Skipped, ld.Lines)
	}
	return ld.Table, nil
}

// singleTarget decodes one target the same way a target file line is read.
func singleTarget(s string, mode engine.SearchMode, net *chaincfg.Params) ([]byte, error) {
	var (
		ld  *targets.Load
		err error
	)
	if mode.XPoint() {
		ld, err = targets.ParseXPoints(strings.NewReader(s))
	} else {
		ld, err = targets.ParseAddresses(strings.NewReader(s), net)
	}
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", s, err)
	}
	return ld.Table.Record(0), nil
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Infof("Serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("Metrics server: %v", err)
	}
}

func searchLoop(s *search.Searcher, cfg *config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	resultChan, err := s.Start(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(updateRate)
	defer ticker.Stop()
	frame := 0

	for {
		select {
		case res, ok := <-resultChan:
			if !ok {
				if !cfg.Quiet {
					ui.ClearLine(os.Stdout)
				}
				ui.PrintSummary(os.Stdout, s.Stats(), s.Engine().Stats())
				return s.Err()
			}
			if !cfg.Quiet {
				ui.ClearLine(os.Stdout)
			}
			ui.PrintFound(os.Stdout, res, cfg.Output)
			if err := saveResult(cfg.Output, res); err != nil {
				log.Errorf("Failed to save result: %v", err)
			}

		case <-ticker.C:
			if !cfg.Quiet {
				ui.PrintProgress(os.Stdout, s.Stats(), frame)
			}
			frame++

		case <-sigChan:
			log.Infof("Interrupted, stopping after the current launch")
			cancel()
		}
	}
}

// saveResult appends a found key to the output file.
func saveResult(path string, r search.Result) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if err := writeResult(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeResult(w io.Writer, r search.Result) error {
	kind := "p2pkh"
	if r.Mode.XPoint() {
		kind = "xpoint"
	}
	_, err := fmt.Fprintf(w, `PubAddress: %s
Priv (WIF): %s:%s
Priv (HEX): 0x%s
PubK (HEX): %s
Found:      %s
=================================================================================
`, r.Address, kind, r.WIF, r.PrivateKey, r.PublicKey, time.Now().Format("2006-01-02 15:04:05"))
	return err
}
