package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/Amr-9/KeyHunter/pkg/bloom"
	"github.com/Amr-9/KeyHunter/pkg/device"
	"github.com/Amr-9/KeyHunter/pkg/engine"
	"github.com/Amr-9/KeyHunter/pkg/search"
	"github.com/Amr-9/KeyHunter/pkg/secp"
	"github.com/Amr-9/KeyHunter/pkg/targets"
)

// logWriter implements an io.Writer that outputs to both standard error and
// the log rotator, once it is initialized.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stderr.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem. A single backend logger is created and all subsystem
// loggers created from it write to the backend.
var (
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs. It is nil until
	// initLogRotator is called.
	logRotator *rotator.Rotator

	log     = backendLog.Logger("KHNT")
	blomLog = backendLog.Logger("BLOM")
	devcLog = backendLog.Logger("DEVC")
	engnLog = backendLog.Logger("ENGN")
	srchLog = backendLog.Logger("SRCH")
	secpLog = backendLog.Logger("SECP")
	trgtLog = backendLog.Logger("TRGT")
)

func init() {
	bloom.UseLogger(blomLog)
	device.UseLogger(devcLog)
	engine.UseLogger(engnLog)
	search.UseLogger(srchLog)
	secp.UseLogger(secpLog)
	targets.UseLogger(trgtLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"KHNT": log,
	"BLOM": blomLog,
	"DEVC": devcLog,
	"ENGN": engnLog,
	"SRCH": srchLog,
	"SECP": secpLog,
	"TRGT": trgtLog,
}

// initLogRotator initializes the logging rotater to write logs to logFile and
// create roll files in the same directory. It must be called before the
// package-global log rotater variables are used.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	logRotator = r
	return nil
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level. It also dynamically creates the subsystem loggers as needed, so it
// can be used to initialize the logging system.
func setLogLevels(logLevel string) error {
	level, ok := btclog.LevelFromString(logLevel)
	if !ok {
		return fmt.Errorf("invalid log level %q", logLevel)
	}
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
	return nil
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}
