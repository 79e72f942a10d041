// Package cli holds the option parsing and process setup shared by the
// orchagent and syncd binaries.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/soniclab/swsslite/internal/log"
)

// Options holds the configuration common to both agents.
type Options struct {
	StoreDSN     string `short:"s" env:"SWSS_STORE_DSN" long:"store-dsn" description:"etcd connection string, e.g. etcd://localhost:2379/swss" default:"etcd://localhost:2379/swss"`
	LogLevel     string `short:"l" env:"SWSS_LOG_LEVEL" long:"log-level" description:"Log level: debug|info|warn|error" default:"info"`
	LogFile      string `short:"d" env:"SWSS_LOG_FILE" long:"log-file" description:"Append logs to this file instead of standard output"`
	PlatformFile string `env:"SWSS_PLATFORM_FILE" long:"platform" description:"YAML file overriding the built-in platform defaults"`
	MetricsAddr  string `env:"SWSS_METRICS_ADDR" long:"metrics-addr" description:"Serve Prometheus metrics and health on this address (disabled when empty)"`
	Version      bool   `short:"v" long:"version" description:"Show version information"`
	Help         bool
}

// Parse parses command-line arguments and returns the configuration.
func Parse(args []string) (opts *Options, err error) {
	opts = new(Options)
	parser := flags.NewParser(opts, flags.HelpFlag)
	parser.SubcommandsOptional = true
	nonParsedArgs, err := parser.ParseArgs(args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			opts.Help = true
		}
		if !flags.WroteHelp(err) {
			parser.WriteHelp(os.Stdout)
		}
		return opts, err
	}
	if len(nonParsedArgs) > 0 { // we don't expect any non-parsed arguments
		return opts, fmt.Errorf("unknown argument(s): %v", nonParsedArgs)
	}
	return
}

// SetupLogging configures logrus with the shared formatter, the requested
// level, and an optional log-file destination.
func SetupLogging(agent string, opts *Options) error {
	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(log.NewFormatter(false))

	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logrus.SetOutput(f)
	}

	logrus.WithFields(logrus.Fields{
		"agent": agent,
		"pid":   os.Getpid(),
	}).Info("Logging initialized")

	return nil
}

// SetupCloseHandler creates a 'listener' on a new goroutine which will
// notify the program if it receives an interrupt from the OS. We then
// handle this by calling our clean up procedure and exiting the program.
func SetupCloseHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logrus.Debug("SetupCloseHandler received an interrupt from OS. Closing session...")
		cancel()
	}()
}
