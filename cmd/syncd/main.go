// Package main implements the syncd binary: the sync daemon that realizes
// application database entries as simulated SAI objects.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/soniclab/swsslite/internal/cli"
	"github.com/soniclab/swsslite/internal/metrics"
	"github.com/soniclab/swsslite/internal/platform"
	"github.com/soniclab/swsslite/internal/store"
	"github.com/soniclab/swsslite/internal/syncd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ShowVersion prints version information and exits
func ShowVersion() {
	fmt.Printf("syncd version %s\n", version)
	if commit != "none" && commit != "" {
		fmt.Printf("commit: %s\n", commit)
	}
	if date != "unknown" && date != "" {
		fmt.Printf("built: %s\n", date)
	}
}

func main() {
	// Quick check for version flags before full parsing
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			ShowVersion()
			os.Exit(0)
		}
	}

	opts, err := cli.Parse(os.Args[1:])
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}

	if err := cli.SetupLogging("syncd", opts); err != nil {
		logrus.WithError(err).Fatal("Failed to setup logging")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cli.SetupCloseHandler(cancel)

	defaults, err := platform.Load(opts.PlatformFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load platform defaults")
	}

	// Connect to the store backend with retry logic; an unreachable
	// backend at startup is fatal.
	client, err := store.OpenWithRetry(ctx, opts.StoreDSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to store backend after retries")
	}
	defer client.Close()

	if opts.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, opts.MetricsAddr); err != nil {
				logrus.WithError(err).Error("Metrics listener failed")
			}
		}()
	}

	daemon := syncd.New(
		client.Store(store.ApplDB),
		client.Store(store.AsicDB),
		client.Store(store.CountersDB),
		defaults,
	)
	if err := daemon.Run(ctx); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Fatal("Sync daemon failed")
	}

	logrus.Info("Graceful shutdown completed")
}
