// Command ixbrlload loads a Companies House bulk accounts ZIP into a
// SQLite database of normalized, deduplicated financial facts.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/ch-ixbrl/ingest/cache"
	"github.com/ch-ixbrl/ingest/config"
	"github.com/ch-ixbrl/ingest/orchestrator"
	"github.com/ch-ixbrl/ingest/store"
	"github.com/ch-ixbrl/ingest/version"
)

func main() {
	var (
		configFile = kingpin.Flag(
			"config",
			"Config file for ixbrlload.",
		).Default("ixbrlload.yaml").Short('c').String()
		archivePath = kingpin.Arg(
			"archive",
			"Companies House bulk accounts ZIP to load.",
		).Required().String()
		databasePath = kingpin.Flag(
			"database",
			"SQLite database path (overrides config).",
		).Short('d').String()
		sequential = kingpin.Flag(
			"sequential",
			"Disable the parse worker pool and process entries one at a time.",
		).Bool()
		debug = kingpin.Flag(
			"debug",
			"Enable debug-level logging.",
		).Bool()
		cpuProfile = kingpin.Flag(
			"profile",
			"Write a CPU profile for the duration of the load.",
		).Bool()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.String()).Author("ch-ixbrl")
	kingpin.CommandLine.Help = "Loads Companies House bulk iXBRL accounts ZIPs into a normalized SQLite store.\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug {
		logger.Level = logrus.DebugLevel
	}

	if *cpuProfile {
		defer profile.Start(profile.CPUProfile).Stop()
	}

	cfg, err := loadConfig(*configFile, logger)
	if err != nil {
		logger.Errorf("error loading config: %v", err)
		os.Exit(1)
	}
	if *databasePath != "" {
		cfg.DatabasePath = *databasePath
	}

	st, err := store.Open(cfg.DatabasePath, logger)
	if err != nil {
		logger.Errorf("error opening database: %v", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.Warn("interrupt received, finishing current chunk then stopping")
		cancel()
		<-sigCh // a second interrupt aborts immediately, unclean
		logger.Warn("second interrupt received, aborting immediately")
		os.Exit(2)
	}()

	resCache, err := cache.Load(ctx, st.DB(), logger)
	if err != nil {
		logger.Errorf("error loading resolution cache: %v", err)
		os.Exit(1)
	}

	orch := orchestrator.New(cfg, st, resCache, logger)

	var result *orchestrator.BatchResult
	if *sequential {
		result, err = orch.RunSequential(ctx, *archivePath)
	} else {
		result, err = orch.RunParallel(ctx, *archivePath)
	}
	if err != nil {
		logger.Errorf("batch load failed: %v", err)
		os.Exit(1)
	}

	logger.Infof("batch %d: %s", result.BatchID, result.Filename)
	logger.Infof("files total=%d processed=%d skipped=%d failed=%d",
		result.FilesTotal, result.FilesProcessed, result.FilesSkipped, result.FilesFailed)

	if result.Interrupted {
		os.Exit(2)
	}
	if result.FilesFailed > 0 {
		for _, e := range result.Errors {
			logger.Warnf("  %s", e)
		}
		os.Exit(1)
	}
}

func loadConfig(path string, logger *logrus.Logger) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		logger.Debugf("no config file at %s, using defaults", path)
		return config.Default("ixbrl.db"), nil
	}
	return config.LoadConfigFile(path)
}
