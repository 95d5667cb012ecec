// Command scw runs single-cell batch-correction workflows: it fetches the
// datasets of a manifest, executes the registered workflows stage by stage
// with per-run memoization, and manages the resulting workspace of reports,
// artifacts and datastore records.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/crossbatch/scrna-integration-framework/engine/scw/config"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// The config path and log level must be known before the command tree is
	// built, so they are scanned ahead of cobra's own parse.
	flags := pflag.NewFlagSet("scw", pflag.ContinueOnError)
	flags.ParseErrorsWhitelist.UnknownFlags = true
	flags.Usage = func() {}
	cfgPath := flags.String("config", "scw.yaml", "")
	logLevel := flags.String("log-level", "", "")
	if err := flags.Parse(args); err != nil && err != pflag.ErrHelp {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	lvl, err := cfg.ZapLevel()
	if err != nil {
		return err
	}
	lggr, err := (&logger.Config{Level: lvl}).New()
	if err != nil {
		return err
	}
	defer func() { _ = lggr.Sync() }()

	root, err := newRootCmd(cfg, lggr)
	if err != nil {
		return err
	}
	root.SetArgs(args)

	return root.Execute()
}
