// Package main is the CLI entry point for logwarden.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/iyulab/logwarden/internal/config"
	"github.com/iyulab/logwarden/internal/logging"
	"github.com/iyulab/logwarden/internal/model"
	"github.com/iyulab/logwarden/internal/orchestrator"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// exitThreats is the exit code when --fail-on is reached.
const exitThreats = 3

var errThreatsFound = errors.New("threats at or above the --fail-on level")

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errThreatsFound) {
			os.Exit(exitThreats)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "logwarden [files...]",
		Short: "Threat detection and correlation for free-text security logs",
		Long: `logwarden scans log files for attack patterns, scores each hit with
per-source behavior analysis, correlates related threats and writes a
report plus an ML-ready feature table.

Files may be .log, .txt, .json, .ndjson, .csv, optionally .gz or .zst
compressed. Use "-" to read standard input.`,
		Args:          cobra.MinimumNArgs(1),
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "config.toml", "path to config file (optional)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.Flags().StringP("output", "o", "", "output base directory (overrides output.dir)")
	rootCmd.Flags().StringSliceP("format", "f", nil, "output formats: json, html, csv (overrides output.formats)")
	rootCmd.Flags().Bool("replay", false, "judge behavior against log time even when tracker.clock = \"wall\"")
	rootCmd.Flags().Bool("no-sigma", false, "disable Sigma rule detection")
	rootCmd.Flags().Bool("publish", false, "publish threats to NATS even when nats.enabled is false")
	rootCmd.Flags().String("fail-on", "", "exit with status 3 when a threat reaches this level (LOW, MEDIUM, HIGH, CRITICAL)")
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	rootCmd.AddCommand(newServeCmd(), newPatternsCmd())
	return rootCmd
}

// setup loads the config and installs the process logger.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	// An explicit --config must exist; the default path is optional.
	load := config.LoadOrDefault
	if cmd.Flags().Changed("config") {
		load = config.Load
	}
	cfg, err := load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	if verbose {
		level = slog.LevelDebug
	}
	return cfg, logging.Init(cfg.Logging.Format, level), nil
}

func run(cmd *cobra.Command, args []string) error {
	outputDir, _ := cmd.Flags().GetString("output")
	formats, _ := cmd.Flags().GetStringSlice("format")
	replay, _ := cmd.Flags().GetBool("replay")
	noSigma, _ := cmd.Flags().GetBool("no-sigma")
	publish, _ := cmd.Flags().GetBool("publish")
	verbose, _ := cmd.Flags().GetBool("verbose")
	failOn, _ := cmd.Flags().GetString("fail-on")

	// Validate flags before doing any work
	var failLevel model.ThreatLevel
	if failOn != "" {
		var err error
		if failLevel, err = model.ParseThreatLevel(failOn); err != nil {
			return fmt.Errorf("--fail-on: %w", err)
		}
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	orch := orchestrator.New(cfg, orchestrator.Options{
		Inputs:    args,
		OutputDir: outputDir,
		Formats:   formats,
		Replay:    replay,
		NoSigma:   noSigma,
		Publish:   publish,
		Verbose:   verbose,
		Version:   fmt.Sprintf("%s (%s)", version, commit),
		Stdin:     cmd.InOrStdin(),
		Stdout:    cmd.OutOrStdout(),
		Stderr:    cmd.ErrOrStderr(),
	}, logger)

	res, err := orch.Run(cmd.Context())
	if err != nil {
		return err
	}

	if failLevel != "" && !res.Report.Clean() {
		for _, t := range res.Report.Threats {
			if t.ThreatLevel.Rank() >= failLevel.Rank() {
				return errThreatsFound
			}
		}
	}
	return nil
}
