// Command pandatest validates an FPGA signal-generation instrument by
// streaming table data over its control protocol and verifying the capture
// stream reproduces the expected values in order.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pandatools/go-pandatest/metrics"
	"github.com/pandatools/go-pandatest/pipeline"
)

var (
	cfgPath     string
	logLevel    string
	metricsAddr string

	rootCmd = &cobra.Command{
		Use:           "pandatest",
		Short:         "Hardware validation harness for PandA-style instruments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log := newLogger()
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "optional TOML run configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address")
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

// runContext returns a context cancelled on SIGINT/SIGTERM.
func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runPipeline wires logging and metrics around one scenario run.
func runPipeline(opts pipeline.Options, scenario func(*pipeline.Runner, context.Context) error) error {
	log := newLogger()
	if cfgPath != "" {
		if err := applyFileConfig(cfgPath, &opts, &metricsAddr); err != nil {
			return err
		}
	}

	ctx, cancel := runContext()
	defer cancel()

	var run *metrics.Run
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		run = metrics.NewRun(reg)
		go func() {
			if err := metrics.Serve(ctx, metricsAddr, reg, log); err != nil {
				log.Warn().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	runner := pipeline.New(opts, run, log)
	err := scenario(runner, ctx)
	var verr *pipeline.VerificationError
	if errors.As(err, &verr) {
		log.Error().
			Int64("checked", verr.Checked).
			Int64("expected", verr.Expected).
			Msg("verification counts")
	}
	return err
}

// validateRun enforces the flag constraints shared by both scenarios.
func validateRun(repeats, nblocks int) error {
	if nblocks < 1 {
		return fmt.Errorf("nblocks must be greater than 0")
	}
	if repeats != 1 && nblocks != 1 {
		return fmt.Errorf("repeats and nblocks cannot be used together")
	}
	return nil
}
