package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/pandatools/go-pandatest/pipeline"
)

// fileConfig is the optional TOML run configuration. Values set here are
// overridden by command-line flags.
type fileConfig struct {
	ControlPort     int     `toml:"control_port"`
	CapturePort     int     `toml:"capture_port"`
	MetricsAddr     string  `toml:"metrics_addr"`
	LinesPerBlock   int     `toml:"lines_per_block"`
	ClockPeriodUS   float64 `toml:"clock_period_us"`
	FPGAFreq        int64   `toml:"fpga_freq"`
	MaxBlocksQueued int     `toml:"max_blocks_queued"`
	QueueCapacity   int     `toml:"queue_capacity"`
	PollInterval    string  `toml:"poll_interval"`
}

// applyFileConfig merges a TOML file into opts, touching only keys the file
// actually defines.
func applyFileConfig(path string, opts *pipeline.Options, metricsAddr *string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load run config: %w", err)
	}

	if meta.IsDefined("control_port") {
		opts.ControlPort = raw.ControlPort
	}
	if meta.IsDefined("capture_port") {
		opts.CapturePort = raw.CapturePort
	}
	if meta.IsDefined("metrics_addr") {
		*metricsAddr = raw.MetricsAddr
	}
	if meta.IsDefined("lines_per_block") {
		opts.LinesPerBlock = raw.LinesPerBlock
	}
	if meta.IsDefined("clock_period_us") {
		opts.ClockPeriodUS = raw.ClockPeriodUS
	}
	if meta.IsDefined("fpga_freq") {
		opts.FPGAFreq = raw.FPGAFreq
	}
	if meta.IsDefined("max_blocks_queued") {
		opts.MaxBlocksQueued = raw.MaxBlocksQueued
	}
	if meta.IsDefined("queue_capacity") {
		opts.QueueCapacity = raw.QueueCapacity
	}
	if meta.IsDefined("poll_interval") {
		d, err := time.ParseDuration(raw.PollInterval)
		if err != nil {
			return fmt.Errorf("parse poll_interval: %w", err)
		}
		opts.PollInterval = d
	}
	return nil
}
