// Package inject streams table blocks through the control channel while
// respecting the device's queue capacity.
//
// Flow control is a level-triggered, poll-based credit scheme: after each
// streaming block the injector polls the table's QUEUED_LINES field at a
// fixed interval and injects the next block only once the depth falls to or
// below a configured multiple of the per-block line count. The device is
// assumed to drain monotonically; there is no protocol-level credit or
// acknowledgment beyond the polled metric.
package inject

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pandatools/go-pandatest/control"
	"github.com/pandatools/go-pandatest/fieldpath"
	"github.com/pandatools/go-pandatest/metrics"
	"github.com/pandatools/go-pandatest/table"
)

const (
	// DefaultPollInterval is the backpressure polling period.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultMaxBlocksQueued is the default queue-depth threshold in
	// units of blocks.
	DefaultMaxBlocksQueued = 7
)

// Config shapes one streaming injection session.
type Config struct {
	// Table is the table field written by the session, e.g. SEQ1.TABLE.
	Table fieldpath.Path
	// LinesPerBlock is the logical line count of each block.
	LinesPerBlock int
	// MaxBlocksQueued bounds the device queue: the next block is sent only
	// once QUEUED_LINES <= MaxBlocksQueued*LinesPerBlock.
	MaxBlocksQueued int
	// PollInterval is the backpressure polling period.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBlocksQueued <= 0 {
		c.MaxBlocksQueued = DefaultMaxBlocksQueued
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Injector pushes blocks of one upload session in order. It owns neither
// the client nor the block sequence; the pipeline feeds it.
type Injector struct {
	client *control.Client
	cfg    Config
	depth  fieldpath.Path
	log    zerolog.Logger
	run    *metrics.Run
}

// New builds an injector over an established control client. run may be nil.
func New(client *control.Client, cfg Config, run *metrics.Run, log zerolog.Logger) *Injector {
	cfg = cfg.withDefaults()
	return &Injector{
		client: client,
		cfg:    cfg,
		depth:  cfg.Table.Child("QUEUED_LINES"),
		log:    log,
		run:    run,
	}
}

// ModeFor returns the table-write mode for block i of n. A one-block
// session is a plain non-streaming replace.
func ModeFor(i, n int) table.Mode {
	switch {
	case n <= 1:
		return table.Single
	case i == 0:
		return table.StreamFirst
	case i == n-1:
		return table.StreamLast
	default:
		return table.StreamContinue
	}
}

// Inject uploads block i of n and, for streaming blocks with a successor,
// waits for the device queue to drain below the threshold. A non-OK
// acknowledgment aborts the session.
func (inj *Injector) Inject(ctx context.Context, words []uint32, i, n int) error {
	mode := ModeFor(i, n)
	start := time.Now()
	if err := inj.client.PutTable(inj.cfg.Table, words, mode); err != nil {
		return fmt.Errorf("inject block %d: %w", i, err)
	}
	inj.log.Info().
		Int("block", i).
		Stringer("mode", mode).
		Int("words", len(words)).
		Dur("send", time.Since(start)).
		Msg("table block injected")
	if inj.run != nil {
		inj.run.BlocksInjected.Inc()
	}

	// A single-block upload and the final streaming block gate nothing.
	if !mode.Streaming() || i == n-1 {
		return nil
	}
	return inj.waitForRoom(ctx)
}

// waitForRoom polls the queue depth until it is at or below the configured
// threshold. The poll blocks indefinitely if the device never drains; only
// ctx cancellation breaks the wait.
func (inj *Injector) waitForRoom(ctx context.Context) error {
	threshold := int64(inj.cfg.MaxBlocksQueued) * int64(inj.cfg.LinesPerBlock)
	start := time.Now()
	defer func() {
		if inj.run != nil {
			inj.run.BackpressureNs.Add(float64(time.Since(start).Nanoseconds()))
		}
	}()

	for {
		queued, err := inj.client.GetInt(inj.depth)
		if err != nil {
			return fmt.Errorf("poll queue depth: %w", err)
		}
		if inj.run != nil {
			inj.run.QueueDepth.Set(float64(queued))
		}
		if queued <= threshold {
			inj.log.Debug().
				Int64("queued", queued).
				Int64("threshold", threshold).
				Msg("queue drained below threshold")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(inj.cfg.PollInterval):
		}
	}
}
