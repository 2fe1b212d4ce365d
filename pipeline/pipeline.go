package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pandatools/go-pandatest/control"
	"github.com/pandatools/go-pandatest/fieldpath"
	"github.com/pandatools/go-pandatest/inject"
	"github.com/pandatools/go-pandatest/metrics"
)

// Defaults for run options.
const (
	DefaultLinesPerBlock   = 16384
	DefaultClockPeriodUS   = 0.4
	DefaultFPGAFreq        = 125_000_000
	DefaultQueueCapacity   = 16
	DefaultCheckerWorkers  = 1
	DefaultProducerWorkers = 1
)

// Options configures one validation run. The caller validates mutual
// exclusions (repeats vs nblocks) before handing them to the runner.
type Options struct {
	Host        string
	ControlPort int
	CapturePort int

	Repeats       int
	LinesPerBlock int
	NBlocks       int
	ClockPeriodUS float64
	FPGAFreq      int64

	// Seq-scenario knobs.
	MaxBlocksQueued int
	CheckerWorkers  int
	ProducerWorkers int

	// Pgen-scenario knobs.
	StartNumber uint32

	QueueCapacity int
	PollInterval  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Repeats <= 0 {
		o.Repeats = 1
	}
	if o.LinesPerBlock <= 0 {
		o.LinesPerBlock = DefaultLinesPerBlock
	}
	if o.NBlocks <= 0 {
		o.NBlocks = 1
	}
	if o.ClockPeriodUS <= 0 {
		o.ClockPeriodUS = DefaultClockPeriodUS
	}
	if o.FPGAFreq <= 0 {
		o.FPGAFreq = DefaultFPGAFreq
	}
	if o.MaxBlocksQueued <= 0 {
		o.MaxBlocksQueued = inject.DefaultMaxBlocksQueued
	}
	if o.CheckerWorkers <= 0 {
		o.CheckerWorkers = DefaultCheckerWorkers
	}
	if o.ProducerWorkers <= 0 {
		o.ProducerWorkers = DefaultProducerWorkers
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	return o
}

// ClockTicks converts the requested clock period to whole FPGA ticks.
func (o Options) ClockTicks() int64 {
	return int64(math.Floor(o.ClockPeriodUS * 1e-6 * float64(o.FPGAFreq)))
}

// TotalLines is the exact number of values the checker must consume.
func (o Options) TotalLines() int64 {
	return int64(o.LinesPerBlock) * int64(o.NBlocks) * int64(o.Repeats)
}

func (o Options) controlConfig() control.Config {
	return control.Config{Host: o.Host, Port: o.ControlPort}
}

// VerificationError reports a captured sequence diverging from the expected
// sequence, either a value mismatch at a specific line or a total count
// mismatch. Checked carries the progress count for diagnosis in both cases.
type VerificationError struct {
	Line     int64 // global line index of the mismatch; -1 for count errors
	Want     uint32
	Got      uint32
	Checked  int64
	Expected int64 // expected total, set for count errors
}

func (e *VerificationError) Error() string {
	if e.Line < 0 {
		return fmt.Sprintf("verification failed: expected %d values, got %d",
			e.Expected, e.Checked)
	}
	return fmt.Sprintf("verification failed at line %d: expected %d, got %d (checked %d)",
		e.Line, e.Want, e.Got, e.Checked)
}

// gate is a one-shot signal used to arm the device enable only once the
// first block is queued device-side.
type gate struct {
	once sync.Once
	ch   chan struct{}
}

func newGate() *gate { return &gate{ch: make(chan struct{})} }

func (g *gate) signal() { g.once.Do(func() { close(g.ch) }) }

func (g *gate) wait(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Runner drives validation runs against one instrument.
type Runner struct {
	opts Options
	run  *metrics.Run
	log  zerolog.Logger
}

// New builds a runner. run may be nil to skip metrics.
func New(opts Options, run *metrics.Run, log zerolog.Logger) *Runner {
	return &Runner{
		opts: opts.withDefaults(),
		run:  run,
		log:  log.With().Str("run", uuid.NewString()[:8]).Logger(),
	}
}

// closeOnCancel force-closes c when ctx is cancelled so that a stage
// blocked in a socket read observes the failure of a sibling stage. The
// returned stop func detaches the watcher on normal completion.
func closeOnCancel(ctx context.Context, c interface{ Close() error }) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// waitInactive polls the block's ACTIVE field until the device reports the
// run fully drained.
func waitInactive(ctx context.Context, client *control.Client, active fieldpath.Path) error {
	for {
		v, err := client.GetInt(active)
		if err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}
