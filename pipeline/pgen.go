package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pandatools/go-pandatest/capture"
	"github.com/pandatools/go-pandatest/control"
	"github.com/pandatools/go-pandatest/fieldpath"
	"github.com/pandatools/go-pandatest/inject"
	"github.com/pandatools/go-pandatest/table"
)

// pgenProgressPeriod throttles checker progress logging.
const pgenProgressPeriod = 3 * time.Second

// RunPgen executes the position-generator scenario: consecutive 32-bit
// counter values are streamed through a PGEN table and the capture stream
// must reproduce them exactly. The block sequence is deterministic, so
// injector and checker derive the same expectations independently from the
// running line index; no expected-value queue is needed.
func (r *Runner) RunPgen(ctx context.Context) error {
	opts := r.opts
	bw := 4 / (opts.ClockPeriodUS * 1e-6) / (1024 * 1024)
	r.log.Info().
		Int("lines_per_block", opts.LinesPerBlock).
		Int("nblocks", opts.NBlocks).
		Int64("total_lines", opts.TotalLines()).
		Float64("clock_period_us", opts.ClockPeriodUS).
		Float64("bandwidth_mib_s", bw).
		Float64("total_mib", float64(opts.LinesPerBlock)*float64(opts.NBlocks)*4/(1024*1024)).
		Msg("pgen run")

	client, err := control.Connect(opts.controlConfig(), r.log)
	if err != nil {
		return err
	}
	defer client.Close()

	pgenName := client.FirstInstance("PGEN")
	clockName := client.FirstInstance("CLOCK")
	if pgenName == "" || clockName == "" {
		return fmt.Errorf("device has no PGEN/CLOCK instances (got %q, %q)", pgenName, clockName)
	}
	pgen := fieldpath.New(pgenName)
	if err := configurePgenLayout(client, pgenName, clockName); err != nil {
		return fmt.Errorf("configure layout: %w", err)
	}

	captureCh := make(chan []byte, opts.QueueCapacity)
	firstBlock := newGate()
	g, gctx := errgroup.WithContext(ctx)

	r.startPgenInjector(gctx, g, pgenName, clockName, firstBlock)
	r.startPgenCapture(gctx, g, pgenName, captureCh)
	r.startPgenChecker(gctx, g, captureCh)

	if err := firstBlock.wait(gctx); err == nil {
		if err := client.Put(pgen.Child("ENABLE"), "ZERO"); err != nil {
			return err
		}
		r.log.Info().Msg("enabling PGEN")
		if err := client.Put(pgen.Child("ENABLE"), "ONE"); err != nil {
			return err
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := waitInactive(ctx, client, pgen.Child("ACTIVE")); err != nil {
		return err
	}
	out, err := client.Get(pgen.Child("OUT"))
	if err != nil {
		return err
	}
	r.log.Info().Interface("out", out).Msg("final PGEN OUT value")
	return nil
}

// startPgenInjector generates and uploads the counter blocks on its own
// control connection, under queue-depth backpressure.
func (r *Runner) startPgenInjector(ctx context.Context, g *errgroup.Group,
	pgenName, clockName string, firstBlock *gate) {

	opts := r.opts
	g.Go(func() error {
		log := r.log.With().Str("stage", "injector").Logger()
		client, err := control.Connect(opts.controlConfig(), log)
		if err != nil {
			return err
		}
		defer client.Close()
		stop := closeOnCancel(ctx, client)
		defer stop()

		pgen := fieldpath.New(pgenName)
		if err := client.Put(pgen.Child("REPEATS"), strconv.Itoa(opts.Repeats)); err != nil {
			return err
		}
		clockPeriod := fieldpath.New(clockName, "PERIOD", "RAW")
		if err := client.Put(clockPeriod, strconv.FormatInt(opts.ClockTicks(), 10)); err != nil {
			return err
		}

		inj := inject.New(client, inject.Config{
			Table:           pgen.Child("TABLE"),
			LinesPerBlock:   opts.LinesPerBlock,
			MaxBlocksQueued: opts.MaxBlocksQueued,
			PollInterval:    opts.PollInterval,
		}, r.run, log)

		start := opts.StartNumber
		for i := 0; i < opts.NBlocks; i++ {
			block := newCounterBlock(i, opts.LinesPerBlock, start)
			log.Debug().Int("block", i).
				Uint32("from", start).
				Uint32("to", start+uint32(opts.LinesPerBlock)-1).
				Msg("pushing table")
			start += uint32(opts.LinesPerBlock)
			if err := inj.Inject(ctx, block.Words, i, opts.NBlocks); err != nil {
				return err
			}
			firstBlock.signal()
			if r.run != nil {
				r.run.BlocksProduced.Inc()
			}
		}
		return nil
	})
}

// startPgenCapture enables capture of the generator output, arms the
// acquisition and forwards word-aligned buffers until the device closes
// the stream.
func (r *Runner) startPgenCapture(ctx context.Context, g *errgroup.Group,
	pgenName string, captureCh chan<- []byte) {

	opts := r.opts
	g.Go(func() error {
		log := r.log.With().Str("stage", "capture").Logger()
		client, err := control.Connect(opts.controlConfig(), log)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.DisableCaptures(); err != nil {
			return err
		}
		if err := client.Put(fieldpath.New(pgenName, "OUT", "CAPTURE"), "Value"); err != nil {
			return err
		}
		if err := client.Arm(); err != nil {
			return err
		}

		reader, err := capture.Open(capture.Config{
			Host: opts.Host,
			Port: opts.CapturePort,
		}, log)
		if err != nil {
			return err
		}
		defer reader.Close()
		stop := closeOnCancel(ctx, reader)
		defer stop()

		defer close(captureCh)
		for {
			data, err := reader.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if r.run != nil {
				r.run.CaptureBytes.Add(float64(len(data)))
			}
			select {
			case captureCh <- data:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

// startPgenChecker verifies the captured counter sequence in arrival order.
// Expectations are derived from the running line index: with repeats the
// single block replays, so the line index folds modulo the per-block line
// count before the start number is applied; otherwise values continue from
// the start number and wrap at 2^32.
func (r *Runner) startPgenChecker(ctx context.Context, g *errgroup.Group,
	captureCh <-chan []byte) {

	opts := r.opts
	g.Go(func() error {
		log := r.log.With().Str("stage", "checker").Logger()
		var checked int64
		lastProgress := time.Now()
		for {
			var data []byte
			var ok bool
			select {
			case data, ok = <-captureCh:
			case <-ctx.Done():
				return ctx.Err()
			}
			if !ok {
				break
			}
			words, err := table.Unmarshal(data)
			if err != nil {
				return err
			}
			for j, got := range words {
				line := checked + int64(j)
				var want uint32
				if opts.Repeats > 1 {
					want = opts.StartNumber + uint32(line%int64(opts.LinesPerBlock))
				} else {
					want = opts.StartNumber + uint32(line)
				}
				if got != want {
					return &VerificationError{Line: line, Want: want, Got: got, Checked: checked + int64(j)}
				}
			}
			checked += int64(len(words))
			if r.run != nil {
				r.run.ValuesChecked.Add(float64(len(words)))
			}
			if time.Since(lastProgress) > pgenProgressPeriod {
				lastProgress = time.Now()
				log.Info().Int64("checked", checked).
					Uint32("last", words[len(words)-1]).
					Msg("progress")
			}
		}

		log.Info().Int64("checked", checked).Msg("capture stream closed")
		if want := opts.TotalLines(); checked != want {
			return &VerificationError{Line: -1, Checked: checked, Expected: want}
		}
		return nil
	})
}

// configurePgenLayout wires the position generator to a clock block and
// points the capture engine at the generator's activity window.
func configurePgenLayout(client *control.Client, pgenName, clockName string) error {
	pgen := fieldpath.New(pgenName)
	clock := fieldpath.New(clockName)
	steps := []struct {
		path  fieldpath.Path
		value string
	}{
		{pgen.Child("ENABLE"), "ZERO"},
		{fieldpath.New(pgenName, "OUT", "UNITS"), ""},
		{fieldpath.New(pgenName, "OUT", "OFFSET"), "0"},
		{fieldpath.New(pgenName, "OUT", "SCALE"), "1"},
		{fieldpath.New(pgenName, "ENABLE", "DELAY"), "0"},
		{fieldpath.New(pgenName, "TRIG", "DELAY"), "0"},
		{pgen.Child("REPEATS"), "1"},
		{pgen.Child("TRIG"), clockName + ".OUT"},
	}
	for _, s := range steps {
		if err := client.Put(s.path, s.value); err != nil {
			return err
		}
	}
	if err := client.PutTable(pgen.Child("TABLE"), nil, table.Single); err != nil {
		return err
	}
	steps = []struct {
		path  fieldpath.Path
		value string
	}{
		{clock.Child("ENABLE"), pgenName + ".ACTIVE"},
		{fieldpath.New(clockName, "ENABLE", "DELAY"), "0"},
		{fieldpath.New(clockName, "PERIOD", "UNITS"), "s"},
		{fieldpath.New(clockName, "WIDTH", "UNITS"), "s"},
		{clock.Child("PERIOD"), "1"},
		{clock.Child("WIDTH"), "0"},
		{fieldpath.New("PCAP", "ENABLE"), pgenName + ".ACTIVE"},
		{fieldpath.New("PCAP", "ENABLE", "DELAY"), "10"},
		{fieldpath.New("PCAP", "TRIG"), clockName + ".OUT"},
		{fieldpath.New("PCAP", "TRIG", "DELAY"), "1"},
		{fieldpath.New("PCAP", "TRIG_EDGE"), "Rising"},
		{fieldpath.New("PCAP", "GATE"), "ONE"},
		{fieldpath.New("PCAP", "GATE", "DELAY"), "0"},
		{fieldpath.New("PCAP", "SHIFT_SUM"), "0"},
		{fieldpath.New("PCAP", "TS_TRIG", "CAPTURE"), "No"},
		{fieldpath.New(pgenName, "OUT", "CAPTURE"), "Value"},
	}
	for _, s := range steps {
		if err := client.Put(s.path, s.value); err != nil {
			return err
		}
	}
	return nil
}
