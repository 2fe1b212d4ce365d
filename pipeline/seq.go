package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pandatools/go-pandatest/capture"
	"github.com/pandatools/go-pandatest/control"
	"github.com/pandatools/go-pandatest/fieldpath"
	"github.com/pandatools/go-pandatest/inject"
	"github.com/pandatools/go-pandatest/table"
)

// capturedBlock is one reassembled capture buffer tagged with its arrival
// order.
type capturedBlock struct {
	index int
	data  []byte
}

// RunSeq executes the sequencer stress scenario: random 6-bit values are
// driven through a SEQ table and read back from the captured BITS word.
// Producer, injector, capture reader and checker workers run concurrently;
// any stage failure aborts the run.
func (r *Runner) RunSeq(ctx context.Context) error {
	opts := r.opts
	bw := 16 * 1e6 / (opts.ClockPeriodUS * 1024 * 1024)
	r.log.Info().
		Int("lines_per_block", opts.LinesPerBlock).
		Int("nblocks", opts.NBlocks).
		Int64("total_lines", opts.TotalLines()).
		Float64("clock_period_us", opts.ClockPeriodUS).
		Float64("bandwidth_mib_s", bw).
		Float64("total_mib", float64(opts.LinesPerBlock)*float64(opts.NBlocks)*16/(1024*1024)).
		Msg("seq run")

	client, err := control.Connect(opts.controlConfig(), r.log)
	if err != nil {
		return err
	}
	defer client.Close()

	seqName := client.FirstInstance("SEQ")
	clockName := client.FirstInstance("CLOCK")
	if seqName == "" || clockName == "" {
		return fmt.Errorf("device has no SEQ/CLOCK instances (got %q, %q)", seqName, clockName)
	}
	seq := fieldpath.New(seqName)
	if err := configureSeqLayout(client, seqName, clockName); err != nil {
		return fmt.Errorf("configure layout: %w", err)
	}
	wordNum, offsets, err := seqOffsets(client, seqName)
	if err != nil {
		return err
	}
	r.log.Info().Ints64("offsets", offsets).Int("bits_word", wordNum).Msg("seq out bit offsets")

	blockCh := make(chan Block, opts.QueueCapacity)
	expectCh := make(chan []uint32, opts.QueueCapacity)
	captureCh := make(chan capturedBlock, opts.QueueCapacity)
	firstBlock := newGate()

	g, gctx := errgroup.WithContext(ctx)

	r.startProducers(gctx, g, blockCh)
	r.startSeqInjector(gctx, g, seqName, clockName, blockCh, expectCh, firstBlock)
	r.startSeqCapture(gctx, g, wordNum, captureCh)
	r.startCheckers(gctx, g, offsets, captureCh, expectCh)

	// Arm the sequencer only once input data exists device-side.
	if err := firstBlock.wait(gctx); err == nil {
		if err := client.Put(seq.Child("ENABLE"), "ZERO"); err != nil {
			return err
		}
		r.log.Info().Msg("enabling SEQ")
		if err := client.Put(seq.Child("ENABLE"), "ONE"); err != nil {
			return err
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return waitInactive(ctx, client, seq.Child("ACTIVE"))
}

// startProducers spawns the producer workers. Each generates an equal share
// of the blocks; blockCh closes once all shares are produced.
func (r *Runner) startProducers(ctx context.Context, g *errgroup.Group, blockCh chan<- Block) {
	opts := r.opts
	outTicks := uint32(opts.ClockTicks() / 2)
	perWorker := opts.NBlocks / opts.ProducerWorkers

	var wg sync.WaitGroup
	for w := 0; w < opts.ProducerWorkers; w++ {
		wg.Add(1)
		worker := w
		g.Go(func() error {
			defer wg.Done()
			log := r.log.With().Str("stage", "producer").Int("worker", worker).Logger()
			for i := 0; i < perWorker; i++ {
				block := newSeqBlock(worker*perWorker+i, opts.LinesPerBlock, outTicks)
				log.Debug().Int("block", block.Index).
					Uint32("start_value", block.Expected[0]).
					Msg("block produced")
				if r.run != nil {
					r.run.BlocksProduced.Inc()
				}
				select {
				case blockCh <- block:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(blockCh)
	}()
}

// startSeqInjector spawns the injector stage on its own control connection.
// It forwards each block's expected values in consumption order before
// uploading the block, so the checker sees expectations FIFO-aligned with
// the capture stream.
func (r *Runner) startSeqInjector(ctx context.Context, g *errgroup.Group,
	seqName, clockName string, blockCh <-chan Block, expectCh chan<- []uint32,
	firstBlock *gate) {

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

		seq := fieldpath.New(seqName)
		if err := client.Put(seq.Child("REPEATS"), strconv.Itoa(opts.Repeats)); err != nil {
			return err
		}
		clockPeriod := fieldpath.New(clockName, "PERIOD", "RAW")
		if err := client.Put(clockPeriod, strconv.FormatInt(opts.ClockTicks(), 10)); err != nil {
			return err
		}

		inj := inject.New(client, inject.Config{
			Table:           seq.Child("TABLE"),
			LinesPerBlock:   opts.LinesPerBlock,
			MaxBlocksQueued: opts.MaxBlocksQueued,
			PollInterval:    opts.PollInterval,
		}, r.run, log)

		// With repeats the device replays the single block, so the checker
		// needs one expectation per replay.
		expectCopies := 1
		if opts.NBlocks == 1 {
			expectCopies = opts.Repeats
		}

		defer close(expectCh)
		for i := 0; i < opts.NBlocks; i++ {
			var block Block
			var ok bool
			select {
			case block, ok = <-blockCh:
				if !ok {
					return fmt.Errorf("producer closed after %d of %d blocks", i, opts.NBlocks)
				}
			case <-ctx.Done():
				return ctx.Err()
			}
			for c := 0; c < expectCopies; c++ {
				select {
				case expectCh <- block.Expected:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err := inj.Inject(ctx, block.Words, i, opts.NBlocks); err != nil {
				return err
			}
			firstBlock.signal()
		}
		return nil
	})
}

// startSeqCapture spawns the capture-reader stage: it configures capture of
// the BITS word carrying the sequencer outputs, arms the acquisition and
// forwards block-aligned buffers until the device closes the stream. The
// consumed word count must match the run total exactly.
func (r *Runner) startSeqCapture(ctx context.Context, g *errgroup.Group,
	wordNum int, captureCh chan<- capturedBlock) {

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
		bits := fieldpath.New("PCAP", fmt.Sprintf("BITS%d", wordNum), "CAPTURE")
		if err := client.Put(bits, "Value"); err != nil {
			return err
		}
		if err := client.Arm(); err != nil {
			return err
		}

		reader, err := capture.Open(capture.Config{
			Host:       opts.Host,
			Port:       opts.CapturePort,
			BlockBytes: opts.LinesPerBlock * 4,
		}, log)
		if err != nil {
			return err
		}
		defer reader.Close()
		stop := closeOnCancel(ctx, reader)
		defer stop()

		var words int64
		nblock := 0
		defer close(captureCh)
		for {
			data, err := reader.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			log.Debug().Int("block", nblock).Int("lines", len(data)/4).Msg("captured block")
			words += int64(len(data) / 4)
			if r.run != nil {
				r.run.CaptureBytes.Add(float64(len(data)))
			}
			select {
			case captureCh <- capturedBlock{index: nblock, data: data}:
			case <-ctx.Done():
				return ctx.Err()
			}
			nblock++
		}

		log.Info().Int64("words", words).Msg("capture stream closed")
		if want := opts.TotalLines(); words != want {
			return &VerificationError{Line: -1, Checked: words, Expected: want}
		}
		return nil
	})
}

// startCheckers spawns the checker workers. A worker takes the captured
// block and its expected values as one atomic pair under the mutex, then
// verifies outside it, so several workers can decode blocks in parallel
// without breaking the pairing.
func (r *Runner) startCheckers(ctx context.Context, g *errgroup.Group,
	offsets []int64, captureCh <-chan capturedBlock, expectCh <-chan []uint32) {

	opts := r.opts
	var mu sync.Mutex
	for w := 0; w < opts.CheckerWorkers; w++ {
		worker := w
		g.Go(func() error {
			log := r.log.With().Str("stage", "checker").Int("worker", worker).Logger()
			for {
				mu.Lock()
				var cb capturedBlock
				var ok bool
				select {
				case cb, ok = <-captureCh:
				case <-ctx.Done():
					mu.Unlock()
					return ctx.Err()
				}
				if !ok {
					mu.Unlock()
					return nil
				}
				var expected []uint32
				select {
				case expected, ok = <-expectCh:
				case <-ctx.Done():
					mu.Unlock()
					return ctx.Err()
				}
				mu.Unlock()
				if !ok {
					return fmt.Errorf("captured block %d has no expected values", cb.index)
				}

				if err := r.checkSeqBlock(cb, expected, offsets); err != nil {
					return err
				}
				log.Debug().Int("block", cb.index).
					Uint32("start_value", expected[0]).
					Msg("block verified")
			}
		})
	}
}

// checkSeqBlock decodes every captured word through the out-bit offsets and
// compares it against the expected value at the same position.
func (r *Runner) checkSeqBlock(cb capturedBlock, expected []uint32, offsets []int64) error {
	words, err := table.Unmarshal(cb.data)
	if err != nil {
		return err
	}
	base := int64(cb.index) * int64(r.opts.LinesPerBlock)
	if len(words) != len(expected) {
		return &VerificationError{
			Line:     -1,
			Checked:  base + int64(len(words)),
			Expected: base + int64(len(expected)),
		}
	}
	for j, word := range words {
		got := decodeBits(word, offsets)
		if got != expected[j] {
			return &VerificationError{
				Line:    base + int64(j),
				Want:    expected[j],
				Got:     got,
				Checked: base + int64(j),
			}
		}
	}
	if r.run != nil {
		r.run.ValuesChecked.Add(float64(len(words)))
	}
	return nil
}

// configureSeqLayout wires the sequencer to a clock block and points the
// capture engine at the sequencer's activity window.
func configureSeqLayout(client *control.Client, seqName, clockName string) error {
	seq := fieldpath.New(seqName)
	clock := fieldpath.New(clockName)
	steps := []struct {
		path  fieldpath.Path
		value string
	}{
		{seq.Child("ENABLE"), "ZERO"},
		{seq.Child("REPEATS"), "1"},
		{seq.Child("PRESCALE"), "0"},
		{seq.Child("BITA"), clockName + ".OUT"},
		{seq.Child("BITB"), "ZERO"},
		{seq.Child("BITC"), "ZERO"},
		{seq.Child("POSA"), "ZERO"},
		{seq.Child("POSB"), "ZERO"},
		{seq.Child("POSC"), "ZERO"},
	}
	for _, s := range steps {
		if err := client.Put(s.path, s.value); err != nil {
			return err
		}
	}
	// Replace any leftover table content before streaming starts.
	if err := client.PutTable(seq.Child("TABLE"), nil, table.Single); err != nil {
		return err
	}
	steps = []struct {
		path  fieldpath.Path
		value string
	}{
		{clock.Child("ENABLE"), seqName + ".ACTIVE"},
		{fieldpath.New(clockName, "ENABLE", "DELAY"), "0"},
		{fieldpath.New(clockName, "PERIOD", "UNITS"), "s"},
		{fieldpath.New(clockName, "WIDTH", "UNITS"), "s"},
		{fieldpath.New(clockName, "WIDTH", "RAW"), "1"},
		{fieldpath.New("PCAP", "ENABLE"), seqName + ".ACTIVE"},
		{fieldpath.New("PCAP", "ENABLE", "DELAY"), "1"},
		{fieldpath.New("PCAP", "TRIG"), clockName + ".OUT"},
		{fieldpath.New("PCAP", "TRIG", "DELAY"), "2"},
		{fieldpath.New("PCAP", "TRIG_EDGE"), "Rising"},
		{fieldpath.New("PCAP", "GATE"), "ONE"},
		{fieldpath.New("PCAP", "GATE", "DELAY"), "0"},
		{fieldpath.New("PCAP", "SHIFT_SUM"), "0"},
		{fieldpath.New("PCAP", "TS_TRIG", "CAPTURE"), "No"},
	}
	for _, s := range steps {
		if err := client.Put(s.path, s.value); err != nil {
			return err
		}
	}
	return nil
}

// seqOffsets reads the bit offset of each sequencer OUT line and the BITS
// word they are captured in. All six outputs must land in the same word or
// a single capture cannot observe them together.
func seqOffsets(client *control.Client, seqName string) (int, []int64, error) {
	seq := fieldpath.New(seqName)
	outs := []string{"OUTA", "OUTB", "OUTC", "OUTD", "OUTE", "OUTF"}
	offsets := make([]int64, len(outs))
	for i, out := range outs {
		v, err := client.GetInt(fieldpath.New(seqName, out, "OFFSET"))
		if err != nil {
			return 0, nil, err
		}
		offsets[i] = v
	}

	wordNum := -1
	for _, out := range outs {
		v, err := client.Get(seq.Child(out).Child("CAPTURE_WORD"))
		if err != nil {
			return 0, nil, err
		}
		name, ok := v.(string)
		if !ok || len(name) == 0 {
			return 0, nil, fmt.Errorf("unexpected CAPTURE_WORD for %s.%s: %v", seqName, out, v)
		}
		n, err := strconv.Atoi(name[len(name)-1:])
		if err != nil {
			return 0, nil, fmt.Errorf("unexpected CAPTURE_WORD for %s.%s: %q", seqName, out, name)
		}
		if wordNum == -1 {
			wordNum = n
		} else if n != wordNum {
			return 0, nil, fmt.Errorf("cannot capture all out bits in one word: %s.%s is in BITS%d, want BITS%d",
				seqName, out, n, wordNum)
		}
	}
	return wordNum, offsets, nil
}
