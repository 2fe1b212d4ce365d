package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pandatools/go-pandatest/pipeline"
)

var seqOpts = struct {
	repeats         int
	linesPerBlock   int
	clockPeriodUS   float64
	nblocks         int
	fpgaFreq        int64
	maxBlocksQueued int
	checkerThreads  int
	producerThreads int
}{}

var seqCmd = &cobra.Command{
	Use:   "seq <host>",
	Short: "Stream random sequencer tables and verify the captured bit values",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateRun(seqOpts.repeats, seqOpts.nblocks); err != nil {
			return err
		}
		if seqOpts.producerThreads < 1 || seqOpts.nblocks%seqOpts.producerThreads != 0 {
			return fmt.Errorf("nblocks must be divisible by the number of producer workers")
		}
		opts := pipeline.Options{
			Host:            args[0],
			Repeats:         seqOpts.repeats,
			LinesPerBlock:   seqOpts.linesPerBlock,
			ClockPeriodUS:   seqOpts.clockPeriodUS,
			NBlocks:         seqOpts.nblocks,
			FPGAFreq:        seqOpts.fpgaFreq,
			MaxBlocksQueued: seqOpts.maxBlocksQueued,
			CheckerWorkers:  seqOpts.checkerThreads,
			ProducerWorkers: seqOpts.producerThreads,
		}
		return runPipeline(opts, func(r *pipeline.Runner, ctx context.Context) error {
			return r.RunSeq(ctx)
		})
	},
}

func init() {
	f := seqCmd.Flags()
	f.IntVar(&seqOpts.repeats, "repeats", 1, "device-side table repeat count (single block only)")
	f.IntVar(&seqOpts.linesPerBlock, "lines-per-block", pipeline.DefaultLinesPerBlock, "table lines per block")
	f.Float64Var(&seqOpts.clockPeriodUS, "clock-period-us", pipeline.DefaultClockPeriodUS, "trigger clock period in microseconds")
	f.IntVar(&seqOpts.nblocks, "nblocks", 1, "number of table blocks to stream")
	f.Int64Var(&seqOpts.fpgaFreq, "fpga-freq", pipeline.DefaultFPGAFreq, "FPGA clock frequency in Hz")
	f.IntVar(&seqOpts.maxBlocksQueued, "max-blocks-queued", 7, "device queue threshold in blocks")
	f.IntVar(&seqOpts.checkerThreads, "checker-threads", pipeline.DefaultCheckerWorkers, "checker workers")
	f.IntVar(&seqOpts.producerThreads, "producer-threads", pipeline.DefaultProducerWorkers, "producer workers")
	rootCmd.AddCommand(seqCmd)
}
