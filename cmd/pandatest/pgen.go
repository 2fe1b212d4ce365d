package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/pandatools/go-pandatest/pipeline"
)

var pgenOpts = struct {
	repeats         int
	linesPerBlock   int
	clockPeriodUS   float64
	nblocks         int
	fpgaFreq        int64
	maxBlocksQueued int
	startNumber     uint32
}{}

var pgenCmd = &cobra.Command{
	Use:   "pgen <host>",
	Short: "Stream counter tables through the position generator and verify the capture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateRun(pgenOpts.repeats, pgenOpts.nblocks); err != nil {
			return err
		}
		opts := pipeline.Options{
			Host:            args[0],
			Repeats:         pgenOpts.repeats,
			LinesPerBlock:   pgenOpts.linesPerBlock,
			ClockPeriodUS:   pgenOpts.clockPeriodUS,
			NBlocks:         pgenOpts.nblocks,
			FPGAFreq:        pgenOpts.fpgaFreq,
			MaxBlocksQueued: pgenOpts.maxBlocksQueued,
			StartNumber:     pgenOpts.startNumber,
		}
		return runPipeline(opts, func(r *pipeline.Runner, ctx context.Context) error {
			return r.RunPgen(ctx)
		})
	},
}

func init() {
	f := pgenCmd.Flags()
	f.IntVar(&pgenOpts.repeats, "repeats", 1, "device-side table repeat count (single block only)")
	f.IntVar(&pgenOpts.linesPerBlock, "lines-per-block", pipeline.DefaultLinesPerBlock, "table lines per block")
	f.Float64Var(&pgenOpts.clockPeriodUS, "clock-period-us", pipeline.DefaultClockPeriodUS, "trigger clock period in microseconds")
	f.IntVar(&pgenOpts.nblocks, "nblocks", 1, "number of table blocks to stream")
	f.Int64Var(&pgenOpts.fpgaFreq, "fpga-freq", pipeline.DefaultFPGAFreq, "FPGA clock frequency in Hz")
	f.IntVar(&pgenOpts.maxBlocksQueued, "max-blocks-queued", 2, "device queue threshold in blocks")
	f.Uint32Var(&pgenOpts.startNumber, "start-number", 0, "first counter value")
	rootCmd.AddCommand(pgenCmd)
}
