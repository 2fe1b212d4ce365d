package pandatest_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandatools/go-pandatest/metrics"
	"github.com/pandatools/go-pandatest/pipeline"
)

// TestSeqPipelineStress runs the full pipeline with parallel producers and
// checkers over enough blocks to shake out pairing and ordering races
// between the stages.
func TestSeqPipelineStress(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress run in short mode")
	}

	device := seqDevice(t)
	opts := options(device)
	opts.LinesPerBlock = 64
	opts.NBlocks = 16
	opts.MaxBlocksQueued = 2
	opts.ProducerWorkers = 4
	opts.CheckerWorkers = 4
	opts.QueueCapacity = 4

	run := metrics.NewRun(prometheus.NewRegistry())
	runner := pipeline.New(opts, run, zerolog.Nop())
	require.NoError(t, runner.RunSeq(context.Background()))

	writes := device.Writes()
	require.Len(t, writes, 17) // layout reset + 16 data blocks
	assert.Equal(t, "<<", writes[1].Suffix)
	assert.Equal(t, "<<|", writes[16].Suffix)

	assert.Equal(t, float64(64*16), promtest.ToFloat64(run.ValuesChecked))
	assert.Equal(t, float64(16), promtest.ToFloat64(run.BlocksProduced))
	assert.Equal(t, float64(16), promtest.ToFloat64(run.BlocksInjected))
}
