package inject_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandatools/go-pandatest/control"
	"github.com/pandatools/go-pandatest/fieldpath"
	"github.com/pandatools/go-pandatest/inject"
	"github.com/pandatools/go-pandatest/metrics"
	"github.com/pandatools/go-pandatest/table"
	"github.com/pandatools/go-pandatest/testutil"
)

func connect(t *testing.T, device *testutil.Device) *control.Client {
	t.Helper()
	client, err := control.Connect(control.Config{
		Host: device.Host(),
		Port: device.ControlPort(),
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestModeFor(t *testing.T) {
	tests := []struct {
		name string
		i, n int
		want table.Mode
	}{
		{name: "only block", i: 0, n: 1, want: table.Single},
		{name: "first of many", i: 0, n: 3, want: table.StreamFirst},
		{name: "middle", i: 1, n: 3, want: table.StreamContinue},
		{name: "last", i: 2, n: 3, want: table.StreamLast},
		{name: "second of two", i: 1, n: 2, want: table.StreamLast},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, inject.ModeFor(tt.i, tt.n))
		})
	}
}

func TestStreamingSession(t *testing.T) {
	// Two non-final blocks each poll twice: once over the threshold of
	// 1 block * 4 lines, once at it. The final block never polls.
	device := testutil.NewDevice(t,
		testutil.WithField("SEQ1.ACTIVE", "0"),
		testutil.WithQueuedResponses(10, 4, 9, 3),
	)
	client := connect(t, device)

	run := metrics.NewRun(prometheus.NewRegistry())
	inj := inject.New(client, inject.Config{
		Table:           fieldpath.New("SEQ1.TABLE"),
		LinesPerBlock:   4,
		MaxBlocksQueued: 1,
		PollInterval:    time.Millisecond,
	}, run, zerolog.Nop())

	blocks := [][]uint32{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{9, 10, 11, 12},
	}
	for i, words := range blocks {
		require.NoError(t, inj.Inject(context.Background(), words, i, len(blocks)))
	}

	writes := device.Writes()
	require.Len(t, writes, 3)
	assert.Equal(t, "<<", writes[0].Suffix)
	assert.Equal(t, "<<", writes[1].Suffix)
	assert.Equal(t, "<<|", writes[2].Suffix)
	for i, w := range writes {
		assert.Equal(t, "SEQ1.TABLE", w.Path)
		assert.Equal(t, blocks[i], w.Words)
	}

	assert.Equal(t, 4, device.PollCount())
	assert.Equal(t, float64(3), promtest.ToFloat64(run.BlocksInjected))
}

func TestSingleBlockSkipsPolling(t *testing.T) {
	device := testutil.NewDevice(t, testutil.WithField("SEQ1.ACTIVE", "0"))
	client := connect(t, device)

	inj := inject.New(client, inject.Config{
		Table:         fieldpath.New("SEQ1.TABLE"),
		LinesPerBlock: 4,
	}, nil, zerolog.Nop())

	require.NoError(t, inj.Inject(context.Background(), []uint32{1, 2, 3, 4}, 0, 1))

	writes := device.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "<", writes[0].Suffix)
	assert.Zero(t, device.PollCount())
}

func TestWaitCancelled(t *testing.T) {
	device := testutil.NewDevice(t,
		testutil.WithField("SEQ1.ACTIVE", "0"),
		testutil.WithQueuedResponses(1000),
	)
	client := connect(t, device)

	inj := inject.New(client, inject.Config{
		Table:           fieldpath.New("SEQ1.TABLE"),
		LinesPerBlock:   4,
		MaxBlocksQueued: 1,
		PollInterval:    time.Millisecond,
	}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := inj.Inject(ctx, []uint32{1, 2, 3, 4}, 0, 2)
	assert.ErrorIs(t, err, context.Canceled)
}
