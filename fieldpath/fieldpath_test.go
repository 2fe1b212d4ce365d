package fieldpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathBuilding(t *testing.T) {
	tests := []struct {
		name     string
		path     Path
		want     string
		wantTop  string
	}{
		{
			name:    "single segment",
			path:    New("seq1"),
			want:    "SEQ1",
			wantTop: "SEQ1",
		},
		{
			name:    "multiple segments",
			path:    New("SEQ1", "TABLE"),
			want:    "SEQ1.TABLE",
			wantTop: "SEQ1",
		},
		{
			name:    "dotted segment splits",
			path:    New("seq1.table.queued_lines"),
			want:    "SEQ1.TABLE.QUEUED_LINES",
			wantTop: "SEQ1",
		},
		{
			name:    "child extends",
			path:    New("PGEN1").Child("OUT").Child("CAPTURE"),
			want:    "PGEN1.OUT.CAPTURE",
			wantTop: "PGEN1",
		},
		{
			name:    "empty segments dropped",
			path:    New("", "PCAP", ""),
			want:    "PCAP",
			wantTop: "PCAP",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.path.String())
			assert.Equal(t, tt.wantTop, tt.path.Block())
		})
	}
}

const snapshotDump = "!SEQ1.TABLE=\n" +
	"!SEQ1.ACTIVE=0\n" +
	"!PCAP.TS_TRIG.CAPTURE=No\n" +
	"!PGEN1.OUT.CAPTURE=Value\n" +
	"!CLOCK1.PERIOD=1\n" +
	"!SEQ2.TABLE=\n" +
	".\n"

func TestParseSnapshot(t *testing.T) {
	snap := ParseSnapshot([]byte(snapshotDump))

	assert.Len(t, snap.Fields(), 6)
	assert.Equal(t, []string{"PCAP.TS_TRIG.CAPTURE", "PGEN1.OUT.CAPTURE"}, snap.CaptureFields())
	assert.Equal(t, []string{"CLOCK1", "PCAP", "PGEN1", "SEQ1", "SEQ2"}, snap.Instances())
}

func TestFirstInstance(t *testing.T) {
	snap := ParseSnapshot([]byte(snapshotDump))

	assert.Equal(t, "SEQ1", snap.FirstInstance("SEQ"))
	assert.Equal(t, "CLOCK1", snap.FirstInstance("CLOCK"))
	assert.Equal(t, "", snap.FirstInstance("TTLIN"))
}

func TestMatching(t *testing.T) {
	snap := ParseSnapshot([]byte(snapshotDump))

	fields, err := snap.Matching(`\.CAPTURE$`)
	require.NoError(t, err)
	assert.Equal(t, []string{"PCAP.TS_TRIG.CAPTURE", "PGEN1.OUT.CAPTURE"}, fields)

	fields, err = snap.Matching("TABLE")
	require.NoError(t, err)
	assert.Equal(t, []string{"SEQ1.TABLE", "SEQ2.TABLE"}, fields)

	_, err = snap.Matching("[")
	assert.Error(t, err)
}

func TestParseSnapshotEmpty(t *testing.T) {
	snap := ParseSnapshot([]byte(".\n"))
	assert.Empty(t, snap.Fields())
	assert.Empty(t, snap.Instances())
	assert.Equal(t, "", snap.FirstInstance("SEQ"))
}
