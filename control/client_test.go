package control_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandatools/go-pandatest/control"
	"github.com/pandatools/go-pandatest/fieldpath"
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

func TestConnectFetchesSnapshot(t *testing.T) {
	device := testutil.NewDevice(t,
		testutil.WithField("SEQ1.ACTIVE", "0"),
		testutil.WithField("CLOCK1.PERIOD", "1"),
		testutil.WithField("PCAP.TS_TRIG.CAPTURE", "No"),
	)
	client := connect(t, device)

	snap := client.Snapshot()
	assert.Len(t, snap.Fields(), 3)
	assert.Equal(t, "SEQ1", client.FirstInstance("SEQ"))
	assert.Equal(t, []string{"PCAP.TS_TRIG.CAPTURE"}, snap.CaptureFields())
}

func TestGetTypedValues(t *testing.T) {
	device := testutil.NewDevice(t,
		testutil.WithField("SEQ1.ACTIVE", "1"),
		testutil.WithField("CLOCK1.PERIOD", "2.5"),
		testutil.WithField("SEQ1.OUTA.CAPTURE_WORD", "BITS0"),
	)
	client := connect(t, device)

	v, err := client.Get(fieldpath.New("SEQ1.ACTIVE"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = client.Get(fieldpath.New("CLOCK1.PERIOD"))
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)

	v, err = client.Get(fieldpath.New("SEQ1.OUTA.CAPTURE_WORD"))
	require.NoError(t, err)
	assert.Equal(t, "BITS0", v)
}

func TestGetList(t *testing.T) {
	device := testutil.NewDevice(t,
		testutil.WithField("SEQ1.ACTIVE", "0"),
		testutil.WithList("PCAP.BITS0.BITS", 3, 1, 4, 1, 5),
	)
	client := connect(t, device)

	v, err := client.Get(fieldpath.New("PCAP.BITS0.BITS"))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 4, 1, 5}, v)
}

func TestGetUnknownField(t *testing.T) {
	device := testutil.NewDevice(t, testutil.WithField("SEQ1.ACTIVE", "0"))
	client := connect(t, device)

	_, err := client.Get(fieldpath.New("NO.SUCH.FIELD"))
	var derr *control.DeviceError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "No such field", derr.Message)
}

func TestGetIntTypeMismatch(t *testing.T) {
	device := testutil.NewDevice(t, testutil.WithField("SEQ1.NAME", "sequencer"))
	client := connect(t, device)

	_, err := client.GetInt(fieldpath.New("SEQ1.NAME"))
	var perr *control.ProtocolError
	assert.ErrorAs(t, err, &perr)
}

func TestPut(t *testing.T) {
	device := testutil.NewDevice(t, testutil.WithField("SEQ1.ENABLE", "ZERO"))
	client := connect(t, device)

	require.NoError(t, client.Put(fieldpath.New("SEQ1.ENABLE"), "ONE"))
	assert.Equal(t, "ONE", device.Field("SEQ1.ENABLE"))
}

func TestPutRejected(t *testing.T) {
	device := testutil.NewDevice(t,
		testutil.WithField("SEQ1.ENABLE", "ZERO"),
		testutil.WithRejectPut("SEQ1.ENABLE", "field is read only"),
	)
	client := connect(t, device)

	err := client.Put(fieldpath.New("SEQ1.ENABLE"), "ONE")
	var derr *control.DeviceError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "field is read only", derr.Message)
	assert.Equal(t, "SEQ1.ENABLE", derr.Path)
}

func TestPutTable(t *testing.T) {
	device := testutil.NewDevice(t, testutil.WithField("SEQ1.ACTIVE", "0"))
	client := connect(t, device)

	words := []uint32{10, 20, 30, 0xffffffff}
	require.NoError(t, client.PutTable(fieldpath.New("SEQ1.TABLE"), words, table.Single))

	writes := device.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "SEQ1.TABLE", writes[0].Path)
	assert.Equal(t, "<", writes[0].Suffix)
	assert.Equal(t, words, writes[0].Words)
}

func TestArmDisarm(t *testing.T) {
	device := testutil.NewDevice(t, testutil.WithField("SEQ1.ACTIVE", "0"))
	client := connect(t, device)

	require.NoError(t, client.Arm())
	require.NoError(t, client.Disarm())
}

func TestDisableCaptures(t *testing.T) {
	device := testutil.NewDevice(t,
		testutil.WithField("PCAP.TS_TRIG.CAPTURE", "Value"),
		testutil.WithField("PGEN1.OUT.CAPTURE", "Value"),
		testutil.WithField("SEQ1.ACTIVE", "0"),
	)
	client := connect(t, device)

	require.NoError(t, client.DisableCaptures())
	assert.Equal(t, "No", device.Field("PCAP.TS_TRIG.CAPTURE"))
	assert.Equal(t, "No", device.Field("PGEN1.OUT.CAPTURE"))
}

func TestConnectRefused(t *testing.T) {
	_, err := control.Connect(control.Config{Host: "127.0.0.1", Port: 1}, zerolog.Nop())
	assert.Error(t, err)
}
