// Package testutil provides an in-process simulator of the instrument's
// two TCP ports for package and end-to-end tests.
//
// The simulated device accepts any number of control connections, answers
// the metadata snapshot query from a configurable field store, records
// every table-write session, and echoes injected table words back over the
// capture port (optionally through a transform) so a whole validation
// pipeline can run against it without hardware.
package testutil

import (
	"bufio"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"testing"
)

// TableWrite records one table-write session observed by the device.
type TableWrite struct {
	Path   string
	Suffix string // "<", "<<" or "<<|"
	Words  []uint32
}

// Device is a fake instrument listening on two loopback ports.
type Device struct {
	ctrl net.Listener
	data net.Listener

	mu              sync.Mutex
	fields          map[string]string
	lists           map[string][]int64
	rejects         map[string]string // put rejections: path -> ERR message
	writes          []TableWrite
	queued          int64
	queuedResponses []int64
	pollCount       int
	wordsPerLine    int64
	captureRepeats  int
	captureDrop     int

	captureCh   chan uint32
	transform   func(uint32) uint32
	captureDone sync.Once
}

// DeviceOption configures the simulated device.
type DeviceOption func(*Device)

// WithField seeds a scalar field returned for reads and listed in the
// metadata snapshot.
func WithField(name, value string) DeviceOption {
	return func(d *Device) { d.fields[name] = value }
}

// WithList seeds an enumerable field answered as a multi-line value list.
func WithList(name string, values ...int64) DeviceOption {
	return func(d *Device) { d.lists[name] = values }
}

// WithRejectPut makes writes to the named field fail with an ERR response.
func WithRejectPut(name, message string) DeviceOption {
	return func(d *Device) { d.rejects[name] = message }
}

// WithQueuedResponses scripts the successive QUEUED_LINES poll answers.
// Once the script is exhausted, polls report the live queue and drain it.
func WithQueuedResponses(values ...int64) DeviceOption {
	return func(d *Device) { d.queuedResponses = values }
}

// WithWordsPerLine sets how many table words make up one logical line.
func WithWordsPerLine(n int64) DeviceOption {
	return func(d *Device) { d.wordsPerLine = n }
}

// WithCaptureTransform maps each injected word to the word streamed over
// the capture port.
func WithCaptureTransform(f func(uint32) uint32) DeviceOption {
	return func(d *Device) { d.transform = f }
}

// WithCaptureRepeats replays the final table write n times over the capture
// port, the way the instrument replays a single-block table with a repeat
// count programmed.
func WithCaptureRepeats(n int) DeviceOption {
	return func(d *Device) { d.captureRepeats = n }
}

// WithCaptureDrop withholds the last n logical lines of the capture stream,
// simulating a device that closes the stream short.
func WithCaptureDrop(n int) DeviceOption {
	return func(d *Device) { d.captureDrop = n }
}

// NewDevice starts the simulator on two ephemeral loopback ports. It shuts
// down with the test.
func NewDevice(t *testing.T, opts ...DeviceOption) *Device {
	t.Helper()
	d := &Device{
		fields:         make(map[string]string),
		lists:          make(map[string][]int64),
		rejects:        make(map[string]string),
		wordsPerLine:   1,
		captureRepeats: 1,
		captureCh:      make(chan uint32, 1<<16),
		transform:      func(w uint32) uint32 { return w },
	}
	for _, opt := range opts {
		opt(d)
	}

	var err error
	d.ctrl, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen control: %v", err)
	}
	d.data, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen capture: %v", err)
	}
	go d.acceptLoop(d.ctrl, d.serveControl)
	go d.acceptLoop(d.data, d.serveCapture)
	t.Cleanup(d.Close)
	return d
}

// Host returns the loopback host both ports listen on.
func (d *Device) Host() string { return "127.0.0.1" }

// ControlPort returns the control-channel port.
func (d *Device) ControlPort() int { return d.ctrl.Addr().(*net.TCPAddr).Port }

// CapturePort returns the capture-channel port.
func (d *Device) CapturePort() int { return d.data.Addr().(*net.TCPAddr).Port }

// Writes returns a copy of the recorded table-write sessions.
func (d *Device) Writes() []TableWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]TableWrite(nil), d.writes...)
}

// PollCount returns how many QUEUED_LINES reads the device served.
func (d *Device) PollCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pollCount
}

// Field returns the current value of a scalar field.
func (d *Device) Field(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fields[name]
}

// EndCapture closes the capture stream once all echoed words are drained.
// It fires automatically after a Single or final streaming table write.
func (d *Device) EndCapture() {
	d.captureDone.Do(func() { close(d.captureCh) })
}

// Close stops both listeners.
func (d *Device) Close() {
	_ = d.ctrl.Close()
	_ = d.data.Close()
}

func (d *Device) acceptLoop(ln net.Listener, serve func(net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go serve(conn)
	}
}

func (d *Device) serveControl(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	var (
		inTable     bool
		tablePath   string
		tableSuffix string
		tableWords  []uint32
	)
	for {
		raw, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line := strings.TrimSuffix(raw, "\n")

		if inTable {
			if line != "" {
				chunk, err := base64.StdEncoding.DecodeString(line)
				if err != nil || len(chunk)%4 != 0 {
					d.reply(conn, "ERR bad table data")
					inTable = false
					continue
				}
				for i := 0; i < len(chunk); i += 4 {
					tableWords = append(tableWords, binary.LittleEndian.Uint32(chunk[i:]))
				}
				continue
			}
			inTable = false
			d.finishTableWrite(tablePath, tableSuffix, tableWords)
			d.reply(conn, "OK")
			continue
		}

		switch {
		case line == "*CHANGES?":
			d.replySnapshot(conn)

		case strings.HasSuffix(line, "?"):
			d.replyRead(conn, strings.TrimSuffix(line, "?"))

		case strings.HasSuffix(line, "B") && strings.Contains(line, "<"):
			open := strings.TrimSuffix(line, "B")
			i := strings.Index(open, "<")
			tablePath, tableSuffix = open[:i], open[i:]
			tableWords = nil
			inTable = true

		case strings.Contains(line, "="):
			i := strings.Index(line, "=")
			name, value := line[:i], line[i+1:]
			d.mu.Lock()
			msg, rejected := d.rejects[name]
			if !rejected {
				d.fields[name] = value
			}
			d.mu.Unlock()
			if rejected {
				d.reply(conn, "ERR "+msg)
			} else {
				d.reply(conn, "OK")
			}

		default:
			d.reply(conn, "ERR Unknown command")
		}
	}
}

func (d *Device) reply(conn net.Conn, line string) {
	_, _ = conn.Write([]byte(line + "\n"))
}

func (d *Device) replySnapshot(conn net.Conn) {
	d.mu.Lock()
	names := make([]string, 0, len(d.fields))
	for name := range d.fields {
		names = append(names, name)
	}
	d.mu.Unlock()
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "!%s=%s\n", name, d.Field(name))
	}
	b.WriteString(".\n")
	_, _ = conn.Write([]byte(b.String()))
}

func (d *Device) replyRead(conn net.Conn, name string) {
	d.mu.Lock()
	if strings.HasSuffix(name, ".QUEUED_LINES") {
		d.pollCount++
		var queued int64
		if len(d.queuedResponses) > 0 {
			queued = d.queuedResponses[0]
			d.queuedResponses = d.queuedResponses[1:]
		} else {
			// Live queue drains fully once observed.
			queued = d.queued
			d.queued = 0
		}
		d.mu.Unlock()
		d.reply(conn, fmt.Sprintf("OK =%d", queued))
		return
	}
	if list, ok := d.lists[name]; ok {
		d.mu.Unlock()
		var b strings.Builder
		for _, v := range list {
			fmt.Fprintf(&b, "!%d\n", v)
		}
		b.WriteString(".\n")
		_, _ = conn.Write([]byte(b.String()))
		return
	}
	value, ok := d.fields[name]
	d.mu.Unlock()
	if !ok {
		d.reply(conn, "ERR No such field")
		return
	}
	d.reply(conn, "OK ="+value)
}

func (d *Device) finishTableWrite(path, suffix string, words []uint32) {
	d.mu.Lock()
	d.writes = append(d.writes, TableWrite{
		Path:   path,
		Suffix: suffix,
		Words:  append([]uint32(nil), words...),
	})
	d.queued += int64(len(words)) / d.wordsPerLine
	transform := d.transform
	perLine := int(d.wordsPerLine)
	repeats := d.captureRepeats
	drop := d.captureDrop
	d.mu.Unlock()

	if suffix == "<" && len(words) == 0 {
		// Layout reset writes an empty table; not the end of a run.
		return
	}
	ends := suffix == "<" || suffix == "<<|"

	// One captured word per logical line, derived from the line's first
	// word, the way the instrument captures one BITS/OUT word per row.
	var out []uint32
	for i := 0; i+perLine <= len(words); i += perLine {
		out = append(out, transform(words[i]))
	}
	if ends && repeats > 1 {
		once := append([]uint32(nil), out...)
		for r := 1; r < repeats; r++ {
			out = append(out, once...)
		}
	}
	if ends && drop > 0 {
		if drop > len(out) {
			drop = len(out)
		}
		out = out[:len(out)-drop]
	}
	for _, w := range out {
		d.captureCh <- w
	}
	if ends {
		d.EndCapture()
	}
}

func (d *Device) serveCapture(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	if _, err := reader.ReadString('\n'); err != nil {
		return
	}
	buf := make([]byte, 4)
	for w := range d.captureCh {
		binary.LittleEndian.PutUint32(buf, w)
		if _, err := conn.Write(buf); err != nil {
			return
		}
	}
}
