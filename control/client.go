package control

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pandatools/go-pandatest/fieldpath"
	"github.com/pandatools/go-pandatest/table"
)

// Config selects the control-channel endpoint.
type Config struct {
	Host           string
	Port           int           // defaults to DefaultPort
	ConnectTimeout time.Duration // defaults to DefaultConnectTimeout
}

// Addr returns the host:port dial address.
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Client issues field-level operations over one control channel. The field
// namespace snapshot is fetched once at connect time and never refreshed;
// reconnect to observe renames.
type Client struct {
	ch   *Channel
	snap *fieldpath.Snapshot
	id   uuid.UUID
	log  zerolog.Logger
}

// Connect dials the control channel and fetches the *CHANGES? metadata
// snapshot.
func Connect(cfg Config, log zerolog.Logger) (*Client, error) {
	id := uuid.New()
	log = log.With().Str("session", id.String()[:8]).Logger()
	ch, err := DialChannel(cfg.Addr(), cfg.ConnectTimeout, log)
	if err != nil {
		return nil, err
	}
	c := &Client{ch: ch, id: id, log: log}
	if err := c.fetchSnapshot(); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) fetchSnapshot() error {
	if err := c.ch.Send("*CHANGES?"); err != nil {
		return err
	}
	raw, err := c.ch.ReceiveUntilTerminator()
	if err != nil {
		return fmt.Errorf("fetch metadata snapshot: %w", err)
	}
	c.snap = fieldpath.ParseSnapshot(raw)
	c.log.Debug().
		Int("fields", len(c.snap.Fields())).
		Int("instances", len(c.snap.Instances())).
		Msg("metadata snapshot fetched")
	return nil
}

// Snapshot returns the field namespace captured at connect time.
func (c *Client) Snapshot() *fieldpath.Snapshot { return c.snap }

// FirstInstance returns the first block instance starting with prefix.
func (c *Client) FirstInstance(prefix string) string {
	return c.snap.FirstInstance(prefix)
}

// Get reads a field and returns its typed value: int64, float64, string, or
// []int64 for enumerable responses.
func (c *Client) Get(path fieldpath.Path) (Value, error) {
	if err := c.ch.Send(path.String() + "?"); err != nil {
		return nil, err
	}
	raw, err := c.ch.ReceiveResponse()
	if err != nil {
		return nil, err
	}
	resp, err := Parse(raw)
	if err != nil {
		return nil, &ProtocolError{Path: path.String(), Response: string(raw)}
	}
	switch resp.Kind {
	case KindError:
		return nil, &DeviceError{Path: path.String(), Message: resp.Message}
	case KindList:
		return resp.List, nil
	default:
		if resp.Value == nil {
			return nil, &ProtocolError{Path: path.String(), Response: string(raw)}
		}
		return resp.Value, nil
	}
}

// GetInt reads a field and requires an integer value.
func (c *Client) GetInt(path fieldpath.Path) (int64, error) {
	v, err := c.Get(path)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, &ProtocolError{Path: path.String(), Response: fmt.Sprint(v)}
	}
	return n, nil
}

// Put writes a scalar field and requires an OK acknowledgment.
func (c *Client) Put(path fieldpath.Path, value string) error {
	if err := c.ch.Send(path.String() + "=" + value); err != nil {
		return err
	}
	return c.expectOK(path.String())
}

// PutTable writes words as one table session in the given mode and requires
// an OK acknowledgment.
func (c *Client) PutTable(path fieldpath.Path, words []uint32, mode table.Mode) error {
	if err := c.ch.Send(table.Encode(path.String(), words, mode)...); err != nil {
		return err
	}
	return c.expectOK(path.String())
}

// Arm starts a capture acquisition.
func (c *Client) Arm() error {
	if err := c.ch.Send("*PCAP.ARM="); err != nil {
		return err
	}
	return c.expectOK("*PCAP.ARM")
}

// Disarm stops a capture acquisition.
func (c *Client) Disarm() error {
	if err := c.ch.Send("*PCAP.DISARM="); err != nil {
		return err
	}
	return c.expectOK("*PCAP.DISARM")
}

// DisableCaptures switches every capture field from the snapshot to No, so a
// run starts from a clean capture configuration. Individual refusals are
// logged and skipped rather than failing the run.
func (c *Client) DisableCaptures() error {
	for _, field := range c.snap.CaptureFields() {
		if err := c.ch.Send(field + "=No"); err != nil {
			return err
		}
		raw, err := c.ch.ReceiveLine()
		if err != nil {
			return err
		}
		if resp, perr := Parse(raw); perr != nil || resp.Kind != KindOK {
			c.log.Warn().Str("field", field).
				Str("response", truncate(string(raw), 60)).
				Msg("capture field not disabled")
		}
	}
	return nil
}

func (c *Client) expectOK(path string) error {
	raw, err := c.ch.ReceiveLine()
	if err != nil {
		return err
	}
	resp, perr := Parse(raw)
	if perr != nil {
		return &ProtocolError{Path: path, Response: string(raw)}
	}
	switch resp.Kind {
	case KindOK:
		return nil
	case KindError:
		return &DeviceError{Path: path, Message: resp.Message}
	default:
		return &DeviceError{Path: path, Message: string(raw)}
	}
}

// Close closes the control channel.
func (c *Client) Close() error { return c.ch.Close() }
