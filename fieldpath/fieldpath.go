// Package fieldpath models hierarchical device attribute paths and the
// field-name snapshot reported by the instrument's metadata dump.
//
// A field path is a dot-separated sequence of uppercase segments, e.g.
// "SEQ1.TABLE.QUEUED_LINES". Paths are plain values: building one never
// touches the wire, and resolution happens only when a path is used in a
// control-channel command.
package fieldpath

import (
	"bytes"
	"regexp"
	"sort"
	"strings"
)

// Path is an immutable dot-separated device attribute path.
type Path string

// New builds a path from one or more segments. Segments are uppercased to
// match the device's field namespace; empty segments are dropped.
func New(segments ...string) Path {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		for _, seg := range strings.Split(s, ".") {
			if seg == "" {
				continue
			}
			parts = append(parts, strings.ToUpper(seg))
		}
	}
	return Path(strings.Join(parts, "."))
}

// Child returns the path extended by one segment.
func (p Path) Child(segment string) Path {
	if p == "" {
		return New(segment)
	}
	return New(string(p), segment)
}

// Block returns the first segment, the block instance name.
func (p Path) Block() string {
	s := string(p)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

func (p Path) String() string { return string(p) }

// Snapshot holds the field namespace reported by one *CHANGES? dump.
// It is fetched once per connection and never refreshed automatically;
// callers needing live state must re-query.
type Snapshot struct {
	fields        []string
	captureFields []string
	instances     []string
}

// ParseSnapshot parses the raw multi-line *CHANGES? response body.
// Lines without '=' (including the terminating ".") are ignored. Each
// remaining line is "!NAME=value"; the leading '!' is stripped.
func ParseSnapshot(raw []byte) *Snapshot {
	snap := &Snapshot{}
	seen := make(map[string]bool)
	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		eq := bytes.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		name := string(line[:eq])
		name = strings.TrimPrefix(name, "!")
		if name == "" {
			continue
		}
		snap.fields = append(snap.fields, name)
		// Capture enables end in ".CAPTURE"; metadata like CAPTURE_WORD
		// must not match.
		if strings.HasSuffix(name, ".CAPTURE") {
			snap.captureFields = append(snap.captureFields, name)
		}
		block := name
		if i := strings.IndexByte(block, '.'); i >= 0 {
			block = block[:i]
		}
		if !seen[block] {
			seen[block] = true
			snap.instances = append(snap.instances, block)
		}
	}
	sort.Strings(snap.instances)
	return snap
}

// Fields returns every field name in the snapshot, in dump order.
func (s *Snapshot) Fields() []string { return s.fields }

// CaptureFields returns the capture-enable fields, those ending in ".CAPTURE".
func (s *Snapshot) CaptureFields() []string { return s.captureFields }

// Instances returns the sorted set of block instance names.
func (s *Snapshot) Instances() []string { return s.instances }

// FirstInstance returns the lexically first block instance whose name starts
// with prefix, or "" if none matches.
func (s *Snapshot) FirstInstance(prefix string) string {
	for _, inst := range s.instances {
		if strings.HasPrefix(inst, prefix) {
			return inst
		}
	}
	return ""
}

// Matching returns the field names matching the regular expression pattern,
// in dump order.
func (s *Snapshot) Matching(pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range s.fields {
		if re.MatchString(f) {
			out = append(out, f)
		}
	}
	return out, nil
}
