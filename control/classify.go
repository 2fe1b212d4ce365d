package control

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies a control-channel response.
type Kind int

const (
	// KindOK is a successful write acknowledgment.
	KindOK Kind = iota
	// KindError is an explicit ERR response.
	KindError
	// KindList is a multi-line value list.
	KindList
	// KindScalar is a name=value read response.
	KindScalar
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindOK:
		return "OK"
	case KindError:
		return "Error"
	case KindList:
		return "List"
	case KindScalar:
		return "Scalar"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Value is a decoded response value: int64, float64 or string.
type Value any

// Response is one classified control-channel response.
type Response struct {
	Kind    Kind
	Message string // ERR message
	List    []int64
	Value   Value // scalar value; also set for "OK =value" read acks
}

// Parse classifies a raw response per the protocol rules:
// ERR prefix, then '!' value list, then OK acknowledgment, then name=value.
// Anything else is malformed.
func Parse(raw []byte) (*Response, error) {
	body := bytes.TrimRight(raw, "\n")
	switch {
	case bytes.HasPrefix(body, []byte("ERR")):
		msg := strings.TrimSpace(strings.TrimPrefix(string(body), "ERR"))
		return &Response{Kind: KindError, Message: msg}, nil

	case bytes.HasPrefix(body, []byte("!")):
		list, err := parseList(body)
		if err != nil {
			return nil, err
		}
		return &Response{Kind: KindList, List: list}, nil

	case bytes.HasPrefix(body, []byte("OK")):
		resp := &Response{Kind: KindOK}
		if i := bytes.IndexByte(body, '='); i >= 0 {
			resp.Value = parseScalar(body[i+1:])
		}
		return resp, nil

	default:
		i := bytes.IndexByte(body, '=')
		if i < 0 {
			return nil, fmt.Errorf("%w: %q", ErrMalformed, body)
		}
		return &Response{Kind: KindScalar, Value: parseScalar(body[i+1:])}, nil
	}
}

// parseList decodes "!v1\n!v2\n.\n" into its ordered integer values.
func parseList(body []byte) ([]int64, error) {
	fields := strings.Fields(string(body))
	if len(fields) == 0 || fields[len(fields)-1] != "." {
		return nil, fmt.Errorf("%w: value list without terminator", ErrMalformed)
	}
	list := make([]int64, 0, len(fields)-1)
	for _, f := range fields[:len(fields)-1] {
		if !strings.HasPrefix(f, "!") {
			return nil, fmt.Errorf("%w: value list entry %q", ErrMalformed, f)
		}
		v, err := strconv.ParseInt(f[1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: value list entry %q", ErrMalformed, f)
		}
		list = append(list, v)
	}
	return list, nil
}

// parseScalar decodes a scalar value as integer, then float, then falls back
// to the raw string.
func parseScalar(b []byte) Value {
	s := strings.TrimSpace(string(b))
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	return s
}
