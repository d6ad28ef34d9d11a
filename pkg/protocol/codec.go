package protocol

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Codec converts application values to and from single-line strings.
// Encode must never produce a string containing '\n'.
type Codec interface {
	Encode(v any) (string, error)
	Decode(s string) (any, error)
}

// StringCodec formats values with fmt and URL-escapes the result.
// Decode always yields a string.
type StringCodec struct{}

// Encode implements Codec. A nil value encodes as the empty string.
func (StringCodec) Encode(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case fmt.Stringer:
		s = x.String()
	default:
		s = fmt.Sprint(v)
	}
	return url.QueryEscape(s), nil
}

// Decode implements Codec.
func (StringCodec) Decode(s string) (any, error) {
	v, err := url.QueryUnescape(s)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode message: %w", err)
	}
	return v, nil
}

// JSONCodec encodes values as compact JSON. The standard encoder escapes
// control characters inside strings, so output never spans lines.
type JSONCodec struct {
	// New returns a pointer to decode into. When nil, Decode produces the
	// generic representation (map[string]any, []any, float64, ...).
	New func() any
}

// Encode implements Codec.
func (JSONCodec) Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("protocol: encode message: %w", err)
	}
	s := string(b)
	if strings.ContainsAny(s, "\r\n") {
		return "", ErrNewline
	}
	return s, nil
}

// Decode implements Codec.
func (c JSONCodec) Decode(s string) (any, error) {
	if c.New != nil {
		v := c.New()
		if err := json.Unmarshal([]byte(s), v); err != nil {
			return nil, fmt.Errorf("protocol: decode message: %w", err)
		}
		return v, nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("protocol: decode message: %w", err)
	}
	return v, nil
}

// EncodeMessage encodes v with c and rejects results containing a line
// break.
func EncodeMessage(c Codec, v any) (string, error) {
	s, err := c.Encode(v)
	if err != nil {
		return "", err
	}
	if strings.ContainsAny(s, "\r\n") {
		return "", ErrNewline
	}
	return s, nil
}
