package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestStringCodecRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"hello",
		"OK 1",
		"line one\nline two",
		"crlf\r\n",
		"percent % plus + amp &",
		"unicode ✓ ünïcödé",
	}

	var c StringCodec
	for _, in := range inputs {
		enc, err := c.Encode(in)
		if err != nil {
			t.Fatalf("Encode(%q) error = %v", in, err)
		}
		if strings.ContainsAny(enc, "\r\n") {
			t.Errorf("Encode(%q) = %q contains a line break", in, enc)
		}
		dec, err := c.Decode(enc)
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", enc, err)
		}
		if dec != in {
			t.Errorf("Decode(Encode(%q)) = %q", in, dec)
		}
	}
}

type point struct{ X, Y int }

func (p point) String() string { return "point" }

func TestStringCodecFormatsValues(t *testing.T) {
	var c StringCodec
	tests := []struct {
		in   any
		want string
	}{
		{in: nil, want: ""},
		{in: 42, want: "42"},
		{in: point{1, 2}, want: "point"},
		{in: "a b", want: "a+b"},
	}
	for _, tc := range tests {
		got, err := c.Encode(tc.in)
		if err != nil {
			t.Fatalf("Encode(%v) error = %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("Encode(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStringCodecDecodeError(t *testing.T) {
	var c StringCodec
	if _, err := c.Decode("%zz"); err == nil {
		t.Error("Decode(%zz) should fail")
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	type msg struct {
		Kind string `json:"kind"`
		Body string `json:"body"`
	}

	c := JSONCodec{New: func() any { return new(msg) }}
	in := msg{Kind: "chat", Body: "multi\nline"}

	enc, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode error = %v", err)
	}
	if strings.Contains(enc, "\n") {
		t.Fatalf("Encode = %q contains a newline", enc)
	}

	dec, err := c.Decode(enc)
	if err != nil {
		t.Fatalf("Decode error = %v", err)
	}
	got, ok := dec.(*msg)
	if !ok {
		t.Fatalf("Decode type = %T, want *msg", dec)
	}
	if *got != in {
		t.Errorf("Decode = %+v, want %+v", *got, in)
	}
}

func TestJSONCodecGeneric(t *testing.T) {
	var c JSONCodec
	dec, err := c.Decode(`{"n":1}`)
	if err != nil {
		t.Fatalf("Decode error = %v", err)
	}
	m, ok := dec.(map[string]any)
	if !ok || m["n"] != float64(1) {
		t.Errorf("Decode = %#v", dec)
	}

	if _, err := c.Encode(make(chan int)); err == nil {
		t.Error("Encode(chan) should fail")
	}
}

type rawCodec struct{}

func (rawCodec) Encode(v any) (string, error) { return v.(string), nil }
func (rawCodec) Decode(s string) (any, error) { return s, nil }

func TestEncodeMessageRejectsLineBreaks(t *testing.T) {
	if _, err := EncodeMessage(rawCodec{}, "a\nb"); !errors.Is(err, ErrNewline) {
		t.Errorf("EncodeMessage error = %v, want ErrNewline", err)
	}
	got, err := EncodeMessage(rawCodec{}, "ab")
	if err != nil || got != "ab" {
		t.Errorf("EncodeMessage = %q, %v", got, err)
	}
}
