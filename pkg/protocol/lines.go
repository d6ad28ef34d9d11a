package protocol

import (
	"strconv"
	"strings"
)

// SplitLines splits text into protocol lines.
//
// Lines are terminated by "\n" or "\r\n". One trailing terminator does not
// produce an empty final line, so "a\n" is one line and "a\n\n" is two ("a"
// and ""). An unterminated last line is kept verbatim. Empty text yields no
// lines.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	terminated := len(lines) - 1
	if lines[terminated] == "" {
		lines = lines[:terminated]
	}
	for i := 0; i < terminated && i < len(lines); i++ {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}
	return lines
}

// lineWriter accumulates newline-terminated lines.
type lineWriter struct {
	sb strings.Builder
}

func (w *lineWriter) line(s string) {
	w.sb.WriteString(s)
	w.sb.WriteByte('\n')
}

func (w *lineWriter) int(n int64) {
	w.line(strconv.FormatInt(n, 10))
}

func (w *lineWriter) String() string {
	return w.sb.String()
}

// lineReader walks the lines of a frame.
type lineReader struct {
	lines []string
	pos   int
}

func (r *lineReader) remaining() int {
	return len(r.lines) - r.pos
}

func (r *lineReader) next(field string) (string, error) {
	if r.pos >= len(r.lines) {
		return "", malformed("missing " + field)
	}
	s := r.lines[r.pos]
	r.pos++
	return s, nil
}

func (r *lineReader) counter(field string) (int64, error) {
	s, err := r.next(field)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, malformed("invalid " + field + " " + strconv.Quote(s))
	}
	return n, nil
}

func (r *lineReader) rest() []string {
	if r.pos >= len(r.lines) {
		return nil
	}
	rest := r.lines[r.pos:]
	r.pos = len(r.lines)
	return rest
}
