package errors

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig    Category = "config"
	CategoryServer    Category = "server"
	CategoryTransport Category = "transport"
	CategoryProtocol  Category = "protocol"
	CategoryCLI       Category = "cli"
)

// Location represents a position in a configuration file.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// ChannelError is a structured error with an optional file location and a
// suggestion for the operator.
type ChannelError struct {
	// Code is a unique error identifier (e.g., "C001").
	Code string

	// Category is the error type (config, transport, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is the file position where the error occurred.
	Location *Location

	// Context contains the surrounding file lines.
	Context []string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// DocURL is a link to documentation about this error.
	DocURL string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *ChannelError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *ChannelError) Unwrap() error {
	return e.Wrapped
}

// WithLocation adds a file location to the error.
func (e *ChannelError) WithLocation(file string, line, column int) *ChannelError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = readContextLines(file, line, contextLines)
	return e
}

// yamlLine matches the position yaml.v3 puts into its error messages.
var yamlLine = regexp.MustCompile(`line (\d+)`)

// WithLocationFromError extracts a line number from a parser error such as
// "yaml: line 3: mapping values are not allowed in this context".
func (e *ChannelError) WithLocationFromError(file string, err error) *ChannelError {
	if err == nil {
		return e
	}
	m := yamlLine.FindStringSubmatch(err.Error())
	if m == nil {
		return e
	}
	line, _ := strconv.Atoi(m[1])
	if line > 0 {
		e.WithLocation(file, line, 0)
	}
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *ChannelError) WithSuggestion(s string) *ChannelError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *ChannelError) WithDetail(d string) *ChannelError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *ChannelError) Wrap(err error) *ChannelError {
	e.Wrapped = err
	return e
}

// contextLines is the number of file lines shown around a location.
const contextLines = 5

// readContextLines reads lines around the specified line number from a file.
func readContextLines(filename string, targetLine, contextSize int) []string {
	file, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	lineNum := 0
	startLine := targetLine - contextSize/2
	endLine := targetLine + contextSize/2

	for scanner.Scan() {
		lineNum++
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, scanner.Text())
		}
		if lineNum > endLine {
			break
		}
	}

	return lines
}

// New creates a ChannelError from a registered error code.
func New(code string) *ChannelError {
	template, ok := registry[code]
	if !ok {
		return &ChannelError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &ChannelError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
		DocURL:   template.DocURL,
	}
}

// Newf creates a new ChannelError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *ChannelError {
	return &ChannelError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a ChannelError.
func FromError(err error, code string) *ChannelError {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*ChannelError); ok {
		return ce
	}
	return New(code).Wrap(err)
}
