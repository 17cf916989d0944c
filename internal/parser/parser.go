// Package parser extracts the client address and HTTP status from access log
// lines (HAProxy, Nginx or Apache formats).
package parser

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

// defaultLineRegex matches a dotted-decimal IPv4 address followed, later on
// the line, by a whitespace-preceded three-digit status token.
// Group 1: IP, Group 2: status.
// The address must come first, so addresses inside URLs or headers that
// appear after the status are never picked up.
const defaultLineRegex = `\b(\d{1,3}(?:\.\d{1,3}){3})\b.*?\s(\d{3})\b`

var reLine = regexp.MustCompile(defaultLineRegex)

// Event is one parsed log line.
type Event struct {
	Addr   netip.Addr
	Status int
	Line   string
}

// Parser turns raw lines into events.
type Parser struct {
	re *regexp.Regexp
}

// New returns a parser using the built-in pattern.
func New() *Parser {
	return &Parser{re: reLine}
}

// NewWithRegex returns a parser using a custom pattern. The pattern must have
// two capture groups: the address first, then the status code.
func NewWithRegex(expr string) (*Parser, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() < 2 {
		return nil, fmt.Errorf("line regex %q needs two capture groups (address, status), has %d", expr, re.NumSubexp())
	}
	return &Parser{re: re}, nil
}

// Parse extracts an Event from line. The boolean is false for lines that do
// not have the expected shape; that is the normal outcome for unrelated
// lines and is not an error.
func (p *Parser) Parse(line string) (Event, bool) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Event{}, false
	}

	m := p.re.FindStringSubmatch(line)
	if len(m) < 3 {
		return Event{}, false
	}

	ip, err := netip.ParseAddr(m[1])
	if err != nil {
		return Event{}, false
	}

	status, err := strconv.Atoi(m[2])
	if err != nil || len(m[2]) != 3 {
		return Event{}, false
	}

	return Event{Addr: ip.Unmap(), Status: status, Line: line}, true
}

// Parse runs the default parser on line.
func Parse(line string) (Event, bool) {
	return New().Parse(line)
}
