// Package ipset holds immutable sets of IP prefixes read from plain text
// list files (one address or CIDR per line), as used for the whitelist and
// the HAProxy ban ACL.
package ipset

import (
	"bufio"
	"io"
	"net/netip"
	"os"
	"strings"

	"github.com/gaissmai/bart"

	"github.com/lao-tseu-is-alive/go-ban-watch/internal/errkind"
)

// Set is a read-only set of prefixes backed by a BART trie.
// The zero value is not usable; build one with New, Read or ReadFile.
type Set struct {
	trie    *bart.Lite
	entries []netip.Prefix
}

// New builds a Set from prefixes. Invalid prefixes are dropped.
func New(prefixes []netip.Prefix) *Set {
	s := &Set{trie: new(bart.Lite)}
	for _, p := range prefixes {
		if !p.IsValid() {
			continue
		}
		s.trie.Insert(p.Masked())
		s.entries = append(s.entries, p)
	}
	return s
}

// Empty returns a set without entries.
func Empty() *Set {
	return New(nil)
}

// Contains reports whether ip falls inside any prefix of the set.
// IPv4-mapped IPv6 addresses are unmapped first so they match IPv4 ranges.
func (s *Set) Contains(ip netip.Addr) bool {
	if s == nil || s.trie == nil || !ip.IsValid() {
		return false
	}
	return s.trie.Contains(ip.Unmap())
}

// Len returns the number of entries read into the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entries returns the prefixes in file order.
func (s *Set) Entries() []netip.Prefix {
	if s == nil {
		return nil
	}
	out := make([]netip.Prefix, len(s.entries))
	copy(out, s.entries)
	return out
}

// HostPrefix converts a single address to a /32 or /128 prefix.
func HostPrefix(ip netip.Addr) netip.Prefix {
	ip = ip.Unmap()
	return netip.PrefixFrom(ip, ip.BitLen())
}

// ParseEntry parses one list entry, either a CIDR or a bare address.
func ParseEntry(s string) (netip.Prefix, bool) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p, true
	}
	if ip, err := netip.ParseAddr(s); err == nil {
		return HostPrefix(ip), true
	}
	return netip.Prefix{}, false
}

// Parse reads one IP or CIDR per line.
// Lines starting with # or ; are comments and empty lines are skipped.
// Trailing inline comments ("10.0.0.0/8 # office") are stripped.
// Entries that do not parse are returned in skipped so callers can warn.
func Parse(r io.Reader) (prefixes []netip.Prefix, skipped []string, err error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if idx := strings.IndexAny(line, ";#"); idx != -1 {
			line = strings.TrimSpace(line[:idx])
		}
		if p, ok := ParseEntry(line); ok {
			prefixes = append(prefixes, p)
			continue
		}
		skipped = append(skipped, line)
	}
	return prefixes, skipped, scanner.Err()
}

// Read parses r and builds a Set.
func Read(r io.Reader) (*Set, []string, error) {
	prefixes, skipped, err := Parse(r)
	if err != nil {
		return nil, skipped, err
	}
	return New(prefixes), skipped, nil
}

// ReadFile opens path and builds a Set from it.
// The returned error is the raw os error so callers can test os.IsNotExist.
func ReadFile(path string) (*Set, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return Read(f)
}

// EntryError describes a skipped entry of a list file as a Parse error.
func EntryError(op, entry string) error {
	return errkind.Errorf(errkind.Parse, op, "not an address or CIDR: %q", entry)
}
