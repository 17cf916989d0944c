// Package whitelist loads the ranges that must never be counted or banned.
package whitelist

import (
	"net/netip"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/lao-tseu-is-alive/go-ban-watch/internal/errkind"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/ipset"
)

// safetyRanges are always whitelisted when the safety whitelist is enabled.
var safetyRanges = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
}

// Options controls what Load adds besides the file content.
type Options struct {
	// Safety adds loopback and the current SSH client address.
	Safety bool
	// SSHConnection is the value of $SSH_CONNECTION ("client_ip client_port server_ip server_port").
	SSHConnection string
}

// Whitelist is an immutable set of network ranges.
type Whitelist struct {
	set *ipset.Set
}

// FromPrefixes builds a whitelist directly from ranges.
func FromPrefixes(prefixes []netip.Prefix) *Whitelist {
	return &Whitelist{set: ipset.New(prefixes)}
}

// Load reads the whitelist file once. A missing or unreadable file yields an
// empty whitelist (plus the safety ranges, if enabled); that is logged and
// never fatal.
func Load(path string, opts Options, logger *log.Logger) *Whitelist {
	var prefixes []netip.Prefix

	if path != "" {
		set, skipped, err := ipset.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			logger.Warn("⚠️ whitelist file not found, nothing whitelisted from file", "path", path)
		case err != nil:
			logger.Warn("⚠️ cannot read whitelist file, nothing whitelisted from file", "path", path, "err", err)
		default:
			prefixes = append(prefixes, set.Entries()...)
			for _, entry := range skipped {
				logger.Warn("⚠️ skipping invalid whitelist entry", "path", path, "err", ipset.EntryError("parse whitelist", entry))
			}
		}
	}

	if opts.Safety {
		prefixes = append(prefixes, safetyRanges...)
		if ip, ok := sshClientAddr(opts.SSHConnection); ok {
			logger.Info("🛡️ whitelisting current SSH session", "ip", ip)
			prefixes = append(prefixes, ipset.HostPrefix(ip))
		}
	}

	w := FromPrefixes(prefixes)
	logger.Info("📋 whitelist loaded", "path", path, "ranges", w.Len())
	return w
}

// Contains reports whether addr is inside any whitelisted range.
// An invalid address is a caller error, never a silent false.
func (w *Whitelist) Contains(addr netip.Addr) (bool, error) {
	if !addr.IsValid() {
		return false, errkind.Errorf(errkind.Validation, "whitelist lookup", "invalid address")
	}
	return w.set.Contains(addr), nil
}

// Len returns the number of ranges.
func (w *Whitelist) Len() int {
	return w.set.Len()
}

func sshClientAddr(sshConnection string) (netip.Addr, bool) {
	fields := strings.Fields(sshConnection)
	if len(fields) == 0 {
		return netip.Addr{}, false
	}
	ip, err := netip.ParseAddr(fields[0])
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}
