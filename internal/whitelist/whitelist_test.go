package whitelist

import (
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lao-tseu-is-alive/go-ban-watch/internal/errkind"
)

var quiet = log.New(io.Discard)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "whitelist.acl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func mustContain(t *testing.T, w *Whitelist, ip string) bool {
	t.Helper()
	ok, err := w.Contains(netip.MustParseAddr(ip))
	require.NoError(t, err)
	return ok
}

func TestLoadFromFile(t *testing.T) {
	path := writeFile(t, "10.0.0.0/24\n192.168.1.100\ninvalid\n# comment\n")

	w := Load(path, Options{}, quiet)

	assert.Equal(t, 2, w.Len())
	assert.True(t, mustContain(t, w, "10.0.0.5"))
	assert.True(t, mustContain(t, w, "192.168.1.100"))
	assert.False(t, mustContain(t, w, "192.168.1.101"))
	assert.False(t, mustContain(t, w, "127.0.0.1"), "loopback only comes from the safety option")
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	w := Load(filepath.Join(t.TempDir(), "nope.acl"), Options{}, quiet)

	assert.Equal(t, 0, w.Len())
	assert.False(t, mustContain(t, w, "10.0.0.5"))
}

func TestLoadSafetyRanges(t *testing.T) {
	w := Load("", Options{Safety: true, SSHConnection: "203.0.113.9 52144 10.0.0.1 22"}, quiet)

	assert.True(t, mustContain(t, w, "127.0.0.1"))
	assert.True(t, mustContain(t, w, "127.8.8.8"))
	assert.True(t, mustContain(t, w, "::1"))
	assert.True(t, mustContain(t, w, "203.0.113.9"))
	assert.False(t, mustContain(t, w, "203.0.113.10"))
}

func TestSSHClientAddr(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"ipv4 session", "203.0.113.9 52144 10.0.0.1 22", "203.0.113.9", true},
		{"ipv6 session", "2001:db8::7 52144 2001:db8::1 22", "2001:db8::7", true},
		{"empty", "", "", false},
		{"garbage", "not-an-ip 1 2 3", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := sshClientAddr(tt.input)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, got.String())
			}
		})
	}
}

func TestContainsInvalidAddress(t *testing.T) {
	w := FromPrefixes([]netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")})

	ok, err := w.Contains(netip.Addr{})
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Validation))
}
