package parser

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantIP     string
		wantStatus int
		wantMatch  bool
	}{
		{
			name:       "haproxy http log 429",
			line:       `Oct 18 10:00:00 lb1 haproxy[2211]: 203.0.113.7:51234 [18/Oct/2026:10:00:00.123] fe_https be_app/srv1 0/0/0/1/1 429 188 - - ---- 1/1/0/0/0 0/0 "GET /api HTTP/1.1"`,
			wantIP:     "203.0.113.7",
			wantStatus: 429,
			wantMatch:  true,
		},
		{
			name:       "combined log format 404",
			line:       `192.168.1.50 - - [16/Jan/2026:10:00:00 +0000] "GET /admin HTTP/1.1" 404 123`,
			wantIP:     "192.168.1.50",
			wantStatus: 404,
			wantMatch:  true,
		},
		{
			name:       "unmonitored 200 still parses",
			line:       `10.0.0.5 - - "GET /x HTTP/1.1" 200 1234`,
			wantIP:     "10.0.0.5",
			wantStatus: 200,
			wantMatch:  true,
		},
		{
			name:       "address after status is ignored",
			line:       `10.0.0.5 - - "GET / HTTP/1.1" 403 12 "http://198.51.100.9/ref"`,
			wantIP:     "10.0.0.5",
			wantStatus: 403,
			wantMatch:  true,
		},
		{
			name:       "trailing crlf is stripped",
			line:       "10.0.0.5 - - \"GET / HTTP/1.1\" 418 0\r\n",
			wantIP:     "10.0.0.5",
			wantStatus: 418,
			wantMatch:  true,
		},
		{
			name:      "random garbage",
			line:      "random garbage no ip or status",
			wantMatch: false,
		},
		{
			name:      "empty line",
			line:      "",
			wantMatch: false,
		},
		{
			name:      "address without status",
			line:      "10.0.0.5 connected",
			wantMatch: false,
		},
		{
			name:      "status before address",
			line:      "429 from 10.0.0.5",
			wantMatch: false,
		},
		{
			name:      "four digit token is not a status",
			line:      `10.0.0.5 - - "GET / HTTP/1.1" 4040 12`,
			wantMatch: false,
		},
		{
			name:      "octets out of range",
			line:      `999.10.10.10 - - "GET / HTTP/1.1" 429 0`,
			wantMatch: false,
		},
		{
			name:      "ipv6 client is not dotted decimal",
			line:      `2001:db8::1 - - [16/Jan/2026:10:00:00 +0000] "GET /test HTTP/1.1" 404 100`,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := Parse(tt.line)
			require.Equal(t, tt.wantMatch, ok)
			if !tt.wantMatch {
				return
			}
			assert.Equal(t, netip.MustParseAddr(tt.wantIP), ev.Addr)
			assert.Equal(t, tt.wantStatus, ev.Status)
			assert.NotContains(t, ev.Line, "\n")
		})
	}
}

func TestNewWithRegex(t *testing.T) {
	p, err := NewWithRegex(`^client=(\S+) code=(\d{3})$`)
	require.NoError(t, err)

	ev, ok := p.Parse("client=198.51.100.4 code=418")
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("198.51.100.4"), ev.Addr)
	assert.Equal(t, 418, ev.Status)

	_, ok = p.Parse("client=nope code=418")
	assert.False(t, ok)

	_, err = NewWithRegex(`(unclosed`)
	assert.Error(t, err)

	_, err = NewWithRegex(`^(\S+) only one group$`)
	assert.Error(t, err)
}
