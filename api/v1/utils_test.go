package v1

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstPublicIP(t *testing.T) {
	testCases := []struct {
		name       string
		candidates []string
		expected   string
	}{
		{
			name:       "Single public address",
			candidates: []string{"203.0.113.10"},
			expected:   "203.0.113.10",
		},
		{
			name:       "Skips private hops",
			candidates: []string{"10.0.0.1", "192.168.1.5", "203.0.113.10"},
			expected:   "203.0.113.10",
		},
		{
			name:       "Skips loopback",
			candidates: []string{"127.0.0.1", "198.51.100.7"},
			expected:   "198.51.100.7",
		},
		{
			name:       "Handles whitespace",
			candidates: []string{"  203.0.113.10  "},
			expected:   "203.0.113.10",
		},
		{
			name:       "All private",
			candidates: []string{"10.0.0.1", "172.16.0.1"},
			expected:   "",
		},
		{
			name:       "Garbage input",
			candidates: []string{"not-an-ip", ""},
			expected:   "",
		},
		{
			name:       "Public IPv6",
			candidates: []string{"2001:db8::1"},
			expected:   "2001:db8::1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, firstPublicIP(tc.candidates))
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	assert.True(t, isPrivateIP(nil))
	assert.True(t, isPrivateIP(net.ParseIP("10.1.2.3")))
	assert.True(t, isPrivateIP(net.ParseIP("127.0.0.1")))
	assert.True(t, isPrivateIP(net.ParseIP("169.254.0.1")))
	assert.True(t, isPrivateIP(net.ParseIP("0.0.0.0")))
	assert.False(t, isPrivateIP(net.ParseIP("203.0.113.10")))
}
