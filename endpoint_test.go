package kadstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		address string
		service string
		valid   bool
	}{
		{"ipv4", "192.168.1.1:27980", "192.168.1.1", "27980", true},
		{"ipv6", "[2001:db8::1]:27980", "2001:db8::1", "27980", true},
		{"hostname", "example.com:27980", "example.com", "27980", true},
		{"service name", "localhost:domain", "localhost", "domain", true},
		{"missing port", "192.168.1.1", "", "", false},
		{"bare ipv6", "2001:db8::1", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := ParseEndpoint(tt.input)
			if !tt.valid {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.address, e.Address)
			assert.Equal(t, tt.service, e.Service)
		})
	}
}

func TestEndpoint_String(t *testing.T) {
	assert.Equal(t, "10.0.0.1:27980", NewEndpoint("10.0.0.1", 27980).String())
	assert.Equal(t, "[::1]:80", NewEndpoint("::1", 80).String())
}

func TestEndpoint_StringRoundTrip(t *testing.T) {
	for _, s := range []string{"10.0.0.1:27980", "[2001:db8::1]:4242"} {
		e, err := ParseEndpoint(s)
		require.NoError(t, err)
		assert.Equal(t, s, e.String())
	}
}
