package ipam

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtmds/mdserver/pkg/types"
)

func testAllocator(t *testing.T, network string, prefix int, gateway string) *Allocator {
	t.Helper()
	a, err := New(network, prefix, gateway, zerolog.Nop())
	require.NoError(t, err)
	return a
}

// TestAllocateLowestFree walks a /29 until exhaustion: 6 usable addresses,
// gateway reserved, so exactly 5 allocations succeed in ascending order.
func TestAllocateLowestFree(t *testing.T) {
	a := testAllocator(t, "10.0.0.0", 29, "10.0.0.1")
	used := make(map[string]struct{})

	want := []string{"10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5", "10.0.0.6"}
	for _, expected := range want {
		ip, err := a.Allocate("", "", used)
		require.NoError(t, err)
		assert.Equal(t, expected, ip)
		used[ip] = struct{}{}
	}

	_, err := a.Allocate("", "", used)
	assert.ErrorIs(t, err, types.ErrAddressSpaceExhausted)
}

// TestAllocateIdempotent verifies a held in-range address is kept
func TestAllocateIdempotent(t *testing.T) {
	a := testAllocator(t, "10.0.0.0", 24, "10.0.0.1")
	used := map[string]struct{}{"10.0.0.9": {}}

	ip, err := a.Allocate("10.0.0.9", "", used)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", ip)
}

// TestAllocateReallocatesOutOfRange verifies a held address outside the
// configured subnet triggers re-allocation
func TestAllocateReallocatesOutOfRange(t *testing.T) {
	a := testAllocator(t, "10.0.0.0", 24, "10.0.0.1")

	ip, err := a.Allocate("192.168.1.50", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", ip)
}

// TestAllocateGatewayNeverAssigned verifies the gateway is skipped even when
// held or hinted
func TestAllocateGatewayNeverAssigned(t *testing.T) {
	a := testAllocator(t, "10.0.0.0", 29, "10.0.0.2")
	used := make(map[string]struct{})

	ip, err := a.Allocate("10.0.0.2", "10.0.0.2", used)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ip)

	// fill the range and confirm the gateway is never handed out
	for err == nil {
		used[ip] = struct{}{}
		ip, err = a.Allocate("", "", used)
		assert.NotEqual(t, "10.0.0.2", ip)
	}
	assert.ErrorIs(t, err, types.ErrAddressSpaceExhausted)
}

// TestAllocateHint verifies a free in-range hint is honoured and a taken
// hint falls back to the scan
func TestAllocateHint(t *testing.T) {
	a := testAllocator(t, "10.0.0.0", 24, "10.0.0.1")

	ip, err := a.Allocate("", "10.0.0.40", nil)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.40", ip)

	used := map[string]struct{}{"10.0.0.40": {}}
	ip, err = a.Allocate("", "10.0.0.40", used)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", ip)
}

// TestAllocateDeterministic verifies two identical runs assign identically
func TestAllocateDeterministic(t *testing.T) {
	run := func() []string {
		a := testAllocator(t, "10.1.0.0", 28, "10.1.0.1")
		used := make(map[string]struct{})
		var got []string
		for i := 0; i < 5; i++ {
			ip, err := a.Allocate("", "", used)
			require.NoError(t, err)
			used[ip] = struct{}{}
			got = append(got, ip)
		}
		return got
	}
	assert.Equal(t, run(), run())
}

// TestUsable covers the reserved-address rules
func TestUsable(t *testing.T) {
	a := testAllocator(t, "10.0.0.0", 29, "10.0.0.1")

	tests := []struct {
		ip   string
		want bool
	}{
		{"10.0.0.0", false}, // network
		{"10.0.0.1", false}, // gateway
		{"10.0.0.2", true},
		{"10.0.0.6", true},
		{"10.0.0.7", false}, // broadcast
		{"10.0.0.8", false}, // outside
		{"fd00::1", false},  // not IPv4
		{"bogus", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("usable_%s", tt.ip), func(t *testing.T) {
			assert.Equal(t, tt.want, a.Usable(tt.ip))
		})
	}
}

// TestNewRejectsBadInput tests constructor validation
func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("not-an-ip", 24, "10.0.0.1", zerolog.Nop())
	assert.Error(t, err)

	_, err = New("10.0.0.0", 24, "not-an-ip", zerolog.Nop())
	assert.Error(t, err)

	_, err = New("fd00::", 64, "fd00::1", zerolog.Nop())
	assert.Error(t, err)
}
