package ipam

import (
	"fmt"
	"net"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/rs/zerolog"

	"github.com/virtmds/mdserver/pkg/types"
)

// Allocator hands out IPv4 addresses from a single configured subnet. The
// network address, broadcast address and gateway are reserved and never
// allocated.
//
// Allocation is deliberately deterministic: the lowest free address wins.
// Two runs over the same registry state produce the same assignment, which
// keeps tests reproducible and makes address churn easy to reason about.
type Allocator struct {
	network *net.IPNet
	gateway net.IP
	logger  zerolog.Logger
}

// New builds an allocator for netAddress/prefix with the given reserved
// gateway address.
func New(netAddress string, prefix int, gateway string, logger zerolog.Logger) (*Allocator, error) {
	_, network, err := net.ParseCIDR(fmt.Sprintf("%s/%d", netAddress, prefix))
	if err != nil {
		return nil, fmt.Errorf("invalid network %s/%d: %w", netAddress, prefix, err)
	}
	if network.IP.To4() == nil {
		return nil, fmt.Errorf("network %s is not IPv4", network)
	}
	gw := net.ParseIP(gateway)
	if gw == nil || gw.To4() == nil {
		return nil, fmt.Errorf("invalid gateway %q", gateway)
	}
	return &Allocator{network: network, gateway: gw.To4(), logger: logger}, nil
}

// Usable reports whether ip is an address this allocator could hand out:
// a parseable IPv4 address inside the subnet that is not the network,
// broadcast or gateway address.
func (a *Allocator) Usable(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return false
	}
	parsed = parsed.To4()
	if !a.network.Contains(parsed) {
		return false
	}
	if parsed.Equal(a.gateway) {
		return false
	}
	first, last := cidr.AddressRange(a.network)
	if parsed.Equal(first.To4()) || parsed.Equal(last.To4()) {
		return false
	}
	return true
}

// Allocate returns the IPv4 address for an identity.
//
// If the identity already holds a usable address inside the current range it
// is returned unchanged, making re-uploads idempotent (libvirt hooks
// re-upload domain XML on every VM start). A held address outside the range
// means the operator reconfigured the subnet and triggers re-allocation.
// A usable, free hint is honored next. Otherwise the range is scanned in
// ascending order for the lowest free address. Exhaustion is a hard error;
// there is no retry.
func (a *Allocator) Allocate(held, hint string, used map[string]struct{}) (string, error) {
	if held != "" && a.Usable(held) {
		return held, nil
	}
	if held != "" {
		a.logger.Info().
			Str("held", held).
			Str("network", a.network.String()).
			Msg("held address outside configured range, re-allocating")
	}
	if hint != "" && a.Usable(hint) {
		if _, taken := used[hint]; !taken {
			return hint, nil
		}
	}

	count := cidr.AddressCount(a.network)
	for i := uint64(1); i+1 < count; i++ {
		ip, err := cidr.Host(a.network, int(i))
		if err != nil {
			break
		}
		if ip.Equal(a.gateway) {
			continue
		}
		addr := ip.String()
		if _, taken := used[addr]; taken {
			continue
		}
		a.logger.Debug().Str("ipv4", addr).Msg("address allocated")
		return addr, nil
	}
	return "", fmt.Errorf("%w: no free address in %s", types.ErrAddressSpaceExhausted, a.network)
}
