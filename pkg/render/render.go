package render

import (
	"fmt"
	"strings"

	"github.com/virtmds/mdserver/pkg/types"
)

// EntryToken selects one form of a DNS host name.
type EntryToken string

const (
	// TokenBase emits the bare domain name.
	TokenBase EntryToken = "base"
	// TokenPrefix emits the domain name with the configured prefix
	// prepended. Skipped when no prefix is configured.
	TokenPrefix EntryToken = "prefix"
	// TokenDomain emits the fully qualified name: prefixed domain name plus
	// the configured DNS domain. Skipped when no domain is configured.
	TokenDomain EntryToken = "domain"
)

// ParseOrder converts a configured entry_order list into tokens. Token names
// are case-insensitive; "fqdn" is accepted as an alias for "domain".
func ParseOrder(order []string) ([]EntryToken, error) {
	tokens := make([]EntryToken, 0, len(order))
	for _, o := range order {
		switch strings.ToLower(strings.TrimSpace(o)) {
		case "base":
			tokens = append(tokens, TokenBase)
		case "prefix":
			tokens = append(tokens, TokenPrefix)
		case "domain", "fqdn":
			tokens = append(tokens, TokenDomain)
		default:
			return nil, fmt.Errorf("unknown entry_order token %q", o)
		}
	}
	return tokens, nil
}

// Policy controls how DNS host names are derived from domain names.
type Policy struct {
	Prefix string
	Domain string
	Order  []EntryToken
}

// Files holds rendered dnsmasq host-file content. Rendering is a pure
// function of the registry snapshot and the policy: the same input always
// yields byte-identical output, which lets the publisher detect unchanged
// generations by comparison.
type Files struct {
	DHCPHosts string
	DNSHosts  string
}

// Render produces dnsmasq DHCP-hosts and DNS-hosts file content from a
// registry snapshot. Records are rendered in snapshot (first-seen) order.
// Records without an allocated IPv4 address are skipped.
func Render(records []types.InstanceRecord, p Policy) Files {
	var dhcp, dns strings.Builder
	for i := range records {
		rec := &records[i]
		if rec.IPv4 == "" {
			continue
		}
		hostname := SanitizeHostname(rec.DomainName, rec.IPv4)
		dhcp.WriteString(rec.MAC)
		dhcp.WriteByte(',')
		dhcp.WriteString(hostname)
		dhcp.WriteByte(',')
		dhcp.WriteString(rec.IPv4)
		dhcp.WriteByte('\n')

		names := p.names(hostname)
		dns.WriteString(rec.IPv4)
		dns.WriteByte(' ')
		dns.WriteString(strings.Join(names, " "))
		dns.WriteByte('\n')
	}
	return Files{DHCPHosts: dhcp.String(), DNSHosts: dns.String()}
}

// names expands the policy's entry order for one hostname. Tokens whose
// prerequisite configuration is absent are skipped, duplicates are dropped,
// and the bare name is emitted as a fallback when nothing else applies.
func (p Policy) names(hostname string) []string {
	prefixed := hostname
	if p.Prefix != "" {
		prefixed = p.Prefix + hostname
	}
	var names []string
	seen := make(map[string]bool)
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, tok := range p.Order {
		switch tok {
		case TokenBase:
			add(hostname)
		case TokenPrefix:
			if p.Prefix != "" {
				add(prefixed)
			}
		case TokenDomain:
			if p.Domain != "" {
				add(prefixed + "." + p.Domain)
			}
		}
	}
	if len(names) == 0 {
		names = append(names, hostname)
	}
	return names
}

// SanitizeHostname reduces a libvirt domain name to a valid DNS host label:
// lowercased, runs of invalid characters collapsed to a single hyphen,
// leading/trailing hyphens trimmed, capped at 63 bytes. An empty result
// falls back to host-<last IPv4 octet>.
func SanitizeHostname(name, ipv4 string) string {
	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(name) {
		valid := r == '-' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if valid {
			b.WriteRune(r)
			hyphen = false
		} else if !hyphen && b.Len() > 0 {
			b.WriteByte('-')
			hyphen = true
		}
	}
	label := strings.Trim(b.String(), "-")
	if len(label) > 63 {
		label = strings.Trim(label[:63], "-")
	}
	if label == "" {
		octets := strings.Split(ipv4, ".")
		label = "host-" + octets[len(octets)-1]
	}
	return label
}
