/*
Package render turns a registry snapshot into dnsmasq host-file content.

Rendering is deliberately pure and deterministic: no I/O, no clock, no
randomness. The publisher relies on byte-identical output for identical
snapshots to decide whether anything actually changed.

Two files are produced per snapshot:

	DHCP hosts   one "mac,hostname,ipv4" line per record
	DNS hosts    one "ipv4 name..." line per record

The set and order of DNS names per record is controlled by an ordered list of
entry tokens over {base, prefix, domain}. Each token has an applicability
check (prefix and domain forms require the corresponding configuration);
inapplicable tokens are skipped and the bare name is used as a fallback when
no token applies at all.
*/
package render
