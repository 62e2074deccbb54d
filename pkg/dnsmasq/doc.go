/*
Package dnsmasq synchronizes rendered host data with an external dnsmasq
process.

The coordinator exclusively owns a file tree under the configured base
directory:

	<base>/dhcp/<net>.dhcp-hosts   DHCP host assignments
	<base>/dns/<net>.dns-hosts     DNS host names
	<base>/<net>.opts              DHCP options
	<base>/<net>.conf              dnsmasq configuration

Each configuration generation moves through a fixed pipeline:

	Pending -> Published -> Committed -> Notified | Deferred

Publishing is two-phase. Phase one renames both host files into place (each
written to a temp file first, so no reader ever sees partial content). Phase
two writes the top-level config file that references them. The config file's
existence is the contract with external process supervision: dnsmasq is only
started once it appears, and because it is written last, dnsmasq can never
start against a half-written host-file set. Collapsing the two phases into
one write would reintroduce exactly that startup race.

Reload delivery is best effort by design. If the resolver's pid file does
not exist yet the signal is deferred, not failed; the next committed
generation re-checks and re-signals, so a missed reload heals on the
following config change without a dedicated retry timer.
*/
package dnsmasq
