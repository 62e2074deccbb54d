/*
Package config loads and validates mdserver configuration.

Configuration is a single YAML file overlaid on hard-coded defaults. The
recognized surface mirrors the historical mdserver options: the metadata
server section (listen address, port, userdata directory, database file), the
dnsmasq section (managed subnet, gateway, interface, lease length, host-name
policy, output directories) and logging.

Validation happens once at load time; the rest of the program can assume a
parseable subnet, an in-range gateway and a well-formed entry order.
*/
package config
