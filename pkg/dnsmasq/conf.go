package dnsmasq

import (
	"fmt"
	"path/filepath"
	"strings"
)

// buildConf produces the dnsmasq configuration referencing the published
// host files. dhcp-hostsfile and hostsdir point at the directories the
// coordinator publishes into, so dnsmasq picks the files up by path.
func (c *Coordinator) buildConf() string {
	var b strings.Builder
	b.WriteString("## WARNING: THIS IS AN AUTO-GENERATED FILE. MANUAL CHANGES WILL BE\n")
	b.WriteString("## OVERWRITTEN.\n")
	b.WriteString("#\n")
	b.WriteString("# This file is managed by mdserver - changes should be made through\n")
	b.WriteString("# the mdserver configuration.\n")
	fmt.Fprintf(&b, "user=%s\n", c.cfg.User)
	b.WriteString("leasefile-ro\n")
	b.WriteString("strict-order\n")
	b.WriteString("expand-hosts\n")
	fmt.Fprintf(&b, "pid-file=%s\n", filepath.Join(c.cfg.RunDir, c.cfg.NetName+".pid"))

	// Listening on lo (test setups) needs the except-interface dropped.
	exceptInterface := "except-interface=lo"
	listenAddress := "# no listen address defined"
	if c.cfg.ListenAddress != "" {
		listenAddress = "listen-address=" + c.cfg.ListenAddress
		if strings.HasPrefix(c.cfg.ListenAddress, "127.") && c.cfg.Interface == "lo" {
			exceptInterface = "# don't ignore lo"
		}
	}
	b.WriteString(exceptInterface + "\n")
	b.WriteString(listenAddress + "\n")

	fmt.Fprintf(&b, "interface=%s\n", c.cfg.Interface)
	fmt.Fprintf(&b, "dhcp-range=%s,static\n", c.cfg.Gateway)
	b.WriteString("dhcp-no-override\n")
	fmt.Fprintf(&b, "dhcp-lease-max=%d\n", c.cfg.LeaseLen)
	fmt.Fprintf(&b, "dhcp-hostsfile=%s\n", filepath.Join(c.cfg.BaseDir, "dhcp"))
	fmt.Fprintf(&b, "dhcp-optsfile=%s\n", c.OptsPath())
	fmt.Fprintf(&b, "hostsdir=%s\n", filepath.Join(c.cfg.BaseDir, "dns"))
	if c.cfg.Domain != "" {
		fmt.Fprintf(&b, "domain=%s\n", c.cfg.Domain)
	}
	return b.String()
}

// buildOpts produces the DHCP options file: a classless static route that
// sends metadata traffic via the gateway (emitted under both the symbolic
// name and legacy option 249 for older clients), the router option, and
// optionally the gateway as DNS server.
func (c *Coordinator) buildOpts() string {
	var b strings.Builder
	fmt.Fprintf(&b, "option:classless-static-route,%s/32,%s,0.0.0.0/0,%s\n",
		c.cfg.MdsAddress, c.cfg.Gateway, c.cfg.Gateway)
	fmt.Fprintf(&b, "249,%s/32,%s,0.0.0.0/0,%s\n",
		c.cfg.MdsAddress, c.cfg.Gateway, c.cfg.Gateway)
	fmt.Fprintf(&b, "option:router,%s\n", c.cfg.Gateway)
	if c.cfg.UseDNS {
		fmt.Fprintf(&b, "option:dns-server,%s\n", c.cfg.Gateway)
	}
	return b.String()
}
