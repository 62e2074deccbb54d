package libvirt

import (
	"encoding/xml"
	"fmt"

	"github.com/virtmds/mdserver/pkg/types"
)

// domainXML maps the subset of libvirt domain XML mdserver cares about: the
// domain's name and UUID, and the MAC address of each network interface.
type domainXML struct {
	Name    string `xml:"name"`
	UUID    string `xml:"uuid"`
	Devices struct {
		Interfaces []domainInterface `xml:"interface"`
	} `xml:"devices"`
}

type domainInterface struct {
	Source struct {
		Network string `xml:"network,attr"`
	} `xml:"source"`
	MAC struct {
		Address string `xml:"address,attr"`
	} `xml:"mac"`
}

// DomainData extracts an upsert request from libvirt domain XML: the domain
// name and UUID, and the MAC of the first interface attached to the given
// libvirt network. A domain without an interface on that network is rejected
// as a validation failure.
func DomainData(data []byte, network string) (types.UpsertRequest, error) {
	var dom domainXML
	if err := xml.Unmarshal(data, &dom); err != nil {
		return types.UpsertRequest{}, fmt.Errorf("%w: malformed domain XML: %v", types.ErrValidation, err)
	}
	req := types.UpsertRequest{
		DomainName: dom.Name,
		DomainUUID: dom.UUID,
	}
	for _, iface := range dom.Devices.Interfaces {
		if iface.Source.Network == network {
			req.MAC = iface.MAC.Address
			return req, nil
		}
	}
	return types.UpsertRequest{}, fmt.Errorf("%w: domain %q has no interface on network %q",
		types.ErrValidation, dom.Name, network)
}
