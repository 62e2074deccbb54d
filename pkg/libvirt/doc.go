/*
Package libvirt extracts instance identity from libvirt domain XML.

The libvirt qemu hook POSTs the full domain XML to mdserver on every VM
start; only the domain name, UUID and the MAC of the interface attached to
the metadata network are of interest here.
*/
package libvirt
