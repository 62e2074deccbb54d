/*
Package types defines the shared data types for mdserver.

The central type is InstanceRecord, the unit of the instance registry: one
virtual machine identified by its libvirt domain UUID and the MAC address of
its NIC on the metadata network, together with the IPv4 address allocated to
it and free-form metadata extracted upstream.

The package also defines the error taxonomy shared by the store, allocator
and publish pipeline, so that callers can classify failures with errors.Is
without importing the packages that produce them.
*/
package types
