/*
Package userdata resolves and renders cloud-init userdata for instances.

Templates live in an operator-managed directory, looked up per instance by
hostname then MAC (with and without a .yaml suffix), with a configurable
fallback cloud-config used when nothing matches. Template data comes from
the server configuration: hostname, public keys, optional password and any
operator-supplied template-data values.
*/
package userdata
