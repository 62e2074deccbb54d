/*
Package api serves the EC2-compatible metadata HTTP endpoints.

Read endpoints identify the calling instance by the source address of the
request, resolved through the registry; they cover the subset of the EC2
metadata tree cloud-init needs (hostname, instance-id, public keys and
user-data). The single write endpoint, POST /instance-upload, accepts
libvirt domain XML from the local host and feeds it into the registry's
upsert pipeline. /health and /metrics serve operators.
*/
package api
