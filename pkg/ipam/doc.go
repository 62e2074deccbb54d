/*
Package ipam allocates IPv4 addresses for instances from the configured
metadata subnet.

The policy is linear lowest-free: scan the range in ascending numeric order
and take the first address not held by a live record, skipping the network,
broadcast and gateway addresses. An identity that already holds an in-range
address keeps it across re-uploads; a held address that falls outside the
currently configured range (operator reconfiguration) is re-allocated.
*/
package ipam
