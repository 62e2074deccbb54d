/*
Package registry is the facade over the instance store, address allocator,
renderer and reload coordinator.

An upload flows through one serialized critical section:

	validate -> upsert record -> allocate IPv4 -> persist snapshot
	         -> render host files -> publish -> commit -> notify resolver

Metadata lookups (by source address or identity) bypass all of that and read
the store's latest committed snapshot directly; a lookup issued after an
upload returns always reflects that upload.
*/
package registry
