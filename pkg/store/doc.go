/*
Package store implements the durable instance registry.

The registry is a single JSON array on disk, one object per instance, in
first-seen order. Every committed upsert rewrites the full array to a temp
file and atomically renames it over the database file, so a crash mid-write
never leaves a truncated database; the previous snapshot simply stays
authoritative.

# Concurrency

Writers serialize on the store's internal lock. Readers are the metadata
hot path and never take that lock: each committed write publishes an
immutable snapshot (records plus identity indices) behind an atomic pointer,
and every lookup resolves against the snapshot current at call time. A
lookup issued after Upsert returns is therefore guaranteed to observe that
upsert.

# Identity

Records are matched by domain UUID first and MAC second. The MAC fallback
handles domains that were destroyed and re-created with a fresh UUID but the
same NIC: the existing record is updated in place, keeping its address and
its first_seen timestamp, instead of leaking a duplicate.
*/
package store
