package types

import "errors"

// Error taxonomy for the registry core. All errors are scoped to a single
// upload or lookup; none are fatal to the running service.
var (
	// ErrValidation marks an upload with missing or malformed identity
	// fields. The store is never mutated for such an upload.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned by lookups that miss.
	ErrNotFound = errors.New("not found")

	// ErrAddressSpaceExhausted means no free address remains in the
	// configured range.
	ErrAddressSpaceExhausted = errors.New("address space exhausted")

	// ErrPersistence marks a failed database snapshot write. The previous
	// on-disk state remains authoritative.
	ErrPersistence = errors.New("persistence failed")

	// ErrPublish marks a failed host-file write. The resolver config is not
	// updated past the last fully published generation.
	ErrPublish = errors.New("publish failed")
)
