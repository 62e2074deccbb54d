package registry

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/virtmds/mdserver/pkg/dnsmasq"
	"github.com/virtmds/mdserver/pkg/ipam"
	"github.com/virtmds/mdserver/pkg/metrics"
	"github.com/virtmds/mdserver/pkg/render"
	"github.com/virtmds/mdserver/pkg/store"
	"github.com/virtmds/mdserver/pkg/types"
)

// Registry is the facade the HTTP layer talks to. Writes run the whole
// upsert -> allocate -> persist -> render -> publish -> notify sequence as
// one serialized critical section, so two near-simultaneous uploads can
// never interleave into a corrupt file set and renders reach the resolver in
// commit order. Reads resolve against the store's lock-free snapshots and
// never wait behind that section.
type Registry struct {
	mu     sync.Mutex
	store  *store.Store
	alloc  *ipam.Allocator
	policy render.Policy
	coord  *dnsmasq.Coordinator
	logger zerolog.Logger
}

// New assembles the facade from its parts.
func New(st *store.Store, alloc *ipam.Allocator, policy render.Policy, coord *dnsmasq.Coordinator, logger zerolog.Logger) *Registry {
	return &Registry{
		store:  st,
		alloc:  alloc,
		policy: policy,
		coord:  coord,
		logger: logger,
	}
}

// Bootstrap creates the dnsmasq file tree and publishes the registry's
// current state, so the external supervisor can start the resolver even
// before the first upload arrives.
func (r *Registry) Bootstrap() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.coord.EnsureLayout(); err != nil {
		return err
	}
	snap := r.store.Snapshot()
	metrics.InstancesTotal.Set(float64(len(snap)))
	return r.applyLocked(snap)
}

// UpsertInstance validates and records an instance upload, allocating an
// IPv4 address when the identity does not already hold one, and synchronizes
// the resolver with the result.
//
// Failure semantics per stage: validation and allocation failures leave the
// store untouched; a persistence failure aborts with the previous on-disk
// snapshot authoritative; a publish failure leaves the record committed to
// the store but the resolver on its previous configuration generation (the
// next successful upload republishes everything, since rendering always
// covers the full registry).
func (r *Registry) UpsertInstance(req types.UpsertRequest) (types.InstanceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := store.NormalizeRequest(&req); err != nil {
		metrics.UploadsTotal.WithLabelValues("invalid").Inc()
		return types.InstanceRecord{}, err
	}

	held := ""
	if rec, err := r.store.GetByUUID(req.DomainUUID); err == nil {
		held = rec.IPv4
	} else if rec, err := r.store.GetByMAC(req.MAC); err == nil {
		held = rec.IPv4
	}

	used := r.store.UsedIPv4()
	// the identity's own address is free for it to keep or trade in
	delete(used, held)
	ip, err := r.alloc.Allocate(held, req.IPv4Hint, used)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("exhausted").Inc()
		r.logger.Warn().Str("domain", req.DomainName).Err(err).Msg("address allocation failed")
		return types.InstanceRecord{}, err
	}
	if ip != held {
		metrics.AllocationsTotal.Inc()
	}

	rec, err := r.store.Upsert(req, ip)
	if err != nil {
		if errors.Is(err, types.ErrValidation) {
			metrics.UploadsTotal.WithLabelValues("invalid").Inc()
		} else {
			metrics.UploadsTotal.WithLabelValues("persist_failed").Inc()
		}
		return types.InstanceRecord{}, err
	}

	snap := r.store.Snapshot()
	metrics.InstancesTotal.Set(float64(len(snap)))
	if err := r.applyLocked(snap); err != nil {
		metrics.UploadsTotal.WithLabelValues("publish_failed").Inc()
		// the record is durable; the resolver stays on the previous
		// generation until the next successful cycle
		return rec, err
	}
	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	return rec, nil
}

// applyLocked renders the snapshot and drives the coordinator. Caller holds
// the write lock.
func (r *Registry) applyLocked(snap []types.InstanceRecord) error {
	files := render.Render(snap, r.policy)
	metrics.RendersTotal.Inc()
	if err := r.coord.Apply(files); err != nil {
		return err
	}
	switch r.coord.State() {
	case dnsmasq.StateNotified:
		metrics.ReloadSignalsTotal.WithLabelValues("signalled").Inc()
	case dnsmasq.StateDeferred:
		metrics.ReloadSignalsTotal.WithLabelValues("deferred").Inc()
	}
	return nil
}

// LookupByAddress returns the record holding the given IPv4 address. This is
// the metadata hot path.
func (r *Registry) LookupByAddress(ip string) (types.InstanceRecord, error) {
	return r.store.GetByIP(ip)
}

// LookupByIdentity returns the record for a MAC address or domain UUID.
func (r *Registry) LookupByIdentity(id string) (types.InstanceRecord, error) {
	rec, err := r.store.GetByMAC(id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return types.InstanceRecord{}, err
	}
	return r.store.GetByUUID(id)
}

// Snapshot returns all records in first-seen order.
func (r *Registry) Snapshot() []types.InstanceRecord {
	return r.store.Snapshot()
}
