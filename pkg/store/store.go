package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/virtmds/mdserver/pkg/types"
)

// Store is the durable instance registry. Records are held in first-seen
// order; the same order is used for file rendering and for the on-disk JSON
// array, so renders are reproducible across restarts.
//
// Writers serialize on an internal lock. Readers never take it: every
// committed write swaps in a fresh immutable snapshot which lookups read
// through an atomic pointer.
type Store struct {
	mu      sync.Mutex
	path    string
	records []*types.InstanceRecord
	byUUID  map[string]*types.InstanceRecord
	byMAC   map[string]*types.InstanceRecord
	byIP    map[string]*types.InstanceRecord

	snap   atomic.Pointer[snapshot]
	logger zerolog.Logger

	now func() time.Time
}

// snapshot is an immutable copy of the registry state as of one committed
// write.
type snapshot struct {
	records []types.InstanceRecord
	byUUID  map[string]int
	byMAC   map[string]int
	byIP    map[string]int
}

// Open loads the registry from the database file at path, creating an empty
// registry when the file does not exist yet. An empty path yields a purely
// in-memory store, which is used by tests.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		byUUID: make(map[string]*types.InstanceRecord),
		byMAC:  make(map[string]*types.InstanceRecord),
		byIP:   make(map[string]*types.InstanceRecord),
		logger: logger,
		now:    time.Now,
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// first run
		case err != nil:
			return nil, fmt.Errorf("failed to read database: %w", err)
		default:
			var records []*types.InstanceRecord
			if err := json.Unmarshal(data, &records); err != nil {
				return nil, fmt.Errorf("failed to parse database %s: %w", path, err)
			}
			s.records = records
		}
	}
	s.reindex()
	s.publishSnapshot()
	s.logger.Info().Int("records", len(s.records)).Str("path", path).Msg("database loaded")
	return s, nil
}

// NormalizeRequest validates and canonicalizes the identity fields of an
// upsert request in place: the MAC to lowercase colon-hex, the UUID to the
// standard dashed form. Missing or malformed fields yield ErrValidation.
func NormalizeRequest(req *types.UpsertRequest) error {
	if req.MAC == "" {
		return fmt.Errorf("%w: missing mac address", types.ErrValidation)
	}
	hw, err := net.ParseMAC(req.MAC)
	if err != nil || len(hw) != 6 {
		return fmt.Errorf("%w: malformed mac address %q", types.ErrValidation, req.MAC)
	}
	req.MAC = hw.String()

	if req.DomainUUID == "" {
		return fmt.Errorf("%w: missing domain uuid", types.ErrValidation)
	}
	id, err := uuid.Parse(req.DomainUUID)
	if err != nil {
		return fmt.Errorf("%w: malformed domain uuid %q: %v", types.ErrValidation, req.DomainUUID, err)
	}
	req.DomainUUID = id.String()
	return nil
}

// Upsert creates or updates the record for the identity in req, assigning it
// the given IPv4 address, and persists the whole registry before returning.
// The identity fields of req must have been canonicalized with
// NormalizeRequest.
//
// Matching is by domain UUID first, then by MAC: a re-provisioned domain
// keeps its record (and address) even though its UUID changed, as long as the
// NIC is the same. A MAC that already belongs to a different record is
// rejected, so no two records ever share one. first_seen is never modified on
// update. A failed persist rolls the in-memory state back and leaves the
// previous on-disk snapshot authoritative.
func (s *Store) Upsert(req types.UpsertRequest, ipv4 string) (types.InstanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := float64(s.now().UnixNano()) / 1e9

	existing := s.byUUID[req.DomainUUID]
	if existing == nil {
		existing = s.byMAC[req.MAC]
	}
	if other := s.byMAC[req.MAC]; other != nil && other != existing {
		return types.InstanceRecord{}, fmt.Errorf("%w: mac %s already belongs to domain %q",
			types.ErrValidation, req.MAC, other.DomainName)
	}

	var undo func()
	if existing != nil {
		prev := existing.Clone()
		existing.DomainUUID = req.DomainUUID
		existing.MAC = req.MAC
		if req.DomainName != "" {
			existing.DomainName = req.DomainName
		}
		if req.IPv6 != "" {
			existing.IPv6 = req.IPv6
		}
		if req.Metadata != nil {
			existing.DomainMetadata = req.Metadata
		}
		existing.IPv4 = ipv4
		existing.LastUpdate = now
		undo = func() { *existing = prev }
	} else {
		rec := &types.InstanceRecord{
			DomainName:     req.DomainName,
			DomainUUID:     req.DomainUUID,
			DomainMetadata: req.Metadata,
			MAC:            req.MAC,
			IPv4:           ipv4,
			IPv6:           req.IPv6,
			FirstSeen:      now,
			LastUpdate:     now,
		}
		s.records = append(s.records, rec)
		existing = rec
		undo = func() { s.records = s.records[:len(s.records)-1] }
	}

	if err := s.persistLocked(); err != nil {
		undo()
		s.reindex()
		return types.InstanceRecord{}, err
	}
	s.reindex()
	s.publishSnapshot()
	s.logger.Debug().
		Str("domain", existing.DomainName).
		Str("mac", existing.MAC).
		Str("ipv4", existing.IPv4).
		Msg("record upserted")
	return existing.Clone(), nil
}

// persistLocked serializes all records and atomically replaces the database
// file via a temp file rename. A crash mid-write never leaves a truncated
// database. No-op for in-memory stores.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.records, "", "    ")
	if err != nil {
		return fmt.Errorf("%w: failed to serialize database: %v", types.ErrPersistence, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write database: %v", types.ErrPersistence, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: failed to replace database: %v", types.ErrPersistence, err)
	}
	s.logger.Info().Int("records", len(s.records)).Str("path", s.path).Msg("database written")
	return nil
}

func (s *Store) reindex() {
	s.byUUID = make(map[string]*types.InstanceRecord, len(s.records))
	s.byMAC = make(map[string]*types.InstanceRecord, len(s.records))
	s.byIP = make(map[string]*types.InstanceRecord, len(s.records))
	for _, rec := range s.records {
		if rec.DomainUUID != "" {
			s.byUUID[rec.DomainUUID] = rec
		}
		if rec.MAC != "" {
			s.byMAC[rec.MAC] = rec
		}
		if rec.IPv4 != "" {
			s.byIP[rec.IPv4] = rec
		}
	}
}

func (s *Store) publishSnapshot() {
	snap := &snapshot{
		records: make([]types.InstanceRecord, len(s.records)),
		byUUID:  make(map[string]int, len(s.records)),
		byMAC:   make(map[string]int, len(s.records)),
		byIP:    make(map[string]int, len(s.records)),
	}
	for i, rec := range s.records {
		snap.records[i] = rec.Clone()
		if rec.DomainUUID != "" {
			snap.byUUID[rec.DomainUUID] = i
		}
		if rec.MAC != "" {
			snap.byMAC[rec.MAC] = i
		}
		if rec.IPv4 != "" {
			snap.byIP[rec.IPv4] = i
		}
	}
	s.snap.Store(snap)
}

// GetByMAC returns the record for the given MAC address.
func (s *Store) GetByMAC(mac string) (types.InstanceRecord, error) {
	if hw, err := net.ParseMAC(mac); err == nil {
		mac = hw.String()
	}
	snap := s.snap.Load()
	if i, ok := snap.byMAC[mac]; ok {
		return snap.records[i].Clone(), nil
	}
	return types.InstanceRecord{}, fmt.Errorf("%w: no record for mac %s", types.ErrNotFound, mac)
}

// GetByUUID returns the record for the given domain UUID.
func (s *Store) GetByUUID(id string) (types.InstanceRecord, error) {
	if u, err := uuid.Parse(id); err == nil {
		id = u.String()
	}
	snap := s.snap.Load()
	if i, ok := snap.byUUID[id]; ok {
		return snap.records[i].Clone(), nil
	}
	return types.InstanceRecord{}, fmt.Errorf("%w: no record for uuid %s", types.ErrNotFound, id)
}

// GetByIP returns the record holding the given IPv4 address. This is the
// metadata-lookup hot path and never blocks on writers.
func (s *Store) GetByIP(ip string) (types.InstanceRecord, error) {
	snap := s.snap.Load()
	if i, ok := snap.byIP[ip]; ok {
		return snap.records[i].Clone(), nil
	}
	return types.InstanceRecord{}, fmt.Errorf("%w: no record for address %s", types.ErrNotFound, ip)
}

// Snapshot returns a copy of all records in first-seen order, taken from the
// last committed write.
func (s *Store) Snapshot() []types.InstanceRecord {
	snap := s.snap.Load()
	records := make([]types.InstanceRecord, len(snap.records))
	for i := range snap.records {
		records[i] = snap.records[i].Clone()
	}
	return records
}

// UsedIPv4 returns the set of IPv4 addresses held by live records.
func (s *Store) UsedIPv4() map[string]struct{} {
	snap := s.snap.Load()
	used := make(map[string]struct{}, len(snap.byIP))
	for ip := range snap.byIP {
		used[ip] = struct{}{}
	}
	return used
}
