package types

// InstanceRecord is one entry in the instance registry. The JSON field names
// are the on-disk database contract and must not change: the database file is
// a JSON array of these objects.
type InstanceRecord struct {
	DomainName     string            `json:"domain_name"`
	DomainUUID     string            `json:"domain_uuid"`
	DomainMetadata map[string]string `json:"domain_metadata,omitempty"`
	MAC            string            `json:"mds_mac"`
	IPv4           string            `json:"mds_ipv4"`
	IPv6           string            `json:"mds_ipv6"`
	FirstSeen      float64           `json:"first_seen"`
	LastUpdate     float64           `json:"last_update"`
}

// Clone returns a deep copy of the record.
func (r *InstanceRecord) Clone() InstanceRecord {
	c := *r
	if r.DomainMetadata != nil {
		c.DomainMetadata = make(map[string]string, len(r.DomainMetadata))
		for k, v := range r.DomainMetadata {
			c.DomainMetadata[k] = v
		}
	}
	return c
}

// Metadata returns the value for key from the record's metadata, or "" when
// the key (or the whole map) is absent.
func (r *InstanceRecord) Metadata(key string) string {
	if r.DomainMetadata == nil {
		return ""
	}
	return r.DomainMetadata[key]
}

// UpsertRequest carries the identity and attributes of an instance upload.
// DomainUUID and MAC are mandatory; everything else is optional.
type UpsertRequest struct {
	DomainUUID string
	DomainName string
	MAC        string
	IPv6       string
	IPv4Hint   string
	Metadata   map[string]string
}
