package ir

// Record is the unit of storage: one normalized string and its metadata.
type Record struct {
	ID          string `json:"id"`
	ClusterID   string `json:"cluster_id,omitempty"`
	CanonicalID string `json:"canonical_id,omitempty"` // empty means self
	PlainText   string `json:"plain_text"`

	// Parsed is the structured representation, kept verbatim. Nil when the
	// record has none or when it was not loaded (concise reads).
	Parsed        []byte `json:"parsed,omitempty"`
	ParseChecksum string `json:"parse_checksum,omitempty"`
	ParseError    string `json:"parse_error,omitempty"`
	Type          string `json:"type,omitempty"`

	CreateTime   int64  `json:"create_time"`
	CreateDomain string `json:"create_domain,omitempty"`
	CreateUser   string `json:"create_user,omitempty"`

	UpdateTime   int64  `json:"update_time"`
	UpdateDomain string `json:"update_domain,omitempty"`
	UpdateUser   string `json:"update_user,omitempty"`

	// LocalUpdateTime is set by the node that stores the record.
	LocalUpdateTime int64 `json:"local_update_time,omitempty"`

	Deleted bool `json:"deleted"`
}

// SelfCanonical reports whether the record represents its own cluster.
func (r *Record) SelfCanonical() bool {
	return r.CanonicalID == "" || r.CanonicalID == r.ID
}

// Canonical returns the effective canonical id (the record's own id when
// CanonicalID is empty).
func (r *Record) Canonical() string {
	if r.CanonicalID == "" {
		return r.ID
	}
	return r.CanonicalID
}

// HasParsed reports whether the record carries a valid structured form.
func (r *Record) HasParsed() bool {
	return r.ParseChecksum != "" && r.ParseError == ""
}

// FeedEntry returns the lightweight change entry for the record.
func (r *Record) FeedEntry() FeedEntry {
	return FeedEntry{
		ID:              r.ID,
		CanonicalID:     r.CanonicalID,
		ParseChecksum:   r.ParseChecksum,
		CreateTime:      r.CreateTime,
		UpdateTime:      r.UpdateTime,
		LocalUpdateTime: r.LocalUpdateTime,
		Deleted:         r.Deleted,
	}
}

// FeedEntry is a content-free change notification served to peers.
type FeedEntry struct {
	ID              string `json:"id"`
	CanonicalID     string `json:"canonical_id,omitempty"`
	ParseChecksum   string `json:"parse_checksum,omitempty"`
	CreateTime      int64  `json:"create_time"`
	UpdateTime      int64  `json:"update_time"`
	LocalUpdateTime int64  `json:"local_update_time"`
	Deleted         bool   `json:"deleted"`
}

// HistoryEntry is one row of the append-only audit trail.
type HistoryEntry struct {
	RecordID         string `json:"record_id"`
	UpdateTime       int64  `json:"update_time"`
	UpdateDomain     string `json:"update_domain"`
	UpdateUser       string `json:"update_user"`
	LocalUpdateTime  int64  `json:"local_update_time"`
	SourceDomain     string `json:"source_domain"`
	SourceDescriptor string `json:"source_descriptor"`
}

// Watermark is the persisted replication progress for one peer.
type Watermark struct {
	PeerID              string `json:"peer_id"`
	LastLocalUpdateTime int64  `json:"last_local_update_time"`
}

// Actor identifies who performs a write.
type Actor struct {
	Domain string `json:"domain"`
	User   string `json:"user"`
}

// Source describes where a write came from. Domain is the node or domain
// that caused it; Descriptor is one of the Source* prefixes, optionally
// followed by a peer name or remote address.
type Source struct {
	Domain     string
	Descriptor string
}

// Source descriptors recorded in history entries.
const (
	SourceLocal       = "LOCAL"
	SourceFeed        = "FEED"
	SourceFetch       = "FETCH"
	SourceUpload      = "UPLOAD"
	SourceUpdate      = "UPDATE"
	SourceMaintenance = "MAINTENANCE"
)

// SourceFrom builds a source with a "KIND:detail" descriptor.
func SourceFrom(domain, kind, detail string) Source {
	if detail == "" {
		return Source{Domain: domain, Descriptor: kind}
	}
	return Source{Domain: domain, Descriptor: kind + ":" + detail}
}

// WriteResult is a stored record together with what the write did to it.
type WriteResult struct {
	Record
	Created bool `json:"created"`
	Updated bool `json:"updated"`
}
