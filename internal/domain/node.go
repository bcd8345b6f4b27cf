package domain

import (
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"lukechampine.com/blake3"
)

// Status is the workflow state of a node.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPending   Status = "PENDING"
	StatusScheduled Status = "SCHEDULED"
	StatusPublished Status = "PUBLISHED"
	StatusDeleted   Status = "DELETED"
	StatusExpired   Status = "EXPIRED"
)

// Traits declares which optional capabilities an entity label supports.
// Capability checks are explicit flags, not schema introspection.
type Traits struct {
	// Workflow enables the draft/pending/publish status workflow.
	// Without it a created node goes straight to PUBLISHED.
	Workflow bool

	// Publishable enables the publish-at scheduling path.
	Publishable bool

	// Expirable enables the expires-at scheduling path.
	Expirable bool

	// Sluggable enables the uniqueness-indexed slug field.
	Sluggable bool
}

// Node is the materialized snapshot of one entity's current state. It is
// mutated exclusively by applying events; direct field writes outside
// event application are a bug.
type Node struct {
	Ref    NodeRef `json:"ref"`
	Status Status  `json:"status"`

	// Etag is a content hash over all fields except itself, UpdatedAt,
	// UpdaterRef and LastEventRef. It changes iff meaningful data changed.
	Etag string `json:"etag"`

	CreatedAt    time.Time `json:"created_at"`
	CreatorRef   string    `json:"creator_ref"`
	UpdatedAt    time.Time `json:"updated_at"`
	UpdaterRef   string    `json:"updater_ref"`
	LastEventRef string    `json:"last_event_ref"`

	Slug        string     `json:"slug,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	IsLocked    bool       `json:"is_locked,omitempty"`
	LockedByRef string     `json:"locked_by_ref,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Labels      []string   `json:"labels,omitempty"`

	// Fields carries the free-form content of the node.
	Fields map[string]any `json:"fields,omitempty"`
}

// Clone returns a deep copy. Snapshots handed out of a cache must never be
// mutated in place by the receiver, so every boundary copies.
func (n Node) Clone() Node {
	c := n
	if n.PublishedAt != nil {
		t := *n.PublishedAt
		c.PublishedAt = &t
	}
	if n.ExpiresAt != nil {
		t := *n.ExpiresAt
		c.ExpiresAt = &t
	}
	if n.Labels != nil {
		c.Labels = append([]string(nil), n.Labels...)
	}
	if n.Fields != nil {
		c.Fields = make(map[string]any, len(n.Fields))
		for k, v := range n.Fields {
			c.Fields[k] = v
		}
	}
	return c
}

// ComputeEtag hashes the node content with BLAKE3 over its JSON form.
// encoding/json sorts map keys, so the encoding is deterministic.
// Bookkeeping fields (etag, updated_at, updater_ref, last_event_ref) are
// zeroed first so the hash tracks semantic content only.
func (n Node) ComputeEtag() string {
	c := n.Clone()
	c.Etag = ""
	c.UpdatedAt = time.Time{}
	c.UpdaterRef = ""
	c.LastEventRef = ""

	data, err := json.Marshal(c)
	if err != nil {
		// Node fields are JSON-encodable by construction; a failure here
		// is a programming error.
		panic("domain: marshal node for etag: " + err.Error())
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// RefreshEtag recomputes and stores the etag.
func (n *Node) RefreshEtag() {
	n.Etag = n.ComputeEtag()
}

// NormalizeLabels sorts and deduplicates a label set so that label order
// never influences the etag.
func NormalizeLabels(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if l == "" {
			continue
		}
		set[l] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
