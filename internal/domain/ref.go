package domain

import (
	"fmt"
	"strings"
)

// NodeRef is the immutable identity of a node: a (vendor, label, id) triple.
// It is the aggregate identity, the read-model primary key, the search
// document id, and the input to stream/job id derivation.
type NodeRef struct {
	Vendor string `json:"vendor"`
	Label  string `json:"label"`
	ID     string `json:"id"`
}

// NewNodeRef builds a NodeRef from its parts.
func NewNodeRef(vendor, label, id string) NodeRef {
	return NodeRef{Vendor: vendor, Label: label, ID: id}
}

// ParseNodeRef parses the string form produced by String.
func ParseNodeRef(s string) (NodeRef, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return NodeRef{}, fmt.Errorf("parse node ref %q: want vendor:label:id", s)
	}
	return NodeRef{Vendor: parts[0], Label: parts[1], ID: parts[2]}, nil
}

// String returns the canonical "vendor:label:id" form. Round-trips with
// ParseNodeRef.
func (r NodeRef) String() string {
	return r.Vendor + ":" + r.Label + ":" + r.ID
}

// IsZero reports whether the ref is empty.
func (r NodeRef) IsZero() bool {
	return r.Vendor == "" && r.Label == "" && r.ID == ""
}

// QName returns the qualified entity name ("vendor.label") used by the
// search index to scope queries to an entity family.
func (r NodeRef) QName() string {
	return r.Vendor + "." + r.Label
}

// StreamID derives the event stream key for this node. It is stable for
// the node's whole lifetime so history is always reachable from identity
// alone.
func (r NodeRef) StreamID() string {
	return r.Label + ".history:" + r.ID
}

// PublishJobID is the scheduler slot for the derived publish command.
// One slot per verb per node: re-scheduling replaces, never duplicates.
func (r NodeRef) PublishJobID() string {
	return r.String() + ".publish"
}

// ExpireJobID is the scheduler slot for the derived expire command.
func (r NodeRef) ExpireJobID() string {
	return r.String() + ".expire"
}
