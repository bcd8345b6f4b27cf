package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies an event variant.
type EventType string

const (
	EventNodeCreated         EventType = "NODE_CREATED"
	EventNodeUpdated         EventType = "NODE_UPDATED"
	EventNodeDeleted         EventType = "NODE_DELETED"
	EventNodeLocked          EventType = "NODE_LOCKED"
	EventNodeUnlocked        EventType = "NODE_UNLOCKED"
	EventNodeMarkedAsDraft   EventType = "NODE_MARKED_AS_DRAFT"
	EventNodeMarkedAsPending EventType = "NODE_MARKED_AS_PENDING"
	EventNodePublished       EventType = "NODE_PUBLISHED"
	EventNodeScheduled       EventType = "NODE_SCHEDULED"
	EventNodeUnpublished     EventType = "NODE_UNPUBLISHED"
	EventNodeExpired         EventType = "NODE_EXPIRED"
	EventNodeRenamed         EventType = "NODE_RENAMED"
	EventNodeLabelsUpdated   EventType = "NODE_LABELS_UPDATED"
)

// EventPayload is the variant-specific body of an event. The closed set of
// implementations below replaces the original's reflection-by-naming
// dispatch with an exhaustive type switch.
type EventPayload interface {
	EventType() EventType
}

// Event is an immutable fact about one node's state change.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	NodeRef    NodeRef   `json:"node_ref"`
	OccurredAt time.Time `json:"occurred_at"`

	// CtxUserRef is the causation context copied from the triggering command.
	CtxUserRef string `json:"ctx_user_ref"`

	// Replay is true when the event arrives via historical re-read rather
	// than live processing. Projection side effects are suppressed then.
	Replay bool `json:"replay,omitempty"`

	Payload EventPayload `json:"-"`

	frozen bool
}

// Ref returns the event reference recorded on the node as last_event_ref.
func (e *Event) Ref() string { return e.ID }

// Freeze marks the event final. Further payload changes panic.
func (e *Event) Freeze() { e.frozen = true }

// Frozen reports whether the event has been finalized.
func (e *Event) Frozen() bool { return e.frozen }

// SetPayload replaces the payload. Lifecycle enrichers use it before the
// recording aggregate freezes the event.
func (e *Event) SetPayload(p EventPayload) {
	if e.frozen {
		panic("domain: mutate frozen event " + e.ID)
	}
	e.Payload = p
	e.Type = p.EventType()
}

// NodeCreatedPayload carries the full initial snapshot.
type NodeCreatedPayload struct {
	Node Node `json:"node"`
}

func (NodeCreatedPayload) EventType() EventType { return EventNodeCreated }

// NodeUpdatedPayload carries both snapshots plus the etag the command path
// observed, so the projector can write without a fresh read.
type NodeUpdatedPayload struct {
	Old     Node   `json:"old"`
	New     Node   `json:"new"`
	OldEtag string `json:"old_etag"`
}

func (NodeUpdatedPayload) EventType() EventType { return EventNodeUpdated }

// NodeDeletedPayload carries the slug so the read side can free the slug
// index without re-fetching the node.
type NodeDeletedPayload struct {
	Hard bool   `json:"hard,omitempty"`
	Slug string `json:"slug,omitempty"`
}

func (NodeDeletedPayload) EventType() EventType { return EventNodeDeleted }

type NodeLockedPayload struct {
	LockedByRef string `json:"locked_by_ref"`
}

func (NodeLockedPayload) EventType() EventType { return EventNodeLocked }

type NodeUnlockedPayload struct{}

func (NodeUnlockedPayload) EventType() EventType { return EventNodeUnlocked }

type NodeMarkedAsDraftPayload struct{}

func (NodeMarkedAsDraftPayload) EventType() EventType { return EventNodeMarkedAsDraft }

type NodeMarkedAsPendingPayload struct{}

func (NodeMarkedAsPendingPayload) EventType() EventType { return EventNodeMarkedAsPending }

type NodePublishedPayload struct {
	PublishedAt time.Time `json:"published_at"`
}

func (NodePublishedPayload) EventType() EventType { return EventNodePublished }

type NodeScheduledPayload struct {
	PublishAt time.Time `json:"publish_at"`
}

func (NodeScheduledPayload) EventType() EventType { return EventNodeScheduled }

type NodeUnpublishedPayload struct {
	Slug string `json:"slug,omitempty"`
}

func (NodeUnpublishedPayload) EventType() EventType { return EventNodeUnpublished }

type NodeExpiredPayload struct{}

func (NodeExpiredPayload) EventType() EventType { return EventNodeExpired }

// NodeRenamedPayload carries the previous slug and status so the read side
// can release the old slug index entry.
type NodeRenamedPayload struct {
	Slug      string `json:"slug"`
	OldSlug   string `json:"old_slug,omitempty"`
	OldStatus Status `json:"old_status,omitempty"`
}

func (NodeRenamedPayload) EventType() EventType { return EventNodeRenamed }

// NodeLabelsUpdatedPayload carries label deltas, not the full set. Labels
// may be updated concurrently from multiple sources, so the projector
// applies union/difference instead of overwriting.
type NodeLabelsUpdatedPayload struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

func (NodeLabelsUpdatedPayload) EventType() EventType { return EventNodeLabelsUpdated }

// EncodePayload serializes a payload for storage.
func EncodePayload(p EventPayload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.EventType(), err)
	}
	return data, nil
}

// DecodePayload deserializes a stored payload by its event type.
func DecodePayload(t EventType, data []byte) (EventPayload, error) {
	var p EventPayload
	switch t {
	case EventNodeCreated:
		p = &NodeCreatedPayload{}
	case EventNodeUpdated:
		p = &NodeUpdatedPayload{}
	case EventNodeDeleted:
		p = &NodeDeletedPayload{}
	case EventNodeLocked:
		p = &NodeLockedPayload{}
	case EventNodeUnlocked:
		p = &NodeUnlockedPayload{}
	case EventNodeMarkedAsDraft:
		p = &NodeMarkedAsDraftPayload{}
	case EventNodeMarkedAsPending:
		p = &NodeMarkedAsPendingPayload{}
	case EventNodePublished:
		p = &NodePublishedPayload{}
	case EventNodeScheduled:
		p = &NodeScheduledPayload{}
	case EventNodeUnpublished:
		p = &NodeUnpublishedPayload{}
	case EventNodeExpired:
		p = &NodeExpiredPayload{}
	case EventNodeRenamed:
		p = &NodeRenamedPayload{}
	case EventNodeLabelsUpdated:
		p = &NodeLabelsUpdatedPayload{}
	default:
		return nil, fmt.Errorf("decode payload: unknown event type %q", t)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}
