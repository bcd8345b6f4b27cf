package domain

// Apply mutates the node snapshot to reflect a committed or recorded event.
// The same rules run inside the aggregate (in-memory state) and inside the
// projector (read-model state).
//
// After the variant rule a generic post-condition advances the bookkeeping
// fields, unless the variant rule already did so itself. That is detected
// by last_event_ref already pointing at this event, which happens when
// NodeCreated fully replaces the snapshot.
func Apply(n *Node, evt *Event) {
	switch p := evt.Payload.(type) {
	case *NodeCreatedPayload:
		created := p.Node.Clone()
		created.Ref = evt.NodeRef
		created.CreatedAt = evt.OccurredAt
		created.CreatorRef = evt.CtxUserRef
		created.UpdatedAt = evt.OccurredAt
		created.UpdaterRef = evt.CtxUserRef
		created.LastEventRef = evt.Ref()
		created.Labels = NormalizeLabels(created.Labels)
		created.RefreshEtag()
		*n = created

	case *NodeUpdatedPayload:
		next := p.New.Clone()
		// Update must not smuggle a status, slug or lock change past the
		// dedicated commands, so those fields stay as they are.
		next.Ref = n.Ref
		next.CreatedAt = n.CreatedAt
		next.CreatorRef = n.CreatorRef
		next.Status = n.Status
		next.PublishedAt = n.PublishedAt
		next.Slug = n.Slug
		next.IsLocked = n.IsLocked
		next.LockedByRef = n.LockedByRef
		next.Labels = NormalizeLabels(next.Labels)
		*n = next

	case *NodeDeletedPayload:
		n.Status = StatusDeleted

	case *NodeLockedPayload:
		n.IsLocked = true
		n.LockedByRef = p.LockedByRef

	case *NodeUnlockedPayload:
		n.IsLocked = false
		n.LockedByRef = ""

	case *NodeMarkedAsDraftPayload:
		n.Status = StatusDraft

	case *NodeMarkedAsPendingPayload:
		n.Status = StatusPending
		n.PublishedAt = nil

	case *NodePublishedPayload:
		t := p.PublishedAt
		n.Status = StatusPublished
		n.PublishedAt = &t

	case *NodeScheduledPayload:
		t := p.PublishAt
		n.Status = StatusScheduled
		n.PublishedAt = &t

	case *NodeUnpublishedPayload:
		n.Status = StatusDraft
		n.PublishedAt = nil

	case *NodeExpiredPayload:
		n.Status = StatusExpired

	case *NodeRenamedPayload:
		n.Slug = p.Slug

	case *NodeLabelsUpdatedPayload:
		n.Labels = applyLabelDelta(n.Labels, p.Added, p.Removed)
	}

	if n.LastEventRef != evt.Ref() {
		n.UpdatedAt = evt.OccurredAt
		n.UpdaterRef = evt.CtxUserRef
		n.LastEventRef = evt.Ref()
		n.RefreshEtag()
	}
}

// applyLabelDelta applies set-union and set-difference against the current
// label set.
func applyLabelDelta(current, added, removed []string) []string {
	set := make(map[string]struct{}, len(current)+len(added))
	for _, l := range current {
		set[l] = struct{}{}
	}
	for _, l := range added {
		if l != "" {
			set[l] = struct{}{}
		}
	}
	for _, l := range removed {
		delete(set, l)
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	return NormalizeLabels(out)
}
