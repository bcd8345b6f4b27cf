package aggregate

import (
	"slices"

	"nodelife.io/nodelife/internal/domain"
	apperrors "nodelife.io/nodelife/internal/pkg/errors"
)

// Command-methods. Each validates identity, applies its idempotent guard,
// builds the event from command plus current snapshot, and records it.
// Guards silently swallow redundant commands: re-delivery of the same
// business intent in an at-least-once environment is expected, not an
// error.

// CreateNode records NodeCreated from the command's initial snapshot. A
// node that already has history is left untouched.
func (a *Aggregate) CreateNode(cmd *domain.CreateNode) error {
	if err := a.checkIdentity(cmd); err != nil {
		return err
	}
	if a.node.LastEventRef != "" {
		return nil
	}

	node := cmd.Node.Clone()
	node.Ref = a.ref
	if a.traits.Workflow {
		node.Status = domain.StatusDraft
	} else {
		node.Status = domain.StatusPublished
	}

	a.record(cmd, &domain.NodeCreatedPayload{Node: node})
	return nil
}

// UpdateNode records NodeUpdated carrying both snapshots and the etag the
// command path observed. Apply force-copies the immutable fields from old
// to new, so Update cannot smuggle a status, slug or lock change.
func (a *Aggregate) UpdateNode(cmd *domain.UpdateNode) error {
	if err := a.checkIdentity(cmd); err != nil {
		return err
	}

	a.record(cmd, &domain.NodeUpdatedPayload{
		Old:     a.node.Clone(),
		New:     cmd.Node.Clone(),
		OldEtag: a.node.Etag,
	})
	return nil
}

// DeleteNode records NodeDeleted. The event carries the slug so the read
// side can free the slug index without re-fetching.
func (a *Aggregate) DeleteNode(cmd *domain.DeleteNode) error {
	if err := a.checkIdentity(cmd); err != nil {
		return err
	}
	if a.node.Status == domain.StatusDeleted {
		return nil
	}

	a.record(cmd, &domain.NodeDeletedPayload{Hard: cmd.Hard, Slug: a.node.Slug})
	return nil
}

// MarkNodeAsDraft records NodeMarkedAsDraft.
func (a *Aggregate) MarkNodeAsDraft(cmd *domain.MarkNodeAsDraft) error {
	if err := a.checkIdentity(cmd); err != nil {
		return err
	}
	if a.node.Status == domain.StatusDraft {
		return nil
	}

	a.record(cmd, &domain.NodeMarkedAsDraftPayload{})
	return nil
}

// MarkNodeAsPending records NodeMarkedAsPending.
func (a *Aggregate) MarkNodeAsPending(cmd *domain.MarkNodeAsPending) error {
	if err := a.checkIdentity(cmd); err != nil {
		return err
	}
	if a.node.Status == domain.StatusPending {
		return nil
	}

	a.record(cmd, &domain.NodeMarkedAsPendingPayload{})
	return nil
}

// PublishNode publishes now or schedules for later. The target time is
// the command's publish_at, defaulting to now; a target within
// now+anticipation publishes immediately, anything further out records
// NodeScheduled and relies on the scheduler to redeliver.
func (a *Aggregate) PublishNode(cmd *domain.PublishNode) error {
	if err := a.checkIdentity(cmd); err != nil {
		return err
	}

	now := a.clock().UTC()
	publishAt := now
	if cmd.PublishAt != nil {
		publishAt = cmd.PublishAt.UTC()
	}

	if publishAt.After(now.Add(a.anticipation)) {
		a.record(cmd, &domain.NodeScheduledPayload{PublishAt: publishAt})
	} else {
		a.record(cmd, &domain.NodePublishedPayload{PublishedAt: publishAt})
	}
	return nil
}

// UnpublishNode records NodeUnpublished, returning the node to DRAFT.
func (a *Aggregate) UnpublishNode(cmd *domain.UnpublishNode) error {
	if err := a.checkIdentity(cmd); err != nil {
		return err
	}
	if a.node.Status == domain.StatusDraft && a.node.PublishedAt == nil {
		return nil
	}

	a.record(cmd, &domain.NodeUnpublishedPayload{Slug: a.node.Slug})
	return nil
}

// LockNode records NodeLocked for the command's actor. Re-locking by the
// holder is a no-op; a different actor gets an AlreadyLocked conflict.
func (a *Aggregate) LockNode(cmd *domain.LockNode) error {
	if err := a.checkIdentity(cmd); err != nil {
		return err
	}
	if a.node.IsLocked {
		if a.node.LockedByRef == cmd.ActorRef() {
			return nil
		}
		return apperrors.ErrNodeAlreadyLockedf(a.ref.String(), a.node.LockedByRef)
	}

	a.record(cmd, &domain.NodeLockedPayload{LockedByRef: cmd.ActorRef()})
	return nil
}

// UnlockNode records NodeUnlocked.
func (a *Aggregate) UnlockNode(cmd *domain.UnlockNode) error {
	if err := a.checkIdentity(cmd); err != nil {
		return err
	}
	if !a.node.IsLocked {
		return nil
	}

	a.record(cmd, &domain.NodeUnlockedPayload{})
	return nil
}

// ExpireNode records NodeExpired.
func (a *Aggregate) ExpireNode(cmd *domain.ExpireNode) error {
	if err := a.checkIdentity(cmd); err != nil {
		return err
	}
	if a.node.Status == domain.StatusExpired {
		return nil
	}

	a.record(cmd, &domain.NodeExpiredPayload{})
	return nil
}

// RenameNode records NodeRenamed carrying the previous slug and status so
// the read side can release the old slug index entry.
func (a *Aggregate) RenameNode(cmd *domain.RenameNode) error {
	if err := a.checkIdentity(cmd); err != nil {
		return err
	}
	if a.node.Slug == cmd.Slug {
		return nil
	}

	a.record(cmd, &domain.NodeRenamedPayload{
		Slug:      cmd.Slug,
		OldSlug:   a.node.Slug,
		OldStatus: a.node.Status,
	})
	return nil
}

// UpdateNodeLabels records NodeLabelsUpdated with the delta. A delta that
// leaves the label set unchanged is a no-op.
func (a *Aggregate) UpdateNodeLabels(cmd *domain.UpdateNodeLabels) error {
	if err := a.checkIdentity(cmd); err != nil {
		return err
	}

	added := domain.NormalizeLabels(cmd.Add)
	removed := domain.NormalizeLabels(cmd.Remove)
	if wouldLeaveLabelsUnchanged(a.node.Labels, added, removed) {
		return nil
	}

	a.record(cmd, &domain.NodeLabelsUpdatedPayload{Added: added, Removed: removed})
	return nil
}

func wouldLeaveLabelsUnchanged(current, added, removed []string) bool {
	set := make(map[string]struct{}, len(current)+len(added))
	for _, l := range current {
		set[l] = struct{}{}
	}
	for _, l := range added {
		set[l] = struct{}{}
	}
	for _, l := range removed {
		delete(set, l)
	}
	next := make([]string, 0, len(set))
	for l := range set {
		next = append(next, l)
	}
	return slices.Equal(domain.NormalizeLabels(next), domain.NormalizeLabels(current))
}
