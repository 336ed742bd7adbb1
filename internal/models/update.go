package models

import "time"

// EntityKind identifies the table a pending update targets.
type EntityKind string

const (
	EntityUser        EntityKind = "user"
	EntityHostname    EntityKind = "hostname"
	EntityCertificate EntityKind = "certificate"
)

// NoChangeConstraint disables the affected-row count check of an update.
const NoChangeConstraint int64 = -1

// PendingUpdate is a queued single-field mutation destined for the
// remote store. It is created by entity mutators, discarded on confirmed
// success and moved to the quarantine set on confirmed semantic failure.
type PendingUpdate struct {
	Kind     EntityKind
	TargetID int64
	Field    string
	Value    any

	// Expected is the number of rows the update must affect, or
	// NoChangeConstraint when unconstrained.
	Expected int64

	// LastAttempt is the time of the last delivery attempt, zero before
	// the first one.
	LastAttempt time.Time

	// Failed marks the update as semantically rejected by the adapter.
	// A failed update must never be retried.
	Failed     bool
	FailReason string
}

// NewPendingUpdate builds an update for a single field of the target entity.
func NewPendingUpdate(kind EntityKind, targetID int64, field string, value any, expected int64) *PendingUpdate {
	return &PendingUpdate{
		Kind:     kind,
		TargetID: targetID,
		Field:    field,
		Value:    value,
		Expected: expected,
	}
}

// ReadyForAttempt reports whether the per-item cooldown has elapsed since
// the last delivery attempt.
func (p *PendingUpdate) ReadyForAttempt(now time.Time, cooldown time.Duration) bool {
	if p.LastAttempt.IsZero() {
		return true
	}
	return now.Sub(p.LastAttempt) >= cooldown
}

// Fail marks the update as semantically rejected with the given reason.
func (p *PendingUpdate) Fail(reason string) {
	p.Failed = true
	p.FailReason = reason
}

// Store applies single-field mutations on behalf of entities. It is
// implemented by the datastore; entity mutators receive it explicitly
// instead of holding a back-reference to their container.
type Store interface {
	Update(kind EntityKind, targetID int64, field string, value any, expected int64)
}
