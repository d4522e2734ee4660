package audit

import (
	"time"

	id "carelink/pkg/domain"
)

// Action tags one state-affecting operation on a referral.
type Action string

const (
	ActionCreated       Action = "created"
	ActionStatusChanged Action = "status_changed"
	ActionFollowUpAdded Action = "follow_up_added"
	ActionLinked        Action = "linked"
	ActionUpdated       Action = "updated"
	ActionDeleted       Action = "deleted"
)

// SystemActor attributes entries produced by the engine itself rather than a
// human, such as the automatic Pending→Contacted transition after a
// successful contact.
const SystemActor = "system"

// FieldChange records a before/after pair for one field of an update.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Entry is one immutable record of a state-affecting action: what happened,
// who did it, and when. Entries are append-only and never edited, reordered,
// or removed, even when the parent referral is deleted.
type Entry struct {
	ID         id.EntryID    `json:"id"`
	ReferralID id.ReferralID `json:"referral_id"`
	Action     Action        `json:"action"`
	Details    string        `json:"details"`
	Changes    []FieldChange `json:"changes,omitempty"`
	Actor      string        `json:"actor"`
	Timestamp  time.Time     `json:"timestamp"`
}

// NewEntry builds an audit entry with a fresh ID.
func NewEntry(referralID id.ReferralID, action Action, details, actor string, at time.Time) Entry {
	return Entry{
		ID:         id.NewEntryID(),
		ReferralID: referralID,
		Action:     action,
		Details:    details,
		Actor:      actor,
		Timestamp:  at,
	}
}

// WithChanges attaches a structured before/after diff to the entry.
func (e Entry) WithChanges(changes []FieldChange) Entry {
	e.Changes = changes
	return e
}
