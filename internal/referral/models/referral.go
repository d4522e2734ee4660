package models

import (
	"time"

	"carelink/internal/audit"
	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
)

// Status is a referral's position in the linkage-to-care lifecycle.
//
// Pending (initial) → Contacted → {Linked to Care, Failed, Referred Elsewhere}.
// Pending may also jump directly to any terminal state. Linked to Care is
// reachable only through linkage confirmation, never through a plain status
// update.
type Status string

const (
	StatusPending           Status = "Pending"
	StatusContacted         Status = "Contacted"
	StatusLinkedToCare      Status = "Linked to Care"
	StatusFailed            Status = "Failed"
	StatusReferredElsewhere Status = "Referred Elsewhere"
)

var validStatuses = map[Status]bool{
	StatusPending:           true,
	StatusContacted:         true,
	StatusLinkedToCare:      true,
	StatusFailed:            true,
	StatusReferredElsewhere: true,
}

// ParseStatus validates a status string. Unknown statuses parse to "" and false.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	if !validStatuses[st] {
		return "", false
	}
	return st, true
}

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is permitted from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusLinkedToCare, StatusFailed, StatusReferredElsewhere:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status machine permits s → to. Linkage
// confirmation bypasses this check deliberately; see Referral.CanConfirmLinkage.
func (s Status) CanTransitionTo(to Status) bool {
	if s.IsTerminal() {
		return false
	}
	if s == to {
		return false
	}
	switch s {
	case StatusPending:
		return to == StatusContacted || to.IsTerminal()
	case StatusContacted:
		return to.IsTerminal()
	}
	return false
}

// Service enumerates the referred-to service types.
type Service string

const (
	ServicePrEP         Service = "PrEP"
	ServiceART          Service = "ART"
	ServiceMentalHealth Service = "Mental Health"
	ServiceTB           Service = "TB"
	ServiceGBV          Service = "GBV"
	ServiceLegal        Service = "Legal"
	ServiceOther        Service = "Other"
)

var validServices = map[Service]bool{
	ServicePrEP:         true,
	ServiceART:          true,
	ServiceMentalHealth: true,
	ServiceTB:           true,
	ServiceGBV:          true,
	ServiceLegal:        true,
	ServiceOther:        true,
}

// ParseService validates a service string.
func ParseService(s string) (Service, bool) {
	sv := Service(s)
	if !validServices[sv] {
		return "", false
	}
	return sv, true
}

// Source enumerates where the referral originated.
type Source string

const (
	SourceClinical     Source = "Clinical"
	SourceMentalHealth Source = "Mental Health"
	SourceOutreach     Source = "Outreach"
	SourceSelf         Source = "Self"
)

var validSources = map[Source]bool{
	SourceClinical:     true,
	SourceMentalHealth: true,
	SourceOutreach:     true,
	SourceSelf:         true,
}

// ParseSource validates a source string.
func ParseSource(s string) (Source, bool) {
	src := Source(s)
	if !validSources[src] {
		return "", false
	}
	return src, true
}

// RiskLevel grades the client's assessed risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

var validRiskLevels = map[RiskLevel]bool{
	RiskLow:    true,
	RiskMedium: true,
	RiskHigh:   true,
}

// ParseRiskLevel validates a risk level string.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	r := RiskLevel(s)
	if !validRiskLevels[r] {
		return "", false
	}
	return r, true
}

// Priority grades how urgently the referral should be worked.
type Priority string

const (
	PriorityRoutine   Priority = "Routine"
	PriorityUrgent    Priority = "Urgent"
	PriorityEmergency Priority = "Emergency"
)

var validPriorities = map[Priority]bool{
	PriorityRoutine:   true,
	PriorityUrgent:    true,
	PriorityEmergency: true,
}

// ParsePriority validates a priority string.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(s)
	if !validPriorities[p] {
		return "", false
	}
	return p, true
}

// ClientSnapshot is a point-in-time copy of registry fields captured at
// referral creation for display resilience. It is never re-synced; the
// registry remains the source of truth for the live client record.
type ClientSnapshot struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Location string `json:"location"`
	Program  string `json:"program"`
}

// Referral is the aggregate root of the linkage-to-care workflow. It
// exclusively owns its follow-ups, linkage, and audit log; they have no
// identity outside their parent.
//
// Invariants:
//   - Status == Linked to Care ⇔ Linkage is non-nil
//   - FollowUps is append-only; entries are never edited or removed
//   - AuditLog has at least one entry (creation is audited) and grows by
//     exactly one entry per successful mutation (two for the automatic
//     contact transition)
//   - A terminal status accepts no further status-changing operation
//
// AssignedTo is a free-text staff display name, validated against the
// permission gate's assignable roles at creation time only. Renaming or
// reassigning staff in the directory does not update existing referrals.
type Referral struct {
	ID            id.ReferralID  `json:"id"`
	ClientID      id.ClientRef   `json:"client_id"`
	Client        ClientSnapshot `json:"client"`
	Service       Service        `json:"service"`
	Source        Source         `json:"source"`
	TriggerReason string         `json:"trigger_reason"`
	RiskLevel     RiskLevel      `json:"risk_level"`
	Priority      Priority       `json:"priority"`
	AssignedTo    string         `json:"assigned_to"`
	AssignedRole  string         `json:"assigned_role"`
	Status        Status         `json:"status"`
	FollowUps     []FollowUp     `json:"follow_ups"`
	Linkage       *Linkage       `json:"linkage,omitempty"`
	AuditLog      []audit.Entry  `json:"audit_log"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`

	// Version supports optimistic concurrency in stores that compare-and-swap
	// on write. Incremented by the store on every successful mutation.
	Version int64 `json:"version"`
}

// NewReferral constructs a Pending referral with its initial audit entry.
func NewReferral(referralID id.ReferralID, clientID id.ClientRef, snapshot ClientSnapshot,
	service Service, source Source, triggerReason string,
	risk RiskLevel, priority Priority, assignedTo, assignedRole, actor string,
	now time.Time) (*Referral, error) {

	if clientID.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeValidation, "clientId is required")
	}
	if triggerReason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "triggerReason is required")
	}

	r := &Referral{
		ID:            referralID,
		ClientID:      clientID,
		Client:        snapshot,
		Service:       service,
		Source:        source,
		TriggerReason: triggerReason,
		RiskLevel:     risk,
		Priority:      priority,
		AssignedTo:    assignedTo,
		AssignedRole:  assignedRole,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.AuditLog = append(r.AuditLog, audit.NewEntry(referralID, audit.ActionCreated,
		"referral created for service "+string(service), actor, now))
	return r, nil
}

// IsTerminal reports whether the referral has reached a terminal status.
func (r *Referral) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// CanUpdateStatus checks whether a plain status update to the target status is
// legal. Linked to Care is rejected here unconditionally: that state is owned
// by the linkage confirmation path.
func (r *Referral) CanUpdateStatus(to Status) error {
	if to == StatusLinkedToCare {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"Linked to Care can only be set through linkage confirmation")
	}
	if r.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"referral is in terminal status "+string(r.Status))
	}
	if !r.Status.CanTransitionTo(to) {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"cannot transition from "+string(r.Status)+" to "+string(to))
	}
	return nil
}

// ApplyStatus transitions the referral and appends the status_changed audit
// entry. Call CanUpdateStatus first.
func (r *Referral) ApplyStatus(to Status, reason, actor string, now time.Time) {
	from := r.Status
	r.Status = to
	r.UpdatedAt = now
	entry := audit.NewEntry(r.ID, audit.ActionStatusChanged,
		"status changed from "+string(from)+" to "+string(to)+": "+reason, actor, now).
		WithChanges([]audit.FieldChange{{Field: "status", Before: string(from), After: string(to)}})
	r.AuditLog = append(r.AuditLog, entry)
}

// CanRecordFollowUp checks whether a follow-up may be appended. Follow-ups on
// a linked referral are rejected; the journey is complete.
func (r *Referral) CanRecordFollowUp() error {
	if r.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"referral is in terminal status "+string(r.Status))
	}
	return nil
}

// ApplyFollowUp appends the follow-up and its audit entry, then performs the
// automatic Pending→Contacted transition when the outreach succeeded. The
// automatic transition gets its own audit entry attributed to the system, not
// the recording actor.
func (r *Referral) ApplyFollowUp(f FollowUp, actor string, now time.Time) {
	r.FollowUps = append(r.FollowUps, f)
	r.UpdatedAt = now
	r.AuditLog = append(r.AuditLog, audit.NewEntry(r.ID, audit.ActionFollowUpAdded,
		string(f.ActionType)+" follow-up recorded with outcome "+string(f.Outcome), actor, now))

	if f.Outcome == OutcomeSuccessful && r.Status == StatusPending {
		from := r.Status
		r.Status = StatusContacted
		entry := audit.NewEntry(r.ID, audit.ActionStatusChanged,
			"automatic transition following successful contact", audit.SystemActor, now).
			WithChanges([]audit.FieldChange{{Field: "status", Before: string(from), After: string(StatusContacted)}})
		r.AuditLog = append(r.AuditLog, entry)
	}
}

// CanConfirmLinkage checks whether linkage confirmation is legal. A second
// confirmation is rejected with AlreadyLinked and leaves the stored linkage
// untouched (first writer wins).
func (r *Referral) CanConfirmLinkage() error {
	if r.Status == StatusLinkedToCare || r.Linkage != nil {
		return dErrors.New(dErrors.CodeAlreadyLinked, "referral is already linked to care")
	}
	if r.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"referral is in terminal status "+string(r.Status))
	}
	return nil
}

// ApplyLinkage sets the linkage record and the Linked to Care status together,
// never one without the other, and appends the linked audit entry.
func (r *Referral) ApplyLinkage(l Linkage, actor string, now time.Time) {
	from := r.Status
	r.Linkage = &l
	r.Status = StatusLinkedToCare
	r.UpdatedAt = now
	entry := audit.NewEntry(r.ID, audit.ActionLinked,
		"linkage confirmed at "+l.Facility, actor, now).
		WithChanges([]audit.FieldChange{{Field: "status", Before: string(from), After: string(StatusLinkedToCare)}})
	r.AuditLog = append(r.AuditLog, entry)
}

// CanEditFields checks whether non-status fields may still be edited.
func (r *Referral) CanEditFields() error {
	if r.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"referral is in terminal status "+string(r.Status))
	}
	return nil
}

// CheckInvariants verifies the linkage/status coupling. Stores call this
// before committing a mutation; a violation indicates a bug, not bad input.
func (r *Referral) CheckInvariants() error {
	linked := r.Status == StatusLinkedToCare
	hasLinkage := r.Linkage != nil
	if linked != hasLinkage {
		return dErrors.New(dErrors.CodeInternal,
			"linkage invariant violated: status and linkage record disagree")
	}
	if len(r.AuditLog) == 0 {
		return dErrors.New(dErrors.CodeInternal, "audit invariant violated: empty audit log")
	}
	return nil
}
