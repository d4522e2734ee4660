package models

import (
	"strings"
	"time"

	dErrors "carelink/pkg/domain-errors"
)

// CreateReferralRequest is the payload for opening a new referral.
type CreateReferralRequest struct {
	ClientID      string `json:"client_id"`
	Service       string `json:"service"`
	Source        string `json:"source"`
	TriggerReason string `json:"trigger_reason"`
	RiskLevel     string `json:"risk_level"`
	Priority      string `json:"priority"`
	AssignedTo    string `json:"assigned_to"`
	AssignedRole  string `json:"assigned_role"`
}

// Normalize trims whitespace from free-text fields.
func (r *CreateReferralRequest) Normalize() {
	r.ClientID = strings.TrimSpace(r.ClientID)
	r.TriggerReason = strings.TrimSpace(r.TriggerReason)
	r.AssignedTo = strings.TrimSpace(r.AssignedTo)
}

// Validate checks required fields and enumerations. Risk level and priority
// default to Medium/Routine when omitted, matching the intake form defaults.
func (r *CreateReferralRequest) Validate() error {
	if r.ClientID == "" {
		return dErrors.New(dErrors.CodeValidation, "clientId is required")
	}
	if r.TriggerReason == "" {
		return dErrors.New(dErrors.CodeValidation, "triggerReason is required")
	}
	if _, ok := ParseService(r.Service); !ok {
		return dErrors.New(dErrors.CodeValidation, "unknown service: "+r.Service)
	}
	if _, ok := ParseSource(r.Source); !ok {
		return dErrors.New(dErrors.CodeValidation, "unknown source: "+r.Source)
	}
	if r.RiskLevel == "" {
		r.RiskLevel = string(RiskMedium)
	}
	if _, ok := ParseRiskLevel(r.RiskLevel); !ok {
		return dErrors.New(dErrors.CodeValidation, "unknown risk level: "+r.RiskLevel)
	}
	if r.Priority == "" {
		r.Priority = string(PriorityRoutine)
	}
	if _, ok := ParsePriority(r.Priority); !ok {
		return dErrors.New(dErrors.CodeValidation, "unknown priority: "+r.Priority)
	}
	return nil
}

// UpdateReferralRequest carries partial edits to non-status fields. Nil means
// "leave unchanged". Status is deliberately absent; status changes go through
// the update-status and linkage operations only.
type UpdateReferralRequest struct {
	TriggerReason *string `json:"trigger_reason,omitempty"`
	RiskLevel     *string `json:"risk_level,omitempty"`
	Priority      *string `json:"priority,omitempty"`
	AssignedTo    *string `json:"assigned_to,omitempty"`
}

// Normalize trims whitespace from provided free-text fields.
func (r *UpdateReferralRequest) Normalize() {
	if r.TriggerReason != nil {
		v := strings.TrimSpace(*r.TriggerReason)
		r.TriggerReason = &v
	}
	if r.AssignedTo != nil {
		v := strings.TrimSpace(*r.AssignedTo)
		r.AssignedTo = &v
	}
}

// Validate rejects empty or unknown replacement values.
func (r *UpdateReferralRequest) Validate() error {
	if r.TriggerReason == nil && r.RiskLevel == nil && r.Priority == nil && r.AssignedTo == nil {
		return dErrors.New(dErrors.CodeValidation, "no fields to update")
	}
	if r.TriggerReason != nil && *r.TriggerReason == "" {
		return dErrors.New(dErrors.CodeValidation, "triggerReason cannot be empty")
	}
	if r.RiskLevel != nil {
		if _, ok := ParseRiskLevel(*r.RiskLevel); !ok {
			return dErrors.New(dErrors.CodeValidation, "unknown risk level: "+*r.RiskLevel)
		}
	}
	if r.Priority != nil {
		if _, ok := ParsePriority(*r.Priority); !ok {
			return dErrors.New(dErrors.CodeValidation, "unknown priority: "+*r.Priority)
		}
	}
	return nil
}

// AddFollowUpRequest records one outreach attempt.
type AddFollowUpRequest struct {
	ActionType string    `json:"action_type"`
	Outcome    string    `json:"outcome"`
	Notes      string    `json:"notes"`
	Date       time.Time `json:"date,omitempty"`
}

// Normalize trims the notes field.
func (r *AddFollowUpRequest) Normalize() {
	r.Notes = strings.TrimSpace(r.Notes)
}

// Validate checks required fields and enumerations.
func (r *AddFollowUpRequest) Validate() error {
	if _, ok := ParseActionType(r.ActionType); !ok {
		return dErrors.New(dErrors.CodeValidation, "unknown action type: "+r.ActionType)
	}
	if _, ok := ParseOutcome(r.Outcome); !ok {
		return dErrors.New(dErrors.CodeValidation, "unknown outcome: "+r.Outcome)
	}
	if r.Notes == "" {
		return dErrors.New(dErrors.CodeValidation, "notes is required")
	}
	return nil
}

// ConfirmLinkageRequest captures the verified linkage-to-care outcome.
type ConfirmLinkageRequest struct {
	Facility           string    `json:"facility"`
	FacilityType       string    `json:"facility_type"`
	ConfirmationMethod string    `json:"confirmation_method"`
	Notes              string    `json:"notes,omitempty"`
	Date               time.Time `json:"date,omitempty"`
}

// Normalize trims free-text fields.
func (r *ConfirmLinkageRequest) Normalize() {
	r.Facility = strings.TrimSpace(r.Facility)
	r.Notes = strings.TrimSpace(r.Notes)
}

// Validate checks required fields and enumerations. Facility type and
// confirmation method default to Public/Provider Confirmation when omitted.
func (r *ConfirmLinkageRequest) Validate() error {
	if r.Facility == "" {
		return dErrors.New(dErrors.CodeValidation, "facility is required")
	}
	if r.FacilityType == "" {
		r.FacilityType = string(FacilityPublic)
	}
	if _, ok := ParseFacilityType(r.FacilityType); !ok {
		return dErrors.New(dErrors.CodeValidation, "unknown facility type: "+r.FacilityType)
	}
	if r.ConfirmationMethod == "" {
		r.ConfirmationMethod = string(ConfirmProvider)
	}
	if _, ok := ParseConfirmationMethod(r.ConfirmationMethod); !ok {
		return dErrors.New(dErrors.CodeValidation, "unknown confirmation method: "+r.ConfirmationMethod)
	}
	return nil
}

// UpdateStatusRequest is a plain status change with its recorded reason.
type UpdateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Normalize trims the reason field.
func (r *UpdateStatusRequest) Normalize() {
	r.Reason = strings.TrimSpace(r.Reason)
}

// Validate checks the target status is a known value. Transition legality is
// the aggregate's concern, not the payload's.
func (r *UpdateStatusRequest) Validate() error {
	if _, ok := ParseStatus(r.Status); !ok {
		return dErrors.New(dErrors.CodeValidation, "unknown status: "+r.Status)
	}
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}

// ListFilters narrows the directory listing. Zero values mean "no filter".
type ListFilters struct {
	Status    string
	RiskLevel string
	Service   string
	Location  string
	Search    string
}

// Matches applies the filter predicates to one referral. Location and Search
// are case-insensitive substring matches; Search covers client name and id.
func (f ListFilters) Matches(r *Referral) bool {
	if f.Status != "" && string(r.Status) != f.Status {
		return false
	}
	if f.RiskLevel != "" && string(r.RiskLevel) != f.RiskLevel {
		return false
	}
	if f.Service != "" && string(r.Service) != f.Service {
		return false
	}
	if f.Location != "" && !containsFold(r.Client.Location, f.Location) {
		return false
	}
	if f.Search != "" {
		if !containsFold(r.Client.Name, f.Search) && !containsFold(string(r.ClientID), f.Search) {
			return false
		}
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
