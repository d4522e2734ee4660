package models

import (
	"time"

	dErrors "carelink/pkg/domain-errors"
)

// ActionType enumerates the kinds of outreach attempts.
type ActionType string

const (
	ActionCall            ActionType = "Call"
	ActionHomeVisit       ActionType = "Home Visit"
	ActionEscort          ActionType = "Escort"
	ActionFacilityMeeting ActionType = "Facility Meeting"
)

var validActionTypes = map[ActionType]bool{
	ActionCall:            true,
	ActionHomeVisit:       true,
	ActionEscort:          true,
	ActionFacilityMeeting: true,
}

// ParseActionType validates an action type string.
func ParseActionType(s string) (ActionType, bool) {
	a := ActionType(s)
	if !validActionTypes[a] {
		return "", false
	}
	return a, true
}

// Outcome enumerates how an outreach attempt ended.
type Outcome string

const (
	OutcomeSuccessful    Outcome = "Successful"
	OutcomeUnsuccessful  Outcome = "Unsuccessful"
	OutcomeClientRefused Outcome = "Client Refused"
	OutcomeRescheduled   Outcome = "Rescheduled"
)

var validOutcomes = map[Outcome]bool{
	OutcomeSuccessful:    true,
	OutcomeUnsuccessful:  true,
	OutcomeClientRefused: true,
	OutcomeRescheduled:   true,
}

// ParseOutcome validates an outcome string.
func ParseOutcome(s string) (Outcome, bool) {
	o := Outcome(s)
	if !validOutcomes[o] {
		return "", false
	}
	return o, true
}

// FollowUp is one recorded outreach attempt. Created only through the add
// follow-up operation and never mutated afterwards; the journal of follow-ups
// is the authoritative activity timeline for a referral.
type FollowUp struct {
	ActionType ActionType `json:"action_type"`
	Outcome    Outcome    `json:"outcome"`
	Notes      string     `json:"notes"`
	Date       time.Time  `json:"date"`
	RecordedBy string     `json:"recorded_by"`
}

// NewFollowUp validates and builds a follow-up. Date defaults to now when the
// caller leaves it zero.
func NewFollowUp(actionType ActionType, outcome Outcome, notes string, date time.Time,
	recordedBy string, now time.Time) (FollowUp, error) {

	if notes == "" {
		return FollowUp{}, dErrors.New(dErrors.CodeValidation, "notes is required")
	}
	if date.IsZero() {
		date = now
	}
	return FollowUp{
		ActionType: actionType,
		Outcome:    outcome,
		Notes:      notes,
		Date:       date,
		RecordedBy: recordedBy,
	}, nil
}
