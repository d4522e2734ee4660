package models

import (
	"time"

	dErrors "carelink/pkg/domain-errors"
)

// FacilityType classifies the receiving facility.
type FacilityType string

const (
	FacilityPublic    FacilityType = "Public"
	FacilityPrivate   FacilityType = "Private"
	FacilityNGO       FacilityType = "NGO"
	FacilityCommunity FacilityType = "Community"
)

var validFacilityTypes = map[FacilityType]bool{
	FacilityPublic:    true,
	FacilityPrivate:   true,
	FacilityNGO:       true,
	FacilityCommunity: true,
}

// ParseFacilityType validates a facility type string.
func ParseFacilityType(s string) (FacilityType, bool) {
	f := FacilityType(s)
	if !validFacilityTypes[f] {
		return "", false
	}
	return f, true
}

// ConfirmationMethod records how the linkage fact was verified.
type ConfirmationMethod string

const (
	ConfirmProvider     ConfirmationMethod = "Provider Confirmation"
	ConfirmReferralSlip ConfirmationMethod = "Referral Slip"
	ConfirmClientReport ConfirmationMethod = "Client Report"
)

var validConfirmationMethods = map[ConfirmationMethod]bool{
	ConfirmProvider:     true,
	ConfirmReferralSlip: true,
	ConfirmClientReport: true,
}

// ParseConfirmationMethod validates a confirmation method string.
func ParseConfirmationMethod(s string) (ConfirmationMethod, bool) {
	c := ConfirmationMethod(s)
	if !validConfirmationMethods[c] {
		return "", false
	}
	return c, true
}

// Linkage is the terminal confirmation that the client arrived at and enrolled
// with the referred facility. Created exactly once per referral and immutable
// thereafter.
type Linkage struct {
	Facility           string             `json:"facility"`
	FacilityType       FacilityType       `json:"facility_type"`
	ConfirmationMethod ConfirmationMethod `json:"confirmation_method"`
	Notes              string             `json:"notes,omitempty"`
	Date               time.Time          `json:"date"`
}

// NewLinkage validates and builds a linkage record.
func NewLinkage(facility string, facilityType FacilityType, method ConfirmationMethod,
	notes string, date time.Time, now time.Time) (Linkage, error) {

	if facility == "" {
		return Linkage{}, dErrors.New(dErrors.CodeValidation, "facility is required")
	}
	if date.IsZero() {
		date = now
	}
	return Linkage{
		Facility:           facility,
		FacilityType:       facilityType,
		ConfirmationMethod: method,
		Notes:              notes,
		Date:               date,
	}, nil
}
