package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
)

func validCreateRequest() CreateReferralRequest {
	return CreateReferralRequest{
		ClientID:      "client-001",
		Service:       "PrEP",
		Source:        "Outreach",
		TriggerReason: "elevated risk",
	}
}

func TestCreateReferralRequestValidate(t *testing.T) {
	t.Run("valid request passes and defaults risk and priority", func(t *testing.T) {
		req := validCreateRequest()
		require.NoError(t, req.Validate())
		assert.Equal(t, string(RiskMedium), req.RiskLevel)
		assert.Equal(t, string(PriorityRoutine), req.Priority)
	})

	t.Run("normalize trims whitespace", func(t *testing.T) {
		req := validCreateRequest()
		req.ClientID = "  client-001  "
		req.TriggerReason = " reason "
		req.Normalize()
		assert.Equal(t, "client-001", req.ClientID)
		assert.Equal(t, "reason", req.TriggerReason)
	})

	cases := []struct {
		name   string
		mutate func(*CreateReferralRequest)
	}{
		{"missing client id", func(r *CreateReferralRequest) { r.ClientID = "" }},
		{"missing trigger reason", func(r *CreateReferralRequest) { r.TriggerReason = "" }},
		{"unknown service", func(r *CreateReferralRequest) { r.Service = "Dentistry" }},
		{"unknown source", func(r *CreateReferralRequest) { r.Source = "Fax" }},
		{"unknown risk level", func(r *CreateReferralRequest) { r.RiskLevel = "Extreme" }},
		{"unknown priority", func(r *CreateReferralRequest) { r.Priority = "ASAP" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validCreateRequest()
			tc.mutate(&req)
			err := req.Validate()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestUpdateReferralRequestValidate(t *testing.T) {
	str := func(s string) *string { return &s }

	t.Run("empty update is rejected", func(t *testing.T) {
		var req UpdateReferralRequest
		require.Error(t, req.Validate())
	})

	t.Run("valid partial update passes", func(t *testing.T) {
		req := UpdateReferralRequest{RiskLevel: str("High")}
		require.NoError(t, req.Validate())
	})

	t.Run("empty trigger reason replacement is rejected", func(t *testing.T) {
		req := UpdateReferralRequest{TriggerReason: str("")}
		require.Error(t, req.Validate())
	})

	t.Run("unknown risk level is rejected", func(t *testing.T) {
		req := UpdateReferralRequest{RiskLevel: str("Extreme")}
		require.Error(t, req.Validate())
	})
}

func TestUpdateStatusRequestValidate(t *testing.T) {
	t.Run("requires known status and a reason", func(t *testing.T) {
		req := UpdateStatusRequest{Status: "Failed", Reason: "client relocated"}
		require.NoError(t, req.Validate())

		req = UpdateStatusRequest{Status: "Done", Reason: "x"}
		require.Error(t, req.Validate())

		req = UpdateStatusRequest{Status: "Failed"}
		require.Error(t, req.Validate())
	})
}

func TestAddFollowUpRequestValidate(t *testing.T) {
	t.Run("requires known enums and notes", func(t *testing.T) {
		req := AddFollowUpRequest{ActionType: "Call", Outcome: "Successful", Notes: "spoke with client"}
		require.NoError(t, req.Validate())

		req.Notes = ""
		require.Error(t, req.Validate())

		req = AddFollowUpRequest{ActionType: "Telegram", Outcome: "Successful", Notes: "x"}
		require.Error(t, req.Validate())
	})
}

func TestConfirmLinkageRequestValidate(t *testing.T) {
	t.Run("defaults facility type and confirmation method", func(t *testing.T) {
		req := ConfirmLinkageRequest{Facility: "Clinic A"}
		require.NoError(t, req.Validate())
		assert.Equal(t, string(FacilityPublic), req.FacilityType)
		assert.Equal(t, string(ConfirmProvider), req.ConfirmationMethod)
	})

	t.Run("requires a facility", func(t *testing.T) {
		req := ConfirmLinkageRequest{}
		require.Error(t, req.Validate())
	})
}

func TestListFiltersMatches(t *testing.T) {
	r := &Referral{
		ClientID:  id.ClientRef("client-001"),
		Client:    ClientSnapshot{Name: "Amina K", Location: "Mathare"},
		Service:   ServicePrEP,
		RiskLevel: RiskHigh,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	cases := []struct {
		name    string
		filters ListFilters
		match   bool
	}{
		{"empty filters match", ListFilters{}, true},
		{"status match", ListFilters{Status: "Pending"}, true},
		{"status mismatch", ListFilters{Status: "Contacted"}, false},
		{"risk match", ListFilters{RiskLevel: "High"}, true},
		{"service mismatch", ListFilters{Service: "ART"}, false},
		{"location substring case-insensitive", ListFilters{Location: "mathare"}, true},
		{"search by name fragment", ListFilters{Search: "amina"}, true},
		{"search by client id fragment", ListFilters{Search: "001"}, true},
		{"search mismatch", ListFilters{Search: "zawadi"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.match, tc.filters.Matches(r))
		})
	}
}
