package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"carelink/internal/audit"
	"carelink/internal/permission"
	"carelink/internal/referral/models"
	memorystore "carelink/internal/referral/store/memory"
	"carelink/internal/registry"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/requestcontext"
)

// captureMirror records emitted entries for assertions.
type captureMirror struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *captureMirror) Emit(_ context.Context, entry audit.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *captureMirror) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type ServiceSuite struct {
	suite.Suite
	service *Service
	store   *memorystore.Store
	mirror  *captureMirror
	now     time.Time
}

func (s *ServiceSuite) SetupTest() {
	s.store = memorystore.New()
	s.mirror = &captureMirror{}
	s.now = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	reg := registry.NewInMemory()
	reg.Add(registry.Client{
		ID: "client-001", Name: "Amina K", Phone: "+254700000001",
		Location: "Mathare", Program: "KP-1",
	})

	s.service = New(s.store, reg, permission.NewGate(),
		WithMirror(s.mirror),
		WithOverdueAfter(7*24*time.Hour),
	)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

// asctx builds a request context for the given actor, role, and time offset.
func (s *ServiceSuite) asctx(actor, role string, offset time.Duration) context.Context {
	ctx := requestcontext.WithActor(context.Background(), actor, role)
	return requestcontext.WithTime(ctx, s.now.Add(offset))
}

func (s *ServiceSuite) createReferral(ctx context.Context) *models.Referral {
	r, err := s.service.Create(ctx, models.CreateReferralRequest{
		ClientID:      "client-001",
		Service:       "PrEP",
		Source:        "Outreach",
		TriggerReason: "elevated risk disclosed during outreach",
		RiskLevel:     "High",
		Priority:      "Urgent",
	})
	s.Require().NoError(err)
	return r
}

// TestReferralJourney walks a referral from creation through follow-up to
// confirmed linkage, checking the audit trail at each step.
func (s *ServiceSuite) TestReferralJourney() {
	worker := s.asctx("worker-1", "outreach_worker", 0)
	clinician := s.asctx("clinician-1", "clinician", 2*time.Hour)

	// Creation: pending, snapshot populated, one audit entry.
	r := s.createReferral(worker)
	s.Equal(models.StatusPending, r.Status)
	s.Equal("Amina K", r.Client.Name)
	s.Require().Len(r.AuditLog, 1)
	s.Equal(audit.ActionCreated, r.AuditLog[0].Action)
	s.Equal("worker-1", r.AuditLog[0].Actor)
	s.Equal(1, s.mirror.len())

	// Successful follow-up: journal entry plus automatic contact transition.
	r2, err := s.service.AddFollowUp(worker, r.ID, models.AddFollowUpRequest{
		ActionType: "Call", Outcome: "Successful", Notes: "spoke with client, agreed to visit",
	})
	s.Require().NoError(err)
	s.Equal(models.StatusContacted, r2.Status)
	s.Require().Len(r2.AuditLog, 3)
	s.Equal(audit.ActionFollowUpAdded, r2.AuditLog[1].Action)
	s.Equal("worker-1", r2.AuditLog[1].Actor)
	s.Equal(audit.ActionStatusChanged, r2.AuditLog[2].Action)
	s.Equal(audit.SystemActor, r2.AuditLog[2].Actor)
	s.Equal(3, s.mirror.len())

	// Linkage confirmation by a clinician: terminal, linkage set.
	r3, err := s.service.ConfirmLinkage(clinician, r.ID, models.ConfirmLinkageRequest{
		Facility: "Mathare North Health Centre", FacilityType: "Public",
		ConfirmationMethod: "Provider Confirmation",
	})
	s.Require().NoError(err)
	s.Equal(models.StatusLinkedToCare, r3.Status)
	s.Require().NotNil(r3.Linkage)
	s.Require().Len(r3.AuditLog, 4)
	s.Equal(audit.ActionLinked, r3.AuditLog[3].Action)
	s.Equal(4, s.mirror.len())

	// A second confirmation is rejected and changes nothing.
	_, err = s.service.ConfirmLinkage(clinician, r.ID, models.ConfirmLinkageRequest{
		Facility: "Another Clinic",
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyLinked))

	final, err := s.service.Get(clinician, r.ID)
	s.Require().NoError(err)
	s.Equal("Mathare North Health Centre", final.Linkage.Facility)
	s.Len(final.AuditLog, 4)
	s.Equal(4, s.mirror.len())
}

func (s *ServiceSuite) TestCreate() {
	s.Run("unknown client fails validation", func() {
		_, err := s.service.Create(s.asctx("worker-1", "case_worker", 0), models.CreateReferralRequest{
			ClientID: "client-999", Service: "PrEP", Source: "Outreach", TriggerReason: "reason",
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("assigned role must be assignable for the service", func() {
		_, err := s.service.Create(s.asctx("worker-1", "case_worker", 0), models.CreateReferralRequest{
			ClientID: "client-001", Service: "Mental Health", Source: "Clinical",
			TriggerReason: "reason", AssignedTo: "J. Otieno", AssignedRole: "outreach_worker",
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("viewer cannot create", func() {
		_, err := s.service.Create(s.asctx("viewer-1", "viewer", 0), models.CreateReferralRequest{
			ClientID: "client-001", Service: "PrEP", Source: "Outreach", TriggerReason: "reason",
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodePermissionDenied))
		s.Equal(0, s.mirror.len(), "denied operation must not emit audit")
	})
}

func (s *ServiceSuite) TestUpdateStatus() {
	worker := s.asctx("worker-1", "case_worker", 0)
	r := s.createReferral(worker)

	s.Run("legal transition succeeds with reason recorded", func() {
		updated, err := s.service.UpdateStatus(worker, r.ID, models.UpdateStatusRequest{
			Status: "Contacted", Reason: "reached by phone",
		})
		s.Require().NoError(err)
		s.Equal(models.StatusContacted, updated.Status)
	})

	s.Run("direct linked target is rejected", func() {
		_, err := s.service.UpdateStatus(worker, r.ID, models.UpdateStatusRequest{
			Status: "Linked to Care", Reason: "client says so",
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("terminal referral rejects further updates", func() {
		_, err := s.service.UpdateStatus(worker, r.ID, models.UpdateStatusRequest{
			Status: "Failed", Reason: "unreachable",
		})
		s.Require().NoError(err)

		_, err = s.service.UpdateStatus(worker, r.ID, models.UpdateStatusRequest{
			Status: "Contacted", Reason: "trying again",
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

func (s *ServiceSuite) TestConfirmLinkagePermissions() {
	worker := s.asctx("worker-1", "outreach_worker", 0)
	r := s.createReferral(worker)

	_, err := s.service.ConfirmLinkage(worker, r.ID, models.ConfirmLinkageRequest{
		Facility: "Clinic A",
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodePermissionDenied))

	// No audit entry or state change from the denied attempt.
	found, err := s.service.Get(worker, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, found.Status)
	s.Len(found.AuditLog, 1)
}

func (s *ServiceSuite) TestUpdateFields() {
	worker := s.asctx("worker-1", "case_worker", 0)
	r := s.createReferral(worker)
	risk := "Medium"

	updated, err := s.service.Update(worker, r.ID, models.UpdateReferralRequest{RiskLevel: &risk})
	s.Require().NoError(err)
	s.Equal(models.RiskMedium, updated.RiskLevel)

	last := updated.AuditLog[len(updated.AuditLog)-1]
	s.Equal(audit.ActionUpdated, last.Action)
	s.Require().Len(last.Changes, 1)
	s.Equal("risk_level", last.Changes[0].Field)
	s.Equal("High", last.Changes[0].Before)
	s.Equal("Medium", last.Changes[0].After)
}

func (s *ServiceSuite) TestDelete() {
	worker := s.asctx("worker-1", "case_worker", 0)
	admin := s.asctx("admin-1", "admin", 0)
	r := s.createReferral(worker)

	s.Run("non-admin cannot delete", func() {
		err := s.service.Delete(worker, r.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodePermissionDenied))
	})

	s.Run("admin delete retains the audit trail", func() {
		s.Require().NoError(s.service.Delete(admin, r.ID))

		_, err := s.service.Get(admin, r.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		trail, err := s.service.AuditTrail(admin, r.ID)
		s.Require().NoError(err)
		s.Require().Len(trail, 2)
		s.Equal(audit.ActionDeleted, trail[1].Action)
		s.Equal("admin-1", trail[1].Actor)
	})
}

func (s *ServiceSuite) TestListOverdue() {
	worker := s.asctx("worker-1", "case_worker", 0)
	r := s.createReferral(worker)

	s.Run("fresh pending referral is not overdue", func() {
		items, err := s.service.List(worker, models.ListFilters{})
		s.Require().NoError(err)
		s.Require().Len(items, 1)
		s.False(items[0].Overdue)
	})

	s.Run("pending referral with no activity past the window is overdue", func() {
		later := s.asctx("worker-1", "case_worker", 8*24*time.Hour)
		items, err := s.service.List(later, models.ListFilters{})
		s.Require().NoError(err)
		s.Require().Len(items, 1)
		s.True(items[0].Overdue)
	})

	s.Run("recent follow-up resets the overdue clock", func() {
		midway := s.asctx("worker-1", "case_worker", 6*24*time.Hour)
		_, err := s.service.AddFollowUp(midway, r.ID, models.AddFollowUpRequest{
			ActionType: "Home Visit", Outcome: "Unsuccessful", Notes: "not home",
		})
		s.Require().NoError(err)

		later := s.asctx("worker-1", "case_worker", 8*24*time.Hour)
		items, err := s.service.List(later, models.ListFilters{})
		s.Require().NoError(err)
		s.Require().Len(items, 1)
		s.False(items[0].Overdue)
	})
}

func TestListItemOverdueOnlyForPending(t *testing.T) {
	svc := New(memorystore.New(), registry.NewInMemory(), permission.NewGate())
	now := time.Now()

	r := &models.Referral{Status: models.StatusContacted, CreatedAt: now.Add(-30 * 24 * time.Hour)}
	assert.False(t, svc.isOverdue(r, now))

	r.Status = models.StatusPending
	require.True(t, svc.isOverdue(r, now))
}
