//go:build integration

package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"carelink/internal/audit"
	"carelink/internal/referral/models"
	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/sentinel"
	"carelink/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = New(s.postgres.DB)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "referrals", "referral_audit_entries")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newReferral() *models.Referral {
	r, err := models.NewReferral(
		id.NewReferralID(), id.ClientRef("client-001"),
		models.ClientSnapshot{Name: "Amina K", Location: "Mathare"},
		models.ServicePrEP, models.SourceOutreach, "elevated risk",
		models.RiskHigh, models.PriorityUrgent, "", "", "worker-1", time.Now().UTC(),
	)
	s.Require().NoError(err)
	return r
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	r := s.newReferral()
	s.Require().NoError(s.store.Create(ctx, r))

	found, err := s.store.FindByID(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(r.ID, found.ID)
	s.Equal(models.StatusPending, found.Status)
	s.Equal("Amina K", found.Client.Name)
	s.Equal(int64(1), found.Version)
	s.Require().Len(found.AuditLog, 1)
	s.Equal(audit.ActionCreated, found.AuditLog[0].Action)

	_, err = s.store.FindByID(ctx, id.NewReferralID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestCreateDuplicateConflicts() {
	ctx := context.Background()
	r := s.newReferral()
	s.Require().NoError(s.store.Create(ctx, r))
	s.Require().ErrorIs(s.store.Create(ctx, r), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestExecuteCommitsMutationAndAuditTogether() {
	ctx := context.Background()
	r := s.newReferral()
	s.Require().NoError(s.store.Create(ctx, r))

	updated, err := s.store.Execute(ctx, r.ID,
		func(r *models.Referral) error { return r.CanUpdateStatus(models.StatusContacted) },
		func(r *models.Referral) {
			r.ApplyStatus(models.StatusContacted, "reached by phone", "worker-1", time.Now().UTC())
		})
	s.Require().NoError(err)
	s.Equal(models.StatusContacted, updated.Status)
	s.Equal(int64(2), updated.Version)

	trail, err := s.store.AuditTrail(ctx, r.ID)
	s.Require().NoError(err)
	s.Require().Len(trail, 2)
	s.Equal(audit.ActionStatusChanged, trail[1].Action)
	s.Require().Len(trail[1].Changes, 1)
	s.Equal("status", trail[1].Changes[0].Field)
}

// The doc column stores the aggregate without its trail, so Execute must
// reattach it: the callbacks and the returned referral carry the complete
// log, exactly as the memory store behaves.
func (s *PostgresStoreSuite) TestExecuteCarriesFullAuditLog() {
	ctx := context.Background()
	r := s.newReferral()
	s.Require().NoError(s.store.Create(ctx, r))

	var seenByValidate int
	updated, err := s.store.Execute(ctx, r.ID,
		func(r *models.Referral) error {
			seenByValidate = len(r.AuditLog)
			return r.CanUpdateStatus(models.StatusContacted)
		},
		func(r *models.Referral) {
			r.ApplyStatus(models.StatusContacted, "reached by phone", "worker-1", time.Now().UTC())
		})
	s.Require().NoError(err)
	s.Equal(1, seenByValidate, "validate sees the existing trail")
	s.Require().Len(updated.AuditLog, 2)
	s.Equal(audit.ActionCreated, updated.AuditLog[0].Action)
	s.Equal(audit.ActionStatusChanged, updated.AuditLog[1].Action)

	fu, err := models.NewFollowUp(models.ActionCall, models.OutcomeUnsuccessful, "no answer",
		time.Time{}, "worker-1", time.Now().UTC())
	s.Require().NoError(err)
	updated, err = s.store.Execute(ctx, r.ID,
		func(r *models.Referral) error { return r.CanRecordFollowUp() },
		func(r *models.Referral) { r.ApplyFollowUp(fu, "worker-1", time.Now().UTC()) })
	s.Require().NoError(err)
	s.Require().Len(updated.AuditLog, 3)
	s.Equal(audit.ActionFollowUpAdded, updated.AuditLog[2].Action)
}

func (s *PostgresStoreSuite) TestExecuteFailedValidationWritesNothing() {
	ctx := context.Background()
	r := s.newReferral()
	s.Require().NoError(s.store.Create(ctx, r))

	_, err := s.store.Execute(ctx, r.ID,
		func(r *models.Referral) error { return r.CanUpdateStatus(models.StatusLinkedToCare) },
		func(r *models.Referral) {
			r.ApplyStatus(models.StatusLinkedToCare, "nope", "worker-1", time.Now().UTC())
		})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	found, err := s.store.FindByID(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, found.Status)
	s.Equal(int64(1), found.Version)
	s.Len(found.AuditLog, 1)
}

// TestConcurrentLinkageConfirmation verifies that under concurrent
// confirmation attempts exactly one writer wins and exactly one linked
// audit entry is written.
func (s *PostgresStoreSuite) TestConcurrentLinkageConfirmation() {
	ctx := context.Background()
	r := s.newReferral()
	s.Require().NoError(s.store.Create(ctx, r))

	const goroutines = 10
	var wg sync.WaitGroup
	var successCount, rejectedCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := time.Now().UTC()
			l, err := models.NewLinkage("Clinic A", models.FacilityPublic, models.ConfirmProvider, "", time.Time{}, now)
			if err != nil {
				return
			}
			_, err = s.store.Execute(ctx, r.ID,
				func(r *models.Referral) error { return r.CanConfirmLinkage() },
				func(r *models.Referral) { r.ApplyLinkage(l, "clinician-1", now) })
			switch {
			case err == nil:
				successCount.Add(1)
			case dErrors.HasCode(err, dErrors.CodeAlreadyLinked):
				rejectedCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load())
	s.Equal(int32(goroutines-1), rejectedCount.Load())

	found, err := s.store.FindByID(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusLinkedToCare, found.Status)
	s.Require().NotNil(found.Linkage)
	s.Len(found.AuditLog, 2)
}

func (s *PostgresStoreSuite) TestDeleteRetainsTrail() {
	ctx := context.Background()
	r := s.newReferral()
	s.Require().NoError(s.store.Create(ctx, r))

	final := audit.NewEntry(r.ID, audit.ActionDeleted, "referral deleted", "admin-1", time.Now().UTC())
	s.Require().NoError(s.store.Delete(ctx, r.ID, final))

	_, err := s.store.FindByID(ctx, r.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	trail, err := s.store.AuditTrail(ctx, r.ID)
	s.Require().NoError(err)
	s.Require().Len(trail, 2)
	s.Equal(audit.ActionDeleted, trail[1].Action)
}

func (s *PostgresStoreSuite) TestListFilters() {
	ctx := context.Background()
	high := s.newReferral()
	s.Require().NoError(s.store.Create(ctx, high))

	low, err := models.NewReferral(
		id.NewReferralID(), id.ClientRef("client-002"),
		models.ClientSnapshot{Name: "Zawadi N", Location: "Kibera"},
		models.ServiceART, models.SourceClinical, "treatment interruption",
		models.RiskLow, models.PriorityRoutine, "", "", "worker-2", time.Now().UTC().Add(time.Second),
	)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(ctx, low))

	out, err := s.store.List(ctx, models.ListFilters{RiskLevel: "High"})
	s.Require().NoError(err)
	s.Require().Len(out, 1)
	s.Equal(high.ID, out[0].ID)

	out, err = s.store.List(ctx, models.ListFilters{Search: "zawadi"})
	s.Require().NoError(err)
	s.Require().Len(out, 1)
	s.Equal(low.ID, out[0].ID)

	out, err = s.store.List(ctx, models.ListFilters{})
	s.Require().NoError(err)
	s.Require().Len(out, 2)
	s.Equal(low.ID, out[0].ID, "newest first")
}
