// Package service orchestrates the referral lifecycle: permission checks,
// payload validation, state machine transitions, and audit emission. Handlers
// stay thin; stores stay dumb.
package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"carelink/internal/audit"
	"carelink/internal/permission"
	refmetrics "carelink/internal/referral/metrics"
	"carelink/internal/referral/models"
	"carelink/internal/registry"
	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/sentinel"
	"carelink/pkg/requestcontext"
)

// Store is the persistence boundary the service depends on. See the store
// package for the concurrency contract.
type Store interface {
	Create(ctx context.Context, referral *models.Referral) error
	FindByID(ctx context.Context, referralID id.ReferralID) (*models.Referral, error)
	List(ctx context.Context, filters models.ListFilters) ([]*models.Referral, error)
	Execute(ctx context.Context, referralID id.ReferralID,
		validate func(*models.Referral) error,
		mutate func(*models.Referral)) (*models.Referral, error)
	Delete(ctx context.Context, referralID id.ReferralID, final audit.Entry) error
	AuditTrail(ctx context.Context, referralID id.ReferralID) ([]audit.Entry, error)
}

// Gate answers capability questions for the caller's role.
type Gate interface {
	CanEdit(role permission.Role) bool
	CanLink(role permission.Role) bool
	CanDelete(role permission.Role) bool
	AssignableRoles(service string) []permission.Role
}

// Mirror receives committed audit entries for async fan-out. Emission must
// not affect the outcome of the operation.
type Mirror interface {
	Emit(ctx context.Context, entry audit.Entry)
}

// ListItem is the directory projection: the referral plus read-side flags.
type ListItem struct {
	*models.Referral
	// Overdue marks a pending referral with no outreach activity within the
	// configured window; the dashboard surfaces these as needing attention.
	Overdue bool `json:"overdue"`
}

// Service owns the referral lifecycle workflow.
type Service struct {
	store        Store
	registry     registry.Registry
	gate         Gate
	mirror       Mirror
	metrics      *refmetrics.Metrics
	logger       *slog.Logger
	tracer       trace.Tracer
	overdueAfter time.Duration
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMirror(mirror Mirror) Option {
	return func(s *Service) { s.mirror = mirror }
}

func WithMetrics(m *refmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithOverdueAfter sets the window after which an untouched pending referral
// is flagged overdue in listings.
func WithOverdueAfter(d time.Duration) Option {
	return func(s *Service) { s.overdueAfter = d }
}

// New constructs the referral service.
func New(store Store, reg registry.Registry, gate Gate, opts ...Option) *Service {
	s := &Service{
		store:        store,
		registry:     reg,
		gate:         gate,
		logger:       slog.Default(),
		tracer:       otel.Tracer("carelink/referral"),
		overdueAfter: 7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the payload, snapshots the client from the registry, and
// persists a Pending referral with its initial audit entry.
func (s *Service) Create(ctx context.Context, req models.CreateReferralRequest) (*models.Referral, error) {
	ctx, span := s.tracer.Start(ctx, "referral.Create")
	defer span.End()
	start := time.Now()

	if err := s.requireEdit(ctx); err != nil {
		return nil, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	service, _ := models.ParseService(req.Service)
	source, _ := models.ParseSource(req.Source)
	risk, _ := models.ParseRiskLevel(req.RiskLevel)
	priority, _ := models.ParsePriority(req.Priority)

	client, err := s.registry.Lookup(ctx, id.ClientRef(req.ClientID))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeValidation, "client not found in registry")
		}
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "client registry unavailable")
	}

	assignedRole := ""
	if req.AssignedTo != "" {
		role, ok := permission.ParseRole(req.AssignedRole)
		if !ok {
			return nil, dErrors.New(dErrors.CodeValidation, "unknown assigned role: "+req.AssignedRole)
		}
		if !slices.Contains(s.gate.AssignableRoles(req.Service), role) {
			return nil, dErrors.New(dErrors.CodeValidation,
				"role "+string(role)+" cannot be assigned referrals for "+req.Service)
		}
		assignedRole = string(role)
	}

	now := requestcontext.Now(ctx)
	referral, err := models.NewReferral(
		id.NewReferralID(), id.ClientRef(req.ClientID),
		models.ClientSnapshot{
			Name:     client.Name,
			Phone:    client.Phone,
			Location: client.Location,
			Program:  client.Program,
		},
		service, source, req.TriggerReason, risk, priority,
		req.AssignedTo, assignedRole, requestcontext.Actor(ctx), now,
	)
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, referral); err != nil {
		return nil, wrapStoreErr(err)
	}

	s.emitNew(ctx, referral, 1)
	if s.metrics != nil {
		s.metrics.ReferralsCreated.Inc()
		s.metrics.ObserveOperation("create", start)
	}
	s.logger.InfoContext(ctx, "referral created",
		"referral_id", referral.ID.String(),
		"service", string(referral.Service),
		"actor", requestcontext.Actor(ctx),
		"request_id", requestcontext.RequestID(ctx),
	)
	return referral, nil
}

// Get loads one referral including its audit log.
func (s *Service) Get(ctx context.Context, referralID id.ReferralID) (*models.Referral, error) {
	referral, err := s.store.FindByID(ctx, referralID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return referral, nil
}

// List returns the directory projection, newest first, with the overdue flag
// computed against the request time. Read-only; no audit entry.
func (s *Service) List(ctx context.Context, filters models.ListFilters) ([]ListItem, error) {
	referrals, err := s.store.List(ctx, filters)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	now := requestcontext.Now(ctx)
	items := make([]ListItem, 0, len(referrals))
	for _, r := range referrals {
		items = append(items, ListItem{
			Referral: r,
			Overdue:  s.isOverdue(r, now),
		})
	}
	return items, nil
}

// UpdateStatus performs a plain status transition with its recorded reason.
// Linked to Care is rejected here; that state belongs to ConfirmLinkage.
func (s *Service) UpdateStatus(ctx context.Context, referralID id.ReferralID, req models.UpdateStatusRequest) (*models.Referral, error) {
	ctx, span := s.tracer.Start(ctx, "referral.UpdateStatus")
	defer span.End()
	start := time.Now()

	if err := s.requireEdit(ctx); err != nil {
		return nil, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	target, _ := models.ParseStatus(req.Status)
	actor := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)

	referral, err := s.store.Execute(ctx, referralID,
		func(r *models.Referral) error {
			return r.CanUpdateStatus(target)
		},
		func(r *models.Referral) {
			r.ApplyStatus(target, req.Reason, actor, now)
		},
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidTransition) && s.metrics != nil {
			s.metrics.TransitionRejected.Inc()
		}
		return nil, wrapStoreErr(err)
	}

	s.emitNew(ctx, referral, 1)
	if s.metrics != nil {
		s.metrics.StatusChanges.Inc()
		s.metrics.ObserveOperation("update_status", start)
	}
	return referral, nil
}

// AddFollowUp appends one outreach attempt. When the attempt succeeded and
// the referral was still pending, the engine performs the automatic
// transition to Contacted with its own system-attributed audit entry.
func (s *Service) AddFollowUp(ctx context.Context, referralID id.ReferralID, req models.AddFollowUpRequest) (*models.Referral, error) {
	ctx, span := s.tracer.Start(ctx, "referral.AddFollowUp")
	defer span.End()
	start := time.Now()

	if err := s.requireEdit(ctx); err != nil {
		return nil, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	actionType, _ := models.ParseActionType(req.ActionType)
	outcome, _ := models.ParseOutcome(req.Outcome)
	actor := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)

	followUp, err := models.NewFollowUp(actionType, outcome, req.Notes, req.Date, actor, now)
	if err != nil {
		return nil, err
	}

	referral, err := s.store.Execute(ctx, referralID,
		func(r *models.Referral) error {
			return r.CanRecordFollowUp()
		},
		func(r *models.Referral) {
			r.ApplyFollowUp(followUp, actor, now)
		},
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	// The auto-transition appends a second, system-attributed entry.
	emitted := 1
	if last := referral.AuditLog[len(referral.AuditLog)-1]; last.Action == audit.ActionStatusChanged && last.Actor == audit.SystemActor {
		emitted = 2
		if s.metrics != nil {
			s.metrics.StatusChanges.Inc()
		}
	}
	s.emitNew(ctx, referral, emitted)
	if s.metrics != nil {
		s.metrics.FollowUpsRecorded.Inc()
		s.metrics.ObserveOperation("add_follow_up", start)
	}
	return referral, nil
}

// ConfirmLinkage records the verified linkage-to-care outcome, setting the
// linkage record and terminal status together. Second calls fail with
// AlreadyLinked and leave the stored linkage untouched.
func (s *Service) ConfirmLinkage(ctx context.Context, referralID id.ReferralID, req models.ConfirmLinkageRequest) (*models.Referral, error) {
	ctx, span := s.tracer.Start(ctx, "referral.ConfirmLinkage")
	defer span.End()
	start := time.Now()

	role, err := s.callerRole(ctx)
	if err != nil {
		return nil, err
	}
	if !s.gate.CanEdit(role) || !s.gate.CanLink(role) {
		s.denied(ctx, "confirm_linkage", role)
		return nil, dErrors.New(dErrors.CodePermissionDenied, "role may not confirm linkage")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	facilityType, _ := models.ParseFacilityType(req.FacilityType)
	method, _ := models.ParseConfirmationMethod(req.ConfirmationMethod)
	actor := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)

	linkage, err := models.NewLinkage(req.Facility, facilityType, method, req.Notes, req.Date, now)
	if err != nil {
		return nil, err
	}

	referral, err := s.store.Execute(ctx, referralID,
		func(r *models.Referral) error {
			return r.CanConfirmLinkage()
		},
		func(r *models.Referral) {
			r.ApplyLinkage(linkage, actor, now)
		},
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	s.emitNew(ctx, referral, 1)
	if s.metrics != nil {
		s.metrics.LinkagesConfirmed.Inc()
		s.metrics.ObserveOperation("confirm_linkage", start)
	}
	s.logger.InfoContext(ctx, "linkage confirmed",
		"referral_id", referral.ID.String(),
		"facility", linkage.Facility,
		"actor", actor,
		"request_id", requestcontext.RequestID(ctx),
	)
	return referral, nil
}

// Update edits non-status fields and records the before/after diff in the
// audit entry.
func (s *Service) Update(ctx context.Context, referralID id.ReferralID, req models.UpdateReferralRequest) (*models.Referral, error) {
	ctx, span := s.tracer.Start(ctx, "referral.Update")
	defer span.End()
	start := time.Now()

	if err := s.requireEdit(ctx); err != nil {
		return nil, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	actor := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)

	referral, err := s.store.Execute(ctx, referralID,
		func(r *models.Referral) error {
			return r.CanEditFields()
		},
		func(r *models.Referral) {
			applyUpdate(r, req, actor, now)
		},
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	s.emitNew(ctx, referral, 1)
	if s.metrics != nil {
		s.metrics.ObserveOperation("update", start)
	}
	return referral, nil
}

// Delete removes a referral. Admin only; the audit trail is retained with a
// final deleted entry.
func (s *Service) Delete(ctx context.Context, referralID id.ReferralID) error {
	ctx, span := s.tracer.Start(ctx, "referral.Delete")
	defer span.End()
	start := time.Now()

	role, err := s.callerRole(ctx)
	if err != nil {
		return err
	}
	if !s.gate.CanDelete(role) {
		s.denied(ctx, "delete", role)
		return dErrors.New(dErrors.CodePermissionDenied, "role may not delete referrals")
	}

	actor := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)
	final := audit.NewEntry(referralID, audit.ActionDeleted, "referral deleted", actor, now)

	if err := s.store.Delete(ctx, referralID, final); err != nil {
		return wrapStoreErr(err)
	}

	if s.mirror != nil {
		s.mirror.Emit(ctx, final)
	}
	if s.metrics != nil {
		s.metrics.ReferralsDeleted.Inc()
		s.metrics.ObserveOperation("delete", start)
	}
	s.logger.InfoContext(ctx, "referral deleted",
		"referral_id", referralID.String(),
		"actor", actor,
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil
}

// AuditTrail returns the full trail for a referral, including trails of
// deleted referrals.
func (s *Service) AuditTrail(ctx context.Context, referralID id.ReferralID) ([]audit.Entry, error) {
	entries, err := s.store.AuditTrail(ctx, referralID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return entries, nil
}

func (s *Service) isOverdue(r *models.Referral, now time.Time) bool {
	if r.Status != models.StatusPending {
		return false
	}
	lastActivity := r.CreatedAt
	if n := len(r.FollowUps); n > 0 {
		lastActivity = r.FollowUps[n-1].Date
	}
	return now.Sub(lastActivity) > s.overdueAfter
}

func (s *Service) callerRole(ctx context.Context) (permission.Role, error) {
	role, ok := permission.ParseRole(requestcontext.Role(ctx))
	if !ok {
		return "", dErrors.New(dErrors.CodePermissionDenied, "unknown caller role")
	}
	return role, nil
}

func (s *Service) requireEdit(ctx context.Context) error {
	role, err := s.callerRole(ctx)
	if err != nil {
		return err
	}
	if !s.gate.CanEdit(role) {
		s.denied(ctx, "edit", role)
		return dErrors.New(dErrors.CodePermissionDenied, "role may not edit referrals")
	}
	return nil
}

func (s *Service) denied(ctx context.Context, operation string, role permission.Role) {
	if s.metrics != nil {
		s.metrics.PermissionsDenied.Inc()
	}
	s.logger.WarnContext(ctx, "permission denied",
		"operation", operation,
		"role", string(role),
		"actor", requestcontext.Actor(ctx),
		"request_id", requestcontext.RequestID(ctx),
	)
}

// emitNew mirrors the last n audit entries of a committed mutation.
func (s *Service) emitNew(ctx context.Context, r *models.Referral, n int) {
	if s.mirror == nil {
		return
	}
	entries := r.AuditLog
	if len(entries) < n {
		n = len(entries)
	}
	for _, entry := range entries[len(entries)-n:] {
		s.mirror.Emit(ctx, entry)
	}
}

func applyUpdate(r *models.Referral, req models.UpdateReferralRequest, actor string, now time.Time) {
	var changes []audit.FieldChange
	change := func(field, before, after string) {
		changes = append(changes, audit.FieldChange{Field: field, Before: before, After: after})
	}
	if req.TriggerReason != nil && *req.TriggerReason != r.TriggerReason {
		change("trigger_reason", r.TriggerReason, *req.TriggerReason)
		r.TriggerReason = *req.TriggerReason
	}
	if req.RiskLevel != nil && *req.RiskLevel != string(r.RiskLevel) {
		change("risk_level", string(r.RiskLevel), *req.RiskLevel)
		risk, _ := models.ParseRiskLevel(*req.RiskLevel)
		r.RiskLevel = risk
	}
	if req.Priority != nil && *req.Priority != string(r.Priority) {
		change("priority", string(r.Priority), *req.Priority)
		priority, _ := models.ParsePriority(*req.Priority)
		r.Priority = priority
	}
	if req.AssignedTo != nil && *req.AssignedTo != r.AssignedTo {
		change("assigned_to", r.AssignedTo, *req.AssignedTo)
		r.AssignedTo = *req.AssignedTo
	}
	r.UpdatedAt = now
	entry := audit.NewEntry(r.ID, audit.ActionUpdated, "referral fields updated", actor, now).
		WithChanges(changes)
	r.AuditLog = append(r.AuditLog, entry)
}

func wrapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "referral not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "referral was modified concurrently, retry")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodePersistence, "store unavailable")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodePersistence, "store operation failed")
}
