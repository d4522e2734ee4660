package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"carelink/internal/audit"
	"carelink/internal/platform/metrics"
	"carelink/internal/platform/middleware"
	"carelink/internal/referral/models"
	"carelink/internal/referral/service"
	"carelink/internal/transport/http/shared"
	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
)

//go:generate mockgen -source=handler.go -destination=mocks/referral-mocks.go -package=mocks Service

// Service defines the interface for referral lifecycle operations.
type Service interface {
	Create(ctx context.Context, req models.CreateReferralRequest) (*models.Referral, error)
	Get(ctx context.Context, referralID id.ReferralID) (*models.Referral, error)
	List(ctx context.Context, filters models.ListFilters) ([]service.ListItem, error)
	Update(ctx context.Context, referralID id.ReferralID, req models.UpdateReferralRequest) (*models.Referral, error)
	UpdateStatus(ctx context.Context, referralID id.ReferralID, req models.UpdateStatusRequest) (*models.Referral, error)
	AddFollowUp(ctx context.Context, referralID id.ReferralID, req models.AddFollowUpRequest) (*models.Referral, error)
	ConfirmLinkage(ctx context.Context, referralID id.ReferralID, req models.ConfirmLinkageRequest) (*models.Referral, error)
	Delete(ctx context.Context, referralID id.ReferralID) error
	AuditTrail(ctx context.Context, referralID id.ReferralID) ([]audit.Entry, error)
}

// Handler handles referral endpoints.
type Handler struct {
	logger       *slog.Logger
	referrals    Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a referral Handler.
func New(
	referrals Service,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		referrals:    referrals,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register registers the referral routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	referralRouter := chi.NewRouter()
	referralRouter.Use(middleware.Recovery(h.logger))
	referralRouter.Use(middleware.RequestID)
	referralRouter.Use(middleware.RequestTime)
	referralRouter.Use(middleware.Logger(h.logger))
	referralRouter.Use(middleware.Timeout(30 * time.Second))
	referralRouter.Use(middleware.ContentTypeJSON)
	referralRouter.Use(middleware.Latency(h.metrics))
	referralRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	referralRouter.Post("/", h.handleCreate)
	referralRouter.Get("/", h.handleList)
	referralRouter.Get("/{id}", h.handleGet)
	referralRouter.Patch("/{id}", h.handleUpdate)
	referralRouter.Post("/{id}/status", h.handleUpdateStatus)
	referralRouter.Post("/{id}/followups", h.handleAddFollowUp)
	referralRouter.Get("/{id}/followups", h.handleListFollowUps)
	referralRouter.Post("/{id}/linkage", h.handleConfirmLinkage)
	referralRouter.Delete("/{id}", h.handleDelete)
	referralRouter.Get("/{id}/audit", h.handleAuditTrail)

	r.Mount("/referrals", referralRouter)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.CreateReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.warnDecode(ctx, "create referral", err)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	referral, err := h.referrals.Create(ctx, req)
	if err != nil {
		h.writeServiceError(ctx, w, "create referral", err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, referral)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	items, err := h.referrals.List(ctx, filtersFromQuery(r.URL.Query()))
	if err != nil {
		h.writeServiceError(ctx, w, "list referrals", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"referrals": items})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	referralID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	referral, err := h.referrals.Get(ctx, referralID)
	if err != nil {
		h.writeServiceError(ctx, w, "get referral", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, referral)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	referralID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req models.UpdateReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.warnDecode(ctx, "update referral", err)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	referral, err := h.referrals.Update(ctx, referralID, req)
	if err != nil {
		h.writeServiceError(ctx, w, "update referral", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, referral)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	referralID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req models.UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.warnDecode(ctx, "update status", err)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	referral, err := h.referrals.UpdateStatus(ctx, referralID, req)
	if err != nil {
		h.writeServiceError(ctx, w, "update status", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, referral)
}

func (h *Handler) handleAddFollowUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	referralID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req models.AddFollowUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.warnDecode(ctx, "add follow-up", err)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	referral, err := h.referrals.AddFollowUp(ctx, referralID, req)
	if err != nil {
		h.writeServiceError(ctx, w, "add follow-up", err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, referral)
}

func (h *Handler) handleListFollowUps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	referralID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	referral, err := h.referrals.Get(ctx, referralID)
	if err != nil {
		h.writeServiceError(ctx, w, "list follow-ups", err)
		return
	}
	followUps := referral.FollowUps
	if followUps == nil {
		followUps = []models.FollowUp{}
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"follow_ups": followUps})
}

func (h *Handler) handleConfirmLinkage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	referralID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req models.ConfirmLinkageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.warnDecode(ctx, "confirm linkage", err)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	referral, err := h.referrals.ConfirmLinkage(ctx, referralID, req)
	if err != nil {
		h.writeServiceError(ctx, w, "confirm linkage", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, referral)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	referralID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.referrals.Delete(ctx, referralID); err != nil {
		h.writeServiceError(ctx, w, "delete referral", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	referralID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	entries, err := h.referrals.AuditTrail(ctx, referralID)
	if err != nil {
		h.writeServiceError(ctx, w, "audit trail", err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// pathID parses the {id} path segment; on failure it writes the error response
// and returns false.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (id.ReferralID, bool) {
	referralID, err := id.ParseReferralID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid referral id"))
		return id.ReferralID{}, false
	}
	return referralID, true
}

func filtersFromQuery(q url.Values) models.ListFilters {
	return models.ListFilters{
		Status:    q.Get("status"),
		RiskLevel: q.Get("risk_level"),
		Service:   q.Get("service"),
		Location:  q.Get("location"),
		Search:    q.Get("search"),
	}
}

func (h *Handler) warnDecode(ctx context.Context, operation string, err error) {
	h.logger.WarnContext(ctx, "invalid request body",
		"operation", operation,
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	)
}

// writeServiceError logs and translates a service error. Expected domain
// failures log at warn; everything else is an internal failure.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	requestID := middleware.GetRequestID(ctx)
	switch dErrors.CodeOf(err) {
	case dErrors.CodePersistence, dErrors.CodeInternal:
		h.logger.ErrorContext(ctx, "operation failed",
			"operation", operation,
			"request_id", requestID,
			"error", err.Error(),
		)
	default:
		h.logger.WarnContext(ctx, "request rejected",
			"operation", operation,
			"request_id", requestID,
			"error", err.Error(),
		)
	}
	shared.WriteError(w, err)
}
