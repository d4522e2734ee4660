package draft

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"carelink/internal/platform/middleware"
	"carelink/internal/transport/http/shared"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/sentinel"
	"carelink/pkg/requestcontext"
)

const maxDraftBytes = 64 << 10

// Handler exposes the draft lifecycle over HTTP. Drafts belong to the
// authenticated actor; there is no cross-actor access.
type Handler struct {
	drafts       *Store
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

// NewHandler creates a draft Handler.
func NewHandler(drafts *Store, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{drafts: drafts, logger: logger, jwtValidator: jwtValidator}
}

// Register registers the draft routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	draftRouter := chi.NewRouter()
	draftRouter.Use(middleware.Recovery(h.logger))
	draftRouter.Use(middleware.RequestID)
	draftRouter.Use(middleware.Logger(h.logger))
	draftRouter.Use(middleware.Timeout(10 * time.Second))
	draftRouter.Use(middleware.ContentTypeJSON)
	draftRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	draftRouter.Put("/{form}", h.handleSave)
	draftRouter.Get("/{form}", h.handleLoad)
	draftRouter.Delete("/{form}", h.handleClear)

	r.Mount("/drafts", draftRouter)
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	form, ok := ParseForm(chi.URLParam(r, "form"))
	if !ok {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown draft form"))
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxDraftBytes+1))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unreadable request body"))
		return
	}
	if len(payload) > maxDraftBytes {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "draft payload too large"))
		return
	}

	if err := h.drafts.Save(ctx, requestcontext.Actor(ctx), form, payload); err != nil {
		h.logger.WarnContext(ctx, "draft save failed",
			"form", string(form),
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	form, ok := ParseForm(chi.URLParam(r, "form"))
	if !ok {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown draft form"))
		return
	}
	d, err := h.drafts.Load(ctx, requestcontext.Actor(ctx), form)
	if errors.Is(err, sentinel.ErrNotFound) {
		shared.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no draft saved"))
		return
	}
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	form, ok := ParseForm(chi.URLParam(r, "form"))
	if !ok {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown draft form"))
		return
	}
	if err := h.drafts.Clear(ctx, requestcontext.Actor(ctx), form); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
