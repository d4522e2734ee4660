// Package draft persists partially completed intake forms so field workers on
// unreliable connections can resume where they left off. Drafts are scoped to
// an actor and form kind, stored as raw JSON, and expire on their own; losing
// one is an inconvenience, never a data-integrity problem.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/sentinel"
)

// Form identifies the intake form a draft belongs to.
type Form string

const (
	FormReferral Form = "referral"
	FormFollowUp Form = "follow_up"
	FormLinkage  Form = "linkage"
)

var validForms = map[Form]bool{
	FormReferral: true,
	FormFollowUp: true,
	FormLinkage:  true,
}

// ParseForm validates a form identifier.
func ParseForm(s string) (Form, bool) {
	f := Form(s)
	if !validForms[f] {
		return "", false
	}
	return f, true
}

// Draft is a saved form in progress.
type Draft struct {
	Form    Form            `json:"form"`
	Payload json.RawMessage `json:"payload"`
	SavedAt time.Time       `json:"saved_at"`
}

// Store keeps drafts in Redis keyed by actor and form, one draft per pair.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a draft store. A zero ttl defaults to 24 hours.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func key(actor string, form Form) string {
	return "carelink:draft:" + actor + ":" + string(form)
}

// Save overwrites the actor's draft for the form and resets its TTL.
func (s *Store) Save(ctx context.Context, actor string, form Form, payload json.RawMessage) error {
	if actor == "" {
		return dErrors.New(dErrors.CodeValidation, "actor is required")
	}
	if !json.Valid(payload) {
		return dErrors.New(dErrors.CodeValidation, "draft payload is not valid JSON")
	}
	d := Draft{Form: form, Payload: payload, SavedAt: time.Now().UTC()}
	raw, err := json.Marshal(d)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode draft")
	}
	if err := s.rdb.Set(ctx, key(actor, form), raw, s.ttl).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "save draft")
	}
	return nil
}

// Load returns the actor's draft for the form, or sentinel.ErrNotFound when
// none exists or it has expired.
func (s *Store) Load(ctx context.Context, actor string, form Form) (Draft, error) {
	raw, err := s.rdb.Get(ctx, key(actor, form)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Draft{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Draft{}, dErrors.Wrap(err, dErrors.CodePersistence, "load draft")
	}
	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return Draft{}, dErrors.Wrap(err, dErrors.CodeInternal, "decode draft")
	}
	return d, nil
}

// Clear removes the actor's draft for the form. Clearing a missing draft is
// not an error; the intake flow clears unconditionally after submission.
func (s *Store) Clear(ctx context.Context, actor string, form Form) error {
	if err := s.rdb.Del(ctx, key(actor, form)).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "clear draft")
	}
	return nil
}
