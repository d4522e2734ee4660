// Package memory provides the in-memory referral store used by tests and
// local development. Semantics mirror the postgres store: per-referral
// locking, copy-on-read, and audit retention across deletes.
package memory

import (
	"context"
	"sort"
	"sync"

	"carelink/internal/audit"
	"carelink/internal/referral/models"
	id "carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

type Store struct {
	mu        sync.RWMutex
	referrals map[id.ReferralID]*models.Referral
	// trail retains every audit entry ever appended, including entries for
	// deleted referrals.
	trail map[id.ReferralID][]audit.Entry
	// locks serializes Execute calls per referral.
	locks map[id.ReferralID]*sync.Mutex
}

func New() *Store {
	return &Store{
		referrals: make(map[id.ReferralID]*models.Referral),
		trail:     make(map[id.ReferralID][]audit.Entry),
		locks:     make(map[id.ReferralID]*sync.Mutex),
	}
}

func (s *Store) Create(_ context.Context, referral *models.Referral) error {
	if err := referral.CheckInvariants(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.referrals[referral.ID]; exists {
		return sentinel.ErrConflict
	}
	referral.Version = 1
	s.referrals[referral.ID] = copyReferral(referral)
	s.trail[referral.ID] = append(s.trail[referral.ID], referral.AuditLog...)
	return nil
}

func (s *Store) FindByID(_ context.Context, referralID id.ReferralID) (*models.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.referrals[referralID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyReferral(r), nil
}

func (s *Store) List(_ context.Context, filters models.ListFilters) ([]*models.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Referral
	for _, r := range s.referrals {
		if filters.Matches(r) {
			c := copyReferral(r)
			c.AuditLog = nil
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) Execute(ctx context.Context, referralID id.ReferralID,
	validate func(*models.Referral) error,
	mutate func(*models.Referral)) (*models.Referral, error) {

	lock, err := s.lockFor(referralID)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	current, ok := s.referrals[referralID]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	// Work on a copy: a failed validate or invariant check leaves the
	// stored record untouched.
	working := copyReferral(current)
	if err := validate(working); err != nil {
		return nil, err
	}
	entriesBefore := len(working.AuditLog)
	mutate(working)
	if err := working.CheckInvariants(); err != nil {
		return nil, err
	}
	working.Version = current.Version + 1

	s.mu.Lock()
	s.referrals[referralID] = copyReferral(working)
	s.trail[referralID] = append(s.trail[referralID], working.AuditLog[entriesBefore:]...)
	s.mu.Unlock()

	return working, nil
}

func (s *Store) Delete(ctx context.Context, referralID id.ReferralID, final audit.Entry) error {
	lock, err := s.lockFor(referralID)
	if err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.referrals[referralID]; !ok {
		return sentinel.ErrNotFound
	}
	s.trail[referralID] = append(s.trail[referralID], final)
	delete(s.referrals, referralID)
	return nil
}

func (s *Store) AuditTrail(_ context.Context, referralID id.ReferralID) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.trail[referralID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]audit.Entry{}, entries...), nil
}

// lockFor returns the per-referral mutex, creating it on first use. The lock
// outlives deletion so a concurrent Execute and Delete still serialize.
func (s *Store) lockFor(referralID id.ReferralID) (*sync.Mutex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[referralID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[referralID] = lock
	}
	return lock, nil
}

func copyReferral(r *models.Referral) *models.Referral {
	c := *r
	c.FollowUps = append([]models.FollowUp(nil), r.FollowUps...)
	c.AuditLog = append([]audit.Entry(nil), r.AuditLog...)
	if r.Linkage != nil {
		l := *r.Linkage
		c.Linkage = &l
	}
	return &c
}
