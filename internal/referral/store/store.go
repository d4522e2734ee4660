// Package store defines the persistence boundary for referrals. The backing
// store is a plain document store with no cross-record transactions; each
// implementation is responsible for making a single referral's mutation plus
// its audit append atomic.
package store

import (
	"context"

	"carelink/internal/audit"
	"carelink/internal/referral/models"
	id "carelink/pkg/domain"
)

// Store persists referral aggregates.
//
// Execute is the concurrency-safe mutation path: implementations hold a
// per-referral lock (mutex or SELECT ... FOR UPDATE with a version
// compare-and-swap) across both callbacks, so validate sees the same state
// mutate will change and competing writers serialize instead of losing
// updates. Audit entries appended by mutate commit atomically with the
// mutation or not at all.
//
// Audit entries outlive their referral: Delete removes the aggregate but
// retains its trail, appending the final entry first.
type Store interface {
	// Create persists a new referral with its initial audit entry.
	// Returns sentinel.ErrConflict if the ID already exists.
	Create(ctx context.Context, referral *models.Referral) error

	// FindByID loads one referral including its full audit log.
	// Returns sentinel.ErrNotFound if absent.
	FindByID(ctx context.Context, referralID id.ReferralID) (*models.Referral, error)

	// List returns referrals matching the filters, newest first. Audit logs
	// are not loaded; listing is a read-only projection.
	List(ctx context.Context, filters models.ListFilters) ([]*models.Referral, error)

	// Execute atomically validates and mutates one referral under a
	// per-referral lock, persisting the mutation together with any audit
	// entries the mutation appended.
	Execute(ctx context.Context, referralID id.ReferralID,
		validate func(*models.Referral) error,
		mutate func(*models.Referral)) (*models.Referral, error)

	// Delete removes the referral after appending the final audit entry.
	// The audit trail is retained.
	Delete(ctx context.Context, referralID id.ReferralID, final audit.Entry) error

	// AuditTrail returns all audit entries for a referral in append order,
	// including entries for referrals that have since been deleted.
	AuditTrail(ctx context.Context, referralID id.ReferralID) ([]audit.Entry, error)
}
