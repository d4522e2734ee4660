// Package postgres persists referrals as JSONB documents with extracted
// filter columns, plus an append-only audit table that deliberately has no
// cascade: entries outlive their referral.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"carelink/internal/audit"
	"carelink/internal/referral/models"
	id "carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Schema is applied by the migration runner and by integration test setup.
const Schema = `
CREATE TABLE IF NOT EXISTS referrals (
	id          UUID PRIMARY KEY,
	doc         JSONB NOT NULL,
	status      TEXT NOT NULL,
	risk_level  TEXT NOT NULL,
	service     TEXT NOT NULL,
	client_id   TEXT NOT NULL,
	client_name TEXT NOT NULL,
	location    TEXT NOT NULL,
	version     BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS referrals_status_idx ON referrals (status);
CREATE INDEX IF NOT EXISTS referrals_service_idx ON referrals (service);

CREATE TABLE IF NOT EXISTS referral_audit_entries (
	id          UUID PRIMARY KEY,
	referral_id UUID NOT NULL,
	action      TEXT NOT NULL,
	details     TEXT NOT NULL,
	changes     JSONB,
	actor       TEXT NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	seq         BIGSERIAL
);

CREATE INDEX IF NOT EXISTS referral_audit_referral_idx ON referral_audit_entries (referral_id, seq);
`

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply referral schema: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, referral *models.Referral) error {
	if err := referral.CheckInvariants(); err != nil {
		return err
	}
	referral.Version = 1

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	doc, err := marshalDoc(referral)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO referrals (id, doc, status, risk_level, service, client_id,
			client_name, location, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		referral.ID.String(), doc, string(referral.Status), string(referral.RiskLevel),
		string(referral.Service), string(referral.ClientID), referral.Client.Name,
		referral.Client.Location, referral.Version, referral.CreatedAt, referral.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert referral: %w", err)
	}

	if err := insertAuditEntries(ctx, tx, referral.AuditLog); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, referralID id.ReferralID) (*models.Referral, error) {
	var doc []byte
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT doc, version FROM referrals WHERE id = $1`,
		referralID.String(),
	).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query referral: %w", err)
	}

	referral, err := unmarshalDoc(doc, version)
	if err != nil {
		return nil, err
	}
	trail, err := s.AuditTrail(ctx, referralID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}
	referral.AuditLog = trail
	return referral, nil
}

func (s *Store) List(ctx context.Context, filters models.ListFilters) ([]*models.Referral, error) {
	query := `SELECT doc, version FROM referrals WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filters.Status != "" {
		query += ` AND status = ` + arg(filters.Status)
	}
	if filters.RiskLevel != "" {
		query += ` AND risk_level = ` + arg(filters.RiskLevel)
	}
	if filters.Service != "" {
		query += ` AND service = ` + arg(filters.Service)
	}
	if filters.Location != "" {
		query += ` AND location ILIKE ` + arg("%"+filters.Location+"%")
	}
	if filters.Search != "" {
		p := arg("%" + filters.Search + "%")
		query += ` AND (client_name ILIKE ` + p + ` OR client_id ILIKE ` + p + `)`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	defer rows.Close()

	var out []*models.Referral
	for rows.Next() {
		var doc []byte
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, fmt.Errorf("scan referral: %w", err)
		}
		referral, err := unmarshalDoc(doc, version)
		if err != nil {
			return nil, err
		}
		out = append(out, referral)
	}
	return out, rows.Err()
}

// Execute loads the referral FOR UPDATE, runs the callbacks, and writes the
// new document with a version compare-and-swap. The row lock serializes
// concurrent writers; the CAS is a belt-and-braces guard against a competing
// commit between read and write.
func (s *Store) Execute(ctx context.Context, referralID id.ReferralID,
	validate func(*models.Referral) error,
	mutate func(*models.Referral)) (*models.Referral, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin execute: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var doc []byte
	var version int64
	err = tx.QueryRowContext(ctx,
		`SELECT doc, version FROM referrals WHERE id = $1 FOR UPDATE`,
		referralID.String(),
	).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock referral: %w", err)
	}

	referral, err := unmarshalDoc(doc, version)
	if err != nil {
		return nil, err
	}
	// The doc column holds the aggregate without its trail; reattach it under
	// the row lock so the callbacks and the returned referral see the full log.
	trail, err := queryTrail(ctx, tx, referralID)
	if err != nil {
		return nil, err
	}
	referral.AuditLog = trail

	if err := validate(referral); err != nil {
		return nil, err
	}
	entriesBefore := len(referral.AuditLog)
	mutate(referral)
	if err := referral.CheckInvariants(); err != nil {
		return nil, err
	}
	referral.Version = version + 1

	newDoc, err := marshalDoc(referral)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE referrals
		SET doc = $1, status = $2, risk_level = $3, version = $4, updated_at = $5
		WHERE id = $6 AND version = $7
	`,
		newDoc, string(referral.Status), string(referral.RiskLevel),
		referral.Version, referral.UpdatedAt, referralID.String(), version,
	)
	if err != nil {
		return nil, fmt.Errorf("update referral: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update referral: %w", err)
	}
	if affected == 0 {
		return nil, sentinel.ErrConflict
	}

	if err := insertAuditEntries(ctx, tx, referral.AuditLog[entriesBefore:]); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit execute: %w", err)
	}
	return referral, nil
}

func (s *Store) Delete(ctx context.Context, referralID id.ReferralID, final audit.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM referrals WHERE id = $1`, referralID.String())
	if err != nil {
		return fmt.Errorf("delete referral: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete referral: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}

	if err := insertAuditEntries(ctx, tx, []audit.Entry{final}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func (s *Store) AuditTrail(ctx context.Context, referralID id.ReferralID) ([]audit.Entry, error) {
	entries, err := queryTrail(ctx, s.db, referralID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return entries, nil
}

type txQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryTrail(ctx context.Context, q txQuerier, referralID id.ReferralID) ([]audit.Entry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, referral_id, action, details, changes, actor, ts
		FROM referral_audit_entries
		WHERE referral_id = $1
		ORDER BY seq
	`, referralID.String())
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var entry audit.Entry
		var entryID, refID string
		var changes []byte
		if err := rows.Scan(&entryID, &refID, &entry.Action, &entry.Details,
			&changes, &entry.Actor, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		eid, err := id.ParseEntryID(entryID)
		if err != nil {
			return nil, fmt.Errorf("parse audit entry id: %w", err)
		}
		rid, err := id.ParseReferralID(refID)
		if err != nil {
			return nil, fmt.Errorf("parse referral id: %w", err)
		}
		entry.ID = eid
		entry.ReferralID = rid
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &entry.Changes); err != nil {
				return nil, fmt.Errorf("unmarshal audit changes: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type txExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAuditEntries(ctx context.Context, tx txExecutor, entries []audit.Entry) error {
	for _, entry := range entries {
		var changes []byte
		if len(entry.Changes) > 0 {
			var err error
			changes, err = json.Marshal(entry.Changes)
			if err != nil {
				return fmt.Errorf("marshal audit changes: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO referral_audit_entries (id, referral_id, action, details, changes, actor, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			entry.ID.String(), entry.ReferralID.String(), string(entry.Action),
			entry.Details, changes, entry.Actor, entry.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
	}
	return nil
}

// marshalDoc serializes the aggregate without its audit log; the trail lives
// in its own append-only table.
func marshalDoc(referral *models.Referral) ([]byte, error) {
	clone := *referral
	clone.AuditLog = nil
	doc, err := json.Marshal(&clone)
	if err != nil {
		return nil, fmt.Errorf("marshal referral doc: %w", err)
	}
	return doc, nil
}

func unmarshalDoc(doc []byte, version int64) (*models.Referral, error) {
	var referral models.Referral
	if err := json.Unmarshal(doc, &referral); err != nil {
		return nil, fmt.Errorf("unmarshal referral doc: %w", err)
	}
	referral.Version = version
	return &referral, nil
}
