// Package domain holds typed identifiers and domain primitives shared across
// modules. Typed IDs prevent accidental cross-assignment between entity kinds.
package domain

import "github.com/google/uuid"

// ReferralID identifies a referral aggregate.
type ReferralID uuid.UUID

// NewReferralID generates a fresh referral ID.
func NewReferralID() ReferralID {
	return ReferralID(uuid.New())
}

// ParseReferralID validates and parses a referral ID from its string form.
func ParseReferralID(s string) (ReferralID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ReferralID{}, err
	}
	return ReferralID(u), nil
}

func (r ReferralID) String() string {
	return uuid.UUID(r).String()
}

// IsNil reports whether the ID is the zero UUID.
func (r ReferralID) IsNil() bool {
	return uuid.UUID(r) == uuid.Nil
}

// MarshalText renders the ID in canonical UUID form for JSON and logs.
func (r ReferralID) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses the canonical UUID form.
func (r *ReferralID) UnmarshalText(data []byte) error {
	u, err := uuid.Parse(string(data))
	if err != nil {
		return err
	}
	*r = ReferralID(u)
	return nil
}

// EntryID identifies a single audit trail entry.
type EntryID uuid.UUID

// NewEntryID generates a fresh audit entry ID.
func NewEntryID() EntryID {
	return EntryID(uuid.New())
}

// ParseEntryID validates and parses an entry ID from its string form.
func ParseEntryID(s string) (EntryID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return EntryID{}, err
	}
	return EntryID(u), nil
}

func (e EntryID) String() string {
	return uuid.UUID(e).String()
}

// IsNil reports whether the ID is the zero UUID.
func (e EntryID) IsNil() bool {
	return uuid.UUID(e) == uuid.Nil
}

// MarshalText renders the ID in canonical UUID form for JSON and logs.
func (e EntryID) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText parses the canonical UUID form.
func (e *EntryID) UnmarshalText(data []byte) error {
	u, err := uuid.Parse(string(data))
	if err != nil {
		return err
	}
	*e = EntryID(u)
	return nil
}

// ClientRef is the opaque identifier of a client in the external registry.
// The registry owns the client lifecycle; referrals hold this reference only.
type ClientRef string

func (c ClientRef) String() string {
	return string(c)
}

// IsEmpty reports whether the reference is unset.
func (c ClientRef) IsEmpty() bool {
	return c == ""
}
