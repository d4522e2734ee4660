// Package registry adapts the external client registry. The registry owns
// client records; this module only reads them to denormalize display fields
// at referral creation time.
package registry

import (
	"context"

	id "carelink/pkg/domain"
)

// Client is the registry's view of a person, as returned by lookup.
type Client struct {
	ID       id.ClientRef `json:"id"`
	Name     string       `json:"name"`
	Phone    string       `json:"phone"`
	Location string       `json:"location"`
	Program  string       `json:"program"`
}

// Registry looks up clients by their registry identifier. Implementations
// return sentinel.ErrNotFound for unknown clients and sentinel.ErrUnavailable
// when the registry cannot be reached.
type Registry interface {
	Lookup(ctx context.Context, clientID id.ClientRef) (Client, error)
}
