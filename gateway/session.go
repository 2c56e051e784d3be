package gateway

import (
	"context"
	"time"
)

// Binding ties an inbound session to the upstream credential obtained at
// login. Credential is opaque to the gateway.
type Binding struct {
	Credential string    `json:"credential"`
	Username   string    `json:"username"`
	CreatedAt  time.Time `json:"created_at"`
}

// SessionStore holds one Binding per session id. Implementations must make
// each Get, Set and Delete atomic per key.
type SessionStore interface {
	// Get returns nil, nil when the session has no binding.
	Get(ctx context.Context, sessionID string) (*Binding, error)
	Set(ctx context.Context, sessionID string, b Binding) error
	// Delete succeeds when the session has no binding.
	Delete(ctx context.Context, sessionID string) error
}
