// Package session keeps server-side portal sessions keyed by an opaque cookie id.
package session

import (
	"context"
	"time"
)

// Handshake is the per-attempt OAuth2 state. It lives inside an anonymous or
// authenticated session and is cleared after exactly one callback.
type Handshake struct {
	State        string `json:"state"`
	RedirectURI  string `json:"redirect_uri"`
	CodeVerifier string `json:"code_verifier"`
	Next         string `json:"next,omitempty"`
}

type Session struct {
	ID        string     `json:"id"`
	Username  string     `json:"username,omitempty"`
	Email     string     `json:"email,omitempty"`
	IDToken   string     `json:"id_token,omitempty"`
	Handshake *Handshake `json:"handshake,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

func (s *Session) Authenticated() bool {
	return s != nil && s.Username != ""
}

// Store persists sessions. Get returns (nil, nil) for unknown or expired ids.
// Save with an ExpiresAt in the past deletes the session.
//
// TakeHandshake removes the handshake from session id and returns it. Of any
// number of concurrent calls for one session at most one gets a non-nil
// handshake; the remaining fields and the expiry are left as they were.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	TakeHandshake(ctx context.Context, id string) (*Handshake, error)
}
