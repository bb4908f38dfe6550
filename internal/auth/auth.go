// Package auth issues and resolves the opaque credentials that tie callers
// to timer roles. Tokens are random strings with no structure; the engine
// only ever sees the resolved role.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/blitztime/server/internal/timer"
)

// NewToken generates an authentication token: 32 random bytes, base64.
func NewToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process cannot do anything useful.
		panic(fmt.Sprintf("auth: read random: %v", err))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// Credentials are the secrets attached to one timer. Side tokens are empty
// until the side joins; the manager token is only honored on managed timers.
type Credentials struct {
	Home    string `json:"home,omitempty"`
	Away    string `json:"away,omitempty"`
	Manager string `json:"manager,omitempty"`
	Managed bool   `json:"managed"`
}

// Resolver maps (timer ID, presented token) to a role. It trusts nothing
// about the token beyond equality with an issued credential.
type Resolver struct {
	mu    sync.RWMutex
	creds map[uuid.UUID]Credentials
}

func NewResolver() *Resolver {
	return &Resolver{creds: make(map[uuid.UUID]Credentials)}
}

// Register installs the credentials for a newly created or rehydrated timer.
func (r *Resolver) Register(id uuid.UUID, creds Credentials) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[id] = creds
}

// SetSideToken records the token issued to a side when it joins.
func (r *Resolver) SetSideToken(id uuid.UUID, pos timer.Role, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	creds := r.creds[id]
	switch pos {
	case timer.RoleHome:
		creds.Home = token
	case timer.RoleAway:
		creds.Away = token
	}
	r.creds[id] = creds
}

// Credentials returns the secrets for a timer, for persistence.
func (r *Resolver) Credentials(id uuid.UUID) (Credentials, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	creds, ok := r.creds[id]
	return creds, ok
}

// Resolve translates a presented token into a role for the given timer. An
// absent token resolves to observer; an unknown token fails authentication.
func (r *Resolver) Resolve(id uuid.UUID, token string) (timer.Role, error) {
	if token == "" {
		return timer.RoleObserver, nil
	}
	r.mu.RLock()
	creds, ok := r.creds[id]
	r.mu.RUnlock()
	if !ok {
		return "", timer.ErrNotFound
	}
	switch {
	case creds.Home != "" && token == creds.Home:
		return timer.RoleHome, nil
	case creds.Away != "" && token == creds.Away:
		return timer.RoleAway, nil
	case creds.Managed && token == creds.Manager:
		return timer.RoleManager, nil
	default:
		return "", fmt.Errorf("%w: unrecognized token", timer.ErrUnauthorized)
	}
}
