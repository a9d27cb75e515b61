// Package session manages the persisted auth blob: a single serialized
// {ok, name, roles} object kept under a well-known key in the replica's
// metadata store. Store bootstrap reads it to decide remote-only vs
// replicated mode and to scope sync access.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

// MetaKey is the well-known metadata key holding the auth blob.
const MetaKey = "auth"

// AdminRole marks privileged users, which bypass local replication.
const AdminRole = "admin"

// User is the narrow current-user object consumed by stores.
type User struct {
	Name  string
	Roles []string
}

// IsAdmin reports the administrator capability.
func (u *User) IsAdmin() bool {
	return u != nil && slices.Contains(u.Roles, AdminRole)
}

// Auth is the persisted auth blob, plus the bearer token for the remote
// endpoint.
type Auth struct {
	OK    bool     `json:"ok"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
	Token string   `json:"token,omitempty"`
}

// User derives the current-user object from the blob, or nil when the blob
// represents a logged-out state.
func (a *Auth) User() *User {
	if a == nil || !a.OK {
		return nil
	}
	return &User{Name: a.Name, Roles: a.Roles}
}

// BlobStore is the metadata KV the blob persists into; *replica.DB
// implements it.
type BlobStore interface {
	MetaGet(ctx context.Context, key string) ([]byte, error)
	MetaSet(ctx context.Context, key string, value []byte) error
	MetaDelete(ctx context.Context, key string) error
}

// Load reads the persisted blob, returning nil when none is stored.
func Load(ctx context.Context, store BlobStore) (*Auth, error) {
	raw, err := store.MetaGet(ctx, MetaKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load auth blob: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var a Auth
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to decode auth blob: %w", err)
	}
	return &a, nil
}

// Save persists the blob.
func Save(ctx context.Context, store BlobStore, a *Auth) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode auth blob: %w", err)
	}
	return store.MetaSet(ctx, MetaKey, raw)
}

// Clear removes the blob, logging the client out locally.
func Clear(ctx context.Context, store BlobStore) error {
	return store.MetaDelete(ctx, MetaKey)
}
