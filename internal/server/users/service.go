// Package users implements authentication on top of the users collection.
// Users are plain documents whose id is the user name; passwords are bcrypt
// hashed before they ever reach storage. The collection is admin-only and is
// never replicated to clients.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/offlinekit/docstore/internal/common"
	"github.com/offlinekit/docstore/internal/document"
	"github.com/offlinekit/docstore/internal/logging"
	"github.com/offlinekit/docstore/internal/server/auth"
	"github.com/offlinekit/docstore/internal/server/documents"
)

// Collection is the reserved collection holding user documents.
const Collection = "users"

// AdminRole grants full access, including the users collection itself.
const AdminRole = "admin"

// FieldPassword is the write-only plaintext field of incoming user
// documents; Prepare replaces it with FieldPasswordHash.
const (
	FieldPassword     = "password"
	FieldPasswordHash = "password_hash"
)

// Session is an authenticated login.
type Session struct {
	Name  string
	Roles []string
	Token string
}

type Service struct {
	docs          *documents.Service
	log           logging.Logger
	secretKey     []byte
	tokenValidity time.Duration
}

func NewService(docs *documents.Service, log logging.Logger, secretKey string, tokenValidity time.Duration) *Service {
	return &Service{
		docs:          docs,
		log:           log.With("module", "users"),
		secretKey:     []byte(secretKey),
		tokenValidity: tokenValidity,
	}
}

// Authenticate verifies name/password and issues a bearer token. Any failure
// is reported as ErrUnauthorized without detail.
func (s *Service) Authenticate(ctx context.Context, name, password string) (*Session, error) {
	doc, err := s.docs.Get(ctx, Collection, name)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrUnauthorized
		}
		return nil, err
	}
	if doc.Deleted() {
		return nil, common.ErrUnauthorized
	}

	hash, _ := doc[FieldPasswordHash].(string)
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, common.ErrUnauthorized
	}

	roles := Roles(doc)
	token, err := auth.GenerateToken(name, roles, s.secretKey, s.tokenValidity)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	return &Session{Name: name, Roles: roles, Token: token}, nil
}

// Prepare hashes the plaintext password field of an incoming user document.
// Documents without one pass through unchanged, which keeps the stored hash
// on metadata-only updates.
func (s *Service) Prepare(doc document.Document) (document.Document, error) {
	password, ok := doc[FieldPassword].(string)
	if !ok {
		return doc, nil
	}
	if password == "" {
		return nil, common.ValidationErrors{FieldPassword: "must not be empty"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	doc = doc.Clone()
	delete(doc, FieldPassword)
	doc[FieldPasswordHash] = string(hash)
	return doc, nil
}

// EnsureAdmin creates the administrator account on first start.
func (s *Service) EnsureAdmin(ctx context.Context, name, password string) error {
	_, err := s.docs.Get(ctx, Collection, name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	now := time.Now().UTC()
	doc, err := s.Prepare(document.Document{
		document.FieldID:        name,
		document.FieldType:      "user",
		document.FieldCreatedAt: now,
		document.FieldUpdatedAt: now,
		"roles":                 []string{AdminRole},
		FieldPassword:           password,
	})
	if err != nil {
		return err
	}

	if _, err := s.docs.Put(ctx, Collection, doc, false); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	s.log.Info(ctx, "created admin user", "name", name)
	return nil
}

// Roles extracts the roles list of a user document.
func Roles(doc document.Document) []string {
	switch v := doc["roles"].(type) {
	case []string:
		return v
	case []any:
		roles := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	default:
		return nil
	}
}
