// Package auth supplies credential headers for transports talking to the
// memory service. Credentials are consumed as an opaque capability: callers
// ask for the current header, implementations decide how it is minted.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// HeaderType discriminates the credential kinds the service accepts.
type HeaderType string

const (
	HeaderBearer HeaderType = "bearer"
	HeaderAPIKey HeaderType = "apikey"
)

// DefaultAPIKeyHeader is the header name the memory service expects for key auth.
const DefaultAPIKeyHeader = "X-API-Key"

// Header is a ready-to-send credential header.
type Header struct {
	Type  HeaderType
	Name  string
	Value string
}

// Apply sets the credential on an outbound header set.
func (h *Header) Apply(header http.Header) {
	if h == nil || h.Value == "" {
		return
	}
	header.Set(h.Name, h.Value)
}

// Store is a pluggable credential source.
// The static default is fine for CLI tools; swap with an OAuth2 or scy-backed
// store for managed environments.
type Store interface {
	AuthHeader(ctx context.Context) (*Header, error)
}

// StaticStore serves a fixed API key.
type StaticStore struct {
	Key        string
	HeaderName string
}

func (s *StaticStore) AuthHeader(_ context.Context) (*Header, error) {
	if s.Key == "" {
		return nil, fmt.Errorf("auth: api key was empty")
	}
	name := s.HeaderName
	if name == "" {
		name = DefaultAPIKeyHeader
	}
	return &Header{Type: HeaderAPIKey, Name: name, Value: s.Key}, nil
}

// NewStaticStore creates a store serving the supplied API key.
func NewStaticStore(key string) *StaticStore {
	return &StaticStore{Key: key}
}

// TokenStore serves bearer tokens from an oauth2 token source, refreshing
// cached tokens whose JWT exp claim has passed.
type TokenStore struct {
	source oauth2.TokenSource
	mux    sync.Mutex
	cached *oauth2.Token
}

// NewTokenStore creates a bearer token store backed by the supplied source.
func NewTokenStore(source oauth2.TokenSource) *TokenStore {
	return &TokenStore{source: source}
}

func (s *TokenStore) AuthHeader(ctx context.Context) (*Header, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.cached == nil || !s.cached.Valid() || jwtExpired(s.cached.AccessToken) {
		token, err := s.source.Token()
		if err != nil {
			return nil, fmt.Errorf("auth: failed to mint bearer token: %w", err)
		}
		s.cached = token
	}
	return &Header{
		Type:  HeaderBearer,
		Name:  "Authorization",
		Value: "Bearer " + s.cached.AccessToken,
	}, nil
}

// jwtExpired inspects the exp claim without verifying the signature; a token
// that is not a JWT is assumed governed by oauth2.Token.Expiry alone.
func jwtExpired(accessToken string) bool {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}
