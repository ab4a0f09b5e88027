package auth

import (
	"context"
	"fmt"

	"github.com/viant/scy/auth/authorizer"
	"golang.org/x/oauth2/clientcredentials"
)

// NewScyStore builds a bearer token store from a scy OAuth2 config resource.
// The configURL points at a (optionally encrypted) scy secret holding the
// client credentials; encryptionKey may be empty for plaintext resources.
func NewScyStore(ctx context.Context, configURL, encryptionKey string) (*TokenStore, error) {
	if configURL == "" {
		return nil, fmt.Errorf("auth: oauth2 config URL was empty")
	}
	if encryptionKey != "" {
		configURL += "|" + encryptionKey
	}
	anAuthorizer := authorizer.New()
	oauthCfg := &authorizer.OAuthConfig{ConfigURL: configURL}
	if err := anAuthorizer.EnsureConfig(ctx, oauthCfg); err != nil {
		return nil, fmt.Errorf("auth: failed to load oauth2 config %q: %w", configURL, err)
	}
	cfg := &clientcredentials.Config{
		ClientID:     oauthCfg.Config.ClientID,
		ClientSecret: oauthCfg.Config.ClientSecret,
		TokenURL:     oauthCfg.Config.Endpoint.TokenURL,
		Scopes:       oauthCfg.Config.Scopes,
	}
	return NewTokenStore(cfg.TokenSource(ctx)), nil
}
