package graphapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSource returns the static access token source or, when OIDC is
// configured, a client-credentials source against the issuer's token endpoint.
func TokenSource(ctx context.Context, cfg Config, base *http.Client) (oauth2.TokenSource, error) {
	if !cfg.OIDC.Enabled() {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"}), nil
	}
	if base != nil {
		ctx = oidc.ClientContext(ctx, base)
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	provider, err := oidc.NewProvider(ctx, cfg.OIDC.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.OIDC.ClientID,
		ClientSecret: cfg.OIDC.ClientSecret,
		TokenURL:     provider.Endpoint().TokenURL,
		Scopes:       cfg.OIDC.Scopes,
	}
	return oauth2.ReuseTokenSource(nil, cc.TokenSource(ctx)), nil
}
