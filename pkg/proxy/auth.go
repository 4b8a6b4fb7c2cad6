package proxy

import (
	"context"
	"fmt"
	"net/url"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
)

// Auth proxies the auth service as an OAuth2 client-credentials token exchange
type Auth struct {
	config *clientcredentials.Config
}

// Auth0Config returns the client-credentials settings for an Auth0 tenant.
func Auth0Config(domainName, clientID, clientSecret string) *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		TokenURL:       fmt.Sprintf("https://%s/oauth/token", domainName),
		EndpointParams: url.Values{"audience": {fmt.Sprintf("https://%s/api/v2/", domainName)}},
	}
}

// NewAuth creates the auth adapter
func NewAuth(config *clientcredentials.Config) *Auth {
	return &Auth{config: config}
}

func (a *Auth) ServiceID() string { return domain.ServiceAuth }

func (a *Auth) Info() ServiceInfo {
	return ServiceInfo{
		ID:          domain.ServiceAuth,
		Name:        domain.ServiceName(domain.ServiceAuth),
		Status:      "active",
		Description: "Machine-to-machine access tokens via OAuth2 client credentials",
	}
}

// Call exchanges the client credentials for an access token.
func (a *Auth) Call(ctx context.Context, userID int64, req Request) (interface{}, error) {
	if req.Operation != OpToken {
		return nil, unsupported(domain.ServiceAuth, req.Operation)
	}

	token, err := a.config.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return map[string]interface{}{
		"access_token": token.AccessToken,
		"token_type":   token.Type(),
		"expiry":       token.Expiry,
	}, nil
}
