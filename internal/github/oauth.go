package github

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"
)

// OAuth wraps the authorization-code flow for a GitHub OAuth application.
type OAuth struct {
	cfg *oauth2.Config
}

// NewOAuth builds the flow configuration. Scopes match what the data
// connector needs: account identity plus repository read access.
func NewOAuth(clientID, clientSecret, redirectURL string) *OAuth {
	return &OAuth{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"user:email", "repo"},
			Endpoint:     oauthgithub.Endpoint,
		},
	}
}

// AuthCodeURL returns the authorization redirect URL carrying the single-use
// correlation token as the OAuth state parameter.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.cfg.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens. GitHub OAuth app tokens
// normally have no refresh token; it is returned when present and empty
// otherwise.
func (o *OAuth) Exchange(ctx context.Context, code string) (accessToken, refreshToken string, err error) {
	token, err := o.cfg.Exchange(ctx, code)
	if err != nil {
		return "", "", fmt.Errorf("github: exchanging authorization code: %w", err)
	}
	if token.AccessToken == "" {
		return "", "", fmt.Errorf("github: no access token in exchange response")
	}
	return token.AccessToken, token.RefreshToken, nil
}
