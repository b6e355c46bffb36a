// Package auth provides Spotify credential issuance and refresh.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

// DefaultTokenLifetime is used when the token endpoint omits an expiry.
const DefaultTokenLifetime = time.Hour

var (
	// ErrCredentialInvalid is returned when a credential is missing,
	// expired beyond refresh, or rejected by the provider. The user
	// must re-authenticate.
	ErrCredentialInvalid = errors.New("credential invalid")

	// ErrUpstreamUnavailable is returned for network failures and 5xx
	// responses from the token endpoint. The caller may retry later.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Refresher exchanges a refresh token for a new access token.
// It is invoked only in reaction to an unauthorized API result,
// never speculatively.
type Refresher struct {
	conf *oauth2.Config
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithTokenURL overrides the token endpoint (used in tests).
func WithTokenURL(u string) RefresherOption {
	return func(r *Refresher) { r.conf.Endpoint.TokenURL = u }
}

// NewRefresher creates a Refresher for the given application credentials.
func NewRefresher(clientID, clientSecret string, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  spotifyauth.AuthURL,
				TokenURL: spotifyauth.TokenURL,
			},
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh performs the refresh-token grant. The returned token carries
// the new access token and a provider-declared expiry; when the
// provider omits the expiry, DefaultTokenLifetime from now is used.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("no refresh token on file: %w", ErrCredentialInvalid)
	}

	source := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode < 500 {
			return nil, fmt.Errorf("refresh rejected: %w", ErrCredentialInvalid)
		}
		return nil, fmt.Errorf("refreshing token: %w: %v", ErrUpstreamUnavailable, err)
	}

	if token.Expiry.IsZero() {
		token.Expiry = time.Now().Add(DefaultTokenLifetime)
	}
	return token, nil
}

// Exchanger performs the OAuth authorization-code exchange for the
// mobile client's redirect flow. The sync engine itself only consumes
// the resulting credential triple.
type Exchanger struct {
	auth *spotifyauth.Authenticator
}

// NewExchanger creates an Exchanger with the scopes the sync engine needs.
func NewExchanger(clientID, clientSecret, redirectURL string) *Exchanger {
	return &Exchanger{
		auth: spotifyauth.New(
			spotifyauth.WithClientID(clientID),
			spotifyauth.WithClientSecret(clientSecret),
			spotifyauth.WithRedirectURL(redirectURL),
			spotifyauth.WithScopes(
				spotifyauth.ScopeUserReadPrivate,
				spotifyauth.ScopeUserTopRead,
				spotifyauth.ScopeUserReadRecentlyPlayed,
			),
		),
	}
}

// AuthURL returns the provider authorization URL for the given state.
func (e *Exchanger) AuthURL(state string) string {
	return e.auth.AuthURL(state)
}

// Exchange trades the authorization code carried by the callback
// request for a credential triple.
func (e *Exchanger) Exchange(ctx context.Context, state string, r *http.Request) (*oauth2.Token, error) {
	token, err := e.auth.Token(ctx, state, r)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	if token.Expiry.IsZero() {
		token.Expiry = time.Now().Add(DefaultTokenLifetime)
	}
	return token, nil
}
