package oidc

import (
	"time"

	"golang.org/x/oauth2"
)

// TokenSet is the result of a successful callback.
type TokenSet struct {
	idToken string
	claims  Claims

	accessToken          string
	accessTokenScopes    string
	accessTokenExpiresIn int
	refreshToken         string

	state string
}

func newTokenSet(idToken string, claims Claims) *TokenSet {
	return &TokenSet{idToken: idToken, claims: claims}
}

// IDToken returns the raw ID token, or "" when none was issued.
func (t *TokenSet) IDToken() string { return t.idToken }

// HasClaims reports whether an ID token or userinfo response supplied
// claims.
func (t *TokenSet) HasClaims() bool { return t.claims != nil }

// Claims returns a copy of the validated claims. The nonce is never
// included.
func (t *TokenSet) Claims() Claims {
	if t.claims == nil {
		return nil
	}
	c := make(Claims, len(t.claims))
	for k, v := range t.claims {
		c[k] = v
	}
	return c
}

// Claim returns a single claim as text.
func (t *TokenSet) Claim(name string) string { return t.claims.String(name) }

func (t *TokenSet) setClaims(c Claims) { t.claims = c }

func (t *TokenSet) AccessToken() string        { return t.accessToken }
func (t *TokenSet) AccessTokenScopes() string  { return t.accessTokenScopes }
func (t *TokenSet) AccessTokenExpiresIn() int  { return t.accessTokenExpiresIn }
func (t *TokenSet) RefreshToken() string       { return t.refreshToken }
func (t *TokenSet) RawState() string           { return t.state }
func (t *TokenSet) SetRefreshToken(tok string) { t.refreshToken = tok }
func (t *TokenSet) SetState(state string)      { t.state = state }

// SetAccessToken records the access token with its granted scopes and
// lifetime in seconds.
func (t *TokenSet) SetAccessToken(token, scopes string, expiresIn int) {
	t.accessToken = token
	t.accessTokenScopes = scopes
	t.accessTokenExpiresIn = expiresIn
}

// State decodes the state the flow was started with, including its nonce
// field.
func (t *TokenSet) State() (map[string]interface{}, error) {
	if t.state == "" {
		return nil, nil
	}
	return DecodeState(t.state)
}

// Token converts the set into an *oauth2.Token. The ID token and scopes are
// available through Extra.
func (t *TokenSet) Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.accessToken,
		TokenType:    "Bearer",
		RefreshToken: t.refreshToken,
	}
	if t.accessTokenExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(t.accessTokenExpiresIn) * time.Second)
	}
	return tok.WithExtra(map[string]interface{}{
		"id_token": t.idToken,
		"scope":    t.accessTokenScopes,
	})
}
