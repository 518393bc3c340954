package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/dptsi/go-oidc-rp/cache"
	"github.com/dptsi/go-oidc-rp/oauth2"
	"github.com/dptsi/go-oidc-rp/store"
)

const (
	// DefaultIDTokenAlg is used when Config.IDTokenAlg is empty.
	DefaultIDTokenAlg = RS256

	userKey = "user"

	flowIDToken = "id_token"
	flowCode    = "code"
)

func defaultAuthorizationParams() map[string]string {
	return map[string]string{
		"response_type": "id_token",
		"response_mode": "form_post",
		"scope":         "openid profile email",
	}
}

// Config configures a Login.
type Config struct {
	IssuerBaseURL string
	ClientID      string
	// ClientSecret signs HS256 ID tokens and authenticates the code
	// exchange.
	ClientSecret string
	RedirectURI  string
	// IDTokenAlg is HS256 or RS256. Defaults to RS256.
	IDTokenAlg string

	// AuthorizationParams are merged over the defaults for every
	// authorization request.
	AuthorizationParams map[string]string

	// GetClaimsFromUserinfo replaces ID token claims with the userinfo
	// response after a code exchange.
	GetClaimsFromUserinfo bool
	// SkipUserPersistence disables saving the user claims after a
	// callback.
	SkipUserPersistence bool

	// IDTokenLeeway is the clock skew tolerated on exp, nbf and iat.
	IDTokenLeeway time.Duration
	// CacheTTL bounds how long the discovery document and JWKS are reused.
	// Zero never expires them.
	CacheTTL time.Duration

	// Unset caches and stores default to process memory.
	Cache      cache.Cache
	StateStore store.Store
	NonceStore store.Store
	UserStore  store.Store

	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    *Metrics
}

// Login drives the authorization redirect and callback handling for one
// client registration.
type Login struct {
	cfg        Config
	authParams map[string]string

	issuer *Issuer
	nonce  *CSRFToken
	state  *CSRFToken
	users  store.Store

	logger  *zap.Logger
	metrics *Metrics
}

// New validates cfg and returns a Login. The issuer is not contacted.
func New(cfg Config) (*Login, error) {
	if cfg.IDTokenAlg == "" {
		cfg.IDTokenAlg = DefaultIDTokenAlg
	}
	if cfg.IDTokenAlg != HS256 && cfg.IDTokenAlg != RS256 {
		return nil, &ConfigurationError{Msg: `"idTokenAlg" must be HS256 or RS256`}
	}
	if cfg.ClientID == "" {
		return nil, &ConfigurationError{Msg: `"clientId" is required`}
	}
	if cfg.RedirectURI == "" {
		return nil, &ConfigurationError{Msg: `"redirectUri" is required`}
	}
	if cfg.IDTokenAlg == HS256 && cfg.ClientSecret == "" {
		return nil, &ConfigurationError{Msg: `"clientSecret" is required for HS256`}
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemory("")
	}
	if cfg.StateStore == nil {
		cfg.StateStore = store.NewMemory(store.DefaultAuthSessionTTL)
	}
	if cfg.NonceStore == nil {
		cfg.NonceStore = store.NewMemory(store.DefaultAuthSessionTTL)
	}
	if cfg.UserStore == nil {
		cfg.UserStore = store.NewMemory(0)
	}

	issuer, err := NewIssuer(cfg.IssuerBaseURL,
		WithCache(cfg.Cache),
		WithCacheTTL(cfg.CacheTTL),
		WithIssuerHTTPClient(cfg.HTTPClient),
		WithIssuerLogger(cfg.Logger),
		WithIssuerMetrics(cfg.Metrics),
	)
	if err != nil {
		return nil, err
	}

	params := defaultAuthorizationParams()
	for k, v := range cfg.AuthorizationParams {
		params[k] = v
	}

	return &Login{
		cfg:        cfg,
		authParams: params,
		issuer:     issuer,
		nonce:      NewNonce(cfg.NonceStore),
		state:      NewState(cfg.StateStore),
		users:      cfg.UserStore,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}, nil
}

// Issuer returns the issuer used by l.
func (l *Login) Issuer() *Issuer { return l.issuer }

// AuthorizationURL builds the URL to redirect the user agent to and stores
// the nonce and state for the callback. params override the configured
// authorization parameters, except client_id, redirect_uri, nonce and
// state. statePayload is returned, decoded, by TokenSet.State.
func (l *Login) AuthorizationURL(ctx context.Context, params map[string]string, statePayload map[string]interface{}) (string, error) {
	merged := make(map[string]string, len(l.authParams)+len(params)+4)
	for k, v := range l.authParams {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	merged["client_id"] = l.cfg.ClientID
	merged["redirect_uri"] = l.cfg.RedirectURI

	if (merged["audience"] != "" || l.cfg.GetClaimsFromUserinfo) && !hasResponseType(merged["response_type"], "code") {
		return "", authErr(`Cannot get an access token without a response_type including "code"`, nil)
	}

	nonce, err := CreateSecret(DefaultSecretBytes)
	if err != nil {
		return "", err
	}
	state, err := l.state.CreateState(statePayload)
	if err != nil {
		return "", err
	}
	merged["nonce"] = nonce
	merged["state"] = state

	q := url.Values{}
	for k, v := range merged {
		if v != "" {
			q.Set(k, v)
		}
	}
	if err := l.issuer.ValidateParams(ctx, q); err != nil {
		return "", err
	}
	ep, err := l.issuer.Endpoint(ctx)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(ep.AuthURL)
	if err != nil {
		return "", issuerErr("invalid authorization_endpoint", err)
	}

	if err := l.nonce.Set(ctx, nonce); err != nil {
		return "", fmt.Errorf("oidc: store nonce: %w", err)
	}
	if err := l.state.Set(ctx, state); err != nil {
		return "", fmt.Errorf("oidc: store state: %w", err)
	}

	if u.RawQuery == "" {
		u.RawQuery = q.Encode()
	} else {
		u.RawQuery += "&" + q.Encode()
	}
	return u.String(), nil
}

// HandleIDTokenCallback completes the implicit form_post flow. It returns
// nil, nil when params carry no id_token.
func (l *Login) HandleIDTokenCallback(ctx context.Context, params url.Values) (*TokenSet, error) {
	rawIDToken := params.Get("id_token")
	if rawIDToken == "" {
		return nil, nil
	}
	tokens, err := l.handleIDTokenCallback(ctx, rawIDToken, params.Get("state"))
	l.metrics.callback(flowIDToken, err)
	return tokens, err
}

func (l *Login) handleIDTokenCallback(ctx context.Context, rawIDToken, receivedState string) (*TokenSet, error) {
	state, err := l.validState(ctx, receivedState)
	if err != nil {
		return nil, err
	}
	tokens, err := l.DecodeIDToken(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}
	tokens.SetState(state)
	if err := l.persistUser(ctx, tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// HandleCodeCallback completes the authorization code flow. It returns
// nil, nil when params carry no code.
func (l *Login) HandleCodeCallback(ctx context.Context, params url.Values) (*TokenSet, error) {
	code := params.Get("code")
	if code == "" {
		return nil, nil
	}
	tokens, err := l.handleCodeCallback(ctx, code, params.Get("state"))
	l.metrics.callback(flowCode, err)
	return tokens, err
}

func (l *Login) handleCodeCallback(ctx context.Context, code, receivedState string) (*TokenSet, error) {
	state, err := l.validState(ctx, receivedState)
	if err != nil {
		return nil, err
	}

	ep, err := l.issuer.Endpoint(ctx)
	if err != nil {
		return nil, err
	}
	client, err := oauth2.NewClient(l.cfg.HTTPClient, oauth2.Config{
		Credentials: oauth2.ClientCredentials{ID: l.cfg.ClientID, Secret: l.cfg.ClientSecret},
		RedirectURL: l.cfg.RedirectURI,
		TokenURL:    ep.TokenURL,
		AuthMethod:  oauth2.AuthMethodClientSecretPost,
	})
	if err != nil {
		return nil, issuerErr("invalid token_endpoint", err)
	}

	resp, err := client.Exchange(ctx, code)
	if err != nil {
		var oerr *oauth2.Error
		if errors.As(err, &oerr) {
			msg := oerr.Description
			if msg == "" {
				msg = oerr.ErrorCode
			}
			l.logger.Warn("token endpoint returned an error", zap.String("error", oerr.ErrorCode))
			return nil, authErr(msg, oerr)
		}
		return nil, authErr("token exchange failed", err)
	}

	tokens := newTokenSet("", nil)
	if resp.IDToken != "" {
		if tokens, err = l.DecodeIDToken(ctx, resp.IDToken); err != nil {
			return nil, err
		}
	}
	tokens.SetAccessToken(resp.AccessToken, resp.Scope, resp.Expires)
	tokens.SetRefreshToken(resp.RefreshToken)
	tokens.SetState(state)

	if l.cfg.GetClaimsFromUserinfo && resp.AccessToken != "" {
		claims, err := l.issuer.UserInfo(ctx, resp.AccessToken)
		if err != nil {
			return nil, authErr("failed to get userinfo", err)
		}
		tokens.setClaims(claims)
	}

	if err := l.persistUser(ctx, tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (l *Login) validState(ctx context.Context, received string) (string, error) {
	state, err := l.state.ValidState(ctx, received)
	if err != nil {
		l.metrics.stateFailure()
		l.logger.Warn("callback state rejected", zap.Error(err))
		return "", err
	}
	return state, nil
}

// SignatureKey returns the key material ID tokens are verified with: the
// issuer's KeySet for RS256 or the client secret for HS256.
func (l *Login) SignatureKey(ctx context.Context) (interface{}, error) {
	if l.cfg.IDTokenAlg == HS256 {
		return l.cfg.ClientSecret, nil
	}
	return l.issuer.JWKS(ctx)
}

// DecodeIDToken verifies rawIDToken against the stored nonce, which is
// consumed whether or not verification succeeds.
func (l *Login) DecodeIDToken(ctx context.Context, rawIDToken string) (*TokenSet, error) {
	nonce, err := l.nonce.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("oidc: read nonce: %w", err)
	}

	tokens, err := l.decodeIDToken(ctx, rawIDToken, nonce)
	l.metrics.verification(err)
	if err != nil {
		var idErr *IDTokenError
		if errors.As(err, &idErr) {
			l.logger.Warn("ID token rejected", zap.String("reason", idErr.Msg))
		}
		return nil, err
	}
	return tokens, nil
}

func (l *Login) decodeIDToken(ctx context.Context, rawIDToken, nonce string) (*TokenSet, error) {
	if err := l.issuer.ValidateIDTokenAlg(ctx, l.cfg.IDTokenAlg); err != nil {
		return nil, err
	}
	doc, err := l.issuer.Discovery(ctx)
	if err != nil {
		return nil, err
	}

	vcfg := VerifierConfig{
		Algorithm: l.cfg.IDTokenAlg,
		ClientID:  l.cfg.ClientID,
		Issuer:    doc.String("issuer"),
		Leeway:    l.cfg.IDTokenLeeway,
	}
	key, err := l.SignatureKey(ctx)
	if err != nil {
		return nil, err
	}
	tokens, err := verify(vcfg, key, rawIDToken, nonce)
	if err == nil || !isUnknownKid(err) {
		return tokens, err
	}

	// The issuer may have rotated its keys since the JWKS was cached.
	l.logger.Info("unknown ID token key id, refreshing JWKS")
	keys, ferr := l.issuer.RefreshJWKS(ctx)
	if ferr != nil {
		return nil, ferr
	}
	return verify(vcfg, keys, rawIDToken, nonce)
}

func verify(vcfg VerifierConfig, key interface{}, rawIDToken, nonce string) (*TokenSet, error) {
	switch k := key.(type) {
	case string:
		vcfg.Secret = k
	case KeySet:
		vcfg.Keys = k
	}
	v, err := NewIDTokenVerifier(vcfg)
	if err != nil {
		return nil, err
	}
	return v.Decode(rawIDToken, nonce)
}

func (l *Login) persistUser(ctx context.Context, tokens *TokenSet) error {
	if l.cfg.SkipUserPersistence || !tokens.HasClaims() {
		return nil
	}
	b, err := json.Marshal(tokens.claims)
	if err != nil {
		return fmt.Errorf("oidc: encode user: %w", err)
	}
	if err := l.users.Set(ctx, userKey, string(b)); err != nil {
		return fmt.Errorf("oidc: store user: %w", err)
	}
	return nil
}

// User returns the persisted user claims, or nil when nobody is logged in.
func (l *Login) User(ctx context.Context) (Claims, error) {
	raw, err := l.users.Get(ctx, userKey, "")
	if err != nil {
		return nil, fmt.Errorf("oidc: read user: %w", err)
	}
	if raw == "" {
		return nil, nil
	}
	var c Claims
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("oidc: decode user: %w", err)
	}
	return c, nil
}

// IsAuthenticated reports whether a persisted user with a subject exists.
func (l *Login) IsAuthenticated(ctx context.Context) (bool, error) {
	user, err := l.User(ctx)
	if err != nil {
		return false, err
	}
	return user.String("sub") != "", nil
}

// LogoutURL returns the issuer's logout URL for the client.
func (l *Login) LogoutURL(federated bool) string {
	u := fmt.Sprintf("%s/v2/logout?client_id=%s", l.issuer.BaseURL(), url.QueryEscape(l.cfg.ClientID))
	if federated {
		u += "&federated"
	}
	return u
}

// Logout forgets the persisted user and any pending nonce and state.
func (l *Login) Logout(ctx context.Context) error {
	if err := l.users.Delete(ctx, userKey); err != nil {
		return fmt.Errorf("oidc: delete user: %w", err)
	}
	if err := l.nonce.Clear(ctx); err != nil {
		return fmt.Errorf("oidc: clear nonce: %w", err)
	}
	if err := l.state.Clear(ctx); err != nil {
		return fmt.Errorf("oidc: clear state: %w", err)
	}
	return nil
}
