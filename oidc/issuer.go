package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/dptsi/go-oidc-rp/cache"
)

const (
	wellKnownPath = "/.well-known/openid-configuration"

	discoveryCacheKey = "openid_configuration"
	jwksCacheKey      = "jwks"
)

// requiredDiscoveryKeys must be present before a discovery document is
// cached.
var requiredDiscoveryKeys = []string{
	"issuer",
	"authorization_endpoint",
	"token_endpoint",
	"jwks_uri",
	"response_types_supported",
	"response_modes_supported",
	"id_token_signing_alg_values_supported",
}

// DiscoveryDocument is the issuer's decoded OpenID provider metadata.
type DiscoveryDocument map[string]interface{}

// String returns the string value under key, or "".
func (d DiscoveryDocument) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Strings returns the string list under key. Non-string elements are
// ignored.
func (d DiscoveryDocument) Strings(key string) []string {
	raw, ok := d[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Issuer reads and caches an OpenID provider's discovery document and
// signing keys.
type Issuer struct {
	baseURL string
	cache   cache.Cache
	ttl     time.Duration
	client  *http.Client
	logger  *zap.Logger
	metrics *Metrics

	group singleflight.Group
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithCache sets the cache holding the discovery document and JWKS. The
// default is a process-local memory cache.
func WithCache(c cache.Cache) IssuerOption {
	return func(i *Issuer) { i.cache = c }
}

// WithCacheTTL makes cached issuer data expire. Zero keeps it for the life
// of the cache entry.
func WithCacheTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) { i.ttl = ttl }
}

// WithIssuerHTTPClient sets the client used for issuer requests.
func WithIssuerHTTPClient(hc *http.Client) IssuerOption {
	return func(i *Issuer) { i.client = hc }
}

func WithIssuerLogger(l *zap.Logger) IssuerOption {
	return func(i *Issuer) { i.logger = l }
}

func WithIssuerMetrics(m *Metrics) IssuerOption {
	return func(i *Issuer) { i.metrics = m }
}

// NewIssuer returns an Issuer for baseURL, which must be an absolute http or
// https URL. No request is made until a value is needed.
func NewIssuer(baseURL string, opts ...IssuerOption) (*Issuer, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ConfigurationError{Msg: `"issuerBaseUrl" must be a valid URL.`}
	}
	i := &Issuer{baseURL: strings.TrimSuffix(baseURL, "/")}
	for _, opt := range opts {
		opt(i)
	}
	if i.cache == nil {
		i.cache = cache.NewMemory("")
	}
	if i.logger == nil {
		i.logger = zap.NewNop()
	}
	return i, nil
}

// BaseURL returns the issuer base URL without a trailing slash.
func (i *Issuer) BaseURL() string { return i.baseURL }

// Discovery returns the discovery document, fetching it on a cache miss.
func (i *Issuer) Discovery(ctx context.Context) (DiscoveryDocument, error) {
	var doc DiscoveryDocument
	if i.cached(ctx, discoveryCacheKey, &doc) {
		return doc, nil
	}

	v, err, _ := i.group.Do(discoveryCacheKey, func() (interface{}, error) {
		return i.fetchDiscovery(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(DiscoveryDocument), nil
}

// DiscoveryProperty returns the discovery value under key and whether it is
// present.
func (i *Issuer) DiscoveryProperty(ctx context.Context, key string) (interface{}, bool, error) {
	doc, err := i.Discovery(ctx)
	if err != nil {
		return nil, false, err
	}
	v, ok := doc[key]
	return v, ok, nil
}

func (i *Issuer) fetchDiscovery(ctx context.Context) (DiscoveryDocument, error) {
	const msg = "HTTP error encountered while getting discovery document"

	wellKnown := i.baseURL + wellKnownPath
	i.logger.Debug("fetching discovery document", zap.String("url", wellKnown))

	body, resp, err := getBody(ctx, i.client, wellKnown)
	if err != nil {
		i.metrics.fetchError(discoveryCacheKey)
		return nil, issuerErr(msg, err)
	}
	var doc DiscoveryDocument
	if err := unmarshalResp(resp, body, &doc); err != nil {
		i.metrics.fetchError(discoveryCacheKey)
		return nil, issuerErr(msg, err)
	}
	if doc == nil {
		i.metrics.fetchError(discoveryCacheKey)
		return nil, issuerErr(msg, errors.New("empty discovery document"))
	}
	var missing []string
	for _, key := range requiredDiscoveryKeys {
		if isEmpty(doc[key]) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		i.metrics.fetchError(discoveryCacheKey)
		return nil, issuerErr(msg, fmt.Errorf("discovery document missing %s", strings.Join(missing, ", ")))
	}

	i.store(ctx, discoveryCacheKey, body)
	return doc, nil
}

// JWKS returns the issuer's signing keys as PEM certificates by key id.
func (i *Issuer) JWKS(ctx context.Context) (KeySet, error) {
	var keys KeySet
	if i.cached(ctx, jwksCacheKey, &keys) {
		return keys, nil
	}

	v, err, _ := i.group.Do(jwksCacheKey, func() (interface{}, error) {
		return i.fetchJWKS(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(KeySet), nil
}

// RefreshJWKS drops the cached JWKS and fetches it again. Concurrent
// refreshes share one request.
func (i *Issuer) RefreshJWKS(ctx context.Context) (KeySet, error) {
	if err := i.cache.Delete(ctx, jwksCacheKey); err != nil {
		i.logger.Warn("issuer cache delete failed", zap.String("key", jwksCacheKey), zap.Error(err))
	}
	v, err, _ := i.group.Do(jwksCacheKey, func() (interface{}, error) {
		return i.fetchJWKS(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(KeySet), nil
}

func (i *Issuer) fetchJWKS(ctx context.Context) (KeySet, error) {
	const msg = "Problem getting JWKS"

	doc, err := i.Discovery(ctx)
	if err != nil {
		return nil, issuerErr(msg, err)
	}
	jwksURI := doc.String("jwks_uri")
	if jwksURI == "" {
		return nil, issuerErr(msg, errors.New("jwks_uri missing from discovery document"))
	}

	i.logger.Debug("fetching JWKS", zap.String("url", jwksURI))
	body, _, err := getBody(ctx, i.client, jwksURI)
	if err != nil {
		i.metrics.fetchError(jwksCacheKey)
		return nil, issuerErr(msg, err)
	}
	keys, err := prepareJWKS(body)
	if err != nil {
		i.metrics.fetchError(jwksCacheKey)
		if errors.Is(err, errNoKeys) {
			return nil, issuerErr(errNoKeys.Error(), nil)
		}
		return nil, issuerErr(msg, err)
	}

	b, err := json.Marshal(keys)
	if err == nil {
		i.store(ctx, jwksCacheKey, b)
	}
	return keys, nil
}

// cached decodes the cache entry under key into v. Unreadable entries count
// as misses.
func (i *Issuer) cached(ctx context.Context, key string, v interface{}) bool {
	b, err := i.cache.Get(ctx, key)
	if err != nil {
		if !cache.IsNotFound(err) {
			i.logger.Warn("issuer cache read failed", zap.String("key", key), zap.Error(err))
		}
		i.metrics.cacheLookup(key, false)
		return false
	}
	if err := json.Unmarshal(b, v); err != nil {
		i.logger.Warn("discarding unreadable issuer cache entry", zap.String("key", key), zap.Error(err))
		i.metrics.cacheLookup(key, false)
		return false
	}
	i.metrics.cacheLookup(key, true)
	return true
}

func (i *Issuer) store(ctx context.Context, key string, b []byte) {
	if err := i.cache.Set(ctx, key, b, i.ttl); err != nil {
		i.logger.Warn("issuer cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops the cached discovery document and JWKS so the next read
// refetches both.
func (i *Issuer) Invalidate(ctx context.Context) error {
	return i.cache.DeleteMultiple(ctx, []string{discoveryCacheKey, jwksCacheKey})
}

// ValidateParams checks response_type and response_mode against the values
// the issuer advertises.
func (i *Issuer) ValidateParams(ctx context.Context, params url.Values) error {
	responseType := params.Get("response_type")
	if responseType == "" {
		return issuerErr("Response type parameter is missing.", nil)
	}
	doc, err := i.Discovery(ctx)
	if err != nil {
		return err
	}
	if !contains(doc.Strings("response_types_supported"), responseType) {
		return issuerErr(fmt.Sprintf("Response type %s not supported.", responseType), nil)
	}

	responseMode := params.Get("response_mode")
	if responseMode == "" {
		return issuerErr("Response mode parameter is missing.", nil)
	}
	if !contains(doc.Strings("response_modes_supported"), responseMode) {
		return issuerErr(fmt.Sprintf("Response mode %s not supported.", responseMode), nil)
	}
	return nil
}

// ValidateIDTokenAlg checks alg against id_token_signing_alg_values_supported.
func (i *Issuer) ValidateIDTokenAlg(ctx context.Context, alg string) error {
	doc, err := i.Discovery(ctx)
	if err != nil {
		return err
	}
	if !contains(doc.Strings("id_token_signing_alg_values_supported"), alg) {
		return issuerErr(fmt.Sprintf("ID token alg %s not supported.", alg), nil)
	}
	return nil
}

// Endpoint returns the issuer's OAuth2 endpoints.
func (i *Issuer) Endpoint(ctx context.Context) (oauth2.Endpoint, error) {
	doc, err := i.Discovery(ctx)
	if err != nil {
		return oauth2.Endpoint{}, err
	}
	ep := oauth2.Endpoint{
		AuthURL:   doc.String("authorization_endpoint"),
		TokenURL:  doc.String("token_endpoint"),
		AuthStyle: oauth2.AuthStyleInParams,
	}
	if ep.AuthURL == "" {
		return ep, issuerErr("authorization_endpoint missing from discovery document", nil)
	}
	return ep, nil
}

// UserInfo fetches the userinfo endpoint with accessToken as bearer
// credential.
func (i *Issuer) UserInfo(ctx context.Context, accessToken string) (Claims, error) {
	doc, err := i.Discovery(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := doc.String("userinfo_endpoint")
	if endpoint == "" {
		return nil, issuerErr("userinfo_endpoint missing from discovery document", nil)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, contextClient(ctx, i.client))
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read response body: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{URL: endpoint, StatusCode: resp.StatusCode, Body: body}
	}
	var claims Claims
	if err := unmarshalResp(resp, body, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}
