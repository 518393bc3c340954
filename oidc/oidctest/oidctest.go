// Package oidctest implements a test OpenID Connect issuer.
//
// For convinence, methods in this package panic rather than returning errors.
// This package is NOT suitable for use outside of tests.
//
// This package is primarily intended to be used with the standard library's
// [net/http/httptest] package. Users should configure a key pair and setup
// a server:
//
//	priv, err := rsa.GenerateKey(rand.Reader, 2048)
//	if err != nil {
//		// ...
//	}
//	s := &oidctest.Server{
//		PublicKeys: []oidctest.PublicKey{
//			{
//				PublicKey:   priv.Public(),
//				KeyID:       "my-key-id",
//				Algorithm:   "RS256",
//				Certificate: oidctest.SelfSignedCertificate(priv),
//			},
//		},
//	}
//	srv := httptest.NewServer(s)
//	defer srv.Close()
//	s.SetIssuer(srv.URL)
//
// Then sign a token carrying the nonce found in the authorization URL:
//
//	rawClaims := `{
//		"iss": "` + s.Issuer() + `",
//		"aud": "my-client-id",
//		"sub": "foo",
//		"nonce": "` + nonce + `",
//		"iat": ` + strconv.FormatInt(time.Now().Unix(), 10) + `,
//		"exp": ` + strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10) + `
//	}`
//	token := oidctest.SignIDToken(priv, "my-key-id", "RS256", rawClaims)
package oidctest

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v3"

	"github.com/dptsi/go-oidc-rp/oauth2"
)

const (
	DiscoveryPath = "/.well-known/openid-configuration"
	KeysPath      = "/keys"
	AuthPath      = "/authorize"
	TokenPath     = "/oauth/token"
	UserInfoPath  = "/userinfo"
)

// SignIDToken uses a private key to sign provided claims. For HS256 priv is
// the shared secret as a []byte.
func SignIDToken(priv crypto.PrivateKey, keyID, alg, claims string) string {
	token, err := newToken(priv, keyID, alg, claims)
	if err != nil {
		panic("oidctest: generating token: " + err.Error())
	}
	return token
}

func newToken(priv crypto.PrivateKey, keyID, alg, claims string) (string, error) {
	key := jose.SigningKey{
		Algorithm: jose.SignatureAlgorithm(alg),
		Key:       priv,
	}
	opts := &jose.SignerOptions{}
	if keyID != "" {
		opts.WithHeader(jose.HeaderKey("kid"), keyID)
	}

	signer, err := jose.NewSigner(key, opts)
	if err != nil {
		return "", fmt.Errorf("creating signer: %v", err)
	}
	sig, err := signer.Sign([]byte(claims))
	if err != nil {
		return "", fmt.Errorf("signing payload: %v", err)
	}
	jwt, err := sig.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("serializing jwt: %v", err)
	}
	return jwt, nil
}

// SelfSignedCertificate returns a DER certificate for priv's public key.
func SelfSignedCertificate(priv crypto.Signer) []byte {
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "oidctest"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, priv.Public(), priv)
	if err != nil {
		panic("oidctest: creating certificate: " + err.Error())
	}
	return der
}

// PublicKey holds a public key as well as additional metadata about that
// key.
type PublicKey struct {
	// Either *rsa.PublicKey or *ecdsa.PublicKey.
	PublicKey crypto.PublicKey
	// The ID of the key. Should match the value passed to [SignIDToken].
	KeyID string
	// Signature algorithm used by the public key, such as "RS256".
	Algorithm string
	// DER certificate published as the key's only x5c entry. Keys without
	// one are published without x5c.
	Certificate []byte
}

// TokenResponse is the status and JSON body answered by the token endpoint.
type TokenResponse struct {
	Status int
	Body   interface{}
}

// Server holds configuration for the OpenID Connect test server.
type Server struct {
	// Public keys advertised by the server that can be used to sign tokens.
	PublicKeys []PublicKey
	// The set of signing algorithms used by the server. Defaults to "RS256".
	Algorithms []string
	// Defaults to "code", "id_token", "id_token code".
	ResponseTypes []string
	// Defaults to "query", "fragment", "form_post".
	ResponseModes []string

	// Token answers well-formed authorization code exchanges. The default
	// rejects them with invalid_grant.
	Token func(form url.Values) TokenResponse
	// UserInfo is served to requests bearing AccessToken.
	UserInfo    map[string]interface{}
	AccessToken string

	issuerURL *url.URL

	mu       sync.Mutex
	requests map[string]int
}

// SetIssuer must be called before serving traffic. This is usually the
// [httptest.Server.URL].
func (s *Server) SetIssuer(issuerURL string) {
	u, err := url.Parse(issuerURL)
	if err != nil {
		panic("oidctest: invalid issuer URL: " + err.Error())
	}
	s.issuerURL = u
}

// Requests returns how many requests were served for path.
func (s *Server) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

func (s *Server) count(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requests == nil {
		s.requests = make(map[string]int)
	}
	s.requests[path]++
}

// ServeHTTP is the server's implementation of [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.count(r.URL.Path)
	switch r.URL.Path {
	case DiscoveryPath:
		if r.Method != http.MethodGet {
			http.Error(w, "Expected GET request for discovery endpoint, got: "+r.Method,
				http.StatusMethodNotAllowed)
			return
		}
		s.serveDiscovery(w, r)
	case KeysPath:
		if r.Method != http.MethodGet {
			http.Error(w, "Expected GET request for keys endpoint, got: "+r.Method,
				http.StatusMethodNotAllowed)
			return
		}
		s.serveKeys(w, r)
	case TokenPath:
		if r.Method != http.MethodPost {
			http.Error(w, "Expected POST request for token endpoint, got: "+r.Method,
				http.StatusMethodNotAllowed)
			return
		}
		s.serveToken(w, r)
	case UserInfoPath:
		s.serveUserInfo(w, r)
	default:
		http.Error(w, "Unknown path: "+r.URL.Path, http.StatusNotFound)
	}
}

func orDefault(v []string, def ...string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

func (s *Server) serveDiscovery(w http.ResponseWriter, r *http.Request) {
	if s.issuerURL == nil {
		http.Error(w, "oidctest: server called without SetIssuer()", http.StatusInternalServerError)
		return
	}

	disc := struct {
		Issuer        string   `json:"issuer"`
		Auth          string   `json:"authorization_endpoint"`
		Token         string   `json:"token_endpoint"`
		UserInfo      string   `json:"userinfo_endpoint"`
		JWKs          string   `json:"jwks_uri"`
		ResponseTypes []string `json:"response_types_supported"`
		ResponseModes []string `json:"response_modes_supported"`
		SubjectTypes  []string `json:"subject_types_supported"`
		Algs          []string `json:"id_token_signing_alg_values_supported"`
	}{
		Issuer:        s.Issuer(),
		Auth:          s.issuerURL.JoinPath(AuthPath).String(),
		Token:         s.issuerURL.JoinPath(TokenPath).String(),
		UserInfo:      s.issuerURL.JoinPath(UserInfoPath).String(),
		JWKs:          s.issuerURL.JoinPath(KeysPath).String(),
		ResponseTypes: orDefault(s.ResponseTypes, "code", "id_token", "id_token code"),
		ResponseModes: orDefault(s.ResponseModes, "query", "fragment", "form_post"),
		SubjectTypes:  []string{"public"},
		Algs:          orDefault(s.Algorithms, "RS256"),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(disc)
}

func (s *Server) serveKeys(w http.ResponseWriter, r *http.Request) {
	keys := make([]map[string]interface{}, 0, len(s.PublicKeys))
	for _, pub := range s.PublicKeys {
		k := jose.JSONWebKey{
			Key:       pub.PublicKey,
			KeyID:     pub.KeyID,
			Algorithm: pub.Algorithm,
			Use:       "sig",
		}
		b, err := k.MarshalJSON()
		if err != nil {
			http.Error(w, "oidctest: marshal key: "+err.Error(), http.StatusInternalServerError)
			return
		}
		m := map[string]interface{}{}
		if err := json.Unmarshal(b, &m); err != nil {
			http.Error(w, "oidctest: marshal key: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if len(pub.Certificate) > 0 {
			m["x5c"] = []string{base64.StdEncoding.EncodeToString(pub.Certificate)}
		}
		keys = append(keys, m)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"keys": keys})
}

func (s *Server) serveToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "oidctest: parse form: "+err.Error(), http.StatusBadRequest)
		return
	}
	form := r.PostForm
	var resp TokenResponse
	switch {
	case form.Get("grant_type") != oauth2.GrantTypeAuthCode:
		resp = TokenResponse{http.StatusBadRequest, oauth2.NewError(oauth2.ErrorUnsupportedGrantType, "")}
	case form.Get("code") == "":
		resp = TokenResponse{http.StatusBadRequest, oauth2.NewError(oauth2.ErrorInvalidRequest, "Missing code")}
	case form.Get("client_id") == "":
		resp = TokenResponse{http.StatusUnauthorized, oauth2.NewError(oauth2.ErrorInvalidClient, "")}
	case s.Token != nil:
		resp = s.Token(form)
	default:
		resp = TokenResponse{http.StatusBadRequest, oauth2.NewError(oauth2.ErrorInvalidGrant, "Invalid authorization code")}
	}
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	json.NewEncoder(w).Encode(resp.Body)
}

func (s *Server) serveUserInfo(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if s.AccessToken == "" || auth != "Bearer "+s.AccessToken {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.UserInfo)
}

// Issuer returns the issuer claim value the server publishes. It carries a
// trailing slash like hosted issuers do.
func (s *Server) Issuer() string {
	return strings.TrimSuffix(s.issuerURL.String(), "/") + "/"
}
