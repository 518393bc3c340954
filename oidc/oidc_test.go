package oidc

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dptsi/go-oidc-rp/oidc/oidctest"
)

const (
	testClientID = "client-abc"
	testKeyID    = "test-key"
	testSecret   = "client-secret"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
	testCert    []byte
)

func rsaKey(t testing.TB) (*rsa.PrivateKey, []byte) {
	testKeyOnce.Do(func() {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = priv
		testCert = oidctest.SelfSignedCertificate(priv)
	})
	return testKey, testCert
}

func testKeySet(t testing.TB) KeySet {
	_, cert := rsaKey(t)
	return KeySet{testKeyID: convertCertToPEM(base64.StdEncoding.EncodeToString(cert))}
}

type testIssuer struct {
	*oidctest.Server
	srv  *httptest.Server
	priv *rsa.PrivateKey
}

func newTestIssuer(t *testing.T, configure ...func(*oidctest.Server)) *testIssuer {
	priv, cert := rsaKey(t)
	s := &oidctest.Server{
		PublicKeys: []oidctest.PublicKey{{
			PublicKey:   priv.Public(),
			KeyID:       testKeyID,
			Algorithm:   RS256,
			Certificate: cert,
		}},
		Algorithms: []string{RS256, HS256},
	}
	for _, c := range configure {
		c(s)
	}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	s.SetIssuer(srv.URL)
	return &testIssuer{Server: s, srv: srv, priv: priv}
}

func (ti *testIssuer) URL() string { return ti.srv.URL }

func (ti *testIssuer) claims(nonce string) map[string]interface{} {
	return validClaims(ti.Issuer(), nonce)
}

func (ti *testIssuer) sign(t *testing.T, claims map[string]interface{}) string {
	return signClaims(t, ti.priv, testKeyID, RS256, claims)
}

func validClaims(issuer, nonce string) map[string]interface{} {
	now := time.Now()
	return map[string]interface{}{
		"iss":   issuer,
		"aud":   testClientID,
		"sub":   "user-123",
		"name":  "Jane Doe",
		"nonce": nonce,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}

func signClaims(t *testing.T, key interface{}, keyID, alg string, claims map[string]interface{}) string {
	t.Helper()
	b, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	return oidctest.SignIDToken(key, keyID, alg, string(b))
}

// authParams returns the query of an authorization URL.
func authParams(t *testing.T, rawURL string) url.Values {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse authorization url: %v", err)
	}
	return u.Query()
}

func errMsg(err error) string {
	var (
		cfgErr *ConfigurationError
		issErr *IssuerError
		idErr  *IDTokenError
		aErr   *AuthError
	)
	switch {
	case errors.As(err, &idErr):
		return idErr.Msg
	case errors.As(err, &aErr):
		return aErr.Msg
	case errors.As(err, &issErr):
		return issErr.Msg
	case errors.As(err, &cfgErr):
		return cfgErr.Msg
	case err == nil:
		return ""
	default:
		return err.Error()
	}
}

func TestHasResponseType(t *testing.T) {
	tests := []struct {
		responseType string
		want         bool
	}{
		{"code", true},
		{"id_token code", true},
		{"code id_token", true},
		{"id_token", false},
		{"", false},
		{"codes", false},
	}
	for _, test := range tests {
		if got := hasResponseType(test.responseType, "code"); got != test.want {
			t.Errorf("hasResponseType(%q): got %v, want %v", test.responseType, got, test.want)
		}
	}
}

func TestErrorMessages(t *testing.T) {
	inner := &HTTPError{URL: "https://example.com/x", StatusCode: 500, Body: []byte("boom")}
	err := issuerErr("Problem getting JWKS", inner)
	if !strings.HasPrefix(err.Error(), "oidc: Problem getting JWKS: ") {
		t.Errorf("unexpected message %q", err.Error())
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 500 {
		t.Errorf("expected wrapped HTTPError, got %v", err)
	}
	if got := (&ConfigurationError{Msg: "x"}).Error(); got != "oidc: invalid configuration: x" {
		t.Errorf("unexpected configuration error %q", got)
	}
}
