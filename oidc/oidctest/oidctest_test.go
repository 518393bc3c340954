package oidctest_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dptsi/go-oidc-rp/oauth2"
	"github.com/dptsi/go-oidc-rp/oidc"
	"github.com/dptsi/go-oidc-rp/oidc/oidctest"
)

func TestServer(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}

	s := &oidctest.Server{
		PublicKeys: []oidctest.PublicKey{
			{
				PublicKey:   priv.Public(),
				KeyID:       "my-key-id",
				Algorithm:   oidc.RS256,
				Certificate: oidctest.SelfSignedCertificate(priv),
			},
		},
	}
	srv := httptest.NewServer(s)
	defer srv.Close()
	s.SetIssuer(srv.URL)

	ctx := context.Background()
	issuer, err := oidc.NewIssuer(srv.URL)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	keys, err := issuer.JWKS(ctx)
	if err != nil {
		t.Fatalf("fetching keys: %v", err)
	}
	if _, ok := keys["my-key-id"]; !ok {
		t.Fatalf("expected key my-key-id in %v", keys)
	}

	now := time.Now()
	rawClaims := `{
		"iss": "` + s.Issuer() + `",
		"aud": "my-client-id",
		"sub": "foo",
		"nonce": "n-0S6_WzA2Mj",
		"iat": ` + strconv.FormatInt(now.Unix(), 10) + `,
		"exp": ` + strconv.FormatInt(now.Add(time.Hour).Unix(), 10) + `,
		"email": "foo@example.com",
		"email_verified": true
	}`
	token := oidctest.SignIDToken(priv, "my-key-id", oidc.RS256, rawClaims)

	v, err := oidc.NewIDTokenVerifier(oidc.VerifierConfig{
		Algorithm: oidc.RS256,
		Keys:      keys,
		ClientID:  "my-client-id",
		Issuer:    s.Issuer(),
		Now:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	tokens, err := v.Decode(token, "n-0S6_WzA2Mj")
	if err != nil {
		t.Fatalf("verifying token: %v", err)
	}
	if want := "foo"; tokens.Claim("sub") != want {
		t.Errorf("ID token returned unexpected subject, got=%v, want=%v", tokens.Claim("sub"), want)
	}
	if want := "foo@example.com"; tokens.Claim("email") != want {
		t.Errorf("ID token returned unexpected email, got=%v, want=%v", tokens.Claim("email"), want)
	}
	if got := tokens.Claims()["email_verified"]; got != true {
		t.Errorf("ID token returned unexpected email_verified, got=%v, want=true", got)
	}
	if got := s.Requests(oidctest.KeysPath); got != 1 {
		t.Errorf("expected one key request, got %d", got)
	}
}

func TestServerTokenEndpoint(t *testing.T) {
	s := &oidctest.Server{
		Token: func(form url.Values) oidctest.TokenResponse {
			if form.Get("code") != "good" {
				return oidctest.TokenResponse{Status: http.StatusForbidden, Body: map[string]string{"error": "access_denied"}}
			}
			return oidctest.TokenResponse{Body: map[string]interface{}{"access_token": "at"}}
		},
	}
	srv := httptest.NewServer(s)
	defer srv.Close()
	s.SetIssuer(srv.URL)

	valid := url.Values{"grant_type": {oauth2.GrantTypeAuthCode}, "client_id": {"client"}, "code": {"good"}}
	with := func(key, value string) url.Values {
		form := url.Values{}
		for k, v := range valid {
			form[k] = v
		}
		if value == "" {
			form.Del(key)
		} else {
			form.Set(key, value)
		}
		return form
	}

	tests := []struct {
		name       string
		form       url.Values
		wantStatus int
		wantBody   string
	}{
		{"good code", valid, http.StatusOK, `"access_token":"at"`},
		{"bad code", with("code", "bad"), http.StatusForbidden, `"error":"access_denied"`},
		{"wrong grant", with("grant_type", "password"), http.StatusBadRequest, `"error":"unsupported_grant_type"`},
		{"missing code", with("code", ""), http.StatusBadRequest, `"error":"invalid_request"`},
		{"missing client", with("client_id", ""), http.StatusUnauthorized, `"error":"invalid_client"`},
	}
	for _, test := range tests {
		resp, err := http.PostForm(srv.URL+oidctest.TokenPath, test.form)
		if err != nil {
			t.Fatalf("posting token request: %v", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("reading token response: %v", err)
		}

		if resp.StatusCode != test.wantStatus {
			t.Errorf("%s: got status %d, want %d", test.name, resp.StatusCode, test.wantStatus)
		}
		if !strings.Contains(string(body), test.wantBody) {
			t.Errorf("%s: body %q does not contain %q", test.name, body, test.wantBody)
		}
	}
}

func TestServerTokenEndpointDefault(t *testing.T) {
	s := &oidctest.Server{}
	srv := httptest.NewServer(s)
	defer srv.Close()
	s.SetIssuer(srv.URL)

	c, err := oauth2.NewClient(nil, oauth2.Config{
		Credentials: oauth2.ClientCredentials{ID: "client", Secret: "secret"},
		TokenURL:    srv.URL + oidctest.TokenPath,
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Exchange(context.Background(), "any")
	var oerr *oauth2.Error
	if !errors.As(err, &oerr) || oerr.ErrorCode != oauth2.ErrorInvalidGrant {
		t.Fatalf("expected invalid_grant, got %v", err)
	}
}

func TestServerUserInfoRequiresToken(t *testing.T) {
	s := &oidctest.Server{
		AccessToken: "at",
		UserInfo:    map[string]interface{}{"sub": "foo"},
	}
	srv := httptest.NewServer(s)
	defer srv.Close()
	s.SetIssuer(srv.URL)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+oidctest.UserInfoPath, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	req.Header.Set("Authorization", "Bearer at")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", resp.StatusCode)
	}
}
