package oauth2

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"

	xoauth2 "golang.org/x/oauth2"
)

func response(status int, contentType, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {contentType}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestParseTokenResponse(t *testing.T) {
	tests := []struct {
		name string
		resp *http.Response
		want TokenResponse
	}{
		{
			name: "json",
			resp: response(200, "application/json", `{"access_token":"at","token_type":"Bearer","id_token":"idt","refresh_token":"rt","scope":"openid","expires_in":3600}`),
			want: TokenResponse{AccessToken: "at", TokenType: "Bearer", IDToken: "idt", RefreshToken: "rt", Scope: "openid", Expires: 3600},
		},
		{
			name: "json with scopes and string expiry",
			resp: response(200, "application/json; charset=utf-8", `{"access_token":"at","scopes":"read","expires":"60"}`),
			want: TokenResponse{AccessToken: "at", Scope: "read", Expires: 60},
		},
		{
			name: "form",
			resp: response(200, "application/x-www-form-urlencoded", `access_token=at&token_type=bearer&expires_in=10&refresh_token=rt`),
			want: TokenResponse{AccessToken: "at", TokenType: "bearer", RefreshToken: "rt", Expires: 10},
		},
		{
			name: "form without expiry",
			resp: response(200, "text/plain", `access_token=at`),
			want: TokenResponse{AccessToken: "at"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := parseTokenResponse(test.resp)
			if err != nil {
				t.Fatal(err)
			}
			got.RawBody = nil
			if !reflect.DeepEqual(got, test.want) {
				t.Errorf("got %+v, want %+v", got, test.want)
			}
		})
	}
}

func TestParseTokenResponseErrors(t *testing.T) {
	tests := []struct {
		name     string
		resp     *http.Response
		wantCode string
		wantDesc string
	}{
		{
			name:     "error status",
			resp:     response(403, "application/json", `{"error":"access_denied","error_description":"Unauthorized"}`),
			wantCode: "access_denied",
			wantDesc: "Unauthorized",
		},
		{
			name:     "error in success body",
			resp:     response(200, "application/json", `{"error":"invalid_grant"}`),
			wantCode: ErrorInvalidGrant,
		},
		{
			name:     "form error",
			resp:     response(200, "application/x-www-form-urlencoded", `error=invalid_client&error_description=bad+secret`),
			wantCode: ErrorInvalidClient,
			wantDesc: "bad secret",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := parseTokenResponse(test.resp)
			var oerr *Error
			if !errors.As(err, &oerr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if oerr.ErrorCode != test.wantCode || oerr.Description != test.wantDesc {
				t.Errorf("got %+v", oerr)
			}
		})
	}

	_, err := parseTokenResponse(response(502, "text/html", "<html>bad gateway</html>"))
	var oerr *Error
	if err == nil || errors.As(err, &oerr) {
		t.Errorf("expected a plain error for a non-OAuth2 failure, got %v", err)
	}
}

func TestExchange(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("unexpected content type %q", ct)
		}
		r.ParseForm()
		got = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at","expires_in":60}`))
	}))
	defer srv.Close()

	c, err := NewClient(nil, Config{
		Credentials: ClientCredentials{ID: "client", Secret: "secret"},
		RedirectURL: "https://app.example.com/callback",
		TokenURL:    srv.URL + "/oauth/token",
	})
	if err != nil {
		t.Fatal(err)
	}

	var used bool
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		used = true
		return http.DefaultTransport.RoundTrip(r)
	})}
	ctx := context.WithValue(context.Background(), xoauth2.HTTPClient, hc)

	resp, err := c.Exchange(ctx, "the-code")
	if err != nil {
		t.Fatal(err)
	}
	if resp.AccessToken != "at" || resp.Expires != 60 {
		t.Errorf("unexpected response %+v", resp)
	}
	if !used {
		t.Errorf("context client not used")
	}

	want := url.Values{
		"grant_type":    {GrantTypeAuthCode},
		"code":          {"the-code"},
		"redirect_uri":  {"https://app.example.com/callback"},
		"client_id":     {"client"},
		"client_secret": {"secret"},
	}
	for k := range want {
		if got.Get(k) != want.Get(k) {
			t.Errorf("%s: got %q, want %q", k, got.Get(k), want.Get(k))
		}
	}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		cfg     Config
		wantErr bool
	}{
		{Config{Credentials: ClientCredentials{ID: "c"}, TokenURL: "https://x/token"}, false},
		{Config{Credentials: ClientCredentials{}, TokenURL: "https://x/token"}, true},
		{Config{Credentials: ClientCredentials{ID: "c"}, TokenURL: "/token"}, true},
		{Config{Credentials: ClientCredentials{ID: "c"}, TokenURL: "https://x/token", AuthMethod: "private_key_jwt"}, true},
		{Config{Credentials: ClientCredentials{ID: "c"}, TokenURL: "https://x/token", AuthMethod: AuthMethodClientSecretBasic}, true},
	}
	for i, test := range tests {
		_, err := NewClient(nil, test.cfg)
		if (err != nil) != test.wantErr {
			t.Errorf("case %d: got error %v, wantErr %v", i, err, test.wantErr)
		}
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
