// Package oauth2 implements the authorization code exchange against an
// issuer's token endpoint.
package oauth2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	xoauth2 "golang.org/x/oauth2"
)

const (
	GrantTypeAuthCode = "authorization_code"

	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodClientSecretBasic = "client_secret_basic"
)

type Config struct {
	Credentials ClientCredentials
	RedirectURL string
	TokenURL    string

	// Must be one of the AuthMethodXXX methods above. Defaults to
	// AuthMethodClientSecretPost.
	AuthMethod string
}

type Client struct {
	hc          *http.Client
	creds       ClientCredentials
	redirectURL *url.URL
	tokenURL    *url.URL
	authMethod  string
}

type ClientCredentials struct {
	ID     string
	Secret string
}

// NewClient validates cfg. A nil hc is resolved per request from the
// golang.org/x/oauth2 HTTPClient context key, falling back to
// http.DefaultClient.
func NewClient(hc *http.Client, cfg Config) (c *Client, err error) {
	if len(cfg.Credentials.ID) == 0 {
		err = errors.New("missing client id")
		return
	}

	if cfg.AuthMethod == "" {
		cfg.AuthMethod = AuthMethodClientSecretPost
	} else if cfg.AuthMethod != AuthMethodClientSecretPost && cfg.AuthMethod != AuthMethodClientSecretBasic {
		err = fmt.Errorf("auth method %q is not supported", cfg.AuthMethod)
		return
	}
	if cfg.AuthMethod == AuthMethodClientSecretBasic && cfg.Credentials.Secret == "" {
		err = errors.New("missing client secret")
		return
	}

	tu, err := url.Parse(cfg.TokenURL)
	if err != nil {
		return
	}
	if !tu.IsAbs() {
		err = fmt.Errorf("token url %q is not absolute", cfg.TokenURL)
		return
	}

	ru, err := url.Parse(cfg.RedirectURL)
	if err != nil {
		return
	}

	c = &Client{
		creds:       cfg.Credentials,
		redirectURL: ru,
		tokenURL:    tu,
		hc:          hc,
		authMethod:  cfg.AuthMethod,
	}

	return
}

func (c *Client) httpClient(ctx context.Context) *http.Client {
	if c.hc != nil {
		return c.hc
	}
	if hc, ok := ctx.Value(xoauth2.HTTPClient).(*http.Client); ok && hc != nil {
		return hc
	}
	return http.DefaultClient
}

func (c *Client) newAuthenticatedRequest(ctx context.Context, url string, values url.Values) (*http.Request, error) {
	var req *http.Request
	var err error
	switch c.authMethod {
	case AuthMethodClientSecretPost:
		values.Set("client_id", c.creds.ID)
		if c.creds.Secret != "" {
			values.Set("client_secret", c.creds.Secret)
		}
		req, err = http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(values.Encode()))
		if err != nil {
			return nil, err
		}
	case AuthMethodClientSecretBasic:
		req, err = http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(values.Encode()))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.creds.ID, c.creds.Secret)
	default:
		panic("misconfigured client: auth method not supported")
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Exchange auth code for series of tokens. Errors reported by the token
// endpoint are returned as *Error.
func (c *Client) Exchange(ctx context.Context, code string) (result TokenResponse, err error) {
	v := url.Values{
		"grant_type":   {GrantTypeAuthCode},
		"code":         {code},
		"redirect_uri": {c.redirectURL.String()},
	}

	req, err := c.newAuthenticatedRequest(ctx, c.tokenURL.String(), v)
	if err != nil {
		return
	}

	resp, err := c.httpClient(ctx).Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	return parseTokenResponse(resp)
}

func parseTokenResponse(resp *http.Response) (result TokenResponse, err error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err = unmarshalError(resp.StatusCode, body)
		return
	}

	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))

	result = TokenResponse{
		RawBody: body,
	}

	if contentType == "application/x-www-form-urlencoded" || contentType == "text/plain" {
		var vals url.Values
		vals, err = url.ParseQuery(string(body))
		if err != nil {
			return
		}
		result.AccessToken = vals.Get("access_token")
		result.TokenType = vals.Get("token_type")
		result.IDToken = vals.Get("id_token")
		result.RefreshToken = vals.Get("refresh_token")
		result.Scope = vals.Get("scope")
		if result.Scope == "" {
			result.Scope = vals.Get("scopes")
		}
		e := vals.Get("expires_in")
		if e == "" {
			e = vals.Get("expires")
		}
		if e != "" {
			if result.Expires, err = strconv.Atoi(e); err != nil {
				return
			}
		}
		if code := vals.Get("error"); code != "" {
			err = &Error{ErrorCode: code, Description: vals.Get("error_description")}
		}
	} else {
		b := make(map[string]interface{})
		if err = json.Unmarshal(body, &b); err != nil {
			err = fmt.Errorf("decode token response: %v", err)
			return
		}
		if code, _ := b["error"].(string); code != "" {
			desc, _ := b["error_description"].(string)
			err = &Error{ErrorCode: code, Description: desc}
			return
		}
		result.AccessToken, _ = b["access_token"].(string)
		result.TokenType, _ = b["token_type"].(string)
		result.IDToken, _ = b["id_token"].(string)
		result.RefreshToken, _ = b["refresh_token"].(string)
		result.Scope, _ = b["scope"].(string)
		if result.Scope == "" {
			result.Scope, _ = b["scopes"].(string)
		}
		e, ok := seconds(b["expires_in"])
		if !ok {
			e, _ = seconds(b["expires"])
		}
		result.Expires = e
	}

	return
}

func seconds(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

type TokenResponse struct {
	AccessToken  string
	TokenType    string
	Expires      int
	IDToken      string
	RefreshToken string
	Scope        string
	RawBody      []byte // In case callers need some other non-standard info from the token response
}
