package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// contextClient returns hc when set, otherwise the client stored under the
// oauth2.HTTPClient context key, otherwise http.DefaultClient.
func contextClient(ctx context.Context, hc *http.Client) *http.Client {
	if hc != nil {
		return hc
	}
	if c, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && c != nil {
		return c
	}
	return http.DefaultClient
}

func doRequest(ctx context.Context, hc *http.Client, req *http.Request) (*http.Response, error) {
	return contextClient(ctx, hc).Do(req.WithContext(ctx))
}

// getBody performs a GET and returns the body of a 2xx response. Other
// statuses are reported as *HTTPError.
func getBody(ctx context.Context, hc *http.Client, url string) ([]byte, *http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := doRequest(ctx, hc, req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to read response body: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &HTTPError{URL: url, StatusCode: resp.StatusCode, Body: body}
	}
	return body, resp, nil
}

func unmarshalResp(r *http.Response, body []byte, v interface{}) error {
	err := json.Unmarshal(body, v)
	if err == nil {
		return nil
	}
	ct := r.Header.Get("Content-Type")
	mediaType, _, parseErr := mime.ParseMediaType(ct)
	if parseErr == nil && mediaType == "application/json" {
		return fmt.Errorf("got Content-Type = application/json, but could not unmarshal as JSON: %v", err)
	}
	return fmt.Errorf("expected Content-Type = application/json, got %q: %v", ct, err)
}

func contains(sli []string, ele string) bool {
	for _, s := range sli {
		if s == ele {
			return true
		}
	}
	return false
}

// hasResponseType reports whether the space separated response_type value
// includes want.
func hasResponseType(responseType, want string) bool {
	return contains(strings.Fields(responseType), want)
}
