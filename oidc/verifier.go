package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	jose "github.com/go-jose/go-jose/v3"
)

const (
	RS256 = "RS256" // RSASSA-PKCS-v1.5 using SHA-256
	HS256 = "HS256" // HMAC using SHA-256
)

// Claims holds the decoded payload of an ID token or a userinfo response.
type Claims map[string]interface{}

// VerifierConfig configures an IDTokenVerifier.
type VerifierConfig struct {
	// Algorithm is HS256 or RS256.
	Algorithm string
	// Secret is the client secret used for HS256.
	Secret string
	// Keys are the issuer's certificates used for RS256.
	Keys KeySet

	ClientID string
	Issuer   string

	// Leeway tolerated when checking exp, nbf and iat.
	Leeway time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// IDTokenVerifier decodes ID tokens and applies the relying party claim
// checks.
type IDTokenVerifier struct {
	cfg VerifierConfig
}

// NewIDTokenVerifier validates cfg and returns a verifier.
func NewIDTokenVerifier(cfg VerifierConfig) (*IDTokenVerifier, error) {
	switch cfg.Algorithm {
	case HS256:
		if cfg.Secret == "" {
			return nil, &ConfigurationError{Msg: `Config key "signature_key" is required`}
		}
	case RS256:
		if len(cfg.Keys) == 0 {
			return nil, &ConfigurationError{Msg: `Config key "signature_key" is required`}
		}
	default:
		return nil, &ConfigurationError{Msg: `Config key "algorithm" is required to be HS256 or RS256`}
	}
	if cfg.ClientID == "" {
		return nil, &ConfigurationError{Msg: `Config key "client_id" is required`}
	}
	if cfg.Issuer == "" {
		return nil, &ConfigurationError{Msg: `Config key "issuer" is required`}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &IDTokenVerifier{cfg: cfg}, nil
}

// Decode verifies rawIDToken and checks its claims against expectedNonce
// and the configured issuer and client. The returned TokenSet holds the
// claims without the nonce.
func (v *IDTokenVerifier) Decode(rawIDToken, expectedNonce string) (*TokenSet, error) {
	claims, err := v.decode(rawIDToken)
	if err != nil {
		return nil, err
	}

	nonce, _ := claims["nonce"].(string)
	if nonce == "" || nonce != expectedNonce {
		return nil, idTokenErr("Invalid token nonce", nil)
	}
	delete(claims, "nonce")

	if isEmpty(claims["exp"]) {
		return nil, idTokenErr("Missing token exp", nil)
	}
	if isEmpty(claims["iat"]) {
		return nil, idTokenErr("Missing token iat", nil)
	}

	iss, _ := claims["iss"].(string)
	if iss == "" || iss != v.cfg.Issuer {
		return nil, idTokenErr("Invalid token iss", nil)
	}

	aud, ok := audience(claims["aud"])
	if !ok || len(aud) == 0 {
		return nil, idTokenErr("Missing token aud", nil)
	}
	if !contains(aud, v.cfg.ClientID) {
		return nil, idTokenErr("Invalid token aud", nil)
	}
	if len(aud) > 1 {
		azp, _ := claims["azp"].(string)
		if azp != v.cfg.ClientID {
			return nil, idTokenErr("Invalid token azp", nil)
		}
	}

	return newTokenSet(rawIDToken, claims), nil
}

// decode checks the JWS structure, algorithm and signature, then the time
// based claims.
func (v *IDTokenVerifier) decode(rawIDToken string) (Claims, error) {
	jws, err := jose.ParseSigned(rawIDToken)
	if err != nil {
		return nil, idTokenErr("malformed jwt", err)
	}
	switch len(jws.Signatures) {
	case 0:
		return nil, idTokenErr("id token not signed", nil)
	case 1:
	default:
		return nil, idTokenErr("multiple signatures on id token not supported", nil)
	}

	header := jws.Signatures[0].Header
	if header.Algorithm != v.cfg.Algorithm {
		return nil, idTokenErr("Algorithm not allowed", nil)
	}

	key, err := v.key(header.KeyID)
	if err != nil {
		return nil, idTokenErr(err.Error(), nil)
	}
	payload, err := jws.Verify(key)
	if err != nil {
		return nil, idTokenErr("Signature verification failed", err)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, idTokenErr("failed to unmarshal claims", err)
	}
	if claims == nil {
		return nil, idTokenErr("failed to unmarshal claims", errors.New("empty payload"))
	}

	now := v.cfg.Now()
	leeway := v.cfg.Leeway
	if nbf, ok := numericDate(claims["nbf"]); ok && nbf.After(now.Add(leeway)) {
		return nil, idTokenErr("Cannot handle token prior to "+nbf.UTC().Format(time.RFC3339), nil)
	}
	if iat, ok := numericDate(claims["iat"]); ok && iat.After(now.Add(leeway)) {
		return nil, idTokenErr("Cannot handle token prior to "+iat.UTC().Format(time.RFC3339), nil)
	}
	if exp, ok := numericDate(claims["exp"]); ok && !now.Add(-leeway).Before(exp) {
		return nil, idTokenErr("Expired token", nil)
	}
	return claims, nil
}

func (v *IDTokenVerifier) key(kid string) (interface{}, error) {
	if v.cfg.Algorithm == HS256 {
		return []byte(v.cfg.Secret), nil
	}
	return v.cfg.Keys.publicKey(kid)
}

// audience normalizes the aud claim, which may be a string or a list.
func audience(v interface{}) ([]string, bool) {
	switch aud := v.(type) {
	case string:
		if aud == "" {
			return nil, false
		}
		return []string{aud}, true
	case []interface{}:
		out := make([]string, 0, len(aud))
		for _, a := range aud {
			s, ok := a.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func numericDate(v interface{}) (time.Time, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return time.Time{}, false
		}
	default:
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), true
}

// isEmpty reports the values treated as an absent claim.
func isEmpty(v interface{}) bool {
	switch c := v.(type) {
	case nil:
		return true
	case string:
		return c == ""
	case float64:
		return c == 0
	case bool:
		return !c
	case []interface{}:
		return len(c) == 0
	case map[string]interface{}:
		return len(c) == 0
	default:
		return false
	}
}

// String returns the claim under name formatted as text, or "".
func (c Claims) String(name string) string {
	switch v := c[name].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
