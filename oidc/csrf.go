package oidc

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	mrand "math/rand"
	"time"

	"github.com/dptsi/go-oidc-rp/store"
)

const (
	nonceKey = "auth_nonce"
	stateKey = "auth_state"

	// DefaultSecretBytes is the number of random bytes in a nonce or state
	// secret.
	DefaultSecretBytes = 32
)

// Swappable in tests.
var (
	randReader   io.Reader = rand.Reader
	fallbackRead           = func(b []byte) (int, error) {
		return mrand.New(mrand.NewSource(time.Now().UnixNano())).Read(b)
	}
)

// CreateSecret returns n random bytes hex encoded. The system CSPRNG is
// used unless it fails.
func CreateSecret(n int) (string, error) {
	if n <= 0 {
		n = DefaultSecretBytes
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(randReader, b); err != nil {
		if _, err := fallbackRead(b); err != nil {
			return "", fmt.Errorf("oidc: generate secret: %v", err)
		}
	}
	return hex.EncodeToString(b), nil
}

// CSRFToken is a single-use secret kept in a store.Store between the
// authorization redirect and the callback.
type CSRFToken struct {
	store store.Store
	key   string
}

// NewNonce returns the token holding the ID token nonce.
func NewNonce(s store.Store) *CSRFToken {
	return &CSRFToken{store: s, key: nonceKey}
}

// NewState returns the token holding the encoded state parameter.
func NewState(s store.Store) *CSRFToken {
	return &CSRFToken{store: s, key: stateKey}
}

// Set stores value, replacing any previous one.
func (t *CSRFToken) Set(ctx context.Context, value string) error {
	return t.store.Set(ctx, t.key, value)
}

// Get returns the stored value and clears it. A second call returns "".
func (t *CSRFToken) Get(ctx context.Context) (string, error) {
	return t.store.Take(ctx, t.key)
}

// Clear discards the stored value.
func (t *CSRFToken) Clear(ctx context.Context) error {
	return t.store.Delete(ctx, t.key)
}

// CreateState encodes payload together with a fresh nonce field.
func (t *CSRFToken) CreateState(payload map[string]interface{}) (string, error) {
	state := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		state[k] = v
	}
	nonce, err := CreateSecret(DefaultSecretBytes)
	if err != nil {
		return "", err
	}
	state["nonce"] = nonce

	b, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("oidc: encode state: %v", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// ValidState consumes the stored state and compares it to received. An
// empty stored value never matches.
func (t *CSRFToken) ValidState(ctx context.Context, received string) (string, error) {
	stored, err := t.Get(ctx)
	if err != nil {
		return "", authErr("Invalid state", err)
	}
	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(received)) != 1 {
		return "", authErr("Invalid state", nil)
	}
	return stored, nil
}

// DecodeState reverses CreateState.
func DecodeState(raw string) (map[string]interface{}, error) {
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("oidc: decode state: %v", err)
	}
	var state map[string]interface{}
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, fmt.Errorf("oidc: decode state: %v", err)
	}
	return state, nil
}
