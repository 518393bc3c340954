// Package store provides the key-value stores used to persist login
// transaction secrets (nonce, state) and the authenticated user record.
//
// Supported backends:
//   - Memory (in-process, github.com/patrickmn/go-cache)
//   - Redis (shared, github.com/redis/go-redis/v9)
//   - Cookie (browser, bound to the current request)
//   - Session (server-side, keyed by a session cookie, over Memory or Redis)
package store

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultPrefix is prepended to every key written by a store.
	DefaultPrefix = "auth0_"

	// DefaultAuthSessionTTL bounds how long a nonce or state survives
	// between the authorization redirect and the callback.
	DefaultAuthSessionTTL = 5 * time.Minute
)

// ErrNoHTTPContext is returned by request-bound stores when the context
// was not prepared with WithHTTP.
var ErrNoHTTPContext = errors.New("store: no http request bound to context")

// Store is a string key-value store.
type Store interface {
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Get returns the value stored under key, or def if there is none.
	Get(ctx context.Context, key, def string) (string, error)

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// Clear removes every key owned by the store.
	Clear(ctx context.Context) error

	// Take returns the value stored under key and removes it in the same
	// operation. A second Take without an intervening Set returns "".
	Take(ctx context.Context, key string) (string, error)
}

// Namespacer is implemented by stores that can hand out a view restricted
// to a sub key space. The Session store builds on it.
type Namespacer interface {
	Namespace(ns string) Store
}

// Option configures a store.
type Option func(*options)

type options struct {
	prefix string
	secure *bool
}

// WithPrefix replaces DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithSecure fixes the Secure attribute of the cookies written by the Cookie
// and Session stores. Without it a request is secure when it arrived over
// TLS or carries "X-Forwarded-Proto: https".
func WithSecure(secure bool) Option {
	return func(o *options) { o.secure = &secure }
}

func applyOptions(opts []Option) options {
	o := options{prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
