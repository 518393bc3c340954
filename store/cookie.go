package store

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"sync"
	"time"
)

type httpContextKey struct{}

// httpContext binds a request/response pair to a context. Writes done
// during the request are remembered so that a value read with Take stays
// gone for the rest of the request even though the inbound cookie header
// does not change.
type httpContext struct {
	w http.ResponseWriter
	r *http.Request

	mu      sync.Mutex
	overlay map[string]*string // nil value means deleted
	sid     string
}

// WithHTTP returns a copy of ctx that carries w and r for the Cookie and
// Session stores.
func WithHTTP(ctx context.Context, w http.ResponseWriter, r *http.Request) context.Context {
	return context.WithValue(ctx, httpContextKey{}, &httpContext{
		w:       w,
		r:       r,
		overlay: make(map[string]*string),
	})
}

func httpFromContext(ctx context.Context) (*httpContext, error) {
	hc, ok := ctx.Value(httpContextKey{}).(*httpContext)
	if !ok || hc == nil {
		return nil, ErrNoHTTPContext
	}
	return hc, nil
}

// Cookie stores values in HTTP-only browser cookies. It is the natural
// backend for the nonce and state of a login round trip.
type Cookie struct {
	prefix string
	ttl    time.Duration
	secure *bool
}

// NewCookie creates a cookie store whose cookies live for ttl. A
// non-positive ttl uses DefaultAuthSessionTTL.
func NewCookie(ttl time.Duration, opts ...Option) *Cookie {
	o := applyOptions(opts)
	if ttl <= 0 {
		ttl = DefaultAuthSessionTTL
	}
	return &Cookie{prefix: o.prefix, ttl: ttl, secure: o.secure}
}

func (c *Cookie) name(k string) string { return c.prefix + k }

func (c *Cookie) Set(ctx context.Context, key, value string) error {
	hc, err := httpFromContext(ctx)
	if err != nil {
		return err
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	c.write(hc, c.name(key), value)
	return nil
}

func (c *Cookie) Get(ctx context.Context, key, def string) (string, error) {
	hc, err := httpFromContext(ctx)
	if err != nil {
		return def, err
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return c.read(hc, c.name(key), def), nil
}

func (c *Cookie) Delete(ctx context.Context, key string) error {
	hc, err := httpFromContext(ctx)
	if err != nil {
		return err
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	c.expire(hc, c.name(key))
	return nil
}

func (c *Cookie) Take(ctx context.Context, key string) (string, error) {
	hc, err := httpFromContext(ctx)
	if err != nil {
		return "", err
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()

	name := c.name(key)
	v := c.read(hc, name, "")
	c.expire(hc, name)
	return v, nil
}

// Clear expires every cookie carrying the store prefix.
func (c *Cookie) Clear(ctx context.Context) error {
	hc, err := httpFromContext(ctx)
	if err != nil {
		return err
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()

	for _, ck := range hc.r.Cookies() {
		if strings.HasPrefix(ck.Name, c.prefix) {
			c.expire(hc, ck.Name)
		}
	}
	for name, v := range hc.overlay {
		if v != nil && strings.HasPrefix(name, c.prefix) {
			c.expire(hc, name)
		}
	}
	return nil
}

func (c *Cookie) read(hc *httpContext, name, def string) string {
	if v, ok := hc.overlay[name]; ok {
		if v == nil {
			return def
		}
		return *v
	}
	ck, err := hc.r.Cookie(name)
	if err != nil {
		return def
	}
	raw, err := base64.RawURLEncoding.DecodeString(ck.Value)
	if err != nil {
		return def
	}
	return string(raw)
}

func (c *Cookie) write(hc *httpContext, name, value string) {
	hc.overlay[name] = &value
	http.SetCookie(hc.w, c.cookie(hc.r, name, base64.RawURLEncoding.EncodeToString([]byte(value)), int(c.ttl.Seconds())))
}

func (c *Cookie) expire(hc *httpContext, name string) {
	hc.overlay[name] = nil
	http.SetCookie(hc.w, c.cookie(hc.r, name, "", -1))
}

func (c *Cookie) cookie(r *http.Request, name, value string, maxAge int) *http.Cookie {
	secure, sameSite := cookiePolicy(r, c.secure)
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   secure,
		HttpOnly: true,
		SameSite: sameSite,
	}
}

// cookiePolicy picks the Secure and SameSite attributes. form_post callbacks
// arrive as cross-site POSTs, which only carry SameSite=None cookies, and
// browsers accept None on secure cookies only.
func cookiePolicy(r *http.Request, forced *bool) (bool, http.SameSite) {
	secure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	if forced != nil {
		secure = *forced
	}
	if secure {
		return true, http.SameSiteNoneMode
	}
	return false, http.SameSiteLaxMode
}
