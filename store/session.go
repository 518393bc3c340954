package store

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// DefaultSessionCookie names the cookie carrying the server-side session id.
const DefaultSessionCookie = DefaultPrefix + "sid"

// Session keeps values server-side. The browser only holds an opaque
// session id cookie; the values live in a namespaced backend store.
type Session struct {
	backend    Namespacer
	cookieName string
	secure     *bool
}

// NewSession creates a session store over backend, usually a *Memory or a
// *Redis. Only WithSecure applies to the session cookie; prefixes belong to
// the backend.
func NewSession(backend Namespacer, opts ...Option) *Session {
	o := applyOptions(opts)
	return &Session{backend: backend, cookieName: DefaultSessionCookie, secure: o.secure}
}

// WithCookieName overrides DefaultSessionCookie.
func (s *Session) WithCookieName(name string) *Session {
	return &Session{backend: s.backend, cookieName: name, secure: s.secure}
}

// current resolves the session bound to ctx, minting a new id (and cookie)
// on first use.
func (s *Session) current(ctx context.Context) (Store, error) {
	hc, err := httpFromContext(ctx)
	if err != nil {
		return nil, err
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if hc.sid == "" {
		if ck, err := hc.r.Cookie(s.cookieName); err == nil {
			if _, err := uuid.Parse(ck.Value); err == nil {
				hc.sid = ck.Value
			}
		}
	}
	if hc.sid == "" {
		hc.sid = uuid.NewString()
		secure, sameSite := cookiePolicy(hc.r, s.secure)
		http.SetCookie(hc.w, &http.Cookie{
			Name:     s.cookieName,
			Value:    hc.sid,
			Path:     "/",
			Secure:   secure,
			HttpOnly: true,
			SameSite: sameSite,
		})
	}
	return s.backend.Namespace(hc.sid), nil
}

func (s *Session) Set(ctx context.Context, key, value string) error {
	st, err := s.current(ctx)
	if err != nil {
		return err
	}
	return st.Set(ctx, key, value)
}

func (s *Session) Get(ctx context.Context, key, def string) (string, error) {
	st, err := s.current(ctx)
	if err != nil {
		return def, err
	}
	return st.Get(ctx, key, def)
}

func (s *Session) Delete(ctx context.Context, key string) error {
	st, err := s.current(ctx)
	if err != nil {
		return err
	}
	return st.Delete(ctx, key)
}

func (s *Session) Take(ctx context.Context, key string) (string, error) {
	st, err := s.current(ctx)
	if err != nil {
		return "", err
	}
	return st.Take(ctx, key)
}

// Clear removes the values of the current session only.
func (s *Session) Clear(ctx context.Context) error {
	st, err := s.current(ctx)
	if err != nil {
		return err
	}
	return st.Clear(ctx)
}
