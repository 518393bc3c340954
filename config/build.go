package config

import (
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dptsi/go-oidc-rp/cache"
	"github.com/dptsi/go-oidc-rp/oidc"
	"github.com/dptsi/go-oidc-rp/store"
)

// Logger builds a console logger for "dev" and a JSON logger for "prod".
func (s *Settings) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(s.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("config: log level: %w", err)
	}

	var zc zap.Config
	if s.Log.Env == "prod" {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func (s *Settings) usesRedis() bool {
	return s.Cache.Driver == "redis" || s.Store.Driver == "redis" ||
		(s.Store.Driver == "session" && s.Store.SessionBackend == "redis")
}

// RedisClient returns the shared client, or nil when no driver needs one.
func (s *Settings) RedisClient() *redis.Client {
	if !s.usesRedis() {
		return nil
	}
	s.redisOnce.Do(func() {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		})
	})
	return s.redisClient
}

// Close releases the redis client if one was opened.
func (s *Settings) Close() error {
	if s.redisClient == nil {
		return nil
	}
	return s.redisClient.Close()
}

// NewCache builds the discovery and JWKS cache.
func (s *Settings) NewCache() cache.Cache {
	if s.Cache.Driver == "redis" {
		return cache.NewRedis(s.RedisClient(), s.Cache.Prefix)
	}
	return cache.NewMemory(s.Cache.Prefix)
}

// NewStores builds the store for nonce and state, and the store for the
// authenticated user. They share a driver but not a lifetime.
func (s *Settings) NewStores() (auth, user store.Store) {
	return s.newStore(s.Store.AuthTTL), s.newStore(s.Store.UserTTL)
}

func (s *Settings) newStore(ttl time.Duration) store.Store {
	prefix := store.WithPrefix(s.Store.Prefix)
	var cookieOpts []store.Option
	switch s.Store.Secure {
	case "always":
		cookieOpts = append(cookieOpts, store.WithSecure(true))
	case "never":
		cookieOpts = append(cookieOpts, store.WithSecure(false))
	}

	switch s.Store.Driver {
	case "memory":
		return store.NewMemory(ttl, prefix)
	case "redis":
		return store.NewRedis(s.RedisClient(), ttl, prefix)
	case "session":
		if s.Store.SessionBackend == "redis" {
			return store.NewSession(store.NewRedis(s.RedisClient(), ttl, prefix), cookieOpts...)
		}
		return store.NewSession(store.NewMemory(ttl, prefix), cookieOpts...)
	default:
		return store.NewCookie(ttl, append(cookieOpts, prefix)...)
	}
}

// LoginConfig maps the settings onto oidc.Config.
func (s *Settings) LoginConfig(logger *zap.Logger, metrics *oidc.Metrics) oidc.Config {
	auth, user := s.NewStores()
	var hc *http.Client
	if s.HTTPTimeout > 0 {
		hc = &http.Client{Timeout: s.HTTPTimeout}
	}
	return oidc.Config{
		IssuerBaseURL:         s.IssuerBaseURL,
		ClientID:              s.ClientID,
		ClientSecret:          s.ClientSecret,
		RedirectURI:           s.RedirectURI,
		IDTokenAlg:            s.IDTokenAlg,
		AuthorizationParams:   s.AuthorizationParams,
		GetClaimsFromUserinfo: s.GetClaimsFromUserinfo,
		SkipUserPersistence:   !s.PersistUser,
		IDTokenLeeway:         s.IDTokenLeeway,
		CacheTTL:              s.Cache.TTL,
		Cache:                 s.NewCache(),
		StateStore:            auth,
		NonceStore:            auth,
		UserStore:             user,
		HTTPClient:            hc,
		Logger:                logger,
		Metrics:               metrics,
	}
}
