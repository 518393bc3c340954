// Package config loads relying party settings from an optional YAML file,
// an optional .env file and AUTH0_ prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/dptsi/go-oidc-rp/store"
)

// EnvPrefix prefixes every environment variable, e.g. AUTH0_CLIENT_ID.
const EnvPrefix = "AUTH0"

// Settings is the complete relying party configuration.
type Settings struct {
	IssuerBaseURL string `mapstructure:"issuer_base_url" validate:"required,url"`
	ClientID      string `mapstructure:"client_id" validate:"required"`
	ClientSecret  string `mapstructure:"client_secret" validate:"required_if=IDTokenAlg HS256"`
	RedirectURI   string `mapstructure:"redirect_uri" validate:"required,url"`
	IDTokenAlg    string `mapstructure:"id_token_alg" validate:"oneof=HS256 RS256"`

	// AuthorizationParams override the default authorization request
	// parameters (response_type, response_mode, scope, audience, ...).
	AuthorizationParams   map[string]string `mapstructure:"authorization_params"`
	GetClaimsFromUserinfo bool              `mapstructure:"get_claims_from_userinfo"`
	PersistUser           bool              `mapstructure:"persist_user"`

	IDTokenLeeway time.Duration `mapstructure:"id_token_leeway" validate:"gte=0"`
	HTTPTimeout   time.Duration `mapstructure:"http_timeout" validate:"gte=0"`

	Cache CacheSettings `mapstructure:"cache"`
	Store StoreSettings `mapstructure:"store"`
	Redis RedisSettings `mapstructure:"redis"`
	Log   LogSettings   `mapstructure:"log"`

	// Listen is the address of the example server.
	Listen string `mapstructure:"listen"`

	redisOnce   sync.Once
	redisClient *redis.Client
}

type CacheSettings struct {
	Driver string        `mapstructure:"driver" validate:"oneof=memory redis"`
	Prefix string        `mapstructure:"prefix"`
	TTL    time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

type StoreSettings struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory redis cookie session"`
	// SessionBackend holds session data when Driver is "session".
	SessionBackend string        `mapstructure:"session_backend" validate:"oneof=memory redis"`
	Prefix         string        `mapstructure:"prefix"`
	AuthTTL        time.Duration `mapstructure:"auth_ttl" validate:"gt=0"`
	UserTTL        time.Duration `mapstructure:"user_ttl" validate:"gte=0"`
	// Secure sets the Secure attribute of store cookies. "auto" follows the
	// request scheme, including X-Forwarded-Proto.
	Secure string `mapstructure:"secure" validate:"oneof=auto always never"`
}

type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type LogSettings struct {
	// Env is "dev" (console) or "prod" (JSON).
	Env   string `mapstructure:"env" validate:"oneof=dev prod"`
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

var defaults = map[string]interface{}{
	"issuer_base_url":          "",
	"client_id":                "",
	"client_secret":            "",
	"redirect_uri":             "",
	"id_token_alg":             "RS256",
	"get_claims_from_userinfo": false,
	"persist_user":             true,
	"id_token_leeway":          "0s",
	"http_timeout":             "10s",
	"cache.driver":             "memory",
	"cache.prefix":             "oidc",
	"cache.ttl":                "0s",
	"store.driver":             "cookie",
	"store.session_backend":    "memory",
	"store.prefix":             store.DefaultPrefix,
	"store.auth_ttl":           store.DefaultAuthSessionTTL.String(),
	"store.user_ttl":           "24h",
	"store.secure":             "auto",
	"redis.addr":               "localhost:6379",
	"redis.password":           "",
	"redis.db":                 0,
	"log.env":                  "dev",
	"log.level":                "info",
	"listen":                   ":3000",
}

type loaderConfig struct {
	configFile string
	envFile    string
}

// Option configures Load.
type Option func(*loaderConfig)

// WithConfigFile reads a YAML (or any viper supported) file before the
// environment.
func WithConfigFile(path string) Option {
	return func(lc *loaderConfig) { lc.configFile = path }
}

// WithEnvFile loads a .env file into the process environment. Variables
// already set are kept. Defaults to ./.env when present.
func WithEnvFile(path string) Option {
	return func(lc *loaderConfig) { lc.envFile = path }
}

// Load resolves settings with precedence environment > .env > config file >
// defaults, then validates them.
func Load(opts ...Option) (*Settings, error) {
	lc := loaderConfig{envFile: ".env"}
	for _, opt := range opts {
		opt(&lc)
	}

	if lc.envFile != "" {
		if _, err := os.Stat(lc.envFile); err == nil {
			if err := godotenv.Load(lc.envFile); err != nil {
				return nil, fmt.Errorf("config: load %s: %w", lc.envFile, err)
			}
		}
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if lc.configFile != "" {
		v.SetConfigFile(lc.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", lc.configFile, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			return strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		})
	})
	return validate
}

// Validate checks s against its validate tags.
func (s *Settings) Validate() error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fieldName(e)+": "+formatValidationError(e))
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}

// fieldName returns the dotted mapstructure path, e.g. "cache.driver".
func fieldName(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return "is required when " + e.Param()
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of [" + e.Param() + "]"
	case "gt":
		return "must be positive"
	case "gte":
		return "must not be negative"
	default:
		return "failed " + e.Tag()
	}
}
