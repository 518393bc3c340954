/*
This is an example application that logs a user in with either the form_post
ID token flow or the authorization code flow, depending on the configured
response_type.

	AUTH0_ISSUER_BASE_URL=https://tenant.example.com \
	AUTH0_CLIENT_ID=client \
	AUTH0_REDIRECT_URI=http://localhost:3000/callback \
	go run ./example/login serve
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dptsi/go-oidc-rp/config"
	"github.com/dptsi/go-oidc-rp/oidc"
	"github.com/dptsi/go-oidc-rp/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile, envFile string

	root := &cobra.Command{
		Use:          "login",
		Short:        "Example OpenID Connect relying party",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML settings file")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional .env file")

	load := func() (*config.Settings, error) {
		opts := []config.Option{config.WithEnvFile(envFile)}
		if configFile != "" {
			opts = append(opts, config.WithConfigFile(configFile))
		}
		return config.Load(opts...)
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve /login, /callback, /profile and /logout",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load()
			if err != nil {
				return err
			}
			defer s.Close()
			return run(cmd.Context(), s)
		},
	}

	authURL := &cobra.Command{
		Use:   "auth-url",
		Short: "Print an authorization URL for the configured client",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load()
			if err != nil {
				return err
			}
			defer s.Close()
			// The nonce and state are discarded, so only in-process stores work.
			s.Store.Driver = "memory"
			login, err := oidc.New(s.LoginConfig(zap.NewNop(), nil))
			if err != nil {
				return err
			}
			u, err := login.AuthorizationURL(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}

	root.AddCommand(serve, authURL)
	return root
}

func run(ctx context.Context, s *config.Settings) error {
	logger, err := s.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	metrics, err := oidc.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	login, err := oidc.New(s.LoginConfig(logger, metrics))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.Listen,
		Handler:           newRouter(login, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", zap.String("addr", s.Listen), zap.String("issuer", s.IssuerBaseURL))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type app struct {
	login  *oidc.Login
	logger *zap.Logger
}

func newRouter(login *oidc.Login, logger *zap.Logger) http.Handler {
	a := &app{login: login, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(bindStores)

	r.Get("/login", a.handleLogin)
	r.Get("/callback", a.handleCallback)
	r.Post("/callback", a.handleCallback)
	r.Get("/profile", a.handleProfile)
	r.Get("/logout", a.handleLogout)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// bindStores makes the request available to cookie and session stores.
func bindStores(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(store.WithHTTP(r.Context(), w, r)))
	})
}

func (a *app) handleLogin(w http.ResponseWriter, r *http.Request) {
	returnTo := r.URL.Query().Get("return_to")
	if returnTo == "" {
		returnTo = "/profile"
	}
	u, err := a.login.AuthorizationURL(r.Context(), nil, map[string]interface{}{"return_to": returnTo})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

func (a *app) handleCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if e := r.Form.Get("error"); e != "" {
		http.Error(w, e+": "+r.Form.Get("error_description"), http.StatusUnauthorized)
		return
	}

	var (
		tokens *oidc.TokenSet
		err    error
	)
	if r.Form.Get("code") != "" {
		tokens, err = a.login.HandleCodeCallback(r.Context(), r.Form)
	} else {
		tokens, err = a.login.HandleIDTokenCallback(r.Context(), r.Form)
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if tokens == nil {
		http.Error(w, "missing id_token or code", http.StatusBadRequest)
		return
	}

	returnTo := "/profile"
	if st, err := tokens.State(); err == nil {
		if v, ok := st["return_to"].(string); ok && v != "" && v[0] == '/' {
			returnTo = v
		}
	}
	http.Redirect(w, r, returnTo, http.StatusFound)
}

func (a *app) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := a.login.User(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if user == nil {
		http.Redirect(w, r, "/login?return_to=/profile", http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

func (a *app) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.login.Logout(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	http.Redirect(w, r, a.login.LogoutURL(r.URL.Query().Has("federated")), http.StatusFound)
}

func (a *app) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var (
		authErr  *oidc.AuthError
		tokenErr *oidc.IDTokenError
	)
	if errors.As(err, &authErr) || errors.As(err, &tokenErr) {
		status = http.StatusUnauthorized
	}
	a.logger.Warn("request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err))
	http.Error(w, err.Error(), status)
}
