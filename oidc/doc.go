/*
Package oidc implements the relying party side of an OpenID Connect login.

	login, err := oidc.New(oidc.Config{
		IssuerBaseURL: "https://tenant.example.com",
		ClientID:      clientID,
		RedirectURI:   "https://app.example.com/callback",
	})
	if err != nil {
		return err
	}

Start a login by redirecting the user agent. The nonce and state are kept in
the configured stores until the callback.

	func handleLogin(w http.ResponseWriter, r *http.Request) {
		u, err := login.AuthorizationURL(r.Context(), nil, map[string]interface{}{"return_to": "/profile"})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, u, http.StatusFound)
	}

The default response_mode is form_post, so the callback reads the POSTed
form.

	func handleCallback(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		tokens, err := login.HandleIDTokenCallback(r.Context(), r.Form)
		if err != nil {
			http.Error(w, "Login failed: "+err.Error(), http.StatusUnauthorized)
			return
		}
		// tokens.Claims() ...
	}

Requesting an audience or claims from the userinfo endpoint requires a
response_type including "code" and HandleCodeCallback.

This package uses contexts to derive HTTP clients in the same way as the oauth2 package. To configure
a custom client, use the oauth2 packages HTTPClient context key when constructing the context.

	myClient := &http.Client{}

	myCtx := context.WithValue(parentCtx, oauth2.HTTPClient, myClient)

	// The discovery request will use myClient.
	doc, err := login.Issuer().Discovery(myCtx)
*/
package oidc
