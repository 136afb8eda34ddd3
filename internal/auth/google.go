// Package auth implements the Google sign-in flow. A successful callback
// issues the bearer token used by the REST API and the websocket handshake.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	sharedauth "docchat-backend/internal/shared/auth"
	"docchat-backend/internal/shared/server/respond"
	"docchat-backend/internal/shared/telemetry"
)

const (
	defaultStateTTL = 5 * time.Minute
	googleUserInfo  = "https://www.googleapis.com/oauth2/v2/userinfo"
	subjectPrefix   = "google:"
)

// TokenSigner issues bearer tokens.
type TokenSigner interface {
	Sign(claims sharedauth.Claims) (string, error)
}

// GoogleLogin handles the OAuth redirect and callback.
type GoogleLogin struct {
	OAuth       *oauth2.Config
	Signer      TokenSigner
	UIRedirect  string
	UserInfoURL string
	StateTTL    time.Duration

	states *stateStore
}

// NewGoogleLogin builds the login flow for the given OAuth client.
func NewGoogleLogin(clientID, clientSecret, redirectURL, uiRedirect string, signer TokenSigner) *GoogleLogin {
	return &GoogleLogin{
		OAuth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		Signer:      signer,
		UIRedirect:  uiRedirect,
		UserInfoURL: googleUserInfo,
		StateTTL:    defaultStateTTL,
		states:      newStateStore(),
	}
}

// RegisterRoutes attaches Google auth routes.
func (g *GoogleLogin) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/auth/google/start", g.start)
	rg.GET("/auth/google/callback", g.callback)
}

func (g *GoogleLogin) configured() bool {
	return g.OAuth.ClientID != "" && g.OAuth.ClientSecret != "" && g.OAuth.RedirectURL != ""
}

func (g *GoogleLogin) start(c *gin.Context) {
	if !g.configured() {
		respond.Error(c, http.StatusInternalServerError, "auth_not_configured", "Google auth not configured", nil)
		return
	}

	state := uuid.NewString()
	g.states.put(state, time.Now().Add(g.stateTTL()))
	c.Redirect(http.StatusFound, g.OAuth.AuthCodeURL(state))
}

func (g *GoogleLogin) callback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "missing state or code", nil)
		return
	}
	if !g.states.consume(state, time.Now()) {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "invalid or expired state", nil)
		return
	}

	ctx := c.Request.Context()
	token, err := g.OAuth.Exchange(ctx, code)
	if err != nil {
		telemetry.Warn("auth.google.exchange_failed", map[string]any{"error": err.Error()})
		respond.Error(c, http.StatusBadRequest, "invalid_request", "failed to exchange code", nil)
		return
	}

	profile, err := g.fetchProfile(ctx, token)
	if err != nil || profile.Sub == "" {
		fields := map[string]any{}
		if err != nil {
			fields["error"] = err.Error()
		}
		telemetry.Warn("auth.google.profile_failed", fields)
		respond.Error(c, http.StatusBadGateway, "auth_failed", "failed to fetch user profile", nil)
		return
	}

	bearer, err := g.Signer.Sign(sharedauth.Claims{
		Sub:     subjectPrefix + profile.Sub,
		Email:   profile.Email,
		Name:    profile.Name,
		Picture: profile.Picture,
	})
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to issue token", nil)
		return
	}

	target, err := withToken(g.UIRedirect, bearer)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to redirect", nil)
		return
	}
	telemetry.Info("auth.google.signed_in", map[string]any{"user_id": subjectPrefix + profile.Sub})
	c.Redirect(http.StatusFound, target)
}

type profile struct {
	Sub     string `json:"sub"`
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (g *GoogleLogin) fetchProfile(ctx context.Context, token *oauth2.Token) (profile, error) {
	resp, err := g.OAuth.Client(ctx, token).Get(g.UserInfoURL)
	if err != nil {
		return profile{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return profile{}, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}

	var p profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return profile{}, err
	}
	// The v2 endpoint reports the subject as "id".
	if p.Sub == "" {
		p.Sub = p.ID
	}
	return p, nil
}

func (g *GoogleLogin) stateTTL() time.Duration {
	if g.StateTTL > 0 {
		return g.StateTTL
	}
	return defaultStateTTL
}

// stateStore holds pending OAuth states until their callback or expiry.
type stateStore struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func newStateStore() *stateStore {
	return &stateStore{items: make(map[string]time.Time)}
}

func (s *stateStore) put(state string, exp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, v := range s.items {
		if now.After(v) {
			delete(s.items, k)
		}
	}
	s.items[state] = exp
}

// consume reports whether state was issued and is unexpired; it is single use.
func (s *stateStore) consume(state string, now time.Time) bool {
	s.mu.Lock()
	exp, ok := s.items[state]
	delete(s.items, state)
	s.mu.Unlock()
	return ok && !now.After(exp)
}

func withToken(rawURL, token string) (string, error) {
	if rawURL == "" {
		return "", errors.New("redirect url required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
