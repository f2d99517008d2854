package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"releasedesk/internal/auth"
)

// sessionSubject is the subject of every session token; the gate has a
// single shared secret, not per-user accounts.
const sessionSubject = "dashboard"

// isPublicPath reports routes reachable without a session.
func isPublicPath(basePath, p string) bool {
	switch p {
	case path.Join(basePath, "health"),
		path.Join(basePath, "auth/login"),
		path.Join(basePath, "openapi.json"),
		path.Join(basePath, "docs"):
		return true
	}
	return false
}

// newAuthMiddleware requires a valid bearer token under basePath. The event
// stream also accepts ?access_token= because browsers cannot set headers on
// an EventSource.
func newAuthMiddleware(basePath string, sessions auth.Sessions) func(http.Handler) http.Handler {
	eventsPath := path.Join(basePath, "events")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || req.Method == http.MethodOptions || isPublicPath(basePath, req.URL.Path) {
				next.ServeHTTP(w, req)
				return
			}
			token, ok := auth.BearerToken(strings.TrimSpace(req.Header.Get("Authorization")))
			if !ok && req.URL.Path == eventsPath {
				token = req.URL.Query().Get("access_token")
				ok = token != ""
			}
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			if _, err := sessions.Verify(token); err != nil {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}

type LoginRequest struct {
	Password string `json:"password" minLength:"1"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	// Bootstrapped is true when this login set the shared password.
	Bootstrapped bool `json:"bootstrapped"`
}

func registerLogin(api huma.API, gate *auth.Gate, sessions auth.Sessions) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange the shared password for a session token",
		Tags:        []string{"auth"},
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		bootstrapped, err := gate.Check(ctx, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		token, expires, err := sessions.Issue(sessionSubject)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{Token: token, ExpiresAt: expires, Bootstrapped: bootstrapped}}, nil
	})
}
