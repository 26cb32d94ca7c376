// Package auth is the pluggable identity boundary in front of every
// non-webhook HTTP route (§9's external identity provider collaborator).
// The core only depends on the Verifier interface; StaticVerifier is a
// map-backed development implementation, grounded on the bearer-token
// checks other pack services do by hand (no third-party auth/JWT library
// was wired across the pack for a case this simple — a single opaque
// token lookup — so this stays on the standard library).
package auth

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/relaywave/wa-core/internal/errors"
)

// Verifier resolves a bearer token into the subject and workspace(s) it is
// authorized for. Kept deliberately narrow so a production deployment can
// swap in its own identity provider (OAuth introspection, an internal auth
// service, etc.) without touching the rest of the core.
type Verifier interface {
	Verify(ctx context.Context, token string) (subjectID string, workspaceIDs []string, err error)
}

// StaticVerifier is a fixed token -> (subject, workspaces) map, intended
// for local development and integration tests.
type StaticVerifier struct {
	tokens map[string]principal
}

type principal struct {
	subjectID    string
	workspaceIDs []string
}

// NewStaticVerifier builds a Verifier with a single token entitled to
// workspaceIDs, which is sufficient for local bring-up and most tests; call
// Grant for additional entries.
func NewStaticVerifier(token, subjectID string, workspaceIDs []string) *StaticVerifier {
	v := &StaticVerifier{tokens: map[string]principal{}}
	v.Grant(token, subjectID, workspaceIDs)
	return v
}

// Grant adds or replaces a token's principal.
func (v *StaticVerifier) Grant(token, subjectID string, workspaceIDs []string) {
	v.tokens[token] = principal{subjectID: subjectID, workspaceIDs: workspaceIDs}
}

func (v *StaticVerifier) Verify(ctx context.Context, token string) (string, []string, error) {
	p, ok := v.tokens[token]
	if !ok {
		return "", nil, apperrors.New(apperrors.KindAuthExpired, "unknown or expired token")
	}
	return p.subjectID, p.workspaceIDs, nil
}

type contextKey string

const (
	subjectKey      contextKey = "auth.subject"
	workspaceKey    contextKey = "auth.workspaces"
)

// Middleware rejects any request without a valid "Authorization: Bearer
// <token>" header, stashing the resolved subject/workspaces on the request
// context for downstream handlers.
func Middleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if token == "" || token == header {
				http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}

			subjectID, workspaceIDs, err := v.Verify(r.Context(), token)
			if err != nil {
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, subjectID)
			ctx = context.WithValue(ctx, workspaceKey, workspaceIDs)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectID returns the authenticated subject stashed by Middleware.
func SubjectID(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey).(string)
	return s
}

// WorkspaceIDs returns the authenticated principal's authorized workspaces.
func WorkspaceIDs(ctx context.Context) []string {
	ids, _ := ctx.Value(workspaceKey).([]string)
	return ids
}

// HasWorkspace reports whether workspaceID is among WorkspaceIDs(ctx).
func HasWorkspace(ctx context.Context, workspaceID string) bool {
	for _, id := range WorkspaceIDs(ctx) {
		if id == workspaceID {
			return true
		}
	}
	return false
}
