package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/warp/pbb-engine/auth"
	"github.com/warp/pbb-engine/logging"
	"github.com/warp/pbb-engine/pbb"
)

type callerKey struct{}

// Authenticator turns a bearer token into the caller it belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (pbb.Caller, error)
}

// RequireCaller rejects requests without a valid bearer token and stores
// the resolved pbb.Caller in the request context.
func RequireCaller(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, r, auth.ErrUnauthenticated)
				return
			}
			caller, err := a.Authenticate(r.Context(), token)
			if err != nil {
				writeError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), callerKey{}, caller)
			ctx = logging.NewContext(ctx, logging.FromContext(ctx).With(logging.FieldUserID, caller.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// callerFrom returns the caller stored by RequireCaller.
func callerFrom(ctx context.Context) pbb.Caller {
	c, _ := ctx.Value(callerKey{}).(pbb.Caller)
	return c
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}
