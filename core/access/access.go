/*Package access provides authentication for the provisioning and data-plane
routes.

End users authenticate with an RS512-signed bearer token issued by the
application's identity service. External API consumers authenticate with the
per-project API key headers; that lookup needs the metadata store and is
done by the route layer, this package only defines the contract.
*/
package access

import (
	"context"
	"crypto/rsa"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/stratobase/stratobase/core/baaserr"
	"github.com/stratobase/stratobase/core/logger"
)

// Header keys for external API authentication.
const (
	APIKeyHeader    = "x-baas-api-key"
	ProjectIDHeader = "x-baas-project-id"
)

// AuthedUser is the identity extracted from a verified bearer token.
type AuthedUser struct {
	ID         int64
	Email      string
	Workspaces []int64
}

// CanAccessWorkspace returns true if the user's token lists the workspace.
func (u *AuthedUser) CanAccessWorkspace(workspaceID int64) bool {
	for _, id := range u.Workspaces {
		if id == workspaceID {
			return true
		}
	}
	return false
}

type contextKeyUserType struct{}

var contextKeyUser = &contextKeyUserType{}

// ContextWithUser returns a context carrying the authenticated user.
func ContextWithUser(ctx context.Context, user *AuthedUser) context.Context {
	return context.WithValue(ctx, contextKeyUser, user)
}

// UserFromContext returns the authenticated user, or nil if the request was
// not authenticated.
func UserFromContext(ctx context.Context) *AuthedUser {
	user, _ := ctx.Value(contextKeyUser).(*AuthedUser)
	return user
}

type appClaims struct {
	jwt.RegisteredClaims
	UserID     int64   `json:"userId"`
	Email      string  `json:"email"`
	Workspaces []int64 `json:"workspaces"`
}

// BearerMiddlewareBuilder configures NewBearerMiddleware.
type BearerMiddlewareBuilder struct {
	// PublicKey verifies the RS512 signature of app-level bearer tokens.
	PublicKey *rsa.PublicKey
}

// NewBearerMiddleware returns a middleware that verifies the
// "Authorization: Bearer" header and stores the authenticated user in the
// request context. Requests without a valid token are rejected with 401.
func NewBearerMiddleware(bmb *BearerMiddlewareBuilder) mux.MiddlewareFunc {
	if bmb.PublicKey == nil {
		panic("access: public key is missing")
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := userFromBearer(bmb.PublicKey, r.Header.Get("Authorization"))
			if err != nil {
				logger.FromContext(r.Context()).Infoln("bearer authentication failed:", err)
				baaserr.WriteError(w, baaserr.ErrUnauthorized)
				return
			}
			ctx := ContextWithUser(r.Context(), user)
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, user.Email)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func userFromBearer(key *rsa.PublicKey, authorization string) (*AuthedUser, error) {
	if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return nil, baaserr.ErrUnauthorized
	}
	tokenString := strings.TrimSpace(authorization[len("bearer "):])

	claims := appClaims{}
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodRS512.Alg() {
			return nil, baaserr.ErrUnauthorized
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	if claims.Email == "" {
		return nil, baaserr.ErrUnauthorized
	}

	return &AuthedUser{
		ID:         claims.UserID,
		Email:      claims.Email,
		Workspaces: claims.Workspaces,
	}, nil
}
