package access_test

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratobase/stratobase/core/access"
)

func signToken(t *testing.T, key *rsa.PrivateKey, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func newAuthedRouter(t *testing.T, key *rsa.PrivateKey) (*mux.Router, *access.AuthedUser) {
	t.Helper()
	router := mux.NewRouter()
	router.Use(access.NewBearerMiddleware(&access.BearerMiddlewareBuilder{
		PublicKey: &key.PublicKey,
	}))
	seen := &access.AuthedUser{}
	router.HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		if user := access.UserFromContext(r.Context()); user != nil {
			*seen = *user
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return router, seen
}

func TestBearerMiddlewareAcceptsValidToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	router, seen := newAuthedRouter(t, key)

	token := signToken(t, key, jwt.SigningMethodRS512, jwt.MapClaims{
		"userId":     int64(42),
		"email":      "jo@example.com",
		"workspaces": []int64{7, 9},
		"iat":        time.Now().Unix(),
	})

	request := httptest.NewRequest(http.MethodGet, "/probe", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.Equal(t, int64(42), seen.ID)
	assert.Equal(t, "jo@example.com", seen.Email)
	assert.True(t, seen.CanAccessWorkspace(7))
	assert.False(t, seen.CanAccessWorkspace(8))
}

func TestBearerMiddlewareRejectsMissingToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	router, _ := newAuthedRouter(t, key)

	request := httptest.NewRequest(http.MethodGet, "/probe", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestBearerMiddlewareRejectsWrongKeyAndAlg(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	router, _ := newAuthedRouter(t, key)

	claims := jwt.MapClaims{"email": "jo@example.com"}

	// wrong key
	request := httptest.NewRequest(http.MethodGet, "/probe", nil)
	request.Header.Set("Authorization", "Bearer "+signToken(t, otherKey, jwt.SigningMethodRS512, claims))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	// wrong algorithm
	request = httptest.NewRequest(http.MethodGet, "/probe", nil)
	request.Header.Set("Authorization", "Bearer "+signToken(t, key, jwt.SigningMethodRS256, claims))
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}
