package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword_RoundTrip(t *testing.T) {
	s := New("test-secret")
	hash := s.HashPassword("correct-horse-battery-staple")

	assert.True(t, s.VerifyPassword("correct-horse-battery-staple", hash))
	assert.False(t, s.VerifyPassword("wrong-password", hash))
}

func TestHashPassword_SaltsEachCallDifferently(t *testing.T) {
	s := New("test-secret")
	a := s.HashPassword("same-password")
	b := s.HashPassword("same-password")

	assert.NotEqual(t, a, b, "two hashes of the same password should differ by salt")
	assert.True(t, s.VerifyPassword("same-password", a))
	assert.True(t, s.VerifyPassword("same-password", b))
}

func TestVerifyPassword_RejectsMalformedEncoding(t *testing.T) {
	s := New("test-secret")
	assert.False(t, s.VerifyPassword("anything", "not-a-valid-encoded-hash"))
	assert.False(t, s.VerifyPassword("anything", "not$base64$either$$"))
}

func TestIssueAndValidateToken_RoundTrip(t *testing.T) {
	s := New("test-secret")
	token, expiresAt, err := s.IssueToken(42, "alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), expiresAt, time.Minute)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, 42, claims.OperatorID)
	assert.Equal(t, "alice", claims.Username)
}

func TestValidateToken_RejectsTokenSignedWithDifferentSecret(t *testing.T) {
	s1 := New("secret-one")
	s2 := New("secret-two")

	token, _, err := s1.IssueToken(1, "bob")
	require.NoError(t, err)

	_, err = s2.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_RejectsGarbage(t *testing.T) {
	s := New("test-secret")
	_, err := s.ValidateToken("not.a.jwt")
	assert.Error(t, err)
}

func TestMiddleware_RejectsMissingAuthorizationHeader(t *testing.T) {
	s := New("test-secret")
	called := false
	handler := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestMiddleware_RejectsMalformedBearerPrefix(t *testing.T) {
	s := New("test-secret")
	handler := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "token-without-bearer-prefix")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_RejectsInvalidToken(t *testing.T) {
	s := New("test-secret")
	handler := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_AttachesClaimsOnSuccess(t *testing.T) {
	s := New("test-secret")
	token, _, err := s.IssueToken(7, "carol")
	require.NoError(t, err)

	var gotClaims *Claims
	var gotOK bool
	handler := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, gotOK = ClaimsFromContext(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, gotOK)
	assert.Equal(t, 7, gotClaims.OperatorID)
	assert.Equal(t, "carol", gotClaims.Username)
}

func TestClaimsFromContext_AbsentWhenNotAttached(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := ClaimsFromContext(req)
	assert.False(t, ok)
}
