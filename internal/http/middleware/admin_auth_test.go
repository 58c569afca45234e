package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedAdminToken(t *testing.T, secret string, method jwt.SigningMethod, claims AdminClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func adminClaims(scope string, ttl time.Duration) AdminClaims {
	return AdminClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "advisor-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
}

func TestAdminJWT(t *testing.T) {
	valid := adminClaims("leads:read "+AdminScope, 5*time.Minute)
	noExpiry := valid
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name     string
		secret   string
		header   string
		wantCode int
	}{
		{name: "auth disabled", secret: "", header: "Bearer x", wantCode: http.StatusUnauthorized},
		{name: "missing header", secret: "secret", wantCode: http.StatusUnauthorized},
		{name: "not bearer", secret: "secret", header: "Basic abc", wantCode: http.StatusUnauthorized},
		{name: "wrong secret", secret: "secret", header: "Bearer " + signedAdminToken(t, "wrong", jwt.SigningMethodHS256, valid), wantCode: http.StatusUnauthorized},
		{name: "wrong algorithm", secret: "secret", header: "Bearer " + signedAdminToken(t, "secret", jwt.SigningMethodHS512, valid), wantCode: http.StatusUnauthorized},
		{name: "expired", secret: "secret", header: "Bearer " + signedAdminToken(t, "secret", jwt.SigningMethodHS256, adminClaims(AdminScope, -time.Minute)), wantCode: http.StatusUnauthorized},
		{name: "no expiry", secret: "secret", header: "Bearer " + signedAdminToken(t, "secret", jwt.SigningMethodHS256, noExpiry), wantCode: http.StatusUnauthorized},
		{name: "missing scope", secret: "secret", header: "Bearer " + signedAdminToken(t, "secret", jwt.SigningMethodHS256, adminClaims("leads:read", time.Minute)), wantCode: http.StatusForbidden},
		{name: "valid", secret: "secret", header: "Bearer " + signedAdminToken(t, "secret", jwt.SigningMethodHS256, valid), wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/leads", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			var subject string
			AdminJWT(tt.secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				claims, ok := AdminClaimsFromContext(r.Context())
				require.True(t, ok)
				subject = claims.Subject
				w.WriteHeader(http.StatusOK)
			})).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, "advisor-1", subject)
			}
		})
	}
}
