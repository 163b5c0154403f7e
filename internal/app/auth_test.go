package app

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func basic(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestMetricsAuthMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		enabled bool
		header  string
		want    int
	}{
		{"disabled passes without header", false, "", http.StatusOK},
		{"valid credentials", true, basic("prometheus", "secret123"), http.StatusOK},
		{"wrong username", true, basic("wronguser", "secret123"), http.StatusUnauthorized},
		{"wrong password", true, basic("prometheus", "wrongpass"), http.StatusUnauthorized},
		{"both wrong", true, basic("wronguser", "wrongpass"), http.StatusUnauthorized},
		{"no header", true, "", http.StatusUnauthorized},
		{"only basic", true, "Basic", http.StatusUnauthorized},
		{"invalid base64", true, "Basic notbase64!!!", http.StatusUnauthorized},
		{"bearer token", true, "Bearer sometoken", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			router := gin.New()
			router.GET("/metrics", metricsAuthMiddleware(tt.enabled, "prometheus", "secret123"), func(c *gin.Context) {
				c.String(http.StatusOK, "metrics")
			})

			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, `Basic realm="igrelay"`, w.Header().Get("WWW-Authenticate"))
			} else {
				assert.Equal(t, "metrics", w.Body.String())
			}
		})
	}
}

func TestCredentialsMatch(t *testing.T) {
	t.Parallel()
	assert.True(t, credentialsMatch("u", "p", "u", "p"))
	assert.False(t, credentialsMatch("u", "x", "u", "p"))
	assert.False(t, credentialsMatch("", "", "u", "p"))
}
