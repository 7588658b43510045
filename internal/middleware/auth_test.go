package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"ocr-task-server/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(jwtService *services.JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWTAuth(jwtService))
	router.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, GetSubject(c))
	})
	return router
}

func get(router *gin.Engine, target, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	jwtService := services.NewJWTService("secret")
	token, err := jwtService.GenerateToken("ocr-ui")
	require.NoError(t, err)
	router := newRouter(jwtService)

	tests := []struct {
		name          string
		target        string
		authorization string
		code          int
	}{
		{"missing token", "/whoami", "", http.StatusUnauthorized},
		{"bearer header", "/whoami", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "/whoami", "bearer " + token, http.StatusOK},
		{"query token", "/whoami?token=" + token, "", http.StatusOK},
		{"wrong scheme", "/whoami", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "/whoami", "Bearer abc.def.ghi", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(router, tt.target, tt.authorization)
			assert.Equal(t, tt.code, w.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, "ocr-ui", w.Body.String())
			}
		})
	}
}

func TestJWTAuth_DisabledWithoutService(t *testing.T) {
	w := get(newRouter(nil), "/whoami", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}
