package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
)

type fakeIdentity struct {
	tokens map[string]domain.Caller
}

func (f fakeIdentity) ResolveCaller(_ context.Context, token string) (domain.Caller, error) {
	caller, ok := f.tokens[token]
	if !ok {
		return domain.Caller{}, errors.New("unknown token")
	}
	return caller, nil
}

func newAuthRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	identity := fakeIdentity{tokens: map[string]domain.Caller{
		"good": {UserID: "user-1", DisplayName: "Ana"},
	}}

	router := gin.New()
	router.Use(EnrichContext())
	router.Use(RequireCaller(identity, zaptest.NewLogger(t)))
	router.GET("/me", func(c *gin.Context) {
		caller, ok := GetCaller(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		attempt := AttemptContext(c, nil)
		c.JSON(http.StatusOK, gin.H{
			"user_id":      caller.UserID,
			"name":         caller.DisplayName,
			"request_user": GetRequestContext(c).UserID,
			"has_ip":       attempt.IPAddress != nil,
		})
	})
	return router
}

func TestRequireCallerResolvesBearerToken(t *testing.T) {
	router := newAuthRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer good")
	req.RemoteAddr = "192.0.2.1:5555"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	for _, want := range []string{`"user_id":"user-1"`, `"name":"Ana"`, `"request_user":"user-1"`, `"has_ip":true`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in body %s", want, body)
		}
	}
	if rr.Header().Get(TraceIDHeader) == "" {
		t.Fatal("expected trace id header")
	}
}

func TestRequireCallerRejects(t *testing.T) {
	router := newAuthRouter(t)

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic good",
		"empty token":    "Bearer ",
		"unknown token":  "Bearer bad",
	}

	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
		})
	}
}
