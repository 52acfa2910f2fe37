package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"coderun/internal/common/http/middleware"
	"coderun/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

func newRouter() (*gin.Engine, *[2]string) {
	gin.SetMode(gin.TestMode)
	seen := &[2]string{}
	r := gin.New()
	r.Use(middleware.TraceContextMiddleware(), middleware.AccessLogMiddleware("/healthz"))
	r.GET("/ping", func(c *gin.Context) {
		trace, _ := c.Request.Context().Value(contextkey.TraceID).(string)
		request, _ := c.Request.Context().Value(contextkey.RequestID).(string)
		if c.GetString("trace_id") != trace {
			c.Status(http.StatusInternalServerError)
			return
		}
		seen[0], seen[1] = trace, request
		c.Status(http.StatusNoContent)
	})
	return r, seen
}

func TestTraceContextGeneratesIDs(t *testing.T) {
	r, seen := newRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if seen[0] == "" || seen[1] == "" || seen[0] == seen[1] {
		t.Fatalf("expected two distinct generated ids, got %v", *seen)
	}
	if w.Header().Get("X-Trace-Id") != seen[0] || w.Header().Get("X-Request-Id") != seen[1] {
		t.Fatalf("response headers do not echo the context ids")
	}
}

func TestTraceContextKeepsIncomingIDs(t *testing.T) {
	r, seen := newRouter()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Trace-Id", " trace-abc ")
	req.Header.Set("X-Request-Id", "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if seen[0] != "trace-abc" || seen[1] != "req-1" {
		t.Fatalf("incoming ids not propagated: %v", *seen)
	}
}
