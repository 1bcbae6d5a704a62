package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	commonmw "rejudge/internal/common/http/middleware"
	"rejudge/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

type traceResponse struct {
	TraceID      string `json:"trace_id"`
	RequestID    string `json:"request_id"`
	UserID       string `json:"user_id"`
	CtxTraceID   string `json:"ctx_trace_id"`
	CtxRequestID string `json:"ctx_request_id"`
	CtxUserID    string `json:"ctx_user_id"`
	CtxUserRole  string `json:"ctx_user_role"`
}

func newTraceRouter(cfg commonmw.TraceContextConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(commonmw.TraceContextMiddlewareWithConfig(cfg))
	router.GET("/trace", func(c *gin.Context) {
		traceID, _ := c.Get("trace_id")
		requestID, _ := c.Get("request_id")
		userID, _ := c.Get("user_id")
		ctx := c.Request.Context()
		c.JSON(http.StatusOK, traceResponse{
			TraceID:      toString(traceID),
			RequestID:    toString(requestID),
			UserID:       toString(userID),
			CtxTraceID:   toString(ctx.Value(contextkey.TraceID)),
			CtxRequestID: toString(ctx.Value(contextkey.RequestID)),
			CtxUserID:    toString(ctx.Value(contextkey.UserID)),
			CtxUserRole:  toString(ctx.Value(contextkey.UserRole)),
		})
	})
	return router
}

func TestTraceContextMiddleware(t *testing.T) {
	router := newTraceRouter(commonmw.TraceContextConfig{AllowUserHeaders: true, WriteUserHeaders: true})

	cases := []struct {
		name              string
		headers           map[string]string
		expectedTraceID   string
		expectedRequestID string
		expectedUserID    string
		expectedRole      string
	}{
		{
			name: "generate trace and request id",
		},
		{
			name: "preserve trace request and user identity",
			headers: map[string]string{
				"X-Trace-Id":   "trace-123",
				"X-Request-Id": "req-123",
				"X-User-Id":    "42",
				"X-User-Role":  "admin",
			},
			expectedTraceID:   "trace-123",
			expectedRequestID: "req-123",
			expectedUserID:    "42",
			expectedRole:      "admin",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/trace", nil)
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			router.ServeHTTP(rec, req)

			var resp traceResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response failed: %v", err)
			}
			if resp.TraceID == "" || resp.CtxTraceID == "" {
				t.Fatalf("expected trace id in gin and request context")
			}
			if resp.RequestID == "" || resp.CtxRequestID == "" {
				t.Fatalf("expected request id in gin and request context")
			}
			if rec.Header().Get("X-Trace-Id") != resp.TraceID {
				t.Fatalf("expected trace id header %s, got %s", resp.TraceID, rec.Header().Get("X-Trace-Id"))
			}
			if tc.expectedTraceID != "" && resp.CtxTraceID != tc.expectedTraceID {
				t.Fatalf("expected trace id %s, got %s", tc.expectedTraceID, resp.CtxTraceID)
			}
			if tc.expectedRequestID != "" && resp.CtxRequestID != tc.expectedRequestID {
				t.Fatalf("expected request id %s, got %s", tc.expectedRequestID, resp.CtxRequestID)
			}
			if resp.UserID != tc.expectedUserID || resp.CtxUserID != tc.expectedUserID {
				t.Fatalf("expected user id %q, got %q/%q", tc.expectedUserID, resp.UserID, resp.CtxUserID)
			}
			if resp.CtxUserRole != tc.expectedRole {
				t.Fatalf("expected user role %q, got %q", tc.expectedRole, resp.CtxUserRole)
			}
			if rec.Header().Get("X-User-Id") != tc.expectedUserID {
				t.Fatalf("expected user id header %q", tc.expectedUserID)
			}
		})
	}
}

func TestTraceContextMiddlewareIgnoresUserHeaders(t *testing.T) {
	router := newTraceRouter(commonmw.TraceContextConfig{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trace", nil)
	req.Header.Set("X-User-Id", "7")
	req.Header.Set("X-User-Role", "admin")
	router.ServeHTTP(rec, req)

	var resp traceResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if resp.CtxUserID != "" || resp.CtxUserRole != "" {
		t.Fatalf("expected user headers to be ignored, got %q/%q", resp.CtxUserID, resp.CtxUserRole)
	}
}

func toString(value interface{}) string {
	if v, ok := value.(string); ok {
		return v
	}
	return ""
}
