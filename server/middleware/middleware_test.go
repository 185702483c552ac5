package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(logger.Nop()))
	r.GET("/boom", func(c *gin.Context) { panic("test panic") })

	rr := serve(r, httptest.NewRequest(http.MethodGet, "/boom", http.NoBody))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body errors.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if body.Error.Code != errors.ErrCodeInternal {
		t.Errorf("code = %s", body.Error.Code)
	}
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/", func(c *gin.Context) { seen = c.GetString(logger.FieldRequestID) })

	rr := serve(r, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if seen == "" || rr.Header().Get(HeaderRequestID) != seen {
		t.Errorf("generated id %q, header %q", seen, rr.Header().Get(HeaderRequestID))
	}

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(HeaderRequestID, "abc-123")
	rr = serve(r, req)
	if rr.Header().Get(HeaderRequestID) != "abc-123" || seen != "abc-123" {
		t.Errorf("existing id not preserved: %q", rr.Header().Get(HeaderRequestID))
	}
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS(CORSConfig{AllowedOrigins: []string{"https://ui.example"}, AllowedMethods: []string{"GET", "POST"}}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", http.NoBody)
	req.Header.Set("Origin", "https://ui.example")
	rr := serve(r, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://ui.example" {
		t.Errorf("allow origin = %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Origin", "https://evil.example")
	rr = serve(r, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin got CORS headers")
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 7},
		{"512", 512},
		{"512B", 512},
		{"2KB", 2048},
		{"1mb", 1 << 20},
		{" 3 GB ", 3 << 30},
		{"lots", 7},
		{"-1MB", 7},
	}
	for _, tc := range tests {
		if got := ParseSize(tc.in, 7); got != tc.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestBodySizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(BodySizeLimit("4B"))
	r.POST("/", func(c *gin.Context) {
		if _, err := c.GetRawData(); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})
	rr := serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long body")))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestAuth(t *testing.T) {
	const key = "0123456789abcdef"
	r := gin.New()
	r.Use(Auth(HS256Validator(key, "")))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextSubject)) })

	token, err := SignHS256(key, "", "bob", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Basic abc", http.StatusUnauthorized},
		{"Bearer not-a-jwt", http.StatusUnauthorized},
		{"Bearer " + token, http.StatusOK},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rr := serve(r, req)
		if rr.Code != tc.status {
			t.Errorf("%q: status = %d", tc.header, rr.Code)
		}
		if tc.status == http.StatusOK && rr.Body.String() != "bob" {
			t.Errorf("subject = %q", rr.Body.String())
		}
	}
}

func TestRateLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := &rateLimiter{requests: map[string][]time.Time{}, limit: 2, now: func() time.Time { return now }}
	if !rl.allow("a") || !rl.allow("a") {
		t.Fatal("first two requests must pass")
	}
	if rl.allow("a") {
		t.Error("third request in the window must be rejected")
	}
	if !rl.allow("b") {
		t.Error("keys are independent")
	}
	now = now.Add(61 * time.Second)
	if !rl.allow("a") {
		t.Error("window should have slid")
	}
}
