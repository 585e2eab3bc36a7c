package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/doc-forge/internal/config"
)

func newTestRouter(t *testing.T, cfg *config.Config) (*gin.Engine, *Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := NewManager(cfg)
	router := gin.New()
	router.Use(m.RequireAuth())
	router.GET("/jobs", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextUserKey))
	})
	return router, m
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	return &config.Config{AppUsername: "admin", AppPasswordHash: string(hash)}
}

func doRequest(router *gin.Engine, user, pass string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	if user != "" || pass != "" {
		req.SetBasicAuth(user, pass)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuthDisabled(t *testing.T) {
	router, _ := newTestRouter(t, &config.Config{})

	rec := doRequest(router, "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRequireAuthValidCredentials(t *testing.T) {
	router, _ := newTestRouter(t, testConfig(t))

	rec := doRequest(router, "admin", "s3cret")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "admin" {
		t.Fatalf("unexpected user in context: %q", rec.Body.String())
	}
}

func TestRequireAuthMissingCredentials(t *testing.T) {
	router, _ := newTestRouter(t, testConfig(t))

	rec := doRequest(router, "", "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
}

func TestRequireAuthLockout(t *testing.T) {
	router, m := newTestRouter(t, testConfig(t))
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	for i := 0; i < maxLoginAttempts; i++ {
		rec := doRequest(router, "admin", "wrong")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i+1, rec.Code)
		}
	}

	rec := doRequest(router, "admin", "s3cret")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 while locked", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	now = now.Add(lockDuration + time.Second)
	rec = doRequest(router, "admin", "s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 after lock expires", rec.Code)
	}
}
