package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mercator-hq/tokengate/pkg/config"
	"mercator-hq/tokengate/pkg/limits/storage"
)

// ============================================================================
// Checker
// ============================================================================

func TestChecker_ReadyWithoutChecks(t *testing.T) {
	c := New(0)
	status := c.CheckReadiness(context.Background())
	if status.Status != StatusReady {
		t.Errorf("Expected ready, got %s", status.Status)
	}
}

func TestChecker_DegradedWhenCheckFails(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("ok", func(context.Context) error { return nil })
	c.RegisterCheck("broken", func(context.Context) error { return errors.New("disk full") })

	status := c.CheckReadiness(context.Background())
	if status.Status != StatusDegraded {
		t.Errorf("Expected degraded, got %s", status.Status)
	}
	if status.Checks["ok"].Status != StatusOK {
		t.Errorf("Expected ok check to pass, got %+v", status.Checks["ok"])
	}
	if got := status.Checks["broken"]; got.Status != StatusUnhealthy || got.Message != "disk full" {
		t.Errorf("Expected broken check to be unhealthy, got %+v", got)
	}
}

func TestChecker_TimesOutSlowCheck(t *testing.T) {
	c := New(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	c.RegisterCheck("stuck", func(context.Context) error {
		<-release
		return nil
	})

	status := c.CheckReadiness(context.Background())
	if got := status.Checks["stuck"]; got.Message != ErrCheckTimeout.Error() {
		t.Errorf("Expected timeout message, got %+v", got)
	}
}

func TestChecker_RegisterUnregister(t *testing.T) {
	c := New(0)
	c.RegisterCheck("b", func(context.Context) error { return nil })
	c.RegisterCheck("a", func(context.Context) error { return nil })

	if names := c.ListChecks(); len(names) != 2 || names[0] != "a" {
		t.Errorf("Expected sorted [a b], got %v", names)
	}
	c.UnregisterCheck("a")
	if names := c.ListChecks(); len(names) != 1 || names[0] != "b" {
		t.Errorf("Expected [b], got %v", names)
	}
}

// failingBackend is a usage backend whose queries always fail.
type failingBackend struct {
	storage.Backend
}

func (failingBackend) Query(context.Context, storage.Filter) ([]*storage.UsageRecord, error) {
	return nil, errors.New("connection refused")
}

func TestStorageCheck(t *testing.T) {
	backend := storage.NewMemoryBackend()
	defer backend.Close()

	if err := StorageCheck(backend)(context.Background()); err != nil {
		t.Errorf("Expected memory backend to pass, got %v", err)
	}
	if err := StorageCheck(failingBackend{})(context.Background()); err == nil {
		t.Error("Expected failing backend to fail the check")
	}
}

// ============================================================================
// Endpoints
// ============================================================================

func TestLivenessHandler(t *testing.T) {
	c := New(0)
	rec := httptest.NewRecorder()
	c.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if status.Status != StatusOK {
		t.Errorf("Expected ok, got %s", status.Status)
	}
}

func TestReadinessHandler(t *testing.T) {
	c := New(time.Second)
	healthy := true
	c.RegisterCheck("controller", func(context.Context) error {
		if !healthy {
			return errors.New("closed")
		}
		return nil
	})

	rec := httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}

	healthy = false
	rec = httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestHandlers_RejectPost(t *testing.T) {
	c := New(0)
	rec := httptest.NewRecorder()
	c.LivenessHandler()(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestHandlers_HeadHasNoBody(t *testing.T) {
	c := New(0)
	rec := httptest.NewRecorder()
	c.LivenessHandler()(rec, httptest.NewRequest(http.MethodHead, "/health", nil))
	if rec.Body.Len() != 0 {
		t.Errorf("Expected empty body for HEAD, got %q", rec.Body.String())
	}
}

func TestRegister(t *testing.T) {
	c := New(0)
	mux := http.NewServeMux()
	c.Register(mux, config.HealthConfig{LivenessPath: "/livez", ReadinessPath: "/readyz"},
		VersionInfo{Version: "1.2.3", Commit: "abc"}, 0)

	for _, path := range []string{"/livez", "/readyz", "/version"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200 from %s, got %d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	var info VersionInfo
	_ = json.NewDecoder(rec.Body).Decode(&info)
	if info.Version != "1.2.3" || info.GoVersion == "" {
		t.Errorf("Unexpected version info: %+v", info)
	}
}

func TestRateLimitedHandler(t *testing.T) {
	calls := 0
	h := RateLimitedHandler(func(w http.ResponseWriter, r *http.Request) { calls++ }, 2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		codes = append(codes, rec.Code)
	}

	if calls != 2 {
		t.Errorf("Expected 2 calls through, got %d", calls)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("Expected third request to be limited, got %v", codes)
	}
}
