package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/habitstreak/internal/db"
	"github.com/habitstreak/internal/handler"
	"github.com/habitstreak/internal/logger"
	"github.com/habitstreak/internal/service"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "habits.db"), nil)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close(gdb)
	})

	registry := service.NewHabitRegistry(db.NewHabitStore(gdb))
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	return SetupRouter(handler.NewAPI(registry, nil, 0, log)), logs
}

func TestPing(t *testing.T) {
	r, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestHabitRoutes(t *testing.T) {
	r, logs := setupTestRouter(t)

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodPost, "/api/habits", `{"name":"Gym","periodicity":1}`, http.StatusCreated},
		{http.MethodGet, "/api/habits", "", http.StatusOK},
		{http.MethodGet, "/api/habits/gym", "", http.StatusOK},
		{http.MethodPost, "/api/habits/gym/check-off", "", http.StatusOK},
		{http.MethodGet, "/api/habits/gym/longest-streak", "", http.StatusOK},
		{http.MethodGet, "/api/habits/gym/misses?days=7", "", http.StatusOK},
		{http.MethodGet, "/api/stats/longest-streak", "", http.StatusOK},
		{http.MethodGet, "/api/stats/most-missed", "", http.StatusOK},
		{http.MethodPost, "/api/reconcile", "", http.StatusOK},
		{http.MethodDelete, "/api/habits/gym", "", http.StatusOK},
		{http.MethodGet, "/api/habits/gym", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
		if tt.body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		if rr.Code != tt.status {
			t.Fatalf("%s %s: expected status %d, got %d: %s", tt.method, tt.path, tt.status, rr.Code, rr.Body.String())
		}
	}

	requests := logs.FilterMessage("http request").All()
	if len(requests) != len(tests) {
		t.Fatalf("expected %d request logs, got %d", len(tests), len(requests))
	}
	last := requests[len(requests)-1]
	if last.Level != zapcore.WarnLevel {
		t.Fatalf("expected 404 to log at warn, got %s", last.Level)
	}
	if status := last.ContextMap()["status"]; status != int64(http.StatusNotFound) {
		t.Fatalf("expected logged status 404, got %v", status)
	}
}

func TestCheckOffNamesWithSpaces(t *testing.T) {
	r, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/habits", strings.NewReader(`{"name":"Drink 2L Water","periodicity":"1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodPost, "/api/habits/drink%202l%20water/check-off", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["habit"] != "drink 2l water" {
		t.Fatalf("unexpected habit %v", body["habit"])
	}
}
