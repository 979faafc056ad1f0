package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitstreak/internal/db"
	"github.com/habitstreak/internal/handler"
	"github.com/habitstreak/internal/period"
	"github.com/habitstreak/internal/router"
	"github.com/habitstreak/internal/scheduler"
	"github.com/habitstreak/internal/service"
)

type e2eSuite struct {
	client  *localClient
	baseURL string
	clock   *suiteClock
	sched   *scheduler.Scheduler
}

type suiteClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *suiteClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *suiteClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type localClient struct {
	handler http.Handler
}

func (c *localClient) Do(req *http.Request) (*http.Response, error) {
	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)
	return w.Result(), nil
}

func TestE2E_HabitLifecycle(t *testing.T) {
	suite := newE2ESuite(t)

	t.Run("create habits", suite.testCreateHabits)
	t.Run("check off", suite.testCheckOff)
	t.Run("reconcile across boundaries", suite.testReconcile)
	t.Run("analytics", suite.testAnalytics)
	t.Run("delete", suite.testDelete)
}

func newE2ESuite(t *testing.T) *e2eSuite {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "e2e.db"), nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close(gdb)
	})

	clock := &suiteClock{now: time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)}
	registry := service.NewHabitRegistry(db.NewHabitStore(gdb), service.WithClock(clock.Now))
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}

	sched, err := scheduler.New(registry, []string{"@every 1h"}, time.UTC, nil)
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	t.Cleanup(func() {
		_ = sched.Stop(context.Background())
	})

	api := handler.NewAPI(registry, sched, 30*period.Day, nil)
	return &e2eSuite{
		client:  &localClient{handler: router.SetupRouter(api)},
		baseURL: "http://habits.local",
		clock:   clock,
		sched:   sched,
	}
}

func (s *e2eSuite) do(t *testing.T, method, path string, payload any) (int, map[string]any) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.baseURL+path, body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("%s %s: failed to decode response: %v", method, path, err)
	}
	return resp.StatusCode, decoded
}

func (s *e2eSuite) expectStatus(t *testing.T, method, path string, payload any, want int) map[string]any {
	t.Helper()
	status, body := s.do(t, method, path, payload)
	if status != want {
		t.Fatalf("%s %s: expected status %d, got %d (%v)", method, path, want, status, body)
	}
	return body
}

func habitPath(name string, suffix string) string {
	return "/api/habits/" + url.PathEscape(name) + suffix
}

func (s *e2eSuite) testCreateHabits(t *testing.T) {
	for _, h := range []struct {
		name        string
		periodicity any
	}{
		{"Gym", 1},
		{"Cardio", "3"},
		{"Visit Grandma", 7},
		{"Drink 2L Water", 1},
		{"Clean Windows", 28},
	} {
		s.expectStatus(t, http.MethodPost, "/api/habits", map[string]any{"name": h.name, "periodicity": h.periodicity}, http.StatusCreated)
	}

	s.expectStatus(t, http.MethodPost, "/api/habits", map[string]any{"name": "gym", "periodicity": 2}, http.StatusConflict)
	s.expectStatus(t, http.MethodPost, "/api/habits", map[string]any{"name": "yoga", "periodicity": 0}, http.StatusBadRequest)

	body := s.expectStatus(t, http.MethodGet, "/api/habits", nil, http.StatusOK)
	if got := len(body["habits"].([]any)); got != 5 {
		t.Fatalf("expected 5 habits, got %d", got)
	}

	body = s.expectStatus(t, http.MethodGet, "/api/habits?periodicity=1", nil, http.StatusOK)
	if got := len(body["habits"].([]any)); got != 2 {
		t.Fatalf("expected 2 daily habits, got %d", got)
	}
}

func (s *e2eSuite) testCheckOff(t *testing.T) {
	body := s.expectStatus(t, http.MethodPost, habitPath("gym", "/check-off"), nil, http.StatusOK)
	if body["outcome"] != "recorded" {
		t.Fatalf("expected recorded, got %v", body["outcome"])
	}

	body = s.expectStatus(t, http.MethodPost, habitPath("GYM", "/check-off"), nil, http.StatusOK)
	if body["outcome"] != "already_done" {
		t.Fatalf("expected already_done, got %v", body["outcome"])
	}

	s.expectStatus(t, http.MethodPost, habitPath("drink 2l water", "/check-off"), nil, http.StatusOK)
	s.expectStatus(t, http.MethodPost, habitPath("ghost", "/check-off"), nil, http.StatusNotFound)
}

func (s *e2eSuite) testReconcile(t *testing.T) {
	// 跨过一个日周期：gym 与 water 已打卡，不应计为未完成
	s.clock.Advance(period.Day + time.Minute)
	body := s.expectStatus(t, http.MethodPost, "/api/reconcile", nil, http.StatusOK)
	if body["misses"] != float64(0) {
		t.Fatalf("expected no misses after a completed day, got %v", body["misses"])
	}
	if body["updated"] != float64(2) {
		t.Fatalf("expected 2 daily habits updated, got %v", body["updated"])
	}

	gym := s.expectStatus(t, http.MethodGet, habitPath("gym", ""), nil, http.StatusOK)["habit"].(map[string]any)
	if gym["done"] != false || gym["streak"] != float64(1) {
		t.Fatalf("unexpected gym state after boundary: %v", gym)
	}

	// 再过三天：每个日周期各一次未完成，cardio 的第一个周期也结束了
	s.clock.Advance(3 * period.Day)
	body = s.expectStatus(t, http.MethodPost, "/api/reconcile", nil, http.StatusOK)
	if body["misses"] != float64(7) {
		t.Fatalf("expected 7 misses (3 gym, 3 water, 1 cardio), got %v", body["misses"])
	}

	body = s.expectStatus(t, http.MethodPost, "/api/reconcile", nil, http.StatusOK)
	if body["updated"] != float64(0) {
		t.Fatalf("expected repeated reconcile to change nothing, got %v", body["updated"])
	}
}

func (s *e2eSuite) testAnalytics(t *testing.T) {
	body := s.expectStatus(t, http.MethodGet, habitPath("gym", "/misses?days=30"), nil, http.StatusOK)
	if body["missed"] != float64(3) {
		t.Fatalf("expected 3 gym misses, got %v", body["missed"])
	}

	body = s.expectStatus(t, http.MethodGet, "/api/stats/most-missed?days=30", nil, http.StatusOK)
	if body["habit"] != "drink 2l water" && body["habit"] != "gym" {
		t.Fatalf("unexpected most missed habit %v", body["habit"])
	}
	if body["missed"] != float64(3) {
		t.Fatalf("expected 3 misses for most missed habit, got %v", body["missed"])
	}

	body = s.expectStatus(t, http.MethodGet, "/api/stats/longest-streak", nil, http.StatusOK)
	if body["longest_streak"] != float64(1) {
		t.Fatalf("expected longest streak 1, got %v", body["longest_streak"])
	}

	body = s.expectStatus(t, http.MethodGet, habitPath("gym", "/longest-streak"), nil, http.StatusOK)
	if body["longest_streak"] != float64(1) {
		t.Fatalf("expected gym longest streak 1, got %v", body["longest_streak"])
	}

	s.expectStatus(t, http.MethodGet, habitPath("gym", "/misses?days=-1"), nil, http.StatusBadRequest)
}

func (s *e2eSuite) testDelete(t *testing.T) {
	s.expectStatus(t, http.MethodDelete, habitPath("gym", ""), nil, http.StatusOK)
	s.expectStatus(t, http.MethodDelete, habitPath("drink 2l water", ""), nil, http.StatusOK)
	s.expectStatus(t, http.MethodGet, habitPath("gym", ""), nil, http.StatusNotFound)

	body := s.expectStatus(t, http.MethodGet, "/api/stats/most-missed", nil, http.StatusOK)
	if body["habit"] != "cardio" {
		t.Fatalf("expected cardio after deleting daily habits, got %v", body["habit"])
	}

	body = s.expectStatus(t, http.MethodGet, "/api/habits", nil, http.StatusOK)
	if got := len(body["habits"].([]any)); got != 3 {
		t.Fatalf("expected 3 habits left, got %d", got)
	}

	if err := s.sched.Stop(context.Background()); err != nil {
		t.Fatalf("failed to stop scheduler: %v", err)
	}
	status, _ := s.do(t, http.MethodPost, "/api/reconcile", nil)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected reconcile after stop to be unavailable, got %d", status)
	}
}
