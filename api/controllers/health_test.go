package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bountyhub/escrow/pkg/config"
)

type stubPinger struct {
	err   error
	calls int
}

func (s *stubPinger) Ping(context.Context) error {
	s.calls++
	return s.err
}

func TestHealthLive(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}
	resp := httptest.NewRecorder()
	HealthLive(cfg)(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp.Header().Get("X-Escrow-Env") != "dev" {
		t.Fatalf("missing env header")
	}
}

func TestHealthReadyChecksEveryDependency(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}
	db := &stubPinger{}
	cache := &stubPinger{}
	resp := httptest.NewRecorder()
	HealthReady(cfg, nil, Dependency{"db", db}, Dependency{"redis", cache})(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if db.calls != 1 || cache.calls != 1 {
		t.Fatalf("expected both pings, got db=%d redis=%d", db.calls, cache.calls)
	}
}

func TestHealthReadyFailsOnDependencyError(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}
	cache := &stubPinger{}
	resp := httptest.NewRecorder()
	HealthReady(cfg, nil, Dependency{"db", &stubPinger{err: errors.New("refused")}}, Dependency{"redis", cache})(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
	if cache.calls != 0 {
		t.Fatalf("expected short-circuit after first failure")
	}
}
