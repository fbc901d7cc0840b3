package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ahobbs/domainwatch/internal/aggregate"
	"github.com/ahobbs/domainwatch/internal/probe"
	"github.com/ahobbs/domainwatch/internal/scheduler"
)

func testServer() *Server {
	s := NewServer(zap.NewNop())
	s.Record(probe.KindDNS,
		aggregate.Table{
			aggregate.DNSKey("8.8.8.8", "example.com"): {
				ResolvedIP:    "93.184.216.34",
				ResolveTimeMS: 12.34,
				Timestamp:     time.Now().UTC(),
			},
		},
		scheduler.Summary{Kind: probe.KindDNS, Probes: 1, Succeeded: 1, Complete: true},
	)
	return s
}

func TestHealthz(t *testing.T) {
	rr := httptest.NewRecorder()
	testServer().Router().ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}
}

func TestResults_ReturnsLatestTable(t *testing.T) {
	rr := httptest.NewRecorder()
	testServer().Router().ServeHTTP(rr, httptest.NewRequest("GET", "/api/results?kind=dns", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var doc map[string]map[string]map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	rec := doc["8.8.8.8"]["example.com"]
	if rec["resolved_ip"] != "93.184.216.34" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestResults_NoRunYet(t *testing.T) {
	rr := httptest.NewRecorder()
	testServer().Router().ServeHTTP(rr, httptest.NewRequest("GET", "/api/results?kind=tls", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("want 404 before any TLS run, got %d", rr.Code)
	}
}

func TestResults_BadKind(t *testing.T) {
	rr := httptest.NewRecorder()
	testServer().Router().ServeHTTP(rr, httptest.NewRequest("GET", "/api/results?kind=smtp", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rr.Code)
	}
}

func TestSummary(t *testing.T) {
	rr := httptest.NewRecorder()
	testServer().Router().ServeHTTP(rr, httptest.NewRequest("GET", "/api/summary?kind=dns", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}

	var sum scheduler.Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.Succeeded != 1 || !sum.Complete {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}
