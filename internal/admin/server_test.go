package admin

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"discobench/internal/bench"
	"discobench/internal/measure"
)

type staticStatus bench.Status

func (s staticStatus) Snapshot() bench.Status { return bench.Status(s) }

func TestHandleStatus(t *testing.T) {
	server := NewServer(staticStatus{RunID: "r1", Kind: measure.KindLatency, Phase: bench.PhaseObserve, Completed: 3}, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status OK, got %v", resp.StatusCode)
	}
	var st bench.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.RunID != "r1" || st.Phase != bench.PhaseObserve || st.Completed != 3 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestHandleMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := bench.NewMetrics(reg)
	m.WriteSample(measure.Sample{Kind: measure.KindLatency, Elapsed: time.Second})
	server := NewServer(staticStatus{}, reg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	body, _ := io.ReadAll(w.Result().Body)
	if !strings.Contains(string(body), `discobench_samples_total{kind="latency"} 1`) {
		t.Errorf("metrics output missing sample counter:\n%s", body)
	}
}

func TestMetricsDisabled(t *testing.T) {
	server := NewServer(staticStatus{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without a gatherer, got %d", w.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	server := NewServer(staticStatus{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "ok" {
		t.Errorf("unexpected health response %d %q", w.Code, w.Body.String())
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(staticStatus{}, nil).Start(ctx, addr) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
