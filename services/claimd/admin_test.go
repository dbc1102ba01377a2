package claimd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAdminRouterControls(t *testing.T) {
	svc, err := New(testConfig(), newFakeClient())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	server := httptest.NewServer(NewAdminRouter(svc))
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Post(server.URL+"/pause", "", nil)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("pause status = %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	resp.Body.Close()
	if status.State != StatePaused {
		t.Fatalf("state = %q, want paused", status.State)
	}

	resp, err = http.Post(server.URL+"/resume", "", nil)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	resp.Body.Close()
	if svc.Status().State != StateRunning {
		t.Fatalf("state after resume = %q", svc.Status().State)
	}

	resp, err = http.Get(server.URL + "/history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var entries []HistoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	resp.Body.Close()
	if len(entries) != 0 {
		t.Fatalf("history entries = %d, want 0", len(entries))
	}

	resp, err = http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
}
