package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/proxnix/proxnix/internal/auditlog"
	"github.com/proxnix/proxnix/internal/config"
)

func TestServeHealthReportsLastSeen(t *testing.T) {
	c := NewController(config.DefaultConfig(), nil, nil, nil, discardLogger())
	c.repoURL = "ssh://git@host/x.git"
	c.commitHash = "0123456789abcdef0123456789abcdef01234567"
	c.haveRun = true

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	c.serveHealth(rec, req)

	var got healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !got.HaveRun || got.RepoURL != c.repoURL || got.CommitHash != c.commitHash {
		t.Fatalf("serveHealth() = %+v", got)
	}
}

func TestServeRunsRequiresAuditLog(t *testing.T) {
	c := NewController(config.DefaultConfig(), nil, nil, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	rec := httptest.NewRecorder()
	c.serveRuns(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestServeRunsReturnsRecentRuns(t *testing.T) {
	audit, err := auditlog.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("auditlog.Open() error = %v", err)
	}
	defer audit.Close()
	now := time.Now()
	if err := audit.RecordRun(context.Background(), auditlog.Run{
		RepoURL: "ssh://git@host/x.git", CommitHash: "0123456789abcdef0123456789abcdef01234567",
		StartedAt: now, FinishedAt: now, Outcome: "success",
	}); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}

	c := NewController(config.DefaultConfig(), nil, audit, nil, discardLogger())
	req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit=5", nil)
	rec := httptest.NewRecorder()
	c.serveRuns(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var runs []auditlog.Run
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(runs) != 1 || runs[0].Outcome != "success" {
		t.Fatalf("runs = %+v", runs)
	}
}
