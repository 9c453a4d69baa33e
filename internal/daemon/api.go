package daemon

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const defaultRunsLimit = 20

// Register wires the webhook endpoint (POST /whlisten) and the read-only
// control surface (GET /v1/runs and GET /v1/health) onto mux. The two
// control endpoints carry no reconciliation semantics.
func (c *Controller) Register(mux *http.ServeMux) {
	mux.HandleFunc("/whlisten", c.ServeWebhook)
	mux.HandleFunc("/v1/runs", c.serveRuns)
	mux.HandleFunc("/v1/health", c.serveHealth)
}

func (c *Controller) serveRuns(w http.ResponseWriter, r *http.Request) {
	if c.audit == nil {
		http.Error(w, "audit log not configured", http.StatusServiceUnavailable)
		return
	}
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := c.audit.RecentRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(runs)
}

type healthResponse struct {
	RepoURL    string `json:"repo_url"`
	CommitHash string `json:"commit_hash"`
	HaveRun    bool   `json:"have_run"`
}

func (c *Controller) serveHealth(w http.ResponseWriter, _ *http.Request) {
	repoURL, commitHash, haveRun := c.lastSeen()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		RepoURL:    repoURL,
		CommitHash: commitHash,
		HaveRun:    haveRun,
	})
}
