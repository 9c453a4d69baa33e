// Package daemon implements the pipeline controller: a single-flight,
// webhook-triggered state machine that serializes build+reconcile runs and
// runs a periodic health loop alongside it.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/proxnix/proxnix/internal/auditlog"
	"github.com/proxnix/proxnix/internal/build"
	"github.com/proxnix/proxnix/internal/config"
	"github.com/proxnix/proxnix/internal/desiredstate"
	"github.com/proxnix/proxnix/internal/qm"
	"github.com/proxnix/proxnix/internal/reconcile"
	"github.com/proxnix/proxnix/internal/reconciler"
	"github.com/proxnix/proxnix/internal/source"
	"github.com/proxnix/proxnix/internal/webhook"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MiB

// Controller holds the single-flight permit, the last-seen (repo, commit)
// pair the health loop reads, and every component the pipeline drives.
type Controller struct {
	cfg      config.Config
	builder  *build.Builder
	resolver *desiredstate.Resolver
	backend  qm.Backend
	audit    *auditlog.Store
	metrics  *Metrics
	logger   *log.Logger

	sem *semaphore.Weighted

	mu         sync.RWMutex
	repoURL    string
	commitHash string
	haveRun    bool
}

// NewController wires a Controller from its dependencies. builder and
// resolver default to their Runner's ExecRunner when nil Runner fields are
// left unset by the caller.
func NewController(cfg config.Config, backend qm.Backend, audit *auditlog.Store, metrics *Metrics, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		cfg:      cfg,
		builder:  &build.Builder{},
		resolver: &desiredstate.Resolver{},
		backend:  backend,
		audit:    audit,
		metrics:  metrics,
		logger:   logger,
		sem:      semaphore.NewWeighted(1),
	}
}

// ServeWebhook handles POST /whlisten: it parses the payload, tries to
// acquire the single-flight permit, and dispatches the pipeline in the
// background. The HTTP response never conveys pipeline outcome.
func (c *Controller) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		c.metrics.IncWebhookRequest("405")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		c.metrics.IncWebhookRequest("400")
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}
	parsed, err := webhook.Parse(body)
	if err != nil {
		c.metrics.IncWebhookRequest("400")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !c.sem.TryAcquire(1) {
		c.metrics.IncWebhookRequest("429")
		http.Error(w, "pipeline already running", http.StatusTooManyRequests)
		return
	}

	c.mu.Lock()
	c.repoURL = parsed.RepoURL
	c.commitHash = parsed.CommitHash
	c.haveRun = true
	c.mu.Unlock()

	c.metrics.IncWebhookRequest("200")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("accepted"))

	go func() {
		defer c.sem.Release(1)
		c.runPipeline(context.Background(), parsed.RepoURL, parsed.CommitHash)
	}()
}

// runPipeline drives C2 through C7 for one commit: checkout, build, resolve
// desired state, observe the fleet, diff, reconcile. Any step failure
// aborts the run; the audit log records the outcome either way.
func (c *Controller) runPipeline(ctx context.Context, repoURL, commitHash string) {
	start := time.Now()
	prefix := fmt.Sprintf("[%s@%s] ", repoURL, shortHash(commitHash))
	c.logger.Printf("%spipeline starting", prefix)

	run := auditlog.Run{RepoURL: repoURL, CommitHash: commitHash, StartedAt: start}
	plan, err := c.buildAndPlan(ctx, prefix, repoURL, commitHash)
	if err == nil {
		run.CreatedCount = len(plan.ToCreate)
		run.UpdatedCount = len(plan.ToUpdate)
		run.DeletedCount = len(plan.ToDelete)
		c.metrics.AddPlanActions("create", len(plan.ToCreate))
		c.metrics.AddPlanActions("delete", len(plan.ToDelete))
		for _, u := range plan.ToUpdate {
			switch u.Action {
			case reconcile.ActionProtected:
				c.metrics.AddPlanActions("protected", 1)
			default:
				c.metrics.AddPlanActions("update", 1)
			}
		}
	}

	run.FinishedAt = time.Now()
	if err != nil {
		run.Outcome = "failure"
		run.Error = err.Error()
		c.logger.Printf("%spipeline failed: %v", prefix, err)
		c.metrics.IncPipelineRun("failure")
	} else {
		run.Outcome = "success"
		c.logger.Printf("%spipeline finished: %d create, %d update, %d delete",
			prefix, run.CreatedCount, run.UpdatedCount, run.DeletedCount)
		c.metrics.IncPipelineRun("success")
	}
	c.metrics.ObservePipelineDuration(run.FinishedAt.Sub(run.StartedAt).Seconds())

	if c.audit != nil {
		if aerr := c.audit.RecordRun(ctx, run); aerr != nil {
			c.logger.Printf("%saudit log write failed: %v", prefix, aerr)
		}
	}
}

func (c *Controller) buildAndPlan(ctx context.Context, prefix, repoURL, commitHash string) (reconcile.Plan, error) {
	dest := c.workspaceDir(commitHash)

	if err := source.EnsureCommit(ctx, repoURL, dest, commitHash); err != nil {
		return reconcile.Plan{}, err
	}
	c.logger.Printf("%scheckout complete", prefix)

	images, err := c.builder.BuildAllConfigs(ctx, dest)
	if err != nil {
		return reconcile.Plan{}, err
	}
	c.logger.Printf("%sbuilt %d image(s)", prefix, len(images))

	desired, err := c.resolver.Resolve(ctx, dest)
	if err != nil {
		return reconcile.Plan{}, err
	}
	for name, spec := range desired.VMs {
		if spec.StorageLocation == "" {
			spec.StorageLocation = c.cfg.DefaultStorageLocation
		}
		if spec.NetworkBridge == "" {
			spec.NetworkBridge = c.cfg.DefaultNetworkBridge
		}
		if spec.SCSIHW == "" {
			spec.SCSIHW = c.cfg.DefaultSCSIHW
		}
		desired.VMs[name] = spec
	}

	observed, err := qm.Observe(ctx, c.backend)
	if err != nil {
		return reconcile.Plan{}, err
	}

	plan := reconcile.Diff(desired, observed)
	if err := reconciler.Reconcile(ctx, c.logger, plan, images, c.backend); err != nil {
		return plan, err
	}
	return plan, nil
}

func (c *Controller) workspaceDir(commitHash string) string {
	return filepath.Join(c.cfg.BaseRepoPath, commitHash)
}

// lastSeen returns the (repo, commit) pair of the last accepted webhook and
// whether any webhook has ever been accepted.
func (c *Controller) lastSeen() (repoURL, commitHash string, haveRun bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.repoURL, c.commitHash, c.haveRun
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
