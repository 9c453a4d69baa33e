package daemon

import (
	"context"
	"sort"
	"time"

	"github.com/proxnix/proxnix/internal/qm"
)

// StartHealthLoop runs a background tick every cfg.HealthLoopInterval until
// ctx is canceled. Each tick re-derives desired and observed state directly
// (never from the audit log) and starts any desired VM that is not running.
func (c *Controller) StartHealthLoop(ctx context.Context) {
	interval := c.cfg.HealthLoopInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.healthTick(ctx)
			}
		}
	}()
}

func (c *Controller) healthTick(ctx context.Context) {
	repoURL, commitHash, haveRun := c.lastSeen()
	if !haveRun {
		c.logger.Printf("health: no pipeline has run yet, skipping tick")
		return
	}

	dest := c.workspaceDir(commitHash)
	desired, err := c.resolver.Resolve(ctx, dest)
	if err != nil {
		c.logger.Printf("health: desired-state resolve failed for %s@%s: %v", repoURL, shortHash(commitHash), err)
		c.metrics.IncHealthTick("failure")
		return
	}
	observed, err := qm.Observe(ctx, c.backend)
	if err != nil {
		c.logger.Printf("health: observe failed: %v", err)
		c.metrics.IncHealthTick("failure")
		return
	}

	names := make([]string, 0, len(desired.VMs))
	for name := range desired.VMs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		dvm, ok := observed[name]
		if !ok {
			c.logger.Printf("health: VM %s is desired but not observed; next webhook will recreate it", name)
			continue
		}
		if dvm.Status == "running" {
			continue
		}
		started, err := c.backend.Start(ctx, dvm.VMID)
		if err != nil {
			c.logger.Printf("health: start failed for VM %s (id %d): %v", name, dvm.VMID, err)
			continue
		}
		if started {
			c.logger.Printf("health: started VM %s (id %d)", name, dvm.VMID)
		}
	}
	c.metrics.IncHealthTick("success")
}
