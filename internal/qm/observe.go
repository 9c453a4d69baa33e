package qm

import (
	"context"
	"strconv"

	"github.com/proxnix/proxnix/internal/reconcile"
)

// Observe collects the fleet's observed state: List for the memory/disk/
// status/pid columns, then Config per VM for cores/sockets. A single Config
// failure aborts the whole observation so the reconciler never plans
// against a half-built picture.
func Observe(ctx context.Context, backend Backend) (reconcile.ObservedSet, error) {
	rows, err := backend.List(ctx)
	if err != nil {
		return nil, err
	}

	observed := make(reconcile.ObservedSet, len(rows))
	for _, row := range rows {
		cfg, err := backend.Config(ctx, row.VMID)
		if err != nil {
			return nil, err
		}
		cores, sockets := parseCoresSockets(cfg)
		observed[row.Name] = reconcile.DeployedVM{
			VMID:       row.VMID,
			Name:       row.Name,
			MemMB:      row.MemMB,
			BootDiskGB: row.BootDiskGB,
			Status:     row.Status,
			PID:        row.PID,
			Cores:      cores,
			Sockets:    sockets,
		}
	}
	return observed, nil
}

func parseCoresSockets(cfg Config) (cores, sockets int) {
	if v, ok := cfg.Scalars["cores"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cores = n
		}
	}
	if v, ok := cfg.Scalars["sockets"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			sockets = n
		}
	}
	return cores, sockets
}
