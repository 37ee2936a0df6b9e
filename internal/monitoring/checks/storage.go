package checks

import (
	"context"
	"time"

	"github.com/charlesng35/inkroom/internal/monitoring"
	"github.com/charlesng35/inkroom/internal/storage"
)

// probeKey is looked up, never written; only reachability of the store matters.
const probeKey = ".inkroom-health"

// Storage returns a readiness probe that performs an existence lookup against the blob store.
func Storage(store storage.BlobStore) monitoring.Check {
	return monitoring.NewCheck("storage", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if store == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "blob store not configured"}
		}
		_, err := store.Exists(ctx, probeKey)
		return monitoring.ResultFromError(err, time.Since(start))
	})
}
