package checks

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/inkroom/internal/database"
	"github.com/charlesng35/inkroom/internal/monitoring"
)

// Database returns a readiness probe that pings the shared-file ledger database.
func Database(db *gorm.DB) monitoring.Check {
	return monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if db == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "database not configured"}
		}
		return monitoring.ResultFromError(database.Ping(ctx, db, 0), time.Since(start))
	})
}
