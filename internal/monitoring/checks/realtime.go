package checks

import (
	"context"
	"fmt"

	"github.com/charlesng35/inkroom/internal/monitoring"
)

// RealtimeObserver exposes the counters needed to describe realtime state.
type RealtimeObserver interface {
	ConnectionCount() int
}

// Counter reports a size, such as live sessions or connections that chose a display name.
type Counter interface {
	Len() int
}

// Realtime is a liveness probe that reports socket, session and named connection counts.
func Realtime(hub RealtimeObserver, sessions, names Counter) monitoring.Check {
	return monitoring.NewCheck("realtime", func(context.Context) monitoring.ProbeResult {
		if hub == nil || sessions == nil || names == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "realtime hub unavailable"}
		}
		return monitoring.ProbeResult{
			Status: monitoring.StatusUp,
			Details: fmt.Sprintf("%d connections, %d sessions, %d named",
				hub.ConnectionCount(), sessions.Len(), names.Len()),
		}
	})
}
