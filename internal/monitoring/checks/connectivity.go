package checks

import (
	"context"
	"time"

	"github.com/charlesng35/campusync/internal/connectivity"
	"github.com/charlesng35/campusync/internal/monitoring"
)

// Connectivity reports the monitor's view of the network. Being offline is a
// degraded state, not a failure: reads are served from the cache and writes queue.
func Connectivity(monitor *connectivity.Monitor) monitoring.Check {
	return monitoring.NewCheck("connectivity", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if monitor == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "monitor not configured"}
		}

		status := monitor.Status()
		result := monitoring.ProbeResult{Status: monitoring.StatusUp, Duration: time.Since(start)}
		switch {
		case !status.IsOnline:
			result.Status = monitoring.StatusDegraded
			result.Details = "offline"
		case monitor.IsSlowConnection():
			result.Details = "slow connection (" + status.EffectiveType + ")"
		default:
			result.Details = status.EffectiveType
		}
		return result
	})
}
