package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/charlesng35/campusync/internal/monitoring"
	"github.com/charlesng35/campusync/internal/store"
)

const defaultStoreTimeout = 2 * time.Second

// Store verifies the persistent store answers a Length call. When the store reports
// its size and a quota is known, usage above 90% degrades the probe.
func Store(s store.Store, quota int64, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("store", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if s == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "store not configured"}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultStoreTimeout))
		defer cancel()

		length, err := s.Length(probeCtx)
		if err != nil {
			return monitoring.ResultFromError("store", err, time.Since(start))
		}

		size, err := store.SizeOf(probeCtx, s)
		if err != nil {
			return monitoring.ResultFromError("store", err, time.Since(start))
		}

		result := monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Details:  fmt.Sprintf("%d keys, %d bytes", length, size),
			Duration: time.Since(start),
		}
		if quota > 0 && size*10 > quota*9 {
			result.Status = monitoring.StatusDegraded
			result.Details = fmt.Sprintf("%d of %d bytes used", size, quota)
		}
		return result
	})
}
