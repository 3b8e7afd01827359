package monitoring

import "time"

// Summary surfaces aggregated runtime data for the monitoring endpoint.
type Summary struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Cache       CacheSummary       `json:"cache"`
	Queue       QueueSummary       `json:"queue"`
	Network     NetworkSummary     `json:"network"`
	Realtime    RealtimeSummary    `json:"realtime"`
	Maintenance MaintenanceSummary `json:"maintenance"`
}

type CacheSummary struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	HitRatio  float64 `json:"hit_ratio"`
	Evictions uint64  `json:"evictions"`
}

// DropRecord describes the most recent queue item removed without delivery.
type DropRecord struct {
	Type      string    `json:"type"`
	Reason    string    `json:"reason"`
	DroppedAt time.Time `json:"dropped_at"`
}

type QueueSummary struct {
	Depth     int64       `json:"depth"`
	Delivered uint64      `json:"delivered"`
	Failed    uint64      `json:"failed"`
	Dropped   uint64      `json:"dropped"`
	LastDrop  *DropRecord `json:"last_drop,omitempty"`
}

type NetworkSummary struct {
	Known         bool      `json:"known"`
	Online        bool      `json:"online"`
	EffectiveType string    `json:"effective_type,omitempty"`
	Transitions   uint64    `json:"transitions"`
	LastChangeAt  time.Time `json:"last_change_at"`
}

type RealtimeSummary struct {
	ActiveConnections int64  `json:"active_connections"`
	Broadcasts        uint64 `json:"broadcasts"`
	Failures          uint64 `json:"failures"`
}

type MaintenanceSummary struct {
	Jobs []MaintenanceJobSummary `json:"jobs"`
}

type MaintenanceJobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	ConsecutiveSuccess  uint64        `json:"consecutive_success"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	TotalRuns           uint64        `json:"total_runs"`
}

// Snapshot returns a point-in-time summary from the process-wide module.
func Snapshot() Summary {
	return globalModule.Load().Summary()
}

func emptySummary() Summary {
	return Summary{
		GeneratedAt: time.Now(),
		Maintenance: MaintenanceSummary{Jobs: []MaintenanceJobSummary{}},
	}
}
