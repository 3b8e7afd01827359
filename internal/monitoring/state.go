package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type statStore struct {
	cacheHits      atomic.Uint64
	cacheMisses    atomic.Uint64
	cacheEvictions atomic.Uint64

	queueDepth     atomic.Int64
	queueDelivered atomic.Uint64
	queueFailed    atomic.Uint64
	queueDropped   atomic.Uint64
	queueLastDrop  atomic.Pointer[DropRecord]

	networkMu          sync.Mutex
	networkOnline      bool
	networkKnown       bool
	networkEffective   string
	networkTransitions uint64
	networkChangedAt   time.Time

	realtimeConnections atomic.Int64
	realtimeBroadcasts  atomic.Uint64
	realtimeFailures    atomic.Uint64

	maintenance sync.Map // string -> *maintenanceStats
}

func newStatStore() *statStore {
	return &statStore{}
}

func (s *statStore) recordCacheLookup(hit bool) {
	if hit {
		s.cacheHits.Add(1)
		return
	}
	s.cacheMisses.Add(1)
}

func (s *statStore) recordQueueDrop(record DropRecord) {
	s.queueDropped.Add(1)
	s.queueLastDrop.Store(&record)
}

func (s *statStore) recordNetwork(online bool, effectiveType string) {
	s.networkMu.Lock()
	defer s.networkMu.Unlock()
	s.networkOnline = online
	s.networkKnown = true
	s.networkEffective = effectiveType
	s.networkTransitions++
	s.networkChangedAt = time.Now()
}

func (s *statStore) maintenanceEntry(job string) *maintenanceStats {
	if value, ok := s.maintenance.Load(job); ok {
		return value.(*maintenanceStats)
	}
	actual, _ := s.maintenance.LoadOrStore(job, &maintenanceStats{})
	return actual.(*maintenanceStats)
}

func (s *statStore) summary() Summary {
	hits, misses := s.cacheHits.Load(), s.cacheMisses.Load()
	var ratio float64
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}

	s.networkMu.Lock()
	network := NetworkSummary{
		Known:         s.networkKnown,
		Online:        s.networkOnline,
		EffectiveType: s.networkEffective,
		Transitions:   s.networkTransitions,
		LastChangeAt:  s.networkChangedAt,
	}
	s.networkMu.Unlock()

	jobs := []MaintenanceJobSummary{}
	s.maintenance.Range(func(key, value any) bool {
		jobs = append(jobs, value.(*maintenanceStats).snapshot(key.(string)))
		return true
	})
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Job < jobs[j].Job })

	return Summary{
		GeneratedAt: time.Now(),
		Cache: CacheSummary{
			Hits:      hits,
			Misses:    misses,
			HitRatio:  ratio,
			Evictions: s.cacheEvictions.Load(),
		},
		Queue: QueueSummary{
			Depth:     s.queueDepth.Load(),
			Delivered: s.queueDelivered.Load(),
			Failed:    s.queueFailed.Load(),
			Dropped:   s.queueDropped.Load(),
			LastDrop:  s.queueLastDrop.Load(),
		},
		Network: network,
		Realtime: RealtimeSummary{
			ActiveConnections: s.realtimeConnections.Load(),
			Broadcasts:        s.realtimeBroadcasts.Load(),
			Failures:          s.realtimeFailures.Load(),
		},
		Maintenance: MaintenanceSummary{Jobs: jobs},
	}
}

type maintenanceStats struct {
	mu                   sync.Mutex
	lastStatus           string
	lastError            string
	lastRun              time.Time
	lastDuration         time.Duration
	lastSuccess          time.Time
	consecutiveFailures  uint64
	consecutiveSuccesses uint64
	totalRuns            uint64
}

func (m *maintenanceStats) record(result, message string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastStatus = result
	m.lastError = message
	m.lastRun = now
	m.lastDuration = duration
	m.totalRuns++

	if result == "success" {
		m.consecutiveFailures = 0
		m.consecutiveSuccesses++
		m.lastSuccess = now
		return
	}
	m.consecutiveFailures++
	m.consecutiveSuccesses = 0
}

func (m *maintenanceStats) snapshot(job string) MaintenanceJobSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MaintenanceJobSummary{
		Job:                 job,
		LastStatus:          m.lastStatus,
		LastRunAt:           m.lastRun,
		LastDuration:        m.lastDuration,
		LastError:           m.lastError,
		ConsecutiveFailures: m.consecutiveFailures,
		ConsecutiveSuccess:  m.consecutiveSuccesses,
		LastSuccessAt:       m.lastSuccess,
		TotalRuns:           m.totalRuns,
	}
}
