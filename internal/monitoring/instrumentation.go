package monitoring

import (
	"strings"
	"time"
)

// RecordCacheLookup counts a cache read as a hit or a miss.
func RecordCacheLookup(hit bool) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	module.metrics.cacheLookups.WithLabelValues(result).Inc()
	module.stats.recordCacheLookup(hit)
}

// RecordCacheEviction counts entries dropped from the cache for reason.
func RecordCacheEviction(reason string, count int) {
	module := globalModule.Load()
	if module == nil || count <= 0 {
		return
	}
	module.metrics.cacheEvictions.WithLabelValues(normalizeLabel(reason)).Add(float64(count))
	module.stats.cacheEvictions.Add(uint64(count))
}

// RecordRepositoryOperation counts an entity repository call.
func RecordRepositoryOperation(collection, operation, result string) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	module.metrics.repositoryOps.WithLabelValues(
		normalizeLabel(collection),
		normalizeLabel(operation),
		normalizeLabel(result),
	).Inc()
}

// SetQueueDepth publishes the number of pending queue items.
func SetQueueDepth(depth int) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	if depth < 0 {
		depth = 0
	}
	module.metrics.queueDepth.Set(float64(depth))
	module.stats.queueDepth.Store(int64(depth))
}

// RecordQueueDelivery records one delivery attempt of a queued mutation.
func RecordQueueDelivery(itemType string, success bool, duration time.Duration) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	itemType = normalizeLabel(itemType)
	result := "failure"
	if success {
		result = "success"
		module.stats.queueDelivered.Add(1)
	} else {
		module.stats.queueFailed.Add(1)
	}
	module.metrics.queueDeliveries.WithLabelValues(itemType, result).Inc()
	observeDuration(module.metrics.queueDeliveryLatency.WithLabelValues(itemType), duration)
}

// ObserveRetryDelay records a scheduled backoff delay.
func ObserveRetryDelay(delay time.Duration) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	observeDuration(module.metrics.queueRetryDelay, delay)
}

// RecordQueueDrop records an item removed without being delivered.
// Typical reasons are "exhausted", "expired" and "capacity".
func RecordQueueDrop(itemType, reason string) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	itemType = normalizeLabel(itemType)
	reason = normalizeLabel(reason)
	module.metrics.queueDrops.WithLabelValues(itemType, reason).Inc()
	module.stats.recordQueueDrop(DropRecord{
		Type:      itemType,
		Reason:    reason,
		DroppedAt: time.Now(),
	})
}

// RecordNetworkStatus publishes the latest connectivity state.
func RecordNetworkStatus(online bool, effectiveType string) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	state := "offline"
	value := 0.0
	if online {
		state = "online"
		value = 1
	}
	module.metrics.networkOnline.Set(value)
	module.metrics.networkTransitions.WithLabelValues(state).Inc()
	module.stats.recordNetwork(online, strings.TrimSpace(effectiveType))
}

// ObserveAPILatency captures the HTTP request latency for the supplied route.
func ObserveAPILatency(method, path, status string, duration time.Duration) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "UNKNOWN"
	}
	path = sanitizePath(path)
	if path == "" {
		path = "unknown"
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "unknown"
	}
	observeDuration(module.metrics.apiLatency.WithLabelValues(method, path, status), duration)
}

// RecordRealtimeConnection adjusts the websocket connection gauge.
func RecordRealtimeConnection(delta int64) {
	module := globalModule.Load()
	if module == nil || delta == 0 {
		return
	}
	module.metrics.realtimeConnections.Add(float64(delta))
	if module.stats.realtimeConnections.Add(delta) < 0 {
		module.stats.realtimeConnections.Store(0)
		module.metrics.realtimeConnections.Set(0)
	}
}

// RecordRealtimeBroadcast increments broadcast counters per stream.
func RecordRealtimeBroadcast(stream string) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	module.metrics.realtimeBroadcasts.WithLabelValues(normalizePath(stream)).Inc()
	module.stats.realtimeBroadcasts.Add(1)
}

// RecordRealtimeFailure counts a failed websocket write or upgrade.
func RecordRealtimeFailure(stream, failureType string) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	module.metrics.realtimeFailures.WithLabelValues(normalizePath(stream), normalizeLabel(failureType)).Inc()
	module.stats.realtimeFailures.Add(1)
}

// RecordMaintenanceRun records the completion of a maintenance job.
func RecordMaintenanceRun(job, result, message string, duration time.Duration) {
	module := globalModule.Load()
	if module == nil {
		return
	}
	jobID := normalizeLabel(job)
	result = normalizeLabel(result)
	module.metrics.maintenanceRuns.WithLabelValues(jobID, result).Inc()
	observeDuration(module.metrics.maintenanceDuration.WithLabelValues(jobID), duration)
	if result == "success" {
		module.metrics.maintenanceLastRun.WithLabelValues(jobID).Set(float64(time.Now().Unix()))
	}
	module.stats.maintenanceEntry(jobID).record(result, strings.TrimSpace(message), duration)
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}

func sanitizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "/" {
		return "root"
	}
	return normalizePath(path)
}

func normalizePath(path string) string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	path = strings.ReplaceAll(path, " ", "_")
	if path == "" {
		return "root"
	}
	return path
}
