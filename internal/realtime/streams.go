package realtime

import "strings"

// Named realtime streams.
const (
	StreamQueue       = "queue"
	StreamNetwork     = "network"
	StreamCollections = "collections"
)

// Streams lists every stream a client may join.
var Streams = []string{StreamQueue, StreamNetwork, StreamCollections}

// StreamFor maps an event name onto its stream: "queue.changed" belongs to queue,
// "network.status" to network and "collection.changed" to collections.
func StreamFor(event string) string {
	prefix, _, _ := strings.Cut(normalizeStream(event), ".")
	switch prefix {
	case "queue":
		return StreamQueue
	case "network":
		return StreamNetwork
	case "collection", "collections":
		return StreamCollections
	}
	return ""
}
