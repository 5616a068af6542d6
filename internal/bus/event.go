package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds used across the daemon:
//
//	record.*    local store changes (record.upserted, record.deleted)
//	sync.*      sync cycle lifecycle (sync.status_changed, sync.completed, sync.failed)
//	presence.*  online-presence changes
//	feed.*      raw realtime feed events not handled by the listener itself
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
