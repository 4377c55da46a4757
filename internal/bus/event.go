package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds used across the client:
//
//	auth.logged_in, auth.logged_out, auth.checked
//	presence.updated
//	chat.roster_updated, chat.message_appended, chat.partner_selected
//	call.state_changed, call.incoming, call.incoming_cancelled, call.remote_track
//	cache.message_upserted, cache.roster_upserted
type Event struct {
	// ID is assigned by Publish when empty.
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}
