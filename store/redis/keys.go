package redis

// Key prefixes for primary entity storage. Event types are keyed by name
// (the only lookup path); everything else is keyed by ID.
const (
	prefixEventType    = "pulse:evtype:"
	prefixSubscription = "pulse:sub:"
	prefixRule         = "pulse:rule:"
	prefixWebhook      = "pulse:wh:"
	prefixWebhookEvent = "pulse:whevt:"
)

// Key names for sorted set indexes. Scores are creation times except for
// the due queue, which is scored by next_attempt_at.
const (
	zEventTypeAll = "pulse:z:evtype:all"
	zSubUser      = "pulse:z:sub:user:"   // + user ID
	zRuleScope    = "pulse:z:rule:scope:" // + agency ID ("" for global)
	zWebhookAll   = "pulse:z:wh:all"
	zEventWebhook = "pulse:z:whevt:wh:" // + webhook ID
	zEventAll     = "pulse:z:whevt:all"
	zEventDue     = "pulse:z:whevt:due"
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}
