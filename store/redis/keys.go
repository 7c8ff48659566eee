package redis

// Key prefixes for primary entity storage.
const (
	prefixSubscription = "beacon:sub:"
	prefixSubHealth    = "beacon:h:sub:" // hash: active, failures, threshold, reason, disabled_at
	prefixEvent        = "beacon:evt:"
	prefixAttempt      = "beacon:att:"
)

// Key prefixes for set and hash indexes.
const (
	sSubType      = "beacon:s:sub:type:" // + event type
	hPairs        = "beacon:h:pairs"     // event|subscription → latest delivery ID
	hStatusCounts = "beacon:h:att:status"
)

// Key prefixes for sorted set indexes.
const (
	zSubAll   = "beacon:z:sub:all"
	zEventAll = "beacon:z:evt:all"
	zAttAll   = "beacon:z:att:all"
	zAttSub   = "beacon:z:att:sub:"   // + subscription ID
	zAttEvt   = "beacon:z:att:evt:"   // + event ID
	zAttChain = "beacon:z:att:chain:" // + delivery ID, scored by attempt number
	zAttDue   = "beacon:z:att:due"    // claimable attempts scored by ScheduledAt
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// pairField returns the hPairs field for an (event, subscription) pair.
func pairField(evtID, subID string) string {
	return evtID + "|" + subID
}
