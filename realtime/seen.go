package realtime

import (
	"github.com/jellydator/ttlcache/v3"
)

const DefaultSeenCapacity = 10_000

// seenSet remembers dispatched event ids. It is bounded: once capacity is
// reached the oldest id is forgotten.
type seenSet struct {
	ids *ttlcache.Cache[string, struct{}]
}

// newSeenSet builds a set holding at most capacity ids; 0 means unbounded.
func newSeenSet(capacity uint64) *seenSet {
	return &seenSet{
		ids: ttlcache.New[string, struct{}](
			ttlcache.WithCapacity[string, struct{}](capacity),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
	}
}

// markNew records id and reports whether it was not seen before.
func (s *seenSet) markNew(id string) bool {
	if s.ids.Has(id) {
		return false
	}
	s.ids.Set(id, struct{}{}, ttlcache.NoTTL)
	return true
}

func (s *seenSet) len() int {
	return s.ids.Len()
}
