package match

import "time"

// SetFlushDelay overrides the pre-teardown flush wait so tests finalize
// without sleeping.
func SetFlushDelay(s *Session, d time.Duration) {
	s.flushDelay = d
}
