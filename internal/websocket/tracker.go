package websocket

import "sync"

// SequenceTracker is the receiving side of event ordering. It remembers the
// last applied seq per topic and rejects anything at or below it, so a late
// delivery can never roll state back.
type SequenceTracker struct {
	mu   sync.Mutex
	last map[string]int64
}

func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{last: make(map[string]int64)}
}

// Apply reports whether env should be applied. Unsequenced events (Error,
// Pong) are always applied and leave the counter untouched.
func (t *SequenceTracker) Apply(topic string, env Envelope) bool {
	if !env.Event.Ordered() {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if env.Seq <= t.last[topic] {
		return false
	}
	t.last[topic] = env.Seq
	return true
}

// Last returns the last applied seq for topic, 0 if none.
func (t *SequenceTracker) Last(topic string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last[topic]
}
