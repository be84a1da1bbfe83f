// cooldown.go: notification rate limiting per recognized subject
package recognition

import (
	"fmt"
	"sync"
	"time"
)

// CooldownBehaviorFunc decides whether a new event may fire given the time
// of the last emitted event for the same key.
type CooldownBehaviorFunc func(lastEventTime, eventTime time.Time, window time.Duration) bool

// StandardCooldownBehavior allows an event once the window has fully elapsed
// since the last emitted one.
func StandardCooldownBehavior(lastEventTime, eventTime time.Time, window time.Duration) bool {
	return eventTime.Sub(lastEventTime) >= window
}

// CooldownTracker rate-limits outward notifications and log entries. It
// keeps two independent tracks: one keyed per (session, student) for
// recognized faces and one keyed per session shared by every unknown face.
// Suppression applies to notifications and log entries only; attendance
// state still updates for suppressed events.
type CooldownTracker struct {
	lastEventTime map[string]time.Time
	window        time.Duration
	behavior      CooldownBehaviorFunc
	mu            sync.Mutex
}

// NewCooldownTracker creates a tracker with the given window.
func NewCooldownTracker(window time.Duration) *CooldownTracker {
	return &CooldownTracker{
		lastEventTime: make(map[string]time.Time),
		window:        window,
		behavior:      StandardCooldownBehavior,
	}
}

// TrackStudent reports whether a recognition of the student at eventTime may
// emit a notification, recording the event when allowed.
func (t *CooldownTracker) TrackStudent(sessionID string, studentID uint, eventTime time.Time) bool {
	return t.track(fmt.Sprintf("%s:%d", sessionID, studentID), eventTime)
}

// TrackUnknown reports whether an unrecognized-face event at eventTime may
// emit, recording it when allowed. All unknown faces in a session share one
// cooldown key.
func (t *CooldownTracker) TrackUnknown(sessionID string, eventTime time.Time) bool {
	return t.track(sessionID+":unknown", eventTime)
}

func (t *CooldownTracker) track(key string, eventTime time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, exists := t.lastEventTime[key]
	if !exists || t.behavior(last, eventTime, t.window) {
		t.lastEventTime[key] = eventTime
		return true
	}
	return false
}

// ClearSession drops every cooldown entry belonging to the session. Called
// after finalize so a reused camera does not inherit stale suppression.
func (t *CooldownTracker) ClearSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prefix := sessionID + ":"
	for key := range t.lastEventTime {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(t.lastEventTime, key)
		}
	}
}
