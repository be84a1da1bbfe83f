package recognition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownSuppressesWithinWindow(t *testing.T) {
	tracker := NewCooldownTracker(20 * time.Second)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	assert.True(t, tracker.TrackStudent("sess-1", 7, base), "first event always emits")
	assert.False(t, tracker.TrackStudent("sess-1", 7, base.Add(5*time.Second)), "event inside the window is suppressed")
	assert.True(t, tracker.TrackStudent("sess-1", 7, base.Add(20*time.Second)), "event at the window boundary emits")
}

func TestCooldownSuppressedEventDoesNotExtendWindow(t *testing.T) {
	tracker := NewCooldownTracker(20 * time.Second)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	assert.True(t, tracker.TrackStudent("sess-1", 7, base))
	assert.False(t, tracker.TrackStudent("sess-1", 7, base.Add(19*time.Second)))
	// The suppressed event at +19s must not push the next emission to +39s.
	assert.True(t, tracker.TrackStudent("sess-1", 7, base.Add(21*time.Second)))
}

func TestCooldownKeysAreIndependent(t *testing.T) {
	tracker := NewCooldownTracker(20 * time.Second)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	assert.True(t, tracker.TrackStudent("sess-1", 7, base))
	assert.True(t, tracker.TrackStudent("sess-1", 8, base), "another student has its own cooldown")
	assert.True(t, tracker.TrackStudent("sess-2", 7, base), "another session has its own cooldown")
}

func TestCooldownUnknownSharesOneKeyPerSession(t *testing.T) {
	tracker := NewCooldownTracker(20 * time.Second)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	assert.True(t, tracker.TrackUnknown("sess-1", base))
	// Every unknown face in the session shares the cooldown, whoever it is.
	assert.False(t, tracker.TrackUnknown("sess-1", base.Add(10*time.Second)))
	assert.True(t, tracker.TrackUnknown("sess-2", base))
}

func TestCooldownClearSession(t *testing.T) {
	tracker := NewCooldownTracker(20 * time.Second)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	assert.True(t, tracker.TrackStudent("sess-1", 7, base))
	assert.True(t, tracker.TrackUnknown("sess-1", base))
	assert.True(t, tracker.TrackStudent("sess-2", 7, base))

	tracker.ClearSession("sess-1")

	assert.True(t, tracker.TrackStudent("sess-1", 7, base.Add(time.Second)), "cleared session starts fresh")
	assert.True(t, tracker.TrackUnknown("sess-1", base.Add(time.Second)))
	assert.False(t, tracker.TrackStudent("sess-2", 7, base.Add(time.Second)), "other sessions keep their state")
}
