package debug

import (
	"sync"
	"sync/atomic"
	"time"
)

// AudioEntry is one message posted from the audio thread. Msg should be a
// constant string so posting does not allocate.
type AudioEntry struct {
	At    time.Time
	Level LogLevel
	Msg   string
	Value int64
}

// AudioLog is a fixed-size mailbox the audio thread posts into without ever
// waiting. The control thread drains it into a Logger.
type AudioLog struct {
	mu      sync.Mutex
	entries []AudioEntry
	head    int
	count   int
	dropped atomic.Uint64
}

// NewAudioLog creates a mailbox holding up to capacity entries.
func NewAudioLog(capacity int) *AudioLog {
	if capacity <= 0 {
		capacity = 64
	}
	return &AudioLog{entries: make([]AudioEntry, capacity)}
}

// Post records an entry. It returns false when the entry was dropped because
// the mailbox was full or the lock was held.
func (a *AudioLog) Post(level LogLevel, msg string, value int64) bool {
	if !a.mu.TryLock() {
		a.dropped.Add(1)
		return false
	}
	defer a.mu.Unlock()

	if a.count == len(a.entries) {
		a.dropped.Add(1)
		return false
	}
	idx := (a.head + a.count) % len(a.entries)
	a.entries[idx] = AudioEntry{At: time.Now(), Level: level, Msg: msg, Value: value}
	a.count++
	return true
}

// Dropped returns the number of entries lost so far.
func (a *AudioLog) Dropped() uint64 {
	return a.dropped.Load()
}

// Drain moves every pending entry to l and returns how many were written.
func (a *AudioLog) Drain(l *Logger) int {
	a.mu.Lock()
	pending := make([]AudioEntry, 0, a.count)
	for a.count > 0 {
		pending = append(pending, a.entries[a.head])
		a.head = (a.head + 1) % len(a.entries)
		a.count--
	}
	a.mu.Unlock()

	l = OrDefault(l)
	for _, e := range pending {
		l.log(e.Level, "audio: %s (value=%d)", e.Msg, e.Value)
	}
	return len(pending)
}
