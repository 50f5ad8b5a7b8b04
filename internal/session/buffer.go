// Package session holds the per-tab raw event logs of the current recording.
package session

import (
	"sort"
	"sync"

	"flowcraft/backend/internal/models"
)

// Log is the recorded history of one tab.
type Log struct {
	Events []models.RawEvent
	Info   models.TabInfo
}

// Buffer owns the tab → Log mapping. Every appended event gets a
// process-wide arrival sequence number, which breaks timestamp ties when
// tabs are merged.
type Buffer struct {
	mu   sync.RWMutex
	logs map[string]*Log
	seq  uint64
}

func NewBuffer() *Buffer {
	return &Buffer{logs: make(map[string]*Log)}
}

// Record appends ev to the log of tabID, creating the log on first use, and
// returns the stored copy.
func (b *Buffer) Record(tabID string, ev models.RawEvent) models.RawEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev.Seq = b.seq
	ev.TabID = tabID
	if ev.Locator != nil {
		loc := *ev.Locator
		ev.Locator = &loc
	}
	l := b.logFor(tabID)
	l.Events = append(l.Events, ev)
	return ev
}

// SetTabInfo stores url and title for tabID unless they are already known.
func (b *Buffer) SetTabInfo(tabID string, info models.TabInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l := b.logFor(tabID)
	if l.Info.URL == "" {
		l.Info.URL = info.URL
	}
	if l.Info.Title == "" {
		l.Info.Title = info.Title
	}
}

func (b *Buffer) TabInfo(tabID string) (models.TabInfo, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.logs[tabID]
	if !ok {
		return models.TabInfo{}, false
	}
	return l.Info, true
}

// Clear drops every log and all tab metadata.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs = make(map[string]*Log)
}

// Snapshot returns all events of all tabs ordered by timestamp, then by
// arrival order.
func (b *Buffer) Snapshot() []models.RawEvent {
	b.mu.RLock()
	var out []models.RawEvent
	for _, l := range b.logs {
		out = append(out, l.Events...)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Tabs returns the ids of every tab with a log.
func (b *Buffer) Tabs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.logs))
	for id := range b.logs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len is the total number of events across tabs.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, l := range b.logs {
		n += len(l.Events)
	}
	return n
}

func (b *Buffer) logFor(tabID string) *Log {
	l, ok := b.logs[tabID]
	if !ok {
		l = &Log{}
		b.logs[tabID] = l
	}
	return l
}
