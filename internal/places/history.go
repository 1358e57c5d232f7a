package places

import (
	"sync"
	"time"

	"github.com/example/driver-dispatch/internal/clock"
)

// historyCap bounds the list; oldest entries fall off the tail.
const historyCap = 10

// HistoryEntry is one remembered place selection. Session-lifetime only:
// the list is not persisted across restarts.
type HistoryEntry struct {
	Place
	Timestamp time.Time `json:"timestamp"`
}

// History is a bounded, de-duplicated, most-recent-first list of selected
// places. Re-adding an existing place id moves it to the front rather than
// duplicating it.
type History struct {
	mu      sync.Mutex
	entries []HistoryEntry
	clk     clock.Clock
}

func NewHistory(clk clock.Clock) *History {
	return &History{clk: clk}
}

func (h *History) Add(p Place) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, e := range h.entries {
		if e.Place.ID == p.ID {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			break
		}
	}
	entry := HistoryEntry{Place: p, Timestamp: h.clk.Now()}
	h.entries = append([]HistoryEntry{entry}, h.entries...)
	if len(h.entries) > historyCap {
		h.entries = h.entries[:historyCap]
	}
}

func (h *History) Entries() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}
