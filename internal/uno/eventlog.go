package uno

import (
	"fmt"
	"time"
)

// MaxLogEntries is how many log lines a Match keeps. Older lines are dropped from
// the match itself; the full history lives in the event sink.
const MaxLogEntries = 100

type LogEntry struct {
	Seq     int64     `json:"seq"`
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

func (m *Match) logf(format string, args ...any) {
	m.LogSeq++
	m.Log = append(m.Log, LogEntry{
		Seq:     m.LogSeq,
		At:      m.now(),
		Message: fmt.Sprintf(format, args...),
	})
	if over := len(m.Log) - MaxLogEntries; over > 0 {
		m.Log = append([]LogEntry(nil), m.Log[over:]...)
	}
}

// LogSince returns the retained entries with Seq greater than seq.
func (m *Match) LogSince(seq int64) []LogEntry {
	var out []LogEntry
	for _, entry := range m.Log {
		if entry.Seq > seq {
			out = append(out, entry)
		}
	}
	return out
}
