package logx

import "sync"

// Entry is one captured log line, kept in the in-memory ring buffer for
// inspection by tooling.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

const bufferSize = 1000

var (
	bufferMu sync.RWMutex
	buffer   []Entry
)

func recordEntry(e Entry) {
	bufferMu.Lock()
	defer bufferMu.Unlock()
	buffer = append(buffer, e)
	if len(buffer) > bufferSize {
		buffer = buffer[len(buffer)-bufferSize:]
	}
}

// RecentEntries returns a copy of the buffered log entries, optionally
// filtered by component id.
func RecentEntries(component string) []Entry {
	bufferMu.RLock()
	defer bufferMu.RUnlock()
	out := make([]Entry, 0, len(buffer))
	for i := range buffer {
		if component != "" && buffer[i].Component != component {
			continue
		}
		out = append(out, buffer[i])
	}
	return out
}
