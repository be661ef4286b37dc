package realtime

import "sync"

// Recorder is a Publisher that keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events map[string][]Event
}

func NewRecorder() *Recorder {
	return &Recorder{events: map[string][]Event{}}
}

func (r *Recorder) Publish(orgID string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[orgID] = append(r.events[orgID], ev)
}

func (r *Recorder) Events(orgID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events[orgID]...)
}

// Find returns the first event of typ on table (table ignored when empty).
func (r *Recorder) Find(orgID, typ, table string) (Event, bool) {
	for _, ev := range r.Events(orgID) {
		if ev.Type == typ && (table == "" || ev.Table == table) {
			return ev, true
		}
	}
	return Event{}, false
}
