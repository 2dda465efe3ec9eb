package events

import "sync"

// Recorder keeps the most recent events for the status surfaces. It drains
// a bus subscription on its own goroutine so slow readers never stall
// publishers.
type Recorder struct {
	mu     sync.RWMutex
	buf    []Event
	next   int
	filled bool
	done   chan struct{}
}

// NewRecorder subscribes to the bus and retains the last capacity events.
func NewRecorder(bus *Bus, capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 50
	}
	r := &Recorder{
		buf:  make([]Event, capacity),
		done: make(chan struct{}),
	}
	ch := bus.Subscribe()
	go func() {
		defer close(r.done)
		for ev := range ch {
			r.record(ev)
		}
	}()
	return r
}

func (r *Recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = ev
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.filled = true
	}
}

// Recent returns the retained events, oldest first.
func (r *Recorder) Recent() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Event
	if r.filled {
		out = make([]Event, 0, len(r.buf))
		out = append(out, r.buf[r.next:]...)
		out = append(out, r.buf[:r.next]...)
		return out
	}
	out = make([]Event, r.next)
	copy(out, r.buf[:r.next])
	return out
}

// Wait blocks until the feeding subscription is closed. Used in tests and
// during shutdown to observe the drain.
func (r *Recorder) Wait() {
	<-r.done
}
