package watcher

import (
	"sync"
	"time"
)

// EventType represents the type of file event
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "CREATE"
	case EventModify:
		return "MODIFY"
	case EventDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one coalesced change to a path under a watched root
type FileEvent struct {
	Root      string
	Path      string
	EventType EventType
	Timestamp time.Time
}

// Burst is every change seen between two quiet periods
type Burst struct {
	Events []FileEvent
	At     time.Time
}

// Touches reports whether any event in the burst came from root
func (b Burst) Touches(root string) bool {
	for _, ev := range b.Events {
		if ev.Root == root {
			return true
		}
	}
	return false
}

// Debouncer gathers file events into bursts. A burst is emitted once no new
// event has arrived for the configured delay; events for the same path are
// coalesced inside the burst.
type Debouncer struct {
	delay   time.Duration
	mu      sync.Mutex
	pending map[string]*FileEvent
	order   []string
	timer   *time.Timer
	gen     uint64
	stopped bool
	output  chan Burst
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewDebouncer creates a new burst debouncer
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:   delay,
		pending: make(map[string]*FileEvent),
		output:  make(chan Burst, 8),
		stopCh:  make(chan struct{}),
	}
}

// Bursts returns the channel of debounced bursts. It is closed by Stop.
func (d *Debouncer) Bursts() <-chan Burst {
	return d.output
}

// Add records an event and restarts the quiet period
func (d *Debouncer) Add(root, path string, eventType EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	now := time.Now()
	if ev, ok := d.pending[path]; ok {
		// DELETE wins; CREATE followed by MODIFY stays CREATE
		switch {
		case eventType == EventDelete:
			ev.EventType = EventDelete
		case ev.EventType == EventCreate && eventType == EventModify:
		case ev.EventType != EventDelete:
			ev.EventType = eventType
		}
		ev.Timestamp = now
	} else {
		d.pending[path] = &FileEvent{Root: root, Path: path, EventType: eventType, Timestamp: now}
		d.order = append(d.order, path)
	}

	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.emit(gen) })
}

// emit sends the pending burst if no event arrived after generation gen.
// A zero gen flushes unconditionally.
func (d *Debouncer) emit(gen uint64) {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 || (gen != 0 && gen != d.gen) {
		d.mu.Unlock()
		return
	}
	burst := Burst{Events: make([]FileEvent, 0, len(d.order)), At: time.Now()}
	for _, path := range d.order {
		burst.Events = append(burst.Events, *d.pending[path])
	}
	d.pending = make(map[string]*FileEvent)
	d.order = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	select {
	case d.output <- burst:
	case <-d.stopCh:
	}
}

// Flush immediately emits the pending burst, if any
func (d *Debouncer) Flush() {
	d.emit(0)
}

// Stop drops pending events and closes the output channel
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = make(map[string]*FileEvent)
	d.order = nil
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()
	close(d.output)
}

// PendingCount returns the number of paths waiting in the current burst
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
