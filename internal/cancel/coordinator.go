package cancel

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultGracePeriod is how long a disconnected operation keeps its entry
// before it is treated as cancelled.
const DefaultGracePeriod = 30 * time.Second

// Func is invoked once with the reason an operation was cancelled.
type Func func(Reason)

type entry struct {
	cancel Func
	timer  *time.Timer
	// gen guards against a stale timer firing after Reconnect/Register.
	gen uint64
}

// Coordinator maps connection IDs to cancel callbacks. Safe for concurrent use.
type Coordinator struct {
	mu      sync.Mutex
	entries map[string]*entry
	grace   time.Duration
	nextGen uint64
}

// NewCoordinator returns a coordinator using the given grace period.
// A non-positive grace uses DefaultGracePeriod.
func NewCoordinator(grace time.Duration) *Coordinator {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Coordinator{
		entries: make(map[string]*entry),
		grace:   grace,
	}
}

// Register associates fn with id, replacing any previous entry.
func (c *Coordinator) Register(id string, fn Func) {
	c.register(id, fn)
}

func (c *Coordinator) register(id string, fn Func) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[id]; ok && old.timer != nil {
		old.timer.Stop()
	}
	e := &entry{cancel: fn}
	c.entries[id] = e
	slog.Debug("Registered operation.", "connectionId", id)
	return e
}

// Cancel invokes the callback for id and removes the entry. It reports
// whether an entry was found.
func (c *Coordinator) Cancel(id string, userInitiated bool) bool {
	c.mu.Lock()
	e, ok := c.entries[id]
	if ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.entries, id)
	}
	c.mu.Unlock()

	if !ok {
		slog.Debug("Cancel requested for unknown operation.", "connectionId", id)
		return false
	}
	reason := ReasonDisconnect
	if userInitiated {
		reason = ReasonUser
	}
	slog.Info("Cancelling operation.", "connectionId", id, "reason", reason.String())
	e.cancel(reason)
	return true
}

// Disconnect starts the grace timer for id. If the entry is still registered
// when it fires, the callback runs with ReasonDisconnect.
func (c *Coordinator) Disconnect(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	c.nextGen++
	gen := c.nextGen
	e.gen = gen
	e.timer = time.AfterFunc(c.grace, func() { c.expire(id, gen) })
	slog.Info("Client disconnected, grace period started.", "connectionId", id, "grace", c.grace.String())
}

func (c *Coordinator) expire(id string, gen uint64) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok || e.gen != gen || e.timer == nil {
		c.mu.Unlock()
		return
	}
	delete(c.entries, id)
	c.mu.Unlock()

	slog.Info("Grace period elapsed, marking operation disconnected.", "connectionId", id)
	e.cancel(ReasonDisconnect)
}

// Reconnect stops a pending grace timer. It reports whether id is registered.
func (c *Coordinator) Reconnect(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
		slog.Info("Client reconnected within grace period.", "connectionId", id)
	}
	return true
}

// Unregister removes id without invoking its callback.
func (c *Coordinator) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.entries, id)
	}
}

// Active reports whether id is registered.
func (c *Coordinator) Active(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// Track registers a fresh Token under id. The returned release func
// unregisters it and must be called when the operation ends.
func (c *Coordinator) Track(id string) (*Token, func()) {
	tok := NewToken()
	e := c.register(id, tok.Cancel)
	return tok, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		// A later Register under the same id owns the slot now.
		if cur, ok := c.entries[id]; ok && cur == e {
			if cur.timer != nil {
				cur.timer.Stop()
			}
			delete(c.entries, id)
		}
	}
}
