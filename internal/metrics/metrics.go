// Package metrics provides lightweight counters and timers for the build
// pipeline. Instruments live in a single concurrent map with atomic
// get-or-create per key, and timing scopes are explicit values handed
// through the call chain and released on every exit path.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Registry holds named instruments. The zero value is not usable; create
// one with NewRegistry. All methods are safe for concurrent use.
type Registry struct {
	instruments sync.Map // kind-prefixed name -> *Counter | *Timer
}

// NewRegistry creates an empty instrument registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Counter is a monotonically increasing count.
type Counter struct {
	v atomic.Int64
}

// Inc adds one.
func (c *Counter) Inc() {
	c.v.Add(1)
}

// Add adds n.
func (c *Counter) Add(n int64) {
	c.v.Add(n)
}

// Value returns the current count.
func (c *Counter) Value() int64 {
	return c.v.Load()
}

// Timer accumulates durations.
type Timer struct {
	count atomic.Int64
	nanos atomic.Int64
}

// Record adds one observation.
func (t *Timer) Record(d time.Duration) {
	t.count.Add(1)
	t.nanos.Add(int64(d))
}

// Count returns the number of observations.
func (t *Timer) Count() int64 {
	return t.count.Load()
}

// Total returns the accumulated duration.
func (t *Timer) Total() time.Duration {
	return time.Duration(t.nanos.Load())
}

// Counter returns the counter with the given name, creating it atomically
// on first use.
func (r *Registry) Counter(name string) *Counter {
	key := "counter:" + name
	if v, ok := r.instruments.Load(key); ok {
		return v.(*Counter)
	}
	v, _ := r.instruments.LoadOrStore(key, &Counter{})
	return v.(*Counter)
}

// Timer returns the timer with the given name, creating it atomically on
// first use.
func (r *Registry) Timer(name string) *Timer {
	key := "timer:" + name
	if v, ok := r.instruments.Load(key); ok {
		return v.(*Timer)
	}
	v, _ := r.instruments.LoadOrStore(key, &Timer{})
	return v.(*Timer)
}

// Scope times one region of work against a named timer. Callers obtain it
// at region entry and must call Close on every exit path; Close is
// idempotent so it is safe under defer together with early returns.
type Scope struct {
	timer *Timer
	start time.Time
	done  bool
}

// StartScope opens a timing scope against the named timer.
func (r *Registry) StartScope(name string) *Scope {
	return &Scope{timer: r.Timer(name), start: time.Now()}
}

// Close records the elapsed time. Subsequent calls are no-ops.
func (s *Scope) Close() {
	if s == nil || s.done {
		return
	}
	s.done = true
	s.timer.Record(time.Since(s.start))
}

// CounterSnapshot is one counter's value at snapshot time.
type CounterSnapshot struct {
	Name  string
	Value int64
}

// Counters returns all counter values sorted by name, for end-of-split
// logging.
func (r *Registry) Counters() []CounterSnapshot {
	var out []CounterSnapshot
	r.instruments.Range(func(k, v interface{}) bool {
		key := k.(string)
		if c, ok := v.(*Counter); ok {
			out = append(out, CounterSnapshot{Name: key[len("counter:"):], Value: c.Value()})
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
