// Package scheduler implements a fixed set of checks, a shared
// min-priority queue ordered by due time, and a pool of worker goroutines
// that pop, sleep if early, execute, and re-enqueue.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/last-emo-boy/statuswatch/internal/probe"
)

// Check is an immutable record of what to probe and how often. The set of
// checks is fixed for the process lifetime: checks are never added or
// removed at runtime.
type Check struct {
	ID              int64
	Desc            string
	Checker         probe.Checker
	MinCheckInterval time.Duration
}

// LogEntry is one probe execution outcome handed off to the log store.
type LogEntry struct {
	CheckID int64
	Desc    string
	Result  probe.Result
	Time    time.Time
}

type innerCheck struct {
	mu      sync.Mutex
	checker probe.Checker
	minInterval time.Duration
	id      int64
	desc    string
}

// nextCheck is one entry in the priority queue: a check due to run at
// scheduledTime. Earlier scheduledTime sorts first (highest priority).
type nextCheck struct {
	checkIndex    int
	scheduledTime time.Time
}

type nextCheckHeap []nextCheck

func (h nextCheckHeap) Len() int { return len(h) }
func (h nextCheckHeap) Less(i, j int) bool {
	return h[i].scheduledTime.Before(h[j].scheduledTime)
}
func (h nextCheckHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *nextCheckHeap) Push(x any)   { *h = append(*h, x.(nextCheck)) }
func (h *nextCheckHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Scheduler holds the shared priority queue, per-check mutual exclusion,
// the latest-results snapshot table, and the in-memory log buffer.
type Scheduler struct {
	queueMu sync.Mutex
	queue   nextCheckHeap

	checks []*innerCheck

	resultsMu sync.RWMutex
	results   []*probe.Result

	logMu   sync.Mutex
	logCond *sync.Cond
	log     []LogEntry
}

// New constructs a Scheduler over checks, enqueuing every check to run
// immediately so all checks fire once at startup.
func New(checks []Check) *Scheduler {
	now := time.Now()
	s := &Scheduler{
		checks:  make([]*innerCheck, len(checks)),
		results: make([]*probe.Result, len(checks)),
		queue:   make(nextCheckHeap, 0, len(checks)),
	}
	s.logCond = sync.NewCond(&s.logMu)
	for i, c := range checks {
		s.checks[i] = &innerCheck{
			checker:     c.Checker,
			minInterval: c.MinCheckInterval,
			id:          c.ID,
			desc:        c.Desc,
		}
		s.queue = append(s.queue, nextCheck{checkIndex: i, scheduledTime: now})
	}
	heap.Init(&s.queue)
	return s
}

// Step pops the earliest-due check, sleeps if it isn't due yet, executes
// it, records the result, and re-enqueues it with a fresh due time. Returns
// false if the queue is empty, which happens when there are no checks or
// when every check has been popped and is still running in another worker.
// Designed to be called in a loop from multiple worker goroutines.
func (s *Scheduler) Step() bool {
	s.queueMu.Lock()
	if s.queue.Len() == 0 {
		s.queueMu.Unlock()
		return false
	}
	nc := heap.Pop(&s.queue).(nextCheck)
	s.queueMu.Unlock()

	if wait := time.Until(nc.scheduledTime); wait > 0 {
		time.Sleep(wait)
	}

	check := s.checks[nc.checkIndex]
	// At most one entry per check is ever in the queue at a time (pop then
	// push cycle), so this lock is always immediately available.
	check.mu.Lock()
	result := check.checker.Check()
	check.mu.Unlock()

	s.resultsMu.Lock()
	r := result
	s.results[nc.checkIndex] = &r
	s.resultsMu.Unlock()

	s.pushLog(LogEntry{
		CheckID: check.id,
		Desc:    check.desc,
		Result:  result,
		Time:    time.Now(),
	})

	s.queueMu.Lock()
	heap.Push(&s.queue, nextCheck{
		checkIndex:    nc.checkIndex,
		scheduledTime: time.Now().Add(check.minInterval),
	})
	s.queueMu.Unlock()

	return true
}

func (s *Scheduler) pushLog(e LogEntry) {
	s.logMu.Lock()
	s.log = append(s.log, e)
	s.logMu.Unlock()
	s.logCond.Broadcast()
}

// ReadLogs drains the in-memory log buffer into buf.
func (s *Scheduler) ReadLogs(buf *[]LogEntry) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	*buf = append(*buf, s.log...)
	s.log = s.log[:0]
}

// WaitLogs blocks until at least one log entry is present, without
// consuming it.
func (s *Scheduler) WaitLogs() {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	for len(s.log) == 0 {
		s.logCond.Wait()
	}
}

// LatestResults returns a snapshot of the most recent result per check,
// indexed the same way checks were passed to New. A nil entry means the
// check has never run. Returns an independent copy so callers never hold
// the scheduler's lock, and mutating the returned slice cannot corrupt the
// scheduler's own state.
func (s *Scheduler) LatestResults() []*probe.Result {
	s.resultsMu.RLock()
	defer s.resultsMu.RUnlock()
	out := make([]*probe.Result, len(s.results))
	copy(out, s.results)
	return out
}

// RunWorkers spawns n worker goroutines calling Step in a loop until stop
// is closed, and blocks until they have all returned.
func (s *Scheduler) RunWorkers(n int, stop <-chan struct{}) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s.Step()
			}
		}()
	}
	wg.Wait()
}
