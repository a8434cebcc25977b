// Package thread implements the Thread Registry: the set of tids the
// debugger core is currently tracing, each with its last-known register
// snapshot and any signal pending redelivery.
package thread

import (
	"sort"
	"sync"

	"github.com/kornnellio/godbg/arch"
	dbgerr "github.com/kornnellio/godbg/errors"
)

// Thread is one traced tid's cached state between stops.
type Thread struct {
	Tid int32

	// Regs and FPRegs cache the most recent register snapshot fetched after
	// a stop; stale once the thread resumes until the next stop refreshes it.
	Regs   arch.GPR
	FPRegs arch.FP

	// PendingSignal is a signal the controller must redeliver on next resume
	// (e.g. a non-trap signal that arrived in the same stop as a breakpoint).
	PendingSignal int

	// NestedCallCounter is a step-out's call-depth bookkeeping: StepOut sets
	// it to 1 on entry; it is 0 after a step-out that ran to completion and
	// keeps its last value after one that stopped early.
	NestedCallCounter int
}

// Registry tracks every thread of a traced process, live or recently dead.
type Registry struct {
	mu   sync.RWMutex
	live map[int32]*Thread
	dead map[int32]*Thread
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		live: make(map[int32]*Thread),
		dead: make(map[int32]*Thread),
	}
}

// Register adds tid as live, returning its (possibly just-created) Thread.
func (r *Registry) Register(tid int32) *Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.live[tid]; ok {
		return t
	}
	t := &Thread{Tid: tid}
	r.live[tid] = t
	delete(r.dead, tid)
	return t
}

// Unregister moves tid from live to dead. It is not an error to unregister a
// tid that was never registered.
func (r *Registry) Unregister(tid int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.live[tid]; ok {
		delete(r.live, tid)
		r.dead[tid] = t
	}
}

// Lookup returns tid's Thread and whether it is currently live.
func (r *Registry) Lookup(tid int32) (*Thread, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.live[tid]; ok {
		return t, true
	}
	return nil, false
}

// MustLookup is Lookup but returns ErrThreadNotFound instead of false.
func (r *Registry) MustLookup(tid int32) (*Thread, error) {
	t, ok := r.Lookup(tid)
	if !ok {
		return nil, dbgerr.WrapWithTid(dbgerr.ErrThreadNotFound, dbgerr.NotFound, "lookup", tid)
	}
	return t, nil
}

// Live returns a snapshot slice of every currently-live tid, sorted
// ascending so callers that must process threads in a deterministic order
// (the execution controller's detach loops) don't inherit Go's randomized
// map iteration.
func (r *Registry) Live() []int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int32, 0, len(r.live))
	for tid := range r.live {
		out = append(out, tid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LiveCount reports how many threads are currently live.
func (r *Registry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

// IsLive reports whether tid is currently registered as live.
func (r *Registry) IsLive(tid int32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.live[tid]
	return ok
}

// UpdateRegs stores a freshly-fetched register snapshot for tid.
func (r *Registry) UpdateRegs(tid int32, regs arch.GPR, fp arch.FP) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.live[tid]
	if !ok {
		return dbgerr.WrapWithTid(dbgerr.ErrThreadNotFound, dbgerr.NotFound, "update_regs", tid)
	}
	t.Regs = regs
	t.FPRegs = fp
	return nil
}

// FreeAll clears both live and dead maps, releasing every cached snapshot.
func (r *Registry) FreeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = make(map[int32]*Thread)
	r.dead = make(map[int32]*Thread)
}
