package services

import (
	"sort"
	"sync"
	"time"
)

// RequestState is where one (operation, entity) request stands.
type RequestState string

const (
	StateIdle    RequestState = "idle"
	StatePending RequestState = "pending"
	StateSuccess RequestState = "success"
	StateError   RequestState = "error"
)

// RequestStatus is the tracked state of one (operation, entity) pair.
type RequestStatus struct {
	Operation string       `json:"operation"`
	EntityID  string       `json:"entityId,omitempty"`
	State     RequestState `json:"state"`
	Reason    string       `json:"reason,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type requestKey struct {
	op string
	id string
}

// Tracker keeps loading state per operation and entity, so two missions
// accepted at the same time do not share one loading flag.
type Tracker struct {
	mu       sync.RWMutex
	requests map[requestKey]RequestStatus
	now      func() time.Time
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{requests: make(map[requestKey]RequestStatus), now: time.Now}
}

func (t *Tracker) set(op, id string, state RequestState, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests[requestKey{op, id}] = RequestStatus{
		Operation: op,
		EntityID:  id,
		State:     state,
		Reason:    reason,
		UpdatedAt: t.now(),
	}
}

// Begin marks the request pending
func (t *Tracker) Begin(op, id string) { t.set(op, id, StatePending, "") }

// Succeed marks the request successful
func (t *Tracker) Succeed(op, id string) { t.set(op, id, StateSuccess, "") }

// Fail marks the request failed with err's user message
func (t *Tracker) Fail(op, id string, err error) { t.set(op, id, StateError, userMessage(err)) }

// Status returns the state of (op, id); untracked pairs are idle.
func (t *Tracker) Status(op, id string) RequestStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.requests[requestKey{op, id}]; ok {
		return st
	}
	return RequestStatus{Operation: op, EntityID: id, State: StateIdle}
}

// Pending reports whether (op, id) is in flight
func (t *Tracker) Pending(op, id string) bool {
	return t.Status(op, id).State == StatePending
}

// Snapshot returns every tracked request, most recent first.
func (t *Tracker) Snapshot() []RequestStatus {
	t.mu.RLock()
	out := make([]RequestStatus, 0, len(t.requests))
	for _, st := range t.requests {
		out = append(out, st)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		if out[i].Operation != out[j].Operation {
			return out[i].Operation < out[j].Operation
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}
