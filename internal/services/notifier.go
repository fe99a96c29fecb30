package services

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Toast levels
const (
	ToastSuccess = "success"
	ToastError   = "error"
)

// Toast is a user-visible notification produced by a store action.
type Toast struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Operation string    `json:"operation,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier receives the outcome of store actions
type Notifier interface {
	Success(op, message string)
	Failure(op string, err error)
}

// ToastQueue buffers toasts until the front end drains them. The oldest
// toasts are dropped once max is reached.
type ToastQueue struct {
	mu     sync.Mutex
	items  []Toast
	max    int
	logger *zap.SugaredLogger
}

// NewToastQueue creates a queue holding at most max toasts
func NewToastQueue(max int, logger *zap.SugaredLogger) *ToastQueue {
	if max <= 0 {
		max = 50
	}
	return &ToastQueue{max: max, logger: logger}
}

func (q *ToastQueue) Success(op, message string) {
	q.push(Toast{Level: ToastSuccess, Message: message, Operation: op, At: time.Now()})
}

// Failure classifies err and queues the matching error toast.
func (q *ToastQueue) Failure(op string, err error) {
	kind := ErrorKind(err)
	q.logger.Warnw("Operation failed", "operation", op, "kind", kind, "error", err)
	q.push(Toast{Level: ToastError, Message: userMessage(err), Operation: op, Kind: string(kind), At: time.Now()})
}

func (q *ToastQueue) push(t Toast) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, t)
	if over := len(q.items) - q.max; over > 0 {
		q.items = append([]Toast(nil), q.items[over:]...)
	}
}

// Drain returns the queued toasts and empties the queue
func (q *ToastQueue) Drain() []Toast {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Len returns the number of queued toasts
func (q *ToastQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
