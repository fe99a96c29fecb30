package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sync"
	"testing"

	"github.com/pointid/mission-gateway/internal/graphql"
	"github.com/pointid/mission-gateway/internal/models"
	"go.uber.org/zap"
)

var operationName = regexp.MustCompile(`^\s*(?:query|mutation|subscription)\s+(\w+)`)

type call struct {
	Operation string
	Variables map[string]any
}

type responder func(vars map[string]any) (any, error)

// fakeExecutor answers GraphQL operations by operation name and records
// every call. Subscriptions are detached and fed by the test.
type fakeExecutor struct {
	mu        sync.Mutex
	responses map[string]responder
	calls     []call
	subs      map[string]*graphql.Subscription
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		responses: make(map[string]responder),
		subs:      make(map[string]*graphql.Subscription),
	}
}

func (f *fakeExecutor) on(op string, r responder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[op] = r
}

func (f *fakeExecutor) reply(op string, data any) {
	f.on(op, func(map[string]any) (any, error) { return data, nil })
}

func (f *fakeExecutor) fail(op string, err error) {
	f.on(op, func(map[string]any) (any, error) { return nil, err })
}

func opName(query string) string {
	if m := operationName.FindStringSubmatch(query); m != nil {
		return m[1]
	}
	return ""
}

func (f *fakeExecutor) Do(_ context.Context, req graphql.Request, out any) error {
	op := opName(req.Query)

	f.mu.Lock()
	f.calls = append(f.calls, call{Operation: op, Variables: req.Variables})
	r, ok := f.responses[op]
	f.mu.Unlock()

	if !ok {
		return &graphql.Error{Kind: graphql.KindInternal, Op: op, Err: fmt.Errorf("no fake response for %s", op)}
	}
	data, err := r(req.Variables)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeExecutor) Subscribe(_ context.Context, req graphql.Request) (*graphql.Subscription, error) {
	op := opName(req.Query)
	sub := graphql.NewSubscription(op)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Operation: op})
	f.subs[op] = sub
	return sub, nil
}

func (f *fakeExecutor) subscription(op string) *graphql.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[op]
}

func (f *fakeExecutor) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Operation == op {
			n++
		}
	}
	return n
}

func (f *fakeExecutor) last(op string) call {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Operation == op {
			return f.calls[i]
		}
	}
	return call{}
}

type fakeUploader struct {
	mu       sync.Mutex
	requests []graphql.UploadRequest
	sizes    map[string]int64
	document func(req graphql.UploadRequest, size int64) *models.Document
	err      error
}

func (u *fakeUploader) Upload(_ context.Context, req graphql.UploadRequest, out any) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	u.requests = append(u.requests, req)

	var size int64
	for _, f := range req.Files {
		n, err := io.Copy(io.Discard, f.Body)
		if err != nil {
			return err
		}
		size += n
	}

	raw, err := json.Marshal(map[string]any{"document": u.document(req, size)})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func testLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func newTestMissionStore(t *testing.T, role models.Role) (*MissionStore, *fakeExecutor, *ToastQueue, *MemoryLedger) {
	t.Helper()
	exec := newFakeExecutor()
	toasts := NewToastQueue(10, testLogger())
	ledger := NewMemoryLedger()
	store := NewMissionStore(exec, &fakeUploader{}, ledger, Identity{AccountID: "acc-1", Role: role}, toasts, testLogger())
	return store, exec, toasts, ledger
}
