package inbox

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nexus-core/agentruntime/internal/models"
)

// fakeQueue is an in-memory stand-in for *kv.Client's list operations,
// checking keys in argument order like Redis's BRPOP.
type fakeQueue struct {
	mu    sync.Mutex
	lists map[string][]string
	kv    map[string]string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{lists: make(map[string][]string), kv: make(map[string]string)}
}

func (f *fakeQueue) LPush(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[key] = append([]string{value}, f.lists[key]...)
	return nil
}

func (f *fakeQueue) BRPop(ctx context.Context, timeout time.Duration, keys ...string) (string, string, error) {
	deadline := time.Now().Add(timeout)
	for {
		f.mu.Lock()
		for _, k := range keys {
			if lst := f.lists[k]; len(lst) > 0 {
				v := lst[len(lst)-1]
				f.lists[k] = lst[:len(lst)-1]
				f.mu.Unlock()
				return k, v, nil
			}
		}
		f.mu.Unlock()
		if time.Now().After(deadline) {
			return "", "", nil
		}
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (f *fakeQueue) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = value
	return nil
}

func (f *fakeQueue) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	return v, ok
}

type fakeRunner struct {
	answer string
}

func (f fakeRunner) Run(ctx context.Context, task models.Task) models.RunResult {
	return models.RunResult{SessionID: "s1", Success: true, Answer: f.answer}
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Publish(ctx context.Context, channel, event string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, channel+":"+event)
}

func waitFor(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatcherRoutesToAgentLoopAndAnswers(t *testing.T) {
	q := newFakeQueue()
	notifier := &fakeNotifier{}
	d := New(q, fakeRunner{answer: "42"}, nil, notifier, nil, Config{PollTimeout: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	task := models.Task{ID: "t1", Message: "what is the answer", RequestID: "req-1", Priority: models.PriorityNormal}
	if err := d.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, func() bool {
		v, ok := q.get(answerKey("req-1"))
		return ok && v == "42"
	})

	waitFor(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return len(notifier.events) == 1 && notifier.events[0] == AnsweredChannel+":answered"
	})
}

type recordingSkill struct {
	name string
}

func (r recordingSkill) Handle(ctx context.Context, task models.Task) (string, error) {
	return "handled by " + r.name, nil
}

type fakeRouter struct {
	byName map[string]SkillHandler
}

func (f fakeRouter) ByName(name string) (SkillHandler, bool) {
	h, ok := f.byName[name]
	return h, ok
}

func (f fakeRouter) MatchTrigger(message string) (SkillHandler, bool) {
	return nil, false
}

func TestDispatcherPrefersExplicitSkillOverLoop(t *testing.T) {
	q := newFakeQueue()
	router := fakeRouter{byName: map[string]SkillHandler{"weather": recordingSkill{name: "weather"}}}
	d := New(q, fakeRunner{answer: "should not run"}, router, nil, nil, Config{PollTimeout: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	task := models.Task{ID: "t2", Message: "what's the weather", RequestID: "req-2", Params: map[string]any{"skill": "weather"}}
	if err := d.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, func() bool {
		v, ok := q.get(answerKey("req-2"))
		return ok && v == "handled by weather"
	})
}

func TestDispatcherPriorityOrdering(t *testing.T) {
	q := newFakeQueue()
	_ = q.LPush(context.Background(), queueLow, encode(t, models.Task{ID: "low", RequestID: "r-low", Priority: models.PriorityLow}))
	_ = q.LPush(context.Background(), queueHigh, encode(t, models.Task{ID: "high", RequestID: "r-high", Priority: models.PriorityHigh}))

	key, value, err := q.BRPop(context.Background(), time.Second, queueHigh, queueNormal, queueLow)
	if err != nil {
		t.Fatalf("BRPop: %v", err)
	}
	if key != queueHigh {
		t.Fatalf("expected high-priority queue to win, got %q", key)
	}
	var task models.Task
	if err := json.Unmarshal([]byte(value), &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if task.ID != "high" {
		t.Fatalf("expected high-priority task first, got %q", task.ID)
	}
}

func encode(t *testing.T, task models.Task) string {
	t.Helper()
	raw, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}
