package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tometran/tometran/internal/document"
	"github.com/tometran/tometran/internal/llm"
	"github.com/tometran/tometran/internal/planner"
)

// mockClient scripts responses per call and tracks concurrency.
type mockClient struct {
	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
	delay       time.Duration
	respond     func(req llm.Request, call int) (string, error)
}

func (m *mockClient) Name() string { return "mock" }

func (m *mockClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()

	return m.respond(req, call)
}

func testOptions() Options {
	return Options{
		Concurrency:    2,
		RequestTimeout: 5 * time.Second,
		Retry: RetryPolicy{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     10 * time.Millisecond,
		},
		Prompts:    llm.DefaultPrompts(),
		SourceLang: "en",
		TargetLang: "fr",
	}
}

func fixTask(unitID, text string) planner.Task {
	return planner.FixTask(document.ContentUnit{
		ID:         unitID,
		Kind:       document.KindParagraph,
		SourceText: text,
	}, "ch1", "test")
}

// echoUnits answers every request by wrapping each requested id in a
// fragment carrying a fixed translation.
func echoUnits(req llm.Request) string {
	var sb strings.Builder
	for _, line := range strings.Split(req.Prompt, "\n") {
		if idx := strings.Index(line, `<unit id="`); idx >= 0 {
			rest := line[idx+len(`<unit id="`):]
			id := rest[:strings.Index(rest, `"`)]
			fmt.Fprintf(&sb, "<unit id=%q>translated %s</unit>\n", id, id)
		}
	}
	return sb.String()
}

func TestExecute_ResolvesUnits(t *testing.T) {
	client := &mockClient{respond: func(req llm.Request, _ int) (string, error) {
		return echoUnits(req), nil
	}}
	log := &ResponseLog{}
	ex := New(client, log, testOptions())

	tasks := []planner.Task{fixTask("u1", "hello"), fixTask("u2", "world")}
	results := ex.Execute(context.Background(), tasks)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("task %s failed: %v", r.Task.ID, r.Err)
		}
		id := r.Task.UnitIDs()[0]
		if got := r.Units[id]; got != "translated "+id {
			t.Errorf("unit %s = %q", id, got)
		}
	}
}

func TestExecute_BoundsConcurrency(t *testing.T) {
	client := &mockClient{
		delay: 20 * time.Millisecond,
		respond: func(req llm.Request, _ int) (string, error) {
			return echoUnits(req), nil
		},
	}
	log := &ResponseLog{}
	opts := testOptions()
	opts.Concurrency = 2
	ex := New(client, log, opts)

	var tasks []planner.Task
	for i := 0; i < 8; i++ {
		tasks = append(tasks, fixTask(fmt.Sprintf("u%d", i), "text"))
	}
	ex.Execute(context.Background(), tasks)

	if client.maxInFlight > 2 {
		t.Errorf("concurrency bound violated: %d requests in flight", client.maxInFlight)
	}
}

func TestExecute_RetriesTransientFailure(t *testing.T) {
	client := &mockClient{respond: func(req llm.Request, call int) (string, error) {
		if call == 1 {
			return "", &llm.HTTPStatusError{Status: 503, Task: req.TaskID}
		}
		return echoUnits(req), nil
	}}
	log := &ResponseLog{}
	ex := New(client, log, testOptions())

	results := ex.Execute(context.Background(), []planner.Task{fixTask("u1", "hello")})
	if results[0].Err != nil {
		t.Fatalf("expected recovery after retry, got %v", results[0].Err)
	}
	if client.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", client.calls)
	}
	entries := log.Entries()
	if len(entries) != 1 || entries[0].Attempts != 2 {
		t.Errorf("exchange log attempts = %+v", entries)
	}
}

func TestExecute_DoesNotRetryPermanentFailure(t *testing.T) {
	client := &mockClient{respond: func(req llm.Request, _ int) (string, error) {
		return "", errors.New("invalid api key")
	}}
	log := &ResponseLog{}
	ex := New(client, log, testOptions())

	results := ex.Execute(context.Background(), []planner.Task{fixTask("u1", "hello")})
	if results[0].Err == nil {
		t.Fatal("expected task failure")
	}
	if client.calls != 1 {
		t.Errorf("permanent failure retried: %d calls", client.calls)
	}
}

func TestExecute_MalformedResponseLeavesUnitsAbsent(t *testing.T) {
	client := &mockClient{respond: func(req llm.Request, _ int) (string, error) {
		return "I'm sorry, I can't help with that.", nil
	}}
	log := &ResponseLog{}
	ex := New(client, log, testOptions())

	results := ex.Execute(context.Background(), []planner.Task{fixTask("u1", "hello")})
	r := results[0]
	if r.Err == nil {
		t.Fatal("expected malformed-response error")
	}
	if len(r.Units) != 0 {
		t.Errorf("expected no resolved units, got %v", r.Units)
	}
	if r.Raw == "" {
		t.Error("raw response not preserved on failure")
	}
}

func TestExecute_LogsEveryExchange(t *testing.T) {
	client := &mockClient{respond: func(req llm.Request, call int) (string, error) {
		if call%2 == 0 {
			return "garbage", nil
		}
		return echoUnits(req), nil
	}}
	log := &ResponseLog{}
	ex := New(client, log, testOptions())

	var tasks []planner.Task
	for i := 0; i < 6; i++ {
		tasks = append(tasks, fixTask(fmt.Sprintf("u%d", i), "text"))
	}
	ex.Execute(context.Background(), tasks)

	entries := log.Entries()
	if len(entries) != len(tasks) {
		t.Fatalf("expected %d log entries, got %d", len(tasks), len(entries))
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		seen[e.TaskID] = true
		if e.Variant != "fix" {
			t.Errorf("entry %s variant = %q", e.TaskID, e.Variant)
		}
	}
	for _, task := range tasks {
		if !seen[task.ID] {
			t.Errorf("task %s missing from log", task.ID)
		}
	}
}

func TestRetryPolicy_Next(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 3 * time.Second}
	transient := &llm.HTTPStatusError{Status: 500}

	if d, ok := p.Next(0, transient); !ok || d != time.Second {
		t.Errorf("attempt 0: got (%v, %v)", d, ok)
	}
	if d, ok := p.Next(1, transient); !ok || d != 2*time.Second {
		t.Errorf("attempt 1: got (%v, %v)", d, ok)
	}
	if _, ok := p.Next(2, transient); ok {
		t.Error("attempt budget not enforced")
	}
	if _, ok := p.Next(0, errors.New("bad request")); ok {
		t.Error("non-transient error retried")
	}
}

func TestRetryPolicy_DelayCapped(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, InitialDelay: time.Second, MaxDelay: 4 * time.Second}
	if d, ok := p.Next(5, &llm.HTTPStatusError{Status: 500}); !ok || d != 4*time.Second {
		t.Errorf("expected capped delay 4s, got (%v, %v)", d, ok)
	}
}

func TestTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"rate limited", &llm.HTTPStatusError{Status: 429}, true},
		{"server error", &llm.HTTPStatusError{Status: 502}, true},
		{"client error", &llm.HTTPStatusError{Status: 400}, false},
		{"generic", errors.New("boom"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Transient(c.err); got != c.want {
				t.Errorf("Transient(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}
