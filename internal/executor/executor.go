// Package executor issues translation tasks to the LLM under bounded
// concurrency with transient-failure retry.
//
// It is the only parallel stage of the pipeline. Results are matched back
// to units by id, so no ordering guarantee exists between concurrently
// executing tasks; every raw exchange is appended to a caller-owned
// response log ordered by completion time.
package executor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/tometran/tometran/internal/fragment"
	"github.com/tometran/tometran/internal/llm"
	"github.com/tometran/tometran/internal/planner"
)

// Result is the outcome of one task. Every unit id sent in the task either
// resolves to a string in Units or is absent; a task-level failure leaves
// Units empty and Err set. Raw carries the last model response verbatim.
type Result struct {
	Task  planner.Task
	Raw   string
	Units map[string]string
	Err   error
}

// Exchange is one append-only response-log record, successful or not.
type Exchange struct {
	TaskID      string
	Variant     string
	Attempts    int
	Raw         string
	Err         string
	CompletedAt time.Time
}

// ResponseLog collects every raw LLM exchange of a run, ordered by
// completion. It is the only concurrently written shared resource in the
// pipeline; appends are atomic, nothing more is guaranteed.
type ResponseLog struct {
	mu      sync.Mutex
	entries []Exchange
}

// Append records one exchange.
func (l *ResponseLog) Append(e Exchange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

// Entries returns a copy of all recorded exchanges in completion order.
func (l *ResponseLog) Entries() []Exchange {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Exchange, len(l.entries))
	copy(out, l.entries)
	return out
}

// Options configure an Executor.
type Options struct {
	Concurrency    int
	RequestTimeout time.Duration
	Retry          RetryPolicy
	Prompts        llm.PromptSet
	SourceLang     string
	TargetLang     string
	Glossary       map[string]string
	// Verbose prints per-task progress to stderr.
	Verbose bool
}

// Executor runs tasks against a single LLM client.
type Executor struct {
	client  llm.Client
	opts    Options
	breaker *gobreaker.CircuitBreaker
	log     *ResponseLog
}

// New creates an Executor writing raw exchanges into log. The circuit
// breaker trips after a run of consecutive transport failures so a dead
// endpoint fails fast instead of burning the whole retry budget per task.
func New(client llm.Client, log *ResponseLog, opts Options) *Executor {
	return &Executor{
		client: client,
		opts:   opts,
		log:    log,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    client.Name(),
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Execute runs all tasks with at most Concurrency in flight and returns one
// Result per task. The slice is indexed like tasks but callers must match
// by id, not position.
func (e *Executor) Execute(ctx context.Context, tasks []planner.Task) []Result {
	results := make([]Result, len(tasks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)

	for i := range tasks {
		i := i
		g.Go(func() error {
			results[i] = e.run(ctx, tasks[i])
			return nil
		})
	}
	// Workers never return errors; failures are per-task Result values.
	_ = g.Wait()

	return results
}

// run executes a single task through the retry loop and records the
// exchange.
func (e *Executor) run(ctx context.Context, task planner.Task) Result {
	prompt := llm.Render(e.opts.Prompts.For(task.Variant), llm.PromptData{
		SourceLang: e.opts.SourceLang,
		TargetLang: e.opts.TargetLang,
		Glossary:   e.opts.Glossary,
		Payload:    fragment.Payload(&task),
	})

	raw, attempts, err := e.complete(ctx, llm.Request{TaskID: task.ID, Prompt: prompt})

	result := Result{Task: task, Raw: raw, Units: map[string]string{}}
	if err != nil {
		result.Err = fmt.Errorf("task %s failed after %d attempt(s): %w", task.ID, attempts, err)
	} else {
		units, perr := fragment.Parse(raw, task.UnitIDs())
		if perr != nil {
			// Unparsable response: the whole task fails and all its unit
			// ids stay absent.
			result.Err = fmt.Errorf("task %s: %w", task.ID, perr)
		} else {
			result.Units = units
		}
	}

	e.log.Append(Exchange{
		TaskID:      task.ID,
		Variant:     task.Variant.String(),
		Attempts:    attempts,
		Raw:         raw,
		Err:         errString(result.Err),
		CompletedAt: time.Now(),
	})

	if e.opts.Verbose {
		status := "ok"
		if result.Err != nil {
			status = result.Err.Error()
		}
		fmt.Fprintf(os.Stderr, "  task %s: %d/%d units, %s\n",
			task.ID, len(result.Units), len(task.UnitIDs()), status)
	}
	return result
}

// complete drives the bounded retry loop around one request. A timeout
// counts as one attempt against the backoff budget, not against the task
// batch as a whole.
func (e *Executor) complete(ctx context.Context, req llm.Request) (raw string, attempts int, err error) {
	for attempt := 0; ; attempt++ {
		attempts = attempt + 1

		reqCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
		out, cerr := e.breaker.Execute(func() (any, error) {
			return e.client.Complete(reqCtx, req)
		})
		cancel()

		if cerr == nil {
			return out.(string), attempts, nil
		}
		err = cerr

		delay, retry := e.opts.Retry.Next(attempt, cerr)
		if !retry {
			return "", attempts, err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", attempts, ctx.Err()
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
