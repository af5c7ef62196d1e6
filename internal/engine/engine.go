// Package engine drives the full translation pipeline: plan, execute,
// classify, repair, reassemble.
//
// The repair loop runs a bounded number of rounds. Soft errors (absent or
// sentinel text) are repacked into fresh batches; hard errors (repetition,
// escape marker) are retried in isolation so one degenerate unit cannot
// poison a shared batch. Units still failing at the ceiling keep their
// last-known text and are surfaced to the caller — a document always
// completes best-effort.
package engine

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/tometran/tometran/internal/assemble"
	"github.com/tometran/tometran/internal/document"
	"github.com/tometran/tometran/internal/executor"
	"github.com/tometran/tometran/internal/llm"
	"github.com/tometran/tometran/internal/planner"
	"github.com/tometran/tometran/internal/quality"
)

// Unresolved describes a unit that still failed after the final repair
// round. LastText is the last-known (possibly empty) translated text that
// was retained in the output.
type Unresolved struct {
	UnitID      string
	ContainerID string
	Class       quality.ErrorClass
	LastText    string
}

// Outcome is the result of a run: the translated document, any units left
// unresolved, and the full raw exchange log for audit or export.
type Outcome struct {
	Doc        *document.Document
	Unresolved []Unresolved
	Log        *executor.ResponseLog
}

// Engine translates documents through a single LLM client.
type Engine struct {
	cfg    Config
	client llm.Client
	log    *executor.ResponseLog
	exec   *executor.Executor
}

// New validates cfg and builds an Engine.
func New(client llm.Client, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log := &executor.ResponseLog{}
	return &Engine{
		cfg:    cfg,
		client: client,
		log:    log,
		exec:   executor.New(client, log, cfg.executorOptions()),
	}, nil
}

// Log exposes the engine's response log (appended to across runs).
func (e *Engine) Log() *executor.ResponseLog { return e.log }

// attempt is the latest per-unit result; re-derived each round, never
// persisted beyond it.
type attempt struct {
	text    string
	present bool
}

// Translate runs the full pipeline and returns a new translated document.
// The input document is never mutated.
func (e *Engine) Translate(ctx context.Context, doc *document.Document) (*Outcome, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	plan, err := planner.Build(doc, e.cfg.plannerOptions())
	if err != nil {
		return nil, err
	}
	e.progress("planned %d task(s) for %d unit(s)", len(plan.Tasks), doc.UnitCount())

	// Source copies and container ownership for every unit the plan sends,
	// synthetic headings included.
	source := make(map[string]document.ContentUnit)
	containerOf := make(map[string]string)
	for _, t := range plan.Tasks {
		for _, g := range t.Groups {
			for _, u := range g.Units {
				source[u.ID] = u
				containerOf[u.ID] = g.ContainerID
			}
		}
	}

	allResults := e.exec.Execute(ctx, plan.Tasks)

	latest := make(map[string]attempt, len(source))
	recordResults(latest, allResults)

	// Quality-control rounds 1..R-1; round 0 was the initial execution.
	for round := 1; round < e.cfg.MaxRounds; round++ {
		soft, hard := e.partition(latest, source)
		if len(soft) == 0 && len(hard) == 0 {
			break
		}
		e.progress("repair round %d/%d: %d soft, %d hard", round, e.cfg.MaxRounds-1, len(soft), len(hard))

		label := fmt.Sprintf("repair::round_%d", round)
		tasks := planner.Replan(soft, containerOf, e.cfg.plannerOptions(), label)
		for _, u := range hard {
			tasks = append(tasks, planner.FixTask(u, containerOf[u.ID], label))
		}

		results := e.exec.Execute(ctx, tasks)
		recordResults(latest, results)
		allResults = append(allResults, results...)
	}

	// Dedicated pass for units the model echoed back untranslated.
	if missed := e.missedCandidates(latest, source); len(missed) > 0 {
		e.progress("missed-translation pass: %d candidate(s)", len(missed))
		var tasks []planner.Task
		for _, u := range missed {
			tasks = append(tasks, planner.FixTask(u, containerOf[u.ID], "missed"))
		}
		results := e.exec.Execute(ctx, tasks)
		for _, r := range results {
			for _, id := range r.Task.UnitIDs() {
				text, ok := r.Units[id]
				if !ok || quality.Classify(text, true) != quality.Success {
					continue // keep the echoed text over a worse retry
				}
				latest[id] = attempt{text: text, present: true}
			}
		}
		allResults = append(allResults, results...)
	}

	final, unresolved := e.finalize(latest, containerOf, plan.Synthetic)

	out, err := assemble.Build(doc, allResults, final, plan.Synthetic)
	if err != nil {
		return nil, err
	}

	if len(unresolved) > 0 {
		e.progress("%d unit(s) unresolved after %d round(s)", len(unresolved), e.cfg.MaxRounds)
	}
	return &Outcome{Doc: out, Unresolved: unresolved, Log: e.log}, nil
}

// recordResults folds task results into the latest-attempt map. Absent ids
// are recorded as absent, never dropped.
func recordResults(latest map[string]attempt, results []executor.Result) {
	for _, r := range results {
		for _, id := range r.Task.UnitIDs() {
			text, ok := r.Units[id]
			latest[id] = attempt{text: text, present: ok}
		}
	}
}

// partition classifies every tracked unit from its latest attempt and
// returns the soft- and hard-error unit lists in stable id order.
func (e *Engine) partition(latest map[string]attempt, source map[string]document.ContentUnit) (soft, hard []document.ContentUnit) {
	for _, id := range sortedIDs(latest) {
		a := latest[id]
		switch quality.Classify(a.text, a.present) {
		case quality.SoftError:
			soft = append(soft, source[id])
		case quality.HardError:
			hard = append(hard, source[id])
		}
	}
	return soft, hard
}

// missedCandidates returns successfully translated units whose text is
// byte-identical to the source after normalization.
func (e *Engine) missedCandidates(latest map[string]attempt, source map[string]document.ContentUnit) []document.ContentUnit {
	var out []document.ContentUnit
	for _, id := range sortedIDs(latest) {
		a := latest[id]
		if quality.Classify(a.text, a.present) != quality.Success {
			continue
		}
		if quality.MissedTranslation(source[id].SourceText, a.text) {
			out = append(out, source[id])
		}
	}
	return out
}

// finalize converts latest attempts into the per-unit translation map and
// the unresolved report. Units failing after the last round retain their
// last-known text (hard errors keep the degenerate text for inspection;
// absent soft errors stay empty) — unresolved units are reported, never
// silently lost, and never block the rest of the document. Synthetic
// heading units are planner-internal: a failed one only means the
// container title falls back to the untranslated original, so it is never
// reported under its internal id.
func (e *Engine) finalize(latest map[string]attempt, containerOf, synthetic map[string]string) (map[string]string, []Unresolved) {
	final := make(map[string]string, len(latest))
	var unresolved []Unresolved

	for _, id := range sortedIDs(latest) {
		a := latest[id]
		class := quality.Classify(a.text, a.present)
		if class == quality.Success {
			final[id] = a.text
			continue
		}
		if a.present && a.text != "" {
			final[id] = a.text
		}
		if _, isSynthetic := synthetic[id]; isSynthetic {
			continue
		}
		unresolved = append(unresolved, Unresolved{
			UnitID:      id,
			ContainerID: containerOf[id],
			Class:       class,
			LastText:    final[id],
		})
	}
	return final, unresolved
}

func sortedIDs(m map[string]attempt) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) progress(format string, args ...any) {
	if e.cfg.Verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
