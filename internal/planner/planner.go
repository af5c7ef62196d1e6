// Package planner partitions a document's translatable units into LLM-sized
// tasks under a token budget.
//
// Containers whose estimated cost fits the budget are packed whole, in
// document order, into Batch tasks. Oversized containers are walked unit by
// unit into ordered Split parts; a single unit larger than the budget is
// never subdivided — it becomes its own part alone. Repair rounds reuse the
// same budget logic through Replan.
package planner

import (
	"fmt"

	"github.com/tometran/tometran/internal/document"
	"github.com/tometran/tometran/internal/token"
)

// Variant distinguishes the three task shapes sent to the executor.
type Variant int

const (
	// Batch packs one or more whole small containers.
	Batch Variant = iota
	// Split carries one ordered part of an oversized container.
	Split
	// Fix carries a single isolated unit for repair.
	Fix
)

// String returns the variant name used in task IDs and logs.
func (v Variant) String() string {
	switch v {
	case Batch:
		return "batch"
	case Split:
		return "split"
	case Fix:
		return "fix"
	}
	return fmt.Sprintf("variant(%d)", int(v))
}

// Group is a run of units belonging to one container within a task.
type Group struct {
	ContainerID string
	Units       []document.ContentUnit
}

// Task is one unit of work for the executor. ContainerID, PartIndex and
// TotalParts are meaningful only for the Split variant.
type Task struct {
	ID          string
	Variant     Variant
	ContainerID string
	PartIndex   int
	TotalParts  int
	Groups      []Group
}

// Units returns the task's units flattened in order.
func (t *Task) Units() []document.ContentUnit {
	var units []document.ContentUnit
	for _, g := range t.Groups {
		units = append(units, g.Units...)
	}
	return units
}

// UnitIDs returns the ids of every unit in the task, in order.
func (t *Task) UnitIDs() []string {
	ids := make([]string, 0, len(t.Groups))
	for _, g := range t.Groups {
		for _, u := range g.Units {
			ids = append(ids, u.ID)
		}
	}
	return ids
}

// Options control budgeting. TokenLimit is the model's output token limit;
// the effective per-task budget is reduced by the language expansion factor
// (target-language growth headroom) and the safety margin.
type Options struct {
	TokenLimit      int
	ExpansionFactor float64
	SafetyMargin    float64
	Estimator       token.Estimator
}

// EffectiveBudget returns the per-task token budget T derived from the
// configured limit, expansion factor and safety margin.
func (o Options) EffectiveBudget() int {
	return int(float64(o.TokenLimit) / o.ExpansionFactor * o.SafetyMargin)
}

// Plan is the planner output: ordered tasks plus the ids of synthetic
// heading units that must be stripped out again at reassembly time.
type Plan struct {
	Tasks []Task
	// Synthetic maps synthetic heading unit id to its container id.
	Synthetic map[string]string
}

// SyntheticID returns the id given to the temporary heading unit injected
// into a headless container.
func SyntheticID(containerID string) string {
	return "synth::" + containerID
}

// Build partitions doc into Batch and Split tasks under the effective
// budget. Containers with zero units are omitted. Headless containers with
// known title metadata get a temporary synthetic heading unit so the model
// sees the chapter context.
func Build(doc *document.Document, opts Options) (*Plan, error) {
	if opts.Estimator == nil {
		opts.Estimator = token.NewHeuristic()
	}
	budget := opts.EffectiveBudget()
	if budget <= 0 {
		return nil, fmt.Errorf("effective token budget is %d; check token limit, expansion factor and safety margin", budget)
	}

	plan := &Plan{Synthetic: make(map[string]string)}

	var batch []Group
	batchTokens := 0

	flushBatch := func() {
		if len(batch) == 0 {
			return
		}
		plan.Tasks = append(plan.Tasks, Task{
			ID:      fmt.Sprintf("batch::%s::to::%s", batch[0].ContainerID, batch[len(batch)-1].ContainerID),
			Variant: Batch,
			Groups:  batch,
		})
		batch = nil
		batchTokens = 0
	}

	for _, c := range doc.Containers {
		if len(c.Units) == 0 {
			continue
		}

		units := prepareUnits(c, plan.Synthetic)
		total := 0
		for _, u := range units {
			total += opts.Estimator.Estimate(u.SourceText)
		}

		if total > budget {
			// Oversized container: finalize any pending batch first so
			// split parts stay in document order, then split.
			flushBatch()
			plan.Tasks = append(plan.Tasks, splitContainer(c.ID, units, budget, opts.Estimator)...)
			continue
		}

		if len(batch) > 0 && batchTokens+total > budget {
			flushBatch()
		}
		batch = append(batch, Group{ContainerID: c.ID, Units: units})
		batchTokens += total
	}
	flushBatch()

	return plan, nil
}

// prepareUnits copies a container's units, injecting a synthetic heading
// first when the container has no heading of its own but carries title
// metadata.
func prepareUnits(c document.Container, synthetic map[string]string) []document.ContentUnit {
	hasHeading := false
	for _, u := range c.Units {
		if u.Kind == document.KindHeading {
			hasHeading = true
			break
		}
	}

	var units []document.ContentUnit
	if !hasHeading && c.Title != "" {
		id := SyntheticID(c.ID)
		synthetic[id] = c.ID
		units = append(units, document.ContentUnit{
			ID:         id,
			Kind:       document.KindHeading,
			SourceText: c.Title,
			Synthetic:  true,
		})
	}
	return append(units, c.Units...)
}

// splitContainer walks units in order, accumulating parts that fit the
// budget. A single unit above the budget closes the current part and is
// emitted alone; unit atomicity is inviolable.
func splitContainer(containerID string, units []document.ContentUnit, budget int, est token.Estimator) []Task {
	var parts [][]document.ContentUnit
	var cur []document.ContentUnit
	curTokens := 0

	closePart := func() {
		if len(cur) > 0 {
			parts = append(parts, cur)
			cur = nil
			curTokens = 0
		}
	}

	for _, u := range units {
		cost := est.Estimate(u.SourceText)
		if cost > budget {
			closePart()
			parts = append(parts, []document.ContentUnit{u})
			continue
		}
		if len(cur) > 0 && curTokens+cost > budget {
			closePart()
		}
		cur = append(cur, u)
		curTokens += cost
	}
	closePart()

	tasks := make([]Task, len(parts))
	for i, p := range parts {
		tasks[i] = Task{
			ID:          fmt.Sprintf("split::%s::part_%d", containerID, i),
			Variant:     Split,
			ContainerID: containerID,
			PartIndex:   i,
			TotalParts:  len(parts),
			Groups:      []Group{{ContainerID: containerID, Units: p}},
		}
	}
	return tasks
}

// Replan packs loose units (soft-error repair) into fresh Batch tasks under
// the same budget, combining across original containers. Consecutive runs
// from the same container stay grouped. The label keeps task ids unique
// across rounds.
func Replan(units []document.ContentUnit, containerOf map[string]string, opts Options, label string) []Task {
	if len(units) == 0 {
		return nil
	}
	if opts.Estimator == nil {
		opts.Estimator = token.NewHeuristic()
	}
	budget := opts.EffectiveBudget()

	var tasks []Task
	var groups []Group
	groupTokens := 0

	flush := func() {
		if len(groups) == 0 {
			return
		}
		tasks = append(tasks, Task{
			ID:      fmt.Sprintf("%s::batch_%d", label, len(tasks)),
			Variant: Batch,
			Groups:  groups,
		})
		groups = nil
		groupTokens = 0
	}

	for _, u := range units {
		cost := opts.Estimator.Estimate(u.SourceText)
		if len(groups) > 0 && groupTokens+cost > budget {
			flush()
		}
		cid := containerOf[u.ID]
		if n := len(groups); n > 0 && groups[n-1].ContainerID == cid {
			groups[n-1].Units = append(groups[n-1].Units, u)
		} else {
			groups = append(groups, Group{ContainerID: cid, Units: []document.ContentUnit{u}})
		}
		groupTokens += cost
	}
	flush()

	return tasks
}

// FixTask wraps a single hard-error unit in an isolated repair task.
func FixTask(u document.ContentUnit, containerID, label string) Task {
	return Task{
		ID:      fmt.Sprintf("%s::fix::%s", label, u.ID),
		Variant: Fix,
		Groups:  []Group{{ContainerID: containerID, Units: []document.ContentUnit{u}}},
	}
}
