// Package assemble merges per-unit translated text back into a structurally
// faithful document. The original Document is never mutated: a new value is
// constructed from the original plus the translation map.
package assemble

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tometran/tometran/internal/document"
	"github.com/tometran/tometran/internal/executor"
	"github.com/tometran/tometran/internal/planner"
)

// ErrMissingPart reports a split container that cannot be reassembled
// because a part index in 0..total_parts-1 never produced a result.
// Reassembly fails loudly instead of silently reordering.
var ErrMissingPart = errors.New("missing split part")

// Build constructs the translated document. units maps unit id to final
// translated text (absent ids keep an empty target). results supplies the
// Split task metadata used to verify part completeness; synthetic maps
// injected heading unit ids to their container so their translations become
// derived titles instead of body content.
func Build(doc *document.Document, results []executor.Result, units map[string]string, synthetic map[string]string) (*document.Document, error) {
	splitParts, err := collectSplitParts(results)
	if err != nil {
		return nil, err
	}

	// Derived titles from synthetic headings, keyed by container id.
	synthTitle := make(map[string]string)
	for synthID, containerID := range synthetic {
		if text, ok := units[synthID]; ok && text != "" {
			synthTitle[containerID] = text
		}
	}

	out := &document.Document{
		Title:      doc.Title,
		SourceLang: doc.SourceLang,
		TargetLang: doc.TargetLang,
		Containers: make([]document.Container, len(doc.Containers)),
	}

	for i, c := range doc.Containers {
		var ordered []document.ContentUnit
		if parts, isSplit := splitParts[c.ID]; isSplit {
			ordered = concatParts(parts)
		} else {
			ordered = c.Units
		}

		rebuilt := document.Container{
			ID:    c.ID,
			Title: c.Title,
			Units: make([]document.ContentUnit, 0, len(ordered)),
		}
		for _, u := range ordered {
			if u.Synthetic {
				continue
			}
			nu := u
			if text, ok := units[u.ID]; ok {
				nu.TargetText = text
			}
			rebuilt.Units = append(rebuilt.Units, nu)
		}

		rebuilt.TitleTarget = deriveTitle(rebuilt, synthTitle[c.ID])
		out.Containers[i] = rebuilt
	}

	out.Nav = patchNav(doc.Nav, out.Containers)
	return out, nil
}

// collectSplitParts groups Split results by container and verifies that
// every part index 0..total_parts-1 is present exactly once.
func collectSplitParts(results []executor.Result) (map[string][]planner.Task, error) {
	parts := make(map[string][]planner.Task)
	for _, r := range results {
		if r.Task.Variant == planner.Split {
			parts[r.Task.ContainerID] = append(parts[r.Task.ContainerID], r.Task)
		}
	}

	for containerID, tasks := range parts {
		sort.Slice(tasks, func(i, j int) bool { return tasks[i].PartIndex < tasks[j].PartIndex })
		total := tasks[0].TotalParts
		if len(tasks) != total {
			return nil, fmt.Errorf("%w: container %q has %d of %d parts", ErrMissingPart, containerID, len(tasks), total)
		}
		for i, t := range tasks {
			if t.PartIndex != i {
				return nil, fmt.Errorf("%w: container %q part %d", ErrMissingPart, containerID, i)
			}
		}
		parts[containerID] = tasks
	}
	return parts, nil
}

// concatParts flattens already-sorted split parts back into one ordered
// unit sequence. Ordering follows part index ascending regardless of the
// order tasks completed in.
func concatParts(tasks []planner.Task) []document.ContentUnit {
	var out []document.ContentUnit
	for _, t := range tasks {
		out = append(out, t.Units()...)
	}
	return out
}

// deriveTitle picks the container's translated title: the synthetic heading
// translation when one was injected, otherwise the first real heading
// unit's target text, otherwise the untranslated title as a fallback.
func deriveTitle(c document.Container, synthTitle string) string {
	if synthTitle != "" {
		return synthTitle
	}
	for _, u := range c.Units {
		if u.Kind == document.KindHeading && u.TargetText != "" {
			return u.TargetText
		}
	}
	return c.Title
}

// patchNav rewrites navigation titles to the derived translated titles. A
// pure post-processing step; unit data is untouched.
func patchNav(nav []document.NavEntry, containers []document.Container) []document.NavEntry {
	if len(nav) == 0 {
		return nil
	}
	titles := make(map[string]string, len(containers))
	for _, c := range containers {
		if c.TitleTarget != "" {
			titles[c.ID] = c.TitleTarget
		}
	}
	out := make([]document.NavEntry, len(nav))
	for i, e := range nav {
		out[i] = e
		if t, ok := titles[e.ContainerID]; ok {
			out[i].Title = t
		}
	}
	return out
}
