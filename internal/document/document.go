// Package document defines the in-memory model shared by the translation
// pipeline: a Document is an ordered list of Containers (book chapters or a
// single subtitle track), each holding ordered ContentUnits — the smallest
// independently translatable pieces.
//
// Unit IDs are assigned by the upstream format parser and are never
// regenerated here. The engine treats ID and SourceText as read-only; only
// TargetText and the derived container titles are populated during a run.
package document

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Kind identifies what a ContentUnit represents in the source document.
type Kind string

const (
	KindParagraph    Kind = "paragraph"
	KindHeading      Kind = "heading"
	KindListItem     Kind = "list-item"
	KindCaption      Kind = "caption"
	KindTimedSegment Kind = "timed-segment"
)

// ContentUnit is one translatable item. Start and End are set only for
// timed-segment units (seconds from track start). Synthetic marks heading
// units injected by the planner for headless containers; they never appear
// in final output as body content.
type ContentUnit struct {
	ID         string  `json:"id"`
	Kind       Kind    `json:"kind"`
	SourceText string  `json:"source_text"`
	TargetText string  `json:"target_text,omitempty"`
	Start      float64 `json:"start,omitempty"`
	End        float64 `json:"end,omitempty"`
	Synthetic  bool    `json:"synthetic,omitempty"`
}

// Container groups ordered units: a book chapter or a subtitle track.
// TitleTarget is derived during reassembly from the translated heading.
type Container struct {
	ID          string        `json:"id"`
	Title       string        `json:"title,omitempty"`
	TitleTarget string        `json:"title_target,omitempty"`
	Units       []ContentUnit `json:"units"`
}

// NavEntry is one row of the external navigation index (EPUB ToC). It
// references a container by ID; Title is patched to the derived translated
// title after reassembly.
type NavEntry struct {
	ContainerID string `json:"container_id"`
	Title       string `json:"title"`
}

// Document is the full ordered structure handed to the engine.
type Document struct {
	Title      string      `json:"title,omitempty"`
	SourceLang string      `json:"source_lang,omitempty"`
	TargetLang string      `json:"target_lang,omitempty"`
	Containers []Container `json:"containers"`
	Nav        []NavEntry  `json:"nav,omitempty"`
}

// UnitCount returns the total number of units across all containers.
func (d *Document) UnitCount() int {
	n := 0
	for i := range d.Containers {
		n += len(d.Containers[i].Units)
	}
	return n
}

// UnitByID returns a lookup map over every unit in the document. The map
// values point into d, so callers must not hold them across mutations.
func (d *Document) UnitByID() map[string]*ContentUnit {
	m := make(map[string]*ContentUnit, d.UnitCount())
	for ci := range d.Containers {
		units := d.Containers[ci].Units
		for ui := range units {
			m[units[ui].ID] = &units[ui]
		}
	}
	return m
}

// Validate checks the structural invariants the engine relies on: every
// unit has a non-empty ID and IDs are globally unique.
func (d *Document) Validate() error {
	seen := make(map[string]string, d.UnitCount())
	for _, c := range d.Containers {
		if c.ID == "" {
			return fmt.Errorf("container with empty id (title %q)", c.Title)
		}
		for _, u := range c.Units {
			if u.ID == "" {
				return fmt.Errorf("container %q: unit with empty id", c.ID)
			}
			if prev, dup := seen[u.ID]; dup {
				return fmt.Errorf("duplicate unit id %q in containers %q and %q", u.ID, prev, c.ID)
			}
			seen[u.ID] = c.ID
		}
	}
	return nil
}

// Load reads a Document from a JSON file produced by a format parser.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a Document from r and validates it.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	return &doc, nil
}

// Save writes the document as indented JSON.
func (d *Document) Save(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}
