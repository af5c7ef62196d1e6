// Package fragment implements the in-memory exchange contract between the
// engine and the LLM: every content unit travels as a tagged text fragment
// carrying its id as an attribute, so results are matched back by identity
// rather than position.
//
// Serialization is exact; deserialization is forgiving. Wrapper artifacts
// the model likes to add (code fences, quote wrapping) are stripped by a
// small grammar before fragments are located. An id that was sent but does
// not come back is reported as absent, never silently dropped.
package fragment

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/tometran/tometran/internal/planner"
)

// ErrMalformed reports a response that does not parse as the expected
// tagged structure at all. The whole task fails and every unit id becomes
// absent.
var ErrMalformed = errors.New("response contains no recognizable unit fragments")

// Serialize renders a single unit fragment.
func Serialize(id, text string) string {
	return fmt.Sprintf(`<unit id="%s">%s</unit>`, id, html.EscapeString(text))
}

// Payload renders the full task payload sent to the model. Batch tasks wrap
// each container's fragments in a container element (the array-like form the
// batch prompt template expects); Split and Fix tasks are a single
// contiguous fragment sequence.
func Payload(t *planner.Task) string {
	var sb strings.Builder
	switch t.Variant {
	case planner.Batch:
		for i, g := range t.Groups {
			if i > 0 {
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "<container id=%q>\n", g.ContainerID)
			for _, u := range g.Units {
				sb.WriteString(Serialize(u.ID, u.SourceText))
				sb.WriteByte('\n')
			}
			sb.WriteString("</container>")
		}
	case planner.Split, planner.Fix:
		first := true
		for _, g := range t.Groups {
			for _, u := range g.Units {
				if !first {
					sb.WriteByte('\n')
				}
				sb.WriteString(Serialize(u.ID, u.SourceText))
				first = false
			}
		}
	}
	return sb.String()
}

// unitRe locates tagged fragments in a model response. Attribute quoting is
// accepted with double or single quotes since models are sloppy about it.
var unitRe = regexp.MustCompile(`(?s)<unit\s+id=["']([^"']+)["']\s*>(.*?)</unit>`)

// Parse extracts per-unit translated text from a raw model response.
// Every id in expected either resolves to a string in the returned map or
// is left out (absent). Ids the model invented are ignored. When the
// response contains no unit fragments at all, ErrMalformed is returned and
// the map is nil.
func Parse(raw string, expected []string) (map[string]string, error) {
	cleaned := Strip(raw)

	matches := unitRe.FindAllStringSubmatch(cleaned, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, snippet(cleaned))
	}

	want := make(map[string]bool, len(expected))
	for _, id := range expected {
		want[id] = true
	}

	units := make(map[string]string, len(matches))
	for _, m := range matches {
		id := m[1]
		if !want[id] {
			continue
		}
		units[id] = html.UnescapeString(strings.TrimSpace(m[2]))
	}
	return units, nil
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 120 {
		return s[:120] + "..."
	}
	if s == "" {
		return "(empty response)"
	}
	return s
}
