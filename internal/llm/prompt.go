package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tometran/tometran/internal/planner"
)

// PromptSet holds one template per task variant. Templates are opaque
// strings with placeholders; operators may override any of them through
// configuration.
//
// Recognized placeholders: {{SOURCE_LANG}}, {{TARGET_LANG}}, {{GLOSSARY}},
// {{PAYLOAD}}.
type PromptSet struct {
	Batch string
	Split string
	Fix   string
}

// For returns the template for a task variant.
func (p PromptSet) For(v planner.Variant) string {
	switch v {
	case planner.Split:
		return p.Split
	case planner.Fix:
		return p.Fix
	default:
		return p.Batch
	}
}

// PromptData carries the values substituted into a template.
type PromptData struct {
	SourceLang string
	TargetLang string
	Glossary   map[string]string
	Payload    string
}

// Render substitutes placeholders in tmpl. Unknown placeholders are left
// as-is so template typos surface in the model output rather than panic.
func Render(tmpl string, data PromptData) string {
	r := strings.NewReplacer(
		"{{SOURCE_LANG}}", data.SourceLang,
		"{{TARGET_LANG}}", data.TargetLang,
		"{{GLOSSARY}}", renderGlossary(data.Glossary),
		"{{PAYLOAD}}", data.Payload,
	)
	return r.Replace(tmpl)
}

// renderGlossary formats glossary terms as a terminology block. Terms are
// sorted so rendered prompts are deterministic.
func renderGlossary(glossary map[string]string) string {
	if len(glossary) == 0 {
		return ""
	}
	terms := make([]string, 0, len(glossary))
	for src := range glossary {
		terms = append(terms, src)
	}
	sort.Strings(terms)

	var sb strings.Builder
	sb.WriteString("TERMINOLOGY (use these exact translations):\n")
	for _, src := range terms {
		fmt.Fprintf(&sb, "  %s → %s\n", src, glossary[src])
	}
	return sb.String()
}

// commonRules are shared by all default templates. The escape-marker rule
// gives the model a safe way out for untranslatable text instead of letting
// it degrade into character repetition.
const commonRules = `RULES:
1. Each content unit is wrapped as <unit id="...">text</unit>. Translate only the text between the tags.
2. Return every unit with its id attribute as an IDENTICAL, UNCHANGED copy of the input id. Never invent, merge, or drop units.
3. Keep the units in the order they were given.
4. If a unit genuinely cannot be translated, return its original text wrapped in square brackets, e.g. <unit id="x">[original text]</unit>. Never repeat characters to fill space.
5. Output only the translated units in the same markup. No commentary, no code fences.

{{GLOSSARY}}`

// DefaultPrompts returns the built-in template set.
func DefaultPrompts() PromptSet {
	return PromptSet{
		Batch: `You are a professional translator. Translate the content units below from {{SOURCE_LANG}} to {{TARGET_LANG}}.

The units are grouped per chapter inside <container id="..."> elements. Preserve the container elements and their ids exactly as given.

` + commonRules + `

--- START OF CONTENT ---
{{PAYLOAD}}
--- END OF CONTENT ---`,

		Split: `You are a professional translator. Translate the content units below from {{SOURCE_LANG}} to {{TARGET_LANG}}.

The units are one contiguous part of a longer chapter; translate them as continuous prose that flows across unit boundaries.

` + commonRules + `

--- START OF CONTENT ---
{{PAYLOAD}}
--- END OF CONTENT ---`,

		Fix: `You are a professional translator. A previous attempt to translate the content unit below from {{SOURCE_LANG}} to {{TARGET_LANG}} produced an unusable result. Translate it again, carefully.

` + commonRules + `

--- START OF CONTENT ---
{{PAYLOAD}}
--- END OF CONTENT ---`,
	}
}
