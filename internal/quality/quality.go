// Package quality classifies per-unit translation results. Classification
// is a pure function of the latest attempt: classes are recomputed each
// repair round and never persisted as unit state.
//
// It only applies structural heuristics — degenerate repetition, the
// model's escape marker, missing text. Semantic translation quality is out
// of scope.
package quality

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// FailureSentinel marks text the pipeline substituted for a failed task.
// It is treated as absent, never as a translation. Matched as a prefix,
// not strict equality, so sentinel text annotated with task detail
// ("[TRANSLATION FAILED] request timed out") still classifies as failed.
const FailureSentinel = "[TRANSLATION FAILED]"

// ErrorClass labels one unit result.
type ErrorClass int

const (
	// Success: the unit has usable translated text.
	Success ErrorClass = iota
	// SoftError: text is absent or a generic failure sentinel. Assumed
	// independent of other units and safe to re-batch together.
	SoftError
	// HardError: degenerate output (repetition) or the explicit
	// cannot-translate escape marker. Suspected to poison shared batches,
	// so retried in isolation.
	HardError
)

func (c ErrorClass) String() string {
	switch c {
	case Success:
		return "success"
	case SoftError:
		return "soft-error"
	case HardError:
		return "hard-error"
	}
	return "unknown"
}

// repeatThreshold is the run length at which repetition counts as model
// degeneration: five or more consecutive identical runes or tokens.
const repeatThreshold = 5

// Classify labels one resolved unit text. present is false when the unit
// id was absent from the task result.
func Classify(text string, present bool) ErrorClass {
	trimmed := strings.TrimSpace(text)
	if !present || trimmed == "" || strings.HasPrefix(trimmed, FailureSentinel) {
		return SoftError
	}
	if IsEscapeMarker(trimmed) || IsRepeated(trimmed) {
		return HardError
	}
	return Success
}

// IsEscapeMarker reports whether the model emitted the bracket-wrapped
// passthrough it is instructed to use for untranslatable text: the whole
// text wrapped in exactly one bracket pair. Interior brackets or newlines
// mean ordinary content that happens to start and end with a bracket
// (footnote markers, citations), not the marker.
func IsEscapeMarker(text string) bool {
	t := strings.TrimSpace(text)
	if len(t) < 2 || !strings.HasPrefix(t, "[") || !strings.HasSuffix(t, "]") {
		return false
	}
	return !strings.ContainsAny(t[1:len(t)-1], "[]\n")
}

// IsRepeated detects degenerate repetition: the same rune repeated
// repeatThreshold or more times in a row, or the same whitespace-separated
// token repeated that often consecutively.
func IsRepeated(text string) bool {
	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
			if run >= repeatThreshold {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}

	fields := strings.Fields(text)
	tokenRun := 0
	last := ""
	for _, f := range fields {
		if f == last {
			tokenRun++
			if tokenRun >= repeatThreshold {
				return true
			}
		} else {
			last = f
			tokenRun = 1
		}
	}
	return false
}

// MissedTranslation reports whether target is byte-identical to source
// after Unicode normalization — a sign the model echoed the input instead
// of translating it. Texts without letters (numbers, punctuation, markup
// leftovers) legitimately survive translation unchanged and are ignored.
func MissedTranslation(source, target string) bool {
	src := normalize(source)
	tgt := normalize(target)
	if src == "" || tgt == "" || src != tgt {
		return false
	}
	return containsLetter(src)
}

func normalize(s string) string {
	return norm.NFKC.String(width.Fold.String(strings.TrimSpace(s)))
}

func containsLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
