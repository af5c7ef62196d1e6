package fragment

import (
	"regexp"
	"strings"
)

// Strip removes wrapper artifacts a model may add around the fragment
// payload, in three phases:
//  1. code-fence decoration (```, optionally with a language tag)
//  2. introductory echo lines ("Here is the translation:")
//  3. a matching pair of outer quotes around the whole payload
//
// The accepted wrapper patterns form a deliberately small grammar; anything
// else is left untouched and handled by fragment matching.
func Strip(text string) string {
	text = stripCodeFence(text)
	text = stripEchoLine(text)
	text = stripQuoteWrapping(text)
	return strings.TrimSpace(text)
}

// fenceOpenRe matches an opening fence with an optional language tag on the
// same line (```html, ```xml, ```).
var fenceOpenRe = regexp.MustCompile("^```[a-zA-Z0-9_-]*[ \t]*\r?\n")

func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return text
	}
	if loc := fenceOpenRe.FindStringIndex(s); loc != nil {
		s = s[loc[1]:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// echoLineRe matches a leading instruction echo ending in a colon, e.g.
// "Here is the translated content:". Anchored to the first line only.
var echoLineRe = regexp.MustCompile(`(?i)^(?:here(?:'s| is)|the|sure,?|certainly,?|of course,?)[^\n<]{0,80}:\s*\n`)

func stripEchoLine(text string) string {
	s := strings.TrimLeft(text, " \t\r\n")
	if loc := echoLineRe.FindStringIndex(s); loc != nil {
		return s[loc[1]:]
	}
	return text
}

// stripQuoteWrapping removes one matching pair of outer quotes when the
// entire payload is wrapped in them.
func stripQuoteWrapping(text string) string {
	s := strings.TrimSpace(text)
	runes := []rune(s)
	n := len(runes)
	if n < 2 {
		return text
	}
	first, last := runes[0], runes[n-1]
	if (first == '"' && last == '"') ||
		(first == '\'' && last == '\'') ||
		(first == '«' && last == '»') ||
		(first == '“' && last == '”') ||
		(first == '‘' && last == '’') {
		return strings.TrimSpace(string(runes[1 : n-1]))
	}
	return text
}
