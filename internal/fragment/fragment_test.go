package fragment

import (
	"errors"
	"strings"
	"testing"

	"github.com/tometran/tometran/internal/document"
	"github.com/tometran/tometran/internal/planner"
)

func TestSerialize(t *testing.T) {
	got := Serialize("u1", "Hello, world")
	want := `<unit id="u1">Hello, world</unit>`
	if got != want {
		t.Errorf("Serialize() = %q, want %q", got, want)
	}
}

func TestSerialize_EscapesMarkup(t *testing.T) {
	got := Serialize("u1", `a < b & c > "d"`)
	if strings.Contains(got[len(`<unit id="u1">`):len(got)-len("</unit>")], "<") {
		t.Errorf("markup not escaped: %q", got)
	}
	if !strings.Contains(got, "&lt;") || !strings.Contains(got, "&amp;") {
		t.Errorf("expected entity escapes in %q", got)
	}
}

func TestPayload_BatchWrapsContainers(t *testing.T) {
	task := &planner.Task{
		ID:      "batch::ch1::to::ch2",
		Variant: planner.Batch,
		Groups: []planner.Group{
			{ContainerID: "ch1", Units: []document.ContentUnit{
				{ID: "u1", SourceText: "one"},
			}},
			{ContainerID: "ch2", Units: []document.ContentUnit{
				{ID: "u2", SourceText: "two"},
			}},
		},
	}
	payload := Payload(task)
	for _, want := range []string{
		`<container id="ch1">`,
		`<container id="ch2">`,
		`<unit id="u1">one</unit>`,
		`<unit id="u2">two</unit>`,
		"</container>",
	} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload missing %q:\n%s", want, payload)
		}
	}
	if strings.Index(payload, "ch1") > strings.Index(payload, "ch2") {
		t.Error("containers out of order")
	}
}

func TestPayload_SplitIsBareSequence(t *testing.T) {
	task := &planner.Task{
		ID:      "split::ch1::part_0",
		Variant: planner.Split,
		Groups: []planner.Group{
			{ContainerID: "ch1", Units: []document.ContentUnit{
				{ID: "u1", SourceText: "one"},
				{ID: "u2", SourceText: "two"},
			}},
		},
	}
	payload := Payload(task)
	if strings.Contains(payload, "<container") {
		t.Errorf("split payload must not wrap containers:\n%s", payload)
	}
	want := "<unit id=\"u1\">one</unit>\n<unit id=\"u2\">two</unit>"
	if payload != want {
		t.Errorf("payload = %q, want %q", payload, want)
	}
}

func TestParse_RoundTrip(t *testing.T) {
	raw := Serialize("u1", "Bonjour & bienvenue") + "\n" + Serialize("u2", "Au revoir")
	units, err := Parse(raw, []string{"u1", "u2"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if units["u1"] != "Bonjour & bienvenue" {
		t.Errorf("u1 = %q", units["u1"])
	}
	if units["u2"] != "Au revoir" {
		t.Errorf("u2 = %q", units["u2"])
	}
}

func TestParse_AbsentIDLeftOut(t *testing.T) {
	raw := `<unit id="u1">done</unit>`
	units, err := Parse(raw, []string{"u1", "u2"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, ok := units["u2"]; ok {
		t.Error("u2 should be absent, not present")
	}
	if units["u1"] != "done" {
		t.Errorf("u1 = %q", units["u1"])
	}
}

func TestParse_IgnoresInventedIDs(t *testing.T) {
	raw := `<unit id="u1">ok</unit><unit id="ghost">made up</unit>`
	units, err := Parse(raw, []string{"u1"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, ok := units["ghost"]; ok {
		t.Error("invented id must be ignored")
	}
	if len(units) != 1 {
		t.Errorf("expected 1 unit, got %d", len(units))
	}
}

func TestParse_SingleQuotedAttribute(t *testing.T) {
	units, err := Parse(`<unit id='u1'>text</unit>`, []string{"u1"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if units["u1"] != "text" {
		t.Errorf("u1 = %q", units["u1"])
	}
}

func TestParse_MultilineFragment(t *testing.T) {
	raw := "<unit id=\"u1\">line one\nline two</unit>"
	units, err := Parse(raw, []string{"u1"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if units["u1"] != "line one\nline two" {
		t.Errorf("u1 = %q", units["u1"])
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse("I cannot translate this document.", []string{"u1"})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParse_CodeFencedResponse(t *testing.T) {
	raw := "```html\n<unit id=\"u1\">translated</unit>\n```"
	units, err := Parse(raw, []string{"u1"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if units["u1"] != "translated" {
		t.Errorf("u1 = %q", units["u1"])
	}
}

func TestStrip(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"fence with language", "```xml\npayload\n```", "payload"},
		{"bare fence", "```\npayload\n```", "payload"},
		{"echo line", "Here is the translation:\npayload", "payload"},
		{"sure echo", "Sure, here you go:\npayload", "payload"},
		{"double quotes", `"payload"`, "payload"},
		{"guillemets", "«payload»", "payload"},
		{"curly quotes", "“payload”", "payload"},
		{"unmatched quote kept", `"payload`, `"payload`},
		{"fence then echo", "```\nHere is the result:\npayload\n```", "payload"},
		{"interior fence kept", "a ``` b", "a ``` b"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Strip(c.in); got != c.want {
				t.Errorf("Strip(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}
