package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"script-studio/config"
	"script-studio/types"
)

func words(prefix string, n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(out, " ")
}

func part(n, reported int, content string) map[string]any {
	return map[string]any{"part": n, "word_count": reported, "content": content}
}

func allCompliance() map[string]any {
	m := map[string]any{}
	for _, k := range ComplianceFlags {
		m[k] = true
	}
	return m
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func ruleOf(err error) string {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Rule
	}
	return ""
}

func TestScriptPackWordBand(t *testing.T) {
	tests := []struct {
		name    string
		a, b    int
		wantErr bool
	}{
		{"exactly min", 1500, 1500, false},
		{"one below min", 1500, 1499, true},
		{"exactly max", 3000, 3000, false},
		{"one above max", 3001, 3000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := encode(t, map[string]any{
				"parts": []any{
					part(1, tt.a, words("a", tt.a)),
					part(2, tt.b, words("b", tt.b)),
				},
			})
			res, err := ScriptPack(data, DefaultLimits())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if ruleOf(err) != RuleWordBand {
					t.Errorf("rule = %q, err = %v", ruleOf(err), err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Pack.TotalWordCount != tt.a+tt.b {
				t.Errorf("total = %d", res.Pack.TotalWordCount)
			}
		})
	}
}

func TestScriptPackStructure(t *testing.T) {
	sevenParts := []any{}
	for i := 1; i <= 7; i++ {
		sevenParts = append(sevenParts, part(i, 500, words(fmt.Sprintf("p%d_", i), 500)))
	}
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{"},
		{"not an object", "[1,2]"},
		{"null", "null"},
		{"no parts", `{"title":"x"}`},
		{"parts not array", `{"parts":{}}`},
		{"zero parts", `{"parts":[]}`},
		{"seven parts", string(encode(t, map[string]any{"parts": sevenParts}))},
		{"part not object", `{"parts":[3]}`},
		{"part number missing", `{"parts":[{"word_count":10,"content":"x"}]}`},
		{"word count not number", `{"parts":[{"part":1,"word_count":"10","content":"x"}]}`},
		{"content missing", `{"parts":[{"part":1,"word_count":10}]}`},
		{"title wrong type", `{"title":5,"parts":[{"part":1,"word_count":10,"content":"x"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ScriptPack([]byte(tt.data), DefaultLimits())
			if err == nil {
				t.Fatal("expected error")
			}
			if ruleOf(err) != RuleStructure {
				t.Errorf("rule = %q, err = %v", ruleOf(err), err)
			}
		})
	}
}

func TestScriptPackWordCountMismatch(t *testing.T) {
	data := encode(t, map[string]any{
		"parts": []any{
			part(1, 1000, words("a", 1500)),
			part(2, 1400, words("b", 1500)),
		},
	})

	t.Run("soft", func(t *testing.T) {
		res, err := ScriptPack(data, DefaultLimits())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Pack.Parts[0].WordCountCorrected {
			t.Error("part 1 should be flagged as corrected")
		}
		if res.Pack.Parts[1].WordCountCorrected {
			t.Error("part 2 is within tolerance")
		}
		if res.Pack.Parts[0].RealCount != 1500 {
			t.Errorf("real count = %d", res.Pack.Parts[0].RealCount)
		}
		if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "part 1") {
			t.Errorf("warnings = %v", res.Warnings)
		}
	})

	t.Run("strict", func(t *testing.T) {
		lim := DefaultLimits()
		lim.StrictWordCount = true
		_, err := ScriptPack(data, lim)
		if ruleOf(err) != RuleWordCount {
			t.Fatalf("err = %v", err)
		}
		if !strings.Contains(err.Error(), "reported 1000, actual 1500") {
			t.Errorf("message = %q", err.Error())
		}
	})
}

func TestMismatchTolerance(t *testing.T) {
	tests := []struct {
		reported, actual int
		want             bool
	}{
		{100, 220, false},
		{100, 221, true},
		{1000, 1200, false},
		{1000, 1201, true},
		{1000, 799, true},
	}
	for _, tt := range tests {
		if got := mismatch(tt.reported, tt.actual); got != tt.want {
			t.Errorf("mismatch(%d, %d) = %v, want %v", tt.reported, tt.actual, got, tt.want)
		}
	}
}

func TestCompliance(t *testing.T) {
	base := map[string]any{
		"parts": []any{part(1, 3000, words("w", 3000))},
	}

	t.Run("all true", func(t *testing.T) {
		base["compliance"] = allCompliance()
		res, err := ScriptPack(encode(t, base), DefaultLimits())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Pack.Compliance) != len(ComplianceFlags) {
			t.Errorf("flags = %v", res.Pack.Compliance)
		}
	})

	for _, flag := range ComplianceFlags {
		t.Run("missing "+flag, func(t *testing.T) {
			c := allCompliance()
			delete(c, flag)
			base["compliance"] = c
			_, err := ScriptPack(encode(t, base), DefaultLimits())
			if ruleOf(err) != RuleCompliance {
				t.Fatalf("err = %v", err)
			}
			if !strings.Contains(err.Error(), flag) {
				t.Errorf("message %q does not name %s", err.Error(), flag)
			}
		})
	}

	t.Run("truthy string", func(t *testing.T) {
		c := allCompliance()
		c["no_hate"] = "true"
		base["compliance"] = c
		if _, err := ScriptPack(encode(t, base), DefaultLimits()); ruleOf(err) != RuleCompliance {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("absent", func(t *testing.T) {
		delete(base, "compliance")
		if _, err := ScriptPack(encode(t, base), DefaultLimits()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func sentence(tag string, i int) string {
	return fmt.Sprintf("The quiet river carries story %s number %d onward.", tag, i)
}

func text(sentences ...string) string {
	return strings.Join(sentences, " ")
}

func TestRepetition(t *testing.T) {
	t.Run("forty percent fails", func(t *testing.T) {
		a := text(sentence("shared", 1), sentence("shared", 2), sentence("a", 1), sentence("a", 2), sentence("a", 3))
		b := text(sentence("shared", 1), sentence("shared", 2), sentence("b", 1), sentence("b", 2), sentence("b", 3))
		parts := []types.Part{{Part: 1, Content: a}, {Part: 2, Content: b}}
		err := Repetition(parts, 0.35)
		if ruleOf(err) != RuleRepetition {
			t.Fatalf("err = %v", err)
		}
		want := "repetitive content detected between part 1 and 2 (overlap 0.40)"
		if err.Error() != want {
			t.Errorf("message = %q, want %q", err.Error(), want)
		}
	})

	t.Run("thirty percent passes", func(t *testing.T) {
		var a, b []string
		for i := 0; i < 3; i++ {
			a = append(a, sentence("shared", i))
			b = append(b, sentence("shared", i))
		}
		for i := 0; i < 7; i++ {
			a = append(a, sentence("a", i))
			b = append(b, sentence("b", i))
		}
		parts := []types.Part{{Part: 1, Content: text(a...)}, {Part: 2, Content: text(b...)}}
		if err := Repetition(parts, 0.35); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("only adjacent pairs compared", func(t *testing.T) {
		shared := text(sentence("x", 1), sentence("x", 2))
		parts := []types.Part{
			{Part: 1, Content: shared},
			{Part: 2, Content: text(sentence("y", 1))},
			{Part: 3, Content: shared},
		}
		if err := Repetition(parts, 0.35); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("reports later pair", func(t *testing.T) {
		shared := text(sentence("x", 1), sentence("x", 2))
		parts := []types.Part{
			{Part: 1, Content: text(sentence("y", 1))},
			{Part: 2, Content: shared},
			{Part: 3, Content: shared},
		}
		err := Repetition(parts, 0.35)
		if err == nil || !strings.Contains(err.Error(), "between part 2 and 3 (overlap 1.00)") {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestOverlapNormalization(t *testing.T) {
	a := "The Quiet River, carries STORY one onward! Short one."
	b := "the quiet river carries story one onward... Short one?"
	if got := Overlap(a, b); got != 1 {
		t.Errorf("overlap = %v, want 1", got)
	}
	if got := Overlap("Too short. Tiny.", "Too short. Tiny."); got != 0 {
		t.Errorf("short sentences should be ignored, got %v", got)
	}
	if got := Overlap("", sentence("a", 1)); got != 0 {
		t.Errorf("empty text overlap = %v", got)
	}
}

func idea(continuity string) map[string]any {
	return map[string]any{
		"topic":            "Why small habits stick",
		"pillar":           "psychology",
		"tone":             "calm",
		"series":           map[string]any{"mode": "existing", "name": "Mind Notes"},
		"continuity":       continuity,
		"duration_minutes": 6,
	}
}

func ideas(items ...map[string]any) json.RawMessage {
	b, _ := json.Marshal(items)
	return b
}

func TestNextIdeas(t *testing.T) {
	lim := DefaultLimits()
	light := types.ContinuityLight
	strong := types.ContinuityOccasionallyStrong

	t.Run("three valid", func(t *testing.T) {
		got, err := NextIdeas(ideas(idea("light"), idea("light"), idea("light")), light, lim)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 3 || got[0].Series.Name != "Mind Notes" || got[0].DurationMinutes != 6 {
			t.Errorf("got %+v", got)
		}
	})

	mutate := func(f func(m map[string]any)) json.RawMessage {
		bad := idea("light")
		f(bad)
		return ideas(idea("light"), bad, idea("light"))
	}

	tests := []struct {
		name string
		raw  json.RawMessage
		mode types.ContinuityMode
		want string
	}{
		{"two items", ideas(idea("light"), idea("light")), light, "exactly 3"},
		{"four items", ideas(idea("light"), idea("light"), idea("light"), idea("light")), light, "exactly 3"},
		{"absent", nil, light, "exactly 3"},
		{"not array", json.RawMessage(`{"a":1}`), light, "exactly 3"},
		{"none under strong", ideas(idea("light"), idea("none"), idea("light")), strong, "next_ideas[1].continuity too weak"},
		{"bad continuity", mutate(func(m map[string]any) { m["continuity"] = "heavy" }), light, "next_ideas[1].continuity invalid"},
		{"empty topic", mutate(func(m map[string]any) { m["topic"] = "  " }), light, "next_ideas[1].topic required"},
		{"missing tone", mutate(func(m map[string]any) { delete(m, "tone") }), light, "next_ideas[1].tone required"},
		{"bad series mode", mutate(func(m map[string]any) { m["series"] = map[string]any{"mode": "other", "name": "x"} }), light, "series.mode invalid"},
		{"empty series name", mutate(func(m map[string]any) { m["series"] = map[string]any{"mode": "new", "name": ""} }), light, "series.name required"},
		{"no series", mutate(func(m map[string]any) { delete(m, "series") }), light, "series required"},
		{"too long", mutate(func(m map[string]any) { m["duration_minutes"] = 9 }), light, "duration_minutes invalid"},
		{"too short", mutate(func(m map[string]any) { m["duration_minutes"] = 4.5 }), light, "duration_minutes invalid"},
		{"duration string", mutate(func(m map[string]any) { m["duration_minutes"] = "6" }), light, "duration_minutes invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NextIdeas(tt.raw, tt.mode, lim)
			if ruleOf(err) != RuleNextIdeas {
				t.Fatalf("err = %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("message %q does not contain %q", err.Error(), tt.want)
			}
		})
	}

	t.Run("none allowed under light", func(t *testing.T) {
		if _, err := NextIdeas(ideas(idea("none"), idea("none"), idea("light")), light, lim); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestContentPackRequiresIdeas(t *testing.T) {
	pack := map[string]any{
		"parts":      []any{part(1, 3000, words("w", 3000))},
		"compliance": allCompliance(),
	}
	if _, err := ContentPack(encode(t, pack), types.ContinuityLight, DefaultLimits()); ruleOf(err) != RuleNextIdeas {
		t.Fatalf("err = %v", err)
	}

	pack["next_ideas"] = []any{idea("light"), idea("light"), idea("occasionally_strong")}
	res, err := ContentPack(encode(t, pack), types.ContinuityLight, DefaultLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Pack.NextIdeas) != 3 {
		t.Errorf("ideas = %d", len(res.Pack.NextIdeas))
	}
}

func TestSegments(t *testing.T) {
	plan, err := Segments([]byte(`{"segments":[{"narration":" one "},{"index":7,"narration":"two","visual_prompt":"a hall"}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Segments[0].Index != 1 || plan.Segments[0].Narration != "one" {
		t.Errorf("segment 0 = %+v", plan.Segments[0])
	}
	if plan.Segments[1].Index != 7 || plan.Segments[1].VisualPrompt != "a hall" {
		t.Errorf("segment 1 = %+v", plan.Segments[1])
	}

	for _, bad := range []string{`{}`, `{"segments":[]}`, `{"segments":[{"narration":""}]}`, `nope`} {
		if _, err := Segments([]byte(bad)); ruleOf(err) != RuleSegments {
			t.Errorf("Segments(%s) err = %v", bad, err)
		}
	}
}

func TestLimitsFrom(t *testing.T) {
	lim := LimitsFrom(config.ValidationConfig{MinWords: 100, StrictWordCount: true})
	if lim.MinWords != 100 || lim.MaxWords != 6000 || !lim.StrictWordCount {
		t.Errorf("limits = %+v", lim)
	}
}

func TestQAReport(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name     string
		in       string
		approved *bool
		issues   int
	}{
		{"approved", `{"approved": true, "issues": []}`, &yes, 0},
		{"rejected with string issues", `{"approved": false, "issues": ["hook lands too late"]}`, &no, 1},
		{"issue objects of any shape", `{"approved": false, "issues": [{"part": "intro"}, {"note": "x"}]}`, &no, 2},
		{"absent approval", `{"summary": "undecided"}`, nil, 0},
		{"null approval", `{"approved": null, "issues": null}`, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := QAReport([]byte(tt.in))
			if err != nil {
				t.Fatalf("QAReport: %v", err)
			}
			if (r.Approved == nil) != (tt.approved == nil) || (r.Approved != nil && *r.Approved != *tt.approved) {
				t.Errorf("approved = %v, want %v", r.Approved, tt.approved)
			}
			if r.Issues != tt.issues {
				t.Errorf("issues = %d, want %d", r.Issues, tt.issues)
			}
		})
	}
}

func TestQAReportRejectsShape(t *testing.T) {
	for _, in := range []string{
		`{"approved": "yes"}`,
		`{"approved": true, "issues": "none"}`,
		`["approved"]`,
	} {
		_, err := QAReport([]byte(in))
		var verr *Error
		if !errors.As(err, &verr) {
			t.Errorf("QAReport(%s) err = %v, want *Error", in, err)
		}
	}
}
