// Package validate checks model-generated content packages before they are
// persisted. Every function here is pure: no I/O, no logging. Soft problems
// are returned as warnings for the caller to report.
package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"script-studio/config"
	"script-studio/types"
)

// Rules named in validation errors
const (
	RuleStructure  = "structure"
	RuleWordCount  = "word_count"
	RuleWordBand   = "word_band"
	RuleRepetition = "repetition"
	RuleCompliance = "compliance"
	RuleNextIdeas  = "next_ideas"
	RuleSegments   = "segments"
	RuleQAReport   = "qa_report"
)

// ComplianceFlags must all be explicitly true when a pack declares compliance.
var ComplianceFlags = []string{
	"youtube_safe",
	"legal_safe",
	"no_hate",
	"no_illegal_instructions",
	"no_graphic_violence",
	"no_explicit_sexual_content",
	"no_repetition",
}

// Error is a content violation. Detail names the exact part, ratio or flag.
type Error struct {
	Rule   string
	Detail string
}

func (e *Error) Error() string { return e.Detail }

func fail(rule, format string, args ...any) *Error {
	return &Error{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

// Limits are the tunable bounds of the validators.
type Limits struct {
	MinParts        int
	MaxParts        int
	MinWords        int
	MaxWords        int
	MaxOverlap      float64
	StrictWordCount bool
	MinIdeaMinutes  float64
	MaxIdeaMinutes  float64
}

// DefaultLimits returns the production bounds.
func DefaultLimits() Limits {
	return Limits{
		MinParts:       1,
		MaxParts:       6,
		MinWords:       3000,
		MaxWords:       6000,
		MaxOverlap:     0.35,
		MinIdeaMinutes: 5,
		MaxIdeaMinutes: 8,
	}
}

// LimitsFrom builds Limits from the validation section of config.yaml.
func LimitsFrom(c config.ValidationConfig) Limits {
	l := DefaultLimits()
	if c.MinWords > 0 {
		l.MinWords = c.MinWords
	}
	if c.MaxWords > 0 {
		l.MaxWords = c.MaxWords
	}
	if c.MaxParts > 0 {
		l.MaxParts = c.MaxParts
	}
	if c.MaxOverlap > 0 {
		l.MaxOverlap = c.MaxOverlap
	}
	if c.MinIdeaMinutes > 0 {
		l.MinIdeaMinutes = c.MinIdeaMinutes
	}
	if c.MaxIdeaMinutes > 0 {
		l.MaxIdeaMinutes = c.MaxIdeaMinutes
	}
	l.StrictWordCount = c.StrictWordCount
	return l
}

// Result is a validated pack plus any soft warnings raised on the way.
type Result struct {
	Pack     *types.ScriptPack
	Warnings []string
}

// ScriptPack runs the structural, length, repetition and compliance checks.
// A next_ideas field, if present, is carried through unchecked; use
// ContentPack when the ideas are required.
func ScriptPack(data []byte, lim Limits) (*Result, error) {
	top, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	return checkPack(top, lim)
}

// ContentPack is ScriptPack plus the next-ideas check against the project's
// continuity mode.
func ContentPack(data []byte, mode types.ContinuityMode, lim Limits) (*Result, error) {
	top, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	res, err := checkPack(top, lim)
	if err != nil {
		return nil, err
	}
	ideas, err := NextIdeas(top["next_ideas"], mode, lim)
	if err != nil {
		return nil, err
	}
	res.Pack.NextIdeas = ideas
	return res, nil
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil || top == nil {
		return nil, fail(RuleStructure, "invalid JSON object")
	}
	return top, nil
}

func checkPack(top map[string]json.RawMessage, lim Limits) (*Result, error) {
	pack := &types.ScriptPack{}
	res := &Result{Pack: pack}

	var err error
	if pack.Title, err = optionalString(top, "title"); err != nil {
		return nil, err
	}
	if pack.Channel, err = optionalString(top, "channel"); err != nil {
		return nil, err
	}
	if pack.Format, err = optionalString(top, "format"); err != nil {
		return nil, err
	}

	var rawParts []json.RawMessage
	if raw, ok := top["parts"]; !ok || json.Unmarshal(raw, &rawParts) != nil || rawParts == nil {
		return nil, fail(RuleStructure, "missing `parts` array")
	}
	if len(rawParts) < lim.MinParts || len(rawParts) > lim.MaxParts {
		return nil, fail(RuleStructure, "parts length must be %d..%d (got %d)", lim.MinParts, lim.MaxParts, len(rawParts))
	}

	total := 0
	for i, raw := range rawParts {
		part, err := decodePart(i, raw)
		if err != nil {
			return nil, err
		}
		if mismatch(part.WordCount, part.RealCount) {
			if lim.StrictWordCount {
				return nil, fail(RuleWordCount, "part %d word_count mismatch (reported %d, actual %d)", part.Part, part.WordCount, part.RealCount)
			}
			part.WordCountCorrected = true
			res.Warnings = append(res.Warnings, fmt.Sprintf("word count mismatch part %d (reported %d, actual %d)", part.Part, part.WordCount, part.RealCount))
		}
		total += part.RealCount
		pack.Parts = append(pack.Parts, part)
	}

	if total < lim.MinWords || total > lim.MaxWords {
		return nil, fail(RuleWordBand, "total word count out of range %d..%d (actual %d)", lim.MinWords, lim.MaxWords, total)
	}
	pack.TotalWordCount = total

	if err := Repetition(pack.Parts, lim.MaxOverlap); err != nil {
		return nil, err
	}

	if raw, ok := top["compliance"]; ok && !isNull(raw) {
		flags, err := Compliance(raw)
		if err != nil {
			return nil, err
		}
		pack.Compliance = flags
	}

	if raw, ok := top["scenes"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &pack.Scenes); err != nil {
			return nil, fail(RuleStructure, "scenes must be an array")
		}
	}

	return res, nil
}

func decodePart(i int, raw json.RawMessage) (types.Part, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return types.Part{}, fail(RuleStructure, "parts[%d] invalid part object", i)
	}
	num, ok := m["part"].(float64)
	if !ok {
		return types.Part{}, fail(RuleStructure, "parts[%d].part must be number", i)
	}
	wc, ok := m["word_count"].(float64)
	if !ok {
		return types.Part{}, fail(RuleStructure, "part %d word_count must be number", int(num))
	}
	content, ok := m["content"].(string)
	if !ok {
		return types.Part{}, fail(RuleStructure, "part %d content must be string", int(num))
	}
	role, _ := m["role"].(string)
	return types.Part{
		Part:      int(num),
		Role:      role,
		WordCount: int(math.Round(wc)),
		RealCount: CountWords(content),
		Content:   content,
	}, nil
}

// mismatch reports a self-reported count that strays further than
// max(120, 20% of reported) from the real one.
func mismatch(reported, actual int) bool {
	tolerance := math.Max(120, float64(reported)*0.2)
	return math.Abs(float64(actual-reported)) > tolerance
}

// CountWords counts whitespace-separated tokens.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// Compliance checks that every required flag is explicitly true.
func Compliance(raw json.RawMessage) (map[string]bool, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, fail(RuleCompliance, "compliance must be an object")
	}
	flags := make(map[string]bool, len(ComplianceFlags))
	for _, k := range ComplianceFlags {
		if v, ok := m[k].(bool); !ok || !v {
			return nil, fail(RuleCompliance, "compliance flag %s must be true", k)
		}
		flags[k] = true
	}
	return flags, nil
}

func optionalString(top map[string]json.RawMessage, key string) (string, error) {
	raw, ok := top[key]
	if !ok || isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fail(RuleStructure, "%s must be string", key)
	}
	return strings.TrimSpace(s), nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
