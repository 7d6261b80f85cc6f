package validate

import (
	"encoding/json"
	"strings"

	"script-studio/types"
)

// NextIdeasCount is the exact number of follow-up ideas a content pack carries.
const NextIdeasCount = 3

// NextIdeas checks the follow-up suggestions of a metadata pack. A project in
// occasionally_strong mode may not receive ideas that drop continuity.
func NextIdeas(raw json.RawMessage, mode types.ContinuityMode, lim Limits) ([]types.NextIdea, error) {
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil || len(items) != NextIdeasCount {
		return nil, fail(RuleNextIdeas, "next_ideas must be an array of exactly %d items", NextIdeasCount)
	}

	ideas := make([]types.NextIdea, 0, len(items))
	for idx, item := range items {
		var m map[string]any
		if err := json.Unmarshal(item, &m); err != nil || m == nil {
			return nil, fail(RuleNextIdeas, "next_ideas[%d] invalid object", idx)
		}

		var idea types.NextIdea
		for _, f := range []struct {
			key string
			dst *string
		}{
			{"topic", &idea.Topic},
			{"pillar", &idea.Pillar},
			{"tone", &idea.Tone},
		} {
			s, _ := m[f.key].(string)
			if strings.TrimSpace(s) == "" {
				return nil, fail(RuleNextIdeas, "next_ideas[%d].%s required", idx, f.key)
			}
			*f.dst = strings.TrimSpace(s)
		}

		series, ok := m["series"].(map[string]any)
		if !ok {
			return nil, fail(RuleNextIdeas, "next_ideas[%d].series required", idx)
		}
		idea.Series.Mode, _ = series["mode"].(string)
		if idea.Series.Mode != "existing" && idea.Series.Mode != "new" {
			return nil, fail(RuleNextIdeas, "next_ideas[%d].series.mode invalid", idx)
		}
		name, _ := series["name"].(string)
		if strings.TrimSpace(name) == "" {
			return nil, fail(RuleNextIdeas, "next_ideas[%d].series.name required", idx)
		}
		idea.Series.Name = strings.TrimSpace(name)

		c, _ := m["continuity"].(string)
		idea.Continuity = types.ContinuityMode(c)
		if !idea.Continuity.Valid() {
			return nil, fail(RuleNextIdeas, "next_ideas[%d].continuity invalid", idx)
		}
		if mode == types.ContinuityOccasionallyStrong && idea.Continuity == types.ContinuityNone {
			return nil, fail(RuleNextIdeas, "next_ideas[%d].continuity too weak for continuity mode %s", idx, mode)
		}

		d, ok := m["duration_minutes"].(float64)
		if !ok || d < lim.MinIdeaMinutes || d > lim.MaxIdeaMinutes {
			return nil, fail(RuleNextIdeas, "next_ideas[%d].duration_minutes invalid (%g..%g)", idx, lim.MinIdeaMinutes, lim.MaxIdeaMinutes)
		}
		idea.DurationMinutes = d

		ideas = append(ideas, idea)
	}
	return ideas, nil
}
